package handlers

import (
	"net/http"

	"assessapp/internal/config"
	"assessapp/internal/models"
	"assessapp/internal/observability"
	"assessapp/internal/services"
	contextutils "assessapp/internal/utils"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
)

// AuthHandler handles authentication related HTTP requests
type AuthHandler struct {
	userService services.UserServiceInterface
	config      *config.Config
	logger      *observability.Logger
}

// NewAuthHandler creates a new AuthHandler instance
func NewAuthHandler(userService services.UserServiceInterface, cfg *config.Config, logger *observability.Logger) *AuthHandler {
	return &AuthHandler{
		userService: userService,
		config:      cfg,
		logger:      logger,
	}
}

// Register creates an account and logs it in
func (h *AuthHandler) Register(c *gin.Context) {
	ctx, span := observability.TraceHandlerFunction(c.Request.Context(), "register")
	defer observability.FinishSpan(span, nil)

	var req models.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		HandleBindError(c, err)
		return
	}
	span.SetAttributes(attribute.String("auth.username", req.Username))

	user, err := h.userService.Register(ctx, &req)
	if err != nil {
		HandleAppError(c, err)
		return
	}
	if err := setSessionUser(c, user); err != nil {
		h.logger.Error(ctx, "Failed to save session", err, map[string]interface{}{"user_id": user.ID})
		HandleAppError(c, contextutils.WrapError(err, "failed to create session"))
		return
	}
	c.JSON(http.StatusCreated, gin.H{"user": user})
}

// Login handles user login requests
func (h *AuthHandler) Login(c *gin.Context) {
	ctx, span := observability.TraceHandlerFunction(c.Request.Context(), "login")
	defer observability.FinishSpan(span, nil)

	var req models.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		HandleBindError(c, err)
		return
	}
	span.SetAttributes(
		attribute.String("auth.username", req.Username),
		attribute.Bool("auth.password_provided", req.Password != ""),
	)

	user, err := h.userService.Authenticate(ctx, req.Username, req.Password)
	if err != nil {
		h.logger.Warn(ctx, "Authentication failed for user", map[string]interface{}{"username": req.Username})
		HandleAppError(c, err)
		return
	}
	span.SetAttributes(observability.AttributeUserID(user.ID))

	if err := setSessionUser(c, user); err != nil {
		h.logger.Error(ctx, "Failed to save session", err, map[string]interface{}{"user_id": user.ID})
		HandleAppError(c, contextutils.WrapError(err, "failed to create session"))
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Login successful",
		"user":    user,
	})
}

// Logout handles user logout requests
func (h *AuthHandler) Logout(c *gin.Context) {
	_, span := observability.TraceHandlerFunction(c.Request.Context(), "logout")
	defer observability.FinishSpan(span, nil)

	if userID, ok := GetUserIDFromSession(c); ok {
		span.SetAttributes(observability.AttributeUserID(userID))
	}
	if err := clearSession(c); err != nil {
		HandleAppError(c, contextutils.WrapError(err, "failed to clear session"))
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Logout successful"})
}

// Me returns the authenticated user
func (h *AuthHandler) Me(c *gin.Context) {
	_, span := observability.TraceHandlerFunction(c.Request.Context(), "me")
	defer observability.FinishSpan(span, nil)

	user := currentUser(c)
	span.SetAttributes(observability.AttributeUserID(user.ID))
	c.JSON(http.StatusOK, gin.H{"user": user})
}
