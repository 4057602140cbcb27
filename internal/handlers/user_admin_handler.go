package handlers

import (
	"net/http"

	"assessapp/internal/models"
	"assessapp/internal/observability"
	"assessapp/internal/services"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
)

// UserAdminHandler handles admin user management
type UserAdminHandler struct {
	userService services.UserServiceInterface
	logger      *observability.Logger
}

// NewUserAdminHandler creates a new UserAdminHandler
func NewUserAdminHandler(userService services.UserServiceInterface, logger *observability.Logger) *UserAdminHandler {
	return &UserAdminHandler{userService: userService, logger: logger}
}

// ListUsers returns a page of accounts
func (h *UserAdminHandler) ListUsers(c *gin.Context) {
	ctx, span := observability.TraceHandlerFunction(c.Request.Context(), "list_users")
	defer observability.FinishSpan(span, nil)

	page, size := ParsePagination(c, 1, 50, 200)
	users, err := h.userService.ListUsers(ctx, size, pageOffset(page, size))
	if err != nil {
		HandleAppError(c, err)
		return
	}
	WritePaginated(c, "users", users, page, size, nil)
}

// UpdateRole changes a user's role
func (h *UserAdminHandler) UpdateRole(c *gin.Context) {
	ctx, span := observability.TraceHandlerFunction(c.Request.Context(), "update_role")
	defer observability.FinishSpan(span, nil)

	userID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	var req models.UpdateRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		HandleBindError(c, err)
		return
	}
	actor := currentUser(c)
	span.SetAttributes(
		observability.AttributeUserID(userID),
		attribute.String("user.role", string(req.Role)),
	)

	user, err := h.userService.UpdateRole(ctx, actor.ID, userID, req.Role)
	if err != nil {
		HandleAppError(c, err)
		return
	}
	h.logger.Info(ctx, "User role changed", map[string]interface{}{
		"actor_id": actor.ID,
		"user_id":  userID,
		"role":     string(req.Role),
	})
	c.JSON(http.StatusOK, gin.H{"user": user})
}
