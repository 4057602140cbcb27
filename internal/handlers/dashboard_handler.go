package handlers

import (
	"net/http"

	"assessapp/internal/dashboard"
	"assessapp/internal/middleware"
	"assessapp/internal/observability"
	contextutils "assessapp/internal/utils"

	"github.com/gin-gonic/gin"
)

// DashboardHandler issues socket tokens, upgrades dashboard sockets and
// serves the admin snapshot
type DashboardHandler struct {
	hub    *dashboard.Hub
	tokens *dashboard.TokenIssuer
	users  middleware.UserLookup
	logger *observability.Logger
}

// NewDashboardHandler creates a new DashboardHandler
func NewDashboardHandler(hub *dashboard.Hub, tokens *dashboard.TokenIssuer, users middleware.UserLookup, logger *observability.Logger) *DashboardHandler {
	return &DashboardHandler{hub: hub, tokens: tokens, users: users, logger: logger}
}

// IssueToken returns a short-lived token the caller can use to open a socket
// from a context that cannot send the session cookie
func (h *DashboardHandler) IssueToken(c *gin.Context) {
	token, expires, err := h.tokens.Issue(currentUser(c))
	if err != nil {
		HandleAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token, "expires_at": expires})
}

// Connect upgrades GET /ws. The caller is identified by the token query
// parameter, or by the session cookie when no token is given.
func (h *DashboardHandler) Connect(c *gin.Context) {
	ctx := c.Request.Context()

	var userID uint
	if token := c.Query("token"); token != "" {
		claims, err := h.tokens.Parse(token)
		if err != nil {
			h.logger.Warn(ctx, "Rejected dashboard token", map[string]interface{}{"error": err.Error()})
			HandleAppError(c, err)
			return
		}
		userID = claims.UserID
	} else {
		id, ok := GetUserIDFromSession(c)
		if !ok {
			StandardizeHTTPError(c, http.StatusUnauthorized, "Authentication required", "")
			return
		}
		userID = id
	}

	// the role is read from the account, never from the token
	user, err := h.users.GetUser(ctx, userID)
	if err != nil {
		if contextutils.IsError(err, contextutils.ErrRecordNotFound) {
			StandardizeHTTPError(c, http.StatusUnauthorized, "Authentication required", "")
			return
		}
		HandleAppError(c, err)
		return
	}
	identity := dashboard.Identity{UserID: user.ID, Username: user.Username, Role: user.Role}

	h.hub.Serve(c.Writer, c.Request, identity)
}

// GetSnapshot returns the current dashboard state to an admin over plain HTTP
func (h *DashboardHandler) GetSnapshot(c *gin.Context) {
	ctx, span := observability.TraceHandlerFunction(c.Request.Context(), "get_dashboard_snapshot")
	defer observability.FinishSpan(span, nil)

	snap, err := h.hub.Snapshot(ctx)
	if err != nil {
		HandleAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}
