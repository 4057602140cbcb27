// Package middleware provides authentication and authorization middleware for the Gin web framework.
package middleware

import (
	"context"
	"net/http"

	"assessapp/internal/models"
	contextutils "assessapp/internal/utils"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
)

// Session keys for storing user information
const (
	// UserIDKey is the key used to store user ID in session
	UserIDKey = "user_id"
	// UsernameKey is the key used to store username in session
	UsernameKey = "username"
	// UserKey holds the loaded *models.User in the gin context
	UserKey = "user"
)

// UserLookup loads the current user so role changes take effect immediately
type UserLookup interface {
	GetUser(ctx context.Context, id uint) (*models.User, error)
}

// SessionUserID reads the authenticated user ID from the session. Older
// cookies may carry the ID as int or float64.
func SessionUserID(session sessions.Session) (uint, bool) {
	switch v := session.Get(UserIDKey).(type) {
	case uint:
		return v, v > 0
	case int:
		return uint(v), v > 0
	case int64:
		return uint(v), v > 0
	case float64:
		return uint(v), v > 0
	default:
		return 0, false
	}
}

// RequireAuth returns a middleware that requires an authenticated session
// belonging to an existing user
func RequireAuth(users UserLookup) gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := authenticate(c, users); !ok {
			return
		}
		c.Next()
	}
}

// RequireAdmin returns a middleware that requires authentication and admin role
func RequireAdmin(users UserLookup) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := authenticate(c, users)
		if !ok {
			return
		}
		if !user.IsAdmin() {
			abortWith(c, http.StatusForbidden, contextutils.ErrorCodeForbidden, "Admin access required")
			return
		}
		c.Next()
	}
}

// CurrentUser returns the user stored by RequireAuth or RequireAdmin
func CurrentUser(c *gin.Context) (*models.User, bool) {
	v, ok := c.Get(UserKey)
	if !ok {
		return nil, false
	}
	user, ok := v.(*models.User)
	return user, ok && user != nil
}

func authenticate(c *gin.Context, users UserLookup) (*models.User, bool) {
	session := sessions.Default(c)
	userID, ok := SessionUserID(session)
	if !ok {
		abortWith(c, http.StatusUnauthorized, contextutils.ErrorCodeUnauthorized, "Authentication required")
		return nil, false
	}

	user, err := users.GetUser(c.Request.Context(), userID)
	if err != nil {
		if contextutils.IsError(err, contextutils.ErrRecordNotFound) {
			// The account is gone; drop the stale cookie
			session.Clear()
			_ = session.Save()
			abortWith(c, http.StatusUnauthorized, contextutils.ErrorCodeUnauthorized, "Authentication required")
			return nil, false
		}
		abortWith(c, http.StatusInternalServerError, contextutils.ErrorCodeInternalError, "Failed to load user")
		return nil, false
	}

	// Store user info in context for handlers to use
	c.Set(UserIDKey, user.ID)
	c.Set(UsernameKey, user.Username)
	c.Set(UserKey, user)
	c.Request = c.Request.WithContext(contextutils.WithUserID(c.Request.Context(), user.ID))
	return user, true
}

func abortWith(c *gin.Context, status int, code contextutils.ErrorCode, message string) {
	severity := contextutils.SeverityWarn
	if status >= http.StatusInternalServerError {
		severity = contextutils.SeverityError
	}
	c.AbortWithStatusJSON(status, contextutils.NewAppError(code, severity, message, "").ToJSON())
}
