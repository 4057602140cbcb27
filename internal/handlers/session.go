package handlers

import (
	"assessapp/internal/middleware"
	"assessapp/internal/models"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
)

// GetUserIDFromSession retrieves the current user ID from the session.
// Returns (0, false) if not authenticated or if the stored value is invalid.
func GetUserIDFromSession(c *gin.Context) (uint, bool) {
	return middleware.SessionUserID(sessions.Default(c))
}

// setSessionUser starts an authenticated session for user
func setSessionUser(c *gin.Context, user *models.User) error {
	session := sessions.Default(c)
	session.Set(middleware.UserIDKey, user.ID)
	session.Set(middleware.UsernameKey, user.Username)
	return session.Save()
}

// clearSession ends the current session
func clearSession(c *gin.Context) error {
	session := sessions.Default(c)
	session.Clear()
	session.Options(sessions.Options{Path: "/", MaxAge: -1})
	return session.Save()
}

// currentUser returns the user loaded by the auth middleware. Routes using it
// must be behind RequireAuth or RequireAdmin.
func currentUser(c *gin.Context) *models.User {
	user, _ := middleware.CurrentUser(c)
	return user
}
