package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"assessapp/internal/models"
	contextutils "assessapp/internal/utils"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockUserLookup struct {
	users map[uint]*models.User
	err   error
}

func (m *mockUserLookup) GetUser(_ context.Context, id uint) (*models.User, error) {
	if m.err != nil {
		return nil, m.err
	}
	u, ok := m.users[id]
	if !ok {
		return nil, contextutils.ErrRecordNotFound
	}
	return u, nil
}

// newRouter mounts /login/:id to seed the session and the protected routes.
func newRouter(users UserLookup) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(sessions.Sessions("test-session", cookie.NewStore([]byte("secret"))))
	r.GET("/login/:id", func(c *gin.Context) {
		s := sessions.Default(c)
		switch c.Param("id") {
		case "1":
			s.Set(UserIDKey, uint(1))
		case "2":
			s.Set(UserIDKey, uint(2))
		case "9":
			s.Set(UserIDKey, uint(9))
		}
		_ = s.Save()
		c.Status(http.StatusOK)
	})
	r.GET("/me", RequireAuth(users), func(c *gin.Context) {
		u, ok := CurrentUser(c)
		if !ok {
			c.Status(http.StatusTeapot)
			return
		}
		c.JSON(http.StatusOK, gin.H{"id": u.ID, "ctx": contextutils.GetUserIDFromContext(c.Request.Context())})
	})
	r.GET("/admin", RequireAdmin(users), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})
	return r
}

func login(t *testing.T, r *gin.Engine, id string) []*http.Cookie {
	t.Helper()
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/login/"+id, nil))
	require.Equal(t, http.StatusOK, w.Code)
	return w.Result().Cookies()
}

func get(r *gin.Engine, path string, cookies []*http.Cookie) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRequireAuth(t *testing.T) {
	users := &mockUserLookup{users: map[uint]*models.User{
		1: {ID: 1, Username: "alice", Role: models.RoleUser},
		2: {ID: 2, Username: "root", Role: models.RoleAdmin},
	}}
	r := newRouter(users)

	w := get(r, "/me", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), string(contextutils.ErrorCodeUnauthorized))

	w = get(r, "/me", login(t, r, "1"))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"id":1,"ctx":1}`, w.Body.String())

	w = get(r, "/me", login(t, r, "9"))
	assert.Equal(t, http.StatusUnauthorized, w.Code, "deleted user")
}

func TestRequireAuth_LookupFailure(t *testing.T) {
	users := &mockUserLookup{err: errors.New("db down")}
	r := newRouter(users)
	w := get(r, "/me", login(t, r, "1"))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestRequireAdmin(t *testing.T) {
	users := &mockUserLookup{users: map[uint]*models.User{
		1: {ID: 1, Username: "alice", Role: models.RoleUser},
		2: {ID: 2, Username: "root", Role: models.RoleAdmin},
	}}
	r := newRouter(users)

	assert.Equal(t, http.StatusUnauthorized, get(r, "/admin", nil).Code)
	assert.Equal(t, http.StatusForbidden, get(r, "/admin", login(t, r, "1")).Code)
	assert.Equal(t, http.StatusNoContent, get(r, "/admin", login(t, r, "2")).Code)
}

func TestErrorRecoveryMiddleware_PanicRecovery(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(ErrorRecoveryMiddleware(nil, nil))
	router.GET("/panic", func(_ *gin.Context) {
		panic("test panic")
	})
	router.GET("/normal", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "success"})
	})

	w := get(router, "/panic", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), string(contextutils.ErrorCodeInternalError))

	assert.Equal(t, http.StatusOK, get(router, "/normal", nil).Code)
}

func TestErrorRecoveryMiddleware_CircuitBreaker(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cfg := &ErrorRecoveryConfig{EnableCircuitBreaker: true, CircuitBreakerThreshold: 2, CircuitBreakerTimeout: time.Hour}
	router := gin.New()
	router.Use(ErrorRecoveryMiddleware(nil, cfg))
	router.GET("/fail", func(c *gin.Context) { c.Status(http.StatusInternalServerError) })

	assert.Equal(t, http.StatusInternalServerError, get(router, "/fail", nil).Code)
	assert.Equal(t, http.StatusInternalServerError, get(router, "/fail", nil).Code)
	assert.Equal(t, http.StatusServiceUnavailable, get(router, "/fail", nil).Code)
}

func TestCircuitBreaker_HalfOpen(t *testing.T) {
	now := time.Now()
	cb := newCircuitBreaker(&ErrorRecoveryConfig{CircuitBreakerThreshold: 1, CircuitBreakerTimeout: time.Minute})
	cb.now = func() time.Time { return now }

	cb.record(http.StatusBadGateway)
	assert.False(t, cb.canExecute())

	now = now.Add(2 * time.Minute)
	assert.True(t, cb.canExecute())
	assert.Equal(t, circuitHalfOpen, cb.state)

	cb.record(http.StatusOK)
	assert.Equal(t, circuitClosed, cb.state)
	assert.True(t, cb.canExecute())
}
