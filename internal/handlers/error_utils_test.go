package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	contextutils "assessapp/internal/utils"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestContext(target string) (*gin.Context, *httptest.ResponseRecorder) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, target, nil)
	return c, w
}

func TestHandleAppError_StatusMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"not found", contextutils.ErrRecordNotFound, http.StatusNotFound},
		{"wrapped not found", contextutils.WrapErrorf(contextutils.ErrRecordNotFound, "test %d", 4), http.StatusNotFound},
		{"exists", contextutils.ErrRecordExists, http.StatusConflict},
		{"attempt closed", contextutils.WrapError(contextutils.ErrAttemptClosed, "done"), http.StatusConflict},
		{"invalid input", contextutils.ErrInvalidInput, http.StatusBadRequest},
		{"credentials", contextutils.ErrInvalidCredentials, http.StatusUnauthorized},
		{"forbidden", contextutils.ErrForbidden, http.StatusForbidden},
		{"upload", contextutils.ErrUploadRejected, http.StatusUnprocessableEntity},
		{"ai", contextutils.ErrAIRequestFailed, http.StatusBadGateway},
		{"unavailable", contextutils.ErrServiceUnavailable, http.StatusServiceUnavailable},
		{"timeout", contextutils.ErrTimeout, http.StatusGatewayTimeout},
		{"plain error", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, w := newTestContext("/")
			HandleAppError(c, tt.err)
			assert.Equal(t, tt.status, w.Code)
			assert.Len(t, c.Errors, 1)
		})
	}
}

func TestHandleAppError_Body(t *testing.T) {
	c, w := newTestContext("/")
	HandleAppError(c, contextutils.WrapError(contextutils.ErrServiceUnavailable, "redis down"))

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, string(contextutils.ErrorCodeServiceUnavailable), body["code"])
	assert.Equal(t, true, body["retryable"])
}

func TestHandleValidationError(t *testing.T) {
	c, w := newTestContext("/")
	HandleValidationError(c, "id", "abc", "must be a positive integer")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "Invalid id")
}

func TestParsePagination(t *testing.T) {
	tests := []struct {
		query      string
		page, size int
	}{
		{"", 1, 20},
		{"?page=3&page_size=10", 3, 10},
		{"?page=0&page_size=-1", 1, 20},
		{"?page=x&page_size=1000", 1, 100},
	}
	for _, tt := range tests {
		c, _ := newTestContext("/items" + tt.query)
		page, size := ParsePagination(c, 1, 20, 100)
		assert.Equal(t, tt.page, page, tt.query)
		assert.Equal(t, tt.size, size, tt.query)
	}
	assert.Equal(t, 20, pageOffset(3, 10))
}

func TestParseLimit(t *testing.T) {
	c, _ := newTestContext("/leaderboard?limit=500")
	assert.Equal(t, 100, ParseLimit(c, 10, 100))
	c, _ = newTestContext("/leaderboard?limit=nope")
	assert.Equal(t, 10, ParseLimit(c, 10, 100))
	c, _ = newTestContext("/leaderboard?limit=5")
	assert.Equal(t, 5, ParseLimit(c, 10, 100))
}
