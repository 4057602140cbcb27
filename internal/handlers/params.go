package handlers

import (
	"strconv"

	"github.com/gin-gonic/gin"
)

// parseIDParam reads a positive numeric path parameter. On failure it writes
// a 400 response and returns false.
func parseIDParam(c *gin.Context, name string) (uint, bool) {
	raw := c.Param(name)
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		HandleValidationError(c, name, raw, "must be a positive integer")
		return 0, false
	}
	return uint(id), true
}

// parseOptionalIDQuery reads an optional positive numeric query parameter
func parseOptionalIDQuery(c *gin.Context, name string) (*uint, bool) {
	raw := c.Query(name)
	if raw == "" {
		return nil, true
	}
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		HandleValidationError(c, name, raw, "must be a positive integer")
		return nil, false
	}
	v := uint(id)
	return &v, true
}
