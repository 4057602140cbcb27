package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// Pagination describes the page returned by a list endpoint
type Pagination struct {
	Page     int `json:"page"`
	PageSize int `json:"page_size"`
}

// ParsePagination parses standard pagination query params from the request.
// It enforces bounds and applies defaults when values are missing or invalid.
func ParsePagination(c *gin.Context, defaultPage, defaultSize, maxSize int) (int, int) {
	pageStr := c.DefaultQuery("page", strconv.Itoa(defaultPage))
	sizeStr := c.DefaultQuery("page_size", strconv.Itoa(defaultSize))

	page, err := strconv.Atoi(pageStr)
	if err != nil || page < 1 {
		page = defaultPage
	}

	size, err := strconv.Atoi(sizeStr)
	if err != nil || size < 1 {
		size = defaultSize
	}
	if size > maxSize {
		size = maxSize
	}

	return page, size
}

// ParseLimit reads a "limit" query param bounded to [1, maxLimit]
func ParseLimit(c *gin.Context, defaultLimit, maxLimit int) int {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultLimit)))
	if err != nil || limit < 1 {
		return defaultLimit
	}
	if limit > maxLimit {
		return maxLimit
	}
	return limit
}

// WritePaginated standardizes paginated responses with a flexible items key, pagination block, and optional extras.
func WritePaginated(c *gin.Context, itemsKey string, items any, page, size int, extra gin.H) {
	response := gin.H{
		itemsKey:     items,
		"pagination": Pagination{Page: page, PageSize: size},
	}
	for k, v := range extra {
		response[k] = v
	}
	c.JSON(http.StatusOK, response)
}

func pageOffset(page, size int) int {
	return (page - 1) * size
}
