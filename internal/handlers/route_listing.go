package handlers

import (
	"net/http"
	"sort"
	"strings"

	"assessapp/internal/observability"

	"github.com/gin-gonic/gin"
)

// RouteInfo represents information about a single route
type RouteInfo struct {
	Method      string `json:"method"`
	Path        string `json:"path"`
	HandlerName string `json:"handler_name"`
}

// RouteListingHandler lists the routes mounted on the engine
type RouteListingHandler struct {
	routes []RouteInfo
}

// NewRouteListingHandler creates a new route listing handler
func NewRouteListingHandler() *RouteListingHandler {
	return &RouteListingHandler{}
}

// CollectRoutes extracts all routes from a Gin engine. Call it after every
// route is registered.
func (h *RouteListingHandler) CollectRoutes(engine *gin.Engine) {
	h.routes = h.routes[:0]
	for _, route := range engine.Routes() {
		if strings.HasPrefix(route.Path, "/debug/") {
			continue
		}
		h.routes = append(h.routes, RouteInfo{
			Method:      route.Method,
			Path:        route.Path,
			HandlerName: route.Handler,
		})
	}
	sort.Slice(h.routes, func(i, j int) bool {
		if h.routes[i].Path == h.routes[j].Path {
			return h.routes[i].Method < h.routes[j].Method
		}
		return h.routes[i].Path < h.routes[j].Path
	})
}

// GetRouteListingJSON returns the route listing as JSON
func (h *RouteListingHandler) GetRouteListingJSON(c *gin.Context) {
	_, span := observability.TraceHandlerFunction(c.Request.Context(), "get_route_listing_json")
	defer observability.FinishSpan(span, nil)
	c.JSON(http.StatusOK, gin.H{"routes": h.routes})
}
