// Package router builds the chi mux with JSON error handlers and offers
// typed access to path and query parameters.
package router

import (
	"net/http"
	"sort"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/hireflow/hireflow/internal/web/response"
)

// RouteInfo describes a registered route
type RouteInfo struct {
	Method  string
	Pattern string
}

// New creates a chi router whose 404 and 405 responses are JSON
func New() chi.Router {
	r := chi.NewRouter()
	r.NotFound(NotFoundHandler)
	r.MethodNotAllowed(MethodNotAllowedHandler)
	return r
}

// NotFoundHandler renders a JSON 404
func NotFoundHandler(w http.ResponseWriter, r *http.Request) {
	response.RenderNotFound(w, "The requested resource was not found")
}

// MethodNotAllowedHandler renders a JSON 405 listing the allowed methods
func MethodNotAllowedHandler(w http.ResponseWriter, r *http.Request) {
	response.RenderMethodNotAllowed(w, allowedMethods(r))
}

func allowedMethods(r *http.Request) []string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil || rctx.Routes == nil {
		return nil
	}

	var methods []string
	for _, m := range []string{
		http.MethodGet, http.MethodPost, http.MethodPut,
		http.MethodPatch, http.MethodDelete,
	} {
		tctx := chi.NewRouteContext()
		if rctx.Routes.Match(tctx, m, r.URL.Path) {
			methods = append(methods, m)
		}
	}
	return methods
}

// Routes lists every route registered on r sorted by pattern then method
func Routes(r chi.Routes) ([]RouteInfo, error) {
	var routes []RouteInfo
	err := chi.Walk(r, func(method, route string, handler http.Handler, middlewares ...func(http.Handler) http.Handler) error {
		routes = append(routes, RouteInfo{
			Method:  method,
			Pattern: strings.Replace(route, "/*/", "/", -1),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(routes, func(i, j int) bool {
		if routes[i].Pattern != routes[j].Pattern {
			return routes[i].Pattern < routes[j].Pattern
		}
		return routes[i].Method < routes[j].Method
	})
	return routes, nil
}
