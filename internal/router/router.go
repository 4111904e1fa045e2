package router

import (
	"fmt"
	"net/http"
	"sort"
	"strings"

	"example.com/h3serve/internal/config"
	"example.com/h3serve/internal/h3"
	"example.com/h3serve/internal/logger"
	"example.com/h3serve/internal/server"
)

// Router holds the routing table and dispatches requests. It matches
// normalized request paths against configured routes and forwards the
// request to the appropriate handler.
type Router struct {
	// exactRoutes stores routes with MatchType "Exact", keyed by pattern.
	exactRoutes map[string]config.Route

	// prefixRoutes stores routes with MatchType "Prefix", sorted by
	// pattern length descending so the most specific prefix wins.
	prefixRoutes []config.Route

	handlerRegistry *server.HandlerRegistry
	log             *logger.Logger
}

// NewRouter creates and initializes a new Router. Route validation happens
// in the config loader; NewRouter assumes the routes it receives are valid.
func NewRouter(routes []config.Route, registry *server.HandlerRegistry, lg *logger.Logger) (*Router, error) {
	if registry == nil {
		return nil, fmt.Errorf("handler registry cannot be nil")
	}
	if lg == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}

	exactMap := make(map[string]config.Route)
	var prefixList []config.Route

	for _, route := range routes {
		switch route.MatchType {
		case config.MatchTypeExact:
			exactMap[route.PathPattern] = route
		case config.MatchTypePrefix:
			prefixList = append(prefixList, route)
		}
	}

	sort.Slice(prefixList, func(i, j int) bool {
		return len(prefixList[i].PathPattern) > len(prefixList[j].PathPattern)
	})

	return &Router{
		exactRoutes:     exactMap,
		prefixRoutes:    prefixList,
		handlerRegistry: registry,
		log:             lg,
	}, nil
}

// MatchedRouteInfo holds the instantiated handler and its route.
type MatchedRouteInfo struct {
	Handler server.Handler
	Route   config.Route
}

// FindRoute matches the given request path against the configured routes.
// An exact match takes precedence over a prefix match; among prefix matches
// the longest pattern wins. Returns (nil, nil) when no route matches.
func (r *Router) FindRoute(path string) (*MatchedRouteInfo, error) {
	if route, ok := r.exactRoutes[path]; ok {
		handler, err := r.handlerRegistry.CreateHandler(route.HandlerType, route.HandlerConfig, r.log)
		if err != nil {
			r.log.Error("failed to create handler for exact match route", logger.LogFields{
				"path":         path,
				"handler_type": route.HandlerType,
				"error":        err.Error(),
			})
			return nil, err
		}
		return &MatchedRouteInfo{Handler: handler, Route: route}, nil
	}

	for _, route := range r.prefixRoutes {
		if strings.HasPrefix(path, route.PathPattern) {
			handler, err := r.handlerRegistry.CreateHandler(route.HandlerType, route.HandlerConfig, r.log)
			if err != nil {
				r.log.Error("failed to create handler for prefix match route", logger.LogFields{
					"path":         path,
					"pattern":      route.PathPattern,
					"handler_type": route.HandlerType,
					"error":        err.Error(),
				})
				return nil, err
			}
			return &MatchedRouteInfo{Handler: handler, Route: route}, nil
		}
	}

	return nil, nil
}

// ServeStream dispatches the request to the appropriate handler based on the
// normalized path. No matching route yields a 404; a handler creation
// failure yields a 500. This is the RequestDispatcherFunc wired into the
// engine.
func (r *Router) ServeStream(sw h3.StreamWriter, req *http.Request) {
	requestPath := req.URL.Path

	matchedInfo, err := r.FindRoute(requestPath)
	if err != nil {
		server.SendDefaultErrorResponse(sw, http.StatusInternalServerError, req, "Failed to initialize request handler.", r.log)
		return
	}

	if matchedInfo == nil {
		r.log.Info("no route matched for request", logger.LogFields{
			"path":      requestPath,
			"stream_id": sw.ID(),
		})
		server.SendDefaultErrorResponse(sw, http.StatusNotFound, req, "The requested resource was not found.", r.log)
		return
	}

	matchedInfo.Handler.ServeStream(sw, req)
}
