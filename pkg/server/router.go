package server

import (
	"net/http"
)

// Middleware wraps an http.Handler and returns a new http.Handler with additional behavior.
type Middleware func(http.Handler) http.Handler

// BasicRouter is a ServeMux with a middleware stack
type BasicRouter struct {
	mux         *http.ServeMux
	middlewares []Middleware
}

// NewBasicRouter creates a new [BasicRouter] instance.
func NewBasicRouter() *BasicRouter {
	return &BasicRouter{
		mux:         http.NewServeMux(),
		middlewares: []Middleware{},
	}
}

// Use adds [Middleware] to the router's stack, applied in the order it's added.
// Nil entries are skipped.
func (r *BasicRouter) Use(middleware ...Middleware) {
	for _, m := range middleware {
		if m != nil {
			r.middlewares = append(r.middlewares, m)
		}
	}
}

// Handle registers handler for method and path. The route middleware wraps
// the handler inside the router's stack.
func (r *BasicRouter) Handle(method, path string, handler http.Handler, route ...Middleware) {
	for i := len(route) - 1; i >= 0; i-- {
		handler = route[i](handler)
	}
	pattern := path
	if method != "" {
		pattern = method + " " + path
	}
	r.mux.Handle(pattern, r.Apply(handler))
}

// HandleFunc is Handle for plain functions
func (r *BasicRouter) HandleFunc(method, path string, fn http.HandlerFunc, route ...Middleware) {
	r.Handle(method, path, fn, route...)
}

// ServeHTTP implements [http.Handler] for the entire router.
func (r *BasicRouter) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// Apply wraps a handler with all registered middleware.
//
// Middleware is applied in reverse order (last added wraps first).
func (r *BasicRouter) Apply(handler http.Handler) http.Handler {
	wrapped := handler

	for i := len(r.middlewares) - 1; i >= 0; i-- {
		wrapped = r.middlewares[i](wrapped)
	}

	return wrapped
}
