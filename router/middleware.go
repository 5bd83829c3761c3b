package router

// Middleware mirrors the teacher library's func(http.Handler) http.Handler
// chaining shape (pkg/api/middleware), generalized from HTTP handlers to
// WebSocket frame dispatch: each middleware receives the Context and a
// next func to continue the chain (spec §4.1 step 8). Not calling next
// aborts the chain — treated as "handled", not an error.
type Middleware func(ctx Context, next func() error) error

// runChain executes middlewares in order, then terminal, mirroring the
// teacher's nested-closure composition in pkg/api/middleware.
func runChain(ctx Context, middlewares []Middleware, terminal func() error) error {
	next := terminal
	for i := len(middlewares) - 1; i >= 0; i-- {
		mw := middlewares[i]
		n := next
		next = func() error { return mw(ctx, n) }
	}
	return next()
}
