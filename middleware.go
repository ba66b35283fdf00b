package cluster

import (
	"context"
	"net/http"
)

// ConnectionKey is the key used to store a Connection in context.Context.
type ConnectionKey struct{}

// WithConnection adds c to ctx.
func WithConnection(ctx context.Context, c *Connection) context.Context {
	return context.WithValue(ctx, ConnectionKey{}, c)
}

// ConnectionFromContext retrieves the Connection stored by WithConnection,
// or nil.
func ConnectionFromContext(ctx context.Context) *Connection {
	if c, ok := ctx.Value(ConnectionKey{}).(*Connection); ok {
		return c
	}
	return nil
}

// Middleware gives every inbound request its own session on p, so node
// selection happens at most once per request and never leaks across
// requests. Handlers obtain it with ConnectionFromContext.
func Middleware(p *Pool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			c := p.Connection()
			defer c.Reset()
			next.ServeHTTP(w, r.WithContext(WithConnection(r.Context(), c)))
		})
	}
}
