package http

import (
	"context"
	"crypto/tls"
	"net"
)

type connKey struct{}

// WithConn stores the accepted connection in ctx. It is meant for
// http.Server.ConnContext.
func WithConn(ctx context.Context, c net.Conn) context.Context {
	return context.WithValue(ctx, connKey{}, c)
}

// ConnFrom returns the connection stored by WithConn.
func ConnFrom(ctx context.Context) (net.Conn, bool) {
	c, ok := ctx.Value(connKey{}).(net.Conn)
	return c, ok
}

type noDelayer interface {
	SetNoDelay(bool) error
}

// setNoDelay toggles Nagle's algorithm on the connection behind ctx. It
// reports false when the connection does not support it.
func setNoDelay(ctx context.Context, noDelay bool) bool {
	c, ok := ConnFrom(ctx)
	if !ok {
		return false
	}
	if tc, ok := c.(*tls.Conn); ok {
		c = tc.NetConn()
	}
	nd, ok := c.(noDelayer)
	if !ok {
		return false
	}
	return nd.SetNoDelay(noDelay) == nil
}

// noDelayFor resolves the Nagle setting for a route. A route value, when
// set, wins over the global default.
func noDelayFor(global bool, route *bool) bool {
	if route != nil {
		return *route
	}
	return global
}
