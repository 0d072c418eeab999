// Package netx gives handlers access to the connection carrying a request.
package netx

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"syscall"

	"github.com/google/uuid"
	muuid "github.com/m-lab/uuid"
)

// ErrNoRawConn is returned when the connection does not expose its socket.
var ErrNoRawConn = errors.New("connection does not expose a raw socket")

type connKey struct{}

// ConnContext stores c in ctx. It is meant to be used as http.Server's
// ConnContext hook.
func ConnContext(ctx context.Context, c net.Conn) context.Context {
	return context.WithValue(ctx, connKey{}, c)
}

// FromContext returns the connection stored by ConnContext, or nil.
func FromContext(ctx context.Context) net.Conn {
	c, _ := ctx.Value(connKey{}).(net.Conn)
	return c
}

// RawConn returns the syscall.RawConn of c, unwrapping TLS connections.
func RawConn(c net.Conn) (syscall.RawConn, error) {
	if tc, ok := c.(*tls.Conn); ok {
		c = tc.NetConn()
	}
	sc, ok := c.(syscall.Conn)
	if !ok {
		return nil, ErrNoRawConn
	}
	return sc.SyscallConn()
}

// FlowID returns a globally unique identifier of the TCP flow carried by c,
// derived from its socket cookie. Other transports, or sockets whose
// cookie cannot be read, get a random UUID.
func FlowID(c net.Conn) string {
	if tc, ok := c.(*tls.Conn); ok {
		c = tc.NetConn()
	}
	if tcp, ok := c.(*net.TCPConn); ok {
		if id, err := muuid.FromTCPConn(tcp); err == nil {
			return id
		}
	}
	return uuid.NewString()
}
