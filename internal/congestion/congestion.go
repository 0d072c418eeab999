// Package congestion selects the TCP congestion control algorithm used by
// the server's connections.
package congestion

import (
	"errors"
	"syscall"
)

// ErrNoSupport is returned on systems where the congestion control
// algorithm cannot be changed.
var ErrNoSupport = errors.New("congestion control not supported")

// Set sets the congestion control algorithm of the socket behind rc.
func Set(rc syscall.RawConn, cc string) error {
	return set(rc, cc)
}

// Get returns the congestion control algorithm of the socket behind rc.
func Get(rc syscall.RawConn) (string, error) {
	return get(rc)
}

// ListenControl returns a net.ListenConfig Control function setting cc on
// the listening socket. Accepted connections inherit it. An empty cc
// returns nil, i.e. the system default.
func ListenControl(cc string) func(network, address string, rc syscall.RawConn) error {
	if cc == "" {
		return nil
	}
	return func(network, address string, rc syscall.RawConn) error {
		return Set(rc, cc)
	}
}
