// Package tcpinfox samples the kernel's TCP_INFO for a connection.
package tcpinfox

import (
	"errors"
	"net"

	"github.com/robertodauria/speedtest/internal/netx"
	"github.com/robertodauria/speedtest/pkg/speedtest/results"
)

// ErrNoSupport is returned on systems without TCP_INFO.
var ErrNoSupport = errors.New("TCP_INFO not supported")

// GetTCPInfo returns a TCP_INFO sample for conn.
func GetTCPInfo(conn net.Conn) (*results.TCPInfo, error) {
	rc, err := netx.RawConn(conn)
	if err != nil {
		return nil, err
	}
	return getTCPInfo(rc)
}
