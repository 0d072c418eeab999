//go:build !linux
// +build !linux

package tcpinfox

import (
	"syscall"

	"github.com/robertodauria/speedtest/pkg/speedtest/results"
)

func getTCPInfo(syscall.RawConn) (*results.TCPInfo, error) {
	return nil, ErrNoSupport
}
