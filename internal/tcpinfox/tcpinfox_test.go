package tcpinfox

import (
	"errors"
	"net"
	"runtime"
	"testing"

	"github.com/m-lab/go/testingx"
	"github.com/robertodauria/speedtest/internal/netx"
)

func TestGetTCPInfo(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	testingx.Must(t, err, "cannot listen")
	defer ln.Close()
	conn, err := net.Dial("tcp", ln.Addr().String())
	testingx.Must(t, err, "cannot dial")
	defer conn.Close()

	info, err := GetTCPInfo(conn)
	if runtime.GOOS != "linux" {
		if !errors.Is(err, ErrNoSupport) {
			t.Errorf("GetTCPInfo() error = %v, want ErrNoSupport", err)
		}
		return
	}
	testingx.Must(t, err, "GetTCPInfo failed")
	if info.SndCwnd == 0 {
		t.Error("expected a non-zero congestion window")
	}
}

func TestGetTCPInfo_NoSocket(t *testing.T) {
	c1, c2 := net.Pipe()
	defer c1.Close()
	defer c2.Close()
	if _, err := GetTCPInfo(c1); !errors.Is(err, netx.ErrNoRawConn) {
		t.Errorf("GetTCPInfo(pipe) error = %v, want ErrNoRawConn", err)
	}
}
