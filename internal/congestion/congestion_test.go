package congestion

import (
	"context"
	"errors"
	"net"
	"runtime"
	"testing"

	"github.com/m-lab/go/testingx"
	"github.com/robertodauria/speedtest/internal/netx"
)

func TestListenControl_Empty(t *testing.T) {
	if ListenControl("") != nil {
		t.Error("ListenControl(\"\") should return nil")
	}
}

func TestListenControl(t *testing.T) {
	if runtime.GOOS != "linux" {
		lc := net.ListenConfig{Control: ListenControl("reno")}
		_, err := lc.Listen(context.Background(), "tcp", "127.0.0.1:0")
		if !errors.Is(err, ErrNoSupport) {
			t.Errorf("Listen() error = %v, want ErrNoSupport", err)
		}
		return
	}
	// reno is always built into the Linux kernel.
	lc := net.ListenConfig{Control: ListenControl("reno")}
	ln, err := lc.Listen(context.Background(), "tcp", "127.0.0.1:0")
	testingx.Must(t, err, "cannot listen with reno")
	defer ln.Close()

	conn, err := net.Dial("tcp", ln.Addr().String())
	testingx.Must(t, err, "cannot dial")
	defer conn.Close()
	server, err := ln.Accept()
	testingx.Must(t, err, "cannot accept")
	defer server.Close()

	rc, err := netx.RawConn(server)
	testingx.Must(t, err, "cannot get raw conn")
	cc, err := Get(rc)
	testingx.Must(t, err, "cannot get cc")
	if cc != "reno" {
		t.Errorf("Get() = %q, want reno", cc)
	}
}

func TestSet_Invalid(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	testingx.Must(t, err, "cannot listen")
	defer ln.Close()
	conn, err := net.Dial("tcp", ln.Addr().String())
	testingx.Must(t, err, "cannot dial")
	defer conn.Close()
	rc, err := netx.RawConn(conn)
	testingx.Must(t, err, "cannot get raw conn")
	if err := Set(rc, "no-such-algorithm"); err == nil {
		t.Error("Set() with an unknown algorithm should fail")
	}
}
