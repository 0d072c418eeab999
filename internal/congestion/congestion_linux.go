package congestion

import (
	"syscall"

	"golang.org/x/sys/unix"
)

func set(rc syscall.RawConn, cc string) error {
	var serr error
	err := rc.Control(func(fd uintptr) {
		// Note: Fd() returns uintptr but on Unix we can safely use int for sockets.
		serr = unix.SetsockoptString(int(fd), unix.IPPROTO_TCP, unix.TCP_CONGESTION, cc)
	})
	if err != nil {
		return err
	}
	return serr
}

func get(rc syscall.RawConn) (string, error) {
	var cc string
	var serr error
	err := rc.Control(func(fd uintptr) {
		cc, serr = unix.GetsockoptString(int(fd), unix.IPPROTO_TCP, unix.TCP_CONGESTION)
	})
	if err != nil {
		return "", err
	}
	return cc, serr
}
