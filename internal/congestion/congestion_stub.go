//go:build !linux
// +build !linux

package congestion

import "syscall"

func set(syscall.RawConn, string) error {
	return ErrNoSupport
}

func get(syscall.RawConn) (string, error) {
	return "", ErrNoSupport
}
