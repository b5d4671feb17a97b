//go:build linux

package ring

import (
	"errors"
	"syscall"

	"golang.org/x/sys/unix"
)

func gettid() int {
	return unix.Gettid()
}

var errTimedOut = syscall.ETIME

func isTimedOut(err error) bool {
	return errors.Is(err, syscall.ETIME)
}
