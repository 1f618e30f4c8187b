//go:build linux || darwin

package vft

import (
	"time"

	"golang.org/x/sys/unix"
)

func timespecToTime(ts unix.Timespec) time.Time {
	sec, nsec := ts.Unix()
	return time.Unix(sec, nsec)
}
