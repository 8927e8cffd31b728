// +build darwin dragonfly freebsd linux netbsd openbsd

package main

import "golang.org/x/sys/unix"

// getFileLimit checks how many file descriptors this process may open, so
// serve can refuse to start if the broker's configured client count
// exceeds it.
func getFileLimit() (uint64, error) {
	var rLimit unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &rLimit); err != nil {
		return 0, err
	}
	return uint64(rLimit.Max), nil
}
