// +build !darwin
// +build !dragonfly
// +build !freebsd
// +build !linux
// +build !netbsd
// +build !openbsd

package main

import "errors"

// getFileLimit doesn't know how to query the descriptor limit on this
// platform, so it reports a permissive fallback and an error the caller can
// choose to ignore.
func getFileLimit() (uint64, error) {
	return 1000000, errors.New("cpod: file descriptor limit unknown on this platform")
}
