//go:build linux || darwin || freebsd || openbsd

package main

import "golang.org/x/sys/unix"

// checkSocketAccess fails early when the socket exists but is not writable,
// which is the usual "run as root" problem.
func checkSocketAccess(path string) error {
	return unix.Access(path, unix.R_OK|unix.W_OK)
}
