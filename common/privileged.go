//go:build !windows

package common

import "os"

// IsPrivileged reports whether the process runs as root, which the UAPI
// sockets under /var/run/wireguard normally require.
func IsPrivileged() bool {
	return os.Geteuid() == 0
}
