//go:build !linux

package ipc

import (
	"fmt"
	"net"
	"runtime"

	"ideworker/internal/domain"
)

// PeerPID is not implemented on this platform; every connection is rejected
// unless a CredentialsFunc is supplied to the manager.
func PeerPID(c net.Conn) (int, error) {
	return 0, fmt.Errorf("%w: not supported on %s", domain.ErrNoCredentials, runtime.GOOS)
}
