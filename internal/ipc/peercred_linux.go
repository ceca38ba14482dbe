//go:build linux

package ipc

import (
	"fmt"
	"net"

	"ideworker/internal/domain"

	"golang.org/x/sys/unix"
)

// PeerPID reads SO_PEERCRED from a unix socket connection.
func PeerPID(c net.Conn) (int, error) {
	uc, ok := c.(*net.UnixConn)
	if !ok {
		return 0, fmt.Errorf("%w: %T is not a unix socket", domain.ErrNoCredentials, c)
	}
	raw, err := uc.SyscallConn()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", domain.ErrNoCredentials, err)
	}

	var (
		cred    *unix.Ucred
		credErr error
	)
	err = raw.Control(func(fd uintptr) {
		cred, credErr = unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
	})
	if err != nil {
		return 0, fmt.Errorf("%w: %v", domain.ErrNoCredentials, err)
	}
	if credErr != nil {
		return 0, fmt.Errorf("%w: %v", domain.ErrNoCredentials, credErr)
	}
	if cred.Pid <= 0 {
		return 0, domain.ErrNoCredentials
	}
	return int(cred.Pid), nil
}
