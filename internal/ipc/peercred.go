package ipc

import "net"

// CredentialsFunc reports the process id of the far end of a connection.
type CredentialsFunc func(net.Conn) (pid int, err error)
