// internal/ipc/conn.go
package ipc

import (
	"context"
	"net"

	"github.com/sourcegraph/jsonrpc2"
)

// Methods every worker answers regardless of its plugin.
const (
	MethodPing = "worker/ping"
	MethodQuit = "worker/quit"
)

// PingResult is the reply to MethodPing.
type PingResult struct {
	Plugin string `json:"plugin"`
	PID    int    `json:"pid"`
}

// NewConn wraps an established socket in a JSON-RPC 2.0 connection framed
// with Content-Length headers.
func NewConn(ctx context.Context, c net.Conn, h jsonrpc2.Handler, opts ...jsonrpc2.ConnOpt) *jsonrpc2.Conn {
	stream := jsonrpc2.NewBufferedStream(c, jsonrpc2.VSCodeObjectCodec{})
	return jsonrpc2.NewConn(ctx, stream, h, opts...)
}
