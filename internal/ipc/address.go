// internal/ipc/address.go
package ipc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// ErrPathTooLong is returned when a socket name does not fit in sun_path.
var ErrPathTooLong = errors.New("socket path too long")

// maxSocketPath is the longest name sun_path can hold, leaving room for the
// terminating or, for abstract names, leading NUL.
func maxSocketPath() int {
	if runtime.GOOS == "linux" {
		return 107
	}
	return 103
}

func checkSocketPath(p string) error {
	if n := len(p); n > maxSocketPath() {
		return fmt.Errorf("%w: %q is %d bytes, the limit is %d; use a shorter socket_dir", ErrPathTooLong, p, n, maxSocketPath())
	}
	return nil
}

// Address is a local socket address in D-Bus notation, e.g.
// "unix:abstract=/tmp/ide-worker-42-1a2b3c4d" or "unix:path=/tmp/ide-worker-x/socket".
type Address struct {
	Path     string
	Abstract bool
}

// AbstractNamesSupported reports whether the platform supports the abstract
// socket namespace.
func AbstractNamesSupported() bool {
	return runtime.GOOS == "linux"
}

// NewListenAddress returns an address unique to one manager instance. The pid
// and guid are embedded in the name. When abstract names are unavailable a
// private temporary directory is created to hold the socket; the returned
// cleanup func removes it.
func NewListenAddress(dir string, pid int, guid string) (Address, func(), error) {
	if dir == "" {
		dir = os.TempDir()
	}
	if len(guid) > 8 {
		guid = guid[:8]
	}
	if AbstractNamesSupported() {
		name := filepath.Join(dir, fmt.Sprintf("ide-worker-%d-%s", pid, guid))
		if err := checkSocketPath(name); err != nil {
			return Address{}, nil, err
		}
		return Address{Path: name, Abstract: true}, func() {}, nil
	}

	tmpdir, err := os.MkdirTemp(dir, fmt.Sprintf("ide-worker-%d-", pid))
	if err != nil {
		return Address{}, nil, fmt.Errorf("failed to create socket directory: %w", err)
	}
	cleanup := func() { _ = os.RemoveAll(tmpdir) }
	name := filepath.Join(tmpdir, "socket")
	if err := checkSocketPath(name); err != nil {
		cleanup()
		return Address{}, nil, err
	}
	return Address{Path: name}, cleanup, nil
}

// ParseAddress parses the string form produced by Address.String.
func ParseAddress(s string) (Address, error) {
	rest, ok := strings.CutPrefix(s, "unix:")
	if !ok {
		return Address{}, fmt.Errorf("unsupported transport in address %q", s)
	}

	var addr Address
	for _, pair := range strings.Split(rest, ",") {
		key, value, ok := strings.Cut(pair, "=")
		if !ok {
			return Address{}, fmt.Errorf("malformed address component %q", pair)
		}
		value, err := url.PathUnescape(value)
		if err != nil {
			return Address{}, fmt.Errorf("malformed address value %q: %w", pair, err)
		}
		switch key {
		case "abstract":
			addr.Path, addr.Abstract = value, true
		case "path":
			addr.Path = value
		case "guid":
			// Informational only.
		default:
			return Address{}, fmt.Errorf("unknown address key %q", key)
		}
	}
	if addr.Path == "" {
		return Address{}, fmt.Errorf("address %q has no path", s)
	}
	return addr, nil
}

func (a Address) String() string {
	if a.Abstract {
		return "unix:abstract=" + escape(a.Path)
	}
	return "unix:path=" + escape(a.Path)
}

// sockaddr is the name understood by the net package.
func (a Address) sockaddr() string {
	if a.Abstract {
		return "@" + a.Path
	}
	return a.Path
}

// Listen opens a unix listener on the address.
func Listen(a Address) (net.Listener, error) {
	return net.Listen("unix", a.sockaddr())
}

// Dial connects to a listener opened with Listen.
func Dial(ctx context.Context, a Address) (net.Conn, error) {
	var d net.Dialer
	return d.DialContext(ctx, "unix", a.sockaddr())
}

func escape(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isOptionallyEscaped(c) {
			b.WriteByte(c)
			continue
		}
		fmt.Fprintf(&b, "%%%02x", c)
	}
	return b.String()
}

func isOptionallyEscaped(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return true
	}
	return strings.IndexByte("-_/.\\*", c) >= 0
}
