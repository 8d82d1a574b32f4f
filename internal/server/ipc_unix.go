//go:build !windows

package server

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
)

// maxUnixSocketPath is the maximum length for a Unix domain socket path.
// macOS limits this to 104 bytes; Linux allows 108.
const maxUnixSocketPath = 104

// ListenIPC creates the daemon's Unix domain socket in dir and returns its
// path and listener. The socket file has permissions 0600. Paths longer
// than the OS limit fall back to os.TempDir().
func ListenIPC(dir, name string) (string, net.Listener, error) {
	filename := name + ".sock"

	socketPath := filepath.Join(dir, filename)
	if len(socketPath) >= maxUnixSocketPath {
		dir = os.TempDir()
		socketPath = filepath.Join(dir, filename)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", nil, fmt.Errorf("server: create socket dir: %w", err)
	}

	// A previous daemon may have left its socket behind.
	if err := os.Remove(socketPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return "", nil, fmt.Errorf("server: remove stale socket: %w", err)
	}

	ln, err := net.Listen("unix", socketPath)
	if err != nil {
		return "", nil, fmt.Errorf("server: listen on %s: %w", socketPath, err)
	}

	if err := os.Chmod(socketPath, 0o600); err != nil {
		ln.Close()
		os.Remove(socketPath)
		return "", nil, fmt.Errorf("server: chmod socket: %w", err)
	}
	return socketPath, ln, nil
}

// DialIPC connects to a socket created by ListenIPC.
func DialIPC(address string) (net.Conn, error) {
	return net.Dial("unix", address)
}
