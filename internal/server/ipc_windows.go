//go:build windows

package server

import (
	"fmt"
	"net"
)

// ListenIPC listens on the TCP loopback with a dynamic port, since Unix
// domain sockets are not reliably available. The returned address is the
// TCP address (e.g. "127.0.0.1:12345"); dir and name are unused.
func ListenIPC(dir, name string) (string, net.Listener, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return "", nil, fmt.Errorf("server: listen tcp loopback: %w", err)
	}
	return ln.Addr().String(), ln, nil
}

// DialIPC connects to an address returned by ListenIPC.
func DialIPC(address string) (net.Conn, error) {
	return net.Dial("tcp", address)
}
