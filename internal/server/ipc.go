package server

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/nupi-ai/edbridge/internal/constants"
)

const (
	// frameHeaderSize is the size of the length prefix (uint32 big-endian).
	frameHeaderSize = 4
	// maxFrameSize is the largest payload accepted on any transport (16 MB).
	maxFrameSize = 16 << 20
)

// writeFrame writes a length-prefixed frame: [4 bytes big-endian length][payload].
func writeFrame(conn net.Conn, data []byte) error {
	if len(data) > maxFrameSize {
		return fmt.Errorf("server: frame payload too large (%d > %d)", len(data), maxFrameSize)
	}

	var header [frameHeaderSize]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(data)))

	if len(data) == 0 {
		_, err := conn.Write(header[:])
		return err
	}

	bufs := net.Buffers{header[:], data}
	_, err := bufs.WriteTo(conn)
	return err
}

// readFrame reads a single length-prefixed frame from r.
func readFrame(r io.Reader) ([]byte, error) {
	var header [frameHeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}

	length := binary.BigEndian.Uint32(header[:])
	if length == 0 {
		return []byte{}, nil
	}
	if length > maxFrameSize {
		return nil, fmt.Errorf("server: frame too large (%d > %d)", length, maxFrameSize)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	return payload, nil
}

// FramedConn carries msgpack messages over a stream connection using
// length-prefixed frames. Both the server and IPC clients use it.
type FramedConn struct {
	conn    net.Conn
	reader  *bufio.Reader
	writeMu sync.Mutex
}

// NewFramedConn wraps conn.
func NewFramedConn(conn net.Conn) *FramedConn {
	return &FramedConn{conn: conn, reader: bufio.NewReader(conn)}
}

// ReadFrame blocks until a full frame arrives.
func (c *FramedConn) ReadFrame() ([]byte, error) {
	return readFrame(c.reader)
}

// WriteFrame writes one frame.
func (c *FramedConn) WriteFrame(frame []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(constants.WebSocketWriteTimeout))
	return writeFrame(c.conn, frame)
}

// Ping is a no-op: stream sockets report a dead peer through read errors.
func (c *FramedConn) Ping() error { return nil }

// Close closes the underlying connection.
func (c *FramedConn) Close() error {
	return c.conn.Close()
}

// ServeIPC accepts framed connections on ln until ctx ends or ln is closed.
// Each connection is served as a msgpack peer.
func (s *Server) ServeIPC(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	var wg sync.WaitGroup
	defer wg.Wait()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("server: accept IPC connection: %w", err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.serve("ipc", NewFramedConn(conn), MsgpackCodec{})
		}()
	}
}
