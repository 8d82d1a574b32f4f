// Package client talks to a running edbridged over its websocket or IPC
// endpoint.
package client

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/nupi-ai/edbridge/internal/server"
)

const websocketHandshakeTimeout = 10 * time.Second

var (
	// ErrClosed is returned by calls on a closed client.
	ErrClosed = errors.New("client: connection closed")
)

// RemoteError is an error reported by the daemon for one request.
type RemoteError struct {
	Method  string
	Message string
}

func (e *RemoteError) Error() string {
	if e.Method == "" {
		return e.Message
	}
	return e.Method + ": " + e.Message
}

// IsNotReady reports whether err is the daemon's "editor not created yet"
// answer.
func IsNotReady(err error) bool {
	var remote *RemoteError
	return errors.As(err, &remote) && strings.Contains(remote.Message, "not ready")
}

type frameConn interface {
	ReadFrame() ([]byte, error)
	WriteFrame([]byte) error
	Close() error
}

// Client is one connection to the daemon. It is safe for concurrent use.
type Client struct {
	target string
	conn   frameConn
	codec  server.Codec

	mu      sync.Mutex
	pending map[string]chan server.Message
	closed  bool
	err     error

	events       chan server.Message
	eventsOn     bool
	eventsClosed bool

	stop      chan struct{}
	closeOnce sync.Once
	done      chan struct{}
}

// Option configures Dial.
type Option func(*dialOptions)

type dialOptions struct {
	tlsConfig *tls.Config
	header    http.Header
}

// WithTLSConfig sets the TLS configuration for wss targets.
func WithTLSConfig(cfg *tls.Config) Option {
	return func(o *dialOptions) { o.tlsConfig = cfg }
}

// WithOrigin sets the Origin header sent on websocket upgrades.
func WithOrigin(origin string) Option {
	return func(o *dialOptions) {
		if o.header == nil {
			o.header = http.Header{}
		}
		o.header.Set("Origin", origin)
	}
}

// Dial connects to target. ws, wss, http and https URLs use the websocket
// endpoint; anything else is an IPC socket address, optionally prefixed
// with ipc://.
func Dial(ctx context.Context, target string, opts ...Option) (*Client, error) {
	var o dialOptions
	for _, opt := range opts {
		opt(&o)
	}

	target = strings.TrimSpace(target)
	if target == "" {
		return nil, fmt.Errorf("client: empty daemon address")
	}

	if u, ok := websocketURL(target); ok {
		dialer := &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: websocketHandshakeTimeout,
			TLSClientConfig:  o.tlsConfig,
		}
		conn, _, err := dialer.DialContext(ctx, u, o.header)
		if err != nil {
			return nil, fmt.Errorf("client: dial %s: %w", u, err)
		}
		return newClient(u, &wsConn{conn: conn}, server.JSONCodec{}), nil
	}

	addr := strings.TrimPrefix(target, "ipc://")
	conn, err := server.DialIPC(addr)
	if err != nil {
		return nil, fmt.Errorf("client: dial %s: %w", addr, err)
	}
	return newClient(addr, server.NewFramedConn(conn), server.MsgpackCodec{}), nil
}

func websocketURL(target string) (string, bool) {
	u, err := url.Parse(target)
	if err != nil {
		return "", false
	}
	switch strings.ToLower(u.Scheme) {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", false
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = "/ws"
	}
	return u.String(), true
}

func newClient(target string, conn frameConn, codec server.Codec) *Client {
	c := &Client{
		target:  target,
		conn:    conn,
		codec:   codec,
		pending: make(map[string]chan server.Message),
		events:  make(chan server.Message, 64),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go c.readLoop()
	return c
}

// Target returns the address the client dialed.
func (c *Client) Target() string { return c.target }

func (c *Client) readLoop() {
	defer close(c.done)
	var readErr error
	for {
		frame, err := c.conn.ReadFrame()
		if err != nil {
			readErr = err
			break
		}
		msg, err := c.codec.Decode(frame)
		if err != nil {
			continue
		}
		if msg.Type == server.TypeResult && msg.ID != "" {
			c.mu.Lock()
			ch := c.pending[msg.ID]
			delete(c.pending, msg.ID)
			c.mu.Unlock()
			if ch != nil {
				ch <- msg
			}
			continue
		}
		c.deliver(msg)
	}

	c.mu.Lock()
	c.closed = true
	if c.err == nil {
		c.err = readErr
	}
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
	if !c.eventsClosed {
		c.eventsClosed = true
		close(c.events)
	}
	c.mu.Unlock()
}

// deliver hands a notification to Events once Watch or Hello enabled it.
// Until then notifications are discarded so an idle consumer never stalls
// replies.
func (c *Client) deliver(msg server.Message) {
	c.mu.Lock()
	on := c.eventsOn
	c.mu.Unlock()
	if !on {
		return
	}
	select {
	case c.events <- msg:
	case <-c.stop:
	}
}

// Events returns notifications pushed by the daemon. The channel closes with
// the connection.
func (c *Client) Events() <-chan server.Message {
	return c.events
}

func (c *Client) roundTrip(ctx context.Context, msg server.Message) (server.Message, error) {
	msg.ID = uuid.NewString()
	msg.Timestamp = time.Now()
	frame, err := c.codec.Encode(msg)
	if err != nil {
		return server.Message{}, fmt.Errorf("client: encode %s: %w", msg.Type, err)
	}

	ch := make(chan server.Message, 1)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return server.Message{}, ErrClosed
	}
	c.pending[msg.ID] = ch
	c.mu.Unlock()

	if err := c.conn.WriteFrame(frame); err != nil {
		c.forget(msg.ID)
		return server.Message{}, fmt.Errorf("client: send %s: %w", msg.Type, err)
	}

	select {
	case reply, ok := <-ch:
		if !ok {
			return server.Message{}, ErrClosed
		}
		if reply.Error != "" {
			return reply, &RemoteError{Method: msg.Method, Message: reply.Error}
		}
		return reply, nil
	case <-ctx.Done():
		c.forget(msg.ID)
		return server.Message{}, ctx.Err()
	}
}

func (c *Client) forget(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// Call invokes a bridge method and returns its decoded result.
func (c *Client) Call(ctx context.Context, method string, params ...any) (any, error) {
	reply, err := c.roundTrip(ctx, server.Message{Type: server.TypeCall, Method: method, Params: params})
	if err != nil {
		return nil, err
	}
	return reply.Data, nil
}

// CallInto invokes a bridge method and decodes its result into out.
func (c *Client) CallInto(ctx context.Context, out any, method string, params ...any) error {
	data, err := c.Call(ctx, method, params...)
	if err != nil {
		return err
	}
	return server.DecodeData(data, out)
}

// Hello makes this connection the editor's host.
func (c *Client) Hello(ctx context.Context, h server.Hello) (server.HelloReply, error) {
	c.enableEvents()
	var out server.HelloReply
	reply, err := c.roundTrip(ctx, server.Message{Type: server.TypeHello, Data: h})
	if err != nil {
		return out, err
	}
	err = server.DecodeData(reply.Data, &out)
	return out, err
}

// Watch subscribes to editor events without taking over as host. The
// reply carries the same daemon details as Hello.
func (c *Client) Watch(ctx context.Context) (server.HelloReply, error) {
	c.enableEvents()
	var out server.HelloReply
	reply, err := c.roundTrip(ctx, server.Message{Type: server.TypeWatch})
	if err != nil {
		return out, err
	}
	err = server.DecodeData(reply.Data, &out)
	return out, err
}

// Resize reports a new host size and returns the applied layout decision.
func (c *Client) Resize(ctx context.Context, width, height int) (map[string]any, error) {
	reply, err := c.roundTrip(ctx, server.Message{Type: server.TypeResize, Data: server.Size{Width: width, Height: height}})
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := server.DecodeData(reply.Data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) enableEvents() {
	c.mu.Lock()
	c.eventsOn = true
	c.mu.Unlock()
}

// Close terminates the connection and waits for the reader to exit.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.err == nil {
		c.err = ErrClosed
	}
	c.mu.Unlock()
	c.closeOnce.Do(func() { close(c.stop) })
	err := c.conn.Close()
	<-c.done
	return err
}

// wsConn adapts a websocket to frame reads and writes.
type wsConn struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (w *wsConn) ReadFrame() ([]byte, error) {
	for {
		kind, data, err := w.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		if kind == websocket.TextMessage || kind == websocket.BinaryMessage {
			return data, nil
		}
	}
}

func (w *wsConn) WriteFrame(frame []byte) error {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	w.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return w.conn.WriteMessage(websocket.TextMessage, frame)
}

func (w *wsConn) Close() error {
	w.writeMu.Lock()
	_ = w.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(2*time.Second))
	w.writeMu.Unlock()
	return w.conn.Close()
}
