package server

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nupi-ai/edbridge/internal/hostcap"
)

// ErrPeerGone is returned when a message targets a disconnected peer.
var ErrPeerGone = errors.New("server: peer disconnected")

// transport moves encoded frames for one connection.
type transport interface {
	ReadFrame() ([]byte, error)
	WriteFrame([]byte) error
	Ping() error
	Close() error
}

// outbox is an unbounded FIFO of outbound messages. Nothing queued while
// the peer is connected is dropped.
type outbox struct {
	mu     sync.Mutex
	queue  []Message
	closed bool
	notify chan struct{}
}

func newOutbox() *outbox {
	return &outbox{notify: make(chan struct{}, 1)}
}

func (o *outbox) push(m Message) bool {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return false
	}
	o.queue = append(o.queue, m)
	o.mu.Unlock()

	select {
	case o.notify <- struct{}{}:
	default:
	}
	return true
}

func (o *outbox) drain() ([]Message, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := o.queue
	o.queue = nil
	return out, o.closed
}

func (o *outbox) close() {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()
	select {
	case o.notify <- struct{}{}:
	default:
	}
}

// peer is one connected client on any transport.
type peer struct {
	id     string
	kind   string
	server *Server
	codec  Codec
	conn   transport
	out    *outbox

	host     atomic.Pointer[remoteHost]
	detach   func()
	watching atomic.Bool
	gone     atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc
	calls  sync.WaitGroup
}

func (p *peer) send(m Message) bool {
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now()
	}
	return p.out.push(m)
}

func (p *peer) reply(id string, data any, err error) {
	m := Message{Type: TypeResult, ID: id, Data: data}
	if err != nil {
		m.Data = nil
		m.Error = err.Error()
	}
	p.send(m)
}

// run serves the peer until the connection ends.
func (p *peer) run() {
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		p.writePump()
	}()

	p.readPump()

	p.gone.Store(true)
	p.cancel()
	p.calls.Wait()
	p.out.close()
	<-writerDone
	p.conn.Close()
	p.server.unregister(p)
}

func (p *peer) readPump() {
	for {
		frame, err := p.conn.ReadFrame()
		if err != nil {
			if !isClosedError(err) {
				p.server.logger.Printf("[server] %s peer %s read: %v", p.kind, p.id, err)
			}
			return
		}
		msg, err := p.codec.Decode(frame)
		if err != nil {
			p.server.logger.Printf("[server] %s peer %s sent malformed %s frame: %v", p.kind, p.id, p.codec.Name(), err)
			p.send(Message{Type: TypeError, Error: fmt.Sprintf("malformed message: %v", err)})
			continue
		}
		p.server.handle(p, msg)
	}
}

func (p *peer) writePump() {
	ticker := time.NewTicker(p.server.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.out.notify:
			batch, closed := p.out.drain()
			for _, m := range batch {
				frame, err := p.codec.Encode(m)
				if err != nil {
					p.server.logger.Printf("[server] encode %s for %s: %v", m.Type, p.id, err)
					continue
				}
				if err := p.conn.WriteFrame(frame); err != nil {
					p.server.logger.Printf("[server] write to %s: %v", p.id, err)
					p.conn.Close()
					return
				}
			}
			if closed {
				return
			}
		case <-ticker.C:
			if err := p.conn.Ping(); err != nil {
				p.conn.Close()
				return
			}
		}
	}
}

// remoteHost answers capability queries from the peer's last hello and
// resize, and queues notifications to it.
type remoteHost struct {
	p *peer

	mu       sync.Mutex
	value    string
	language string
	width    int
	height   int
}

func newRemoteHost(p *peer, h Hello) *remoteHost {
	return &remoteHost{p: p, value: h.Value, language: h.Language, width: h.Width, height: h.Height}
}

func (h *remoteHost) setSize(width, height int) {
	h.mu.Lock()
	h.width, h.height = width, height
	h.mu.Unlock()
}

func (h *remoteHost) OnValueChanged(text string) {
	h.p.send(Message{Type: TypeValueChanged, Data: text})
}

func (h *remoteHost) OnInitDone() {
	h.p.send(Message{Type: TypeInitDone})
}

func (h *remoteHost) Log(severity hostcap.Severity, message string) error {
	if h.p.gone.Load() {
		return ErrPeerGone
	}
	if !h.p.send(Message{Type: TypeLog, Data: LogLine{Severity: string(severity), Message: message}}) {
		return ErrPeerGone
	}
	return nil
}

func (h *remoteHost) InitialValue() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.value
}

func (h *remoteHost) InitialLang() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.language
}

func (h *remoteHost) Height() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.height
}

func (h *remoteHost) Width() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.width
}
