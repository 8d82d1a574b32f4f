// Package server carries host traffic to the bridge over websocket and
// framed IPC connections.
//
// A peer that sends hello becomes the editor's host: capability queries are
// answered from its hello and resize state and host notifications are
// queued to it. Peers that send watch receive editor events from the bus.
package server

import (
	"context"
	"errors"
	"io"
	"log"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nupi-ai/edbridge/internal/bridge"
	"github.com/nupi-ai/edbridge/internal/constants"
	"github.com/nupi-ai/edbridge/internal/eventbus"
	"github.com/nupi-ai/edbridge/internal/hostcap"
	"github.com/nupi-ai/edbridge/internal/version"
)

// Server fans host traffic into one bridge.
type Server struct {
	bridge *bridge.Bridge
	hosts  *hostcap.Forwarder
	bus    *eventbus.Bus
	logger *log.Logger

	originAllowed func(string) bool
	pingInterval  time.Duration
	callTimeout   time.Duration

	mu    sync.RWMutex
	peers map[string]*peer

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server logger.
func WithLogger(logger *log.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithEventBus enables event delivery to watching peers.
func WithEventBus(bus *eventbus.Bus) Option {
	return func(s *Server) {
		s.bus = bus
	}
}

// WithOriginCheck overrides which websocket origins are accepted.
func WithOriginCheck(fn func(origin string) bool) Option {
	return func(s *Server) {
		s.originAllowed = fn
	}
}

// WithPingInterval sets the keepalive period of every peer.
func WithPingInterval(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.pingInterval = d
		}
	}
}

// WithCallTimeout bounds each peer call.
func WithCallTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.callTimeout = d
		}
	}
}

// New creates a server. hosts is the forwarder the session was built with;
// a peer's hello attaches its remote host to it.
func New(b *bridge.Bridge, hosts *hostcap.Forwarder, opts ...Option) *Server {
	s := &Server{
		bridge:        b,
		hosts:         hosts,
		logger:        log.New(io.Discard, "", 0),
		originAllowed: AllowedOrigin(nil),
		pingInterval:  constants.WebSocketPingInterval,
		callTimeout:   constants.BridgeCallTimeout,
		peers:         make(map[string]*peer),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start forwards bus events to watching peers until ctx ends or Close.
func (s *Server) Start(ctx context.Context) {
	if s.bus == nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)

	forward(ctx, s, eventbus.Editor.ValueChanged, func(ev eventbus.ValueChangedEvent) Message {
		return Message{Type: TypeValueChanged, Data: ev.Text}
	})
	forward(ctx, s, eventbus.Editor.InitDone, func(ev eventbus.InitDoneEvent) Message {
		return Message{Type: TypeInitDone, Data: ev}
	})
	forward(ctx, s, eventbus.Editor.Log, func(ev eventbus.LogEvent) Message {
		return Message{Type: TypeLog, Data: LogLine{Severity: ev.Severity, Message: ev.Message}}
	})
	forward(ctx, s, eventbus.Editor.Markers, func(ev eventbus.MarkersEvent) Message {
		return Message{Type: TypeMarkers, Data: ev}
	})
	forward(ctx, s, eventbus.Editor.Layout, func(ev eventbus.LayoutEvent) Message {
		return Message{Type: TypeLayout, Data: ev}
	})
}

func forward[T any](ctx context.Context, s *Server, td eventbus.TopicDef[T], toMessage func(T) Message) {
	sub := eventbus.SubscribeTo(s.bus, td, eventbus.WithSubscriptionName("server_"+string(td.Topic())))
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer sub.Close()
		eventbus.Consume(ctx, sub, func(ev T) {
			s.broadcast(toMessage(ev))
		})
	}()
}

func (s *Server) broadcast(m Message) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.peers {
		if p.watching.Load() {
			p.send(m)
		}
	}
}

// PeerCount reports connected peers.
func (s *Server) PeerCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.peers)
}

// Close disconnects every peer and stops event delivery.
func (s *Server) Close() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()

	s.mu.RLock()
	peers := make([]*peer, 0, len(s.peers))
	for _, p := range s.peers {
		peers = append(peers, p)
	}
	s.mu.RUnlock()
	for _, p := range peers {
		p.conn.Close()
	}
}

func (s *Server) serve(kind string, conn transport, codec Codec) {
	ctx, cancel := context.WithCancel(context.Background())
	p := &peer{
		id:     uuid.NewString(),
		kind:   kind,
		server: s,
		codec:  codec,
		conn:   conn,
		out:    newOutbox(),
		ctx:    ctx,
		cancel: cancel,
	}
	s.mu.Lock()
	s.peers[p.id] = p
	s.mu.Unlock()
	s.logger.Printf("[server] %s peer %s connected", kind, p.id)

	p.run()
}

func (s *Server) unregister(p *peer) {
	s.mu.Lock()
	delete(s.peers, p.id)
	s.mu.Unlock()
	if p.detach != nil {
		p.detach()
	}
	s.logger.Printf("[server] %s peer %s disconnected", p.kind, p.id)
}

// handle runs on the peer's read loop. Calls run on their own goroutine so
// a slow backend never stalls the connection.
func (s *Server) handle(p *peer, msg Message) {
	switch msg.Type {
	case TypeHello:
		var hello Hello
		if err := DecodeData(msg.Data, &hello); err != nil {
			p.reply(msg.ID, nil, err)
			return
		}
		h := newRemoteHost(p, hello)
		if p.detach != nil {
			p.detach()
		}
		p.host.Store(h)
		p.detach = s.hosts.Attach(h)
		s.logger.Printf("[server] peer %s is now the host (%dx%d, %q)", p.id, hello.Width, hello.Height, hello.Language)
		p.reply(msg.ID, s.helloReply(p), nil)

	case TypeWatch:
		p.watching.Store(true)
		p.reply(msg.ID, s.helloReply(p), nil)

	case TypeCall:
		s.async(p, msg.ID, func(ctx context.Context) (any, error) {
			return s.bridge.Call(ctx, msg.Method, msg.Params...)
		})

	case TypeResize:
		var size Size
		if err := DecodeData(msg.Data, &size); err != nil {
			p.reply(msg.ID, nil, err)
			return
		}
		if h := p.host.Load(); h != nil {
			h.setSize(size.Width, size.Height)
		}
		s.async(p, msg.ID, func(ctx context.Context) (any, error) {
			return s.bridge.Resize(ctx)
		})

	default:
		p.send(Message{Type: TypeError, ID: msg.ID, Error: "unknown message type " + msg.Type})
	}
}

func (s *Server) helloReply(p *peer) HelloReply {
	return HelloReply{Peer: p.id, Version: version.String(), Methods: bridge.MethodNames()}
}

func (s *Server) async(p *peer, id string, fn func(ctx context.Context) (any, error)) {
	p.calls.Add(1)
	go func() {
		defer p.calls.Done()
		ctx, cancel := context.WithTimeout(p.ctx, s.callTimeout)
		defer cancel()
		v, err := fn(ctx)
		p.reply(id, v, err)
	}()
}

func isClosedError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	return strings.Contains(err.Error(), "use of closed network connection")
}
