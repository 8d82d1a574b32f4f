package eventbus

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"
)

// Observer sees every envelope before it is routed. Implementations must not block.
type Observer interface {
	OnPublish(env Envelope)
}

// Metrics is a point-in-time snapshot of bus counters.
type Metrics struct {
	PublishTotal uint64
	DroppedTotal uint64
}

// defaultBuffers sizes subscription channels per topic.
var defaultBuffers = map[Topic]int{
	TopicEditorValueChanged:    1024,
	TopicEditorInitDone:        8,
	TopicEditorLog:             256,
	TopicEditorMarkers:         256,
	TopicEditorLayout:          64,
	TopicEditorModel:           64,
	TopicLangServiceRegistered: 64,
	TopicLangServiceRefresh:    256,
}

// Bus routes envelopes from editor components to in-process subscribers.
// Routing tables are copied on write so publishers never wait for
// subscribe or close.
type Bus struct {
	logger    *log.Logger
	buffers   map[Topic]int
	policies  map[Topic]TopicPolicy
	observers []Observer

	mu     sync.Mutex
	routes atomic.Pointer[map[Topic][]*Subscription]
	nextID uint64

	seq       atomic.Uint64
	published atomic.Uint64
	dropped   atomic.Uint64
}

// BusOption customises bus behaviour.
type BusOption func(*Bus)

func New(opts ...BusOption) *Bus {
	b := &Bus{
		logger:   log.Default(),
		buffers:  make(map[Topic]int, len(defaultBuffers)),
		policies: make(map[Topic]TopicPolicy),
	}
	for topic, size := range defaultBuffers {
		b.buffers[topic] = size
	}
	empty := make(map[Topic][]*Subscription)
	b.routes.Store(&empty)

	for _, opt := range opts {
		opt(b)
	}
	return b
}

// WithLogger sets the logger used for drop warnings.
func WithLogger(logger *log.Logger) BusOption {
	return func(b *Bus) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithTopicBuffer sets the channel size for new subscriptions on topic.
func WithTopicBuffer(topic Topic, size int) BusOption {
	return func(b *Bus) {
		b.buffers[topic] = max(size, 1)
	}
}

func WithTopicPolicy(topic Topic, policy TopicPolicy) BusOption {
	return func(b *Bus) {
		b.policies[topic] = policy
	}
}

func WithObserver(observer Observer) BusOption {
	return func(b *Bus) {
		if observer != nil {
			b.observers = append(b.observers, observer)
		}
	}
}

// Publish routes an untyped envelope. Most callers use the typed Publish.
func (b *Bus) Publish(ctx context.Context, env Envelope) {
	if b == nil {
		return
	}
	b.publish(ctx, env)
}

func (b *Bus) Metrics() Metrics {
	if b == nil {
		return Metrics{}
	}
	return Metrics{
		PublishTotal: b.published.Load(),
		DroppedTotal: b.dropped.Load(),
	}
}

func (b *Bus) publish(ctx context.Context, env Envelope) {
	if env.Topic == "" {
		return
	}
	if env.Timestamp.IsZero() {
		env.Timestamp = time.Now().UTC()
	}
	if env.Source == "" {
		env.Source = SourceUnknown
	}
	env.Seq = b.seq.Add(1)
	b.published.Add(1)

	for _, obs := range b.observers {
		obs.OnPublish(env)
	}
	if ctx.Err() != nil {
		return
	}
	for _, sub := range (*b.routes.Load())[env.Topic] {
		sub.offer(env)
	}
}

// Subscribe attaches a new consumer to topic. On a nil bus the channel is
// already closed.
func (b *Bus) Subscribe(topic Topic, opts ...SubscriptionOption) *Subscription {
	if b == nil {
		sub := &Subscription{topic: topic, ch: make(chan Envelope), closed: true}
		close(sub.ch)
		return sub
	}

	cfg := subscriptionConfig{bufferSize: max(b.buffers[topic], 1)}
	for _, opt := range opts {
		opt(&cfg)
	}

	sub := &Subscription{
		topic:  topic,
		name:   cfg.name,
		ch:     make(chan Envelope, cfg.bufferSize),
		bus:    b,
		policy: lookupPolicy(topic, b.policies),
	}
	if sub.policy.Delivery == Queue {
		sub.spill = newSpillQueue(sub.policy.QueueLimit)
		go sub.spill.pump(sub.ch)
	}

	b.mu.Lock()
	b.nextID++
	sub.id = b.nextID
	b.updateRoutes(func(routes map[Topic][]*Subscription) {
		routes[topic] = append(routes[topic], sub)
	})
	b.mu.Unlock()

	if cfg.ctx != nil {
		go func() {
			<-cfg.ctx.Done()
			sub.Close()
		}()
	}
	return sub
}

// Shutdown closes every subscription.
func (b *Bus) Shutdown() {
	if b == nil {
		return
	}
	b.mu.Lock()
	old := *b.routes.Load()
	empty := make(map[Topic][]*Subscription)
	b.routes.Store(&empty)
	b.mu.Unlock()

	for _, subs := range old {
		for _, sub := range subs {
			sub.shut()
		}
	}
}

// updateRoutes applies fn to a copy of the routing table. Callers hold b.mu.
func (b *Bus) updateRoutes(fn func(map[Topic][]*Subscription)) {
	cur := *b.routes.Load()
	next := make(map[Topic][]*Subscription, len(cur)+1)
	for topic, subs := range cur {
		next[topic] = append([]*Subscription(nil), subs...)
	}
	fn(next)
	b.routes.Store(&next)
}

func (b *Bus) detach(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.updateRoutes(func(routes map[Topic][]*Subscription) {
		subs := routes[sub.topic]
		for i, s := range subs {
			if s.id == sub.id {
				routes[sub.topic] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
		if len(routes[sub.topic]) == 0 {
			delete(routes, sub.topic)
		}
	})
}

// SubscriptionOption customises individual subscriptions.
type SubscriptionOption func(*subscriptionConfig)

type subscriptionConfig struct {
	bufferSize int
	name       string
	ctx        context.Context
}

func WithSubscriptionBuffer(size int) SubscriptionOption {
	return func(cfg *subscriptionConfig) {
		if size > 0 {
			cfg.bufferSize = size
		}
	}
}

// WithSubscriptionName labels the subscription in drop warnings.
func WithSubscriptionName(name string) SubscriptionOption {
	return func(cfg *subscriptionConfig) {
		cfg.name = name
	}
}

// WithContext closes the subscription once ctx is done.
func WithContext(ctx context.Context) SubscriptionOption {
	return func(cfg *subscriptionConfig) {
		if ctx != nil {
			cfg.ctx = ctx
		}
	}
}

// Subscription is one consumer of a topic.
type Subscription struct {
	topic  Topic
	id     uint64
	name   string
	bus    *Bus
	policy TopicPolicy
	spill  *spillQueue

	// mu orders offers against closing ch.
	mu     sync.Mutex
	ch     chan Envelope
	closed bool
}

func (s *Subscription) C() <-chan Envelope { return s.ch }

func (s *Subscription) Topic() Topic { return s.topic }

// Backlog reports how many envelopes are waiting to be read.
func (s *Subscription) Backlog() int {
	n := len(s.ch)
	if s.spill != nil {
		n += s.spill.size()
	}
	return n
}

// Close detaches the subscription and closes its channel. Safe to call twice.
func (s *Subscription) Close() {
	if s.bus == nil {
		return
	}
	s.bus.detach(s)
	s.shut()
}

func (s *Subscription) shut() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	if s.spill != nil {
		s.spill.close()
	}
	close(s.ch)
}

func (s *Subscription) offer(env Envelope) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	// Queued topics stay FIFO only if every envelope goes through the backlog.
	if s.spill != nil {
		if !s.spill.add(env) {
			s.drop("backlog full")
		}
		return
	}

	select {
	case s.ch <- env:
		return
	default:
	}

	if s.policy.Delivery == KeepEarliest {
		s.drop(KeepEarliest.String())
		return
	}
	select {
	case <-s.ch:
		s.drop(KeepLatest.String())
	default:
	}
	select {
	case s.ch <- env:
	default:
		s.drop("channel full")
	}
}

func (s *Subscription) drop(reason string) {
	n := s.bus.dropped.Add(1)
	name := s.name
	if name == "" {
		name = "subscription"
	}
	s.bus.logger.Printf("[eventbus] dropped event #%d for %s on topic %s (%s)", n, name, s.topic, reason)
}
