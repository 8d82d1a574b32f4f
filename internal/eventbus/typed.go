package eventbus

import (
	"context"
	"sync"
	"time"
)

// TopicDef ties a topic name to the payload type published on it.
type TopicDef[T any] struct{ topic Topic }

func NewTopicDef[T any](topic Topic) TopicDef[T] { return TopicDef[T]{topic: topic} }

func (d TopicDef[T]) Topic() Topic { return d.topic }

// Publish sends payload on the topic described by td. Components built
// without a bus pass nil and the call does nothing.
func Publish[T any](ctx context.Context, bus *Bus, td TopicDef[T], source Source, payload T) {
	if bus == nil {
		return
	}
	bus.publish(ctx, Envelope{Topic: td.topic, Source: source, Payload: payload})
}

// TypedEnvelope is an Envelope whose payload has already been asserted to T.
type TypedEnvelope[T any] struct {
	Topic     Topic
	Timestamp time.Time
	Source    Source
	Seq       uint64
	Payload   T
}

// TypedSubscription narrows a raw Subscription to payloads of type T.
type TypedSubscription[T any] struct {
	raw  *Subscription
	out  chan TypedEnvelope[T]
	quit chan struct{}
	done chan struct{}
	once sync.Once
}

// SubscribeTo opens a typed subscription for td. Envelopes carrying another
// payload type are skipped. With a nil bus the channel is already closed.
func SubscribeTo[T any](bus *Bus, td TopicDef[T], opts ...SubscriptionOption) *TypedSubscription[T] {
	ts := &TypedSubscription[T]{
		out:  make(chan TypedEnvelope[T]),
		quit: make(chan struct{}),
		done: make(chan struct{}),
	}
	if bus == nil {
		close(ts.out)
		close(ts.done)
		return ts
	}
	ts.raw = bus.Subscribe(td.topic, opts...)
	go ts.run()
	return ts
}

func (ts *TypedSubscription[T]) C() <-chan TypedEnvelope[T] { return ts.out }

// Close detaches from the bus and waits for the forwarding goroutine.
// Repeated calls are no-ops.
func (ts *TypedSubscription[T]) Close() {
	ts.once.Do(func() {
		close(ts.quit)
		if ts.raw != nil {
			ts.raw.Close()
		}
		<-ts.done
	})
}

func (ts *TypedSubscription[T]) run() {
	defer close(ts.done)
	defer close(ts.out)
	for env := range ts.raw.C() {
		payload, ok := env.Payload.(T)
		if !ok {
			continue
		}
		select {
		case ts.out <- TypedEnvelope[T]{
			Topic:     env.Topic,
			Timestamp: env.Timestamp,
			Source:    env.Source,
			Seq:       env.Seq,
			Payload:   payload,
		}:
		case <-ts.quit:
			return
		}
	}
}

// Consume calls handler for each payload on sub until ctx ends or the
// subscription closes. It blocks; run it on its own goroutine.
func Consume[T any](ctx context.Context, sub *TypedSubscription[T], handler func(T)) {
	if sub == nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case env, ok := <-sub.C():
			if !ok {
				return
			}
			handler(env.Payload)
		}
	}
}
