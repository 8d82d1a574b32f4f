package eventbus

import "sync"

// Delivery selects what a subscription does when its channel is full.
type Delivery uint8

const (
	// KeepLatest evicts the oldest buffered envelope to make room.
	KeepLatest Delivery = iota
	// KeepEarliest discards the incoming envelope.
	KeepEarliest
	// Queue spills into a bounded backlog that is pumped into the channel in order.
	Queue
)

func (d Delivery) String() string {
	switch d {
	case KeepEarliest:
		return "keep-earliest"
	case Queue:
		return "queue"
	default:
		return "keep-latest"
	}
}

// TopicPolicy controls backpressure for one topic.
type TopicPolicy struct {
	Delivery Delivery
	// QueueLimit bounds the backlog of a Queue topic; 0 selects defaultQueueLimit.
	QueueLimit int
}

const defaultQueueLimit = 1024

// Remote hosts mirror the document from value changes, so those are queued.
// Markers and layout are superseded by the next event. Log lines keep the
// earliest so a flood does not hide its cause.
var topicPolicies = map[Topic]TopicPolicy{
	TopicEditorValueChanged:    {Delivery: Queue, QueueLimit: defaultQueueLimit},
	TopicEditorInitDone:        {Delivery: Queue, QueueLimit: 16},
	TopicEditorModel:           {Delivery: Queue, QueueLimit: 64},
	TopicEditorMarkers:         {Delivery: KeepLatest},
	TopicEditorLayout:          {Delivery: KeepLatest},
	TopicLangServiceRefresh:    {Delivery: KeepLatest},
	TopicEditorLog:             {Delivery: KeepEarliest},
	TopicLangServiceRegistered: {Delivery: KeepEarliest},
}

func lookupPolicy(topic Topic, overrides map[Topic]TopicPolicy) TopicPolicy {
	if p, ok := overrides[topic]; ok {
		return p
	}
	if p, ok := topicPolicies[topic]; ok {
		return p
	}
	return TopicPolicy{Delivery: KeepLatest}
}

// spillQueue holds envelopes a Queue subscription could not buffer yet.
// A single pump goroutine moves them into the subscription channel.
type spillQueue struct {
	mu      sync.Mutex
	pending []Envelope
	limit   int

	wake    chan struct{}
	stop    chan struct{}
	stopped chan struct{}
}

func newSpillQueue(limit int) *spillQueue {
	if limit <= 0 {
		limit = defaultQueueLimit
	}
	return &spillQueue{
		limit:   limit,
		wake:    make(chan struct{}, 1),
		stop:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
}

// add appends env and reports false when the backlog is at its limit.
func (q *spillQueue) add(env Envelope) bool {
	q.mu.Lock()
	if len(q.pending) >= q.limit {
		q.mu.Unlock()
		return false
	}
	q.pending = append(q.pending, env)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return true
}

// takeAll hands the whole backlog to the caller.
func (q *spillQueue) takeAll() []Envelope {
	q.mu.Lock()
	defer q.mu.Unlock()
	batch := q.pending
	q.pending = nil
	return batch
}

// requeue puts undelivered envelopes back at the head of the backlog.
func (q *spillQueue) requeue(rest []Envelope) {
	if len(rest) == 0 {
		return
	}
	q.mu.Lock()
	q.pending = append(rest, q.pending...)
	q.mu.Unlock()
}

func (q *spillQueue) size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

func (q *spillQueue) pump(out chan<- Envelope) {
	defer close(q.stopped)
	for {
		select {
		case <-q.stop:
			return
		case <-q.wake:
		}
		batch := q.takeAll()
		for i, env := range batch {
			select {
			case out <- env:
			case <-q.stop:
				q.requeue(batch[i:])
				return
			}
		}
		// add may have signalled while the batch was in flight.
		if q.size() > 0 {
			select {
			case q.wake <- struct{}{}:
			default:
			}
		}
	}
}

func (q *spillQueue) close() {
	close(q.stop)
	<-q.stopped
}
