// Package loop provides the single logical thread the editor runs on.
//
// Every editor, model, provider registration and script runtime object is
// owned by one Loop and must only be touched from tasks running on it. Work
// that crosses the host boundary or calls an external language service runs
// on its own goroutine and re-enters the loop through Post.
package loop

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
)

// ErrStopped is returned when a task is submitted to a stopped loop.
var ErrStopped = errors.New("loop: stopped")

// Poster schedules a task for a later turn of the loop.
type Poster interface {
	Post(task func()) bool
}

// Loop runs tasks FIFO on a single goroutine.
type Loop struct {
	logger *log.Logger

	mu      sync.Mutex
	queue   []func()
	stopped bool

	notify  chan struct{}
	done    chan struct{}
	started atomic.Bool

	processed atomic.Uint64
	panics    atomic.Uint64
}

// Option configures a Loop.
type Option func(*Loop)

// WithLogger overrides the logger used for recovered task panics.
func WithLogger(logger *log.Logger) Option {
	return func(l *Loop) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// New constructs an idle loop. Call Run or Start to begin processing.
func New(opts ...Option) *Loop {
	l := &Loop{
		logger: log.Default(),
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Start runs the loop on a new goroutine.
func (l *Loop) Start() {
	go l.Run(context.Background())
}

// Run processes tasks until ctx is cancelled or Stop is called.
// Tasks still queued when the loop stops are discarded.
func (l *Loop) Run(ctx context.Context) {
	if !l.started.CompareAndSwap(false, true) {
		return
	}
	defer close(l.done)

	for {
		for {
			task, ok := l.pop()
			if !ok {
				break
			}
			l.run(task)
		}

		select {
		case <-ctx.Done():
			l.Stop()
			return
		case <-l.notify:
		}

		if l.isStopped() {
			return
		}
	}
}

// Post enqueues a task. It never blocks and is safe to call from the loop
// itself. It returns false when the loop has been stopped.
func (l *Loop) Post(task func()) bool {
	if task == nil {
		return false
	}

	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return false
	}
	l.queue = append(l.queue, task)
	l.mu.Unlock()

	l.wake()
	return true
}

// Do runs task on the loop and waits for its result. It must not be called
// from a task already running on the loop.
func (l *Loop) Do(ctx context.Context, task func() error) error {
	result := make(chan error, 1)
	ok := l.Post(func() {
		var err error
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("loop: task panicked: %v", r)
				l.panics.Add(1)
			}
			result <- err
		}()
		err = task()
	})
	if !ok {
		return ErrStopped
	}

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-l.done:
		select {
		case err := <-result:
			return err
		default:
			return ErrStopped
		}
	}
}

// Stop prevents new tasks from being queued and wakes the loop so it exits.
func (l *Loop) Stop() {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return
	}
	l.stopped = true
	l.queue = nil
	l.mu.Unlock()

	l.wake()
}

// Done is closed when Run returns.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

// Stats reports how many tasks ran and how many of them panicked.
func (l *Loop) Stats() (processed, panics uint64) {
	return l.processed.Load(), l.panics.Load()
}

func (l *Loop) pop() (func(), bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.stopped || len(l.queue) == 0 {
		return nil, false
	}
	task := l.queue[0]
	l.queue[0] = nil
	l.queue = l.queue[1:]
	return task, true
}

func (l *Loop) isStopped() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stopped
}

func (l *Loop) wake() {
	select {
	case l.notify <- struct{}{}:
	default:
	}
}

func (l *Loop) run(task func()) {
	defer func() {
		if r := recover(); r != nil {
			l.panics.Add(1)
			l.logger.Printf("[loop] recovered task panic: %v", r)
		}
	}()
	l.processed.Add(1)
	task()
}
