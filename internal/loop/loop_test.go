package loop

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestLoopRunsTasksInOrder(t *testing.T) {
	l := New()
	l.Start()
	defer l.Stop()

	var (
		mu  sync.Mutex
		got []int
	)
	for i := 0; i < 100; i++ {
		i := i
		l.Post(func() {
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
		})
	}

	if err := l.Do(context.Background(), func() error { return nil }); err != nil {
		t.Fatalf("Do() error = %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 100 {
		t.Fatalf("ran %d tasks, want 100", len(got))
	}
	for i, v := range got {
		if v != i {
			t.Fatalf("task %d ran at position %d", v, i)
		}
	}
}

func TestLoopPostFromTaskDoesNotBlock(t *testing.T) {
	l := New()
	l.Start()
	defer l.Stop()

	done := make(chan struct{})
	l.Post(func() {
		l.Post(func() { close(done) })
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("nested post never ran")
	}
}

func TestLoopDoReturnsTaskError(t *testing.T) {
	l := New()
	l.Start()
	defer l.Stop()

	want := errors.New("boom")
	if err := l.Do(context.Background(), func() error { return want }); !errors.Is(err, want) {
		t.Fatalf("Do() error = %v, want %v", err, want)
	}
}

func TestLoopRecoversPanics(t *testing.T) {
	l := New()
	l.Start()
	defer l.Stop()

	err := l.Do(context.Background(), func() error { panic("bad task") })
	if err == nil {
		t.Fatal("expected error from panicking task")
	}

	if err := l.Do(context.Background(), func() error { return nil }); err != nil {
		t.Fatalf("loop unusable after panic: %v", err)
	}
	if _, panics := l.Stats(); panics != 1 {
		t.Fatalf("panics = %d, want 1", panics)
	}
}

func TestLoopStopRejectsNewTasks(t *testing.T) {
	l := New()
	l.Start()
	l.Stop()

	select {
	case <-l.Done():
	case <-time.After(time.Second):
		t.Fatal("loop did not exit after Stop")
	}

	if l.Post(func() {}) {
		t.Fatal("Post succeeded on stopped loop")
	}
	if err := l.Do(context.Background(), func() error { return nil }); !errors.Is(err, ErrStopped) {
		t.Fatalf("Do() error = %v, want ErrStopped", err)
	}
}

func TestLoopDoHonoursContext(t *testing.T) {
	l := New()
	l.Start()
	defer l.Stop()

	release := make(chan struct{})
	l.Post(func() { <-release })
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if err := l.Do(ctx, func() error { return nil }); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Do() error = %v, want deadline exceeded", err)
	}
}
