package eventbus

import (
	"context"
	"io"
	"log"
	"sync"
	"testing"
	"time"
)

func quietBus(opts ...BusOption) *Bus {
	return New(append([]BusOption{WithLogger(log.New(io.Discard, "", 0))}, opts...)...)
}

func TestPublishDeliversToSubscribers(t *testing.T) {
	bus := quietBus()
	defer bus.Shutdown()

	sub := bus.Subscribe(TopicEditorLayout)
	defer sub.Close()

	bus.Publish(context.Background(), Envelope{
		Topic:   TopicEditorLayout,
		Payload: LayoutEvent{Trigger: "resize", Width: 900, Height: 600},
	})

	select {
	case env := <-sub.C():
		ev, ok := env.Payload.(LayoutEvent)
		if !ok {
			t.Fatalf("unexpected payload %T", env.Payload)
		}
		if ev.Width != 900 || ev.Height != 600 {
			t.Fatalf("unexpected layout %+v", ev)
		}
		if env.Source != SourceUnknown {
			t.Fatalf("expected default source, got %q", env.Source)
		}
		if env.Timestamp.IsZero() {
			t.Fatal("expected timestamp to be set")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for envelope")
	}

	if m := bus.Metrics(); m.PublishTotal != 1 {
		t.Fatalf("PublishTotal = %d, want 1", m.PublishTotal)
	}
}

func TestDropNewestKeepsBufferedEvents(t *testing.T) {
	bus := quietBus()
	defer bus.Shutdown()

	sub := bus.Subscribe(TopicEditorLog, WithSubscriptionBuffer(1))
	defer sub.Close()

	ctx := context.Background()
	Publish(ctx, bus, Editor.Log, SourceConsole, LogEvent{Severity: "info", Message: "first"})
	Publish(ctx, bus, Editor.Log, SourceConsole, LogEvent{Severity: "info", Message: "second"})

	env := <-sub.C()
	if got := env.Payload.(LogEvent).Message; got != "first" {
		t.Fatalf("expected first message to survive, got %q", got)
	}
	if m := bus.Metrics(); m.DroppedTotal != 1 {
		t.Fatalf("DroppedTotal = %d, want 1", m.DroppedTotal)
	}
}

func TestDropOldestKeepsLatestEvent(t *testing.T) {
	bus := quietBus()
	defer bus.Shutdown()

	sub := bus.Subscribe(TopicEditorMarkers, WithSubscriptionBuffer(1))
	defer sub.Close()

	ctx := context.Background()
	Publish(ctx, bus, Editor.Markers, SourceLangService, MarkersEvent{URI: "a", Count: 1})
	Publish(ctx, bus, Editor.Markers, SourceLangService, MarkersEvent{URI: "a", Count: 2})

	env := <-sub.C()
	if got := env.Payload.(MarkersEvent).Count; got != 2 {
		t.Fatalf("expected latest markers, got count %d", got)
	}
}

func TestOverflowPreservesOrderUnderBurst(t *testing.T) {
	bus := quietBus()
	defer bus.Shutdown()

	sub := bus.Subscribe(TopicEditorValueChanged, WithSubscriptionBuffer(2))
	defer sub.Close()

	const total = 200
	ctx := context.Background()
	for i := 1; i <= total; i++ {
		Publish(ctx, bus, Editor.ValueChanged, SourceSession, ValueChangedEvent{Version: i})
	}

	for want := 1; want <= total; want++ {
		select {
		case env := <-sub.C():
			if got := env.Payload.(ValueChangedEvent).Version; got != want {
				t.Fatalf("version %d arrived at position %d", got, want)
			}
		case <-time.After(time.Second):
			t.Fatalf("timeout waiting for version %d", want)
		}
	}
	if m := bus.Metrics(); m.DroppedTotal != 0 {
		t.Fatalf("DroppedTotal = %d, want 0", m.DroppedTotal)
	}
}

type recordingObserver struct {
	mu     sync.Mutex
	topics []Topic
}

func (r *recordingObserver) OnPublish(env Envelope) {
	r.mu.Lock()
	r.topics = append(r.topics, env.Topic)
	r.mu.Unlock()
}

func TestObserverSeesEveryPublish(t *testing.T) {
	obs := &recordingObserver{}
	bus := quietBus(WithObserver(obs))
	defer bus.Shutdown()

	ctx := context.Background()
	Publish(ctx, bus, Editor.InitDone, SourceSession, InitDoneEvent{Mode: "single"})
	Publish(ctx, bus, LangService.Refresh, SourceLangService, RefreshEvent{LanguageID: "csharp"})

	obs.mu.Lock()
	defer obs.mu.Unlock()
	if len(obs.topics) != 2 || obs.topics[0] != TopicEditorInitDone || obs.topics[1] != TopicLangServiceRefresh {
		t.Fatalf("unexpected observed topics %v", obs.topics)
	}
}

func TestSubscriptionClosesWithContext(t *testing.T) {
	bus := quietBus()
	defer bus.Shutdown()

	ctx, cancel := context.WithCancel(context.Background())
	sub := bus.Subscribe(TopicEditorModel, WithContext(ctx))
	cancel()

	select {
	case _, ok := <-sub.C():
		if ok {
			t.Fatal("expected closed channel")
		}
	case <-time.After(time.Second):
		t.Fatal("subscription not closed after context cancel")
	}
	sub.Close()
}

func TestNilBusIsInert(t *testing.T) {
	var bus *Bus
	bus.Publish(context.Background(), Envelope{Topic: TopicEditorLog})
	Publish(context.Background(), bus, Editor.Log, SourceConsole, LogEvent{})
	bus.Shutdown()

	sub := bus.Subscribe(TopicEditorLog)
	if _, ok := <-sub.C(); ok {
		t.Fatal("expected closed channel from nil bus")
	}
	sub.Close()

	if m := bus.Metrics(); m != (Metrics{}) {
		t.Fatalf("unexpected metrics %+v", m)
	}
}

func TestSpillQueueLimitAndOrder(t *testing.T) {
	q := newSpillQueue(2)
	if !q.add(Envelope{Seq: 1}) || !q.add(Envelope{Seq: 2}) {
		t.Fatal("expected adds within the limit to succeed")
	}
	if q.add(Envelope{Seq: 3}) {
		t.Fatal("expected add beyond the limit to fail")
	}
	if q.size() != 2 {
		t.Fatalf("size = %d, want 2", q.size())
	}

	out := make(chan Envelope, 4)
	go q.pump(out)
	for want := uint64(1); want <= 2; want++ {
		select {
		case env := <-out:
			if env.Seq != want {
				t.Fatalf("Seq = %d, want %d", env.Seq, want)
			}
		case <-time.After(time.Second):
			t.Fatalf("pump did not deliver %d", want)
		}
	}
	q.close()
}

func TestQueuedTopicDropsWhenBacklogFull(t *testing.T) {
	bus := quietBus(WithTopicPolicy(TopicEditorModel, TopicPolicy{Delivery: Queue, QueueLimit: 1}))
	defer bus.Shutdown()

	sub := bus.Subscribe(TopicEditorModel, WithSubscriptionBuffer(1))
	defer sub.Close()

	ctx := context.Background()
	for i := 0; i < 50; i++ {
		Publish(ctx, bus, Editor.Model, SourceSession, ModelEvent{Reason: "create"})
	}
	if m := bus.Metrics(); m.DroppedTotal == 0 {
		t.Fatal("expected drops once the backlog is full")
	}
	if sub.Backlog() > 2 {
		t.Fatalf("Backlog() = %d, want at most 2", sub.Backlog())
	}
}

func TestSeqIncreasesPerPublish(t *testing.T) {
	bus := quietBus()
	defer bus.Shutdown()

	sub := bus.Subscribe(TopicEditorLayout)
	defer sub.Close()

	ctx := context.Background()
	Publish(ctx, bus, Editor.Layout, SourceLayout, LayoutEvent{Trigger: "initial"})
	Publish(ctx, bus, Editor.Layout, SourceLayout, LayoutEvent{Trigger: "resize"})

	first, second := <-sub.C(), <-sub.C()
	if first.Seq == 0 || second.Seq <= first.Seq {
		t.Fatalf("Seq = %d then %d", first.Seq, second.Seq)
	}
}
