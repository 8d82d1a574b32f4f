// Package layout keeps every live editor sized to the host viewport.
package layout

import (
	"context"
	"fmt"
	"io"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/nupi-ai/edbridge/internal/editor"
	"github.com/nupi-ai/edbridge/internal/eventbus"
)

type tracked struct {
	target    Target
	container *editor.Container
}

// Synchronizer applies the host size to tracked targets. The size is
// queried on every pass and never cached.
type Synchronizer struct {
	source SizeSource
	logger *log.Logger
	bus    *eventbus.Bus

	mu      sync.Mutex
	targets map[string]tracked
	last    *Decision
	passes  int
}

// Option configures a Synchronizer.
type Option func(*Synchronizer)

// WithLogger sets the logger used for layout passes.
func WithLogger(logger *log.Logger) Option {
	return func(s *Synchronizer) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithEventBus publishes every decision on the editor.layout topic.
func WithEventBus(bus *eventbus.Bus) Option {
	return func(s *Synchronizer) {
		s.bus = bus
	}
}

// New creates a synchronizer reading sizes from source.
func New(source SizeSource, opts ...Option) *Synchronizer {
	s := &Synchronizer{
		source:  source,
		logger:  log.New(io.Discard, "", 0),
		targets: make(map[string]tracked),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Track adds a target. When container is non-nil its style is sized before
// the target is laid out. The returned func stops tracking.
func (s *Synchronizer) Track(id string, target Target, container *editor.Container) (untrack func()) {
	s.mu.Lock()
	s.targets[id] = tracked{target: target, container: container}
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		if cur, ok := s.targets[id]; ok && cur.target == target {
			delete(s.targets, id)
		}
		s.mu.Unlock()
	}
}

// Initial runs the construction-time pass.
func (s *Synchronizer) Initial() Decision {
	return s.Handle(Request{Trigger: TriggerInitial})
}

// Resize runs a window-resize pass.
func (s *Synchronizer) Resize() Decision {
	return s.Handle(Request{Trigger: TriggerResize})
}

// Handle queries the host size, unless req carries one, and applies it to
// every tracked target.
func (s *Synchronizer) Handle(req Request) Decision {
	if req.SentAt.IsZero() {
		req.SentAt = time.Now()
	}
	decision := Decision{Trigger: req.Trigger}

	width, height := 0, 0
	if req.Size != nil {
		width, height = req.Size.Width, req.Size.Height
	} else if s.source != nil {
		width, height = s.source.Width(), s.source.Height()
	} else {
		decision.Notes = append(decision.Notes, "no size source")
	}
	if width < 0 {
		decision.Notes = append(decision.Notes, fmt.Sprintf("width %d clamped to 0", width))
		width = 0
	}
	if height < 0 {
		decision.Notes = append(decision.Notes, fmt.Sprintf("height %d clamped to 0", height))
		height = 0
	}
	decision.Size = editor.Dimension{Width: width, Height: height}

	s.mu.Lock()
	ids := make([]string, 0, len(s.targets))
	for id := range s.targets {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	targets := make([]tracked, 0, len(ids))
	for _, id := range ids {
		targets = append(targets, s.targets[id])
	}
	s.mu.Unlock()

	for _, t := range targets {
		if t.container != nil {
			t.container.SetSize(width, height)
		}
		t.target.Layout(decision.Size)
	}
	decision.Targets = len(targets)
	decision.AppliedAt = time.Now()

	s.mu.Lock()
	d := decision
	s.last = &d
	s.passes++
	s.mu.Unlock()

	s.logger.Printf("[layout] %s pass applied %dx%d to %d target(s)", decision.Trigger, width, height, decision.Targets)
	eventbus.Publish(context.Background(), s.bus, eventbus.Editor.Layout, eventbus.SourceLayout, eventbus.LayoutEvent{
		Trigger: string(decision.Trigger),
		Width:   width,
		Height:  height,
		Targets: decision.Targets,
	})
	return decision
}

// Last returns the most recent decision.
func (s *Synchronizer) Last() (Decision, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return Decision{}, false
	}
	return *s.last, true
}

// Passes reports how many layout passes ran.
func (s *Synchronizer) Passes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.passes
}

// TargetCount reports how many targets are tracked.
func (s *Synchronizer) TargetCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.targets)
}
