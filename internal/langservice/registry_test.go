package langservice

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nupi-ai/edbridge/internal/editor"
	"github.com/nupi-ai/edbridge/internal/eventbus"
	"github.com/nupi-ai/edbridge/internal/loop"
)

type harness struct {
	t      *testing.T
	loop   *loop.Loop
	engine *editor.Engine
	reg    *Registry
	bus    *eventbus.Bus
}

func newHarness(t *testing.T, backend Backend) *harness {
	t.Helper()
	l := loop.New()
	l.Start()
	bus := eventbus.New()
	h := &harness{t: t, loop: l, engine: editor.NewEngine(), bus: bus}
	h.reg = NewRegistry(h.engine, backend, l, WithEventBus(bus), WithRequestTimeout(time.Second))
	t.Cleanup(func() {
		l.Stop()
		bus.Shutdown()
	})
	return h
}

func (h *harness) do(fn func()) {
	h.t.Helper()
	if err := h.loop.Do(context.Background(), func() error {
		fn()
		return nil
	}); err != nil {
		h.t.Fatalf("loop.Do() error = %v", err)
	}
}

func (h *harness) markers(owner string) []editor.Marker {
	var out []editor.Marker
	h.do(func() { out = h.engine.ModelMarkers(editor.MarkerFilter{Owner: owner}) })
	return out
}

func (h *harness) waitMarkers(owner string, want func([]editor.Marker) bool) []editor.Marker {
	h.t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		got := h.markers(owner)
		if want(got) {
			return got
		}
		if time.Now().After(deadline) {
			h.t.Fatalf("markers never satisfied condition, last = %+v", got)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func echoDiagnostics(ctx context.Context, req Request) ([]Diagnostic, error) {
	if req.Document.Text == "" {
		return nil, nil
	}
	return []Diagnostic{{
		Range:   editor.Range{StartLineNumber: 1, StartColumn: 1, EndLineNumber: 1, EndColumn: 2},
		Message: req.Document.Text,
	}}, nil
}

func TestRegisterIsIdempotentAndUpdatesContext(t *testing.T) {
	var (
		mu       sync.Mutex
		contexts []string
	)
	backend := BackendFuncs{
		CompleteFunc: func(ctx context.Context, req Request) (editor.CompletionList, error) {
			mu.Lock()
			contexts = append(contexts, req.ContextID)
			mu.Unlock()
			return editor.CompletionList{Suggestions: []editor.CompletionItem{{Label: "Console"}}}, nil
		},
		DiagnosticsFunc: echoDiagnostics,
	}
	h := newHarness(t, backend)

	var providers []editor.CompletionProvider
	var snap editor.Snapshot
	h.do(func() {
		m, _ := h.engine.CreateModel("class C {}", "csharp", "")
		h.reg.Bind(m)
		created, err := h.reg.Register("csharp", "ctx-1")
		if err != nil || !created {
			t.Fatalf("first Register() = %v, %v", created, err)
		}
		created, err = h.reg.Register("csharp", "ctx-2")
		if err != nil || created {
			t.Fatalf("second Register() = %v, %v", created, err)
		}
		info, _ := h.reg.Registration("csharp")
		if info.Completion != 1 || info.Hover != 1 || info.Formatting != 1 {
			t.Fatalf("provider counts = %+v", info)
		}
		if info.ContextID != "ctx-2" {
			t.Fatalf("context id = %q", info.ContextID)
		}
		if m.ListenerCount() != 1 {
			t.Fatalf("diagnostics listeners = %d, want 1", m.ListenerCount())
		}
		providers = h.engine.Providers().Completion("csharp")
		snap = m.Snapshot()
	})

	list, err := editor.CollectCompletions(context.Background(), providers, snap, editor.Position{LineNumber: 1, Column: 1})
	if err != nil {
		t.Fatalf("CollectCompletions() error = %v", err)
	}
	if len(list.Suggestions) != 1 {
		t.Fatalf("suggestions = %d, want 1", len(list.Suggestions))
	}
	mu.Lock()
	defer mu.Unlock()
	if len(contexts) != 1 || contexts[0] != "ctx-2" {
		t.Fatalf("backend contexts = %v", contexts)
	}
	if n := h.reg.CompletionCalls("csharp"); n != 1 {
		t.Fatalf("CompletionCalls = %d", n)
	}
}

func TestRegisterRefreshesImmediately(t *testing.T) {
	h := newHarness(t, BackendFuncs{DiagnosticsFunc: echoDiagnostics})
	h.do(func() {
		m, _ := h.engine.CreateModel("broken", "csharp", "")
		h.reg.Bind(m)
		if _, err := h.reg.Register("csharp", "ctx"); err != nil {
			t.Fatal(err)
		}
	})

	got := h.waitMarkers("csharp", func(m []editor.Marker) bool { return len(m) == 1 })
	if got[0].Severity != editor.SeverityError || got[0].Message != "broken" {
		t.Fatalf("marker = %+v", got[0])
	}
}

func TestDelayedDiagnosticsDoNotOverwriteNewerEdits(t *testing.T) {
	release := make(chan struct{})
	backend := BackendFuncs{DiagnosticsFunc: func(ctx context.Context, req Request) ([]Diagnostic, error) {
		if req.Document.Text == "edit-1" {
			<-release
		}
		return echoDiagnostics(ctx, req)
	}}
	h := newHarness(t, backend)
	stale := eventbus.SubscribeTo(h.bus, eventbus.LangService.Refresh)
	defer stale.Close()

	var model *editor.Model
	h.do(func() {
		model, _ = h.engine.CreateModel("", "csharp", "")
		h.reg.Bind(model)
		_, _ = h.reg.Register("csharp", "ctx")
		_ = model.SetValue("edit-1")
		_ = model.SetValue("edit-2")
		_ = model.SetValue("edit-3")
	})

	h.waitMarkers("csharp", func(m []editor.Marker) bool { return len(m) == 1 && m[0].Message == "edit-3" })
	close(release)

	deadline := time.After(2 * time.Second)
	for {
		select {
		case env := <-stale.C():
			// edit-1 is the model's second version.
			if env.Payload.Outcome != eventbus.RefreshStale || env.Payload.Version != 2 {
				continue
			}
			got := h.markers("csharp")
			if len(got) != 1 || got[0].Message != "edit-3" {
				t.Fatalf("stale response overwrote markers: %+v", got)
			}
			return
		case <-deadline:
			t.Fatal("delayed response never observed")
		}
	}
}

func TestLanguageMismatchLeavesModelUnbound(t *testing.T) {
	h := newHarness(t, BackendFuncs{DiagnosticsFunc: echoDiagnostics})
	var jsonModel *editor.Model
	h.do(func() {
		cs, _ := h.engine.CreateModel("bad", "csharp", "")
		h.reg.Bind(cs)
		_, _ = h.reg.Register("csharp", "ctx")
	})
	h.waitMarkers("csharp", func(m []editor.Marker) bool { return len(m) == 1 })

	h.do(func() {
		old := h.engine.Models()[0]
		jsonModel, _ = h.engine.CreateModel("{}", "json", "")
		h.reg.Bind(jsonModel)
		old.Dispose()
		_ = jsonModel.SetValue("{\"a\":1}")
		info, _ := h.reg.Registration("csharp")
		if info.Bound != "" {
			t.Fatalf("csharp registration bound to %q", info.Bound)
		}
	})
	if got := h.markers("csharp"); len(got) != 0 {
		t.Fatalf("csharp markers survived language switch: %+v", got)
	}
}

func TestBackendFailuresDegrade(t *testing.T) {
	fail := errors.New("service down")
	backend := BackendFuncs{
		CompleteFunc: func(context.Context, Request) (editor.CompletionList, error) { return editor.CompletionList{}, fail },
		HoverFunc:    func(context.Context, Request) (*editor.Hover, error) { return nil, fail },
		FormatFunc:   func(context.Context, Request) ([]editor.TextEdit, error) { return nil, fail },
		DiagnosticsFunc: func(ctx context.Context, req Request) ([]Diagnostic, error) {
			if req.Document.Text == "fail" {
				return nil, fail
			}
			return echoDiagnostics(ctx, req)
		},
	}
	h := newHarness(t, backend)

	var (
		model *editor.Model
		snap  editor.Snapshot
		comp  []editor.CompletionProvider
		hov   []editor.HoverProvider
		form  []editor.FormattingProvider
	)
	h.do(func() {
		model, _ = h.engine.CreateModel("x", "csharp", "")
		h.reg.Bind(model)
		_, _ = h.reg.Register("csharp", "ctx")
		snap = model.Snapshot()
		p := h.engine.Providers()
		comp, hov, form = p.Completion("csharp"), p.Hover("csharp"), p.Formatting("csharp")
	})

	ctx := context.Background()
	list, err := comp[0].ProvideCompletionItems(ctx, snap, editor.Position{LineNumber: 1, Column: 1})
	if err != nil || list.Suggestions == nil || len(list.Suggestions) != 0 {
		t.Fatalf("completion = %+v, %v", list, err)
	}
	if hv, err := hov[0].ProvideHover(ctx, snap, editor.Position{LineNumber: 1, Column: 1}); hv != nil || err != nil {
		t.Fatalf("hover = %+v, %v", hv, err)
	}
	if edits, err := form[0].ProvideDocumentFormattingEdits(ctx, snap, editor.DefaultFormattingOptions()); edits != nil || err != nil {
		t.Fatalf("format = %+v, %v", edits, err)
	}

	h.waitMarkers("csharp", func(m []editor.Marker) bool { return len(m) == 1 })
	h.do(func() { _ = model.SetValue("fail") })
	h.waitMarkers("csharp", func(m []editor.Marker) bool { return len(m) == 0 })
}

func TestRouter(t *testing.T) {
	csharp := BackendFuncs{DiagnosticsFunc: echoDiagnostics}
	r := NewRouter(nil)
	r.Handle("csharp", csharp)

	if _, err := r.Diagnostics(context.Background(), Request{LanguageID: "python"}); !errors.Is(err, ErrBackendUnavailable) {
		t.Fatalf("unrouted language error = %v", err)
	}
	diags, err := r.Diagnostics(context.Background(), Request{LanguageID: "csharp", Document: editor.Snapshot{Text: "x"}})
	if err != nil || len(diags) != 1 {
		t.Fatalf("routed diagnostics = %+v, %v", diags, err)
	}
	if _, err := r.Complete(context.Background(), Request{LanguageID: "csharp"}); !errors.Is(err, ErrNotSupported) {
		t.Fatalf("missing func error = %v", err)
	}

	withFallback := NewRouter(csharp)
	if _, err := withFallback.Route("anything"); err != nil {
		t.Fatalf("fallback route error = %v", err)
	}
	if got := r.Languages(); len(got) != 1 || got[0] != "csharp" {
		t.Fatalf("Languages() = %v", got)
	}
}

func TestPanickingBackendDegrades(t *testing.T) {
	backend := BackendFuncs{
		CompleteFunc: func(context.Context, Request) (editor.CompletionList, error) { panic("backend bug") },
		HoverFunc:    func(context.Context, Request) (*editor.Hover, error) { panic("backend bug") },
		FormatFunc:   func(context.Context, Request) ([]editor.TextEdit, error) { panic("backend bug") },
		DiagnosticsFunc: func(context.Context, Request) ([]Diagnostic, error) {
			panic("backend bug")
		},
	}
	h := newHarness(t, backend)
	refresh := eventbus.SubscribeTo(h.bus, eventbus.LangService.Refresh)
	defer refresh.Close()

	var snap editor.Snapshot
	h.do(func() {
		m, _ := h.engine.CreateModel("class C {}", "csharp", "")
		h.reg.Bind(m)
		if _, err := h.reg.Register("csharp", "ctx-1"); err != nil {
			t.Fatalf("Register() error = %v", err)
		}
		snap = m.Snapshot()
	})

	select {
	case env := <-refresh.C():
		if env.Payload.Outcome != eventbus.RefreshFailed {
			t.Fatalf("refresh outcome = %s, want failed", env.Payload.Outcome)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no refresh event after a panicking diagnostics call")
	}

	var (
		completion []editor.CompletionProvider
		hover      []editor.HoverProvider
		formatting []editor.FormattingProvider
	)
	h.do(func() {
		completion = h.engine.Providers().Completion("csharp")
		hover = h.engine.Providers().Hover("csharp")
		formatting = h.engine.Providers().Formatting("csharp")
	})
	pos := editor.Position{LineNumber: 1, Column: 1}
	ctx := context.Background()

	list, err := editor.CollectCompletions(ctx, completion, snap, pos)
	if err != nil || len(list.Suggestions) != 0 {
		t.Fatalf("CollectCompletions() = %+v, %v, want empty", list, err)
	}
	if hv, err := editor.CollectHover(ctx, hover, snap, pos); err != nil || hv != nil {
		t.Fatalf("CollectHover() = %+v, %v, want nil", hv, err)
	}
	if edits, err := editor.FirstFormatting(ctx, formatting, snap, editor.DefaultFormattingOptions()); err != nil || len(edits) != 0 {
		t.Fatalf("FirstFormatting() = %+v, %v, want none", edits, err)
	}
}

func TestGuardReportsPanic(t *testing.T) {
	_, err := guard("diagnostics", func() ([]Diagnostic, error) { panic("boom") })
	if !errors.Is(err, ErrBackendPanic) {
		t.Fatalf("guard() error = %v, want ErrBackendPanic", err)
	}
	got, err := guard("diagnostics", func() (int, error) { return 7, nil })
	if err != nil || got != 7 {
		t.Fatalf("guard() = %d, %v", got, err)
	}
}
