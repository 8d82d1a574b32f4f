package scripting

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nupi-ai/edbridge/internal/bridge"
	"github.com/nupi-ai/edbridge/internal/editor"
	"github.com/nupi-ai/edbridge/internal/eventbus"
	"github.com/nupi-ai/edbridge/internal/hostcap"
	"github.com/nupi-ai/edbridge/internal/langservice"
	"github.com/nupi-ai/edbridge/internal/logrelay"
	"github.com/nupi-ai/edbridge/internal/loop"
	"github.com/nupi-ai/edbridge/internal/session"
)

type fixture struct {
	t    *testing.T
	loop *loop.Loop
	host *hostcap.Recorder
	rt   *Runtime
}

func newFixture(t *testing.T, backend langservice.Backend) *fixture {
	t.Helper()
	l := loop.New()
	l.Start()
	bus := eventbus.New()
	host := hostcap.NewRecorder("seed", "csharp", 700, 500)

	sess, err := session.New(session.Options{Host: host, Poster: l, Backend: backend, Bus: bus, RequestTimeout: time.Second})
	if err != nil {
		t.Fatalf("session.New() error = %v", err)
	}
	b := bridge.New(l, sess)
	rt, err := New(b, host, WithEventBus(bus), WithTimeout(time.Second))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	relay := logrelay.New(nil, host)
	if err := relay.Install(rt); err != nil {
		t.Fatalf("Install() error = %v", err)
	}
	rt.Start(context.Background())

	t.Cleanup(func() {
		rt.Stop()
		_ = b.Close(context.Background())
		l.Stop()
		bus.Shutdown()
	})
	return &fixture{t: t, loop: l, host: host, rt: rt}
}

// eval runs src on the loop.
func (f *fixture) eval(src string) (any, error) {
	f.t.Helper()
	var (
		out  any
		eerr error
	)
	if err := f.loop.Do(context.Background(), func() error {
		out, eerr = f.rt.Eval("test.js", src)
		return nil
	}); err != nil {
		f.t.Fatalf("loop.Do() error = %v", err)
	}
	return out, eerr
}

func (f *fixture) mustEval(src string) any {
	f.t.Helper()
	v, err := f.eval(src)
	if err != nil {
		f.t.Fatalf("eval(%q) error = %v", src, err)
	}
	return v
}

func TestGlobalsDriveTheEditor(t *testing.T) {
	f := newFixture(t, nil)

	got := f.mustEval(`createSingle("", "plaintext", 700, 500); editorSetValue("hello"); editorGetValue()`)
	if got != "hello" {
		t.Fatalf("editorGetValue() = %v, want hello", got)
	}
	if changes := f.host.ValueChanges(); len(changes) != 1 || changes[0] != "hello" {
		t.Fatalf("value changes = %q", changes)
	}
	if n := f.host.InitDoneCount(); n != 1 {
		t.Fatalf("OnInitDone calls = %d, want 1", n)
	}

	layout := f.mustEval(`JSON.stringify(getLayout())`)
	if layout != `{"width":700,"height":500}` {
		t.Fatalf("getLayout() = %v", layout)
	}
}

func TestInitUsesHostValues(t *testing.T) {
	f := newFixture(t, nil)
	f.mustEval(`init()`)

	got := f.mustEval(`editorGetValue() + "|" + external.InitialLang() + "|" + external.Width()`)
	if got != "seed|csharp|700" {
		t.Fatalf("got %v", got)
	}
}

func TestNotReadyThrows(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.eval(`editorGetValue()`)
	if err == nil || !strings.Contains(err.Error(), "not ready") {
		t.Fatalf("eval error = %v, want not ready", err)
	}
	got := f.mustEval(`try { editorSetValue("x"); "no" } catch (e) { "caught" }`)
	if got != "caught" {
		t.Fatalf("got %v, want caught", got)
	}
	if langs := f.mustEval(`typeof editorGetLanguages()`); langs != "string" {
		t.Fatalf("editorGetLanguages() type = %v, want string", langs)
	}
}

func TestExternalForwardsToHost(t *testing.T) {
	f := newFixture(t, nil)

	f.mustEval(`external.OnInitDone(); external.OnValueChanged("v"); external.Log("warning", "careful")`)
	if n := f.host.InitDoneCount(); n != 1 {
		t.Fatalf("OnInitDone calls = %d", n)
	}
	if changes := f.host.ValueChanges(); len(changes) != 1 || changes[0] != "v" {
		t.Fatalf("value changes = %q", changes)
	}
	logs := f.host.Logs()
	if len(logs) != 1 || logs[0].Severity != hostcap.SeverityWarn || logs[0].Message != "careful" {
		t.Fatalf("logs = %+v", logs)
	}
	if _, err := f.eval(`external.Log("loud", "x")`); err == nil {
		t.Fatalf("unknown severity accepted")
	}
}

func TestConsoleIsRelayed(t *testing.T) {
	f := newFixture(t, nil)
	f.mustEval(`console.warn("count", 2, {a: 1}); console.error("boom")`)

	logs := f.host.Logs()
	if len(logs) != 2 {
		t.Fatalf("logs = %+v, want 2", logs)
	}
	if logs[0].Severity != hostcap.SeverityWarn || logs[0].Message != `count 2 {"a":1}` {
		t.Fatalf("first log = %+v", logs[0])
	}
	if logs[1].Severity != hostcap.SeverityError || logs[1].Message != "boom" {
		t.Fatalf("second log = %+v", logs[1])
	}
}

func TestInvokeAwaitsPromises(t *testing.T) {
	f := newFixture(t, langservice.BackendFuncs{
		CompleteFunc: func(ctx context.Context, req langservice.Request) (editor.CompletionList, error) {
			return editor.CompletionList{Suggestions: []editor.CompletionItem{{Label: "Console:" + req.ContextID}}}, nil
		},
	})
	f.mustEval(`
		createSingle("Con", "csharp", 700, 500);
		registerCSharpsServices("ctx-9");
		function firstLabel(line, column) {
			return provideCompletion(line, column).then(function (list) { return list.suggestions[0].label; });
		}
		function plain(a, b) { return a + b; }
	`)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	got, err := f.rt.Invoke(ctx, "firstLabel", 1, 4)
	if err != nil || got != "Console:ctx-9" {
		t.Fatalf("Invoke(firstLabel) = %v, %v", got, err)
	}
	sum, err := f.rt.Invoke(ctx, "plain", 2, 3)
	if err != nil || sum != int64(5) {
		t.Fatalf("Invoke(plain) = %v (%T), %v", sum, sum, err)
	}
	if _, err := f.rt.Invoke(ctx, "missing"); !errors.Is(err, ErrNoFunction) {
		t.Fatalf("Invoke(missing) error = %v, want ErrNoFunction", err)
	}
}

func TestRejectedPromiseSurfaces(t *testing.T) {
	f := newFixture(t, nil)
	f.mustEval(`function fail() { return Promise.reject(new Error("nope")); }`)

	_, err := f.rt.Invoke(context.Background(), "fail")
	if !errors.Is(err, ErrRejected) || !strings.Contains(err.Error(), "nope") {
		t.Fatalf("Invoke(fail) error = %v, want rejection", err)
	}
}

func TestEditorScriptHooks(t *testing.T) {
	f := newFixture(t, nil)
	dir := t.TempDir()
	src := `
		var seen = [];
		module.exports = {
			name: "recorder",
			onInit: function () { console.log("script saw init"); },
			onValueChanged: function (text) { seen.push(text); globalThis.lastSeen = seen.join(","); }
		};
	`
	if err := os.WriteFile(filepath.Join(dir, "recorder.js"), []byte(src), 0o644); err != nil {
		t.Fatalf("write script: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644); err != nil {
		t.Fatalf("write note: %v", err)
	}

	var scripts []*Script
	if err := f.loop.Do(context.Background(), func() error {
		var err error
		scripts, err = f.rt.LoadDir(dir)
		return err
	}); err != nil {
		t.Fatalf("LoadDir() error = %v", err)
	}
	if len(scripts) != 1 || scripts[0].Name != "recorder" {
		t.Fatalf("scripts = %+v", scripts)
	}
	if onInit, onChange := scripts[0].HasHooks(); !onInit || !onChange {
		t.Fatalf("hooks = %v/%v", onInit, onChange)
	}

	f.mustEval(`createSingle("", "plaintext", 700, 500); editorSetValue("a"); editorSetValue("b")`)

	sawInit := func() bool {
		for _, entry := range f.host.Logs() {
			if entry.Message == "script saw init" {
				return true
			}
		}
		return false
	}
	deadline := time.Now().Add(2 * time.Second)
	for {
		got := f.mustEval(`typeof lastSeen === "undefined" ? "" : lastSeen`)
		if got == "a,b" && sawInit() {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("lastSeen = %v, init hook ran = %v", got, sawInit())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestLoadScriptRejectsBadHooks(t *testing.T) {
	f := newFixture(t, nil)
	path := filepath.Join(t.TempDir(), "bad.js")
	if err := os.WriteFile(path, []byte(`module.exports = { onInit: 42 };`), 0o644); err != nil {
		t.Fatalf("write script: %v", err)
	}
	err := f.loop.Do(context.Background(), func() error {
		_, err := f.rt.LoadScript(path)
		return err
	})
	if err == nil || !strings.Contains(err.Error(), "onInit must be a function") {
		t.Fatalf("LoadScript() error = %v", err)
	}
}
