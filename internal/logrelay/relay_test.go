package logrelay

import (
	"bytes"
	"errors"
	"io"
	"log"
	"strings"
	"sync"
	"testing"

	"github.com/nupi-ai/edbridge/internal/hostcap"
)

type nativeRecorder struct {
	mu    sync.Mutex
	lines []string
}

func (n *nativeRecorder) add(prefix, msg string) {
	n.mu.Lock()
	n.lines = append(n.lines, prefix+":"+msg)
	n.mu.Unlock()
}

func (n *nativeRecorder) Log(m string)   { n.add("log", m) }
func (n *nativeRecorder) Info(m string)  { n.add("info", m) }
func (n *nativeRecorder) Warn(m string)  { n.add("warn", m) }
func (n *nativeRecorder) Error(m string) { n.add("error", m) }

type panicSink struct{}

func (panicSink) Log(hostcap.Severity, string) error { panic("host gone") }

type binderFunc func(Console) error

func (f binderFunc) BindConsole(c Console) error { return f(c) }

func discard() *log.Logger { return log.New(io.Discard, "", 0) }

func TestRelayForwardsEverySeverity(t *testing.T) {
	nat := &nativeRecorder{}
	host := hostcap.NewRecorder("", "", 0, 0)
	r := New(nat, host, WithLogger(discard()))

	r.Log("a")
	r.Info("b")
	r.Warn("c")
	r.Error("d")

	want := []string{"log:a", "info:b", "warn:c", "error:d"}
	if strings.Join(nat.lines, ",") != strings.Join(want, ",") {
		t.Fatalf("native lines = %v, want %v", nat.lines, want)
	}

	logs := host.Logs()
	if len(logs) != 4 {
		t.Fatalf("expected 4 forwarded lines, got %d", len(logs))
	}
	sevs := []hostcap.Severity{hostcap.SeverityLog, hostcap.SeverityInfo, hostcap.SeverityWarn, hostcap.SeverityError}
	for i, entry := range logs {
		if entry.Severity != sevs[i] {
			t.Fatalf("entry %d severity = %q, want %q", i, entry.Severity, sevs[i])
		}
	}
}

func TestRelaySwallowsSinkErrors(t *testing.T) {
	nat := &nativeRecorder{}
	host := hostcap.NewRecorder("", "", 0, 0)
	host.FailLogs(errors.New("bridge closed"))
	r := New(nat, host, WithLogger(discard()))

	r.Warn("still native")

	if len(nat.lines) != 1 {
		t.Fatalf("native logging lost: %v", nat.lines)
	}
	if _, dropped := r.Stats(); dropped != 1 {
		t.Fatalf("dropped = %d, want 1", dropped)
	}
}

func TestRelaySwallowsSinkPanics(t *testing.T) {
	nat := &nativeRecorder{}
	r := New(nat, panicSink{}, WithLogger(discard()))

	r.Error("boom")

	if len(nat.lines) != 1 {
		t.Fatalf("native logging lost: %v", nat.lines)
	}
	if _, dropped := r.Stats(); dropped != 1 {
		t.Fatalf("dropped = %d, want 1", dropped)
	}
}

func TestInstallOnlyOnce(t *testing.T) {
	r := New(nil, nil)
	calls := 0
	b := binderFunc(func(Console) error {
		calls++
		return nil
	})

	for i := 0; i < 3; i++ {
		if err := r.Install(b); err != nil {
			t.Fatalf("Install() error = %v", err)
		}
	}
	if calls != 1 {
		t.Fatalf("BindConsole called %d times, want 1", calls)
	}
	if !r.Installed() {
		t.Fatal("expected relay to be installed")
	}
}

func TestInstallRetriesAfterFailure(t *testing.T) {
	r := New(nil, nil)
	fail := true
	b := binderFunc(func(Console) error {
		if fail {
			return errors.New("runtime not ready")
		}
		return nil
	})

	if err := r.Install(b); err == nil {
		t.Fatal("expected install error")
	}
	fail = false
	if err := r.Install(b); err != nil {
		t.Fatalf("Install() error = %v", err)
	}
}

func TestNativeWritesTaggedLines(t *testing.T) {
	var buf bytes.Buffer
	n := NewNative(log.New(&buf, "", 0), false)
	n.Warn("careful")
	if got := buf.String(); got != "[console:warn] careful\n" {
		t.Fatalf("native output = %q", got)
	}
}
