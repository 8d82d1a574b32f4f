// Package hostcap defines the capability surface a host offers to the editor.
package hostcap

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/nupi-ai/edbridge/internal/constants"
)

// Severity is the level attached to a relayed log line.
type Severity string

const (
	SeverityLog   Severity = "log"
	SeverityInfo  Severity = "info"
	SeverityWarn  Severity = "warn"
	SeverityError Severity = "error"
)

// ParseSeverity maps a wire string to a Severity.
func ParseSeverity(raw string) (Severity, error) {
	switch s := Severity(strings.ToLower(strings.TrimSpace(raw))); s {
	case SeverityLog, SeverityInfo, SeverityWarn, SeverityError:
		return s, nil
	case "warning":
		return SeverityWarn, nil
	default:
		return "", fmt.Errorf("hostcap: unknown severity %q", raw)
	}
}

// Capabilities is what the editor may call on its host. Notifications are
// fire-and-forget; queries must answer promptly because they run on the
// editor loop.
type Capabilities interface {
	OnValueChanged(text string)
	OnInitDone()
	Log(severity Severity, message string) error
	InitialValue() string
	InitialLang() string
	Height() int
	Width() int
}

// Static answers queries from fixed values and ignores notifications.
type Static struct {
	Value    string
	Language string
	W, H     int
}

// Defaults returns the capabilities used when no host is attached.
func Defaults() Static {
	return Static{
		Language: constants.DefaultInitialLanguage,
		W:        constants.DefaultWidth,
		H:        constants.DefaultHeight,
	}
}

func (Static) OnValueChanged(string) {}
func (Static) OnInitDone() {}
func (Static) Log(Severity, string) error { return nil }
func (s Static) InitialValue() string { return s.Value }
func (s Static) InitialLang() string { return s.Language }
func (s Static) Height() int { return s.H }
func (s Static) Width() int { return s.W }

// Forwarder routes calls to whichever host is currently attached, falling
// back to Defaults when none is.
type Forwarder struct {
	current  atomic.Pointer[holder]
	fallback Capabilities
}

type holder struct {
	caps Capabilities
}

// NewForwarder creates a forwarder using fallback when detached. A nil
// fallback means Defaults.
func NewForwarder(fallback Capabilities) *Forwarder {
	if fallback == nil {
		fallback = Defaults()
	}
	return &Forwarder{fallback: fallback}
}

// Attach makes c the active host. The returned func detaches it, unless a
// different host was attached in the meantime.
func (f *Forwarder) Attach(c Capabilities) (detach func()) {
	h := &holder{caps: c}
	f.current.Store(h)
	return func() {
		f.current.CompareAndSwap(h, nil)
	}
}

// Attached reports whether a host is currently attached.
func (f *Forwarder) Attached() bool {
	return f.current.Load() != nil
}

func (f *Forwarder) target() Capabilities {
	if h := f.current.Load(); h != nil && h.caps != nil {
		return h.caps
	}
	return f.fallback
}

func (f *Forwarder) OnValueChanged(text string) { f.target().OnValueChanged(text) }
func (f *Forwarder) OnInitDone() { f.target().OnInitDone() }
func (f *Forwarder) Log(severity Severity, message string) error {
	return f.target().Log(severity, message)
}
func (f *Forwarder) InitialValue() string { return f.target().InitialValue() }
func (f *Forwarder) InitialLang() string { return f.target().InitialLang() }
func (f *Forwarder) Height() int { return f.target().Height() }
func (f *Forwarder) Width() int { return f.target().Width() }

// LogEntry is one line captured by Recorder.
type LogEntry struct {
	Severity Severity
	Message  string
}

// Recorder is an in-memory host used by tests and by the REPL. It is safe
// for concurrent use.
type Recorder struct {
	mu       sync.Mutex
	value    string
	lang     string
	width    int
	height   int
	changes  []string
	initDone int
	logs     []LogEntry
	logErr   error
	queries  int
}

// NewRecorder creates a recorder answering the given initial values.
func NewRecorder(value, lang string, width, height int) *Recorder {
	return &Recorder{value: value, lang: lang, width: width, height: height}
}

// SetSize changes the answers to Width and Height.
func (r *Recorder) SetSize(width, height int) {
	r.mu.Lock()
	r.width, r.height = width, height
	r.mu.Unlock()
}

// FailLogs makes Log return err from now on.
func (r *Recorder) FailLogs(err error) {
	r.mu.Lock()
	r.logErr = err
	r.mu.Unlock()
}

func (r *Recorder) OnValueChanged(text string) {
	r.mu.Lock()
	r.changes = append(r.changes, text)
	r.mu.Unlock()
}

func (r *Recorder) OnInitDone() {
	r.mu.Lock()
	r.initDone++
	r.mu.Unlock()
}

func (r *Recorder) Log(severity Severity, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.logErr != nil {
		return r.logErr
	}
	r.logs = append(r.logs, LogEntry{Severity: severity, Message: message})
	return nil
}

func (r *Recorder) InitialValue() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.value
}

func (r *Recorder) InitialLang() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lang
}

func (r *Recorder) Height() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.queries++
	return r.height
}

func (r *Recorder) Width() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.queries++
	return r.width
}

// ValueChanges returns a copy of every text passed to OnValueChanged.
func (r *Recorder) ValueChanges() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.changes...)
}

// InitDoneCount reports how many times OnInitDone was called.
func (r *Recorder) InitDoneCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.initDone
}

// Logs returns a copy of every successfully logged line.
func (r *Recorder) Logs() []LogEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]LogEntry(nil), r.logs...)
}

// SizeQueries counts Width and Height calls.
func (r *Recorder) SizeQueries() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.queries
}
