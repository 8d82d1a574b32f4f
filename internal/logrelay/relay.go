// Package logrelay forwards script console output to the host log sink
// while keeping the native console behaviour.
package logrelay

import (
	"context"
	"fmt"
	"io"
	"log"
	"sync"
	"sync/atomic"

	"github.com/fatih/color"

	"github.com/nupi-ai/edbridge/internal/eventbus"
	"github.com/nupi-ai/edbridge/internal/hostcap"
)

// Console is the per-severity logging surface a script sees.
type Console interface {
	Log(message string)
	Info(message string)
	Warn(message string)
	Error(message string)
}

// Sink receives relayed lines. hostcap.Capabilities satisfies it.
type Sink interface {
	Log(severity hostcap.Severity, message string) error
}

// Binder accepts a console installation, typically a script runtime.
type Binder interface {
	BindConsole(console Console) error
}

// Relay implements Console by calling the native console and then the host sink.
type Relay struct {
	native Console
	sink   Sink
	logger *log.Logger
	bus    *eventbus.Bus

	installed atomic.Bool
	installMu sync.Mutex

	forwarded atomic.Uint64
	dropped   atomic.Uint64
}

// Option configures a Relay.
type Option func(*Relay)

// WithLogger sets the logger used to report sink failures.
func WithLogger(logger *log.Logger) Option {
	return func(r *Relay) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithEventBus mirrors every relayed line onto the editor.log topic.
func WithEventBus(bus *eventbus.Bus) Option {
	return func(r *Relay) {
		r.bus = bus
	}
}

// New wraps native. A nil native discards native output; a nil sink only
// logs natively.
func New(native Console, sink Sink, opts ...Option) *Relay {
	if native == nil {
		native = NewNative(log.New(io.Discard, "", 0), false)
	}
	r := &Relay{
		native: native,
		sink:   sink,
		logger: log.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Relay) Log(message string)   { r.Emit(hostcap.SeverityLog, message) }
func (r *Relay) Info(message string)  { r.Emit(hostcap.SeverityInfo, message) }
func (r *Relay) Warn(message string)  { r.Emit(hostcap.SeverityWarn, message) }
func (r *Relay) Error(message string) { r.Emit(hostcap.SeverityError, message) }

// Emit logs natively at severity, then forwards to the sink. It never panics
// and never returns an error.
func (r *Relay) Emit(severity hostcap.Severity, message string) {
	switch severity {
	case hostcap.SeverityInfo:
		r.native.Info(message)
	case hostcap.SeverityWarn:
		r.native.Warn(message)
	case hostcap.SeverityError:
		r.native.Error(message)
	default:
		severity = hostcap.SeverityLog
		r.native.Log(message)
	}

	eventbus.Publish(context.Background(), r.bus, eventbus.Editor.Log, eventbus.SourceConsole, eventbus.LogEvent{
		Severity: string(severity),
		Message:  message,
	})

	if r.sink == nil {
		return
	}
	if err := r.forward(severity, message); err != nil {
		n := r.dropped.Add(1)
		r.logger.Printf("[logrelay] host sink failed (%d dropped): %v", n, err)
		return
	}
	r.forwarded.Add(1)
}

func (r *Relay) forward(severity hostcap.Severity, message string) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("sink panic: %v", rec)
		}
	}()
	return r.sink.Log(severity, message)
}

// Install hands the relay to b. Only the first call has an effect.
func (r *Relay) Install(b Binder) error {
	if b == nil || r.installed.Load() {
		return nil
	}
	r.installMu.Lock()
	defer r.installMu.Unlock()
	if r.installed.Load() {
		return nil
	}
	if err := b.BindConsole(r); err != nil {
		return fmt.Errorf("logrelay: install: %w", err)
	}
	r.installed.Store(true)
	return nil
}

// Installed reports whether Install has succeeded.
func (r *Relay) Installed() bool {
	return r.installed.Load()
}

// Stats returns how many lines reached the sink and how many were dropped.
func (r *Relay) Stats() (forwarded, dropped uint64) {
	return r.forwarded.Load(), r.dropped.Load()
}

// native writes console lines to a *log.Logger, optionally colouring the
// severity tag.
type native struct {
	logger *log.Logger
	tags   map[hostcap.Severity]string
}

// NewNative returns a Console writing to logger.
func NewNative(logger *log.Logger, colored bool) Console {
	if logger == nil {
		logger = log.Default()
	}
	tags := map[hostcap.Severity]string{
		hostcap.SeverityLog:   "[console]",
		hostcap.SeverityInfo:  "[console:info]",
		hostcap.SeverityWarn:  "[console:warn]",
		hostcap.SeverityError: "[console:error]",
	}
	if colored {
		tags[hostcap.SeverityInfo] = color.New(color.FgCyan).Sprint(tags[hostcap.SeverityInfo])
		tags[hostcap.SeverityWarn] = color.New(color.FgYellow, color.Bold).Sprint(tags[hostcap.SeverityWarn])
		tags[hostcap.SeverityError] = color.New(color.FgRed, color.Bold).Sprint(tags[hostcap.SeverityError])
	}
	return &native{logger: logger, tags: tags}
}

func (n *native) Log(message string)   { n.print(hostcap.SeverityLog, message) }
func (n *native) Info(message string)  { n.print(hostcap.SeverityInfo, message) }
func (n *native) Warn(message string)  { n.print(hostcap.SeverityWarn, message) }
func (n *native) Error(message string) { n.print(hostcap.SeverityError, message) }

func (n *native) print(severity hostcap.Severity, message string) {
	n.logger.Printf("%s %s", n.tags[severity], message)
}
