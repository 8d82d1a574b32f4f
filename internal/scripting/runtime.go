// Package scripting exposes the editor to JavaScript running in a goja
// runtime owned by the editor loop.
//
// Every bridge method is a global function, the host capabilities are the
// global `external`, and the relayed console is the global `console`.
// Methods that reach a language backend return a Promise settled on the
// loop.
package scripting

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/dop251/goja"

	"github.com/nupi-ai/edbridge/internal/bridge"
	"github.com/nupi-ai/edbridge/internal/constants"
	"github.com/nupi-ai/edbridge/internal/eventbus"
	"github.com/nupi-ai/edbridge/internal/hostcap"
	"github.com/nupi-ai/edbridge/internal/logrelay"
	"github.com/nupi-ai/edbridge/internal/loop"
)

var (
	// ErrNoFunction is returned by Invoke when the global is not callable.
	ErrNoFunction = errors.New("scripting: no such function")
	// ErrRejected wraps the reason of a rejected promise.
	ErrRejected = errors.New("scripting: promise rejected")
)

// Runtime is a goja runtime bound to one bridge. Apart from Invoke, Start
// and Stop, its methods must run on the editor loop.
type Runtime struct {
	vm      *goja.Runtime
	bridge  *bridge.Bridge
	loop    *loop.Loop
	host    hostcap.Capabilities
	logger  *log.Logger
	bus     *eventbus.Bus
	timeout time.Duration

	scripts []*Script

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithLogger sets the runtime logger.
func WithLogger(logger *log.Logger) Option {
	return func(r *Runtime) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithEventBus lets Start deliver editor events to loaded scripts.
func WithEventBus(bus *eventbus.Bus) Option {
	return func(r *Runtime) {
		r.bus = bus
	}
}

// WithTimeout bounds the off-loop half of promise-returning globals.
func WithTimeout(d time.Duration) Option {
	return func(r *Runtime) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// New builds a runtime with every global installed. It does not touch the
// loop, so it may run before the loop starts.
func New(b *bridge.Bridge, host hostcap.Capabilities, opts ...Option) (*Runtime, error) {
	if b == nil {
		return nil, errors.New("scripting: bridge required")
	}
	if host == nil {
		host = hostcap.Defaults()
	}
	r := &Runtime{
		vm:      goja.New(),
		bridge:  b,
		loop:    b.Loop(),
		host:    host,
		logger:  log.New(io.Discard, "", 0),
		timeout: constants.BridgeCallTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}

	if err := r.installMethods(); err != nil {
		return nil, err
	}
	if err := r.installExternal(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Runtime) installMethods() error {
	for _, name := range bridge.MethodNames() {
		name := name
		err := r.vm.Set(name, func(call goja.FunctionCall) goja.Value {
			args := make(bridge.Args, len(call.Arguments))
			for i, a := range call.Arguments {
				args[i] = a.Export()
			}
			v, err := r.bridge.InvokeOnLoop(name, args)
			if err != nil {
				panic(r.vm.NewGoError(err))
			}
			if d, ok := v.(*bridge.Deferred); ok {
				return r.settle(name, d)
			}
			return r.toJS(v)
		})
		if err != nil {
			return fmt.Errorf("scripting: install %s: %w", name, err)
		}
	}
	return nil
}

func (r *Runtime) installExternal() error {
	ext := r.vm.NewObject()
	set := func(name string, fn func(call goja.FunctionCall) goja.Value) error {
		return ext.Set(name, fn)
	}
	err := errors.Join(
		set("OnValueChanged", func(call goja.FunctionCall) goja.Value {
			r.host.OnValueChanged(call.Argument(0).String())
			return goja.Undefined()
		}),
		set("OnInitDone", func(goja.FunctionCall) goja.Value {
			r.host.OnInitDone()
			return goja.Undefined()
		}),
		set("Log", func(call goja.FunctionCall) goja.Value {
			sev, err := hostcap.ParseSeverity(call.Argument(0).String())
			if err != nil {
				panic(r.vm.NewGoError(err))
			}
			if err := r.host.Log(sev, call.Argument(1).String()); err != nil {
				panic(r.vm.NewGoError(err))
			}
			return goja.Undefined()
		}),
		set("InitialValue", func(goja.FunctionCall) goja.Value {
			return r.vm.ToValue(r.host.InitialValue())
		}),
		set("InitialLang", func(goja.FunctionCall) goja.Value {
			return r.vm.ToValue(r.host.InitialLang())
		}),
		set("Height", func(goja.FunctionCall) goja.Value {
			return r.vm.ToValue(r.host.Height())
		}),
		set("Width", func(goja.FunctionCall) goja.Value {
			return r.vm.ToValue(r.host.Width())
		}),
	)
	if err != nil {
		return fmt.Errorf("scripting: install external: %w", err)
	}
	return r.vm.Set("external", ext)
}

// BindConsole installs c as the global console. Arguments are joined with
// spaces; non-string values are rendered as JSON.
func (r *Runtime) BindConsole(c logrelay.Console) error {
	obj := r.vm.NewObject()
	levels := []struct {
		name string
		fn   func(string)
	}{
		{"log", c.Log},
		{"info", c.Info},
		{"warn", c.Warn},
		{"error", c.Error},
	}
	for _, level := range levels {
		fn := level.fn
		err := obj.Set(level.name, func(call goja.FunctionCall) goja.Value {
			fn(r.formatArgs(call.Arguments))
			return goja.Undefined()
		})
		if err != nil {
			return fmt.Errorf("scripting: console.%s: %w", level.name, err)
		}
	}
	return r.vm.Set("console", obj)
}

func (r *Runtime) formatArgs(args []goja.Value) string {
	parts := make([]string, len(args))
	for i, a := range args {
		if goja.IsUndefined(a) || goja.IsNull(a) {
			parts[i] = a.String()
			continue
		}
		switch v := a.Export().(type) {
		case string:
			parts[i] = v
		case map[string]any, []any:
			data, err := json.Marshal(v)
			if err != nil {
				parts[i] = a.String()
				continue
			}
			parts[i] = string(data)
		default:
			parts[i] = a.String()
		}
	}
	return strings.Join(parts, " ")
}

// toJS converts a bridge result to a plain JS value using its JSON shape.
func (r *Runtime) toJS(v any) goja.Value {
	switch v := v.(type) {
	case nil:
		return goja.Null()
	case string, bool, int, int64, float64:
		return r.vm.ToValue(v)
	}
	data, err := json.Marshal(v)
	if err != nil {
		panic(r.vm.NewGoError(fmt.Errorf("scripting: encode result: %w", err)))
	}
	var plain any
	if err := json.Unmarshal(data, &plain); err != nil {
		panic(r.vm.NewGoError(fmt.Errorf("scripting: decode result: %w", err)))
	}
	return r.vm.ToValue(plain)
}

// settle returns a promise for d. The off-loop half runs on its own
// goroutine; resolution happens back on the loop.
func (r *Runtime) settle(name string, d *bridge.Deferred) goja.Value {
	promise, resolve, reject := r.vm.NewPromise()
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		defer cancel()
		v, err := d.Run(ctx)
		posted := r.loop.Post(func() {
			if err == nil && d.Finish != nil {
				v, err = d.Finish(r.bridge.Session(), v)
			}
			if err != nil {
				reject(r.vm.NewGoError(fmt.Errorf("%s: %w", name, err)))
				return
			}
			resolve(r.toJS(v))
		})
		if !posted {
			r.logger.Printf("[scripting] %s result dropped: loop stopped", name)
		}
	}()
	return r.vm.ToValue(promise)
}

// Eval runs src and returns the exported completion value.
func (r *Runtime) Eval(name, src string) (any, error) {
	v, err := r.vm.RunScript(name, src)
	if err != nil {
		return nil, fmt.Errorf("scripting: eval %s: %w", name, err)
	}
	return v.Export(), nil
}

type settled struct {
	value any
	err   error
}

// Invoke calls the global function name with args from any goroutine but
// the loop's. A returned promise is awaited.
func (r *Runtime) Invoke(ctx context.Context, name string, args ...any) (any, error) {
	wait := make(chan settled, 1)
	err := r.loop.Do(ctx, func() error {
		fn, ok := goja.AssertFunction(r.vm.Get(name))
		if !ok {
			return fmt.Errorf("%w: %s", ErrNoFunction, name)
		}
		vals := make([]goja.Value, len(args))
		for i, a := range args {
			vals[i] = r.vm.ToValue(a)
		}
		v, err := fn(goja.Undefined(), vals...)
		if err != nil {
			return fmt.Errorf("scripting: %s: %w", name, err)
		}
		r.await(name, v, wait)
		return nil
	})
	if err != nil {
		return nil, err
	}

	select {
	case res := <-wait:
		return res.value, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// await delivers v to wait, after settlement when v is a promise.
func (r *Runtime) await(name string, v goja.Value, wait chan<- settled) {
	p, ok := v.Export().(*goja.Promise)
	if !ok {
		wait <- settled{value: v.Export()}
		return
	}
	switch p.State() {
	case goja.PromiseStateFulfilled:
		wait <- settled{value: p.Result().Export()}
		return
	case goja.PromiseStateRejected:
		wait <- settled{err: fmt.Errorf("%w: %s: %s", ErrRejected, name, p.Result().String())}
		return
	}

	obj := v.ToObject(r.vm)
	then, _ := goja.AssertFunction(obj.Get("then"))
	onFulfilled := r.vm.ToValue(func(call goja.FunctionCall) goja.Value {
		wait <- settled{value: call.Argument(0).Export()}
		return goja.Undefined()
	})
	onRejected := r.vm.ToValue(func(call goja.FunctionCall) goja.Value {
		wait <- settled{err: fmt.Errorf("%w: %s: %s", ErrRejected, name, call.Argument(0).String())}
		return goja.Undefined()
	})
	if _, err := then(obj, onFulfilled, onRejected); err != nil {
		wait <- settled{err: fmt.Errorf("scripting: %s: %w", name, err)}
	}
}
