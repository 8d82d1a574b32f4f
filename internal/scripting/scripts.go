package scripting

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dop251/goja"

	"github.com/nupi-ai/edbridge/internal/eventbus"
)

// Script is an editor script loaded from disk. It exports a name and the
// optional onInit and onValueChanged hooks.
type Script struct {
	Name     string
	FilePath string

	onInit         goja.Callable
	onValueChanged goja.Callable
}

// HasHooks reports which hooks the script defines.
func (s *Script) HasHooks() (onInit, onValueChanged bool) {
	return s.onInit != nil, s.onValueChanged != nil
}

// LoadScript runs the file at path with its own module and exports objects
// and registers the hooks it exports.
func (r *Runtime) LoadScript(path string) (*Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("scripting: read %s: %w", path, err)
	}

	wrapped := "(function(module, exports) {\n" + string(data) + "\n})"
	fnValue, err := r.vm.RunScript(path, wrapped)
	if err != nil {
		return nil, fmt.Errorf("scripting: compile %s: %w", path, err)
	}
	fn, ok := goja.AssertFunction(fnValue)
	if !ok {
		return nil, fmt.Errorf("scripting: %s: wrapper is not callable", path)
	}

	module := r.vm.NewObject()
	exports := r.vm.NewObject()
	if err := module.Set("exports", exports); err != nil {
		return nil, fmt.Errorf("scripting: %s: %w", path, err)
	}
	if _, err := fn(goja.Undefined(), module, exports); err != nil {
		return nil, fmt.Errorf("scripting: execute %s: %w", path, err)
	}
	if v := module.Get("exports"); v != nil && !goja.IsUndefined(v) && !goja.IsNull(v) {
		exports = v.ToObject(r.vm)
	}

	script := &Script{FilePath: path}
	if name := exports.Get("name"); name != nil && !goja.IsUndefined(name) {
		script.Name = name.String()
	} else {
		script.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}

	hook := func(key string) (goja.Callable, error) {
		v := exports.Get(key)
		if v == nil || goja.IsUndefined(v) {
			return nil, nil
		}
		fn, ok := goja.AssertFunction(v)
		if !ok {
			return nil, fmt.Errorf("scripting: %s: %s must be a function", path, key)
		}
		return fn, nil
	}
	if script.onInit, err = hook("onInit"); err != nil {
		return nil, err
	}
	if script.onValueChanged, err = hook("onValueChanged"); err != nil {
		return nil, err
	}

	r.scripts = append(r.scripts, script)
	r.logger.Printf("[scripting] loaded %s from %s", script.Name, path)
	return script, nil
}

// LoadDir loads every .js file in dir in name order. A missing dir loads
// nothing.
func (r *Runtime) LoadDir(dir string) ([]*Script, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("scripting: read dir %s: %w", dir, err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.EqualFold(filepath.Ext(e.Name()), ".js") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var loaded []*Script
	for _, name := range names {
		s, err := r.LoadScript(filepath.Join(dir, name))
		if err != nil {
			return loaded, err
		}
		loaded = append(loaded, s)
	}
	return loaded, nil
}

// Scripts returns the loaded scripts in load order.
func (r *Runtime) Scripts() []*Script {
	return append([]*Script(nil), r.scripts...)
}

// Start delivers init-done and value-changed events from the bus to the
// loaded scripts' hooks, on the loop. Without a bus it does nothing.
func (r *Runtime) Start(ctx context.Context) {
	if r.bus == nil {
		return
	}
	ctx, r.cancel = context.WithCancel(ctx)

	initSub := eventbus.SubscribeTo(r.bus, eventbus.Editor.InitDone, eventbus.WithSubscriptionName("scripting_init"))
	valueSub := eventbus.SubscribeTo(r.bus, eventbus.Editor.ValueChanged, eventbus.WithSubscriptionName("scripting_value"))

	r.wg.Add(2)
	go func() {
		defer r.wg.Done()
		defer initSub.Close()
		eventbus.Consume(ctx, initSub, func(eventbus.InitDoneEvent) {
			r.loop.Post(func() { r.dispatch("onInit", func(s *Script) goja.Callable { return s.onInit }) })
		})
	}()
	go func() {
		defer r.wg.Done()
		defer valueSub.Close()
		eventbus.Consume(ctx, valueSub, func(ev eventbus.ValueChangedEvent) {
			r.loop.Post(func() {
				r.dispatch("onValueChanged", func(s *Script) goja.Callable { return s.onValueChanged }, ev.Text)
			})
		})
	}()
}

// Stop ends event delivery started by Start.
func (r *Runtime) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
}

func (r *Runtime) dispatch(hookName string, pick func(*Script) goja.Callable, args ...any) {
	vals := make([]goja.Value, len(args))
	for i, a := range args {
		vals[i] = r.vm.ToValue(a)
	}
	for _, s := range r.scripts {
		fn := pick(s)
		if fn == nil {
			continue
		}
		if _, err := fn(goja.Undefined(), vals...); err != nil {
			r.logger.Printf("[scripting] %s.%s: %v", s.Name, hookName, err)
		}
	}
}
