package langservice

import (
	"context"
	"fmt"
	"io"
	"log"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/nupi-ai/edbridge/internal/constants"
	"github.com/nupi-ai/edbridge/internal/editor"
	"github.com/nupi-ai/edbridge/internal/eventbus"
	"github.com/nupi-ai/edbridge/internal/loop"
)

// Console receives the diagnostics log line written before markers are
// applied. logrelay.Relay satisfies it.
type Console interface {
	Log(message string)
}

// Registration is the per-language record of attached providers and the
// diagnostics subscription.
type Registration struct {
	languageID string
	contextID  atomic.Value

	providers editor.Disposables
	changeSub editor.Disposable
	bound     *editor.Model

	generation uint64
	applied    uint64
	completes  atomic.Uint64
}

// LanguageID returns the registered language.
func (reg *Registration) LanguageID() string { return reg.languageID }

// ContextID returns the most recent host context id. Safe from any goroutine.
func (reg *Registration) ContextID() string {
	v, _ := reg.contextID.Load().(string)
	return v
}

// RegistrationInfo is a read-only view of a Registration.
type RegistrationInfo struct {
	LanguageID string
	ContextID  string
	Bound      string
	Generation uint64
	Applied    uint64
	Completion int
	Hover      int
	Formatting int
}

// Registry owns every Registration of one editor session. Except for the
// provider callbacks, its methods must run on the editor loop.
type Registry struct {
	engine  *editor.Engine
	backend Backend
	poster  loop.Poster
	logger  *log.Logger
	bus     *eventbus.Bus
	console Console
	timeout time.Duration

	regs  map[string]*Registration
	model *editor.Model
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the registry logger.
func WithLogger(logger *log.Logger) Option {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithEventBus publishes registration and refresh events.
func WithEventBus(bus *eventbus.Bus) Option {
	return func(r *Registry) {
		r.bus = bus
	}
}

// WithConsole routes the diagnostics log line through console.
func WithConsole(console Console) Option {
	return func(r *Registry) {
		r.console = console
	}
}

// WithRequestTimeout bounds every backend call.
func WithRequestTimeout(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// NewRegistry creates an empty registry. Backend results re-enter the
// editor loop through poster.
func NewRegistry(engine *editor.Engine, backend Backend, poster loop.Poster, opts ...Option) *Registry {
	r := &Registry{
		engine:  engine,
		backend: backend,
		poster:  poster,
		logger:  log.New(io.Discard, "", 0),
		timeout: constants.LanguageServiceRequestTimeout,
		regs:    make(map[string]*Registration),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register moves languageID to the registered state. Repeated calls only
// update the context id. It reports whether providers were attached.
func (r *Registry) Register(languageID, contextID string) (bool, error) {
	languageID = strings.TrimSpace(languageID)
	if languageID == "" {
		return false, fmt.Errorf("langservice: register: empty language id")
	}

	if reg, ok := r.regs[languageID]; ok {
		reg.contextID.Store(contextID)
		r.logger.Printf("[langservice] %s context updated to %q", languageID, contextID)
		r.publishRegistered(reg, false)
		return false, nil
	}

	reg := &Registration{languageID: languageID}
	reg.contextID.Store(contextID)
	providers := r.engine.Providers()
	reg.providers.Add(providers.RegisterCompletionItemProvider(languageID, &completionProvider{r: r, reg: reg}))
	reg.providers.Add(providers.RegisterDocumentFormattingEditProvider(languageID, &formattingProvider{r: r, reg: reg}))
	reg.providers.Add(providers.RegisterHoverProvider(languageID, &hoverProvider{r: r, reg: reg}))
	r.regs[languageID] = reg

	r.logger.Printf("[langservice] %s registered with context %q", languageID, contextID)
	r.publishRegistered(reg, true)

	r.bindOne(reg, r.model)
	return true, nil
}

// Bind points every registration's diagnostics refresh at model. Each
// registration whose language matches model subscribes to its changes and
// refreshes immediately; the others are left unbound.
func (r *Registry) Bind(model *editor.Model) {
	r.model = model
	for _, id := range r.languageIDs() {
		r.bindOne(r.regs[id], model)
	}
}

// Unbind detaches every registration from its model.
func (r *Registry) Unbind() {
	r.model = nil
	for _, reg := range r.regs {
		r.unbindOne(reg)
	}
}

func (r *Registry) bindOne(reg *Registration, model *editor.Model) {
	if reg.bound == model && model != nil && reg.changeSub != nil {
		return
	}
	r.unbindOne(reg)
	if model == nil || model.IsDisposed() || model.Language() != reg.languageID {
		return
	}
	reg.bound = model
	reg.changeSub = model.OnDidChangeContent(func(editor.ChangeEvent) {
		r.refresh(reg, model)
	})
	r.refresh(reg, model)
}

func (r *Registry) unbindOne(reg *Registration) {
	if reg.changeSub != nil {
		reg.changeSub.Dispose()
		reg.changeSub = nil
	}
	reg.bound = nil
	// Responses still in flight for the old model become stale.
	reg.generation++
}

// Refresh re-runs diagnostics for languageID against its bound model.
func (r *Registry) Refresh(languageID string) bool {
	reg, ok := r.regs[languageID]
	if !ok || reg.bound == nil {
		return false
	}
	r.refresh(reg, reg.bound)
	return true
}

// refresh snapshots model after the triggering edit and queries the backend
// off the loop. Only the newest generation may write markers.
func (r *Registry) refresh(reg *Registration, model *editor.Model) {
	reg.generation++
	gen := reg.generation
	req := Request{
		ContextID:  reg.ContextID(),
		LanguageID: reg.languageID,
		Document:   model.Snapshot(),
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		defer cancel()
		diags, err := guard("diagnostics", func() ([]Diagnostic, error) {
			return r.backend.Diagnostics(ctx, req)
		})
		posted := r.poster.Post(func() {
			r.apply(reg, model, gen, req.Document.Version, diags, err)
		})
		if !posted {
			r.logger.Printf("[langservice] %s diagnostics dropped: loop stopped", reg.languageID)
		}
	}()
}

func (r *Registry) apply(reg *Registration, model *editor.Model, gen uint64, version int, diags []Diagnostic, err error) {
	event := eventbus.RefreshEvent{
		LanguageID: reg.languageID,
		URI:        model.URI(),
		Version:    version,
		Generation: gen,
	}

	if gen != reg.generation || reg.bound != model || model.IsDisposed() || model.Language() != reg.languageID {
		event.Outcome = eventbus.RefreshStale
		r.publishRefresh(event)
		return
	}

	var markers []editor.Marker
	if err != nil {
		r.logger.Printf("[langservice] %s diagnostics failed for %s v%d: %v", reg.languageID, model.URI(), version, err)
		event.Outcome = eventbus.RefreshFailed
	} else {
		markers = toMarkers(diags)
		event.Outcome = eventbus.RefreshApplied
		event.Count = len(markers)
		if r.console != nil {
			r.console.Log(fmt.Sprintf("diagnostics %s v%d: %d", reg.languageID, version, len(markers)))
		}
	}

	r.engine.SetModelMarkers(model, reg.languageID, markers)
	reg.applied = gen
	r.publishRefresh(event)
}

// toMarkers forces every diagnostic to error severity.
func toMarkers(diags []Diagnostic) []editor.Marker {
	if len(diags) == 0 {
		return nil
	}
	out := make([]editor.Marker, 0, len(diags))
	for _, d := range diags {
		out = append(out, editor.Marker{
			Severity: editor.SeverityError,
			Message:  d.Message,
			Source:   d.Source,
			Code:     d.Code,
			Range:    d.Range,
		})
	}
	return out
}

// Registration returns a view of languageID's registration.
func (r *Registry) Registration(languageID string) (RegistrationInfo, bool) {
	reg, ok := r.regs[languageID]
	if !ok {
		return RegistrationInfo{}, false
	}
	info := RegistrationInfo{
		LanguageID: reg.languageID,
		ContextID:  reg.ContextID(),
		Generation: reg.generation,
		Applied:    reg.applied,
		Completion: r.engine.Providers().Count(editor.ProviderCompletion, languageID),
		Hover:      r.engine.Providers().Count(editor.ProviderHover, languageID),
		Formatting: r.engine.Providers().Count(editor.ProviderFormatting, languageID),
	}
	if reg.bound != nil {
		info.Bound = reg.bound.URI()
	}
	return info, true
}

// IsRegistered reports whether languageID has been registered.
func (r *Registry) IsRegistered(languageID string) bool {
	_, ok := r.regs[languageID]
	return ok
}

// Languages lists registered language ids.
func (r *Registry) Languages() []string {
	return r.languageIDs()
}

// CompletionCalls reports how many completion requests reached the
// backend for languageID.
func (r *Registry) CompletionCalls(languageID string) uint64 {
	if reg, ok := r.regs[languageID]; ok {
		return reg.completes.Load()
	}
	return 0
}

// Close removes every provider and subscription.
func (r *Registry) Close() {
	for _, id := range r.languageIDs() {
		reg := r.regs[id]
		r.unbindOne(reg)
		reg.providers.Dispose()
		delete(r.regs, id)
	}
	r.model = nil
}

func (r *Registry) languageIDs() []string {
	ids := make([]string, 0, len(r.regs))
	for id := range r.regs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (r *Registry) publishRegistered(reg *Registration, created bool) {
	eventbus.Publish(context.Background(), r.bus, eventbus.LangService.Registered, eventbus.SourceLangService, eventbus.RegistrationEvent{
		LanguageID: reg.languageID,
		ContextID:  reg.ContextID(),
		Created:    created,
	})
}

func (r *Registry) publishRefresh(ev eventbus.RefreshEvent) {
	eventbus.Publish(context.Background(), r.bus, eventbus.LangService.Refresh, eventbus.SourceLangService, ev)
}
