package editor

import (
	"fmt"
	"io"
	"log"
	"sort"

	"github.com/google/uuid"

	"github.com/nupi-ai/edbridge/internal/constants"
)

// Engine owns every model, editor, marker and provider registration.
type Engine struct {
	logger *log.Logger

	models     map[string]*Model
	modelOrder []string
	markers    map[string]map[string][]Marker

	languages *Languages
	providers *Providers
	json      *JSONDefaults

	editors     []*CodeEditor
	diffEditors []*DiffEditor

	nextHandler     uint64
	createHandlers  map[uint64]func(*Model)
	markersHandlers map[uint64]func(uri, owner string)
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(logger *log.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithLanguages replaces the default language catalog.
func WithLanguages(languages *Languages) Option {
	return func(e *Engine) {
		if languages != nil {
			e.languages = languages
		}
	}
}

// NewEngine creates an engine with the built-in language catalog.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		logger:          log.New(io.Discard, "", 0),
		models:          make(map[string]*Model),
		markers:         make(map[string]map[string][]Marker),
		languages:       DefaultLanguages(),
		providers:       newProviders(),
		json:            newJSONDefaults(),
		createHandlers:  make(map[uint64]func(*Model)),
		markersHandlers: make(map[uint64]func(string, string)),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Languages returns the language catalog.
func (e *Engine) Languages() *Languages { return e.languages }

// Providers returns the language provider registry.
func (e *Engine) Providers() *Providers { return e.providers }

// JSONDefaults returns the JSON language configuration.
func (e *Engine) JSONDefaults() *JSONDefaults { return e.json }

// NewModelURI returns a fresh in-memory model URI.
func NewModelURI() string {
	return "inmemory://model/" + uuid.NewString()
}

// CreateModel creates a model. An empty language means plain text and an
// empty uri allocates a fresh in-memory identity.
func (e *Engine) CreateModel(value, language, uri string) (*Model, error) {
	if language == "" {
		language = constants.PlainTextLanguage
	}
	if uri == "" {
		uri = NewModelURI()
	}
	if _, exists := e.models[uri]; exists {
		return nil, fmt.Errorf("%w: %s", ErrModelExists, uri)
	}

	m := newModel(e, uri, language, value)
	e.models[uri] = m
	e.modelOrder = append(e.modelOrder, uri)
	e.logger.Printf("[editor] model created uri=%s language=%s", uri, language)

	for _, id := range sortedKeys(e.createHandlers) {
		if fn, ok := e.createHandlers[id]; ok {
			fn(m)
		}
	}
	return m, nil
}

// Model looks up a live model by URI.
func (e *Engine) Model(uri string) (*Model, bool) {
	m, ok := e.models[uri]
	return m, ok
}

// Models returns live models in creation order.
func (e *Engine) Models() []*Model {
	out := make([]*Model, 0, len(e.modelOrder))
	for _, uri := range e.modelOrder {
		out = append(out, e.models[uri])
	}
	return out
}

// OnDidCreateModel registers fn for every model created afterwards.
func (e *Engine) OnDidCreateModel(fn func(*Model)) Disposable {
	e.nextHandler++
	id := e.nextHandler
	e.createHandlers[id] = fn
	return DisposableFunc(func() { delete(e.createHandlers, id) })
}

// OnDidChangeMarkers registers fn for every marker replacement.
func (e *Engine) OnDidChangeMarkers(fn func(uri, owner string)) Disposable {
	e.nextHandler++
	id := e.nextHandler
	e.markersHandlers[id] = fn
	return DisposableFunc(func() { delete(e.markersHandlers, id) })
}

// SetModelMarkers replaces every marker owned by owner on m. Markers for a
// disposed model are ignored.
func (e *Engine) SetModelMarkers(m *Model, owner string, markers []Marker) {
	if m == nil || m.disposed {
		return
	}
	byOwner, ok := e.markers[m.uri]
	if !ok {
		byOwner = make(map[string][]Marker)
		e.markers[m.uri] = byOwner
	}

	if len(markers) == 0 {
		delete(byOwner, owner)
	} else {
		stored := make([]Marker, len(markers))
		for i, mk := range markers {
			mk.Owner = owner
			mk.Resource = m.uri
			if mk.Severity == 0 {
				mk.Severity = SeverityError
			}
			start := m.buf.validate(mk.Start())
			end := m.buf.validate(mk.End())
			if end.Before(start) {
				end = start
			}
			mk.Range = NewRange(start, end)
			stored[i] = mk
		}
		byOwner[owner] = stored
	}
	e.fireMarkers(m.uri, owner)
}

// MarkerFilter narrows ModelMarkers. Empty fields match everything.
type MarkerFilter struct {
	Owner    string
	Resource string
}

// ModelMarkers returns markers sorted by resource, owner and position.
func (e *Engine) ModelMarkers(filter MarkerFilter) []Marker {
	var out []Marker
	for uri, byOwner := range e.markers {
		if filter.Resource != "" && filter.Resource != uri {
			continue
		}
		for owner, list := range byOwner {
			if filter.Owner != "" && filter.Owner != owner {
				continue
			}
			out = append(out, list...)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Resource != b.Resource {
			return a.Resource < b.Resource
		}
		if a.Owner != b.Owner {
			return a.Owner < b.Owner
		}
		return a.Start().Before(b.Start())
	})
	return out
}

func (e *Engine) fireMarkers(uri, owner string) {
	for _, id := range sortedKeys(e.markersHandlers) {
		if fn, ok := e.markersHandlers[id]; ok {
			fn(uri, owner)
		}
	}
}

func (e *Engine) removeModel(m *Model) {
	if e.models[m.uri] != m {
		return
	}
	delete(e.models, m.uri)
	for i, uri := range e.modelOrder {
		if uri == m.uri {
			e.modelOrder = append(e.modelOrder[:i], e.modelOrder[i+1:]...)
			break
		}
	}
	if byOwner, ok := e.markers[m.uri]; ok {
		delete(e.markers, m.uri)
		for _, owner := range sortedStrings(byOwner) {
			e.fireMarkers(m.uri, owner)
		}
	}
	e.logger.Printf("[editor] model disposed uri=%s", m.uri)
}

// Create builds a code editor inside container with a fresh model.
func (e *Engine) Create(container *Container, opts CodeEditorOptions) (*CodeEditor, error) {
	m, err := e.CreateModel(opts.Value, opts.Language, "")
	if err != nil {
		return nil, err
	}
	ed := &CodeEditor{engine: e, container: container, options: opts, model: m}
	e.editors = append(e.editors, ed)
	return ed, nil
}

// CreateDiffEditor builds an empty diff editor inside container.
func (e *Engine) CreateDiffEditor(container *Container, opts DiffEditorOptions) *DiffEditor {
	d := &DiffEditor{engine: e, container: container, options: opts}
	e.diffEditors = append(e.diffEditors, d)
	return d
}

// Editors returns every live code editor.
func (e *Engine) Editors() []*CodeEditor {
	return append([]*CodeEditor(nil), e.editors...)
}

// DiffEditors returns every live diff editor.
func (e *Engine) DiffEditors() []*DiffEditor {
	return append([]*DiffEditor(nil), e.diffEditors...)
}

func (e *Engine) removeEditor(ed *CodeEditor) {
	for i, cur := range e.editors {
		if cur == ed {
			e.editors = append(e.editors[:i], e.editors[i+1:]...)
			return
		}
	}
}

func (e *Engine) removeDiffEditor(d *DiffEditor) {
	for i, cur := range e.diffEditors {
		if cur == d {
			e.diffEditors = append(e.diffEditors[:i], e.diffEditors[i+1:]...)
			return
		}
	}
}

func sortedKeys[V any](m map[uint64]V) []uint64 {
	keys := make([]uint64, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

func sortedStrings[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
