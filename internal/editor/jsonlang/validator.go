// Package jsonlang validates JSON models against the schemas configured in
// the editor's JSON defaults and publishes the result as markers.
package jsonlang

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/url"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/nupi-ai/edbridge/internal/constants"
	"github.com/nupi-ai/edbridge/internal/editor"
)

type compiledSchema struct {
	assoc  editor.SchemaAssociation
	schema *jsonschema.Schema
}

// Validator keeps markers of every JSON model in sync with its content.
type Validator struct {
	engine *editor.Engine
	logger *log.Logger

	options  editor.DiagnosticsOptions
	compiled []compiledSchema

	models      map[*editor.Model]editor.Disposable
	disposables editor.Disposables
	runs        int
}

// Option configures a Validator.
type Option func(*Validator)

// WithLogger sets the validator logger.
func WithLogger(logger *log.Logger) Option {
	return func(v *Validator) {
		if logger != nil {
			v.logger = logger
		}
	}
}

// Attach starts validating every existing and future JSON model of engine.
// Like the engine itself, the validator must be used from the editor loop.
func Attach(engine *editor.Engine, opts ...Option) *Validator {
	v := &Validator{
		engine: engine,
		logger: log.New(io.Discard, "", 0),
		models: make(map[*editor.Model]editor.Disposable),
	}
	for _, opt := range opts {
		opt(v)
	}

	v.configure(engine.JSONDefaults().DiagnosticsOptions())
	v.disposables.Add(engine.JSONDefaults().OnDidChange(func(opts editor.DiagnosticsOptions) {
		v.configure(opts)
		v.revalidateAll()
	}))
	v.disposables.Add(engine.OnDidCreateModel(v.track))
	for _, m := range engine.Models() {
		v.track(m)
	}
	return v
}

// Close stops tracking models. Existing markers are left in place.
func (v *Validator) Close() {
	v.disposables.Dispose()
	for m, d := range v.models {
		d.Dispose()
		delete(v.models, m)
	}
}

// Runs reports how many validations ran.
func (v *Validator) Runs() int {
	return v.runs
}

func (v *Validator) track(m *editor.Model) {
	if m.Language() != constants.JSONLanguage {
		return
	}
	if _, ok := v.models[m]; ok {
		return
	}
	v.models[m] = m.OnDidChangeContent(func(editor.ChangeEvent) {
		v.Validate(m)
	})
	m.OnWillDispose(func() {
		if d, ok := v.models[m]; ok {
			d.Dispose()
			delete(v.models, m)
		}
	})
	v.Validate(m)
}

func (v *Validator) revalidateAll() {
	models := make([]*editor.Model, 0, len(v.models))
	for m := range v.models {
		models = append(models, m)
	}
	sort.Slice(models, func(i, j int) bool { return models[i].URI() < models[j].URI() })
	for _, m := range models {
		v.Validate(m)
	}
}

func (v *Validator) configure(opts editor.DiagnosticsOptions) {
	v.options = opts
	v.compiled = v.compiled[:0]
	for i, assoc := range opts.Schemas {
		schema, err := compile(i, assoc)
		if err != nil {
			v.logger.Printf("[jsonlang] schema %d rejected: %v", i, err)
			continue
		}
		v.compiled = append(v.compiled, compiledSchema{assoc: assoc, schema: schema})
	}
}

func compile(index int, assoc editor.SchemaAssociation) (*jsonschema.Schema, error) {
	url := assoc.URI
	if url == "" {
		url = fmt.Sprintf("inline://schema/%d.json", index)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(url, bytes.NewReader(assoc.Schema)); err != nil {
		return nil, fmt.Errorf("add %s: %w", url, err)
	}
	schema, err := compiler.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile %s: %w", url, err)
	}
	return schema, nil
}

// Validate recomputes the markers of m under the json owner and returns them.
func (v *Validator) Validate(m *editor.Model) []editor.Marker {
	if m == nil || m.IsDisposed() {
		return nil
	}
	v.runs++
	markers := v.diagnose(m)
	v.engine.SetModelMarkers(m, constants.JSONMarkerOwner, markers)
	return markers
}

func (v *Validator) diagnose(m *editor.Model) []editor.Marker {
	if !v.options.Validate {
		return nil
	}
	text := m.Value()
	if v.options.AllowComments {
		text = stripComments(text)
	}
	if strings.TrimSpace(text) == "" {
		return nil
	}

	doc, err := decode(text)
	if err != nil {
		return []editor.Marker{syntaxMarker(m, err)}
	}

	var markers []editor.Marker
	var pointers map[string]span
	for _, cs := range v.compiled {
		if !cs.assoc.Matches(m.URI()) {
			continue
		}
		err := cs.schema.Validate(doc)
		if err == nil {
			continue
		}
		var ve *jsonschema.ValidationError
		if !errors.As(err, &ve) {
			v.logger.Printf("[jsonlang] validate %s: %v", m.URI(), err)
			continue
		}
		if pointers == nil {
			pointers = indexPointers(text)
		}
		for _, leaf := range leaves(ve) {
			markers = append(markers, schemaMarker(m, pointers, leaf))
		}
	}
	return markers
}

func decode(text string) (any, error) {
	dec := json.NewDecoder(strings.NewReader(text))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, &json.SyntaxError{Offset: dec.InputOffset()}
	}
	return doc, nil
}

func syntaxMarker(m *editor.Model, err error) editor.Marker {
	offset := len(m.Value())
	msg := err.Error()
	var se *json.SyntaxError
	if errors.As(err, &se) {
		offset = int(se.Offset)
		if se.Offset > 0 {
			offset--
		}
		if msg == "" {
			msg = "End of file expected."
		}
	}
	start := m.PositionAt(offset)
	end := m.PositionAt(offset + 1)
	return editor.Marker{
		Severity: editor.SeverityError,
		Message:  msg,
		Source:   "json",
		Range:    editor.NewRange(start, end),
	}
}

func schemaMarker(m *editor.Model, pointers map[string]span, ve *jsonschema.ValidationError) editor.Marker {
	loc := ve.InstanceLocation
	if unescaped, err := url.PathUnescape(loc); err == nil {
		loc = unescaped
	}
	sp, ok := pointers[loc]
	if !ok {
		sp = span{0, 1}
	}
	return editor.Marker{
		Severity: editor.SeverityWarning,
		Message:  ve.Message,
		Source:   "json",
		Code:     ve.KeywordLocation,
		Range:    editor.NewRange(m.PositionAt(sp.start), m.PositionAt(sp.end)),
	}
}

func leaves(ve *jsonschema.ValidationError) []*jsonschema.ValidationError {
	if len(ve.Causes) == 0 {
		return []*jsonschema.ValidationError{ve}
	}
	var out []*jsonschema.ValidationError
	for _, c := range ve.Causes {
		out = append(out, leaves(c)...)
	}
	return out
}
