package editor

import (
	"encoding/json"
	"path"
	"strings"
)

// SchemaAssociation binds a JSON schema to documents by file pattern.
type SchemaAssociation struct {
	URI       string          `json:"uri"`
	FileMatch []string        `json:"fileMatch"`
	Schema    json.RawMessage `json:"schema"`
}

// Matches reports whether the document at uri is covered by one of the
// file patterns. Patterns are matched against the last path segment and
// against the whole path.
func (a SchemaAssociation) Matches(uri string) bool {
	docPath := uri
	if idx := strings.Index(docPath, "://"); idx >= 0 {
		docPath = docPath[idx+3:]
	}
	base := path.Base(docPath)
	for _, pattern := range a.FileMatch {
		if pattern == "" {
			continue
		}
		if ok, _ := path.Match(pattern, base); ok {
			return true
		}
		if ok, _ := path.Match(strings.TrimPrefix(pattern, "/"), strings.TrimPrefix(docPath, "/")); ok {
			return true
		}
	}
	return false
}

// DiagnosticsOptions configures JSON validation.
type DiagnosticsOptions struct {
	AllowComments bool                `json:"allowComments"`
	Validate      bool                `json:"validate"`
	Schemas       []SchemaAssociation `json:"schemas"`
}

// JSONDefaults holds the JSON language configuration.
type JSONDefaults struct {
	options     DiagnosticsOptions
	nextHandler uint64
	handlers    map[uint64]func(DiagnosticsOptions)
}

func newJSONDefaults() *JSONDefaults {
	return &JSONDefaults{
		options:  DiagnosticsOptions{Validate: true},
		handlers: make(map[uint64]func(DiagnosticsOptions)),
	}
}

// DiagnosticsOptions returns the current options.
func (j *JSONDefaults) DiagnosticsOptions() DiagnosticsOptions {
	out := j.options
	out.Schemas = append([]SchemaAssociation(nil), j.options.Schemas...)
	return out
}

// SetDiagnosticsOptions replaces the options and notifies listeners.
func (j *JSONDefaults) SetDiagnosticsOptions(opts DiagnosticsOptions) {
	opts.Schemas = append([]SchemaAssociation(nil), opts.Schemas...)
	j.options = opts
	for _, id := range sortedKeys(j.handlers) {
		if fn, ok := j.handlers[id]; ok {
			fn(j.DiagnosticsOptions())
		}
	}
}

// OnDidChange registers fn for every options change.
func (j *JSONDefaults) OnDidChange(fn func(DiagnosticsOptions)) Disposable {
	j.nextHandler++
	id := j.nextHandler
	j.handlers[id] = fn
	return DisposableFunc(func() { delete(j.handlers, id) })
}
