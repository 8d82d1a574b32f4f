// Package langservice connects editor language providers and the
// diagnostics refresh loop to an out-of-process language backend.
package langservice

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/nupi-ai/edbridge/internal/editor"
)

var (
	// ErrBackendUnavailable is returned when no backend serves a language.
	ErrBackendUnavailable = errors.New("langservice: backend unavailable")
	// ErrNotSupported is returned by backends lacking an operation.
	ErrNotSupported = errors.New("langservice: operation not supported")
	// ErrBackendPanic is returned when a backend call panicked.
	ErrBackendPanic = errors.New("langservice: backend panicked")
)

// guard runs one backend call and turns a panic into ErrBackendPanic.
func guard[T any](op string, fn func() (T, error)) (v T, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			var zero T
			v, err = zero, fmt.Errorf("%w in %s: %v", ErrBackendPanic, op, rec)
		}
	}()
	return fn()
}

// Request is what every backend call receives.
type Request struct {
	ContextID  string                   `json:"contextId"`
	LanguageID string                   `json:"languageId"`
	Document   editor.Snapshot          `json:"document"`
	Position   editor.Position          `json:"position"`
	Formatting editor.FormattingOptions `json:"formatting"`
}

// Diagnostic is one (range, message) entry from the backend.
type Diagnostic struct {
	Range   editor.Range `json:"range"`
	Message string       `json:"message"`
	Source  string       `json:"source,omitempty"`
	Code    string       `json:"code,omitempty"`
}

// Backend computes language features for a document.
type Backend interface {
	Complete(ctx context.Context, req Request) (editor.CompletionList, error)
	Hover(ctx context.Context, req Request) (*editor.Hover, error)
	Format(ctx context.Context, req Request) ([]editor.TextEdit, error)
	Diagnostics(ctx context.Context, req Request) ([]Diagnostic, error)
}

// BackendFuncs is a Backend built from functions. Nil fields return
// ErrNotSupported.
type BackendFuncs struct {
	CompleteFunc    func(ctx context.Context, req Request) (editor.CompletionList, error)
	HoverFunc       func(ctx context.Context, req Request) (*editor.Hover, error)
	FormatFunc      func(ctx context.Context, req Request) ([]editor.TextEdit, error)
	DiagnosticsFunc func(ctx context.Context, req Request) ([]Diagnostic, error)
}

func (f BackendFuncs) Complete(ctx context.Context, req Request) (editor.CompletionList, error) {
	if f.CompleteFunc == nil {
		return editor.CompletionList{}, ErrNotSupported
	}
	return f.CompleteFunc(ctx, req)
}

func (f BackendFuncs) Hover(ctx context.Context, req Request) (*editor.Hover, error) {
	if f.HoverFunc == nil {
		return nil, ErrNotSupported
	}
	return f.HoverFunc(ctx, req)
}

func (f BackendFuncs) Format(ctx context.Context, req Request) ([]editor.TextEdit, error) {
	if f.FormatFunc == nil {
		return nil, ErrNotSupported
	}
	return f.FormatFunc(ctx, req)
}

func (f BackendFuncs) Diagnostics(ctx context.Context, req Request) ([]Diagnostic, error) {
	if f.DiagnosticsFunc == nil {
		return nil, ErrNotSupported
	}
	return f.DiagnosticsFunc(ctx, req)
}

// Router dispatches to a backend chosen by language id.
type Router struct {
	byLanguage map[string]Backend
	fallback   Backend
}

// NewRouter creates a router. fallback may be nil.
func NewRouter(fallback Backend) *Router {
	return &Router{byLanguage: make(map[string]Backend), fallback: fallback}
}

// Handle routes languageID to b. It must be called before the router is
// shared.
func (r *Router) Handle(languageID string, b Backend) {
	r.byLanguage[strings.TrimSpace(languageID)] = b
}

// Languages lists explicitly routed language ids.
func (r *Router) Languages() []string {
	out := make([]string, 0, len(r.byLanguage))
	for id := range r.byLanguage {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Route returns the backend for languageID.
func (r *Router) Route(languageID string) (Backend, error) {
	if b, ok := r.byLanguage[languageID]; ok && b != nil {
		return b, nil
	}
	if r.fallback != nil {
		return r.fallback, nil
	}
	return nil, ErrBackendUnavailable
}

func (r *Router) Complete(ctx context.Context, req Request) (editor.CompletionList, error) {
	b, err := r.Route(req.LanguageID)
	if err != nil {
		return editor.CompletionList{}, err
	}
	return b.Complete(ctx, req)
}

func (r *Router) Hover(ctx context.Context, req Request) (*editor.Hover, error) {
	b, err := r.Route(req.LanguageID)
	if err != nil {
		return nil, err
	}
	return b.Hover(ctx, req)
}

func (r *Router) Format(ctx context.Context, req Request) ([]editor.TextEdit, error) {
	b, err := r.Route(req.LanguageID)
	if err != nil {
		return nil, err
	}
	return b.Format(ctx, req)
}

func (r *Router) Diagnostics(ctx context.Context, req Request) ([]Diagnostic, error) {
	b, err := r.Route(req.LanguageID)
	if err != nil {
		return nil, err
	}
	return b.Diagnostics(ctx, req)
}
