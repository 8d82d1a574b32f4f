package session

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nupi-ai/edbridge/internal/editor"
)

// Languages returns the language catalogue as the JSON array the editor
// serializes: id, extensions, aliases and mimetypes per entry.
func (s *Session) Languages() (string, error) {
	data, err := json.Marshal(s.engine.Languages().All())
	if err != nil {
		return "", fmt.Errorf("session: encode languages: %w", err)
	}
	return string(data), nil
}

// Markers returns every marker on the primary model, across owners.
func (s *Session) Markers() ([]editor.Marker, error) {
	m, err := s.active()
	if err != nil {
		return nil, err
	}
	return s.engine.ModelMarkers(editor.MarkerFilter{Resource: m.URI()}), nil
}

// CompletionFunc runs a completion request off the loop.
type CompletionFunc func(ctx context.Context) (editor.CompletionList, error)

// HoverFunc runs a hover request off the loop.
type HoverFunc func(ctx context.Context) (*editor.Hover, error)

// FormatFunc runs a formatting request off the loop.
type FormatFunc func(ctx context.Context) (FormatResult, error)

// FormatResult carries formatting edits and the model state they target.
type FormatResult struct {
	URI     string            `json:"uri"`
	Version int               `json:"version"`
	Edits   []editor.TextEdit `json:"edits"`
}

// Complete snapshots the primary model and returns the provider call to
// run off the loop. pos is validated against the current text.
func (s *Session) Complete(pos editor.Position) (CompletionFunc, error) {
	m, err := s.active()
	if err != nil {
		return nil, err
	}
	doc := m.Snapshot()
	pos = m.ValidatePosition(pos)
	providers := s.engine.Providers().Completion(doc.LanguageID)
	timeout := s.timeout

	return func(ctx context.Context) (editor.CompletionList, error) {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		return editor.CollectCompletions(ctx, providers, doc, pos)
	}, nil
}

// Hover snapshots the primary model and returns the provider call to run
// off the loop.
func (s *Session) Hover(pos editor.Position) (HoverFunc, error) {
	m, err := s.active()
	if err != nil {
		return nil, err
	}
	doc := m.Snapshot()
	pos = m.ValidatePosition(pos)
	providers := s.engine.Providers().Hover(doc.LanguageID)
	timeout := s.timeout

	return func(ctx context.Context) (*editor.Hover, error) {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		return editor.CollectHover(ctx, providers, doc, pos)
	}, nil
}

// Format snapshots the primary model and returns the provider call to run
// off the loop. Apply the result with ApplyFormatting.
func (s *Session) Format(opts editor.FormattingOptions) (FormatFunc, error) {
	m, err := s.active()
	if err != nil {
		return nil, err
	}
	if opts.TabSize <= 0 {
		opts = editor.DefaultFormattingOptions()
	}
	doc := m.Snapshot()
	providers := s.engine.Providers().Formatting(doc.LanguageID)
	timeout := s.timeout

	return func(ctx context.Context) (FormatResult, error) {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		edits, err := editor.FirstFormatting(ctx, providers, doc, opts)
		return FormatResult{URI: doc.URI, Version: doc.Version, Edits: edits}, err
	}, nil
}

// ApplyFormatting applies res if the primary model is unchanged since the
// snapshot was taken. It reports whether the edits were applied.
func (s *Session) ApplyFormatting(res FormatResult) (bool, error) {
	m, err := s.active()
	if err != nil {
		return false, err
	}
	if m.URI() != res.URI || m.VersionID() != res.Version {
		s.logger.Printf("[session] formatting for %s v%d dropped: model is now %s v%d", res.URI, res.Version, m.URI(), m.VersionID())
		return false, nil
	}
	if len(res.Edits) == 0 {
		return false, nil
	}
	if err := m.ApplyEdits(res.Edits); err != nil {
		return false, fmt.Errorf("session: apply formatting: %w", err)
	}
	return true, nil
}
