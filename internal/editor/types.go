// Package editor is an in-memory code editor engine: text models, code and
// diff editors, a marker store, language provider registries and the JSON
// language defaults. It is not safe for concurrent use; every call must come
// from the owning loop.
package editor

import (
	"errors"
	"fmt"
)

var (
	// ErrModelExists is returned when creating a model at a URI already in use.
	ErrModelExists = errors.New("editor: model already exists")
	// ErrModelDisposed is returned when mutating a disposed model.
	ErrModelDisposed = errors.New("editor: model disposed")
	// ErrInvalidRange is returned for edits outside the model.
	ErrInvalidRange = errors.New("editor: invalid range")
)

// Position is a 1-based line and column. Columns count UTF-16 code units.
type Position struct {
	LineNumber int `json:"lineNumber"`
	Column     int `json:"column"`
}

func (p Position) String() string {
	return fmt.Sprintf("%d:%d", p.LineNumber, p.Column)
}

// Before reports whether p sorts before other.
func (p Position) Before(other Position) bool {
	if p.LineNumber != other.LineNumber {
		return p.LineNumber < other.LineNumber
	}
	return p.Column < other.Column
}

// Range is an inclusive start, exclusive end span of positions.
type Range struct {
	StartLineNumber int `json:"startLineNumber"`
	StartColumn     int `json:"startColumn"`
	EndLineNumber   int `json:"endLineNumber"`
	EndColumn       int `json:"endColumn"`
}

// Start returns the range's start position.
func (r Range) Start() Position { return Position{r.StartLineNumber, r.StartColumn} }

// End returns the range's end position.
func (r Range) End() Position { return Position{r.EndLineNumber, r.EndColumn} }

// IsEmpty reports whether the range covers no text.
func (r Range) IsEmpty() bool { return r.Start() == r.End() }

// NewRange builds a range from two positions.
func NewRange(start, end Position) Range {
	return Range{
		StartLineNumber: start.LineNumber,
		StartColumn:     start.Column,
		EndLineNumber:   end.LineNumber,
		EndColumn:       end.Column,
	}
}

// MarkerSeverity uses the embedded editor's numeric values.
type MarkerSeverity int

const (
	SeverityHint    MarkerSeverity = 1
	SeverityInfo    MarkerSeverity = 2
	SeverityWarning MarkerSeverity = 4
	SeverityError   MarkerSeverity = 8
)

func (s MarkerSeverity) String() string {
	switch s {
	case SeverityHint:
		return "hint"
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	default:
		return fmt.Sprintf("severity(%d)", int(s))
	}
}

// Marker is a diagnostic attached to a model under an owner tag.
type Marker struct {
	Owner    string         `json:"owner"`
	Resource string         `json:"resource"`
	Severity MarkerSeverity `json:"severity"`
	Message  string         `json:"message"`
	Source   string         `json:"source,omitempty"`
	Code     string         `json:"code,omitempty"`
	Range
}

// TextEdit replaces Range with Text.
type TextEdit struct {
	Range Range  `json:"range"`
	Text  string `json:"text"`
}

// Dimension is an editor layout size in pixels.
type Dimension struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// ContentChange describes one replaced span in a change event.
type ContentChange struct {
	Range       Range  `json:"range"`
	RangeOffset int    `json:"rangeOffset"`
	RangeLength int    `json:"rangeLength"`
	Text        string `json:"text"`
}

// ChangeEvent is delivered to content listeners after an edit is applied.
type ChangeEvent struct {
	VersionID int             `json:"versionId"`
	Changes   []ContentChange `json:"changes"`
	IsFlush   bool            `json:"isFlush"`
}

// Disposable releases a registration.
type Disposable interface {
	Dispose()
}

// DisposableFunc adapts a function to Disposable. Calling Dispose more than
// once runs the function once per call; callers wrap it when that matters.
type DisposableFunc func()

func (f DisposableFunc) Dispose() {
	if f != nil {
		f()
	}
}

// Disposables collects registrations released together.
type Disposables []Disposable

// Add appends d.
func (ds *Disposables) Add(d Disposable) {
	if d != nil {
		*ds = append(*ds, d)
	}
}

// Dispose releases every registration in reverse order and empties the set.
func (ds *Disposables) Dispose() {
	for i := len(*ds) - 1; i >= 0; i-- {
		(*ds)[i].Dispose()
	}
	*ds = nil
}

// Snapshot is an immutable copy of a model's state, safe to hand to other
// goroutines.
type Snapshot struct {
	URI        string `json:"uri"`
	LanguageID string `json:"languageId"`
	Version    int    `json:"version"`
	Text       string `json:"text"`
}
