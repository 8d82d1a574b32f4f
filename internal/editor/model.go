package editor

import (
	"fmt"
	"sort"
)

// Model is a text buffer with a language and a URI identity.
type Model struct {
	engine   *Engine
	uri      string
	language string
	buf      *textBuffer
	version  int
	disposed bool

	nextListener    uint64
	listeners       map[uint64]func(ChangeEvent)
	disposeHandlers []func()
}

func newModel(engine *Engine, uri, language, value string) *Model {
	return &Model{
		engine:    engine,
		uri:       uri,
		language:  language,
		buf:       newTextBuffer(value),
		version:   1,
		listeners: make(map[uint64]func(ChangeEvent)),
	}
}

// URI returns the model identity.
func (m *Model) URI() string { return m.uri }

// Language returns the model's language id.
func (m *Model) Language() string { return m.language }

// Value returns the full text.
func (m *Model) Value() string { return m.buf.text }

// VersionID increases on every content change.
func (m *Model) VersionID() int { return m.version }

// IsDisposed reports whether Dispose has been called.
func (m *Model) IsDisposed() bool { return m.disposed }

// LineCount returns the number of lines.
func (m *Model) LineCount() int { return m.buf.lineCount() }

// LineContent returns line n without its terminator.
func (m *Model) LineContent(n int) string { return m.buf.lineContent(n) }

// FullRange spans the whole text.
func (m *Model) FullRange() Range { return m.buf.fullRange() }

// OffsetAt converts a position to a byte offset.
func (m *Model) OffsetAt(pos Position) int { return m.buf.offsetAt(pos) }

// PositionAt converts a byte offset to a position.
func (m *Model) PositionAt(offset int) Position { return m.buf.positionAt(offset) }

// ValidatePosition clamps pos into the text.
func (m *Model) ValidatePosition(pos Position) Position { return m.buf.validate(pos) }

// Snapshot copies the current state.
func (m *Model) Snapshot() Snapshot {
	return Snapshot{
		URI:        m.uri,
		LanguageID: m.language,
		Version:    m.version,
		Text:       m.buf.text,
	}
}

// SetValue replaces the whole text. Listeners are notified even when the
// text is unchanged, matching one notification per call.
func (m *Model) SetValue(text string) error {
	if m.disposed {
		return fmt.Errorf("%w: %s", ErrModelDisposed, m.uri)
	}
	full := m.buf.fullRange()
	oldLen := len(m.buf.text)
	m.buf = newTextBuffer(text)
	m.version++
	m.emit(ChangeEvent{
		VersionID: m.version,
		IsFlush:   true,
		Changes: []ContentChange{{
			Range:       full,
			RangeOffset: 0,
			RangeLength: oldLen,
			Text:        text,
		}},
	})
	return nil
}

// ApplyEdits applies non-overlapping edits atomically and emits one change
// event.
func (m *Model) ApplyEdits(edits []TextEdit) error {
	if m.disposed {
		return fmt.Errorf("%w: %s", ErrModelDisposed, m.uri)
	}
	if len(edits) == 0 {
		return nil
	}

	type span struct {
		start, end int
		edit       TextEdit
	}
	spans := make([]span, 0, len(edits))
	for _, e := range edits {
		if e.Range.End().Before(e.Range.Start()) {
			return fmt.Errorf("%w: %+v", ErrInvalidRange, e.Range)
		}
		spans = append(spans, span{
			start: m.buf.offsetAt(e.Range.Start()),
			end:   m.buf.offsetAt(e.Range.End()),
			edit:  e,
		})
	}
	sort.SliceStable(spans, func(i, j int) bool { return spans[i].start < spans[j].start })
	for i := 1; i < len(spans); i++ {
		if spans[i].start < spans[i-1].end {
			return fmt.Errorf("%w: overlapping edits", ErrInvalidRange)
		}
	}

	changes := make([]ContentChange, 0, len(spans))
	text := m.buf.text
	// Apply back to front so earlier offsets stay valid.
	for i := len(spans) - 1; i >= 0; i-- {
		s := spans[i]
		text = text[:s.start] + s.edit.Text + text[s.end:]
		changes = append(changes, ContentChange{
			Range:       NewRange(m.buf.positionAt(s.start), m.buf.positionAt(s.end)),
			RangeOffset: s.start,
			RangeLength: s.end - s.start,
			Text:        s.edit.Text,
		})
	}

	m.buf = newTextBuffer(text)
	m.version++
	m.emit(ChangeEvent{VersionID: m.version, Changes: changes})
	return nil
}

// OnDidChangeContent registers fn for every content change until the
// returned Disposable is released or the model is disposed.
func (m *Model) OnDidChangeContent(fn func(ChangeEvent)) Disposable {
	if m.disposed || fn == nil {
		return DisposableFunc(nil)
	}
	m.nextListener++
	id := m.nextListener
	m.listeners[id] = fn
	return DisposableFunc(func() {
		delete(m.listeners, id)
	})
}

// ListenerCount reports how many content listeners are attached.
func (m *Model) ListenerCount() int {
	return len(m.listeners)
}

// OnWillDispose registers fn to run when the model is disposed.
func (m *Model) OnWillDispose(fn func()) {
	if fn != nil && !m.disposed {
		m.disposeHandlers = append(m.disposeHandlers, fn)
	}
}

// Dispose drops every listener, removes the model from its engine and
// clears its markers.
func (m *Model) Dispose() {
	if m.disposed {
		return
	}
	handlers := m.disposeHandlers
	m.disposeHandlers = nil
	for _, fn := range handlers {
		fn()
	}
	m.disposed = true
	m.listeners = make(map[uint64]func(ChangeEvent))
	if m.engine != nil {
		m.engine.removeModel(m)
	}
}

func (m *Model) emit(ev ChangeEvent) {
	ids := make([]uint64, 0, len(m.listeners))
	for id := range m.listeners {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		fn, ok := m.listeners[id]
		if !ok {
			continue
		}
		fn(ev)
		if m.disposed {
			return
		}
	}
}
