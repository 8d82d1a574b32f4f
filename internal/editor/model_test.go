package editor

import (
	"errors"
	"strings"
	"testing"
)

func TestSetValueNotifiesOncePerCall(t *testing.T) {
	e := NewEngine()
	m, err := e.CreateModel("", "plaintext", "")
	if err != nil {
		t.Fatalf("CreateModel() error = %v", err)
	}

	var got []string
	m.OnDidChangeContent(func(ChangeEvent) { got = append(got, m.Value()) })

	inputs := []string{"a", "a", "", "line1\nline2"}
	for _, in := range inputs {
		if err := m.SetValue(in); err != nil {
			t.Fatalf("SetValue(%q) error = %v", in, err)
		}
	}
	if strings.Join(got, "|") != strings.Join(inputs, "|") {
		t.Fatalf("notifications = %q, want %q", got, inputs)
	}
	if m.VersionID() != 1+len(inputs) {
		t.Fatalf("VersionID = %d", m.VersionID())
	}
}

func TestListenerDisposeStopsNotifications(t *testing.T) {
	e := NewEngine()
	m, _ := e.CreateModel("x", "", "")
	calls := 0
	d := m.OnDidChangeContent(func(ChangeEvent) { calls++ })
	_ = m.SetValue("y")
	d.Dispose()
	_ = m.SetValue("z")
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
	if m.ListenerCount() != 0 {
		t.Fatalf("ListenerCount = %d", m.ListenerCount())
	}
}

func TestApplyEditsUTF16Columns(t *testing.T) {
	e := NewEngine()
	m, _ := e.CreateModel("a😀b\nsecond", "", "")

	// The emoji is two UTF-16 units, so "b" sits at column 4.
	err := m.ApplyEdits([]TextEdit{
		{Range: Range{1, 4, 1, 5}, Text: "B"},
		{Range: Range{2, 1, 2, 7}, Text: "2nd"},
	})
	if err != nil {
		t.Fatalf("ApplyEdits() error = %v", err)
	}
	if got := m.Value(); got != "a😀B\n2nd" {
		t.Fatalf("Value() = %q", got)
	}
}

func TestApplyEditsRejectsOverlap(t *testing.T) {
	e := NewEngine()
	m, _ := e.CreateModel("abcdef", "", "")
	err := m.ApplyEdits([]TextEdit{
		{Range: Range{1, 1, 1, 4}, Text: "x"},
		{Range: Range{1, 3, 1, 5}, Text: "y"},
	})
	if !errors.Is(err, ErrInvalidRange) {
		t.Fatalf("expected ErrInvalidRange, got %v", err)
	}
	if m.Value() != "abcdef" {
		t.Fatal("model mutated by rejected edits")
	}
}

func TestPositionOffsetRoundTrip(t *testing.T) {
	e := NewEngine()
	m, _ := e.CreateModel("ab\r\ncd\nef", "", "")
	cases := []struct {
		pos    Position
		offset int
	}{
		{Position{1, 1}, 0},
		{Position{1, 3}, 2},
		{Position{2, 1}, 4},
		{Position{3, 3}, 9},
	}
	for _, tc := range cases {
		if got := m.OffsetAt(tc.pos); got != tc.offset {
			t.Fatalf("OffsetAt(%v) = %d, want %d", tc.pos, got, tc.offset)
		}
		if got := m.PositionAt(tc.offset); got != tc.pos {
			t.Fatalf("PositionAt(%d) = %v, want %v", tc.offset, got, tc.pos)
		}
	}
	if got := m.ValidatePosition(Position{9, 9}); got != (Position{3, 3}) {
		t.Fatalf("ValidatePosition clamp = %v", got)
	}
}

func TestDisposeClearsMarkersAndListeners(t *testing.T) {
	e := NewEngine()
	m, _ := e.CreateModel("x", "csharp", "")
	m.OnDidChangeContent(func(ChangeEvent) { t.Fatal("listener on disposed model fired") })
	e.SetModelMarkers(m, "csharp", []Marker{{Message: "bad", Range: Range{1, 1, 1, 2}}})

	var cleared []string
	e.OnDidChangeMarkers(func(uri, owner string) { cleared = append(cleared, owner) })

	m.Dispose()
	if len(e.ModelMarkers(MarkerFilter{Resource: m.URI()})) != 0 {
		t.Fatal("markers survived dispose")
	}
	if len(cleared) != 1 || cleared[0] != "csharp" {
		t.Fatalf("marker change notifications = %v", cleared)
	}
	if err := m.SetValue("y"); !errors.Is(err, ErrModelDisposed) {
		t.Fatalf("SetValue on disposed model error = %v", err)
	}
	if _, ok := e.Model(m.URI()); ok {
		t.Fatal("disposed model still registered")
	}
}
