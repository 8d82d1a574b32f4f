package editor

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestCreateModelURIs(t *testing.T) {
	e := NewEngine()
	a, _ := e.CreateModel("", "", "")
	b, _ := e.CreateModel("", "", "")
	if a.URI() == b.URI() || !strings.HasPrefix(a.URI(), "inmemory://model/") {
		t.Fatalf("unexpected uris %q %q", a.URI(), b.URI())
	}
	if a.Language() != "plaintext" {
		t.Fatalf("default language = %q", a.Language())
	}

	if _, err := e.CreateModel("", "json", "internal://server/foo.json"); err != nil {
		t.Fatalf("CreateModel() error = %v", err)
	}
	if _, err := e.CreateModel("", "json", "internal://server/foo.json"); !errors.Is(err, ErrModelExists) {
		t.Fatalf("expected ErrModelExists, got %v", err)
	}
}

func TestMarkersReplacedPerOwner(t *testing.T) {
	e := NewEngine()
	m, _ := e.CreateModel("one\ntwo", "csharp", "")

	e.SetModelMarkers(m, "csharp", []Marker{{Message: "a", Range: Range{1, 1, 1, 4}}, {Message: "b", Range: Range{2, 1, 2, 4}}})
	e.SetModelMarkers(m, "json", []Marker{{Message: "other", Range: Range{1, 1, 1, 2}}})
	e.SetModelMarkers(m, "csharp", []Marker{{Message: "c", Range: Range{2, 1, 2, 99}}})

	got := e.ModelMarkers(MarkerFilter{Owner: "csharp"})
	if len(got) != 1 || got[0].Message != "c" {
		t.Fatalf("csharp markers = %+v", got)
	}
	if got[0].EndColumn != 4 {
		t.Fatalf("marker range not clamped: %+v", got[0].Range)
	}
	if got[0].Severity != SeverityError || got[0].Resource != m.URI() {
		t.Fatalf("marker defaults not applied: %+v", got[0])
	}
	if n := len(e.ModelMarkers(MarkerFilter{})); n != 2 {
		t.Fatalf("total markers = %d, want 2", n)
	}

	e.SetModelMarkers(m, "csharp", nil)
	if n := len(e.ModelMarkers(MarkerFilter{Owner: "csharp"})); n != 0 {
		t.Fatalf("csharp markers after clear = %d", n)
	}
}

func TestMarkerJSONShape(t *testing.T) {
	mk := Marker{Owner: "csharp", Severity: SeverityError, Message: "x", Range: Range{1, 2, 3, 4}}
	raw, err := json.Marshal(mk)
	if err != nil {
		t.Fatal(err)
	}
	var flat map[string]any
	if err := json.Unmarshal(raw, &flat); err != nil {
		t.Fatal(err)
	}
	if flat["startLineNumber"] != float64(1) || flat["severity"] != float64(8) {
		t.Fatalf("unexpected marker json %s", raw)
	}
}

func TestEditorModelSwapNotifies(t *testing.T) {
	e := NewEngine()
	c := NewContainer("container")
	ed, err := e.Create(c, CodeEditorOptions{Value: "hi", Language: "csharp"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if ed.Value() != "hi" || ed.Model().Language() != "csharp" {
		t.Fatal("editor model not initialised from options")
	}

	var swaps int
	ed.OnDidChangeModel(func(old, cur *Model) {
		swaps++
		if old == cur {
			t.Fatal("swap reported same model")
		}
	})
	next, _ := e.CreateModel("", "json", "")
	ed.SetModel(next)
	ed.SetModel(next)
	if swaps != 1 {
		t.Fatalf("swaps = %d, want 1", swaps)
	}

	ed.Layout(Dimension{Width: 900, Height: 600})
	if ed.LayoutInfo() != (Dimension{900, 600}) || ed.LayoutCount() != 1 {
		t.Fatalf("layout = %+v", ed.LayoutInfo())
	}

	c.SetSize(700, 500)
	if c.Style.Width != "700px" || c.Size() != (Dimension{700, 500}) {
		t.Fatalf("container style = %+v", c.Style)
	}
}

func TestDiffEditorOptionsAndModels(t *testing.T) {
	e := NewEngine()
	d := e.CreateDiffEditor(NewContainer("container"), DiffEditorOptions{EnableSplitViewResizing: false})
	left, _ := e.CreateModel("", "plaintext", "")
	right, _ := e.CreateModel("", "plaintext", "")
	d.SetModel(DiffModel{Original: left, Modified: right})
	if d.Model().Modified != right || d.Options().EnableSplitViewResizing {
		t.Fatal("diff editor state mismatch")
	}
	d.Dispose()
	if len(e.DiffEditors()) != 0 {
		t.Fatal("disposed diff editor still listed")
	}
}

func TestLanguagesStableAndMerged(t *testing.T) {
	l := DefaultLanguages()
	first := l.All()
	second := l.All()
	if len(first) == 0 || len(first) != len(second) {
		t.Fatal("catalog size changed between calls")
	}
	for i := range first {
		if first[i].ID != second[i].ID {
			t.Fatalf("entry %d changed identity: %s vs %s", i, first[i].ID, second[i].ID)
		}
	}

	l.Register(LanguageExtensionPoint{ID: "csharp", Extensions: []string{".cs", ".csharp"}})
	cs, ok := l.Lookup("csharp")
	if !ok {
		t.Fatal("csharp missing")
	}
	if strings.Join(cs.Extensions, ",") != ".cs,.csx,.cake,.csharp" {
		t.Fatalf("merged extensions = %v", cs.Extensions)
	}
	if got, ok := l.ByExtension(".JSON"); !ok || got.ID != "json" {
		t.Fatalf("ByExtension(.JSON) = %v, %v", got.ID, ok)
	}
}

type stubCompletion struct {
	items []string
	err   error
}

func (s stubCompletion) ProvideCompletionItems(context.Context, Snapshot, Position) (CompletionList, error) {
	if s.err != nil {
		return CompletionList{}, s.err
	}
	var out CompletionList
	for _, label := range s.items {
		out.Suggestions = append(out.Suggestions, CompletionItem{Label: label, InsertText: label})
	}
	return out, nil
}

func TestProvidersRegistryAndCollect(t *testing.T) {
	p := newProviders()
	d1 := p.RegisterCompletionItemProvider("csharp", stubCompletion{items: []string{"Console"}})
	p.RegisterCompletionItemProvider("csharp", stubCompletion{err: errors.New("offline")})
	p.RegisterCompletionItemProvider("json", stubCompletion{items: []string{"$schema"}})

	if n := p.Count(ProviderCompletion, "csharp"); n != 2 {
		t.Fatalf("Count = %d, want 2", n)
	}

	list, err := CollectCompletions(context.Background(), p.Completion("csharp"), Snapshot{}, Position{1, 1})
	if err == nil {
		t.Fatal("expected first provider error to be reported")
	}
	if len(list.Suggestions) != 1 || list.Suggestions[0].Label != "Console" {
		t.Fatalf("suggestions = %+v", list.Suggestions)
	}

	d1.Dispose()
	if n := p.Count(ProviderCompletion, "csharp"); n != 1 {
		t.Fatalf("Count after dispose = %d, want 1", n)
	}
}

func TestSchemaAssociationMatches(t *testing.T) {
	a := SchemaAssociation{FileMatch: []string{"foo.json"}}
	if !a.Matches("internal://server/foo.json") {
		t.Fatal("expected foo.json to match")
	}
	if a.Matches("inmemory://model/123") {
		t.Fatal("unexpected match for in-memory model")
	}
	star := SchemaAssociation{FileMatch: []string{"*.json"}}
	if !star.Matches("file:///tmp/config.json") {
		t.Fatal("expected glob match")
	}
}
