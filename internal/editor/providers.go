package editor

import (
	"context"
	"sort"
)

// CompletionItemKind follows the embedded editor's numbering.
type CompletionItemKind int

const (
	KindMethod   CompletionItemKind = 0
	KindFunction CompletionItemKind = 1
	KindField    CompletionItemKind = 3
	KindVariable CompletionItemKind = 4
	KindClass    CompletionItemKind = 5
	KindProperty CompletionItemKind = 9
	KindKeyword  CompletionItemKind = 17
	KindText     CompletionItemKind = 18
	KindSnippet  CompletionItemKind = 27
)

// CompletionItem is one suggestion.
type CompletionItem struct {
	Label         string             `json:"label"`
	Kind          CompletionItemKind `json:"kind"`
	Detail        string             `json:"detail,omitempty"`
	Documentation string             `json:"documentation,omitempty"`
	InsertText    string             `json:"insertText"`
	SortText      string             `json:"sortText,omitempty"`
	Range         *Range             `json:"range,omitempty"`
}

// CompletionList is a provider's answer.
type CompletionList struct {
	Suggestions []CompletionItem `json:"suggestions"`
	Incomplete  bool             `json:"incomplete,omitempty"`
}

// MarkdownString is a hover content block.
type MarkdownString struct {
	Value string `json:"value"`
}

// Hover is a provider's hover answer.
type Hover struct {
	Contents []MarkdownString `json:"contents"`
	Range    *Range           `json:"range,omitempty"`
}

// FormattingOptions mirrors the editor's formatting request.
type FormattingOptions struct {
	TabSize      int  `json:"tabSize"`
	InsertSpaces bool `json:"insertSpaces"`
}

// DefaultFormattingOptions returns four-space indentation.
func DefaultFormattingOptions() FormattingOptions {
	return FormattingOptions{TabSize: 4, InsertSpaces: true}
}

// CompletionProvider answers completion requests. Providers run off the
// editor loop and receive a snapshot rather than the live model.
type CompletionProvider interface {
	ProvideCompletionItems(ctx context.Context, doc Snapshot, pos Position) (CompletionList, error)
}

// HoverProvider answers hover requests. A nil Hover means nothing to show.
type HoverProvider interface {
	ProvideHover(ctx context.Context, doc Snapshot, pos Position) (*Hover, error)
}

// FormattingProvider answers whole-document formatting requests.
type FormattingProvider interface {
	ProvideDocumentFormattingEdits(ctx context.Context, doc Snapshot, opts FormattingOptions) ([]TextEdit, error)
}

// ProviderKind names a provider registry.
type ProviderKind string

const (
	ProviderCompletion ProviderKind = "completion"
	ProviderHover      ProviderKind = "hover"
	ProviderFormatting ProviderKind = "formatting"
)

type providerEntry struct {
	id       uint64
	language string
	value    any
}

// Providers holds registered language providers by kind and language id.
type Providers struct {
	nextID  uint64
	entries map[ProviderKind]map[uint64]providerEntry
}

func newProviders() *Providers {
	return &Providers{entries: make(map[ProviderKind]map[uint64]providerEntry)}
}

func (p *Providers) register(kind ProviderKind, language string, value any) Disposable {
	p.nextID++
	id := p.nextID
	if p.entries[kind] == nil {
		p.entries[kind] = make(map[uint64]providerEntry)
	}
	p.entries[kind][id] = providerEntry{id: id, language: language, value: value}
	return DisposableFunc(func() { delete(p.entries[kind], id) })
}

func (p *Providers) list(kind ProviderKind, language string) []any {
	var matched []providerEntry
	for _, e := range p.entries[kind] {
		if e.language == language {
			matched = append(matched, e)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].id < matched[j].id })
	out := make([]any, len(matched))
	for i, e := range matched {
		out[i] = e.value
	}
	return out
}

// RegisterCompletionItemProvider adds a completion provider for language.
func (p *Providers) RegisterCompletionItemProvider(language string, provider CompletionProvider) Disposable {
	return p.register(ProviderCompletion, language, provider)
}

// RegisterHoverProvider adds a hover provider for language.
func (p *Providers) RegisterHoverProvider(language string, provider HoverProvider) Disposable {
	return p.register(ProviderHover, language, provider)
}

// RegisterDocumentFormattingEditProvider adds a formatting provider for language.
func (p *Providers) RegisterDocumentFormattingEditProvider(language string, provider FormattingProvider) Disposable {
	return p.register(ProviderFormatting, language, provider)
}

// Count reports how many providers of kind serve language.
func (p *Providers) Count(kind ProviderKind, language string) int {
	return len(p.list(kind, language))
}

// Completion returns completion providers for language in registration order.
func (p *Providers) Completion(language string) []CompletionProvider {
	var out []CompletionProvider
	for _, v := range p.list(ProviderCompletion, language) {
		out = append(out, v.(CompletionProvider))
	}
	return out
}

// Hover returns hover providers for language in registration order.
func (p *Providers) Hover(language string) []HoverProvider {
	var out []HoverProvider
	for _, v := range p.list(ProviderHover, language) {
		out = append(out, v.(HoverProvider))
	}
	return out
}

// Formatting returns formatting providers for language in registration order.
func (p *Providers) Formatting(language string) []FormattingProvider {
	var out []FormattingProvider
	for _, v := range p.list(ProviderFormatting, language) {
		out = append(out, v.(FormattingProvider))
	}
	return out
}

// CollectCompletions asks every provider and concatenates the suggestions.
// Failing providers contribute nothing; the first error is returned
// alongside whatever was collected.
func CollectCompletions(ctx context.Context, providers []CompletionProvider, doc Snapshot, pos Position) (CompletionList, error) {
	var (
		out      = CompletionList{Suggestions: []CompletionItem{}}
		firstErr error
	)
	for _, p := range providers {
		list, err := p.ProvideCompletionItems(ctx, doc, pos)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		out.Suggestions = append(out.Suggestions, list.Suggestions...)
		out.Incomplete = out.Incomplete || list.Incomplete
	}
	return out, firstErr
}

// CollectHover returns the merged contents of every provider's answer, or
// nil when none had anything to show.
func CollectHover(ctx context.Context, providers []HoverProvider, doc Snapshot, pos Position) (*Hover, error) {
	var (
		out      *Hover
		firstErr error
	)
	for _, p := range providers {
		h, err := p.ProvideHover(ctx, doc, pos)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if h == nil || len(h.Contents) == 0 {
			continue
		}
		if out == nil {
			out = &Hover{Range: h.Range}
		}
		out.Contents = append(out.Contents, h.Contents...)
	}
	return out, firstErr
}

// FirstFormatting returns the edits of the first provider that answers
// without error.
func FirstFormatting(ctx context.Context, providers []FormattingProvider, doc Snapshot, opts FormattingOptions) ([]TextEdit, error) {
	var firstErr error
	for _, p := range providers {
		edits, err := p.ProvideDocumentFormattingEdits(ctx, doc, opts)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		return edits, nil
	}
	return nil, firstErr
}
