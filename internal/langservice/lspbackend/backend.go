package lspbackend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.lsp.dev/protocol"

	"github.com/nupi-ai/edbridge/internal/editor"
	"github.com/nupi-ai/edbridge/internal/langservice"
)

var _ langservice.Backend = (*Client)(nil)

func (c *Client) syncRequest(ctx context.Context, req langservice.Request) error {
	doc := req.Document
	return c.sync(ctx, doc.URI, doc.LanguageID, int32(doc.Version), doc.Text)
}

func positionParams(req langservice.Request) protocol.TextDocumentPositionParams {
	return protocol.TextDocumentPositionParams{
		TextDocument: protocol.TextDocumentIdentifier{URI: protocol.DocumentURI(req.Document.URI)},
		Position:     toProtocolPosition(req.Position),
	}
}

// Complete implements langservice.Backend.
func (c *Client) Complete(ctx context.Context, req langservice.Request) (editor.CompletionList, error) {
	if err := c.syncRequest(ctx, req); err != nil {
		return editor.CompletionList{}, err
	}

	params := &protocol.CompletionParams{
		TextDocumentPositionParams: positionParams(req),
		Context:                    &protocol.CompletionContext{TriggerKind: protocol.CompletionTriggerKindInvoked},
	}
	var raw json.RawMessage
	if _, err := c.conn.Call(ctx, protocol.MethodTextDocumentCompletion, params, &raw); err != nil {
		return editor.CompletionList{}, fmt.Errorf("lspbackend: completion: %w", err)
	}
	return decodeCompletion(raw)
}

// Hover implements langservice.Backend.
func (c *Client) Hover(ctx context.Context, req langservice.Request) (*editor.Hover, error) {
	if err := c.syncRequest(ctx, req); err != nil {
		return nil, err
	}

	params := &protocol.HoverParams{TextDocumentPositionParams: positionParams(req)}
	var raw json.RawMessage
	if _, err := c.conn.Call(ctx, protocol.MethodTextDocumentHover, params, &raw); err != nil {
		return nil, fmt.Errorf("lspbackend: hover: %w", err)
	}
	return decodeHover(raw)
}

// Format implements langservice.Backend.
func (c *Client) Format(ctx context.Context, req langservice.Request) ([]editor.TextEdit, error) {
	if err := c.syncRequest(ctx, req); err != nil {
		return nil, err
	}

	opts := req.Formatting
	if opts.TabSize <= 0 {
		opts = editor.DefaultFormattingOptions()
	}
	params := &protocol.DocumentFormattingParams{
		TextDocument: protocol.TextDocumentIdentifier{URI: protocol.DocumentURI(req.Document.URI)},
		Options: protocol.FormattingOptions{
			TabSize:      uint32(opts.TabSize),
			InsertSpaces: opts.InsertSpaces,
		},
	}
	var edits []protocol.TextEdit
	if _, err := c.conn.Call(ctx, protocol.MethodTextDocumentFormatting, params, &edits); err != nil {
		return nil, fmt.Errorf("lspbackend: formatting: %w", err)
	}

	out := make([]editor.TextEdit, 0, len(edits))
	for _, e := range edits {
		out = append(out, editor.TextEdit{Range: fromProtocolRange(e.Range), Text: e.NewText})
	}
	return out, nil
}

// Diagnostics implements langservice.Backend. It syncs the document and
// waits for the server to publish diagnostics for that version.
func (c *Client) Diagnostics(ctx context.Context, req langservice.Request) ([]langservice.Diagnostic, error) {
	if err := c.syncRequest(ctx, req); err != nil {
		return nil, err
	}

	items, err := c.waitDiagnostics(ctx, req.Document.URI, int32(req.Document.Version))
	if err != nil {
		return nil, err
	}

	out := make([]langservice.Diagnostic, 0, len(items))
	for _, d := range items {
		diag := langservice.Diagnostic{
			Range:   fromProtocolRange(d.Range),
			Message: d.Message,
			Source:  d.Source,
		}
		if d.Code != nil {
			diag.Code = fmt.Sprint(d.Code)
		}
		out = append(out, diag)
	}
	return out, nil
}

func toProtocolPosition(p editor.Position) protocol.Position {
	line, col := p.LineNumber-1, p.Column-1
	if line < 0 {
		line = 0
	}
	if col < 0 {
		col = 0
	}
	return protocol.Position{Line: uint32(line), Character: uint32(col)}
}

func fromProtocolPosition(p protocol.Position) editor.Position {
	return editor.Position{LineNumber: int(p.Line) + 1, Column: int(p.Character) + 1}
}

func fromProtocolRange(r protocol.Range) editor.Range {
	return editor.NewRange(fromProtocolPosition(r.Start), fromProtocolPosition(r.End))
}

func isNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

// decodeCompletion accepts both a CompletionList and a bare item array.
func decodeCompletion(raw json.RawMessage) (editor.CompletionList, error) {
	if isNull(raw) {
		return editor.CompletionList{}, nil
	}

	var list protocol.CompletionList
	if bytes.HasPrefix(bytes.TrimSpace(raw), []byte("[")) {
		if err := json.Unmarshal(raw, &list.Items); err != nil {
			return editor.CompletionList{}, fmt.Errorf("lspbackend: decode completion items: %w", err)
		}
	} else if err := json.Unmarshal(raw, &list); err != nil {
		return editor.CompletionList{}, fmt.Errorf("lspbackend: decode completion list: %w", err)
	}

	out := editor.CompletionList{
		Suggestions: make([]editor.CompletionItem, 0, len(list.Items)),
		Incomplete:  list.IsIncomplete,
	}
	for _, item := range list.Items {
		sug := editor.CompletionItem{
			Label:         item.Label,
			Kind:          completionKind(item.Kind),
			Detail:        item.Detail,
			Documentation: documentationText(item.Documentation),
			InsertText:    item.InsertText,
			SortText:      item.SortText,
		}
		if item.TextEdit != nil {
			r := fromProtocolRange(item.TextEdit.Range)
			sug.Range = &r
			sug.InsertText = item.TextEdit.NewText
		}
		if sug.InsertText == "" {
			sug.InsertText = item.Label
		}
		out.Suggestions = append(out.Suggestions, sug)
	}
	return out, nil
}

func completionKind(k protocol.CompletionItemKind) editor.CompletionItemKind {
	switch k {
	case protocol.CompletionItemKindMethod:
		return editor.KindMethod
	case protocol.CompletionItemKindFunction, protocol.CompletionItemKindConstructor:
		return editor.KindFunction
	case protocol.CompletionItemKindField:
		return editor.KindField
	case protocol.CompletionItemKindVariable, protocol.CompletionItemKindConstant:
		return editor.KindVariable
	case protocol.CompletionItemKindClass, protocol.CompletionItemKindInterface, protocol.CompletionItemKindStruct:
		return editor.KindClass
	case protocol.CompletionItemKindProperty:
		return editor.KindProperty
	case protocol.CompletionItemKindKeyword:
		return editor.KindKeyword
	case protocol.CompletionItemKindSnippet:
		return editor.KindSnippet
	default:
		return editor.KindText
	}
}

// documentationText flattens string | MarkupContent.
func documentationText(doc any) string {
	switch v := doc.(type) {
	case nil:
		return ""
	case string:
		return v
	case map[string]any:
		if s, ok := v["value"].(string); ok {
			return s
		}
	}
	return ""
}

type rawHover struct {
	Contents json.RawMessage `json:"contents"`
	Range    *protocol.Range `json:"range,omitempty"`
}

type markedString struct {
	Language string `json:"language"`
	Value    string `json:"value"`
}

// decodeHover accepts MarkupContent, a MarkedString, or an array of them.
func decodeHover(raw json.RawMessage) (*editor.Hover, error) {
	if isNull(raw) {
		return nil, nil
	}

	var h rawHover
	if err := json.Unmarshal(raw, &h); err != nil {
		return nil, fmt.Errorf("lspbackend: decode hover: %w", err)
	}

	var parts []json.RawMessage
	if bytes.HasPrefix(bytes.TrimSpace(h.Contents), []byte("[")) {
		if err := json.Unmarshal(h.Contents, &parts); err != nil {
			return nil, fmt.Errorf("lspbackend: decode hover contents: %w", err)
		}
	} else if !isNull(h.Contents) {
		parts = []json.RawMessage{h.Contents}
	}

	out := &editor.Hover{}
	for _, part := range parts {
		value, err := markedValue(part)
		if err != nil {
			return nil, err
		}
		if strings.TrimSpace(value) != "" {
			out.Contents = append(out.Contents, editor.MarkdownString{Value: value})
		}
	}
	if len(out.Contents) == 0 {
		return nil, nil
	}
	if h.Range != nil {
		r := fromProtocolRange(*h.Range)
		out.Range = &r
	}
	return out, nil
}

func markedValue(raw json.RawMessage) (string, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var ms markedString
	if err := json.Unmarshal(raw, &ms); err != nil {
		return "", fmt.Errorf("lspbackend: decode hover part: %w", err)
	}
	if ms.Language != "" {
		return "```" + ms.Language + "\n" + ms.Value + "\n```", nil
	}
	return ms.Value, nil
}
