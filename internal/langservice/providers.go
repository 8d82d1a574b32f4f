package langservice

import (
	"context"

	"github.com/nupi-ai/edbridge/internal/editor"
)

// Providers forward to the backend with the registration's current context
// id. Backend failures are logged and degrade to an empty answer.

type completionProvider struct {
	r   *Registry
	reg *Registration
}

func (p *completionProvider) ProvideCompletionItems(ctx context.Context, doc editor.Snapshot, pos editor.Position) (editor.CompletionList, error) {
	p.reg.completes.Add(1)
	ctx, cancel := context.WithTimeout(ctx, p.r.timeout)
	defer cancel()

	list, err := guard("completion", func() (editor.CompletionList, error) {
		return p.r.backend.Complete(ctx, p.request(doc, pos))
	})
	if err != nil {
		p.r.logger.Printf("[langservice] %s completion failed: %v", p.reg.languageID, err)
		return editor.CompletionList{Suggestions: []editor.CompletionItem{}}, nil
	}
	if list.Suggestions == nil {
		list.Suggestions = []editor.CompletionItem{}
	}
	return list, nil
}

func (p *completionProvider) request(doc editor.Snapshot, pos editor.Position) Request {
	return Request{
		ContextID:  p.reg.ContextID(),
		LanguageID: p.reg.languageID,
		Document:   doc,
		Position:   pos,
	}
}

type hoverProvider struct {
	r   *Registry
	reg *Registration
}

func (p *hoverProvider) ProvideHover(ctx context.Context, doc editor.Snapshot, pos editor.Position) (*editor.Hover, error) {
	ctx, cancel := context.WithTimeout(ctx, p.r.timeout)
	defer cancel()

	h, err := guard("hover", func() (*editor.Hover, error) {
		return p.r.backend.Hover(ctx, Request{
			ContextID:  p.reg.ContextID(),
			LanguageID: p.reg.languageID,
			Document:   doc,
			Position:   pos,
		})
	})
	if err != nil {
		p.r.logger.Printf("[langservice] %s hover failed: %v", p.reg.languageID, err)
		return nil, nil
	}
	return h, nil
}

type formattingProvider struct {
	r   *Registry
	reg *Registration
}

func (p *formattingProvider) ProvideDocumentFormattingEdits(ctx context.Context, doc editor.Snapshot, opts editor.FormattingOptions) ([]editor.TextEdit, error) {
	ctx, cancel := context.WithTimeout(ctx, p.r.timeout)
	defer cancel()

	edits, err := guard("formatting", func() ([]editor.TextEdit, error) {
		return p.r.backend.Format(ctx, Request{
			ContextID:  p.reg.ContextID(),
			LanguageID: p.reg.languageID,
			Document:   doc,
			Formatting: opts,
		})
	})
	if err != nil {
		p.r.logger.Printf("[langservice] %s formatting failed: %v", p.reg.languageID, err)
		return nil, nil
	}
	return edits, nil
}
