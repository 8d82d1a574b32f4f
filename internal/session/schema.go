package session

import (
	"encoding/json"
	"fmt"

	"github.com/nupi-ai/edbridge/internal/constants"
	"github.com/nupi-ai/edbridge/internal/editor"
)

// RegisterSchema binds schemaJSON to documents named foo.json and points
// the editor at a fresh, empty json model with that name. A schema that is
// not valid JSON is rejected with the parser's error and nothing changes.
func (s *Session) RegisterSchema(schemaJSON string) error {
	old, err := s.active()
	if err != nil {
		return err
	}
	if s.mode != ModeSingle {
		return fmt.Errorf("%w: register schema", ErrWrongMode)
	}

	var parsed any
	if err := json.Unmarshal([]byte(schemaJSON), &parsed); err != nil {
		return fmt.Errorf("session: parse schema: %w", err)
	}

	s.engine.JSONDefaults().SetDiagnosticsOptions(editor.DiagnosticsOptions{
		AllowComments: true,
		Validate:      true,
		Schemas: []editor.SchemaAssociation{{
			FileMatch: []string{constants.SchemaFileMatch},
			Schema:    json.RawMessage(schemaJSON),
		}},
	})

	// The schema document keeps a fixed identity, so an earlier one has to
	// go before the new model can take its URI.
	if prev, ok := s.engine.Model(constants.SchemaDocumentURI); ok {
		prev.Dispose()
	}
	m, err := s.engine.CreateModel("", constants.JSONLanguage, constants.SchemaDocumentURI)
	if err != nil {
		return fmt.Errorf("session: create schema model: %w", err)
	}
	s.swapReason = reasonSchema
	s.editor.SetModel(m)
	if !old.IsDisposed() {
		old.Dispose()
	}
	s.logger.Printf("[session] schema registered, editing %s", constants.SchemaDocumentURI)
	return nil
}
