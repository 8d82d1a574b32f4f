package constants

// Editor defaults mirrored from the embedded editor's stand-alone host page.
const (
	DefaultInitialLanguage = "csharp"
	DefaultWidth           = 700
	DefaultHeight          = 500

	PlainTextLanguage = "plaintext"
	JSONLanguage      = "json"
	CSharpLanguage    = "csharp"

	// SchemaDocumentURI is the synthetic identity of the schema-bound JSON
	// document created by registerJsonSchema.
	SchemaDocumentURI = "internal://server/foo.json"
	// SchemaFileMatch is the file pattern the inline schema is bound to.
	SchemaFileMatch = "foo.json"

	// JSONMarkerOwner tags markers produced by the JSON validator.
	JSONMarkerOwner = "json"

	// ContainerID is the id of the element hosting the editor.
	ContainerID = "container"
)

// Backend kinds accepted in the language service configuration.
const (
	BackendKindLSP  = "lsp"
	BackendKindGRPC = "grpc"
)

// AllowedBackendKinds lists the backend kinds the daemon can build.
var AllowedBackendKinds = map[string]struct{}{
	BackendKindLSP:  {},
	BackendKindGRPC: {},
}
