package editor

import "strings"

// LanguageExtensionPoint describes one language the editor knows about.
type LanguageExtensionPoint struct {
	ID         string   `json:"id"`
	Extensions []string `json:"extensions,omitempty"`
	Aliases    []string `json:"aliases,omitempty"`
	MimeTypes  []string `json:"mimetypes,omitempty"`
}

// Languages is an ordered catalog of language entries. Entries keep their
// position and identity once registered.
type Languages struct {
	byID map[string]int
	all  []LanguageExtensionPoint
}

// NewLanguages creates an empty catalog.
func NewLanguages() *Languages {
	return &Languages{byID: make(map[string]int)}
}

// DefaultLanguages returns the catalog of built-in languages.
func DefaultLanguages() *Languages {
	l := NewLanguages()
	for _, e := range builtinLanguages() {
		l.Register(e)
	}
	return l
}

// Register adds e, or merges its extensions, aliases and mime types into an
// existing entry with the same id. It returns false for an empty id.
func (l *Languages) Register(e LanguageExtensionPoint) bool {
	id := strings.TrimSpace(e.ID)
	if id == "" {
		return false
	}
	if idx, ok := l.byID[id]; ok {
		cur := &l.all[idx]
		cur.Extensions = mergeUnique(cur.Extensions, e.Extensions)
		cur.Aliases = mergeUnique(cur.Aliases, e.Aliases)
		cur.MimeTypes = mergeUnique(cur.MimeTypes, e.MimeTypes)
		return true
	}
	e.ID = id
	e.Extensions = mergeUnique(nil, e.Extensions)
	e.Aliases = mergeUnique(nil, e.Aliases)
	e.MimeTypes = mergeUnique(nil, e.MimeTypes)
	l.byID[id] = len(l.all)
	l.all = append(l.all, e)
	return true
}

// Lookup returns the entry for id.
func (l *Languages) Lookup(id string) (LanguageExtensionPoint, bool) {
	idx, ok := l.byID[id]
	if !ok {
		return LanguageExtensionPoint{}, false
	}
	return cloneLanguage(l.all[idx]), true
}

// Known reports whether id is registered.
func (l *Languages) Known(id string) bool {
	_, ok := l.byID[id]
	return ok
}

// All returns a copy of every entry in registration order.
func (l *Languages) All() []LanguageExtensionPoint {
	out := make([]LanguageExtensionPoint, len(l.all))
	for i, e := range l.all {
		out[i] = cloneLanguage(e)
	}
	return out
}

// ByExtension finds the first language claiming ext (with leading dot).
func (l *Languages) ByExtension(ext string) (LanguageExtensionPoint, bool) {
	ext = strings.ToLower(ext)
	for _, e := range l.all {
		for _, candidate := range e.Extensions {
			if strings.ToLower(candidate) == ext {
				return cloneLanguage(e), true
			}
		}
	}
	return LanguageExtensionPoint{}, false
}

func cloneLanguage(e LanguageExtensionPoint) LanguageExtensionPoint {
	e.Extensions = append([]string(nil), e.Extensions...)
	e.Aliases = append([]string(nil), e.Aliases...)
	e.MimeTypes = append([]string(nil), e.MimeTypes...)
	return e
}

func mergeUnique(dst, src []string) []string {
	seen := make(map[string]struct{}, len(dst))
	for _, v := range dst {
		seen[v] = struct{}{}
	}
	for _, v := range src {
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		dst = append(dst, v)
	}
	return dst
}

func builtinLanguages() []LanguageExtensionPoint {
	return []LanguageExtensionPoint{
		{ID: "plaintext", Extensions: []string{".txt", ".gitignore"}, Aliases: []string{"Plain Text", "text"}, MimeTypes: []string{"text/plain"}},
		{ID: "json", Extensions: []string{".json", ".bowerrc", ".jshintrc", ".jscsrc", ".eslintrc", ".babelrc"}, Aliases: []string{"JSON", "json"}, MimeTypes: []string{"application/json"}},
		{ID: "csharp", Extensions: []string{".cs", ".csx", ".cake"}, Aliases: []string{"C#", "csharp"}},
		{ID: "javascript", Extensions: []string{".js", ".es6", ".jsx", ".mjs", ".cjs"}, Aliases: []string{"JavaScript", "javascript", "js"}, MimeTypes: []string{"text/javascript"}},
		{ID: "typescript", Extensions: []string{".ts", ".tsx", ".cts", ".mts"}, Aliases: []string{"TypeScript", "ts", "typescript"}, MimeTypes: []string{"text/typescript"}},
		{ID: "xml", Extensions: []string{".xml", ".dtd", ".ascx", ".csproj", ".config", ".props", ".targets", ".wxi", ".wxl", ".wxs", ".xaml", ".xsd", ".xsl", ".xslt"}, Aliases: []string{"XML", "xml"}, MimeTypes: []string{"text/xml", "application/xml"}},
		{ID: "html", Extensions: []string{".html", ".htm", ".shtml", ".xhtml", ".mdoc", ".jsp", ".asp", ".aspx", ".jshtm"}, Aliases: []string{"HTML", "htm", "html", "xhtml"}, MimeTypes: []string{"text/html", "text/x-jshtm", "text/template", "text/ng-template"}},
		{ID: "css", Extensions: []string{".css"}, Aliases: []string{"CSS", "css"}, MimeTypes: []string{"text/css"}},
		{ID: "markdown", Extensions: []string{".md", ".markdown", ".mdown", ".mkdn", ".mkd", ".mdwn", ".mdtxt", ".mdtext"}, Aliases: []string{"Markdown", "markdown"}},
		{ID: "yaml", Extensions: []string{".yaml", ".yml"}, Aliases: []string{"YAML", "yaml", "YML", "yml"}, MimeTypes: []string{"application/x-yaml", "text/x-yaml"}},
		{ID: "sql", Extensions: []string{".sql"}, Aliases: []string{"SQL"}},
		{ID: "powershell", Extensions: []string{".ps1", ".psm1", ".psd1"}, Aliases: []string{"PowerShell", "powershell", "ps", "ps1"}},
		{ID: "shell", Extensions: []string{".sh", ".bash"}, Aliases: []string{"Shell", "sh"}},
		{ID: "python", Extensions: []string{".py", ".rpy", ".pyw", ".cpy", ".gyp", ".gypi"}, Aliases: []string{"Python", "py"}},
		{ID: "go", Extensions: []string{".go"}, Aliases: []string{"Go"}},
		{ID: "fsharp", Extensions: []string{".fs", ".fsi", ".ml", ".mli", ".fsx", ".fsscript"}, Aliases: []string{"F#", "FSharp", "fsharp"}},
		{ID: "vb", Extensions: []string{".vb"}, Aliases: []string{"Visual Basic", "vb"}},
		{ID: "razor", Extensions: []string{".cshtml"}, Aliases: []string{"Razor", "razor"}, MimeTypes: []string{"text/x-cshtml"}},
		{ID: "ini", Extensions: []string{".ini", ".properties", ".gitconfig"}, Aliases: []string{"Ini", "ini"}},
		{ID: "dockerfile", Extensions: []string{".dockerfile"}, Aliases: []string{"Dockerfile"}},
	}
}
