package bridge

import (
	"context"
	"sort"

	"github.com/nupi-ai/edbridge/internal/constants"
	"github.com/nupi-ai/edbridge/internal/editor"
	"github.com/nupi-ai/edbridge/internal/session"
)

// Wire method names.
const (
	MethodGetValue                = "editorGetValue"
	MethodSetValue                = "editorSetValue"
	MethodGetLanguages            = "editorGetLanguages"
	MethodSetLanguage             = "editorSetLang"
	MethodRegisterCSharpServices  = "registerCSharpsServices"
	MethodRegisterLanguageService = "registerLanguageServices"
	MethodRegisterJSONSchema      = "registerJsonSchema"
	MethodSetDiffContent          = "setDiffContent"

	MethodProvideCompletion = "provideCompletion"
	MethodProvideHover      = "provideHover"
	MethodFormatDocument    = "formatDocument"
	MethodGetMarkers        = "getMarkers"
	MethodResize            = "resize"
	MethodGetLayout         = "getLayout"

	MethodInit         = "init"
	MethodCreateSingle = "createSingle"
	MethodCreateDiff   = "createDiff"
)

// Deferred is returned by methods that finish off the loop. Run executes on
// its own goroutine; Finish, when set, runs back on the loop with Run's
// result.
type Deferred struct {
	Run    func(ctx context.Context) (any, error)
	Finish func(s *session.Session, v any) (any, error)
}

// Method is one entry of the dispatch table. Invoke runs on the loop.
type Method struct {
	Name string
	// NeedsEditor rejects the call with ErrNotReady until an editor exists.
	NeedsEditor bool
	Invoke      func(s *session.Session, args Args) (any, error)
}

// FormatOutcome is the result of formatDocument.
type FormatOutcome struct {
	Applied bool              `json:"applied"`
	Edits   []editor.TextEdit `json:"edits"`
}

// Methods is the table shared by the Go API, the script globals and the
// host transports.
var Methods = map[string]Method{
	MethodGetValue: {
		NeedsEditor: true,
		Invoke: func(s *session.Session, _ Args) (any, error) {
			return s.Value()
		},
	},
	MethodSetValue: {
		NeedsEditor: true,
		Invoke: func(s *session.Session, args Args) (any, error) {
			text, err := args.String(0)
			if err != nil {
				return nil, err
			}
			return nil, s.SetValue(text)
		},
	},
	MethodGetLanguages: {
		Invoke: func(s *session.Session, _ Args) (any, error) {
			return s.Languages()
		},
	},
	MethodSetLanguage: {
		NeedsEditor: true,
		Invoke: func(s *session.Session, args Args) (any, error) {
			lang, err := args.String(0)
			if err != nil {
				return nil, err
			}
			return nil, s.SetLanguage(lang)
		},
	},
	MethodRegisterCSharpServices: {
		NeedsEditor: true,
		Invoke: func(s *session.Session, args Args) (any, error) {
			contextID, err := args.String(0)
			if err != nil {
				return nil, err
			}
			return nil, s.RegisterLanguageServices(constants.CSharpLanguage, contextID)
		},
	},
	MethodRegisterLanguageService: {
		NeedsEditor: true,
		Invoke: func(s *session.Session, args Args) (any, error) {
			lang, err := args.String(0)
			if err != nil {
				return nil, err
			}
			contextID, err := args.String(1)
			if err != nil {
				return nil, err
			}
			return nil, s.RegisterLanguageServices(lang, contextID)
		},
	},
	MethodRegisterJSONSchema: {
		NeedsEditor: true,
		Invoke: func(s *session.Session, args Args) (any, error) {
			schema, err := args.String(0)
			if err != nil {
				return nil, err
			}
			return nil, s.RegisterSchema(schema)
		},
	},
	MethodSetDiffContent: {
		NeedsEditor: true,
		Invoke: func(s *session.Session, args Args) (any, error) {
			var texts [3]string
			for i := range texts {
				v, err := args.String(i)
				if err != nil {
					return nil, err
				}
				texts[i] = v
			}
			return nil, s.SetDiffContents(texts[0], texts[1], texts[2])
		},
	},

	MethodProvideCompletion: {
		NeedsEditor: true,
		Invoke: func(s *session.Session, args Args) (any, error) {
			pos, err := position(args)
			if err != nil {
				return nil, err
			}
			run, err := s.Complete(pos)
			if err != nil {
				return nil, err
			}
			return &Deferred{Run: func(ctx context.Context) (any, error) { return run(ctx) }}, nil
		},
	},
	MethodProvideHover: {
		NeedsEditor: true,
		Invoke: func(s *session.Session, args Args) (any, error) {
			pos, err := position(args)
			if err != nil {
				return nil, err
			}
			run, err := s.Hover(pos)
			if err != nil {
				return nil, err
			}
			return &Deferred{Run: func(ctx context.Context) (any, error) { return run(ctx) }}, nil
		},
	},
	MethodFormatDocument: {
		NeedsEditor: true,
		Invoke: func(s *session.Session, _ Args) (any, error) {
			run, err := s.Format(editor.DefaultFormattingOptions())
			if err != nil {
				return nil, err
			}
			return &Deferred{
				Run: func(ctx context.Context) (any, error) { return run(ctx) },
				Finish: func(s *session.Session, v any) (any, error) {
					res := v.(session.FormatResult)
					applied, err := s.ApplyFormatting(res)
					return FormatOutcome{Applied: applied, Edits: res.Edits}, err
				},
			}, nil
		},
	},
	MethodGetMarkers: {
		NeedsEditor: true,
		Invoke: func(s *session.Session, _ Args) (any, error) {
			return s.Markers()
		},
	},
	MethodResize: {
		NeedsEditor: true,
		Invoke: func(s *session.Session, _ Args) (any, error) {
			return s.Resize()
		},
	},
	MethodGetLayout: {
		NeedsEditor: true,
		Invoke: func(s *session.Session, _ Args) (any, error) {
			if d := s.DiffEditor(); d != nil {
				return d.LayoutInfo(), nil
			}
			return s.CodeEditor().LayoutInfo(), nil
		},
	},

	MethodInit: {
		Invoke: func(s *session.Session, _ Args) (any, error) {
			return nil, s.Init()
		},
	},
	MethodCreateSingle: {
		Invoke: func(s *session.Session, args Args) (any, error) {
			value, err := args.String(0)
			if err != nil {
				return nil, err
			}
			lang, err := args.String(1)
			if err != nil {
				return nil, err
			}
			w, h, err := size(args, 2)
			if err != nil {
				return nil, err
			}
			return nil, s.CreateSingle(value, lang, w, h)
		},
	},
	MethodCreateDiff: {
		Invoke: func(s *session.Session, args Args) (any, error) {
			w, h, err := size(args, 0)
			if err != nil {
				return nil, err
			}
			return nil, s.CreateDiff(w, h)
		},
	},
}

func init() {
	for name, m := range Methods {
		m.Name = name
		Methods[name] = m
	}
}

// Lookup returns the method registered under name.
func Lookup(name string) (Method, bool) {
	m, ok := Methods[name]
	return m, ok
}

// MethodNames lists every method name in sorted order.
func MethodNames() []string {
	names := make([]string, 0, len(Methods))
	for name := range Methods {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func position(args Args) (editor.Position, error) {
	line, err := args.Int(0)
	if err != nil {
		return editor.Position{}, err
	}
	col, err := args.Int(1)
	if err != nil {
		return editor.Position{}, err
	}
	return editor.Position{LineNumber: line, Column: col}, nil
}

// size reads width and height at args[i], args[i+1]. Both missing means the
// stand-alone defaults.
func size(args Args, i int) (int, int, error) {
	if len(args) <= i {
		return constants.DefaultWidth, constants.DefaultHeight, nil
	}
	w, err := args.Int(i)
	if err != nil {
		return 0, 0, err
	}
	h, err := args.Int(i + 1)
	if err != nil {
		return 0, 0, err
	}
	return w, h, nil
}
