// Package session owns one hosting window's editor: the single code editor
// or the diff editor, its active model, the language service registry and
// the layout synchronizer.
//
// A Session is confined to the editor loop. Every method must run on it;
// the feature calls (Complete, Hover, Format) return a function that does
// the slow part off the loop.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/nupi-ai/edbridge/internal/constants"
	"github.com/nupi-ai/edbridge/internal/editor"
	"github.com/nupi-ai/edbridge/internal/editor/jsonlang"
	"github.com/nupi-ai/edbridge/internal/eventbus"
	"github.com/nupi-ai/edbridge/internal/hostcap"
	"github.com/nupi-ai/edbridge/internal/langservice"
	"github.com/nupi-ai/edbridge/internal/layout"
	"github.com/nupi-ai/edbridge/internal/loop"
)

var (
	// ErrNotCreated is returned before CreateSingle or CreateDiff ran.
	ErrNotCreated = errors.New("session: editor not created")
	// ErrAlreadyCreated is returned by a second Create call.
	ErrAlreadyCreated = errors.New("session: editor already created")
	// ErrWrongMode is returned when an operation needs the other editor kind.
	ErrWrongMode = errors.New("session: operation not available in this editor mode")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("session: closed")
)

// Mode says which editor a session holds.
type Mode string

const (
	ModeNone   Mode = "none"
	ModeSingle Mode = "single"
	ModeDiff   Mode = "diff"
)

// Model swap reasons reported on the event bus.
const (
	reasonCreate   = "create"
	reasonLanguage = "language"
	reasonSchema   = "schema"
	reasonDiff     = "diff"
)

// Options wires a session to its collaborators. Host and Poster are
// required.
type Options struct {
	Host           hostcap.Capabilities
	Poster         loop.Poster
	Engine         *editor.Engine
	Backend        langservice.Backend
	Console        langservice.Console
	Bus            *eventbus.Bus
	Logger         *log.Logger
	RequestTimeout time.Duration
	ContainerID    string
}

// Session is the editor state of one hosting window.
type Session struct {
	host      hostcap.Capabilities
	engine    *editor.Engine
	registry  *langservice.Registry
	validator *jsonlang.Validator
	layout    *layout.Synchronizer
	console   langservice.Console
	bus       *eventbus.Bus
	logger    *log.Logger
	timeout   time.Duration

	mode      Mode
	container *editor.Container
	editor    *editor.CodeEditor
	diff      *editor.DiffEditor
	primary   *editor.Model

	swapReason string
	valueSub   editor.Disposable
	modelSub   editor.Disposable
	markerSub  editor.Disposable
	untrack    func()
	closed     bool
}

// New builds an idle session. Nothing is created until CreateSingle or
// CreateDiff.
func New(opts Options) (*Session, error) {
	if opts.Host == nil {
		return nil, errors.New("session: host capabilities required")
	}
	if opts.Poster == nil {
		return nil, errors.New("session: loop poster required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	engine := opts.Engine
	if engine == nil {
		engine = editor.NewEngine(editor.WithLogger(logger))
	}
	backend := opts.Backend
	if backend == nil {
		backend = langservice.NewRouter(nil)
	}
	timeout := opts.RequestTimeout
	if timeout <= 0 {
		timeout = constants.LanguageServiceRequestTimeout
	}
	containerID := opts.ContainerID
	if containerID == "" {
		containerID = constants.ContainerID
	}

	s := &Session{
		host:      opts.Host,
		engine:    engine,
		console:   opts.Console,
		bus:       opts.Bus,
		logger:    logger,
		timeout:   timeout,
		mode:      ModeNone,
		container: editor.NewContainer(containerID),
	}
	s.registry = langservice.NewRegistry(engine, backend, opts.Poster,
		langservice.WithLogger(logger),
		langservice.WithEventBus(opts.Bus),
		langservice.WithConsole(opts.Console),
		langservice.WithRequestTimeout(timeout),
	)
	s.validator = jsonlang.Attach(engine, jsonlang.WithLogger(logger))
	s.layout = layout.New(opts.Host, layout.WithLogger(logger), layout.WithEventBus(opts.Bus))
	s.markerSub = engine.OnDidChangeMarkers(s.publishMarkers)
	return s, nil
}

// Init creates the single editor from the host's initial value, language
// and size.
func (s *Session) Init() error {
	return s.CreateSingle(s.host.InitialValue(), s.host.InitialLang(), s.host.Width(), s.host.Height())
}

// CreateSingle builds the code editor with a fresh model holding
// initialValue, lays it out at width x height and signals init done.
func (s *Session) CreateSingle(initialValue, initialLanguage string, width, height int) error {
	if err := s.checkCreate(); err != nil {
		return err
	}
	if initialLanguage == "" {
		initialLanguage = constants.DefaultInitialLanguage
	}

	ed, err := s.engine.Create(s.container, editor.CodeEditorOptions{Value: initialValue, Language: initialLanguage})
	if err != nil {
		return fmt.Errorf("session: create editor: %w", err)
	}
	s.editor = ed
	s.mode = ModeSingle

	s.modelSub = ed.OnDidChangeModel(func(old, cur *editor.Model) {
		s.rebind(old, cur)
	})
	s.swapReason = reasonCreate
	s.rebind(nil, ed.Model())

	s.untrack = s.layout.Track("editor", ed, s.container)
	s.layout.Handle(layout.Request{Trigger: layout.TriggerInitial, Size: &editor.Dimension{Width: width, Height: height}})

	s.initDone(width, height)
	return nil
}

// CreateDiff builds the diff editor over two empty plain text models.
func (s *Session) CreateDiff(width, height int) error {
	if err := s.checkCreate(); err != nil {
		return err
	}

	original, err := s.engine.CreateModel("", constants.PlainTextLanguage, "")
	if err != nil {
		return fmt.Errorf("session: create original model: %w", err)
	}
	modified, err := s.engine.CreateModel("", constants.PlainTextLanguage, "")
	if err != nil {
		original.Dispose()
		return fmt.Errorf("session: create modified model: %w", err)
	}

	d := s.engine.CreateDiffEditor(s.container, editor.DiffEditorOptions{EnableSplitViewResizing: false})
	s.diff = d
	s.mode = ModeDiff

	s.modelSub = d.OnDidChangeModel(func(old, cur editor.DiffModel) {
		s.rebind(old.Modified, cur.Modified)
	})
	s.swapReason = reasonCreate
	d.SetModel(editor.DiffModel{Original: original, Modified: modified})

	// The diff surface fills its host without container sizing.
	s.untrack = s.layout.Track("diff", d, nil)
	s.layout.Handle(layout.Request{Trigger: layout.TriggerInitial, Size: &editor.Dimension{Width: width, Height: height}})

	s.initDone(width, height)
	return nil
}

func (s *Session) checkCreate() error {
	if s.closed {
		return ErrClosed
	}
	if s.mode != ModeNone {
		return ErrAlreadyCreated
	}
	return nil
}

func (s *Session) initDone(width, height int) {
	s.host.OnInitDone()
	eventbus.Publish(context.Background(), s.bus, eventbus.Editor.InitDone, eventbus.SourceSession, eventbus.InitDoneEvent{
		Mode:   string(s.mode),
		Width:  width,
		Height: height,
	})
	if s.console != nil {
		s.console.Log("init done")
	}
	s.logger.Printf("[session] %s editor ready at %dx%d", s.mode, width, height)
}

// rebind moves every per-model listener from old to cur.
func (s *Session) rebind(old, cur *editor.Model) {
	if s.valueSub != nil {
		s.valueSub.Dispose()
		s.valueSub = nil
	}
	s.registry.Unbind()
	s.primary = cur

	reason := s.swapReason
	s.swapReason = ""

	if cur == nil {
		return
	}
	model := cur
	s.valueSub = model.OnDidChangeContent(func(ev editor.ChangeEvent) {
		text := model.Value()
		s.host.OnValueChanged(text)
		eventbus.Publish(context.Background(), s.bus, eventbus.Editor.ValueChanged, eventbus.SourceSession, eventbus.ValueChangedEvent{
			URI:     model.URI(),
			Version: ev.VersionID,
			Text:    text,
		})
	})
	s.registry.Bind(model)

	ev := eventbus.ModelEvent{URI: model.URI(), Language: model.Language(), Reason: reason}
	if old != nil {
		ev.PreviousURI = old.URI()
	}
	eventbus.Publish(context.Background(), s.bus, eventbus.Editor.Model, eventbus.SourceSession, ev)
}

func (s *Session) publishMarkers(uri, owner string) {
	count := len(s.engine.ModelMarkers(editor.MarkerFilter{Owner: owner, Resource: uri}))
	eventbus.Publish(context.Background(), s.bus, eventbus.Editor.Markers, eventbus.SourceSession, eventbus.MarkersEvent{
		URI:   uri,
		Owner: owner,
		Count: count,
	})
}

// Mode reports which editor the session holds.
func (s *Session) Mode() Mode { return s.mode }

// Ready reports whether an editor exists.
func (s *Session) Ready() bool { return !s.closed && s.mode != ModeNone }

// Closed reports whether Close ran.
func (s *Session) Closed() bool { return s.closed }

// Engine exposes the editor engine.
func (s *Session) Engine() *editor.Engine { return s.engine }

// Registry exposes the language service registry.
func (s *Session) Registry() *langservice.Registry { return s.registry }

// Layout exposes the layout synchronizer.
func (s *Session) Layout() *layout.Synchronizer { return s.layout }

// Container returns the hosting element.
func (s *Session) Container() *editor.Container { return s.container }

// CodeEditor returns the single editor, or nil in diff mode.
func (s *Session) CodeEditor() *editor.CodeEditor { return s.editor }

// DiffEditor returns the diff editor, or nil in single mode.
func (s *Session) DiffEditor() *editor.DiffEditor { return s.diff }

// Model returns the primary model: the edited model, or the modified side
// of a diff.
func (s *Session) Model() *editor.Model { return s.primary }

func (s *Session) active() (*editor.Model, error) {
	if s.closed {
		return nil, ErrClosed
	}
	if s.mode == ModeNone || s.primary == nil {
		return nil, ErrNotCreated
	}
	return s.primary, nil
}

// Value returns the primary model's text.
func (s *Session) Value() (string, error) {
	m, err := s.active()
	if err != nil {
		return "", err
	}
	return m.Value(), nil
}

// SetValue replaces the primary model's text. The change listeners,
// including the host notification, fire before it returns.
func (s *Session) SetValue(text string) error {
	m, err := s.active()
	if err != nil {
		return err
	}
	if err := m.SetValue(text); err != nil {
		return fmt.Errorf("session: set value: %w", err)
	}
	return nil
}

// SetLanguage swaps the edited model for one with the same text in
// languageID. The old model and its markers are discarded.
func (s *Session) SetLanguage(languageID string) error {
	old, err := s.active()
	if err != nil {
		return err
	}
	if s.mode != ModeSingle {
		return fmt.Errorf("%w: set language", ErrWrongMode)
	}
	if languageID == "" {
		languageID = constants.PlainTextLanguage
	}

	m, err := s.engine.CreateModel(old.Value(), languageID, "")
	if err != nil {
		return fmt.Errorf("session: set language: %w", err)
	}
	s.swapReason = reasonLanguage
	s.editor.SetModel(m)
	old.Dispose()
	s.logger.Printf("[session] language %s -> %s", old.Language(), languageID)
	return nil
}

// SetDiffContents replaces both sides of the diff with new models.
func (s *Session) SetDiffContents(left, right, languageID string) error {
	if _, err := s.active(); err != nil {
		return err
	}
	if s.mode != ModeDiff {
		return fmt.Errorf("%w: set diff content", ErrWrongMode)
	}

	original, err := s.engine.CreateModel(left, languageID, "")
	if err != nil {
		return fmt.Errorf("session: diff original: %w", err)
	}
	modified, err := s.engine.CreateModel(right, languageID, "")
	if err != nil {
		original.Dispose()
		return fmt.Errorf("session: diff modified: %w", err)
	}

	prev := s.diff.Model()
	s.swapReason = reasonDiff
	s.diff.SetModel(editor.DiffModel{Original: original, Modified: modified})
	if prev.Original != nil {
		prev.Original.Dispose()
	}
	if prev.Modified != nil {
		prev.Modified.Dispose()
	}
	return nil
}

// RegisterLanguageServices attaches the language service for languageID
// with contextID. Repeated calls only update the context id.
func (s *Session) RegisterLanguageServices(languageID, contextID string) error {
	if _, err := s.active(); err != nil {
		return err
	}
	if _, err := s.registry.Register(languageID, contextID); err != nil {
		return fmt.Errorf("session: %w", err)
	}
	return nil
}

// Resize re-queries the host size and lays out every editor.
func (s *Session) Resize() (layout.Decision, error) {
	if _, err := s.active(); err != nil {
		return layout.Decision{}, err
	}
	return s.layout.Resize(), nil
}

// Close disposes the editor, its models and every registration.
func (s *Session) Close() {
	if s.closed {
		return
	}
	s.closed = true

	if s.untrack != nil {
		s.untrack()
	}
	if s.valueSub != nil {
		s.valueSub.Dispose()
	}
	if s.modelSub != nil {
		s.modelSub.Dispose()
	}
	s.registry.Close()
	s.validator.Close()

	if s.editor != nil {
		s.editor.Dispose()
	}
	if s.diff != nil {
		s.diff.Dispose()
	}
	for _, m := range s.engine.Models() {
		m.Dispose()
	}
	if s.markerSub != nil {
		s.markerSub.Dispose()
	}
	s.primary = nil
	s.logger.Printf("[session] closed")
}
