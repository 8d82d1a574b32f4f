// Package bridge is the host-facing entry point of the editor. Every call is
// dispatched by name through Methods, hops onto the editor loop, and finishes
// off the loop when the method talks to a language backend.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/nupi-ai/edbridge/internal/constants"
	"github.com/nupi-ai/edbridge/internal/editor"
	"github.com/nupi-ai/edbridge/internal/layout"
	"github.com/nupi-ai/edbridge/internal/loop"
	"github.com/nupi-ai/edbridge/internal/session"
)

var (
	// ErrNotReady is returned by calls that need the editor before it exists.
	ErrNotReady = errors.New("bridge: editor not ready")
	// ErrUnknownMethod is returned for names missing from Methods.
	ErrUnknownMethod = errors.New("bridge: unknown method")
	// ErrInvalidArgument is returned when an argument has the wrong type.
	ErrInvalidArgument = errors.New("bridge: invalid argument")
	// ErrClosed is returned after the session was closed.
	ErrClosed = errors.New("bridge: closed")
)

// IsNotReady reports whether err came from a call made before the editor
// was created.
func IsNotReady(err error) bool {
	return errors.Is(err, ErrNotReady)
}

// Bridge serializes host calls onto the editor loop.
type Bridge struct {
	loop    *loop.Loop
	sess    *session.Session
	logger  *log.Logger
	timeout time.Duration
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithLogger sets the bridge logger.
func WithLogger(logger *log.Logger) Option {
	return func(b *Bridge) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithCallTimeout bounds calls whose context carries no deadline.
func WithCallTimeout(d time.Duration) Option {
	return func(b *Bridge) {
		if d > 0 {
			b.timeout = d
		}
	}
}

// New returns a bridge driving sess on l.
func New(l *loop.Loop, sess *session.Session, opts ...Option) *Bridge {
	b := &Bridge{
		loop:    l,
		sess:    sess,
		logger:  log.New(io.Discard, "", 0),
		timeout: constants.BridgeCallTimeout,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Session returns the driven session. Touch it only from the loop.
func (b *Bridge) Session() *session.Session { return b.sess }

// Loop returns the editor loop.
func (b *Bridge) Loop() *loop.Loop { return b.loop }

// Call runs method name with args from any goroutine except the loop.
func (b *Bridge) Call(ctx context.Context, name string, args ...any) (any, error) {
	m, ok := Lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownMethod, name)
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}

	var result any
	err := b.loop.Do(ctx, func() error {
		v, err := b.invoke(m, Args(args))
		result = v
		return err
	})
	if err != nil {
		return nil, b.fail(name, err)
	}

	d, ok := result.(*Deferred)
	if !ok {
		return result, nil
	}
	v, err := d.Run(ctx)
	if err != nil {
		return nil, b.fail(name, err)
	}
	if d.Finish == nil {
		return v, nil
	}
	err = b.loop.Do(ctx, func() error {
		out, err := d.Finish(b.sess, v)
		result = out
		return err
	})
	if err != nil {
		return nil, b.fail(name, err)
	}
	return result, nil
}

// InvokeOnLoop runs the loop half of method name. It must be called from a
// task on the loop; a *Deferred result is left to the caller.
func (b *Bridge) InvokeOnLoop(name string, args Args) (any, error) {
	m, ok := Lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownMethod, name)
	}
	v, err := b.invoke(m, args)
	if err != nil {
		return nil, b.fail(name, err)
	}
	return v, nil
}

func (b *Bridge) invoke(m Method, args Args) (any, error) {
	if b.sess.Closed() {
		return nil, ErrClosed
	}
	if m.NeedsEditor && !b.sess.Ready() {
		return nil, ErrNotReady
	}
	return m.Invoke(b.sess, args)
}

// fail classifies err and wraps it with the method name.
func (b *Bridge) fail(name string, err error) error {
	switch {
	case errors.Is(err, session.ErrClosed), errors.Is(err, loop.ErrStopped):
		err = ErrClosed
	case errors.Is(err, session.ErrNotCreated):
		err = ErrNotReady
	}
	b.logger.Printf("[bridge] %s failed: %v", name, err)
	return fmt.Errorf("%s: %w", name, err)
}

// GetValue returns the editor text.
func (b *Bridge) GetValue(ctx context.Context) (string, error) {
	v, err := b.Call(ctx, MethodGetValue)
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// SetValue replaces the editor text.
func (b *Bridge) SetValue(ctx context.Context, text string) error {
	_, err := b.Call(ctx, MethodSetValue, text)
	return err
}

// GetLanguages returns the JSON array of known languages.
func (b *Bridge) GetLanguages(ctx context.Context) (string, error) {
	v, err := b.Call(ctx, MethodGetLanguages)
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// SetLanguage swaps the edited model for one in languageID.
func (b *Bridge) SetLanguage(ctx context.Context, languageID string) error {
	_, err := b.Call(ctx, MethodSetLanguage, languageID)
	return err
}

// RegisterCSharpServices registers the csharp language services.
func (b *Bridge) RegisterCSharpServices(ctx context.Context, contextID string) error {
	_, err := b.Call(ctx, MethodRegisterCSharpServices, contextID)
	return err
}

// RegisterLanguageServices registers the services of languageID.
func (b *Bridge) RegisterLanguageServices(ctx context.Context, languageID, contextID string) error {
	_, err := b.Call(ctx, MethodRegisterLanguageService, languageID, contextID)
	return err
}

// RegisterJSONSchema binds schemaJSON and opens the schema document.
func (b *Bridge) RegisterJSONSchema(ctx context.Context, schemaJSON string) error {
	_, err := b.Call(ctx, MethodRegisterJSONSchema, schemaJSON)
	return err
}

// SetDiffContent replaces both sides of the diff editor.
func (b *Bridge) SetDiffContent(ctx context.Context, left, right, languageID string) error {
	_, err := b.Call(ctx, MethodSetDiffContent, left, right, languageID)
	return err
}

// Complete asks the completion providers at pos.
func (b *Bridge) Complete(ctx context.Context, pos editor.Position) (editor.CompletionList, error) {
	v, err := b.Call(ctx, MethodProvideCompletion, pos.LineNumber, pos.Column)
	if err != nil {
		return editor.CompletionList{}, err
	}
	return v.(editor.CompletionList), nil
}

// Hover asks the hover providers at pos. A nil hover means nothing to show.
func (b *Bridge) Hover(ctx context.Context, pos editor.Position) (*editor.Hover, error) {
	v, err := b.Call(ctx, MethodProvideHover, pos.LineNumber, pos.Column)
	if err != nil {
		return nil, err
	}
	return v.(*editor.Hover), nil
}

// Format formats the document and applies the edits if it did not change
// meanwhile.
func (b *Bridge) Format(ctx context.Context) (FormatOutcome, error) {
	v, err := b.Call(ctx, MethodFormatDocument)
	if err != nil {
		return FormatOutcome{}, err
	}
	return v.(FormatOutcome), nil
}

// Markers returns every marker on the edited model.
func (b *Bridge) Markers(ctx context.Context) ([]editor.Marker, error) {
	v, err := b.Call(ctx, MethodGetMarkers)
	if err != nil {
		return nil, err
	}
	return v.([]editor.Marker), nil
}

// Resize re-queries the host size and lays the editor out.
func (b *Bridge) Resize(ctx context.Context) (layout.Decision, error) {
	v, err := b.Call(ctx, MethodResize)
	if err != nil {
		return layout.Decision{}, err
	}
	return v.(layout.Decision), nil
}

// Layout returns the editor's current dimensions.
func (b *Bridge) Layout(ctx context.Context) (editor.Dimension, error) {
	v, err := b.Call(ctx, MethodGetLayout)
	if err != nil {
		return editor.Dimension{}, err
	}
	return v.(editor.Dimension), nil
}

// Init creates the single editor from the host's initial values.
func (b *Bridge) Init(ctx context.Context) error {
	_, err := b.Call(ctx, MethodInit)
	return err
}

// CreateSingle creates the single editor.
func (b *Bridge) CreateSingle(ctx context.Context, value, languageID string, width, height int) error {
	_, err := b.Call(ctx, MethodCreateSingle, value, languageID, width, height)
	return err
}

// CreateDiff creates the diff editor.
func (b *Bridge) CreateDiff(ctx context.Context, width, height int) error {
	_, err := b.Call(ctx, MethodCreateDiff, width, height)
	return err
}

// Close disposes the session on the loop.
func (b *Bridge) Close(ctx context.Context) error {
	err := b.loop.Do(ctx, func() error {
		b.sess.Close()
		return nil
	})
	if errors.Is(err, loop.ErrStopped) {
		return nil
	}
	return err
}
