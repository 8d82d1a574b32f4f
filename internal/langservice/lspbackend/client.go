// Package lspbackend serves langservice.Backend from a language server
// speaking the Language Server Protocol.
//
// Documents are synced with full-text didOpen/didChange notifications keyed
// by the editor model URI and version. Diagnostics are taken from the
// server's publishDiagnostics notifications for the synced version.
package lspbackend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"sync"
	"sync/atomic"

	"go.lsp.dev/jsonrpc2"
	"go.lsp.dev/protocol"
	"go.lsp.dev/uri"

	"github.com/nupi-ai/edbridge/internal/constants"
)

var (
	// ErrClosed is returned by calls on a shut down client.
	ErrClosed = errors.New("lspbackend: client closed")
	// ErrNoDiagnostics is returned when the server never published
	// diagnostics for the requested document version.
	ErrNoDiagnostics = errors.New("lspbackend: no diagnostics published")
)

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger for protocol traffic and server messages.
func WithLogger(logger *log.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithRootDir sets the workspace root announced during initialize.
func WithRootDir(dir string) Option {
	return func(c *Client) {
		c.rootDir = dir
	}
}

// WithClientInfo overrides the client name and version sent to the server.
func WithClientInfo(name, version string) Option {
	return func(c *Client) {
		c.clientName = name
		c.clientVersion = version
	}
}

// WithInitializationOptions sets the server-specific initializationOptions.
func WithInitializationOptions(opts any) Option {
	return func(c *Client) {
		c.initOptions = opts
	}
}

type document struct {
	languageID string
	version    int32
	text       string
}

// fullTextChange omits range so servers replace the whole document;
// protocol.TextDocumentContentChangeEvent always encodes one.
type fullTextChange struct {
	Text string `json:"text"`
}

type fullTextChangeParams struct {
	TextDocument   protocol.VersionedTextDocumentIdentifier `json:"textDocument"`
	ContentChanges []fullTextChange                         `json:"contentChanges"`
}

type published struct {
	version int32
	items   []protocol.Diagnostic
}

// Client is a connected LSP client. It is safe for concurrent use.
type Client struct {
	logger        *log.Logger
	rootDir       string
	clientName    string
	clientVersion string
	initOptions   any

	conn   jsonrpc2.Conn
	cancel context.CancelFunc
	server *protocol.ServerInfo

	// syncMu orders document notifications so versions reach the server
	// in the order they were produced.
	syncMu sync.Mutex

	mu        sync.Mutex
	docs      map[string]*document
	diags     map[string]published
	published chan struct{}

	closed   atomic.Bool
	shutdown func(ctx context.Context) error
}

// Connect runs the initialize handshake over rwc and returns a ready client.
func Connect(ctx context.Context, rwc io.ReadWriteCloser, opts ...Option) (*Client, error) {
	c := &Client{
		logger:        log.New(io.Discard, "", 0),
		clientName:    "edbridge",
		clientVersion: "dev",
		docs:          make(map[string]*document),
		diags:         make(map[string]published),
		published:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}

	handlerCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.conn = jsonrpc2.NewConn(jsonrpc2.NewStream(rwc))
	c.conn.Go(handlerCtx, c.handle)

	if _, ok := ctx.Deadline(); !ok {
		var cancelInit context.CancelFunc
		ctx, cancelInit = context.WithTimeout(ctx, constants.LanguageServerStartTimeout)
		defer cancelInit()
	}

	if err := c.initialize(ctx); err != nil {
		cancel()
		c.conn.Close()
		return nil, err
	}
	return c, nil
}

func (c *Client) initialize(ctx context.Context) error {
	params := &protocol.InitializeParams{
		ProcessID: int32(os.Getpid()),
		ClientInfo: &protocol.ClientInfo{
			Name:    c.clientName,
			Version: c.clientVersion,
		},
		InitializationOptions: c.initOptions,
		Capabilities: protocol.ClientCapabilities{
			TextDocument: &protocol.TextDocumentClientCapabilities{
				Synchronization: &protocol.TextDocumentSyncClientCapabilities{},
				Completion:      &protocol.CompletionTextDocumentClientCapabilities{},
				Hover: &protocol.HoverTextDocumentClientCapabilities{
					ContentFormat: []protocol.MarkupKind{protocol.Markdown, protocol.PlainText},
				},
				Formatting: &protocol.DocumentFormattingClientCapabilities{},
				PublishDiagnostics: &protocol.PublishDiagnosticsClientCapabilities{
					VersionSupport: true,
				},
			},
		},
	}
	if c.rootDir != "" {
		root := uri.File(c.rootDir)
		params.RootURI = root
		params.WorkspaceFolders = []protocol.WorkspaceFolder{{URI: string(root), Name: c.rootDir}}
	}

	var raw json.RawMessage
	if _, err := c.conn.Call(ctx, protocol.MethodInitialize, params, &raw); err != nil {
		return fmt.Errorf("lspbackend: initialize: %w", err)
	}
	var result protocol.InitializeResult
	if err := json.Unmarshal(raw, &result); err != nil {
		// Capabilities vary too much between servers to insist on them.
		c.logger.Printf("[lspbackend] lenient initialize result: %v", err)
	}
	c.server = result.ServerInfo
	if c.server != nil {
		c.logger.Printf("[lspbackend] connected to %s %s", c.server.Name, c.server.Version)
	}

	if err := c.conn.Notify(ctx, protocol.MethodInitialized, &protocol.InitializedParams{}); err != nil {
		return fmt.Errorf("lspbackend: initialized: %w", err)
	}
	return nil
}

// ServerName reports the server's self-declared name, if any.
func (c *Client) ServerName() string {
	if c.server == nil {
		return ""
	}
	return c.server.Name
}

// Done is closed when the underlying connection stops.
func (c *Client) Done() <-chan struct{} {
	return c.conn.Done()
}

// handle serves server-to-client traffic. It runs on the connection's read
// loop and must not issue calls of its own.
func (c *Client) handle(ctx context.Context, reply jsonrpc2.Replier, req jsonrpc2.Request) error {
	switch req.Method() {
	case protocol.MethodTextDocumentPublishDiagnostics:
		var params protocol.PublishDiagnosticsParams
		if err := json.Unmarshal(req.Params(), &params); err != nil {
			c.logger.Printf("[lspbackend] bad publishDiagnostics: %v", err)
			return reply(ctx, nil, nil)
		}
		c.storeDiagnostics(params)
		return reply(ctx, nil, nil)

	case protocol.MethodWindowLogMessage, protocol.MethodWindowShowMessage:
		var params protocol.LogMessageParams
		if err := json.Unmarshal(req.Params(), &params); err == nil {
			c.logger.Printf("[lspbackend:server] %s", params.Message)
		}
		return reply(ctx, nil, nil)

	case protocol.MethodWorkspaceConfiguration:
		var params protocol.ConfigurationParams
		_ = json.Unmarshal(req.Params(), &params)
		return reply(ctx, make([]any, len(params.Items)), nil)

	case protocol.MethodWorkDoneProgressCreate,
		protocol.MethodClientRegisterCapability,
		protocol.MethodClientUnregisterCapability,
		protocol.MethodProgress,
		protocol.MethodTelemetryEvent:
		return reply(ctx, nil, nil)
	}

	if _, isCall := req.(*jsonrpc2.Call); isCall {
		return jsonrpc2.MethodNotFoundHandler(ctx, reply, req)
	}
	return nil
}

func (c *Client) storeDiagnostics(params protocol.PublishDiagnosticsParams) {
	key := string(params.URI)

	c.mu.Lock()
	defer c.mu.Unlock()

	version := int32(params.Version)
	if version == 0 {
		// Unversioned publishes describe the latest text the server has.
		if doc, ok := c.docs[key]; ok {
			version = doc.version
		}
	}
	c.diags[key] = published{version: version, items: params.Diagnostics}

	close(c.published)
	c.published = make(chan struct{})
}

// sync brings the server's copy of a document up to date with snap.
func (c *Client) sync(ctx context.Context, uriKey, languageID string, version int32, text string) error {
	if c.closed.Load() {
		return ErrClosed
	}

	c.syncMu.Lock()
	defer c.syncMu.Unlock()

	c.mu.Lock()
	doc, open := c.docs[uriKey]
	var current document
	if open {
		current = *doc
	}
	c.mu.Unlock()

	docURI := protocol.DocumentURI(uriKey)

	if open && current.languageID == languageID && current.version == version && current.text == text {
		return nil
	}

	// A replaced model can reuse a URI with a restarted version counter.
	if open && (current.languageID != languageID || version <= current.version) {
		if err := c.conn.Notify(ctx, protocol.MethodTextDocumentDidClose, &protocol.DidCloseTextDocumentParams{
			TextDocument: protocol.TextDocumentIdentifier{URI: docURI},
		}); err != nil {
			return fmt.Errorf("lspbackend: didClose: %w", err)
		}
		c.mu.Lock()
		delete(c.docs, uriKey)
		delete(c.diags, uriKey)
		c.mu.Unlock()
		open = false
	}

	if !open {
		if err := c.conn.Notify(ctx, protocol.MethodTextDocumentDidOpen, &protocol.DidOpenTextDocumentParams{
			TextDocument: protocol.TextDocumentItem{
				URI:        docURI,
				LanguageID: protocol.LanguageIdentifier(languageID),
				Version:    version,
				Text:       text,
			},
		}); err != nil {
			return fmt.Errorf("lspbackend: didOpen: %w", err)
		}
	} else {
		if err := c.conn.Notify(ctx, protocol.MethodTextDocumentDidChange, &fullTextChangeParams{
			TextDocument: protocol.VersionedTextDocumentIdentifier{
				TextDocumentIdentifier: protocol.TextDocumentIdentifier{URI: docURI},
				Version:                version,
			},
			ContentChanges: []fullTextChange{{Text: text}},
		}); err != nil {
			return fmt.Errorf("lspbackend: didChange: %w", err)
		}
	}

	c.mu.Lock()
	c.docs[uriKey] = &document{languageID: languageID, version: version, text: text}
	c.mu.Unlock()
	return nil
}

// waitDiagnostics blocks until the server published diagnostics for
// version of uriKey or ctx ends.
func (c *Client) waitDiagnostics(ctx context.Context, uriKey string, version int32) ([]protocol.Diagnostic, error) {
	for {
		c.mu.Lock()
		p, ok := c.diags[uriKey]
		wait := c.published
		c.mu.Unlock()

		if ok && p.version == version {
			return p.items, nil
		}
		if c.closed.Load() {
			return nil, ErrClosed
		}

		select {
		case <-wait:
		case <-c.conn.Done():
			return nil, ErrClosed
		case <-ctx.Done():
			return nil, fmt.Errorf("%w for %s v%d: %v", ErrNoDiagnostics, uriKey, version, ctx.Err())
		}
	}
}

// OpenDocuments lists the URIs currently synced to the server.
func (c *Client) OpenDocuments() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.docs))
	for k := range c.docs {
		out = append(out, k)
	}
	return out
}

// Close runs the shutdown/exit sequence and releases the connection. When
// the client owns a subprocess it is waited for, then killed on timeout.
func (c *Client) Close(ctx context.Context) error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, constants.LanguageServerShutdownTimeout)
		defer cancel()
	}

	var errs []error
	select {
	case <-c.conn.Done():
	default:
		if _, err := c.conn.Call(ctx, protocol.MethodShutdown, nil, nil); err != nil {
			errs = append(errs, fmt.Errorf("lspbackend: shutdown: %w", err))
		}
		if err := c.conn.Notify(ctx, protocol.MethodExit, nil); err != nil {
			errs = append(errs, fmt.Errorf("lspbackend: exit: %w", err))
		}
	}

	c.cancel()
	if err := c.conn.Close(); err != nil && !errors.Is(err, io.ErrClosedPipe) {
		c.logger.Printf("[lspbackend] close connection: %v", err)
	}
	if c.shutdown != nil {
		if err := c.shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
