// Package grpcbackend serves langservice.Backend from a remote gRPC service
// and exposes any Backend as that service.
//
// The wire format is JSON over gRPC (content subtype "json") with method
// names under /edbridge.langservice.v1.LanguageService/.
package grpcbackend

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/nupi-ai/edbridge/internal/constants"
	"github.com/nupi-ai/edbridge/internal/editor"
	"github.com/nupi-ai/edbridge/internal/langservice"
)

// passthroughPrefix skips gRPC name resolution for plain host:port targets.
const passthroughPrefix = "passthrough:///"

// contextIDHeader repeats the request's context id in call metadata so
// proxies can route without decoding the body.
const contextIDHeader = "x-edbridge-context-id"

// Option configures a Client.
type Option func(*Client)

// WithToken sends a bearer token with every call.
func WithToken(token string) Option {
	return func(c *Client) {
		c.token = strings.TrimSpace(token)
	}
}

// WithDialOptions appends extra dial options.
func WithDialOptions(opts ...grpc.DialOption) Option {
	return func(c *Client) {
		c.dialOpts = append(c.dialOpts, opts...)
	}
}

// Client is a langservice.Backend backed by a gRPC connection.
type Client struct {
	conn     *grpc.ClientConn
	token    string
	dialOpts []grpc.DialOption
}

var _ langservice.Backend = (*Client)(nil)

// Dial creates a client for target. The connection is established lazily on
// the first call.
func Dial(target string, opts ...Option) (*Client, error) {
	c := &Client{}
	for _, opt := range opts {
		opt(c)
	}

	dialOpts := []grpc.DialOption{
		grpc.WithConnectParams(grpc.ConnectParams{
			MinConnectTimeout: constants.GRPCBackendMinConnectTimeout,
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(codecName)),
	}
	dialOpts = append(dialOpts, c.dialOpts...)

	if !strings.Contains(target, ":///") && !strings.HasPrefix(target, "unix:") {
		target = passthroughPrefix + target
	}
	conn, err := grpc.NewClient(target, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("grpcbackend: connect %s: %w", target, err)
	}
	c.conn = conn
	return c, nil
}

// Close releases the connection.
func (c *Client) Close() error {
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

func (c *Client) outgoing(ctx context.Context, req langservice.Request) context.Context {
	kv := []string{contextIDHeader, req.ContextID}
	if c.token != "" {
		kv = append(kv, "authorization", "Bearer "+c.token)
	}
	return metadata.AppendToOutgoingContext(ctx, kv...)
}

func (c *Client) invoke(ctx context.Context, method string, req langservice.Request, reply any) error {
	if err := c.conn.Invoke(c.outgoing(ctx, req), method, &req, reply); err != nil {
		return fromStatus(method, err)
	}
	return nil
}

// Complete implements langservice.Backend.
func (c *Client) Complete(ctx context.Context, req langservice.Request) (editor.CompletionList, error) {
	var list editor.CompletionList
	if err := c.invoke(ctx, MethodComplete, req, &list); err != nil {
		return editor.CompletionList{}, err
	}
	return list, nil
}

// Hover implements langservice.Backend.
func (c *Client) Hover(ctx context.Context, req langservice.Request) (*editor.Hover, error) {
	var reply HoverReply
	if err := c.invoke(ctx, MethodHover, req, &reply); err != nil {
		return nil, err
	}
	return reply.Hover, nil
}

// Format implements langservice.Backend.
func (c *Client) Format(ctx context.Context, req langservice.Request) ([]editor.TextEdit, error) {
	var reply FormatReply
	if err := c.invoke(ctx, MethodFormat, req, &reply); err != nil {
		return nil, err
	}
	return reply.Edits, nil
}

// Diagnostics implements langservice.Backend.
func (c *Client) Diagnostics(ctx context.Context, req langservice.Request) ([]langservice.Diagnostic, error) {
	var reply DiagnosticsReply
	if err := c.invoke(ctx, MethodDiagnostics, req, &reply); err != nil {
		return nil, err
	}
	return reply.Diagnostics, nil
}

// ContextID extracts the context id a client attached to an incoming call.
func ContextID(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	if v := md.Get(contextIDHeader); len(v) > 0 {
		return v[0]
	}
	return ""
}

func fromStatus(method string, err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return fmt.Errorf("grpcbackend: %s: %w", method, err)
	}
	switch st.Code() {
	case codes.Unimplemented:
		return fmt.Errorf("grpcbackend: %s: %s: %w", method, st.Message(), langservice.ErrNotSupported)
	case codes.Unavailable:
		return fmt.Errorf("grpcbackend: %s: %s: %w", method, st.Message(), langservice.ErrBackendUnavailable)
	default:
		return fmt.Errorf("grpcbackend: %s: %w", method, err)
	}
}
