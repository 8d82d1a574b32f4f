package grpcbackend

import (
	"context"
	"errors"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/nupi-ai/edbridge/internal/editor"
	"github.com/nupi-ai/edbridge/internal/langservice"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "edbridge.langservice.v1.LanguageService"

// Full method names.
const (
	MethodComplete    = "/" + ServiceName + "/Complete"
	MethodHover       = "/" + ServiceName + "/Hover"
	MethodFormat      = "/" + ServiceName + "/Format"
	MethodDiagnostics = "/" + ServiceName + "/Diagnostics"
)

// HoverReply wraps an optional hover.
type HoverReply struct {
	Hover *editor.Hover `json:"hover,omitempty"`
}

// FormatReply carries formatting edits.
type FormatReply struct {
	Edits []editor.TextEdit `json:"edits"`
}

// DiagnosticsReply carries a document's diagnostics.
type DiagnosticsReply struct {
	Diagnostics []langservice.Diagnostic `json:"diagnostics"`
}

// RegisterServer exposes backend on s. Requests and replies travel as JSON,
// so clients must call with the "json" content subtype.
func RegisterServer(s *grpc.Server, backend langservice.Backend) {
	s.RegisterService(&serviceDesc, backend)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*langservice.Backend)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Complete", Handler: unary(MethodComplete, func(ctx context.Context, b langservice.Backend, req langservice.Request) (any, error) {
			list, err := b.Complete(ctx, req)
			if err != nil {
				return nil, err
			}
			return &list, nil
		})},
		{MethodName: "Hover", Handler: unary(MethodHover, func(ctx context.Context, b langservice.Backend, req langservice.Request) (any, error) {
			h, err := b.Hover(ctx, req)
			if err != nil {
				return nil, err
			}
			return &HoverReply{Hover: h}, nil
		})},
		{MethodName: "Format", Handler: unary(MethodFormat, func(ctx context.Context, b langservice.Backend, req langservice.Request) (any, error) {
			edits, err := b.Format(ctx, req)
			if err != nil {
				return nil, err
			}
			return &FormatReply{Edits: edits}, nil
		})},
		{MethodName: "Diagnostics", Handler: unary(MethodDiagnostics, func(ctx context.Context, b langservice.Backend, req langservice.Request) (any, error) {
			diags, err := b.Diagnostics(ctx, req)
			if err != nil {
				return nil, err
			}
			return &DiagnosticsReply{Diagnostics: diags}, nil
		})},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "edbridge/langservice/v1/langservice.proto",
}

type backendCall func(ctx context.Context, b langservice.Backend, req langservice.Request) (any, error)

type methodHandler = func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error)

func unary(fullMethod string, call backendCall) methodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(langservice.Request)
		if err := dec(in); err != nil {
			return nil, status.Errorf(codes.InvalidArgument, "decode request: %v", err)
		}
		backend := srv.(langservice.Backend)

		handler := func(ctx context.Context, req any) (any, error) {
			out, err := call(ctx, backend, *req.(*langservice.Request))
			if err != nil {
				return nil, toStatus(err)
			}
			return out, nil
		}
		if interceptor == nil {
			return handler(ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		return interceptor(ctx, in, info, handler)
	}
}

func toStatus(err error) error {
	switch {
	case errors.Is(err, langservice.ErrNotSupported):
		return status.Error(codes.Unimplemented, err.Error())
	case errors.Is(err, langservice.ErrBackendUnavailable):
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}
