package tracing

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

type sessionAttrsContextKey struct{}

const (
	// trace attribute key constants
	BuildMode       = "build_mode"
	BuildEntryCount = "build_entry_count"
	BuildErrors     = "build_errors"
	BuildWarnings   = "build_warnings"
	CacheDir        = "cache_dir"
	ServerURL       = "server_url"

	RemoteMethod = "remote_method"
	ModelURI     = "model_uri"
	MarkerCount  = "marker_count"
	HandlerID    = "handler_id"
	PatternCount = "pattern_count"
	FileCount    = "file_count"
)

// TracerOrNoop returns t, or a no-op tracer if t is nil.
func TracerOrNoop(t trace.Tracer) trace.Tracer {
	if t == nil {
		return noop.NewTracerProvider().Tracer("monacoharness")
	}
	return t
}

// EndSpanErr ends given span and sets Error status if error is not nil
// uses pointer to error because defer evaluates function arguments
// when defer statement is executed not when deferred function is called
//
// example usage:
//
//	func Example() (result any, outErr error) {
//	    _, span := tracer.Start(...)
//	    defer tracing.EndSpanErr(span, &outErr)
//
// }
func EndSpanErr(span trace.Span, err *error) {
	if span == nil {
		return
	}

	if err != nil && *err != nil {
		span.SetStatus(codes.Error, (*err).Error())
	}
	span.End()
}

// WithSessionAttributesInContext stores attributes which every span started
// for a remote-control session should carry.
func WithSessionAttributesInContext(ctx context.Context, traceAttrs []attribute.KeyValue) context.Context {
	return context.WithValue(ctx, sessionAttrsContextKey{}, traceAttrs)
}

func SessionAttributesFromContext(ctx context.Context) []attribute.KeyValue {
	attrs, ok := ctx.Value(sessionAttrsContextKey{}).([]attribute.KeyValue)
	if !ok {
		return nil
	}

	return attrs
}
