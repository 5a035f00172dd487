package fixture

import (
	"context"
	"errors"
	"testing"

	"cdr.dev/slog/sloggers/slogtest"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/coder/monacoharness/remote"
	"github.com/coder/monacoharness/tracing"
)

func TestEditorSpans(t *testing.T) {
	t.Parallel()

	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	_, page := newFakeEditor()
	e := New(remote.NewHandle(page, remote.DefaultGlobals), Options{
		Logger: slogtest.Make(t, &slogtest.Options{IgnoreErrors: true}),
		Tracer: tp.Tracer("test"),
	})

	session := attribute.String(tracing.ServerURL, "http://127.0.0.1:1234")
	ctx := tracing.WithSessionAttributesInContext(testContext(t), []attribute.KeyValue{session})

	_, err := e.CreateModel(ctx, "beep", "/a.txt", true, "")
	require.NoError(t, err)
	_, err = e.WaitForMarkers(ctx, "file:///a.txt", func(context.Context) error {
		return errors.New("boom")
	})
	require.Error(t, err)

	spans := sr.Ended()
	require.Len(t, spans, 2)

	require.Equal(t, "Editor.CreateModel", spans[0].Name())
	require.Equal(t, codes.Unset, spans[0].Status().Code)
	require.Contains(t, spans[0].Attributes(), attribute.String(tracing.ModelURI, "file:///a.txt"))
	require.Contains(t, spans[0].Attributes(), attribute.String(tracing.RemoteMethod, "CreateModel"))
	require.Contains(t, spans[0].Attributes(), session)

	require.Equal(t, "Editor.WaitForMarkers", spans[1].Name())
	require.Equal(t, codes.Error, spans[1].Status().Code)
	require.Contains(t, spans[1].Status().Description, "boom")
}
