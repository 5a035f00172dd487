// Package fixture drives the editor inside a loaded page. Every operation is
// marshalled through an explicit [remote.Handle]; nothing is looked up from
// ambient state.
package fixture

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"time"

	"cdr.dev/slog"
	"github.com/coder/monacoharness/metrics"
	"github.com/coder/monacoharness/remote"
	"github.com/coder/monacoharness/tracing"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Source is attached to cursor changes and commands issued by the fixture so
// the page can tell them apart from user input.
const Source = "monaco-harness"

// defaultReadLimit bounds concurrent file reads in [Editor.Open].
const defaultReadLimit = 8

// cancelTimeout bounds cleanup of an abandoned marker wait.
const cancelTimeout = 5 * time.Second

// Model identifies a text model in the page.
type Model struct {
	URI      string `json:"uri"`
	Language string `json:"language"`
}

// ModelInfo describes an existing text model.
type ModelInfo struct {
	URI       string `json:"uri"`
	Language  string `json:"language"`
	VersionID int    `json:"versionId"`
}

type Options struct {
	Logger  slog.Logger
	Metrics *metrics.Metrics
	Tracer  trace.Tracer
	// ReadLimit bounds concurrent file reads in [Editor.Open]. Defaults to 8.
	ReadLimit int
}

// Editor is the remote-control fixture for one page. Only one Editor should
// drive a page at a time.
type Editor struct {
	handle    *remote.Handle
	logger    slog.Logger
	metrics   *metrics.Metrics
	tracer    trace.Tracer
	readLimit int
}

func New(handle *remote.Handle, opts Options) *Editor {
	limit := opts.ReadLimit
	if limit <= 0 {
		limit = defaultReadLimit
	}
	return &Editor{
		handle:    handle,
		logger:    opts.Logger,
		metrics:   opts.Metrics,
		tracer:    tracing.TracerOrNoop(opts.Tracer),
		readLimit: limit,
	}
}

// call evaluates fn and records the outcome.
func (e *Editor) call(ctx context.Context, method, fn string, arg, out any) error {
	err := e.handle.Evaluate(ctx, fn, arg, out)

	status := metrics.StatusCompleted
	if err != nil {
		status = metrics.StatusFailed
		e.logger.Debug(ctx, "remote call failed", slog.F("method", method), slog.Error(err))
	}
	if e.metrics != nil {
		e.metrics.RemoteCallCount.WithLabelValues(method, status).Inc()
	}
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	return nil
}

func (e *Editor) startSpan(ctx context.Context, method string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs, attribute.String(tracing.RemoteMethod, method))
	attrs = append(attrs, tracing.SessionAttributesFromContext(ctx)...)
	return e.tracer.Start(ctx, "Editor."+method, trace.WithAttributes(attrs...))
}

// CreateModel creates a text model holding value. pathOrURI is normalized by
// [NormalizeURI]. If open is set the model becomes the active model. An empty
// language lets the editor infer it from the location.
func (e *Editor) CreateModel(ctx context.Context, value, pathOrURI string, open bool, language string) (Model, error) {
	return e.createModel(ctx, value, NormalizeURI(pathOrURI), open, language)
}

// CreateModelURL is [Editor.CreateModel] for a URL, whose string form is used
// exactly.
func (e *Editor) CreateModelURL(ctx context.Context, value string, u *url.URL, open bool, language string) (Model, error) {
	var uri string
	if u != nil {
		uri = u.String()
	}
	return e.createModel(ctx, value, uri, open, language)
}

func (e *Editor) createModel(ctx context.Context, value, uri string, open bool, language string) (_ Model, outErr error) {
	ctx, span := e.startSpan(ctx, "CreateModel", attribute.String(tracing.ModelURI, uri))
	defer tracing.EndSpanErr(span, &outErr)

	var model Model
	err := e.call(ctx, "CreateModel", jsCreateModel, map[string]any{
		"value":    value,
		"uri":      uri,
		"language": language,
		"open":     open,
	}, &model)
	return model, err
}

// Open creates one model per file matched by patterns, addressed by
// file:/// joined with the file's path relative to the base directory. The
// active model is unchanged. It returns the URIs of the created models.
func (e *Editor) Open(ctx context.Context, patterns []string, opts OpenOptions) (_ []string, outErr error) {
	ctx, span := e.startSpan(ctx, "Open", attribute.Int(tracing.PatternCount, len(patterns)))
	defer tracing.EndSpanErr(span, &outErr)

	base, err := opts.baseDir()
	if err != nil {
		return nil, fmt.Errorf("resolve base directory: %w", err)
	}
	names, err := Glob(base, patterns, opts.Dot)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int(tracing.FileCount, len(names)))

	contents, err := readFiles(base, names, e.readLimit)
	if err != nil {
		return nil, err
	}

	entries := make([][2]string, len(names))
	for i, name := range names {
		entries[i] = [2]string{name, contents[i]}
	}

	uris := []string{}
	if err := e.call(ctx, "Open", jsOpen, entries, &uris); err != nil {
		return nil, err
	}
	e.logger.Debug(ctx, "opened files", slog.F("base", base), slog.F("count", len(uris)))
	return uris, nil
}

// SetModel makes the model with exactly this URI active. An unknown URI is
// passed through; the editor then has no active model.
func (e *Editor) SetModel(ctx context.Context, uri string) (outErr error) {
	ctx, span := e.startSpan(ctx, "SetModel", attribute.String(tracing.ModelURI, uri))
	defer tracing.EndSpanErr(span, &outErr)

	return e.call(ctx, "SetModel", jsSetModel, uri, nil)
}

// SetPosition moves the cursor of the active model.
func (e *Editor) SetPosition(ctx context.Context, pos Position) (outErr error) {
	ctx, span := e.startSpan(ctx, "SetPosition")
	defer tracing.EndSpanErr(span, &outErr)

	return e.call(ctx, "SetPosition", jsSetPosition, map[string]any{
		"position": pos,
		"source":   Source,
	}, nil)
}

// Trigger runs an editor command. payload may be nil. The result is whatever
// the command returned, JSON-encoded.
func (e *Editor) Trigger(ctx context.Context, handlerID string, payload any) (_ json.RawMessage, outErr error) {
	ctx, span := e.startSpan(ctx, "Trigger", attribute.String(tracing.HandlerID, handlerID))
	defer tracing.EndSpanErr(span, &outErr)

	var result json.RawMessage
	err := e.call(ctx, "Trigger", jsTrigger, map[string]any{
		"source":    Source,
		"handlerId": handlerID,
		"payload":   payload,
	}, &result)
	return result, err
}

// WaitForMarkers returns the markers of uri after the first marker change
// affecting it. The page subscribes before trigger runs, so a change caused by
// trigger is never missed. Changes to other resources are ignored. If trigger
// fails, ctx ends or the connection drops, the page-side subscription is
// removed.
func (e *Editor) WaitForMarkers(ctx context.Context, uri string, trigger func(context.Context) error) (_ []Marker, outErr error) {
	ctx, span := e.startSpan(ctx, "WaitForMarkers", attribute.String(tracing.ModelURI, uri))
	defer tracing.EndSpanErr(span, &outErr)

	defer func() {
		if e.metrics == nil {
			return
		}
		status := metrics.StatusCompleted
		if outErr != nil {
			status = metrics.StatusFailed
		}
		e.metrics.MarkerWaitCount.WithLabelValues(status).Inc()
	}()

	id := uuid.NewString()
	if err := e.call(ctx, "SubscribeMarkers", jsSubscribeMarkers, map[string]string{"id": id, "uri": uri}, nil); err != nil {
		return nil, err
	}

	if trigger != nil {
		if err := trigger(ctx); err != nil {
			e.cancelMarkerWait(ctx, id)
			return nil, fmt.Errorf("trigger: %w", err)
		}
	}

	markers := []Marker{}
	if err := e.call(ctx, "AwaitMarkers", jsAwaitMarkers, id, &markers); err != nil {
		// A page exception settled the wait; anything else may leave it registered.
		if !IsEvalError(err) {
			e.cancelMarkerWait(ctx, id)
		}
		return nil, err
	}

	span.SetAttributes(attribute.Int(tracing.MarkerCount, len(markers)))
	if e.metrics != nil {
		e.metrics.MarkerCount.Add(float64(len(markers)))
	}
	return markers, nil
}

func (e *Editor) cancelMarkerWait(ctx context.Context, id string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cancelTimeout)
	defer cancel()
	if err := e.call(ctx, "CancelMarkers", jsCancelMarkers, id, nil); err != nil {
		e.logger.Warn(ctx, "failed to cancel marker wait", slog.F("id", id), slog.Error(err))
	}
}

// Markers returns the current markers of uri without waiting.
func (e *Editor) Markers(ctx context.Context, uri string) ([]Marker, error) {
	markers := []Marker{}
	err := e.call(ctx, "Markers", jsMarkers, uri, &markers)
	return markers, err
}

// Models lists every text model in the page.
func (e *Editor) Models(ctx context.Context) ([]ModelInfo, error) {
	models := []ModelInfo{}
	err := e.call(ctx, "Models", jsModels, nil, &models)
	return models, err
}

// ActiveURI returns the URI of the active model, or "" when there is none.
func (e *Editor) ActiveURI(ctx context.Context) (string, error) {
	var uri string
	err := e.call(ctx, "ActiveURI", jsActiveURI, nil, &uri)
	return uri, err
}

// Value returns the content of the model at uri, or of the active model when
// uri is empty.
func (e *Editor) Value(ctx context.Context, uri string) (string, error) {
	var value string
	err := e.call(ctx, "Value", jsValue, uri, &value)
	return value, err
}

// Position returns the cursor position. ok is false when no model is active.
func (e *Editor) Position(ctx context.Context) (pos Position, ok bool, err error) {
	var p *Position
	if err := e.call(ctx, "Position", jsPosition, nil, &p); err != nil {
		return Position{}, false, err
	}
	if p == nil {
		return Position{}, false, nil
	}
	return *p, true, nil
}

// IsEvalError reports whether err was raised inside the page.
func IsEvalError(err error) bool {
	var evalErr *remote.EvalError
	return errors.As(err, &evalErr)
}
