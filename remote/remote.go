// Package remote evaluates code inside the page hosting the editor.
//
// Values only cross the boundary as JSON. Functions, class instances and
// regular expressions cannot be sent as arguments; callers rebuild such values
// page-side from plain data.
package remote

//go:generate mockgen -destination ./remotemock/remotemock.go -package remotemock github.com/coder/monacoharness/remote Conn

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/coder/monacoharness/assets"
)

// Conn evaluates a JavaScript expression in the page. Promises are awaited and
// the settled value is returned JSON-encoded. An exception thrown by the
// expression is returned as a *[EvalError].
type Conn interface {
	Evaluate(ctx context.Context, expression string) (json.RawMessage, error)
}

// EvalError is an exception raised page-side.
type EvalError struct {
	Message string
}

func (e *EvalError) Error() string {
	return "page evaluation failed: " + e.Message
}

// Globals names the page globals holding the editor instance and the editor
// module.
type Globals struct {
	Editor string
	Module string
}

// DefaultGlobals are the globals published by the bootstrap bundle.
var DefaultGlobals = Globals{Editor: assets.EditorGlobal, Module: assets.ModuleGlobal}

// Handle is an explicit reference to the page state, passed to every
// operation instead of relying on ambient globals.
type Handle struct {
	conn    Conn
	globals Globals
}

// NewHandle returns a handle over conn. Zero fields of globals take their
// [DefaultGlobals] value.
func NewHandle(conn Conn, globals Globals) *Handle {
	if globals.Editor == "" {
		globals.Editor = DefaultGlobals.Editor
	}
	if globals.Module == "" {
		globals.Module = DefaultGlobals.Module
	}
	return &Handle{conn: conn, globals: globals}
}

func (h *Handle) Conn() Conn {
	return h.conn
}

func (h *Handle) Globals() Globals {
	return h.globals
}

// envelope is what every expression built by [Handle.Expression] settles to,
// serialized to a string so any result survives transport intact.
type envelope struct {
	OK    bool            `json:"ok"`
	Value json.RawMessage `json:"value"`
	Error string          `json:"error"`
}

// Expression builds the page-side program which calls fn with the page state
// and arg. fn is the source of a (possibly async) JavaScript function taking
// ({ ed, monaco }, arg).
func (h *Handle) Expression(fn string, arg any) (string, error) {
	argJSON, err := json.Marshal(arg)
	if err != nil {
		return "", fmt.Errorf("marshal argument: %w", err)
	}

	var sb strings.Builder
	sb.WriteString("(async () => {\n")
	fmt.Fprintf(&sb, "  const state = { ed: globalThis[%s], monaco: globalThis[%s] };\n", strconv.Quote(h.globals.Editor), strconv.Quote(h.globals.Module))
	fmt.Fprintf(&sb, "  const arg = %s;\n", argJSON)
	sb.WriteString("  try {\n")
	fmt.Fprintf(&sb, "    const value = await (%s)(state, arg);\n", fn)
	sb.WriteString("    return JSON.stringify({ ok: true, value: value === undefined ? null : value });\n")
	sb.WriteString("  } catch (error) {\n")
	sb.WriteString("    return JSON.stringify({ ok: false, error: String((error && error.stack) || error) });\n")
	sb.WriteString("  }\n")
	sb.WriteString("})()")
	return sb.String(), nil
}

// Evaluate runs fn in the page with arg and decodes the result into out. A nil
// out discards the result.
func (h *Handle) Evaluate(ctx context.Context, fn string, arg any, out any) error {
	expr, err := h.Expression(fn, arg)
	if err != nil {
		return err
	}

	raw, err := h.conn.Evaluate(ctx, expr)
	if err != nil {
		return err
	}
	return DecodeResult(raw, out)
}

// DecodeResult unpacks the settled value of an expression built by
// [Handle.Expression].
func DecodeResult(raw json.RawMessage, out any) error {
	var text string
	if err := json.Unmarshal(raw, &text); err != nil {
		return fmt.Errorf("decode page result: %w", err)
	}

	var env envelope
	if err := json.Unmarshal([]byte(text), &env); err != nil {
		return fmt.Errorf("decode page result: %w", err)
	}
	if !env.OK {
		return &EvalError{Message: env.Error}
	}
	if out == nil || len(env.Value) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Value, out); err != nil {
		return fmt.Errorf("decode page value: %w", err)
	}
	return nil
}

// EncodeResult produces what the page returns for an expression built by
// [Handle.Expression] which settled to value. It is the inverse of
// [DecodeResult] and is used by fake connections.
func EncodeResult(value any) (json.RawMessage, error) {
	v, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	inner, err := json.Marshal(envelope{OK: true, Value: v})
	if err != nil {
		return nil, err
	}
	return json.Marshal(string(inner))
}

// EncodeException produces what the page returns for an expression built by
// [Handle.Expression] which threw.
func EncodeException(message string) json.RawMessage {
	inner, _ := json.Marshal(envelope{Error: message})
	out, _ := json.Marshal(string(inner))
	return out
}
