package testutil

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/coder/monacoharness/remote"
)

// PageFunc answers one page-side function. A returned error is reported to the
// caller as an exception thrown in the page.
type PageFunc func(ctx context.Context, arg json.RawMessage) (any, error)

var (
	exprFnPattern  = regexp.MustCompile(`(?s)const value = await \((.*)\)\(state, arg\);\n`)
	exprArgPattern = regexp.MustCompile(`(?m)^  const arg = (.*);$`)
)

// FakePage is a [remote.Conn] which dispatches expressions built by
// [remote.Handle.Expression] to Go functions keyed by the exact function
// source.
type FakePage struct {
	mu       sync.Mutex
	funcs    map[string]PageFunc
	contains []containsFunc
	calls    []string
}

type containsFunc struct {
	substr string
	fn     PageFunc
}

var _ remote.Conn = &FakePage{}

func NewFakePage() *FakePage {
	return &FakePage{funcs: make(map[string]PageFunc)}
}

// On registers fn as the page's behavior for the function source src.
func (p *FakePage) On(src string, fn PageFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.funcs[src] = fn
}

// OnContains registers fn for any function whose source contains substr and
// which has no exact registration. The first matching registration wins.
func (p *FakePage) OnContains(substr string, fn PageFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.contains = append(p.contains, containsFunc{substr: substr, fn: fn})
}

// Calls returns the function sources evaluated so far, in order.
func (p *FakePage) Calls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.calls...)
}

func (p *FakePage) Evaluate(ctx context.Context, expression string) (json.RawMessage, error) {
	fnMatch := exprFnPattern.FindStringSubmatch(expression)
	argMatch := exprArgPattern.FindStringSubmatch(expression)
	if fnMatch == nil || argMatch == nil {
		return nil, &remote.EvalError{Message: "SyntaxError: unrecognized expression"}
	}
	src := fnMatch[1]

	p.mu.Lock()
	fn, ok := p.funcs[src]
	if !ok {
		for _, c := range p.contains {
			if strings.Contains(src, c.substr) {
				fn, ok = c.fn, true
				break
			}
		}
	}
	p.calls = append(p.calls, src)
	p.mu.Unlock()
	if !ok {
		return remote.EncodeException(fmt.Sprintf("TypeError: no fake for %q", src)), nil
	}

	value, err := fn(ctx, json.RawMessage(argMatch[1]))
	if err != nil {
		// Context errors are transport failures, not page exceptions.
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return remote.EncodeException(err.Error()), nil
	}
	return remote.EncodeResult(value)
}
