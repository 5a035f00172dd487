package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
)

// ChromeConn evaluates expressions in a browser tab driven over the Chrome
// DevTools Protocol.
type ChromeConn struct {
	tab    context.Context
	cancel context.CancelFunc
}

var _ Conn = &ChromeConn{}

// NewChromeConn wraps a tab context created with [chromedp.NewContext].
func NewChromeConn(tab context.Context) *ChromeConn {
	return &ChromeConn{tab: tab, cancel: func() {}}
}

// AttachOptions selects the browser [Attach] drives.
type AttachOptions struct {
	// ExecPath is the browser binary. Empty means search the usual locations.
	ExecPath string
	// RemoteURL is the DevTools websocket of an already running browser. When
	// set, no browser is launched.
	RemoteURL string
	// Headful shows the browser window.
	Headful bool
}

// Attach opens baseURL in a new tab and waits for the editor to be published.
// Close the returned conn to close the tab and, if one was launched, the
// browser.
func Attach(ctx context.Context, baseURL string, opts AttachOptions) (_ *ChromeConn, err error) {
	var (
		allocCtx    context.Context
		allocCancel context.CancelFunc
	)
	if opts.RemoteURL != "" {
		allocCtx, allocCancel = chromedp.NewRemoteAllocator(context.Background(), opts.RemoteURL)
	} else {
		execOpts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
		if opts.ExecPath != "" {
			execOpts = append(execOpts, chromedp.ExecPath(opts.ExecPath))
		}
		if opts.Headful {
			execOpts = append(execOpts, chromedp.Flag("headless", false))
		}
		allocCtx, allocCancel = chromedp.NewExecAllocator(context.Background(), execOpts...)
	}
	tab, tabCancel := chromedp.NewContext(allocCtx)

	conn := &ChromeConn{
		tab: tab,
		cancel: func() {
			tabCancel()
			allocCancel()
		},
	}
	defer func() {
		if err != nil {
			conn.Close()
		}
	}()

	// The browser lives as long as the context of the first Run, so allocate it
	// on the tab context itself rather than a cancellable child.
	if err = chromedp.Run(tab); err != nil {
		return nil, fmt.Errorf("start browser: %w", err)
	}

	ready := fmt.Sprintf("Boolean(globalThis[%q] && globalThis[%q])", DefaultGlobals.Editor, DefaultGlobals.Module)
	err = conn.run(ctx,
		chromedp.Navigate(strings.TrimSuffix(baseURL, "/")+"/"),
		chromedp.WaitVisible("#editor", chromedp.ByQuery),
		chromedp.Poll(ready, nil),
	)
	if err != nil {
		return nil, fmt.Errorf("attach to %s: %w", baseURL, err)
	}
	return conn, nil
}

func (c *ChromeConn) Evaluate(ctx context.Context, expression string) (json.RawMessage, error) {
	var raw []byte
	err := c.run(ctx, chromedp.Evaluate(expression, &raw, func(p *runtime.EvaluateParams) *runtime.EvaluateParams {
		return p.WithAwaitPromise(true)
	}))
	if err != nil {
		var exc *runtime.ExceptionDetails
		if errors.As(err, &exc) {
			return nil, &EvalError{Message: exc.Error()}
		}
		return nil, err
	}
	return raw, nil
}

// Close closes the tab.
func (c *ChromeConn) Close() {
	c.cancel()
}

// run executes actions on the tab, aborting when either ctx or the tab ends.
func (c *ChromeConn) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(c.tab)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	if err := chromedp.Run(runCtx, actions...); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	return nil
}
