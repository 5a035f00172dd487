package remote_test

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/mock/gomock"

	"github.com/coder/monacoharness/remote"
	"github.com/coder/monacoharness/remote/remotemock"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestHandleExpression(t *testing.T) {
	t.Parallel()

	h := remote.NewHandle(nil, remote.Globals{Editor: "editor"})
	require.Equal(t, remote.Globals{Editor: "editor", Module: "monaco"}, h.Globals())

	expr, err := h.Expression("({ ed }, arg) => ed.getModel(arg.uri)", map[string]string{"uri": "file:///a.txt"})
	require.NoError(t, err)
	require.Contains(t, expr, `globalThis["editor"]`)
	require.Contains(t, expr, `globalThis["monaco"]`)
	require.Contains(t, expr, `const arg = {"uri":"file:///a.txt"};`)
	require.Contains(t, expr, "await (({ ed }, arg) => ed.getModel(arg.uri))(state, arg)")

	_, err = h.Expression("() => {}", func() {})
	require.ErrorContains(t, err, "marshal argument")
}

func TestHandleEvaluate(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name      string
		raw       json.RawMessage
		connErr   error
		out       any
		expected  any
		expectErr string
		evalErr   bool
	}{
		{
			name:     "value",
			raw:      mustEncode(t, map[string]any{"lineNumber": 2, "column": 3}),
			out:      &struct{ LineNumber, Column int }{},
			expected: &struct{ LineNumber, Column int }{LineNumber: 2, Column: 3},
		},
		{
			name: "discarded",
			raw:  mustEncode(t, "ignored"),
		},
		{
			name:     "undefined becomes null",
			raw:      mustEncode(t, nil),
			out:      new(*string),
			expected: new(*string),
		},
		{
			name:      "page exception",
			raw:       remote.EncodeException("TypeError: ed is undefined"),
			expectErr: "TypeError: ed is undefined",
			evalErr:   true,
		},
		{
			name:      "transport failure",
			connErr:   errors.New("websocket closed"),
			expectErr: "websocket closed",
		},
		{
			name:      "not an envelope",
			raw:       json.RawMessage(`42`),
			expectErr: "decode page result",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			ctrl := gomock.NewController(t)
			conn := remotemock.NewMockConn(ctrl)
			conn.EXPECT().
				Evaluate(gomock.Any(), gomock.Cond(func(expr string) bool { return strings.Contains(expr, "fn-under-test") })).
				Return(tc.raw, tc.connErr)

			h := remote.NewHandle(conn, remote.DefaultGlobals)
			err := h.Evaluate(context.Background(), "function fnUnderTest() { return 'fn-under-test' }", nil, tc.out)
			if tc.expectErr != "" {
				require.ErrorContains(t, err, tc.expectErr)
				var evalErr *remote.EvalError
				require.Equal(t, tc.evalErr, errors.As(err, &evalErr))
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.expected, tc.out)
		})
	}
}

func mustEncode(t *testing.T, v any) json.RawMessage {
	t.Helper()
	raw, err := remote.EncodeResult(v)
	require.NoError(t, err)
	return raw
}
