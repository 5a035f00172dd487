package testutil

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/coder/monacoharness/remote"
)

// nodeRunner imports the preloads named on the command line, then evaluates
// one expression per stdin line in global scope. Expressions run concurrently;
// each settles to one reply line carrying the request id.
const nodeRunner = `import { createInterface } from 'node:readline'
import { pathToFileURL } from 'node:url'

for (const path of process.argv.slice(2)) {
  await import(pathToFileURL(path).href)
}

const write = (reply) => process.stdout.write(JSON.stringify(reply) + '\n')

createInterface({ input: process.stdin }).on('line', async (line) => {
  if (!line) {
    return
  }
  const { id, expression } = JSON.parse(line)
  try {
    const res = await (0, eval)(expression)
    write({ id, status: 'ok', res })
  } catch (error) {
    write({ id, status: 'err', errtext: String((error && error.stack) || error) })
  }
})

write({ id: 0, status: 'ready' })
`

// NodePage is a [remote.Conn] which evaluates expressions in a node process.
// It runs page-side functions against stub editor globals, published by
// preloaded modules, without a browser.
type NodePage struct {
	stdin io.WriteCloser

	mu      sync.Mutex
	nextID  int
	pending map[int]chan nodeReply

	done    chan struct{}
	exitErr error
	stderr  lockedBuffer
}

var _ remote.Conn = &NodePage{}

type nodeRequest struct {
	ID         int    `json:"id"`
	Expression string `json:"expression"`
}

type nodeReply struct {
	ID      int             `json:"id"`
	Status  string          `json:"status"`
	Res     json.RawMessage `json:"res"`
	ErrText string          `json:"errtext"`
}

// NewNodePage starts node with the ES modules in preload imported in order. The
// test is skipped when node is not installed. The process is killed on
// cleanup.
func NewNodePage(t testing.TB, preload ...string) *NodePage {
	t.Helper()

	node, err := exec.LookPath("node")
	if err != nil {
		t.Skip("node is not installed")
	}

	runner := filepath.Join(t.TempDir(), "runner.mjs")
	mustNoError(t, os.WriteFile(runner, []byte(nodeRunner), 0o644), "write node runner")

	ctx, cancel := context.WithCancel(context.Background())
	p := &NodePage{
		pending: make(map[int]chan nodeReply),
		done:    make(chan struct{}),
	}
	cmd := exec.CommandContext(ctx, node, append([]string{runner}, preload...)...)
	cmd.Stderr = &p.stderr
	stdin, err := cmd.StdinPipe()
	mustNoError(t, err, "node stdin")
	stdout, err := cmd.StdoutPipe()
	mustNoError(t, err, "node stdout")
	p.stdin = stdin

	if err := cmd.Start(); err != nil {
		cancel()
		t.Fatalf("start node: %v", err)
	}

	ready := make(chan struct{})
	go p.read(stdout, ready)

	t.Cleanup(func() {
		_ = stdin.Close()
		cancel()
		<-p.done
		_ = cmd.Wait()
	})

	select {
	case <-ready:
	case <-p.done:
		t.Fatalf("node exited before it was ready: %v\n%s", p.exitErr, p.stderr.String())
	case <-time.After(30 * time.Second):
		t.Fatalf("node did not become ready\n%s", p.stderr.String())
	}
	return p
}

func (p *NodePage) read(r io.Reader, ready chan<- struct{}) {
	defer close(p.done)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16<<20)
	for scanner.Scan() {
		var reply nodeReply
		if err := json.Unmarshal(scanner.Bytes(), &reply); err != nil || reply.Status == "" {
			// Stray output from page code.
			continue
		}
		if reply.Status == "ready" {
			close(ready)
			continue
		}

		p.mu.Lock()
		ch, ok := p.pending[reply.ID]
		delete(p.pending, reply.ID)
		p.mu.Unlock()
		if ok {
			ch <- reply
		}
	}

	p.exitErr = scanner.Err()
	if p.exitErr == nil {
		p.exitErr = io.EOF
	}
}

// Evaluate runs expression in node's global scope and returns its settled
// value as JSON. A thrown exception is returned as an error, as a browser
// connection does.
func (p *NodePage) Evaluate(ctx context.Context, expression string) (json.RawMessage, error) {
	ch := make(chan nodeReply, 1)

	p.mu.Lock()
	p.nextID++
	id := p.nextID
	p.pending[id] = ch
	line, err := json.Marshal(nodeRequest{ID: id, Expression: expression})
	if err == nil {
		_, err = p.stdin.Write(append(line, '\n'))
	}
	if err != nil {
		delete(p.pending, id)
	}
	p.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("send to node: %w", err)
	}

	select {
	case reply := <-ch:
		if reply.Status != "ok" {
			return nil, fmt.Errorf("node: %s", reply.ErrText)
		}
		if len(reply.Res) == 0 {
			return json.RawMessage("null"), nil
		}
		return reply.Res, nil
	case <-p.done:
		return nil, fmt.Errorf("node exited: %w\n%s", p.exitErr, p.stderr.String())
	case <-ctx.Done():
		p.mu.Lock()
		delete(p.pending, id)
		p.mu.Unlock()
		return nil, ctx.Err()
	}
}

// MustEvaluate evaluates expression and decodes its value into out. A nil out
// discards it.
func (p *NodePage) MustEvaluate(t testing.TB, expression string, out any) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	raw, err := p.Evaluate(ctx, expression)
	mustNoError(t, err, "evaluate %q", expression)
	if out != nil {
		mustNoError(t, json.Unmarshal(raw, out), "decode result of %q", expression)
	}
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
