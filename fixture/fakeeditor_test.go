package fixture

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"slices"
	"sync"

	"github.com/coder/monacoharness/testutil"
)

type fakeModel struct {
	uri      string
	language string
	value    string
	version  int
}

type fakeWait struct {
	uri       string
	resolved  chan []Marker
	cancelled chan struct{}
}

// fakeEditor is just enough of the editor for the fixture's page functions.
type fakeEditor struct {
	mu       sync.Mutex
	models   []*fakeModel
	active   string
	position *Position
	sources  []string
	commands []string
	markers  map[string][]Marker
	waits    map[string]*fakeWait
	nextID   int
}

func newFakeEditor() (*fakeEditor, *testutil.FakePage) {
	ed := &fakeEditor{
		markers: make(map[string][]Marker),
		waits:   make(map[string]*fakeWait),
	}
	page := testutil.NewFakePage()

	page.On(jsCreateModel, decoded(func(_ context.Context, arg struct {
		Value, URI, Language string
		Open                 bool
	},
	) (any, error) {
		m := ed.create(arg.Value, arg.URI, arg.Language)
		if arg.Open {
			ed.mu.Lock()
			ed.active = m.uri
			ed.mu.Unlock()
		}
		return Model{URI: m.uri, Language: m.language}, nil
	}))
	page.On(jsOpen, decoded(func(_ context.Context, entries [][2]string) (any, error) {
		uris := []string{}
		for _, e := range entries {
			uris = append(uris, ed.create(e[1], "file:///"+path.Clean(e[0]), "").uri)
		}
		return uris, nil
	}))
	page.On(jsSetModel, decoded(func(_ context.Context, uri string) (any, error) {
		ed.mu.Lock()
		defer ed.mu.Unlock()
		ed.active = ""
		if ed.lookup(uri) != nil {
			ed.active = uri
		}
		return nil, nil
	}))
	page.On(jsSetPosition, decoded(func(_ context.Context, arg struct {
		Position Position
		Source   string
	},
	) (any, error) {
		ed.mu.Lock()
		defer ed.mu.Unlock()
		ed.position = &arg.Position
		ed.sources = append(ed.sources, arg.Source)
		return nil, nil
	}))
	page.On(jsTrigger, decoded(func(_ context.Context, arg struct {
		Source    string
		HandlerID string `json:"handlerId"`
		Payload   json.RawMessage
	},
	) (any, error) {
		ed.mu.Lock()
		defer ed.mu.Unlock()
		ed.sources = append(ed.sources, arg.Source)
		ed.commands = append(ed.commands, arg.HandlerID)
		if arg.HandlerID == "explode" {
			return nil, errors.New("Error: command failed")
		}
		return map[string]any{"handled": arg.HandlerID, "payload": arg.Payload}, nil
	}))
	page.On(jsModels, func(context.Context, json.RawMessage) (any, error) {
		ed.mu.Lock()
		defer ed.mu.Unlock()
		infos := []ModelInfo{}
		for _, m := range ed.models {
			infos = append(infos, ModelInfo{URI: m.uri, Language: m.language, VersionID: m.version})
		}
		return infos, nil
	})
	page.On(jsActiveURI, func(context.Context, json.RawMessage) (any, error) {
		ed.mu.Lock()
		defer ed.mu.Unlock()
		return ed.active, nil
	})
	page.On(jsValue, decoded(func(_ context.Context, uri string) (any, error) {
		ed.mu.Lock()
		defer ed.mu.Unlock()
		if uri == "" {
			uri = ed.active
		}
		m := ed.lookup(uri)
		if m == nil {
			return nil, fmt.Errorf("Error: model not found: %s", uri)
		}
		return m.value, nil
	}))
	page.On(jsPosition, func(context.Context, json.RawMessage) (any, error) {
		ed.mu.Lock()
		defer ed.mu.Unlock()
		if ed.active == "" {
			return nil, nil
		}
		return ed.position, nil
	})
	page.On(jsMarkers, decoded(func(_ context.Context, uri string) (any, error) {
		ed.mu.Lock()
		defer ed.mu.Unlock()
		return append([]Marker{}, ed.markers[uri]...), nil
	}))
	page.On(jsSubscribeMarkers, decoded(func(_ context.Context, arg struct{ ID, URI string }) (any, error) {
		ed.mu.Lock()
		defer ed.mu.Unlock()
		ed.waits[arg.ID] = &fakeWait{
			uri:       arg.URI,
			resolved:  make(chan []Marker, 1),
			cancelled: make(chan struct{}),
		}
		return arg.ID, nil
	}))
	page.On(jsAwaitMarkers, decoded(func(ctx context.Context, id string) (any, error) {
		ed.mu.Lock()
		w, ok := ed.waits[id]
		ed.mu.Unlock()
		if !ok {
			return nil, fmt.Errorf("Error: unknown marker wait %s", id)
		}
		select {
		case markers := <-w.resolved:
			ed.mu.Lock()
			delete(ed.waits, id)
			ed.mu.Unlock()
			return markers, nil
		case <-w.cancelled:
			return nil, errors.New("Error: marker wait cancelled")
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}))
	page.On(jsCancelMarkers, decoded(func(_ context.Context, id string) (any, error) {
		ed.mu.Lock()
		defer ed.mu.Unlock()
		if w, ok := ed.waits[id]; ok {
			delete(ed.waits, id)
			close(w.cancelled)
		}
		return nil, nil
	}))

	return ed, page
}

func decoded[T any](fn func(context.Context, T) (any, error)) testutil.PageFunc {
	return func(ctx context.Context, raw json.RawMessage) (any, error) {
		var arg T
		if err := json.Unmarshal(raw, &arg); err != nil {
			return nil, fmt.Errorf("TypeError: %w", err)
		}
		return fn(ctx, arg)
	}
}

func (ed *fakeEditor) create(value, uri, language string) *fakeModel {
	ed.mu.Lock()
	defer ed.mu.Unlock()
	ed.nextID++
	if uri == "" {
		uri = fmt.Sprintf("inmemory://model/%d", ed.nextID)
	}
	if language == "" {
		switch path.Ext(uri) {
		case ".json":
			language = "json"
		case ".md":
			language = "markdown"
		default:
			language = "plaintext"
		}
	}
	m := &fakeModel{uri: uri, language: language, value: value, version: 1}
	ed.models = append(ed.models, m)
	return m
}

func (ed *fakeEditor) lookup(uri string) *fakeModel {
	for _, m := range ed.models {
		if m.uri == uri {
			return m
		}
	}
	return nil
}

// setMarkers replaces the markers of uri and notifies listeners, like
// monaco.editor.setModelMarkers.
func (ed *fakeEditor) setMarkers(uri string, markers []Marker) {
	ed.mu.Lock()
	defer ed.mu.Unlock()
	ed.markers[uri] = slices.Clone(markers)
	for _, w := range ed.waits {
		if w.uri == uri {
			select {
			case w.resolved <- slices.Clone(markers):
			default:
			}
		}
	}
}

func (ed *fakeEditor) pendingWaits() int {
	ed.mu.Lock()
	defer ed.mu.Unlock()
	return len(ed.waits)
}
