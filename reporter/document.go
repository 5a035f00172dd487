package reporter

import (
	"sync"

	"github.com/coder/monacoharness/fixture"
)

// Document is a versioned text document.
type Document interface {
	URI() string
	// Snapshot returns the content and version together.
	Snapshot() (value string, version int)
	// AtVersion runs fn with the content if the document is still at version,
	// holding off edits until fn returns. It reports whether fn ran.
	AtVersion(version int, fn func(value string)) bool
	// OnChange registers fn to run after every edit.
	OnChange(fn func()) (unsubscribe func())
}

// MemoryDocument is an in-memory [Document]. Its version starts at 1 and
// increases with every edit.
type MemoryDocument struct {
	uri string

	mu        sync.Mutex
	value     string
	version   int
	nextID    int
	listeners map[int]func()
}

var _ Document = &MemoryDocument{}

func NewDocument(uri, value string) *MemoryDocument {
	return &MemoryDocument{
		uri:       uri,
		value:     value,
		version:   1,
		listeners: make(map[int]func()),
	}
}

func (d *MemoryDocument) URI() string {
	return d.uri
}

func (d *MemoryDocument) Snapshot() (string, int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.value, d.version
}

func (d *MemoryDocument) AtVersion(version int, fn func(value string)) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.version != version {
		return false
	}
	fn(d.value)
	return true
}

// SetValue replaces the content and notifies listeners synchronously.
func (d *MemoryDocument) SetValue(value string) {
	d.mu.Lock()
	d.value = value
	d.version++
	listeners := make([]func(), 0, len(d.listeners))
	for _, fn := range d.listeners {
		listeners = append(listeners, fn)
	}
	d.mu.Unlock()

	for _, fn := range listeners {
		fn()
	}
}

func (d *MemoryDocument) OnChange(fn func()) func() {
	d.mu.Lock()
	defer d.mu.Unlock()
	id := d.nextID
	d.nextID++
	d.listeners[id] = fn
	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		delete(d.listeners, id)
	}
}

// MarkerSink receives published markers, replacing any previous markers of
// the same owner for uri.
type MarkerSink interface {
	SetModelMarkers(uri, owner string, markers []fixture.Marker)
}

// MemorySink records the latest markers per document.
type MemorySink struct {
	mu      sync.Mutex
	markers map[string][]fixture.Marker
	updates int
}

var _ MarkerSink = &MemorySink{}

func (s *MemorySink) SetModelMarkers(uri, owner string, markers []fixture.Marker) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.markers == nil {
		s.markers = make(map[string][]fixture.Marker)
	}
	s.markers[uri+"\x00"+owner] = markers
	s.updates++
}

// Markers returns the latest markers of owner for uri, and whether any were
// ever published.
func (s *MemorySink) Markers(uri, owner string) ([]fixture.Marker, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.markers[uri+"\x00"+owner]
	return m, ok
}

// Updates counts publications.
func (s *MemorySink) Updates() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updates
}
