// Package recorder writes one JSONL flight-recorder trace per audit cycle
// and keeps only the most recent traces on disk.
package recorder

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	MaxRotatedFiles = 3
	TraceDir        = "traces"

	tracePrefix = "cycle_"
	traceExt    = ".jsonl"
)

// Event represents a single record in a trace.
type Event struct {
	Timestamp time.Time `json:"ts"`
	Type      string    `json:"type"`
	CycleID   string    `json:"cycle_id"`
	Data      any       `json:"data,omitempty"`
}

// Recorder creates traces in basePath.
type Recorder struct {
	mu       sync.Mutex
	basePath string
	open     map[string]bool // names of traces not yet closed
	now      func() time.Time
}

// NewRecorder creates a recorder instance. It ensures the directory exists.
func NewRecorder(basePath string) (*Recorder, error) {
	if basePath == "" {
		basePath = TraceDir
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, err
	}
	return &Recorder{basePath: basePath, open: make(map[string]bool), now: time.Now}, nil
}

// Trace is an open trace file for a single cycle. A nil *Trace discards events.
type Trace struct {
	mu      sync.Mutex
	rec     *Recorder
	name    string
	cycleID string
	file    *os.File
	encoder *json.Encoder
}

// Begin rotates old traces and opens a new one for cycleID. Traces still open
// by concurrent cycles are never removed.
func (r *Recorder) Begin(cycleID string) (*Trace, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.rotate(MaxRotatedFiles - 1); err != nil {
		return nil, fmt.Errorf("rotate traces: %w", err)
	}

	name := fmt.Sprintf("%s%d_%s%s", tracePrefix, r.now().UnixNano(), cycleID, traceExt)
	f, err := os.Create(filepath.Join(r.basePath, name))
	if err != nil {
		return nil, err
	}
	r.open[name] = true
	return &Trace{rec: r, name: name, cycleID: cycleID, file: f, encoder: json.NewEncoder(f)}, nil
}

// Log writes an event to the trace.
func (t *Trace) Log(eventType string, data any) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.encoder == nil {
		return
	}
	_ = t.encoder.Encode(Event{
		Timestamp: time.Now(),
		Type:      eventType,
		CycleID:   t.cycleID,
		Data:      data,
	})
}

// Close finishes the trace.
func (t *Trace) Close() error {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.file == nil {
		return nil
	}
	err := t.file.Close()
	t.file = nil
	t.encoder = nil
	if t.rec != nil {
		t.rec.release(t.name)
	}
	return err
}

// release marks a trace closed and trims any backlog left while it was open.
func (r *Recorder) release(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.open, name)
	_ = r.rotate(MaxRotatedFiles)
}

// Traces lists trace file paths, newest first.
func (r *Recorder) Traces() ([]string, error) {
	names, err := r.traceNames()
	if err != nil {
		return nil, err
	}
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = filepath.Join(r.basePath, n)
	}
	return out, nil
}

func (r *Recorder) traceNames() ([]string, error) {
	entries, err := os.ReadDir(r.basePath)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), tracePrefix) || filepath.Ext(e.Name()) != traceExt {
			continue
		}
		names = append(names, e.Name())
	}
	// Names embed a fixed-width nanosecond timestamp, so lexical order is creation order.
	sort.Sort(sort.Reverse(sort.StringSlice(names)))
	return names, nil
}

// rotate keeps the newest keep traces plus any that are still open.
// Callers hold r.mu.
func (r *Recorder) rotate(keep int) error {
	names, err := r.traceNames()
	if err != nil {
		return err
	}
	kept := 0
	for _, n := range names {
		if r.open[n] {
			continue
		}
		if kept < keep {
			kept++
			continue
		}
		_ = os.Remove(filepath.Join(r.basePath, n))
	}
	return nil
}
