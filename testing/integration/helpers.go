package integration

import (
	"context"
	"testing"
	"time"

	"github.com/zoobzio/tapez"
	"github.com/zoobzio/tapez/parser"
)

// TapeHarness wraps a recorder writing to memory with helpers that parse the
// finished tape and verify its contents.
//
//nolint:govet // Field alignment optimized for test helper readability
type TapeHarness struct {
	*tapez.Recorder
	sink  *tapez.MemorySink
	t     *testing.T
	model *parser.Model
}

// NewTapeHarness creates a recorder over an in-memory sink.
func NewTapeHarness(t *testing.T, opts ...tapez.Option) *TapeHarness {
	t.Helper()
	sink := &tapez.MemorySink{}
	rec, err := tapez.New(sink, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h := &TapeHarness{Recorder: rec, sink: sink, t: t}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = rec.Shutdown(ctx)
	})
	return h
}

// Bytes returns the tape written so far.
func (h *TapeHarness) Bytes() []byte {
	return h.sink.Bytes()
}

// Finish shuts the recorder down and parses the tape. Later calls return the
// same model.
func (h *TapeHarness) Finish() *parser.Model {
	h.t.Helper()
	if h.model != nil {
		return h.model
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.Shutdown(ctx); err != nil {
		h.t.Fatalf("Shutdown: %v", err)
	}
	m, err := parser.LoadBytes(context.Background(), h.sink.Bytes())
	if err != nil {
		h.t.Fatalf("LoadBytes: %v", err)
	}
	h.model = m
	return m
}

// AssertSpanCount verifies the exact number of spans in the tape.
func (h *TapeHarness) AssertSpanCount(expected int) {
	h.t.Helper()
	if got := len(h.Finish().Spans()); got != expected {
		h.t.Errorf("Expected %d spans, got %d", expected, got)
	}
}

// AssertSpanNamed returns the first span with the given name.
func (h *TapeHarness) AssertSpanNamed(name string) *parser.Span {
	h.t.Helper()
	for _, s := range h.Finish().Spans() {
		if s.Name() == name {
			return s
		}
	}
	h.t.Errorf("Span named '%s' not found", name)
	return nil
}

// SpansNamed returns every span with the given name, by enter time.
func (h *TapeHarness) SpansNamed(name string) []*parser.Span {
	var out []*parser.Span
	for _, s := range h.Finish().Spans() {
		if s.Name() == name {
			out = append(out, s)
		}
	}
	return out
}

// AssertParentChild verifies that every span named childName has a parent
// named parentName.
func (h *TapeHarness) AssertParentChild(parentName, childName string) {
	h.t.Helper()
	children := h.SpansNamed(childName)
	if len(children) == 0 {
		h.t.Errorf("Child span '%s' not found", childName)
		return
	}
	for _, c := range children {
		if c.Parent == nil {
			h.t.Errorf("Span %s (%d) has no parent, expected %s", childName, c.ID, parentName)
			continue
		}
		if c.Parent.Name() != parentName {
			h.t.Errorf("Parent-child relationship broken: %s (%d) has parent %s, expected %s",
				childName, c.ID, c.Parent.Name(), parentName)
		}
		if c.Closed && c.Parent.Closed && c.Enter < c.Parent.Enter {
			h.t.Errorf("Child %d entered at %d before its parent at %d", c.ID, c.Enter, c.Parent.Enter)
		}
	}
}

// AssertComplete verifies the tape has no warnings and every span closed.
func (h *TapeHarness) AssertComplete() {
	h.t.Helper()
	m := h.Finish()
	if m.Partial() {
		h.t.Error("Tape is partial")
	}
	for _, w := range m.Warnings() {
		h.t.Errorf("Unexpected warning: %s", w)
	}
	for _, s := range m.Spans() {
		if !s.Closed {
			h.t.Errorf("Span %s (%d) was never exited", s.Name(), s.ID)
		}
	}
}

// RecordedRecords sums the records of every loaded chapter.
func RecordedRecords(m *parser.Model) uint64 {
	var n uint64
	for _, c := range m.Chapters() {
		n += uint64(c.Records)
	}
	return n
}
