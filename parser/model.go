package parser

import (
	"slices"
	"time"

	"github.com/zoobzio/tapez/tape"
)

// Model is the read-only trace reconstructed from one tape. Slice accessors
// return copies; the spans, threads and events they point to are shared and
// must not be modified.
//
//nolint:govet // Field order optimized for readability
type Model struct {
	header     tape.Header
	threads    []*Thread
	threadByID map[uint64]*Thread
	spans      []*Span
	spanByID   map[uint64]*Span
	roots      []*Span
	events     []*Event
	defs       []*tape.Metadata
	defByID    map[uint64]*tape.Metadata
	chapters   []ChapterSummary
	warnings   []Warning
	timeRange  TimeRange
	stats      tape.RecorderStats
	partial    bool
}

// Header returns the tape header.
func (m *Model) Header() tape.Header { return m.header }

// StartTime returns the wall clock time that timestamp zero refers to.
func (m *Model) StartTime() time.Time { return time.Unix(0, m.header.TimestampBase) }

// Threads returns every thread seen in a ThreadInfo or span record, by ID.
func (m *Model) Threads() []*Thread { return slices.Clone(m.threads) }

// Thread returns the thread with the given ID.
func (m *Model) Thread(id uint64) (*Thread, bool) {
	th, ok := m.threadByID[id]
	return th, ok
}

// Roots returns the spans without a parent in the tape.
func (m *Model) Roots() []*Span { return slices.Clone(m.roots) }

// Span returns the span with the given ID.
func (m *Model) Span(id uint64) (*Span, bool) {
	s, ok := m.spanByID[id]
	return s, ok
}

// Spans returns every span ordered by enter time.
func (m *Model) Spans() []*Span { return slices.Clone(m.spans) }

// Events returns every event ordered by timestamp, then thread, then tape order.
func (m *Model) Events() []*Event { return slices.Clone(m.events) }

// Metadata returns every definition ordered by ID.
func (m *Model) Metadata() []*tape.Metadata { return slices.Clone(m.defs) }

// Definition returns the definition with the given ID.
func (m *Model) Definition(id uint64) (*tape.Metadata, bool) {
	d, ok := m.defByID[id]
	return d, ok
}

// Chapters describes the chapters that were loaded.
func (m *Model) Chapters() []ChapterSummary { return slices.Clone(m.chapters) }

// TimeRange returns the range covered by closed spans and events.
func (m *Model) TimeRange() TimeRange { return m.timeRange }

// Warnings returns the recoverable anomalies found while loading.
func (m *Model) Warnings() []Warning { return slices.Clone(m.warnings) }

// RecorderStats returns the loss counters the recorder wrote at shutdown.
func (m *Model) RecorderStats() tape.RecorderStats { return m.stats }

// Partial reports whether the tape is known to be incomplete.
func (m *Model) Partial() bool { return m.partial }

// TimeRange is a span of tape timestamps in nanoseconds. Valid is false when
// the tape holds no closed span and no event.
type TimeRange struct {
	Start int64
	End   int64
	Valid bool
}

// Duration returns End - Start.
func (r TimeRange) Duration() time.Duration {
	if !r.Valid {
		return 0
	}
	return time.Duration(r.End - r.Start)
}

// ChapterSummary describes one loaded chapter.
type ChapterSummary struct {
	Threads      []uint64
	Index        int
	Offset       int64
	Bytes        int
	Records      int
	MinTimestamp int64
	MaxTimestamp int64
}

// RecordRef locates a record inside the tape.
type RecordRef struct {
	Chapter int
	Offset  int // byte offset within the chapter's record area
	Kind    tape.Kind
}

// Thread is one recorded thread of execution.
type Thread struct {
	Name    string
	ID      uint64
	spans   []*Span
	events  []*Event
	records []RecordRef
}

// Spans returns the spans entered on this thread, by enter time.
func (t *Thread) Spans() []*Span { return slices.Clone(t.spans) }

// Events returns the thread's top-level events, those not inside any span.
func (t *Thread) Events() []*Event { return slices.Clone(t.events) }

// Records returns the locations of every record carrying this thread's ID.
func (t *Thread) Records() []RecordRef { return slices.Clone(t.records) }

// Span is one reconstructed span.
//
//nolint:govet // Field order optimized for readability
type Span struct {
	ID         uint64
	MetadataID uint64
	Metadata   *tape.Metadata // nil when the definition is missing
	ParentID   uint64
	ParentKind tape.ParentKind
	Parent     *Span
	Thread     *Thread // thread that entered the span
	ExitThread uint64
	Enter      int64
	Exit       int64
	Closed     bool
	Fields     []tape.Field
	Follows    []uint64
	children   []*Span
	events     []*Event
	seq        int
}

// Name returns the definition's name, or "" when it is missing.
func (s *Span) Name() string {
	if s.Metadata == nil {
		return ""
	}
	return s.Metadata.Name
}

// Children returns the span's children by enter time.
func (s *Span) Children() []*Span { return slices.Clone(s.children) }

// Events returns the events recorded inside the span.
func (s *Span) Events() []*Event { return slices.Clone(s.events) }

// Duration returns the span's length. ok is false for open-ended spans.
func (s *Span) Duration() (d time.Duration, ok bool) {
	if !s.Closed {
		return 0, false
	}
	return time.Duration(s.Exit - s.Enter), true
}

// Event is one reconstructed event.
//
//nolint:govet // Field order optimized for readability
type Event struct {
	ThreadID   uint64
	Thread     *Thread // nil when the thread never recorded a span
	SpanID     uint64
	Span       *Span
	MetadataID uint64
	Metadata   *tape.Metadata
	Timestamp  int64
	Message    string
	Fields     []tape.Field
	seq        int
}
