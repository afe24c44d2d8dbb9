package parser

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/zoobzio/tapez/tape"
	"go.uber.org/zap"
)

type exitRecord struct {
	thread    uint64
	timestamp int64
	chapter   int
}

// builder reconstructs a Model from records in tape order. Spans are only
// materialized in finish, so definitions, exits and values may appear before
// the records that refer to them.
type builder struct {
	m        *Model
	logger   *zap.Logger
	threads  map[uint64]*Thread
	refs     map[uint64][]RecordRef
	spans    map[uint64]*Span
	exits    map[uint64]exitRecord
	values   map[uint64][]tape.Field
	follows  map[uint64][]uint64
	events   []*Event
	warnings []Warning
	seq      int
}

func newBuilder(hdr tape.Header, logger *zap.Logger) *builder {
	return &builder{
		m: &Model{
			header:     hdr,
			threadByID: make(map[uint64]*Thread),
			spanByID:   make(map[uint64]*Span),
			defByID:    make(map[uint64]*tape.Metadata),
		},
		logger:  logger,
		threads: make(map[uint64]*Thread),
		refs:    make(map[uint64][]RecordRef),
		spans:   make(map[uint64]*Span),
		exits:   make(map[uint64]exitRecord),
		values:  make(map[uint64][]tape.Field),
		follows: make(map[uint64][]uint64),
	}
}

func (b *builder) warn(w Warning) {
	b.warnings = append(b.warnings, w)
	b.logger.Debug("tape warning",
		zap.Stringer("kind", w.Kind),
		zap.Int("chapter", w.Chapter),
		zap.Uint64("span", w.SpanID),
		zap.Error(w.Err))
}

func (b *builder) thread(id uint64) *Thread {
	th, ok := b.threads[id]
	if !ok {
		th = &Thread{ID: id}
		b.threads[id] = th
	}
	return th
}

func (b *builder) ref(thread uint64, chapter int, d decoded) {
	b.refs[thread] = append(b.refs[thread], RecordRef{
		Chapter: chapter,
		Offset:  d.offset,
		Kind:    d.record.RecordKind(),
	})
}

// chapter applies one chapter's records.
func (b *builder) chapter(index int, f frame, records []decoded) {
	h := f.chapter.Header
	b.m.chapters = append(b.m.chapters, ChapterSummary{
		Index:        index,
		Offset:       f.offset,
		Bytes:        f.size,
		Records:      len(records),
		Threads:      slices.Clone(f.chapter.Threads),
		MinTimestamp: h.MinTimestamp,
		MaxTimestamp: h.MaxTimestamp,
	})

	unknown := make(map[tape.Kind]int)
	for _, d := range records {
		b.seq++
		switch r := d.record.(type) {
		case tape.ThreadInfo:
			th := b.thread(r.ThreadID)
			if th.Name == "" {
				th.Name = r.Name
			}
			b.ref(r.ThreadID, index, d)

		case tape.Metadata:
			if _, ok := b.m.defByID[r.ID]; !ok {
				def := r
				b.m.defByID[r.ID] = &def
				b.m.defs = append(b.m.defs, &def)
			}

		case tape.SpanEnter:
			b.thread(r.ThreadID)
			b.ref(r.ThreadID, index, d)
			if _, dup := b.spans[r.SpanID]; dup {
				b.warn(Warning{Kind: WarningDuplicateEnter, Chapter: index, SpanID: r.SpanID})
				continue
			}
			b.spans[r.SpanID] = &Span{
				ID:         r.SpanID,
				MetadataID: r.MetadataID,
				ParentID:   r.ParentID,
				ParentKind: r.ParentKind,
				Thread:     b.threads[r.ThreadID],
				Enter:      r.Timestamp,
				seq:        b.seq,
			}

		case tape.SpanExit:
			b.thread(r.ThreadID)
			b.ref(r.ThreadID, index, d)
			if _, dup := b.exits[r.SpanID]; !dup {
				b.exits[r.SpanID] = exitRecord{thread: r.ThreadID, timestamp: r.Timestamp, chapter: index}
			}

		case tape.SpanValue:
			b.values[r.SpanID] = append(b.values[r.SpanID], r.Field)

		case tape.SpanFollows:
			b.follows[r.SpanID] = append(b.follows[r.SpanID], r.FollowsID)

		case tape.Event:
			b.ref(r.ThreadID, index, d)
			b.events = append(b.events, &Event{
				ThreadID:   r.ThreadID,
				SpanID:     r.SpanID,
				MetadataID: r.MetadataID,
				Timestamp:  r.Timestamp,
				Message:    r.Message,
				Fields:     r.Fields,
				seq:        b.seq,
			})

		case tape.RecorderStats:
			b.m.stats.DroppedBatches += r.DroppedBatches
			b.m.stats.DroppedRecords += r.DroppedRecords
			b.m.stats.SinkErrors += r.SinkErrors
			b.m.stats.RejectedRecords += r.RejectedRecords

		case tape.Noop:

		case tape.Unknown:
			unknown[r.Code]++
		}
	}

	kinds := make([]tape.Kind, 0, len(unknown))
	for k := range unknown {
		kinds = append(kinds, k)
	}
	slices.Sort(kinds)
	for _, k := range kinds {
		b.warn(Warning{
			Kind:    WarningUnknownRecord,
			Chapter: index,
			Err:     fmt.Errorf("skipped %d records of kind %#02x", unknown[k], uint8(k)),
		})
	}
}

func compareSpans(a, b *Span) int {
	return cmp.Or(
		cmp.Compare(a.Enter, b.Enter),
		cmp.Compare(a.Thread.ID, b.Thread.ID),
		cmp.Compare(a.seq, b.seq),
	)
}

func compareEvents(a, b *Event) int {
	return cmp.Or(
		cmp.Compare(a.Timestamp, b.Timestamp),
		cmp.Compare(a.ThreadID, b.ThreadID),
		cmp.Compare(a.seq, b.seq),
	)
}

func (b *builder) finish() *Model {
	m := b.m

	// Threads, by ID.
	ids := make([]uint64, 0, len(b.threads))
	for id := range b.threads {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	for _, id := range ids {
		th := b.threads[id]
		th.records = b.refs[id]
		m.threads = append(m.threads, th)
		m.threadByID[id] = th
	}

	slices.SortFunc(m.defs, func(a, b *tape.Metadata) int { return cmp.Compare(a.ID, b.ID) })

	// Spans, by enter time.
	m.spans = make([]*Span, 0, len(b.spans))
	for _, s := range b.spans {
		m.spans = append(m.spans, s)
	}
	slices.SortFunc(m.spans, compareSpans)
	for _, s := range m.spans {
		m.spanByID[s.ID] = s
	}

	// Exits close spans by ID, whichever thread recorded them.
	exitIDs := make([]uint64, 0, len(b.exits))
	for id := range b.exits {
		exitIDs = append(exitIDs, id)
	}
	slices.Sort(exitIDs)
	for _, id := range exitIDs {
		x := b.exits[id]
		s, ok := m.spanByID[id]
		if !ok {
			b.warn(Warning{Kind: WarningOrphanExit, Chapter: x.chapter, SpanID: id})
			continue
		}
		s.Closed = true
		s.Exit = max(x.timestamp, s.Enter)
		s.ExitThread = x.thread
	}

	for _, s := range m.spans {
		if def, ok := m.defByID[s.MetadataID]; ok {
			s.Metadata = def
		} else {
			b.warn(Warning{Kind: WarningMissingMetadata, Chapter: -1, SpanID: s.ID,
				Err: fmt.Errorf("metadata %d", s.MetadataID)})
		}
		s.Fields = b.values[s.ID]
		s.Follows = b.follows[s.ID]
		s.Thread.spans = append(s.Thread.spans, s)
	}

	b.link()

	for _, s := range m.spans {
		if !s.Closed {
			b.warn(Warning{Kind: WarningDanglingSpan, Chapter: -1, SpanID: s.ID})
		}
	}

	b.attachEvents()
	m.timeRange = b.timeRange()

	if m.stats.DroppedBatches > 0 || m.stats.DroppedRecords > 0 {
		b.warn(Warning{Kind: WarningBackpressureDrop, Chapter: -1,
			Err: fmt.Errorf("recorder dropped %d batches holding %d records", m.stats.DroppedBatches, m.stats.DroppedRecords)})
	}
	if m.stats.RejectedRecords > 0 {
		b.warn(Warning{Kind: WarningRejectedRecords, Chapter: -1,
			Err: fmt.Errorf("recorder rejected %d records too large to encode", m.stats.RejectedRecords)})
	}

	m.warnings = b.warnings
	for _, w := range m.warnings {
		switch w.Kind {
		case WarningTruncatedTail, WarningBackpressureDrop, WarningRejectedRecords:
			m.partial = true
		}
	}
	return m
}

// link attaches spans to their parents. A span whose parent is missing or
// would close a cycle becomes a root.
func (b *builder) link() {
	m := b.m
	for _, s := range m.spans {
		if s.ParentKind == tape.ParentRoot || s.ParentID == 0 {
			m.roots = append(m.roots, s)
			continue
		}
		parent, ok := m.spanByID[s.ParentID]
		if !ok || isAncestor(s, parent) {
			b.warn(Warning{Kind: WarningMissingParent, Chapter: -1, SpanID: s.ID,
				Err: fmt.Errorf("parent %d", s.ParentID)})
			m.roots = append(m.roots, s)
			continue
		}
		s.Parent = parent
		parent.children = append(parent.children, s)
	}
}

// isAncestor reports whether s is p or one of p's linked ancestors.
func isAncestor(s, p *Span) bool {
	for ; p != nil; p = p.Parent {
		if p == s {
			return true
		}
	}
	return false
}

func (b *builder) attachEvents() {
	m := b.m
	slices.SortFunc(b.events, compareEvents)
	m.events = b.events
	for _, e := range m.events {
		e.Thread = m.threadByID[e.ThreadID]
		if def, ok := m.defByID[e.MetadataID]; ok {
			e.Metadata = def
		}
		if e.SpanID != 0 {
			if s, ok := m.spanByID[e.SpanID]; ok {
				e.Span = s
				s.events = append(s.events, e)
				continue
			}
			b.warn(Warning{Kind: WarningMissingParent, Chapter: -1,
				Err: fmt.Errorf("event at %d refers to unknown span %d", e.Timestamp, e.SpanID)})
		}
		if e.Thread != nil {
			e.Thread.events = append(e.Thread.events, e)
		}
	}
}

// timeRange covers closed spans and events. Open-ended spans are left out
// because their end is unknown.
func (b *builder) timeRange() TimeRange {
	var r TimeRange
	include := func(start, end int64) {
		if !r.Valid {
			r = TimeRange{Start: start, End: end, Valid: true}
			return
		}
		r.Start = min(r.Start, start)
		r.End = max(r.End, end)
	}
	for _, s := range b.m.spans {
		if s.Closed {
			include(s.Enter, s.Exit)
		}
	}
	for _, e := range b.m.events {
		include(e.Timestamp, e.Timestamp)
	}
	return r
}
