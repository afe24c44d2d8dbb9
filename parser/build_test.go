package parser

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zoobzio/tapez/tape"
)

func mustLoad(t *testing.T, w *tapeWriter) *Model {
	t.Helper()
	m, err := LoadBytes(context.Background(), w.bytes())
	require.NoError(t, err)
	return m
}

func TestNestedSpansOnOneThread(t *testing.T) {
	w := newTapeWriter(t)
	w.add(0,
		def(1, "outer"),
		def(2, "inner"),
		tape.Metadata{ID: 3, Kind: tape.DefinitionEvent, Level: tape.LevelInfo, Name: "E1"},
	)
	w.add(1,
		tape.ThreadInfo{ThreadID: 1, Name: "main"},
		tape.Event{ThreadID: 1, MetadataID: 3, Timestamp: 0, Message: "E1"},
		enter(10, 1, 0, tape.ParentRoot, 1, 1),
		enter(11, 2, 10, tape.ParentSameThread, 1, 2),
		exit(11, 1, 3),
		exit(10, 1, 5),
	)
	m := mustLoad(t, w)

	require.Len(t, m.Threads(), 1)
	mainThread := m.Threads()[0]
	assert.Equal(t, "main", mainThread.Name)
	assert.Equal(t, uint64(1), mainThread.ID)

	require.Len(t, m.Roots(), 1)
	outer := m.Roots()[0]
	assert.Equal(t, uint64(10), outer.ID)
	assert.Equal(t, "outer", outer.Name())
	assert.True(t, outer.Closed)
	assert.Equal(t, int64(1), outer.Enter)
	assert.Equal(t, int64(5), outer.Exit)

	require.Len(t, outer.Children(), 1)
	inner := outer.Children()[0]
	assert.Equal(t, uint64(11), inner.ID)
	assert.Same(t, outer, inner.Parent)
	assert.Equal(t, tape.ParentSameThread, inner.ParentKind)
	assert.Equal(t, int64(2), inner.Enter)
	assert.Equal(t, int64(3), inner.Exit)

	require.Len(t, mainThread.Events(), 1)
	assert.Equal(t, "E1", mainThread.Events()[0].Message)
	assert.Same(t, mainThread, mainThread.Events()[0].Thread)
	assert.Nil(t, mainThread.Events()[0].Span)

	assert.Equal(t, TimeRange{Start: 0, End: 5, Valid: true}, m.TimeRange())
	assert.Empty(t, m.Warnings())
	assert.False(t, m.Partial())

	d, ok := outer.Duration()
	assert.True(t, ok)
	assert.EqualValues(t, 4, d)
}

func TestOpenEndedSpan(t *testing.T) {
	w := newTapeWriter(t)
	w.add(0, def(1, "op"))
	w.add(1,
		tape.ThreadInfo{ThreadID: 1, Name: "main"},
		enter(20, 1, 0, tape.ParentRoot, 1, 1),
		enter(21, 1, 0, tape.ParentRoot, 1, 2),
		exit(21, 1, 4),
	)
	m := mustLoad(t, w)

	open, ok := m.Span(20)
	require.True(t, ok)
	assert.False(t, open.Closed)
	_, ok = open.Duration()
	assert.False(t, ok)

	dangling := warningsOf(m, WarningDanglingSpan)
	require.Len(t, dangling, 1)
	assert.Equal(t, uint64(20), dangling[0].SpanID)

	assert.Equal(t, TimeRange{Start: 2, End: 4, Valid: true}, m.TimeRange())
	assert.False(t, m.Partial())
}

func TestOnlyOpenSpansHaveNoTimeRange(t *testing.T) {
	w := newTapeWriter(t)
	w.add(0, def(1, "op"))
	w.add(1, enter(1, 1, 0, tape.ParentRoot, 1, 7))
	m := mustLoad(t, w)

	assert.False(t, m.TimeRange().Valid)
	assert.Zero(t, m.TimeRange().Duration())
}

func TestCrossThreadExit(t *testing.T) {
	w := newTapeWriter(t)
	w.add(0, def(1, "request"), def(2, "task"))
	w.add(1,
		tape.ThreadInfo{ThreadID: 1, Name: "accept"},
		enter(10, 1, 0, tape.ParentRoot, 1, 0),
		enter(12, 2, 10, tape.ParentSameThread, 1, 1),
	)
	w.add(2,
		tape.ThreadInfo{ThreadID: 2, Name: "worker"},
		enter(11, 2, 10, tape.ParentCrossThread, 2, 2),
		exit(12, 2, 6),
		exit(11, 2, 8),
	)
	w.add(1, exit(10, 1, 9))
	m := mustLoad(t, w)

	assert.Len(t, m.Threads(), 2)

	task, ok := m.Span(12)
	require.True(t, ok)
	assert.True(t, task.Closed)
	assert.Equal(t, uint64(1), task.Thread.ID)
	assert.Equal(t, uint64(2), task.ExitThread)

	worker, ok := m.Span(11)
	require.True(t, ok)
	assert.Equal(t, tape.ParentCrossThread, worker.ParentKind)
	assert.Equal(t, uint64(10), worker.Parent.ID)

	root, _ := m.Span(10)
	require.Len(t, root.Children(), 2)
	assert.Equal(t, uint64(12), root.Children()[0].ID, "children follow enter order")
	assert.Equal(t, uint64(11), root.Children()[1].ID)

	th, ok := m.Thread(2)
	require.True(t, ok)
	assert.Equal(t, "worker", th.Name)
	assert.Len(t, th.Spans(), 1)
	assert.Len(t, th.Records(), 4)
	assert.Empty(t, m.Warnings())
}

func TestForwardReferences(t *testing.T) {
	w := newTapeWriter(t)
	// The exit and the value reach the tape before the enter and the definition.
	w.add(2,
		exit(5, 2, 9),
		tape.SpanValue{SpanID: 5, Field: tape.F("user", tape.String("ada"))},
	).seal()
	w.add(1, enter(5, 1, 0, tape.ParentRoot, 1, 3)).seal()
	w.add(0, def(1, "late"))
	m := mustLoad(t, w)

	s, ok := m.Span(5)
	require.True(t, ok)
	assert.True(t, s.Closed)
	assert.Equal(t, "late", s.Name())
	require.Len(t, s.Fields, 1)
	assert.Equal(t, "ada", s.Fields[0].Value.AsString())
	assert.Empty(t, m.Warnings())
}

func TestExitClampedToEnter(t *testing.T) {
	w := newTapeWriter(t)
	w.add(0, def(1, "op"))
	w.add(1, enter(1, 1, 0, tape.ParentRoot, 1, 10))
	w.add(2, exit(1, 2, 4))
	m := mustLoad(t, w)

	s, _ := m.Span(1)
	assert.Equal(t, int64(10), s.Exit)
	d, ok := s.Duration()
	assert.True(t, ok)
	assert.Zero(t, d)
}

func TestUnknownRecordsSkipped(t *testing.T) {
	w := newTapeWriter(t)
	w.add(0, def(1, "op"))
	w.add(1,
		enter(1, 1, 0, tape.ParentRoot, 1, 0),
		tape.Unknown{Code: 0x7f, Body: []byte{1, 2, 3, 4}},
		tape.Unknown{Code: 0x7f},
		tape.Noop{},
		exit(1, 1, 2),
	)
	m := mustLoad(t, w)

	s, ok := m.Span(1)
	require.True(t, ok)
	assert.True(t, s.Closed)

	unknown := warningsOf(m, WarningUnknownRecord)
	require.Len(t, unknown, 1)
	assert.Equal(t, 0, unknown[0].Chapter)
	assert.Contains(t, unknown[0].Err.Error(), "2 records")
	assert.False(t, m.Partial())
}

func TestAnomalyWarnings(t *testing.T) {
	w := newTapeWriter(t)
	w.add(0, def(1, "op"))
	w.add(1,
		enter(1, 1, 0, tape.ParentRoot, 1, 0),
		// Entered twice.
		enter(1, 1, 0, tape.ParentRoot, 1, 1),
		// No definition 9.
		enter(2, 9, 0, tape.ParentRoot, 1, 2),
		// Parent 77 is never entered.
		enter(3, 1, 77, tape.ParentSameThread, 1, 3),
		exit(99, 1, 4),
		tape.Event{ThreadID: 1, SpanID: 55, Timestamp: 5},
		exit(1, 1, 6), exit(2, 1, 6), exit(3, 1, 6),
	)
	m := mustLoad(t, w)

	dup := warningsOf(m, WarningDuplicateEnter)
	require.Len(t, dup, 1)
	assert.Equal(t, uint64(1), dup[0].SpanID)
	first, _ := m.Span(1)
	assert.Equal(t, int64(0), first.Enter, "the first enter wins")

	missing := warningsOf(m, WarningMissingMetadata)
	require.Len(t, missing, 1)
	assert.Equal(t, uint64(2), missing[0].SpanID)
	s2, _ := m.Span(2)
	assert.Nil(t, s2.Metadata)
	assert.Empty(t, s2.Name())

	parents := warningsOf(m, WarningMissingParent)
	require.Len(t, parents, 2)
	s3, _ := m.Span(3)
	assert.Nil(t, s3.Parent)
	assert.Contains(t, m.Roots(), s3)

	orphans := warningsOf(m, WarningOrphanExit)
	require.Len(t, orphans, 1)
	assert.Equal(t, uint64(99), orphans[0].SpanID)

	th, _ := m.Thread(1)
	require.Len(t, th.Events(), 1, "event with an unknown span falls back to its thread")
	assert.False(t, m.Partial())
}

func TestParentCycleBecomesRoots(t *testing.T) {
	w := newTapeWriter(t)
	w.add(0, def(1, "op"))
	w.add(1,
		enter(1, 1, 2, tape.ParentCrossThread, 1, 0),
		enter(2, 1, 1, tape.ParentCrossThread, 1, 1),
		exit(1, 1, 2), exit(2, 1, 3),
	)
	m := mustLoad(t, w)

	require.Len(t, m.Roots(), 1)
	assert.Len(t, warningsOf(m, WarningMissingParent), 1)
	for _, s := range m.Spans() {
		assert.NotSame(t, s, s.Parent)
	}
}

func TestEventsOnlyThreadIsNotRegistered(t *testing.T) {
	w := newTapeWriter(t)
	w.add(9, tape.Event{ThreadID: 9, Timestamp: 3, Message: "lonely"})
	m := mustLoad(t, w)

	assert.Empty(t, m.Threads())
	require.Len(t, m.Events(), 1)
	assert.Nil(t, m.Events()[0].Thread)
	assert.Equal(t, TimeRange{Start: 3, End: 3, Valid: true}, m.TimeRange())
}

func TestEventOrdering(t *testing.T) {
	w := newTapeWriter(t)
	w.add(2,
		tape.ThreadInfo{ThreadID: 2},
		tape.Event{ThreadID: 2, Timestamp: 5, Message: "b"},
	)
	w.add(1,
		tape.ThreadInfo{ThreadID: 1},
		tape.Event{ThreadID: 1, Timestamp: 5, Message: "a1"},
		tape.Event{ThreadID: 1, Timestamp: 5, Message: "a2"},
		tape.Event{ThreadID: 1, Timestamp: 1, Message: "first"},
	)
	m := mustLoad(t, w)

	var got []string
	for _, e := range m.Events() {
		got = append(got, e.Message)
	}
	assert.Equal(t, []string{"first", "a1", "a2", "b"}, got)
}

func TestEventsAttachToSpans(t *testing.T) {
	w := newTapeWriter(t)
	w.add(0, def(1, "op"))
	w.add(1,
		enter(1, 1, 0, tape.ParentRoot, 1, 0),
		tape.Event{ThreadID: 1, SpanID: 1, Timestamp: 1, Message: "inside",
			Fields: []tape.Field{tape.F("n", tape.Int64(3))}},
		exit(1, 1, 2),
	)
	m := mustLoad(t, w)

	s, _ := m.Span(1)
	require.Len(t, s.Events(), 1)
	e := s.Events()[0]
	assert.Same(t, s, e.Span)
	assert.Equal(t, int64(3), e.Fields[0].Value.AsInt64())

	th, _ := m.Thread(1)
	assert.Empty(t, th.Events())
}

func TestFollowsFrom(t *testing.T) {
	w := newTapeWriter(t)
	w.add(0, def(1, "op"))
	w.add(1,
		enter(1, 1, 0, tape.ParentRoot, 1, 0), exit(1, 1, 1),
		enter(2, 1, 0, tape.ParentRoot, 1, 2),
		tape.SpanFollows{SpanID: 2, FollowsID: 1},
		exit(2, 1, 3),
	)
	m := mustLoad(t, w)

	s, _ := m.Span(2)
	assert.Equal(t, []uint64{1}, s.Follows)
	assert.Len(t, m.Roots(), 2)
}

func TestBackpressureMarksPartial(t *testing.T) {
	w := newTapeWriter(t)
	w.add(0, tape.RecorderStats{DroppedBatches: 2, DroppedRecords: 40})
	m := mustLoad(t, w)

	assert.True(t, m.Partial())
	assert.Equal(t, uint64(40), m.RecorderStats().DroppedRecords)
	require.Len(t, warningsOf(m, WarningBackpressureDrop), 1)
}

func TestRejectedRecordsAreNotBackpressure(t *testing.T) {
	w := newTapeWriter(t)
	w.add(0, tape.RecorderStats{RejectedRecords: 3})
	m := mustLoad(t, w)

	assert.True(t, m.Partial())
	assert.Equal(t, uint64(3), m.RecorderStats().RejectedRecords)
	assert.Empty(t, warningsOf(m, WarningBackpressureDrop))
	require.Len(t, warningsOf(m, WarningRejectedRecords), 1)
	assert.Equal(t, "rejected-records", WarningRejectedRecords.String())
}

func TestChapterSummaries(t *testing.T) {
	w := twoChapterTape(t)
	m := mustLoad(t, w)

	chapters := m.Chapters()
	require.Len(t, chapters, 2)
	assert.Equal(t, int64(tape.HeaderSize), chapters[0].Offset)
	assert.Equal(t, int64(w.chapters[1]), chapters[1].Offset)
	assert.Equal(t, 4, chapters[0].Records)
	assert.Equal(t, []uint64{1}, chapters[1].Threads)
	assert.Equal(t, w.chapters[1]-tape.HeaderSize, chapters[0].Bytes)

	md, ok := m.Definition(1)
	require.True(t, ok)
	assert.Equal(t, "first", md.Name)
	assert.Len(t, m.Metadata(), 1)
}

func TestLoadIsIdempotent(t *testing.T) {
	w := newTapeWriter(t)
	w.add(0, def(1, "op"))
	w.add(1, tape.ThreadInfo{ThreadID: 1, Name: "a"}, enter(1, 1, 0, tape.ParentRoot, 1, 0))
	w.add(2, tape.ThreadInfo{ThreadID: 2, Name: "b"}, enter(2, 1, 1, tape.ParentCrossThread, 2, 1))
	w.add(1, exit(2, 1, 4), exit(1, 1, 5), tape.Event{ThreadID: 2, Timestamp: 2})
	data := w.bytes()

	a, err := LoadBytes(context.Background(), data)
	require.NoError(t, err)
	b, err := LoadBytes(context.Background(), data)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestAccessorsReturnCopies(t *testing.T) {
	w := newTapeWriter(t)
	w.add(0, def(1, "op"))
	w.add(1,
		tape.ThreadInfo{ThreadID: 1, Name: "a"},
		enter(1, 1, 0, tape.ParentRoot, 1, 0),
		enter(2, 1, 1, tape.ParentSameThread, 1, 1),
		tape.Event{ThreadID: 1, SpanID: 2, Timestamp: 2},
		exit(2, 1, 3),
		exit(1, 1, 4),
	)
	m := mustLoad(t, w)

	spans := m.Spans()
	spans[0], spans[1] = nil, nil
	roots := m.Roots()
	roots[0] = nil
	m.Threads()[0] = nil
	m.Events()[0] = nil

	require.Len(t, m.Spans(), 2)
	assert.NotNil(t, m.Spans()[0])
	assert.NotNil(t, m.Roots()[0])
	assert.NotNil(t, m.Threads()[0])
	assert.NotNil(t, m.Events()[0])

	root := m.Roots()[0]
	root.Children()[0] = nil
	require.Len(t, root.Children(), 1)
	assert.NotNil(t, root.Children()[0])
	child := root.Children()[0]
	child.Events()[0] = nil
	assert.NotNil(t, child.Events()[0])
}

func TestStartTime(t *testing.T) {
	m := mustLoad(t, newTapeWriter(t))
	assert.Equal(t, int64(1_700_000_000_000_000_000), m.StartTime().UnixNano())
}
