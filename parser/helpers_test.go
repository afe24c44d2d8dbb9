package parser

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/zoobzio/tapez/tape"
)

// tapeWriter assembles tapes record by record.
type tapeWriter struct {
	t        *testing.T
	data     []byte
	builder  *tape.ChapterBuilder
	chapters []int // offset of each sealed chapter
}

func newTapeWriter(t *testing.T) *tapeWriter {
	t.Helper()
	hdr := tape.Header{
		Version:       tape.CurrentVersion,
		TimestampBase: 1_700_000_000_000_000_000,
		SessionID:     uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8"),
	}
	return &tapeWriter{
		t:       t,
		data:    hdr.Append(nil),
		builder: tape.NewChapterBuilder(1024),
	}
}

// add appends records captured on thread to the open chapter.
func (w *tapeWriter) add(thread uint64, records ...tape.Record) *tapeWriter {
	w.t.Helper()
	var buf []byte
	for _, r := range records {
		var err error
		buf, err = tape.AppendRecord(buf, r)
		require.NoError(w.t, err)
	}
	w.builder.Add(buf, len(records), thread, 0, 0, false)
	return w
}

// seal closes the open chapter.
func (w *tapeWriter) seal() *tapeWriter {
	w.chapters = append(w.chapters, len(w.data))
	w.data = append(w.data, w.builder.Seal()...)
	return w
}

func (w *tapeWriter) bytes() []byte {
	if !w.builder.Empty() {
		w.seal()
	}
	return w.data
}

func enter(span, meta, parent uint64, kind tape.ParentKind, thread uint64, ts int64) tape.SpanEnter {
	return tape.SpanEnter{SpanID: span, MetadataID: meta, ParentID: parent, ParentKind: kind, ThreadID: thread, Timestamp: ts}
}

func exit(span, thread uint64, ts int64) tape.SpanExit {
	return tape.SpanExit{SpanID: span, ThreadID: thread, Timestamp: ts}
}

func def(id uint64, name string) tape.Metadata {
	return tape.Metadata{ID: id, Kind: tape.DefinitionSpan, Level: tape.LevelInfo, Name: name}
}

func warningsOf(m *Model, kind WarningKind) []Warning {
	var out []Warning
	for _, w := range m.Warnings() {
		if w.Kind == kind {
			out = append(out, w)
		}
	}
	return out
}
