package tapez

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/zoobzio/clockz"
	"github.com/zoobzio/tapez/tape"
)

// decodeTape decodes every chapter of a complete tape.
func decodeTape(t *testing.T, data []byte) (tape.Header, []tape.Record) {
	t.Helper()
	hdr, err := tape.ParseHeader(data)
	if err != nil {
		t.Fatalf("Failed to parse header: %v", err)
	}
	data = data[tape.HeaderSize:]

	var records []tape.Record
	for len(data) > 0 {
		ch, n, err := tape.ReadChapter(data)
		if err != nil {
			t.Fatalf("Failed to read chapter: %v", err)
		}
		err = ch.Each(func(r tape.Record) error {
			records = append(records, r)
			return nil
		})
		if err != nil {
			t.Fatalf("Failed to decode chapter: %v", err)
		}
		data = data[n:]
	}
	return hdr, records
}

func recordsOf[T tape.Record](records []tape.Record) []T {
	var out []T
	for _, r := range records {
		if v, ok := r.(T); ok {
			out = append(out, v)
		}
	}
	return out
}

// newFakeRecorder returns a recorder on a fake clock writing to memory.
func newFakeRecorder(t *testing.T, opts ...Option) (*Recorder, *MemorySink) {
	t.Helper()
	sink := &MemorySink{}
	rec, err := New(sink, append([]Option{WithClock(clockz.NewFakeClock())}, opts...)...)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return rec, sink
}

var errSinkDown = errors.New("sink down")

// flakySink fails writes while down is set. Writes can be held with gate.
type flakySink struct {
	MemorySink
	down    atomic.Bool
	gated   atomic.Bool
	gate    chan struct{}
	entered chan struct{}
	once    sync.Once
}

func newFlakySink() *flakySink {
	return &flakySink{gate: make(chan struct{}), entered: make(chan struct{})}
}

func (s *flakySink) Write(p []byte) (int, error) {
	if s.gated.Load() {
		s.once.Do(func() { close(s.entered) })
		<-s.gate
	}
	if s.down.Load() {
		return 0, errSinkDown
	}
	return s.MemorySink.Write(p)
}
