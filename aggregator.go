package tapez

import (
	"errors"
	"fmt"

	"github.com/zoobzio/tapez/tape"
	"go.uber.org/zap"
)

// pendingChapter is a sealed chapter waiting for the sink.
type pendingChapter struct {
	data    []byte
	info    ChapterInfo
	written int
}

// aggregator merges thread batches into chapters and owns all sink I/O.
// Its methods run on the aggregator goroutine only.
type aggregator struct {
	rec     *Recorder
	builder *tape.ChapterBuilder
	pending []pendingChapter
	opened  int64 // timestamp the open chapter received its first batch
	index   int
	lastErr error
}

func newAggregator(r *Recorder) *aggregator {
	return &aggregator{
		rec:     r,
		builder: tape.NewChapterBuilder(r.settings.chapterSize + r.settings.batchSize),
	}
}

// run is the aggregator's main loop, receiving batches from the queue.
func (a *aggregator) run() {
	r := a.rec
	defer close(r.done)

	tick := r.clock.After(r.settings.flushInterval)
	for {
		select {
		case b := <-r.batches:
			a.add(b)
		case <-tick:
			a.sweep()
			tick = r.clock.After(r.settings.flushInterval)
		case req := <-r.stopCh:
			req.result <- a.finish(req.final)
			return
		}
	}
}

func (a *aggregator) add(b batch) {
	r := a.rec
	a.addDefinitions(false)
	if a.builder.Empty() {
		a.opened = r.now()
	}
	a.builder.Add(b.data, b.count, b.thread, b.minTS, b.maxTS, b.stamped)
	r.records.Add(uint64(b.count))
	r.metrics.addRecords(b.count)
	r.putBuffer(b.data)

	if a.builder.Len() >= r.settings.chapterSize || a.builder.Count() >= r.settings.chapterRecords {
		a.seal()
	}
}

// addDefinitions moves newly registered definitions into the open chapter so
// that they precede any record referring to them.
func (a *aggregator) addDefinitions(final bool) {
	data, n := a.rec.takeDefinitions(final)
	if n == 0 {
		return
	}
	if a.builder.Empty() {
		a.opened = a.rec.now()
	}
	a.builder.Add(data, n, 0, 0, 0, false)
	a.rec.records.Add(uint64(n))
	a.rec.metrics.addRecords(n)
}

// sweep collects stale thread buffers, seals an old chapter and retries
// chapters the sink refused.
func (a *aggregator) sweep() {
	r := a.rec
	now := r.now()
	for _, th := range r.snapshotThreads() {
		if b, ok := th.takeStale(now); ok {
			a.add(b)
		}
	}
	a.addDefinitions(false)
	if !a.builder.Empty() && now-a.opened >= int64(r.settings.chapterAge) {
		a.seal()
		return
	}
	a.flushPending()
}

func (a *aggregator) seal() {
	if a.builder.Empty() {
		return
	}
	hdr := a.builder.Header()
	data := a.builder.Seal()
	a.pending = append(a.pending, pendingChapter{
		data: data,
		info: ChapterInfo{
			Index:        a.index,
			Bytes:        len(data),
			Records:      int(hdr.Records),
			Threads:      int(hdr.Threads),
			MinTimestamp: hdr.MinTimestamp,
			MaxTimestamp: hdr.MaxTimestamp,
		},
	})
	a.index++
	a.flushPending()
}

// flushPending writes queued chapters in order and stops at the first error.
// At most maxPending chapters are held; beyond that the oldest chapter that
// has not been partially written is dropped.
func (a *aggregator) flushPending() {
	r := a.rec
	for len(a.pending) > 0 {
		p := &a.pending[0]
		n, err := r.sink.Write(p.data[p.written:])
		p.written += n
		r.bytesWritten.Add(uint64(n))
		r.metrics.addBytes(n)
		if err == nil && p.written < len(p.data) {
			err = fmt.Errorf("tapez: short write of chapter %d", p.info.Index)
		}
		if err != nil {
			a.lastErr = err
			r.sinkErrors.Add(1)
			r.metrics.sinkError()
			r.logger.Warn("sink write failed",
				zap.Int("chapter", p.info.Index),
				zap.Int("written", p.written),
				zap.Int("bytes", len(p.data)),
				zap.Error(err))
			break
		}

		info := p.info
		a.pending[0] = pendingChapter{}
		a.pending = a.pending[1:]
		r.chapters.Add(1)
		r.metrics.chapterWritten()
		r.executeHandlers(info)
	}

	for len(a.pending) > r.settings.maxPending {
		victim := 0
		if a.pending[0].written > 0 {
			victim = 1
		}
		dropped := a.pending[victim]
		a.pending = append(a.pending[:victim], a.pending[victim+1:]...)
		r.droppedBatches.Add(1)
		r.droppedRecords.Add(uint64(dropped.info.Records))
		r.metrics.dropBatch(dropped.info.Records)
		r.logger.Warn("dropped unwritten chapter",
			zap.Int("chapter", dropped.info.Index),
			zap.Int("records", dropped.info.Records))
	}
}

// finish drains the queue, appends the final thread buffers and the recorder
// statistics, writes everything and closes the sink.
func (a *aggregator) finish(final []batch) error {
	r := a.rec
	for drained := false; !drained; {
		select {
		case b := <-r.batches:
			a.add(b)
		default:
			drained = true
		}
	}
	for _, b := range final {
		a.add(b)
	}
	a.addDefinitions(true)

	stats, err := tape.AppendRecord(nil, tape.RecorderStats{
		DroppedBatches:  r.droppedBatches.Load(),
		DroppedRecords:  r.droppedRecords.Load(),
		SinkErrors:      r.sinkErrors.Load(),
		RejectedRecords: r.rejected.Load(),
	})
	if err == nil {
		a.builder.Add(stats, 1, 0, 0, 0, false)
		r.records.Add(1)
		r.metrics.addRecords(1)
	}
	a.seal()
	a.flushPending()

	var errs []error
	if len(a.pending) > 0 {
		errs = append(errs, fmt.Errorf("tapez: %d chapters not written: %w", len(a.pending), a.lastErr))
	}
	if err := r.sink.Close(); err != nil {
		errs = append(errs, fmt.Errorf("tapez: close sink: %w", err))
	}
	return errors.Join(errs...)
}
