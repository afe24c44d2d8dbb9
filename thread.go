package tapez

import (
	"context"
	"sync"

	"github.com/zoobzio/tapez/tape"
)

// batch is a micro-batch of encoded records captured on one thread.
type batch struct {
	data    []byte
	thread  uint64
	count   int
	minTS   int64
	maxTS   int64
	stamped bool
}

// Thread is a capture handle for one thread of execution.
// Records append to a local buffer which is handed to the aggregator once it
// fills up or goes stale. Use one Thread per goroutine.
//
//nolint:govet // Field order optimized for readability
type Thread struct {
	rec         *Recorder
	name        string
	id          uint64
	mu          sync.Mutex
	buf         []byte
	count       int
	minTS       int64
	maxTS       int64
	lastTS      int64
	lastHandoff int64
	stamped     bool
	registered  bool
	closed      bool
	stack       []*Span
	ids         IDBlock
}

// Thread creates a capture handle. The thread is written to the tape the first
// time it records a span boundary. After Shutdown the returned handle drops
// everything it is given.
func (r *Recorder) Thread(name string) *Thread {
	th := &Thread{
		rec:  r,
		name: name,
		id:   r.nextThread.Add(1),
		buf:  r.getBuffer(),
	}
	th.lastHandoff = r.now()

	r.threadsMu.Lock()
	defer r.threadsMu.Unlock()
	if r.closed.Load() {
		th.closed = true
		return th
	}
	r.threads[th.id] = th
	return th
}

// ID returns the tape-local thread identifier.
func (th *Thread) ID() uint64 { return th.id }

// Name returns the name the thread was created with.
func (th *Thread) Name() string { return th.name }

// Open allocates a span from the thread's reserved ID block.
// Equivalent to Recorder.Open without touching the shared counter.
func (th *Thread) Open(meta *Metadata, fields ...Field) *Span {
	th.mu.Lock()
	id, ok := th.ids.Next()
	if !ok {
		th.ids = th.rec.ids.Block()
		id, _ = th.ids.Next()
	}
	th.mu.Unlock()
	return &Span{id: id, meta: meta, fields: fields}
}

// Current returns the innermost span entered on this thread that has not been
// exited, or nil.
func (th *Thread) Current() *Span {
	th.mu.Lock()
	defer th.mu.Unlock()
	th.trimLocked()
	if len(th.stack) == 0 {
		return nil
	}
	return th.stack[len(th.stack)-1]
}

// Enter records that span starts on this thread. parent is the span's logical
// parent, or nil for a root span. The parent kind is SameThread when parent is
// open anywhere on this thread's stack, not only on top, so a sibling entered
// under an outer span while an inner one is still open keeps SameThread. A
// parent that is not open here gives CrossThread.
func (th *Thread) Enter(span, parent *Span) {
	if span == nil {
		return
	}
	ts := th.rec.now()
	if !span.state.CompareAndSwap(spanOpened, spanEntered) {
		return
	}

	th.mu.Lock()
	defer th.mu.Unlock()
	if th.closed {
		th.rec.dropLate(1 + len(span.fields))
		return
	}
	ts = th.stampLocked(ts)
	th.registerLocked(ts)

	kind := tape.ParentRoot
	var parentID uint64
	if parent != nil {
		parentID = parent.id
		kind = tape.ParentCrossThread
		if th.onStackLocked(parent) {
			kind = tape.ParentSameThread
		}
	}

	th.appendLocked(tape.SpanEnter{
		SpanID:     span.id,
		MetadataID: span.meta.ID(),
		ParentID:   parentID,
		ParentKind: kind,
		ThreadID:   th.id,
		Timestamp:  ts,
	}, ts, true)
	for _, f := range span.fields {
		th.appendLocked(tape.SpanValue{SpanID: span.id, Field: f}, ts, false)
	}

	th.trimLocked()
	th.stack = append(th.stack, span)
	th.maybeHandoffLocked(ts)
}

// Exit records that span ends. The span may have been entered on another thread.
func (th *Thread) Exit(span *Span) {
	if span == nil || !span.state.CompareAndSwap(spanEntered, spanExited) {
		return
	}
	ts := th.rec.now()

	th.mu.Lock()
	defer th.mu.Unlock()
	if th.closed {
		th.rec.dropLate(1)
		return
	}
	ts = th.stampLocked(ts)
	th.registerLocked(ts)
	th.removeLocked(span)

	th.appendLocked(tape.SpanExit{
		SpanID:    span.id,
		ThreadID:  th.id,
		Timestamp: ts,
	}, ts, true)
	th.maybeHandoffLocked(ts)
}

// Event records a point in time event. span is the enclosing span, or nil.
// Events alone do not write the thread to the tape.
func (th *Thread) Event(meta *Metadata, span *Span, msg string, fields ...Field) {
	ts := th.rec.now()

	th.mu.Lock()
	defer th.mu.Unlock()
	if th.closed {
		th.rec.dropLate(1)
		return
	}
	ts = th.stampLocked(ts)
	th.appendLocked(tape.Event{
		ThreadID:   th.id,
		SpanID:     span.ID(),
		MetadataID: meta.ID(),
		Timestamp:  ts,
		Message:    msg,
		Fields:     fields,
	}, ts, true)
	th.maybeHandoffLocked(ts)
}

// FollowsFrom records that span causally follows another span.
func (th *Thread) FollowsFrom(span, follows *Span) {
	if span == nil || follows == nil {
		return
	}
	ts := th.rec.now()

	th.mu.Lock()
	defer th.mu.Unlock()
	if th.closed {
		th.rec.dropLate(1)
		return
	}
	ts = th.stampLocked(ts)
	th.registerLocked(ts)
	th.appendLocked(tape.SpanFollows{SpanID: span.id, FollowsID: follows.id}, ts, false)
	th.maybeHandoffLocked(ts)
}

// Start opens and enters a span whose parent is the span carried by ctx. The
// returned context carries the new span and this thread.
func (th *Thread) Start(ctx context.Context, meta *Metadata, fields ...Field) (context.Context, *Span) {
	if ctx == nil {
		ctx = context.Background()
	}
	parent := SpanFromContext(ctx)
	span := th.Open(meta, fields...)
	th.Enter(span, parent)
	return context.WithValue(ctx, bundleKey, &contextBundle{thread: th, span: span}), span
}

// Flush hands the local buffer to the aggregator.
func (th *Thread) Flush() {
	th.mu.Lock()
	defer th.mu.Unlock()
	if th.closed {
		return
	}
	th.handoffLocked(th.rec.now())
}

// Close flushes the thread and releases it. Records given to a closed thread are dropped.
func (th *Thread) Close() {
	th.mu.Lock()
	if th.closed {
		th.mu.Unlock()
		return
	}
	th.handoffLocked(th.rec.now())
	th.closed = true
	th.mu.Unlock()

	th.rec.removeThread(th.id)
}

// stampLocked keeps timestamps non-decreasing per thread.
func (th *Thread) stampLocked(ts int64) int64 {
	if ts < th.lastTS {
		ts = th.lastTS
	}
	th.lastTS = ts
	return ts
}

func (th *Thread) registerLocked(ts int64) {
	if th.registered {
		return
	}
	th.registered = true
	th.appendLocked(tape.ThreadInfo{ThreadID: th.id, Name: th.name}, ts, false)
}

func (th *Thread) appendLocked(r tape.Record, ts int64, stamped bool) {
	buf, err := tape.AppendRecord(th.buf, r)
	if err != nil {
		th.rec.reject()
		return
	}
	th.buf = buf
	th.count++
	if !stamped {
		return
	}
	if !th.stamped || ts < th.minTS {
		th.minTS = ts
	}
	if !th.stamped || ts > th.maxTS {
		th.maxTS = ts
	}
	th.stamped = true
}

// trimLocked pops spans that were exited on other threads.
func (th *Thread) trimLocked() {
	for len(th.stack) > 0 && th.stack[len(th.stack)-1].Exited() {
		th.stack[len(th.stack)-1] = nil
		th.stack = th.stack[:len(th.stack)-1]
	}
}

func (th *Thread) onStackLocked(span *Span) bool {
	for i := len(th.stack) - 1; i >= 0; i-- {
		if th.stack[i] == span {
			return !span.Exited()
		}
	}
	return false
}

func (th *Thread) removeLocked(span *Span) {
	for i := len(th.stack) - 1; i >= 0; i-- {
		if th.stack[i] == span {
			copy(th.stack[i:], th.stack[i+1:])
			th.stack[len(th.stack)-1] = nil
			th.stack = th.stack[:len(th.stack)-1]
			return
		}
	}
}

func (th *Thread) maybeHandoffLocked(ts int64) {
	if len(th.buf) >= th.rec.settings.batchSize || ts-th.lastHandoff >= int64(th.rec.settings.flushInterval) {
		th.handoffLocked(ts)
	}
}

func (th *Thread) takeLocked(ts int64) (batch, bool) {
	if th.count == 0 {
		return batch{}, false
	}
	b := batch{
		data:    th.buf,
		thread:  th.id,
		count:   th.count,
		minTS:   th.minTS,
		maxTS:   th.maxTS,
		stamped: th.stamped,
	}
	th.buf = th.rec.getBuffer()
	th.count = 0
	th.minTS, th.maxTS = 0, 0
	th.stamped = false
	th.lastHandoff = ts
	return b, true
}

func (th *Thread) handoffLocked(ts int64) {
	if b, ok := th.takeLocked(ts); ok {
		th.rec.submit(b)
	}
}

// takeStale returns the buffered records if they have waited longer than the
// flush interval. Called by the aggregator.
func (th *Thread) takeStale(now int64) (batch, bool) {
	th.mu.Lock()
	defer th.mu.Unlock()
	if th.closed || now-th.lastHandoff < int64(th.rec.settings.flushInterval) {
		return batch{}, false
	}
	return th.takeLocked(now)
}

// detach closes the thread for shutdown and returns whatever it still buffers.
func (th *Thread) detach() (batch, bool) {
	th.mu.Lock()
	defer th.mu.Unlock()
	if th.closed {
		return batch{}, false
	}
	th.closed = true
	return th.takeLocked(th.rec.now())
}
