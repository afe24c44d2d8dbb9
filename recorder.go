package tapez

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zoobzio/clockz"
	"github.com/zoobzio/tapez/tape"
	"go.uber.org/zap"
)

// settings are the recorder's fixed thresholds.
type settings struct {
	batchSize      int           // thread buffer handoff size in bytes
	flushInterval  time.Duration // max age of a thread buffer
	queueSize      int           // aggregator queue capacity in batches
	chapterSize    int           // chapter seal size in bytes
	chapterRecords int           // chapter seal record count
	chapterAge     time.Duration // max age of an open chapter
	maxPending     int           // chapters held for retry after sink errors
	idBlock        uint64        // span IDs reserved per thread
}

var defaultSettings = settings{
	batchSize:      4 << 10,
	flushInterval:  100 * time.Millisecond,
	queueSize:      256,
	chapterSize:    1 << 20,
	chapterRecords: 1 << 16,
	chapterAge:     time.Second,
	maxPending:     8,
	idBlock:        1024,
}

// Option injects a collaborator into a Recorder.
type Option func(*Recorder)

// WithClock sets the clock used for timestamps and flush timers.
// Enables clock injection for deterministic testing.
func WithClock(clock clockz.Clock) Option {
	return func(r *Recorder) {
		if clock != nil {
			r.clock = clock
		}
	}
}

// WithLogger sets the logger for sink failures and shutdown problems.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Recorder) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithMetrics publishes recorder counters to m.
func WithMetrics(m *Metrics) Option {
	return func(r *Recorder) {
		r.metrics = m
	}
}

// withSettings replaces the fixed thresholds. Used by tests.
func withSettings(s settings) Option {
	return func(r *Recorder) {
		r.settings = s
	}
}

// ChapterInfo describes a chapter that was handed to the sink.
type ChapterInfo struct {
	Index        int
	Bytes        int
	Records      int
	Threads      int
	MinTimestamp int64
	MaxTimestamp int64
}

// ChapterHandler is called after a chapter is written to the sink.
type ChapterHandler func(info ChapterInfo)

type handlerEntry struct {
	handler ChapterHandler
	id      uint64
}

// Stats is a snapshot of the recorder's counters.
// RejectedRecords counts records too large to encode; they are not
// backpressure drops.
type Stats struct {
	Records         uint64
	DroppedBatches  uint64
	DroppedRecords  uint64
	SinkErrors      uint64
	RejectedRecords uint64
	Chapters        uint64
	BytesWritten    uint64
}

type stopRequest struct {
	final  []batch
	result chan error
}

// Recorder captures spans and events from any number of threads and writes
// them to a sink as tape chapters. Safe for concurrent use.
//
//nolint:govet // Field order optimized for functionality over memory
type Recorder struct {
	sink     io.WriteCloser
	clock    clockz.Clock
	logger   *zap.Logger
	metrics  *Metrics
	header   tape.Header
	base     time.Time
	settings settings
	ids      *IDPool

	batches chan batch
	stopCh  chan stopRequest
	done    chan struct{}
	buffers sync.Pool

	definitions sync.Map // metadata id -> *Metadata
	defMu       sync.Mutex
	defPending  []byte
	defCount    int
	defClosed   bool

	threadsMu  sync.Mutex
	threads    map[uint64]*Thread
	nextThread atomic.Uint64

	handlers     []handlerEntry
	panicHook    func(handlerID uint64, r interface{})
	handlersLock sync.RWMutex
	nextID       atomic.Uint64

	closed       atomic.Bool
	shutdownOnce sync.Once
	shutdownErr  error

	records        atomic.Uint64
	droppedBatches atomic.Uint64
	droppedRecords atomic.Uint64
	sinkErrors     atomic.Uint64
	rejected       atomic.Uint64
	chapters       atomic.Uint64
	bytesWritten   atomic.Uint64
}

// New creates a recorder writing to sink and writes the tape header.
// The recorder owns sink from here on; Shutdown closes it.
func New(sink io.WriteCloser, opts ...Option) (*Recorder, error) {
	if sink == nil {
		return nil, errors.New("tapez: nil sink")
	}
	r := &Recorder{
		sink:     sink,
		clock:    clockz.RealClock,
		logger:   zap.NewNop(),
		settings: defaultSettings,
		threads:  make(map[uint64]*Thread),
		done:     make(chan struct{}),
		stopCh:   make(chan stopRequest),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.ids = NewIDPool(r.settings.idBlock)
	r.batches = make(chan batch, r.settings.queueSize)
	r.buffers.New = func() any {
		b := make([]byte, 0, r.settings.batchSize+512)
		return &b
	}

	r.base = r.clock.Now()
	r.header = tape.NewHeader(r.base.UnixNano())
	hdr := r.header.Append(nil)
	n, err := sink.Write(hdr)
	if err != nil {
		return nil, fmt.Errorf("tapez: write header: %w", err)
	}
	r.bytesWritten.Add(uint64(n))
	r.metrics.addBytes(n)

	agg := newAggregator(r)
	go agg.run()
	return r, nil
}

// Scope creates a recorder, runs fn, and shuts the recorder down when fn
// returns. Errors from fn and from Shutdown are joined.
func Scope(ctx context.Context, sink io.WriteCloser, fn func(*Recorder) error, opts ...Option) error {
	r, err := New(sink, opts...)
	if err != nil {
		return err
	}
	fnErr := fn(r)
	return errors.Join(fnErr, r.Shutdown(ctx))
}

// Header returns the tape header written by this recorder.
func (r *Recorder) Header() tape.Header {
	return r.header
}

// Stats returns a snapshot of the recorder's counters.
func (r *Recorder) Stats() Stats {
	return Stats{
		Records:         r.records.Load(),
		DroppedBatches:  r.droppedBatches.Load(),
		DroppedRecords:  r.droppedRecords.Load(),
		SinkErrors:      r.sinkErrors.Load(),
		RejectedRecords: r.rejected.Load(),
		Chapters:        r.chapters.Load(),
		BytesWritten:    r.bytesWritten.Load(),
	}
}

// OnChapter registers a handler called from the aggregator after each chapter
// is written. Handlers must not block.
func (r *Recorder) OnChapter(handler ChapterHandler) uint64 {
	if handler == nil {
		return 0
	}

	id := r.nextID.Add(1)

	r.handlersLock.Lock()
	defer r.handlersLock.Unlock()

	r.handlers = append(r.handlers, handlerEntry{
		id:      id,
		handler: handler,
	})

	return id
}

// RemoveHandler removes a handler by ID.
func (r *Recorder) RemoveHandler(id uint64) {
	r.handlersLock.Lock()
	defer r.handlersLock.Unlock()

	// Preserve order
	for i, h := range r.handlers {
		if h.id == id {
			copy(r.handlers[i:], r.handlers[i+1:])
			r.handlers = r.handlers[:len(r.handlers)-1]
			return
		}
	}
}

// SetPanicHook sets a function to be called when a handler panics.
func (r *Recorder) SetPanicHook(hook func(handlerID uint64, r interface{})) {
	r.handlersLock.Lock()
	defer r.handlersLock.Unlock()
	r.panicHook = hook
}

// executeHandlers calls all registered handlers with the written chapter.
func (r *Recorder) executeHandlers(info ChapterInfo) {
	r.handlersLock.RLock()
	if len(r.handlers) == 0 {
		r.handlersLock.RUnlock()
		return
	}

	handlers := make([]handlerEntry, len(r.handlers))
	copy(handlers, r.handlers)
	hook := r.panicHook
	r.handlersLock.RUnlock()

	for _, h := range handlers {
		safeCall(h, hook, info)
	}
}

func safeCall(entry handlerEntry, hook func(uint64, interface{}), info ChapterInfo) {
	defer func() {
		if r := recover(); r != nil {
			if hook != nil {
				hook(entry.id, r)
			}
		}
	}()
	entry.handler(info)
}

// Shutdown flushes every thread buffer and the open chapter, writes the
// recorder statistics, and closes the sink. It returns when the aggregator has
// finished or ctx is done. Calling Shutdown again returns the first result.
//
// Records still in thread buffers are lost only if the process exits without
// calling Shutdown.
func (r *Recorder) Shutdown(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	r.shutdownOnce.Do(func() {
		r.closed.Store(true)
		req := stopRequest{
			final:  r.detachThreads(),
			result: make(chan error, 1),
		}

		// The aggregator may be stuck in a slow sink write. The request is
		// delivered regardless of ctx so the sink is still closed eventually.
		go func() { r.stopCh <- req }()

		select {
		case err := <-req.result:
			r.shutdownErr = err
		case <-ctx.Done():
			r.shutdownErr = fmt.Errorf("tapez: shutdown: %w", ctx.Err())
		}
		if r.shutdownErr != nil {
			r.logger.Warn("recorder shutdown incomplete", zap.Error(r.shutdownErr))
		}
	})
	return r.shutdownErr
}

// Done is closed once the aggregator has closed the sink.
func (r *Recorder) Done() <-chan struct{} {
	return r.done
}

func (r *Recorder) detachThreads() []batch {
	r.threadsMu.Lock()
	threads := make([]*Thread, 0, len(r.threads))
	for _, th := range r.threads {
		threads = append(threads, th)
	}
	r.threads = make(map[uint64]*Thread)
	r.threadsMu.Unlock()

	final := make([]batch, 0, len(threads))
	for _, th := range threads {
		if b, ok := th.detach(); ok {
			final = append(final, b)
		}
	}
	return final
}

func (r *Recorder) snapshotThreads() []*Thread {
	r.threadsMu.Lock()
	defer r.threadsMu.Unlock()
	threads := make([]*Thread, 0, len(r.threads))
	for _, th := range r.threads {
		threads = append(threads, th)
	}
	return threads
}

func (r *Recorder) removeThread(id uint64) {
	r.threadsMu.Lock()
	delete(r.threads, id)
	r.threadsMu.Unlock()
}

// now returns nanoseconds since the tape's timestamp base.
func (r *Recorder) now() int64 {
	return int64(r.clock.Since(r.base))
}

func (r *Recorder) getBuffer() []byte {
	b, ok := r.buffers.Get().(*[]byte)
	if !ok {
		return make([]byte, 0, r.settings.batchSize+512)
	}
	return (*b)[:0]
}

func (r *Recorder) putBuffer(b []byte) {
	if cap(b) > 4*r.settings.batchSize {
		return
	}
	b = b[:0]
	r.buffers.Put(&b)
}

// submit hands a batch to the aggregator without blocking. When the queue is
// full the oldest queued batch is dropped to make room.
func (r *Recorder) submit(b batch) {
	select {
	case r.batches <- b:
		return
	default:
	}
	select {
	case old := <-r.batches:
		r.drop(old)
	default:
	}
	select {
	case r.batches <- b:
	default:
		r.drop(b)
	}
}

func (r *Recorder) drop(b batch) {
	r.droppedBatches.Add(1)
	r.droppedRecords.Add(uint64(b.count))
	r.metrics.dropBatch(b.count)
	r.putBuffer(b.data)
}

// dropLate counts records given to a closed thread.
func (r *Recorder) dropLate(n int) {
	r.droppedRecords.Add(uint64(n))
	r.metrics.dropRecords(n)
}

// reject counts a record the encoder refused.
func (r *Recorder) reject() {
	r.rejected.Add(1)
	r.metrics.rejectRecord()
}

func (r *Recorder) enqueueDefinition(rec []byte) {
	r.defMu.Lock()
	defer r.defMu.Unlock()
	if r.defClosed {
		r.dropLate(1)
		return
	}
	r.defPending = append(r.defPending, rec...)
	r.defCount++
}

// takeDefinitions returns the encoded definitions registered since the last call.
// After final is set no more definitions are accepted.
func (r *Recorder) takeDefinitions(final bool) ([]byte, int) {
	r.defMu.Lock()
	defer r.defMu.Unlock()
	data, n := r.defPending, r.defCount
	r.defPending, r.defCount = nil, 0
	if final {
		r.defClosed = true
	}
	return data, n
}
