package tapez

import (
	"context"
	"sync/atomic"
)

// bundleKeyType is a private type for context keys to avoid collisions.
type bundleKeyType string

const (
	bundleKey bundleKeyType = "tapez"
)

// contextBundle holds both thread and span to reduce context allocations.
type contextBundle struct {
	thread *Thread
	span   *Span
}

const (
	spanOpened uint32 = iota
	spanEntered
	spanExited
)

// Span is a handle to one span on the tape.
// Safe for concurrent use; Enter and Exit each take effect at most once.
type Span struct {
	meta   *Metadata
	fields []Field
	id     uint64
	state  atomic.Uint32
}

// ID returns the tape-local span identifier.
func (s *Span) ID() uint64 {
	if s == nil {
		return 0
	}
	return s.id
}

// Metadata returns the span's definition.
func (s *Span) Metadata() *Metadata {
	return s.meta
}

// Entered reports whether the span has been entered.
func (s *Span) Entered() bool {
	return s.state.Load() >= spanEntered
}

// Exited reports whether the span has been exited.
func (s *Span) Exited() bool {
	return s.state.Load() == spanExited
}

// Open allocates a span for meta. Nothing is written until the span is entered.
// fields are recorded with the span when it is entered.
func (r *Recorder) Open(meta *Metadata, fields ...Field) *Span {
	return &Span{
		id:     r.ids.Get(),
		meta:   meta,
		fields: fields,
	}
}

// ContextWithSpan returns a context carrying span as the current span.
// The thread already stored in ctx, if any, is kept.
func ContextWithSpan(ctx context.Context, span *Span) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	bundle := &contextBundle{span: span}
	if prev, ok := ctx.Value(bundleKey).(*contextBundle); ok {
		bundle.thread = prev.thread
	}
	return context.WithValue(ctx, bundleKey, bundle)
}

// ContextWithThread returns a context carrying th as the current thread.
// The span already stored in ctx, if any, is kept.
func ContextWithThread(ctx context.Context, th *Thread) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	bundle := &contextBundle{thread: th}
	if prev, ok := ctx.Value(bundleKey).(*contextBundle); ok {
		bundle.span = prev.span
	}
	return context.WithValue(ctx, bundleKey, bundle)
}

// SpanFromContext extracts the current span from a context.
// Returns nil if no span is present.
func SpanFromContext(ctx context.Context) *Span {
	if ctx == nil {
		return nil
	}
	if bundle, ok := ctx.Value(bundleKey).(*contextBundle); ok {
		return bundle.span
	}
	return nil
}

// ThreadFromContext extracts the current thread from a context.
// Returns nil if no thread is present.
func ThreadFromContext(ctx context.Context) *Thread {
	if ctx == nil {
		return nil
	}
	if bundle, ok := ctx.Value(bundleKey).(*contextBundle); ok {
		return bundle.thread
	}
	return nil
}
