// Package tapez records structured execution events into a compact binary tape.
//
// tapez captures spans, their enter/exit boundaries, and point-in-time events
// from any number of goroutines with minimal overhead, and writes them as
// chapters of the tape format defined in package tape. Package parser turns a
// tape back into a navigable trace.
//
// Core Components:.
//   - Recorder: Owns the sink, the aggregator goroutine, and the definition registry.
//   - Thread: A capture handle owning a small local buffer. One per goroutine.
//   - Span: A handle returned by Open and passed to Enter and Exit.
//   - Metadata: A span or event definition, written to the tape once.
//
// Basic Usage:.
//
//	rec, err := tapez.Create()
//	if err != nil {
//		return err
//	}
//	defer rec.Shutdown(context.Background())
//
//	th := rec.Thread("main")
//	defer th.Close()
//
//	handle := rec.Register(tapez.SpanSite("handle"))
//	span := rec.Open(handle)
//	th.Enter(span, th.Current())
//	th.Event(rec.Register(tapez.EventSite("received")), span, "request received")
//	th.Exit(span)
//
// Parents:.
//
// The parent of a span is always passed explicitly. Enter tags the record with
// SameThread when the parent is open on the entering thread, CrossThread when
// it is not, and Root when there is no parent. Context helpers carry the
// current span across goroutines:
//
//	ctx = tapez.ContextWithSpan(ctx, span)
//	go func() {
//		th := rec.Thread("worker")
//		defer th.Close()
//		ctx, child := th.Start(ctx, work)
//		defer th.Exit(child)
//		_ = ctx
//	}()
//
// Thread Safety:.
//
// Recorder is safe for concurrent use. A Thread is meant to be used by one
// goroutine at a time; its buffer is guarded by an uncontended mutex so that
// Shutdown and cross-thread exits can reach it. A Span may be exited on a
// different Thread than the one that entered it.
//
// Loss:.
//
// Capture calls never block on I/O. When the aggregator queue is full the
// oldest queued batch is dropped and counted; Stats reports the totals and the
// final chapter carries them so a reader can flag the tape as incomplete.
// Shutdown flushes every buffer. Only an abnormal process exit loses records
// that were still buffered.
package tapez

import "github.com/zoobzio/tapez/tape"

// Field is a named value attached to a span or event.
type Field = tape.Field

// Level is the verbosity of a definition.
type Level = tape.Level

// Levels.
const (
	LevelTrace = tape.LevelTrace
	LevelDebug = tape.LevelDebug
	LevelInfo  = tape.LevelInfo
	LevelWarn  = tape.LevelWarn
	LevelError = tape.LevelError
)

// Field constructors.
var (
	Bool    = tape.Bool
	Int64   = tape.Int64
	Uint64  = tape.Uint64
	Float64 = tape.Float64
	String  = tape.String
	Error   = tape.Error
	F       = tape.F
)
