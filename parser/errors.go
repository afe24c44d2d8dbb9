package parser

import (
	"errors"
	"fmt"

	"github.com/zoobzio/tapez/tape"
)

var (
	// ErrFormat matches every *FormatError.
	ErrFormat = errors.New("parser: unsupported tape format")
	// ErrCorruptChapter matches every *CorruptChapterError.
	ErrCorruptChapter = errors.New("parser: corrupt chapter")
)

// FormatError reports input that is not a tape this parser can read.
type FormatError struct {
	Err     error
	Version tape.Version
}

func (e *FormatError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("parser: unsupported tape format: %v", e.Err)
	}
	return fmt.Sprintf("parser: unsupported tape version %s", e.Version)
}

func (e *FormatError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrFormat}
	}
	return []error{ErrFormat, e.Err}
}

// CorruptChapterError reports a chapter that failed its integrity checks while
// more data followed it.
type CorruptChapterError struct {
	Err     error
	Chapter int
	Offset  int64
}

func (e *CorruptChapterError) Error() string {
	return fmt.Sprintf("parser: corrupt chapter %d at offset %d: %v", e.Chapter, e.Offset, e.Err)
}

func (e *CorruptChapterError) Unwrap() []error {
	return []error{ErrCorruptChapter, e.Err}
}

// TruncatedTailError describes the final chapter that was dropped.
type TruncatedTailError struct {
	Err     error
	Chapter int
	Offset  int64
}

func (e *TruncatedTailError) Error() string {
	return fmt.Sprintf("parser: truncated tail at chapter %d, offset %d: %v", e.Chapter, e.Offset, e.Err)
}

func (e *TruncatedTailError) Unwrap() error { return e.Err }

// WarningKind classifies a recoverable anomaly.
type WarningKind uint8

// Warning kinds.
const (
	WarningTruncatedTail WarningKind = iota + 1
	WarningBackpressureDrop
	WarningDanglingSpan
	WarningUnknownRecord
	WarningOrphanExit
	WarningMissingMetadata
	WarningMissingParent
	WarningDuplicateEnter
	WarningRejectedRecords
)

func (k WarningKind) String() string {
	switch k {
	case WarningTruncatedTail:
		return "truncated-tail"
	case WarningBackpressureDrop:
		return "backpressure-drop"
	case WarningDanglingSpan:
		return "dangling-span"
	case WarningUnknownRecord:
		return "unknown-record"
	case WarningOrphanExit:
		return "orphan-exit"
	case WarningMissingMetadata:
		return "missing-metadata"
	case WarningMissingParent:
		return "missing-parent"
	case WarningDuplicateEnter:
		return "duplicate-enter"
	case WarningRejectedRecords:
		return "rejected-records"
	default:
		return fmt.Sprintf("warning(%d)", uint8(k))
	}
}

// Warning is a recoverable anomaly found while loading. Chapter is -1 when the
// warning is not tied to one chapter.
type Warning struct {
	Err     error
	Kind    WarningKind
	Chapter int
	SpanID  uint64
}

func (w Warning) String() string {
	s := w.Kind.String()
	if w.Chapter >= 0 {
		s += fmt.Sprintf(" chapter=%d", w.Chapter)
	}
	if w.SpanID != 0 {
		s += fmt.Sprintf(" span=%d", w.SpanID)
	}
	if w.Err != nil {
		s += ": " + w.Err.Error()
	}
	return s
}
