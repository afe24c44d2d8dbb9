package tape

import (
	"math"
	"strconv"
)

// Kind is the discriminant byte of a record.
type Kind uint8

// Record kinds understood by this version.
const (
	KindNoop          Kind = 0x00
	KindThreadInfo    Kind = 0x01
	KindMetadata      Kind = 0x08
	KindEvent         Kind = 0x10
	KindSpanEnter     Kind = 0x21
	KindSpanExit      Kind = 0x22
	KindSpanValue     Kind = 0x24
	KindSpanFollows   Kind = 0x25
	KindRecorderStats Kind = 0x30
)

// RecordHeaderSize is the size of the kind and length prefix of every record.
const RecordHeaderSize = 3

// MaxFields bounds the number of fields encoded for one event or definition.
const MaxFields = 64

func (k Kind) String() string {
	switch k {
	case KindNoop:
		return "noop"
	case KindThreadInfo:
		return "thread-info"
	case KindMetadata:
		return "metadata"
	case KindEvent:
		return "event"
	case KindSpanEnter:
		return "span-enter"
	case KindSpanExit:
		return "span-exit"
	case KindSpanValue:
		return "span-value"
	case KindSpanFollows:
		return "span-follows"
	case KindRecorderStats:
		return "recorder-stats"
	default:
		return "kind(0x" + strconv.FormatUint(uint64(k), 16) + ")"
	}
}

// ParentKind records how a span's parent was determined when it was entered.
type ParentKind uint8

// Parent kinds.
const (
	ParentRoot ParentKind = iota
	ParentSameThread
	ParentCrossThread
)

func (p ParentKind) String() string {
	switch p {
	case ParentRoot:
		return "root"
	case ParentSameThread:
		return "same-thread"
	case ParentCrossThread:
		return "cross-thread"
	default:
		return "parent(" + strconv.Itoa(int(p)) + ")"
	}
}

// Level is the verbosity of a definition.
type Level uint8

// Levels.
const (
	LevelTrace Level = iota
	LevelDebug
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelTrace:
		return "TRACE"
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "LEVEL(" + strconv.Itoa(int(l)) + ")"
	}
}

// DefinitionKind tells span definitions from event definitions.
type DefinitionKind uint8

// Definition kinds.
const (
	DefinitionSpan DefinitionKind = iota + 1
	DefinitionEvent
)

// Record is one decoded tape record.
type Record interface {
	RecordKind() Kind
	appendBody(dst []byte) []byte
}

// ThreadInfo registers a thread.
type ThreadInfo struct {
	Name     string
	ThreadID uint64
}

// Metadata describes a span or event definition. It is written once per definition.
//
//nolint:govet // Field order follows the wire layout
type Metadata struct {
	ID         uint64
	Kind       DefinitionKind
	Level      Level
	Line       uint32
	Name       string
	Target     string
	ModulePath string
	File       string
	Fields     []string
}

// Event is a point in time record.
//
//nolint:govet // Field order follows the wire layout
type Event struct {
	ThreadID   uint64
	SpanID     uint64 // zero when no span encloses the event
	MetadataID uint64
	Timestamp  int64
	Message    string
	Fields     []Field
}

// SpanEnter starts a span on a thread with an explicit parent.
type SpanEnter struct {
	SpanID     uint64
	MetadataID uint64
	ParentID   uint64 // zero for ParentRoot
	ThreadID   uint64
	Timestamp  int64
	ParentKind ParentKind
}

// SpanExit ends a span. The span is located by SpanID alone; ThreadID only
// records where the exit happened.
type SpanExit struct {
	SpanID    uint64
	ThreadID  uint64
	Timestamp int64
}

// SpanValue attaches a field to a span.
type SpanValue struct {
	Field  Field
	SpanID uint64
}

// SpanFollows records that SpanID causally follows FollowsID.
type SpanFollows struct {
	SpanID    uint64
	FollowsID uint64
}

// RecorderStats carries the recorder's loss counters, written at shutdown.
// RejectedRecords counts records too large to encode. It is a trailing field
// and decodes as zero when absent.
type RecorderStats struct {
	DroppedBatches  uint64
	DroppedRecords  uint64
	SinkErrors      uint64
	RejectedRecords uint64
}

// Noop is padding.
type Noop struct{}

// Unknown is a record of a kind this version does not understand.
type Unknown struct {
	Body []byte
	Code Kind
}

// RecordKind implements Record.
func (ThreadInfo) RecordKind() Kind { return KindThreadInfo }

// RecordKind implements Record.
func (Metadata) RecordKind() Kind { return KindMetadata }

// RecordKind implements Record.
func (Event) RecordKind() Kind { return KindEvent }

// RecordKind implements Record.
func (SpanEnter) RecordKind() Kind { return KindSpanEnter }

// RecordKind implements Record.
func (SpanExit) RecordKind() Kind { return KindSpanExit }

// RecordKind implements Record.
func (SpanValue) RecordKind() Kind { return KindSpanValue }

// RecordKind implements Record.
func (SpanFollows) RecordKind() Kind { return KindSpanFollows }

// RecordKind implements Record.
func (RecorderStats) RecordKind() Kind { return KindRecorderStats }

// RecordKind implements Record.
func (Noop) RecordKind() Kind { return KindNoop }

// RecordKind implements Record.
func (u Unknown) RecordKind() Kind { return u.Code }

func (r ThreadInfo) appendBody(dst []byte) []byte {
	dst = AppendU64(dst, r.ThreadID)
	return AppendString(dst, r.Name)
}

func (r Metadata) appendBody(dst []byte) []byte {
	dst = AppendU64(dst, r.ID)
	dst = AppendU8(dst, uint8(r.Kind))
	dst = AppendU8(dst, uint8(r.Level))
	dst = AppendU32(dst, r.Line)
	dst = AppendString(dst, r.Name)
	dst = AppendString(dst, r.Target)
	dst = AppendString(dst, r.ModulePath)
	dst = AppendString(dst, r.File)
	fields := r.Fields
	if len(fields) > MaxFields {
		fields = fields[:MaxFields]
	}
	dst = AppendU16(dst, uint16(len(fields)))
	for _, f := range fields {
		dst = AppendString(dst, f)
	}
	return dst
}

func (r Event) appendBody(dst []byte) []byte {
	dst = AppendU64(dst, r.ThreadID)
	dst = AppendU64(dst, r.SpanID)
	dst = AppendU64(dst, r.MetadataID)
	dst = AppendI64(dst, r.Timestamp)
	dst = AppendString(dst, r.Message)
	fields := r.Fields
	if len(fields) > MaxFields {
		fields = fields[:MaxFields]
	}
	dst = AppendU16(dst, uint16(len(fields)))
	for _, f := range fields {
		dst = appendField(dst, f)
	}
	return dst
}

func (r SpanEnter) appendBody(dst []byte) []byte {
	dst = AppendU64(dst, r.SpanID)
	dst = AppendU64(dst, r.MetadataID)
	dst = AppendU64(dst, r.ParentID)
	dst = AppendU8(dst, uint8(r.ParentKind))
	dst = AppendU64(dst, r.ThreadID)
	return AppendI64(dst, r.Timestamp)
}

func (r SpanExit) appendBody(dst []byte) []byte {
	dst = AppendU64(dst, r.SpanID)
	dst = AppendU64(dst, r.ThreadID)
	return AppendI64(dst, r.Timestamp)
}

func (r SpanValue) appendBody(dst []byte) []byte {
	dst = AppendU64(dst, r.SpanID)
	return appendField(dst, r.Field)
}

func (r SpanFollows) appendBody(dst []byte) []byte {
	dst = AppendU64(dst, r.SpanID)
	return AppendU64(dst, r.FollowsID)
}

func (r RecorderStats) appendBody(dst []byte) []byte {
	dst = AppendU64(dst, r.DroppedBatches)
	dst = AppendU64(dst, r.DroppedRecords)
	dst = AppendU64(dst, r.SinkErrors)
	return AppendU64(dst, r.RejectedRecords)
}

func (Noop) appendBody(dst []byte) []byte { return dst }

func (u Unknown) appendBody(dst []byte) []byte { return append(dst, u.Body...) }

// AppendRecord appends r with its kind and length prefix.
// On ErrRecordTooLarge dst is returned unchanged.
func AppendRecord(dst []byte, r Record) ([]byte, error) {
	start := len(dst)
	dst = append(dst, byte(r.RecordKind()), 0, 0)
	dst = r.appendBody(dst)
	n := len(dst) - start - RecordHeaderSize
	if n > math.MaxUint16 {
		return dst[:start], ErrRecordTooLarge
	}
	le.PutUint16(dst[start+1:], uint16(n))
	return dst, nil
}

// DecodeRecord decodes the record at the start of b and returns it with the
// number of bytes consumed. Unknown kinds decode to Unknown.
func DecodeRecord(b []byte) (Record, int, error) {
	if len(b) < RecordHeaderSize {
		return nil, 0, ErrMalformedRecord
	}
	kind := Kind(b[0])
	n := int(le.Uint16(b[1:]))
	size := RecordHeaderSize + n
	if size > len(b) {
		return nil, 0, ErrMalformedRecord
	}
	body := b[RecordHeaderSize:size]
	d := NewDecoder(body)

	var r Record
	switch kind {
	case KindNoop:
		r = Noop{}
	case KindThreadInfo:
		r = ThreadInfo{ThreadID: d.U64(), Name: d.String()}
	case KindMetadata:
		m := Metadata{
			ID:    d.U64(),
			Kind:  DefinitionKind(d.U8()),
			Level: Level(d.U8()),
			Line:  d.U32(),
		}
		m.Name = d.String()
		m.Target = d.String()
		m.ModulePath = d.String()
		m.File = d.String()
		count := int(d.U16())
		if count > 0 && d.Err() == nil {
			m.Fields = make([]string, 0, min(count, MaxFields))
			for i := 0; i < count && d.Err() == nil; i++ {
				m.Fields = append(m.Fields, d.String())
			}
		}
		r = m
	case KindEvent:
		e := Event{
			ThreadID:   d.U64(),
			SpanID:     d.U64(),
			MetadataID: d.U64(),
			Timestamp:  d.I64(),
		}
		e.Message = d.String()
		count := int(d.U16())
		if count > 0 && d.Err() == nil {
			e.Fields = make([]Field, 0, min(count, MaxFields))
			for i := 0; i < count && d.Err() == nil; i++ {
				e.Fields = append(e.Fields, decodeField(d))
			}
		}
		r = e
	case KindSpanEnter:
		r = SpanEnter{
			SpanID:     d.U64(),
			MetadataID: d.U64(),
			ParentID:   d.U64(),
			ParentKind: ParentKind(d.U8()),
			ThreadID:   d.U64(),
			Timestamp:  d.I64(),
		}
	case KindSpanExit:
		r = SpanExit{SpanID: d.U64(), ThreadID: d.U64(), Timestamp: d.I64()}
	case KindSpanValue:
		v := SpanValue{SpanID: d.U64()}
		v.Field = decodeField(d)
		r = v
	case KindSpanFollows:
		r = SpanFollows{SpanID: d.U64(), FollowsID: d.U64()}
	case KindRecorderStats:
		st := RecorderStats{DroppedBatches: d.U64(), DroppedRecords: d.U64(), SinkErrors: d.U64()}
		if d.Remaining() >= 8 {
			st.RejectedRecords = d.U64()
		}
		r = st
	default:
		r = Unknown{Code: kind, Body: body}
	}
	if err := d.Err(); err != nil {
		return nil, 0, err
	}
	return r, size, nil
}
