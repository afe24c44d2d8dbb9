package tape

import (
	"bytes"
	"math"

	"github.com/cespare/xxhash/v2"
)

// ChapterMagic starts every chapter.
var ChapterMagic = [4]byte{'C', 'H', 'P', 'T'}

// ChapterHeaderSize is the encoded size of a ChapterHeader including the magic.
const ChapterHeaderSize = 4 + 4 + 4 + 4 + 8 + 8 + 8

// MaxChapterPayload bounds the payload a reader accepts for one chapter.
const MaxChapterPayload = 64 << 20

// ChapterHeader frames one chapter.
type ChapterHeader struct {
	PayloadLen   uint32
	Records      uint32
	Threads      uint32
	MinTimestamp int64
	MaxTimestamp int64
	Checksum     uint64
}

// Chapter is one framed, verified chapter.
type Chapter struct {
	// Threads lists every thread referenced by the chapter's records.
	Threads []uint64
	// Records holds the encoded records. It aliases the input buffer.
	Records []byte
	Header  ChapterHeader
}

// ReadChapter frames and verifies the chapter at the start of b and returns
// it with the number of bytes consumed.
//
// ErrShortChapter means b ends inside the chapter. ErrChapterMagic,
// ErrChapterTooLarge and ErrChecksum mean the bytes are not a valid chapter.
func ReadChapter(b []byte) (Chapter, int, error) {
	if len(b) < len(ChapterMagic) {
		if !bytes.HasPrefix(ChapterMagic[:], b) {
			return Chapter{}, 0, ErrChapterMagic
		}
		return Chapter{}, 0, ErrShortChapter
	}
	if !bytes.Equal(b[:len(ChapterMagic)], ChapterMagic[:]) {
		return Chapter{}, 0, ErrChapterMagic
	}
	if len(b) < ChapterHeaderSize {
		return Chapter{}, 0, ErrShortChapter
	}

	d := NewDecoder(b[len(ChapterMagic):ChapterHeaderSize])
	h := ChapterHeader{
		PayloadLen:   d.U32(),
		Records:      d.U32(),
		Threads:      d.U32(),
		MinTimestamp: d.I64(),
		MaxTimestamp: d.I64(),
		Checksum:     d.U64(),
	}
	if h.PayloadLen > MaxChapterPayload || uint64(h.Threads)*8 > uint64(h.PayloadLen) {
		return Chapter{}, 0, ErrChapterTooLarge
	}

	end := ChapterHeaderSize + int(h.PayloadLen)
	if end > len(b) {
		return Chapter{}, 0, ErrShortChapter
	}
	payload := b[ChapterHeaderSize:end]
	if xxhash.Sum64(payload) != h.Checksum {
		return Chapter{}, 0, ErrChecksum
	}

	c := Chapter{Header: h}
	pd := NewDecoder(payload)
	if h.Threads > 0 {
		c.Threads = make([]uint64, h.Threads)
		for i := range c.Threads {
			c.Threads[i] = pd.U64()
		}
	}
	c.Records = payload[int(h.Threads)*8:]
	return c, end, nil
}

// Each decodes the chapter's records in order and calls fn for each.
func (c Chapter) Each(fn func(Record) error) error {
	b := c.Records
	for len(b) > 0 {
		r, n, err := DecodeRecord(b)
		if err != nil {
			return err
		}
		if err := fn(r); err != nil {
			return err
		}
		b = b[n:]
	}
	return nil
}

// ChapterBuilder accumulates encoded records into one chapter.
// It is not safe for concurrent use.
type ChapterBuilder struct {
	seen    map[uint64]struct{}
	threads []uint64
	records []byte
	count   uint32
	min     int64
	max     int64
	stamped bool
}

// NewChapterBuilder returns a builder with room for capacity bytes of records.
func NewChapterBuilder(capacity int) *ChapterBuilder {
	return &ChapterBuilder{
		seen:    make(map[uint64]struct{}),
		records: make([]byte, 0, capacity),
	}
}

// Add appends already encoded records. thread is the thread they were captured
// on, or zero for records that belong to no thread. minTS and maxTS bound the
// timestamps carried by the records; stamped is false when none carry one.
func (b *ChapterBuilder) Add(records []byte, count int, thread uint64, minTS, maxTS int64, stamped bool) {
	b.records = append(b.records, records...)
	b.count += uint32(count)
	if thread != 0 {
		b.Reference(thread)
	}
	if !stamped {
		return
	}
	if !b.stamped || minTS < b.min {
		b.min = minTS
	}
	if !b.stamped || maxTS > b.max {
		b.max = maxTS
	}
	b.stamped = true
}

// Reference adds a thread to the chapter's thread table.
func (b *ChapterBuilder) Reference(thread uint64) {
	if _, ok := b.seen[thread]; ok {
		return
	}
	b.seen[thread] = struct{}{}
	b.threads = append(b.threads, thread)
}

// Len returns the number of record bytes buffered.
func (b *ChapterBuilder) Len() int { return len(b.records) }

// Count returns the number of records buffered.
func (b *ChapterBuilder) Count() int { return int(b.count) }

// Empty reports whether no records are buffered.
func (b *ChapterBuilder) Empty() bool { return b.count == 0 }

// Header describes the chapter Seal would produce, without its checksum.
func (b *ChapterBuilder) Header() ChapterHeader {
	return ChapterHeader{
		PayloadLen:   uint32(len(b.threads)*8 + len(b.records)),
		Records:      b.count,
		Threads:      uint32(len(b.threads)),
		MinTimestamp: b.min,
		MaxTimestamp: b.max,
	}
}

// Seal encodes the buffered chapter into a freshly allocated slice and resets
// the builder. The caller owns the returned bytes.
func (b *ChapterBuilder) Seal() []byte {
	payloadLen := len(b.threads)*8 + len(b.records)
	if payloadLen > math.MaxUint32 {
		payloadLen = math.MaxUint32
	}
	out := make([]byte, 0, ChapterHeaderSize+payloadLen)
	out = append(out, ChapterMagic[:]...)
	out = AppendU32(out, uint32(payloadLen))
	out = AppendU32(out, b.count)
	out = AppendU32(out, uint32(len(b.threads)))
	out = AppendI64(out, b.min)
	out = AppendI64(out, b.max)
	sumAt := len(out)
	out = AppendU64(out, 0)
	for _, t := range b.threads {
		out = AppendU64(out, t)
	}
	out = append(out, b.records...)
	le.PutUint64(out[sumAt:], xxhash.Sum64(out[ChapterHeaderSize:]))

	b.reset()
	return out
}

func (b *ChapterBuilder) reset() {
	clear(b.seen)
	b.threads = b.threads[:0]
	b.records = b.records[:0]
	b.count = 0
	b.min, b.max = 0, 0
	b.stamped = false
}
