package tape

import (
	"encoding/binary"
	"math"
	"unicode/utf8"
)

// MaxStringLen bounds every encoded string. Longer strings are truncated on a
// rune boundary. Records over the u16 length prefix are still rejected by
// AppendRecord.
const MaxStringLen = 4096

var le = binary.LittleEndian

// AppendU8 appends a single byte.
func AppendU8(dst []byte, v uint8) []byte {
	return append(dst, v)
}

// AppendU16 appends a little endian uint16.
func AppendU16(dst []byte, v uint16) []byte {
	return le.AppendUint16(dst, v)
}

// AppendU32 appends a little endian uint32.
func AppendU32(dst []byte, v uint32) []byte {
	return le.AppendUint32(dst, v)
}

// AppendU64 appends a little endian uint64.
func AppendU64(dst []byte, v uint64) []byte {
	return le.AppendUint64(dst, v)
}

// AppendI64 appends a little endian int64.
func AppendI64(dst []byte, v int64) []byte {
	return le.AppendUint64(dst, uint64(v))
}

// AppendF64 appends the IEEE 754 bits of v.
func AppendF64(dst []byte, v float64) []byte {
	return le.AppendUint64(dst, math.Float64bits(v))
}

// AppendString appends a length prefixed string, truncated to MaxStringLen.
func AppendString(dst []byte, s string) []byte {
	if len(s) > MaxStringLen {
		n := MaxStringLen
		for n > 0 && !utf8.RuneStart(s[n]) {
			n--
		}
		s = s[:n]
	}
	dst = le.AppendUint16(dst, uint16(len(s)))
	return append(dst, s...)
}

// Decoder reads primitives from a byte slice.
// The first failure is sticky: later reads return zero values and Err reports it.
type Decoder struct {
	buf []byte
	off int
	err error
}

// NewDecoder returns a decoder over b.
func NewDecoder(b []byte) *Decoder {
	return &Decoder{buf: b}
}

// Err returns the first decode failure.
func (d *Decoder) Err() error {
	return d.err
}

// Remaining returns the number of unread bytes.
func (d *Decoder) Remaining() int {
	return len(d.buf) - d.off
}

func (d *Decoder) take(n int) []byte {
	if d.err != nil {
		return nil
	}
	if n < 0 || d.off+n > len(d.buf) {
		d.err = ErrMalformedRecord
		return nil
	}
	b := d.buf[d.off : d.off+n]
	d.off += n
	return b
}

// U8 reads one byte.
func (d *Decoder) U8() uint8 {
	b := d.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

// U16 reads a uint16.
func (d *Decoder) U16() uint16 {
	b := d.take(2)
	if b == nil {
		return 0
	}
	return le.Uint16(b)
}

// U32 reads a uint32.
func (d *Decoder) U32() uint32 {
	b := d.take(4)
	if b == nil {
		return 0
	}
	return le.Uint32(b)
}

// U64 reads a uint64.
func (d *Decoder) U64() uint64 {
	b := d.take(8)
	if b == nil {
		return 0
	}
	return le.Uint64(b)
}

// I64 reads an int64.
func (d *Decoder) I64() int64 {
	return int64(d.U64())
}

// F64 reads a float64.
func (d *Decoder) F64() float64 {
	return math.Float64frombits(d.U64())
}

// String reads a length prefixed string.
func (d *Decoder) String() string {
	n := d.U16()
	b := d.take(int(n))
	if b == nil {
		return ""
	}
	return string(b)
}

// Bytes reads n raw bytes. The result aliases the decoder's buffer.
func (d *Decoder) Bytes(n int) []byte {
	return d.take(n)
}
