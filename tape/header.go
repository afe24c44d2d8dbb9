package tape

import (
	"bytes"
	"fmt"

	"github.com/google/uuid"
)

// Magic identifies a tape file.
var Magic = [8]byte{'T', 'A', 'P', 'E', 'F', 'I', 'L', 'E'}

// HeaderSize is the encoded size of a Header.
const HeaderSize = 8 + 2 + 6 + 8 + 16

// Version is the major.minor version of the tape layout.
type Version struct {
	Major uint8
	Minor uint8
}

// CurrentVersion is the version written by this package.
var CurrentVersion = Version{Major: 1, Minor: 0}

// Compatible reports whether a reader of version v can decode a tape of version other.
func (v Version) Compatible(other Version) bool {
	return v.Major == other.Major
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d", v.Major, v.Minor)
}

// Header is the introduction written once at the start of a tape.
type Header struct {
	Version Version
	// TimestampBase is the wall clock time, in unix nanoseconds, that record
	// timestamps are relative to.
	TimestampBase int64
	SessionID     uuid.UUID
}

// NewHeader returns a header for the current version with a fresh session id.
func NewHeader(base int64) Header {
	return Header{
		Version:       CurrentVersion,
		TimestampBase: base,
		SessionID:     uuid.New(),
	}
}

// Append appends the encoded header to dst.
func (h Header) Append(dst []byte) []byte {
	dst = append(dst, Magic[:]...)
	dst = AppendU8(dst, h.Version.Major)
	dst = AppendU8(dst, h.Version.Minor)
	dst = append(dst, 0, 0, 0, 0, 0, 0)
	dst = AppendI64(dst, h.TimestampBase)
	return append(dst, h.SessionID[:]...)
}

// ParseHeader decodes a header from the start of b.
// It does not check version compatibility.
func ParseHeader(b []byte) (Header, error) {
	if len(b) < HeaderSize {
		if len(b) >= len(Magic) && !bytes.Equal(b[:len(Magic)], Magic[:]) {
			return Header{}, ErrBadMagic
		}
		return Header{}, ErrShortHeader
	}
	if !bytes.Equal(b[:len(Magic)], Magic[:]) {
		return Header{}, ErrBadMagic
	}

	d := NewDecoder(b[len(Magic):HeaderSize])
	var h Header
	h.Version.Major = d.U8()
	h.Version.Minor = d.U8()
	d.Bytes(6)
	h.TimestampBase = d.I64()
	copy(h.SessionID[:], d.Bytes(16))
	return h, d.Err()
}
