// Package tape defines the tape binary format shared by the recorder and the parser.
//
// A tape is a fixed 40 byte header followed by a sequence of chapters:
//
//	header  := magic("TAPEFILE") major:u8 minor:u8 reserved[6] base:i64 session[16]
//	chapter := magic("CHPT") len:u32 records:u32 threads:u32 min:i64 max:i64 sum:u64 payload
//	payload := thread:u64 * threads, record *
//	record  := kind:u8 len:u16 body[len]
//
// All integers are little endian. Strings are prefixed with a u16 length.
//
// Versioning:.
//
// Readers accept every minor version of their major version. Record kinds a
// reader does not know are skipped by length, and trailing bytes inside a
// known record are ignored, so a newer minor version may add kinds or append
// fields to existing records. A change to the layout of existing fields bumps
// the major version.
//
// Timestamps are nanoseconds relative to the header's timestamp base.
package tape
