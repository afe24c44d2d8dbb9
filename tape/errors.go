package tape

import "errors"

var (
	// ErrShortHeader means fewer bytes than a header were available.
	ErrShortHeader = errors.New("tape: short header")
	// ErrBadMagic means the input is not a tape.
	ErrBadMagic = errors.New("tape: bad magic")
	// ErrMalformedRecord means a record body was shorter than its kind requires.
	ErrMalformedRecord = errors.New("tape: malformed record")
	// ErrRecordTooLarge means an encoded record does not fit the u16 length prefix.
	ErrRecordTooLarge = errors.New("tape: record too large")
	// ErrShortChapter means the input ended inside a chapter.
	ErrShortChapter = errors.New("tape: short chapter")
	// ErrChapterMagic means a chapter did not start with the chapter magic.
	ErrChapterMagic = errors.New("tape: bad chapter magic")
	// ErrChapterTooLarge means a chapter declared a payload above MaxChapterPayload.
	ErrChapterTooLarge = errors.New("tape: chapter too large")
	// ErrChecksum means the chapter payload does not match its checksum.
	ErrChecksum = errors.New("tape: chapter checksum mismatch")
)
