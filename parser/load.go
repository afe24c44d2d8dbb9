package parser

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"

	"github.com/klauspost/compress/zstd"
	"github.com/zoobzio/tapez/tape"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var zstdMagic = []byte{0x28, 0xB5, 0x2F, 0xFD}

type config struct {
	logger      *zap.Logger
	parallelism int
}

// Option configures a load.
type Option func(*config)

// WithLogger sets the logger for load diagnostics.
func WithLogger(logger *zap.Logger) Option {
	return func(c *config) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithParallelism bounds the number of chapters decoded at once.
// Values below 1 mean GOMAXPROCS.
func WithParallelism(n int) Option {
	return func(c *config) {
		c.parallelism = n
	}
}

func newConfig(opts []Option) config {
	c := config{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&c)
	}
	if c.parallelism < 1 {
		c.parallelism = runtime.GOMAXPROCS(0)
	}
	return c
}

// Load reads a complete tape from r.
func Load(ctx context.Context, r io.Reader, opts ...Option) (*Model, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("parser: read tape: %w", err)
	}
	return LoadBytes(ctx, data, opts...)
}

// LoadBytes decodes a tape held in memory. The model does not retain data.
func LoadBytes(ctx context.Context, data []byte, opts ...Option) (*Model, error) {
	return load(ctx, data, newConfig(opts), nil)
}

// LoadFile decodes the tape at path. zstd compressed tapes are detected and
// decompressed; a damaged compressed stream keeps the prefix that decoded.
func LoadFile(ctx context.Context, path string, opts ...Option) (*Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("parser: read tape: %w", err)
	}
	cfg := newConfig(opts)
	if !bytes.HasPrefix(data, zstdMagic) {
		return load(ctx, data, cfg, nil)
	}

	raw, zerr := decompress(data)
	var pre []Warning
	if zerr != nil {
		if len(raw) < tape.HeaderSize {
			return nil, &FormatError{Err: fmt.Errorf("zstd: %w", zerr)}
		}
		cfg.logger.Warn("compressed tape is damaged, keeping decoded prefix",
			zap.String("path", path),
			zap.Int("decoded", len(raw)),
			zap.Error(zerr))
		pre = append(pre, Warning{
			Kind:    WarningTruncatedTail,
			Chapter: -1,
			Err:     &TruncatedTailError{Chapter: -1, Offset: int64(len(raw)), Err: zerr},
		})
	}
	return load(ctx, raw, cfg, pre)
}

// decompress returns everything the decoder produced before any error.
func decompress(data []byte) ([]byte, error) {
	dec, err := zstd.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer dec.Close()

	var out bytes.Buffer
	_, err = io.Copy(&out, dec)
	return out.Bytes(), err
}

type frame struct {
	chapter tape.Chapter
	offset  int64
	size    int
}

type decoded struct {
	record tape.Record
	offset int
}

func load(ctx context.Context, data []byte, cfg config, pre []Warning) (*Model, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	hdr, err := tape.ParseHeader(data)
	if err != nil {
		return nil, &FormatError{Err: err}
	}
	if !tape.CurrentVersion.Compatible(hdr.Version) {
		return nil, &FormatError{Version: hdr.Version}
	}

	frames, tail, err := scan(ctx, data)
	if err != nil {
		return nil, err
	}

	chapters, err := decodeChapters(ctx, frames, cfg.parallelism)
	if err != nil {
		return nil, err
	}

	b := newBuilder(hdr, cfg.logger)
	b.warnings = append(b.warnings, pre...)
	if tail != nil {
		cfg.logger.Warn("dropped truncated final chapter",
			zap.Int("chapter", tail.Chapter),
			zap.Int64("offset", tail.Offset),
			zap.Error(tail.Err))
		b.warn(Warning{Kind: WarningTruncatedTail, Chapter: tail.Chapter, Err: tail})
	}
	for i, f := range frames {
		b.chapter(i, f, chapters[i])
	}
	m := b.finish()
	cfg.logger.Debug("tape loaded",
		zap.Int("chapters", len(m.chapters)),
		zap.Int("threads", len(m.threads)),
		zap.Int("spans", len(m.spans)),
		zap.Int("events", len(m.events)),
		zap.Int("warnings", len(m.warnings)))
	return m, nil
}

// scan frames every chapter after the header. An invalid chapter that reaches
// the end of the data is the truncated tail; any other invalid chapter is fatal.
func scan(ctx context.Context, data []byte) ([]frame, *TruncatedTailError, error) {
	var frames []frame
	off := tape.HeaderSize
	for index := 0; off < len(data); index++ {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		rest := data[off:]
		ch, n, err := tape.ReadChapter(rest)
		if err == nil {
			frames = append(frames, frame{chapter: ch, offset: int64(off), size: n})
			off += n
			continue
		}
		if reachesEnd(rest, err) {
			return frames, &TruncatedTailError{Chapter: index, Offset: int64(off), Err: err}, nil
		}
		return nil, nil, &CorruptChapterError{Chapter: index, Offset: int64(off), Err: err}
	}
	return frames, nil, nil
}

// reachesEnd reports whether the invalid chapter at the start of rest could be
// the last one written, meaning nothing valid can follow it. A length prefix
// running past the end of the data is only a cut-off tail when no valid
// chapter appears in the bytes after the header.
func reachesEnd(rest []byte, err error) bool {
	switch {
	case len(rest) < tape.ChapterHeaderSize:
		return true
	case errors.Is(err, tape.ErrChapterMagic):
		return false
	}
	payload := int64(tape.NewDecoder(rest[len(tape.ChapterMagic):]).U32())
	if int64(tape.ChapterHeaderSize)+payload < int64(len(rest)) {
		return false
	}
	return !chapterFollows(rest[tape.ChapterHeaderSize:])
}

// chapterFollows reports whether b contains a complete valid chapter.
func chapterFollows(b []byte) bool {
	for off := 0; off < len(b); off++ {
		i := bytes.Index(b[off:], tape.ChapterMagic[:])
		if i < 0 {
			return false
		}
		off += i
		if _, _, err := tape.ReadChapter(b[off:]); err == nil {
			return true
		}
	}
	return false
}

// decodeChapters decodes every chapter's records, in parallel, preserving order.
func decodeChapters(ctx context.Context, frames []frame, parallelism int) ([][]decoded, error) {
	out := make([][]decoded, len(frames))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallelism)
	for i := range frames {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			records, err := decodeRecords(frames[i].chapter)
			if err != nil {
				return &CorruptChapterError{Chapter: i, Offset: frames[i].offset, Err: err}
			}
			out[i] = records
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func decodeRecords(ch tape.Chapter) ([]decoded, error) {
	b := ch.Records
	records := make([]decoded, 0, min(int(ch.Header.Records), len(b)/tape.RecordHeaderSize))
	off := 0
	for off < len(b) {
		r, n, err := tape.DecodeRecord(b[off:])
		if err != nil {
			return nil, fmt.Errorf("record at offset %d: %w", off, err)
		}
		records = append(records, decoded{record: r, offset: off})
		off += n
	}
	return records, nil
}
