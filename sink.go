package tapez

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/zoobzio/clockz"
)

// DefaultPath returns the default tape file name for a recording started at t:
// "<exe>_<YYYY-MM-DD_Mon_HH-MM-SS>.tape".
func DefaultPath(t time.Time) string {
	exe := "tapez"
	if p, err := os.Executable(); err == nil {
		base := filepath.Base(p)
		exe = strings.TrimSuffix(base, filepath.Ext(base))
	}
	return exe + "_" + t.Format("2006-01-02_Mon_15-04-05") + ".tape"
}

// Create opens DefaultPath in the working directory and returns a recorder
// writing to it. An existing file is never overwritten.
func Create(opts ...Option) (*Recorder, error) {
	cfg := &Recorder{clock: clockz.RealClock}
	for _, opt := range opts {
		opt(cfg)
	}
	f, err := OpenFile(DefaultPath(cfg.clock.Now()), false)
	if err != nil {
		return nil, err
	}
	r, err := New(f, opts...)
	if err != nil {
		return nil, errors.Join(err, f.Close())
	}
	return r, nil
}

// OpenFile creates a new tape file at path, optionally zstd compressed.
func OpenFile(path string, compress bool) (io.WriteCloser, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, fmt.Errorf("tapez: create tape: %w", err)
	}
	if !compress {
		return f, nil
	}
	zs, err := NewZstdSink(f)
	if err != nil {
		return nil, errors.Join(err, f.Close())
	}
	return zs, nil
}

type zstdSink struct {
	enc *zstd.Encoder
	dst io.WriteCloser
}

// NewZstdSink compresses everything written to dst. Each write is flushed as a
// complete zstd block so that a truncated file still decodes up to the last
// written chapter.
func NewZstdSink(dst io.WriteCloser) (io.WriteCloser, error) {
	enc, err := zstd.NewWriter(dst, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		return nil, fmt.Errorf("tapez: zstd encoder: %w", err)
	}
	return &zstdSink{enc: enc, dst: dst}, nil
}

func (s *zstdSink) Write(p []byte) (int, error) {
	n, err := s.enc.Write(p)
	if err != nil {
		return n, err
	}
	return n, s.enc.Flush()
}

func (s *zstdSink) Close() error {
	return errors.Join(s.enc.Close(), s.dst.Close())
}

// MemorySink is an in-memory sink. Safe for concurrent use.
type MemorySink struct {
	buf    bytes.Buffer
	mu     sync.Mutex
	closed bool
}

// Write appends p.
func (m *MemorySink) Write(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, os.ErrClosed
	}
	return m.buf.Write(p)
}

// Close marks the sink closed. Later writes fail.
func (m *MemorySink) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Closed reports whether Close was called.
func (m *MemorySink) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Bytes returns a copy of everything written so far.
func (m *MemorySink) Bytes() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return bytes.Clone(m.buf.Bytes())
}
