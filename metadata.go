package tapez

import (
	"runtime"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/zoobzio/tapez/tape"
	"go.uber.org/zap"
)

// Metadata describes a span or event definition.
// Register it once and reuse the returned pointer.
//
//nolint:govet // Field order optimized for readability
type Metadata struct {
	Name       string
	Target     string
	ModulePath string
	File       string
	Fields     []string
	Line       uint32
	Level      Level
	Kind       tape.DefinitionKind
	id         uint64
}

// ID returns the tape-local identifier assigned by Register.
// Zero for metadata that was never registered.
func (m *Metadata) ID() uint64 {
	if m == nil {
		return 0
	}
	return m.id
}

// SpanSite returns span metadata for name located at the caller's source line.
func SpanSite(name string) Metadata {
	return site(tape.DefinitionSpan, name)
}

// EventSite returns event metadata for name located at the caller's source line.
func EventSite(name string) Metadata {
	return site(tape.DefinitionEvent, name)
}

func site(kind tape.DefinitionKind, name string) Metadata {
	m := Metadata{Name: name, Kind: kind, Level: LevelInfo}
	if pc, file, line, ok := runtime.Caller(2); ok {
		m.File = file
		m.Line = uint32(line)
		if fn := runtime.FuncForPC(pc); fn != nil {
			m.ModulePath, m.Target = splitFunc(fn.Name())
		}
	}
	return m
}

// splitFunc splits "example.com/pkg.(*T).Method" into the package path and
// the package's last element.
func splitFunc(fn string) (modulePath, target string) {
	slash := strings.LastIndexByte(fn, '/')
	dot := strings.IndexByte(fn[slash+1:], '.')
	if dot < 0 {
		return fn, fn[slash+1:]
	}
	modulePath = fn[:slash+1+dot]
	return modulePath, modulePath[slash+1:]
}

// metadataKey hashes every identifying attribute of a definition.
func metadataKey(m *Metadata) uint64 {
	d := xxhash.New()
	_, _ = d.WriteString(strconv.Itoa(int(m.Kind)))
	for _, s := range []string{m.Name, m.Target, m.ModulePath, m.File, strconv.FormatUint(uint64(m.Line), 10)} {
		_, _ = d.WriteString("\x00")
		_, _ = d.WriteString(s)
	}
	for _, f := range m.Fields {
		_, _ = d.WriteString("\x01")
		_, _ = d.WriteString(f)
	}
	id := d.Sum64()
	if id == 0 {
		id = 1
	}
	return id
}

// Register assigns an ID to the definition and writes it to the tape the first
// time it is seen. Registering an identical definition again returns the
// pointer from the first call.
func (r *Recorder) Register(m Metadata) *Metadata {
	if m.Kind == 0 {
		m.Kind = tape.DefinitionSpan
	}
	m.Fields = append([]string(nil), m.Fields...)
	m.id = metadataKey(&m)

	stored := &m
	if existing, loaded := r.definitions.LoadOrStore(m.id, stored); loaded {
		return existing.(*Metadata)
	}

	rec, err := tape.AppendRecord(nil, tape.Metadata{
		ID:         m.id,
		Kind:       m.Kind,
		Level:      m.Level,
		Line:       m.Line,
		Name:       m.Name,
		Target:     m.Target,
		ModulePath: m.ModulePath,
		File:       m.File,
		Fields:     m.Fields,
	})
	if err != nil {
		r.logger.Warn("definition too large to record", zap.String("name", m.Name), zap.Error(err))
		r.reject()
		return stored
	}
	r.enqueueDefinition(rec)
	return stored
}
