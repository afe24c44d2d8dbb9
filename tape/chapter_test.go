package tape

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildChapter(t *testing.T) []byte {
	t.Helper()
	b := NewChapterBuilder(256)

	var batch []byte
	var err error
	batch, err = AppendRecord(batch, ThreadInfo{ThreadID: 7, Name: "main"})
	require.NoError(t, err)
	batch, err = AppendRecord(batch, SpanEnter{SpanID: 1, ThreadID: 7, Timestamp: 10})
	require.NoError(t, err)
	b.Add(batch, 2, 7, 10, 10, true)

	batch, err = AppendRecord(nil, SpanExit{SpanID: 1, ThreadID: 8, Timestamp: 30})
	require.NoError(t, err)
	b.Add(batch, 1, 8, 30, 30, true)

	batch, err = AppendRecord(nil, Metadata{ID: 99, Kind: DefinitionSpan, Name: "m"})
	require.NoError(t, err)
	b.Add(batch, 1, 0, 0, 0, false)

	require.Equal(t, 4, b.Count())
	return b.Seal()
}

func TestChapterRoundTrip(t *testing.T) {
	raw := buildChapter(t)

	c, n, err := ReadChapter(raw)
	require.NoError(t, err)
	assert.Equal(t, len(raw), n)
	assert.Equal(t, []uint64{7, 8}, c.Threads)
	assert.Equal(t, uint32(4), c.Header.Records)
	assert.Equal(t, int64(10), c.Header.MinTimestamp)
	assert.Equal(t, int64(30), c.Header.MaxTimestamp)

	var kinds []Kind
	require.NoError(t, c.Each(func(r Record) error {
		kinds = append(kinds, r.RecordKind())
		return nil
	}))
	assert.Equal(t, []Kind{KindThreadInfo, KindSpanEnter, KindSpanExit, KindMetadata}, kinds)
}

func TestChapterBuilderResetsAfterSeal(t *testing.T) {
	b := NewChapterBuilder(16)
	rec, err := AppendRecord(nil, SpanExit{SpanID: 1, Timestamp: 5})
	require.NoError(t, err)
	b.Add(rec, 1, 3, 5, 5, true)
	first := b.Seal()

	assert.True(t, b.Empty())
	assert.Equal(t, 0, b.Len())

	b.Add(rec, 1, 4, 5, 5, true)
	second := b.Seal()

	c1, _, err := ReadChapter(first)
	require.NoError(t, err)
	c2, _, err := ReadChapter(second)
	require.NoError(t, err)
	assert.Equal(t, []uint64{3}, c1.Threads)
	assert.Equal(t, []uint64{4}, c2.Threads)
}

func TestReadChapterTruncated(t *testing.T) {
	raw := buildChapter(t)

	for _, cut := range []int{2, ChapterHeaderSize - 1, ChapterHeaderSize + 3, len(raw) - 1} {
		_, _, err := ReadChapter(raw[:cut])
		assert.ErrorIs(t, err, ErrShortChapter, "cut at %d", cut)
	}
}

func TestReadChapterCorrupt(t *testing.T) {
	raw := buildChapter(t)

	flipped := append([]byte(nil), raw...)
	flipped[len(flipped)-1] ^= 0xff
	_, _, err := ReadChapter(flipped)
	assert.ErrorIs(t, err, ErrChecksum)

	badMagic := append([]byte(nil), raw...)
	badMagic[0] = 'X'
	_, _, err = ReadChapter(badMagic)
	assert.ErrorIs(t, err, ErrChapterMagic)

	_, _, err = ReadChapter([]byte("XY"))
	assert.ErrorIs(t, err, ErrChapterMagic)

	huge := append([]byte(nil), raw...)
	le.PutUint32(huge[4:], MaxChapterPayload+1)
	_, _, err = ReadChapter(huge)
	assert.ErrorIs(t, err, ErrChapterTooLarge)
}
