package dictionary

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeChunkFile(t *testing.T, dir, name string, words []string, ranks []uint16) string {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, WriteChunk(&buf, words, ranks))
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	return path
}

func collect(d *Dictionary, prefix string) map[string]uint16 {
	out := map[string]uint16{}
	d.Visit(prefix, func(e Entry) bool {
		out[e.Word] = e.Rank
		return true
	})
	return out
}

func TestDetectFileFormat(t *testing.T) {
	assert.Equal(t, FormatChunk, DetectFileFormat("/x/dict_0001.bin"))
	assert.Equal(t, FormatText, DetectFileFormat("words.txt"))
	assert.Equal(t, FormatUnknown, DetectFileFormat("words.bin"))
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	path := writeChunkFile(t, dir, "dict_0001.bin", []string{"the", "then", "there"}, []uint16{1, 40, 12})
	require.NoError(t, os.WriteFile(filepath.Join(dir, "extra.txt"), []byte("# comment\ntheory 300\nthen 2\n\nthermal\n"), 0o644))

	count, err := ChunkWordCount(path)
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	d := New()
	require.NoError(t, d.LoadDir(dir))
	assert.Equal(t, 5, d.Len())
	assert.Len(t, d.Files(), 2)

	got := collect(d, "The")
	assert.Equal(t, map[string]uint16{
		"the":     1,
		"then":    2,
		"there":   12,
		"theory":  300,
		"thermal": 3,
	}, got)
}

func TestLoadDir_Empty(t *testing.T) {
	err := New().LoadDir(t.TempDir())
	require.Error(t, err)
}

func TestLoadFile_Truncated(t *testing.T) {
	dir := t.TempDir()
	var buf bytes.Buffer
	require.NoError(t, WriteChunk(&buf, []string{"alpha", "beta"}, nil))
	data := buf.Bytes()[:buf.Len()-3]
	path := filepath.Join(dir, "dict_0002.bin")
	require.NoError(t, os.WriteFile(path, data, 0o644))

	require.Error(t, New().LoadFile(path))
}

func TestVisitStops(t *testing.T) {
	d := New()
	for _, w := range []string{"aa", "ab", "ac"} {
		d.Add(w, 1)
	}
	n := 0
	d.Visit("a", func(Entry) bool {
		n++
		return n < 2
	})
	assert.Equal(t, 2, n)
}
