package progress

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/schollz/progressbar/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrackCompletes(t *testing.T) {
	p := NewWithOutput(io.Discard)
	observe := p.Track(func() string { return "a.bin" })

	observe(0, 4)
	bar := p.Bar()
	require.NotNil(t, bar)

	observe(2, 4)
	assert.Equal(t, int64(2), bar.Current())

	observe(4, 4)
	p.Wait()

	assert.True(t, bar.Completed())
	assert.False(t, bar.Aborted())
}

func TestTrackNewFile(t *testing.T) {
	p := NewWithOutput(io.Discard)
	observe := p.Track(func() string { return "file" })

	observe(0, 10)
	first := p.Bar()
	observe(3, 10)

	// abandoned, then a different file starts
	observe(0, 0)
	assert.Nil(t, p.Bar())
	assert.True(t, first.Aborted())

	observe(0, 2)
	second := p.Bar()
	require.NotNil(t, second)
	assert.NotSame(t, first, second)

	observe(2, 2)
	p.Wait()
	assert.True(t, second.Completed())
}

func TestWaitAbortsOpenBar(t *testing.T) {
	p := NewWithOutput(io.Discard)
	observe := p.Track(func() string { return "file" })
	observe(1, 5)
	bar := p.Bar()

	p.Wait()

	assert.True(t, bar.Aborted())
	assert.Nil(t, p.Bar())
}

func TestLoader(t *testing.T) {
	data := bytes.Repeat([]byte("teleport"), 4096)
	path := filepath.Join(t.TempDir(), "data.bin")
	require.NoError(t, os.WriteFile(path, data, 0644))

	var out bytes.Buffer
	var desc string
	load := Loader(func(maxBytes int64, d string) *progressbar.ProgressBar {
		desc = d
		assert.Equal(t, int64(len(data)), maxBytes)
		return NewByteBar(&out, maxBytes, d)
	})

	got, err := load(path)
	require.NoError(t, err)
	assert.Equal(t, data, got)
	assert.Equal(t, "loading data.bin", desc)
	assert.NotEmpty(t, out.String())
}

func TestLoaderMissingFile(t *testing.T) {
	load := Loader(func(maxBytes int64, d string) *progressbar.ProgressBar {
		t.Fatal("no bar for a missing file")
		return nil
	})

	_, err := load(filepath.Join(t.TempDir(), "missing"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoaderRejectsOversizedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "huge.img")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, f.Truncate(MaxLoadSize+1))
	require.NoError(t, f.Close())

	load := Loader(func(maxBytes int64, d string) *progressbar.ProgressBar {
		t.Fatal("no bar for an oversized file")
		return nil
	})

	got, err := load(path)
	assert.ErrorIs(t, err, ErrTooLarge)
	assert.Nil(t, got)
}
