package storage

import (
	"bytes"
	stderrors "errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pixivsync/pkg/errors"
)

func TestWriteAtomicCreatesParents(t *testing.T) {
	root := t.TempDir()
	fs := NewOS(root, 4)

	n, err := fs.WriteAtomic("illusts/Alice_42/sunset_1_p0.png", strings.NewReader("pixel data"))
	require.NoError(t, err)
	assert.Equal(t, int64(10), n)

	data, err := os.ReadFile(filepath.Join(root, "illusts", "Alice_42", "sunset_1_p0.png"))
	require.NoError(t, err)
	assert.Equal(t, "pixel data", string(data))

	infos, err := fs.ReadDir("illusts/Alice_42")
	require.NoError(t, err)
	assert.Len(t, infos, 1, "no temp file is left behind")
}

type failingReader struct{ after int }

func (r *failingReader) Read(p []byte) (int, error) {
	if r.after <= 0 {
		return 0, stderrors.New("connection reset")
	}
	n := copy(p, bytes.Repeat([]byte("x"), r.after))
	r.after -= n
	return n, nil
}

func TestWriteAtomicFailureLeavesNothing(t *testing.T) {
	fs := NewOS(t.TempDir(), 8)

	_, err := fs.WriteAtomic("novels/a.txt", &failingReader{after: 20})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrorTypeIO))

	exists, err := fs.Exists("novels/a.txt")
	require.NoError(t, err)
	assert.False(t, exists)

	infos, err := fs.ReadDir("novels")
	require.NoError(t, err)
	assert.Empty(t, infos)
}

func TestWriteAtomicReplacesExisting(t *testing.T) {
	fs := NewOS(t.TempDir(), 0)

	_, err := fs.WriteAtomic("cover.jpg", strings.NewReader("old"))
	require.NoError(t, err)
	_, err = fs.WriteAtomic("cover.jpg", strings.NewReader("new"))
	require.NoError(t, err)

	data, err := fs.ReadFile("cover.jpg")
	require.NoError(t, err)
	assert.Equal(t, "new", string(data))
}

func TestRenameRefusesExistingTarget(t *testing.T) {
	fs := NewOS(t.TempDir(), 0)
	require.NoError(t, fs.MkdirAll("old_1"))
	require.NoError(t, fs.MkdirAll("new_1"))

	err := fs.Rename("old_1", "new_1")
	require.Error(t, err)

	exists, _ := fs.Exists("old_1")
	assert.True(t, exists)

	require.NoError(t, fs.Rename("old_1", "newer_1"))
	exists, _ = fs.Exists("newer_1")
	assert.True(t, exists)
}

func TestReadDirMissingIsEmpty(t *testing.T) {
	fs := NewOS(t.TempDir(), 0)
	infos, err := fs.ReadDir("does/not/exist")
	require.NoError(t, err)
	assert.Empty(t, infos)
}

func TestSetModTime(t *testing.T) {
	root := t.TempDir()
	fs := NewOS(root, 0)
	_, err := fs.WriteAtomic("a/b.png", io.LimitReader(strings.NewReader("abc"), 3))
	require.NoError(t, err)

	when := time.Date(2021, 5, 4, 3, 2, 1, 0, time.UTC)
	require.NoError(t, fs.SetModTime("a/b.png", when))

	info, err := os.Stat(filepath.Join(root, "a", "b.png"))
	require.NoError(t, err)
	assert.True(t, info.ModTime().Equal(when))
}

func TestSetModTimeMissingFile(t *testing.T) {
	fs := NewOS(t.TempDir(), 0)
	err := fs.SetModTime("missing.png", time.Now())
	assert.True(t, errors.Is(err, errors.ErrorTypeIO))
}

func TestCleanTemp(t *testing.T) {
	root := t.TempDir()
	fs := NewOS(root, 0)
	require.NoError(t, fs.MkdirAll("d"))
	require.NoError(t, os.WriteFile(filepath.Join(root, "d", tempPrefix+"123"), []byte("partial"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "d", "keep.txt"), []byte("ok"), 0644))

	removed, err := fs.CleanTemp("d")
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	infos, _ := fs.ReadDir("d")
	require.Len(t, infos, 1)
	assert.Equal(t, "keep.txt", infos[0].Name())
}

func TestInMemoryRoundTrip(t *testing.T) {
	fs := NewInMemory()

	_, err := fs.WriteAtomic("novels/x/1. first.txt", strings.NewReader("line\n"))
	require.NoError(t, err)

	exists, err := fs.Exists("novels/x/1. first.txt")
	require.NoError(t, err)
	assert.True(t, exists)
}
