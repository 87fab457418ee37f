package layout

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pixivsync/pkg/logger"
	"pixivsync/pkg/storage"
)

func newTestManager(t *testing.T) (*Manager, string) {
	t.Helper()
	root := t.TempDir()
	return NewManager(storage.NewOS(root, 0), logger.NewNopLogger()), root
}

func folderNames(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestParseFolderName(t *testing.T) {
	tests := []struct {
		in    string
		label string
		id    int64
		ok    bool
	}{
		{"Alice_42", "Alice", 42, true},
		{"snake_case_name_7", "snake_case_name", 7, true},
		{"noid", "", 0, false},
		{"Alice_", "", 0, false},
		{"_42", "", 42, true},
		{"Alice_4x2", "", 0, false},
		{"Alice_-1", "", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			label, id, ok := ParseFolderName(tt.in)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.label, label)
			assert.Equal(t, tt.id, id)
		})
	}
}

func TestEnsureOwnerFolderCreates(t *testing.T) {
	m, root := newTestManager(t)

	p, err := m.EnsureOwnerFolder(IllustRoot, 42, "Alice/B")
	require.NoError(t, err)
	assert.Equal(t, "illusts/Alice／B_42", p)

	info, err := os.Stat(filepath.Join(root, "illusts", "Alice／B_42"))
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestEnsureOwnerFolderRenamesOnNameChange(t *testing.T) {
	m, root := newTestManager(t)
	require.NoError(t, os.MkdirAll(filepath.Join(root, "illusts", "Alice_42"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "illusts", "Alice_42", "a.png"), []byte("x"), 0644))

	p, err := m.EnsureOwnerFolder(IllustRoot, 42, "Alicia")
	require.NoError(t, err)
	assert.Equal(t, "illusts/Alicia_42", p)

	_, err = os.Stat(filepath.Join(root, "illusts", "Alice_42"))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(root, "illusts", "Alicia_42", "a.png"))
	assert.NoError(t, err, "contents move with the folder")

	entries, err := os.ReadDir(filepath.Join(root, "illusts"))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "exactly one folder per owner id")
}

func TestEnsureOwnerFolderIgnoresOtherFolders(t *testing.T) {
	m, root := newTestManager(t)
	for _, name := range []string{"Bob_7", "notes", "Carol_x", "Dave_420"} {
		require.NoError(t, os.MkdirAll(filepath.Join(root, "illusts", name), 0755))
	}

	p, err := m.EnsureOwnerFolder(IllustRoot, 42, "Alice")
	require.NoError(t, err)
	assert.Equal(t, "illusts/Alice_42", p)

	entries, err := os.ReadDir(filepath.Join(root, "illusts"))
	require.NoError(t, err)
	assert.Len(t, entries, 5)
}

func TestEnsureOwnerFolderRenameFailureIsNotFatal(t *testing.T) {
	root := t.TempDir()
	log := logger.NewTestLogger()
	m := NewManager(storage.NewOS(root, 0), log)
	require.NoError(t, os.MkdirAll(filepath.Join(root, "illusts", "Old_5"), 0755))
	// a stray file occupies the rename target
	require.NoError(t, os.WriteFile(filepath.Join(root, "illusts", "Taken_5"), []byte("not a folder"), 0644))

	var warnings []error
	m.OnWarning = func(err error) { warnings = append(warnings, err) }

	p, err := m.EnsureOwnerFolder(IllustRoot, 5, "Taken")
	require.NoError(t, err)
	assert.Equal(t, "illusts/Old_5", p, "old folder kept when rename target exists")
	require.Len(t, warnings, 1)

	_, err = os.Stat(filepath.Join(root, "illusts", "Old_5"))
	assert.NoError(t, err)

	entry, ok := log.Find("Layout change skipped")
	require.True(t, ok)
	assert.Equal(t, "warn", entry.Level)
	assert.ErrorIs(t, entry.Err, warnings[0])
}

func TestEnsureOwnerFolderBlankName(t *testing.T) {
	m, root := newTestManager(t)

	p, err := m.EnsureOwnerFolder(IllustRoot, 42, "")
	require.NoError(t, err)
	assert.Equal(t, "illusts/untitled_42", p)

	p, err = m.EnsureOwnerFolder(IllustRoot, 42, "Bob")
	require.NoError(t, err)
	assert.Equal(t, "illusts/Bob_42", p)
	assert.Equal(t, []string{"Bob_42"}, folderNames(t, filepath.Join(root, "illusts")))
}

func TestEnsureOwnerFolderAdoptsUnlabeledFolder(t *testing.T) {
	m, root := newTestManager(t)
	require.NoError(t, os.MkdirAll(filepath.Join(root, "illusts", "_42"), 0755))

	p, err := m.EnsureOwnerFolder(IllustRoot, 42, "Bob")
	require.NoError(t, err)
	assert.Equal(t, "illusts/Bob_42", p)
	assert.Equal(t, []string{"Bob_42"}, folderNames(t, filepath.Join(root, "illusts")))
}

func TestEnsureOwnerFolderCachesResolution(t *testing.T) {
	m, root := newTestManager(t)

	p1, err := m.EnsureOwnerFolder(IllustRoot, 1, "Eve")
	require.NoError(t, err)
	p2, err := m.EnsureOwnerFolder(IllustRoot, 1, "Eve")
	require.NoError(t, err)
	assert.Equal(t, p1, p2)

	p3, err := m.EnsureOwnerFolder(IllustRoot, 1, "Eva")
	require.NoError(t, err)
	assert.Equal(t, "illusts/Eva_1", p3)
	_, err = os.Stat(filepath.Join(root, "illusts", "Eve_1"))
	assert.True(t, os.IsNotExist(err))
}

func TestSubfolders(t *testing.T) {
	m, _ := newTestManager(t)
	assert.Equal(t, "illusts/Alice_42/Sunset_1001", m.WorkFolder("illusts/Alice_42", "Sunset", 1001))
	assert.Equal(t, "novels/Alice_42/Saga：One_77", m.SeriesFolder("novels/Alice_42", "Saga:One", 77))
}

func TestEnsureOwnerFolderRemovesPartialFiles(t *testing.T) {
	m, root := newTestManager(t)
	dir := filepath.Join(root, "novels", "Alice_42")
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".pixivsync-123"), []byte("partial"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "done.txt"), []byte("ok"), 0644))

	_, err := m.EnsureOwnerFolder(NovelRoot, 42, "Alice")
	require.NoError(t, err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "done.txt", entries[0].Name())
}
