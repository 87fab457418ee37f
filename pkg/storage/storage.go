package storage

import (
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-billy/v5/util"

	"pixivsync/pkg/errors"
)

// DefaultChunkSize is the copy buffer used when streaming payloads to disk.
const DefaultChunkSize = 8192

const tempPrefix = ".pixivsync-"

// FS is a filesystem rooted at one save path. Paths are slash separated and
// relative to the root.
type FS struct {
	fs        billy.Filesystem
	chunkSize int
}

// New wraps fsys. A non-positive chunkSize selects DefaultChunkSize.
func New(fsys billy.Filesystem, chunkSize int) *FS {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &FS{fs: fsys, chunkSize: chunkSize}
}

// NewOS roots an FS at a directory on the local disk.
func NewOS(root string, chunkSize int) *FS {
	return New(osfs.New(root), chunkSize)
}

// NewInMemory returns an FS backed by memory, for tests and dry runs.
func NewInMemory() *FS {
	return New(memfs.New(), DefaultChunkSize)
}

// Root returns the root directory of the underlying filesystem.
func (s *FS) Root() string {
	return s.fs.Root()
}

// Join joins path elements with forward slashes.
func (s *FS) Join(elem ...string) string {
	return path.Join(elem...)
}

// Exists reports whether p exists.
func (s *FS) Exists(p string) (bool, error) {
	_, err := s.fs.Stat(p)
	switch {
	case err == nil:
		return true, nil
	case os.IsNotExist(err):
		return false, nil
	default:
		return false, errors.IO("stat "+p, err)
	}
}

// MkdirAll creates p and any missing parents.
func (s *FS) MkdirAll(p string) error {
	if err := s.fs.MkdirAll(p, 0755); err != nil {
		return errors.IO("mkdir "+p, err)
	}
	return nil
}

// ReadDir lists p. A missing directory lists as empty.
func (s *FS) ReadDir(p string) ([]os.FileInfo, error) {
	infos, err := s.fs.ReadDir(p)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.IO("readdir "+p, err)
	}
	return infos, nil
}

// ReadFile returns the contents of p.
func (s *FS) ReadFile(p string) ([]byte, error) {
	data, err := util.ReadFile(s.fs, p)
	if err != nil {
		return nil, errors.IO("read "+p, err)
	}
	return data, nil
}

// Rename moves from to to. It refuses to replace an existing target.
func (s *FS) Rename(from, to string) error {
	exists, err := s.Exists(to)
	if err != nil {
		return err
	}
	if exists {
		return errors.IO("rename "+from, fmt.Errorf("target %s already exists", to))
	}
	if err := s.fs.Rename(from, to); err != nil {
		return errors.IO("rename "+from, err)
	}
	return nil
}

type syncer interface {
	Sync() error
}

// WriteAtomic streams r into p through a temporary file in p's directory.
// On any failure the temporary file is removed and p is left untouched.
func (s *FS) WriteAtomic(p string, r io.Reader) (int64, error) {
	dir := path.Dir(p)
	if err := s.MkdirAll(dir); err != nil {
		return 0, err
	}

	tmp, err := s.fs.TempFile(dir, tempPrefix)
	if err != nil {
		return 0, errors.IO("create temp file for "+p, err)
	}
	tmpName := tmp.Name()

	n, err := io.CopyBuffer(tmp, r, make([]byte, s.chunkSize))
	if err == nil {
		if f, ok := tmp.(syncer); ok {
			err = f.Sync()
		}
	}
	closeErr := tmp.Close()

	if err != nil {
		_ = s.fs.Remove(tmpName)
		return n, errors.IO("write "+p, err)
	}
	if closeErr != nil {
		_ = s.fs.Remove(tmpName)
		return n, errors.IO("close "+p, closeErr)
	}

	if err := s.fs.Rename(tmpName, p); err != nil {
		_ = s.fs.Remove(tmpName)
		return n, errors.IO("rename into "+p, err)
	}

	return n, nil
}

// SetModTime sets the access and modification time of p.
func (s *FS) SetModTime(p string, t time.Time) error {
	if ch, ok := s.fs.(billy.Change); ok {
		if err := ch.Chtimes(p, t, t); err != nil {
			return errors.IO("chtimes "+p, err)
		}
		return nil
	}

	// osfs chroots do not expose billy.Change; go through the real path
	full := filepath.Join(s.fs.Root(), filepath.FromSlash(p))
	if err := os.Chtimes(full, t, t); err != nil {
		return errors.IO("chtimes "+p, err)
	}
	return nil
}

// CleanTemp removes temporary files left in dir by interrupted writes.
func (s *FS) CleanTemp(dir string) (int, error) {
	infos, err := s.ReadDir(dir)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, info := range infos {
		if info.IsDir() || len(info.Name()) < len(tempPrefix) || info.Name()[:len(tempPrefix)] != tempPrefix {
			continue
		}
		if err := s.fs.Remove(s.Join(dir, info.Name())); err != nil {
			return removed, errors.IO("remove temp file", err)
		}
		removed++
	}
	return removed, nil
}
