// Package layout decides where each work lives on disk.
//
// Owner folders are named "{name}_{id}". The id part is stable; when an owner
// changes their display name the existing folder is renamed rather than a
// second one created.
package layout

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/text/unicode/norm"

	"pixivsync/pkg/logger"
	"pixivsync/pkg/naming"
	"pixivsync/pkg/storage"
)

// Category roots under a save path.
const (
	IllustRoot = "illusts"
	NovelRoot  = "novels"
)

// Manager resolves and maintains owner folders under category roots.
type Manager struct {
	fs     *storage.FS
	logger logger.Logger

	mu       sync.Mutex
	resolved map[ownerKey]string

	// OnWarning receives non-fatal failures such as a refused rename.
	OnWarning func(error)
}

type ownerKey struct {
	root string
	id   int64
}

// NewManager creates a layout manager over fs.
func NewManager(fs *storage.FS, log logger.Logger) *Manager {
	if log == nil {
		log = logger.GetLogger()
	}
	return &Manager{
		fs:       fs,
		logger:   log,
		resolved: make(map[ownerKey]string),
	}
}

// ParseFolderName splits "{name}_{id}" at the last underscore. The label may
// be empty ("_42"); names without an underscore or with a missing or
// non-numeric id are not owner folders.
func ParseFolderName(name string) (label string, id int64, ok bool) {
	i := strings.LastIndex(name, "_")
	if i < 0 || i == len(name)-1 {
		return "", 0, false
	}
	digits := name[i+1:]
	for _, r := range digits {
		if r < '0' || r > '9' {
			return "", 0, false
		}
	}
	id, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return "", 0, false
	}
	return name[:i], id, true
}

// EnsureOwnerFolder returns the folder for ownerID under root, creating it or
// renaming a stale one to the current display name. If a rename fails the
// existing folder is used and the failure goes to OnWarning.
func (m *Manager) EnsureOwnerFolder(root string, ownerID int64, ownerName string) (string, error) {
	want := naming.Folder(ownerName, strconv.FormatInt(ownerID, 10))
	key := ownerKey{root: root, id: ownerID}

	m.mu.Lock()
	defer m.mu.Unlock()

	if p, ok := m.resolved[key]; ok && sameName(lastSegment(p), want) {
		return p, nil
	}

	infos, err := m.fs.ReadDir(root)
	if err != nil {
		return "", err
	}

	for _, info := range infos {
		if !info.IsDir() {
			continue
		}
		_, id, ok := ParseFolderName(info.Name())
		if !ok || id != ownerID {
			continue
		}

		current := m.fs.Join(root, info.Name())
		m.sweep(current)
		if sameName(info.Name(), want) {
			m.resolved[key] = current
			return current, nil
		}

		target := m.fs.Join(root, want)
		if err := m.fs.Rename(current, target); err != nil {
			m.warn(fmt.Errorf("keeping owner folder %s: %w", current, err))
			// Not cached: the next call retries the rename
			return current, nil
		}

		m.logger.InfoWithFields("Renamed owner folder", map[string]interface{}{
			"owner_id": ownerID,
			"from":     info.Name(),
			"to":       want,
		})
		m.resolved[key] = target
		return target, nil
	}

	target := m.fs.Join(root, want)
	if err := m.fs.MkdirAll(target); err != nil {
		return "", err
	}
	m.resolved[key] = target
	return target, nil
}

// EnsureDir creates p if needed.
func (m *Manager) EnsureDir(p string) error {
	return m.fs.MkdirAll(p)
}

// WorkFolder is the subfolder holding the pages of a multi-page work.
func (m *Manager) WorkFolder(ownerDir, title string, workID int64) string {
	return m.fs.Join(ownerDir, naming.Folder(title, strconv.FormatInt(workID, 10)))
}

// SeriesFolder is the subfolder holding the chapters of a novel series.
func (m *Manager) SeriesFolder(ownerDir, seriesTitle string, seriesID int64) string {
	return m.fs.Join(ownerDir, naming.Folder(seriesTitle, strconv.FormatInt(seriesID, 10)))
}

// sweep drops partial downloads left in dir by an interrupted run.
func (m *Manager) sweep(dir string) {
	removed, err := m.fs.CleanTemp(dir)
	if err != nil {
		m.warn(fmt.Errorf("cleaning %s: %w", dir, err))
		return
	}
	if removed > 0 {
		m.logger.DebugWithFields("Removed partial files", map[string]interface{}{
			"dir":     dir,
			"removed": removed,
		})
	}
}

func (m *Manager) warn(err error) {
	m.logger.WithError(err).Warn("Layout change skipped")
	if m.OnWarning != nil {
		m.OnWarning(err)
	}
}

// sameName compares folder names as the filesystem may return them
// decomposed (macOS) while names from the API are composed.
func sameName(a, b string) bool {
	return a == b || norm.NFC.String(a) == norm.NFC.String(b)
}

func lastSegment(p string) string {
	if i := strings.LastIndex(p, "/"); i >= 0 {
		return p[i+1:]
	}
	return p
}
