// Package models holds the domain records the sync engine works with. They are
// produced from raw API records by the syncer and carry only what the layout,
// fetch and ledger steps need.
package models

import "time"

// Work types for illustrations.
const (
	TypeIllust = "illust"
	TypeManga  = "manga"
)

// Owner is a creator whose works are mirrored.
type Owner struct {
	ID   int64
	Name string
}

// Illustration is a single- or multi-page image work. Manga uses the same
// record with Type set to TypeManga.
type Illustration struct {
	ID        int64
	Title     string
	Type      string
	OwnerID   int64
	OwnerName string
	CreatedAt time.Time
	PageURLs  []string
}

// MultiPage reports whether the pages go into their own subfolder.
func (i Illustration) MultiPage() bool {
	return len(i.PageURLs) > 1
}

// SingleNovel is a novel that belongs to no series.
type SingleNovel struct {
	ID        int64
	Title     string
	OwnerID   int64
	OwnerName string
	CreatedAt time.Time
}

// Series is a novel series discovered while walking an owner's novels.
type Series struct {
	ID        int64
	Title     string
	OwnerID   int64
	OwnerName string
	CoverURL  string
}

// SeriesChapter is one novel of a series. Sequence is the 1-based position in
// which the chapter was visited.
type SeriesChapter struct {
	ID          int64
	Title       string
	OwnerID     int64
	OwnerName   string
	SeriesID    int64
	SeriesTitle string
	CoverURL    string
	Sequence    int
	CreatedAt   time.Time
}
