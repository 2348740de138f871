package engine

import (
	"path"
	"sort"
	"time"
)

// FileRecord is one regular file observed under a watched root.
type FileRecord struct {
	Name    string    // base name
	Path    string    // absolute path, the record's identity
	Dir     string    // slash-separated directory relative to the root, "" at the root
	ModTime time.Time // compared strictly: equal times are not a change
	Size    int64
}

// RelPath returns the slash-separated path relative to the watched root.
func (r FileRecord) RelPath() string {
	return path.Join(r.Dir, r.Name)
}

// Snapshot maps each watched root to the files observed in one scan, sorted
// by path.
type Snapshot map[string][]FileRecord

// index returns root's records keyed by path.
func (s Snapshot) index(root string) map[string]FileRecord {
	recs := s[root]
	m := make(map[string]FileRecord, len(recs))
	for _, r := range recs {
		m[r.Path] = r
	}
	return m
}

func sortRecords(recs []FileRecord) {
	sort.Slice(recs, func(i, j int) bool { return recs[i].Path < recs[j].Path })
}

// UploadTask is a queued file awaiting upload.
type UploadTask struct {
	Root   string
	Record FileRecord
	Queued time.Time
}
