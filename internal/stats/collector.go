// Package stats keeps running totals for a client session. The engine logs a
// Snapshot after every drain and when it stops.
package stats

import (
	"fmt"
	"sync/atomic"
	"time"
)

// Collector tracks client activity using lock-free atomic counters.
type Collector struct {
	cycles        atomic.Int64
	filesScanned  atomic.Int64
	filesQueued   atomic.Int64
	filesRejected atomic.Int64
	filesUploaded atomic.Int64
	filesFailed   atomic.Int64
	bytesUploaded atomic.Int64
	startTime     time.Time
}

// NewCollector creates a Collector with startTime set to now.
func NewCollector() *Collector {
	return &Collector{startTime: time.Now()}
}

// Snapshot is a point-in-time read of all counters.
type Snapshot struct {
	Cycles        int64
	FilesScanned  int64
	FilesQueued   int64
	FilesRejected int64
	FilesUploaded int64
	FilesFailed   int64
	BytesUploaded int64
	Elapsed       time.Duration
}

func (c *Collector) AddCycle()               { c.cycles.Add(1) }
func (c *Collector) AddFilesScanned(n int64)  { c.filesScanned.Add(n) }
func (c *Collector) AddFilesQueued(n int64)   { c.filesQueued.Add(n) }
func (c *Collector) AddFilesRejected(n int64) { c.filesRejected.Add(n) }
func (c *Collector) AddFilesFailed(n int64)   { c.filesFailed.Add(n) }

// AddUpload records one successful upload of n bytes.
func (c *Collector) AddUpload(n int64) {
	c.filesUploaded.Add(1)
	c.bytesUploaded.Add(n)
}

// Snapshot returns a point-in-time read of all counters.
func (c *Collector) Snapshot() Snapshot {
	return Snapshot{
		Cycles:        c.cycles.Load(),
		FilesScanned:  c.filesScanned.Load(),
		FilesQueued:   c.filesQueued.Load(),
		FilesRejected: c.filesRejected.Load(),
		FilesUploaded: c.filesUploaded.Load(),
		FilesFailed:   c.filesFailed.Load(),
		BytesUploaded: c.bytesUploaded.Load(),
		Elapsed:       c.Elapsed(),
	}
}

// Elapsed returns time since collector creation.
func (c *Collector) Elapsed() time.Duration {
	return time.Since(c.startTime)
}

func (s Snapshot) String() string {
	return fmt.Sprintf(
		"cycles=%d scanned=%d queued=%d rejected=%d uploaded=%d failed=%d bytes=%s",
		s.Cycles, s.FilesScanned, s.FilesQueued, s.FilesRejected,
		s.FilesUploaded, s.FilesFailed, FormatBytes(s.BytesUploaded),
	)
}

// FormatBytes returns a human-readable byte count.
func FormatBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(b)/float64(div), "KMGTPE"[exp])
}
