package engine

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"

	"github.com/bamsammich/logsync/internal/filter"
	"github.com/bamsammich/logsync/internal/metrics"
	"github.com/bamsammich/logsync/internal/stats"
	"github.com/jonboulle/clockwork"
	"github.com/spf13/afero"
)

// DetectorConfig controls change detection.
type DetectorConfig struct {
	FS    afero.Fs
	Roots []string
	// Extensions is the upload allow-list. Nil rejects every file.
	Extensions *filter.Extensions
	// Exclude rules run after the allow-list. Nil keeps every allowed file.
	Exclude *filter.Chain
	// UploadExisting makes the first successful scan of a root emit every file
	// instead of taking a silent baseline.
	UploadExisting bool
	Queue          *Queue
	Clock          clockwork.Clock
	Logger         *slog.Logger
	Stats          *stats.Collector
}

// Result summarizes one detection cycle.
type Result struct {
	// Changes holds every new or modified file, before filtering.
	Changes    []FileRecord
	Queued     int
	Rejected   int
	Excluded   int
	Duplicates int
	// Unavailable lists the roots that could not be scanned this cycle.
	Unavailable []string
}

type rootState struct {
	steady      bool
	unavailable bool
}

// Detector diffs successive scans of the watched roots and queues new or
// modified files for upload. Cycle must not be called concurrently.
type Detector struct {
	cfg      DetectorConfig
	scanner  *Scanner
	logger   *slog.Logger
	clock    clockwork.Clock
	state    map[string]*rootState
	previous Snapshot
}

// NewDetector creates a detector with every root uninitialized.
func NewDetector(cfg DetectorConfig) *Detector {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if cfg.Queue == nil {
		cfg.Queue = NewQueue()
	}
	if cfg.Extensions == nil {
		cfg.Extensions = filter.NewExtensions(nil)
	}
	if cfg.Stats == nil {
		cfg.Stats = stats.NewCollector()
	}

	d := &Detector{
		cfg:      cfg,
		scanner:  NewScanner(cfg.FS, logger),
		logger:   logger,
		clock:    clock,
		state:    make(map[string]*rootState, len(cfg.Roots)),
		previous: make(Snapshot, len(cfg.Roots)),
	}
	for _, root := range cfg.Roots {
		d.state[root] = &rootState{}
	}
	return d
}

// Queue returns the queue the detector feeds.
func (d *Detector) Queue() *Queue {
	return d.cfg.Queue
}

// Previous returns a copy of the snapshot the next cycle will diff against.
func (d *Detector) Previous() Snapshot {
	out := make(Snapshot, len(d.previous))
	for root, recs := range d.previous {
		out[root] = append([]FileRecord(nil), recs...)
	}
	return out
}

// Cycle scans every root once, queues accepted changes and replaces the
// previous snapshot. It only returns an error when ctx is done.
func (d *Detector) Cycle(ctx context.Context) (Result, error) {
	var res Result
	for _, root := range d.cfg.Roots {
		changes, err := d.detectRoot(ctx, root)
		if err != nil {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			res.Unavailable = append(res.Unavailable, root)
			continue
		}
		res.Changes = append(res.Changes, changes...)
		for _, rec := range changes {
			d.accept(root, rec, &res)
		}
	}

	d.cfg.Stats.AddCycle()
	d.cfg.Stats.AddFilesQueued(int64(res.Queued))
	d.cfg.Stats.AddFilesRejected(int64(res.Rejected))
	metrics.RecordScanCycle(len(res.Unavailable) == 0)
	metrics.RecordDetection("queued", res.Queued)
	metrics.RecordDetection("rejected", res.Rejected)
	metrics.RecordDetection("excluded", res.Excluded)
	metrics.RecordDetection("duplicate", res.Duplicates)
	metrics.SetQueueDepth(d.cfg.Queue.Len())
	return res, nil
}

// detectRoot scans root, updates its state and previous snapshot, and returns
// the files that changed since the last scan.
func (d *Detector) detectRoot(ctx context.Context, root string) ([]FileRecord, error) {
	st := d.state[root]
	if st == nil {
		st = &rootState{}
		d.state[root] = st
	}

	recs, err := d.scanner.Scan(ctx, root)
	if err != nil {
		if errors.Is(err, ErrDirectoryUnavailable) {
			if !st.unavailable {
				d.logger.Warn("watch directory unavailable", "root", root, "error", err)
				st.unavailable = true
			}
			if st.steady {
				d.previous[root] = nil
			}
		}
		return nil, err
	}
	if st.unavailable {
		d.logger.Info("watch directory available", "root", root)
		st.unavailable = false
	}
	d.cfg.Stats.AddFilesScanned(int64(len(recs)))

	var changes []FileRecord
	switch {
	case !st.steady && !d.cfg.UploadExisting:
		d.logger.Debug("baseline taken", "root", root, "files", len(recs))
	case !st.steady:
		changes = recs
	default:
		prev := d.previous.index(root)
		for _, rec := range recs {
			old, seen := prev[rec.Path]
			if !seen || rec.ModTime.After(old.ModTime) {
				changes = append(changes, rec)
			}
		}
	}

	st.steady = true
	d.previous[root] = recs
	return changes, nil
}

func (d *Detector) accept(root string, rec FileRecord, res *Result) {
	if !d.cfg.Extensions.Allowed(rec.Name) {
		d.logger.Warn("file has a disallowed extension and will not be uploaded",
			"path", rec.Path, "ext", filepath.Ext(rec.Name))
		res.Rejected++
		return
	}
	if !d.cfg.Exclude.Match(rec.RelPath()) {
		d.logger.Debug("file excluded", "path", rec.Path)
		res.Excluded++
		return
	}

	task := UploadTask{Root: root, Record: rec, Queued: d.clock.Now()}
	if !d.cfg.Queue.Push(task) {
		d.logger.Debug("file already queued", "path", rec.Path)
		res.Duplicates++
		return
	}
	d.logger.Info("file queued for upload", "path", rec.Path, "size", rec.Size)
	res.Queued++
}
