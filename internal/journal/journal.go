package journal

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/xtxerr/cfgsync/internal/logging"
)

var log = logging.Component("journal")

// Config configures a run journal.
type Config struct {
	// Dir receives one Parquet file per run. Empty keeps statistics only.
	Dir string

	// Options for the Parquet writer
	Options Options

	// Accuracy is the relative accuracy of latency quantiles
	Accuracy float64
}

// Journal records the entries of one run.
//
// A nil *Journal is valid and records nothing.
type Journal struct {
	runID  string
	writer *Writer
	stats  *Stats

	mu      sync.Mutex
	entries []Entry
}

// Open creates the journal of runID. The file is named <runID>.parquet.
func Open(runID string, cfg Config) (*Journal, error) {
	j := &Journal{
		runID: runID,
		stats: NewStats(cfg.Accuracy),
	}
	if cfg.Dir == "" {
		return j, nil
	}

	w, err := NewWriter(filepath.Join(cfg.Dir, runID+".parquet"), cfg.Options)
	if err != nil {
		return nil, err
	}
	j.writer = w
	return j, nil
}

// Record journals one entry. Entries are buffered until Close.
func (j *Journal) Record(ctx context.Context, e Entry) {
	if j == nil {
		return
	}
	if e.RunID == "" {
		e.RunID = j.runID
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	j.stats.Add(e)

	j.mu.Lock()
	j.entries = append(j.entries, e)
	j.mu.Unlock()

	logging.WithContext(ctx, log).Debug("journaled",
		"op", e.Op,
		"name", e.Name,
		"outcome", e.Outcome,
		"duration", e.Duration,
	)
}

// Entries returns a copy of every recorded entry.
func (j *Journal) Entries() []Entry {
	if j == nil {
		return nil
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]Entry(nil), j.entries...)
}

// Stats returns the run statistics.
func (j *Journal) Stats() Summary {
	if j == nil {
		return Summary{Counts: map[Outcome]int64{}}
	}
	return j.stats.Summary()
}

// Path returns the journal file path, or "" when no file is written.
func (j *Journal) Path() string {
	if j == nil || j.writer == nil {
		return ""
	}
	return j.writer.Path()
}

// Close writes the buffered entries and closes the file.
func (j *Journal) Close() error {
	if j == nil || j.writer == nil {
		return nil
	}

	entries := j.Entries()
	if err := j.writer.Write(entries); err != nil {
		j.writer.Close()
		return err
	}
	if err := j.writer.Close(); err != nil {
		return err
	}

	log.Info("journal written", "run_id", j.runID, "path", j.writer.Path(), "rows", j.writer.RowCount())
	return nil
}
