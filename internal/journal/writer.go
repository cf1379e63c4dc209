package journal

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/compress"
)

// ErrWriterClosed is returned when writing to a closed writer.
var ErrWriterClosed = errors.New("journal writer is closed")

// Outcome is what happened to one change.
type Outcome string

const (
	// OutcomeApplied means the change was written to the active store.
	OutcomeApplied Outcome = "applied"

	// OutcomeIgnored means the ignore policy suppressed the change.
	OutcomeIgnored Outcome = "ignored"

	// OutcomeResynced means the ignore policy of an ignored object was
	// copied from the source.
	OutcomeResynced Outcome = "resynced"

	// OutcomeFailed means applying the change returned an error.
	OutcomeFailed Outcome = "failed"
)

// Entry is one journaled change.
type Entry struct {
	RunID      string
	Collection string
	Op         string
	Name       string
	EntityType string
	Outcome    Outcome
	Duration   time.Duration
	Timestamp  time.Time
	Error      string
}

// =============================================================================
// Options
// =============================================================================

// Options configures the Parquet writer.
type Options struct {
	// Compression algorithm
	Compression CompressionType
}

// CompressionType represents a Parquet compression algorithm.
type CompressionType int

const (
	CompressionNone CompressionType = iota
	CompressionSnappy
	CompressionZstd
	CompressionLZ4
	CompressionGzip
)

// DefaultOptions returns default journal options.
func DefaultOptions() Options {
	return Options{
		Compression: CompressionZstd,
	}
}

// ParseCompressionType parses a compression type string.
func ParseCompressionType(s string) CompressionType {
	switch s {
	case "snappy":
		return CompressionSnappy
	case "zstd":
		return CompressionZstd
	case "lz4":
		return CompressionLZ4
	case "gzip":
		return CompressionGzip
	case "none", "":
		return CompressionNone
	default:
		return CompressionZstd
	}
}

func getCompression(ct CompressionType) compress.Codec {
	switch ct {
	case CompressionSnappy:
		return &parquet.Snappy
	case CompressionZstd:
		return &parquet.Zstd
	case CompressionLZ4:
		return &parquet.Lz4Raw
	case CompressionGzip:
		return &parquet.Gzip
	default:
		return &parquet.Uncompressed
	}
}

// =============================================================================
// Rows
// =============================================================================

// Row is an Entry in Parquet format.
type Row struct {
	RunID          string `parquet:"run_id,zstd"`
	Collection     string `parquet:"collection,zstd"`
	Op             string `parquet:"op,zstd"`
	Name           string `parquet:"name,zstd"`
	EntityType     string `parquet:"entity_type,optional,zstd"`
	Outcome        string `parquet:"outcome,zstd"`
	DurationMicros int64  `parquet:"duration_us"`
	TimestampMs    int64  `parquet:"timestamp_ms"`
	Error          string `parquet:"error,optional,zstd"`
}

// EntryToRow converts an Entry to a Row.
func EntryToRow(e *Entry) Row {
	return Row{
		RunID:          e.RunID,
		Collection:     e.Collection,
		Op:             e.Op,
		Name:           e.Name,
		EntityType:     e.EntityType,
		Outcome:        string(e.Outcome),
		DurationMicros: e.Duration.Microseconds(),
		TimestampMs:    e.Timestamp.UnixMilli(),
		Error:          e.Error,
	}
}

// RowToEntry converts a Row to an Entry.
func RowToEntry(r *Row) Entry {
	return Entry{
		RunID:      r.RunID,
		Collection: r.Collection,
		Op:         r.Op,
		Name:       r.Name,
		EntityType: r.EntityType,
		Outcome:    Outcome(r.Outcome),
		Duration:   time.Duration(r.DurationMicros) * time.Microsecond,
		Timestamp:  time.UnixMilli(r.TimestampMs),
		Error:      r.Error,
	}
}

// =============================================================================
// Writer
// =============================================================================

// Writer writes journal entries to a Parquet file.
type Writer struct {
	mu       sync.Mutex
	path     string
	file     *os.File
	writer   *parquet.GenericWriter[Row]
	rowCount int64
	closed   bool
}

// NewWriter creates a journal file at path.
func NewWriter(path string, opts Options) (*Writer, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create file: %w", err)
	}

	writer := parquet.NewGenericWriter[Row](f, parquet.Compression(getCompression(opts.Compression)))

	return &Writer{
		path:   path,
		file:   f,
		writer: writer,
	}, nil
}

// Write appends entries to the file.
func (w *Writer) Write(entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrWriterClosed
	}

	rows := make([]Row, len(entries))
	for i := range entries {
		rows[i] = EntryToRow(&entries[i])
	}

	n, err := w.writer.Write(rows)
	if err != nil {
		return fmt.Errorf("write rows: %w", err)
	}

	w.rowCount += int64(n)
	return nil
}

// Close flushes and closes the file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true

	if err := w.writer.Close(); err != nil {
		w.file.Close()
		return fmt.Errorf("close writer: %w", err)
	}

	return w.file.Close()
}

// RowCount returns the number of rows written.
func (w *Writer) RowCount() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.rowCount
}

// Path returns the file path.
func (w *Writer) Path() string {
	return w.path
}

// =============================================================================
// Reader
// =============================================================================

// ReadFile returns every entry of the journal file at path.
func ReadFile(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	defer f.Close()

	reader := parquet.NewGenericReader[Row](f)
	defer reader.Close()

	rows := make([]Row, reader.NumRows())
	n, err := reader.Read(rows)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("read rows: %w", err)
	}

	entries := make([]Entry, n)
	for i := 0; i < n; i++ {
		entries[i] = RowToEntry(&rows[i])
	}
	return entries, nil
}
