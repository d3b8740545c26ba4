// Package auditlog writes the per-firing audit trail: one append-only CSV file
// per session with a fixed header and one row per tick. Every row is flushed
// to stable storage before Append returns.
package auditlog

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// ErrLogWrite marks a failure to durably record a row. It is fatal to a firing.
var ErrLogWrite = errors.New("audit log write failed")

// Header is the fixed first row of every audit file.
var Header = []string{"Time", "TargetTemp", "MeasuredTemp"}

// timeLayout keeps full precision so a file re-parses to the exact values written.
const timeLayout = time.RFC3339Nano

// Record is one tick of a firing.
type Record struct {
	Time     time.Time
	Target   float64
	Measured float64
}

// File is the storage the Writer appends to.
type File interface {
	io.Writer
	Sync() error
	Close() error
}

// Writer appends records to one audit file.
// Not safe for concurrent use; it is owned by the control loop.
type Writer struct {
	f      File
	csv    *csv.Writer
	path   string
	rows   int
	closed bool
}

// FileName returns the audit file name for a session.
func FileName(sessionID string, start time.Time) string {
	return fmt.Sprintf("firing-%s-%s.csv", start.UTC().Format("20060102T150405Z"), sessionID)
}

// Create opens a new audit file in dir and writes the header.
// It refuses to reuse an existing file so a past firing is never appended to.
func Create(dir, sessionID string, start time.Time) (*Writer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create dir: %v", ErrLogWrite, err)
	}
	path := filepath.Join(dir, FileName(sessionID, start))
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("%w: open: %v", ErrLogWrite, err)
	}
	w, err := NewWriter(f, path)
	if err != nil {
		f.Close()
		return nil, err
	}
	return w, nil
}

// NewWriter writes the header to f and syncs it.
func NewWriter(f File, path string) (*Writer, error) {
	w := &Writer{f: f, csv: csv.NewWriter(f), path: path}
	if err := w.write(Header); err != nil {
		return nil, err
	}
	return w, nil
}

// Append writes one row and syncs it to storage.
func (w *Writer) Append(r Record) error {
	if w.closed {
		return fmt.Errorf("%w: log closed", ErrLogWrite)
	}
	if err := w.write([]string{
		r.Time.UTC().Format(timeLayout),
		formatTemp(r.Target),
		formatTemp(r.Measured),
	}); err != nil {
		return err
	}
	w.rows++
	return nil
}

func (w *Writer) write(row []string) error {
	if err := w.csv.Write(row); err != nil {
		return fmt.Errorf("%w: %v", ErrLogWrite, err)
	}
	w.csv.Flush()
	if err := w.csv.Error(); err != nil {
		return fmt.Errorf("%w: %v", ErrLogWrite, err)
	}
	if err := w.f.Sync(); err != nil {
		return fmt.Errorf("%w: sync: %v", ErrLogWrite, err)
	}
	return nil
}

// Rows returns the number of records appended.
func (w *Writer) Rows() int { return w.rows }

// Path returns the file path, if known.
func (w *Writer) Path() string { return w.path }

// Close closes the file. Further appends fail.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	return w.f.Close()
}

func formatTemp(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// Read parses an audit file, checking the header.
func Read(r io.Reader) ([]Record, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(Header)

	head, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	for i := range Header {
		if head[i] != Header[i] {
			return nil, fmt.Errorf("unexpected header %v", head)
		}
	}

	var out []Record
	for line := 2; ; line++ {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		ts, err := time.Parse(timeLayout, row[0])
		if err != nil {
			return nil, fmt.Errorf("line %d: time: %w", line, err)
		}
		target, err := strconv.ParseFloat(row[1], 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: target: %w", line, err)
		}
		measured, err := strconv.ParseFloat(row[2], 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: measured: %w", line, err)
		}
		out = append(out, Record{Time: ts, Target: target, Measured: measured})
	}
}

// ReadFile parses the audit file at path.
func ReadFile(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Read(f)
}
