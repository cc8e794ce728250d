// Package vitalslog appends committed vitals records to a CSV file.
package vitalslog

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"sync"

	"github.com/banshee-data/vitals.report/internal/vitals"
)

// TimestampLayout is the layout of the Timestamp column.
const TimestampLayout = "2006/01/02 15:04:05"

// Header is the first row of every log file.
var Header = []string{"Timestamp", "HeartRate", "BreathRate", "T1", "T2", "SpO2"}

// Log is a CSV vitals log. It is safe for concurrent use.
type Log struct {
	mu   sync.Mutex
	f    *os.File
	w    *csv.Writer
	path string
}

// Open opens path for appending, creating it if needed. The header is
// written when the file is new or empty.
func Open(path string) (*Log, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open vitals log: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat vitals log: %w", err)
	}

	l := &Log{f: f, w: csv.NewWriter(f), path: path}
	if info.Size() == 0 {
		if err := l.write(Header); err != nil {
			f.Close()
			return nil, err
		}
	}
	return l, nil
}

func (l *Log) Path() string { return l.path }

func (l *Log) write(row []string) error {
	if err := l.w.Write(row); err != nil {
		return fmt.Errorf("write vitals log: %w", err)
	}
	l.w.Flush()
	if err := l.w.Error(); err != nil {
		return fmt.Errorf("write vitals log: %w", err)
	}
	return nil
}

// Row formats rec as a log row.
func Row(rec vitals.VitalsRecord) []string {
	return []string{
		rec.Timestamp.Format(TimestampLayout),
		strconv.Itoa(rec.HeartRate),
		strconv.Itoa(rec.BreathRate),
		strconv.FormatFloat(rec.T1, 'f', 1, 64),
		strconv.FormatFloat(rec.T2, 'f', 1, 64),
		strconv.Itoa(rec.SpO2),
	}
}

// RecordVitals appends one row.
func (l *Log) RecordVitals(_ context.Context, rec vitals.VitalsRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.write(Row(rec))
}

func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.f.Close()
}
