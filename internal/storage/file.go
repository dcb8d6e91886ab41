package storage

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"serial-telemetry/internal/model"
)

// logFile appends encoded batches to one file. Each append is a single write
// followed by fsync; on failure the file is truncated back to its previous
// size so a batch is either fully present or absent.
type logFile struct {
	mu   sync.Mutex
	path string
	mode Mode
	f    *os.File
	size int64
	now  func() time.Time
}

func (l *logFile) open(header []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f != nil {
		return nil
	}
	if l.now == nil {
		l.now = time.Now
	}
	path := l.path
	flags := os.O_CREATE | os.O_RDWR
	switch l.mode {
	case ModeOverwrite:
		flags |= os.O_TRUNC
	case ModeRotate:
		path = rotatedPath(l.path, l.now())
	}
	if err := ensureDir(path); err != nil {
		return err
	}
	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return err
	}
	l.f, l.size, l.path = f, st.Size(), path
	if l.size == 0 && len(header) > 0 {
		if err := l.appendLocked(header); err != nil {
			f.Close()
			l.f = nil
			return fmt.Errorf("write header: %w", err)
		}
	}
	return nil
}

func (l *logFile) append(b []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return errClosed
	}
	return l.appendLocked(b)
}

func (l *logFile) appendLocked(b []byte) error {
	n, err := l.f.WriteAt(b, l.size)
	if err == nil {
		err = l.f.Sync()
	}
	if err != nil {
		if n > 0 {
			_ = l.f.Truncate(l.size)
		}
		return err
	}
	l.size += int64(n)
	return nil
}

func (l *logFile) close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return nil
	}
	err := l.f.Close()
	l.f = nil
	return err
}

// Path is the file currently written; for rotated logs it is known after Open.
func (l *logFile) Path() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.path
}

func rotatedPath(path string, t time.Time) string {
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + "-" + t.Format("20060102-150405") + ext
}

// CSVSink writes the sample log as CSV with a fixed header row.
type CSVSink struct {
	logFile
	channels int
}

func NewCSVSink(path string, mode Mode, channels int) *CSVSink {
	if channels <= 0 {
		channels = 4
	}
	return &CSVSink{logFile: logFile{path: path, mode: mode}, channels: channels}
}

func (s *CSVSink) Open(context.Context) error {
	header, err := encodeCSV([][]string{model.Header(s.channels)})
	if err != nil {
		return err
	}
	return s.open(header)
}

func (s *CSVSink) Flush(_ context.Context, batch []model.Sample) error {
	rows := make([][]string, 0, len(batch))
	for _, smp := range batch {
		rows = append(rows, smp.Fields())
	}
	b, err := encodeCSV(rows)
	if err != nil {
		return err
	}
	return s.append(b)
}

func (s *CSVSink) Close() error { return s.close() }

func encodeCSV(rows [][]string) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.WriteAll(rows); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// JSONLSink writes one JSON object per sample.
type JSONLSink struct {
	logFile
}

func NewJSONLSink(path string, mode Mode) *JSONLSink {
	return &JSONLSink{logFile: logFile{path: path, mode: mode}}
}

func (s *JSONLSink) Open(context.Context) error { return s.open(nil) }

func (s *JSONLSink) Flush(_ context.Context, batch []model.Sample) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, smp := range batch {
		if err := enc.Encode(smp); err != nil {
			return err
		}
	}
	return s.append(buf.Bytes())
}

func (s *JSONLSink) Close() error { return s.close() }
