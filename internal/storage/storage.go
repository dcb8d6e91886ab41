// Package storage persists durable sample batches to CSV, JSON Lines and the
// SQLite sample log.
package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"serial-telemetry/internal/model"
)

// Mode decides what happens to an existing log file when a sink opens.
type Mode string

const (
	// ModeAppend keeps prior rows; the header is only written to an empty file.
	ModeAppend Mode = "append"
	// ModeOverwrite truncates the file.
	ModeOverwrite Mode = "overwrite"
	// ModeRotate starts a new timestamped file for every run.
	ModeRotate Mode = "rotate"
)

func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return ModeAppend, nil
	case ModeAppend, ModeOverwrite, ModeRotate:
		return m, nil
	default:
		return "", fmt.Errorf("unsupported storage mode %q (expected append, overwrite or rotate)", s)
	}
}

// Sink receives durable batches from the acquisition pipeline.
type Sink interface {
	Open(ctx context.Context) error
	Flush(ctx context.Context, batch []model.Sample) error
	Close() error
}

type Config struct {
	Dir      string
	FileName string
	// FileType selects outputs: csv, json (jsonl), db, or combinations such
	// as json+csv, csv+db, json+db and all.
	FileType string
	Mode     Mode
	DBPath   string
	Channels int
}

// Outputs reports which sinks a file type enables.
func Outputs(fileType string) (csv, jsonl, db bool, err error) {
	ft := strings.ToLower(strings.TrimSpace(fileType))
	switch ft {
	case "", "csv":
		return true, false, false, nil
	case "json", "jsonl":
		return false, true, false, nil
	case "db", "sqlite":
		return false, false, true, nil
	case "json+csv", "csv+json", "both":
		return true, true, false, nil
	case "csv+db", "db+csv":
		return true, false, true, nil
	case "json+db", "db+json":
		return false, true, true, nil
	case "all":
		return true, true, true, nil
	default:
		return false, false, false, fmt.Errorf("unsupported storage file_type %q (expected csv/json/db and combinations like json+csv/csv+db)", fileType)
	}
}

// New builds the sinks selected by cfg.FileType. The result is not opened.
func New(cfg Config, log *zap.SugaredLogger) (Sink, error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	wantCSV, wantJSON, wantDB, err := Outputs(cfg.FileType)
	if err != nil {
		return nil, err
	}
	if cfg.Mode == "" {
		cfg.Mode = ModeAppend
	}
	if cfg.Dir == "" {
		cfg.Dir = "data"
	}
	if cfg.FileName == "" {
		cfg.FileName = "telemetry"
	}
	base := filepath.Join(cfg.Dir, strings.TrimSuffix(cfg.FileName, filepath.Ext(cfg.FileName)))

	var sinks []Sink
	if wantCSV {
		sinks = append(sinks, NewCSVSink(base+".csv", cfg.Mode, cfg.Channels))
	}
	if wantJSON {
		sinks = append(sinks, NewJSONLSink(base+".jsonl", cfg.Mode))
	}
	if wantDB {
		path := cfg.DBPath
		if path == "" {
			path = filepath.Join(cfg.Dir, "telemetry.db")
		}
		sinks = append(sinks, NewDBSink(path))
	}
	log.Infow("Storage configured", "file_type", cfg.FileType, "mode", cfg.Mode, "dir", cfg.Dir, "outputs", len(sinks))
	if len(sinks) == 1 {
		return sinks[0], nil
	}
	return &Multi{Sinks: sinks}, nil
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}
	return nil
}

var errClosed = errors.New("sink is not open")
