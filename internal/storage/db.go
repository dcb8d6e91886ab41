package storage

import (
	"context"
	"sync"
	"time"

	"serial-telemetry/internal/db"
	"serial-telemetry/internal/model"
)

// DBSink writes batches to the SQLite sample log and keeps the session catalogue.
type DBSink struct {
	path string
	mu   sync.Mutex
	db   *db.DB
}

func NewDBSink(path string) *DBSink { return &DBSink{path: path} }

func (s *DBSink) Open(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db != nil {
		return nil
	}
	if err := ensureDir(s.path); err != nil {
		return err
	}
	d, err := db.Open(s.path)
	if err != nil {
		return err
	}
	s.db = d
	return nil
}

func (s *DBSink) handle() (*db.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil, errClosed
	}
	return s.db, nil
}

func (s *DBSink) Flush(ctx context.Context, batch []model.Sample) error {
	d, err := s.handle()
	if err != nil {
		return err
	}
	return d.SaveSamples(ctx, batch)
}

func (s *DBSink) BeginSession(ctx context.Context, sess model.Session) error {
	d, err := s.handle()
	if err != nil {
		return err
	}
	return d.BeginSession(ctx, &sess)
}

func (s *DBSink) EndSession(ctx context.Context, id, outcome string, at time.Time) error {
	d, err := s.handle()
	if err != nil {
		return err
	}
	return d.EndSession(ctx, id, outcome, at)
}

func (s *DBSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}
