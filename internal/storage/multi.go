package storage

import (
	"context"
	"errors"
	"time"

	"serial-telemetry/internal/model"
)

// sessionRecorder matches sinks that track sessions.
type sessionRecorder interface {
	BeginSession(ctx context.Context, s model.Session) error
	EndSession(ctx context.Context, id, outcome string, at time.Time) error
}

// Multi fans every call out to several sinks. A flush fails if any child
// fails; children that succeeded will see the batch again on retry.
type Multi struct {
	Sinks []Sink
}

func (m *Multi) Open(ctx context.Context) error {
	for i, s := range m.Sinks {
		if err := s.Open(ctx); err != nil {
			for _, opened := range m.Sinks[:i] {
				_ = opened.Close()
			}
			return err
		}
	}
	return nil
}

func (m *Multi) Flush(ctx context.Context, batch []model.Sample) error {
	var errs []error
	for _, s := range m.Sinks {
		if err := s.Flush(ctx, batch); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *Multi) BeginSession(ctx context.Context, sess model.Session) error {
	var errs []error
	for _, s := range m.Sinks {
		if r, ok := s.(sessionRecorder); ok {
			errs = append(errs, r.BeginSession(ctx, sess))
		}
	}
	return errors.Join(errs...)
}

func (m *Multi) EndSession(ctx context.Context, id, outcome string, at time.Time) error {
	var errs []error
	for _, s := range m.Sinks {
		if r, ok := s.(sessionRecorder); ok {
			errs = append(errs, r.EndSession(ctx, id, outcome, at))
		}
	}
	return errors.Join(errs...)
}

func (m *Multi) Close() error {
	var errs []error
	for _, s := range m.Sinks {
		errs = append(errs, s.Close())
	}
	return errors.Join(errs...)
}

var (
	_ Sink            = (*Multi)(nil)
	_ Sink            = (*CSVSink)(nil)
	_ Sink            = (*JSONLSink)(nil)
	_ Sink            = (*DBSink)(nil)
	_ sessionRecorder = (*DBSink)(nil)
	_ sessionRecorder = (*Multi)(nil)
)
