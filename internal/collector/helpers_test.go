package collector

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"serial-telemetry/internal/model"
	"serial-telemetry/internal/testutil"
	"serial-telemetry/internal/transport"
)

type memSink struct {
	mu      sync.Mutex
	batches [][]model.Sample
	err     error
	opened  int
	closed  int
	began   []model.Session
	ended   map[string]string
}

func (s *memSink) Open(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opened++
	return nil
}

func (s *memSink) Flush(_ context.Context, batch []model.Sample) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.batches = append(s.batches, append([]model.Sample(nil), batch...))
	return nil
}

func (s *memSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed++
	return nil
}

func (s *memSink) BeginSession(_ context.Context, sess model.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.began = append(s.began, sess)
	return nil
}

func (s *memSink) EndSession(_ context.Context, id, outcome string, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended == nil {
		s.ended = make(map[string]string)
	}
	s.ended[id] = outcome
	return nil
}

func (s *memSink) setErr(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

func (s *memSink) Batches() [][]model.Sample {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]model.Sample(nil), s.batches...)
}

func (s *memSink) Written() []model.Sample {
	var out []model.Sample
	for _, b := range s.Batches() {
		out = append(out, b...)
	}
	return out
}

// newTestCoordinator returns a coordinator whose connections all use port.
func newTestCoordinator(t *testing.T, port *testutil.Port, sink Sink, mutate func(*Options)) *Coordinator {
	t.Helper()
	opts := Options{
		Serial:         transport.SerialParams{BaudRate: 38400, Timeout: 5 * time.Millisecond},
		Reader:         ReaderConfig{Yield: time.Millisecond},
		CommandTimeout: 200 * time.Millisecond,
		Sink:           sink,
		Open: func(transport.SerialParams) (transport.Port, error) {
			return port, nil
		},
		Logger: zaptest.NewLogger(t).Sugar(),
	}
	if mutate != nil {
		mutate(&opts)
	}
	c := NewCoordinator(opts)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func waitEvent(t *testing.T, c *Coordinator) Event {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	ev, err := c.Wait(ctx)
	if err != nil {
		t.Fatalf("waiting for session end: %v", err)
	}
	return ev
}

func lines(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = "1001 0.5 1.5 2.5 3.5\n"
	}
	return out
}
