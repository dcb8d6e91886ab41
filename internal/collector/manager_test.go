package collector

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"serial-telemetry/internal/testutil"
	"serial-telemetry/internal/transport"
)

type staticProbe struct {
	port  string
	found bool
	calls int
}

func (p *staticProbe) Discover(context.Context) (string, bool) {
	p.calls++
	return p.port, p.found
}

// portFactory hands out a fresh port per connection, each preloaded by feed.
type portFactory struct {
	mu    sync.Mutex
	feed  func(*testutil.Port)
	ports []*testutil.Port
	addrs []string
}

func (f *portFactory) open(sp transport.SerialParams) (transport.Port, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := testutil.NewPort()
	if f.feed != nil {
		f.feed(p)
	}
	f.ports = append(f.ports, p)
	f.addrs = append(f.addrs, sp.Address)
	return p, nil
}

func newManagerCoordinator(t *testing.T, f *portFactory, sink Sink) *Coordinator {
	return NewCoordinator(Options{
		Serial: transport.SerialParams{Timeout: 5 * time.Millisecond},
		Reader: ReaderConfig{Yield: time.Millisecond},
		Sink:   sink,
		Open:   f.open,
		Logger: zaptest.NewLogger(t).Sugar(),
	})
}

func TestManagerReconnectsAfterSessionEnd(t *testing.T) {
	f := &portFactory{feed: func(p *testutil.Port) {
		p.Feed("1 2 3 4 5\n", "battery\n")
	}}
	sink := &memSink{}
	probe := &staticProbe{port: "ttyUSB0", found: true}
	var sessions []Event
	m := &Manager{
		Cfg:       ManagerConfig{AutoRestart: true, RestartDelay: time.Millisecond, MaxRestarts: 2},
		Coord:     newManagerCoordinator(t, f, sink),
		Probe:     probe,
		Log:       zaptest.NewLogger(t).Sugar(),
		OnSession: func(ev Event) { sessions = append(sessions, ev) },
	}

	err := m.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "giving up after 2 restarts")

	assert.Equal(t, 3, probe.calls)
	require.Len(t, sessions, 3)
	ids := map[string]bool{}
	for _, ev := range sessions {
		assert.Equal(t, EventSessionEnded, ev.Kind)
		ids[ev.Session] = true
	}
	assert.Len(t, ids, 3, "every connection gets its own session")
	assert.Equal(t, []string{"ttyUSB0", "ttyUSB0", "ttyUSB0"}, f.addrs)
	for _, p := range f.ports {
		assert.True(t, p.Closed())
	}
	assert.Len(t, sink.Written(), 3, "remainders are flushed when the manager exits")
}

func TestManagerWithoutRestartReturnsCause(t *testing.T) {
	f := &portFactory{feed: func(p *testutil.Port) {
		p.Fail(errors.New("i/o error"))
	}}
	m := &Manager{
		Cfg:   ManagerConfig{Port: "/dev/ttyACM0"},
		Coord: newManagerCoordinator(t, f, nil),
	}
	err := m.Run(context.Background())
	kind, ok := KindOf(err)
	require.True(t, ok)
	assert.Equal(t, KindTransport, kind)
	assert.Equal(t, []string{"/dev/ttyACM0"}, f.addrs)
}

func TestManagerNoDevice(t *testing.T) {
	f := &portFactory{}
	m := &Manager{
		Coord: newManagerCoordinator(t, f, nil),
		Probe: &staticProbe{},
	}
	err := m.Run(context.Background())
	assert.ErrorIs(t, err, ErrNoDevice)
	kind, _ := KindOf(err)
	assert.Equal(t, KindNoDevice, kind)
	assert.Empty(t, f.ports)
}

func TestManagerStopsOnCancel(t *testing.T) {
	f := &portFactory{}
	m := &Manager{
		Cfg:   ManagerConfig{Port: "ttyS1", AutoRestart: true},
		Coord: newManagerCoordinator(t, f, nil),
	}
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- m.Run(ctx) }()

	require.Eventually(t, func() bool { return m.Coord.State() == StateRunning }, time.Second, time.Millisecond)
	cancel()
	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("manager did not stop")
	}
	require.Len(t, f.ports, 1)
	assert.True(t, f.ports[0].Closed())
}
