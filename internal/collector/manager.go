package collector

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

const DefaultRestartDelay = 2 * time.Second

// Discoverer finds the device port. *probe.Prober implements it.
type Discoverer interface {
	Discover(ctx context.Context) (string, bool)
}

type ManagerConfig struct {
	// Port skips discovery when set.
	Port         string
	AutoRestart  bool
	RestartDelay time.Duration
	// MaxRestarts caps reconnect attempts; 0 means unlimited.
	MaxRestarts int
}

// Manager supervises a Coordinator across sessions: it discovers the device,
// connects, runs acquisition until the session ends and, when configured,
// reconnects.
type Manager struct {
	Cfg   ManagerConfig
	Coord *Coordinator
	Probe Discoverer
	Log   *zap.SugaredLogger

	// OnSession, when set, receives the terminal event of every session.
	OnSession func(Event)
}

// Run blocks until ctx is cancelled or the supervisor gives up. The
// coordinator is closed, flushing buffered samples, before Run returns.
func (m *Manager) Run(ctx context.Context) (err error) {
	log := m.Log
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	delay := m.Cfg.RestartDelay
	if delay <= 0 {
		delay = DefaultRestartDelay
	}
	defer func() {
		if cerr := m.Coord.Close(); cerr != nil {
			log.Warnw("Closing coordinator failed", "error", cerr)
			if err == nil {
				err = cerr
			}
		}
	}()

	restarts := 0
	for {
		cause := m.session(ctx, log)
		if ctx.Err() != nil {
			return nil
		}
		if !m.Cfg.AutoRestart {
			return cause
		}
		restarts++
		if m.Cfg.MaxRestarts > 0 && restarts > m.Cfg.MaxRestarts {
			if cause == nil {
				cause = errors.New("session ended")
			}
			return fmt.Errorf("giving up after %d restarts: %w", m.Cfg.MaxRestarts, cause)
		}
		log.Infow("Reconnecting", "attempt", restarts, "delay", delay)
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
	}
}

// session runs one discover/connect/acquire cycle. It returns nil when the
// device ended the session cleanly.
func (m *Manager) session(ctx context.Context, log *zap.SugaredLogger) error {
	port := m.Cfg.Port
	if port == "" {
		if m.Probe == nil {
			return newError(KindNoDevice, "discover", ErrNoDevice)
		}
		p, ok := m.Probe.Discover(ctx)
		if !ok {
			if ctx.Err() == nil {
				log.Warnw("No responsive serial device found")
			}
			return newError(KindNoDevice, "discover", ErrNoDevice)
		}
		port = p
	}

	if err := m.Coord.Connect(port); err != nil {
		log.Errorw("Connect failed", "port", port, "error", err)
		return err
	}
	defer func() {
		if err := m.Coord.Disconnect(); err != nil {
			log.Debugw("Disconnect", "port", port, "error", err)
		}
	}()
	if err := m.Coord.Start(); err != nil {
		log.Errorw("Start failed", "port", port, "error", err)
		return err
	}

	ev, err := m.Coord.Wait(ctx)
	if err != nil {
		// Cancelled; the deferred Disconnect stops the worker.
		return err
	}
	if m.OnSession != nil {
		m.OnSession(ev)
	}
	switch ev.Kind {
	case EventSessionEnded:
		log.Infow("Session ended by device", "session", ev.Session)
		return nil
	case EventError:
		return ev.Err
	default:
		return nil
	}
}
