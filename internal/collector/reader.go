package collector

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"serial-telemetry/internal/metrics"
	"serial-telemetry/internal/model"
	"serial-telemetry/internal/transport"
)

const (
	DefaultChannels = 4
	DefaultSentinel = "battery"
	DefaultYield    = 10 * time.Millisecond
)

type ReaderConfig struct {
	Channels     int
	Sentinel     string
	AbsentMarker string
	// Yield is how long the worker sleeps when no input arrived.
	Yield time.Duration
}

func (c *ReaderConfig) applyDefaults() {
	if c.Channels <= 0 {
		c.Channels = DefaultChannels
	}
	if c.Sentinel == "" {
		c.Sentinel = DefaultSentinel
	}
	if c.AbsentMarker == "" {
		c.AbsentMarker = DefaultAbsentMarker
	}
	if c.Yield <= 0 {
		c.Yield = DefaultYield
	}
}

// Reader is the acquisition worker for one session. It is the only writer of
// the buffers and, while it runs, the only user of the connection.
type Reader struct {
	cfg      ReaderConfig
	session  string
	lines    *transport.LineReader
	cmd      *CommandChannel
	commands <-chan commandRequest
	buffers  *Buffers
	flusher  *flusher
	state    *atomicState
	obs      metrics.Observer
	log      *zap.SugaredLogger

	sentinel string
}

// Run reads lines until the context is cancelled, the device sends the reset
// sentinel or the transport fails, and returns the terminal event. emit
// receives every sample as it is buffered.
func (r *Reader) Run(ctx context.Context, emit func(Event)) Event {
	r.cfg.applyDefaults()
	r.sentinel = strings.ToLower(r.cfg.Sentinel)
	r.state.Store(StateRunning)
	r.log.Infow("Acquisition started", "session", r.session)

	for {
		if ctx.Err() != nil {
			r.state.Store(StateStopped)
			r.log.Infow("Acquisition stopped", "session", r.session)
			return Event{Kind: EventStopped, Session: r.session}
		}

		select {
		case req := <-r.commands:
			if ev, ended := r.serveCommand(ctx, req, emit); ended {
				return ev
			}
			continue
		default:
		}

		line, ok, err := r.lines.ReadLine()
		if err != nil {
			r.settle(ctx)
			r.state.Store(StateStopped)
			r.log.Errorw("Transport read failed; acquisition stopped", "session", r.session, "error", err)
			return Event{Kind: EventError, Session: r.session, Err: newError(KindTransport, "read", err)}
		}
		if !ok {
			r.yield(ctx)
			continue
		}
		if line == "" {
			continue
		}

		if r.isSentinel(line) {
			return r.endSession(ctx, line)
		}

		sample, err := Parse(line, r.cfg.Channels, r.cfg.AbsentMarker)
		if err != nil {
			r.obs.IncCounter(metrics.LinesRejectedTotal, 1)
			r.log.Debugw("Skipping line", "line", line, "error", err)
			continue
		}
		r.accept(ctx, sample, emit)
	}
}

func (r *Reader) accept(ctx context.Context, s model.Sample, emit func(Event)) {
	s.Session = r.session
	s.Received = time.Now()
	s, promoted := r.buffers.Append(s)
	r.obs.IncCounter(metrics.SamplesTotal, 1)
	if promoted {
		r.obs.IncCounter(metrics.PromotionsTotal, 1)
		// A failed flush is retained and retried on the next promotion.
		_ = r.flusher.flush(context.WithoutCancel(ctx), false)
	}
	r.flusher.report()
	if emit != nil {
		emit(Event{Kind: EventSample, Session: r.session, Sample: &s})
	}
}

// settle force-promotes the temporary buffer and flushes if the durable
// buffer reached its threshold.
func (r *Reader) settle(ctx context.Context) {
	if r.buffers.Promote() {
		r.obs.IncCounter(metrics.PromotionsTotal, 1)
	}
	_ = r.flusher.flush(context.WithoutCancel(ctx), false)
	r.flusher.report()
}

func (r *Reader) isSentinel(line string) bool {
	return strings.Contains(strings.ToLower(line), r.sentinel)
}

func (r *Reader) endSession(ctx context.Context, line string) Event {
	r.state.Store(StateFlushing)
	r.settle(ctx)
	r.state.Store(StateStopped)
	r.log.Infow("Device reported reset; session ended", "session", r.session, "line", line)
	return Event{Kind: EventSessionEnded, Session: r.session, Line: line}
}

// serveCommand runs one queued command. Telemetry arriving before the
// acknowledgment is buffered as usual; a reset sentinel in its place ends the
// session.
func (r *Reader) serveCommand(ctx context.Context, req commandRequest, emit func(Event)) (Event, bool) {
	r.obs.IncCounter(metrics.CommandsTotal, 1)
	ack, err := r.cmd.send(req.cmd, func(line string) bool {
		if line == "" {
			return true
		}
		if r.isSentinel(line) {
			return false
		}
		s, perr := Parse(line, r.cfg.Channels, r.cfg.AbsentMarker)
		if perr != nil {
			return false
		}
		r.accept(ctx, s, emit)
		return true
	})
	if err == nil && r.isSentinel(ack) {
		r.obs.IncCounter(metrics.CommandFailuresTotal, 1)
		req.reply <- commandReply{err: fmt.Errorf("%w: %q", ErrDeviceReset, ack)}
		return r.endSession(ctx, ack), true
	}
	if err != nil {
		r.obs.IncCounter(metrics.CommandFailuresTotal, 1)
		r.log.Warnw("Command failed", "command", req.cmd, "error", err)
	}
	req.reply <- commandReply{ack: ack, err: err}
	return Event{}, false
}

func (r *Reader) yield(ctx context.Context) {
	t := time.NewTimer(r.cfg.Yield)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
