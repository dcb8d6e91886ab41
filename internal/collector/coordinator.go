package collector

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"serial-telemetry/internal/metrics"
	"serial-telemetry/internal/model"
	"serial-telemetry/internal/transport"
)

// SessionRecorder is implemented by sinks that keep a session catalogue.
type SessionRecorder interface {
	BeginSession(ctx context.Context, s model.Session) error
	EndSession(ctx context.Context, id, outcome string, at time.Time) error
}

// Options configures a Coordinator. Zero values take package defaults.
type Options struct {
	Serial         transport.SerialParams
	Buffers        BufferConfig
	Reader         ReaderConfig
	CommandTimeout time.Duration

	// Sink receives durable batches; nil disables persistence.
	Sink Sink
	// Open replaces transport.OpenSerial, mainly for tests.
	Open func(transport.SerialParams) (transport.Port, error)

	Observer metrics.Observer
	Logger   *zap.SugaredLogger
}

// Status is a snapshot for status endpoints.
type Status struct {
	Port      string      `json:"port"`
	Session   string      `json:"session"`
	State     string      `json:"state"`
	Connected bool        `json:"connected"`
	Buffers   BufferStats `json:"buffers"`
}

// Coordinator owns one device connection, the buffers and the acquisition
// worker, and is the surface consumers use to drain samples and send commands.
type Coordinator struct {
	opts    Options
	obs     metrics.Observer
	log     *zap.SugaredLogger
	buffers *Buffers
	flusher *flusher
	state   atomicState

	// connMu serializes direct use of the connection outside the worker. It is
	// taken before mu and never while the worker runs.
	connMu   sync.Mutex
	mu       sync.Mutex
	port     transport.Port
	portName string
	lines    *transport.LineReader
	cmd      *CommandChannel
	session  string
	sinkOpen bool
	running  bool
	cancel   context.CancelFunc
	done     chan struct{}
	result   Event
	commands chan commandRequest

	events chan Event
}

func NewCoordinator(opts Options) *Coordinator {
	if opts.Open == nil {
		opts.Open = transport.OpenSerial
	}
	if opts.Observer == nil {
		opts.Observer = metrics.Nop{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop().Sugar()
	}
	if opts.CommandTimeout <= 0 {
		opts.CommandTimeout = opts.Serial.Timeout
	}
	opts.Reader.applyDefaults()
	b := NewBuffers(opts.Buffers)
	return &Coordinator{
		opts:    opts,
		obs:     opts.Observer,
		log:     opts.Logger,
		buffers: b,
		flusher: &flusher{buffers: b, sink: opts.Sink, obs: opts.Observer, log: opts.Logger},
		events:  make(chan Event, 64),
	}
}

// Connect opens port, replacing any idle connection, and starts a new session.
func (c *Coordinator) Connect(port string) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return ErrAlreadyRunning
	}
	c.closePortLocked()

	params := c.opts.Serial
	params.Address = port
	p, err := c.opts.Open(params)
	if err != nil {
		return newError(KindTransportOpen, "connect "+port, err)
	}
	c.port = p
	c.portName = port
	c.lines = transport.NewLineReader(p)
	c.cmd = NewCommandChannel(p, c.lines, c.opts.CommandTimeout)
	c.session = uuid.NewString()
	c.state.Store(StateIdle)
	c.obs.SetGauge(metrics.Connected, 1)
	c.log.Infow("Connected", "port", port, "session", c.session)
	return nil
}

// Start launches the acquisition worker on the current connection.
func (c *Coordinator) Start() error {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.port == nil {
		return ErrNotConnected
	}
	if c.running {
		return ErrAlreadyRunning
	}
	if err := c.openSinkLocked(); err != nil {
		return err
	}
	if rec, ok := c.opts.Sink.(SessionRecorder); ok {
		err := rec.BeginSession(context.Background(), model.Session{
			SessionID: c.session,
			Port:      c.portName,
			BaudRate:  c.opts.Serial.BaudRate,
			Channels:  c.opts.Reader.Channels,
			StartedAt: time.Now(),
		})
		if err != nil {
			c.log.Warnw("Failed to record session start", "session", c.session, "error", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.commands = make(chan commandRequest, 1)
	r := &Reader{
		cfg:      c.opts.Reader,
		session:  c.session,
		lines:    c.lines,
		cmd:      c.cmd,
		commands: c.commands,
		buffers:  c.buffers,
		flusher:  c.flusher,
		state:    &c.state,
		obs:      c.obs,
		log:      c.log,
	}
	c.cancel = cancel
	c.done = make(chan struct{})
	c.running = true
	c.state.Store(StateRunning)
	go c.work(ctx, r, c.done)
	return nil
}

func (c *Coordinator) work(ctx context.Context, r *Reader, done chan struct{}) {
	ev := r.Run(ctx, c.emit)

	c.mu.Lock()
	c.running = false
	c.result = ev
	c.mu.Unlock()

	switch ev.Kind {
	case EventSessionEnded:
		c.obs.IncCounter(metrics.SessionsEndedTotal, 1)
	case EventError:
		c.obs.IncCounter(metrics.SessionErrorsTotal, 1)
	}
	if rec, ok := c.opts.Sink.(SessionRecorder); ok {
		if err := rec.EndSession(context.Background(), ev.Session, ev.Kind.String(), time.Now()); err != nil {
			c.log.Warnw("Failed to record session end", "session", ev.Session, "error", err)
		}
	}
	c.emit(ev)
	close(done)
}

// emit forwards events without blocking the worker. Samples are dropped when
// nobody reads Events; the terminal event is also kept for Wait.
func (c *Coordinator) emit(ev Event) {
	select {
	case c.events <- ev:
	default:
		if ev.Terminal() {
			c.log.Warnw("Event channel full; terminal event only available through Wait", "kind", ev.Kind.String())
		}
	}
}

// Stop cancels the worker and waits for it to exit. The worker finishes the
// read in progress, so Stop returns within one read timeout.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Wait blocks until the current worker exits and returns its terminal event.
func (c *Coordinator) Wait(ctx context.Context) (Event, error) {
	c.mu.Lock()
	done := c.done
	c.mu.Unlock()
	if done == nil {
		return Event{}, ErrNotConnected
	}
	select {
	case <-done:
	case <-ctx.Done():
		return Event{}, ctx.Err()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.result, nil
}

// Done is closed when the current worker exits. It is nil before Start.
func (c *Coordinator) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.done
}

// DrainAvailable removes and returns every sample queued for consumers.
func (c *Coordinator) DrainAvailable() []model.Sample { return c.buffers.Drain() }

// Send delivers a command to the device and returns its acknowledgment line.
// While acquisition runs, the command is handed to the worker and executed
// between reads; otherwise it runs directly on the connection.
func (c *Coordinator) Send(ctx context.Context, cmd string) (string, error) {
	for {
		c.connMu.Lock()
		c.mu.Lock()
		ch, running := c.cmd, c.running
		commands, done := c.commands, c.done
		c.mu.Unlock()
		if ch == nil {
			c.connMu.Unlock()
			return "", ErrNotConnected
		}
		if !running {
			ack, err := c.sendDirect(ch, cmd)
			c.connMu.Unlock()
			return ack, err
		}
		c.connMu.Unlock()

		req := commandRequest{cmd: cmd, reply: make(chan commandReply, 1)}
		select {
		case commands <- req:
		case <-done:
			// Worker exited before taking the command; retry directly.
			continue
		case <-ctx.Done():
			return "", ctx.Err()
		}
		select {
		case rep := <-req.reply:
			return rep.ack, rep.err
		case <-done:
			select {
			case rep := <-req.reply:
				return rep.ack, rep.err
			default:
				continue
			}
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}

func (c *Coordinator) sendDirect(ch *CommandChannel, cmd string) (string, error) {
	c.obs.IncCounter(metrics.CommandsTotal, 1)
	ack, err := ch.Send(cmd)
	if err != nil {
		c.obs.IncCounter(metrics.CommandFailuresTotal, 1)
	}
	return ack, err
}

func (c *Coordinator) State() State { return c.state.Load() }

// Events delivers samples and terminal events. Samples are dropped if the
// channel is not read.
func (c *Coordinator) Events() <-chan Event { return c.events }

func (c *Coordinator) Session() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

func (c *Coordinator) Status() Status {
	c.mu.Lock()
	st := Status{Port: c.portName, Session: c.session, Connected: c.port != nil}
	c.mu.Unlock()
	st.State = c.State().String()
	st.Buffers = c.buffers.Stats()
	return st
}

// Flush promotes the temporary buffer and writes everything buffered to the sink.
func (c *Coordinator) Flush(ctx context.Context) error {
	if c.buffers.Promote() {
		c.obs.IncCounter(metrics.PromotionsTotal, 1)
	}
	err := c.flusher.flush(ctx, true)
	c.flusher.report()
	return err
}

// Disconnect stops acquisition and closes the connection. Buffered samples
// and the sink are kept for the next session.
func (c *Coordinator) Disconnect() error {
	c.Stop()
	c.connMu.Lock()
	defer c.connMu.Unlock()
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closePortLocked()
}

// Close stops acquisition, flushes every buffered sample and releases the
// connection and the sink.
func (c *Coordinator) Close() error {
	c.Stop()
	var errs []error
	if err := c.Flush(context.Background()); err != nil {
		errs = append(errs, err)
	}
	c.connMu.Lock()
	defer c.connMu.Unlock()
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.closePortLocked(); err != nil {
		errs = append(errs, err)
	}
	if c.sinkOpen {
		if err := c.opts.Sink.Close(); err != nil {
			errs = append(errs, err)
		}
		c.sinkOpen = false
	}
	return errors.Join(errs...)
}

func (c *Coordinator) openSinkLocked() error {
	if c.opts.Sink == nil || c.sinkOpen {
		return nil
	}
	if err := c.opts.Sink.Open(context.Background()); err != nil {
		return newError(KindSinkFlush, "open sink", err)
	}
	c.sinkOpen = true
	return nil
}

func (c *Coordinator) closePortLocked() error {
	if c.port == nil {
		return nil
	}
	err := c.port.Close()
	c.port, c.lines, c.cmd = nil, nil, nil
	c.cancel, c.commands = nil, nil
	c.obs.SetGauge(metrics.Connected, 0)
	c.log.Infow("Disconnected", "port", c.portName)
	return err
}
