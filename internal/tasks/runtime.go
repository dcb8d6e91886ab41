package tasks

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"serial-telemetry/internal/collector"
	"serial-telemetry/internal/config"
	"serial-telemetry/internal/live"
	"serial-telemetry/internal/metrics"
	"serial-telemetry/internal/model"
	"serial-telemetry/internal/probe"
	"serial-telemetry/internal/storage"
	"serial-telemetry/internal/transport"
)

// Options defines initialization overrides for the logger.
// Mirrors the CLI flags used in cmd/logger/main.go.
type Options struct {
	ConfigPath string

	Port     string
	Driver   string
	BaudRate int

	StorageEnabled  bool
	StorageDisabled bool
	StorageDir      string
	FileType        string
	Mode            string

	LiveAddr    string
	MetricsAddr string
	LogLevel    string

	// Out receives drained samples and command acks; nil disables the console.
	Out io.Writer
	// In supplies operator commands, one per line.
	In io.Reader

	// Logger replaces the logger built from the config.
	Logger *zap.SugaredLogger
}

// LoadConfig reads opts.ConfigPath (defaults when empty) and applies overrides.
func LoadConfig(opts Options) (config.Config, error) {
	cfg := config.Default()
	if opts.ConfigPath != "" {
		var err error
		if cfg, err = config.Load(opts.ConfigPath); err != nil {
			return config.Config{}, err
		}
	}
	if opts.Port != "" {
		cfg.Serial.Port = opts.Port
	}
	if opts.Driver != "" {
		cfg.Serial.Driver = opts.Driver
	}
	if opts.BaudRate > 0 {
		cfg.Serial.BaudRate = opts.BaudRate
	}
	if opts.StorageEnabled {
		cfg.Storage.Enabled = true
	}
	if opts.StorageDir != "" {
		cfg.Storage.Dir = opts.StorageDir
		cfg.Storage.Enabled = true
	}
	if opts.FileType != "" {
		cfg.Storage.FileType = opts.FileType
	}
	if opts.Mode != "" {
		cfg.Storage.Mode = opts.Mode
	}
	if opts.StorageDisabled {
		cfg.Storage.Enabled = false
	}
	if opts.LiveAddr != "" {
		cfg.Live.Addr = opts.LiveAddr
	}
	if opts.MetricsAddr != "" {
		cfg.Metrics.Addr = opts.MetricsAddr
	}
	if opts.LogLevel != "" {
		cfg.Log.Level = opts.LogLevel
	}
	return cfg, cfg.Validate()
}

// SerialParams converts the serial section for the transport package.
func SerialParams(cfg config.Config) transport.SerialParams {
	return transport.SerialParams{
		Address:  cfg.Serial.Port,
		Driver:   cfg.Serial.Driver,
		BaudRate: cfg.Serial.BaudRate,
		DataBits: cfg.Serial.DataBits,
		StopBits: cfg.Serial.StopBits,
		Parity:   cfg.Serial.Parity,
		Timeout:  cfg.Serial.Timeout,
	}
}

// NewProber builds a prober from the probe section, counting results on obs.
func NewProber(cfg config.Config, obs metrics.Observer, log *zap.SugaredLogger) *probe.Prober {
	params := SerialParams(cfg)
	params.Timeout = cfg.Probe.Timeout
	p := probe.New(params, log)
	p.Query = []byte(cfg.Probe.Query)
	p.ReadBudget = cfg.Probe.ReadBudget
	p.Fallbacks = cfg.Probe.FallbackPorts
	p.OnResult = func(r probe.Result) {
		obs.IncCounter(metrics.ProbesTotal, 1)
		if r.Responded {
			obs.IncCounter(metrics.ProbeResponsesTotal, 1)
		}
	}
	return p
}

// Runtime is a fully wired logger: coordinator, supervisor, consumers.
type Runtime struct {
	Cfg      config.Config
	Log      *zap.SugaredLogger
	Registry *prometheus.Registry
	Coord    *collector.Coordinator
	Manager  *collector.Manager
	Live     *live.Server

	out io.Writer
	in  io.Reader
}

// Build wires every component from cfg without starting anything.
func Build(cfg config.Config, opts Options) (*Runtime, error) {
	log := opts.Logger
	if log == nil {
		var err error
		if log, err = config.NewLogger(cfg.Log); err != nil {
			return nil, err
		}
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	obs := metrics.NewPromObs(reg)

	var sink collector.Sink
	if cfg.Storage.Enabled {
		mode, err := storage.ParseMode(cfg.Storage.Mode)
		if err != nil {
			return nil, err
		}
		s, err := storage.New(storage.Config{
			Dir:      cfg.Storage.Dir,
			FileName: cfg.Storage.FileName,
			FileType: cfg.Storage.FileType,
			Mode:     mode,
			DBPath:   cfg.Storage.DBPath,
			Channels: cfg.Acquisition.Channels,
		}, log)
		if err != nil {
			return nil, err
		}
		sink = s
	}

	a := cfg.Acquisition
	coord := collector.NewCoordinator(collector.Options{
		Serial: SerialParams(cfg),
		Buffers: collector.BufferConfig{
			TempCapacity:   a.TempCapacity,
			BufferCapacity: a.BufferCapacity,
			LiveCapacity:   a.LiveCapacity,
			MaxPending:     a.MaxPending,
		},
		Reader: collector.ReaderConfig{
			Channels:     a.Channels,
			Sentinel:     a.Sentinel,
			AbsentMarker: a.AbsentMarker,
			Yield:        a.Yield,
		},
		Sink:     sink,
		Observer: obs,
		Logger:   log,
	})

	rt := &Runtime{
		Cfg:      cfg,
		Log:      log,
		Registry: reg,
		Coord:    coord,
		Manager: &collector.Manager{
			Cfg: collector.ManagerConfig{
				Port:         cfg.Serial.Port,
				AutoRestart:  a.AutoRestart,
				RestartDelay: a.RestartDelay,
				MaxRestarts:  a.MaxRestarts,
			},
			Coord: coord,
			Probe: NewProber(cfg, obs, log),
			Log:   log,
		},
		out: opts.Out,
		in:  opts.In,
	}
	if cfg.Live.Addr != "" {
		rt.Live = live.New(live.Options{
			Device:   coord,
			Channels: a.Channels,
			Gatherer: reg,
			Logger:   log,
		})
	}
	return rt, nil
}

// InitAndRun loads config, applies overrides, wires the runtime and runs it.
func InitAndRun(ctx context.Context, opts Options) error {
	cfg, err := LoadConfig(opts)
	if err != nil {
		return err
	}
	rt, err := Build(cfg, opts)
	if err != nil {
		return err
	}
	defer func() { _ = rt.Log.Sync() }()
	return rt.Run(ctx)
}

// Run supervises acquisition and serves consumers until ctx is cancelled or
// the supervisor gives up.
func (rt *Runtime) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)
	mgrDone := make(chan struct{})

	g.Go(func() error {
		// Consumers stop with the supervisor.
		defer cancel()
		defer close(mgrDone)
		err := rt.Manager.Run(gctx)
		if err != nil {
			rt.Log.Errorw("Acquisition supervisor stopped", "error", err)
		}
		return err
	})
	g.Go(func() error {
		rt.pump(mgrDone)
		return nil
	})
	if rt.Live != nil {
		g.Go(func() error { return rt.Live.ListenAndServe(gctx, rt.Cfg.Live.Addr) })
	}
	if rt.Cfg.Metrics.Addr != "" && rt.Cfg.Metrics.Addr != rt.Cfg.Live.Addr {
		g.Go(func() error { return serveMetrics(gctx, rt.Cfg.Metrics.Addr, rt.Registry, rt.Log) })
	}
	if rt.in != nil {
		// Not in the group: a blocked stdin read must not hold up shutdown.
		go rt.commands(gctx)
	}
	return g.Wait()
}

// pump drains the coordinator on the refresh interval and hands samples to
// the console and the live server. It exits once the supervisor has stopped
// and the last samples were delivered.
func (rt *Runtime) pump(mgrDone <-chan struct{}) {
	t := time.NewTicker(rt.Cfg.Live.Refresh)
	defer t.Stop()
	for {
		select {
		case <-mgrDone:
			rt.deliver(rt.Coord.DrainAvailable())
			return
		case ev := <-rt.Coord.Events():
			if ev.Terminal() && rt.Live != nil {
				rt.Live.PublishEvent(ev)
			}
		case <-t.C:
			rt.deliver(rt.Coord.DrainAvailable())
		}
	}
}

func (rt *Runtime) deliver(samples []model.Sample) {
	if len(samples) == 0 {
		return
	}
	if rt.out != nil {
		w := bufio.NewWriter(rt.out)
		for _, s := range samples {
			fmt.Fprintln(w, s.String())
		}
		_ = w.Flush()
	}
	if rt.Live != nil {
		rt.Live.Publish(samples)
	}
}

// commands reads operator commands. "clear" only clears the local display.
func (rt *Runtime) commands(ctx context.Context) {
	sc := bufio.NewScanner(rt.in)
	for sc.Scan() {
		line := sc.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		if strings.EqualFold(strings.TrimSpace(line), "clear") {
			if rt.out != nil {
				fmt.Fprint(rt.out, "\033[H\033[2J")
			}
			continue
		}
		ack, err := rt.Coord.Send(ctx, line)
		switch {
		case errors.Is(err, context.Canceled):
			return
		case err != nil:
			rt.Log.Warnw("Command failed", "command", line, "error", err)
			if rt.out != nil {
				fmt.Fprintf(rt.out, "! %s: %v\n", line, err)
			}
		case rt.out != nil:
			fmt.Fprintf(rt.out, "> %s\n", ack)
		}
	}
}

func serveMetrics(ctx context.Context, addr string, g prometheus.Gatherer, log *zap.SugaredLogger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(g))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	log.Infow("Metrics listening", "addr", addr)
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
