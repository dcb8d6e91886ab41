// Package probe locates the telemetry device among the host's serial ports.
//
// Every visible port is opened, sent a short handshake query and read back
// for a bounded time. Any response counts as a device being present; the
// content is not validated. When several ports answer, SelectPort picks one
// deterministically, treating the configured fallback ports (platform
// default or virtual ports that always enumerate) as a last resort.
package probe

import (
	"context"
	"time"

	"go.uber.org/zap"

	"serial-telemetry/internal/transport"
)

// DefaultFallbacks are the port names only used when nothing else answered.
var DefaultFallbacks = []string{"COM3", "COM1"}

const (
	DefaultQuery      = "\r\n"
	DefaultReadBudget = 100
	DefaultTimeout    = 2 * time.Second
)

// Result is the outcome of probing one port.
type Result struct {
	Port      string
	Responded bool
	Err       error
}

// Prober scans serial ports. ListPorts and Open default to the transport
// package and may be replaced in tests.
type Prober struct {
	ListPorts  func() ([]string, error)
	Open       func(sp transport.SerialParams) (transport.Port, error)
	Params     transport.SerialParams
	Query      []byte
	ReadBudget int
	Fallbacks  []string
	Log        *zap.SugaredLogger

	// OnResult, when set, observes every probe attempt.
	OnResult func(Result)
}

// New returns a Prober for the given serial settings with default handshake.
func New(params transport.SerialParams, log *zap.SugaredLogger) *Prober {
	return &Prober{
		ListPorts:  transport.ListPorts,
		Open:       transport.OpenSerial,
		Params:     params,
		Query:      []byte(DefaultQuery),
		ReadBudget: DefaultReadBudget,
		Fallbacks:  DefaultFallbacks,
		Log:        log,
	}
}

// Discover probes every visible port and returns the preferred responsive one.
// ok is false when no port responded, which is not an error.
func (p *Prober) Discover(ctx context.Context) (string, bool) {
	log := p.logger()
	ports, err := p.ListPorts()
	if err != nil {
		log.Warnw("Failed to enumerate serial ports", "error", err)
		return "", false
	}
	if len(ports) == 0 {
		log.Infow("No serial ports found")
		return "", false
	}
	log.Debugw("Scanning serial ports", "ports", ports)

	var responsive []string
	for _, name := range ports {
		if ctx.Err() != nil {
			log.Debugw("Port scan cancelled", "error", ctx.Err())
			return "", false
		}
		res := p.probePort(name)
		if p.OnResult != nil {
			p.OnResult(res)
		}
		switch {
		case res.Err != nil:
			log.Debugw("Skipping port", "port", name, "error", res.Err)
		case res.Responded:
			log.Debugw("Device responded", "port", name)
			responsive = append(responsive, name)
		default:
			log.Debugw("No response from port", "port", name)
		}
	}

	port, ok := SelectPort(responsive, p.Fallbacks)
	if !ok {
		log.Infow("No device connected on any of the detected ports")
		return "", false
	}
	log.Infow("Selected device port", "port", port, "responsive", responsive)
	return port, true
}

func (p *Prober) probePort(name string) Result {
	sp := p.Params
	sp.Address = name
	conn, err := p.Open(sp)
	if err != nil {
		return Result{Port: name, Err: err}
	}
	defer conn.Close()

	if err := conn.ResetInputBuffer(); err != nil {
		return Result{Port: name, Err: err}
	}
	if err := conn.ResetOutputBuffer(); err != nil {
		return Result{Port: name, Err: err}
	}
	if _, err := conn.Write(p.Query); err != nil {
		return Result{Port: name, Err: err}
	}

	budget := p.ReadBudget
	if budget <= 0 {
		budget = DefaultReadBudget
	}
	timeout := sp.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	buf := make([]byte, budget)
	got := 0
	deadline := time.Now().Add(timeout)
	for got < budget && time.Now().Before(deadline) {
		n, err := conn.Read(buf[got:])
		got += n
		if err != nil {
			return Result{Port: name, Responded: got > 0, Err: errIfSilent(got, err)}
		}
		if n == 0 {
			break
		}
	}
	return Result{Port: name, Responded: got > 0}
}

// A read error after some bytes arrived still proves a device is present.
func errIfSilent(got int, err error) error {
	if got > 0 {
		return nil
	}
	return err
}

// SelectPort applies the preference rule: the first responsive port that is
// not a fallback, else the fallbacks in their listed order.
func SelectPort(responsive, fallbacks []string) (string, bool) {
	isFallback := make(map[string]bool, len(fallbacks))
	for _, f := range fallbacks {
		isFallback[f] = true
	}
	for _, p := range responsive {
		if !isFallback[p] {
			return p, true
		}
	}
	for _, f := range fallbacks {
		for _, p := range responsive {
			if p == f {
				return p, true
			}
		}
	}
	return "", false
}

func (p *Prober) logger() *zap.SugaredLogger {
	if p.Log == nil {
		return zap.NewNop().Sugar()
	}
	return p.Log
}
