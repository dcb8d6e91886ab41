// Package mock simulates the telemetry device: it streams sample lines,
// answers the discovery handshake and acknowledges commands.
package mock

import (
	"context"
	"fmt"
	"io"
	"math"
	"math/rand"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Device is a simulated instrument. Zero values take defaults on Run.
type Device struct {
	Serial   int
	Channels int
	Interval time.Duration
	// AbsentRate is the probability that a channel reads as "_".
	AbsentRate float64
	// BatteryAfter emits the reset sentinel after this many lines; 0 never.
	BatteryAfter int
	// Ident answers an empty query.
	Ident string
	Rand  *rand.Rand
	Log   *zap.SugaredLogger

	mu      sync.Mutex
	wmu     sync.Mutex
	battery bool
	sent    int
}

func (d *Device) defaults() {
	if d.Serial == 0 {
		d.Serial = 1001
	}
	if d.Channels <= 0 {
		d.Channels = 4
	}
	if d.Interval <= 0 {
		d.Interval = 100 * time.Millisecond
	}
	if d.Ident == "" {
		d.Ident = "MOCK TELEMETRY " + strconv.Itoa(d.Serial)
	}
	if d.Rand == nil {
		d.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if d.Log == nil {
		d.Log = zap.NewNop().Sugar()
	}
}

// Run streams lines to rw and serves commands until ctx is cancelled, the
// sentinel was sent, or rw fails. Reads returning (0, nil) are timeouts.
func (d *Device) Run(ctx context.Context, rw io.ReadWriter) error {
	d.defaults()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errc := make(chan error, 1)
	go func() { errc <- d.serveCommands(ctx, rw) }()

	cur := d.interval()
	t := time.NewTicker(cur)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-errc:
			return err
		case <-t.C:
		}
		line, last := d.nextLine()
		if err := d.write(rw, line+"\n"); err != nil {
			return err
		}
		if last {
			d.Log.Infow("Sent reset sentinel", "lines", d.sent)
			return nil
		}
		if iv := d.interval(); iv != cur {
			cur = iv
			t.Reset(iv)
		}
	}
}

func (d *Device) write(w io.Writer, s string) error {
	d.wmu.Lock()
	defer d.wmu.Unlock()
	_, err := io.WriteString(w, s)
	return err
}

func (d *Device) interval() time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.Interval
}

func (d *Device) nextLine() (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sent++
	if d.battery || (d.BatteryAfter > 0 && d.sent > d.BatteryAfter) {
		return "BATTERY LOW - RESET", true
	}
	fields := make([]string, 0, d.Channels+1)
	fields = append(fields, strconv.Itoa(d.Serial))
	phase := float64(d.sent) / 10
	for ch := 0; ch < d.Channels; ch++ {
		if d.AbsentRate > 0 && d.Rand.Float64() < d.AbsentRate {
			fields = append(fields, "_")
			continue
		}
		v := 10*math.Sin(phase+float64(ch)) + d.Rand.NormFloat64()*0.1
		fields = append(fields, strconv.FormatFloat(v, 'f', 3, 64))
	}
	return strings.Join(fields, " "), false
}

// serveCommands treats every chunk read from rw as one command, since the
// host sends commands without a terminator.
func (d *Device) serveCommands(ctx context.Context, rw io.ReadWriter) error {
	buf := make([]byte, 256)
	for ctx.Err() == nil {
		n, err := rw.Read(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if n == 0 {
			continue
		}
		reply := d.Handle(string(buf[:n]))
		if err := d.write(rw, reply+"\n"); err != nil {
			return err
		}
	}
	return nil
}

// Handle returns the acknowledgment for one command.
func (d *Device) Handle(raw string) string {
	cmd := strings.TrimSpace(raw)
	d.Log.Debugw("Command received", "command", cmd)
	if cmd == "" {
		return d.Ident
	}
	fields := strings.Fields(strings.ToUpper(cmd))
	switch fields[0] {
	case "RATE":
		if len(fields) != 2 {
			return "ERR usage: RATE <ms>"
		}
		ms, err := strconv.Atoi(fields[1])
		if err != nil || ms <= 0 {
			return "ERR invalid rate " + fields[1]
		}
		d.mu.Lock()
		d.Interval = time.Duration(ms) * time.Millisecond
		d.mu.Unlock()
		return fmt.Sprintf("OK RATE %d", ms)
	case "BATTERY":
		d.mu.Lock()
		d.battery = true
		d.mu.Unlock()
		return "OK RESET"
	default:
		return "OK " + cmd
	}
}
