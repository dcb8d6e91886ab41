package collector

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"serial-telemetry/internal/metrics"
	"serial-telemetry/internal/model"
)

// Defaults for the two-stage buffer and the live queue.
const (
	DefaultTempCapacity   = 50
	DefaultBufferCapacity = 200
	DefaultLiveCapacity   = 2100
)

type BufferConfig struct {
	TempCapacity   int
	BufferCapacity int
	LiveCapacity   int
	// MaxPending bounds the durable buffer while storage keeps failing.
	MaxPending int
}

func (c *BufferConfig) applyDefaults() {
	if c.TempCapacity <= 0 {
		c.TempCapacity = DefaultTempCapacity
	}
	if c.BufferCapacity <= 0 {
		c.BufferCapacity = DefaultBufferCapacity
	}
	if c.LiveCapacity <= 0 {
		c.LiveCapacity = DefaultLiveCapacity
	}
	if c.MaxPending < c.BufferCapacity {
		c.MaxPending = 5 * c.BufferCapacity
	}
}

// Buffers holds the temporary and durable sample stages plus the live queue
// read by consumers. One mutex guards all three; it is only held for the
// append, promote and take/commit steps.
type Buffers struct {
	mu      sync.Mutex
	cfg     BufferConfig
	seq     uint64
	temp    []model.Sample
	durable []model.Sample
	live    ring

	promotions     uint64
	liveDropped    uint64
	pendingDropped uint64
}

func NewBuffers(cfg BufferConfig) *Buffers {
	cfg.applyDefaults()
	return &Buffers{
		cfg:     cfg,
		temp:    make([]model.Sample, 0, cfg.TempCapacity),
		durable: make([]model.Sample, 0, cfg.BufferCapacity),
		live:    newRing(cfg.LiveCapacity),
	}
}

// Append stamps s with the next sequence number and stages it. It reports
// whether the temporary buffer reached capacity and was promoted.
func (b *Buffers) Append(s model.Sample) (model.Sample, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.seq++
	s.Seq = b.seq
	b.temp = append(b.temp, s)
	if !b.live.push(s) {
		b.liveDropped++
	}
	if len(b.temp) < b.cfg.TempCapacity {
		return s, false
	}
	b.promoteLocked()
	return s, true
}

// Promote moves everything in the temporary buffer into the durable buffer.
func (b *Buffers) Promote() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.temp) == 0 {
		return false
	}
	b.promoteLocked()
	return true
}

func (b *Buffers) promoteLocked() {
	b.durable = append(b.durable, b.temp...)
	b.temp = b.temp[:0]
	b.promotions++
	if over := len(b.durable) - b.cfg.MaxPending; over > 0 {
		b.durable = append(b.durable[:0], b.durable[over:]...)
		b.pendingDropped += uint64(over)
	}
}

// takeDue returns a copy of the durable buffer when it reached capacity, or
// whenever it is non-empty if force is set.
func (b *Buffers) takeDue(force bool) []model.Sample {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.durable) == 0 || (!force && len(b.durable) < b.cfg.BufferCapacity) {
		return nil
	}
	out := make([]model.Sample, len(b.durable))
	copy(out, b.durable)
	return out
}

// commit removes durable entries up to and including seq.
func (b *Buffers) commit(seq uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	i := 0
	for i < len(b.durable) && b.durable[i].Seq <= seq {
		i++
	}
	b.durable = append(b.durable[:0], b.durable[i:]...)
}

// Drain removes and returns every sample queued for consumers, oldest first.
func (b *Buffers) Drain() []model.Sample {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.live.popAll()
}

// BufferStats is a point-in-time view of the buffers.
type BufferStats struct {
	Temp           int    `json:"temp"`
	Durable        int    `json:"durable"`
	Live           int    `json:"live"`
	Promotions     uint64 `json:"promotions"`
	LiveDropped    uint64 `json:"live_dropped"`
	PendingDropped uint64 `json:"pending_dropped"`
	LastSeq        uint64 `json:"last_seq"`
}

func (b *Buffers) Stats() BufferStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return BufferStats{
		Temp:           len(b.temp),
		Durable:        len(b.durable),
		Live:           b.live.len(),
		Promotions:     b.promotions,
		LiveDropped:    b.liveDropped,
		PendingDropped: b.pendingDropped,
		LastSeq:        b.seq,
	}
}

// ring is a fixed-capacity FIFO that overwrites its oldest entry when full.
type ring struct {
	buf  []model.Sample
	head int
	size int
}

func newRing(capacity int) ring { return ring{buf: make([]model.Sample, capacity)} }

// push reports false when the oldest entry was overwritten.
func (r *ring) push(s model.Sample) bool {
	tail := (r.head + r.size) % len(r.buf)
	r.buf[tail] = s
	if r.size < len(r.buf) {
		r.size++
		return true
	}
	r.head = (r.head + 1) % len(r.buf)
	return false
}

func (r *ring) popAll() []model.Sample {
	if r.size == 0 {
		return nil
	}
	out := make([]model.Sample, r.size)
	for i := 0; i < r.size; i++ {
		idx := (r.head + i) % len(r.buf)
		out[i] = r.buf[idx]
		r.buf[idx] = model.Sample{}
	}
	r.head, r.size = 0, 0
	return out
}

func (r *ring) len() int { return r.size }

// Sink persists batches of samples.
type Sink interface {
	Open(ctx context.Context) error
	Flush(ctx context.Context, batch []model.Sample) error
	Close() error
}

// flusher serializes durable-buffer flushes so a batch is never written twice
// concurrently, whether triggered by the worker or by the coordinator.
type flusher struct {
	mu      sync.Mutex
	buffers *Buffers
	sink    Sink
	obs     metrics.Observer
	log     *zap.SugaredLogger

	lastDropped uint64
}

// flush writes the durable buffer if it is due (or non-empty when force is
// set). A failed batch stays buffered for the next trigger.
func (f *flusher) flush(ctx context.Context, force bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sink == nil {
		return nil
	}
	batch := f.buffers.takeDue(force)
	if len(batch) == 0 {
		return nil
	}
	start := time.Now()
	if err := f.sink.Flush(ctx, batch); err != nil {
		f.obs.IncCounter(metrics.FlushFailuresTotal, 1)
		f.log.Warnw("Storage flush failed; batch retained", "samples", len(batch), "error", err)
		return newError(KindSinkFlush, "flush", err)
	}
	f.buffers.commit(batch[len(batch)-1].Seq)
	f.obs.ObserveLatency(metrics.FlushLatency, time.Since(start).Seconds())
	f.obs.IncCounter(metrics.FlushesTotal, 1)
	f.obs.IncCounter(metrics.FlushedSamplesTotal, float64(len(batch)))
	f.log.Debugw("Flushed samples to storage", "samples", len(batch), "elapsed", time.Since(start))
	return nil
}

// report publishes buffer gauges and drop counters.
func (f *flusher) report() {
	st := f.buffers.Stats()
	f.obs.SetGauge(metrics.TempBufferLength, float64(st.Temp))
	f.obs.SetGauge(metrics.DurableBufferLength, float64(st.Durable))
	f.obs.SetGauge(metrics.LiveQueueLength, float64(st.Live))
	f.mu.Lock()
	if d := st.PendingDropped - f.lastDropped; d > 0 {
		f.obs.IncCounter(metrics.PendingDroppedTotal, float64(d))
		f.log.Warnw("Dropped oldest pending samples; storage unavailable", "dropped", d)
		f.lastDropped = st.PendingDropped
	}
	f.mu.Unlock()
}
