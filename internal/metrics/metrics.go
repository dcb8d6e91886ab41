// Package metrics exposes acquisition counters and gauges through Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metric names understood by PromObs.
const (
	SamplesTotal         = "telemetry_samples_total"
	LinesRejectedTotal   = "telemetry_lines_rejected_total"
	PromotionsTotal      = "telemetry_promotions_total"
	FlushesTotal         = "telemetry_flushes_total"
	FlushFailuresTotal   = "telemetry_flush_failures_total"
	FlushedSamplesTotal  = "telemetry_flushed_samples_total"
	PendingDroppedTotal  = "telemetry_pending_dropped_total"
	LiveDroppedTotal     = "telemetry_live_dropped_total"
	SessionsEndedTotal   = "telemetry_sessions_ended_total"
	SessionErrorsTotal   = "telemetry_session_errors_total"
	CommandsTotal        = "telemetry_commands_total"
	CommandFailuresTotal = "telemetry_command_failures_total"
	ProbesTotal          = "telemetry_probes_total"
	ProbeResponsesTotal  = "telemetry_probe_responses_total"

	TempBufferLength    = "telemetry_temp_buffer_length"
	DurableBufferLength = "telemetry_durable_buffer_length"
	LiveQueueLength     = "telemetry_live_queue_length"
	Connected           = "telemetry_connected"

	FlushLatency = "telemetry_flush_latency_seconds"
)

// Observer receives acquisition measurements by name. Unknown names are ignored.
type Observer interface {
	IncCounter(name string, v float64)
	SetGauge(name string, v float64)
	ObserveLatency(name string, seconds float64)
}

// Nop discards every measurement.
type Nop struct{}

func (Nop) IncCounter(string, float64)     {}
func (Nop) SetGauge(string, float64)       {}
func (Nop) ObserveLatency(string, float64) {}

type PromObs struct {
	counters map[string]prometheus.Counter
	gauges   map[string]prometheus.Gauge
	histos   map[string]prometheus.Observer
}

var counterHelp = map[string]string{
	SamplesTotal:         "Samples parsed from the device stream.",
	LinesRejectedTotal:   "Lines skipped because they did not parse as a sample.",
	PromotionsTotal:      "Temporary buffer promotions into the durable buffer.",
	FlushesTotal:         "Successful durable buffer flushes to storage.",
	FlushFailuresTotal:   "Durable buffer flushes that failed and were retained for retry.",
	FlushedSamplesTotal:  "Samples written to storage.",
	PendingDroppedTotal:  "Samples dropped because storage stayed unavailable past the pending bound.",
	LiveDroppedTotal:     "Samples dropped from the live queue because no consumer drained it.",
	SessionsEndedTotal:   "Acquisition sessions ended by a device reset sentinel.",
	SessionErrorsTotal:   "Acquisition sessions stopped by a transport error.",
	CommandsTotal:        "Commands sent to the device.",
	CommandFailuresTotal: "Commands that failed or were not acknowledged.",
	ProbesTotal:          "Ports probed during discovery.",
	ProbeResponsesTotal:  "Probed ports that answered the handshake.",
}

var gaugeHelp = map[string]string{
	TempBufferLength:    "Samples waiting in the temporary buffer.",
	DurableBufferLength: "Samples waiting in the durable buffer for a storage flush.",
	LiveQueueLength:     "Samples queued for the live consumer.",
	Connected:           "1 while a device connection is open.",
}

// NewPromObs creates and registers all collectors on reg.
func NewPromObs(reg prometheus.Registerer) *PromObs {
	p := &PromObs{
		counters: make(map[string]prometheus.Counter, len(counterHelp)),
		gauges:   make(map[string]prometheus.Gauge, len(gaugeHelp)),
		histos:   make(map[string]prometheus.Observer, 1),
	}
	for name, help := range counterHelp {
		c := prometheus.NewCounter(prometheus.CounterOpts{Name: name, Help: help})
		reg.MustRegister(c)
		p.counters[name] = c
	}
	for name, help := range gaugeHelp {
		g := prometheus.NewGauge(prometheus.GaugeOpts{Name: name, Help: help})
		reg.MustRegister(g)
		p.gauges[name] = g
	}
	latency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    FlushLatency,
		Help:    "Time spent writing one durable buffer batch to storage.",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
	})
	reg.MustRegister(latency)
	p.histos[FlushLatency] = latency
	return p
}

func (p *PromObs) IncCounter(name string, v float64) {
	if c, ok := p.counters[name]; ok {
		c.Add(v)
	}
}

func (p *PromObs) SetGauge(name string, v float64) {
	if g, ok := p.gauges[name]; ok {
		g.Set(v)
	}
}

func (p *PromObs) ObserveLatency(name string, seconds float64) {
	if h, ok := p.histos[name]; ok {
		h.Observe(seconds)
	}
}

// Handler serves the registry in the Prometheus exposition format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

var (
	_ Observer = (*PromObs)(nil)
	_ Observer = Nop{}
)
