// Package live serves acquired samples to browsers and scripts: a websocket
// stream, the latest reading per channel and a command endpoint.
package live

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"serial-telemetry/internal/collector"
	"serial-telemetry/internal/metrics"
	"serial-telemetry/internal/model"
	"serial-telemetry/internal/utils"
)

// Device is the part of the coordinator the server drives.
type Device interface {
	Send(ctx context.Context, cmd string) (string, error)
	Status() collector.Status
}

type Options struct {
	Device   Device
	Channels int
	// LatestTTL drops channels that stopped reporting from /api/latest.
	LatestTTL time.Duration
	Gatherer  prometheus.Gatherer
	Logger    *zap.SugaredLogger
}

type Server struct {
	mux      *http.ServeMux
	hub      *Hub
	latest   *utils.ValueCache
	dev      Device
	channels int
	log      *zap.SugaredLogger
	started  time.Time
}

type HealthResponse struct {
	OK        bool      `json:"ok"`
	Timestamp time.Time `json:"timestamp"`
	Uptime    string    `json:"uptime"`
	Clients   int       `json:"clients"`
}

type CommandRequest struct {
	Command string `json:"command"`
}

type CommandResponse struct {
	Ack string `json:"ack"`
}

type APIError struct {
	Error string `json:"error"`
}

func New(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop().Sugar()
	}
	if opts.Channels <= 0 {
		opts.Channels = collector.DefaultChannels
	}
	if opts.LatestTTL <= 0 {
		opts.LatestTTL = time.Minute
	}
	s := &Server{
		mux:      http.NewServeMux(),
		hub:      NewHub(),
		latest:   utils.NewValueCache(opts.LatestTTL),
		dev:      opts.Device,
		channels: opts.Channels,
		log:      opts.Logger,
		started:  time.Now(),
	}
	s.mux.HandleFunc("/api/health", s.handleHealth)
	s.mux.HandleFunc("/api/status", s.handleStatus)
	s.mux.HandleFunc("/api/latest", s.handleLatest)
	s.mux.HandleFunc("/api/command", s.handleCommand)
	s.mux.Handle("/ws", s.hub)
	if opts.Gatherer != nil {
		s.mux.Handle("/metrics", metrics.Handler(opts.Gatherer))
	}
	return s
}

func (s *Server) Handler() http.Handler { return s.mux }

func (s *Server) Hub() *Hub { return s.hub }

// Publish records the newest reading of each channel and streams the batch
// to websocket clients. Absent readings leave the previous value in place.
func (s *Server) Publish(samples []model.Sample) {
	if len(samples) == 0 {
		return
	}
	labels := model.Header(s.channels)
	for _, smp := range samples {
		if smp.Serial != nil {
			s.latest.Set(labels[0], *smp.Serial, smp.Received)
		}
		for i, v := range smp.Channels {
			if v != nil && i+1 < len(labels) {
				s.latest.Set(labels[i+1], *v, smp.Received)
			}
		}
	}
	if s.hub.Len() > 0 {
		s.hub.Broadcast(Message{Type: "samples", Data: samples})
	}
}

// PublishEvent streams a session transition to websocket clients.
func (s *Server) PublishEvent(ev collector.Event) {
	if !ev.Terminal() {
		return
	}
	data := map[string]string{"session": ev.Session, "kind": ev.Kind.String()}
	if ev.Err != nil {
		data["error"] = ev.Err.Error()
	}
	s.hub.Broadcast(Message{Type: "session", Data: data})
}

// ListenAndServe serves on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.mux, ReadHeaderTimeout: 5 * time.Second}
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	s.log.Infow("Live server listening", "addr", addr)
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	s.hub.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func readJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	b, err := io.ReadAll(io.LimitReader(r.Body, 64<<10))
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, HealthResponse{
		OK:        true,
		Timestamp: time.Now(),
		Uptime:    time.Since(s.started).Round(time.Second).String(),
		Clients:   s.hub.Len(),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	if s.dev == nil {
		writeJSON(w, http.StatusServiceUnavailable, APIError{Error: "no device attached"})
		return
	}
	writeJSON(w, http.StatusOK, s.dev.Status())
}

func (s *Server) handleLatest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, s.latest.Snapshot())
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	if s.dev == nil {
		writeJSON(w, http.StatusServiceUnavailable, APIError{Error: "no device attached"})
		return
	}
	var req CommandRequest
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, APIError{Error: err.Error()})
		return
	}
	if req.Command == "" {
		writeJSON(w, http.StatusBadRequest, APIError{Error: "command is required"})
		return
	}
	ack, err := s.dev.Send(r.Context(), req.Command)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, CommandResponse{Ack: ack})
	case errors.Is(err, collector.ErrNoAck):
		writeJSON(w, http.StatusGatewayTimeout, APIError{Error: err.Error()})
	case errors.Is(err, collector.ErrNotConnected):
		writeJSON(w, http.StatusConflict, APIError{Error: err.Error()})
	default:
		s.log.Warnw("Command failed", "command", req.Command, "error", err)
		writeJSON(w, http.StatusBadGateway, APIError{Error: err.Error()})
	}
}
