package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"invoice-ocr-pipeline/internal/domain"
	red "invoice-ocr-pipeline/internal/infra/redis"
)

// Pinger is a dependency checked by /healthz.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// HistoryReader serves recent notification announcements.
type HistoryReader interface {
	History(ctx context.Context, typ string, limit int64) ([]red.Announcement, error)
}

// Server is the operational HTTP surface: health, metrics and announcement
// history. It exposes no job submission endpoints.
type Server struct {
	checks  map[string]Pinger
	history HistoryReader
	log     *zerolog.Logger
	server  *http.Server
}

// NewServer builds the server. history may be nil when Redis is not in use.
func NewServer(port int, checks map[string]Pinger, history HistoryReader, logger *zerolog.Logger) *Server {
	l := logger.With().Str("component", "OpsHTTP").Logger()
	s := &Server{checks: checks, history: history, log: &l}
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Routes returns the router with middleware applied.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(TraceID(s.log), RequestLog(s.log), Recover(s.log))

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())
	if s.history != nil {
		r.With(Timeout(5*time.Second)).Get("/notifications/history/{type}", s.handleHistory)
	}
	return r
}

// Start serves until Shutdown. A Shutdown that comes first makes Start return
// nil right away.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("ops http listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

type healthReply struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	reply := healthReply{Status: "ok", Checks: make(map[string]string, len(s.checks))}
	code := http.StatusOK
	for name, p := range s.checks {
		if err := p.Ping(ctx); err != nil {
			reply.Checks[name] = err.Error()
			reply.Status = "degraded"
			code = http.StatusServiceUnavailable
			continue
		}
		reply.Checks[name] = "ok"
	}
	writeJSON(w, code, reply)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := int64(20)
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n <= 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	items, err := s.history.History(r.Context(), chi.URLParam(r, "type"), limit)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	case err != nil:
		s.log.Error().Err(err).Msg("read announcement history")
		http.Error(w, "history unavailable", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
