// Package server assembles the gateway's HTTP surface.
package server

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/avirahq/interviewd/pkg/gateway/config"
	"github.com/avirahq/interviewd/pkg/gateway/handlers"
	"github.com/avirahq/interviewd/pkg/gateway/inflight"
	"github.com/avirahq/interviewd/pkg/gateway/mw"
)

type Server struct {
	cfg     config.Config
	logger  *slog.Logger
	mux     *http.ServeMux
	svc     handlers.InterviewService
	tracker *inflight.Tracker
}

func New(cfg config.Config, svc handlers.InterviewService, tracker *inflight.Tracker, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if tracker == nil {
		tracker = inflight.NewTracker()
	}

	s := &Server{
		cfg:     cfg,
		logger:  logger,
		mux:     http.NewServeMux(),
		svc:     svc,
		tracker: tracker,
	}

	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.Handle("/healthz", handlers.HealthHandler{})
	s.mux.Handle("/readyz", handlers.ReadyHandler{Config: s.cfg})

	s.mux.Handle("/v1/interview/start", s.tracked(handlers.StartHandler{
		Service:      s.svc,
		MaxBodyBytes: s.cfg.MaxBodyBytes,
	}))
	s.mux.Handle("/v1/interview/next", s.tracked(handlers.AdvanceHandler{
		Service:      s.svc,
		MaxBodyBytes: s.cfg.MaxBodyBytes,
	}))

	s.mux.Handle("/", handlers.NotFoundHandler{})
}

// tracked registers the request with the drain tracker for the duration of
// the handler. Requests arriving after SetDraining get a 503 so load
// balancers retry elsewhere while in-flight turns finish persisting.
func (s *Server) tracked(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID, _ := mw.RequestIDFrom(r.Context())
		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		done, ok := s.tracker.Register(reqID, cancel)
		if !ok {
			http.Error(w, "server is shutting down", http.StatusServiceUnavailable)
			return
		}
		defer done()

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) Tracker() *inflight.Tracker {
	return s.tracker
}

func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = mw.CORS(s.cfg, h)
	h = mw.Recover(s.logger, h)
	h = mw.AccessLog(s.logger, h)
	h = mw.RequestID(h)
	return h
}
