// Package api exposes the relay over HTTP: the order webhook, liveness, admin and event streams.
package api

import (
	"context"
	"log/slog"
	"net/http"

	"shiprelay/internal/config"
	"shiprelay/internal/events"
	"shiprelay/internal/ingest"
	"shiprelay/internal/logging"
	"shiprelay/internal/metrics"
	"shiprelay/internal/model"
	"shiprelay/internal/store"
	"shiprelay/internal/sweep"
	"shiprelay/internal/webhooks"
)

type Processor interface {
	Process(ctx context.Context, o model.Order) (ingest.Result, error)
}

type Submitter interface {
	Submit(name string, task webhooks.Task) error
}

type SweepRunner interface {
	Run(ctx context.Context) (sweep.Report, error)
}

// Pinger reports backend readiness; nil means always ready.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Server struct {
	Cfg      config.Config
	Store    store.Store
	Pipeline Processor
	Worker   Submitter
	Sweeper  SweepRunner
	Broker   events.Broker
	Health   Pinger
	log      *slog.Logger
}

func NewServer(cfg config.Config, st store.Store, p Processor, w Submitter, sw SweepRunner, b events.Broker, log *slog.Logger) *Server {
	if b == nil {
		b = events.Nop{}
	}
	if log == nil {
		log = logging.Discard()
	}
	return &Server{Cfg: cfg, Store: st, Pipeline: p, Worker: w, Sweeper: sw, Broker: b, log: log}
}

// Routes builds the full handler tree wrapped in request logging and metrics.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /order", s.LivenessHandler)
	mux.HandleFunc("POST /webhooks/orders_create", s.OrderWebhookHandler)

	mux.HandleFunc("GET /healthz", s.HealthHandler)
	mux.HandleFunc("GET /readyz", s.ReadyHandler)
	mux.Handle("GET /metrics", metrics.Handler())
	mux.HandleFunc("GET /openapi.yaml", s.OpenAPIHandler)
	mux.HandleFunc("GET /openapi.json", s.OpenAPIJSONHandler)
	mux.HandleFunc("GET /debug/info", s.DebugHandler)

	mux.Handle("GET /v1/admin/pending", s.requireAdmin(s.PendingListHandler))
	mux.Handle("DELETE /v1/admin/pending/{shipmentId}", s.requireAdmin(s.PendingDeleteHandler))
	mux.Handle("POST /v1/admin/sweep", s.requireAdmin(s.SweepHandler))
	mux.Handle("GET /v1/events/stream", s.requireAdmin(s.EventStreamHandler))
	mux.Handle("GET /v1/events/ws", s.requireAdmin(s.EventWSHandler))

	return logMiddleware(s.log, mux)
}
