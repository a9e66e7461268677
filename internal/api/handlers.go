package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"shiprelay/internal/apperr"
	"shiprelay/internal/buildinfo"
	"shiprelay/internal/events"
	"shiprelay/internal/ingest"
	"shiprelay/internal/metrics"
	"shiprelay/internal/store"
	"shiprelay/internal/sweep"
	"shiprelay/internal/webhooks"
)

// maxWebhookBody caps the order payload read before signature verification.
const maxWebhookBody = 1 << 20

// LivenessHandler handles GET /order
func (s *Server) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, "order webhook endpoint is up\n")
}

// OrderWebhookHandler handles POST /webhooks/orders_create. Authentication and
// validation happen inline; event publishing and the carrier work run on the
// worker so the acknowledgment never waits on the broker.
func (s *Server) OrderWebhookHandler(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.reject(w, r, "invalid", http.StatusRequestEntityTooLarge, "Payload too large", err.Error())
			return
		}
		s.reject(w, r, "invalid", http.StatusBadRequest, "Unreadable body", err.Error())
		return
	}
	if !webhooks.VerifyHMAC(s.Cfg.WebhookSecret, body, r.Header.Get(webhooks.HeaderHMAC)) {
		s.reject(w, r, "unauthenticated", http.StatusUnauthorized, "Invalid webhook signature", "")
		return
	}
	order, err := ingest.Decode(body)
	if err != nil {
		var ae *apperr.Error
		detail := err.Error()
		if errors.As(err, &ae) {
			detail = ae.Message
		}
		s.reject(w, r, "invalid", apperr.Status(err), "Invalid order", detail)
		return
	}

	task := func(ctx context.Context) error {
		s.Broker.Publish(events.TopicOrders, events.New("order.received", map[string]any{"orderId": order.ID, "name": order.Name}))
		_, err := s.Pipeline.Process(ctx, order)
		return err
	}
	if err := s.Worker.Submit("order-"+strconv.FormatInt(order.ID, 10), task); err != nil {
		metrics.WebhookReceipts.WithLabelValues("unavailable").Inc()
		writeProblem(w, http.StatusServiceUnavailable, "Shutting down", err.Error(), r.URL.Path)
		return
	}
	metrics.WebhookReceipts.WithLabelValues("accepted").Inc()
	writeJSON(w, http.StatusOK, map[string]any{"status": "accepted", "orderId": order.ID})
}

func (s *Server) reject(w http.ResponseWriter, r *http.Request, outcome string, status int, title, detail string) {
	metrics.WebhookReceipts.WithLabelValues(outcome).Inc()
	s.log.Warn("webhook rejected", "outcome", outcome, "status", status, "detail", detail, "remote", r.RemoteAddr)
	if outcome == "invalid" {
		evt := events.New("order.rejected", map[string]any{"reason": detail})
		_ = s.Worker.Submit("order-rejected", func(context.Context) error {
			s.Broker.Publish(events.TopicOrders, evt)
			return nil
		})
	}
	writeProblem(w, status, title, detail, r.URL.Path)
}

// HealthHandler handles GET /healthz
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ReadyHandler handles GET /readyz
func (s *Server) ReadyHandler(w http.ResponseWriter, r *http.Request) {
	if s.Health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.Health.Ping(ctx); err != nil {
			writeProblem(w, http.StatusServiceUnavailable, "Store not ready", err.Error(), r.URL.Path)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// DebugHandler handles GET /debug/info
func (s *Server) DebugHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"build":  buildinfo.Info(),
		"time":   time.Now().UTC().Format(time.RFC3339),
		"config": s.Cfg.Redacted(),
	})
}

// PendingListHandler handles GET /v1/admin/pending
func (s *Server) PendingListHandler(w http.ResponseWriter, r *http.Request) {
	items, err := s.Store.LoadAll(r.Context())
	if err != nil {
		writeError(w, r, "Load pending shipments failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "count": len(items)})
}

// PendingDeleteHandler handles DELETE /v1/admin/pending/{shipmentId}
func (s *Server) PendingDeleteHandler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("shipmentId")
	if err := store.Remove(r.Context(), s.Store, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeProblem(w, http.StatusNotFound, "Pending shipment not found", id, r.URL.Path)
			return
		}
		writeError(w, r, "Remove pending shipment failed", err)
		return
	}
	s.log.Info("pending shipment removed by admin", "shipment_id", id)
	w.WriteHeader(http.StatusNoContent)
}

// SweepHandler handles POST /v1/admin/sweep
func (s *Server) SweepHandler(w http.ResponseWriter, r *http.Request) {
	if s.Sweeper == nil {
		writeProblem(w, http.StatusServiceUnavailable, "Sweep not configured", "", r.URL.Path)
		return
	}
	rep, err := s.Sweeper.Run(r.Context())
	switch {
	case errors.Is(err, sweep.ErrSweepRunning):
		writeProblem(w, http.StatusConflict, "Sweep already running", "", r.URL.Path)
	case err != nil:
		writeError(w, r, "Sweep failed", err)
	default:
		writeJSON(w, http.StatusOK, rep)
	}
}
