package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry is the dedicated Prometheus registry for the relay
	Registry = prometheus.NewRegistry()
	// HTTPRequests counts requests by method, path, and status
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "http_requests_total", Help: "Total HTTP requests."},
		[]string{"method", "path", "status"},
	)
	// HTTPDuration records request durations in seconds
	HTTPDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "http_request_duration_seconds", Help: "HTTP request duration in seconds.", Buckets: prometheus.DefBuckets},
		[]string{"method", "path", "status"},
	)

	// WebhookReceipts counts inbound order webhooks by outcome (accepted, unauthenticated, invalid)
	WebhookReceipts = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "webhook_receipts_total", Help: "Inbound order webhooks by outcome."},
		[]string{"outcome"},
	)
	// IngestResults counts background pipeline terminal states
	IngestResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "ingest_results_total", Help: "Order pipeline terminal states."},
		[]string{"state"},
	)
	// CarrierCalls counts carrier API calls by operation and status class
	CarrierCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "carrier_calls_total", Help: "Carrier API calls by operation and status."},
		[]string{"op", "status"},
	)
	// CarrierDuration tracks carrier call latency in seconds
	CarrierDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "carrier_call_duration_seconds", Help: "Carrier API latency in seconds.", Buckets: []float64{.05, .1, .25, .5, 1, 2, 5, 10}},
		[]string{"op"},
	)
	// GeocodeLookups counts geocoder outcomes (resolved, empty, no_results, error)
	GeocodeLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "geocode_lookups_total", Help: "Geocoder lookups by result."},
		[]string{"result"},
	)
	// SweepRuns counts reconciliation sweeps by status
	SweepRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "sweep_runs_total", Help: "Reconciliation sweeps by status."},
		[]string{"status"},
	)
	// SweepShipments counts per-entry sweep outcomes (resolved, retained)
	SweepShipments = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "sweep_shipments_total", Help: "Sweep outcomes per pending shipment."},
		[]string{"result"},
	)
	// EventsDropped counts events a full subscriber buffer did not receive
	EventsDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "events_dropped_total", Help: "Events dropped for slow subscribers by topic."},
		[]string{"topic"},
	)
	// Pending is the number of shipments waiting for an AWB after the last store write
	Pending = prometheus.NewGauge(prometheus.GaugeOpts{Name: "pending_shipments", Help: "Shipments awaiting AWB assignment."})
)

// RegisterDefault registers collectors to the relay registry.
func RegisterDefault() {
	regOnce.Do(func() {
		Registry.MustRegister(HTTPRequests)
		Registry.MustRegister(HTTPDuration)
		Registry.MustRegister(WebhookReceipts)
		Registry.MustRegister(IngestResults)
		Registry.MustRegister(CarrierCalls)
		Registry.MustRegister(CarrierDuration)
		Registry.MustRegister(GeocodeLookups)
		Registry.MustRegister(SweepRuns)
		Registry.MustRegister(SweepShipments)
		Registry.MustRegister(Pending)
		Registry.MustRegister(EventsDropped)
		// Go/process collectors on our registry
		Registry.MustRegister(collectors.NewGoCollector())
		Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	})
}

// Handler exposes the registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

var regOnce sync.Once
