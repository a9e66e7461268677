// Package sweep retries AWB assignment for shipments still pending and keeps
// whatever the carrier did not resolve for the next run.
package sweep

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"shiprelay/internal/auth"
	"shiprelay/internal/carrier"
	"shiprelay/internal/events"
	"shiprelay/internal/logging"
	"shiprelay/internal/metrics"
	"shiprelay/internal/model"
	"shiprelay/internal/store"
)

// PickupLayout is the carrier's future_pickup_scheduled format.
const PickupLayout = "2006-01-02 15:04:05"

var ErrSweepRunning = errors.New("sweep already running")

type Credentials interface {
	Get(ctx context.Context) (auth.Credential, error)
	Invalidate()
}

type AWBAssigner interface {
	AssignAWB(ctx context.Context, token string, req carrier.AWBRequest) (string, error)
}

type Report struct {
	Attempted int       `json:"attempted"`
	Resolved  int       `json:"resolved"`
	Retained  int       `json:"retained"`
	PickupAt  string    `json:"pickupAt"`
	StartedAt time.Time `json:"startedAt"`
	Duration  string    `json:"duration"`
}

// Sweeper processes the pending list one entry at a time. Only one Run may be
// active; a second concurrent call gets ErrSweepRunning.
type Sweeper struct {
	Store       store.Store
	Creds       Credentials
	Carrier     AWBAssigner
	Events      events.Broker
	Limiter     *rate.Limiter
	Location    *time.Location
	PickupHour  int
	VehicleType string
	Now         func() time.Time
	log         *slog.Logger

	running sync.Mutex
}

// New builds a sweeper paced at rps AWB calls per second; rps <= 0 disables pacing.
func New(st store.Store, creds Credentials, c AWBAssigner, rps float64, loc *time.Location, pickupHour int, vehicle string, log *slog.Logger) *Sweeper {
	lim := rate.NewLimiter(rate.Inf, 1)
	if rps > 0 {
		lim = rate.NewLimiter(rate.Limit(rps), 1)
	}
	if loc == nil {
		loc = time.Local
	}
	if log == nil {
		log = logging.Discard()
	}
	return &Sweeper{
		Store: st, Creds: creds, Carrier: c, Events: events.Nop{}, Limiter: lim,
		Location: loc, PickupHour: pickupHour, VehicleType: vehicle, Now: time.Now, log: log,
	}
}

// NextPickup is the first Monday strictly after the calendar day of now, at hour:00 in loc.
func NextPickup(now time.Time, loc *time.Location, hour int) time.Time {
	local := now.In(loc)
	days := (int(time.Monday) - int(local.Weekday()) + 7) % 7
	if days == 0 {
		days = 7
	}
	d := local.AddDate(0, 0, days)
	return time.Date(d.Year(), d.Month(), d.Day(), hour, 0, 0, 0, loc)
}

// Run performs one sweep. Entries resolved before ctx ends are dropped even if
// the sweep is cut short; everything else stays pending.
func (s *Sweeper) Run(ctx context.Context) (Report, error) {
	if !s.running.TryLock() {
		return Report{}, ErrSweepRunning
	}
	defer s.running.Unlock()

	started := s.Now()
	pickup := NextPickup(started, s.Location, s.PickupHour).Format(PickupLayout)
	rep := Report{PickupAt: pickup, StartedAt: started.UTC()}

	pending, err := s.Store.LoadAll(ctx)
	if err != nil {
		metrics.SweepRuns.WithLabelValues("error").Inc()
		s.log.Error("sweep could not load pending shipments", "err", err)
		return rep, err
	}
	if len(pending) == 0 {
		metrics.SweepRuns.WithLabelValues("empty").Inc()
		s.log.Info("sweep found nothing pending")
		rep.Duration = time.Since(started).String()
		return rep, nil
	}

	resolved := make(map[string]struct{}, len(pending))
	var runErr error
	for _, p := range pending {
		if err := s.Limiter.Wait(ctx); err != nil {
			runErr = err
			break
		}
		rep.Attempted++
		awb, err := s.assign(ctx, p, pickup)
		if err != nil {
			metrics.SweepShipments.WithLabelValues("retained").Inc()
			s.log.Warn("awb not assigned; keeping shipment", "shipment_id", p.ShipmentID, "order_id", p.OrderID, "err", err)
			s.emit(events.New("awb.retained", map[string]any{"shipmentId": p.ShipmentID, "orderId": p.OrderID, "error": err.Error()}))
			continue
		}
		resolved[p.ShipmentID] = struct{}{}
		metrics.SweepShipments.WithLabelValues("resolved").Inc()
		s.log.Info("awb assigned", "shipment_id", p.ShipmentID, "order_id", p.OrderID, "awb", awb)
		s.emit(events.New("awb.assigned", map[string]any{"shipmentId": p.ShipmentID, "orderId": p.OrderID, "awbCode": awb}))
	}

	// The final write must land even when ctx was cancelled mid-run.
	if err := store.DropResolved(context.WithoutCancel(ctx), s.Store, resolved); err != nil {
		metrics.SweepRuns.WithLabelValues("error").Inc()
		s.log.Error("sweep could not rewrite pending shipments", "err", err, "resolved", len(resolved))
		return rep, err
	}
	rep.Resolved = len(resolved)
	rep.Retained = len(pending) - len(resolved)
	rep.Duration = time.Since(started).String()

	status := "ok"
	if runErr != nil {
		status = "interrupted"
	}
	metrics.SweepRuns.WithLabelValues(status).Inc()
	s.log.Info("sweep finished", "status", status, "attempted", rep.Attempted, "resolved", rep.Resolved, "retained", rep.Retained, "pickup", pickup)
	s.emit(events.New("sweep.completed", map[string]any{"attempted": rep.Attempted, "resolved": rep.Resolved, "retained": rep.Retained, "pickupAt": pickup}))
	return rep, runErr
}

func (s *Sweeper) assign(ctx context.Context, p model.PendingShipment, pickup string) (string, error) {
	cred, err := s.Creds.Get(ctx)
	if err != nil {
		return "", err
	}
	awb, err := s.Carrier.AssignAWB(ctx, cred.Token, carrier.AWBRequest{
		ShipmentID:            p.ShipmentID,
		FuturePickupScheduled: pickup,
		VehicleType:           s.VehicleType,
	})
	if errors.Is(err, carrier.ErrUnauthorized) {
		s.Creds.Invalidate()
	}
	return awb, err
}

func (s *Sweeper) emit(evt events.Event) {
	if s.Events != nil {
		s.Events.Publish(events.TopicSweep, evt)
	}
}
