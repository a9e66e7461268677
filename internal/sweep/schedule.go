package sweep

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"shiprelay/internal/logging"
)

// NextRun returns the first weekday at hour:minute in loc strictly after now.
func NextRun(now time.Time, loc *time.Location, weekday time.Weekday, hour, minute int) time.Time {
	local := now.In(loc)
	days := (int(weekday) - int(local.Weekday()) + 7) % 7
	d := local.AddDate(0, 0, days)
	next := time.Date(d.Year(), d.Month(), d.Day(), hour, minute, 0, 0, loc)
	if !next.After(local) {
		d = d.AddDate(0, 0, 7)
		next = time.Date(d.Year(), d.Month(), d.Day(), hour, minute, 0, 0, loc)
	}
	return next
}

type Runner interface {
	Run(ctx context.Context) (Report, error)
}

// Scheduler fires Runner once a week. A run still in progress when the next
// slot arrives is not overlapped; the slot is recomputed after it returns.
type Scheduler struct {
	Runner  Runner
	Weekday time.Weekday
	Hour    int
	Minute  int
	Loc     *time.Location
	Now     func() time.Time
	log     *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewScheduler(r Runner, weekday time.Weekday, hour, minute int, loc *time.Location, log *slog.Logger) *Scheduler {
	if loc == nil {
		loc = time.Local
	}
	if log == nil {
		log = logging.Discard()
	}
	return &Scheduler{Runner: r, Weekday: weekday, Hour: hour, Minute: minute, Loc: loc, Now: time.Now, log: log}
}

// Start launches the loop; it ends when ctx is cancelled or Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go s.loop(ctx, s.done)
}

// Stop cancels the loop, including a sweep in progress, and waits for it to exit.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		now := s.Now()
		next := NextRun(now, s.Loc, s.Weekday, s.Hour, s.Minute)
		s.log.Info("next sweep scheduled", "at", next.Format(time.RFC3339))
		timer := time.NewTimer(next.Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		if _, err := s.Runner.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.log.Warn("scheduled sweep ended with error", "err", err)
		}
	}
}
