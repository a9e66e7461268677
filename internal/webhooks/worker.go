package webhooks

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	"shiprelay/internal/logging"
)

// ErrStopped is returned by Submit once Stop has been called.
var ErrStopped = errors.New("worker stopped")

// Task is one accepted delivery processed after the HTTP response is sent.
type Task func(ctx context.Context) error

// Worker runs accepted webhook deliveries in the background, bounded by
// MaxInFlight and a per-task timeout independent of the request context.
type Worker struct {
	Timeout time.Duration
	log     *slog.Logger

	sem chan struct{}
	wg  sync.WaitGroup

	mu       sync.Mutex
	stopped  bool
	seq      uint64
	inFlight map[uint64]string
}

func NewWorker(maxInFlight int, timeout time.Duration, log *slog.Logger) *Worker {
	if maxInFlight <= 0 {
		maxInFlight = 16
	}
	if timeout <= 0 {
		timeout = time.Minute
	}
	if log == nil {
		log = logging.Discard()
	}
	return &Worker{Timeout: timeout, log: log, sem: make(chan struct{}, maxInFlight), inFlight: map[uint64]string{}}
}

// Submit schedules task without blocking the caller. name tags log lines.
func (w *Worker) Submit(name string, task Task) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return ErrStopped
	}
	w.seq++
	id := w.seq
	w.inFlight[id] = name
	w.wg.Add(1)
	go w.run(id, name, task)
	return nil
}

// InFlight names the submitted tasks that have not finished, queued ones included.
func (w *Worker) InFlight() []string {
	w.mu.Lock()
	names := make([]string, 0, len(w.inFlight))
	for _, n := range w.inFlight {
		names = append(names, n)
	}
	w.mu.Unlock()
	slices.Sort(names)
	return names
}

func (w *Worker) run(id uint64, name string, task Task) {
	defer w.wg.Done()
	defer func() {
		w.mu.Lock()
		delete(w.inFlight, id)
		w.mu.Unlock()
	}()
	w.sem <- struct{}{}
	defer func() { <-w.sem }()

	ctx, cancel := context.WithTimeout(context.Background(), w.Timeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			w.log.Error("webhook task panicked", "task", name, "panic", r)
		}
	}()
	start := time.Now()
	if err := task(ctx); err != nil {
		w.log.Warn("webhook task failed", "task", name, "err", err, "duration_ms", time.Since(start).Milliseconds())
		return
	}
	w.log.Debug("webhook task done", "task", name, "duration_ms", time.Since(start).Milliseconds())
}

// Stop refuses new tasks and waits for in-flight ones until ctx ends. It may be
// called again to keep waiting.
func (w *Worker) Stop(ctx context.Context) error {
	w.mu.Lock()
	w.stopped = true
	w.mu.Unlock()

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
