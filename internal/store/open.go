package store

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"shiprelay/internal/config"
	"shiprelay/internal/metrics"
	"shiprelay/internal/model"
)

// Open picks the backend: DATABASE_URL, then REDIS_URL, then the JSON file.
func Open(cfg config.Storage, log *slog.Logger) (*Observed, error) {
	switch {
	case cfg.DatabaseURL != "":
		pg, err := NewPostgres(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("postgres store: %w", err)
		}
		if cfg.Migrate {
			if err := pg.Migrate(); err != nil {
				_ = pg.Close()
				return nil, err
			}
		}
		log.Info("pending store opened", "backend", "postgres")
		return Observe(pg), nil
	case cfg.RedisURL != "":
		rs, err := NewRedis(cfg.RedisURL, cfg.RedisKey)
		if err != nil {
			return nil, fmt.Errorf("redis store: %w", err)
		}
		log.Info("pending store opened", "backend", "redis", "key", cfg.RedisKey)
		return Observe(rs), nil
	case cfg.PendingFile != "":
		log.Info("pending store opened", "backend", "file", "path", cfg.PendingFile)
		return Observe(NewFile(cfg.PendingFile)), nil
	default:
		log.Warn("no durable pending store configured; using memory")
		return Observe(NewMemory()), nil
	}
}

// Observed keeps the pending_shipments gauge current and forwards health/close hooks.
type Observed struct {
	Backend
}

func Observe(b Backend) *Observed { return &Observed{Backend: b} }

func (o *Observed) Append(ctx context.Context, shipmentID string, orderID int64) (model.PendingShipment, error) {
	rec, err := o.Backend.Append(ctx, shipmentID, orderID)
	if err == nil {
		metrics.Pending.Inc()
	}
	return rec, err
}

func (o *Observed) LoadAll(ctx context.Context) ([]model.PendingShipment, error) {
	items, err := o.Backend.LoadAll(ctx)
	if err == nil {
		metrics.Pending.Set(float64(len(items)))
	}
	return items, err
}

func (o *Observed) ReplaceAll(ctx context.Context, items []model.PendingShipment) error {
	err := o.Backend.ReplaceAll(ctx, items)
	if err == nil {
		metrics.Pending.Set(float64(len(items)))
	}
	return err
}

func (o *Observed) Modify(ctx context.Context, fn func([]model.PendingShipment) []model.PendingShipment) error {
	n := -1
	err := o.Backend.Modify(ctx, func(cur []model.PendingShipment) []model.PendingShipment {
		next := fn(cur)
		n = len(next)
		return next
	})
	if err == nil && n >= 0 {
		metrics.Pending.Set(float64(n))
	}
	return err
}

// Ping reports backend health; stores without a connection are always healthy.
func (o *Observed) Ping(ctx context.Context) error {
	if p, ok := o.Backend.(interface{ Ping(context.Context) error }); ok {
		return p.Ping(ctx)
	}
	return nil
}

func (o *Observed) Close() error {
	if c, ok := o.Backend.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
