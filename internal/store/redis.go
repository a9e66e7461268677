package store

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"

	"shiprelay/internal/apperr"
	"shiprelay/internal/model"
)

const redisMaxRetries = 25

// Redis keeps the pending list as one JSON document under Key and uses
// optimistic WATCH/MULTI transactions for read-modify-write.
type Redis struct {
	rdb *redis.Client
	key string
	now func() time.Time
}

func NewRedis(url, key string) (*Redis, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	if key == "" {
		key = "shiprelay:pending"
	}
	return &Redis{rdb: redis.NewClient(opt), key: key, now: time.Now}, nil
}

func (r *Redis) Ping(ctx context.Context) error { return r.rdb.Ping(ctx).Err() }

func (r *Redis) Close() error { return r.rdb.Close() }

// Client exposes the connection so the event broker can share it.
func (r *Redis) Client() *redis.Client { return r.rdb }

func (r *Redis) Append(ctx context.Context, shipmentID string, orderID int64) (model.PendingShipment, error) {
	rec := model.PendingShipment{ShipmentID: shipmentID, OrderID: orderID, CreatedAt: r.now().UTC()}
	err := r.update(ctx, func(cur []model.PendingShipment) []model.PendingShipment { return append(cur, rec) })
	if err != nil {
		return model.PendingShipment{}, apperr.Persistence("append pending shipment", err)
	}
	return rec, nil
}

func (r *Redis) LoadAll(ctx context.Context) ([]model.PendingShipment, error) {
	items, err := r.load(ctx, r.rdb)
	if err != nil {
		return nil, apperr.Persistence("load pending shipments", err)
	}
	return items, nil
}

func (r *Redis) ReplaceAll(ctx context.Context, items []model.PendingShipment) error {
	return r.Modify(ctx, func([]model.PendingShipment) []model.PendingShipment { return items })
}

func (r *Redis) Modify(ctx context.Context, fn func([]model.PendingShipment) []model.PendingShipment) error {
	if err := r.update(ctx, fn); err != nil {
		return apperr.Persistence("rewrite pending shipments", err)
	}
	return nil
}

func (r *Redis) update(ctx context.Context, fn func([]model.PendingShipment) []model.PendingShipment) error {
	for i := 0; i < redisMaxRetries; i++ {
		err := r.rdb.Watch(ctx, func(tx *redis.Tx) error {
			cur, err := r.load(ctx, tx)
			if err != nil {
				return err
			}
			next := fn(cur)
			if next == nil {
				next = []model.PendingShipment{}
			}
			b, err := json.Marshal(next)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
				p.Set(ctx, r.key, b, 0)
				return nil
			})
			return err
		}, r.key)
		if errors.Is(err, redis.TxFailedErr) {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(i+1) * 2 * time.Millisecond):
			}
			continue
		}
		return err
	}
	return errors.New("pending list contended; gave up after retries")
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (r *Redis) load(ctx context.Context, c getter) ([]model.PendingShipment, error) {
	b, err := c.Get(ctx, r.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return []model.PendingShipment{}, nil
	}
	if err != nil {
		return nil, err
	}
	items := []model.PendingShipment{}
	if err := json.Unmarshal(b, &items); err != nil {
		return nil, err
	}
	return items, nil
}

func (r *Redis) claimKey(orderID int64) string {
	return r.key + ":order:" + strconv.FormatInt(orderID, 10)
}

func (r *Redis) ClaimOrder(ctx context.Context, orderID int64) (bool, error) {
	ok, err := r.rdb.SetNX(ctx, r.claimKey(orderID), r.now().UTC().Format(time.RFC3339), 0).Result()
	if err != nil {
		return false, apperr.Persistence("claim order", err)
	}
	return ok, nil
}

func (r *Redis) ReleaseOrder(ctx context.Context, orderID int64) error {
	if err := r.rdb.Del(ctx, r.claimKey(orderID)).Err(); err != nil {
		return apperr.Persistence("release order", err)
	}
	return nil
}
