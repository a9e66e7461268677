package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"shiprelay/internal/apperr"
	"shiprelay/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Postgres stores pending shipments in a table; Modify takes an exclusive
// table lock so concurrent appends wait for the rewrite.
type Postgres struct {
	db  *sql.DB
	now func() time.Time
}

func NewPostgres(dsn string) (*Postgres, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Postgres{db: db, now: time.Now}, nil
}

// Migrate applies the embedded goose migrations.
func (p *Postgres) Migrate() error {
	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	if err := goose.Up(p.db, "migrations"); err != nil {
		return fmt.Errorf("goose up: %w", err)
	}
	return nil
}

func (p *Postgres) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

func (p *Postgres) Close() error { return p.db.Close() }

func (p *Postgres) Append(ctx context.Context, shipmentID string, orderID int64) (model.PendingShipment, error) {
	rec := model.PendingShipment{ShipmentID: shipmentID, OrderID: orderID, CreatedAt: p.now().UTC()}
	_, err := p.db.ExecContext(ctx, `INSERT INTO pending_shipments (shipment_id, order_id, created_at) VALUES ($1,$2,$3)`,
		rec.ShipmentID, rec.OrderID, rec.CreatedAt)
	if err != nil {
		return model.PendingShipment{}, apperr.Persistence("insert pending shipment", err)
	}
	return rec, nil
}

func (p *Postgres) LoadAll(ctx context.Context) ([]model.PendingShipment, error) {
	items, err := p.list(ctx, p.db)
	if err != nil {
		return nil, apperr.Persistence("list pending shipments", err)
	}
	return items, nil
}

func (p *Postgres) ReplaceAll(ctx context.Context, items []model.PendingShipment) error {
	return p.Modify(ctx, func([]model.PendingShipment) []model.PendingShipment { return items })
}

func (p *Postgres) Modify(ctx context.Context, fn func([]model.PendingShipment) []model.PendingShipment) error {
	if err := p.modify(ctx, fn); err != nil {
		return apperr.Persistence("rewrite pending shipments", err)
	}
	return nil
}

func (p *Postgres) modify(ctx context.Context, fn func([]model.PendingShipment) []model.PendingShipment) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `LOCK TABLE pending_shipments IN EXCLUSIVE MODE`); err != nil {
		return err
	}
	cur, err := p.list(ctx, tx)
	if err != nil {
		return err
	}
	next := fn(cur)
	if _, err := tx.ExecContext(ctx, `DELETE FROM pending_shipments`); err != nil {
		return err
	}
	for _, rec := range next {
		if _, err := tx.ExecContext(ctx, `INSERT INTO pending_shipments (shipment_id, order_id, created_at) VALUES ($1,$2,$3)`,
			rec.ShipmentID, rec.OrderID, rec.CreatedAt.UTC()); err != nil {
			return err
		}
	}
	return tx.Commit()
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (p *Postgres) list(ctx context.Context, q queryer) ([]model.PendingShipment, error) {
	rows, err := q.QueryContext(ctx, `SELECT shipment_id, order_id, created_at FROM pending_shipments ORDER BY seq`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.PendingShipment{}
	for rows.Next() {
		var rec model.PendingShipment
		if err := rows.Scan(&rec.ShipmentID, &rec.OrderID, &rec.CreatedAt); err != nil {
			return nil, err
		}
		rec.CreatedAt = rec.CreatedAt.UTC()
		out = append(out, rec)
	}
	return out, rows.Err()
}

// ClaimOrder relies on the processed_orders primary key for uniqueness.
func (p *Postgres) ClaimOrder(ctx context.Context, orderID int64) (bool, error) {
	res, err := p.db.ExecContext(ctx, `INSERT INTO processed_orders (order_id) VALUES ($1) ON CONFLICT (order_id) DO NOTHING`, orderID)
	if err != nil {
		return false, apperr.Persistence("claim order", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, apperr.Persistence("claim order", err)
	}
	return n == 1, nil
}

func (p *Postgres) ReleaseOrder(ctx context.Context, orderID int64) error {
	if _, err := p.db.ExecContext(ctx, `DELETE FROM processed_orders WHERE order_id=$1`, orderID); err != nil {
		return apperr.Persistence("release order", err)
	}
	return nil
}
