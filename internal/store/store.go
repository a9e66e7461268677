package store

import (
	"context"
	"errors"

	"shiprelay/internal/model"
)

// Store is the durable list of shipments still waiting for an AWB.
// Implementations serialize every read-modify-write so a concurrent Append
// and Modify never lose entries.
type Store interface {
	// Append adds a record stamped with the current time.
	Append(ctx context.Context, shipmentID string, orderID int64) (model.PendingShipment, error)
	// LoadAll returns every record in append order; a store never written is empty.
	LoadAll(ctx context.Context) ([]model.PendingShipment, error)
	// ReplaceAll overwrites the store with exactly items.
	ReplaceAll(ctx context.Context, items []model.PendingShipment) error
	// Modify replaces the list with fn(current) atomically with respect to other writers.
	Modify(ctx context.Context, fn func([]model.PendingShipment) []model.PendingShipment) error
}

// OrderLedger records order ids already sent to the carrier so redeliveries can be skipped.
type OrderLedger interface {
	// ClaimOrder returns false when orderID was already claimed.
	ClaimOrder(ctx context.Context, orderID int64) (bool, error)
	ReleaseOrder(ctx context.Context, orderID int64) error
}

// Backend is what every concrete store provides.
type Backend interface {
	Store
	OrderLedger
}

var ErrNotFound = errors.New("not found")

// Remove deletes the record for shipmentID.
func Remove(ctx context.Context, s Store, shipmentID string) error {
	found := false
	err := s.Modify(ctx, func(cur []model.PendingShipment) []model.PendingShipment {
		out := make([]model.PendingShipment, 0, len(cur))
		for _, p := range cur {
			if p.ShipmentID == shipmentID {
				found = true
				continue
			}
			out = append(out, p)
		}
		return out
	})
	if err != nil {
		return err
	}
	if !found {
		return ErrNotFound
	}
	return nil
}

// DropResolved removes every record whose shipment id is in resolved and
// keeps the rest, including records appended after the caller loaded the list.
func DropResolved(ctx context.Context, s Store, resolved map[string]struct{}) error {
	if len(resolved) == 0 {
		return nil
	}
	return s.Modify(ctx, func(cur []model.PendingShipment) []model.PendingShipment {
		out := make([]model.PendingShipment, 0, len(cur))
		for _, p := range cur {
			if _, ok := resolved[p.ShipmentID]; ok {
				continue
			}
			out = append(out, p)
		}
		return out
	})
}

func cloneList(in []model.PendingShipment) []model.PendingShipment {
	out := make([]model.PendingShipment, len(in))
	copy(out, in)
	return out
}
