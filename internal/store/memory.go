package store

import (
	"context"
	"sync"
	"time"

	"shiprelay/internal/model"
)

// Memory is an in-process store used by tests and when nothing durable is configured.
type Memory struct {
	mu      sync.Mutex
	items   []model.PendingShipment
	claimed map[int64]struct{}
	now     func() time.Time
}

func NewMemory() *Memory {
	return &Memory{claimed: map[int64]struct{}{}, now: time.Now}
}

func (m *Memory) Append(ctx context.Context, shipmentID string, orderID int64) (model.PendingShipment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := model.PendingShipment{ShipmentID: shipmentID, OrderID: orderID, CreatedAt: m.now().UTC()}
	m.items = append(m.items, p)
	return p, nil
}

func (m *Memory) LoadAll(ctx context.Context) ([]model.PendingShipment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return cloneList(m.items), nil
}

func (m *Memory) ReplaceAll(ctx context.Context, items []model.PendingShipment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items = cloneList(items)
	return nil
}

func (m *Memory) Modify(ctx context.Context, fn func([]model.PendingShipment) []model.PendingShipment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items = cloneList(fn(cloneList(m.items)))
	return nil
}

func (m *Memory) ClaimOrder(ctx context.Context, orderID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.claimed[orderID]; ok {
		return false, nil
	}
	m.claimed[orderID] = struct{}{}
	return true, nil
}

func (m *Memory) ReleaseOrder(ctx context.Context, orderID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.claimed, orderID)
	return nil
}
