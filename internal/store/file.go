package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"shiprelay/internal/apperr"
	"shiprelay/internal/model"
)

// File keeps the pending list as an indented JSON array, rewritten whole on
// every mutation. Claimed order ids live in a sibling "<path>.orders.json".
type File struct {
	path       string
	claimsPath string
	mu         sync.Mutex
	now        func() time.Time
}

func NewFile(path string) *File {
	return &File{path: path, claimsPath: path + ".orders.json", now: time.Now}
}

// Path is the backing file location.
func (f *File) Path() string { return f.path }

func (f *File) Append(ctx context.Context, shipmentID string, orderID int64) (model.PendingShipment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	items, err := f.read()
	if err != nil {
		return model.PendingShipment{}, err
	}
	p := model.PendingShipment{ShipmentID: shipmentID, OrderID: orderID, CreatedAt: f.now().UTC()}
	if err := f.write(append(items, p)); err != nil {
		return model.PendingShipment{}, err
	}
	return p, nil
}

func (f *File) LoadAll(ctx context.Context) ([]model.PendingShipment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.read()
}

func (f *File) ReplaceAll(ctx context.Context, items []model.PendingShipment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.write(items)
}

func (f *File) Modify(ctx context.Context, fn func([]model.PendingShipment) []model.PendingShipment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	items, err := f.read()
	if err != nil {
		return err
	}
	return f.write(fn(items))
}

func (f *File) ClaimOrder(ctx context.Context, orderID int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids, err := f.readClaims()
	if err != nil {
		return false, err
	}
	if _, ok := ids[orderID]; ok {
		return false, nil
	}
	ids[orderID] = struct{}{}
	return true, f.writeClaims(ids)
}

func (f *File) ReleaseOrder(ctx context.Context, orderID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids, err := f.readClaims()
	if err != nil {
		return err
	}
	if _, ok := ids[orderID]; !ok {
		return nil
	}
	delete(ids, orderID)
	return f.writeClaims(ids)
}

func (f *File) read() ([]model.PendingShipment, error) {
	items := []model.PendingShipment{}
	if err := readJSON(f.path, &items); err != nil {
		return nil, apperr.Persistence("read pending shipments", err)
	}
	return items, nil
}

func (f *File) write(items []model.PendingShipment) error {
	if items == nil {
		items = []model.PendingShipment{}
	}
	if err := writeJSON(f.path, items); err != nil {
		return apperr.Persistence("write pending shipments", err)
	}
	return nil
}

func (f *File) readClaims() (map[int64]struct{}, error) {
	var list []int64
	if err := readJSON(f.claimsPath, &list); err != nil {
		return nil, apperr.Persistence("read claimed orders", err)
	}
	ids := make(map[int64]struct{}, len(list))
	for _, id := range list {
		ids[id] = struct{}{}
	}
	return ids, nil
}

func (f *File) writeClaims(ids map[int64]struct{}) error {
	list := make([]int64, 0, len(ids))
	for id := range ids {
		list = append(list, id)
	}
	sort.Slice(list, func(i, j int) bool { return list[i] < list[j] })
	if err := writeJSON(f.claimsPath, list); err != nil {
		return apperr.Persistence("write claimed orders", err)
	}
	return nil
}

// readJSON leaves v untouched when the file is missing or blank.
func readJSON(path string, v any) error {
	b, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if len(bytes.TrimSpace(b)) == 0 {
		return nil
	}
	return json.Unmarshal(b, v)
}

// writeJSON replaces path via a temp file and rename so readers never see a torn write.
func writeJSON(path string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	defer func() { _ = os.Remove(tmp.Name()) }()
	if _, err := tmp.Write(append(b, '\n')); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
