package ingest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shiprelay/internal/apperr"
	"shiprelay/internal/auth"
	"shiprelay/internal/carrier"
	"shiprelay/internal/config"
	"shiprelay/internal/events"
	"shiprelay/internal/model"
	"shiprelay/internal/store"
	"shiprelay/internal/transform"
)

type fakeGeocoder struct{ coords model.Coordinates }

func (g fakeGeocoder) Resolve(ctx context.Context, postal string) model.Coordinates {
	if postal == "" {
		return model.SentinelCoordinates
	}
	return g.coords
}

type fakeCreds struct {
	err         error
	invalidated int
}

func (c *fakeCreds) Get(ctx context.Context) (auth.Credential, error) {
	if c.err != nil {
		return auth.Credential{}, c.err
	}
	return auth.Credential{Token: "tok", FetchedAt: time.Now()}, nil
}

func (c *fakeCreds) Invalidate() { c.invalidated++ }

type fakeCarrier struct {
	mu   sync.Mutex
	id   string
	err  error
	reqs []model.ShipmentRequest
}

func (c *fakeCarrier) CreateShipment(ctx context.Context, token string, req model.ShipmentRequest) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reqs = append(c.reqs, req)
	return c.id, c.err
}

type failingStore struct{ store.Store }

func (failingStore) Append(ctx context.Context, shipmentID string, orderID int64) (model.PendingShipment, error) {
	return model.PendingShipment{}, apperr.Persistence("write pending shipments", errors.New("disk full"))
}

const orderJSON = `{
  "id": 1001,
  "created_at": "2024-02-28T14:05:00+05:30",
  "billing_address": {"first_name": "Ada", "zip": "10001", "city": "New York"},
  "line_items": [{"name": "Widget", "sku": "W1", "quantity": 1, "price": "9.99"}],
  "financial_status": "paid"
}`

func newPipeline(st store.Store, cr *fakeCarrier, creds *fakeCreds) *Pipeline {
	return &Pipeline{
		Geocoder:    fakeGeocoder{coords: model.Coordinates{Lat: "40.75", Lng: "-73.99"}},
		Transformer: transform.New(config.Default().Defaults),
		Creds:       creds,
		Carrier:     cr,
		Store:       st,
	}
}

func TestDecode(t *testing.T) {
	o, err := Decode([]byte(orderJSON))
	require.NoError(t, err)
	assert.Equal(t, int64(1001), o.ID)
	assert.Equal(t, "10001", o.BillingAddress.Zip)

	for name, body := range map[string]string{
		"not json":   `{"id":`,
		"no id":      `{"line_items":[{"name":"x"}]}`,
		"no items":   `{"id":5,"line_items":[]}`,
		"empty body": ``,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Decode([]byte(body))
			require.Error(t, err)
			assert.True(t, apperr.Is(err, apperr.CodeValidation))
		})
	}
}

func TestProcess_EndToEnd(t *testing.T) {
	st := store.NewMemory()
	cr := &fakeCarrier{id: "S1"}
	broker := events.NewMemory()
	sub := broker.Subscribe(events.TopicOrders)
	p := newPipeline(st, cr, &fakeCreds{})
	p.Events = broker

	o, err := Decode([]byte(orderJSON))
	require.NoError(t, err)
	res, err := p.Process(context.Background(), o)
	require.NoError(t, err)
	assert.Equal(t, StateDone, res.State)
	assert.Equal(t, "S1", res.ShipmentID)

	require.Len(t, cr.reqs, 1)
	req := cr.reqs[0]
	assert.Equal(t, model.PaymentPrepaid, req.PaymentMethod)
	require.Len(t, req.OrderItems, 1)
	assert.Equal(t, "Widget", req.OrderItems[0].Name)
	assert.Equal(t, "W1", req.OrderItems[0].SKU)
	assert.Equal(t, "40.75", req.Latitude)

	items, err := st.LoadAll(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "S1", items[0].ShipmentID)
	assert.Equal(t, int64(1001), items[0].OrderID)

	evt := <-sub
	assert.Equal(t, "shipment.created", evt.Type)
	assert.Equal(t, "S1", evt.Data["shipmentId"])
}

func TestProcess_UndatedOrderUsesPipelineClock(t *testing.T) {
	cr := &fakeCarrier{id: "S9"}
	p := newPipeline(store.NewMemory(), cr, &fakeCreds{})
	p.Now = func() time.Time { return time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC) }

	o, err := Decode([]byte(`{"id":9,"line_items":[{"name":"x","quantity":1,"price":"1"}]}`))
	require.NoError(t, err)
	_, err = p.Process(context.Background(), o)
	require.NoError(t, err)
	require.Len(t, cr.reqs, 1)
	assert.Equal(t, "2024-03-01 09:30", cr.reqs[0].OrderDate)
}

func TestProcess_MissingZipUsesSentinel(t *testing.T) {
	cr := &fakeCarrier{id: "S2"}
	p := newPipeline(store.NewMemory(), cr, &fakeCreds{})
	res, err := p.Process(context.Background(), model.Order{ID: 9, LineItems: []model.LineItem{{Name: "x", Quantity: 1}}})
	require.NoError(t, err)
	assert.Equal(t, model.SentinelCoordinates, res.Coordinates)
	assert.Equal(t, "0.0", cr.reqs[0].Latitude)
	assert.Equal(t, model.PaymentCOD, cr.reqs[0].PaymentMethod)
}

func TestProcess_InvalidOrderNeverReachesCarrier(t *testing.T) {
	st := store.NewMemory()
	cr := &fakeCarrier{id: "S1"}
	res, err := newPipeline(st, cr, &fakeCreds{}).Process(context.Background(), model.Order{ID: 3})
	require.Error(t, err)
	assert.Equal(t, StateRejectedInvalid, res.State)
	assert.Empty(t, cr.reqs)
	items, _ := st.LoadAll(context.Background())
	assert.Empty(t, items)
}

func TestProcess_CarrierFailureStoresNothing(t *testing.T) {
	st := store.NewMemory()
	cr := &fakeCarrier{err: apperr.Upstream("create shipment", errors.New("502"))}
	res, err := newPipeline(st, cr, &fakeCreds{}).Process(context.Background(), mustDecode(t))
	require.Error(t, err)
	assert.Equal(t, StateCarrierFailed, res.State)
	items, _ := st.LoadAll(context.Background())
	assert.Empty(t, items)
}

func TestProcess_LoginFailure(t *testing.T) {
	cr := &fakeCarrier{id: "S1"}
	creds := &fakeCreds{err: apperr.Auth("carrier login", errors.New("bad password"))}
	res, err := newPipeline(store.NewMemory(), cr, creds).Process(context.Background(), mustDecode(t))
	require.Error(t, err)
	assert.Equal(t, StateCarrierFailed, res.State)
	assert.Empty(t, cr.reqs)
}

func TestProcess_UnauthorizedInvalidatesCredential(t *testing.T) {
	creds := &fakeCreds{}
	cr := &fakeCarrier{err: carrier.ErrUnauthorized}
	_, err := newPipeline(store.NewMemory(), cr, creds).Process(context.Background(), mustDecode(t))
	require.Error(t, err)
	assert.Equal(t, 1, creds.invalidated)
}

func TestProcess_StoreFailureAfterCarrierCreate(t *testing.T) {
	cr := &fakeCarrier{id: "S7"}
	res, err := newPipeline(failingStore{store.NewMemory()}, cr, &fakeCreds{}).Process(context.Background(), mustDecode(t))
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.CodePersistence))
	assert.Equal(t, StateStoreFailed, res.State)
	assert.Equal(t, "S7", res.ShipmentID)
	assert.Len(t, cr.reqs, 1)
}

func TestProcess_LedgerSkipsRedelivery(t *testing.T) {
	st := store.NewMemory()
	cr := &fakeCarrier{id: "S1"}
	p := newPipeline(st, cr, &fakeCreds{})
	p.Ledger = st

	_, err := p.Process(context.Background(), mustDecode(t))
	require.NoError(t, err)
	res, err := p.Process(context.Background(), mustDecode(t))
	require.NoError(t, err)
	assert.Equal(t, StateDuplicate, res.State)
	assert.Len(t, cr.reqs, 1)
	items, _ := st.LoadAll(context.Background())
	assert.Len(t, items, 1)
}

func TestProcess_LedgerReleasedOnCarrierFailure(t *testing.T) {
	st := store.NewMemory()
	cr := &fakeCarrier{err: apperr.Upstream("create shipment", errors.New("timeout"))}
	p := newPipeline(st, cr, &fakeCreds{})
	p.Ledger = st

	_, err := p.Process(context.Background(), mustDecode(t))
	require.Error(t, err)

	cr.err, cr.id = nil, "S9"
	res, err := p.Process(context.Background(), mustDecode(t))
	require.NoError(t, err)
	assert.Equal(t, StateDone, res.State)
}

func TestProcess_WithoutLedgerDuplicatesFlowThrough(t *testing.T) {
	st := store.NewMemory()
	cr := &fakeCarrier{id: "S1"}
	p := newPipeline(st, cr, &fakeCreds{})
	for i := 0; i < 2; i++ {
		_, err := p.Process(context.Background(), mustDecode(t))
		require.NoError(t, err)
	}
	items, _ := st.LoadAll(context.Background())
	assert.Len(t, items, 2)
}

func mustDecode(t *testing.T) model.Order {
	t.Helper()
	o, err := Decode([]byte(orderJSON))
	require.NoError(t, err)
	return o
}
