// Package ingest turns one authenticated order webhook into a pending carrier shipment.
package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"shiprelay/internal/apperr"
	"shiprelay/internal/auth"
	"shiprelay/internal/carrier"
	"shiprelay/internal/events"
	"shiprelay/internal/geocode"
	"shiprelay/internal/logging"
	"shiprelay/internal/metrics"
	"shiprelay/internal/model"
	"shiprelay/internal/store"
	"shiprelay/internal/transform"
)

// State is where an order stopped in the pipeline.
type State string

const (
	StateReceived        State = "received"
	StateAuthenticated   State = "authenticated"
	StateEnriched        State = "enriched"
	StateCarrierCreated  State = "carrier-created"
	StateStored          State = "stored"
	StateDone            State = "done"
	StateRejectedAuth    State = "rejected-auth"
	StateRejectedInvalid State = "rejected-invalid"
	StateCarrierFailed   State = "carrier-failed"
	StateStoreFailed     State = "store-failed"
	StateDuplicate       State = "duplicate"
)

type Credentials interface {
	Get(ctx context.Context) (auth.Credential, error)
	Invalidate()
}

type ShipmentCreator interface {
	CreateShipment(ctx context.Context, token string, req model.ShipmentRequest) (string, error)
}

type Result struct {
	OrderID     int64             `json:"orderId"`
	State       State             `json:"state"`
	ShipmentID  string            `json:"shipmentId,omitempty"`
	Coordinates model.Coordinates `json:"coordinates"`
}

// Pipeline wires the collaborators of one order's journey. Ledger is optional;
// when set, an order id already claimed is skipped as a duplicate.
type Pipeline struct {
	Geocoder    geocode.Resolver
	Transformer *transform.Transformer
	Creds       Credentials
	Carrier     ShipmentCreator
	Store       store.Store
	Ledger      store.OrderLedger
	Events      events.Broker
	Log         *slog.Logger
	// Now stamps when processing began; it dates orders missing created_at.
	Now func() time.Time
}

// Decode parses a raw webhook body and validates it. Call only after the signature verified.
func Decode(body []byte) (model.Order, error) {
	var o model.Order
	if err := json.Unmarshal(bytes.TrimSpace(body), &o); err != nil {
		return model.Order{}, apperr.Validation("order payload is not valid JSON: " + err.Error())
	}
	if err := transform.Validate(o); err != nil {
		return model.Order{}, err
	}
	return o, nil
}

// Process runs an authenticated order from enrichment to storage. The returned
// Result always carries the state reached, also on error.
func (p *Pipeline) Process(ctx context.Context, o model.Order) (Result, error) {
	log := p.logger().With("order_id", o.ID)
	received := time.Now()
	if p.Now != nil {
		received = p.Now()
	}
	res := Result{OrderID: o.ID, State: StateAuthenticated, Coordinates: model.SentinelCoordinates}

	if err := transform.Validate(o); err != nil {
		return p.finish(log, res, StateRejectedInvalid, err)
	}

	if p.Ledger != nil {
		claimed, err := p.Ledger.ClaimOrder(ctx, o.ID)
		if err != nil {
			return p.finish(log, res, StateStoreFailed, err)
		}
		if !claimed {
			return p.finish(log, res, StateDuplicate, nil)
		}
	}

	zip := ""
	if o.BillingAddress != nil {
		zip = o.BillingAddress.Zip
	}
	res.Coordinates = p.Geocoder.Resolve(ctx, zip)
	res.State = StateEnriched

	req, err := p.Transformer.Transform(o, res.Coordinates, received)
	if err != nil {
		p.release(ctx, log, o.ID)
		return p.finish(log, res, StateRejectedInvalid, err)
	}
	cred, err := p.Creds.Get(ctx)
	if err != nil {
		p.release(ctx, log, o.ID)
		return p.finish(log, res, StateCarrierFailed, err)
	}
	shipmentID, err := p.Carrier.CreateShipment(ctx, cred.Token, req)
	if err != nil {
		if errors.Is(err, carrier.ErrUnauthorized) {
			p.Creds.Invalidate()
		}
		p.release(ctx, log, o.ID)
		p.emit(events.New("shipment.failed", map[string]any{"orderId": o.ID, "error": err.Error()}))
		return p.finish(log, res, StateCarrierFailed, err)
	}
	res.ShipmentID = shipmentID
	res.State = StateCarrierCreated
	p.emit(events.New("shipment.created", map[string]any{"orderId": o.ID, "shipmentId": shipmentID, "paymentMethod": req.PaymentMethod}))

	if _, err := p.Store.Append(ctx, shipmentID, o.ID); err != nil {
		// The carrier shipment exists; only the pending record is missing.
		log.Error("pending shipment not recorded; add it manually", "shipment_id", shipmentID, "err", err)
		p.emit(events.New("shipment.store_failed", map[string]any{"orderId": o.ID, "shipmentId": shipmentID}))
		return p.finish(log, res, StateStoreFailed, err)
	}
	res.State = StateStored
	return p.finish(log, res, StateDone, nil)
}

func (p *Pipeline) finish(log *slog.Logger, res Result, st State, err error) (Result, error) {
	res.State = st
	metrics.IngestResults.WithLabelValues(string(st)).Inc()
	switch {
	case err != nil:
		log.Warn("order pipeline stopped", "state", st, "err", err)
	case st == StateDuplicate:
		log.Info("order already relayed; skipping redelivery")
	default:
		log.Info("order relayed", "state", st, "shipment_id", res.ShipmentID,
			"lat", res.Coordinates.Lat, "lng", res.Coordinates.Lng)
	}
	return res, err
}

// release lets a redelivery retry an order whose carrier call failed.
func (p *Pipeline) release(ctx context.Context, log *slog.Logger, orderID int64) {
	if p.Ledger == nil {
		return
	}
	if err := p.Ledger.ReleaseOrder(ctx, orderID); err != nil {
		log.Warn("release order claim failed", "err", err)
	}
}

func (p *Pipeline) emit(evt events.Event) {
	if p.Events != nil {
		p.Events.Publish(events.TopicOrders, evt)
	}
}

func (p *Pipeline) logger() *slog.Logger {
	if p.Log == nil {
		return logging.Discard()
	}
	return p.Log
}
