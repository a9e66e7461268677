// Package carrier is the HTTP client for the logistics provider's REST API.
package carrier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"shiprelay/internal/apperr"
	"shiprelay/internal/logging"
	"shiprelay/internal/metrics"
	"shiprelay/internal/model"
)

// ErrUnauthorized is returned (wrapped in an upstream error) when the carrier rejects the bearer token.
var ErrUnauthorized = errors.New("carrier rejected credential")

const (
	opLogin     = "login"
	opCreate    = "create_shipment"
	opAssignAWB = "assign_awb"
)

// Client talks to the carrier. Every call goes through one circuit breaker.
type Client struct {
	BaseURL string
	HTTP    *http.Client
	cb      *gobreaker.CircuitBreaker
	log     *slog.Logger
}

func NewClient(baseURL string, timeout time.Duration, log *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if log == nil {
		log = logging.Discard()
	}
	st := gobreaker.Settings{
		Name:        "carrier",
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(c gobreaker.Counts) bool { return c.ConsecutiveFailures >= 5 },
		// A rejected token is not an outage. Bodies are classified after the
		// breaker returns, so a malformed 2xx already counts as a success.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrUnauthorized)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit breaker state changed", "name", name, "from", from.String(), "to", to.String())
		},
	}
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{Timeout: timeout},
		cb:      gobreaker.NewCircuitBreaker(st),
		log:     log,
	}
}

var errBadPayload = errors.New("unexpected carrier payload")

// Login exchanges account credentials for a bearer token.
func (c *Client) Login(ctx context.Context, email, password string) (string, error) {
	var out struct {
		Token string `json:"token"`
	}
	body, err := c.do(ctx, opLogin, "/auth/login", "", map[string]string{"email": email, "password": password})
	if err != nil {
		return "", apperr.Auth("carrier login failed", err)
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return "", apperr.Auth("carrier login returned non-JSON", err)
	}
	if out.Token == "" {
		return "", apperr.Auth("carrier login response has no token", nil)
	}
	return out.Token, nil
}

// CreateShipment opens a carrier shipment and returns its id.
func (c *Client) CreateShipment(ctx context.Context, token string, req model.ShipmentRequest) (string, error) {
	body, err := c.do(ctx, opCreate, "/orders/create/adhoc", token, req)
	if err != nil {
		return "", apperr.Upstream("create shipment", err)
	}
	var out struct {
		ShipmentID flexString `json:"shipment_id"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return "", apperr.Upstream("create shipment returned non-JSON", fmt.Errorf("%w: %v", errBadPayload, err))
	}
	if out.ShipmentID == "" || out.ShipmentID == "0" {
		return "", apperr.Upstream("create shipment response has no shipment_id", errBadPayload)
	}
	return string(out.ShipmentID), nil
}

// AWBRequest asks the carrier to assign a waybill and schedule pickup.
type AWBRequest struct {
	ShipmentID            string `json:"shipment_id"`
	FuturePickupScheduled string `json:"future_pickup_scheduled"`
	VehicleType           string `json:"vehicle_type,omitempty"`
}

// AssignAWB returns the assigned AWB code. A response without one is an upstream error.
func (c *Client) AssignAWB(ctx context.Context, token string, req AWBRequest) (string, error) {
	body, err := c.do(ctx, opAssignAWB, "/courier/assign/awb", token, req)
	if err != nil {
		return "", apperr.Upstream("assign awb", err)
	}
	var out struct {
		AWBCode  flexString `json:"awb_code"`
		Response struct {
			Data struct {
				AWBCode flexString `json:"awb_code"`
			} `json:"data"`
		} `json:"response"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return "", apperr.Upstream("assign awb returned non-JSON", fmt.Errorf("%w: %v", errBadPayload, err))
	}
	awb := out.AWBCode
	if awb == "" {
		awb = out.Response.Data.AWBCode
	}
	if awb == "" {
		return "", apperr.Upstream("assign awb response has no awb_code", errBadPayload)
	}
	return string(awb), nil
}

func (c *Client) do(ctx context.Context, op, path, token string, payload any) ([]byte, error) {
	res, err := c.cb.Execute(func() (any, error) {
		return c.roundTrip(ctx, op, path, token, payload)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		metrics.CarrierCalls.WithLabelValues(op, "breaker_open").Inc()
		return nil, fmt.Errorf("carrier unavailable: %w", err)
	}
	if err != nil {
		return nil, err
	}
	return res.([]byte), nil
}

func (c *Client) roundTrip(ctx context.Context, op, path, token string, payload any) ([]byte, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	start := time.Now()
	resp, err := c.HTTP.Do(req)
	metrics.CarrierDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.CarrierCalls.WithLabelValues(op, "error").Inc()
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	metrics.CarrierCalls.WithLabelValues(op, strconv.Itoa(resp.StatusCode/100)+"xx").Inc()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized {
		return nil, ErrUnauthorized
	}
	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("carrier %s: status %d", op, resp.StatusCode)
	}
	// 4xx bodies still carry JSON the caller classifies
	c.log.Debug("carrier call", "op", op, "status", resp.StatusCode, "latency_ms", time.Since(start).Milliseconds())
	return body, nil
}

// flexString accepts a JSON string or number.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*f = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}
