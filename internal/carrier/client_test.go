package carrier

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shiprelay/internal/apperr"
	"shiprelay/internal/model"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c := NewClient(srv.URL, 2*time.Second, nil)
	c.HTTP = srv.Client()
	return c
}

func TestLogin(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/auth/login", r.URL.Path)
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		assert.Equal(t, "ops@example.com", body["email"])
		_, _ = w.Write([]byte(`{"token":"T1"}`))
	})
	tok, err := c.Login(context.Background(), "ops@example.com", "pw")
	require.NoError(t, err)
	assert.Equal(t, "T1", tok)
}

func TestLogin_MissingTokenIsAuthError(t *testing.T) {
	for name, body := range map[string]string{"no token": `{"message":"bad"}`, "html": `<html>`} {
		t.Run(name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte(body)) })
			_, err := c.Login(context.Background(), "e", "p")
			require.Error(t, err)
			assert.True(t, apperr.Is(err, apperr.CodeAuth))
		})
	}
}

func TestCreateShipment(t *testing.T) {
	cases := map[string]struct {
		body    string
		want    string
		wantErr bool
	}{
		"string id":  {body: `{"shipment_id":"S1"}`, want: "S1"},
		"numeric id": {body: `{"order_id":9,"shipment_id":778899}`, want: "778899"},
		"missing id": {body: `{"status":"error"}`, wantErr: true},
		"zero id":    {body: `{"shipment_id":0}`, wantErr: true},
		"non json":   {body: `oops`, wantErr: true},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
				_, _ = w.Write([]byte(tc.body))
			})
			id, err := c.CreateShipment(context.Background(), "tok", model.ShipmentRequest{OrderID: "1"})
			if tc.wantErr {
				require.Error(t, err)
				assert.True(t, apperr.Is(err, apperr.CodeUpstream))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, id)
		})
	}
}

func TestAssignAWB(t *testing.T) {
	cases := map[string]struct {
		body    string
		want    string
		wantErr bool
	}{
		"top level": {body: `{"awb_code":"AWB1"}`, want: "AWB1"},
		"nested":    {body: `{"awb_assign_status":1,"response":{"data":{"awb_code":"AWB2"}}}`, want: "AWB2"},
		"no awb":    {body: `{"awb_assign_status":0,"message":"no courier"}`, wantErr: true},
		"non json":  {body: `<!doctype html>`, wantErr: true},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				var req AWBRequest
				_ = json.NewDecoder(r.Body).Decode(&req)
				assert.Equal(t, "S1", req.ShipmentID)
				assert.Equal(t, "2024-03-04 10:00:00", req.FuturePickupScheduled)
				_, _ = w.Write([]byte(tc.body))
			})
			awb, err := c.AssignAWB(context.Background(), "tok", AWBRequest{ShipmentID: "S1", FuturePickupScheduled: "2024-03-04 10:00:00"})
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, awb)
		})
	}
}

func TestUnauthorized(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusUnauthorized) })
	_, err := c.CreateShipment(context.Background(), "stale", model.ShipmentRequest{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnauthorized))
}

func TestBreakerOpensOnServerErrors(t *testing.T) {
	var hits atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	})
	for i := 0; i < 8; i++ {
		_, _ = c.AssignAWB(context.Background(), "tok", AWBRequest{ShipmentID: "S1"})
	}
	assert.Equal(t, int32(5), hits.Load())
}

func TestBreakerIgnoresRejectedTokensAndBadBodies(t *testing.T) {
	for name, h := range map[string]http.HandlerFunc{
		"401":      func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusUnauthorized) },
		"bad body": func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte(`<html>`)) },
	} {
		t.Run(name, func(t *testing.T) {
			var hits atomic.Int32
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				hits.Add(1)
				h(w, r)
			})
			for i := 0; i < 8; i++ {
				_, err := c.AssignAWB(context.Background(), "tok", AWBRequest{ShipmentID: "S1"})
				require.Error(t, err)
				assert.False(t, errors.Is(err, gobreaker.ErrOpenState))
			}
			assert.Equal(t, int32(8), hits.Load())
		})
	}
}
