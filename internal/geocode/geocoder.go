// Package geocode resolves postal codes to coordinates. Lookups are best-effort:
// every failure degrades to model.SentinelCoordinates.
package geocode

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"shiprelay/internal/logging"
	"shiprelay/internal/metrics"
	"shiprelay/internal/model"
)

// Resolver is what the ingestion pipeline needs from a geocoder.
type Resolver interface {
	Resolve(ctx context.Context, postalCode string) model.Coordinates
}

// Google calls the Google Geocoding JSON API.
type Google struct {
	BaseURL string
	APIKey  string
	HTTP    *http.Client
	log     *slog.Logger
}

func NewGoogle(baseURL, apiKey string, timeout time.Duration, log *slog.Logger) *Google {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if log == nil {
		log = logging.Discard()
	}
	return &Google{BaseURL: baseURL, APIKey: apiKey, HTTP: &http.Client{Timeout: timeout}, log: log}
}

type geocodeResponse struct {
	Status  string `json:"status"`
	Results []struct {
		Geometry struct {
			Location struct {
				Lat float64 `json:"lat"`
				Lng float64 `json:"lng"`
			} `json:"location"`
		} `json:"geometry"`
	} `json:"results"`
}

// Resolve makes exactly one upstream call per non-empty postal code and never fails.
func (g *Google) Resolve(ctx context.Context, postalCode string) model.Coordinates {
	postalCode = strings.TrimSpace(postalCode)
	if postalCode == "" {
		metrics.GeocodeLookups.WithLabelValues("empty").Inc()
		return model.SentinelCoordinates
	}
	q := url.Values{}
	q.Set("address", postalCode)
	q.Set("key", g.APIKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.BaseURL+"?"+q.Encode(), nil)
	if err != nil {
		return g.fail(postalCode, err)
	}
	resp, err := g.HTTP.Do(req)
	if err != nil {
		return g.fail(postalCode, err)
	}
	defer func() { _ = resp.Body.Close() }()
	var out geocodeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return g.fail(postalCode, err)
	}
	if len(out.Results) == 0 {
		metrics.GeocodeLookups.WithLabelValues("no_results").Inc()
		g.log.Info("geocode returned no results", "postal_code", postalCode, "status", out.Status)
		return model.SentinelCoordinates
	}
	loc := out.Results[0].Geometry.Location
	metrics.GeocodeLookups.WithLabelValues("resolved").Inc()
	return model.Coordinates{
		Lat: strconv.FormatFloat(loc.Lat, 'f', -1, 64),
		Lng: strconv.FormatFloat(loc.Lng, 'f', -1, 64),
	}
}

func (g *Google) fail(postalCode string, err error) model.Coordinates {
	metrics.GeocodeLookups.WithLabelValues("error").Inc()
	g.log.Warn("geocode failed", "postal_code", postalCode, "err", err)
	return model.SentinelCoordinates
}
