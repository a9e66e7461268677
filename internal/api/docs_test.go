package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenAPIDocumentIsValid(t *testing.T) {
	loader := openapi3.NewLoader()
	doc, err := loader.LoadFromData(openAPISpec)
	require.NoError(t, err)
	require.NoError(t, doc.Validate(context.Background()))
}

// Every documented operation must be routed; an unrouted path falls through to the mux 404/405.
func TestOpenAPIPathsAreRouted(t *testing.T) {
	doc, err := openapi3.NewLoader().LoadFromData(openAPISpec)
	require.NoError(t, err)
	s, _, _ := newTestServer(t)
	h := s.Routes()

	for path, item := range doc.Paths.Map() {
		if strings.HasSuffix(path, "/ws") {
			continue
		}
		for method := range item.Operations() {
			target := strings.ReplaceAll(path, "{shipmentId}", "S-missing")
			req := httptest.NewRequest(method, target, nil)
			req.Header.Set("Authorization", "Bearer "+testAdmin)
			if strings.HasSuffix(path, "/stream") {
				ctx, cancel := context.WithCancel(req.Context())
				cancel()
				req = req.WithContext(ctx)
			}
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)
			assert.NotEqual(t, http.StatusMethodNotAllowed, rr.Code, "%s %s", method, path)
			if rr.Code == http.StatusNotFound {
				assert.Contains(t, rr.Header().Get("Content-Type"), "problem+json", "%s %s is not routed", method, path)
			}
		}
	}
}
