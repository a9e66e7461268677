package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"shiprelay/internal/apperr"
)

// Problem is the RFC7807 body returned for every non-2xx response. Code carries
// the apperr code when the failure came from a typed error.
type Problem struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Code     string `json:"code,omitempty"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeProblem(w http.ResponseWriter, status int, title, detail, instance string) {
	sendProblem(w, Problem{Title: title, Status: status, Detail: detail, Instance: instance})
}

// writeError maps an apperr.Error onto its status and code; anything else is a 500.
func writeError(w http.ResponseWriter, r *http.Request, title string, err error) {
	p := Problem{Title: title, Status: apperr.Status(err), Detail: err.Error(), Instance: r.URL.Path}
	var ae *apperr.Error
	if errors.As(err, &ae) {
		p.Code = ae.Code
		p.Detail = ae.Message
	}
	sendProblem(w, p)
}

func sendProblem(w http.ResponseWriter, p Problem) {
	if p.Type == "" {
		p.Type = "about:blank"
	}
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(p.Status)
	_ = json.NewEncoder(w).Encode(p)
}
