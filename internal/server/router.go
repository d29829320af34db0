package server

import (
	"encoding/json"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter constructs the ingestor's observability endpoints. This is
// process health and Prometheus exposition only; the metrics API over
// the analytic views is a separate service.
func NewRouter() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]bool{"ok": true})
	})

	// Prometheus metrics
	mux.Handle("/metrics", promhttp.Handler())

	return mux
}
