package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handler returns the Prometheus handler exposing the opportunity, solver,
// snapshot, and Redis counters recorded during an arbitrage-core cycle.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RegisterHandlers mounts the metrics endpoint on an HTTP mux, for a caller
// building its own mux rather than using Server.
func RegisterHandlers(mux *http.ServeMux) {
	mux.Handle("/metrics", Handler())
}
