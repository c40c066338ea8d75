package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/darkden-lab/argus-tracker/internal/httputil"
	"github.com/darkden-lab/argus-tracker/internal/tracking"
)

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PipelineStats reports the ingestion pipeline counters.
type PipelineStats interface {
	Stats() tracking.PipelineStats
}

// ClientCounter reports the number of connected push clients.
type ClientCounter interface {
	ClientCount() int
}

type readiness struct {
	Status    string                  `json:"status"`
	Pipeline  *tracking.PipelineStats `json:"pipeline,omitempty"`
	WSClients *int                    `json:"ws_clients,omitempty"`
}

// RegisterHealth wires /healthz (liveness) and /readyz (database reachable).
// /readyz also reports pipeline counters and push clients when pipeline or
// clients is non-nil.
func RegisterHealth(r *mux.Router, db Pinger, pipeline PipelineStats, clients ClientCounter) {
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)

	r.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := db.Ping(ctx); err != nil {
			httputil.WriteError(w, http.StatusServiceUnavailable, "database unavailable")
			return
		}

		resp := readiness{Status: "ready"}
		if pipeline != nil {
			st := pipeline.Stats()
			resp.Pipeline = &st
		}
		if clients != nil {
			n := clients.ClientCount()
			resp.WSClients = &n
		}
		httputil.WriteJSON(w, http.StatusOK, resp)
	}).Methods(http.MethodGet)
}
