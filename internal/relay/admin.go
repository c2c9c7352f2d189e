package relay

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// NodeInfo is the read-only view of a relay node exposed on the admin
// surface (§4.8 "Exposes an admin surface listing sessions/nodes/health").
type NodeInfo struct {
	ID            string    `json:"id"`
	Region        string    `json:"region"`
	Capacity      int       `json:"capacity"`
	Load          int       `json:"load"`
	Health        float64   `json:"health"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
}

// NodeSource supplies the current relay-node roster to the admin router,
// decoupling it from the load balancer's internal node representation.
type NodeSource interface {
	Nodes() []NodeInfo
}

// AdminRouter builds the read-only admin REST surface: session list, node
// list, and a health probe. Route shapes follow the transport-endpoint
// examples in §6 (paths are implementation-defined, not a wire contract).
func AdminRouter(f *Fabric, nodes NodeSource) http.Handler {
	r := chi.NewRouter()

	r.Get("/api/sessions", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, f.Sessions())
	})

	r.Get("/api/relay/nodes", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, nodes.Nodes())
	})

	r.Get("/api/relay/health", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, map[string]any{
			"status":      "ok",
			"connections": f.ConnectionCount(),
			"sessions":    len(f.Sessions()),
		})
	})

	return r
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error("admin response encode failed", "error", err)
	}
}
