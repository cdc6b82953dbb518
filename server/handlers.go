package server

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/onnwee/voicekeeper/db"
	"github.com/onnwee/voicekeeper/registry"
)

// Handlers holds the dependencies the HTTP endpoints read from.
type Handlers struct {
	db        *sql.DB
	members   *registry.Memberships
	startedAt time.Time
}

func NewHandlers(database *sql.DB, members *registry.Memberships) *Handlers {
	return &Handlers{db: database, members: members, startedAt: time.Now()}
}

// HandleHealthz responds to liveness probes by checking database connectivity.
func (h *Handlers) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	if err := h.db.PingContext(r.Context()); err != nil {
		http.Error(w, "unhealthy", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// HandleReadyz responds to readiness probes. Ready means the database answers
// and the gateway connection has been established (recorded in kv by main).
func (h *Handlers) HandleReadyz(w http.ResponseWriter, r *http.Request) {
	checks := []struct {
		name string
		fn   func() error
	}{
		{"database", func() error { return h.db.PingContext(r.Context()) }},
		{"gateway", func() error {
			state, err := db.GetKV(r.Context(), h.db, "gateway_state")
			if err != nil {
				return err
			}
			if state != "up" {
				return errNotConnected
			}
			return nil
		}},
	}

	for _, check := range checks {
		if err := check.fn(); err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(map[string]string{
				"status":       "not_ready",
				"failed_check": check.name,
				"error":        err.Error(),
			})
			return
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ready"})
}

// HandleStatus reports operational state: uptime, live channel count, and the
// startup sweep result.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	lastSweep, _ := db.GetKV(r.Context(), h.db, "last_sweep")
	sweptCount, _ := db.GetKV(r.Context(), h.db, "last_sweep_removed")
	gateway, _ := db.GetKV(r.Context(), h.db, "gateway_state")
	if gateway == "" {
		gateway = "down"
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"uptime_seconds":     int(time.Since(h.startedAt).Seconds()),
		"gateway":            gateway,
		"active_channels":    h.members.Len(),
		"last_sweep":         lastSweep,
		"last_sweep_removed": sweptCount,
	})
}

var errNotConnected = errors.New("gateway not connected")
