package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/voxmorph/voxmorph/internal/call"
	"github.com/voxmorph/voxmorph/internal/health"
	"github.com/voxmorph/voxmorph/internal/observe"
)

// newServer builds the optional HTTP surface: health probes, Prometheus
// metrics, and remote call control mirroring the console commands.
func (a *App) newServer() *http.Server {
	mux := http.NewServeMux()

	h := health.New(
		health.Checker{Name: "history", Check: a.store.Ping},
		health.Checker{Name: "provider", Check: a.providerCheck},
	)
	h.Register(mux)

	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("POST /call/start", a.handleCallStart)
	mux.HandleFunc("POST /call/hangup", a.handleCallHangup)
	mux.HandleFunc("GET /call/state", a.handleCallState)
	mux.HandleFunc("GET /history", a.handleHistory)

	return &http.Server{
		Addr:              a.cfg.Server.ListenAddr,
		Handler:           observe.Middleware(a.metrics)(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// providerCheck probes the voice API through the guarded client.
func (a *App) providerCheck(ctx context.Context) error {
	_, err := a.cloner.ListVoices(ctx)
	return err
}

func (a *App) handleCallStart(w http.ResponseWriter, r *http.Request) {
	if err := a.StartCall(r.Context(), ""); err != nil {
		if errors.Is(err, call.ErrCallInProgress) {
			writeJSON(w, http.StatusConflict, map[string]string{"error": "call already in progress"})
			return
		}
		observe.Logger(r.Context()).Error("starting call over http", "err", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"state": a.State().String()})
}

func (a *App) handleCallHangup(w http.ResponseWriter, r *http.Request) {
	if err := a.Hangup(r.Context()); err != nil {
		if errors.Is(err, call.ErrNoActiveCall) {
			writeJSON(w, http.StatusConflict, map[string]string{"error": "no active call"})
			return
		}
		observe.Logger(r.Context()).Error("hangup over http", "err", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"state": a.State().String()})
}

func (a *App) handleCallState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"state": a.State().String()})
}

func (a *App) handleHistory(w http.ResponseWriter, r *http.Request) {
	records, err := a.store.Recent(r.Context(), 20)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	type entry struct {
		StartedAt       time.Time `json:"started_at"`
		DurationSeconds float64   `json:"duration_seconds"`
		VoiceName       string    `json:"voice_name"`
		TeardownOutcome string    `json:"teardown_outcome"`
	}
	out := make([]entry, 0, len(records))
	for _, rec := range records {
		out = append(out, entry{
			StartedAt:       rec.StartedAt,
			DurationSeconds: rec.Duration.Seconds(),
			VoiceName:       rec.VoiceName,
			TeardownOutcome: rec.TeardownOutcome,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error":"encoding response"}`, http.StatusInternalServerError)
	}
}
