package main

import (
	"errors"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/HarshitKumar9030/jetvein/internal/flights"
)

type errorResponse struct {
	Error string `json:"error"`
}

type handler struct {
	cfg    Config
	source *flights.StaticSource
	log    *slog.Logger
	// roll returns a value in [0,1) for error injection.
	roll func() float64
}

func newHandler(cfg Config, log *slog.Logger) http.Handler {
	var opts []flights.StaticOption
	if cfg.LatencyMS > 0 {
		opts = append(opts, flights.WithLatency(time.Duration(cfg.LatencyMS)*time.Millisecond))
	}
	h := &handler{
		cfg:    cfg,
		source: flights.NewStaticSource(opts...),
		log:    log,
		roll:   rand.Float64,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", h.health)
	mux.HandleFunc("GET /flights/{number}", h.guard(h.flight))
	mux.HandleFunc("GET /aircraft/{registration}/history", h.guard(h.aircraftHistory))
	return mux
}

// guard applies the API key check and error injection to a lookup.
func (h *handler) guard(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h.cfg.APIKey != "" && r.Header.Get("Authorization") != "Bearer "+h.cfg.APIKey {
			writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "invalid api key"})
			return
		}
		if h.cfg.ErrorRate > 0 && h.roll() < h.cfg.ErrorRate {
			writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "injected failure"})
			return
		}
		next(w, r)
	}
}

func (h *handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handler) flight(w http.ResponseWriter, r *http.Request) {
	f, err := h.source.Flight(r.Context(), r.PathValue("number"))
	if err != nil {
		h.writeLookupError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, f)
}

func (h *handler) aircraftHistory(w http.ResponseWriter, r *http.Request) {
	hist, err := h.source.AircraftHistory(r.Context(), r.PathValue("registration"))
	if err != nil {
		h.writeLookupError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, hist)
}

func (h *handler) writeLookupError(w http.ResponseWriter, err error) {
	if errors.Is(err, flights.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "not found"})
		return
	}
	h.log.Warn("lookup failed", slog.String("error", err.Error()))
	writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "lookup failed"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
