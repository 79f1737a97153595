package httpctrl

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/dmowbray/heatwarden/internal/heating"
)

// Service is the control-plane port exposed to the HTTP layer.
type Service interface {
	StateSnapshot() *heating.State
	SetBoost(zoneID, roomID string, temperature *float64, duration *time.Duration) error
	ClearBoost(zoneID, roomID string) (bool, error)
	SetAwayMode(enabled bool)
	SetManualZoneTemperature(zoneID string, temperature float64) error
}

type Server struct {
	svc Service
	srv *http.Server
	log *logrus.Logger
}

// New returns a runnable server.
func New(svc Service, addr string, log *logrus.Logger) *Server {
	s := &Server{svc: svc, log: log}

	r := mux.NewRouter()
	r.HandleFunc("/v1/state", s.handleState).Methods("GET")
	r.HandleFunc("/v1/summary", s.handleSummary).Methods("GET")
	r.HandleFunc("/v1/zones/{zone}", s.handleZone).Methods("GET")
	r.HandleFunc("/v1/zones/{zone}/rooms/{room}/boost", s.handleSetBoost).Methods("POST")
	r.HandleFunc("/v1/zones/{zone}/rooms/{room}/boost", s.handleClearBoost).Methods("DELETE")
	r.HandleFunc("/v1/away", s.handleAway).Methods("POST")
	r.HandleFunc("/v1/zones/{zone}/target", s.handleManualTarget).Methods("POST")
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods("GET")

	s.srv = &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

// ---- Handlers ----

func (s *Server) handleState(w http.ResponseWriter, _ *http.Request) {
	state := s.svc.StateSnapshot()
	if state == nil {
		writeError(w, http.StatusServiceUnavailable, "no state published yet")
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) handleSummary(w http.ResponseWriter, _ *http.Request) {
	state := s.svc.StateSnapshot()
	if state == nil {
		writeError(w, http.StatusServiceUnavailable, "no state published yet")
		return
	}
	writeJSON(w, http.StatusOK, state.Summarize())
}

func (s *Server) handleZone(w http.ResponseWriter, r *http.Request) {
	state := s.svc.StateSnapshot()
	if state == nil {
		writeError(w, http.StatusServiceUnavailable, "no state published yet")
		return
	}
	zone, ok := state.Zones[mux.Vars(r)["zone"]]
	if !ok {
		writeError(w, http.StatusNotFound, "zone not found")
		return
	}
	writeJSON(w, http.StatusOK, zone)
}

type boostRequest struct {
	Temperature     *float64 `json:"temperature"`
	DurationMinutes *int     `json:"duration_minutes"`
}

func (s *Server) handleSetBoost(w http.ResponseWriter, r *http.Request) {
	var req boostRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	var duration *time.Duration
	if req.DurationMinutes != nil {
		if *req.DurationMinutes <= 0 {
			writeError(w, http.StatusBadRequest, "duration must be positive")
			return
		}
		d := time.Duration(*req.DurationMinutes) * time.Minute
		duration = &d
	}

	vars := mux.Vars(r)
	if err := s.svc.SetBoost(vars["zone"], vars["room"], req.Temperature, duration); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleClearBoost(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	cleared, err := s.svc.ClearBoost(vars["zone"], vars["room"])
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"cleared": cleared})
}

type awayRequest struct {
	Enabled *bool `json:"enabled"`
}

func (s *Server) handleAway(w http.ResponseWriter, r *http.Request) {
	var req awayRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Enabled == nil {
		writeError(w, http.StatusBadRequest, "missing field 'enabled'")
		return
	}
	s.svc.SetAwayMode(*req.Enabled)
	w.WriteHeader(http.StatusAccepted)
}

type manualTargetRequest struct {
	Temperature *float64 `json:"temperature"`
}

func (s *Server) handleManualTarget(w http.ResponseWriter, r *http.Request) {
	var req manualTargetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Temperature == nil {
		writeError(w, http.StatusBadRequest, "missing field 'temperature'")
		return
	}
	if err := s.svc.SetManualZoneTemperature(mux.Vars(r)["zone"], *req.Temperature); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// ---- Helpers ----

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, heating.ErrZoneNotFound), errors.Is(err, heating.ErrRoomNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, heating.ErrNoSensors), errors.Is(err, heating.ErrNoRoomTemperature):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, heating.ErrInvalidTemperature):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
