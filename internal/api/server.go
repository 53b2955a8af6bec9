// Package api serves calibration snapshots and forecasts over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/rewired-gh/parkcast/internal/calendar"
	"github.com/rewired-gh/parkcast/internal/forecast"
	"github.com/rewired-gh/parkcast/internal/history"
	"github.com/rewired-gh/parkcast/internal/logger"
	"github.com/rewired-gh/parkcast/internal/models"
	"github.com/rewired-gh/parkcast/internal/report"
	"github.com/rewired-gh/parkcast/internal/storage"
)

// MaxHorizon bounds the days query parameter.
const MaxHorizon = 366

// Deps are the collaborators a Server reads from.
type Deps struct {
	Store          *storage.Storage
	Events         *calendar.Calendar
	History        *history.Store
	Options        forecast.Options
	Model          forecast.Model
	DefaultHorizon int
	DefaultMode    models.Mode
	SaveRuns       bool
}

// Server routes HTTP requests to handlers.
type Server struct {
	deps   Deps
	router *mux.Router
}

// NewServer creates a server and registers its routes.
func NewServer(deps Deps) *Server {
	if deps.DefaultHorizon <= 0 {
		deps.DefaultHorizon = 7
	}
	if deps.DefaultMode == "" {
		deps.DefaultMode = models.ModeValidated
	}
	s := &Server{deps: deps, router: mux.NewRouter()}
	s.RegisterRoutes()
	return s
}

// RegisterRoutes wires every endpoint onto the router.
func (s *Server) RegisterRoutes() {
	s.router.HandleFunc("/ping", s.ping).Methods(http.MethodGet)
	s.router.HandleFunc("/v1/calibration", s.latestCalibration).Methods(http.MethodGet)
	s.router.HandleFunc("/v1/calibrations/{id}", s.getCalibration).Methods(http.MethodGet)
	// expects ?start={YYYY-MM-DD}&days={int}&mode={validated|conservative}&format={json|csv}
	s.router.HandleFunc("/v1/forecast", s.forecast).Methods(http.MethodGet)
	s.router.HandleFunc("/v1/forecasts", s.listForecasts).Methods(http.MethodGet)
	s.router.HandleFunc("/v1/forecasts/{id}", s.getForecast).Methods(http.MethodGet)
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ListenAndServe runs the server until ctx is cancelled, then shuts it down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string, readTimeout, writeTimeout time.Duration) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting HTTP server on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	return nil
}

func (s *Server) ping(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) latestCalibration(w http.ResponseWriter, r *http.Request) {
	cal, err := s.deps.Store.LatestCalibration()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cal)
}

func (s *Server) getCalibration(w http.ResponseWriter, r *http.Request) {
	cal, err := s.deps.Store.GetCalibration(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cal)
}

func (s *Server) forecast(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	start := models.Day(time.Now())
	if v := q.Get("start"); v != "" {
		d, err := time.Parse(models.DateLayout, v)
		if err != nil {
			writeError(w, &models.ConfigurationError{Reason: fmt.Sprintf("start must be YYYY-MM-DD, got %q", v)})
			return
		}
		start = d
	}

	horizon := s.deps.DefaultHorizon
	if v := q.Get("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, &models.ConfigurationError{Reason: fmt.Sprintf("days must be an integer, got %q", v)})
			return
		}
		horizon = n
	}
	if horizon > MaxHorizon {
		writeError(w, &models.ConfigurationError{Reason: fmt.Sprintf("days must be at most %d", MaxHorizon)})
		return
	}

	mode := s.deps.DefaultMode
	if v := q.Get("mode"); v != "" {
		mode = models.Mode(v)
	}

	cal, err := s.deps.Store.LatestCalibration()
	if err != nil {
		writeError(w, err)
		return
	}

	engine := forecast.New(cal, s.deps.Events, s.deps.History, s.deps.Options, s.deps.Model)
	run, err := engine.Run(start, horizon, mode)
	if err != nil {
		writeError(w, err)
		return
	}

	if s.deps.SaveRuns {
		if err := s.deps.Store.SaveForecastRun(run); err != nil {
			logger.Error("Failed to save forecast run %s: %v", run.ID, err)
		}
	}

	if q.Get("format") == "csv" {
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", report.BaseName(run)+".csv"))
		if err := report.WriteCSV(w, run, cal.Shares.Garages()); err != nil {
			logger.Error("Failed to write csv response: %v", err)
		}
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) listForecasts(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, &models.ConfigurationError{Reason: fmt.Sprintf("limit must be an integer, got %q", v)})
			return
		}
		limit = n
	}

	runs, err := s.deps.Store.ListForecastRuns(limit)
	if err != nil {
		writeError(w, err)
		return
	}
	if runs == nil {
		runs = []storage.RunSummary{}
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *Server) getForecast(w http.ResponseWriter, r *http.Request) {
	run, err := s.deps.Store.GetForecastRun(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

type errorResponse struct {
	Error string `json:"error"`
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	var cfgErr *models.ConfigurationError
	var baseErr *models.MissingBaselineError
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.As(err, &cfgErr):
		return http.StatusBadRequest
	case errors.As(err, &baseErr):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		logger.Error("Request failed: %v", err)
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("Failed to encode response: %v", err)
	}
}
