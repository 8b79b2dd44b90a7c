package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tournevent/tracksync/internal/lock"
	"github.com/tournevent/tracksync/pkg/carrier"
	"github.com/tournevent/tracksync/pkg/tracking"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

// Server is the HTTP server for the tracking sync service.
type Server struct {
	port     int
	service  *tracking.Service
	logger   *otelzap.Logger
	gatherer prometheus.Gatherer
}

// Config holds server configuration.
type Config struct {
	Port int

	// Gatherer backs /metrics. Nil uses the default registry.
	Gatherer prometheus.Gatherer
}

// New creates a new server instance.
func New(cfg Config, service *tracking.Service, logger *otelzap.Logger) *Server {
	gatherer := cfg.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return &Server{
		port:     cfg.Port,
		service:  service,
		logger:   logger,
		gatherer: gatherer,
	}
}

// Handler returns the server's routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Health check
	mux.HandleFunc("GET /health", s.handleHealth)

	// Prometheus metrics
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	// Tracking
	mux.HandleFunc("POST /teams/{teamID}/sync", s.handleSync)
	mux.HandleFunc("GET /teams/{teamID}/tracking/{code}", s.handleTrack)
	mux.HandleFunc("POST /teams/{teamID}/credentials/check", s.handleCheckCredentials)

	return mux
}

// Run starts the HTTP server and blocks until context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", s.port),
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute,
	}

	// Start server in goroutine
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting server", zap.Int("port", s.port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Wait for context cancellation or error
	select {
	case <-ctx.Done():
		s.logger.Info("Shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

type syncResponse struct {
	TeamID            string         `json:"teamId"`
	TotalProcessed    int            `json:"totalProcessed"`
	SuccessfulUpdates int            `json:"successfulUpdates"`
	Failed            int            `json:"failed"`
	Chunks            int            `json:"chunks"`
	FailedChunks      int            `json:"failedChunks"`
	Aborted           bool           `json:"aborted"`
	ByStatus          map[string]int `json:"byStatus"`
}

type eventResponse struct {
	Code        string     `json:"code"`
	Type        string     `json:"type"`
	Description string     `json:"description"`
	OccurredAt  *time.Time `json:"occurredAt,omitempty"`
	City        string     `json:"city,omitempty"`
	State       string     `json:"state,omitempty"`
}

type trackingResponse struct {
	Code    string          `json:"code"`
	Status  string          `json:"status"`
	Message string          `json:"message,omitempty"`
	Events  []eventResponse `json:"events"`
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	teamID := r.PathValue("teamID")

	result, err := s.service.SyncTenant(r.Context(), teamID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	byStatus := make(map[string]int, len(result.ByStatus))
	for status, n := range result.ByStatus {
		byStatus[string(status)] = n
	}
	writeJSON(w, http.StatusOK, syncResponse{
		TeamID:            teamID,
		TotalProcessed:    result.TotalProcessed,
		SuccessfulUpdates: result.SuccessfulUpdates,
		Failed:            result.Failed(),
		Chunks:            result.Chunks,
		FailedChunks:      result.FailedChunks,
		Aborted:           result.Aborted,
		ByStatus:          byStatus,
	})
}

func (s *Server) handleTrack(w http.ResponseWriter, r *http.Request) {
	obj, status, err := s.service.TrackCode(r.Context(), r.PathValue("teamID"), r.PathValue("code"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	resp := trackingResponse{
		Code:    obj.Code,
		Status:  string(status),
		Message: obj.Message,
		Events:  make([]eventResponse, 0, len(obj.Events)),
	}
	for _, ev := range obj.Events {
		er := eventResponse{
			Code:        ev.Code,
			Type:        ev.Type,
			Description: ev.Description,
			City:        ev.Origin.City,
			State:       ev.Origin.State,
		}
		if !ev.OccurredAt.IsZero() {
			t := ev.OccurredAt
			er.OccurredAt = &t
		}
		resp.Events = append(resp.Events, er)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCheckCredentials(w http.ResponseWriter, r *http.Request) {
	check, err := s.service.CheckTenantCredentials(r.Context(), r.PathValue("teamID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, check)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusForError(err)
	if status >= http.StatusInternalServerError {
		s.logger.Ctx(r.Context()).Error("Request failed",
			zap.String("path", r.URL.Path),
			zap.Int("status", status),
			zap.Error(err),
		)
	}
	writeJSON(w, status, errorResponse{Error: err.Error(), Code: errorCode(err)})
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, carrier.ErrCredentialNotFound):
		return http.StatusNotFound
	case errors.Is(err, lock.ErrNotAcquired):
		return http.StatusConflict
	case errors.Is(err, carrier.ErrInvalidCredential):
		return http.StatusUnprocessableEntity
	case errors.Is(err, carrier.ErrInvalidRequest), errors.Is(err, carrier.ErrBatchTooLarge):
		return http.StatusBadRequest
	case errors.Is(err, carrier.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	case errors.Is(err, carrier.ErrAuth):
		return http.StatusBadGateway
	}
	var carrierErr *carrier.Error
	if errors.As(err, &carrierErr) {
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func errorCode(err error) string {
	if errors.Is(err, lock.ErrNotAcquired) {
		return "SYNC_IN_PROGRESS"
	}
	return carrier.ErrorType(err)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
