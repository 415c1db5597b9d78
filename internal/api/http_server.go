package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"bookingsync/internal/config"
	"bookingsync/internal/database"
	"bookingsync/internal/domain"
	"bookingsync/internal/metrics"
	"bookingsync/internal/models"
	"bookingsync/internal/service"
	"bookingsync/internal/worker"

	"github.com/rs/zerolog"
)

const maxWebhookBody = 1 << 20

// Runner is one bounded sync batch: a queue processor or the full sync.
type Runner interface {
	Run(ctx context.Context) (worker.RunResult, error)
}

// Handlers are the collaborators behind the HTTP routes. State is optional.
type Handlers struct {
	DB       *database.DB
	Outbound Runner
	Inbound  Runner
	FullSync Runner
	Calendar *service.CalendarService
	Webhooks *service.WebhookService
	State    domain.SyncStateRepository
}

// HTTPServer serves the trigger, webhook and operator endpoints.
type HTTPServer struct {
	cfg    config.APIConfig
	h      Handlers
	server *http.Server
	auth   *HTTPAuth
	log    zerolog.Logger
}

func NewHTTPServer(cfg config.APIConfig, h Handlers, logger *zerolog.Logger) *HTTPServer {
	srv := &HTTPServer{cfg: cfg, h: h, auth: NewHTTPAuth(cfg), log: zerolog.Nop()}
	if logger != nil {
		srv.log = logger.With().Str("component", "http").Logger()
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", srv.handleHealth)
	mux.HandleFunc("POST /api/v1/sync/outbound", srv.trigger(func() Runner { return h.Outbound }))
	mux.HandleFunc("POST /api/v1/sync/inbound", srv.trigger(func() Runner { return h.Inbound }))
	mux.HandleFunc("POST /api/v1/sync/full", srv.trigger(func() Runner { return h.FullSync }))
	mux.HandleFunc("POST /webhooks/{integration_id}", srv.handleWebhook)
	mux.HandleFunc("GET /api/v1/sync/dead-letters", srv.handleDeadLetters)
	mux.HandleFunc("GET /api/v1/sync/dead-letters/export", srv.handleDeadLetterExport)
	mux.HandleFunc("POST /api/v1/sync/jobs/{id}/requeue", srv.handleRequeue)
	mux.HandleFunc("GET /api/v1/integrations/{id}/logs", srv.handleLogs)
	mux.HandleFunc("POST /api/v1/integrations/{id}/webhook", srv.handleRegisterWebhook)
	mux.HandleFunc("POST /api/v1/events", srv.handleCreateEvent)
	mux.HandleFunc("PATCH /api/v1/events/{id}", srv.handleUpdateEvent)
	mux.HandleFunc("DELETE /api/v1/events/{id}", srv.handleCancelEvent)

	srv.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           srv.loggingMiddleware(srv.auth.Wrap(mux)),
		ReadHeaderTimeout: 5 * time.Second,
		// full sync batches can take a while
		WriteTimeout: 5 * time.Minute,
	}
	return srv
}

// Handler exposes the routed handler, mainly for tests.
func (s *HTTPServer) Handler() http.Handler {
	return s.server.Handler
}

func (s *HTTPServer) Start() error {
	if s.server == nil {
		return fmt.Errorf("http server is not initialized")
	}
	s.log.Info().Str("addr", s.server.Addr).Msg("HTTP API listening")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.h.DB.PingContext(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "database unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *HTTPServer) trigger(runner func() Runner) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		run := runner()
		if run == nil {
			writeError(w, http.StatusNotImplemented, "processor is not configured")
			return
		}
		res, err := run.Run(r.Context())
		if err != nil {
			s.log.Error().Err(err).Str("path", r.URL.Path).Msg("sync batch failed")
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func (s *HTTPServer) handleWebhook(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("integration_id")
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "body too large")
		return
	}

	job, err := s.h.Webhooks.Receive(r.Context(), id, r.Header, body)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": job.ID})
}

func (s *HTTPServer) handleDeadLetters(w http.ResponseWriter, r *http.Request) {
	limit := queryLimit(r, 100)
	if r.URL.Query().Get("source") == "mirror" {
		if s.h.State == nil {
			writeError(w, http.StatusNotImplemented, "dead-letter mirror is not configured")
			return
		}
		entries, err := s.h.State.ListDeadLetters(r.Context(), limit)
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"dead_letters": entries})
		return
	}

	jobs, err := s.h.DB.ListDeadLetters(r.Context(), limit)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"dead_letters": jobs})
}

func (s *HTTPServer) handleDeadLetterExport(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.h.DB.ListDeadLetters(r.Context(), queryLimit(r, 1000))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	f, err := deadLetterWorkbook(jobs)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	defer f.Close()

	name := fmt.Sprintf("dead_letters_%s.xlsx", exportStamp(time.Now()))
	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.WriteHeader(http.StatusOK)
	if err := f.Write(w); err != nil {
		s.log.Error().Err(err).Msg("failed to write export")
	}
}

func (s *HTTPServer) handleRequeue(w http.ResponseWriter, r *http.Request) {
	job, err := s.h.DB.RequeueJob(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.log.Info().Str("job_id", job.ID).Msg("dead-lettered job requeued")
	writeJSON(w, http.StatusOK, job)
}

func (s *HTTPServer) handleLogs(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.h.DB.GetIntegration(r.Context(), id); err != nil {
		s.writeServiceError(w, err)
		return
	}
	logs, err := s.h.DB.ListSyncLogs(r.Context(), database.SyncLogFilter{
		IntegrationID: id,
		JobID:         r.URL.Query().Get("job_id"),
		Limit:         queryLimit(r, 100),
	})
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"logs": logs})
}

func (s *HTTPServer) handleRegisterWebhook(w http.ResponseWriter, r *http.Request) {
	base := strings.TrimRight(s.cfg.PublicBaseURL, "/")
	if base == "" {
		writeError(w, http.StatusConflict, "api.public_base_url is not configured")
		return
	}
	id := r.PathValue("id")
	cfg, err := s.h.Webhooks.RegisterWebhook(r.Context(), id, base+"/webhooks/"+id)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	// the secret stays server-side
	cfg.Secret = ""
	writeJSON(w, http.StatusOK, cfg)
}

type createEventRequest struct {
	IntegrationID string         `json:"integration_id"`
	Booking       models.Booking `json:"booking"`
}

type eventResponse struct {
	Event *models.CalendarEvent `json:"event"`
	JobID string                `json:"job_id,omitempty"`
}

func (s *HTTPServer) handleCreateEvent(w http.ResponseWriter, r *http.Request) {
	var body createEventRequest
	if !decodeJSON(w, r, &body) {
		return
	}
	if body.IntegrationID == "" {
		writeError(w, http.StatusBadRequest, "integration_id is required")
		return
	}
	ev, job, err := s.h.Calendar.CreateEvent(r.Context(), body.IntegrationID, body.Booking)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, eventResponse{Event: ev, JobID: job.ID})
}

func (s *HTTPServer) handleUpdateEvent(w http.ResponseWriter, r *http.Request) {
	var patch models.BookingPatch
	if !decodeJSON(w, r, &patch) {
		return
	}
	ev, job, err := s.h.Calendar.UpdateEvent(r.Context(), r.PathValue("id"), patch)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, eventResponse{Event: ev, JobID: job.ID})
}

func (s *HTTPServer) handleCancelEvent(w http.ResponseWriter, r *http.Request) {
	ev, job, err := s.h.Calendar.CancelEvent(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, eventResponse{Event: ev, JobID: job.ID})
}

func (s *HTTPServer) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, database.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, service.ErrInvalidSignature):
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, database.ErrNotDeadLettered), errors.Is(err, service.ErrAlreadyCancelled):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, models.ErrInvalidBooking):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case service.IsClientError(err):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.log.Error().Err(err).Msg("request failed")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (s *HTTPServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)

		endpoint := r.Pattern
		if endpoint == "" {
			endpoint = "unmatched"
		}
		metrics.IncHTTP(endpoint)
		s.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", recorder.status).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func queryLimit(r *http.Request, fallback int) int {
	raw := strings.TrimSpace(r.URL.Query().Get("limit"))
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{"error": message})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
