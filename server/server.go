// Package server is the submission front door: it accepts clustering
// jobs, serves persisted cluster state, and exposes liveness probes. All
// /internal routes require the shared internal token.
package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/sploot/media-clustering/config"
	"github.com/sploot/media-clustering/errors"
	"github.com/sploot/media-clustering/state"
	"github.com/sploot/media-clustering/stream"
)

// shutdownTimeout bounds graceful drain on stop.
const shutdownTimeout = 10 * time.Second

// Server carries the HTTP surface over the queue and state store.
type Server struct {
	queue  *stream.Queue
	store  *state.Store
	port   int
	token  string
	logger *zap.SugaredLogger
	router chi.Router
}

// New wires the router over its collaborators.
func New(queue *stream.Queue, store *state.Store, cfg config.ServerConfig, logger *zap.SugaredLogger) *Server {
	s := &Server{
		queue:  queue,
		store:  store,
		port:   cfg.Port,
		token:  cfg.InternalToken,
		logger: logger,
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", s.handleHealthz)
	r.Route("/internal", func(r chi.Router) {
		r.Use(s.requireInternalToken)
		r.Post("/cluster-jobs", s.handleSubmit)
		r.Get("/health/stream", s.handleStreamHealth)
		r.Get("/dead-letters", s.handleDeadLetters)
		r.Route("/pets/{subjectID}", func(r chi.Router) {
			r.Get("/clusters", s.handleClusters)
			r.Get("/hero-images", s.handleHeroImages)
			r.Post("/invalidate", s.handleInvalidate)
		})
	})
	s.router = r
	return s
}

// Handler exposes the router for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until the context is cancelled, then drains in-flight
// requests.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", s.port),
		Handler: s.router,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	s.logger.Infow("server listening", "port", s.port)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return errors.Wrap(err, "server shutdown failed")
		}
		return nil
	case err := <-errCh:
		return errors.Wrap(err, "server failed")
	}
}

// requireInternalToken rejects requests without the shared secret. The
// comparison is constant time.
func (s *Server) requireInternalToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := r.Header.Get("X-Internal-Token")
		if subtle.ConstantTimeCompare([]byte(token), []byte(s.token)) != 1 {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// handleSubmit enqueues a clustering job. subject_id is required, job_id
// optional; every other body field travels opaquely in the envelope
// payload.
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var body map[string]json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "request body must be a JSON object")
		return
	}

	subjectID := stringField(body, "subject_id")
	if subjectID == "" {
		writeError(w, http.StatusBadRequest, "subject_id is required")
		return
	}
	jobID := stringField(body, "job_id")
	delete(body, "subject_id")
	delete(body, "job_id")

	var payload json.RawMessage
	if len(body) > 0 {
		payload, _ = json.Marshal(body)
	}

	env := stream.NewEnvelope(subjectID, jobID, payload)
	data, err := env.Encode()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to encode job")
		return
	}
	if _, err := s.queue.Publish(r.Context(), data); err != nil {
		s.logger.Errorw("failed to enqueue clustering job", "subject_id", subjectID, "error", err)
		writeError(w, http.StatusServiceUnavailable, "failed to enqueue job")
		return
	}

	s.logger.Infow("clustering job accepted", "job_id", env.JobID, "subject_id", subjectID)
	writeJSON(w, http.StatusAccepted, map[string]string{
		"status":     "accepted",
		"job_id":     env.JobID,
		"subject_id": subjectID,
	})
}

// handleClusters returns the full persisted cluster state for a subject.
func (s *Server) handleClusters(w http.ResponseWriter, r *http.Request) {
	subjectID := chi.URLParam(r, "subjectID")

	st, err := s.store.Get(r.Context(), subjectID)
	if err != nil {
		if errors.Is(err, errors.ErrNotFound) {
			writeError(w, http.StatusNotFound, "no cluster state for subject")
			return
		}
		s.logger.Errorw("failed to read cluster state", "subject_id", subjectID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to read cluster state")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// handleHeroImages returns only the per-cluster hero mapping, the common
// case for feed rendering.
func (s *Server) handleHeroImages(w http.ResponseWriter, r *http.Request) {
	subjectID := chi.URLParam(r, "subjectID")

	st, err := s.store.Get(r.Context(), subjectID)
	if err != nil {
		if errors.Is(err, errors.ErrNotFound) {
			writeError(w, http.StatusNotFound, "no cluster state for subject")
			return
		}
		s.logger.Errorw("failed to read cluster state", "subject_id", subjectID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to read cluster state")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"subject_id":  subjectID,
		"hero_images": st.HeroImages(),
	})
}

// handleInvalidate drops a subject's cluster state. Always 202: the
// outcome distinguishes a real removal from a no-op.
func (s *Server) handleInvalidate(w http.ResponseWriter, r *http.Request) {
	subjectID := chi.URLParam(r, "subjectID")

	removed, err := s.store.Invalidate(r.Context(), subjectID)
	if err != nil {
		s.logger.Errorw("failed to invalidate cluster state", "subject_id", subjectID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to invalidate cluster state")
		return
	}

	status := "noop"
	if removed {
		status = "removed"
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": status})
}

// handleDeadLetters surfaces recent dead-lettered jobs for operators.
func (s *Server) handleDeadLetters(w http.ResponseWriter, r *http.Request) {
	count := int64(20)
	if raw := r.URL.Query().Get("count"); raw != "" {
		if _, err := fmt.Sscanf(raw, "%d", &count); err != nil || count <= 0 {
			writeError(w, http.StatusBadRequest, "count must be a positive integer")
			return
		}
	}

	entries, err := s.queue.ReadDeadLetters(r.Context(), count)
	if err != nil {
		s.logger.Errorw("failed to read dead-letter stream", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to read dead-letter stream")
		return
	}

	out := make([]map[string]interface{}, 0, len(entries))
	for _, e := range entries {
		out = append(out, map[string]interface{}{
			"entry_id":   e.ID,
			"job_id":     e.Envelope.JobID,
			"subject_id": e.Envelope.SubjectID,
			"attempts":   e.Envelope.Attempts,
			"error":      e.Error,
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"dead_letters": out})
}

// handleHealthz is the unauthenticated liveness probe.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleStreamHealth reports whether the stream backend is reachable.
func (s *Server) handleStreamHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.queue.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func stringField(body map[string]json.RawMessage, key string) string {
	raw, ok := body[key]
	if !ok {
		return ""
	}
	var v string
	if err := json.Unmarshal(raw, &v); err != nil {
		return ""
	}
	return v
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
