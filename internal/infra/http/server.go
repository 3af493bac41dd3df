// Package http exposes a small control API for a running job: status,
// stop/retry triggers, access to the consolidated documentation, and the
// model catalogue and rate budgets the job runs under.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"autodoc-pipeline/internal/domain"
	"autodoc-pipeline/internal/domain/model"
	"autodoc-pipeline/internal/domain/ports/adapter"
	"autodoc-pipeline/internal/infra/logging"
	"autodoc-pipeline/internal/infra/ratelimit"
	"autodoc-pipeline/internal/infra/worker"
	"autodoc-pipeline/internal/usecase"
)

const maxBodyBytes = 4 << 20

// JobControl is the part of usecase.JobRunner the API reads and stops.
type JobControl interface {
	JobID() string
	Snapshot() usecase.JobSnapshot
	Stop()
}

// RunDispatcher queues runs without blocking the request.
type RunDispatcher interface {
	Dispatch(kind worker.RunKind) error
	Last() (worker.RunResult, bool)
}

// ModelCatalog lists the models the configured providers serve.
type ModelCatalog interface {
	ListModels(ctx context.Context) ([]string, error)
	GetModelInfo(ctx context.Context, model string) (adapter.ModelInfo, error)
}

// RateBudget is the part of ratelimit.Governor the API reports and clears.
type RateBudget interface {
	Models() []string
	Usage(model string) ratelimit.Usage
	Clear(ctx context.Context, model string) error
}

type Server struct {
	job      JobControl
	runs     RunDispatcher
	docs     usecase.DocumentationUseCase
	models   ModelCatalog
	limits   RateBudget
	timeout  time.Duration
	log      *zerolog.Logger
	srv      *http.Server
	registry http.Handler
}

func NewServer(
	job JobControl,
	runs RunDispatcher,
	docs usecase.DocumentationUseCase,
	models ModelCatalog,
	limits RateBudget,
	timeout time.Duration,
	log *zerolog.Logger,
) *Server {
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &Server{
		job:      job,
		runs:     runs,
		docs:     docs,
		models:   models,
		limits:   limits,
		timeout:  timeout,
		log:      logging.Component(log, "HTTPServer"),
		registry: promhttp.Handler(),
	}
}

// Routes builds the router. Tests serve it through httptest.
func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()
	for _, mw := range []Middleware{Recover(s.log), TraceID(), RequestLog(s.log)} {
		r.Use(mw)
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	r.Method(http.MethodGet, "/metrics", s.registry)

	r.Route("/api/v1/job", func(r chi.Router) {
		r.Use(Timeout(s.timeout))
		r.Get("/", s.getJob)
		r.Post("/stop", s.stop)
		r.Post("/process", s.dispatch(worker.RunProcess))
		r.Post("/retry-failed", s.dispatch(worker.RunRetryFailed))
		r.Post("/retry-all", s.dispatch(worker.RunRetryAll))
		r.Get("/last-run", s.lastRun)
		r.Get("/documentation", s.getDocumentation)
		r.Put("/documentation", s.updateDocumentation)
		r.Post("/documentation/refine", s.refineDocumentation)
	})

	r.Route("/api/v1/models", func(r chi.Router) {
		r.Use(Timeout(s.timeout))
		r.Get("/", s.listModels)
		r.Get("/*", s.getModel) // names may contain slashes
	})

	r.Route("/api/v1/limits", func(r chi.Router) {
		r.Get("/", s.listLimits)
		r.Delete("/", s.clearLimits)
		r.Delete("/{model}", s.clearLimits)
	})
	return r
}

// Start listens on addr until Shutdown is called.
func (s *Server) Start(addr string) error {
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.log.Info().Str("addr", addr).Msg("control API listening")
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

func (s *Server) getJob(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.job.Snapshot())
}

func (s *Server) stop(w http.ResponseWriter, _ *http.Request) {
	s.job.Stop()
	writeJSON(w, http.StatusAccepted, map[string]string{"message": usecase.MsgStopped})
}

func (s *Server) dispatch(kind worker.RunKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := s.runs.Dispatch(kind); err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"job_id": s.job.JobID(), "kind": string(kind)})
	}
}

func (s *Server) lastRun(w http.ResponseWriter, _ *http.Request) {
	res, ok := s.runs.Last()
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type documentationBody struct {
	JobID     string    `json:"job_id"`
	Content   string    `json:"content"`
	UpdatedAt time.Time `json:"updated_at"`
}

func toBody(d *model.Documentation) documentationBody {
	return documentationBody{JobID: d.JobID, Content: d.Content, UpdatedAt: d.UpdatedAt}
}

func (s *Server) getDocumentation(w http.ResponseWriter, r *http.Request) {
	doc, err := s.docs.Get(r.Context(), s.job.JobID())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toBody(doc))
}

func (s *Server) updateDocumentation(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Content string `json:"content"`
	}
	if !s.decode(w, r, &in) {
		return
	}
	doc, err := s.docs.Update(r.Context(), s.job.JobID(), in.Content)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toBody(doc))
}

func (s *Server) refineDocumentation(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Instruction string   `json:"instruction"`
		Model       string   `json:"model"`
		Temperature *float64 `json:"temperature"`
	}
	if !s.decode(w, r, &in) {
		return
	}
	doc, err := s.docs.Refine(r.Context(), s.job.JobID(), usecase.RefineRequest{
		Instruction: in.Instruction,
		Model:       in.Model,
		Temperature: in.Temperature,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toBody(doc))
}

func (s *Server) listModels(w http.ResponseWriter, r *http.Request) {
	names, err := s.models.ListModels(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if names == nil {
		names = []string{}
	}
	writeJSON(w, http.StatusOK, map[string][]string{"items": names})
}

type modelBody struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	MaxTokens   int      `json:"max_tokens,omitempty"`
	Supports    []string `json:"supports,omitempty"`
}

func (s *Server) getModel(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "*")
	if name == "" {
		s.writeError(w, r, domain.ErrInvalidArgument)
		return
	}
	info, err := s.models.GetModelInfo(r.Context(), name)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, modelBody{
		Name:        info.Name,
		Description: info.Description,
		MaxTokens:   info.MaxTokens,
		Supports:    info.Supports,
	})
}

func (s *Server) listLimits(w http.ResponseWriter, _ *http.Request) {
	names := s.limits.Models()
	out := make([]ratelimit.Usage, 0, len(names))
	for _, m := range names {
		out = append(out, s.limits.Usage(m))
	}
	writeJSON(w, http.StatusOK, map[string][]ratelimit.Usage{"items": out})
}

// clearLimits forgets the recorded usage of one model, or of every model when
// no name is given.
func (s *Server) clearLimits(w http.ResponseWriter, r *http.Request) {
	m := chi.URLParam(r, "model")
	if err := s.limits.Clear(r.Context(), m); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body: " + err.Error()})
		return false
	}
	return true
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		logging.With(r.Context(), s.log).Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	}
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrRunInProgress), errors.Is(err, domain.ErrJobLocked):
		return http.StatusConflict
	case errors.Is(err, domain.ErrNotConsolidated), errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidArgument), errors.Is(err, domain.ErrInvalidTemperature),
		errors.Is(err, domain.ErrNothingToProcess):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrRateLimitTimeout), errors.Is(err, domain.ErrQuotaExceeded):
		return http.StatusTooManyRequests
	case errors.Is(err, domain.ErrInvalidCredential), errors.Is(err, domain.ErrContentBlocked),
		errors.Is(err, domain.ErrEmptyReply):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
