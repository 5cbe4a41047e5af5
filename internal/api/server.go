// Package api is the HTTP transport: it accepts job submissions,
// enqueues them for the worker pool, and serves read-only queries
// against the store. It never executes pipelines.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"

	"github.com/aetherframe/aetherframe/internal/aether"
	"github.com/aetherframe/aetherframe/internal/pipeline"
	"github.com/aetherframe/aetherframe/internal/queue"
	"github.com/aetherframe/aetherframe/internal/storage"
	"github.com/aetherframe/aetherframe/internal/store"
)

// serviceName identifies this service in /status and the landing document.
const serviceName = "aetherframe"

// validate checks request payload structs; see the validate tags on the
// request types.
var validate = validator.New(validator.WithRequiredStructEnabled())

// Store is the slice of the persistence layer the API reads and writes.
type Store interface {
	CreateJob(ctx context.Context, job *aether.Job) error
	GetJob(ctx context.Context, id int64) (*aether.Job, error)
	ListJobs(ctx context.Context) ([]*aether.Job, error)
	CancelJob(ctx context.Context, id int64) (*aether.Job, error)
	FinishJob(ctx context.Context, id int64, status aether.JobStatus, result map[string]any, errMsg *string) error
	CountJobsByStatus(ctx context.Context) (map[aether.JobStatus]int64, error)
	AverageElapsedMS(ctx context.Context) (float64, error)

	CreatePlugin(ctx context.Context, p *aether.PluginInfo) error
	ListPlugins(ctx context.Context) ([]*aether.PluginInfo, error)

	ListFindings(ctx context.Context, jobID int64, filter store.FindingFilter) ([]*aether.Finding, error)
	ListArtifacts(ctx context.Context, jobID int64) ([]*aether.Artifact, error)
	ListTraceEvents(ctx context.Context, jobID int64, filter store.TraceFilter) ([]*aether.TraceEvent, error)

	CreateEvent(ctx context.Context, e *aether.Event) error
	ListEvents(ctx context.Context) ([]*aether.Event, error)
}

// Catalogue is the read-only pipeline lookup the API serves from.
type Catalogue interface {
	Get(id string) (*pipeline.Pipeline, error)
	List() []*pipeline.Pipeline
}

// Server holds the API's collaborators. Construct with NewServer, then
// attach optional surfaces with the setters.
type Server struct {
	store     Store
	queue     queue.Queue
	catalogue Catalogue
	samples   storage.SampleStore
	log       *slog.Logger

	environment     string
	defaultPipeline string
	corsOrigins     []string
}

// NewServer wires the required collaborators. The default pipeline is
// applied to job submissions that name none.
func NewServer(st Store, q queue.Queue, cat Catalogue, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		store:           st,
		queue:           q,
		catalogue:       cat,
		log:             log,
		environment:     "development",
		defaultPipeline: "quicklook",
		corsOrigins:     []string{"*"},
	}
}

// SetSampleStore enables the sample intake endpoints.
func (s *Server) SetSampleStore(samples storage.SampleStore) {
	s.samples = samples
}

// SetEnvironment sets the environment label reported by /status.
func (s *Server) SetEnvironment(env string) {
	s.environment = env
}

// SetDefaultPipeline sets the pipeline used when a submission names none.
func (s *Server) SetDefaultPipeline(id string) {
	s.defaultPipeline = id
}

// SetCORSOrigins sets the allowed CORS origins.
func (s *Server) SetCORSOrigins(origins []string) {
	if len(origins) > 0 {
		s.corsOrigins = origins
	}
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.corsOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE"},
		AllowedHeaders:   []string{"Content-Type"},
		AllowCredentials: true,
	}))

	r.Get("/", s.root)
	r.Get("/health", s.health)
	r.Get("/status", s.getStatus)
	r.Method("GET", "/metrics", s.metricsHandler())

	r.Route("/plugins", func(r chi.Router) {
		r.Post("/", s.createPlugin)
		r.Get("/", s.listPlugins)
	})
	r.Route("/jobs", func(r chi.Router) {
		r.Post("/", s.createJob)
		r.Get("/", s.listJobs)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.getJob)
			r.Post("/cancel", s.cancelJob)
			r.Get("/findings", s.listJobFindings)
			r.Get("/artifacts", s.listJobArtifacts)
			r.Get("/events", s.listJobTraceEvents)
		})
	})
	r.Route("/events", func(r chi.Router) {
		r.Post("/", s.createEvent)
		r.Get("/", s.listEvents)
	})
	r.Route("/pipelines", func(r chi.Router) {
		r.Get("/", s.listPipelines)
		r.Get("/{id}", s.getPipeline)
	})
	r.Route("/samples", func(r chi.Router) {
		r.Post("/", s.uploadSample)
		r.Get("/", s.listSamples)
		r.Get("/{id}/content", s.serveSampleContent)
		r.Delete("/{id}", s.deleteSample)
	})

	return r
}

// requestLogger emits one structured line per request.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()))
	})
}

// root is a friendly landing instead of a 404.
func (s *Server) root(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"service":   serviceName,
		"health":    "/health",
		"status":    "/status",
		"metrics":   "/metrics",
		"plugins":   "/plugins",
		"jobs":      "/jobs",
		"events":    "/events",
		"pipelines": "/pipelines",
		"samples":   "/samples",
	})
}

// health is a lightweight liveness probe.
func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// getStatus reports readiness, queue connectivity, and aggregate metrics.
func (s *Server) getStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	queueState := "reachable"
	if s.queue == nil {
		queueState = "unconfigured"
	} else if err := s.queue.Ping(ctx); err != nil {
		queueState = "unreachable"
	}

	counts, err := s.store.CountJobsByStatus(ctx)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	byStatus := map[string]int64{}
	var total int64
	for _, st := range []aether.JobStatus{
		aether.JobPending, aether.JobRunning, aether.JobCompleted, aether.JobFailed, aether.JobCancelled,
	} {
		byStatus[string(st)] = counts[st]
		total += counts[st]
	}

	var avgElapsed any
	if avg, err := s.store.AverageElapsedMS(ctx); err == nil && avg > 0 {
		avgElapsed = avg
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"service":     serviceName,
		"environment": s.environment,
		"queue":       queueState,
		"metrics": map[string]any{
			"jobs_total":     total,
			"jobs_by_status": byStatus,
			"avg_elapsed_ms": avgElapsed,
		},
	})
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}

// jobIDParam parses the {id} route parameter.
func jobIDParam(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	return id, err == nil
}
