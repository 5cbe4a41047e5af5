package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/aetherframe/aetherframe/internal/aether"
	"github.com/aetherframe/aetherframe/internal/queue"
	"github.com/aetherframe/aetherframe/internal/store"
)

type createJobRequest struct {
	Target     string         `json:"target" validate:"required"`
	TargetType string         `json:"target_type" validate:"omitempty,oneof=binary apk pid memory_dump trace_log"`
	PipelineID string         `json:"pipeline_id"`
	Options    map[string]any `json:"options"`
	Tags       []string       `json:"tags"`
	CreatedBy  string         `json:"created_by"`
}

// createJob records a pending job and enqueues its task. The worker
// performs the analysis; this handler returns immediately.
func (s *Server) createJob(w http.ResponseWriter, r *http.Request) {
	var req createJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := validate.Struct(req); err != nil {
		respondError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	if req.TargetType == "" {
		req.TargetType = string(aether.TargetBinary)
	}
	if req.PipelineID == "" {
		req.PipelineID = s.defaultPipeline
	}
	if _, err := s.catalogue.Get(req.PipelineID); err != nil {
		respondError(w, http.StatusUnprocessableEntity, "unknown pipeline: "+req.PipelineID)
		return
	}

	job := &aether.Job{
		Target:     req.Target,
		TargetType: aether.TargetType(req.TargetType),
		PipelineID: req.PipelineID,
		Options:    req.Options,
		Tags:       req.Tags,
		CreatedBy:  req.CreatedBy,
	}
	if err := s.store.CreateJob(r.Context(), job); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	task := queue.Task{
		ID:         uuid.New().String(),
		JobID:      job.ID,
		Target:     job.Target,
		EnqueuedAt: time.Now().UTC(),
	}
	if err := s.queue.Enqueue(r.Context(), task); err != nil {
		// The row exists but no worker will ever see it; fail it now
		// so clients are not left polling a job that cannot start.
		msg := "enqueue failed: " + err.Error()
		if ferr := s.store.FinishJob(r.Context(), job.ID, aether.JobFailed, nil, &msg); ferr != nil {
			s.log.Error("fail unqueued job", "job_id", job.ID, "error", ferr)
		}
		respondError(w, http.StatusBadGateway, msg)
		return
	}

	respondJSON(w, http.StatusCreated, job)
}

func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.store.ListJobs(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if jobs == nil {
		jobs = []*aether.Job{}
	}
	respondJSON(w, http.StatusOK, jobs)
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	id, ok := jobIDParam(r)
	if !ok {
		respondError(w, http.StatusNotFound, "job not found")
		return
	}
	job, err := s.store.GetJob(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			respondError(w, http.StatusNotFound, "job not found")
			return
		}
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, job)
}

// cancelJob flips a pending or running job to cancelled. The worker
// notices between stages; a stage in flight runs to completion first.
func (s *Server) cancelJob(w http.ResponseWriter, r *http.Request) {
	id, ok := jobIDParam(r)
	if !ok {
		respondError(w, http.StatusNotFound, "job not found")
		return
	}
	job, err := s.store.CancelJob(r.Context(), id)
	switch {
	case errors.Is(err, store.ErrNotFound):
		respondError(w, http.StatusNotFound, "job not found")
		return
	case errors.Is(err, store.ErrTerminal):
		respondError(w, http.StatusConflict, "job already finished")
		return
	case err != nil:
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, job)
}

// requireJob verifies the job row exists before a sub-resource is
// served, writing the error response itself when it does not.
func (s *Server) requireJob(w http.ResponseWriter, r *http.Request, id int64) bool {
	if _, err := s.store.GetJob(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			respondError(w, http.StatusNotFound, "job not found")
		} else {
			respondError(w, http.StatusInternalServerError, err.Error())
		}
		return false
	}
	return true
}

func (s *Server) listJobFindings(w http.ResponseWriter, r *http.Request) {
	id, ok := jobIDParam(r)
	if !ok {
		respondError(w, http.StatusNotFound, "job not found")
		return
	}
	if !s.requireJob(w, r, id) {
		return
	}

	filter := store.FindingFilter{
		Severity: aether.Severity(r.URL.Query().Get("severity")),
		Category: aether.Category(r.URL.Query().Get("category")),
	}
	findings, err := s.store.ListFindings(r.Context(), id, filter)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if findings == nil {
		findings = []*aether.Finding{}
	}
	respondJSON(w, http.StatusOK, findings)
}

func (s *Server) listJobArtifacts(w http.ResponseWriter, r *http.Request) {
	id, ok := jobIDParam(r)
	if !ok {
		respondError(w, http.StatusNotFound, "job not found")
		return
	}
	if !s.requireJob(w, r, id) {
		return
	}

	artifacts, err := s.store.ListArtifacts(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if artifacts == nil {
		artifacts = []*aether.Artifact{}
	}
	respondJSON(w, http.StatusOK, artifacts)
}

func (s *Server) listJobTraceEvents(w http.ResponseWriter, r *http.Request) {
	id, ok := jobIDParam(r)
	if !ok {
		respondError(w, http.StatusNotFound, "job not found")
		return
	}
	if !s.requireJob(w, r, id) {
		return
	}

	filter := store.TraceFilter{
		Source:    aether.EventSource(r.URL.Query().Get("source")),
		EventType: aether.EventType(r.URL.Query().Get("event_type")),
	}
	events, err := s.store.ListTraceEvents(r.Context(), id, filter)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if events == nil {
		events = []*aether.TraceEvent{}
	}
	respondJSON(w, http.StatusOK, events)
}
