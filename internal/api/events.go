package api

import (
	"encoding/json"
	"net/http"

	"github.com/aetherframe/aetherframe/internal/aether"
)

type createEventRequest struct {
	EventType string         `json:"event_type" validate:"required"`
	Payload   map[string]any `json:"payload"`
	JobID     *int64         `json:"job_id"`
}

// createEvent records an ad-hoc audit event.
func (s *Server) createEvent(w http.ResponseWriter, r *http.Request) {
	var req createEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := validate.Struct(req); err != nil {
		respondError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	e := &aether.Event{
		EventType: req.EventType,
		Payload:   req.Payload,
		JobID:     req.JobID,
	}
	if err := s.store.CreateEvent(r.Context(), e); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusCreated, e)
}

func (s *Server) listEvents(w http.ResponseWriter, r *http.Request) {
	events, err := s.store.ListEvents(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if events == nil {
		events = []*aether.Event{}
	}
	respondJSON(w, http.StatusOK, events)
}
