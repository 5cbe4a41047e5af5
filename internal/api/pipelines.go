package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

type pipelineSummary struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Tags        []string `json:"tags,omitempty"`
	Stages      int      `json:"stages"`
}

func (s *Server) listPipelines(w http.ResponseWriter, r *http.Request) {
	pipelines := s.catalogue.List()
	out := make([]pipelineSummary, 0, len(pipelines))
	for _, p := range pipelines {
		out = append(out, pipelineSummary{
			ID:          p.ID,
			Name:        p.Name,
			Description: p.Description,
			Tags:        p.Tags,
			Stages:      len(p.Stages),
		})
	}
	respondJSON(w, http.StatusOK, out)
}

func (s *Server) getPipeline(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	p, err := s.catalogue.Get(id)
	if err != nil {
		respondError(w, http.StatusNotFound, "pipeline not found")
		return
	}
	respondJSON(w, http.StatusOK, p)
}
