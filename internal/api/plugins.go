package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/aetherframe/aetherframe/internal/aether"
)

type createPluginRequest struct {
	Name        string `json:"name" validate:"required"`
	Version     string `json:"version" validate:"required"`
	Description string `json:"description"`
}

// createPlugin records a catalogue entry. This is descriptive metadata
// only; executable plugins register through the worker's registry.
func (s *Server) createPlugin(w http.ResponseWriter, r *http.Request) {
	var req createPluginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	req.Version = strings.TrimSpace(req.Version)
	if err := validate.Struct(req); err != nil {
		respondError(w, http.StatusUnprocessableEntity, "name and version must not be empty")
		return
	}

	p := &aether.PluginInfo{
		Name:        req.Name,
		Version:     req.Version,
		Description: strings.TrimSpace(req.Description),
	}
	if err := s.store.CreatePlugin(r.Context(), p); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusCreated, p)
}

func (s *Server) listPlugins(w http.ResponseWriter, r *http.Request) {
	plugins, err := s.store.ListPlugins(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if plugins == nil {
		plugins = []*aether.PluginInfo{}
	}
	respondJSON(w, http.StatusOK, plugins)
}
