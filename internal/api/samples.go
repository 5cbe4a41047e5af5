package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/aetherframe/aetherframe/internal/storage"
)

// maxSampleSize caps uploaded sample binaries.
const maxSampleSize = 200 << 20 // 200MB

// uploadSample ingests a sample binary. The returned path is a valid
// job target on any host sharing the samples directory.
func (s *Server) uploadSample(w http.ResponseWriter, r *http.Request) {
	if s.samples == nil {
		respondError(w, http.StatusServiceUnavailable, "sample storage not configured")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxSampleSize)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		respondError(w, http.StatusRequestEntityTooLarge, "sample too large (max 200MB)")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		respondError(w, http.StatusBadRequest, "missing file field")
		return
	}
	defer file.Close()

	contentType := header.Header.Get("Content-Type")
	sample, err := s.samples.Save(r.Context(), header.Filename, contentType, file)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	respondJSON(w, http.StatusCreated, sample)
}

func (s *Server) listSamples(w http.ResponseWriter, r *http.Request) {
	if s.samples == nil {
		respondError(w, http.StatusServiceUnavailable, "sample storage not configured")
		return
	}
	samples, err := s.samples.List(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if samples == nil {
		samples = []storage.Sample{}
	}
	respondJSON(w, http.StatusOK, samples)
}

func (s *Server) serveSampleContent(w http.ResponseWriter, r *http.Request) {
	if s.samples == nil {
		respondError(w, http.StatusServiceUnavailable, "sample storage not configured")
		return
	}
	id := chi.URLParam(r, "id")
	sample, rc, err := s.samples.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			respondError(w, http.StatusNotFound, "sample not found")
		} else {
			respondError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	defer rc.Close()

	escaped := strings.ReplaceAll(sample.Filename, `"`, `\"`)
	w.Header().Set("Content-Type", sample.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, escaped))
	if _, err := io.Copy(w, rc); err != nil {
		s.log.Warn("sample download interrupted", "sample_id", id, "error", err)
	}
}

func (s *Server) deleteSample(w http.ResponseWriter, r *http.Request) {
	if s.samples == nil {
		respondError(w, http.StatusServiceUnavailable, "sample storage not configured")
		return
	}
	id := chi.URLParam(r, "id")
	if err := s.samples.Delete(r.Context(), id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			respondError(w, http.StatusNotFound, "sample not found")
		} else {
			respondError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
