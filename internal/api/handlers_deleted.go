package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/org/fakeakv/internal/storage"
)

// GetDeletedSecretHandler handles GET /deletedsecrets/{name}
func (s *Server) GetDeletedSecretHandler(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	del, err := s.store.GetDeletion(r.Context(), name)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not deleted")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	// A name re-created after deletion still reports its old versions'
	// deletion record while being visible again; the latest visible version
	// then fills the bundle, mirroring the emulated service.
	latest, err := s.store.GetLatest(r.Context(), name)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, s.projectDeletedSecret(r, name, del, latest))
}

// RecoverSecretHandler handles POST /deletedsecrets/{name}/recover
func (s *Server) RecoverSecretHandler(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	recovered, err := s.store.Recover(r.Context(), name)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !recovered {
		writeError(w, http.StatusNotFound, "nothing to recover")
		return
	}
	s.refreshSecretsGauge(r.Context())

	latest, err := s.store.GetLatest(r.Context(), name)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "secret not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, s.projectSecret(r, latest, true))
}
