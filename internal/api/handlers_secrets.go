package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/org/fakeakv/internal/storage"
	"github.com/org/fakeakv/pkg/models"
)

type createSecretRequest struct {
	Value      string            `json:"value"`
	Tags       map[string]string `json:"tags"`
	Attributes models.Attributes `json:"attributes"`
}

var errValueMissing = errors.New("request body must include 'value'")

// parseCreateRequest accepts the value from a JSON body, a form field or a
// query parameter — the emulated service tolerates all three. A body that
// fails to decode is reported as such, not folded into the missing-value
// case.
func parseCreateRequest(r *http.Request) (createSecretRequest, error) {
	body, _ := io.ReadAll(r.Body)
	if len(body) > 0 {
		if strings.Contains(r.Header.Get("Content-Type"), "application/x-www-form-urlencoded") {
			form, err := url.ParseQuery(string(body))
			if err != nil {
				return createSecretRequest{}, fmt.Errorf("decoding form body: %v", err)
			}
			if v := form.Get("value"); v != "" {
				return createSecretRequest{Value: v}, nil
			}
		} else {
			var req createSecretRequest
			if err := json.Unmarshal(body, &req); err != nil {
				return createSecretRequest{}, fmt.Errorf("decoding request body: %v", err)
			}
			if req.Value != "" {
				return req, nil
			}
		}
	}
	if v := r.URL.Query().Get("value"); v != "" {
		return createSecretRequest{Value: v}, nil
	}
	return createSecretRequest{}, errValueMissing
}

// CreateSecretHandler handles PUT /secrets/{name}
func (s *Server) CreateSecretHandler(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	req, err := parseCreateRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	rec, err := s.store.CreateVersion(r.Context(), name, req.Value, req.Tags, req.Attributes)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.refreshSecretsGauge(r.Context())

	writeJSON(w, http.StatusOK, s.projectSecret(r, rec, true))
}

// GetSecretHandler handles GET /secrets/{name}
func (s *Server) GetSecretHandler(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	rec, err := s.store.GetLatest(r.Context(), name)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "secret not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, s.projectSecret(r, rec, true))
}

// GetVersionHandler handles GET /secrets/{name}/{version}. Deleted versions
// stay directly addressable here, as in the emulated service.
func (s *Server) GetVersionHandler(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	version := chi.URLParam(r, "version")

	rec, err := s.store.GetVersion(r.Context(), name, version)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "secret version not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, s.projectSecret(r, rec, true))
}

// ListVersionsHandler handles GET /secrets/{name}/versions
func (s *Server) ListVersionsHandler(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	recs, err := s.store.ListVersions(r.Context(), name)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	items := make([]any, 0, len(recs))
	for _, rec := range recs {
		items = append(items, s.projectSecret(r, rec, false))
	}
	writeJSON(w, http.StatusOK, map[string]any{"value": items, "nextLink": nil})
}

// ListSecretsHandler handles GET /secrets. One value-less entry per visible
// name; maxresults truncates and nextLink stays null, as in the emulated
// service.
func (s *Server) ListSecretsHandler(w http.ResponseWriter, r *http.Request) {
	recs, err := s.store.ListLatest(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	items := make([]any, 0, len(recs))
	for _, rec := range recs {
		items = append(items, s.projectSecretProperties(r, rec))
	}
	if v := r.URL.Query().Get("maxresults"); v != "" {
		if max, err := strconv.Atoi(v); err == nil && max > 0 && max < len(items) {
			items = items[:max]
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"value": items, "nextLink": nil})
}

// DeleteSecretHandler handles DELETE /secrets/{name}
func (s *Server) DeleteSecretHandler(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	del, err := s.store.SoftDelete(r.Context(), name)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "secret not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.refreshSecretsGauge(r.Context())

	// All versions are deleted now, so this is normally nil; it only carries
	// data when a newer non-deleted version appeared concurrently.
	latest, err := s.store.GetLatest(r.Context(), name)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, s.projectDeletedSecret(r, name, del, latest))
}
