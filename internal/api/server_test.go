package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/org/fakeakv/internal/storage"
	"github.com/org/fakeakv/pkg/models"
)

func newTestServer(cfg Config) (http.Handler, *storage.MemoryBackend) {
	store := storage.NewMemoryBackend()
	srv := NewServer(store, cfg)
	return srv.BuildRouter(), store
}

func doRequest(t *testing.T, handler http.Handler, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshaling request body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w
}

func putJSON(t *testing.T, handler http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	return doRequest(t, handler, "PUT", path, body, nil)
}

func getJSON(t *testing.T, handler http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	return doRequest(t, handler, "GET", path, nil, nil)
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var result map[string]any
	if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
		t.Fatalf("decoding response: %v (body: %s)", err, w.Body.String())
	}
	return result
}

// idVersion extracts the trailing version segment of an id URL.
func idVersion(t *testing.T, id string) string {
	t.Helper()
	parts := strings.Split(id, "/")
	if len(parts) == 0 {
		t.Fatalf("empty id URL")
	}
	return parts[len(parts)-1]
}

// --- tests ---

func TestStatusEndpoint(t *testing.T) {
	handler, _ := newTestServer(Config{})

	w := getJSON(t, handler, "/")
	if w.Code != http.StatusOK {
		t.Fatalf("status failed: %d %s", w.Code, w.Body.String())
	}
	body := decodeBody(t, w)
	if body["name"] != "fake-akv" {
		t.Errorf("expected name=fake-akv, got %v", body["name"])
	}
	if body["status"] != "ok" {
		t.Errorf("expected status=ok, got %v", body["status"])
	}
	if body["api-version"] != APIVersion {
		t.Errorf("expected api-version=%s, got %v", APIVersion, body["api-version"])
	}
}

func TestPutAndGetSecret(t *testing.T) {
	handler, _ := newTestServer(Config{})

	w := putJSON(t, handler, "/secrets/db-pass?api-version=7.4", map[string]any{
		"value": "p@ss1",
		"tags":  map[string]string{"env": "dev"},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("put failed: %d %s", w.Code, w.Body.String())
	}
	body := decodeBody(t, w)
	if body["value"] != "p@ss1" {
		t.Errorf("expected value=p@ss1, got %v", body["value"])
	}
	id, _ := body["id"].(string)
	if !strings.Contains(id, "/secrets/db-pass/") {
		t.Errorf("unexpected id URL: %s", id)
	}
	if len(idVersion(t, id)) != 32 {
		t.Errorf("expected 32-char version segment, got %q", idVersion(t, id))
	}
	attrs, _ := body["attributes"].(map[string]any)
	if attrs["enabled"] != true {
		t.Errorf("expected enabled attribute, got %v", attrs["enabled"])
	}
	if attrs["recoveryLevel"] != models.DefaultRecoveryLevel {
		t.Errorf("expected recoveryLevel=%s, got %v", models.DefaultRecoveryLevel, attrs["recoveryLevel"])
	}
	tags, _ := body["tags"].(map[string]any)
	if tags["env"] != "dev" {
		t.Errorf("expected env=dev tag, got %v", tags["env"])
	}

	w2 := getJSON(t, handler, "/secrets/db-pass?api-version=7.4")
	if w2.Code != http.StatusOK {
		t.Fatalf("get failed: %d %s", w2.Code, w2.Body.String())
	}
	if got := decodeBody(t, w2); got["value"] != "p@ss1" {
		t.Errorf("expected value=p@ss1, got %v", got["value"])
	}
}

func TestGetAgreesWithVersionListing(t *testing.T) {
	handler, _ := newTestServer(Config{})

	putJSON(t, handler, "/secrets/db-pass", map[string]any{"value": "p@ss1", "tags": map[string]string{"env": "dev"}})
	w := putJSON(t, handler, "/secrets/db-pass", map[string]any{"value": "p@ss2", "tags": map[string]string{"env": "prod"}})
	if w.Code != http.StatusOK {
		t.Fatalf("second put failed: %d %s", w.Code, w.Body.String())
	}

	// The bare-name read and the head of the version listing must name the
	// same version, whatever the clock did between the two puts.
	w2 := getJSON(t, handler, "/secrets/db-pass")
	if w2.Code != http.StatusOK {
		t.Fatalf("get failed: %d %s", w2.Code, w2.Body.String())
	}
	latestVersion := idVersion(t, decodeBody(t, w2)["id"].(string))

	w3 := getJSON(t, handler, "/secrets/db-pass/versions")
	items, _ := decodeBody(t, w3)["value"].([]any)
	if len(items) != 2 {
		t.Fatalf("expected 2 versions, got %d", len(items))
	}
	head, _ := items[0].(map[string]any)
	if got := idVersion(t, head["id"].(string)); got != latestVersion {
		t.Errorf("latest %s does not head the version listing (%s)", latestVersion, got)
	}
}

func TestGetUnknownSecret(t *testing.T) {
	handler, _ := newTestServer(Config{})

	w := getJSON(t, handler, "/secrets/missing")
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d %s", w.Code, w.Body.String())
	}
	body := decodeBody(t, w)
	errObj, _ := body["error"].(map[string]any)
	if errObj["message"] != "secret not found" {
		t.Errorf("unexpected error message: %v", errObj["message"])
	}
}

func TestDeletedVersionStillAddressable(t *testing.T) {
	handler, _ := newTestServer(Config{})

	w := putJSON(t, handler, "/secrets/db-pass", map[string]any{"value": "p@ss1"})
	version := idVersion(t, decodeBody(t, w)["id"].(string))

	wd := doRequest(t, handler, "DELETE", "/secrets/db-pass", nil, nil)
	if wd.Code != http.StatusOK {
		t.Fatalf("delete failed: %d %s", wd.Code, wd.Body.String())
	}

	// Latest is hidden but the concrete version stays readable.
	if w2 := getJSON(t, handler, "/secrets/db-pass"); w2.Code != http.StatusNotFound {
		t.Errorf("expected 404 for latest after delete, got %d", w2.Code)
	}
	w3 := getJSON(t, handler, "/secrets/db-pass/"+version)
	if w3.Code != http.StatusOK {
		t.Fatalf("version get failed: %d %s", w3.Code, w3.Body.String())
	}
	if body := decodeBody(t, w3); body["value"] != "p@ss1" {
		t.Errorf("expected value=p@ss1, got %v", body["value"])
	}
}

func TestListVersionsOmitsValues(t *testing.T) {
	handler, _ := newTestServer(Config{})

	putJSON(t, handler, "/secrets/db-pass", map[string]any{"value": "p@ss1"})
	putJSON(t, handler, "/secrets/db-pass", map[string]any{"value": "p@ss2"})

	w := getJSON(t, handler, "/secrets/db-pass/versions")
	if w.Code != http.StatusOK {
		t.Fatalf("versions failed: %d %s", w.Code, w.Body.String())
	}
	body := decodeBody(t, w)
	if _, ok := body["nextLink"]; !ok || body["nextLink"] != nil {
		t.Errorf("expected null nextLink, got %v", body["nextLink"])
	}
	items, _ := body["value"].([]any)
	if len(items) != 2 {
		t.Fatalf("expected 2 versions, got %d", len(items))
	}
	for _, item := range items {
		m, _ := item.(map[string]any)
		if _, ok := m["value"]; ok {
			t.Errorf("listing must not carry secret values: %v", m)
		}
		if _, ok := m["id"]; !ok {
			t.Errorf("listing entry missing id: %v", m)
		}
	}
}

func TestListSecretsAndMaxResults(t *testing.T) {
	handler, _ := newTestServer(Config{})

	for _, name := range []string{"alpha", "beta", "gamma"} {
		putJSON(t, handler, "/secrets/"+name, map[string]any{"value": "v-" + name})
	}

	w := getJSON(t, handler, "/secrets")
	if w.Code != http.StatusOK {
		t.Fatalf("list failed: %d %s", w.Code, w.Body.String())
	}
	items, _ := decodeBody(t, w)["value"].([]any)
	if len(items) != 3 {
		t.Fatalf("expected 3 secrets, got %d", len(items))
	}
	// List entries use the version-less id form.
	first, _ := items[0].(map[string]any)
	if id, _ := first["id"].(string); !strings.HasSuffix(id, "/secrets/alpha") {
		t.Errorf("expected version-less id, got %v", first["id"])
	}

	w2 := getJSON(t, handler, "/secrets?maxresults=2")
	if items, _ = decodeBody(t, w2)["value"].([]any); len(items) != 2 {
		t.Errorf("expected maxresults to truncate to 2, got %d", len(items))
	}
}

func TestDeleteRecoverRoundTrip(t *testing.T) {
	handler, _ := newTestServer(Config{})

	putJSON(t, handler, "/secrets/db-pass", map[string]any{"value": "p@ss1"})
	putJSON(t, handler, "/secrets/db-pass", map[string]any{"value": "p@ss2"})
	before := decodeBody(t, getJSON(t, handler, "/secrets/db-pass"))

	w := doRequest(t, handler, "DELETE", "/secrets/db-pass", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("delete failed: %d %s", w.Code, w.Body.String())
	}
	body := decodeBody(t, w)
	if id, _ := body["recoveryId"].(string); !strings.HasSuffix(id, "/deletedsecrets/db-pass") {
		t.Errorf("unexpected recoveryId: %v", body["recoveryId"])
	}
	deleted, _ := body["deletedDate"].(float64)
	purge, _ := body["scheduledPurgeDate"].(float64)
	if int64(purge-deleted) != models.RecoveryWindowSeconds {
		t.Errorf("expected %d second purge window, got %v", models.RecoveryWindowSeconds, purge-deleted)
	}

	if w2 := getJSON(t, handler, "/secrets/db-pass"); w2.Code != http.StatusNotFound {
		t.Errorf("expected 404 after delete, got %d", w2.Code)
	}

	w3 := getJSON(t, handler, "/deletedsecrets/db-pass")
	if w3.Code != http.StatusOK {
		t.Fatalf("deleted-secret read failed: %d %s", w3.Code, w3.Body.String())
	}

	w4 := doRequest(t, handler, "POST", "/deletedsecrets/db-pass/recover", nil, nil)
	if w4.Code != http.StatusOK {
		t.Fatalf("recover failed: %d %s", w4.Code, w4.Body.String())
	}
	if got := decodeBody(t, w4); got["value"] != before["value"] {
		t.Errorf("expected recovered value %v, got %v", before["value"], got["value"])
	}

	// Deletion record is gone once everything is recovered.
	if w5 := getJSON(t, handler, "/deletedsecrets/db-pass"); w5.Code != http.StatusNotFound {
		t.Errorf("expected 404 deletion record after recover, got %d", w5.Code)
	}
	if w6 := getJSON(t, handler, "/secrets/db-pass"); w6.Code != http.StatusOK {
		t.Errorf("expected secret visible after recover, got %d", w6.Code)
	}
}

func TestDeleteUnknownSecret(t *testing.T) {
	handler, _ := newTestServer(Config{})

	w := doRequest(t, handler, "DELETE", "/secrets/missing", nil, nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d %s", w.Code, w.Body.String())
	}
}

func TestRecoverWithNothingDeleted(t *testing.T) {
	handler, _ := newTestServer(Config{})

	putJSON(t, handler, "/secrets/db-pass", map[string]any{"value": "p@ss1"})
	w := doRequest(t, handler, "POST", "/deletedsecrets/db-pass/recover", nil, nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d %s", w.Code, w.Body.String())
	}
	body := decodeBody(t, w)
	errObj, _ := body["error"].(map[string]any)
	if errObj["message"] != "nothing to recover" {
		t.Errorf("unexpected error message: %v", errObj["message"])
	}
}

func TestAuthChallenge(t *testing.T) {
	handler, _ := newTestServer(Config{RequireAuth: true})

	w := getJSON(t, handler, "/secrets/db-pass")
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without bearer, got %d", w.Code)
	}
	challenge := w.Header().Get("WWW-Authenticate")
	if !strings.Contains(challenge, "login.windows.net/00000000-0000-0000-0000-000000000000") {
		t.Errorf("challenge missing tenant authority: %q", challenge)
	}
	if !strings.Contains(challenge, "resource=") || !strings.Contains(challenge, "scope=") {
		t.Errorf("challenge missing resource/scope: %q", challenge)
	}

	// Any bearer token passes; nothing is validated beyond presence.
	w2 := doRequest(t, handler, "GET", "/secrets/db-pass", nil, map[string]string{
		"Authorization": "Bearer anything-at-all",
	})
	if w2.Code == http.StatusUnauthorized {
		t.Errorf("bearer token should pass the challenge, got 401")
	}

	// Status and metrics stay reachable without credentials.
	if w3 := getJSON(t, handler, "/"); w3.Code != http.StatusOK {
		t.Errorf("status should not require auth, got %d", w3.Code)
	}
}

func TestAPIVersionGuard(t *testing.T) {
	handler, _ := newTestServer(Config{})

	w := getJSON(t, handler, "/secrets/db-pass?api-version=6.0")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for api-version 6.0, got %d", w.Code)
	}
	body := decodeBody(t, w)
	errObj, _ := body["error"].(map[string]any)
	if msg, _ := errObj["message"].(string); !strings.Contains(msg, "6.0") {
		t.Errorf("expected offending version in message, got %v", errObj["message"])
	}

	// Every 7.x value and an absent api-version are accepted.
	if w2 := getJSON(t, handler, "/secrets/db-pass?api-version=7.1"); w2.Code == http.StatusBadRequest {
		t.Errorf("api-version 7.1 should be accepted, got 400")
	}
	if w3 := getJSON(t, handler, "/secrets/db-pass"); w3.Code == http.StatusBadRequest {
		t.Errorf("absent api-version should be accepted, got 400")
	}
}

func TestPutMissingValue(t *testing.T) {
	handler, _ := newTestServer(Config{})

	w := putJSON(t, handler, "/secrets/db-pass", map[string]any{"tags": map[string]string{"env": "dev"}})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d %s", w.Code, w.Body.String())
	}
	body := decodeBody(t, w)
	errObj, _ := body["error"].(map[string]any)
	if errObj["message"] != "request body must include 'value'" {
		t.Errorf("unexpected error message: %v", errObj["message"])
	}
}

func TestPutValueFallbacks(t *testing.T) {
	handler, _ := newTestServer(Config{})

	// Form-encoded body.
	req := httptest.NewRequest("PUT", "/secrets/form-secret", strings.NewReader("value=from-form"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("form put failed: %d %s", w.Code, w.Body.String())
	}
	if body := decodeBody(t, w); body["value"] != "from-form" {
		t.Errorf("expected value=from-form, got %v", body["value"])
	}

	// Bare query parameter.
	w2 := doRequest(t, handler, "PUT", "/secrets/query-secret?value=from-query", nil, nil)
	if w2.Code != http.StatusOK {
		t.Fatalf("query put failed: %d %s", w2.Code, w2.Body.String())
	}
	if body := decodeBody(t, w2); body["value"] != "from-query" {
		t.Errorf("expected value=from-query, got %v", body["value"])
	}
}

func TestIDURLsHonorForwardedHeaders(t *testing.T) {
	handler, _ := newTestServer(Config{})

	w := doRequest(t, handler, "PUT", "/secrets/db-pass", map[string]any{"value": "p@ss1"}, map[string]string{
		"X-Forwarded-Proto": "https",
		"X-Forwarded-Host":  "vault.example.com",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("put failed: %d %s", w.Code, w.Body.String())
	}
	id, _ := decodeBody(t, w)["id"].(string)
	if !strings.HasPrefix(id, "https://vault.example.com/secrets/db-pass/") {
		t.Errorf("forwarded headers not honored in id: %s", id)
	}
}

func TestIDURLsHonorConfiguredBaseURL(t *testing.T) {
	handler, _ := newTestServer(Config{BaseURL: "https://myvault.vault.azure.net/"})

	w := putJSON(t, handler, "/secrets/db-pass", map[string]any{"value": "p@ss1"})
	if w.Code != http.StatusOK {
		t.Fatalf("put failed: %d %s", w.Code, w.Body.String())
	}
	id, _ := decodeBody(t, w)["id"].(string)
	if !strings.HasPrefix(id, "https://myvault.vault.azure.net/secrets/db-pass/") {
		t.Errorf("configured base URL not honored in id: %s", id)
	}
}

func TestCustomAttributesMergedIntoResponse(t *testing.T) {
	handler, _ := newTestServer(Config{})

	w := putJSON(t, handler, "/secrets/db-pass", map[string]any{
		"value":      "p@ss1",
		"attributes": map[string]any{"contentType": "text/plain", "exp": 1700000000},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("put failed: %d %s", w.Code, w.Body.String())
	}
	attrs, _ := decodeBody(t, w)["attributes"].(map[string]any)
	if attrs["contentType"] != "text/plain" {
		t.Errorf("expected contentType attribute, got %v", attrs["contentType"])
	}
	if attrs["exp"] != float64(1700000000) {
		t.Errorf("expected exp attribute, got %v", attrs["exp"])
	}
	if attrs["recoveryLevel"] != models.DefaultRecoveryLevel {
		t.Errorf("defaulted attributes must survive the merge, got %v", attrs["recoveryLevel"])
	}

	// Float attributes are rejected at the boundary, and the error names
	// the decode failure rather than claiming the value was missing.
	w2 := putJSON(t, handler, "/secrets/db-pass", map[string]any{
		"value":      "p@ss2",
		"attributes": map[string]any{"exp": 1.5},
	})
	if w2.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for float attribute, got %d %s", w2.Code, w2.Body.String())
	}
	errObj, _ := decodeBody(t, w2)["error"].(map[string]any)
	msg, _ := errObj["message"].(string)
	if !strings.Contains(msg, "decoding request body") {
		t.Errorf("expected decode error to surface, got %q", msg)
	}
}

func TestPutUndecodableBody(t *testing.T) {
	handler, _ := newTestServer(Config{})

	req := httptest.NewRequest("PUT", "/secrets/db-pass", strings.NewReader(`{"value": `))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d %s", w.Code, w.Body.String())
	}
	errObj, _ := decodeBody(t, w)["error"].(map[string]any)
	msg, _ := errObj["message"].(string)
	if !strings.Contains(msg, "decoding request body") {
		t.Errorf("expected decode error, got %q", msg)
	}
	if msg == "request body must include 'value'" {
		t.Errorf("decode failure must not masquerade as a missing value")
	}
}
