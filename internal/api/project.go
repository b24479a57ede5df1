package api

import (
	"net/http"
	"strings"

	"github.com/org/fakeakv/pkg/models"
)

// zeroVersion stands in for the version segment of an id URL when no
// concrete version is at hand, mirroring the emulated service.
const zeroVersion = "00000000000000000000000000000000"

// secretBundle is the wire shape of a secret version.
type secretBundle struct {
	Value      string            `json:"value,omitempty"`
	ID         string            `json:"id"`
	Attributes map[string]any    `json:"attributes"`
	Tags       map[string]string `json:"tags,omitempty"`
}

// deletedSecretBundle is the wire shape of a deleted secret.
type deletedSecretBundle struct {
	RecoveryID         string            `json:"recoveryId"`
	DeletedDate        int64             `json:"deletedDate"`
	ScheduledPurgeDate int64             `json:"scheduledPurgeDate"`
	ID                 string            `json:"id"`
	Attributes         map[string]any    `json:"attributes"`
	Tags               map[string]string `json:"tags,omitempty"`
}

// baseURL resolves the base for id URLs: configured override first, then
// forwarded headers, then the request itself.
func (s *Server) baseURL(r *http.Request) string {
	if s.cfg.BaseURL != "" {
		return strings.TrimRight(s.cfg.BaseURL, "/")
	}
	scheme := r.Header.Get("X-Forwarded-Proto")
	if scheme == "" {
		scheme = "http"
		if r.TLS != nil {
			scheme = "https"
		}
	}
	host := r.Header.Get("X-Forwarded-Host")
	if host == "" {
		host = r.Host
	}
	return strings.TrimRight(scheme+"://"+host, "/")
}

// mergedAttributes overlays the record's open attributes onto the defaulted
// ones. Caller-supplied values win on key collision.
func mergedAttributes(rec *models.SecretVersion) map[string]any {
	attrs := map[string]any{
		"enabled":       rec.Enabled,
		"created":       rec.Created,
		"updated":       rec.Updated,
		"recoveryLevel": models.DefaultRecoveryLevel,
	}
	for k, v := range rec.Attributes {
		attrs[k] = v.Native()
	}
	return attrs
}

// projectSecret builds the bundle for one record. Values are omitted from
// listing responses.
func (s *Server) projectSecret(r *http.Request, rec *models.SecretVersion, includeValue bool) secretBundle {
	b := secretBundle{
		ID:         s.baseURL(r) + "/secrets/" + rec.Name + "/" + rec.Version,
		Attributes: mergedAttributes(rec),
	}
	if includeValue {
		b.Value = rec.Value
	}
	if len(rec.Tags) > 0 {
		b.Tags = rec.Tags
	}
	return b
}

// projectSecretProperties builds the value-less listing entry for one name's
// latest record. The id carries no version segment, matching the emulated
// list API.
func (s *Server) projectSecretProperties(r *http.Request, rec *models.SecretVersion) map[string]any {
	item := map[string]any{
		"id":         s.baseURL(r) + "/secrets/" + rec.Name,
		"attributes": mergedAttributes(rec),
	}
	if len(rec.Tags) > 0 {
		item["tags"] = rec.Tags
	}
	if ct, ok := rec.Attributes["contentType"]; ok {
		item["contentType"] = ct.Native()
	}
	return item
}

// projectDeletedSecret builds the deleted-secret bundle. latest may be nil
// when every version is gone from view; the bundle then carries empty
// attributes and a zero version segment.
func (s *Server) projectDeletedSecret(r *http.Request, name string, del models.Deletion, latest *models.SecretVersion) deletedSecretBundle {
	base := s.baseURL(r)
	version := zeroVersion
	attrs := map[string]any{}
	var tags map[string]string
	if latest != nil {
		version = latest.Version
		for k, v := range latest.Attributes {
			attrs[k] = v.Native()
		}
		if len(latest.Tags) > 0 {
			tags = latest.Tags
		}
	}
	return deletedSecretBundle{
		RecoveryID:         base + "/deletedsecrets/" + name,
		DeletedDate:        del.DeletedDate,
		ScheduledPurgeDate: del.ScheduledPurgeDate,
		ID:                 base + "/secrets/" + name + "/" + version,
		Attributes:         attrs,
		Tags:               tags,
	}
}
