package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/org/fakeakv/pkg/models"
)

// MemoryBackend is an ephemeral SecretStore living for the process lifetime.
// A single store-wide mutex serializes the per-name multi-record mutations so
// readers never observe a partially flipped version set.
type MemoryBackend struct {
	mu      sync.RWMutex
	secrets map[string]map[string]*models.SecretVersion // name → version → record
	now     func() int64
}

// NewMemoryBackend returns an empty in-process store.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		secrets: make(map[string]map[string]*models.SecretVersion),
		now:     func() int64 { return time.Now().Unix() },
	}
}

func (m *MemoryBackend) Close() {}

func (m *MemoryBackend) CreateVersion(ctx context.Context, name, value string, tags map[string]string, attrs models.Attributes) (*models.SecretVersion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	rec := &models.SecretVersion{
		Name:       name,
		Version:    newVersionToken(),
		Value:      value,
		Tags:       tags,
		Attributes: attrs,
		Enabled:    true,
		Created:    now,
		Updated:    now,
	}
	// Copy on the way in as well: the caller keeps its maps.
	rec = rec.Clone()

	versions := m.secrets[name]
	if versions == nil {
		versions = make(map[string]*models.SecretVersion)
		m.secrets[name] = versions
	}
	versions[rec.Version] = rec
	return rec.Clone(), nil
}

func (m *MemoryBackend) GetLatest(ctx context.Context, name string) (*models.SecretVersion, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var best *models.SecretVersion
	for _, rec := range m.secrets[name] {
		if rec.Deleted {
			continue
		}
		if best == nil || moreRecent(rec, best) {
			best = rec
		}
	}
	if best == nil {
		return nil, ErrNotFound
	}
	return best.Clone(), nil
}

func (m *MemoryBackend) GetVersion(ctx context.Context, name, version string) (*models.SecretVersion, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.secrets[name][version]
	if !ok {
		return nil, ErrNotFound
	}
	return rec.Clone(), nil
}

func (m *MemoryBackend) ListVersions(ctx context.Context, name string) ([]*models.SecretVersion, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*models.SecretVersion
	for _, rec := range m.secrets[name] {
		if rec.Deleted {
			continue
		}
		out = append(out, rec.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return createdAfter(out[i], out[j]) })
	return out, nil
}

func (m *MemoryBackend) ListLatest(ctx context.Context) ([]*models.SecretVersion, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*models.SecretVersion
	for _, versions := range m.secrets {
		var best *models.SecretVersion
		for _, rec := range versions {
			if rec.Deleted {
				continue
			}
			if best == nil || moreRecent(rec, best) {
				best = rec
			}
		}
		if best != nil {
			out = append(out, best.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *MemoryBackend) SoftDelete(ctx context.Context, name string) (models.Deletion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	versions := m.secrets[name]
	if len(versions) == 0 {
		return models.Deletion{}, ErrNotFound
	}
	now := m.now()
	for _, rec := range versions {
		rec.Deleted = true
		rec.Updated = now
	}
	return models.NewDeletion(now), nil
}

func (m *MemoryBackend) GetDeletion(ctx context.Context, name string) (models.Deletion, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var deletedAt int64
	found := false
	for _, rec := range m.secrets[name] {
		if !rec.Deleted {
			continue
		}
		if !found || rec.Updated < deletedAt {
			deletedAt = rec.Updated
			found = true
		}
	}
	if !found {
		return models.Deletion{}, ErrNotFound
	}
	return models.NewDeletion(deletedAt), nil
}

func (m *MemoryBackend) Recover(ctx context.Context, name string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	recovered := false
	for _, rec := range m.secrets[name] {
		if rec.Deleted {
			rec.Deleted = false
			recovered = true
		}
	}
	return recovered, nil
}

func (m *MemoryBackend) CountSecrets(ctx context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var n int64
	for _, versions := range m.secrets {
		for _, rec := range versions {
			if !rec.Deleted {
				n++
				break
			}
		}
	}
	return n, nil
}
