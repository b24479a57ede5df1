package storage

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"

	"github.com/org/fakeakv/pkg/models"
)

// ErrNotFound is returned when a requested secret, version or deletion
// record does not exist under the current visibility rules. It is a normal
// outcome, not a fault.
var ErrNotFound = errors.New("not found")

// SecretStore is the versioned secret store with soft-delete and recovery.
// Backends must behave identically for every operation; the shared contract
// suite in store_test.go runs against each of them.
type SecretStore interface {
	// CreateVersion persists a brand-new version of name with a fresh random
	// version token and returns the created record. Existing versions are
	// never overwritten.
	CreateVersion(ctx context.Context, name, value string, tags map[string]string, attrs models.Attributes) (*models.SecretVersion, error)

	// GetLatest returns the most recently updated non-deleted version of
	// name, or ErrNotFound when no version is visible.
	GetLatest(ctx context.Context, name string) (*models.SecretVersion, error)

	// GetVersion returns the exact (name, version) record, deleted or not.
	GetVersion(ctx context.Context, name, version string) (*models.SecretVersion, error)

	// ListVersions returns the non-deleted versions of name, newest created
	// first. Unknown names yield an empty slice, not an error.
	ListVersions(ctx context.Context, name string) ([]*models.SecretVersion, error)

	// ListLatest returns the latest record of every name that has at least
	// one non-deleted version, ordered by name.
	ListLatest(ctx context.Context) ([]*models.SecretVersion, error)

	// SoftDelete flips deleted=true on every version of name, re-stamping
	// Updated on all of them, and returns the fresh deletion record.
	// ErrNotFound when the name has no versions at all. Repeating the call
	// on an already-deleted name succeeds and resets the deletion timestamp.
	SoftDelete(ctx context.Context, name string) (models.Deletion, error)

	// GetDeletion reports the deletion record of name, derived from the
	// earliest Updated among its currently-deleted versions. ErrNotFound
	// when no version of name is deleted.
	GetDeletion(ctx context.Context, name string) (models.Deletion, error)

	// Recover flips deleted=false on every version of name without touching
	// Updated. Returns false when nothing was deleted.
	Recover(ctx context.Context, name string) (bool, error)

	// CountSecrets returns the number of names currently visible.
	CountSecrets(ctx context.Context) (int64, error)

	// Lifecycle
	Close()
}

// newVersionToken returns a fresh 128-bit random version identifier,
// hex-encoded. Collisions are negligible; tokens are never reused.
func newVersionToken() string {
	b := make([]byte, 16)
	rand.Read(b) //nolint:errcheck
	return hex.EncodeToString(b)
}

// moreRecent reports whether a wins the "latest" ordering over b: greatest
// Updated, ties broken by greatest Created, then greatest version token.
// The SQL backends order by the same three keys.
func moreRecent(a, b *models.SecretVersion) bool {
	if a.Updated != b.Updated {
		return a.Updated > b.Updated
	}
	if a.Created != b.Created {
		return a.Created > b.Created
	}
	return a.Version > b.Version
}

// createdAfter is the ListVersions ordering: newest Created first, ties
// broken by greatest version token.
func createdAfter(a, b *models.SecretVersion) bool {
	if a.Created != b.Created {
		return a.Created > b.Created
	}
	return a.Version > b.Version
}
