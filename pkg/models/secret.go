package models

// RecoveryWindowSeconds is the fixed retention window between soft delete
// and the (unimplemented) permanent purge: 7 days.
const RecoveryWindowSeconds = 7 * 24 * 3600

// DefaultRecoveryLevel is reported for every secret; the emulator never
// enforces purge protection.
const DefaultRecoveryLevel = "Purgeable"

// SecretVersion is one stored version of a named secret. Records are
// append-only: after creation only Enabled, Deleted and Updated may change.
type SecretVersion struct {
	Name       string
	Version    string
	Value      string
	Tags       map[string]string
	Attributes Attributes
	Enabled    bool
	Deleted    bool
	Created    int64 // unix seconds
	Updated    int64 // unix seconds, re-stamped when deletion state changes
}

// Clone returns a deep copy so callers cannot alias backend-internal state.
// Tag and attribute maps are always non-nil in the copy, so absent and empty
// mappings look identical no matter which backend produced the record.
func (v *SecretVersion) Clone() *SecretVersion {
	c := *v
	c.Tags = make(map[string]string, len(v.Tags))
	for k, val := range v.Tags {
		c.Tags[k] = val
	}
	c.Attributes = make(Attributes, len(v.Attributes))
	for k, val := range v.Attributes {
		c.Attributes[k] = val
	}
	return &c
}

// Deletion describes the soft-deleted state of a secret name.
type Deletion struct {
	DeletedDate        int64
	ScheduledPurgeDate int64
}

// NewDeletion computes the deletion record for a delete taking effect at the
// given unix time.
func NewDeletion(deletedAt int64) Deletion {
	return Deletion{
		DeletedDate:        deletedAt,
		ScheduledPurgeDate: deletedAt + RecoveryWindowSeconds,
	}
}
