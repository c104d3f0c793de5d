// Package storage defines the section-keyed document store contract
// (spec.md §4.3) shared by the file and document (Redis) backends.
package storage

import (
	"context"
)

// Store is the contract every backend implements. A "section" groups
// documents of one kind (e.g. "profiles", "scores", "audit", "rooms");
// keys are unique within a section.
type Store interface {
	// Get returns the document bytes for (section, key), or
	// infrastructure/errors.ENotFound if absent.
	Get(ctx context.Context, section, key string) ([]byte, error)

	// Put writes doc under (section, key), creating or overwriting it.
	Put(ctx context.Context, section, key string, doc []byte) error

	// Delete removes (section, key). Deleting an absent key is a no-op.
	Delete(ctx context.Context, section, key string) error

	// ListKeys returns every key in section whose name has the given
	// prefix (empty prefix lists all keys in the section).
	ListKeys(ctx context.Context, section, prefix string) ([]string, error)

	// Scan calls fn for every (key, doc) in section with the given key
	// prefix, in unspecified order, stopping early if fn returns false.
	Scan(ctx context.Context, section, prefix string, fn func(key string, doc []byte) bool) error

	// Backend identifies the concrete implementation ("file" or "document"),
	// reported by Admin.Overview().
	Backend() string

	// SectionCounts reports the number of keys per known section, backing
	// Admin.StorageInfo() (spec.md §4.3/§4.11, detailed in SPEC_FULL.md §3).
	SectionCounts(ctx context.Context, sections []string) (map[string]int, error)
}

// Well-known section names used by the persisted state layout (spec.md §6).
const (
	SectionProfiles   = "profiles"
	SectionScores     = "scores"
	SectionAudit      = "audit"
	SectionRooms      = "rooms"
	SectionSessions   = "sessions"
	SectionModeration = "moderation"
)

// KnownSections lists every section Admin.StorageInfo() reports counts for.
var KnownSections = []string{SectionProfiles, SectionScores, SectionAudit, SectionRooms, SectionSessions, SectionModeration}
