// Package profile defines the PlayerProfile entity (spec.md §3) persisted
// via the store abstraction's "profiles" section.
package profile

import "time"

// IdentityKind distinguishes anonymous from federated (identity-provider
// verified) players.
type IdentityKind string

const (
	IdentityAnonymous IdentityKind = "anonymous"
	IdentityFederated IdentityKind = "federated"
)

// Profile is a player's durable record.
type Profile struct {
	PlayerID         string                 `json:"playerId"`
	DisplayName      string                 `json:"displayName"`
	IdentityKind     IdentityKind           `json:"identityKind"`
	Settings         map[string]interface{} `json:"settings,omitempty"`
	Progression      map[string]interface{} `json:"progression,omitempty"`
	BlockedPlayerIDs map[string]bool        `json:"blockedPlayerIds,omitempty"`
	CreatedAt        time.Time              `json:"createdAt"`
	UpdatedAt        time.Time              `json:"updatedAt"`
}

// HasBlocked reports whether the profile owner has blocked senderID.
func (p *Profile) HasBlocked(senderID string) bool {
	return p.BlockedPlayerIDs != nil && p.BlockedPlayerIDs[senderID]
}

// Block adds senderID to the profile owner's block list (idempotent).
func (p *Profile) Block(senderID string) {
	if p.BlockedPlayerIDs == nil {
		p.BlockedPlayerIDs = make(map[string]bool)
	}
	p.BlockedPlayerIDs[senderID] = true
}

// Unblock removes senderID from the block list.
func (p *Profile) Unblock(senderID string) {
	delete(p.BlockedPlayerIDs, senderID)
}

// UpgradeToFederated upgrades an anonymous identity to federated, keeping
// the same PlayerID (spec.md §3 invariant: "may upgrade once"). Returns
// false if the profile is already federated.
func (p *Profile) UpgradeToFederated(now time.Time) bool {
	if p.IdentityKind == IdentityFederated {
		return false
	}
	p.IdentityKind = IdentityFederated
	p.UpdatedAt = now
	return true
}

// Patch is the set of caller-mutable fields for UpsertProfile. Only
// federated identities may write Settings, per spec.md §6.
type Patch struct {
	DisplayName *string
	Settings    map[string]interface{}
}

// Apply merges patch into p, returning whether any field was changed.
func (p *Profile) Apply(patch Patch, now time.Time) bool {
	changed := false
	if patch.DisplayName != nil && *patch.DisplayName != p.DisplayName {
		p.DisplayName = *patch.DisplayName
		changed = true
	}
	if patch.Settings != nil {
		if p.Settings == nil {
			p.Settings = make(map[string]interface{})
		}
		for k, v := range patch.Settings {
			p.Settings[k] = v
			changed = true
		}
	}
	if changed {
		p.UpdatedAt = now
	}
	return changed
}
