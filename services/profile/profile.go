// Package profile implements the player profile store (spec.md §4.13):
// read/upsert of PlayerProfile, anonymous-to-federated upgrade, and the
// block list moderation's chat path consults.
package profile

import (
	"context"
	"encoding/json"
	"time"

	"github.com/lowroll/dicehall/domain/profile"
	internalerrors "github.com/lowroll/dicehall/infrastructure/errors"
	"github.com/lowroll/dicehall/infrastructure/logging"
	"github.com/lowroll/dicehall/infrastructure/metrics"
	"github.com/lowroll/dicehall/pkg/storage"
)

// Service reads and writes PlayerProfile records.
type Service struct {
	store   storage.Store
	metrics *metrics.Metrics
	logger  *logging.Logger
	now     func() time.Time
}

// New builds a profile service backed by store.
func New(store storage.Store, m *metrics.Metrics, logger *logging.Logger) *Service {
	return &Service{store: store, metrics: m, logger: logger, now: time.Now}
}

// SetClock overrides the time source (tests only).
func (s *Service) SetClock(now func() time.Time) { s.now = now }

func (s *Service) persist(ctx context.Context, p *profile.Profile) error {
	doc, err := json.Marshal(p)
	if err != nil {
		return internalerrors.Internal("marshal profile", err)
	}
	return s.store.Put(ctx, storage.SectionProfiles, p.PlayerID, doc)
}

func (s *Service) load(ctx context.Context, playerID string) (*profile.Profile, error) {
	doc, err := s.store.Get(ctx, storage.SectionProfiles, playerID)
	if err != nil {
		return nil, err
	}
	var p profile.Profile
	if err := json.Unmarshal(doc, &p); err != nil {
		return nil, internalerrors.Internal("unmarshal profile", err)
	}
	return &p, nil
}

// GetProfile returns playerID's profile, creating a bare anonymous one on
// first access so every playerId the identity service mints resolves to a
// profile (spec.md §6 `GET /api/profile/:playerId`).
func (s *Service) GetProfile(ctx context.Context, playerID string, kind profile.IdentityKind, displayName string) (*profile.Profile, error) {
	p, err := s.load(ctx, playerID)
	if err == nil {
		return p, nil
	}
	if !internalerrors.Is(err, internalerrors.ErrCodeNotFound) {
		return nil, err
	}

	now := s.now()
	p = &profile.Profile{
		PlayerID:     playerID,
		DisplayName:  displayName,
		IdentityKind: kind,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.persist(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// UpsertProfile applies patch to playerID's profile. Settings may only be
// written by federated identities (spec.md §6); callerKind is the resolved
// identity of the request, not necessarily the stored profile's kind (an
// anonymous caller can never reach here as themselves after upgrade).
func (s *Service) UpsertProfile(ctx context.Context, playerID string, callerKind profile.IdentityKind, patch profile.Patch) (*profile.Profile, error) {
	if patch.Settings != nil && callerKind != profile.IdentityFederated {
		return nil, internalerrors.Forbidden("only federated identities may write settings")
	}

	p, err := s.GetProfile(ctx, playerID, callerKind, "")
	if err != nil {
		return nil, err
	}
	p.Apply(patch, s.now())
	if err := s.persist(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// UpgradeToFederated promotes an anonymous profile to federated, keeping
// the same playerId (spec.md §3 invariant: upgrade exactly once).
func (s *Service) UpgradeToFederated(ctx context.Context, playerID string) (*profile.Profile, error) {
	p, err := s.load(ctx, playerID)
	if err != nil {
		return nil, err
	}
	if !p.UpgradeToFederated(s.now()) {
		return p, nil
	}
	if err := s.persist(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// Block adds senderID to recipientID's block list (idempotent).
func (s *Service) Block(ctx context.Context, recipientID, senderID string) error {
	p, err := s.load(ctx, recipientID)
	if err != nil {
		return err
	}
	p.Block(senderID)
	p.UpdatedAt = s.now()
	return s.persist(ctx, p)
}

// Unblock removes senderID from recipientID's block list.
func (s *Service) Unblock(ctx context.Context, recipientID, senderID string) error {
	p, err := s.load(ctx, recipientID)
	if err != nil {
		return err
	}
	p.Unblock(senderID)
	p.UpdatedAt = s.now()
	return s.persist(ctx, p)
}

// HasBlocked reports whether recipientID has blocked senderID, implementing
// services/moderation's BlockChecker interface. A missing recipient profile
// has blocked nobody.
func (s *Service) HasBlocked(ctx context.Context, recipientID, senderID string) (bool, error) {
	p, err := s.load(ctx, recipientID)
	if err != nil {
		if internalerrors.Is(err, internalerrors.ErrCodeNotFound) {
			return false, nil
		}
		return false, err
	}
	return p.HasBlocked(senderID), nil
}
