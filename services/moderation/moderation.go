// Package moderation implements the chat-evaluation and administrative
// override surface of spec.md §4.10: banned-term evaluation, the strike/
// mute/ban ladder, the block-list check, and admin overrides, all audited.
package moderation

import (
	"context"
	"encoding/json"
	"time"

	domainmoderation "github.com/lowroll/dicehall/domain/moderation"
	internalerrors "github.com/lowroll/dicehall/infrastructure/errors"
	"github.com/lowroll/dicehall/infrastructure/logging"
	"github.com/lowroll/dicehall/infrastructure/metrics"
	"github.com/lowroll/dicehall/pkg/storage"
)

const (
	recordKeyPrefix = "record:"
	managedTermsKey = "config:managed_terms"
	remoteTermsKey  = "config:remote_terms"
)

// BlockChecker reports whether recipientID has blocked senderID, implemented
// by services/profile.
type BlockChecker interface {
	HasBlocked(ctx context.Context, recipientID, senderID string) (bool, error)
}

// RoomBanner adds a player to a room's ban list, implemented by
// services/rooms.
type RoomBanner interface {
	BanPlayer(ctx context.Context, roomID, playerID string) error
}

// Disconnector removes a participant from a session, implemented by
// services/sessions.
type Disconnector interface {
	Leave(ctx context.Context, sessionID, participantID, reason string) error
}

// Service evaluates chat submissions against the banned-term ladder and
// exposes the admin override surface.
type Service struct {
	store        storage.Store
	metrics      *metrics.Metrics
	logger       *logging.Logger
	now          func() time.Time
	thresholds   domainmoderation.Thresholds
	terms        *domainmoderation.TermSet
	blockChecker BlockChecker
	roomBanner   RoomBanner
	disconnector Disconnector
}

// New builds a moderation service backed by store, seeded with seedTerms.
func New(store storage.Store, seedTerms []string, m *metrics.Metrics, logger *logging.Logger) *Service {
	return &Service{
		store:      store,
		metrics:    m,
		logger:     logger,
		now:        time.Now,
		thresholds: domainmoderation.DefaultThresholds(),
		terms:      domainmoderation.NewTermSet(seedTerms),
	}
}

// SetClock overrides the time source (tests only).
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// SetThresholds overrides the default strike/mute/ban ladder.
func (s *Service) SetThresholds(th domainmoderation.Thresholds) { s.thresholds = th }

// SetBlockChecker wires the profile service in after construction.
func (s *Service) SetBlockChecker(b BlockChecker) { s.blockChecker = b }

// SetRoomBanner wires the room service in after construction.
func (s *Service) SetRoomBanner(b RoomBanner) { s.roomBanner = b }

// SetDisconnector wires the session service in after construction.
func (s *Service) SetDisconnector(d Disconnector) { s.disconnector = d }

// LoadTerms restores previously persisted managed/remote terms (called once
// at startup, after New, so admin-added terms survive a restart).
func (s *Service) LoadTerms(ctx context.Context) error {
	if doc, err := s.store.Get(ctx, storage.SectionModeration, managedTermsKey); err == nil {
		var terms []string
		if json.Unmarshal(doc, &terms) == nil {
			for _, t := range terms {
				s.terms.AddManagedTerm(t)
			}
		}
	} else if !internalerrors.Is(err, internalerrors.ErrCodeNotFound) {
		return err
	}
	if doc, err := s.store.Get(ctx, storage.SectionModeration, remoteTermsKey); err == nil {
		var terms []string
		if json.Unmarshal(doc, &terms) == nil {
			s.terms.SetRemoteTerms(terms)
		}
	} else if !internalerrors.Is(err, internalerrors.ErrCodeNotFound) {
		return err
	}
	return nil
}

func (s *Service) persistRecord(ctx context.Context, r *domainmoderation.Record) error {
	doc, err := json.Marshal(r)
	if err != nil {
		return internalerrors.Internal("marshal moderation record", err)
	}
	return s.store.Put(ctx, storage.SectionModeration, recordKeyPrefix+r.PlayerID, doc)
}

func (s *Service) loadRecord(ctx context.Context, playerID string) (*domainmoderation.Record, error) {
	doc, err := s.store.Get(ctx, storage.SectionModeration, recordKeyPrefix+playerID)
	if err != nil {
		if internalerrors.Is(err, internalerrors.ErrCodeNotFound) {
			return &domainmoderation.Record{PlayerID: playerID}, nil
		}
		return nil, err
	}
	var r domainmoderation.Record
	if err := json.Unmarshal(doc, &r); err != nil {
		return nil, internalerrors.Internal("unmarshal moderation record", err)
	}
	return &r, nil
}

// ChatOutcome reports how EvaluateChat resolved one submission.
type ChatOutcome struct {
	Action     domainmoderation.Action
	Term       string
	MutedUntil *time.Time
}

// EvaluateChat runs content through the banned-term ladder for senderID,
// applying the strike/mute/ban progression and, on a ban-threshold hit,
// auto-banning senderID from roomID and disconnecting them from sessionID.
// The caller delivers content to the room's stream only when Action is
// ActionDeliverClean or ActionDeliverWarning.
func (s *Service) EvaluateChat(ctx context.Context, roomID, sessionID, senderID, content string) (ChatOutcome, error) {
	rec, err := s.loadRecord(ctx, senderID)
	if err != nil {
		return ChatOutcome{}, err
	}

	now := s.now()
	if rec.IsMuted(now) {
		return ChatOutcome{Action: domainmoderation.ActionRejectedMuted, MutedUntil: rec.MuteUntil}, internalerrors.Muted(rec.MuteUntil.Format(time.RFC3339))
	}

	hit, term := s.terms.Evaluate(content)
	if !hit {
		return ChatOutcome{Action: domainmoderation.ActionDeliverClean}, nil
	}

	action := rec.ApplyHit(now, roomID, s.thresholds)
	if err := s.persistRecord(ctx, rec); err != nil {
		return ChatOutcome{}, err
	}
	if s.metrics != nil {
		s.metrics.RecordModerationAction(string(action))
	}

	switch action {
	case domainmoderation.ActionBanned:
		if s.roomBanner != nil {
			if err := s.roomBanner.BanPlayer(ctx, roomID, senderID); err != nil && s.logger != nil {
				s.logger.Warn(ctx, "moderation ban: room ban failed", map[string]interface{}{"roomId": roomID, "playerId": senderID, "error": err.Error()})
			}
		}
		if s.disconnector != nil {
			if err := s.disconnector.Leave(ctx, sessionID, senderID, "banned"); err != nil && s.logger != nil {
				s.logger.Warn(ctx, "moderation ban: disconnect failed", map[string]interface{}{"sessionId": sessionID, "playerId": senderID, "error": err.Error()})
			}
		}
		return ChatOutcome{Action: action, Term: term}, nil
	case domainmoderation.ActionRejectedMuted:
		return ChatOutcome{Action: action, Term: term, MutedUntil: rec.MuteUntil}, internalerrors.Muted(rec.MuteUntil.Format(time.RFC3339))
	default:
		return ChatOutcome{Action: action, Term: term}, nil
	}
}

// CheckBlock reports whether recipientID has blocked senderID, so the
// caller can exclude recipientID from chat delivery (spec.md §4.10: the
// message is dropped silently from the recipient's perspective).
func (s *Service) CheckBlock(ctx context.Context, recipientID, senderID string) (bool, error) {
	if s.blockChecker == nil {
		return false, nil
	}
	return s.blockChecker.HasBlocked(ctx, recipientID, senderID)
}

// ClearStrikes resets a player's strike count and active mute (admin
// override).
func (s *Service) ClearStrikes(ctx context.Context, playerID string) error {
	rec, err := s.loadRecord(ctx, playerID)
	if err != nil {
		return err
	}
	rec.ClearConduct(s.now())
	return s.persistRecord(ctx, rec)
}

// Unmute clears a player's active mute without resetting their strike count.
func (s *Service) Unmute(ctx context.Context, playerID string) error {
	rec, err := s.loadRecord(ctx, playerID)
	if err != nil {
		return err
	}
	rec.Unmute(s.now())
	return s.persistRecord(ctx, rec)
}

// AddTerm adds term to the managed term list and persists it.
func (s *Service) AddTerm(ctx context.Context, term string) error {
	s.terms.AddManagedTerm(term)
	return s.persistManagedTerms(ctx)
}

// RemoveTerm removes term from the managed term list and persists it.
func (s *Service) RemoveTerm(ctx context.Context, term string) error {
	s.terms.RemoveManagedTerm(term)
	return s.persistManagedTerms(ctx)
}

func (s *Service) persistManagedTerms(ctx context.Context) error {
	doc, err := json.Marshal(s.terms.ListTerms())
	if err != nil {
		return internalerrors.Internal("marshal managed terms", err)
	}
	return s.store.Put(ctx, storage.SectionModeration, managedTermsKey, doc)
}

// SetRemoteTerms replaces the remote term list wholesale and persists it.
func (s *Service) SetRemoteTerms(ctx context.Context, terms []string) error {
	s.terms.SetRemoteTerms(terms)
	doc, err := json.Marshal(terms)
	if err != nil {
		return internalerrors.Internal("marshal remote terms", err)
	}
	return s.store.Put(ctx, storage.SectionModeration, remoteTermsKey, doc)
}

// ListTerms returns every term currently in the union, for admin display.
func (s *Service) ListTerms() []string {
	return s.terms.ListTerms()
}

// GetRecord returns playerID's moderation record, for admin visibility.
func (s *Service) GetRecord(ctx context.Context, playerID string) (*domainmoderation.Record, error) {
	return s.loadRecord(ctx, playerID)
}
