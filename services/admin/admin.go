// Package admin implements the administrative read/mutate surface of
// spec.md §4.11: a three-tier role model (viewer/operator/owner) over room,
// moderation, and storage state, with every mutation audited.
package admin

import (
	"context"
	"time"

	"github.com/lowroll/dicehall/domain/audit"
	internalerrors "github.com/lowroll/dicehall/infrastructure/errors"
	"github.com/lowroll/dicehall/infrastructure/logging"
	"github.com/lowroll/dicehall/pkg/storage"
	auditsvc "github.com/lowroll/dicehall/services/audit"
	"github.com/lowroll/dicehall/services/rooms"
)

// roleRank orders the three admin roles from least to most privileged
// (spec.md §4.11 supplemented by SPEC_FULL.md §3: viewer is read-only,
// operator may mutate everything except role assignment, owner is
// unrestricted).
var roleRank = map[string]int{
	"viewer":   0,
	"operator": 1,
	"owner":    2,
}

func requireRole(role, minimum string) error {
	have, ok := roleRank[role]
	if !ok {
		return internalerrors.Forbidden("unknown admin role")
	}
	want := roleRank[minimum]
	if have < want {
		return internalerrors.Forbidden("insufficient admin role")
	}
	return nil
}

// RoomReader lists and mutates rooms, implemented by services/rooms.
type RoomReader interface {
	ListRooms(ctx context.Context, filter rooms.ListFilter, offset, limit int) (rooms.Page, error)
	ExpireRoom(ctx context.Context, id, reason string) error
}

// ParticipantRemover removes a participant from a session, implemented by
// services/sessions.
type ParticipantRemover interface {
	Leave(ctx context.Context, sessionID, participantID, reason string) error
}

// TermManager adds/removes banned terms and clears a player's conduct
// record, implemented by services/moderation.
type TermManager interface {
	AddTerm(ctx context.Context, term string) error
	RemoveTerm(ctx context.Context, term string) error
	ListTerms() []string
	ClearStrikes(ctx context.Context, playerID string) error
}

// AuditReader appends and pages the audit log, implemented by
// services/audit.
type AuditReader interface {
	Record(ctx context.Context, actorID string, actorKind audit.ActorKind, action, subject string, before, after interface{}, reason string) error
	List(ctx context.Context, cursor string, limit int) (auditsvc.Page, error)
}

// Service implements the admin read/mutate surface.
type Service struct {
	rooms      RoomReader
	sessions   ParticipantRemover
	moderation TermManager
	auditLog   AuditReader
	store      storage.Store
	logger     *logging.Logger
	startedAt  time.Time
	now        func() time.Time
}

// New builds an admin service wired to its dependencies. Any dependency may
// be nil; operations needing a nil dependency return Internal.
func New(roomSvc RoomReader, sessions ParticipantRemover, moderation TermManager, auditLog AuditReader, store storage.Store, logger *logging.Logger) *Service {
	now := time.Now
	return &Service{
		rooms:      roomSvc,
		sessions:   sessions,
		moderation: moderation,
		auditLog:   auditLog,
		store:      store,
		logger:     logger,
		startedAt:  now(),
		now:        now,
	}
}

// SetClock overrides the time source (tests only).
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
	s.startedAt = now()
}

// Overview is the admin landing-page summary (spec.md §4.11).
type Overview struct {
	UptimeSeconds  float64        `json:"uptimeSeconds"`
	StorageBackend string         `json:"storageBackend"`
	SectionCounts  map[string]int `json:"sectionCounts"`
}

// Overview returns process uptime and section counts. Any admin role may
// read it.
func (s *Service) Overview(ctx context.Context) (Overview, error) {
	if s.store == nil {
		return Overview{}, internalerrors.Internal("admin overview: no store wired", nil)
	}
	counts, err := s.store.SectionCounts(ctx, storage.KnownSections)
	if err != nil {
		return Overview{}, err
	}
	return Overview{
		UptimeSeconds:  s.now().Sub(s.startedAt).Seconds(),
		StorageBackend: s.store.Backend(),
		SectionCounts:  counts,
	}, nil
}

// StorageInfo returns the same section counts Overview does, broken out as
// its own read operation per spec.md §4.11's route list.
func (s *Service) StorageInfo(ctx context.Context) (map[string]int, error) {
	if s.store == nil {
		return nil, internalerrors.Internal("admin storage info: no store wired", nil)
	}
	return s.store.SectionCounts(ctx, storage.KnownSections)
}

// ListRooms proxies to the room registry. Any admin role may read it.
func (s *Service) ListRooms(ctx context.Context, filter rooms.ListFilter, offset, limit int) (rooms.Page, error) {
	if s.rooms == nil {
		return rooms.Page{}, internalerrors.Internal("admin list rooms: no room service wired", nil)
	}
	return s.rooms.ListRooms(ctx, filter, offset, limit)
}

// Audit pages the audit log. Any admin role may read it.
func (s *Service) Audit(ctx context.Context, cursor string, limit int) (auditsvc.Page, error) {
	if s.auditLog == nil {
		return auditsvc.Page{}, internalerrors.Internal("admin audit: no audit service wired", nil)
	}
	return s.auditLog.List(ctx, cursor, limit)
}

// RolesList returns the ordered admin role names, least to most privileged.
func (s *Service) RolesList() []string {
	return []string{"viewer", "operator", "owner"}
}

// ExpireRoom closes a room and audits the mutation. Requires operator.
func (s *Service) ExpireRoom(ctx context.Context, actorID, actorRole, roomID, reason string) error {
	if err := requireRole(actorRole, "operator"); err != nil {
		return err
	}
	if s.rooms == nil {
		return internalerrors.Internal("admin expire room: no room service wired", nil)
	}
	if err := s.rooms.ExpireRoom(ctx, roomID, reason); err != nil {
		return err
	}
	return s.audit(ctx, actorID, "expire_room", roomID, nil, nil, reason)
}

// RemoveParticipant disconnects a participant from a session and audits the
// mutation. Requires operator.
func (s *Service) RemoveParticipant(ctx context.Context, actorID, actorRole, sessionID, participantID, reason string) error {
	if err := requireRole(actorRole, "operator"); err != nil {
		return err
	}
	if s.sessions == nil {
		return internalerrors.Internal("admin remove participant: no session service wired", nil)
	}
	if err := s.sessions.Leave(ctx, sessionID, participantID, reason); err != nil {
		return err
	}
	return s.audit(ctx, actorID, "remove_participant", participantID, nil, nil, reason)
}

// AssignRole is a placeholder mutation for an identity provider's role
// claim; this server does not own the role store (spec.md §6 delegates
// identity to the auth layer), so it only validates and audits the
// intended change for the operator to apply upstream. Requires owner, the
// one mutation operator may not perform.
func (s *Service) AssignRole(ctx context.Context, actorID, actorRole, targetPlayerID, newRole string) error {
	if err := requireRole(actorRole, "owner"); err != nil {
		return err
	}
	if _, ok := roleRank[newRole]; !ok {
		return internalerrors.BadRequest("unknown role: " + newRole)
	}
	return s.audit(ctx, actorID, "assign_role", targetPlayerID, nil, map[string]string{"role": newRole}, "")
}

// AddTerm adds a banned term and audits the mutation. Requires operator.
func (s *Service) AddTerm(ctx context.Context, actorID, actorRole, term string) error {
	if err := requireRole(actorRole, "operator"); err != nil {
		return err
	}
	if s.moderation == nil {
		return internalerrors.Internal("admin add term: no moderation service wired", nil)
	}
	if err := s.moderation.AddTerm(ctx, term); err != nil {
		return err
	}
	return s.audit(ctx, actorID, "add_term", term, nil, nil, "")
}

// RemoveTerm removes a banned term and audits the mutation. Requires
// operator.
func (s *Service) RemoveTerm(ctx context.Context, actorID, actorRole, term string) error {
	if err := requireRole(actorRole, "operator"); err != nil {
		return err
	}
	if s.moderation == nil {
		return internalerrors.Internal("admin remove term: no moderation service wired", nil)
	}
	if err := s.moderation.RemoveTerm(ctx, term); err != nil {
		return err
	}
	return s.audit(ctx, actorID, "remove_term", term, nil, nil, "")
}

// ListTerms returns every banned term currently in effect. Any admin role
// may read it.
func (s *Service) ListTerms() ([]string, error) {
	if s.moderation == nil {
		return nil, internalerrors.Internal("admin list terms: no moderation service wired", nil)
	}
	return s.moderation.ListTerms(), nil
}

// ClearConduct resets a player's strikes and active mute and audits the
// mutation. Requires operator.
func (s *Service) ClearConduct(ctx context.Context, actorID, actorRole, playerID string) error {
	if err := requireRole(actorRole, "operator"); err != nil {
		return err
	}
	if s.moderation == nil {
		return internalerrors.Internal("admin clear conduct: no moderation service wired", nil)
	}
	if err := s.moderation.ClearStrikes(ctx, playerID); err != nil {
		return err
	}
	return s.audit(ctx, actorID, "clear_conduct", playerID, nil, nil, "")
}

func (s *Service) audit(ctx context.Context, actorID, action, subject string, before, after interface{}, reason string) error {
	if s.auditLog == nil {
		return internalerrors.Internal("admin: no audit service wired", nil)
	}
	return s.auditLog.Record(ctx, actorID, audit.ActorAdmin, action, subject, before, after, reason)
}
