// Package sessions implements the session manager (spec.md §4.6): it owns
// Session, Participant and TurnState records, join/heartbeat/leave
// lifecycle, and seat/ready transitions. Turn-state mutation itself belongs
// to services/turn; this package notifies it of participant-driven events
// through the narrow TurnNotifier interface to avoid an import cycle.
package sessions

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lowroll/dicehall/domain/room"
	"github.com/lowroll/dicehall/domain/session"
	internalerrors "github.com/lowroll/dicehall/infrastructure/errors"
	"github.com/lowroll/dicehall/infrastructure/logging"
	"github.com/lowroll/dicehall/infrastructure/metrics"
	"github.com/lowroll/dicehall/pkg/storage"
	"github.com/lowroll/dicehall/services/rooms"
)

// DefaultLivenessThreshold is how long a participant may go without a
// heartbeat before being pruned (spec.md §4.6 default 45s).
const DefaultLivenessThreshold = 45 * time.Second

// Record is the persisted aggregate for one session: the canonical
// TurnState lives on Session, participants are keyed by playerID.
type Record struct {
	Session      session.Session                 `json:"session"`
	Participants map[string]*session.Participant `json:"participants"`
}

// TurnNotifier lets the session manager inform the turn engine of
// participant-driven events without importing services/turn.
type TurnNotifier interface {
	ActivePlayerLeft(ctx context.Context, sessionID, leavingPlayerID string) error
	ParticipantsChanged(ctx context.Context, sessionID string) error
}

// Broadcaster publishes a room event to every subscriber, implemented by
// system/stream.
type Broadcaster interface {
	Publish(ctx context.Context, roomID, eventType string, payload interface{}) error
}

// JoinRequest describes a join request already authenticated and
// capacity-checked by services/rooms.
type JoinRequest struct {
	PlayerID      string
	DisplayName   string
	IsBot         bool
	BotDifficulty string
}

// Action is a participant self-service state transition (spec.md §4.6).
type Action string

const (
	ActionSit     Action = "sit"
	ActionStand   Action = "stand"
	ActionReady   Action = "ready"
	ActionUnready Action = "unready"
)

// Service is the session manager.
type Service struct {
	mu                sync.Mutex
	store             storage.Store
	rooms             *rooms.Service
	metrics           *metrics.Metrics
	logger            *logging.Logger
	now               func() time.Time
	livenessThreshold time.Duration

	turnNotifier TurnNotifier
	broadcaster  Broadcaster
}

// New builds a session manager backed by store, delegating capacity and
// room lookups to rooms.
func New(store storage.Store, roomRegistry *rooms.Service, m *metrics.Metrics, logger *logging.Logger) *Service {
	return &Service{
		store:             store,
		rooms:             roomRegistry,
		metrics:           m,
		logger:            logger,
		now:               time.Now,
		livenessThreshold: DefaultLivenessThreshold,
	}
}

// SetTurnNotifier wires the turn engine in after construction, breaking the
// services/sessions <-> services/turn import cycle.
func (s *Service) SetTurnNotifier(n TurnNotifier) { s.turnNotifier = n }

// SetBroadcaster wires the stream hub in after construction.
func (s *Service) SetBroadcaster(b Broadcaster) { s.broadcaster = b }

// SetClock overrides the time source (tests only).
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// SetLivenessThreshold overrides the default heartbeat liveness window.
func (s *Service) SetLivenessThreshold(d time.Duration) { s.livenessThreshold = d }

func newBaseSeed() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func (s *Service) persist(ctx context.Context, rec *Record) error {
	doc, err := json.Marshal(rec)
	if err != nil {
		return internalerrors.Internal("marshal session", err)
	}
	return s.store.Put(ctx, storage.SectionSessions, rec.Session.ID, doc)
}

func (s *Service) load(ctx context.Context, sessionID string) (*Record, error) {
	doc, err := s.store.Get(ctx, storage.SectionSessions, sessionID)
	if err != nil {
		return nil, err
	}
	var rec Record
	if err := json.Unmarshal(doc, &rec); err != nil {
		return nil, internalerrors.Internal("unmarshal session", err)
	}
	if rec.Participants == nil {
		rec.Participants = make(map[string]*session.Participant)
	}
	return &rec, nil
}

func (s *Service) emit(ctx context.Context, roomID, eventType string, payload interface{}) {
	if s.broadcaster == nil {
		return
	}
	if err := s.broadcaster.Publish(ctx, roomID, eventType, payload); err != nil && s.logger != nil {
		s.logger.Warn(ctx, "broadcast failed", map[string]interface{}{"roomId": roomID, "eventType": eventType, "error": err.Error()})
	}
}

// seatedHumanCount counts non-bot seated participants, mirrored onto the
// room so services/rooms can enforce join capacity without a callback.
func seatedHumanCount(rec *Record) int {
	n := 0
	for _, p := range rec.Participants {
		if p.IsSeated && !p.IsBot {
			n++
		}
	}
	return n
}

func firstFreeSeat(rec *Record, maxPlayers int) (int, bool) {
	taken := make(map[int]bool, len(rec.Participants))
	for _, p := range rec.Participants {
		if p.IsSeated && p.SeatIndex != nil {
			taken[*p.SeatIndex] = true
		}
	}
	for i := 0; i < maxPlayers; i++ {
		if !taken[i] {
			return i, true
		}
	}
	return 0, false
}

// getOrCreateSession loads the session bound to r, creating one (and
// binding r.SessionID) on first join.
func (s *Service) getOrCreateSession(ctx context.Context, r *room.Room) (*Record, error) {
	if r.SessionID != "" {
		rec, err := s.load(ctx, r.SessionID)
		if err == nil {
			return rec, nil
		}
		if !internalerrors.Is(err, internalerrors.ErrCodeNotFound) {
			return nil, err
		}
	}

	seed, err := newBaseSeed()
	if err != nil {
		return nil, internalerrors.Internal("generate session seed", err)
	}
	rec := &Record{
		Session: session.Session{
			ID:       uuid.NewString(),
			RoomID:   r.ID,
			BaseSeed: seed,
			TurnState: session.TurnState{
				Phase: session.PhaseWaitingReady,
			},
			CreatedAt: s.now(),
		},
		Participants: make(map[string]*session.Participant),
	}
	r.SessionID = rec.Session.ID
	if err := s.rooms.SetSessionID(ctx, r.ID, rec.Session.ID); err != nil {
		return nil, err
	}
	return rec, nil
}

// Join seats req into r's session, creating the session if this is the
// first participant. Returns the session, the new participant, and an
// opaque stream ticket the transport exchanges for a stream subscription.
// Join seats or reattaches a participant. Its turn-notifier callout happens
// after s.mu is released: ParticipantsChanged may re-enter this service via
// the turn engine's Save, and s.mu is not reentrant (see UpdateParticipantState).
func (s *Service) Join(ctx context.Context, r *room.Room, req JoinRequest) (*session.Session, *session.Participant, string, error) {
	sess, p, ticket, notify, err := s.joinLocked(ctx, r, req)
	if err != nil {
		return nil, nil, "", err
	}
	if notify && s.turnNotifier != nil {
		if err := s.turnNotifier.ParticipantsChanged(ctx, sess.ID); err != nil && s.logger != nil {
			s.logger.Warn(ctx, "turn notifier ParticipantsChanged failed", map[string]interface{}{"error": err.Error()})
		}
	}
	return sess, p, ticket, nil
}

func (s *Service) joinLocked(ctx context.Context, r *room.Room, req JoinRequest) (*session.Session, *session.Participant, string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r.Status == room.StatusClosed {
		return nil, nil, "", false, internalerrors.RoomClosed(r.ID)
	}
	if r.IsBanned(req.PlayerID) {
		return nil, nil, "", false, internalerrors.RoomBanned(r.ID)
	}

	rec, err := s.getOrCreateSession(ctx, r)
	if err != nil {
		return nil, nil, "", false, err
	}

	if existing, ok := rec.Participants[req.PlayerID]; ok {
		existing.LastHeartbeatAt = s.now()
		if err := s.persist(ctx, rec); err != nil {
			return nil, nil, "", false, err
		}
		return &rec.Session, existing, newStreamTicket(), false, nil
	}

	p := &session.Participant{
		PlayerID:        req.PlayerID,
		SessionID:       rec.Session.ID,
		DisplayName:     req.DisplayName,
		IsBot:           req.IsBot,
		BotDifficulty:   req.BotDifficulty,
		LastHeartbeatAt: s.now(),
	}
	if seat, ok := firstFreeSeat(rec, r.MaxPlayers); ok {
		p.SeatIndex = &seat
		p.IsSeated = true
		if req.IsBot {
			p.IsReady = true
		}
	}
	rec.Participants[req.PlayerID] = p

	if err := s.persist(ctx, rec); err != nil {
		return nil, nil, "", false, err
	}
	if err := s.rooms.SetSeatedHumans(ctx, r.ID, seatedHumanCount(rec)); err != nil {
		return nil, nil, "", false, err
	}

	s.emit(ctx, r.ID, "participant_joined", p)
	return &rec.Session, p, newStreamTicket(), true, nil
}

func newStreamTicket() string { return uuid.NewString() }

// Heartbeat refreshes a participant's liveness and the session's room
// activity (spec.md §4.6).
func (s *Service) Heartbeat(ctx context.Context, sessionID, participantID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.load(ctx, sessionID)
	if err != nil {
		return err
	}
	p, ok := rec.Participants[participantID]
	if !ok {
		return internalerrors.NotFound("participant", participantID)
	}
	p.LastHeartbeatAt = s.now()
	if err := s.persist(ctx, rec); err != nil {
		return err
	}
	return s.rooms.UpdateActivity(ctx, rec.Session.RoomID)
}

// RefreshAuth re-validates a participant's token is still theirs to hold;
// token verification itself is the transport's job (pkg/auth), so this
// only records the refresh as a liveness touch.
func (s *Service) RefreshAuth(ctx context.Context, sessionID, participantID string) error {
	return s.Heartbeat(ctx, sessionID, participantID)
}

// Leave removes a participant immediately (spec.md §4.6). If the leaving
// participant was the active turn player, Leave notifies the turn engine
// itself.
func (s *Service) Leave(ctx context.Context, sessionID, participantID, reason string) error {
	wasActive, err := s.leaveLocked(ctx, sessionID, participantID, reason)
	if err != nil {
		return err
	}
	if s.turnNotifier != nil {
		if wasActive {
			if err := s.turnNotifier.ActivePlayerLeft(ctx, sessionID, participantID); err != nil && s.logger != nil {
				s.logger.Warn(ctx, "turn notifier ActivePlayerLeft failed", map[string]interface{}{"error": err.Error()})
			}
		}
		if err := s.turnNotifier.ParticipantsChanged(ctx, sessionID); err != nil && s.logger != nil {
			s.logger.Warn(ctx, "turn notifier ParticipantsChanged failed", map[string]interface{}{"error": err.Error()})
		}
	}
	return nil
}

func (s *Service) leaveLocked(ctx context.Context, sessionID, participantID, reason string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.load(ctx, sessionID)
	if err != nil {
		return false, err
	}
	if _, ok := rec.Participants[participantID]; !ok {
		return false, internalerrors.NotFound("participant", participantID)
	}
	wasActive := rec.Session.TurnState.ActivePlayerID == participantID
	delete(rec.Participants, participantID)

	if err := s.persist(ctx, rec); err != nil {
		return false, err
	}
	if err := s.rooms.SetSeatedHumans(ctx, rec.Session.RoomID, seatedHumanCount(rec)); err != nil {
		return false, err
	}

	s.emit(ctx, rec.Session.RoomID, "participant_state", map[string]interface{}{
		"playerId": participantID, "state": "left", "reason": reason,
	})
	return wasActive, nil
}

// UpdateParticipantState applies a sit/stand/ready/unready self-service
// transition, enforcing isReady ⇒ isSeated (spec.md §3).
func (s *Service) UpdateParticipantState(ctx context.Context, sessionID, participantID string, action Action) error {
	if err := s.updateParticipantStateLocked(ctx, sessionID, participantID, action); err != nil {
		return err
	}
	if s.turnNotifier != nil {
		if err := s.turnNotifier.ParticipantsChanged(ctx, sessionID); err != nil && s.logger != nil {
			s.logger.Warn(ctx, "turn notifier ParticipantsChanged failed", map[string]interface{}{"error": err.Error()})
		}
	}
	return nil
}

func (s *Service) updateParticipantStateLocked(ctx context.Context, sessionID, participantID string, action Action) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.load(ctx, sessionID)
	if err != nil {
		return err
	}
	p, ok := rec.Participants[participantID]
	if !ok {
		return internalerrors.NotFound("participant", participantID)
	}
	r, err := s.rooms.Get(ctx, rec.Session.RoomID)
	if err != nil {
		return err
	}

	switch action {
	case ActionSit:
		if !p.IsSeated {
			seat, ok := firstFreeSeat(rec, r.MaxPlayers)
			if !ok {
				return internalerrors.RoomFull(r.ID)
			}
			p.SeatIndex = &seat
			p.IsSeated = true
		}
	case ActionStand:
		p.IsSeated = false
		p.IsReady = false
		p.SeatIndex = nil
	case ActionReady:
		if !p.IsSeated {
			return internalerrors.BadRequest("cannot ready without a seat")
		}
		p.IsReady = true
	case ActionUnready:
		p.IsReady = false
	default:
		return internalerrors.BadRequest("unknown participant action")
	}

	if err := s.persist(ctx, rec); err != nil {
		return err
	}
	if err := s.rooms.SetSeatedHumans(ctx, r.ID, seatedHumanCount(rec)); err != nil {
		return err
	}

	s.emit(ctx, r.ID, "participant_state", map[string]interface{}{
		"playerId": participantID, "isSeated": p.IsSeated, "isReady": p.IsReady,
	})
	return nil
}

// TurnOrderMembers returns the playerIDs of every seated+ready participant,
// in a stable order (by seat index), for the turn engine to build
// TurnState.TurnOrder from.
func (s *Service) TurnOrderMembers(ctx context.Context, sessionID string) ([]string, error) {
	rec, err := s.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return turnOrderMembers(rec), nil
}

func turnOrderMembers(rec *Record) []string {
	type seated struct {
		id   string
		seat int
	}
	var members []seated
	for id, p := range rec.Participants {
		if p.IsTurnOrderMember() && p.SeatIndex != nil {
			members = append(members, seated{id, *p.SeatIndex})
		}
	}
	for i := 1; i < len(members); i++ {
		for j := i; j > 0 && members[j-1].seat > members[j].seat; j-- {
			members[j-1], members[j] = members[j], members[j-1]
		}
	}
	out := make([]string, len(members))
	for i, m := range members {
		out[i] = m.id
	}
	return out
}

// HasLiveSeatedHuman reports whether any seated, non-bot participant has
// heartbeated within the liveness window — used to gate QueueNext and the
// room inactivity countdown.
func (s *Service) HasLiveSeatedHuman(ctx context.Context, sessionID string) (bool, error) {
	rec, err := s.load(ctx, sessionID)
	if err != nil {
		return false, err
	}
	cutoff := s.now().Add(-s.livenessThreshold)
	for _, p := range rec.Participants {
		if p.IsSeated && !p.IsBot && p.LastHeartbeatAt.After(cutoff) {
			return true, nil
		}
	}
	return false, nil
}

// PruneExpiredHeartbeats removes participants whose liveness has expired
// (spec.md §4.6 background ticker). Returns the pruned playerIDs.
func (s *Service) PruneExpiredHeartbeats(ctx context.Context, sessionID string) ([]string, error) {
	pruned, wasActiveLeaving, activePlayerID, err := s.pruneExpiredHeartbeatsLocked(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if s.turnNotifier != nil {
		if wasActiveLeaving {
			if err := s.turnNotifier.ActivePlayerLeft(ctx, sessionID, activePlayerID); err != nil && s.logger != nil {
				s.logger.Warn(ctx, "turn notifier ActivePlayerLeft failed", map[string]interface{}{"error": err.Error()})
			}
		}
		if len(pruned) > 0 {
			if err := s.turnNotifier.ParticipantsChanged(ctx, sessionID); err != nil && s.logger != nil {
				s.logger.Warn(ctx, "turn notifier ParticipantsChanged failed", map[string]interface{}{"error": err.Error()})
			}
		}
	}
	return pruned, nil
}

func (s *Service) pruneExpiredHeartbeatsLocked(ctx context.Context, sessionID string) (pruned []string, wasActiveLeaving bool, activePlayerID string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.load(ctx, sessionID)
	if err != nil {
		return nil, false, "", err
	}
	cutoff := s.now().Add(-s.livenessThreshold)
	activePlayerID = rec.Session.TurnState.ActivePlayerID

	for id, p := range rec.Participants {
		if p.IsBot {
			continue
		}
		if p.LastHeartbeatAt.Before(cutoff) {
			pruned = append(pruned, id)
			if activePlayerID == id {
				wasActiveLeaving = true
			}
			delete(rec.Participants, id)
		}
	}
	if len(pruned) == 0 {
		return nil, false, "", nil
	}

	if err := s.persist(ctx, rec); err != nil {
		return nil, false, "", err
	}
	if err := s.rooms.SetSeatedHumans(ctx, rec.Session.RoomID, seatedHumanCount(rec)); err != nil {
		return nil, false, "", err
	}

	for _, id := range pruned {
		s.emit(ctx, rec.Session.RoomID, "participant_state", map[string]interface{}{"playerId": id, "state": "pruned"})
	}
	return pruned, wasActiveLeaving, activePlayerID, nil
}

// Get loads the session+participants aggregate for read-only callers
// (turn engine, transport snapshot, admin).
func (s *Service) Get(ctx context.Context, sessionID string) (*Record, error) {
	return s.load(ctx, sessionID)
}

// Save persists a Record mutated by another service (the turn engine owns
// TurnState mutation but reuses this package's storage for durability).
func (s *Service) Save(ctx context.Context, rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.persist(ctx, rec)
}
