// Package rooms implements the room registry (spec.md §4.5): room creation,
// public listing with auto-seeding, join-by-code, and activity/expiry
// bookkeeping.
package rooms

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/lowroll/dicehall/domain/room"
	internalerrors "github.com/lowroll/dicehall/infrastructure/errors"
	"github.com/lowroll/dicehall/infrastructure/logging"
	"github.com/lowroll/dicehall/infrastructure/metrics"
	"github.com/lowroll/dicehall/pkg/storage"
)

// codeAlphabet excludes visually ambiguous characters (0/O, 1/I/L).
const codeAlphabet = "23456789ABCDEFGHJKMNPQRSTUVWXYZ"

const codeLength = 6

// DefaultInactivityThreshold is how long a room may sit with no seated
// humans before ExpireRoom is eligible (spec.md §3 default ~5 min).
const DefaultInactivityThreshold = 5 * time.Minute

// CreateOptions configures a new room (spec.md §4.5 CreateRoom).
type CreateOptions struct {
	Name       string
	Difficulty room.Difficulty
	Visibility room.Visibility
	MaxPlayers int
	TurnMode   room.TurnMode
	BotSeed    string
}

// ListFilter narrows the public room listing.
type ListFilter struct {
	Difficulty room.Difficulty // zero value = any
}

// Page is one page of public rooms.
type Page struct {
	Rooms      []*room.Room
	NextOffset int
	HasMore    bool
}

// Service is the room registry. It persists rooms via storage.Store and
// keeps an in-memory index of public room IDs per difficulty so ListRooms
// and the auto-seed invariant don't require a full section scan per call.
type Service struct {
	mu                  sync.RWMutex
	store               storage.Store
	metrics             *metrics.Metrics
	logger              *logging.Logger
	inactivityThreshold time.Duration
	now                 func() time.Time

	publicByDifficulty map[room.Difficulty]map[string]bool
}

// New builds a room registry backed by store.
func New(store storage.Store, m *metrics.Metrics, logger *logging.Logger) *Service {
	return &Service{
		store:               store,
		metrics:             m,
		logger:              logger,
		inactivityThreshold: DefaultInactivityThreshold,
		now:                 time.Now,
		publicByDifficulty: map[room.Difficulty]map[string]bool{
			room.DifficultyEasy:   {},
			room.DifficultyNormal: {},
			room.DifficultyHard:   {},
		},
	}
}

// SetInactivityThreshold overrides the default expiry threshold (tests/config).
func (s *Service) SetInactivityThreshold(d time.Duration) { s.inactivityThreshold = d }

// SetClock overrides the time source (tests only).
func (s *Service) SetClock(now func() time.Time) { s.now = now }

func generateCode() (string, error) {
	buf := make([]byte, codeLength)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	code := make([]byte, codeLength)
	for i, b := range buf {
		code[i] = codeAlphabet[int(b)%len(codeAlphabet)]
	}
	return string(code), nil
}

func (s *Service) persist(ctx context.Context, r *room.Room) error {
	doc, err := json.Marshal(r)
	if err != nil {
		return internalerrors.Internal("marshal room", err)
	}
	if err := s.store.Put(ctx, storage.SectionRooms, r.ID, doc); err != nil {
		return err
	}
	return nil
}

func (s *Service) load(ctx context.Context, id string) (*room.Room, error) {
	doc, err := s.store.Get(ctx, storage.SectionRooms, id)
	if err != nil {
		return nil, err
	}
	var r room.Room
	if err := json.Unmarshal(doc, &r); err != nil {
		return nil, internalerrors.Internal("unmarshal room", err)
	}
	return &r, nil
}

func (s *Service) trackPublic(r *room.Room) {
	if r.Visibility != room.VisibilityPublic {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.publicByDifficulty[r.Difficulty]
	if !ok {
		set = make(map[string]bool)
		s.publicByDifficulty[r.Difficulty] = set
	}
	if r.Status == room.StatusClosed {
		delete(set, r.ID)
		return
	}
	set[r.ID] = true
}

// CreateRoom creates a new room with a freshly generated short code.
func (s *Service) CreateRoom(ctx context.Context, opts CreateOptions) (*room.Room, error) {
	maxPlayers, ok := room.ValidateMaxPlayers(opts.MaxPlayers)
	if !ok {
		return nil, internalerrors.BadRequest(fmt.Sprintf("maxPlayers must be in [%d,%d]", room.MinPlayers, room.MaxPlayers))
	}

	code, err := generateCode()
	if err != nil {
		return nil, internalerrors.Internal("generate room code", err)
	}

	now := s.now()
	r := &room.Room{
		ID:             code,
		Name:           opts.Name,
		Difficulty:     opts.Difficulty,
		Visibility:     opts.Visibility,
		MaxPlayers:     maxPlayers,
		TurnMode:       opts.TurnMode,
		CreatedAt:      now,
		LastActivityAt: now,
		Status:         room.StatusLobby,
		BotSeed:        opts.BotSeed,
	}

	if err := s.persist(ctx, r); err != nil {
		return nil, err
	}
	s.trackPublic(r)
	if s.metrics != nil {
		s.metrics.SetRoomsActive(string(r.Status), string(r.Difficulty), 1)
	}
	return r, nil
}

// ListRooms returns a page of public rooms, optionally filtered by difficulty.
func (s *Service) ListRooms(ctx context.Context, filter ListFilter, offset, limit int) (Page, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	var ids []string
	s.mu.RLock()
	if filter.Difficulty != "" {
		for id := range s.publicByDifficulty[filter.Difficulty] {
			ids = append(ids, id)
		}
	} else {
		for _, set := range s.publicByDifficulty {
			for id := range set {
				ids = append(ids, id)
			}
		}
	}
	s.mu.RUnlock()
	sort.Strings(ids)

	if offset > len(ids) {
		offset = len(ids)
	}
	end := offset + limit
	hasMore := end < len(ids)
	if end > len(ids) {
		end = len(ids)
	}

	rooms := make([]*room.Room, 0, end-offset)
	for _, id := range ids[offset:end] {
		r, err := s.load(ctx, id)
		if err != nil {
			if internalerrors.Is(err, internalerrors.ErrCodeNotFound) {
				continue
			}
			return Page{}, err
		}
		rooms = append(rooms, r)
	}

	return Page{Rooms: rooms, NextOffset: end, HasMore: hasMore}, nil
}

// EnsurePublicSeed guarantees at least one open public room per difficulty
// (spec.md §4.5 invariant), creating one with sane defaults where missing.
func (s *Service) EnsurePublicSeed(ctx context.Context) error {
	for _, d := range []room.Difficulty{room.DifficultyEasy, room.DifficultyNormal, room.DifficultyHard} {
		s.mu.RLock()
		empty := len(s.publicByDifficulty[d]) == 0
		s.mu.RUnlock()
		if !empty {
			continue
		}
		if _, err := s.CreateRoom(ctx, CreateOptions{
			Name:       fmt.Sprintf("%s table", d),
			Difficulty: d,
			Visibility: room.VisibilityPublic,
			MaxPlayers: 6,
			TurnMode:   room.TurnModeRollByRoll,
		}); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) checkJoinable(r *room.Room, playerID string) error {
	if r.Status == room.StatusClosed {
		return internalerrors.RoomClosed(r.ID)
	}
	if r.IsBanned(playerID) {
		return internalerrors.RoomBanned(r.ID)
	}
	if !r.HasCapacity() {
		return internalerrors.RoomFull(r.ID)
	}
	return nil
}

// JoinPublic finds a joinable public room matching filter. Callers seat the
// player via services/sessions after this returns.
func (s *Service) JoinPublic(ctx context.Context, filter ListFilter, playerID string) (*room.Room, error) {
	page, err := s.ListRooms(ctx, filter, 0, 100)
	if err != nil {
		return nil, err
	}
	for _, r := range page.Rooms {
		if s.checkJoinable(r, playerID) == nil {
			return r, nil
		}
	}
	if s.metrics != nil {
		s.metrics.RecordJoinFailure("no_joinable_public_room")
	}
	return nil, internalerrors.NotFound("room", "public:"+string(filter.Difficulty))
}

// JoinByCode resolves an exact room code, public or private.
func (s *Service) JoinByCode(ctx context.Context, code, playerID string) (*room.Room, error) {
	r, err := s.load(ctx, code)
	if err != nil {
		if s.metrics != nil {
			s.metrics.RecordJoinFailure("room_not_found")
		}
		return nil, internalerrors.NotFound("room", code)
	}
	if err := s.checkJoinable(r, playerID); err != nil {
		if s.metrics != nil {
			s.metrics.RecordJoinFailure(string(internalerrors.GetServiceError(err).Code))
		}
		return nil, err
	}
	return r, nil
}

// UpdateActivity bumps a room's lastActivityAt to now (spec.md §4.5), used
// by the session manager and turn engine on every mutation.
func (s *Service) UpdateActivity(ctx context.Context, id string) error {
	r, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	r.TouchActivity(s.now())
	return s.persist(ctx, r)
}

// SetSeatedHumans mirrors the session manager's live seated-human count onto
// the persisted room, so join capacity checks don't need a cross-service call.
func (s *Service) SetSeatedHumans(ctx context.Context, id string, count int) error {
	r, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	r.SeatedHumans = count
	return s.persist(ctx, r)
}

// SetSessionID binds a room to its session on first join (spec.md §4.6), so
// later joins can find the existing session instead of creating a second one.
func (s *Service) SetSessionID(ctx context.Context, id, sessionID string) error {
	r, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	r.SessionID = sessionID
	return s.persist(ctx, r)
}

// BanPlayer adds playerID to the room's ban list, idempotently, so a later
// join attempt is rejected regardless of how the player reconnects
// (spec.md §4.10: moderation auto-ban removes and blocks re-entry).
func (s *Service) BanPlayer(ctx context.Context, id, playerID string) error {
	r, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	r.Ban(playerID)
	if err := s.persist(ctx, r); err != nil {
		return err
	}
	if s.logger != nil {
		s.logger.Info(ctx, "player banned from room", map[string]interface{}{"roomId": id, "playerId": playerID})
	}
	return nil
}

// ExpireRoom closes a room permanently (spec.md §3: closed rooms never re-open).
func (s *Service) ExpireRoom(ctx context.Context, id, reason string) error {
	r, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	if r.Status == room.StatusClosed {
		return nil
	}
	r.Status = room.StatusClosed
	if err := s.persist(ctx, r); err != nil {
		return err
	}
	s.trackPublic(r)
	if s.logger != nil {
		s.logger.Info(ctx, "room expired", map[string]interface{}{"roomId": id, "reason": reason})
	}
	if s.metrics != nil {
		s.metrics.SetRoomsActive(string(room.StatusClosed), string(r.Difficulty), 1)
	}
	return nil
}

// SweepInactive expires every public/private room with zero seated humans
// whose lastActivityAt is older than the configured inactivity threshold.
// Returns the IDs expired, for the caller to tear down matching sessions.
func (s *Service) SweepInactive(ctx context.Context) ([]string, error) {
	var expired []string
	err := s.store.Scan(ctx, storage.SectionRooms, "", func(key string, doc []byte) bool {
		var r room.Room
		if json.Unmarshal(doc, &r) != nil {
			return true
		}
		if r.Status != room.StatusClosed && r.SeatedHumans == 0 && s.now().Sub(r.LastActivityAt) > s.inactivityThreshold {
			expired = append(expired, r.ID)
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	for _, id := range expired {
		if err := s.ExpireRoom(ctx, id, "inactivity"); err != nil {
			return nil, err
		}
	}
	return expired, nil
}

// Get loads a room by ID, for callers outside the registry (session/turn
// services) that need the current snapshot.
func (s *Service) Get(ctx context.Context, id string) (*room.Room, error) {
	return s.load(ctx, id)
}
