// Package turn implements the server-authoritative turn state machine
// (spec.md §4.7) — the hardest single component in the system. It owns
// TurnState transitions; session and participant records stay owned by
// services/sessions, which this package mutates through Get/Save.
package turn

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lowroll/dicehall/domain/dice"
	"github.com/lowroll/dicehall/domain/prng"
	"github.com/lowroll/dicehall/domain/room"
	"github.com/lowroll/dicehall/domain/session"
	internalerrors "github.com/lowroll/dicehall/infrastructure/errors"
	"github.com/lowroll/dicehall/infrastructure/logging"
	"github.com/lowroll/dicehall/infrastructure/metrics"
	"github.com/lowroll/dicehall/services/bot"
	"github.com/lowroll/dicehall/services/rooms"
	"github.com/lowroll/dicehall/services/sessions"
)

// Broadcaster publishes a room event to every subscriber, implemented by
// system/stream. Duplicated from services/sessions.Broadcaster (same shape)
// to keep the two packages independently importable.
type Broadcaster interface {
	Publish(ctx context.Context, roomID, eventType string, payload interface{}) error
}

// Config tunes per-difficulty timing and the dice pool every room deals.
type Config struct {
	DicePool         []dice.Kind
	TurnTimeout      map[room.Difficulty]time.Duration
	TimeoutWarnLead  time.Duration
	MatchTargetRound map[room.Difficulty]int
	PostRoundDelay   time.Duration
}

// DefaultConfig matches spec.md §4.7's stated defaults: ~30s turn timeout
// (difficulty-scaled), a 5s warning lead, and a 60s post-round delay.
func DefaultConfig() Config {
	return Config{
		DicePool: []dice.Kind{dice.D6, dice.D6, dice.D6, dice.D6, dice.D6, dice.D6},
		TurnTimeout: map[room.Difficulty]time.Duration{
			room.DifficultyEasy:   35 * time.Second,
			room.DifficultyNormal: 30 * time.Second,
			room.DifficultyHard:   25 * time.Second,
		},
		TimeoutWarnLead: 5 * time.Second,
		MatchTargetRound: map[room.Difficulty]int{
			room.DifficultyEasy:   5,
			room.DifficultyNormal: 3,
			room.DifficultyHard:   3,
		},
		PostRoundDelay: 60 * time.Second,
	}
}

func (c Config) turnTimeout(d room.Difficulty) time.Duration {
	if v, ok := c.TurnTimeout[d]; ok {
		return v
	}
	return 30 * time.Second
}

func (c Config) matchTargetRounds(d room.Difficulty) int {
	if v, ok := c.MatchTargetRound[d]; ok {
		return v
	}
	return 3
}

// Service is the turn engine.
type Service struct {
	mu          sync.Mutex
	sessions    *sessions.Service
	rooms       *rooms.Service
	broadcaster Broadcaster
	metrics     *metrics.Metrics
	logger      *logging.Logger
	now         func() time.Time
	cfg         Config
}

// New builds a turn engine over the given session manager and room
// registry.
func New(sessionSvc *sessions.Service, roomSvc *rooms.Service, m *metrics.Metrics, logger *logging.Logger) *Service {
	return &Service{
		sessions: sessionSvc,
		rooms:    roomSvc,
		metrics:  m,
		logger:   logger,
		now:      time.Now,
		cfg:      DefaultConfig(),
	}
}

// SetBroadcaster wires the stream hub in after construction.
func (s *Service) SetBroadcaster(b Broadcaster) { s.broadcaster = b }

// SetClock overrides the time source (tests only).
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// SetConfig overrides the default difficulty tuning.
func (s *Service) SetConfig(cfg Config) { s.cfg = cfg }

func (s *Service) emit(ctx context.Context, roomID, eventType string, payload interface{}) {
	if s.broadcaster == nil {
		return
	}
	if err := s.broadcaster.Publish(ctx, roomID, eventType, payload); err != nil && s.logger != nil {
		s.logger.Warn(ctx, "broadcast failed", map[string]interface{}{"roomId": roomID, "eventType": eventType, "error": err.Error()})
	}
}

// readyToStart reports whether every seated human is ready, so
// waitingReady may advance (spec.md §4.7: "all-human participants isReady
// ∨ soloHumanFallback" — a lone seated human is trivially "all of them").
func readyToStart(rec *sessions.Record) bool {
	anyHuman := false
	for _, p := range rec.Participants {
		if p.IsSeated && !p.IsBot {
			anyHuman = true
			if !p.IsReady {
				return false
			}
		}
	}
	return anyHuman
}

// StartRoundIfReady transitions a waitingReady session into preRoll once
// every seated human is ready, computing the round's turn order.
func (s *Service) StartRoundIfReady(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	r, err := s.rooms.Get(ctx, rec.Session.RoomID)
	if err != nil {
		return err
	}
	return s.StartRoundIfReadyLocked(ctx, rec, r)
}

// turnOrderMembers mirrors sessions.turnOrderMembers; duplicated narrowly
// here since that helper is unexported.
func turnOrderMembers(rec *sessions.Record) []string {
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

// activePool resolves the dice pool the active player rolls this turn: a
// fresh pool on their first roll of the turn, the carried-over pool from
// their last roll this turn (fullTurnRound, or mid-turn in rollByRoll),
// or their saved pool from an earlier round-robin visit (rollByRoll).
func activePool(rec *sessions.Record, r *room.Room, cfg Config) []dice.Die {
	ts := &rec.Session.TurnState
	if ts.ActiveRoll != nil {
		return ts.ActiveRoll.Dice
	}
	if pool, ok := ts.PlayerPools[ts.ActivePlayerID]; ok {
		return pool
	}
	return dice.BuildPool(dice.PoolConfig{Kinds: cfg.DicePool})
}

// rerollInPlay rerolls only dice still in play and unscored, leaving
// already-scored dice untouched — so a player's banked progress survives a
// reroll of the remainder of their pool.
func rerollInPlay(rng *prng.PRNG, pool []dice.Die) []dice.Die {
	out := make([]dice.Die, len(pool))
	for i, d := range pool {
		if d.InPlay && !d.Scored {
			d.Value = rng.Roll(d.Kind)
		}
		out[i] = d
	}
	return out
}

// RollIntent performs the active player's roll (spec.md §4.7). Idempotent
// under duplicate retry when no new roll has happened since (same
// rollIndex already active).
func (s *Service) RollIntent(ctx context.Context, sessionID, playerID string) (*session.ActiveRoll, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	ts := &rec.Session.TurnState

	if ts.Phase == session.PhasePostRoll && ts.ActivePlayerID == playerID && ts.ActiveRoll != nil {
		return ts.ActiveRoll, nil
	}
	if ts.Phase != session.PhasePreRoll {
		return nil, internalerrors.WrongPhase(string(session.PhasePreRoll), string(ts.Phase))
	}
	if ts.ActivePlayerID != playerID {
		return nil, internalerrors.WrongTurn(ts.ActivePlayerID)
	}

	r, err := s.rooms.Get(ctx, rec.Session.RoomID)
	if err != nil {
		return nil, err
	}
	return s.rollIntentLocked(ctx, rec, r, playerID)
}

// ScoreSelection applies a claimed selection against the active roll
// (spec.md §4.7). Idempotent via the deterministic scoreLog entry ID. bank
// is the player's explicit "stop and keep my points" signal: in
// fullTurnRound mode it ends the turn instead of returning to preRoll for
// another push. It is ignored outside fullTurnRound, since rollByRoll ends
// every player's visit to the seat after one score regardless.
func (s *Service) ScoreSelection(ctx context.Context, sessionID, playerID, claimedServerRollID string, selection dice.Selection, bank bool) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return 0, err
	}
	ts := &rec.Session.TurnState

	if ts.Phase != session.PhasePostRoll {
		return 0, internalerrors.WrongPhase(string(session.PhasePostRoll), string(ts.Phase))
	}
	if ts.ActivePlayerID != playerID {
		return 0, internalerrors.WrongTurn(ts.ActivePlayerID)
	}

	r, err := s.rooms.Get(ctx, rec.Session.RoomID)
	if err != nil {
		return 0, err
	}
	return s.scoreSelectionLocked(ctx, rec, r, playerID, claimedServerRollID, selection, bank)
}

// endTurn closes out the active player's run (scored out or busted),
// records them done for the round, and advances the seat.
func (s *Service) endTurn(ctx context.Context, rec *sessions.Record, r *room.Room, busted bool) error {
	ts := &rec.Session.TurnState
	ts.MarkRoundDone(ts.ActivePlayerID)
	if ts.PlayerPools != nil {
		delete(ts.PlayerPools, ts.ActivePlayerID)
	}
	s.emit(ctx, r.ID, "turn_end", map[string]interface{}{"playerId": ts.ActivePlayerID, "busted": busted})
	return s.advanceSeat(ctx, rec, r)
}

// advanceSeat moves the active seat to the next clockwise turn-order
// member who is not yet done for the round, or completes the round/match
// if none remain.
func (s *Service) advanceSeat(ctx context.Context, rec *sessions.Record, r *room.Room) error {
	ts := &rec.Session.TurnState
	ts.Phase = session.PhaseBetweenTurns

	next := ts.ActivePlayerID
	for i := 0; i < len(ts.TurnOrder); i++ {
		next = session.NextSeat(ts.TurnOrder, next)
		if !ts.IsRoundDone(next) {
			ts.ActivePlayerID = next
			ts.Phase = session.PhasePreRoll
			ts.ActiveRoll = nil
			deadline := s.now().Add(s.cfg.turnTimeout(r.Difficulty))
			ts.TurnDeadlineAt = &deadline
			ts.DeadlineWarned = false
			return s.completeRoundOrContinue(ctx, rec, r, false)
		}
	}
	return s.completeRoundOrContinue(ctx, rec, r, true)
}

// completeRoundOrContinue finalizes round/match completion once every
// turn-order member is done for the round (spec.md §4.7).
func (s *Service) completeRoundOrContinue(ctx context.Context, rec *sessions.Record, r *room.Room, roundOver bool) error {
	ts := &rec.Session.TurnState
	if !roundOver {
		if err := s.sessions.Save(ctx, rec); err != nil {
			return err
		}
		s.emit(ctx, r.ID, "turn_start", ts)
		return nil
	}

	if ts.RoundIndex >= s.cfg.matchTargetRounds(r.Difficulty) {
		ts.Phase = session.PhaseMatchComplete
		ts.ActivePlayerID = ""
		ts.ActiveRoll = nil
		if err := s.sessions.Save(ctx, rec); err != nil {
			return err
		}
		s.emit(ctx, r.ID, "session_state", rec.Session)
		return nil
	}

	ts.Phase = session.PhaseWaitingReady
	ts.ActivePlayerID = ""
	ts.ActiveRoll = nil
	ts.RoundDonePlayers = nil
	ts.PlayerPools = nil
	if err := s.sessions.Save(ctx, rec); err != nil {
		return err
	}
	s.emit(ctx, r.ID, "session_state", rec.Session)
	return s.StartRoundIfReadyLocked(ctx, rec, r)
}

// StartRoundIfReadyLocked re-enters the ready check without re-acquiring
// the mutex, for callers already holding it (advanceSeat's caller chain).
func (s *Service) StartRoundIfReadyLocked(ctx context.Context, rec *sessions.Record, r *room.Room) error {
	ts := &rec.Session.TurnState
	if ts.Phase != session.PhaseWaitingReady || !readyToStart(rec) {
		return nil
	}
	order := turnOrderMembers(rec)
	if len(order) == 0 {
		return nil
	}
	ts.RoundIndex++
	ts.TurnOrder = order
	ts.ActivePlayerID = order[0]
	ts.Phase = session.PhasePreRoll
	deadline := s.now().Add(s.cfg.turnTimeout(r.Difficulty))
	ts.TurnDeadlineAt = &deadline
	ts.DeadlineWarned = false
	if err := s.sessions.Save(ctx, rec); err != nil {
		return err
	}
	s.emit(ctx, r.ID, "turn_start", ts)
	return nil
}

// ActivePlayerLeft implements sessions.TurnNotifier: immediately transition
// to betweenTurns and pass the turn to the next clockwise participant
// (spec.md §4.7).
func (s *Service) ActivePlayerLeft(ctx context.Context, sessionID, leavingPlayerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	ts := &rec.Session.TurnState
	if ts.ActivePlayerID != leavingPlayerID {
		return nil
	}
	r, err := s.rooms.Get(ctx, rec.Session.RoomID)
	if err != nil {
		return err
	}
	ts.MarkRoundDone(leavingPlayerID)
	if ts.PlayerPools != nil {
		delete(ts.PlayerPools, leavingPlayerID)
	}
	return s.advanceSeat(ctx, rec, r)
}

// ParticipantsChanged implements sessions.TurnNotifier: recomputes the
// waitingReady gate (a newly-ready participant may let the round start).
func (s *Service) ParticipantsChanged(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	if rec.Session.TurnState.Phase != session.PhaseWaitingReady {
		return nil
	}
	r, err := s.rooms.Get(ctx, rec.Session.RoomID)
	if err != nil {
		return err
	}
	return s.StartRoundIfReadyLocked(ctx, rec, r)
}

// QueueNext restarts a matchComplete session for a fresh match, provided at
// least one seated+ready human remains (spec.md §4.6/§4.7).
func (s *Service) QueueNext(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	if rec.Session.TurnState.Phase != session.PhaseMatchComplete {
		return nil
	}
	anyHuman := false
	for _, p := range rec.Participants {
		if p.IsSeated && !p.IsBot {
			anyHuman = true
			break
		}
	}
	if !anyHuman {
		return nil
	}

	ts := &rec.Session.TurnState
	ts.RoundIndex = 0
	ts.RoundDonePlayers = nil
	ts.PlayerPools = nil
	ts.Phase = session.PhaseWaitingReady
	if err := s.sessions.Save(ctx, rec); err != nil {
		return err
	}

	r, err := s.rooms.Get(ctx, rec.Session.RoomID)
	if err != nil {
		return err
	}
	return s.StartRoundIfReadyLocked(ctx, rec, r)
}

// CheckTimeout evaluates a single session's deadline (spec.md §4.7) and
// performs TimeoutAutoAdvance if it has passed, or emits the T-5s warning
// once. Intended to be polled by the orchestrator's timeout ticker.
func (s *Service) CheckTimeout(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	ts := &rec.Session.TurnState
	if ts.TurnDeadlineAt == nil || ts.ActivePlayerID == "" {
		return nil
	}
	now := s.now()
	remaining := ts.TurnDeadlineAt.Sub(now)

	if remaining > 0 {
		if remaining <= s.cfg.TimeoutWarnLead && !ts.DeadlineWarned {
			r, err := s.rooms.Get(ctx, rec.Session.RoomID)
			if err != nil {
				return err
			}
			ts.DeadlineWarned = true
			if err := s.sessions.Save(ctx, rec); err != nil {
				return err
			}
			s.emit(ctx, r.ID, "system_notification", map[string]interface{}{
				"kind": "turn_deadline_warning", "playerId": ts.ActivePlayerID, "remainingMs": remaining.Milliseconds(),
			})
		}
		return nil
	}

	r, err := s.rooms.Get(ctx, rec.Session.RoomID)
	if err != nil {
		return err
	}
	if s.metrics != nil {
		s.metrics.RecordTurnTimeout(string(ts.Phase))
	}
	return s.timeoutAutoAdvance(ctx, rec, r)
}

// timeoutAutoAdvance implements the deadline-passed behavior: auto-score
// the best single die in postRoll; in preRoll, roll on a bot's behalf, or
// skip a human's turn (spec.md §4.7).
func (s *Service) timeoutAutoAdvance(ctx context.Context, rec *sessions.Record, r *room.Room) error {
	ts := &rec.Session.TurnState
	playerID := ts.ActivePlayerID

	switch ts.Phase {
	case session.PhasePostRoll:
		if ts.ActiveRoll == nil {
			return s.advanceSeat(ctx, rec, r)
		}
		sel := dice.BestSingleDieSelection(ts.ActiveRoll.Dice)
		if len(sel) == 0 {
			return s.endTurn(ctx, rec, r, true)
		}
		points, ok, _ := dice.ScoreSelection(ts.ActiveRoll.Dice, sel)
		if !ok {
			return s.endTurn(ctx, rec, r, true)
		}
		ts.ActiveRoll.Dice = dice.MarkScored(ts.ActiveRoll.Dice, sel)
		entry := session.ScoreEntry{
			ID:           session.ScoreEntryID(rec.Session.ID, playerID, ts.ActiveRoll.RollIndex, sel),
			PlayerID:     playerID,
			ServerRollID: ts.ActiveRoll.ServerRollID,
			RollIndex:    ts.ActiveRoll.RollIndex,
			Selection:    sel,
			Points:       points,
			At:           s.now(),
		}
		rec.Session.ScoreLog = append(rec.Session.ScoreLog, entry)
		if p, ok := rec.Participants[playerID]; ok {
			p.Score += points
		}
		s.emit(ctx, r.ID, "score_committed", entry)
		if dice.IsGameComplete(ts.ActiveRoll.Dice) {
			return s.endTurn(ctx, rec, r, false)
		}
		return s.endTurn(ctx, rec, r, dice.HasBusted(ts.ActiveRoll.Dice))
	case session.PhasePreRoll:
		// A bot is rolled for; a human is auto-skipped.
		if p, ok := rec.Participants[playerID]; ok && p.IsBot {
			_, err := s.rollIntentLocked(ctx, rec, r, playerID)
			return err
		}
		return s.endTurn(ctx, rec, r, false)
	default:
		return nil
	}
}

// BotTick drives one bot decision for the active player, if the active
// player is a bot (spec.md §4.8, invoked by the orchestrator's bot ticker).
func (s *Service) BotTick(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	ts := &rec.Session.TurnState
	p, ok := rec.Participants[ts.ActivePlayerID]
	if !ok || !p.IsBot {
		return nil
	}

	r, err := s.rooms.Get(ctx, rec.Session.RoomID)
	if err != nil {
		return err
	}
	difficulty := bot.Difficulty(p.BotDifficulty)

	if ts.Phase == session.PhasePreRoll {
		_, err := s.rollIntentLocked(ctx, rec, r, ts.ActivePlayerID)
		return err
	}
	if ts.Phase != session.PhasePostRoll || ts.ActiveRoll == nil {
		return nil
	}

	seed := prng.RollSeed(rec.Session.BaseSeed, ts.ActiveRoll.RollIndex) + "-" + ts.ActivePlayerID
	decision := bot.Decide(ts.ActiveRoll.Dice, difficulty, seed)
	if s.metrics != nil {
		s.metrics.RecordBotAdvance(p.BotDifficulty, string(decision.Action))
	}
	if decision.Action != bot.ActionScore {
		return nil
	}
	_, err = s.scoreSelectionLocked(ctx, rec, r, ts.ActivePlayerID, ts.ActiveRoll.ServerRollID, decision.Selection, decision.Bank)
	return err
}

// committedScore finds a previously committed score-log entry for the given
// roll, matching on the selection as an unordered set so a retry with the
// same dice IDs in a different order still dedups correctly.
func committedScore(log []session.ScoreEntry, serverRollID string, selection dice.Selection) (int, bool) {
	for _, e := range log {
		if e.ServerRollID == serverRollID && selectionSetEqual(e.Selection, selection) {
			return e.Points, true
		}
	}
	return 0, false
}

func selectionSetEqual(a, b dice.Selection) bool {
	if len(a) != len(b) {
		return false
	}
	set := make(map[string]bool, len(a))
	for _, id := range a {
		set[id] = true
	}
	for _, id := range b {
		if !set[id] {
			return false
		}
	}
	return true
}

// rollIntentLocked/scoreSelectionLocked hold the actual mutation logic for
// a roll/score, shared by the public RollIntent/ScoreSelection entry
// points and BotTick, all of which call in already holding s.mu.
func (s *Service) rollIntentLocked(ctx context.Context, rec *sessions.Record, r *room.Room, playerID string) (*session.ActiveRoll, error) {
	ts := &rec.Session.TurnState
	pool := activePool(rec, r, s.cfg)
	newRollIndex := ts.RollIndex + 1
	seed := prng.RollSeed(rec.Session.BaseSeed, newRollIndex)
	rng := prng.New(seed)
	rolled := rerollInPlay(rng, pool)

	roll := &session.ActiveRoll{
		ServerRollID: uuid.NewString(),
		RollIndex:    newRollIndex,
		Dice:         rolled,
		RolledAt:     s.now(),
	}
	ts.ActiveRoll = roll
	ts.RollIndex = newRollIndex
	ts.Phase = session.PhasePostRoll
	deadline := s.now().Add(s.cfg.turnTimeout(r.Difficulty))
	ts.TurnDeadlineAt = &deadline
	ts.DeadlineWarned = false

	if err := s.sessions.Save(ctx, rec); err != nil {
		return nil, err
	}
	s.emit(ctx, r.ID, "roll_result", roll)
	if dice.HasBusted(rolled) {
		if err := s.endTurn(ctx, rec, r, true); err != nil {
			return nil, err
		}
	}
	return roll, nil
}

func (s *Service) scoreSelectionLocked(ctx context.Context, rec *sessions.Record, r *room.Room, playerID, claimedServerRollID string, selection dice.Selection, bank bool) (int, error) {
	ts := &rec.Session.TurnState

	// A retry of an already-committed roll+selection must return the
	// recorded points rather than error, even if the turn has since moved
	// past this roll (endTurn clears ActiveRoll on every outcome).
	if pts, ok := committedScore(rec.Session.ScoreLog, claimedServerRollID, selection); ok {
		return pts, nil
	}
	if ts.ActiveRoll == nil || ts.ActiveRoll.ServerRollID != claimedServerRollID {
		return 0, internalerrors.BadRequest("serverRollId does not match the active roll")
	}

	points, ok, reason := dice.ScoreSelection(ts.ActiveRoll.Dice, selection)
	if !ok {
		return 0, internalerrors.InvalidSelection(string(reason))
	}
	ts.ActiveRoll.Dice = dice.MarkScored(ts.ActiveRoll.Dice, selection)
	entry := session.ScoreEntry{
		ID:           session.ScoreEntryID(rec.Session.ID, playerID, ts.ActiveRoll.RollIndex, selection),
		PlayerID:     playerID,
		ServerRollID: claimedServerRollID,
		RollIndex:    ts.ActiveRoll.RollIndex,
		Selection:    selection,
		Points:       points,
		At:           s.now(),
	}
	rec.Session.ScoreLog = append(rec.Session.ScoreLog, entry)
	if p, ok := rec.Participants[playerID]; ok {
		p.Score += points
	}
	ts.Phase = session.PhaseResolving
	if err := s.sessions.Save(ctx, rec); err != nil {
		return points, err
	}
	s.emit(ctx, r.ID, "score_committed", entry)

	complete := dice.IsGameComplete(ts.ActiveRoll.Dice)
	busted := !complete && dice.HasBusted(ts.ActiveRoll.Dice)
	switch {
	case complete:
		return points, s.endTurn(ctx, rec, r, false)
	case busted:
		return points, s.endTurn(ctx, rec, r, true)
	case r.TurnMode == room.TurnModeRollByRoll:
		if ts.PlayerPools == nil {
			ts.PlayerPools = make(map[string][]dice.Die)
		}
		ts.PlayerPools[playerID] = ts.ActiveRoll.Dice
		return points, s.advanceSeat(ctx, rec, r)
	case bank:
		// fullTurnRound's declare-stop path: the player keeps every point
		// scored so far this turn and the seat passes on, same bookkeeping
		// as endTurn's non-bust outcome.
		return points, s.endTurn(ctx, rec, r, false)
	default:
		if ts.PlayerPools == nil {
			ts.PlayerPools = make(map[string][]dice.Die)
		}
		ts.PlayerPools[playerID] = ts.ActiveRoll.Dice
		ts.Phase = session.PhasePreRoll
		ts.ActiveRoll = nil
		deadline := s.now().Add(s.cfg.turnTimeout(r.Difficulty))
		ts.TurnDeadlineAt = &deadline
		ts.DeadlineWarned = false
		return points, s.sessions.Save(ctx, rec)
	}
}
