// Package session defines the Session, Participant, TurnState, ActiveRoll
// and ScoreLog entities (spec.md §3) that the session manager and turn
// engine mutate. This package holds data shapes and pure invariant helpers;
// the owning services hold the mutation logic and concurrency discipline.
package session

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/lowroll/dicehall/domain/dice"
)

// Phase is a TurnState phase per the FSM in spec.md §4.7.
type Phase string

const (
	PhaseWaitingReady  Phase = "waitingReady"
	PhasePreRoll       Phase = "preRoll"
	PhasePostRoll      Phase = "postRoll"
	PhaseResolving     Phase = "resolving"
	PhaseBetweenTurns  Phase = "betweenTurns"
	PhaseMatchComplete Phase = "matchComplete"
)

// Session is the per-room game state container; 1:1 with an active Room.
type Session struct {
	ID        string     `json:"id"`
	RoomID    string      `json:"roomId"`
	BaseSeed  string      `json:"baseSeed"`
	TurnState TurnState   `json:"turnState"`
	ScoreLog  []ScoreEntry `json:"scoreLog"`
	CreatedAt time.Time   `json:"createdAt"`
	ClosedAt  *time.Time  `json:"closedAt,omitempty"`
}

// Participant is a player (human or bot) attached to a session.
type Participant struct {
	PlayerID        string    `json:"playerId"`
	SessionID       string    `json:"sessionId"`
	DisplayName     string    `json:"displayName"`
	SeatIndex       *int      `json:"seatIndex,omitempty"`
	IsSeated        bool      `json:"isSeated"`
	IsReady         bool      `json:"isReady"`
	IsBot           bool      `json:"isBot"`
	Score           int       `json:"score"`
	LastHeartbeatAt time.Time `json:"lastHeartbeatAt"`
	ConnectionID    string    `json:"connectionId,omitempty"`
	BotDifficulty   string    `json:"difficulty,omitempty"`
}

// IsTurnOrderMember reports whether p counts toward turn order: a
// participant is a turn-order member iff seated and ready (spec.md §3).
func (p *Participant) IsTurnOrderMember() bool {
	return p.IsSeated && p.IsReady
}

// ActiveRoll is the canonical server-authored roll snapshot.
type ActiveRoll struct {
	ServerRollID string      `json:"serverRollId"`
	RollIndex    int         `json:"rollIndex"`
	Dice         []dice.Die  `json:"dice"`
	RolledAt     time.Time   `json:"rolledAt"`
}

// TurnState is the single canonical turn state machine instance per session.
type TurnState struct {
	RoundIndex            int            `json:"roundIndex"`
	ActivePlayerID        string         `json:"activePlayerId,omitempty"`
	TurnDeadlineAt        *time.Time     `json:"turnDeadlineAt,omitempty"`
	ActiveRoll            *ActiveRoll    `json:"activeRoll,omitempty"`
	PendingScoreSelection dice.Selection `json:"pendingScoreSelection,omitempty"`
	Phase                 Phase          `json:"phase"`
	TurnOrder             []string       `json:"turnOrder"`
	RollIndex             int            `json:"rollIndex"`

	// DeadlineWarned reports whether the T-5s turn_deadline_warning has
	// already fired for the current TurnDeadlineAt; cleared every time a
	// fresh deadline is set so the warning fires exactly once per turn.
	DeadlineWarned bool `json:"deadlineWarned,omitempty"`

	// PlayerPools carries a rollByRoll participant's dice pool between their
	// round-robin visits to the active seat (fullTurnRound never leaves the
	// seat mid-pool so it has no need of this).
	PlayerPools map[string][]dice.Die `json:"playerPools,omitempty"`

	// RoundDonePlayers lists playerIDs who have either fully scored their
	// pool or busted out for the current round and take no further turns
	// until the next round starts.
	RoundDonePlayers []string `json:"roundDonePlayers,omitempty"`
}

// IsRoundDone reports whether playerID has finished their run for the
// current round (scored out or busted).
func (ts *TurnState) IsRoundDone(playerID string) bool {
	for _, id := range ts.RoundDonePlayers {
		if id == playerID {
			return true
		}
	}
	return false
}

// MarkRoundDone records playerID as finished for the current round
// (idempotent).
func (ts *TurnState) MarkRoundDone(playerID string) {
	if ts.IsRoundDone(playerID) {
		return
	}
	ts.RoundDonePlayers = append(ts.RoundDonePlayers, playerID)
}

// ScoreEntry is one committed score-log batch. ID is a deterministic hash of
// (sessionID, playerID, rollIndex, selection fingerprint), making resubmission
// idempotent per spec.md §4.13/§8.6. ServerRollID is carried alongside so a
// retry can be recognized even after the turn has moved past the roll it
// scored (the active roll is cleared the instant a selection resolves).
type ScoreEntry struct {
	ID           string         `json:"id"`
	PlayerID     string         `json:"playerId"`
	ServerRollID string         `json:"serverRollId"`
	RollIndex    int            `json:"rollIndex"`
	Selection    dice.Selection `json:"diceSelection"`
	Points       int            `json:"points"`
	At           time.Time      `json:"at"`
}

// selectionFingerprint produces a stable, order-independent representation
// of a selection for hashing.
func selectionFingerprint(sel dice.Selection) string {
	sorted := append(dice.Selection{}, sel...)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j-1] > sorted[j]; j-- {
			sorted[j-1], sorted[j] = sorted[j], sorted[j-1]
		}
	}
	return strings.Join(sorted, ",")
}

// ScoreEntryID computes the deterministic score-log ID for a batch.
func ScoreEntryID(sessionID, playerID string, rollIndex int, selection dice.Selection) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%d|%s", sessionID, playerID, rollIndex, selectionFingerprint(selection))
	return hex.EncodeToString(h.Sum(nil))[:32]
}

// NextSeat returns the next clockwise seat in turnOrder after current,
// wrapping around. Returns "" if turnOrder is empty.
func NextSeat(turnOrder []string, current string) string {
	if len(turnOrder) == 0 {
		return ""
	}
	for i, id := range turnOrder {
		if id == current {
			return turnOrder[(i+1)%len(turnOrder)]
		}
	}
	return turnOrder[0]
}
