// Package bot implements the AI participant policies (spec.md §4.8). It is a
// pure library invoked by services/turn on every bot tick; it owns no
// storage and performs no broadcasting itself.
package bot

import (
	"time"

	"github.com/lowroll/dicehall/domain/dice"
	"github.com/lowroll/dicehall/domain/prng"
)

// Action is one tick decision a bot can return.
type Action string

const (
	ActionRoll  Action = "roll"
	ActionScore Action = "score"
	ActionPass  Action = "pass"
)

// Decision is the bot's chosen action for this tick, with a selection when
// Action is ActionScore. Bank signals that, in fullTurnRound mode, the bot
// wants to stop pushing its luck and keep its accumulated points rather
// than roll again after this selection resolves.
type Decision struct {
	Action    Action
	Selection dice.Selection
	Bank      bool
}

// Difficulty identifies a tuning profile (spec.md §4.8).
type Difficulty string

const (
	Easy   Difficulty = "easy"
	Normal Difficulty = "normal"
	Hard   Difficulty = "hard"
)

// ThinkTime returns the tuned pause before the bot acts, simulating
// deliberation so a room of bots doesn't resolve instantaneously.
func ThinkTime(d Difficulty) time.Duration {
	switch d {
	case Easy:
		return 2 * time.Second
	case Hard:
		return 800 * time.Millisecond
	default:
		return 1500 * time.Millisecond
	}
}

// mistakeSelection returns a deliberately suboptimal, but still valid,
// single-die selection: the worst-scoring in-play unscored die instead of
// the best one.
func mistakeSelection(pool []dice.Die) dice.Selection {
	var worst *dice.Die
	for i := range pool {
		d := pool[i]
		if !d.InPlay || d.Scored || d.Points() == 0 {
			continue
		}
		if worst == nil || d.Points() < worst.Points() {
			worst = &pool[i]
		}
	}
	if worst == nil {
		return dice.BestSingleDieSelection(pool)
	}
	return dice.Selection{worst.ID}
}

// remainingScorable counts in-play, unscored dice with a nonzero point
// value — the dice a bot could still choose to keep pushing with.
func remainingScorable(pool []dice.Die) int {
	n := 0
	for _, d := range pool {
		if d.InPlay && !d.Scored && d.Points() > 0 {
			n++
		}
	}
	return n
}

// Decide returns the bot's next action for the given in-play dice, tuned by
// difficulty. seed must be unique per decision point (e.g.
// "{sessionSeed}-{rollIndex}-{playerID}") so bot behavior is itself
// reproducible under action-log replay, matching the determinism the rest
// of the engine relies on.
func Decide(pool []dice.Die, difficulty Difficulty, seed string) Decision {
	if dice.IsGameComplete(pool) {
		return Decision{Action: ActionPass}
	}
	if dice.HasBusted(pool) {
		return Decision{Action: ActionPass}
	}

	rng := prng.New(seed)
	roll := rng.NextUint32()

	switch difficulty {
	case Easy:
		if roll%100 < 20 {
			return Decision{Action: ActionScore, Selection: mistakeSelection(pool)}
		}
		return Decision{Action: ActionScore, Selection: dice.BestSingleDieSelection(pool)}
	case Hard:
		// Conservative: bank as soon as fewer than three scorable dice
		// remain, since the expected value of pushing further no longer
		// outweighs the bust risk.
		if remainingScorable(pool) <= 2 {
			return Decision{Action: ActionScore, Selection: dice.BestSingleDieSelection(pool), Bank: true}
		}
		return Decision{Action: ActionScore, Selection: dice.BestSingleDieSelection(pool)}
	default: // Normal
		if roll%100 < 10 {
			return Decision{Action: ActionScore, Selection: mistakeSelection(pool)}
		}
		return Decision{Action: ActionScore, Selection: dice.BestSingleDieSelection(pool)}
	}
}

// NextPhaseAction reports a seated, ready bot's next step: ActionRoll when
// there is no active roll (preRoll), otherwise ActionScore (postRoll, where
// Decide picks the selection).
func NextPhaseAction(pool []dice.Die, hasActiveRoll bool) Action {
	if !hasActiveRoll {
		return ActionRoll
	}
	return ActionScore
}
