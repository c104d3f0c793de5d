// Package dice implements the pure, deterministic rules engine: pool
// construction and selection scoring under a seeded PRNG. It performs no I/O
// and never suspends.
package dice

import "fmt"

// Kind identifies a die shape.
type Kind string

const (
	D4   Kind = "d4"
	D6   Kind = "d6"
	D8   Kind = "d8"
	D10  Kind = "d10"
	D12  Kind = "d12"
	D20  Kind = "d20"
	D100 Kind = "d100"
)

// MaxFace returns the highest face value for kind, or 0 for an unknown kind.
func MaxFace(kind Kind) int {
	switch kind {
	case D4:
		return 4
	case D6:
		return 6
	case D8:
		return 8
	case D10:
		return 10
	case D12:
		return 12
	case D20:
		return 20
	case D100:
		return 100
	default:
		return 0
	}
}

// Die is one physical die within an active roll.
type Die struct {
	ID     string `json:"id"`
	Kind   Kind   `json:"kind"`
	Value  int    `json:"value"`
	InPlay bool   `json:"inPlay"`
	Scored bool   `json:"scored"`
}

// Points implements the scoring contract: points(die) = maxFace(kind) - value.
func (d Die) Points() int {
	return MaxFace(d.Kind) - d.Value
}

// PoolConfig describes the dice a room rolls each turn.
type PoolConfig struct {
	Kinds []Kind // one entry per die in the pool, in die order (d0, d1, ...)
}

// BuildPool constructs the ordered, unrolled dice for a fresh pool. Values
// are assigned by the caller (the turn engine, via domain/prng) immediately
// after construction; BuildPool itself performs no randomness.
func BuildPool(cfg PoolConfig) []Die {
	dice := make([]Die, len(cfg.Kinds))
	for i, k := range cfg.Kinds {
		dice[i] = Die{
			ID:     fmt.Sprintf("d%d", i),
			Kind:   k,
			InPlay: true,
		}
	}
	return dice
}

// Selection is a set of die IDs the active player claims to score.
type Selection []string

// InvalidSelectionReason enumerates why IsValidSelection rejected a selection.
type InvalidSelectionReason string

const (
	ReasonEmpty       InvalidSelectionReason = "empty"
	ReasonUnknownDie  InvalidSelectionReason = "unknown_die"
	ReasonNotInPlay   InvalidSelectionReason = "not_in_play"
	ReasonAlreadyUsed InvalidSelectionReason = "already_scored"
)

// IsValidSelection reports whether selection cites only in-play, unscored
// dice present in dice, and is non-empty.
func IsValidSelection(dice []Die, selection Selection) (bool, InvalidSelectionReason) {
	if len(selection) == 0 {
		return false, ReasonEmpty
	}

	byID := make(map[string]Die, len(dice))
	for _, d := range dice {
		byID[d.ID] = d
	}

	for _, id := range selection {
		d, ok := byID[id]
		if !ok {
			return false, ReasonUnknownDie
		}
		if d.Scored {
			return false, ReasonAlreadyUsed
		}
		if !d.InPlay {
			return false, ReasonNotInPlay
		}
	}

	return true, ""
}

// ScoreSelection computes the total points for selection against dice.
// The server always recomputes from dice; any client-claimed point total is
// out of band and must be ignored by callers (spec.md §9 Open Question,
// resolved in SPEC_FULL.md §3).
func ScoreSelection(dice []Die, selection Selection) (points int, ok bool, reason InvalidSelectionReason) {
	valid, why := IsValidSelection(dice, selection)
	if !valid {
		return 0, false, why
	}

	byID := make(map[string]Die, len(dice))
	for _, d := range dice {
		byID[d.ID] = d
	}

	total := 0
	for _, id := range selection {
		total += byID[id].Points()
	}
	return total, true, ""
}

// MarkScored returns a copy of dice with every die in selection marked
// scored and no longer in play. Callers use the returned slice as the new
// canonical dice state; ScoreSelection should be called first to validate.
func MarkScored(dice []Die, selection Selection) []Die {
	selected := make(map[string]bool, len(selection))
	for _, id := range selection {
		selected[id] = true
	}

	out := make([]Die, len(dice))
	for i, d := range dice {
		if selected[d.ID] {
			d.Scored = true
			d.InPlay = false
		}
		out[i] = d
	}
	return out
}

// IsGameComplete reports whether every die in dice has been scored,
// meaning the active player has exhausted their pool.
func IsGameComplete(dice []Die) bool {
	for _, d := range dice {
		if !d.Scored {
			return false
		}
	}
	return true
}

// HasBusted reports whether the current roll is a bust: at least one die is
// still in play and unscored, but every such die rolled its max face
// (Points() == 0), so no selection could add anything but zero. A pool with
// no in-play unscored dice at all is a completed pool (see IsGameComplete),
// not a bust.
func HasBusted(dice []Die) bool {
	remaining := false
	for _, d := range dice {
		if d.InPlay && !d.Scored {
			remaining = true
			if d.Points() > 0 {
				return false
			}
		}
	}
	return remaining
}

// BestSingleDieSelection returns the selection of exactly one in-play,
// unscored die with the highest Points() value — used by the turn engine's
// TimeoutAutoAdvance in postRoll (spec.md §4.7).
func BestSingleDieSelection(dice []Die) Selection {
	var best *Die
	for i := range dice {
		d := dice[i]
		if !d.InPlay || d.Scored {
			continue
		}
		if best == nil || d.Points() > best.Points() {
			best = &dice[i]
		}
	}
	if best == nil {
		return nil
	}
	return Selection{best.ID}
}
