// Package leaderboard defines the submitted-score entity and ranking rules
// for spec.md §4.13: per-match results, deduplicated by a deterministic ID,
// ranked lowest-total-wins with the same tie-break spec.md §9 leaves open
// for in-session winner determination.
package leaderboard

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"time"

	"github.com/lowroll/dicehall/domain/room"
)

// Window bounds a leaderboard query by recency.
type Window string

const (
	WindowAllTime Window = "allTime"
	WindowDaily   Window = "daily"
	WindowWeekly  Window = "weekly"
	WindowMonthly Window = "monthly"
)

// Since returns the cutoff instant for w relative to now; WindowAllTime
// returns the zero time (no cutoff).
func (w Window) Since(now time.Time) time.Time {
	switch w {
	case WindowDaily:
		return now.Add(-24 * time.Hour)
	case WindowWeekly:
		return now.Add(-7 * 24 * time.Hour)
	case WindowMonthly:
		return now.Add(-30 * 24 * time.Hour)
	default:
		return time.Time{}
	}
}

// Entry is one submitted match result.
type Entry struct {
	ID          string          `json:"id"`
	PlayerID    string          `json:"playerId"`
	DisplayName string          `json:"displayName"`
	Difficulty  room.Difficulty `json:"difficulty"`
	TurnMode    room.TurnMode   `json:"turnMode"`
	Score       int             `json:"score"`
	Busts       int             `json:"busts"`
	RollsTaken  int             `json:"rollsTaken"`
	PlayedAt    time.Time       `json:"playedAt"`
	SubmittedAt time.Time       `json:"submittedAt"`
}

// EntryID computes the deterministic dedup ID for one submission, so
// resubmitting the same match result never produces a second ranked entry
// (spec.md §4.13/§5: "earlier submissions are never overwritten by later
// duplicates").
func EntryID(playerID, sessionID string, roundIndex int) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%d", playerID, sessionID, roundIndex)
	return hex.EncodeToString(h.Sum(nil))[:32]
}

// Less reports whether a ranks ahead of b: lowest score wins, then fewest
// busts, then fewest rolls taken, then stable by submission order — the
// same tie-break spec.md §9 resolves for in-session winners, reused here
// for ranked queries.
func Less(a, b Entry) bool {
	if a.Score != b.Score {
		return a.Score < b.Score
	}
	if a.Busts != b.Busts {
		return a.Busts < b.Busts
	}
	if a.RollsTaken != b.RollsTaken {
		return a.RollsTaken < b.RollsTaken
	}
	return a.SubmittedAt.Before(b.SubmittedAt)
}

// Rank sorts entries in place by Less and returns them for chaining.
func Rank(entries []Entry) []Entry {
	sort.SliceStable(entries, func(i, j int) bool { return Less(entries[i], entries[j]) })
	return entries
}
