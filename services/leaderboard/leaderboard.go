// Package leaderboard implements spec.md §4.13: durable, deduplicated score
// submission and ranked queries scoped by turn mode, difficulty, and time
// window.
package leaderboard

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	domainleaderboard "github.com/lowroll/dicehall/domain/leaderboard"
	"github.com/lowroll/dicehall/domain/room"
	internalerrors "github.com/lowroll/dicehall/infrastructure/errors"
	"github.com/lowroll/dicehall/infrastructure/logging"
	"github.com/lowroll/dicehall/infrastructure/metrics"
	"github.com/lowroll/dicehall/pkg/storage"
)

// DefaultPageSize is the page size QueryLeaderboard falls back to.
const DefaultPageSize = 50

// MaxPageSize bounds a single QueryLeaderboard call.
const MaxPageSize = 200

// Submission is one match result a caller wants ranked.
type Submission struct {
	PlayerID    string
	SessionID   string
	RoundIndex  int
	DisplayName string
	Difficulty  room.Difficulty
	TurnMode    room.TurnMode
	Score       int
	Busts       int
	RollsTaken  int
	PlayedAt    time.Time
}

// Service persists and ranks leaderboard entries.
type Service struct {
	store   storage.Store
	metrics *metrics.Metrics
	logger  *logging.Logger
	now     func() time.Time
}

// New builds a leaderboard service backed by store.
func New(store storage.Store, m *metrics.Metrics, logger *logging.Logger) *Service {
	return &Service{store: store, metrics: m, logger: logger, now: time.Now}
}

// SetClock overrides the time source (tests only).
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// SubmitScores records a batch of match results, deduplicated by
// (playerId, sessionId, roundIndex) so a retried or replayed submission
// never produces a second ranked entry.
func (s *Service) SubmitScores(ctx context.Context, submissions []Submission) error {
	for _, sub := range submissions {
		id := domainleaderboard.EntryID(sub.PlayerID, sub.SessionID, sub.RoundIndex)
		if _, err := s.store.Get(ctx, storage.SectionScores, id); err == nil {
			continue // already recorded; earlier submission wins
		} else if !internalerrors.Is(err, internalerrors.ErrCodeNotFound) {
			return err
		}

		entry := domainleaderboard.Entry{
			ID:          id,
			PlayerID:    sub.PlayerID,
			DisplayName: sub.DisplayName,
			Difficulty:  sub.Difficulty,
			TurnMode:    sub.TurnMode,
			Score:       sub.Score,
			Busts:       sub.Busts,
			RollsTaken:  sub.RollsTaken,
			PlayedAt:    sub.PlayedAt,
			SubmittedAt: s.now(),
		}
		doc, err := json.Marshal(entry)
		if err != nil {
			return internalerrors.Internal("marshal leaderboard entry", err)
		}
		if err := s.store.Put(ctx, storage.SectionScores, id, doc); err != nil {
			return err
		}
	}
	if s.logger != nil && len(submissions) > 0 {
		s.logger.Info(ctx, "leaderboard scores submitted", map[string]interface{}{"count": len(submissions)})
	}
	return nil
}

// Page is one page of ranked leaderboard entries.
type Page struct {
	Entries    []domainleaderboard.Entry
	NextCursor string
	HasMore    bool
}

// QueryLeaderboard returns entries matching turnMode and difficulty within
// window, best-ranked first. cursor/limit paginate the already-ranked list.
func (s *Service) QueryLeaderboard(ctx context.Context, turnMode room.TurnMode, difficulty room.Difficulty, window domainleaderboard.Window, cursor string, limit int) (Page, error) {
	if limit <= 0 || limit > MaxPageSize {
		limit = DefaultPageSize
	}

	cutoff := window.Since(s.now())
	var matched []domainleaderboard.Entry
	err := s.store.Scan(ctx, storage.SectionScores, "", func(key string, doc []byte) bool {
		var entry domainleaderboard.Entry
		if json.Unmarshal(doc, &entry) != nil {
			return true
		}
		if entry.TurnMode != turnMode || entry.Difficulty != difficulty {
			return true
		}
		if !cutoff.IsZero() && entry.PlayedAt.Before(cutoff) {
			return true
		}
		matched = append(matched, entry)
		return true
	})
	if err != nil {
		return Page{}, err
	}
	domainleaderboard.Rank(matched)

	start := 0
	if cursor != "" {
		for i, e := range matched {
			if e.ID == cursor {
				start = i + 1
				break
			}
		}
	}
	if start > len(matched) {
		start = len(matched)
	}
	end := start + limit
	hasMore := end < len(matched)
	if end > len(matched) {
		end = len(matched)
	}
	page := matched[start:end]

	nextCursor := ""
	if hasMore && len(page) > 0 {
		nextCursor = page[len(page)-1].ID
	}
	return Page{Entries: page, NextCursor: nextCursor, HasMore: hasMore}, nil
}

// sortByRecent orders entries newest-first rather than ranked; PlayerHistory
// uses it for a player's own submission history.
func sortByRecent(entries []domainleaderboard.Entry) []domainleaderboard.Entry {
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].SubmittedAt.After(entries[j].SubmittedAt) })
	return entries
}

// PlayerHistory returns playerID's own submissions, newest-first, unranked.
func (s *Service) PlayerHistory(ctx context.Context, playerID string) ([]domainleaderboard.Entry, error) {
	var mine []domainleaderboard.Entry
	err := s.store.Scan(ctx, storage.SectionScores, "", func(key string, doc []byte) bool {
		var entry domainleaderboard.Entry
		if json.Unmarshal(doc, &entry) == nil && entry.PlayerID == playerID {
			mine = append(mine, entry)
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	return sortByRecent(mine), nil
}
