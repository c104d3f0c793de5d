package httpapi

import (
	"net/http"

	domainleaderboard "github.com/lowroll/dicehall/domain/leaderboard"
	"github.com/lowroll/dicehall/domain/room"
	"github.com/lowroll/dicehall/infrastructure/httputil"
)

// handleQueryLeaderboard serves `GET /api/leaderboard?mode=&difficulty=&window=&cursor=&limit=`.
func (s *Server) handleQueryLeaderboard(w http.ResponseWriter, r *http.Request) {
	turnMode := room.TurnMode(httputil.QueryString(r, "mode", string(room.TurnModeRollByRoll)))
	difficulty := room.Difficulty(httputil.QueryString(r, "difficulty", string(room.DifficultyNormal)))
	window := domainleaderboard.Window(httputil.QueryString(r, "window", string(domainleaderboard.WindowAllTime)))
	cursor := httputil.QueryString(r, "cursor", "")
	limit := httputil.QueryInt(r, "limit", leaderboardDefaultLimit)

	page, err := s.deps.Leaderboard.QueryLeaderboard(r.Context(), turnMode, difficulty, window, cursor, limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, page)
}

const leaderboardDefaultLimit = 50
