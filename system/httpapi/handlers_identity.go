package httpapi

import (
	"net/http"

	"github.com/lowroll/dicehall/domain/profile"
	"github.com/lowroll/dicehall/infrastructure/errors"
	"github.com/lowroll/dicehall/infrastructure/httputil"
	leaderboardsvc "github.com/lowroll/dicehall/services/leaderboard"
)

// healthResponse matches spec.md §6's `GET /api/health` shape.
type healthResponse struct {
	Status  string        `json:"status"`
	Storage storageHealth `json:"storage"`
}

type storageHealth struct {
	Backend       string         `json:"backend"`
	Prefix        string         `json:"prefix"`
	SectionCounts map[string]int `json:"sectionCounts,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status: "ok",
		Storage: storageHealth{
			Backend: s.deps.StorageBackend,
			Prefix:  s.deps.StoragePrefix,
		},
	}
	if s.deps.Store != nil {
		if counts, err := s.deps.Store.SectionCounts(r.Context(), nil); err == nil {
			resp.Storage.SectionCounts = counts
		}
	}
	s.writeJSON(w, http.StatusOK, resp)
}

type identityResponse struct {
	PlayerID     string   `json:"playerId"`
	IdentityKind string   `json:"identityKind"`
	Roles        []string `json:"roles"`
}

func (s *Server) handleIdentity(w http.ResponseWriter, r *http.Request) {
	identity := identityFromContext(r.Context())
	roles := []string{}
	if identity.Role != "" {
		roles = append(roles, identity.Role)
	}
	s.writeJSON(w, http.StatusOK, identityResponse{
		PlayerID:     identity.PlayerID,
		IdentityKind: string(identity.Kind),
		Roles:        roles,
	})
}

func (s *Server) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	identity := identityFromContext(r.Context())
	playerID := pathVar(r, "playerId")

	p, err := s.deps.Profiles.GetProfile(r.Context(), playerID, identity.Kind, identity.DisplayName)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleUpsertProfile(w http.ResponseWriter, r *http.Request) {
	identity := identityFromContext(r.Context())
	playerID := pathVar(r, "playerId")
	if playerID != identity.PlayerID {
		s.writeError(w, r, errors.Forbidden("cannot modify another player's profile"))
		return
	}

	var patch profile.Patch
	if !httputil.DecodeJSONOptional(w, r, &patch) {
		return
	}

	p, err := s.deps.Profiles.UpsertProfile(r.Context(), playerID, identity.Kind, patch)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, p)
}

// submitScoresRequest is the `POST /api/profile/:playerId/scores` body.
type submitScoresRequest struct {
	Scores []leaderboardsvc.Submission `json:"scores"`
}

func (s *Server) handleSubmitScores(w http.ResponseWriter, r *http.Request) {
	identity := identityFromContext(r.Context())
	playerID := pathVar(r, "playerId")
	if playerID != identity.PlayerID {
		s.writeError(w, r, errors.Forbidden("cannot submit scores for another player"))
		return
	}

	var req submitScoresRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	for i := range req.Scores {
		req.Scores[i].PlayerID = playerID
	}

	if err := s.deps.Leaderboard.SubmitScores(r.Context(), req.Scores); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]interface{}{"accepted": len(req.Scores)})
}
