package httpapi

import (
	"net/http"

	"github.com/lowroll/dicehall/domain/room"
	"github.com/lowroll/dicehall/infrastructure/errors"
	"github.com/lowroll/dicehall/infrastructure/httputil"
	"github.com/lowroll/dicehall/pkg/auth"
	"github.com/lowroll/dicehall/services/rooms"
	"github.com/lowroll/dicehall/services/sessions"
)

// handleListRooms serves spec.md §6's
// `GET /api/multiplayer/rooms?difficulty=&type=&minPlayers=&q=&cursor=`.
//
// services/rooms.ListFilter currently only supports filtering by difficulty
// (see DESIGN.md); type/minPlayers/q are accepted and reserved but not yet
// applied server-side, so they are silently ignored rather than rejected as
// unknown query parameters.
func (s *Server) handleListRooms(w http.ResponseWriter, r *http.Request) {
	filter := rooms.ListFilter{
		Difficulty: room.Difficulty(httputil.QueryString(r, "difficulty", "")),
	}
	offset, limit := httputil.PaginationParams(r, 20, 100)

	page, err := s.deps.Rooms.ListRooms(r.Context(), filter, offset, limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, page)
}

// createRoomRequest is the `POST /api/multiplayer/rooms` body.
type createRoomRequest struct {
	Name       string          `json:"name"`
	Difficulty room.Difficulty `json:"difficulty"`
	Visibility room.Visibility `json:"visibility"`
	MaxPlayers int             `json:"maxPlayers"`
	TurnMode   room.TurnMode   `json:"turnMode"`
	BotSeed    string          `json:"botSeed"`
}

func (s *Server) handleCreateRoom(w http.ResponseWriter, r *http.Request) {
	var req createRoomRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}

	created, err := s.deps.Rooms.CreateRoom(r.Context(), rooms.CreateOptions{
		Name:       req.Name,
		Difficulty: req.Difficulty,
		Visibility: req.Visibility,
		MaxPlayers: req.MaxPlayers,
		TurnMode:   req.TurnMode,
		BotSeed:    req.BotSeed,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, created)
}

// validDifficulty reports whether code names a difficulty tier, so
// handleJoinRoomByCode can fall back to public matchmaking for that tier
// when the literal code does not resolve to a specific room (see DESIGN.md:
// ":code" doubles as an explicit room code or a difficulty name for
// auto-match into that difficulty's public pool).
func validDifficulty(code room.Difficulty) bool {
	switch code {
	case room.DifficultyEasy, room.DifficultyNormal, room.DifficultyHard:
		return true
	default:
		return false
	}
}

type joinResponse struct {
	Session     interface{} `json:"session"`
	Participant interface{} `json:"participant"`
	Ticket      string      `json:"ticket"`
}

// handleJoinRoomByCode serves `POST /api/multiplayer/rooms/:code/join`:
// resolves the room (by exact code, or by difficulty name for public
// matchmaking), then seats the caller into its session.
func (s *Server) handleJoinRoomByCode(w http.ResponseWriter, r *http.Request) {
	identity := identityFromContext(r.Context())
	code := pathVar(r, "code")

	target, err := s.deps.Rooms.JoinByCode(r.Context(), code, identity.PlayerID)
	if err != nil && errors.Is(err, errors.ErrCodeNotFound) && validDifficulty(room.Difficulty(code)) {
		target, err = s.deps.Rooms.JoinPublic(r.Context(), rooms.ListFilter{Difficulty: room.Difficulty(code)}, identity.PlayerID)
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.seatParticipant(w, r, target, identity)
}

// handleJoinSession serves `POST /api/multiplayer/sessions/:id/join`: a
// reconnect/rejoin flow for a caller who already knows their sessionId
// (spec.md S3 reconnect scenario), resolving the bound room and re-seating.
func (s *Server) handleJoinSession(w http.ResponseWriter, r *http.Request) {
	identity := identityFromContext(r.Context())
	sessionID := pathVar(r, "id")

	rec, err := s.deps.Sessions.Get(r.Context(), sessionID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	target, err := s.deps.Rooms.Get(r.Context(), rec.Session.RoomID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.seatParticipant(w, r, target, identity)
}

// seatParticipant joins identity into target's session via services/sessions
// and writes the resulting {session, participant, ticket} envelope.
func (s *Server) seatParticipant(w http.ResponseWriter, r *http.Request, target *room.Room, identity *auth.Identity) {
	sess, participant, ticket, err := s.deps.Sessions.Join(r.Context(), target, sessions.JoinRequest{
		PlayerID:    identity.PlayerID,
		DisplayName: identity.DisplayName,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, joinResponse{
		Session:     sess,
		Participant: participant,
		Ticket:      ticket,
	})
}
