package httpapi

import (
	"net/http"

	"github.com/lowroll/dicehall/infrastructure/errors"
	"github.com/lowroll/dicehall/infrastructure/httputil"
	"github.com/lowroll/dicehall/pkg/auth"
	"github.com/lowroll/dicehall/services/sessions"
)

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	identity := identityFromContext(r.Context())
	sessionID := pathVar(r, "id")
	if err := s.deps.Sessions.Heartbeat(r.Context(), sessionID, identity.PlayerID); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	identity := identityFromContext(r.Context())
	sessionID := pathVar(r, "id")
	if err := s.deps.Sessions.RefreshAuth(r.Context(), sessionID, identity.PlayerID); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true})
}

// participantStateRequest is the `POST .../participant-state` body:
// {"action": "sit"|"stand"|"ready"|"unready"}.
type participantStateRequest struct {
	Action sessions.Action `json:"action"`
}

func (s *Server) handleParticipantState(w http.ResponseWriter, r *http.Request) {
	identity := identityFromContext(r.Context())
	sessionID := pathVar(r, "id")

	var req participantStateRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}

	if err := s.deps.Sessions.UpdateParticipantState(r.Context(), sessionID, identity.PlayerID, req.Action); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true})
}

// leaveRequest is the `POST .../leave` body.
type leaveRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) handleLeave(w http.ResponseWriter, r *http.Request) {
	identity := identityFromContext(r.Context())
	sessionID := pathVar(r, "id")

	var req leaveRequest
	httputil.DecodeJSONOptional(w, r, &req)
	if req.Reason == "" {
		req.Reason = "left"
	}

	if err := s.deps.Sessions.Leave(r.Context(), sessionID, identity.PlayerID, req.Reason); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true})
}

func (s *Server) handleQueueNext(w http.ResponseWriter, r *http.Request) {
	sessionID := pathVar(r, "id")
	if err := s.deps.Turn.QueueNext(r.Context(), sessionID); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true})
}

// moderateRequest is the `POST .../moderate` body, operator-gated
// (spec.md §6): {"action": "kick"|"ban", "targetId": "...", "reason": "..."}.
type moderateRequest struct {
	Action   string `json:"action"`
	TargetID string `json:"targetId"`
	Reason   string `json:"reason"`
}

// moderateMinRole is the least-privileged role allowed to kick or ban a
// participant from a live session, mirroring services/admin's operator
// tier for equivalent room/participant actions.
const moderateMinRole = "operator"

// hasRole reports whether identity's role meets at least minimum on the
// pkg/auth.AdminRoles ladder. services/admin's own roleRank/requireRole are
// unexported, so the transport keeps a parallel check for this
// session-scoped action that does not route through services/admin.
func hasRole(identity *auth.Identity, minimum string) bool {
	rank := func(role string) int {
		for i, r := range auth.AdminRoles {
			if r == role {
				return i
			}
		}
		return -1
	}
	if identity == nil {
		return false
	}
	have := rank(identity.Role)
	want := rank(minimum)
	return have >= 0 && want >= 0 && have >= want
}

func (s *Server) handleModerate(w http.ResponseWriter, r *http.Request) {
	identity := identityFromContext(r.Context())
	if !hasRole(identity, moderateMinRole) {
		s.writeError(w, r, errors.Forbidden("operator role required"))
		return
	}

	sessionID := pathVar(r, "id")
	var req moderateRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	req.TargetID = trimmed(req.TargetID)
	req.Reason = trimmed(req.Reason)
	if req.TargetID == "" {
		s.writeError(w, r, errors.BadRequest("targetId is required"))
		return
	}
	if req.Reason == "" {
		req.Reason = "moderator action"
	}

	switch req.Action {
	case "kick":
		if err := s.deps.Admin.RemoveParticipant(r.Context(), identity.PlayerID, identity.Role, sessionID, req.TargetID, req.Reason); err != nil {
			s.writeError(w, r, err)
			return
		}
	case "ban":
		rec, err := s.deps.Sessions.Get(r.Context(), sessionID)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		if err := s.deps.Rooms.BanPlayer(r.Context(), rec.Session.RoomID, req.TargetID); err != nil {
			s.writeError(w, r, err)
			return
		}
		if err := s.deps.Admin.RemoveParticipant(r.Context(), identity.PlayerID, identity.Role, sessionID, req.TargetID, req.Reason); err != nil {
			s.writeError(w, r, err)
			return
		}
	default:
		s.writeError(w, r, errors.BadRequest("action must be kick or ban"))
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true})
}
