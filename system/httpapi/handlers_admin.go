package httpapi

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lowroll/dicehall/domain/room"
	"github.com/lowroll/dicehall/infrastructure/httputil"
	"github.com/lowroll/dicehall/services/rooms"
)

func (s *Server) handleAdminOverview(w http.ResponseWriter, r *http.Request) {
	overview, err := s.deps.Admin.Overview(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, overview)
}

// handleAdminMetrics exposes the process's Prometheus registry behind the
// admin-auth gate, matching the teacher gateway's top-level /metrics mount.
func (s *Server) handleAdminMetrics(w http.ResponseWriter, r *http.Request) {
	promhttp.Handler().ServeHTTP(w, r)
}

func (s *Server) handleAdminListRooms(w http.ResponseWriter, r *http.Request) {
	filter := rooms.ListFilter{
		Difficulty: room.Difficulty(httputil.QueryString(r, "difficulty", "")),
	}
	offset, limit := httputil.PaginationParams(r, 20, 100)

	page, err := s.deps.Admin.ListRooms(r.Context(), filter, offset, limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, page)
}

func (s *Server) handleAdminStorage(w http.ResponseWriter, r *http.Request) {
	counts, err := s.deps.Admin.StorageInfo(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, storageHealth{
		Backend:       s.deps.StorageBackend,
		Prefix:        s.deps.StoragePrefix,
		SectionCounts: counts,
	})
}

func (s *Server) handleAdminAudit(w http.ResponseWriter, r *http.Request) {
	cursor := httputil.QueryString(r, "cursor", "")
	limit := httputil.QueryInt(r, "limit", 50)

	page, err := s.deps.Audit.List(r.Context(), cursor, limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, page)
}

func (s *Server) handleAdminRoles(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"roles": s.deps.Admin.RolesList()})
}

// expireRoomRequest is the `POST /api/admin/rooms/:id/expire` body.
type expireRoomRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) handleAdminExpireRoom(w http.ResponseWriter, r *http.Request) {
	identity := identityFromContext(r.Context())
	roomID := pathVar(r, "id")

	var req expireRoomRequest
	httputil.DecodeJSONOptional(w, r, &req)
	if req.Reason == "" {
		req.Reason = "expired by admin"
	}

	if err := s.deps.Admin.ExpireRoom(r.Context(), identity.PlayerID, actorRole(identity), roomID, req.Reason); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.deps.Stream.CloseRoom(roomID, req.Reason)
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true})
}

// removeParticipantRequest is the `POST /api/admin/participants/:id/remove`
// body. :id is the sessionId; the target participant is named in the body.
type removeParticipantRequest struct {
	ParticipantID string `json:"participantId"`
	Reason        string `json:"reason"`
}

func (s *Server) handleAdminRemoveParticipant(w http.ResponseWriter, r *http.Request) {
	identity := identityFromContext(r.Context())
	sessionID := pathVar(r, "id")

	var req removeParticipantRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	if req.Reason == "" {
		req.Reason = "removed by admin"
	}

	if err := s.deps.Admin.RemoveParticipant(r.Context(), identity.PlayerID, actorRole(identity), sessionID, req.ParticipantID, req.Reason); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true})
}

// assignRoleRequest is the `PUT /api/admin/roles/:uid` body.
type assignRoleRequest struct {
	Role string `json:"role"`
}

func (s *Server) handleAdminAssignRole(w http.ResponseWriter, r *http.Request) {
	identity := identityFromContext(r.Context())
	targetPlayerID := pathVar(r, "uid")

	var req assignRoleRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}

	if err := s.deps.Admin.AssignRole(r.Context(), identity.PlayerID, actorRole(identity), targetPlayerID, req.Role); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true})
}

// moderationTermsRequest is the `POST /api/admin/moderation/terms` body:
// {"action": "add"|"remove", "term": "..."}.
type moderationTermsRequest struct {
	Action string `json:"action"`
	Term   string `json:"term"`
}

func (s *Server) handleAdminModerationTerms(w http.ResponseWriter, r *http.Request) {
	identity := identityFromContext(r.Context())

	var req moderationTermsRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}

	var err error
	switch req.Action {
	case "add":
		err = s.deps.Admin.AddTerm(r.Context(), identity.PlayerID, actorRole(identity), req.Term)
	case "remove":
		err = s.deps.Admin.RemoveTerm(r.Context(), identity.PlayerID, actorRole(identity), req.Term)
	default:
		terms, listErr := s.deps.Admin.ListTerms()
		if listErr != nil {
			s.writeError(w, r, listErr)
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]interface{}{"terms": terms})
		return
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true})
}

// moderationClearRequest is the `POST /api/admin/moderation/clear` body.
type moderationClearRequest struct {
	PlayerID string `json:"playerId"`
}

func (s *Server) handleAdminModerationClear(w http.ResponseWriter, r *http.Request) {
	identity := identityFromContext(r.Context())

	var req moderationClearRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}

	if err := s.deps.Admin.ClearConduct(r.Context(), identity.PlayerID, actorRole(identity), req.PlayerID); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true})
}
