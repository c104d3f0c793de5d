// Package httpapi implements the HTTP/stream transport (spec.md §4.12):
// authenticate → route → handle → respond JSON, plus the websocket stream
// upgrade that carries per-session event frames. It wires together every
// domain service; it owns no game-state mutation of its own.
package httpapi

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/lowroll/dicehall/infrastructure/errors"
	"github.com/lowroll/dicehall/infrastructure/httputil"
	"github.com/lowroll/dicehall/infrastructure/logging"
	"github.com/lowroll/dicehall/infrastructure/metrics"
	"github.com/lowroll/dicehall/infrastructure/middleware"
	"github.com/lowroll/dicehall/pkg/auth"
	"github.com/lowroll/dicehall/pkg/storage"
	adminsvc "github.com/lowroll/dicehall/services/admin"
	auditsvc "github.com/lowroll/dicehall/services/audit"
	leaderboardsvc "github.com/lowroll/dicehall/services/leaderboard"
	moderationsvc "github.com/lowroll/dicehall/services/moderation"
	profilesvc "github.com/lowroll/dicehall/services/profile"
	roomssvc "github.com/lowroll/dicehall/services/rooms"
	sessionssvc "github.com/lowroll/dicehall/services/sessions"
	turnsvc "github.com/lowroll/dicehall/services/turn"
	"github.com/lowroll/dicehall/system/stream"
)

// defaultMaxFrameBytes bounds one stream message, per spec.md §4.12.
const defaultMaxFrameBytes = 64 << 10

// Deps bundles every component the transport wires together. Every field is
// constructed and owned by system/orchestrator; httpapi only borrows them.
type Deps struct {
	ServiceName string
	Auth        *auth.Service
	Profiles    *profilesvc.Service
	Leaderboard *leaderboardsvc.Service
	Rooms       *roomssvc.Service
	Sessions    *sessionssvc.Service
	Turn        *turnsvc.Service
	Moderation  *moderationsvc.Service
	Admin       *adminsvc.Service
	Audit       *auditsvc.Service
	Stream      *stream.Hub
	Store       storage.Store
	Metrics     *metrics.Metrics
	Logger      *logging.Logger

	CORS           *middleware.CORSConfig
	MaxBodyBytes   int64
	MaxFrameBytes  int64
	StorageBackend string
	StoragePrefix  string
}

// Server holds the wired dependencies and builds the router.
type Server struct {
	deps        Deps
	upgrader    websocket.Upgrader
	startedAt   time.Time
	rateLimiter *middleware.RateLimiter
}

// New builds an httpapi Server over deps.
func New(deps Deps) *Server {
	if deps.MaxFrameBytes <= 0 {
		deps.MaxFrameBytes = defaultMaxFrameBytes
	}
	return &Server{
		deps: deps,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Origin enforcement happens at the CORS middleware layer for
			// plain HTTP; the stream upgrade itself authenticates via
			// bearer token, so every origin may attempt the handshake.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		startedAt:   time.Now(),
		rateLimiter: middleware.NewRateLimiterFromConfig(middleware.DefaultRateLimiterConfig(deps.Logger)),
	}
}

// Router builds the full mux.Router, middleware chain included, per the
// teacher gateway's registerRoutes pattern (logging, recovery, metrics,
// CORS, body limit, then per-group auth).
func (s *Server) Router() *mux.Router {
	router := mux.NewRouter()

	router.Use(middleware.LoggingMiddleware(s.deps.Logger))
	router.Use(middleware.NewRecoveryMiddleware(s.deps.Logger).Handler)
	if metrics.Enabled() && s.deps.Metrics != nil {
		router.Use(middleware.MetricsMiddleware(s.deps.ServiceName, s.deps.Metrics))
	}
	router.Use(middleware.NewCORSMiddleware(s.deps.CORS).Handler)
	router.Use(middleware.NewBodyLimitMiddleware(s.deps.MaxBodyBytes).Handler)
	router.Use(middleware.NewSecurityHeadersMiddleware(middleware.DefaultSecurityHeaders()).Handler)

	router.HandleFunc("/api/health", s.handleHealth).Methods(http.MethodGet)

	api := router.PathPrefix("/api").Subrouter()
	api.Use(middleware.NewValidationMiddleware(middleware.DefaultValidationConfig()).Handler)
	api.Use(s.identityMiddleware)
	api.Use(s.rateLimiter.Handler)

	api.HandleFunc("/identity", s.handleIdentity).Methods(http.MethodGet)
	api.HandleFunc("/profile/{playerId}", s.handleGetProfile).Methods(http.MethodGet)
	api.HandleFunc("/profile/{playerId}", s.handleUpsertProfile).Methods(http.MethodPut)
	api.HandleFunc("/profile/{playerId}/scores", s.handleSubmitScores).Methods(http.MethodPost)
	api.HandleFunc("/leaderboard", s.handleQueryLeaderboard).Methods(http.MethodGet)

	api.HandleFunc("/multiplayer/rooms", s.handleListRooms).Methods(http.MethodGet)
	api.HandleFunc("/multiplayer/rooms", s.handleCreateRoom).Methods(http.MethodPost)
	api.HandleFunc("/multiplayer/rooms/{code}/join", s.handleJoinRoomByCode).Methods(http.MethodPost)
	api.HandleFunc("/multiplayer/sessions/{id}/join", s.handleJoinSession).Methods(http.MethodPost)
	api.HandleFunc("/multiplayer/sessions/{id}/heartbeat", s.handleHeartbeat).Methods(http.MethodPost)
	api.HandleFunc("/multiplayer/sessions/{id}/refresh", s.handleRefresh).Methods(http.MethodPost)
	api.HandleFunc("/multiplayer/sessions/{id}/participant-state", s.handleParticipantState).Methods(http.MethodPost)
	api.HandleFunc("/multiplayer/sessions/{id}/leave", s.handleLeave).Methods(http.MethodPost)
	api.HandleFunc("/multiplayer/sessions/{id}/queue-next", s.handleQueueNext).Methods(http.MethodPost)
	api.HandleFunc("/multiplayer/sessions/{id}/moderate", s.handleModerate).Methods(http.MethodPost)
	api.HandleFunc("/multiplayer/sessions/{id}/stream", s.handleStream).Methods(http.MethodGet)

	admin := router.PathPrefix("/api/admin").Subrouter()
	admin.Use(s.identityMiddleware)
	admin.Use(s.adminMiddleware)
	admin.HandleFunc("/overview", s.handleAdminOverview).Methods(http.MethodGet)
	admin.HandleFunc("/metrics", s.handleAdminMetrics).Methods(http.MethodGet)
	admin.HandleFunc("/rooms", s.handleAdminListRooms).Methods(http.MethodGet)
	admin.HandleFunc("/storage", s.handleAdminStorage).Methods(http.MethodGet)
	admin.HandleFunc("/audit", s.handleAdminAudit).Methods(http.MethodGet)
	admin.HandleFunc("/roles", s.handleAdminRoles).Methods(http.MethodGet)
	admin.HandleFunc("/rooms/{id}/expire", s.handleAdminExpireRoom).Methods(http.MethodPost)
	admin.HandleFunc("/participants/{id}/remove", s.handleAdminRemoveParticipant).Methods(http.MethodPost)
	admin.HandleFunc("/roles/{uid}", s.handleAdminAssignRole).Methods(http.MethodPut)
	admin.HandleFunc("/moderation/terms", s.handleAdminModerationTerms).Methods(http.MethodPost)
	admin.HandleFunc("/moderation/clear", s.handleAdminModerationClear).Methods(http.MethodPost)

	return router
}

// identityCtxKey stores the resolved *auth.Identity on the request context.
type identityCtxKey struct{}

func withIdentity(ctx context.Context, id *auth.Identity) context.Context {
	return context.WithValue(ctx, identityCtxKey{}, id)
}

// identityFromContext returns the identity the middleware resolved, or nil
// if identityMiddleware never ran (should not happen for any /api route).
func identityFromContext(ctx context.Context) *auth.Identity {
	id, _ := ctx.Value(identityCtxKey{}).(*auth.Identity)
	return id
}

// identityMiddleware authenticates every /api request (spec.md §4.4/§4.12):
// a bearer token resolves a federated identity; a missing token resolves a
// stable anonymous identity seeded from the caller's best-effort connection
// identity (an opt-in X-Anonymous-Id the client persists locally, falling
// back to remote IP so at minimum repeated requests from the same peer
// within a session share one anonymous playerId).
func (s *Server) identityMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seed := r.Header.Get("X-Anonymous-Id")
		if seed == "" {
			seed = httputil.ClientIP(r)
		}
		identity, err := s.deps.Auth.Authenticate(r.Context(), r.Header.Get("Authorization"), seed)
		if err != nil {
			s.writeError(w, r, errors.Unauthenticated("invalid or expired token"))
			return
		}

		ctx := withIdentity(r.Context(), identity)
		ctx = logging.WithUserID(ctx, identity.PlayerID)
		ctx = logging.WithRole(ctx, identity.Role)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// adminMiddleware gates /api/admin behind the configured AdminAccessMode
// (spec.md §4.4/§4.11). It runs after identityMiddleware.
func (s *Server) adminMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity := identityFromContext(r.Context())
		if !s.deps.Auth.AuthorizeAdmin(identity, r.Header.Get("X-Admin-Token")) {
			s.writeError(w, r, errors.Forbidden("admin access required"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// actorRole resolves the acting identity's role for admin.Service's
// requireRole checks, defaulting to the lowest tier when unset so a bare
// admin-token caller with no role claim still passes through the
// operator/owner gate rather than panicking on an unknown role.
func actorRole(identity *auth.Identity) string {
	if identity == nil || identity.Role == "" {
		return "viewer"
	}
	return identity.Role
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	se := errors.GetServiceError(err)
	if se == nil {
		se = errors.Internal("unexpected error", err)
	}
	if se.Code == errors.ErrCodeInternal && s.deps.Logger != nil {
		s.deps.Logger.Error(r.Context(), "internal error", se.Err, nil)
	}
	httputil.WriteErrorResponse(w, r, se.HTTPStatus, string(se.Code), se.Message, se.Details)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	httputil.WriteJSON(w, status, data)
}

func pathVar(r *http.Request, name string) string {
	return mux.Vars(r)[name]
}

func trimmed(s string) string { return strings.TrimSpace(s) }
