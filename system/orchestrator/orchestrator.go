// Package orchestrator is the composition root (spec.md §6): it loads
// configuration, builds the storage backend and every domain service, wires
// the narrow cross-service interfaces together, and assembles the HTTP/
// stream transport. cmd/server owns process lifecycle; this package owns
// wiring.
package orchestrator

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/golang-jwt/jwt/v5"
	"github.com/robfig/cron/v3"

	domainmoderation "github.com/lowroll/dicehall/domain/moderation"
	"github.com/lowroll/dicehall/infrastructure/logging"
	"github.com/lowroll/dicehall/infrastructure/metrics"
	"github.com/lowroll/dicehall/infrastructure/middleware"
	"github.com/lowroll/dicehall/infrastructure/runtime"
	"github.com/lowroll/dicehall/pkg/auth"
	"github.com/lowroll/dicehall/pkg/config"
	"github.com/lowroll/dicehall/pkg/storage"
	documentstore "github.com/lowroll/dicehall/pkg/storage/document"
	filestore "github.com/lowroll/dicehall/pkg/storage/file"
	adminsvc "github.com/lowroll/dicehall/services/admin"
	auditsvc "github.com/lowroll/dicehall/services/audit"
	leaderboardsvc "github.com/lowroll/dicehall/services/leaderboard"
	moderationsvc "github.com/lowroll/dicehall/services/moderation"
	profilesvc "github.com/lowroll/dicehall/services/profile"
	roomssvc "github.com/lowroll/dicehall/services/rooms"
	sessionssvc "github.com/lowroll/dicehall/services/sessions"
	turnsvc "github.com/lowroll/dicehall/services/turn"
	"github.com/lowroll/dicehall/system/httpapi"
	"github.com/lowroll/dicehall/system/stream"
)

// defaultBannedTerms seeds services/moderation's term ladder (spec.md §4.10)
// until an admin's AddTerm (POST /api/admin/moderation/terms) grows it at
// runtime.
var defaultBannedTerms = []string{"scamcoin", "freevbucks", "nudes", "cheatcodes"}

// App bundles the fully wired service graph and the background tickers that
// drive it, ready for cmd/server to serve and shut down.
type App struct {
	Config *config.Config
	Server *httpapi.Server
	Store  storage.Store
	Logger *logging.Logger

	sessions *sessionssvc.Service
	rooms    *roomssvc.Service
	turn     *turnsvc.Service
	audit    *auditsvc.Service
	stream   *stream.Hub

	stopTickers chan struct{}
	cronSched   *cron.Cron
}

// Build wires the full service graph from cfg. It does not start the HTTP
// listener or the background tickers; call Run for that.
func Build(cfg *config.Config) (*App, error) {
	logger := logging.NewFromEnv("dicehall")

	var m *metrics.Metrics
	if metrics.Enabled() {
		m = metrics.Init("dicehall")
	}

	store, err := buildStore(cfg)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: build store: %w", err)
	}

	roomSvc := roomssvc.New(store, m, logger)
	sessionSvc := sessionssvc.New(store, roomSvc, m, logger)
	turnSvc := turnsvc.New(sessionSvc, roomSvc, m, logger)

	turnCfg := turnsvc.DefaultConfig()
	if cfg.Game.TurnTimeoutMS > 0 {
		timeout := time.Duration(cfg.Game.TurnTimeoutMS) * time.Millisecond
		for difficulty := range turnCfg.TurnTimeout {
			turnCfg.TurnTimeout[difficulty] = timeout
		}
	}
	turnSvc.SetConfig(turnCfg)

	if cfg.Game.HeartbeatLivenessMS > 0 {
		sessionSvc.SetLivenessThreshold(time.Duration(cfg.Game.HeartbeatLivenessMS) * time.Millisecond)
	}
	if cfg.Game.RoomInactivityMS > 0 {
		roomSvc.SetInactivityThreshold(time.Duration(cfg.Game.RoomInactivityMS) * time.Millisecond)
	}

	sessionSvc.SetTurnNotifier(turnSvc)

	profileSvc := profilesvc.New(store, m, logger)
	leaderboardSvc := leaderboardsvc.New(store, m, logger)
	moderationSvc := moderationsvc.New(store, defaultBannedTerms, m, logger)
	auditSvc := auditsvc.New(store, m, logger)

	// Neither knob is part of spec.md's named env list (GameConfig covers the
	// ones that are); AUDIT_RETENTION and the moderation thresholds are
	// implementation-detail overrides for operators who need a tighter ladder
	// without a code change, following runtime.Resolve*'s
	// cfg-then-env-then-fallback convention.
	auditSvc.SetRetention(runtime.ResolveDuration(0, "AUDIT_RETENTION", auditsvc.DefaultRetention))
	defaultTh := domainmoderation.DefaultThresholds()
	moderationSvc.SetThresholds(domainmoderation.Thresholds{
		MuteThreshold: runtime.ResolveInt(0, "MODERATION_MUTE_THRESHOLD", defaultTh.MuteThreshold),
		BanThreshold:  runtime.ResolveInt(0, "MODERATION_BAN_THRESHOLD", defaultTh.BanThreshold),
		MuteWindow:    runtime.ResolveDuration(0, "MODERATION_MUTE_WINDOW", defaultTh.MuteWindow),
	})

	moderationSvc.SetBlockChecker(profileSvc)
	moderationSvc.SetRoomBanner(roomSvc)
	moderationSvc.SetDisconnector(sessionSvc)

	adminSvc := adminsvc.New(roomSvc, sessionSvc, moderationSvc, auditSvc, store, logger)

	streamHub := stream.New(m, logger)
	sessionSvc.SetBroadcaster(streamHub)
	turnSvc.SetBroadcaster(streamHub)

	authSvc, err := buildAuth(cfg)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: build auth: %w", err)
	}

	server := httpapi.New(httpapi.Deps{
		ServiceName: "dicehall",
		Auth:        authSvc,
		Profiles:    profileSvc,
		Leaderboard: leaderboardSvc,
		Rooms:       roomSvc,
		Sessions:    sessionSvc,
		Turn:        turnSvc,
		Moderation:  moderationSvc,
		Admin:       adminSvc,
		Audit:       auditSvc,
		Stream:      streamHub,
		Store:       store,
		Metrics:     m,
		Logger:      logger,
		CORS: &middleware.CORSConfig{
			AllowedOrigins: cfg.CORS.Origins(),
		},
		MaxBodyBytes:   1 << 20,
		StorageBackend: cfg.Store.Backend,
		StoragePrefix:  cfg.Store.Prefix,
	})

	return &App{
		Config:      cfg,
		Server:      server,
		Store:       store,
		Logger:      logger,
		sessions:    sessionSvc,
		rooms:       roomSvc,
		turn:        turnSvc,
		audit:       auditSvc,
		stream:      streamHub,
		stopTickers: make(chan struct{}),
		cronSched:   cron.New(),
	}, nil
}

// buildStore selects and constructs the persistence backend named by
// STORE_BACKEND (spec.md §4.3/§6).
func buildStore(cfg *config.Config) (storage.Store, error) {
	switch cfg.Store.Backend {
	case "document":
		opts, err := redis.ParseURL(cfg.Store.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parse STORE_REDIS_URL: %w", err)
		}
		client := redis.NewClient(opts)
		return documentstore.New(client, cfg.Store.Prefix), nil
	default:
		dir := cfg.Store.Dir
		if dir == "" {
			dir = "./data/" + cfg.Store.Prefix
		}
		return filestore.New(dir)
	}
}

// buildAuth constructs the identity service for cfg.Auth.Mode. Strict and
// legacy mode both verify an HMAC-signed token (the same shape the teacher
// uses for its own Supabase-issued tokens); strict mode trusts the identity
// provider's shared secret, legacy mode trusts a locally issued one. No
// component in this pack fetches a remote JWKS document, so strict mode is
// grounded on a pre-shared verification secret rather than key rotation
// against a discovery endpoint (see DESIGN.md).
func buildAuth(cfg *config.Config) (*auth.Service, error) {
	mode := auth.Mode(cfg.Auth.Mode)
	opts := []auth.Option{}

	// cfg.Validate already enforced that the secret(s) this mode needs are
	// present; here we only wire whichever are actually set.
	if cfg.Auth.StrictSecret != "" {
		secret := []byte(cfg.Auth.StrictSecret)
		opts = append(opts, auth.WithStrictKeyFunc(func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
			}
			return secret, nil
		}))
	}
	if cfg.Auth.LegacySecret != "" {
		opts = append(opts, auth.WithLegacySecret([]byte(cfg.Auth.LegacySecret)))
	}

	return auth.New(mode, auth.AdminAccessMode(cfg.Auth.AdminAccessMode), cfg.Auth.AdminToken, opts...), nil
}

// Run serves HTTP on the configured address until shutdown is signaled,
// driving the background tickers alongside it. It returns after a graceful
// shutdown completes, grounded on the teacher gateway's server construction
// and infrastructure/middleware's GracefulShutdown helper.
func (a *App) Run() error {
	addr := fmt.Sprintf("%s:%d", a.Config.Server.Host, a.Config.Server.Port)
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           a.Server.Router(),
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	shutdown := middleware.NewGracefulShutdown(httpServer, 30*time.Second)
	shutdown.OnShutdown(func() {
		close(a.stopTickers)
		a.cronSched.Stop()
		a.stream.CloseAll("server shutting down")
	})
	shutdown.ListenForSignals()

	go a.runTickers()
	if err := a.scheduleCronJobs(); err != nil {
		return fmt.Errorf("schedule cron jobs: %w", err)
	}
	a.cronSched.Start()

	a.Logger.WithContext(context.Background()).Infof("dicehall listening on %s", addr)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("listen: %w", err)
	}

	shutdown.Wait()
	return nil
}

// tickerInterval paces the per-session sweeps (heartbeat expiry, turn
// timeout, bot think-time); spec.md names the timeouts these sweeps check,
// not the sweep cadence itself, so it is a fixed implementation constant
// rather than an environment knob. Room-inactivity expiry and audit
// retention are bulk, calendar-like jobs that don't need this tight a
// cadence — those run on cronSched instead (see scheduleCronJobs).
const tickerInterval = 2 * time.Second

// cronRetentionSchedule paces the room-inactivity sweep and audit-retention
// truncation: both are bulk maintenance passes over the whole store, not
// per-session state a player is actively waiting on, so five minutes is
// plenty responsive without the overhead of running them on every
// session-level tick.
const cronRetentionSchedule = "*/5 * * * *"

// scheduleCronJobs registers the slower, calendar-paced maintenance jobs
// (room-inactivity expiry, audit-retention truncation) distinct from the
// tight per-session polling loop in runTickers.
func (a *App) scheduleCronJobs() error {
	_, err := a.cronSched.AddFunc(cronRetentionSchedule, func() {
		ctx := context.Background()
		if _, err := a.rooms.SweepInactive(ctx); err != nil {
			a.Logger.Error(ctx, "sweep inactive rooms", err, nil)
		}
		if _, err := a.audit.Truncate(ctx); err != nil {
			a.Logger.Error(ctx, "truncate audit log", err, nil)
		}
	})
	return err
}

// runTickers periodically sweeps every live session for heartbeat expiry,
// turn timeout, and bot think-time until stopTickers closes.
func (a *App) runTickers() {
	ticker := time.NewTicker(tickerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-a.stopTickers:
			return
		case <-ticker.C:
			a.sweepOnce(context.Background())
		}
	}
}

func (a *App) sweepOnce(ctx context.Context) {
	sessionIDs, err := a.Store.ListKeys(ctx, storage.SectionSessions, "")
	if err != nil {
		a.Logger.Error(ctx, "list sessions", err, nil)
		return
	}
	for _, sessionID := range sessionIDs {
		if strings.TrimSpace(sessionID) == "" {
			continue
		}
		if _, err := a.sessions.PruneExpiredHeartbeats(ctx, sessionID); err != nil {
			continue
		}
		if err := a.turn.CheckTimeout(ctx, sessionID); err != nil {
			continue
		}
		if err := a.turn.BotTick(ctx, sessionID); err != nil {
			continue
		}
	}
}
