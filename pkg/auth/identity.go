// Package auth implements the identity service (spec.md §4.4): bearer-token
// verification in strict/legacy/auto modes, anonymous fallback, and the
// admin-access-mode gate.
package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/lowroll/dicehall/domain/profile"
)

// Mode selects how bearer tokens are verified.
type Mode string

const (
	ModeStrict Mode = "strict" // verify against the identity provider's key only
	ModeLegacy Mode = "legacy" // accept a locally-signed short-lived token only
	ModeAuto   Mode = "auto"   // try strict, fall back to legacy
)

// AdminAccessMode selects how admin routes are authorized.
type AdminAccessMode string

const (
	AdminAccessToken    AdminAccessMode = "token"    // shared-secret header only
	AdminAccessRole     AdminAccessMode = "role"     // role claim only
	AdminAccessHybrid   AdminAccessMode = "hybrid"   // either token or role
	AdminAccessOpen     AdminAccessMode = "open"     // no admin check (local/dev)
	AdminAccessDisabled AdminAccessMode = "disabled" // admin routes always rejected
)

var (
	ErrInvalidToken      = errors.New("invalid token")
	ErrTokenExpired      = errors.New("token expired")
	ErrNoVerifierForMode = errors.New("no verifier configured for mode")
)

// AdminRoles are the role claim values the identity provider may grant,
// lowest to highest privilege.
var AdminRoles = []string{"viewer", "operator", "owner"}

// Identity is the resolved caller of a request: either federated (token
// verified against strict or legacy) or anonymous (no token, or anonymous
// fallback).
type Identity struct {
	PlayerID    string
	DisplayName string
	Kind        profile.IdentityKind
	Role        string // identity-provider role claim, "" if none
}

// Claims are the JWT claims the identity service understands, modeled after
// the teacher's Supabase claim shape: subject, role, display name, audience.
type Claims struct {
	jwt.RegisteredClaims
	Role        string `json:"role,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
}

// Service resolves bearer tokens to Identity values and gates admin routes.
type Service struct {
	mode            Mode
	strictKeyFunc   jwt.Keyfunc
	legacySecret    []byte
	adminAccessMode AdminAccessMode
	adminToken      string
	now             func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithStrictKeyFunc sets the key resolver used to verify strict-mode
// (identity-provider-issued) tokens.
func WithStrictKeyFunc(fn jwt.Keyfunc) Option {
	return func(s *Service) { s.strictKeyFunc = fn }
}

// WithLegacySecret sets the HMAC secret used to verify legacy-mode tokens.
func WithLegacySecret(secret []byte) Option {
	return func(s *Service) { s.legacySecret = secret }
}

// WithClock overrides the time source (tests only).
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// New builds a Service for the given verification mode and admin access mode.
func New(mode Mode, adminAccessMode AdminAccessMode, adminToken string, opts ...Option) *Service {
	s := &Service{
		mode:            mode,
		adminAccessMode: adminAccessMode,
		adminToken:      adminToken,
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Authenticate resolves bearerToken (possibly empty) to an Identity.
// anonymousSeed stabilizes the anonymous playerId across requests on the
// same connection (spec.md §4.4: "missing token yields an anonymous
// identity with a stable per-connection playerId").
func (s *Service) Authenticate(ctx context.Context, bearerToken, anonymousSeed string) (*Identity, error) {
	token := strings.TrimPrefix(strings.TrimSpace(bearerToken), "Bearer ")
	if token == "" {
		return anonymousIdentity(anonymousSeed), nil
	}

	switch s.mode {
	case ModeStrict:
		return s.verifyStrict(token)
	case ModeLegacy:
		return s.verifyLegacy(token)
	case ModeAuto:
		if claims, err := s.verifyStrict(token); err == nil {
			return claims, nil
		}
		return s.verifyLegacy(token)
	default:
		return nil, fmt.Errorf("auth: unknown mode %q", s.mode)
	}
}

func anonymousIdentity(seed string) *Identity {
	sum := sha256.Sum256([]byte("anon:" + seed))
	return &Identity{
		PlayerID: "anon-" + hex.EncodeToString(sum[:])[:16],
		Kind:     profile.IdentityAnonymous,
	}
}

func (s *Service) verifyStrict(token string) (*Identity, error) {
	if s.strictKeyFunc == nil {
		return nil, ErrNoVerifierForMode
	}
	return s.parse(token, s.strictKeyFunc)
}

func (s *Service) verifyLegacy(token string) (*Identity, error) {
	if len(s.legacySecret) == 0 {
		return nil, ErrNoVerifierForMode
	}
	return s.parse(token, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("%w: unexpected signing method %v", ErrInvalidToken, t.Header["alg"])
		}
		return s.legacySecret, nil
	})
}

func (s *Service) parse(token string, keyFunc jwt.Keyfunc) (*Identity, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, keyFunc, jwt.WithTimeFunc(s.now))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !parsed.Valid || claims.Subject == "" {
		return nil, ErrInvalidToken
	}

	return &Identity{
		PlayerID:    claims.Subject,
		DisplayName: claims.DisplayName,
		Kind:        profile.IdentityFederated,
		Role:        claims.Role,
	}, nil
}

// AuthorizeAdmin reports whether a request may reach admin routes, per the
// configured AdminAccessMode (spec.md §4.4).
func (s *Service) AuthorizeAdmin(identity *Identity, headerToken string) bool {
	switch s.adminAccessMode {
	case AdminAccessOpen:
		return true
	case AdminAccessDisabled:
		return false
	case AdminAccessToken:
		return s.validAdminToken(headerToken)
	case AdminAccessRole:
		return hasAdminRole(identity)
	case AdminAccessHybrid:
		return s.validAdminToken(headerToken) || hasAdminRole(identity)
	default:
		return false
	}
}

func (s *Service) validAdminToken(headerToken string) bool {
	if s.adminToken == "" || headerToken == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(headerToken), []byte(s.adminToken)) == 1
}

func hasAdminRole(identity *Identity) bool {
	if identity == nil {
		return false
	}
	for _, role := range AdminRoles {
		if identity.Role == role {
			return true
		}
	}
	return false
}
