// Package session is the single source of truth for "who is logged in".
// It holds the persisted access/refresh token pair, derives the identity
// view from the access token's claims, and silently renews the access
// token through the refresh endpoint when it expires.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/anonfs/anonfs-go/internal/vault"
)

// ErrNotLoggedIn is returned when an operation requires an authenticated
// session and none exists.
var ErrNotLoggedIn = errors.New("session: not logged in")

// fallbackUsername is the display identity used when a minimal access
// token carries no username claim and none was supplied at login.
const fallbackUsername = "User"

// expiryLeeway renews the access token slightly before its exp claim so
// an in-flight request never carries a token that expires mid-request.
const expiryLeeway = 30 * time.Second

// Identity is the authenticated principal view derived from the session.
type Identity struct {
	Username string
}

// AuthAPI is the authentication collaborator the store submits credential
// operations to. *vault.Client satisfies it.
type AuthAPI interface {
	Login(ctx context.Context, username, password string) (*vault.TokenPair, error)
	Register(ctx context.Context, username, email, password string) error
	Refresh(ctx context.Context, refreshToken string) (string, error)
}

// Store owns the persisted token slot. All state transitions
// (restore/login/logout/renewal) take the same mutex, so the slot is never
// observed in a partially-written state and the pair is always written or
// cleared as a unit.
type Store struct {
	path   string
	api    AuthAPI
	logger *slog.Logger

	mu       sync.Mutex
	pair     *vault.TokenPair
	identity *Identity
}

// NewStore creates a session store persisting tokens at path.
func NewStore(path string, api AuthAPI, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}

	return &Store{path: path, api: api, logger: logger}
}

// Restore hydrates the session from the persisted token pair. A missing
// file yields the anonymous state. A pair whose access token cannot be
// decoded is treated as corrupt: both tokens are purged and the store
// ends up anonymous. Restore never returns an error to the caller for
// either case — it fails soft.
func (s *Store) Restore() *Identity {
	s.mu.Lock()
	defer s.mu.Unlock()

	pair, err := loadPair(s.path)
	if err != nil {
		s.logger.Warn("stored token pair unreadable, purging",
			slog.String("path", s.path),
			slog.String("error", err.Error()),
		)

		s.purgeLocked()

		return nil
	}

	if pair == nil {
		s.logger.Debug("no stored session", slog.String("path", s.path))
		return nil
	}

	username, err := usernameFromToken(pair.Access)
	if err != nil {
		s.logger.Warn("stored access token undecodable, purging",
			slog.String("path", s.path),
			slog.String("error", err.Error()),
		)

		s.purgeLocked()

		return nil
	}

	s.pair = pair
	s.identity = &Identity{Username: username}

	s.logger.Info("session restored", slog.String("username", username))

	ident := *s.identity

	return &ident
}

// Login submits credentials, persists the returned token pair, and
// establishes the session. The submitted username becomes the display
// identity — minimal access tokens may omit the username claim. On any
// failure no state changes.
func (s *Store) Login(ctx context.Context, username, password string) (*Identity, error) {
	pair, err := s.api.Login(ctx, username, password)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := savePair(s.path, pair); err != nil {
		return nil, fmt.Errorf("session: persisting token pair: %w", err)
	}

	s.pair = pair
	s.identity = &Identity{Username: username}

	s.logger.Info("session established", slog.String("username", username))

	ident := *s.identity

	return &ident, nil
}

// Register creates an account. It never establishes a session; the caller
// must log in afterwards.
func (s *Store) Register(ctx context.Context, username, email, password string) error {
	return s.api.Register(ctx, username, email, password)
}

// Logout purges the persisted pair and resets to the anonymous state.
// Idempotent: logging out twice leaves the same state as once.
func (s *Store) Logout() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := removePair(s.path); err != nil {
		return fmt.Errorf("session: removing token pair: %w", err)
	}

	s.pair = nil
	s.identity = nil

	s.logger.Info("logged out", slog.String("path", s.path))

	return nil
}

// purgeLocked clears both the file and the in-memory state. Callers hold s.mu.
func (s *Store) purgeLocked() {
	if err := removePair(s.path); err != nil {
		s.logger.Warn("failed to remove token pair", slog.String("error", err.Error()))
	}

	s.pair = nil
	s.identity = nil
}

// Current returns the authenticated identity, or nil in the anonymous state.
func (s *Store) Current() *Identity {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.identity == nil {
		return nil
	}

	ident := *s.identity

	return &ident
}

// Token implements vault.TokenSource. It returns the current access token,
// silently renewing it through the refresh endpoint when the exp claim
// says it has (nearly) expired. The renewed pair is persisted before the
// new token is handed out.
func (s *Store) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pair == nil {
		return "", ErrNotLoggedIn
	}

	if !tokenExpired(s.pair.Access, time.Now()) {
		return s.pair.Access, nil
	}

	s.logger.Info("access token expired, renewing")

	access, err := s.api.Refresh(ctx, s.pair.Refresh)
	if err != nil {
		return "", fmt.Errorf("session: renewing access token: %w", err)
	}

	renewed := &vault.TokenPair{Access: access, Refresh: s.pair.Refresh}

	if err := savePair(s.path, renewed); err != nil {
		return "", fmt.Errorf("session: persisting renewed pair: %w", err)
	}

	s.pair = renewed

	return renewed.Access, nil
}

// usernameFromToken decodes the access token's claims without verifying
// the signature — the client never holds the server's signing key; the
// server verifies every request anyway. Falls back to a generic display
// name when the claim is absent.
func usernameFromToken(access string) (string, error) {
	claims := jwt.MapClaims{}

	if _, _, err := jwt.NewParser().ParseUnverified(access, claims); err != nil {
		return "", fmt.Errorf("parsing access token: %w", err)
	}

	if username, ok := claims["username"].(string); ok && username != "" {
		return username, nil
	}

	return fallbackUsername, nil
}

// tokenExpired reports whether the access token's exp claim is at or past
// now (with leeway). Tokens with no exp claim never expire client-side.
func tokenExpired(access string, now time.Time) bool {
	claims := jwt.MapClaims{}

	if _, _, err := jwt.NewParser().ParseUnverified(access, claims); err != nil {
		// Undecodable tokens are handled at restore time; here the server
		// gets to reject it.
		return false
	}

	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false
	}

	return !now.Add(expiryLeeway).Before(exp.Time)
}
