// Package session holds the bearer token and the user profile it resolves
// to. The token is persisted in the local store; the profile is only ever
// replaced by re-fetching it from the backend.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/digkill/ProduktStudio/internal/backend"
	"github.com/digkill/ProduktStudio/internal/localstore"
	"github.com/digkill/ProduktStudio/internal/models"
	"github.com/digkill/ProduktStudio/internal/notify"
)

type State string

const (
	StateUninitialized State = "uninitialized"
	StateLoading       State = "loading"
	StateAuthenticated State = "authenticated"
	StateAnonymous     State = "anonymous"
)

const (
	MsgLoginSuccess      = "Successfully logged in!"
	MsgLoginFailed       = "Login failed"
	MsgRegisterFailed    = "Registration failed"
	MsgLoggedOut         = "Logged out successfully"
	msgRegisterSucceeded = "Account created successfully! You have %d free credits to start."
)

var (
	ErrNotAuthenticated = errors.New("not authenticated")
	ErrTokenExpired     = errors.New("session token expired")
)

// Backend is the slice of the backend client the session needs.
type Backend interface {
	Login(ctx context.Context, email, password string) (string, error)
	Register(ctx context.Context, email, username, password string) (string, error)
	Me(ctx context.Context, token string) (*models.User, error)
}

type Session struct {
	// opMu serializes operations that talk to the backend; mu guards the
	// fields readers observe.
	opMu sync.Mutex
	mu   sync.RWMutex

	state State
	token string
	user  *models.User

	store       localstore.Store
	api         Backend
	notifier    notify.Notifier
	freeCredits int
	now         func() time.Time
	log         *slog.Logger
}

type Option func(*Session)

// WithClock overrides the time source used for token expiry checks.
func WithClock(now func() time.Time) Option {
	return func(s *Session) { s.now = now }
}

func New(store localstore.Store, api Backend, notifier notify.Notifier, freeCredits int, log *slog.Logger, opts ...Option) *Session {
	if notifier == nil {
		notifier = notify.Discard{}
	}
	if log == nil {
		log = slog.Default()
	}
	s := &Session{
		state:       StateUninitialized,
		store:       store,
		api:         api,
		notifier:    notifier,
		freeCredits: freeCredits,
		now:         time.Now,
		log:         log,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Session) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// User returns a copy of the current profile, or nil when anonymous.
func (s *Session) User() *models.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user == nil {
		return nil
	}
	u := *s.user
	return &u
}

// Authorization returns the bearer header value for the current token.
func (s *Session) Authorization() (string, error) {
	token := s.Token()
	if token == "" {
		return "", ErrNotAuthenticated
	}
	return "Bearer " + token, nil
}

// Resolve loads the persisted token and fetches the profile it belongs to.
// Every failure ends anonymous with the token cleared; only local store
// errors are returned.
func (s *Session) Resolve(ctx context.Context) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	token, ok, err := s.store.Get(ctx, localstore.KeyToken)
	if err != nil {
		return fmt.Errorf("read token: %w", err)
	}
	if !ok || strings.TrimSpace(token) == "" {
		s.set(StateAnonymous, "", nil)
		return nil
	}

	s.set(StateLoading, token, nil)
	if err := s.fetchProfile(ctx, token); err != nil {
		s.log.Warn("session resolve failed", "err", err)
		return s.forceLogout(ctx)
	}
	return nil
}

func (s *Session) Login(ctx context.Context, email, password string) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	token, err := s.api.Login(ctx, email, password)
	if err != nil {
		s.notifier.Error(ctx, backend.Detail(err, MsgLoginFailed))
		return fmt.Errorf("login: %w", err)
	}
	if err := s.adopt(ctx, token); err != nil {
		s.notifier.Error(ctx, backend.Detail(err, MsgLoginFailed))
		return fmt.Errorf("login: %w", err)
	}
	s.notifier.Success(ctx, MsgLoginSuccess)
	return nil
}

func (s *Session) Register(ctx context.Context, email, username, password string) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	token, err := s.api.Register(ctx, email, username, password)
	if err != nil {
		s.notifier.Error(ctx, backend.Detail(err, MsgRegisterFailed))
		return fmt.Errorf("register: %w", err)
	}
	if err := s.adopt(ctx, token); err != nil {
		s.notifier.Error(ctx, backend.Detail(err, MsgRegisterFailed))
		return fmt.Errorf("register: %w", err)
	}
	s.notifier.Success(ctx, fmt.Sprintf(msgRegisterSucceeded, s.freeCredits))
	return nil
}

// Logout clears the token and profile. Calling it while anonymous is fine.
func (s *Session) Logout(ctx context.Context) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	return s.forceLogout(ctx)
}

// Refresh re-fetches the profile. A failed fetch logs the session out.
func (s *Session) Refresh(ctx context.Context) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	token := s.Token()
	if token == "" {
		return ErrNotAuthenticated
	}
	if err := s.fetchProfile(ctx, token); err != nil {
		s.log.Warn("profile refresh failed", "err", err)
		if logoutErr := s.forceLogout(ctx); logoutErr != nil {
			return errors.Join(err, logoutErr)
		}
		return fmt.Errorf("refresh profile: %w", err)
	}
	return nil
}

// adopt stores a freshly issued token and loads its profile. A token whose
// profile cannot be fetched is discarded.
func (s *Session) adopt(ctx context.Context, token string) error {
	if err := s.store.Set(ctx, localstore.KeyToken, token); err != nil {
		return fmt.Errorf("store token: %w", err)
	}
	if err := s.fetchProfile(ctx, token); err != nil {
		_ = s.store.Delete(ctx, localstore.KeyToken)
		s.set(StateAnonymous, "", nil)
		return err
	}
	return nil
}

func (s *Session) fetchProfile(ctx context.Context, token string) error {
	if s.expired(token) {
		return ErrTokenExpired
	}
	user, err := s.api.Me(ctx, token)
	if err != nil {
		return err
	}
	s.set(StateAuthenticated, token, user)
	return nil
}

// expired reports whether token is a JWT whose exp claim has passed. The
// signature is not verified; opaque tokens are left to the backend.
func (s *Session) expired(token string) bool {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false
	}
	return !s.now().Before(exp.Time)
}

func (s *Session) forceLogout(ctx context.Context) error {
	s.set(StateAnonymous, "", nil)
	s.notifier.Info(ctx, MsgLoggedOut)
	if err := s.store.Delete(ctx, localstore.KeyToken); err != nil {
		return fmt.Errorf("delete token: %w", err)
	}
	return nil
}

func (s *Session) set(state State, token string, user *models.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
	s.token = token
	s.user = user
}
