package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Skotchmaster/auth_gateway/internal/events"
	"github.com/Skotchmaster/auth_gateway/internal/hash"
	"github.com/Skotchmaster/auth_gateway/internal/logging"
	"github.com/Skotchmaster/auth_gateway/internal/models"
	"github.com/Skotchmaster/auth_gateway/internal/repo"
	"github.com/Skotchmaster/auth_gateway/pkg/tokens"
	"github.com/google/uuid"
)

// MaxRefreshTTL caps refresh token lifetime whatever the configuration says.
const MaxRefreshTTL = 30 * 24 * time.Hour

const (
	DefaultAccessTTL  = 15 * time.Minute
	DefaultRefreshTTL = 7 * 24 * time.Hour
)

type TTLPolicy struct {
	Access  time.Duration
	Refresh time.Duration
}

func (p TTLPolicy) access() time.Duration {
	if p.Access <= 0 {
		return DefaultAccessTTL
	}
	return p.Access
}

func (p TTLPolicy) refresh() time.Duration {
	ttl := p.Refresh
	if ttl <= 0 {
		ttl = DefaultRefreshTTL
	}
	return min(ttl, MaxRefreshTTL)
}

type TokenPair struct {
	AccessToken  string
	RefreshToken string
	AccessExp    time.Time
	RefreshExp   time.Time
}

func (p *TokenPair) AccessExpiresIn(now time.Time) int64 {
	return max(int64(p.AccessExp.Sub(now).Seconds()), 0)
}

func (p *TokenPair) RefreshExpiresIn(now time.Time) int64 {
	return max(int64(p.RefreshExp.Sub(now).Seconds()), 0)
}

// SessionManager owns the access/refresh lifecycle of local users. A user
// holds at most one refresh token; login reuses it while valid and refresh
// always replaces it.
type SessionManager struct {
	Store  UserStore
	Codec  *tokens.Codec
	Events events.Publisher
	Policy TTLPolicy
	Now    func() time.Time
}

func NewSessionManager(store UserStore, codec *tokens.Codec, policy TTLPolicy, pub events.Publisher) *SessionManager {
	if pub == nil {
		pub = events.Nop{}
	}
	return &SessionManager{
		Store:  store,
		Codec:  codec,
		Events: pub,
		Policy: policy,
		Now:    time.Now,
	}
}

func (s *SessionManager) now() time.Time {
	if s.Now == nil {
		return time.Now()
	}
	return s.Now()
}

func (s *SessionManager) Register(ctx context.Context, username, password, email string) (*TokenPair, error) {
	username = strings.TrimSpace(username)
	email = strings.TrimSpace(email)
	l := logging.FromContext(ctx).With("svc", "session.register", "username", username)

	if username == "" || password == "" {
		return nil, fmt.Errorf("%w: username and password are required", ErrValidation)
	}

	if _, err := s.Store.FindByUsername(ctx, username); err == nil {
		l.Warn("register_failed", "status", 409, "reason", "username taken")
		return nil, fmt.Errorf("%w: username %q", ErrConflict, username)
	} else if !errors.Is(err, repo.ErrNotFound) {
		l.Error("register_failed", "status", 503, "error", err)
		return nil, storeErr(err)
	}

	pwHash, err := hash.HashPassword(password)
	if err != nil {
		l.Error("register_failed", "status", 500, "reason", "cannot hash the password", "error", err)
		return nil, fmt.Errorf("hash password: %w", err)
	}

	user := &models.User{
		ID:           uuid.New(),
		Username:     username,
		PasswordHash: pwHash,
		Roles:        []string{models.RoleUser},
		Enabled:      true,
	}
	if email != "" {
		user.Email = &email
	}

	pair, err := s.mint(user)
	if err != nil {
		l.Error("register_failed", "status", 500, "error", err)
		return nil, err
	}
	user.SetRefreshToken(pair.RefreshToken, pair.RefreshExp)

	if err := s.Store.Create(ctx, user); err != nil {
		if errors.Is(err, repo.ErrDuplicate) {
			l.Warn("register_failed", "status", 409, "reason", "username or email taken")
			return nil, fmt.Errorf("%w: %w", ErrConflict, err)
		}
		l.Error("register_failed", "status", 503, "error", err)
		return nil, storeErr(err)
	}

	l.Info("register_successful", "user_id", user.ID.String())
	events.Emit(ctx, s.Events, events.Event{Type: events.UserRegistered, UserID: user.ID.String(), Username: user.Username})
	return pair, nil
}

func (s *SessionManager) Login(ctx context.Context, username, password string) (*TokenPair, error) {
	username = strings.TrimSpace(username)
	l := logging.FromContext(ctx).With("svc", "session.login", "username", username)

	if username == "" || password == "" {
		return nil, fmt.Errorf("%w: username and password are required", ErrValidation)
	}

	user, err := s.Store.FindByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			l.Warn("login_failed", "status", 401, "reason", "unknown user")
			s.emitFailure(ctx, events.UserLoginFailed, username, "bad credentials")
			return nil, ErrUnauthorized
		}
		l.Error("login_failed", "status", 503, "error", err)
		return nil, storeErr(err)
	}
	if !hash.CheckPassword(user.PasswordHash, password) {
		l.Warn("login_failed", "status", 401, "reason", "password mismatch")
		s.emitFailure(ctx, events.UserLoginFailed, username, "bad credentials")
		return nil, ErrUnauthorized
	}
	if !user.Enabled {
		l.Warn("login_failed", "status", 401, "reason", "user disabled")
		s.emitFailure(ctx, events.UserLoginFailed, username, "disabled")
		return nil, ErrUnauthorized
	}

	pair, err := s.issue(ctx, user)
	if err != nil {
		l.Error("login_failed", "error", err)
		return nil, err
	}

	l.Info("login_successful", "user_id", user.ID.String())
	events.Emit(ctx, s.Events, events.Event{Type: events.UserLoggedIn, UserID: user.ID.String(), Username: user.Username})
	return pair, nil
}

// IssueFor mints a pair for a user authenticated elsewhere, such as an
// identity provider. It follows the same reuse rule as Login.
func (s *SessionManager) IssueFor(ctx context.Context, user *models.User) (*TokenPair, error) {
	if user == nil {
		return nil, ErrNotFound
	}
	if !user.Enabled {
		return nil, ErrUnauthorized
	}
	return s.issue(ctx, user)
}

// issue always signs a new access token and keeps the stored refresh token
// while it is unexpired.
func (s *SessionManager) issue(ctx context.Context, user *models.User) (*TokenPair, error) {
	now := s.now()
	if user.RefreshTokenValid(now) {
		access, accessExp, err := s.signAccess(user)
		if err != nil {
			return nil, err
		}
		return &TokenPair{
			AccessToken:  access,
			AccessExp:    accessExp,
			RefreshToken: *user.RefreshToken,
			RefreshExp:   *user.RefreshTokenExpiry,
		}, nil
	}

	pair, err := s.mint(user)
	if err != nil {
		return nil, err
	}
	if err := s.Store.StoreRefreshToken(ctx, user.ID, pair.RefreshToken, pair.RefreshExp); err != nil {
		return nil, storeErr(err)
	}
	user.SetRefreshToken(pair.RefreshToken, pair.RefreshExp)
	return pair, nil
}

// Refresh exchanges a refresh token for a new pair. The presented token must
// verify, be the one currently stored for its user and be unexpired there.
// The slot is swapped only if it still holds the presented token, so of two
// concurrent calls with the same token exactly one succeeds.
func (s *SessionManager) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	l := logging.FromContext(ctx).With("svc", "session.refresh")
	token := StripBearer(refreshToken)
	if token == "" {
		return nil, fmt.Errorf("%w: empty refresh token", ErrInvalidToken)
	}

	claims, err := s.Codec.VerifyRefresh(token)
	if err != nil {
		l.Warn("refresh_failed", "status", 401, "reason", "verify", "error", err)
		s.emitFailure(ctx, events.UserRefreshFailed, "", "invalid token")
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	user, err := s.Store.FindByRefreshToken(ctx, token)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			// A signature-valid token that nobody holds was rotated or revoked.
			l.Warn("refresh_failed", "status", 401, "reason", "token not current", "uid", claims.UserID())
			s.emitFailure(ctx, events.UserRefreshFailed, claims.Subject, "token not current")
			return nil, fmt.Errorf("%w: refresh token is not current", ErrInvalidToken)
		}
		l.Error("refresh_failed", "status", 503, "error", err)
		return nil, storeErr(err)
	}
	if !user.RefreshTokenValid(s.now()) {
		l.Warn("refresh_failed", "status", 401, "reason", "stored expiry passed", "user_id", user.ID.String())
		return nil, fmt.Errorf("%w: refresh token expired", ErrInvalidToken)
	}
	if !user.Enabled {
		l.Warn("refresh_failed", "status", 401, "reason", "user disabled", "user_id", user.ID.String())
		return nil, fmt.Errorf("%w: user disabled", ErrInvalidToken)
	}

	pair, err := s.mint(user)
	if err != nil {
		l.Error("refresh_failed", "error", err)
		return nil, err
	}
	if err := s.Store.SwapRefreshToken(ctx, user.ID, token, pair.RefreshToken, pair.RefreshExp); err != nil {
		if errors.Is(err, repo.ErrStale) {
			l.Warn("refresh_failed", "status", 401, "reason", "concurrent rotation", "user_id", user.ID.String())
			s.emitFailure(ctx, events.UserRefreshFailed, user.Username, "concurrent rotation")
			return nil, fmt.Errorf("%w: refresh token is not current", ErrInvalidToken)
		}
		l.Error("refresh_failed", "status", 503, "error", err)
		return nil, storeErr(err)
	}

	l.Info("refresh_successful", "user_id", user.ID.String())
	events.Emit(ctx, s.Events, events.Event{Type: events.UserTokenRefreshed, UserID: user.ID.String(), Username: user.Username})
	return pair, nil
}

// LogOut clears the refresh slot holding refreshToken. It never fails: unknown
// or empty tokens are ignored and store errors are only logged.
func (s *SessionManager) LogOut(ctx context.Context, refreshToken string) {
	l := logging.FromContext(ctx).With("svc", "session.logout")
	token := StripBearer(refreshToken)
	if token == "" {
		return
	}
	if err := s.Store.ClearRefreshToken(ctx, token); err != nil {
		l.Error("logout_failed", "reason", "cannot clear refresh token", "error", err)
		return
	}
	events.Emit(ctx, s.Events, events.Event{Type: events.UserLoggedOut})
}

// Resolve returns the user an access token was issued to. The uid claim is
// preferred; tokens without it are resolved by subject (username).
func (s *SessionManager) Resolve(ctx context.Context, accessToken string) (*models.User, error) {
	token := StripBearer(accessToken)
	if token == "" {
		return nil, fmt.Errorf("%w: empty access token", ErrInvalidToken)
	}

	claims, err := s.Codec.VerifyAccess(token)
	if err != nil {
		if errors.Is(err, tokens.ErrExpired) {
			return nil, fmt.Errorf("%w: %w", ErrExpired, err)
		}
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	var user *models.User
	switch {
	case claims.UserID() != "":
		id, perr := uuid.Parse(claims.UserID())
		if perr != nil {
			return nil, fmt.Errorf("%w: bad uid claim", ErrInvalidToken)
		}
		user, err = s.Store.FindByID(ctx, id)
	case claims.Subject != "":
		user, err = s.Store.FindByUsername(ctx, claims.Subject)
	default:
		return nil, fmt.Errorf("%w: token has no subject", ErrInvalidToken)
	}
	if err != nil {
		return nil, storeErr(err)
	}
	if !user.Enabled {
		return nil, fmt.Errorf("%w: user disabled", ErrUnauthorized)
	}
	return user, nil
}

func (s *SessionManager) mint(user *models.User) (*TokenPair, error) {
	access, accessExp, err := s.signAccess(user)
	if err != nil {
		return nil, err
	}
	refresh, refreshExp, err := s.Codec.SignRefresh(user.ID.String(), user.Username, s.Policy.refresh())
	if err != nil {
		return nil, err
	}
	return &TokenPair{
		AccessToken:  access,
		AccessExp:    accessExp,
		RefreshToken: refresh,
		RefreshExp:   refreshExp,
	}, nil
}

func (s *SessionManager) signAccess(user *models.User) (string, time.Time, error) {
	return s.Codec.SignAccess(user.ID.String(), user.Username, user.EmailValue(), user.Roles, s.Policy.access())
}

func (s *SessionManager) emitFailure(ctx context.Context, typ, username, reason string) {
	events.Emit(ctx, s.Events, events.Event{Type: typ, Username: username, Reason: reason})
}

// StripBearer removes an optional "Bearer " prefix.
func StripBearer(v string) string {
	v = strings.TrimSpace(v)
	if len(v) > 7 && strings.EqualFold(v[:7], "bearer ") {
		return strings.TrimSpace(v[7:])
	}
	return v
}
