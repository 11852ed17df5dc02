package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Skotchmaster/auth_gateway/internal/events"
	"github.com/Skotchmaster/auth_gateway/internal/models"
	"github.com/Skotchmaster/auth_gateway/internal/repo"
	"github.com/Skotchmaster/auth_gateway/internal/testutil"
	"github.com/Skotchmaster/auth_gateway/pkg/tokens"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recorder) Publish(_ context.Context, ev events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Type)
	}
	return out
}

type testEnv struct {
	svc   *SessionManager
	repo  *repo.GormRepo
	clock *testClock
	codec *tokens.Codec
	rec   *recorder
}

func newTestEnv(t *testing.T, policy TTLPolicy) *testEnv {
	t.Helper()

	clock := &testClock{now: time.Now().UTC()}
	codec, err := tokens.NewCodec([]byte("test-jwt-secret"), tokens.WithClock(clock.Now))
	require.NoError(t, err)

	r := testutil.NewRepo(t)
	rec := &recorder{}
	svc := NewSessionManager(r, codec, policy, rec)
	svc.Now = clock.Now

	return &testEnv{svc: svc, repo: r, clock: clock, codec: codec, rec: rec}
}

func TestTTLPolicy_Defaults(t *testing.T) {
	t.Parallel()

	var p TTLPolicy
	assert.Equal(t, DefaultAccessTTL, p.access())
	assert.Equal(t, DefaultRefreshTTL, p.refresh())

	p = TTLPolicy{Access: time.Hour, Refresh: 365 * 24 * time.Hour}
	assert.Equal(t, time.Hour, p.access())
	assert.Equal(t, MaxRefreshTTL, p.refresh())
}

func TestStripBearer(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"Bearer abc":   "abc",
		"bearer abc":   "abc",
		"  Bearer  x ": "x",
		"abc":          "abc",
		"Bearer":       "Bearer",
		"":             "",
	}
	for in, want := range tests {
		assert.Equal(t, want, StripBearer(in), in)
	}
}

func TestSessionManager_Register(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, TTLPolicy{Access: 15 * time.Minute, Refresh: 90 * 24 * time.Hour})
	ctx := context.Background()

	pair, err := env.svc.Register(ctx, "alice", "pw123", "alice@example.com")
	require.NoError(t, err)
	require.NotEmpty(t, pair.AccessToken)
	require.NotEmpty(t, pair.RefreshToken)

	now := env.clock.Now()
	assert.Equal(t, int64(15*60), pair.AccessExpiresIn(now))
	assert.Equal(t, int64(MaxRefreshTTL.Seconds()), pair.RefreshExpiresIn(now))

	user, err := env.repo.FindByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.NotEqual(t, "pw123", user.PasswordHash)
	assert.Equal(t, []string{models.RoleUser}, user.Roles)
	assert.Equal(t, "alice@example.com", user.EmailValue())
	require.NotNil(t, user.RefreshToken)
	assert.Equal(t, pair.RefreshToken, *user.RefreshToken)
	require.NotNil(t, user.RefreshTokenExpiry)
	assert.WithinDuration(t, now.Add(MaxRefreshTTL), *user.RefreshTokenExpiry, time.Second)

	assert.Contains(t, env.rec.types(), events.UserRegistered)
}

func TestSessionManager_Register_Conflict(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, TTLPolicy{})
	ctx := context.Background()

	_, err := env.svc.Register(ctx, "alice", "pw123", "alice@example.com")
	require.NoError(t, err)

	_, err = env.svc.Register(ctx, "alice", "other", "")
	assert.ErrorIs(t, err, ErrConflict)

	_, err = env.svc.Register(ctx, "alice2", "pw123", "alice@example.com")
	assert.ErrorIs(t, err, ErrConflict)
}

func TestSessionManager_Validation(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, TTLPolicy{})
	ctx := context.Background()

	tests := []struct {
		name     string
		username string
		password string
	}{
		{name: "empty username", username: "", password: "secret"},
		{name: "blank username", username: "   ", password: "secret"},
		{name: "empty password", username: "user", password: ""},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := env.svc.Register(ctx, tt.username, tt.password, "")
			assert.ErrorIs(t, err, ErrValidation)

			_, err = env.svc.Login(ctx, tt.username, tt.password)
			assert.ErrorIs(t, err, ErrValidation)
		})
	}
}

func TestSessionManager_Login_ThenResolve(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, TTLPolicy{})
	ctx := context.Background()

	_, err := env.svc.Register(ctx, "alice", "pw123", "")
	require.NoError(t, err)

	pair, err := env.svc.Login(ctx, "alice", "pw123")
	require.NoError(t, err)

	user, err := env.svc.Resolve(ctx, pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "alice", user.Username)

	viaHeader, err := env.svc.Resolve(ctx, "Bearer "+pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, user.ID, viaHeader.ID)
}

func TestSessionManager_Login_Failures(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, TTLPolicy{})
	ctx := context.Background()

	_, err := env.svc.Register(ctx, "alice", "pw123", "")
	require.NoError(t, err)
	_, err = env.svc.Register(ctx, "mallory", "pw123", "")
	require.NoError(t, err)

	disabled, err := env.repo.FindByUsername(ctx, "mallory")
	require.NoError(t, err)
	disabled.Enabled = false
	require.NoError(t, env.repo.Save(ctx, disabled))

	tests := []struct {
		name, username, password string
	}{
		{name: "unknown user", username: "bob", password: "pw123"},
		{name: "wrong password", username: "alice", password: "wrong"},
		{name: "disabled user", username: "mallory", password: "pw123"},
	}
	for _, tt := range tests {
		_, err := env.svc.Login(ctx, tt.username, tt.password)
		assert.ErrorIs(t, err, ErrUnauthorized, tt.name)
	}
	assert.Contains(t, env.rec.types(), events.UserLoginFailed)
}

func TestSessionManager_Login_ReusesValidRefreshToken(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, TTLPolicy{Refresh: 24 * time.Hour})
	ctx := context.Background()

	registered, err := env.svc.Register(ctx, "alice", "pw123", "")
	require.NoError(t, err)

	env.clock.Advance(time.Minute)
	first, err := env.svc.Login(ctx, "alice", "pw123")
	require.NoError(t, err)
	second, err := env.svc.Login(ctx, "alice", "pw123")
	require.NoError(t, err)

	assert.Equal(t, registered.RefreshToken, first.RefreshToken)
	assert.Equal(t, first.RefreshToken, second.RefreshToken)
	assert.Equal(t, registered.RefreshExp.Unix(), first.RefreshExp.Unix())
	assert.NotEqual(t, first.AccessToken, second.AccessToken)
}

func TestSessionManager_Login_MintsWhenStoredTokenExpired(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, TTLPolicy{Access: time.Minute, Refresh: time.Hour})
	ctx := context.Background()

	registered, err := env.svc.Register(ctx, "alice", "pw123", "")
	require.NoError(t, err)

	env.clock.Advance(2 * time.Hour)
	pair, err := env.svc.Login(ctx, "alice", "pw123")
	require.NoError(t, err)
	assert.NotEqual(t, registered.RefreshToken, pair.RefreshToken)

	user, err := env.repo.FindByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, pair.RefreshToken, *user.RefreshToken)
	assert.True(t, user.RefreshTokenValid(env.clock.Now()))
}

func TestSessionManager_Refresh_RotatesExactlyOnce(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, TTLPolicy{})
	ctx := context.Background()

	_, err := env.svc.Register(ctx, "alice", "pw123", "")
	require.NoError(t, err)
	login, err := env.svc.Login(ctx, "alice", "pw123")
	require.NoError(t, err)

	refreshed, err := env.svc.Refresh(ctx, login.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, login.RefreshToken, refreshed.RefreshToken)
	assert.NotEqual(t, login.AccessToken, refreshed.AccessToken)

	user, err := env.repo.FindByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, refreshed.RefreshToken, *user.RefreshToken)

	_, err = env.svc.Refresh(ctx, login.RefreshToken)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidToken)
	assert.ErrorIs(t, err, ErrUnauthorized)

	again, err := env.svc.Refresh(ctx, "Bearer "+refreshed.RefreshToken)
	require.NoError(t, err)

	resolved, err := env.svc.Resolve(ctx, again.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, user.ID, resolved.ID)
	assert.Contains(t, env.rec.types(), events.UserTokenRefreshed)
}

func TestSessionManager_Refresh_Rejects(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, TTLPolicy{})
	ctx := context.Background()

	pair, err := env.svc.Register(ctx, "alice", "pw123", "")
	require.NoError(t, err)

	foreignCodec, err := tokens.NewCodec([]byte("some-other-secret-some-other-secret"))
	require.NoError(t, err)
	foreign, _, err := foreignCodec.SignRefresh(uuid.NewString(), "alice", time.Hour)
	require.NoError(t, err)

	unheld, _, err := env.codec.SignRefresh(uuid.NewString(), "ghost", time.Hour)
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
	}{
		{name: "empty", token: ""},
		{name: "garbage", token: "not-a-valid-jwt"},
		{name: "access token", token: pair.AccessToken},
		{name: "foreign signature", token: foreign},
		{name: "not held by anyone", token: unheld},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			res, err := env.svc.Refresh(ctx, tt.token)
			require.Error(t, err)
			assert.Nil(t, res)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

func TestSessionManager_Refresh_StoredExpiryPassed(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, TTLPolicy{})
	ctx := context.Background()

	pair, err := env.svc.Register(ctx, "alice", "pw123", "")
	require.NoError(t, err)
	user, err := env.repo.FindByUsername(ctx, "alice")
	require.NoError(t, err)

	require.NoError(t, env.repo.StoreRefreshToken(ctx, user.ID, pair.RefreshToken, env.clock.Now().Add(-time.Minute)))

	_, err = env.svc.Refresh(ctx, pair.RefreshToken)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestSessionManager_Refresh_ConcurrentSameToken(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, TTLPolicy{})
	ctx := context.Background()

	pair, err := env.svc.Register(ctx, "alice", "pw123", "")
	require.NoError(t, err)

	const callers = 5
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := env.svc.Refresh(ctx, pair.RefreshToken); err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
}

func TestSessionManager_LogOut(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, TTLPolicy{})
	ctx := context.Background()

	pair, err := env.svc.Register(ctx, "alice", "pw123", "")
	require.NoError(t, err)

	env.svc.LogOut(ctx, pair.RefreshToken)
	env.svc.LogOut(ctx, pair.RefreshToken)
	env.svc.LogOut(ctx, "")
	env.svc.LogOut(ctx, "unknown")

	user, err := env.repo.FindByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.Nil(t, user.RefreshToken)
	assert.Nil(t, user.RefreshTokenExpiry)

	_, err = env.svc.Refresh(ctx, pair.RefreshToken)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestSessionManager_Resolve(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, TTLPolicy{Access: time.Minute})
	ctx := context.Background()

	pair, err := env.svc.Register(ctx, "alice", "pw123", "")
	require.NoError(t, err)

	bySubject, err := env.codec.Sign(tokens.Claims{Type: tokens.TypeAccess}, "alice", time.Minute)
	require.NoError(t, err)
	user, err := env.svc.Resolve(ctx, bySubject)
	require.NoError(t, err)
	assert.Equal(t, "alice", user.Username)

	ghost, _, err := env.codec.SignAccess(uuid.NewString(), "ghost", "", nil, time.Minute)
	require.NoError(t, err)
	_, err = env.svc.Resolve(ctx, ghost)
	assert.ErrorIs(t, err, ErrNotFound)

	badUID, err := env.codec.Sign(tokens.Claims{Type: tokens.TypeAccess, UID: "not-a-uuid"}, "alice", time.Minute)
	require.NoError(t, err)
	_, err = env.svc.Resolve(ctx, badUID)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = env.svc.Resolve(ctx, pair.RefreshToken)
	assert.ErrorIs(t, err, ErrInvalidToken)

	env.clock.Advance(2 * time.Minute)
	_, err = env.svc.Resolve(ctx, pair.AccessToken)
	assert.ErrorIs(t, err, ErrExpired)
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestSessionManager_IssueFor(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, TTLPolicy{})
	ctx := context.Background()

	user := &models.User{Username: "octocat", PasswordHash: "x", Enabled: true}
	require.NoError(t, env.repo.Create(ctx, user))

	pair, err := env.svc.IssueFor(ctx, user)
	require.NoError(t, err)
	again, err := env.svc.IssueFor(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, pair.RefreshToken, again.RefreshToken)

	_, err = env.svc.IssueFor(ctx, nil)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = env.svc.IssueFor(ctx, &models.User{Enabled: false})
	assert.ErrorIs(t, err, ErrUnauthorized)
}

type unavailableStore struct {
	UserStore
}

func (unavailableStore) FindByUsername(context.Context, string) (*models.User, error) {
	return nil, fmt.Errorf("%w: context deadline exceeded", repo.ErrUnavailable)
}

func TestSessionManager_StoreUnavailable(t *testing.T) {
	t.Parallel()

	codec, err := tokens.NewCodec([]byte("test-jwt-secret"))
	require.NoError(t, err)
	svc := NewSessionManager(unavailableStore{}, codec, TTLPolicy{}, nil)

	_, err = svc.Login(context.Background(), "alice", "pw123")
	assert.ErrorIs(t, err, ErrUnavailable)

	_, err = svc.Register(context.Background(), "alice", "pw123", "")
	assert.ErrorIs(t, err, ErrUnavailable)
}

type hangingPublisher struct{}

func (hangingPublisher) Publish(ctx context.Context, _ events.Event) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestSessionManager_SlowPublisherDoesNotBlock(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, TTLPolicy{})
	d := events.NewDispatcher(hangingPublisher{}, 64)
	env.svc.Events = d
	ctx := context.Background()

	start := time.Now()
	_, err := env.svc.Register(ctx, "slow", "pw123", "")
	require.NoError(t, err)
	pair, err := env.svc.Login(ctx, "slow", "pw123")
	require.NoError(t, err)
	_, err = env.svc.Login(ctx, "slow", "wrong")
	require.ErrorIs(t, err, ErrUnauthorized)
	_, err = env.svc.Refresh(ctx, pair.RefreshToken)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 3*time.Second)

	closeCtx, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, d.Close(closeCtx), context.DeadlineExceeded)
}
