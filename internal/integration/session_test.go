package integration

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/Skotchmaster/auth_gateway/internal/events"
	"github.com/Skotchmaster/auth_gateway/internal/oauth"
	"github.com/Skotchmaster/auth_gateway/internal/repo"
	"github.com/Skotchmaster/auth_gateway/internal/service"
	"github.com/Skotchmaster/auth_gateway/pkg/db"
	"github.com/Skotchmaster/auth_gateway/pkg/tokens"
)

type integrationEnv struct {
	db   *gorm.DB
	repo *repo.GormRepo
	svc  *service.SessionManager
}

func newIntegrationEnv(t *testing.T) *integrationEnv {
	t.Helper()

	dsn := os.Getenv("AUTH_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("AUTH_TEST_DATABASE_URL is required for tests")
	}

	gdb, err := db.Open(context.Background(), dsn, db.DefaultPool())
	require.NoError(t, err)
	require.NoError(t, repo.Migrate(gdb))

	codec, err := tokens.NewCodec([]byte("integration-secret-integration-secret"))
	require.NoError(t, err)

	r := repo.New(gdb, 0)
	env := &integrationEnv{
		db:   gdb,
		repo: r,
		svc:  service.NewSessionManager(r, codec, service.TTLPolicy{}, events.Nop{}),
	}

	t.Cleanup(func() {
		gdb.Exec("TRUNCATE TABLE users")
		if sqlDB, err := gdb.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return env
}

func uniqueUsername() string {
	return "u_" + uuid.NewString()
}

func TestSessionManager_Register_SuccessAndConflict(t *testing.T) {
	env := newIntegrationEnv(t)
	ctx := context.Background()
	username := uniqueUsername()

	_, err := env.svc.Register(ctx, username, "Secret123", "")
	require.NoError(t, err)

	_, err = env.svc.Register(ctx, username, "Secret123", "")
	assert.ErrorIs(t, err, service.ErrConflict)
}

func TestSessionManager_Login_ResolvesSameUser(t *testing.T) {
	env := newIntegrationEnv(t)
	ctx := context.Background()
	username := uniqueUsername()

	_, err := env.svc.Register(ctx, username, "Secret123", "")
	require.NoError(t, err)

	pair, err := env.svc.Login(ctx, username, "Secret123")
	require.NoError(t, err)
	assert.True(t, pair.AccessExp.After(time.Now()))

	user, err := env.svc.Resolve(ctx, pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, username, user.Username)
}

func TestSessionManager_Refresh_ConcurrentRotationOnPostgres(t *testing.T) {
	env := newIntegrationEnv(t)
	ctx := context.Background()
	username := uniqueUsername()

	pair, err := env.svc.Register(ctx, username, "Secret123", "")
	require.NoError(t, err)

	const workers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		success int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := env.svc.Refresh(ctx, pair.RefreshToken); err == nil {
				mu.Lock()
				success++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, success)
}

func TestFederator_OnPostgres(t *testing.T) {
	env := newIntegrationEnv(t)
	ctx := context.Background()
	f := oauth.NewFederator(env.repo, events.Nop{})
	email := uuid.NewString() + "@example.com"

	first, err := f.Resolve(ctx, oauth.Google, oauth.Attributes{"sub": "g-" + email, "email": email})
	require.NoError(t, err)
	second, err := f.Resolve(ctx, oauth.Google, oauth.Attributes{"sub": "g-" + email, "email": email})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
}
