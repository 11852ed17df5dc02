package service

import (
	"context"
	"time"

	"github.com/Skotchmaster/auth_gateway/internal/models"
	"github.com/google/uuid"
)

// UserStore is the persistence the session lifecycle needs. Operations are
// atomic per record. Missing records are reported as repo.ErrNotFound and a
// lost compare-and-swap as repo.ErrStale.
type UserStore interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	FindByUsername(ctx context.Context, username string) (*models.User, error)
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	FindByRefreshToken(ctx context.Context, token string) (*models.User, error)
	FindByProvider(ctx context.Context, provider, providerID string) (*models.User, error)
	Create(ctx context.Context, u *models.User) error
	Save(ctx context.Context, u *models.User) error
	StoreRefreshToken(ctx context.Context, id uuid.UUID, token string, exp time.Time) error
	SwapRefreshToken(ctx context.Context, id uuid.UUID, current, next string, exp time.Time) error
	ClearRefreshToken(ctx context.Context, token string) error
}
