package repo

import (
	"context"
	"time"

	"github.com/Skotchmaster/auth_gateway/internal/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

func (r *GormRepo) first(ctx context.Context, query string, args ...any) (*models.User, error) {
	db, cancel := r.conn(ctx)
	defer cancel()

	var user models.User
	if err := db.Where(query, args...).First(&user).Error; err != nil {
		return nil, mapErr(err)
	}
	return &user, nil
}

func (r *GormRepo) FindByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	return r.first(ctx, "id = ?", id)
}

func (r *GormRepo) FindByUsername(ctx context.Context, username string) (*models.User, error) {
	return r.first(ctx, "username = ?", username)
}

func (r *GormRepo) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	if email == "" {
		return nil, ErrNotFound
	}
	return r.first(ctx, "email = ?", email)
}

func (r *GormRepo) FindByRefreshToken(ctx context.Context, token string) (*models.User, error) {
	if token == "" {
		return nil, ErrNotFound
	}
	return r.first(ctx, "refresh_token = ?", token)
}

func (r *GormRepo) FindByProvider(ctx context.Context, provider, providerID string) (*models.User, error) {
	if provider == "" || providerID == "" {
		return nil, ErrNotFound
	}
	return r.first(ctx, "oauth_provider = ? AND oauth_provider_id = ?", provider, providerID)
}

// Create inserts u and fails with ErrDuplicate on a unique violation
// (username, email, provider identity or refresh token).
func (r *GormRepo) Create(ctx context.Context, u *models.User) error {
	db, cancel := r.conn(ctx)
	defer cancel()
	return mapErr(db.Create(u).Error)
}

func (r *GormRepo) Save(ctx context.Context, u *models.User) error {
	db, cancel := r.conn(ctx)
	defer cancel()
	return mapErr(db.Save(u).Error)
}

// StoreRefreshToken overwrites the refresh slot of user id unconditionally.
func (r *GormRepo) StoreRefreshToken(ctx context.Context, id uuid.UUID, token string, exp time.Time) error {
	db, cancel := r.conn(ctx)
	defer cancel()

	res := db.Model(&models.User{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"refresh_token":        token,
			"refresh_token_expiry": exp,
		})
	if res.Error != nil {
		return mapErr(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// SwapRefreshToken replaces current with next only if current is still the
// stored value. A concurrent rotation that already replaced it yields ErrStale.
func (r *GormRepo) SwapRefreshToken(ctx context.Context, id uuid.UUID, current, next string, exp time.Time) error {
	db, cancel := r.conn(ctx)
	defer cancel()

	res := db.Model(&models.User{}).
		Where("id = ? AND refresh_token = ?", id, current).
		Updates(map[string]any{
			"refresh_token":        next,
			"refresh_token_expiry": exp,
		})
	if res.Error != nil {
		return mapErr(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrStale
	}
	return nil
}

// ClearRefreshToken empties the slot of whichever user holds token. Unknown
// tokens are not an error.
func (r *GormRepo) ClearRefreshToken(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	db, cancel := r.conn(ctx)
	defer cancel()

	res := db.Model(&models.User{}).
		Where("refresh_token = ?", token).
		Updates(map[string]any{
			"refresh_token":        gorm.Expr("NULL"),
			"refresh_token_expiry": gorm.Expr("NULL"),
		})
	return mapErr(res.Error)
}
