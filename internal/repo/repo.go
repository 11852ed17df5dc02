package repo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Skotchmaster/auth_gateway/internal/models"
	"gorm.io/gorm"
)

var (
	ErrNotFound    = errors.New("record not found")
	ErrDuplicate   = errors.New("record already exists")
	ErrStale       = errors.New("refresh token no longer current")
	ErrUnavailable = errors.New("user store unavailable")
)

const DefaultTimeout = 3 * time.Second

// GormRepo is the gorm-backed user store. Every call is bounded by Timeout.
type GormRepo struct {
	DB      *gorm.DB
	Timeout time.Duration
}

func New(db *gorm.DB, timeout time.Duration) *GormRepo {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &GormRepo{DB: db, Timeout: timeout}
}

func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&models.User{}); err != nil {
		return fmt.Errorf("migrate users: %w", err)
	}
	return nil
}

func (r *GormRepo) Ping(ctx context.Context) error {
	db, cancel := r.conn(ctx)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return mapErr(err)
	}
	return mapErr(sqlDB.PingContext(db.Statement.Context))
}

func (r *GormRepo) conn(ctx context.Context) (*gorm.DB, context.CancelFunc) {
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	return r.DB.WithContext(ctx), cancel
}

func mapErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ErrNotFound
	case isUniqueViolation(err):
		return fmt.Errorf("%w: %v", ErrDuplicate, err)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	default:
		return err
	}
}

// isUniqueViolation also matches raw driver messages for dialects that do not
// translate errors.
func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "duplicate key value")
}
