package models

import (
	"slices"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	RoleUser  = "ROLE_USER"
	RoleAdmin = "ROLE_ADMIN"
)

type User struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey"   json:"id"`
	Username     string    `gorm:"uniqueIndex;not null"   json:"username"`
	Email        *string   `gorm:"uniqueIndex"            json:"email,omitempty"`
	PasswordHash string    `gorm:"not null"               json:"-"`
	Roles        []string  `gorm:"serializer:json;type:text" json:"roles"`
	Enabled      bool      `gorm:"not null;default:true"  json:"enabled"`

	OAuthProvider   *string `gorm:"column:oauth_provider;uniqueIndex:idx_users_provider_identity"    json:"oauth_provider,omitempty"`
	OAuthProviderID *string `gorm:"column:oauth_provider_id;uniqueIndex:idx_users_provider_identity" json:"-"`

	RefreshToken       *string    `gorm:"uniqueIndex;size:2048" json:"-"`
	RefreshTokenExpiry *time.Time `json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (u *User) BeforeCreate(*gorm.DB) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	if len(u.Roles) == 0 {
		u.Roles = []string{RoleUser}
	}
	return nil
}

// SetRefreshToken fills the single refresh slot. Token and expiry are always
// written together.
func (u *User) SetRefreshToken(token string, exp time.Time) {
	u.RefreshToken = &token
	u.RefreshTokenExpiry = &exp
}

// RefreshTokenValid reports whether the stored refresh token exists and has not expired at now.
func (u *User) RefreshTokenValid(now time.Time) bool {
	if u.RefreshToken == nil || *u.RefreshToken == "" || u.RefreshTokenExpiry == nil {
		return false
	}
	return now.Before(*u.RefreshTokenExpiry)
}

func (u *User) HasRole(role string) bool {
	return slices.Contains(u.Roles, role)
}

func (u *User) EmailValue() string {
	if u.Email == nil {
		return ""
	}
	return *u.Email
}

func (u *User) SetProvider(provider, providerID string) {
	u.OAuthProvider = &provider
	u.OAuthProviderID = &providerID
}

func (u *User) ProviderValue() string {
	if u.OAuthProvider == nil {
		return ""
	}
	return *u.OAuthProvider
}
