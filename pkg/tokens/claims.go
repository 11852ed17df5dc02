package tokens

import "github.com/golang-jwt/jwt/v5"

type Type string

const (
	TypeAccess  Type = "access"
	TypeRefresh Type = "refresh"
)

// Claims is the payload shared by access and refresh tokens. Refresh tokens
// only populate Type, UID and the registered claims.
type Claims struct {
	Type     Type     `json:"type,omitempty"`
	UID      string   `json:"uid,omitempty"`
	Username string   `json:"username,omitempty"`
	Email    string   `json:"email,omitempty"`
	Roles    []string `json:"roles,omitempty"`

	// LegacyUID is read from tokens minted before "uid" became the claim name.
	// It is never written.
	LegacyUID string `json:"userId,omitempty"`

	jwt.RegisteredClaims
}

// UserID returns the user id claim, preferring "uid" over "userId".
func (c *Claims) UserID() string {
	if c.UID != "" {
		return c.UID
	}
	return c.LegacyUID
}
