package oauth

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	appleAudience        = "https://appleid.apple.com"
	appleAuthURL         = "https://appleid.apple.com/auth/authorize"
	appleTokenURL        = "https://appleid.apple.com/auth/token"
	appleClientSecretTTL = 5 * time.Minute
)

// AppleSigner mints the ES256 client secret Apple expects in place of a
// static one. A fresh secret is minted for every code exchange.
type AppleSigner struct {
	TeamID   string
	ClientID string
	KeyID    string
	Key      *ecdsa.PrivateKey
	Now      func() time.Time
}

func NewAppleSigner(teamID, clientID, keyID, privateKeyPEM string) (*AppleSigner, error) {
	if teamID == "" || clientID == "" || keyID == "" || privateKeyPEM == "" {
		return nil, errors.New("apple: team id, client id, key id and private key are required")
	}
	key, err := jwt.ParseECPrivateKeyFromPEM([]byte(privateKeyPEM))
	if err != nil {
		return nil, fmt.Errorf("apple: parse private key: %w", err)
	}
	return &AppleSigner{TeamID: teamID, ClientID: clientID, KeyID: keyID, Key: key, Now: time.Now}, nil
}

func (a *AppleSigner) ClientSecret() (string, error) {
	now := time.Now()
	if a.Now != nil {
		now = a.Now()
	}
	claims := jwt.RegisteredClaims{
		Issuer:    a.TeamID,
		Subject:   a.ClientID,
		Audience:  jwt.ClaimStrings{appleAudience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(appleClientSecretTTL)),
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodES256, claims)
	tok.Header["kid"] = a.KeyID

	secret, err := tok.SignedString(a.Key)
	if err != nil {
		return "", fmt.Errorf("apple: sign client secret: %w", err)
	}
	return secret, nil
}

// appleAttributes decodes the id_token returned by Apple's token endpoint.
// The token arrives directly from Apple over TLS in the same exchange, so
// its signature is not checked again here.
func appleAttributes(idToken string) (Attributes, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(idToken, claims); err != nil {
		return nil, fmt.Errorf("apple: parse id_token: %w", err)
	}
	return Attributes(claims), nil
}
