package tokens

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	// MinSecretLen is 256 bits.
	MinSecretLen = 32
	// derivedKeyLen is the length a short secret is stretched to.
	derivedKeyLen = 64
)

var (
	ErrEmptySecret  = errors.New("jwt secret is empty")
	ErrExpired      = errors.New("token expired")
	ErrMalformed    = errors.New("token malformed")
	ErrBadSignature = errors.New("token signature invalid")
	ErrWrongType    = errors.New("unexpected token type")
)

var signingMethod = jwt.SigningMethodHS512

type Codec struct {
	key      []byte
	degraded bool
	now      func() time.Time
}

type Option func(*Codec)

// WithClock replaces time.Now for issuing and validating tokens.
func WithClock(now func() time.Time) Option {
	return func(c *Codec) { c.now = now }
}

func NewCodec(secret []byte, opts ...Option) (*Codec, error) {
	key, degraded, err := DeriveKey(secret)
	if err != nil {
		return nil, err
	}
	c := &Codec{key: key, degraded: degraded, now: time.Now}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// DeriveKey returns the HMAC key for secret. Secrets shorter than MinSecretLen
// are repeated until they reach 64 bytes and then truncated to 64, and the
// second return value is true. The derivation is deterministic so every
// gateway replica configured with the same short secret verifies the same
// tokens, but the key carries no more entropy than the secret: rotate to a
// secret of at least 32 random bytes.
func DeriveKey(secret []byte) ([]byte, bool, error) {
	if len(secret) == 0 {
		return nil, false, ErrEmptySecret
	}
	if len(secret) >= MinSecretLen {
		key := make([]byte, len(secret))
		copy(key, secret)
		return key, false, nil
	}
	key := make([]byte, 0, derivedKeyLen+len(secret))
	for len(key) < derivedKeyLen {
		key = append(key, secret...)
	}
	return key[:derivedKeyLen], true, nil
}

// Degraded reports whether the configured secret was shorter than MinSecretLen.
func (c *Codec) Degraded() bool { return c.degraded }

// Sign embeds claims with subject, iat=now and exp=now+ttl. A jti is generated
// when the claims carry none.
func (c *Codec) Sign(claims Claims, subject string, ttl time.Duration) (string, error) {
	token, _, err := c.sign(claims, subject, ttl)
	return token, err
}

func (c *Codec) sign(claims Claims, subject string, ttl time.Duration) (string, time.Time, error) {
	now := c.now()
	exp := now.Add(ttl)

	claims.LegacyUID = ""
	claims.Subject = subject
	claims.IssuedAt = jwt.NewNumericDate(now)
	claims.ExpiresAt = jwt.NewNumericDate(exp)
	if claims.ID == "" {
		claims.ID = uuid.NewString()
	}

	token, err := jwt.NewWithClaims(signingMethod, claims).SignedString(c.key)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return token, exp, nil
}

// SignAccess issues an access token for the user and returns its expiry.
func (c *Codec) SignAccess(uid, username, email string, roles []string, ttl time.Duration) (string, time.Time, error) {
	return c.sign(Claims{
		Type:     TypeAccess,
		UID:      uid,
		Username: username,
		Email:    email,
		Roles:    roles,
	}, username, ttl)
}

// SignRefresh issues a refresh token and returns its expiry.
func (c *Codec) SignRefresh(uid, username string, ttl time.Duration) (string, time.Time, error) {
	return c.sign(Claims{
		Type: TypeRefresh,
		UID:  uid,
	}, username, ttl)
}

// Verify checks the signature and expiry and decodes the claims. It does not
// look at the token type.
func (c *Codec) Verify(token string) (*Claims, error) {
	var claims Claims
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{signingMethod.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(c.now),
	)
	tkn, err := parser.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return c.key, nil
	})
	if err != nil {
		return nil, classify(err)
	}
	if !tkn.Valid {
		return nil, ErrMalformed
	}
	return &claims, nil
}

// VerifyAccess rejects refresh tokens. Tokens without a type claim are
// accepted as access tokens.
func (c *Codec) VerifyAccess(token string) (*Claims, error) {
	claims, err := c.Verify(token)
	if err != nil {
		return nil, err
	}
	if claims.Type != TypeAccess && claims.Type != "" {
		return nil, fmt.Errorf("%w: %q", ErrWrongType, claims.Type)
	}
	return claims, nil
}

func (c *Codec) VerifyRefresh(token string) (*Claims, error) {
	claims, err := c.Verify(token)
	if err != nil {
		return nil, err
	}
	if claims.Type != TypeRefresh {
		return nil, fmt.Errorf("%w: %q", ErrWrongType, claims.Type)
	}
	return claims, nil
}

func classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return fmt.Errorf("%w: %v", ErrExpired, err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid),
		errors.Is(err, jwt.ErrTokenUnverifiable),
		errors.Is(err, jwt.ErrSignatureInvalid):
		return fmt.Errorf("%w: %v", ErrBadSignature, err)
	default:
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
}
