package oauth

import (
	"context"
	"errors"
	"fmt"

	"github.com/Skotchmaster/auth_gateway/internal/events"
	"github.com/Skotchmaster/auth_gateway/internal/hash"
	"github.com/Skotchmaster/auth_gateway/internal/logging"
	"github.com/Skotchmaster/auth_gateway/internal/models"
	"github.com/Skotchmaster/auth_gateway/internal/repo"
)

const usernameAttempts = 5

type UserStore interface {
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	FindByProvider(ctx context.Context, provider, providerID string) (*models.User, error)
	FindByUsername(ctx context.Context, username string) (*models.User, error)
	Create(ctx context.Context, u *models.User) error
	Save(ctx context.Context, u *models.User) error
}

// Federator links external identities to local users. Email is the primary
// key across providers, so one local account is reachable from every
// provider that reports the same address.
type Federator struct {
	Store  UserStore
	Events events.Publisher
	// Suffix returns the random part appended to a taken username.
	Suffix func() (string, error)
}

func NewFederator(store UserStore, pub events.Publisher) *Federator {
	return &Federator{Store: store, Events: pub, Suffix: func() (string, error) { return hash.RandomHex(3) }}
}

func (f *Federator) Resolve(ctx context.Context, p Provider, attrs Attributes) (*models.User, error) {
	l := logging.FromContext(ctx).With("svc", "oauth.federate", "provider", string(p))

	id, err := Extract(p, attrs)
	if err != nil {
		l.Warn("federation_failed", "reason", err.Error())
		return nil, err
	}

	user, err := f.Store.FindByEmail(ctx, id.Email)
	switch {
	case err == nil:
		// Last provider wins.
		user.SetProvider(string(p), id.ProviderID)
		if err := f.Store.Save(ctx, user); err != nil {
			l.Error("federation_failed", "reason", "cannot link provider", "error", err)
			return nil, fmt.Errorf("link %s identity: %w", p, err)
		}
		l.Info("federation_linked", "user_id", user.ID.String())
		f.emit(ctx, user, p)
		return user, nil
	case !errors.Is(err, repo.ErrNotFound):
		return nil, fmt.Errorf("find by email: %w", err)
	}

	user, err = f.Store.FindByProvider(ctx, string(p), id.ProviderID)
	switch {
	case err == nil:
		f.emit(ctx, user, p)
		return user, nil
	case !errors.Is(err, repo.ErrNotFound):
		return nil, fmt.Errorf("find by provider: %w", err)
	}

	user, err = f.create(ctx, id)
	if err != nil {
		l.Error("federation_failed", "reason", "cannot create user", "error", err)
		return nil, err
	}
	l.Info("federation_created", "user_id", user.ID.String(), "username", user.Username)
	f.emit(ctx, user, p)
	return user, nil
}

func (f *Federator) create(ctx context.Context, id *Identity) (*models.User, error) {
	pwHash, err := hash.RandomPasswordHash()
	if err != nil {
		return nil, fmt.Errorf("random password: %w", err)
	}
	username, err := f.freeUsername(ctx, id.Username)
	if err != nil {
		return nil, err
	}

	email := id.Email
	user := &models.User{
		Username:     username,
		Email:        &email,
		PasswordHash: pwHash,
		Roles:        []string{models.RoleUser},
		Enabled:      true,
	}
	user.SetProvider(string(id.Provider), id.ProviderID)

	if err := f.Store.Create(ctx, user); err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	return user, nil
}

// freeUsername returns base if unused, otherwise base with a random suffix.
func (f *Federator) freeUsername(ctx context.Context, base string) (string, error) {
	candidate := base
	for i := 0; i < usernameAttempts; i++ {
		_, err := f.Store.FindByUsername(ctx, candidate)
		if errors.Is(err, repo.ErrNotFound) {
			return candidate, nil
		}
		if err != nil {
			return "", fmt.Errorf("find by username: %w", err)
		}
		suffix, err := f.suffix()
		if err != nil {
			return "", err
		}
		candidate = base + "_" + suffix
	}
	return "", fmt.Errorf("%w: %s", ErrUsernameExhausted, base)
}

func (f *Federator) suffix() (string, error) {
	if f.Suffix != nil {
		return f.Suffix()
	}
	return hash.RandomHex(3)
}

func (f *Federator) emit(ctx context.Context, user *models.User, p Provider) {
	events.Emit(ctx, f.Events, events.Event{
		Type:     events.UserFederated,
		UserID:   user.ID.String(),
		Username: user.Username,
		Provider: string(p),
	})
}
