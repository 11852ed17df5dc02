package events

import (
	"context"
	"errors"
	"time"

	"github.com/Skotchmaster/auth_gateway/internal/logging"
)

const (
	UserRegistered     = "user.registered"
	UserLoggedIn       = "user.logged_in"
	UserLoginFailed    = "user.login_failed"
	UserTokenRefreshed = "user.token_refreshed"
	UserRefreshFailed  = "user.refresh_failed"
	UserLoggedOut      = "user.logged_out"
	UserFederated      = "user.federated"
)

const publishTimeout = 5 * time.Second

type Event struct {
	Type       string    `json:"type"`
	UserID     string    `json:"user_id,omitempty"`
	Username   string    `json:"username,omitempty"`
	Provider   string    `json:"provider,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }

// Multi delivers to every publisher and joins their errors.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, ev Event) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Emit publishes ev on a bounded context and only logs failures. A nil
// publisher is a no-op.
func Emit(ctx context.Context, p Publisher, ev Event) {
	if p == nil {
		return
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	if err := p.Publish(pubCtx, ev); err != nil {
		logging.FromContext(ctx).Warn("event_publish_failed", "event", ev.Type, "error", err)
	}
}
