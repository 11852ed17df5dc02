package oauth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Skotchmaster/auth_gateway/internal/hash"
)

const (
	DefaultStateTTL = 10 * time.Minute
	stateKeyPrefix  = "oauth2:state:"
	stateBytes      = 24
)

// StateStore issues single-use values for the OAuth2 state parameter.
// Consume succeeds at most once per issued state and only for the
// provider it was issued for.
type StateStore interface {
	Issue(ctx context.Context, p Provider) (string, error)
	Consume(ctx context.Context, p Provider, state string) error
}

type RedisStateStore struct {
	Client *redis.Client
	TTL    time.Duration
}

func NewRedisStateStore(client *redis.Client, ttl time.Duration) *RedisStateStore {
	if ttl <= 0 {
		ttl = DefaultStateTTL
	}
	return &RedisStateStore{Client: client, TTL: ttl}
}

func (s *RedisStateStore) Issue(ctx context.Context, p Provider) (string, error) {
	state, err := hash.RandomHex(stateBytes)
	if err != nil {
		return "", err
	}
	ok, err := s.Client.SetNX(ctx, stateKeyPrefix+state, string(p), s.TTL).Result()
	if err != nil {
		return "", fmt.Errorf("store oauth2 state: %w", err)
	}
	if !ok {
		return "", errors.New("oauth2 state collision")
	}
	return state, nil
}

func (s *RedisStateStore) Consume(ctx context.Context, p Provider, state string) error {
	if state == "" {
		return ErrInvalidState
	}
	got, err := s.Client.GetDel(ctx, stateKeyPrefix+state).Result()
	if errors.Is(err, redis.Nil) {
		return ErrInvalidState
	}
	if err != nil {
		return fmt.Errorf("consume oauth2 state: %w", err)
	}
	if got != string(p) {
		return ErrInvalidState
	}
	return nil
}

type memoryState struct {
	provider Provider
	expires  time.Time
}

// MemoryStateStore keeps state in process. It is used when no Redis is
// configured and only works with a single gateway replica.
type MemoryStateStore struct {
	TTL time.Duration
	Now func() time.Time

	mu     sync.Mutex
	states map[string]memoryState
}

func NewMemoryStateStore(ttl time.Duration) *MemoryStateStore {
	if ttl <= 0 {
		ttl = DefaultStateTTL
	}
	return &MemoryStateStore{TTL: ttl, Now: time.Now, states: make(map[string]memoryState)}
}

func (s *MemoryStateStore) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *MemoryStateStore) Issue(_ context.Context, p Provider) (string, error) {
	state, err := hash.RandomHex(stateBytes)
	if err != nil {
		return "", err
	}
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range s.states {
		if now.After(v.expires) {
			delete(s.states, k)
		}
	}
	s.states[state] = memoryState{provider: p, expires: now.Add(s.TTL)}
	return state, nil
}

func (s *MemoryStateStore) Consume(_ context.Context, p Provider, state string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.states[state]
	if !ok {
		return ErrInvalidState
	}
	delete(s.states, state)
	if v.provider != p || s.now().After(v.expires) {
		return ErrInvalidState
	}
	return nil
}
