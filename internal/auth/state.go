package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dpleshakov/corpsso/internal/sso"
)

// AuthState is one pending login between the redirect to the SSO and the
// callback.
type AuthState struct {
	State         string        `json:"state"`
	CodeVerifier  string        `json:"codeVerifier"`
	CodeChallenge string        `json:"codeChallenge"`
	CreatedAt     time.Time     `json:"createdAt"`
	ScopeType     sso.ScopeType `json:"scopeType"`
	Scopes        []string      `json:"scopes"`
}

// StateStore keeps at most one pending login per browser key.
type StateStore interface {
	// Put stores st for browserKey, replacing any unconsumed state.
	// retention bounds how long the entry may be kept.
	Put(ctx context.Context, browserKey string, st AuthState, retention time.Duration) error
	// Take returns and deletes the state of browserKey.
	Take(ctx context.Context, browserKey string) (AuthState, bool, error)
}

type memoryEntry struct {
	state    AuthState
	deadline time.Time
}

// MemoryStateStore is an in-process StateStore for single-instance deployments.
type MemoryStateStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

var _ StateStore = (*MemoryStateStore)(nil)

func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{entries: make(map[string]memoryEntry), now: time.Now}
}

func (s *MemoryStateStore) Put(_ context.Context, browserKey string, st AuthState, retention time.Duration) error {
	s.mu.Lock()
	s.entries[browserKey] = memoryEntry{state: st, deadline: s.now().Add(retention)}
	s.mu.Unlock()
	return nil
}

func (s *MemoryStateStore) Take(_ context.Context, browserKey string) (AuthState, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[browserKey]
	if !ok {
		return AuthState{}, false, nil
	}
	delete(s.entries, browserKey)
	return e.state, true, nil
}

// Purge drops entries past their retention and returns how many it removed.
func (s *MemoryStateStore) Purge(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k, e := range s.entries {
		if !now.Before(e.deadline) {
			delete(s.entries, k)
			n++
		}
	}
	return n
}

// Len returns the number of pending logins.
func (s *MemoryStateStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// RedisStateStore shares pending logins between instances. Retention is
// enforced by key TTL.
type RedisStateStore struct {
	client redis.UniversalClient
	prefix string
}

var _ StateStore = (*RedisStateStore)(nil)

// NewRedisStateStore returns a StateStore storing JSON under "corpsso:authstate:<browserKey>".
func NewRedisStateStore(client redis.UniversalClient) *RedisStateStore {
	return &RedisStateStore{client: client, prefix: "corpsso:authstate:"}
}

func (s *RedisStateStore) Put(ctx context.Context, browserKey string, st AuthState, retention time.Duration) error {
	payload, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encoding auth state: %w", err)
	}
	if err := s.client.Set(ctx, s.prefix+browserKey, payload, retention).Err(); err != nil {
		return fmt.Errorf("storing auth state: %w", err)
	}
	return nil
}

func (s *RedisStateStore) Take(ctx context.Context, browserKey string) (AuthState, bool, error) {
	payload, err := s.client.GetDel(ctx, s.prefix+browserKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return AuthState{}, false, nil
	}
	if err != nil {
		return AuthState{}, false, fmt.Errorf("loading auth state: %w", err)
	}
	var st AuthState
	if err := json.Unmarshal(payload, &st); err != nil {
		return AuthState{}, false, fmt.Errorf("decoding auth state: %w", err)
	}
	return st, true, nil
}
