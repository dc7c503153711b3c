package auth

import (
	"context"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// Revoker keeps the identifiers of logged-out tokens until they expire
type Revoker interface {
	Revoke(ctx context.Context, tokenID string, ttl time.Duration) error
	IsRevoked(ctx context.Context, tokenID string) (bool, error)
	// Consume revokes tokenID and reports whether this call did it. Exactly
	// one of several concurrent calls for the same id gets true.
	Consume(ctx context.Context, tokenID string, ttl time.Duration) (bool, error)
}

// RedisRevoker shares the revocation list between instances
type RedisRevoker struct {
	client *redis.Client
	prefix string
}

// NewRedisRevoker creates a revoker on top of client
func NewRedisRevoker(client *redis.Client) *RedisRevoker {
	return &RedisRevoker{client: client, prefix: "domus:revoked:"}
}

// Revoke stores tokenID until ttl elapses
func (r *RedisRevoker) Revoke(ctx context.Context, tokenID string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	return r.client.Set(ctx, r.prefix+tokenID, 1, ttl).Err()
}

// IsRevoked reports whether tokenID was revoked
func (r *RedisRevoker) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	n, err := r.client.Exists(ctx, r.prefix+tokenID).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Consume revokes tokenID with SET NX so only the first caller wins
func (r *RedisRevoker) Consume(ctx context.Context, tokenID string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		return false, nil
	}
	return r.client.SetNX(ctx, r.prefix+tokenID, 1, ttl).Result()
}

// MemoryRevoker is a single-process revocation list
type MemoryRevoker struct {
	mu      sync.Mutex
	revoked map[string]time.Time
	now     func() time.Time
}

// NewMemoryRevoker creates an empty in-process revocation list
func NewMemoryRevoker() *MemoryRevoker {
	return &MemoryRevoker{revoked: make(map[string]time.Time), now: time.Now}
}

// Revoke stores tokenID until ttl elapses
func (m *MemoryRevoker) Revoke(_ context.Context, tokenID string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.store(tokenID, ttl)
	return nil
}

// store records tokenID and drops expired entries; m.mu must be held
func (m *MemoryRevoker) store(tokenID string, ttl time.Duration) {
	now := m.now()
	for id, exp := range m.revoked {
		if now.After(exp) {
			delete(m.revoked, id)
		}
	}
	m.revoked[tokenID] = now.Add(ttl)
}

// Consume revokes tokenID unless it is already revoked
func (m *MemoryRevoker) Consume(_ context.Context, tokenID string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		return false, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if exp, ok := m.revoked[tokenID]; ok && !m.now().After(exp) {
		return false, nil
	}
	m.store(tokenID, ttl)
	return true, nil
}

// IsRevoked reports whether tokenID was revoked and has not expired yet
func (m *MemoryRevoker) IsRevoked(_ context.Context, tokenID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	exp, ok := m.revoked[tokenID]
	if !ok {
		return false, nil
	}
	if m.now().After(exp) {
		delete(m.revoked, tokenID)
		return false, nil
	}
	return true, nil
}
