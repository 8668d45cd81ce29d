package store

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/layer-3/parlor/core"
	"github.com/layer-3/parlor/ports"
)

const redisOpTimeout = 2 * time.Second

// RedisStore mirrors the credential into Redis so several headless client
// processes can share one session. The in-memory cache stays authoritative;
// Redis writes are best-effort and failures only degrade durability.
type RedisStore struct {
	mu     sync.RWMutex
	client *redis.Client
	key    string
	log    *slog.Logger
	cred   core.Credential
	has    bool
}

// NewRedisStore creates a Redis-backed credential store scoped by wallet key.
func NewRedisStore(client *redis.Client, key string, log *slog.Logger) *RedisStore {
	if key == "" {
		key = "parlor:credential"
	}
	if log == nil {
		log = slog.Default()
	}
	return &RedisStore{client: client, key: key, log: log}
}

var _ ports.CredentialStore = (*RedisStore)(nil)

// Save atomically overwrites the stored credential. The Redis entry carries a
// TTL equal to the remaining token lifetime so stale tokens expire server-side.
func (s *RedisStore) Save(cred core.Credential) {
	s.mu.Lock()
	s.cred = cred
	s.has = true
	s.mu.Unlock()

	data, err := json.Marshal(persistedCredential{
		Token:     cred.Token,
		Wallet:    cred.Wallet,
		ExpiresAt: cred.ExpiresAt.UnixMilli(),
	})
	if err != nil {
		s.log.Warn("credstore.redis.marshal.fail", "err", err)
		return
	}

	ttl := time.Until(cred.ExpiresAt)
	if ttl <= 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()
	if err := s.client.Set(ctx, s.key, data, ttl).Err(); err != nil {
		s.log.Warn("credstore.redis.set.fail", "err", err, "key", s.key)
	}
}

// Load populates the in-memory cache from Redis.
func (s *RedisStore) Load() {
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()

	data, err := s.client.Get(ctx, s.key).Bytes()
	if err != nil {
		if err != redis.Nil {
			s.log.Warn("credstore.redis.get.fail", "err", err, "key", s.key)
		}
		return
	}

	var p persistedCredential
	if err := json.Unmarshal(data, &p); err != nil {
		s.log.Warn("credstore.redis.corrupt", "err", err, "key", s.key)
		s.remove()
		return
	}

	cred := core.Credential{
		Token:     p.Token,
		Wallet:    p.Wallet,
		ExpiresAt: time.UnixMilli(p.ExpiresAt),
	}
	if cred.IsExpired() {
		s.remove()
		return
	}

	s.mu.Lock()
	s.cred = cred
	s.has = true
	s.mu.Unlock()
}

// Status returns the current session view from the in-memory cache.
func (s *RedisStore) Status() core.SessionStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return statusOf(s.cred, s.has)
}

// Token returns the raw bearer token, or "" when none is stored.
func (s *RedisStore) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.has {
		return ""
	}
	return s.cred.Token
}

// Clear removes the credential from memory and Redis.
func (s *RedisStore) Clear() {
	s.mu.Lock()
	s.cred = core.Credential{}
	s.has = false
	s.mu.Unlock()

	s.remove()
}

func (s *RedisStore) remove() {
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()
	if err := s.client.Del(ctx, s.key).Err(); err != nil {
		s.log.Warn("credstore.redis.del.fail", "err", err, "key", s.key)
	}
}
