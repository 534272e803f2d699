package cache

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisKey はキャッシュを保持する Redis ハッシュのキーです。
const DefaultRedisKey = "paperlingo:cache"

// RedisStore は Redis ハッシュを永続層とし、読み取りはローカルのマップで返します。
type RedisStore struct {
	rdb    *redis.Client
	key    string
	logger *log.Logger

	mu      sync.RWMutex
	entries map[string]string
}

// OpenRedisStore は HGETALL でローカルのマップを温めてから RedisStore を返します。
func OpenRedisStore(ctx context.Context, rdb *redis.Client, key string, logger *log.Logger) (*RedisStore, error) {
	if rdb == nil {
		return nil, errors.New("redis client is nil")
	}
	if key == "" {
		key = DefaultRedisKey
	}
	entries, err := rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("load cache from redis: %w", err)
	}
	if entries == nil {
		entries = make(map[string]string)
	}
	logf(logger, "cache warmed from redis key=%s entries=%d", key, len(entries))
	return &RedisStore{
		rdb:     rdb,
		key:     key,
		logger:  logger,
		entries: entries,
	}, nil
}

// Get はローカルのマップのみを参照します。
func (s *RedisStore) Get(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	text, ok := s.entries[key]
	return text, ok
}

// Put は Redis へ書き込んだ後にローカルのマップを更新します。
func (s *RedisStore) Put(ctx context.Context, key, text string) error {
	if err := s.rdb.HSet(ctx, s.key, key, text).Err(); err != nil {
		return fmt.Errorf("hset cache: %w", err)
	}
	s.mu.Lock()
	s.entries[key] = text
	s.mu.Unlock()
	return nil
}

// Clear は Redis のハッシュとローカルのマップを消去します。
func (s *RedisStore) Clear(ctx context.Context) error {
	if err := s.rdb.Del(ctx, s.key).Err(); err != nil {
		return fmt.Errorf("delete cache: %w", err)
	}
	s.mu.Lock()
	s.entries = make(map[string]string)
	s.mu.Unlock()
	return nil
}

// Len は保持しているエントリ数を返します。
func (s *RedisStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
