package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	checkpointKeyPrefix = "checkpoint:"
)

// RedisStore はチェックポイントを Redis に JSON で保存します。
type RedisStore struct {
	rdb    *redis.Client
	logger *log.Logger
}

// NewRedisStore は RedisStore を作成します。チェックポイントは期限なしで保存され、Clear でのみ削除されます。
func NewRedisStore(rdb *redis.Client, logger *log.Logger) *RedisStore {
	return &RedisStore{
		rdb:    rdb,
		logger: logger,
	}
}

// Load はチェックポイントを取得します。
func (s *RedisStore) Load(ctx context.Context, id string) (*Checkpoint, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}
	data, err := s.rdb.Get(ctx, checkpointKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("get checkpoint: %w", err)
	}
	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		logf(s.logger, "[job:%s] checkpoint corrupt, ignoring: %v", id, err)
		return nil, nil
	}
	return &cp, nil
}

// Save はチェックポイントを上書き保存します。
func (s *RedisStore) Save(ctx context.Context, cp *Checkpoint) error {
	if cp == nil {
		return errors.New("checkpoint is nil")
	}
	if err := validateID(cp.Identity); err != nil {
		return err
	}
	cp.UpdatedAt = time.Now().UTC()

	payload, err := json.Marshal(cp)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, checkpointKey(cp.Identity), payload, 0).Err()
}

// Clear はチェックポイントを削除します。
func (s *RedisStore) Clear(ctx context.Context, id string) error {
	if err := validateID(id); err != nil {
		return err
	}
	return s.rdb.Del(ctx, checkpointKey(id)).Err()
}

func checkpointKey(id string) string {
	return checkpointKeyPrefix + id
}
