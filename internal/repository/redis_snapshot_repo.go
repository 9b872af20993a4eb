package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hitoshi/servease-console/internal/model"
)

// redisKeyPrefix はスナップショットのキー接頭辞。
const redisKeyPrefix = "servease:console:session:"

// RedisSnapshotRepo はRedisを使用したスナップショットリポジトリ。
// 有効期限はキーのTTLで表現するため、期限切れの一括削除は不要。
type RedisSnapshotRepo struct {
	client redis.UniversalClient
	maxAge time.Duration
	now    func() time.Time
}

// NewRedisSnapshotRepo はRedisSnapshotRepoを生成する。
func NewRedisSnapshotRepo(client redis.UniversalClient, maxAge time.Duration) *RedisSnapshotRepo {
	return &RedisSnapshotRepo{client: client, maxAge: maxAge, now: time.Now}
}

func redisKey(key string) string {
	return redisKeyPrefix + key
}

// Load は指定キーのスナップショットを取得する。存在しない場合はnilを返す。
func (r *RedisSnapshotRepo) Load(ctx context.Context, key string) (*model.Snapshot, error) {
	data, err := r.client.Get(ctx, redisKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session snapshot: %w", err)
	}

	var snapshot model.Snapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, fmt.Errorf("failed to decode session snapshot: %w", err)
	}
	return &snapshot, nil
}

// Save はスナップショットをTTL付きで保存する。
// 既に期限切れのトークンを含む場合は保存せずに削除する。
func (r *RedisSnapshotRepo) Save(ctx context.Context, key string, snapshot model.Snapshot) error {
	now := r.now()
	ttl := expiresAt(snapshot, r.maxAge, now).Sub(now)
	if ttl <= 0 {
		return r.Clear(ctx, key)
	}

	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to encode session snapshot: %w", err)
	}
	if err := r.client.Set(ctx, redisKey(key), data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to save session snapshot: %w", err)
	}
	return nil
}

// Clear は指定キーのスナップショットを削除する。
func (r *RedisSnapshotRepo) Clear(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, redisKey(key)).Err(); err != nil {
		return fmt.Errorf("failed to clear session snapshot: %w", err)
	}
	return nil
}

// Ping はRedisへの疎通を確認する。
func (r *RedisSnapshotRepo) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// compile-time interface check
var _ SnapshotRepository = (*RedisSnapshotRepo)(nil)
