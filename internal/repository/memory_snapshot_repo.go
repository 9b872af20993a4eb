package repository

import (
	"context"
	"sync"
	"time"

	"github.com/hitoshi/servease-console/internal/model"
)

// MemorySnapshotRepo はプロセス内メモリに保持するスナップショットリポジトリ。
// 単一インスタンス構成とテストで使う。プロセス再起動で内容は失われる。
type MemorySnapshotRepo struct {
	mu      sync.Mutex
	entries map[string]model.StoredSnapshot
	maxAge  time.Duration
	now     func() time.Time
}

// NewMemorySnapshotRepo はMemorySnapshotRepoを生成する。
func NewMemorySnapshotRepo(maxAge time.Duration) *MemorySnapshotRepo {
	return &MemorySnapshotRepo{
		entries: make(map[string]model.StoredSnapshot),
		maxAge:  maxAge,
		now:     time.Now,
	}
}

// Load は有効期限内のスナップショットを返す。
func (r *MemorySnapshotRepo) Load(ctx context.Context, key string) (*model.Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[key]
	if !ok {
		return nil, nil
	}
	if !entry.ExpiresAt.After(r.now()) {
		delete(r.entries, key)
		return nil, nil
	}
	snapshot := entry.Snapshot
	snapshot.Identity = snapshot.Identity.Clone()
	return &snapshot, nil
}

// Save はスナップショットを保存する。
func (r *MemorySnapshotRepo) Save(ctx context.Context, key string, snapshot model.Snapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	snapshot.Identity = snapshot.Identity.Clone()
	r.entries[key] = model.StoredSnapshot{
		Key:       key,
		Snapshot:  snapshot,
		ExpiresAt: expiresAt(snapshot, r.maxAge, now),
		UpdatedAt: now,
	}
	return nil
}

// Clear はスナップショットを削除する。
func (r *MemorySnapshotRepo) Clear(ctx context.Context, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, key)
	return nil
}

// PurgeExpired は期限切れのスナップショットを削除する。
func (r *MemorySnapshotRepo) PurgeExpired(ctx context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	var n int64
	for key, entry := range r.entries {
		if !entry.ExpiresAt.After(now) {
			delete(r.entries, key)
			n++
		}
	}
	return n, nil
}

// compile-time interface check
var (
	_ SnapshotRepository    = (*MemorySnapshotRepo)(nil)
	_ ExpiredSnapshotPurger = (*MemorySnapshotRepo)(nil)
)
