// Package repository はセッションスナップショットの永続化を提供する。
//
// 実装はメモリ、PostgreSQL、Redisの3種類。いずれもsession.Repositoryを満たし、
// 設定（SESSION_STORE）で切り替える。スナップショットの有効期限は
// 最大保持期間とアクセストークンのexpクレームの早い方。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/servease-console/internal/model"
	"github.com/hitoshi/servease-console/internal/session"
)

// SnapshotRepository はセッションスナップショットの永続化インターフェース。
type SnapshotRepository interface {
	// Load は保存済みスナップショットを返す。存在しないか期限切れの場合はnilを返す。
	Load(ctx context.Context, key string) (*model.Snapshot, error)
	// Save はスナップショットを保存（上書き）する。
	Save(ctx context.Context, key string, snapshot model.Snapshot) error
	// Clear はスナップショットを削除する。存在しなくてもエラーにしない。
	Clear(ctx context.Context, key string) error
}

// ExpiredSnapshotPurger は期限切れスナップショットを一括削除できるリポジトリ。
type ExpiredSnapshotPurger interface {
	// PurgeExpired は期限切れのスナップショットを削除し、削除件数を返す。
	PurgeExpired(ctx context.Context) (int64, error)
}

// DefaultMaxAge はスナップショットのデフォルト最大保持期間。
const DefaultMaxAge = 7 * 24 * time.Hour

// expiresAt はスナップショットの有効期限を計算する。
func expiresAt(snapshot model.Snapshot, maxAge time.Duration, now time.Time) time.Time {
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	return session.ExpiresAt(snapshot, maxAge, now)
}

// compile-time interface check
var (
	_ session.Repository = (SnapshotRepository)(nil)
)
