package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hitoshi/servease-console/internal/model"
)

// PostgresSnapshotRepo はPostgreSQLのconsole_sessionsテーブルを使用したスナップショットリポジトリ。
type PostgresSnapshotRepo struct {
	db     *sql.DB
	maxAge time.Duration
	now    func() time.Time
}

// NewPostgresSnapshotRepo はPostgresSnapshotRepoを生成する。
func NewPostgresSnapshotRepo(db *sql.DB, maxAge time.Duration) *PostgresSnapshotRepo {
	return &PostgresSnapshotRepo{db: db, maxAge: maxAge, now: time.Now}
}

// Load は指定キーのスナップショットを取得する。期限切れの場合はnilを返す。
func (r *PostgresSnapshotRepo) Load(ctx context.Context, key string) (*model.Snapshot, error) {
	var data []byte
	err := r.db.QueryRowContext(ctx,
		`SELECT data
		 FROM console_sessions
		 WHERE id = $1 AND expires_at > now()`,
		key,
	).Scan(&data)

	if errors.Is(err, sql.ErrNoRows) {
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

// Save はスナップショットをアップサートする。
func (r *PostgresSnapshotRepo) Save(ctx context.Context, key string, snapshot model.Snapshot) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to encode session snapshot: %w", err)
	}

	now := r.now()
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO console_sessions (id, data, expires_at, updated_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (id) DO UPDATE
		 SET data = EXCLUDED.data, expires_at = EXCLUDED.expires_at, updated_at = EXCLUDED.updated_at`,
		key, data, expiresAt(snapshot, r.maxAge, now), now,
	)
	if err != nil {
		return fmt.Errorf("failed to save session snapshot: %w", err)
	}
	return nil
}

// Clear は指定キーのスナップショットを削除する。
func (r *PostgresSnapshotRepo) Clear(ctx context.Context, key string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM console_sessions WHERE id = $1`,
		key,
	)
	if err != nil {
		return fmt.Errorf("failed to clear session snapshot: %w", err)
	}
	return nil
}

// PurgeExpired は期限切れのスナップショットを削除する。
func (r *PostgresSnapshotRepo) PurgeExpired(ctx context.Context) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM console_sessions WHERE expires_at <= now()`,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to purge expired snapshots: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get purged count: %w", err)
	}
	return n, nil
}

// compile-time interface check
var (
	_ SnapshotRepository    = (*PostgresSnapshotRepo)(nil)
	_ ExpiredSnapshotPurger = (*PostgresSnapshotRepo)(nil)
)
