// Package cleanup は期限切れセッションスナップショットの自動削除ジョブを提供する。
// 有効期限（expires_at）を過ぎたスナップショットを定期バッチで削除する。
// Redisストアはキーの TTL で失効するため対象外。
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Purger は期限切れスナップショットを削除するリポジトリのインターフェース。
type Purger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

// Recorder は削除件数の記録先。
type Recorder interface {
	RecordSnapshotsPurged(count int)
}

// DefaultInterval はジョブのデフォルト実行間隔。
const DefaultInterval = 24 * time.Hour

// CleanupJob は期限切れスナップショットの自動削除ジョブ。
// 冪等な削除処理のため、何度実行してもよい。
type CleanupJob struct {
	repo     Purger
	logger   *slog.Logger
	recorder Recorder
	Interval time.Duration // 実行間隔（デフォルト: 24時間）
}

// NewCleanupJob は新しいCleanupJobを生成する。recorderはnilでもよい。
func NewCleanupJob(repo Purger, logger *slog.Logger, recorder Recorder) *CleanupJob {
	return &CleanupJob{
		repo:     repo,
		logger:   logger,
		recorder: recorder,
		Interval: DefaultInterval,
	}
}

// Run は期限切れスナップショットを削除する。
// 削除対象がない場合でもエラーにならない。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := time.Now()

	deletedCount, err := j.repo.PurgeExpired(ctx)
	if err != nil {
		j.logger.Error("セッションクリーンアップジョブの実行に失敗しました",
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("セッションクリーンアップの実行に失敗: %w", err)
	}

	if j.recorder != nil {
		j.recorder.RecordSnapshotsPurged(int(deletedCount))
	}

	duration := time.Since(start)
	j.logger.Info("セッションクリーンアップジョブが完了しました",
		slog.Int64("deleted_count", deletedCount),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	return nil
}

// Start は起動直後に1回実行し、以降はIntervalごとに実行する。
// ctxがキャンセルされるまでブロックする。
func (j *CleanupJob) Start(ctx context.Context) {
	if err := j.Run(ctx); err != nil && ctx.Err() == nil {
		j.logger.Error("cleanup job failed", slog.String("error", err.Error()))
	}

	ticker := time.NewTicker(j.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := j.Run(ctx); err != nil && ctx.Err() == nil {
				j.logger.Error("cleanup job failed", slog.String("error", err.Error()))
			}
		}
	}
}
