// Package cleanup は放置されたドラフトの自動破棄ジョブを提供する。
// 生成からTTLを超過したドラフトを定期的にレジストリから削除し、
// テナントが新しいドラフトを開始できる状態に戻す。
package cleanup

import (
	"context"
	"log/slog"
	"time"

	"github.com/hitoshi/calprov/internal/metrics"
)

// DraftReaper は期限切れドラフトの削除を抽象化するインターフェース。
// *draft.Registry が満たす。
type DraftReaper interface {
	RemoveOlderThan(cutoff time.Time) int
}

// CleanupJob はTTLを超過したドラフトの自動破棄ジョブ。
// 何度実行しても結果が変わらない冪等な削除処理を保証する。
type CleanupJob struct {
	drafts  DraftReaper
	metrics metrics.MetricsCollector
	logger  *slog.Logger
	TTL     time.Duration // ドラフトの保持期間（デフォルト: 30分）

	now func() time.Time
}

// NewCleanupJob は新しいCleanupJobを生成する。
// デフォルトの保持期間は30分。collectorはnilでもよい。
func NewCleanupJob(drafts DraftReaper, collector metrics.MetricsCollector, logger *slog.Logger) *CleanupJob {
	return &CleanupJob{
		drafts:  drafts,
		metrics: collector,
		logger:  logger,
		TTL:     30 * time.Minute,
		now:     time.Now,
	}
}

// Run はTTLを超過したドラフトを削除し、削除件数を返す。
// 削除対象がない場合でもエラーにならない。
func (j *CleanupJob) Run(ctx context.Context) int {
	start := j.now()
	removed := j.drafts.RemoveOlderThan(start.Add(-j.TTL))

	if j.metrics != nil && removed > 0 {
		j.metrics.RecordDraftsExpired(removed)
	}

	level := slog.LevelDebug
	if removed > 0 {
		level = slog.LevelInfo
	}
	j.logger.Log(ctx, level, "ドラフトクリーンアップジョブが完了しました",
		slog.Int("deleted_count", removed),
		slog.Duration("ttl", j.TTL),
		slog.Float64("duration_ms", float64(time.Since(start).Microseconds())/1000),
	)

	return removed
}

// Start はintervalごとにRunを実行する。ctxがキャンセルされるまでブロックする。
func (j *CleanupJob) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("ドラフトクリーンアップジョブを停止しました")
			return
		case <-ticker.C:
			j.Run(ctx)
		}
	}
}
