// Package cleanup は期限切れの認証レコードを定期的に削除するジョブを提供する。
// 対象は期限切れのリフレッシュセッションと、使われなかったパスワード再設定トークン。
package cleanup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Sweeper は期限切れのレコードを削除し、削除件数を返す。
// repository.SessionRepository と repository.PasswordResetRepository が実装する。
type Sweeper interface {
	DeleteExpired(ctx context.Context) (int64, error)
}

// Recorder は削除件数を記録するメトリクス。metrics.Collectorが実装する。
type Recorder interface {
	RecordCleanup(kind string, count int64)
}

// Target は削除対象の種別と削除処理の組。
type Target struct {
	Kind    string
	Sweeper Sweeper
}

// CleanupJob は期限切れレコードの削除ジョブ。
// 削除は冪等で、対象がなくてもエラーにならない。
type CleanupJob struct {
	targets []Target
	metrics Recorder
	logger  *slog.Logger
}

// NewCleanupJob は新しいCleanupJobを生成する。metricsはnilでもよい。
func NewCleanupJob(targets []Target, metrics Recorder, logger *slog.Logger) *CleanupJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &CleanupJob{targets: targets, metrics: metrics, logger: logger}
}

// Run は全対象の期限切れレコードを削除する。
// 1つの対象が失敗しても残りの対象は処理し、失敗をまとめて返す。
func (j *CleanupJob) Run(ctx context.Context) error {
	var errs []error
	for _, t := range j.targets {
		start := time.Now()
		deleted, err := t.Sweeper.DeleteExpired(ctx)
		if err != nil {
			j.logger.Error("cleanup failed",
				slog.String("kind", t.Kind),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("cleanup %s: %w", t.Kind, err))
			continue
		}

		if j.metrics != nil {
			j.metrics.RecordCleanup(t.Kind, deleted)
		}
		j.logger.Info("cleanup completed",
			slog.String("kind", t.Kind),
			slog.Int64("deleted_count", deleted),
			slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
		)
	}
	return errors.Join(errs...)
}

// Start は起動直後に1回、その後intervalごとにRunを実行する。ctxが終了するまでブロックする。
func (j *CleanupJob) Start(ctx context.Context, interval time.Duration) {
	j.runOnce(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.runOnce(ctx)
		}
	}
}

func (j *CleanupJob) runOnce(ctx context.Context) {
	if err := j.Run(ctx); err != nil && ctx.Err() == nil {
		j.logger.Warn("cleanup cycle incomplete", slog.String("error", err.Error()))
	}
}
