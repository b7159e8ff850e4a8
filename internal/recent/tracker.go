// Package recent は最近見た所持品の一覧を端末ローカルに保持する。
package recent

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/hitoshi/trinket/internal/kvstore"
)

const (
	// StorageKey は一覧を保存するローカルストレージのキー。
	StorageKey = "recent_items_v1"
	// MaxEntries は保持する件数の上限。
	MaxEntries = 3
)

// ViewCounter は閲覧記録のメトリクスを記録するインターフェース。
type ViewCounter interface {
	IncRecentView()
}

// Tracker は最近見た所持品IDの一覧を管理する。
// 一覧は常に新しい順で、重複を含まず、MaxEntries件以下に保たれる。
// 保存の失敗は呼び出し元の操作を妨げないよう、ログ出力のみで握りつぶす。
type Tracker struct {
	store   kvstore.Store
	logger  *slog.Logger
	metrics ViewCounter
}

// NewTracker は新しいTrackerを生成する。metricsはnilでもよい。
func NewTracker(store kvstore.Store, logger *slog.Logger, metrics ViewCounter) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{store: store, logger: logger, metrics: metrics}
}

// RecordView は指定IDを一覧の先頭に追加する。
// 既に含まれている場合は元の位置から取り除いてから先頭に置く。
func (t *Tracker) RecordView(ctx context.Context, id string) {
	if id == "" {
		return
	}

	list := make([]string, 0, MaxEntries)
	list = append(list, id)
	for _, existing := range t.Recent(ctx) {
		if existing != id {
			list = append(list, existing)
		}
	}
	if len(list) > MaxEntries {
		list = list[:MaxEntries]
	}

	data, err := json.Marshal(list)
	if err != nil {
		t.logger.Warn("failed to encode recent items", slog.String("error", err.Error()))
		return
	}
	if err := t.store.Set(ctx, StorageKey, data); err != nil {
		t.logger.Warn("failed to save recent item",
			slog.String("item_id", id),
			slog.String("error", err.Error()),
		)
		return
	}
	if t.metrics != nil {
		t.metrics.IncRecentView()
	}
}

// Recent は保存済みの一覧を返す。
// 未保存、読み取り失敗、配列でないデータの場合は空の一覧を返す。
func (t *Tracker) Recent(ctx context.Context) []string {
	data, err := t.store.Get(ctx, StorageKey)
	if err != nil {
		if !errors.Is(err, kvstore.ErrNotFound) {
			t.logger.Warn("failed to read recent items", slog.String("error", err.Error()))
		}
		return []string{}
	}

	var raw []any
	if err := json.Unmarshal(data, &raw); err != nil {
		return []string{}
	}

	// 文字列以外の要素と重複は読み飛ばす
	seen := make(map[string]bool, len(raw))
	ids := make([]string, 0, MaxEntries)
	for _, v := range raw {
		s, ok := v.(string)
		if !ok || s == "" || seen[s] {
			continue
		}
		seen[s] = true
		ids = append(ids, s)
		if len(ids) == MaxEntries {
			break
		}
	}
	return ids
}

// Clear は保存済みの一覧を削除する。
func (t *Tracker) Clear(ctx context.Context) {
	if err := t.store.Remove(ctx, StorageKey); err != nil {
		t.logger.Warn("failed to clear recent items", slog.String("error", err.Error()))
	}
}
