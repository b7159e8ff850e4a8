package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/hitoshi/trinket/internal/model"
)

// Record はコレクションに保持できるレコード。
type Record interface {
	RecordID() string
}

// Source はコレクション全件を取得するインターフェース。
type Source[T Record] interface {
	Fetch(ctx context.Context) ([]T, error)
}

// SourceFunc は関数をSourceとして扱うためのアダプタ。
type SourceFunc[T Record] func(ctx context.Context) ([]T, error)

// Fetch はf(ctx)を呼び出す。
func (f SourceFunc[T]) Fetch(ctx context.Context) ([]T, error) { return f(ctx) }

// Feed はテーブル単位の変更通知チャネルを開くインターフェース。
type Feed interface {
	Subscribe(ctx context.Context, table string) (Subscription, error)
}

// Subscription は開いている変更通知チャネル。
// Changesのチャネルは購読終了時に閉じられる。
type Subscription interface {
	Changes() <-chan Change
	Close() error
}

// Metrics はリアルタイム同期のメトリクスを記録するインターフェース。
type Metrics interface {
	IncRealtimeChange(collection, kind string)
	IncRealtimeReload(collection, reason string)
	IncLoadFailure(collection string)
}

// Mode は変更通知の反映方式。
type Mode int

const (
	// ModeDelta は挿入・更新・削除を個別に反映し、解釈できない通知のみ全件再読み込みする。
	ModeDelta Mode = iota
	// ModeReload はどの通知でも全件再読み込みする。
	ModeReload
)

// 全件再読み込みの理由（メトリクスのラベル）
const (
	ReloadUnknownPayload = "unknown_payload"
	ReloadApplyError     = "apply_error"
	ReloadMode           = "reload_mode"
)

// ErrClosed は購読終了後の操作で返される。
var ErrClosed = errors.New("realtime: reconciler is closed")

// Options はReconcilerの設定。
type Options struct {
	Table   string // 変更通知のテーブル名（例: items）
	Label   string // エラーメッセージ中のコレクション名。空ならTable
	Mode    Mode
	Logger  *slog.Logger
	Metrics Metrics
}

// Reconciler は1画面分のコレクションをリモートの状態と一致させ続ける。
// コレクションはReconcilerだけが書き換え、外部にはSnapshotでコピーを渡す。
// 通知は到着順に1件ずつ、単一のgoroutineで反映される。
type Reconciler[T Record] struct {
	source Source[T]
	feed   Feed
	opts   Options
	logger *slog.Logger

	mu     sync.Mutex
	items  []T
	sub    Subscription
	closed bool

	done     chan struct{}
	stopOnce sync.Once
}

// NewReconciler は新しいReconcilerを生成する。feedはSubscribeを使わない場合nilでもよい。
func NewReconciler[T Record](source Source[T], feed Feed, opts Options) *Reconciler[T] {
	if opts.Label == "" {
		opts.Label = opts.Table
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler[T]{
		source: source,
		feed:   feed,
		opts:   opts,
		logger: logger.With(slog.String("collection", opts.Table)),
		items:  []T{},
		done:   make(chan struct{}),
	}
}

// LoadAll はコレクション全件を取得して置き換える。
// 取得に失敗した場合は直前のコレクションを保持したまま、再試行可能な*model.APIErrorを返す。
// 購読終了後に届いた結果は捨てる。
func (r *Reconciler[T]) LoadAll(ctx context.Context) error {
	fetched, err := r.source.Fetch(ctx)
	if err != nil {
		if r.opts.Metrics != nil {
			r.opts.Metrics.IncLoadFailure(r.opts.Table)
		}
		r.logger.Warn("failed to load collection", slog.String("error", err.Error()))
		return model.NewLoadFailedError(r.opts.Label, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.items = append(make([]T, 0, len(fetched)), fetched...)
	return nil
}

// Snapshot は現在のコレクションのコピーを返す。
func (r *Reconciler[T]) Snapshot() []T {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append(make([]T, 0, len(r.items)), r.items...)
}

// Subscribe は変更通知チャネルを開き、通知を反映するたびにonChangeへスナップショットを渡す。
// ctxが終了するかUnsubscribeが呼ばれるまで通知を処理し続ける。
func (r *Reconciler[T]) Subscribe(ctx context.Context, onChange func([]T)) error {
	sub, err := r.open(ctx)
	if err != nil {
		return err
	}
	go r.run(ctx, sub, onChange)
	return nil
}

// Sync は変更通知チャネルを開いてから全件を読み込み、その後に通知の反映を始める。
// 読み込みより前の変更は読み込み結果に含まれ、読み込み中の変更は通知として後から反映される。
// チャネルを開けなかった場合は読み込まずにそのエラーを返す。
// 読み込みに失敗した場合は通知の反映を続けたまま*model.APIErrorを返す。
func (r *Reconciler[T]) Sync(ctx context.Context, onChange func([]T)) error {
	sub, err := r.open(ctx)
	if err != nil {
		return err
	}
	loadErr := r.LoadAll(ctx)
	go r.run(ctx, sub, onChange)
	return loadErr
}

func (r *Reconciler[T]) open(ctx context.Context) (Subscription, error) {
	if r.feed == nil {
		return nil, errors.New("realtime: no feed configured")
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrClosed
	}
	if r.sub != nil {
		r.mu.Unlock()
		return nil, errors.New("realtime: already subscribed")
	}
	r.mu.Unlock()

	sub, err := r.feed.Subscribe(ctx, r.opts.Table)
	if err != nil {
		return nil, fmt.Errorf("subscribing to %s: %w", r.opts.Table, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		r.closeSubscription(sub)
		return nil, ErrClosed
	}
	r.sub = sub
	return sub, nil
}

func (r *Reconciler[T]) run(ctx context.Context, sub Subscription, onChange func([]T)) {
	changes := sub.Changes()
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.done:
			return
		case c, ok := <-changes:
			if !ok {
				return
			}
			if err := r.Apply(ctx, c); err != nil {
				r.logger.Warn("fallback reload failed", slog.String("error", err.Error()))
			}
			if onChange != nil && r.mounted() {
				onChange(r.Snapshot())
			}
		}
	}
}

// Apply は1件の変更通知をコレクションに反映する。
// 解釈できない通知や反映中のエラーは全件再読み込みで解消し、その再読み込みの失敗のみを返す。
func (r *Reconciler[T]) Apply(ctx context.Context, c Change) error {
	if !r.mounted() {
		return nil
	}

	kind := c.Kind()
	if r.opts.Metrics != nil {
		r.opts.Metrics.IncRealtimeChange(r.opts.Table, kind.String())
	}

	if r.opts.Mode == ModeReload {
		return r.reload(ctx, ReloadMode)
	}

	var err error
	switch kind {
	case KindInsert:
		err = r.applyInsert(c.New)
	case KindUpdate:
		err = r.applyUpdate(c.New)
	case KindDelete:
		err = r.applyDelete(c.Old)
	default:
		r.logger.Info("unknown payload, falling back to full reload")
		return r.reload(ctx, ReloadUnknownPayload)
	}

	if err != nil {
		r.logger.Warn("failed to apply change, falling back to full reload",
			slog.String("kind", kind.String()),
			slog.String("error", err.Error()),
		)
		return r.reload(ctx, ReloadApplyError)
	}
	return nil
}

func (r *Reconciler[T]) reload(ctx context.Context, reason string) error {
	if r.opts.Metrics != nil {
		r.opts.Metrics.IncRealtimeReload(r.opts.Table, reason)
	}
	return r.LoadAll(ctx)
}

// applyInsert は同じIDの既存レコードを取り除いてから先頭に追加する。
func (r *Reconciler[T]) applyInsert(raw json.RawMessage) error {
	rec, err := decodeRecord[T](raw)
	if err != nil {
		return err
	}
	id := rec.RecordID()

	r.mu.Lock()
	defer r.mu.Unlock()
	next := make([]T, 0, len(r.items)+1)
	next = append(next, rec)
	for _, existing := range r.items {
		if existing.RecordID() != id {
			next = append(next, existing)
		}
	}
	r.items = next
	return nil
}

// applyUpdate は一致するレコードに新レコードのフィールドを上書きする。並び順は変えない。
func (r *Reconciler[T]) applyUpdate(raw json.RawMessage) error {
	rec, err := decodeRecord[T](raw)
	if err != nil {
		return err
	}
	id := rec.RecordID()

	r.mu.Lock()
	defer r.mu.Unlock()
	for i, existing := range r.items {
		if existing.RecordID() != id {
			continue
		}
		merged, err := mergeRecord(existing, raw)
		if err != nil {
			return err
		}
		next := append(make([]T, 0, len(r.items)), r.items...)
		next[i] = merged
		r.items = next
	}
	return nil
}

// applyDelete は旧レコードと同じIDのレコードを取り除く。
func (r *Reconciler[T]) applyDelete(raw json.RawMessage) error {
	rec, err := decodeRecord[T](raw)
	if err != nil {
		return err
	}
	id := rec.RecordID()

	r.mu.Lock()
	defer r.mu.Unlock()
	next := make([]T, 0, len(r.items))
	for _, existing := range r.items {
		if existing.RecordID() != id {
			next = append(next, existing)
		}
	}
	r.items = next
	return nil
}

// Unsubscribe は変更通知チャネルを閉じる。複数回呼んでも、購読前に呼んでも安全。
// チャネルを閉じる際のエラーはログ出力のみ行う。以降に届く読み込み結果は捨てられる。
func (r *Reconciler[T]) Unsubscribe() {
	r.stopOnce.Do(func() {
		r.mu.Lock()
		r.closed = true
		sub := r.sub
		r.mu.Unlock()

		close(r.done)
		if sub != nil {
			r.closeSubscription(sub)
		}
	})
}

func (r *Reconciler[T]) closeSubscription(sub Subscription) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Warn("feed teardown panicked", slog.Any("panic", p))
		}
	}()
	if err := sub.Close(); err != nil {
		r.logger.Warn("failed to close feed", slog.String("error", err.Error()))
	}
}

func (r *Reconciler[T]) mounted() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return !r.closed
}

// decodeRecord は通知のレコードをTにデコードする。IDを持たないレコードはエラーとする。
func decodeRecord[T Record](raw json.RawMessage) (T, error) {
	var rec T
	if err := json.Unmarshal(raw, &rec); err != nil {
		return rec, fmt.Errorf("decoding record: %w", err)
	}
	if rec.RecordID() == "" {
		return rec, errors.New("record has no id")
	}
	return rec, nil
}

// mergeRecord はexistingのトップレベルのフィールドをpatchに含まれるもので置き換える。
func mergeRecord[T Record](existing T, patch json.RawMessage) (T, error) {
	var merged T

	base, err := json.Marshal(existing)
	if err != nil {
		return merged, fmt.Errorf("encoding record: %w", err)
	}
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(base, &fields); err != nil {
		return merged, fmt.Errorf("decoding record fields: %w", err)
	}
	var overlay map[string]json.RawMessage
	if err := json.Unmarshal(patch, &overlay); err != nil {
		return merged, fmt.Errorf("decoding patch fields: %w", err)
	}
	for k, v := range overlay {
		fields[k] = v
	}

	out, err := json.Marshal(fields)
	if err != nil {
		return merged, fmt.Errorf("encoding merged record: %w", err)
	}
	if err := json.Unmarshal(out, &merged); err != nil {
		return merged, fmt.Errorf("decoding merged record: %w", err)
	}
	return merged, nil
}
