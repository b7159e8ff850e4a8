package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/trinket/internal/model"
)

// DefaultInitTimeout は初期セッション確認の待ち時間の上限。
const DefaultInitTimeout = 5 * time.Second

// SessionSource は現在のセッションを問い合わせるインターフェース。
type SessionSource interface {
	GetSession(ctx context.Context) (*model.AuthSession, error)
}

// GuardOptions はGuardの設定。
type GuardOptions struct {
	InitTimeout time.Duration
	Logger      *slog.Logger
}

// Guard はセッション状態に応じて画面遷移を制御する。
// 未認証のまま認証済み画面を表示させず、認証済みのまま認証画面に留めない。
type Guard struct {
	store   *Store
	source  SessionSource
	nav     Navigator
	timeout time.Duration
	logger  *slog.Logger

	mu          sync.Mutex
	unsubscribe func()
	cancel      context.CancelFunc
	stopped     bool
}

// NewGuard は新しいGuardを生成する。
func NewGuard(store *Store, source SessionSource, nav Navigator, opts GuardOptions) *Guard {
	if opts.InitTimeout <= 0 {
		opts.InitTimeout = DefaultInitTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Guard{
		store:   store,
		source:  source,
		nav:     nav,
		timeout: opts.InitTimeout,
		logger:  logger,
	}
}

type sessionResult struct {
	sess *model.AuthSession
	err  error
}

// Start は現在のセッションを1回だけ問い合わせ、結果に応じて遷移を判断する。
// 問い合わせがタイムアウトまでに終わらない場合は未認証として扱い、遅れて届いた結果は
// その間にセッションが変わっていなければ反映する。
// 初回の反映より前に購読するため、その後のセッション変更はすべて同じ判断を通る。
func (g *Guard) Start(ctx context.Context) error {
	queryCtx, cancel := context.WithCancel(context.Background())
	g.mu.Lock()
	if g.stopped {
		g.mu.Unlock()
		cancel()
		return nil
	}
	g.cancel = cancel
	g.unsubscribe = g.store.Subscribe(func(Event, *model.AuthSession) {
		g.evaluate()
	})
	unsubscribe := g.unsubscribe
	g.mu.Unlock()

	results := make(chan sessionResult, 1)
	go func() {
		sess, err := g.source.GetSession(queryCtx)
		results <- sessionResult{sess: sess, err: err}
	}()

	timer := time.NewTimer(g.timeout)
	defer timer.Stop()

	select {
	case res := <-results:
		g.store.Set(EventInitialSession, g.resolve(res))
	case <-timer.C:
		g.logger.Warn("initial session check timed out",
			slog.Duration("timeout", g.timeout),
		)
		version := g.store.Set(EventInitialSession, nil)
		go g.applyLate(queryCtx, version, results)
	case <-ctx.Done():
		cancel()
		unsubscribe()
		return ctx.Err()
	}
	return nil
}

func (g *Guard) applyLate(ctx context.Context, version uint64, results <-chan sessionResult) {
	select {
	case res := <-results:
		sess := g.resolve(res)
		if sess == nil {
			return
		}
		if g.store.CompareAndSet(version, EventInitialSession, sess) {
			g.logger.Info("late initial session applied", slog.String("user_id", sess.UserID))
		}
	case <-ctx.Done():
	}
}

func (g *Guard) resolve(res sessionResult) *model.AuthSession {
	if res.err != nil {
		g.logger.Warn("failed to get session", slog.String("error", res.err.Error()))
		return nil
	}
	return res.sess
}

func (g *Guard) evaluate() {
	g.mu.Lock()
	stopped := g.stopped
	g.mu.Unlock()
	if stopped {
		return
	}

	state := g.store.State()
	location := g.nav.Location()
	if target, ok := Decide(state, location); ok {
		g.logger.Info("redirecting",
			slog.String("state", state.String()),
			slog.String("from", location),
			slog.String("to", target),
		)
		g.nav.Navigate(target)
	}
}

// Stop はセッション変更の購読を解除する。何度呼んでも、Startの前に呼んでも安全。
func (g *Guard) Stop() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.stopped {
		return
	}
	g.stopped = true
	if g.cancel != nil {
		g.cancel()
	}
	if g.unsubscribe != nil {
		g.unsubscribe()
	}
}
