package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/trinket/internal/kvstore"
	"github.com/hitoshi/trinket/internal/model"
	"github.com/hitoshi/trinket/internal/session"
)

// SessionStorageKey は端末ローカルストアに認証セッションを保存するキー。
const SessionStorageKey = "trinket_auth_session"

// Backend は端末からセッションを取得・更新するためのバックエンド操作。
// *Serviceが実装する。
type Backend interface {
	SignUp(ctx context.Context, email, password string) (*model.AuthSession, error)
	SignInWithPassword(ctx context.Context, email, password string) (*model.AuthSession, error)
	HandleOAuthCallback(ctx context.Context, code string) (*model.AuthSession, error)
	Refresh(ctx context.Context, refreshToken string) (*model.AuthSession, error)
	SignOut(ctx context.Context, refreshToken string) error
}

// ClientOptions はClientの設定。
type ClientOptions struct {
	// RefreshMargin はアクセストークンの期限切れ前に更新を始める余裕。
	RefreshMargin time.Duration
	// RetryDelay は更新に一時的に失敗した場合の再試行間隔。
	RetryDelay time.Duration
	Logger     *slog.Logger
}

// Client は端末側の認証クライアント。
// セッションをローカルストアに永続化し、変更をsession.Storeに通知する。
type Client struct {
	backend  Backend
	store    kvstore.Store
	sessions *session.Store
	margin   time.Duration
	retry    time.Duration
	logger   *slog.Logger
	now      func() time.Time

	// refreshMu はリフレッシュトークンの使用を1つずつに限る。トークンは1回しか使えない。
	refreshMu sync.Mutex
}

// NewClient はClientを生成する。
func NewClient(backend Backend, store kvstore.Store, sessions *session.Store, opts ClientOptions) *Client {
	if opts.RefreshMargin <= 0 {
		opts.RefreshMargin = time.Minute
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 30 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		backend:  backend,
		store:    store,
		sessions: sessions,
		margin:   opts.RefreshMargin,
		retry:    opts.RetryDelay,
		logger:   logger,
		now:      time.Now,
	}
}

// SignUp はアカウントを作成してサインイン状態にする。
func (c *Client) SignUp(ctx context.Context, email, password string) (*model.AuthSession, error) {
	sess, err := c.backend.SignUp(ctx, email, password)
	if err != nil {
		return nil, err
	}
	return sess, c.signedIn(ctx, sess)
}

// SignIn はメールアドレスとパスワードでサインインする。
func (c *Client) SignIn(ctx context.Context, email, password string) (*model.AuthSession, error) {
	sess, err := c.backend.SignInWithPassword(ctx, email, password)
	if err != nil {
		return nil, err
	}
	return sess, c.signedIn(ctx, sess)
}

// CompleteOAuth はOAuthコールバックの認可コードでサインインする。
func (c *Client) CompleteOAuth(ctx context.Context, code string) (*model.AuthSession, error) {
	sess, err := c.backend.HandleOAuthCallback(ctx, code)
	if err != nil {
		return nil, err
	}
	return sess, c.signedIn(ctx, sess)
}

// SignOut はサインアウトする。バックエンドでの破棄に失敗しても端末のセッションは消す。
func (c *Client) SignOut(ctx context.Context) error {
	if sess := c.sessions.Session(); sess != nil {
		if err := c.backend.SignOut(ctx, sess.RefreshToken); err != nil {
			c.logger.Warn("failed to revoke session on backend", slog.String("error", err.Error()))
		}
	}
	err := c.store.Remove(ctx, SessionStorageKey)
	c.sessions.Set(session.EventSignedOut, nil)
	if err != nil {
		return fmt.Errorf("failed to clear stored session: %w", err)
	}
	return nil
}

// UserUpdated はアカウント情報の更新をsession.Storeの購読者に通知する。
func (c *Client) UserUpdated() {
	if sess := c.sessions.Session(); sess != nil {
		c.sessions.Set(session.EventUserUpdated, sess)
	}
}

// GetSession は現在のセッションを返す。session.SessionSourceを実装する。
// 起動直後でsession.Storeにまだ反映されていなければローカルストアから復元する。
// アクセストークンが期限切れ間近なら更新してから返し、更新できないセッションは破棄してnilを返す。
// ネットワーク障害など一時的な失敗はエラーとして返す。
func (c *Client) GetSession(ctx context.Context) (*model.AuthSession, error) {
	sess := c.sessions.Session()
	if sess == nil {
		if c.sessions.State() == session.StateUnauthenticated {
			return nil, nil
		}
		loaded, err := c.load(ctx)
		if err != nil || loaded == nil {
			return nil, err
		}
		sess = loaded
	}
	if !sess.Expired(c.now(), c.margin) {
		return sess, nil
	}

	refreshed, err := c.refresh(ctx, sess)
	if err != nil {
		return nil, fmt.Errorf("failed to refresh stored session: %w", err)
	}
	return refreshed, nil
}

// AutoRefresh はctxがキャンセルされるまで、期限切れ前にアクセストークンを更新し続ける。
// 更新に成功するとTOKEN_REFRESHED、セッションが無効になっていればSIGNED_OUTを通知する。
func (c *Client) AutoRefresh(ctx context.Context) {
	wake := make(chan struct{}, 1)
	unsubscribe := c.sessions.Subscribe(func(session.Event, *model.AuthSession) {
		select {
		case wake <- struct{}{}:
		default:
		}
	})
	defer unsubscribe()

	var backoff time.Duration
	for {
		var timer *time.Timer
		var fire <-chan time.Time
		if sess := c.sessions.Session(); sess != nil {
			wait := sess.ExpiresAt.Add(-c.margin).Sub(c.now())
			if wait < backoff {
				wait = backoff
			}
			timer = time.NewTimer(wait)
			fire = timer.C
		}

		select {
		case <-ctx.Done():
			stopTimer(timer)
			return
		case <-wake:
			stopTimer(timer)
			backoff = 0
		case <-fire:
			if err := c.refreshNow(ctx); err != nil {
				c.logger.Warn("token refresh failed, retrying",
					slog.String("error", err.Error()),
					slog.Duration("retry_in", c.retry),
				)
				backoff = c.retry
			} else {
				backoff = 0
			}
		}
	}
}

// Refresh は現在のセッションを即座に更新し、更新後のセッションを返す。
// セッションが無効になっていた場合はサインアウトしてnilを返す。
func (c *Client) Refresh(ctx context.Context) (*model.AuthSession, error) {
	if err := c.refreshNow(ctx); err != nil {
		return nil, fmt.Errorf("failed to refresh session: %w", err)
	}
	return c.sessions.Session(), nil
}

// refreshNow は現在のセッションを更新する。
// 認証エラー以外の失敗はそのまま返し、セッションは保持する。
func (c *Client) refreshNow(ctx context.Context) error {
	sess := c.sessions.Session()
	if sess == nil {
		return nil
	}
	_, err := c.refresh(ctx, sess)
	return err
}

// refresh はstaleのリフレッシュトークンでセッションを更新する。
// 待っている間に別の呼び出しが更新を済ませていれば、バックエンドを呼ばずにその結果を返す。
// session.Storeがstaleを保持していれば更新結果をTOKEN_REFRESHEDで通知する。
// 保持していない起動直後の復元では通知せず、INITIAL_SESSIONの反映をGuardに任せる。
// セッションが無効になっていた場合はローカルストアから消してnilを返す。
func (c *Client) refresh(ctx context.Context, stale *model.AuthSession) (*model.AuthSession, error) {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	current := c.sessions.Session()
	published := current != nil && current.RefreshToken == stale.RefreshToken
	if current == nil {
		loaded, err := c.load(ctx)
		if err != nil {
			return nil, err
		}
		current = loaded
	}
	if current != nil && current.RefreshToken != stale.RefreshToken {
		return current, nil
	}

	refreshed, err := c.backend.Refresh(ctx, stale.RefreshToken)
	if err != nil {
		if !isAuthError(err) {
			return nil, err
		}
		c.logger.Info("session expired, signing out",
			slog.String("user_id", stale.UserID),
			slog.String("error", err.Error()),
		)
		c.discard(ctx)
		if published {
			c.sessions.Set(session.EventSignedOut, nil)
		}
		return nil, nil
	}
	if err := c.save(ctx, refreshed); err != nil {
		c.logger.Warn("failed to persist refreshed session", slog.String("error", err.Error()))
	}
	if published {
		c.sessions.Set(session.EventTokenRefreshed, refreshed)
	}
	return refreshed, nil
}

func (c *Client) signedIn(ctx context.Context, sess *model.AuthSession) error {
	c.sessions.Set(session.EventSignedIn, sess)
	if err := c.save(ctx, sess); err != nil {
		return fmt.Errorf("failed to persist session: %w", err)
	}
	return nil
}

func (c *Client) load(ctx context.Context) (*model.AuthSession, error) {
	data, err := c.store.Get(ctx, SessionStorageKey)
	if errors.Is(err, kvstore.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read stored session: %w", err)
	}

	var sess model.AuthSession
	if err := json.Unmarshal(data, &sess); err != nil || sess.RefreshToken == "" || sess.UserID == "" {
		c.logger.Warn("discarding unreadable stored session")
		c.discard(ctx)
		return nil, nil
	}
	return &sess, nil
}

func (c *Client) save(ctx context.Context, sess *model.AuthSession) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return err
	}
	return c.store.Set(ctx, SessionStorageKey, data)
}

func (c *Client) discard(ctx context.Context) {
	if err := c.store.Remove(ctx, SessionStorageKey); err != nil {
		c.logger.Warn("failed to remove stored session", slog.String("error", err.Error()))
	}
}

// isAuthError はセッションが無効であることを示すエラーかを返す。
func isAuthError(err error) bool {
	apiErr, ok := model.AsAPIError(err)
	return ok && apiErr.Category == model.CategoryAuth
}

func stopTimer(t *time.Timer) {
	if t != nil {
		t.Stop()
	}
}

var _ session.SessionSource = (*Client)(nil)
var _ Backend = (*Service)(nil)
