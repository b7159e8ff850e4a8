package realtime

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/lib/pq"
)

// ChannelPrefix はテーブルごとのNOTIFYチャネル名の接頭辞。
// トリガー関数notify_realtime_change()と同じ名前を使う。
const ChannelPrefix = "realtime_"

// ChannelName はテーブルの変更通知チャネル名を返す。
func ChannelName(table string) string {
	return ChannelPrefix + table
}

// notificationListener はpq.Listenerのうち使用するメソッドを抜き出したインターフェース。
type notificationListener interface {
	Listen(channel string) error
	NotificationChannel() <-chan *pq.Notification
	Close() error
}

// FeedOptions はPostgresFeedの設定。
type FeedOptions struct {
	MinReconnect time.Duration
	MaxReconnect time.Duration
	Logger       *slog.Logger
}

// PostgresFeed はPostgreSQLのLISTEN/NOTIFYで変更通知を受け取るFeed実装。
// 購読ごとに1本のpq.Listener接続を開く。
type PostgresFeed struct {
	dsn    string
	opts   FeedOptions
	scope  string
	logger *slog.Logger

	newListener func(dsn string, min, max time.Duration, cb pq.EventCallbackType) notificationListener
}

// NewPostgresFeed は新しいPostgresFeedを生成する。
func NewPostgresFeed(dsn string, opts FeedOptions) *PostgresFeed {
	if opts.MinReconnect <= 0 {
		opts.MinReconnect = time.Second
	}
	if opts.MaxReconnect < opts.MinReconnect {
		opts.MaxReconnect = 30 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresFeed{
		dsn:    dsn,
		opts:   opts,
		logger: logger,
		newListener: func(dsn string, min, max time.Duration, cb pq.EventCallbackType) notificationListener {
			return pq.NewListener(dsn, min, max, cb)
		},
	}
}

// WithScope は指定ユーザーのレコードの通知だけを流すFeedを返す。
func (f *PostgresFeed) WithScope(userID string) *PostgresFeed {
	scoped := *f
	scoped.scope = userID
	return &scoped
}

// Subscribe はテーブルのチャネルをLISTENし、通知をChangeとして流す。
func (f *PostgresFeed) Subscribe(ctx context.Context, table string) (Subscription, error) {
	channel := ChannelName(table)
	logger := f.logger.With(slog.String("channel", channel))

	l := f.newListener(f.dsn, f.opts.MinReconnect, f.opts.MaxReconnect, func(ev pq.ListenerEventType, err error) {
		switch ev {
		case pq.ListenerEventConnectionAttemptFailed:
			logger.Warn("feed connection attempt failed", slog.Any("error", err))
		case pq.ListenerEventDisconnected:
			logger.Warn("feed disconnected", slog.Any("error", err))
		case pq.ListenerEventReconnected:
			logger.Info("feed reconnected")
		}
	})

	if err := l.Listen(channel); err != nil {
		l.Close()
		return nil, fmt.Errorf("listening on %s: %w", channel, err)
	}

	sub := &pgSubscription{
		listener: l,
		table:    table,
		scope:    f.scope,
		out:      make(chan Change, 16),
		done:     make(chan struct{}),
		logger:   logger,
	}
	go sub.run()
	logger.Debug("feed subscribed")
	return sub, nil
}

type pgSubscription struct {
	listener notificationListener
	table    string
	scope    string
	out      chan Change
	done     chan struct{}
	logger   *slog.Logger

	closeOnce sync.Once
	closeErr  error
}

func (s *pgSubscription) Changes() <-chan Change { return s.out }

func (s *pgSubscription) run() {
	defer close(s.out)
	notifications := s.listener.NotificationChannel()
	for {
		select {
		case <-s.done:
			return
		case n, ok := <-notifications:
			if !ok {
				return
			}
			c, deliver := s.translate(n)
			if !deliver {
				continue
			}
			select {
			case s.out <- c:
			case <-s.done:
				return
			}
		}
	}
}

// translate はNOTIFYをChangeに変換する。他ユーザーのレコードの通知は捨てる。
// 再接続直後に届くnilは、切断中の通知を取りこぼした可能性があるため再読み込みを要求する。
func (s *pgSubscription) translate(n *pq.Notification) (Change, bool) {
	if n == nil {
		return UnknownChange(s.table), true
	}
	c := ParseChange([]byte(n.Extra))
	if c.Table == "" {
		c.Table = s.table
	}
	if c.Kind() == KindUnknown {
		return c, true
	}
	if s.scope != "" && c.UserID != "" && c.UserID != s.scope {
		return c, false
	}
	return c, true
}

// Close はLISTEN接続を閉じる。2回目以降は最初の結果を返す。
func (s *pgSubscription) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		s.closeErr = s.listener.Close()
	})
	return s.closeErr
}
