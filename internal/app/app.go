package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/hitoshi/trinket/internal/auth"
	"github.com/hitoshi/trinket/internal/config"
	"github.com/hitoshi/trinket/internal/database"
	"github.com/hitoshi/trinket/internal/handler"
	"github.com/hitoshi/trinket/internal/inventory"
	"github.com/hitoshi/trinket/internal/kvstore"
	"github.com/hitoshi/trinket/internal/logger"
	"github.com/hitoshi/trinket/internal/metrics"
	"github.com/hitoshi/trinket/internal/middleware"
	"github.com/hitoshi/trinket/internal/model"
	"github.com/hitoshi/trinket/internal/realtime"
	"github.com/hitoshi/trinket/internal/recent"
	"github.com/hitoshi/trinket/internal/repository"
	"github.com/hitoshi/trinket/internal/security"
	"github.com/hitoshi/trinket/internal/session"
	"github.com/hitoshi/trinket/internal/storage"
	"github.com/hitoshi/trinket/internal/user"
	"github.com/hitoshi/trinket/internal/worker/cleanup"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"
)

const (
	// localKeyPrefix はRedisを端末ストアに使う場合のキー接頭辞。
	localKeyPrefix = "trinket:"
	dbPingTimeout  = 5 * time.Second
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
		slog.String("local_store", cfg.LocalStore),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case CommandWorker:
		return runWorker(ctx, cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	case CommandCheck:
		return runCheck(ctx, cfg)
	case CommandSeed:
		return runSeed(ctx, cfg, SeedEmail(args))
	default:
		return runServe(ctx, cfg)
	}
}

// openDatabase はDB接続を開き、疎通を確認する。
func openDatabase(ctx context.Context, cfg *config.Config) (*sql.DB, error) {
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := database.Ping(ctx, db, dbPingTimeout); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	slog.Info("database connection established")
	return db, nil
}

// backend はバックエンドのリポジトリと認証サービスをまとめたもの。
type backend struct {
	users     *repository.PostgresUserRepo
	sessions  *repository.PostgresSessionRepo
	items     *repository.PostgresItemRepo
	events    *repository.PostgresEventRepo
	locations *repository.PostgresLocationRepo
	auth      *auth.Service
}

func newBackend(db *sql.DB, cfg *config.Config) (*backend, error) {
	b := &backend{
		users:     repository.NewPostgresUserRepo(db),
		sessions:  repository.NewPostgresSessionRepo(db),
		items:     repository.NewPostgresItemRepo(db),
		events:    repository.NewPostgresEventRepo(db),
		locations: repository.NewPostgresLocationRepo(db),
	}

	tokens, err := auth.NewTokenService(cfg.JWTSecret, cfg.AccessTokenTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to create token service: %w", err)
	}

	// Googleログインは3項目すべて設定された場合のみ有効にする
	var oauth auth.OAuthProvider
	if cfg.GoogleOAuthEnabled() {
		oauth = auth.NewGoogleOAuthProvider(auth.GoogleOAuthConfig{
			ClientID:     cfg.GoogleClientID,
			ClientSecret: cfg.GoogleClientSecret,
			RedirectURL:  cfg.GoogleRedirectURL,
		})
	}

	b.auth = auth.NewService(auth.Deps{
		OAuth:      oauth,
		Users:      b.users,
		Identities: repository.NewPostgresIdentityRepo(db),
		Sessions:   b.sessions,
		Resets:     repository.NewPostgresPasswordResetRepo(db),
		Tokens:     tokens,
		Mailer:     auth.NewLogMailer(logger.Component(nil, "mailer")),
	}, auth.ServiceConfig{
		RefreshTokenTTL:  cfg.RefreshTokenTTL,
		PasswordResetTTL: cfg.PasswordResetTTL,
		ResetURL:         cfg.BaseURL + handler.ScreenPrefix + "/auth/reset",
	})
	return b, nil
}

// runServe は端末のアプリコアとして起動する。
// DB接続と端末ストアを開き、保存済みセッションを復元してからHTTPサーバーを起動する。
// ctxが終了するとグレースフルシャットダウンを行う。
func runServe(ctx context.Context, cfg *config.Config) error {
	// 1. DB接続
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	// 2. 端末ローカルストア
	local, closer, err := kvstore.Open(kvstore.Options{
		Kind:       cfg.LocalStore,
		SQLitePath: cfg.LocalStorePath,
		RedisURL:   cfg.RedisURL,
		KeyPrefix:  localKeyPrefix,
	})
	if err != nil {
		return fmt.Errorf("failed to open local store: %w", err)
	}
	defer closer.Close()

	// 3. メトリクス
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	// 4. バックエンド
	be, err := newBackend(db, cfg)
	if err != nil {
		return err
	}

	// 5. セッションとガード
	sessions := session.NewStore()
	nav := session.NewNavigation(session.LoginRoute)
	client := auth.NewClient(be.auth, local, sessions, auth.ClientOptions{
		RefreshMargin: cfg.TokenRefreshMargin,
		Logger:        logger.Component(nil, "auth_client"),
	})
	guard := session.NewGuard(sessions, client, nav, session.GuardOptions{
		InitTimeout: cfg.SessionInitTimeout,
		Logger:      logger.Component(nil, "session_guard"),
	})
	defer guard.Stop()
	go client.AutoRefresh(ctx)

	// 6. ドメインサービス
	sanitizer := security.NewTextSanitizer()
	submitGuard := inventory.NewSubmitGuard()
	tracker := recent.NewTracker(local, logger.Component(nil, "recent"), collector)
	profileService := inventory.NewProfileService(be.auth, client, sanitizer, submitGuard, slog.Default())
	itemService := inventory.NewItemService(be.items, be.locations, profileService, sanitizer, submitGuard, slog.Default())
	eventService := inventory.NewEventService(be.events, sanitizer, submitGuard, slog.Default())
	userService := user.NewService(be.users, be.sessions, tracker)

	bucket, err := storage.NewLocalBucket(cfg.StorageDir, cfg.StorageBucket, cfg.BaseURL)
	if err != nil {
		return err
	}
	importer := storage.NewImporter(bucket, security.NewSSRFGuard(), storage.ImporterOptions{
		MaxSize: cfg.ImageMaxSize,
		Timeout: cfg.ImageFetchTimeout,
		Metrics: collector,
		Logger:  logger.Component(nil, "storage"),
	})

	feed := realtime.NewPostgresFeed(cfg.DatabaseURL, realtime.FeedOptions{
		MinReconnect: cfg.FeedMinReconnect,
		MaxReconnect: cfg.FeedMaxReconnect,
		Logger:       logger.Component(nil, "realtime"),
	})

	// 7. ルーターの構築
	rateLimiterCfg := middleware.DefaultRateLimiterConfig()
	// configのRateLimitGeneralはreq/min単位なのでreq/secに変換する
	if cfg.RateLimitGeneral > 0 {
		rateLimiterCfg.GeneralRate = rate.Limit(float64(cfg.RateLimitGeneral) / 60.0)
		rateLimiterCfg.GeneralBurst = cfg.RateLimitGeneral
	}
	rateLimiter := middleware.NewRateLimiter(rateLimiterCfg)
	defer rateLimiter.Stop()

	cookieSecure := strings.HasPrefix(cfg.BaseURL, "https://")
	router := handler.NewRouter(&handler.RouterDeps{
		Sessions:          client,
		GuardState:        sessions,
		Navigation:        nav,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		CSRF:              middleware.CSRFConfig{CookieSecure: cookieSecure},
		RateLimiter:       rateLimiter,
		Logger:            slog.Default(),

		HealthChecker:  db,
		MetricsHandler: metrics.Handler(registry),
		Metrics:        collector,

		SessionClient: client,
		Recovery:      be.auth,
		AuthConfig: handler.AuthHandlerConfig{
			BaseURL:      cfg.BaseURL,
			CookieSecure: cookieSecure,
		},

		ItemService:    itemService,
		EventService:   eventService,
		ProfileService: profileService,
		Recent:         tracker,
		Feeds:          func(userID string) realtime.Feed { return feed.WithScope(userID) },

		Importer: importer,
		Objects:  bucket,

		UserService: userService,
	})

	// 8. HTTPサーバーの起動
	// ライブ画面のSSEは接続ごとに書き込み期限を解除する
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("app core listening", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	// 初回のセッション確認中も画面ルートは初期化中として応答する
	startSessionGuard(ctx, guard)

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server listen error: %w", err)
		}
	case <-ctx.Done():
	}

	slog.Info("shutting down app core...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("app core stopped gracefully")
	return nil
}

// startSessionGuard は初回のセッション確認をバックグラウンドで始め、終わると閉じるチャネルを返す。
// 確認が終わるまでsession.Storeは初期化中のままで、画面ルートは503を返す。
func startSessionGuard(ctx context.Context, guard *session.Guard) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := guard.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Warn("session guard did not start", slog.String("error", err.Error()))
		}
	}()
	return done
}

// runWorker はワーカーモードで起動する。
// 期限切れのセッションとパスワード再設定トークンをCleanupIntervalごとに削除する。
// ctxが終了するとシャットダウンする。
func runWorker(ctx context.Context, cfg *config.Config) error {
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	job := cleanup.NewCleanupJob([]cleanup.Target{
		{Kind: "sessions", Sweeper: repository.NewPostgresSessionRepo(db)},
		{Kind: "password_resets", Sweeper: repository.NewPostgresPasswordResetRepo(db)},
	}, nil, logger.Component(nil, "cleanup"))

	slog.Info("worker starting", slog.Duration("cleanup_interval", cfg.CleanupInterval))
	job.Start(ctx, cfg.CleanupInterval)

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runCheck はバックエンドへの接続を確認する。
// DBへの疎通、登録件数の取得、変更通知チャネルのLISTENとUNLISTENを順に行う。
func runCheck(ctx context.Context, cfg *config.Config) error {
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	users, err := repository.NewPostgresUserRepo(db).Count(ctx)
	if err != nil {
		return fmt.Errorf("failed to count users: %w", err)
	}
	items, err := repository.NewPostgresItemRepo(db).Count(ctx)
	if err != nil {
		return fmt.Errorf("failed to count items: %w", err)
	}
	slog.Info("backend data reachable", slog.Int("users", users), slog.Int("items", items))

	feed := realtime.NewPostgresFeed(cfg.DatabaseURL, realtime.FeedOptions{
		MinReconnect: cfg.FeedMinReconnect,
		MaxReconnect: cfg.FeedMaxReconnect,
	})
	sub, err := feed.Subscribe(ctx, "items")
	if err != nil {
		return fmt.Errorf("failed to listen for item changes: %w", err)
	}
	if err := sub.Close(); err != nil {
		return fmt.Errorf("failed to stop listening for item changes: %w", err)
	}
	slog.Info("change feed reachable", slog.String("channel", realtime.ChannelName("items")))
	return nil
}

// runSeed は指定メールアドレスのユーザーにテスト用の所持品を1件登録する。
// 全項目での登録に失敗した場合は名前だけの最小構成で再試行する。
func runSeed(ctx context.Context, cfg *config.Config, email string) error {
	if email == "" {
		return errors.New("seed requires a user email: trinket seed <email>")
	}

	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	u, err := repository.NewPostgresUserRepo(db).FindByEmail(ctx, email)
	if err != nil {
		return fmt.Errorf("failed to find user: %w", err)
	}
	if u == nil {
		return fmt.Errorf("no user registered with email %s", email)
	}

	items := inventory.NewItemService(repository.NewPostgresItemRepo(db), nil, nil, nil, nil, slog.Default())
	value := 150.0
	item, err := items.Create(ctx, u.ID, model.ItemInput{
		Title:             "Test Item",
		Category:          "other",
		Description:       "Inserted by the seed command",
		Tags:              []string{"test", "sample"},
		EstimatedValue:    &value,
		AcquisitionMethod: "Purchased",
		Location:          "Living room",
	})
	if err != nil {
		slog.Warn("full seed payload rejected, retrying with minimal payload",
			slog.String("error", err.Error()),
		)
		item, err = items.Create(ctx, u.ID, model.ItemInput{Title: "Test Item"})
		if err != nil {
			return fmt.Errorf("failed to insert test item: %w", err)
		}
	}

	slog.Info("test item inserted",
		slog.String("item_id", item.ID),
		slog.String("user_id", u.ID),
	)
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
