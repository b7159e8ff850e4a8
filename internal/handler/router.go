package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/trinket/internal/middleware"
	"github.com/hitoshi/trinket/internal/session"
	"github.com/hitoshi/trinket/internal/storage"
)

// HealthChecker はバックエンドへの疎通を確認する。*sql.DBが実装する。
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// GuardState はセッション状態と現在のユーザーIDを返す。session.Storeが実装する。
type GuardState interface {
	middleware.StateReader
	UserIDReader
}

// Navigator は画面の現在地の報告と遷移の配信を行う。session.Navigationが実装する。
type Navigator interface {
	middleware.LocationReporter
	RedirectStream
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Sessions          session.SessionSource
	GuardState        GuardState
	Navigation        Navigator
	CORSAllowedOrigin string
	CSRF              middleware.CSRFConfig
	RateLimiter       *middleware.RateLimiter
	Logger            *slog.Logger

	// 公開エンドポイント
	HealthChecker  HealthChecker
	MetricsHandler http.Handler
	Metrics        RouterMetrics

	// 認証
	SessionClient SessionClient
	Recovery      AccountRecovery
	AuthConfig    AuthHandlerConfig

	// 在庫
	ItemService    LiveItemService
	EventService   LiveEventService
	ProfileService ProfileServiceInterface
	Recent         RecentTracker
	Feeds          FeedFactory

	// 画像
	Importer ImageImporter
	Objects  ObjectReader

	// アカウント
	UserService UserServiceInterface
}

// RouterMetrics はHTTPと画面の接続を記録するメトリクス。metrics.Collectorが実装する。
type RouterMetrics interface {
	middleware.RequestRecorder
	ScreenMetrics
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → Logging → SecurityHeaders → CORS → Metrics
//
// /api はさらに CSRF を通り、認証が必要なルートは Session → RateLimit(General) を通る。
// /screens の各画面はセッションガードを通る。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(middleware.NewRecoveryMiddleware(logger))
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewSecurityHeadersMiddleware(storage.PublicPathPrefix))
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	if deps.Metrics != nil {
		r.Use(middleware.NewMetricsMiddleware(deps.Metrics))
	}

	authHandler := NewAuthHandler(deps.SessionClient, deps.Recovery, deps.AuthConfig)
	itemHandler := NewItemHandler(deps.ItemService)
	eventHandler := NewEventHandler(deps.EventService)
	profileHandler := NewProfileHandler(deps.ProfileService)
	recentHandler := NewRecentHandler(deps.Recent)
	uploadHandler := NewUploadHandler(deps.Importer, deps.Objects)
	accountHandler := NewAccountHandler(deps.UserService, deps.SessionClient)
	var screenMetrics ScreenMetrics
	if deps.Metrics != nil {
		screenMetrics = deps.Metrics
	}
	screenHandler := NewScreenHandler(ScreenDeps{
		Sessions:     deps.GuardState,
		Items:        deps.ItemService,
		Events:       deps.EventService,
		Profile:      deps.ProfileService,
		Recent:       deps.Recent,
		Feeds:        deps.Feeds,
		Nav:          deps.Navigation,
		Metrics:      screenMetrics,
		Logger:       logger,
		OAuthEnabled: deps.Recovery.OAuthEnabled,
	})

	// --- 公開エンドポイント ---
	r.Get("/health", healthHandler(deps.HealthChecker))
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}
	if deps.Objects != nil {
		r.Get(storage.PublicPathPrefix+"{bucket}/*", uploadHandler.ServeObject)
		r.Head(storage.PublicPathPrefix+"{bucket}/*", uploadHandler.ServeObject)
	}

	// トークン発行はCSRFミドルウェアを通さない
	r.Method(http.MethodGet, "/api/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRF))

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.NewCSRFMiddleware(deps.CSRF))

		// 認証ルート（セッション不要）
		r.Route("/auth", func(r chi.Router) {
			r.Post("/signup", authHandler.SignUp)
			r.Post("/login", authHandler.Login)
			r.Post("/logout", authHandler.Logout)
			r.Post("/refresh", authHandler.Refresh)
			r.Post("/forgot", authHandler.Forgot)
			r.Post("/reset", authHandler.Reset)
			r.Get("/session", authHandler.Session)
			r.Get("/google/login", authHandler.GoogleLogin)
			r.Get("/google/callback", authHandler.GoogleCallback)
		})

		// --- 認証が必要なルート ---
		// ミドルウェアスタック: Session → RateLimit(General)
		r.Group(func(r chi.Router) {
			r.Use(middleware.NewSessionMiddleware(deps.Sessions))
			r.Use(deps.RateLimiter.GeneralMiddleware())

			r.Route("/items", func(r chi.Router) {
				r.Get("/", itemHandler.ListItems)
				r.Post("/", itemHandler.CreateItem)
				r.Get("/options", itemHandler.FormOptions)
				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", itemHandler.GetItem)
					r.Patch("/", itemHandler.UpdateItem)
					r.Delete("/", itemHandler.DeleteItem)
				})
			})

			r.Route("/events", func(r chi.Router) {
				r.Get("/", eventHandler.ListEvents)
				r.Post("/", eventHandler.CreateEvent)
				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", eventHandler.GetEvent)
					r.Patch("/", eventHandler.UpdateEvent)
					r.Delete("/", eventHandler.DeleteEvent)
				})
			})

			r.Route("/profile", func(r chi.Router) {
				r.Get("/", profileHandler.GetProfile)
				r.Put("/", profileHandler.SaveProfile)
				r.Put("/plan", profileHandler.ChangePlan)
				r.Post("/people", profileHandler.AddPerson)
				r.Delete("/people/{index}", profileHandler.RemovePerson)
				r.Post("/onboarding", profileHandler.CompleteOnboarding)
			})

			r.Get("/recent", recentHandler.ListRecent)
			r.Delete("/recent", recentHandler.ClearRecent)

			// 画像アップロード（アップロード専用レート制限を追加）
			r.Route("/uploads", func(r chi.Router) {
				r.Use(deps.RateLimiter.UploadMiddleware())
				r.Post("/", uploadHandler.Upload)
				r.Post("/import", uploadHandler.Import)
			})

			r.Delete("/account", accountHandler.Withdraw)
		})
	})

	r.Route(ScreenPrefix, func(r chi.Router) {
		// 遷移の配信はガードの状態に関係なく接続できる
		r.Get("/navigation", screenHandler.Navigation)

		r.Group(func(r chi.Router) {
			r.Use(middleware.NewScreenGuardMiddleware(ScreenPrefix, deps.GuardState, deps.Navigation))

			r.Get("/auth/{screen}", screenHandler.AuthScreen)
			r.Route("/tabs", func(r chi.Router) {
				r.Get("/home", screenHandler.Home)
				r.Get("/items", screenHandler.Items)
				r.Get("/items/live", screenHandler.LiveItems)
				r.Get("/items/{id}", screenHandler.ItemDetail)
				r.Get("/events", screenHandler.Events)
				r.Get("/events/live", screenHandler.LiveEvents)
				r.Get("/account", screenHandler.Account)
				r.Get("/add", screenHandler.Add)
			})
		})
	})

	return r
}

// healthHandler はバックエンドに疎通できれば200を返す。
func healthHandler(checker HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if checker != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := checker.PingContext(ctx); err != nil {
				slog.Warn("health check failed", slog.String("error", err.Error()))
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
