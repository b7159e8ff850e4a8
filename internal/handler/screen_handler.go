package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/trinket/internal/middleware"
	"github.com/hitoshi/trinket/internal/model"
	"github.com/hitoshi/trinket/internal/realtime"
)

// ScreenPrefix は画面ルートのURLパス接頭辞。
const ScreenPrefix = "/screens"

// LiveItemService は一覧のリアルタイム同期に使う取得元も提供する所持品サービス。
type LiveItemService interface {
	ItemServiceInterface
	Source(userID string) realtime.Source[model.ItemListEntry]
}

// LiveEventService は一覧のリアルタイム同期に使う取得元も提供する出来事サービス。
type LiveEventService interface {
	EventServiceInterface
	Source(userID string) realtime.Source[model.Event]
}

// FeedFactory はユーザーの行だけを通知する変更フィードを返す。
type FeedFactory func(userID string) realtime.Feed

// UserIDReader はプロセス全体のセッションのユーザーIDを返す。session.Storeが実装する。
type UserIDReader interface {
	UserID() string
}

// RedirectStream はガードが決めた遷移を配信する。session.Navigationが実装する。
type RedirectStream interface {
	Redirects() (<-chan string, func())
}

// ScreenMetrics は画面のリアルタイム接続を記録するメトリクス。
type ScreenMetrics interface {
	realtime.Metrics
	LiveStreamOpened()
	LiveStreamClosed()
}

// ScreenDeps はScreenHandlerの依存関係。
type ScreenDeps struct {
	Sessions UserIDReader
	Items    LiveItemService
	Events   LiveEventService
	Profile  ProfileServiceInterface
	Recent   RecentTracker
	Feeds    FeedFactory
	Nav      RedirectStream
	Metrics  ScreenMetrics
	Logger   *slog.Logger
	// OAuthEnabled はログイン画面にGoogleログインを表示するかを返す。
	OAuthEnabled func() bool
}

// ScreenHandler はUIシェルの各画面が表示するデータを返すHTTPハンドラー。
// 画面ルートはセッションガードのミドルウェアを通過した後に呼ばれる。
type ScreenHandler struct {
	deps   ScreenDeps
	logger *slog.Logger
}

// NewScreenHandler はScreenHandlerを生成する。
func NewScreenHandler(deps ScreenDeps) *ScreenHandler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if deps.OAuthEnabled == nil {
		deps.OAuthEnabled = func() bool { return false }
	}
	return &ScreenHandler{deps: deps, logger: logger}
}

// currentUser はセッションのユーザーIDを返す。未認証なら401を書き込む。
func (h *ScreenHandler) currentUser(w http.ResponseWriter) (string, bool) {
	userID := h.deps.Sessions.UserID()
	if userID == "" {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return "", false
	}
	return userID, true
}

// AuthScreen は未認証ユーザー向け画面の表示内容を返す。
// GET /screens/auth/{screen}（login, signup, forgot, reset）
func (h *ScreenHandler) AuthScreen(w http.ResponseWriter, r *http.Request) {
	screen := chi.URLParam(r, "screen")
	switch screen {
	case "login", "signup", "forgot", "reset":
	default:
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"screen":        "auth/" + screen,
		"oauth_enabled": h.deps.OAuthEnabled(),
	})
}

// Home は最近見た所持品を新しい順に返す。削除済みの所持品は読み飛ばす。
// GET /screens/tabs/home
func (h *ScreenHandler) Home(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.currentUser(w)
	if !ok {
		return
	}

	recent := make([]itemDetailResponse, 0)
	for _, id := range h.deps.Recent.Recent(r.Context()) {
		item, err := h.deps.Items.Get(r.Context(), userID, id)
		if err != nil {
			h.logger.Warn("skipping recent item",
				slog.String("item_id", id),
				slog.String("error", err.Error()),
			)
			continue
		}
		recent = append(recent, toItemDetail(item))
	}
	writeJSON(w, http.StatusOK, map[string]any{"recent": recent})
}

// Items は所持品一覧の現在の内容を返す。
// GET /screens/tabs/items
func (h *ScreenHandler) Items(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.currentUser(w)
	if !ok {
		return
	}
	items, err := h.deps.Items.List(r.Context(), userID)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

// ItemDetail は所持品詳細を返し、最近見た一覧に記録する。
// GET /screens/tabs/items/{id}
func (h *ScreenHandler) ItemDetail(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.currentUser(w)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")
	item, err := h.deps.Items.Get(r.Context(), userID, id)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	h.deps.Recent.RecordView(r.Context(), item.ID)
	writeJSON(w, http.StatusOK, toItemDetail(item))
}

// LiveItems は所持品一覧を接続中ずっとリアルタイムに配信する。
// GET /screens/tabs/items/live
func (h *ScreenHandler) LiveItems(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.currentUser(w)
	if !ok {
		return
	}
	streamCollection(h, w, r, liveCollection[model.ItemListEntry]{
		table:  "items",
		label:  "items",
		key:    "items",
		source: h.deps.Items.Source(userID),
		feed:   h.deps.Feeds(userID),
		mode:   realtime.ModeDelta,
	})
}

// Events は出来事一覧の現在の内容を返す。
// GET /screens/tabs/events
func (h *ScreenHandler) Events(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.currentUser(w)
	if !ok {
		return
	}
	events, err := h.deps.Events.List(r.Context(), userID)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

// LiveEvents は出来事一覧を接続中ずっと配信する。通知のたびに全件を取り直す。
// GET /screens/tabs/events/live
func (h *ScreenHandler) LiveEvents(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.currentUser(w)
	if !ok {
		return
	}
	streamCollection(h, w, r, liveCollection[model.Event]{
		table:  "events",
		label:  "events",
		key:    "events",
		source: h.deps.Events.Source(userID),
		feed:   h.deps.Feeds(userID),
		mode:   realtime.ModeReload,
	})
}

// Account はアカウント画面のプロフィールとプランの選択肢を返す。
// GET /screens/tabs/account
func (h *ScreenHandler) Account(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.currentUser(w)
	if !ok {
		return
	}
	profile, err := h.deps.Profile.Get(r.Context(), userID)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"profile": profile,
		"plans":   model.SubscriptionPlans,
	})
}

// Add は登録フォームの選択肢を返す。
// GET /screens/tabs/add
func (h *ScreenHandler) Add(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.currentUser(w)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, h.deps.Items.FormOptions(r.Context(), userID))
}

// Navigation はガードが決めた遷移をSSEで配信する。ガードの状態に関係なく接続できる。
// GET /screens/navigation
func (h *ScreenHandler) Navigation(w http.ResponseWriter, r *http.Request) {
	redirects, stop := h.deps.Nav.Redirects()
	defer stop()

	stream, err := startSSE(w)
	if err != nil {
		h.logger.Error("navigation stream unavailable", slog.String("error", err.Error()))
		return
	}

	keepAlive := time.NewTicker(sseKeepAlive)
	defer keepAlive.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case route := <-redirects:
			if err := stream.event("navigate", map[string]string{"route": ScreenPrefix + route}); err != nil {
				return
			}
		case <-keepAlive.C:
			if err := stream.ping(); err != nil {
				return
			}
		}
	}
}

// liveCollection は1画面分のリアルタイム配信の設定。
type liveCollection[T realtime.Record] struct {
	table  string
	label  string
	key    string
	source realtime.Source[T]
	feed   realtime.Feed
	mode   realtime.Mode
}

// streamCollection は接続の間だけReconcilerを動かし、コレクションが変わるたびにsnapshotイベントを送る。
// 変更通知を購読してから初回の読み込みを行う。読み込みに失敗した場合はerrorイベントを送り、
// 空のコレクションのまま通知の反映を続ける。
func streamCollection[T realtime.Record](h *ScreenHandler, w http.ResponseWriter, r *http.Request, c liveCollection[T]) {
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	rec := realtime.NewReconciler(c.source, c.feed, realtime.Options{
		Table:   c.table,
		Label:   c.label,
		Mode:    c.mode,
		Logger:  h.logger,
		Metrics: h.deps.Metrics,
	})
	defer rec.Unsubscribe()

	stream, err := startSSE(w)
	if err != nil {
		h.logger.Error("live stream unavailable", slog.String("error", err.Error()))
		return
	}
	if h.deps.Metrics != nil {
		h.deps.Metrics.LiveStreamOpened()
		defer h.deps.Metrics.LiveStreamClosed()
	}

	// 送信が追いつかない場合は最新のスナップショットだけを残す
	updates := make(chan []T, 1)
	err = rec.Sync(ctx, func(snapshot []T) {
		select {
		case updates <- snapshot:
		default:
			select {
			case <-updates:
			default:
			}
			updates <- snapshot
		}
	})
	if err != nil {
		if _, loadFailed := model.AsAPIError(err); !loadFailed {
			h.logger.Warn("failed to subscribe to changes",
				slog.String("collection", c.table),
				slog.String("error", err.Error()),
			)
			stream.event("error", errorBody(model.NewLoadFailedError(c.label, err)))
			return
		}
		stream.event("error", errorBody(err))
	}
	if err := stream.event("snapshot", map[string]any{c.key: rec.Snapshot()}); err != nil {
		return
	}

	keepAlive := time.NewTicker(sseKeepAlive)
	defer keepAlive.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case snapshot := <-updates:
			if err := stream.event("snapshot", map[string]any{c.key: snapshot}); err != nil {
				return
			}
		case <-keepAlive.C:
			if err := stream.ping(); err != nil {
				return
			}
		}
	}
}

// errorBody はSSEのerrorイベントで送る統一エラーフォーマットを返す。
func errorBody(err error) middleware.ErrorResponseBody {
	apiErr, ok := model.AsAPIError(err)
	if !ok {
		apiErr = model.NewInternalError()
	}
	return middleware.ErrorResponseBody{
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
	}
}
