package handler

import (
	"context"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/trinket/internal/inventory"
	"github.com/hitoshi/trinket/internal/kvstore"
	"github.com/hitoshi/trinket/internal/middleware"
	"github.com/hitoshi/trinket/internal/model"
	"github.com/hitoshi/trinket/internal/realtime"
	"github.com/hitoshi/trinket/internal/recent"
	"github.com/hitoshi/trinket/internal/storage"
)

// withUserID はテスト用にユーザーIDをコンテキストに注入するヘルパー。
func withUserID(r *http.Request, userID string) *http.Request {
	return r.WithContext(middleware.ContextWithUserID(r.Context(), userID))
}

// withChiURLParam はテスト用にchiのURLパラメータを注入するヘルパー。
func withChiURLParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// withChiURLParams は複数のURLパラメータを注入する。
func withChiURLParams(r *http.Request, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for k, v := range params {
		rctx.URLParams.Add(k, v)
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

func strPtr(s string) *string { return &s }

// --- 所持品 ---

type mockItemService struct {
	listFn    func(ctx context.Context, userID string) ([]model.ItemListEntry, error)
	getFn     func(ctx context.Context, userID, id string) (*model.Item, error)
	createFn  func(ctx context.Context, userID string, in model.ItemInput) (*model.Item, error)
	updateFn  func(ctx context.Context, userID, id string, patch model.ItemPatch) (*model.Item, error)
	deleteFn  func(ctx context.Context, userID, id string) error
	optionsFn func(ctx context.Context, userID string) inventory.FormOptions
	sourceFn  func(userID string) realtime.Source[model.ItemListEntry]
}

func (m *mockItemService) List(ctx context.Context, userID string) ([]model.ItemListEntry, error) {
	if m.listFn != nil {
		return m.listFn(ctx, userID)
	}
	return []model.ItemListEntry{}, nil
}

func (m *mockItemService) Get(ctx context.Context, userID, id string) (*model.Item, error) {
	if m.getFn != nil {
		return m.getFn(ctx, userID, id)
	}
	return nil, model.NewItemNotFoundError(id)
}

func (m *mockItemService) Create(ctx context.Context, userID string, in model.ItemInput) (*model.Item, error) {
	if m.createFn != nil {
		return m.createFn(ctx, userID, in)
	}
	return &model.Item{ID: "item-new", UserID: userID, Title: in.Title}, nil
}

func (m *mockItemService) Update(ctx context.Context, userID, id string, patch model.ItemPatch) (*model.Item, error) {
	if m.updateFn != nil {
		return m.updateFn(ctx, userID, id, patch)
	}
	return &model.Item{ID: id, UserID: userID}, nil
}

func (m *mockItemService) Delete(ctx context.Context, userID, id string) error {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, userID, id)
	}
	return nil
}

func (m *mockItemService) FormOptions(ctx context.Context, userID string) inventory.FormOptions {
	if m.optionsFn != nil {
		return m.optionsFn(ctx, userID)
	}
	return inventory.FormOptions{
		People:             []string{},
		Locations:          []string{},
		AcquisitionMethods: model.AcquisitionMethods,
		Categories:         model.Categories,
	}
}

func (m *mockItemService) Source(userID string) realtime.Source[model.ItemListEntry] {
	if m.sourceFn != nil {
		return m.sourceFn(userID)
	}
	return realtime.SourceFunc[model.ItemListEntry](func(ctx context.Context) ([]model.ItemListEntry, error) {
		return m.List(ctx, userID)
	})
}

// --- 出来事 ---

type mockEventService struct {
	listFn   func(ctx context.Context, userID string) ([]model.Event, error)
	getFn    func(ctx context.Context, userID, id string) (*model.Event, error)
	createFn func(ctx context.Context, userID string, in model.EventInput) (*model.Event, error)
	updateFn func(ctx context.Context, userID, id string, patch model.EventPatch) (*model.Event, error)
	deleteFn func(ctx context.Context, userID, id string) error
}

func (m *mockEventService) List(ctx context.Context, userID string) ([]model.Event, error) {
	if m.listFn != nil {
		return m.listFn(ctx, userID)
	}
	return []model.Event{}, nil
}

func (m *mockEventService) Get(ctx context.Context, userID, id string) (*model.Event, error) {
	if m.getFn != nil {
		return m.getFn(ctx, userID, id)
	}
	return nil, model.NewEventNotFoundError(id)
}

func (m *mockEventService) Create(ctx context.Context, userID string, in model.EventInput) (*model.Event, error) {
	if m.createFn != nil {
		return m.createFn(ctx, userID, in)
	}
	return &model.Event{ID: "event-new", UserID: userID, Name: in.Name}, nil
}

func (m *mockEventService) Update(ctx context.Context, userID, id string, patch model.EventPatch) (*model.Event, error) {
	if m.updateFn != nil {
		return m.updateFn(ctx, userID, id, patch)
	}
	return &model.Event{ID: id, UserID: userID}, nil
}

func (m *mockEventService) Delete(ctx context.Context, userID, id string) error {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, userID, id)
	}
	return nil
}

func (m *mockEventService) Source(userID string) realtime.Source[model.Event] {
	return realtime.SourceFunc[model.Event](func(ctx context.Context) ([]model.Event, error) {
		return m.List(ctx, userID)
	})
}

// --- プロフィール ---

type mockProfileService struct {
	getFn        func(ctx context.Context, userID string) (model.Profile, error)
	saveFn       func(ctx context.Context, userID string, in inventory.ProfileInput) (model.Profile, error)
	planFn       func(ctx context.Context, userID string, plan *string) (model.Profile, error)
	addFn        func(ctx context.Context, userID, name string) (model.Profile, error)
	removeFn     func(ctx context.Context, userID string, index int) (model.Profile, error)
	onboardingFn func(ctx context.Context, userID string, in inventory.OnboardingInput) (model.Profile, error)
}

func (m *mockProfileService) Get(ctx context.Context, userID string) (model.Profile, error) {
	if m.getFn != nil {
		return m.getFn(ctx, userID)
	}
	return model.Profile{Email: "lane@example.com", People: []string{}}, nil
}

func (m *mockProfileService) Save(ctx context.Context, userID string, in inventory.ProfileInput) (model.Profile, error) {
	if m.saveFn != nil {
		return m.saveFn(ctx, userID, in)
	}
	return model.Profile{FirstName: in.FirstName, LastName: in.LastName, Bio: in.Bio, People: []string{}}, nil
}

func (m *mockProfileService) ChangePlan(ctx context.Context, userID string, plan *string) (model.Profile, error) {
	if m.planFn != nil {
		return m.planFn(ctx, userID, plan)
	}
	return model.Profile{SubscriptionPlan: plan, People: []string{}}, nil
}

func (m *mockProfileService) AddPerson(ctx context.Context, userID, name string) (model.Profile, error) {
	if m.addFn != nil {
		return m.addFn(ctx, userID, name)
	}
	return model.Profile{People: []string{name}}, nil
}

func (m *mockProfileService) RemovePerson(ctx context.Context, userID string, index int) (model.Profile, error) {
	if m.removeFn != nil {
		return m.removeFn(ctx, userID, index)
	}
	return model.Profile{People: []string{}}, nil
}

func (m *mockProfileService) CompleteOnboarding(ctx context.Context, userID string, in inventory.OnboardingInput) (model.Profile, error) {
	if m.onboardingFn != nil {
		return m.onboardingFn(ctx, userID, in)
	}
	return model.Profile{People: []string{}}, nil
}

// --- 最近見た所持品 ---

func newTestTracker() *recent.Tracker {
	return recent.NewTracker(kvstore.NewMemoryStore(), nil, nil)
}

// --- 画像 ---

type mockImporter struct {
	uploadFn func(ctx context.Context, userID string, r io.Reader, contentType string) (string, error)
	importFn func(ctx context.Context, userID, rawURL string) (string, error)
}

func (m *mockImporter) Upload(ctx context.Context, userID string, r io.Reader, contentType string) (string, error) {
	if m.uploadFn != nil {
		return m.uploadFn(ctx, userID, r, contentType)
	}
	return "http://localhost:8080/storage/v1/object/public/images/" + userID + "/x.png", nil
}

func (m *mockImporter) ImportFromURL(ctx context.Context, userID, rawURL string) (string, error) {
	if m.importFn != nil {
		return m.importFn(ctx, userID, rawURL)
	}
	return "http://localhost:8080/storage/v1/object/public/images/" + userID + "/y.jpg", nil
}

// memoryObjects はテスト用のObjectReader実装。
type memoryObjects struct {
	name    string
	objects map[string]string
}

func (m *memoryObjects) Name() string { return m.name }

func (m *memoryObjects) Open(ctx context.Context, path string) (io.ReadCloser, storage.ObjectInfo, error) {
	if strings.Contains(path, "..") {
		return nil, storage.ObjectInfo{}, storage.ErrInvalidPath
	}
	body, ok := m.objects[path]
	if !ok {
		return nil, storage.ObjectInfo{}, storage.ErrObjectNotFound
	}
	return io.NopCloser(strings.NewReader(body)), storage.ObjectInfo{
		ContentType:  "image/png",
		CacheControl: storage.DefaultCacheControl,
		Size:         int64(len(body)),
	}, nil
}

// --- アカウント ---

type mockUserService struct {
	withdrawFn func(ctx context.Context, userID string) error
}

func (m *mockUserService) Withdraw(ctx context.Context, userID string) error {
	if m.withdrawFn != nil {
		return m.withdrawFn(ctx, userID)
	}
	return nil
}

// --- 変更フィード ---

// fakeFeed は手動で変更通知を流せるrealtime.Feed実装。
type fakeFeed struct {
	mu     sync.Mutex
	subs   []*fakeSubscription
	ready  chan struct{}
	subErr error
}

func newFakeFeed() *fakeFeed {
	return &fakeFeed{ready: make(chan struct{}, 4)}
}

func (f *fakeFeed) Subscribe(ctx context.Context, table string) (realtime.Subscription, error) {
	if f.subErr != nil {
		return nil, f.subErr
	}
	sub := &fakeSubscription{ch: make(chan realtime.Change, 8), closed: make(chan struct{})}
	f.mu.Lock()
	f.subs = append(f.subs, sub)
	f.mu.Unlock()
	f.ready <- struct{}{}
	return sub, nil
}

func (f *fakeFeed) send(c realtime.Change) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.subs {
		s.ch <- c
	}
}

type fakeSubscription struct {
	ch        chan realtime.Change
	closed    chan struct{}
	closeOnce sync.Once
}

func (s *fakeSubscription) Changes() <-chan realtime.Change { return s.ch }

func (s *fakeSubscription) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}
