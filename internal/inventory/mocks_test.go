package inventory

import (
	"context"
	"errors"
	"testing"

	"github.com/hitoshi/trinket/internal/model"
)

// --- モック ---

type mockItemRepo struct {
	listByUserFn        func(ctx context.Context, userID string) ([]model.ItemListEntry, error)
	findByIDFn          func(ctx context.Context, userID, id string) (*model.Item, error)
	createFn            func(ctx context.Context, item *model.Item) error
	updateFn            func(ctx context.Context, userID, id string, patch model.ItemPatch) (*model.Item, error)
	deleteFn            func(ctx context.Context, userID, id string) (bool, error)
	distinctLocationsFn func(ctx context.Context, userID string, limit int) ([]string, error)
}

func (m *mockItemRepo) ListByUser(ctx context.Context, userID string) ([]model.ItemListEntry, error) {
	return m.listByUserFn(ctx, userID)
}
func (m *mockItemRepo) FindByID(ctx context.Context, userID, id string) (*model.Item, error) {
	return m.findByIDFn(ctx, userID, id)
}
func (m *mockItemRepo) Create(ctx context.Context, item *model.Item) error {
	if m.createFn != nil {
		return m.createFn(ctx, item)
	}
	return nil
}
func (m *mockItemRepo) Update(ctx context.Context, userID, id string, patch model.ItemPatch) (*model.Item, error) {
	return m.updateFn(ctx, userID, id, patch)
}
func (m *mockItemRepo) Delete(ctx context.Context, userID, id string) (bool, error) {
	return m.deleteFn(ctx, userID, id)
}
func (m *mockItemRepo) DistinctLocations(ctx context.Context, userID string, limit int) ([]string, error) {
	if m.distinctLocationsFn != nil {
		return m.distinctLocationsFn(ctx, userID, limit)
	}
	return nil, nil
}
func (m *mockItemRepo) Count(ctx context.Context) (int, error) {
	return 0, nil
}

type mockLocationRepo struct {
	listNamesFn func(ctx context.Context, userID string, limit int) ([]string, error)
	ensured     []string
	ensureErr   error
}

func (m *mockLocationRepo) ListNames(ctx context.Context, userID string, limit int) ([]string, error) {
	if m.listNamesFn != nil {
		return m.listNamesFn(ctx, userID, limit)
	}
	return nil, nil
}
func (m *mockLocationRepo) Ensure(ctx context.Context, userID, name string) error {
	m.ensured = append(m.ensured, name)
	return m.ensureErr
}

type mockEventRepo struct {
	listByUserFn func(ctx context.Context, userID string) ([]model.Event, error)
	findByIDFn   func(ctx context.Context, userID, id string) (*model.Event, error)
	createFn     func(ctx context.Context, event *model.Event) error
	updateFn     func(ctx context.Context, userID, id string, patch model.EventPatch) (*model.Event, error)
	deleteFn     func(ctx context.Context, userID, id string) (bool, error)
}

func (m *mockEventRepo) ListByUser(ctx context.Context, userID string) ([]model.Event, error) {
	return m.listByUserFn(ctx, userID)
}
func (m *mockEventRepo) FindByID(ctx context.Context, userID, id string) (*model.Event, error) {
	return m.findByIDFn(ctx, userID, id)
}
func (m *mockEventRepo) Create(ctx context.Context, event *model.Event) error {
	if m.createFn != nil {
		return m.createFn(ctx, event)
	}
	return nil
}
func (m *mockEventRepo) Update(ctx context.Context, userID, id string, patch model.EventPatch) (*model.Event, error) {
	return m.updateFn(ctx, userID, id, patch)
}
func (m *mockEventRepo) Delete(ctx context.Context, userID, id string) (bool, error) {
	return m.deleteFn(ctx, userID, id)
}

type mockPeopleSource struct {
	people []string
	err    error
}

func (m *mockPeopleSource) People(ctx context.Context, userID string) ([]string, error) {
	return m.people, m.err
}

// fakeAccounts はメタデータのマージをメモリ上で再現する。
type fakeAccounts struct {
	user      *model.User
	updateErr error
	patches   []map[string]any
}

func newFakeAccounts(meta map[string]any) *fakeAccounts {
	if meta == nil {
		meta = map[string]any{}
	}
	return &fakeAccounts{user: &model.User{ID: "user-1", Email: "me@example.com", Metadata: meta}}
}

func (f *fakeAccounts) GetUser(ctx context.Context, userID string) (*model.User, error) {
	if userID != f.user.ID {
		return nil, model.NewUserNotFoundError()
	}
	return f.user, nil
}

func (f *fakeAccounts) UpdateUserMetadata(ctx context.Context, userID string, patch map[string]any) (*model.User, error) {
	if f.updateErr != nil {
		return nil, f.updateErr
	}
	f.patches = append(f.patches, patch)
	for k, v := range patch {
		if v == nil {
			delete(f.user.Metadata, k)
			continue
		}
		f.user.Metadata[k] = v
	}
	return f.user, nil
}

type countingNotifier struct{ calls int }

func (n *countingNotifier) UserUpdated() { n.calls++ }

var errBackend = errors.New("connection refused")

func assertAPIErrorCode(t *testing.T, err error, code string) *model.APIError {
	t.Helper()
	apiErr, ok := model.AsAPIError(err)
	if !ok {
		t.Fatalf("expected *APIError with code %s, got %v", code, err)
	}
	if apiErr.Code != code {
		t.Errorf("error code = %s, want %s", apiErr.Code, code)
	}
	return apiErr
}
