package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hitoshi/trinket/internal/model"
)

type testRecord struct {
	ID    string   `json:"id"`
	Title string   `json:"title"`
	Tags  []string `json:"tags,omitempty"`
	Price *float64 `json:"price,omitempty"`
}

func (r testRecord) RecordID() string { return r.ID }

// countingSource はFetch呼び出し回数を数える。
type countingSource struct {
	mu    sync.Mutex
	calls int
	data  []testRecord
	err   error
}

func (s *countingSource) Fetch(context.Context) ([]testRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return append([]testRecord(nil), s.data...), nil
}

func (s *countingSource) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type fakeMetrics struct {
	mu       sync.Mutex
	changes  []string
	reloads  []string
	failures int
}

func (m *fakeMetrics) IncRealtimeChange(_, kind string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.changes = append(m.changes, kind)
}

func (m *fakeMetrics) IncRealtimeReload(_, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reloads = append(m.reloads, reason)
}

func (m *fakeMetrics) IncLoadFailure(string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures++
}

// fakeFeed は手動で通知を流せるFeed。
type fakeFeed struct {
	sub       *fakeSubscription
	err       error
	openCalls int
}

func (f *fakeFeed) Subscribe(context.Context, string) (Subscription, error) {
	f.openCalls++
	if f.err != nil {
		return nil, f.err
	}
	if f.sub == nil {
		f.sub = newFakeSubscription()
	}
	return f.sub, nil
}

type fakeSubscription struct {
	ch       chan Change
	mu       sync.Mutex
	closes   int
	closeErr error
}

func newFakeSubscription() *fakeSubscription {
	return &fakeSubscription{ch: make(chan Change)}
}

func (s *fakeSubscription) Changes() <-chan Change { return s.ch }

func (s *fakeSubscription) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closes++
	return s.closeErr
}

func seeded(t *testing.T, src *countingSource, mode Mode) *Reconciler[testRecord] {
	t.Helper()
	r := NewReconciler[testRecord](src, nil, Options{Table: "items", Mode: mode})
	require.NoError(t, r.LoadAll(context.Background()))
	return r
}

func ids(records []testRecord) []string {
	out := make([]string, 0, len(records))
	for _, r := range records {
		out = append(out, r.ID)
	}
	return out
}

func TestApply_InsertPlacesNewRecordAtFront(t *testing.T) {
	src := &countingSource{data: []testRecord{{ID: "1", Title: "Chair"}, {ID: "2", Title: "Desk"}}}
	r := seeded(t, src, ModeDelta)

	require.NoError(t, r.Apply(context.Background(), ParseChange([]byte(`{"new":{"id":"5","title":"Lamp"}}`))))

	snap := r.Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, testRecord{ID: "5", Title: "Lamp"}, snap[0])
	assert.Equal(t, []string{"5", "1", "2"}, ids(snap))
	assert.Equal(t, 1, src.Calls(), "insert must not reload")
}

func TestApply_InsertReplacesDuplicateID(t *testing.T) {
	src := &countingSource{data: []testRecord{{ID: "1", Title: "Chair"}, {ID: "5", Title: "Old lamp"}}}
	r := seeded(t, src, ModeDelta)

	require.NoError(t, r.Apply(context.Background(), ParseChange([]byte(`{"new":{"id":"5","title":"Lamp"}}`))))

	snap := r.Snapshot()
	assert.Equal(t, []string{"5", "1"}, ids(snap))
	assert.Equal(t, "Lamp", snap[0].Title)
}

func TestApply_UpdateMergesInPlace(t *testing.T) {
	price := 12.5
	src := &countingSource{data: []testRecord{
		{ID: "1", Title: "Chair", Tags: []string{"wood"}, Price: &price},
		{ID: "2", Title: "Desk"},
		{ID: "3", Title: "Rug"},
	}}
	r := seeded(t, src, ModeDelta)

	require.NoError(t, r.Apply(context.Background(),
		ParseChange([]byte(`{"new":{"id":"1","title":"Armchair"},"old":{"id":"1"}}`))))

	snap := r.Snapshot()
	assert.Equal(t, []string{"1", "2", "3"}, ids(snap), "order must be preserved")
	assert.Equal(t, "Armchair", snap[0].Title)
	assert.Equal(t, []string{"wood"}, snap[0].Tags, "fields absent from the update are kept")
	require.NotNil(t, snap[0].Price)
	assert.Equal(t, 12.5, *snap[0].Price)
	assert.Equal(t, testRecord{ID: "2", Title: "Desk"}, snap[1])
}

func TestApply_UpdateDoesNotAliasPreviousSnapshots(t *testing.T) {
	price := 10.0
	src := &countingSource{data: []testRecord{{ID: "1", Title: "Chair", Price: &price}}}
	r := seeded(t, src, ModeDelta)
	before := r.Snapshot()

	require.NoError(t, r.Apply(context.Background(),
		ParseChange([]byte(`{"new":{"id":"1","price":99},"old":{"id":"1"}}`))))

	assert.Equal(t, 10.0, *before[0].Price)
	assert.Equal(t, 99.0, *r.Snapshot()[0].Price)
}

func TestApply_UpdateForUnknownIDIsNoop(t *testing.T) {
	src := &countingSource{data: []testRecord{{ID: "1", Title: "Chair"}}}
	r := seeded(t, src, ModeDelta)

	require.NoError(t, r.Apply(context.Background(),
		ParseChange([]byte(`{"new":{"id":"9","title":"Ghost"},"old":{"id":"9"}}`))))

	assert.Equal(t, []testRecord{{ID: "1", Title: "Chair"}}, r.Snapshot())
}

func TestApply_DeleteRemovesMatchingRecord(t *testing.T) {
	src := &countingSource{data: []testRecord{{ID: "1"}, {ID: "5"}, {ID: "7"}}}
	r := seeded(t, src, ModeDelta)
	before := len(r.Snapshot())

	require.NoError(t, r.Apply(context.Background(), ParseChange([]byte(`{"old":{"id":"5"}}`))))

	snap := r.Snapshot()
	assert.Len(t, snap, before-1)
	assert.Equal(t, []string{"1", "7"}, ids(snap))
}

func TestApply_MalformedReloadsExactlyOnce(t *testing.T) {
	src := &countingSource{data: []testRecord{{ID: "1"}, {ID: "2"}}}
	m := &fakeMetrics{}
	r := NewReconciler[testRecord](src, nil, Options{Table: "items", Metrics: m})
	require.NoError(t, r.LoadAll(context.Background()))

	// 再読み込みの結果を変えて、事前にコレクションが書き換えられていないことを確認する
	src.mu.Lock()
	src.data = []testRecord{{ID: "3"}}
	src.mu.Unlock()

	require.NoError(t, r.Apply(context.Background(), ParseChange([]byte(`{"type":"INSERT"}`))))

	assert.Equal(t, 2, src.Calls(), "exactly one reload")
	assert.Equal(t, []string{"3"}, ids(r.Snapshot()))
	assert.Equal(t, []string{ReloadUnknownPayload}, m.reloads)
	assert.Equal(t, []string{"unknown"}, m.changes)
}

func TestApply_UndecodableRowFallsBackToReload(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{"insert without id", `{"new":{"title":"No id"}}`},
		{"insert with wrong type", `{"new":{"id":5}}`},
		{"delete without id", `{"old":{"title":"x"}}`},
		{"update with wrong type", `{"new":{"id":"1","tags":"oops"},"old":{"id":"1"}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := &countingSource{data: []testRecord{{ID: "1", Title: "Chair"}}}
			m := &fakeMetrics{}
			r := NewReconciler[testRecord](src, nil, Options{Table: "items", Metrics: m})
			require.NoError(t, r.LoadAll(context.Background()))

			require.NoError(t, r.Apply(context.Background(), ParseChange([]byte(tt.payload))))

			assert.Equal(t, 2, src.Calls())
			assert.Equal(t, []testRecord{{ID: "1", Title: "Chair"}}, r.Snapshot())
			assert.Equal(t, []string{ReloadApplyError}, m.reloads)
		})
	}
}

func TestApply_ReloadModeReloadsOnEveryChange(t *testing.T) {
	src := &countingSource{data: []testRecord{{ID: "1"}}}
	r := seeded(t, src, ModeReload)

	ctx := context.Background()
	require.NoError(t, r.Apply(ctx, ParseChange([]byte(`{"new":{"id":"2"}}`))))
	require.NoError(t, r.Apply(ctx, ParseChange([]byte(`{"old":{"id":"1"}}`))))

	assert.Equal(t, 3, src.Calls())
	assert.Equal(t, []string{"1"}, ids(r.Snapshot()), "collection mirrors the source, not the deltas")
}

func TestApply_SequenceMatchesDirectApplication(t *testing.T) {
	src := &countingSource{data: []testRecord{{ID: "a", Title: "A"}, {ID: "b", Title: "B"}}}
	r := seeded(t, src, ModeDelta)
	ctx := context.Background()

	payloads := []string{
		`{"new":{"id":"c","title":"C"}}`,
		`{"new":{"id":"a","title":"A2"},"old":{"id":"a"}}`,
		`{"old":{"id":"b"}}`,
		`{"record":{"id":"d","title":"D"}}`,
		`{"payload":{"new":{"id":"c","title":"C2"},"old":{"id":"c"}}}`,
	}
	for _, p := range payloads {
		require.NoError(t, r.Apply(ctx, ParseChange([]byte(p))))
	}

	assert.Equal(t, []testRecord{
		{ID: "d", Title: "D"},
		{ID: "c", Title: "C2"},
		{ID: "a", Title: "A2"},
	}, r.Snapshot())
	assert.Equal(t, 1, src.Calls())
}

func TestLoadAll_FailureKeepsPreviousCollection(t *testing.T) {
	src := &countingSource{data: []testRecord{{ID: "1"}}}
	m := &fakeMetrics{}
	r := NewReconciler[testRecord](src, nil, Options{Table: "items", Metrics: m})
	require.NoError(t, r.LoadAll(context.Background()))

	src.mu.Lock()
	src.err = errors.New("connection refused")
	src.mu.Unlock()

	err := r.LoadAll(context.Background())
	require.Error(t, err)

	apiErr, ok := model.AsAPIError(err)
	require.True(t, ok)
	assert.Equal(t, model.ErrCodeLoadFailed, apiErr.Code)
	assert.Equal(t, "Failed to load items", apiErr.Message)
	assert.Equal(t, []string{"1"}, ids(r.Snapshot()))
	assert.Equal(t, 1, m.failures)
}

func TestLoadAll_UsesLabelInMessage(t *testing.T) {
	src := &countingSource{err: errors.New("boom")}
	r := NewReconciler[testRecord](src, nil, Options{Table: "events", Label: "events list"})

	err := r.LoadAll(context.Background())
	apiErr, ok := model.AsAPIError(err)
	require.True(t, ok)
	assert.Equal(t, "Failed to load events list", apiErr.Message)
}

func TestSnapshot_ReturnsCopy(t *testing.T) {
	src := &countingSource{data: []testRecord{{ID: "1", Title: "Chair"}}}
	r := seeded(t, src, ModeDelta)

	snap := r.Snapshot()
	snap[0].Title = "mutated"

	assert.Equal(t, "Chair", r.Snapshot()[0].Title)
}

func TestSubscribe_AppliesChangesInArrivalOrder(t *testing.T) {
	src := &countingSource{data: []testRecord{{ID: "1"}}}
	feed := &fakeFeed{}
	r := NewReconciler[testRecord](src, feed, Options{Table: "items"})
	require.NoError(t, r.LoadAll(context.Background()))

	snapshots := make(chan []testRecord, 4)
	require.NoError(t, r.Subscribe(context.Background(), func(s []testRecord) { snapshots <- s }))
	t.Cleanup(r.Unsubscribe)

	feed.sub.ch <- ParseChange([]byte(`{"new":{"id":"2"}}`))
	feed.sub.ch <- ParseChange([]byte(`{"new":{"id":"3"}}`))
	feed.sub.ch <- ParseChange([]byte(`{"old":{"id":"1"}}`))

	var last []testRecord
	for i := 0; i < 3; i++ {
		select {
		case last = <-snapshots:
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for snapshot")
		}
	}
	assert.Equal(t, []string{"3", "2"}, ids(last))
}

func TestSubscribe_FeedError(t *testing.T) {
	r := NewReconciler[testRecord](&countingSource{}, &fakeFeed{err: errors.New("listen failed")}, Options{Table: "items"})

	err := r.Subscribe(context.Background(), nil)
	assert.ErrorContains(t, err, "listen failed")
	assert.NotPanics(t, r.Unsubscribe)
}

func TestSubscribe_Twice(t *testing.T) {
	r := NewReconciler[testRecord](&countingSource{}, &fakeFeed{}, Options{Table: "items"})
	require.NoError(t, r.Subscribe(context.Background(), nil))
	t.Cleanup(r.Unsubscribe)

	assert.Error(t, r.Subscribe(context.Background(), nil))
}

func TestSubscribe_WithoutFeed(t *testing.T) {
	r := NewReconciler[testRecord](&countingSource{}, nil, Options{Table: "items"})
	assert.Error(t, r.Subscribe(context.Background(), nil))
}

// remoteTable はNOTIFYと同じく、その時点で開いているチャネルにだけ変更を届けるテーブル。
type remoteTable struct {
	mu         sync.Mutex
	rows       []testRecord
	subs       []*fakeSubscription
	afterFetch func()
}

func (t *remoteTable) Fetch(context.Context) ([]testRecord, error) {
	t.mu.Lock()
	rows := append([]testRecord(nil), t.rows...)
	hook := t.afterFetch
	t.afterFetch = nil
	t.mu.Unlock()
	if hook != nil {
		hook()
	}
	return rows, nil
}

func (t *remoteTable) Subscribe(context.Context, string) (Subscription, error) {
	sub := &fakeSubscription{ch: make(chan Change, 8)}
	t.mu.Lock()
	t.subs = append(t.subs, sub)
	t.mu.Unlock()
	return sub, nil
}

func (t *remoteTable) insert(rec testRecord) {
	t.mu.Lock()
	t.rows = append([]testRecord{rec}, t.rows...)
	subs := append([]*fakeSubscription(nil), t.subs...)
	t.mu.Unlock()

	raw, _ := json.Marshal(map[string]any{"new": rec})
	for _, sub := range subs {
		sub.ch <- ParseChange(raw)
	}
}

func TestSync_KeepsChangesCommittedDuringInitialLoad(t *testing.T) {
	remote := &remoteTable{rows: []testRecord{{ID: "1"}}}
	// 全件取得の直後、結果が反映される前に別の端末が挿入する
	remote.afterFetch = func() { remote.insert(testRecord{ID: "2"}) }

	r := NewReconciler[testRecord](remote, remote, Options{Table: "items"})
	t.Cleanup(r.Unsubscribe)

	snapshots := make(chan []testRecord, 4)
	require.NoError(t, r.Sync(context.Background(), func(s []testRecord) { snapshots <- s }))

	select {
	case s := <-snapshots:
		assert.Equal(t, []string{"2", "1"}, ids(s))
	case <-time.After(2 * time.Second):
		t.Fatalf("insert during the initial load was lost, snapshot = %v", ids(r.Snapshot()))
	}
}

func TestSync_ChangesBeforeSubscribingAreInTheLoad(t *testing.T) {
	remote := &remoteTable{rows: []testRecord{{ID: "1"}}}
	remote.insert(testRecord{ID: "2"})

	r := NewReconciler[testRecord](remote, remote, Options{Table: "items"})
	t.Cleanup(r.Unsubscribe)

	require.NoError(t, r.Sync(context.Background(), nil))
	assert.Equal(t, []string{"2", "1"}, ids(r.Snapshot()))
}

func TestSync_LoadFailureKeepsApplyingChanges(t *testing.T) {
	src := &countingSource{err: errors.New("timeout")}
	feed := &fakeFeed{}
	r := NewReconciler[testRecord](src, feed, Options{Table: "items"})
	t.Cleanup(r.Unsubscribe)

	snapshots := make(chan []testRecord, 1)
	err := r.Sync(context.Background(), func(s []testRecord) { snapshots <- s })
	apiErr, ok := model.AsAPIError(err)
	require.True(t, ok, "err = %v", err)
	assert.Equal(t, model.ErrCodeLoadFailed, apiErr.Code)

	feed.sub.ch <- ParseChange([]byte(`{"new":{"id":"9"}}`))
	select {
	case s := <-snapshots:
		assert.Equal(t, []string{"9"}, ids(s))
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for snapshot")
	}
}

func TestSync_FeedErrorSkipsLoad(t *testing.T) {
	src := &countingSource{}
	r := NewReconciler[testRecord](src, &fakeFeed{err: errors.New("listen failed")}, Options{Table: "items"})

	err := r.Sync(context.Background(), nil)
	assert.ErrorContains(t, err, "listen failed")
	_, isAPIErr := model.AsAPIError(err)
	assert.False(t, isAPIErr)
	assert.Equal(t, 0, src.Calls())
}

func TestUnsubscribe_IdempotentAndSafe(t *testing.T) {
	t.Run("never subscribed", func(t *testing.T) {
		r := NewReconciler[testRecord](&countingSource{}, nil, Options{Table: "items"})
		assert.NotPanics(t, func() {
			r.Unsubscribe()
			r.Unsubscribe()
		})
	})

	t.Run("closes the feed once and swallows errors", func(t *testing.T) {
		feed := &fakeFeed{sub: newFakeSubscription()}
		feed.sub.closeErr = errors.New("already gone")
		r := NewReconciler[testRecord](&countingSource{}, feed, Options{Table: "items"})
		require.NoError(t, r.Subscribe(context.Background(), nil))

		assert.NotPanics(t, func() {
			r.Unsubscribe()
			r.Unsubscribe()
		})
		assert.Equal(t, 1, feed.sub.closes)
	})

	t.Run("subscribe after unsubscribe", func(t *testing.T) {
		feed := &fakeFeed{}
		r := NewReconciler[testRecord](&countingSource{}, feed, Options{Table: "items"})
		r.Unsubscribe()

		assert.ErrorIs(t, r.Subscribe(context.Background(), nil), ErrClosed)
		assert.Equal(t, 0, feed.openCalls)
	})
}

func TestUnsubscribe_DiscardsLateResults(t *testing.T) {
	src := &countingSource{data: []testRecord{{ID: "1"}}}
	r := seeded(t, src, ModeDelta)
	r.Unsubscribe()

	src.mu.Lock()
	src.data = []testRecord{{ID: "2"}}
	src.mu.Unlock()

	require.NoError(t, r.LoadAll(context.Background()))
	require.NoError(t, r.Apply(context.Background(), ParseChange([]byte(`{"new":{"id":"3"}}`))))

	assert.Equal(t, []string{"1"}, ids(r.Snapshot()))
}
