package realtime

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeListener struct {
	listened  []string
	listenErr error
	ch        chan *pq.Notification
	closes    int
}

func (l *fakeListener) Listen(channel string) error {
	l.listened = append(l.listened, channel)
	return l.listenErr
}

func (l *fakeListener) NotificationChannel() <-chan *pq.Notification { return l.ch }

func (l *fakeListener) Close() error {
	l.closes++
	return nil
}

func newTestFeed(l *fakeListener) *PostgresFeed {
	f := NewPostgresFeed("postgres://example", FeedOptions{})
	f.newListener = func(string, time.Duration, time.Duration, pq.EventCallbackType) notificationListener {
		return l
	}
	return f
}

func receive(t *testing.T, sub Subscription) Change {
	t.Helper()
	select {
	case c := <-sub.Changes():
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for change")
		return Change{}
	}
}

func TestChannelName(t *testing.T) {
	assert.Equal(t, "realtime_items", ChannelName("items"))
}

func TestNewPostgresFeed_Defaults(t *testing.T) {
	f := NewPostgresFeed("postgres://example", FeedOptions{})
	assert.Equal(t, time.Second, f.opts.MinReconnect)
	assert.Equal(t, 30*time.Second, f.opts.MaxReconnect)
}

func TestPostgresFeed_DeliversChanges(t *testing.T) {
	l := &fakeListener{ch: make(chan *pq.Notification, 1)}
	sub, err := newTestFeed(l).Subscribe(context.Background(), "items")
	require.NoError(t, err)
	t.Cleanup(func() { sub.Close() })

	assert.Equal(t, []string{"realtime_items"}, l.listened)

	l.ch <- &pq.Notification{Channel: "realtime_items", Extra: `{"table":"items","type":"INSERT","new":{"id":"5","title":"Lamp"},"old":null}`}
	c := receive(t, sub)
	assert.Equal(t, KindInsert, c.Kind())
	assert.Equal(t, "items", c.Table)
}

func TestPostgresFeed_ReconnectTriggersReload(t *testing.T) {
	l := &fakeListener{ch: make(chan *pq.Notification, 1)}
	sub, err := newTestFeed(l).Subscribe(context.Background(), "events")
	require.NoError(t, err)
	t.Cleanup(func() { sub.Close() })

	l.ch <- nil
	c := receive(t, sub)
	assert.Equal(t, KindUnknown, c.Kind())
	assert.Equal(t, "events", c.Table)
}

func TestPostgresFeed_ScopeFilter(t *testing.T) {
	l := &fakeListener{ch: make(chan *pq.Notification, 3)}
	sub, err := newTestFeed(l).WithScope("u1").Subscribe(context.Background(), "items")
	require.NoError(t, err)
	t.Cleanup(func() { sub.Close() })

	l.ch <- &pq.Notification{Extra: `{"new":{"id":"1","user_id":"u2"}}`}
	l.ch <- &pq.Notification{Extra: `{"table":"items","truncated":true,"user_id":"u2"}`}
	l.ch <- &pq.Notification{Extra: `{"new":{"id":"2","user_id":"u1"}}`}

	first := receive(t, sub)
	assert.Equal(t, KindUnknown, first.Kind(), "unknown-shape notifications always pass")
	assert.Equal(t, "items", first.Table)

	second := receive(t, sub)
	assert.Equal(t, KindInsert, second.Kind())
	assert.Equal(t, "u1", second.UserID)
}

func TestPostgresFeed_ListenError(t *testing.T) {
	l := &fakeListener{ch: make(chan *pq.Notification), listenErr: errors.New("no connection")}

	_, err := newTestFeed(l).Subscribe(context.Background(), "items")
	assert.ErrorContains(t, err, "no connection")
	assert.Equal(t, 1, l.closes)
}

func TestPostgresFeed_CloseOnce(t *testing.T) {
	l := &fakeListener{ch: make(chan *pq.Notification)}
	sub, err := newTestFeed(l).Subscribe(context.Background(), "items")
	require.NoError(t, err)

	require.NoError(t, sub.Close())
	require.NoError(t, sub.Close())
	assert.Equal(t, 1, l.closes)

	select {
	case _, ok := <-sub.Changes():
		assert.False(t, ok, "changes channel is closed after Close")
	case <-time.After(2 * time.Second):
		t.Fatal("changes channel not closed")
	}
}

func TestPostgresFeed_WithScopeDoesNotModifyOriginal(t *testing.T) {
	f := NewPostgresFeed("postgres://example", FeedOptions{})
	scoped := f.WithScope("u1")

	assert.Empty(t, f.scope)
	assert.Equal(t, "u1", scoped.scope)
}
