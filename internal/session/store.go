// Package session はプロセス全体で共有する認証セッションの状態と、画面遷移のガードを提供する。
package session

import (
	"sync"

	"github.com/hitoshi/trinket/internal/model"
)

// State はセッションの状態。
type State int

const (
	// StateInitializing は起動直後のセッション確認中。遷移の判断はしない。
	StateInitializing State = iota
	// StateAuthenticated はセッションが存在する状態。
	StateAuthenticated
	// StateUnauthenticated はセッションが存在しない状態。
	StateUnauthenticated
)

// String は状態名を返す。
func (s State) String() string {
	switch s {
	case StateAuthenticated:
		return "authenticated"
	case StateUnauthenticated:
		return "unauthenticated"
	default:
		return "initializing"
	}
}

// Event はセッション変更通知の種別。
type Event string

const (
	EventInitialSession Event = "INITIAL_SESSION"
	EventSignedIn       Event = "SIGNED_IN"
	EventSignedOut      Event = "SIGNED_OUT"
	EventTokenRefreshed Event = "TOKEN_REFRESHED"
	EventUserUpdated    Event = "USER_UPDATED"
)

// Listener はセッション変更通知を受け取る関数。
type Listener func(event Event, sess *model.AuthSession)

// Store はプロセスで1つの認証セッションを保持する。
type Store struct {
	mu        sync.RWMutex
	state     State
	session   *model.AuthSession
	version   uint64
	listeners map[uint64]Listener
	nextID    uint64
}

// NewStore は初期化中状態のStoreを生成する。
func NewStore() *Store {
	return &Store{listeners: make(map[uint64]Listener)}
}

// State は現在の状態を返す。
func (s *Store) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Session は現在のセッションのコピーを返す。未認証ならnil。
func (s *Store) Session() *model.AuthSession {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.session == nil {
		return nil
	}
	cp := *s.session
	return &cp
}

// UserID は認証済みユーザーのIDを返す。未認証なら空文字。
func (s *Store) UserID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.session == nil {
		return ""
	}
	return s.session.UserID
}

// Set はセッションを更新し、購読者に通知する。
// sessがnilなら未認証、そうでなければ認証済みになる。更新後のバージョンを返す。
func (s *Store) Set(event Event, sess *model.AuthSession) uint64 {
	s.mu.Lock()
	v := s.setLocked(sess)
	listeners := s.snapshotListenersLocked()
	s.mu.Unlock()

	notify(listeners, event, sess)
	return v
}

// CompareAndSet はバージョンがversionのままの場合に限りセッションを更新する。
// 初期確認がタイムアウトした後に届いた結果を、その間の変更を上書きせずに反映するために使う。
func (s *Store) CompareAndSet(version uint64, event Event, sess *model.AuthSession) bool {
	s.mu.Lock()
	if s.version != version {
		s.mu.Unlock()
		return false
	}
	s.setLocked(sess)
	listeners := s.snapshotListenersLocked()
	s.mu.Unlock()

	notify(listeners, event, sess)
	return true
}

// Subscribe はセッション変更通知の購読を登録し、解除関数を返す。解除関数は何度呼んでもよい。
func (s *Store) Subscribe(l Listener) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = l
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.listeners, id)
			s.mu.Unlock()
		})
	}
}

func (s *Store) setLocked(sess *model.AuthSession) uint64 {
	if sess == nil {
		s.state = StateUnauthenticated
		s.session = nil
	} else {
		cp := *sess
		s.state = StateAuthenticated
		s.session = &cp
	}
	s.version++
	return s.version
}

func (s *Store) snapshotListenersLocked() []Listener {
	out := make([]Listener, 0, len(s.listeners))
	for _, l := range s.listeners {
		out = append(out, l)
	}
	return out
}

func notify(listeners []Listener, event Event, sess *model.AuthSession) {
	for _, l := range listeners {
		var cp *model.AuthSession
		if sess != nil {
			c := *sess
			cp = &c
		}
		l(event, cp)
	}
}
