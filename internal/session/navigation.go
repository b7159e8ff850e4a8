package session

import "sync"

// Navigator は現在地の取得と画面遷移を行うインターフェース。
type Navigator interface {
	Location() string
	Navigate(route string)
}

// Navigation は端末UIの現在地を保持し、ガードが決めた遷移を購読者に配信するNavigator実装。
// UIは画面を表示するたびにVisitで現在地を報告する。
type Navigation struct {
	mu        sync.Mutex
	location  string
	listeners map[uint64]chan string
	nextID    uint64
}

// NewNavigation は初期位置を指定してNavigationを生成する。
func NewNavigation(initial string) *Navigation {
	return &Navigation{location: initial, listeners: make(map[uint64]chan string)}
}

// Visit は現在地を更新する。
func (n *Navigation) Visit(location string) {
	n.mu.Lock()
	n.location = location
	n.mu.Unlock()
}

// Location は現在地を返す。
func (n *Navigation) Location() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.location
}

// Navigate は現在地を遷移先に更新し、購読者に遷移先を送る。
// 受信が追いつかない購読者には古い遷移先を捨てて最新のものだけを残す。
func (n *Navigation) Navigate(route string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.location = route
	for _, ch := range n.listeners {
		select {
		case ch <- route:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- route
		}
	}
}

// Redirects は遷移先の通知チャネルと解除関数を返す。
func (n *Navigation) Redirects() (<-chan string, func()) {
	ch := make(chan string, 1)
	n.mu.Lock()
	id := n.nextID
	n.nextID++
	n.listeners[id] = ch
	n.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			n.mu.Lock()
			delete(n.listeners, id)
			n.mu.Unlock()
		})
	}
}
