// Package inventory は所持品・出来事・プロフィールの入力検証とバックエンド呼び出しを提供する。
package inventory

import (
	"sync"

	"github.com/hitoshi/trinket/internal/model"
)

// SubmitGuard はユーザーと操作の組ごとに、同時に1つの保存だけを許可する。
// 保存中に同じ操作が送信された場合はネットワーク呼び出しの前にSAVE_IN_PROGRESSで拒否する。
type SubmitGuard struct {
	mu       sync.Mutex
	inflight map[string]struct{}
}

// NewSubmitGuard はSubmitGuardを生成する。
func NewSubmitGuard() *SubmitGuard {
	return &SubmitGuard{inflight: make(map[string]struct{})}
}

// Acquire は操作の実行権を取得し、解放関数を返す。解放関数は何度呼んでもよい。
func (g *SubmitGuard) Acquire(userID, action string) (func(), error) {
	key := userID + "\x00" + action

	g.mu.Lock()
	if _, busy := g.inflight[key]; busy {
		g.mu.Unlock()
		return nil, model.NewSaveInProgressError(action)
	}
	g.inflight[key] = struct{}{}
	g.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			delete(g.inflight, key)
			g.mu.Unlock()
		})
	}, nil
}

// InFlight は保存中の操作数を返す。
func (g *SubmitGuard) InFlight() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.inflight)
}
