// Package kvstore は端末ローカルのキーバリューストアを提供する。
// 最近見た所持品の一覧や認証セッションの永続化に使用する。
package kvstore

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// ErrNotFound は指定キーが存在しないことを表す。
var ErrNotFound = errors.New("kvstore: key not found")

// Store は端末ローカルストレージの能力インターフェース。
// 実装を差し替えても呼び出し側（recent、auth）のロジックには影響しない。
type Store interface {
	// Get は指定キーの値を返す。存在しない場合はErrNotFoundを返す。
	Get(ctx context.Context, key string) ([]byte, error)
	// Set は指定キーに値を上書き保存する。
	Set(ctx context.Context, key string, value []byte) error
	// Remove は指定キーを削除する。存在しない場合もエラーにしない。
	Remove(ctx context.Context, key string) error
}

// Options はOpenに渡すストア選択の設定。
type Options struct {
	Kind       string // sqlite, redis, memory
	SQLitePath string
	RedisURL   string
	KeyPrefix  string // redisのみ
}

// Open は設定に応じたStoreを生成する。
// 返されるio.Closerはプロセス終了時に閉じること。
func Open(opts Options) (Store, io.Closer, error) {
	switch opts.Kind {
	case "sqlite":
		s, err := NewSQLiteStore(opts.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil
	case "redis":
		s, err := NewRedisStoreFromURL(opts.RedisURL, opts.KeyPrefix)
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil
	case "memory":
		s := NewMemoryStore()
		return s, s, nil
	default:
		return nil, nil, fmt.Errorf("kvstore: unknown store kind %q", opts.Kind)
	}
}
