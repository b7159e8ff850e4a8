// Package repository はバックエンドデータの永続化インターフェースとPostgreSQL実装を定義する。
package repository

import (
	"context"
	"database/sql"

	"github.com/hitoshi/trinket/internal/model"
)

// UserRepository は認証アカウントの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindByEmail はメールアドレス（大文字小文字を区別しない）でユーザーを取得する。見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.User, error)

	// Create はユーザーを作成する。メールアドレスが登録済みの場合はErrDuplicateを返す。
	Create(ctx context.Context, user *model.User) error

	// CreateWithIdentity はユーザーとidentityを同一トランザクションで作成する。
	CreateWithIdentity(ctx context.Context, user *model.User, identity *model.Identity) error

	// UpdatePasswordHash はパスワードハッシュを更新する。
	UpdatePasswordHash(ctx context.Context, id, hash string) error

	// MergeMetadata はメタデータのトップレベルのキーをpatchの値で上書きし、更新後のユーザーを返す。
	// 値がnilのキーはメタデータから取り除く。
	MergeMetadata(ctx context.Context, id string, patch map[string]any) (*model.User, error)

	// Count は登録済みユーザー数を返す。
	Count(ctx context.Context) (int, error)

	// DeleteByID は指定IDのユーザーを削除する。
	// 関連するidentities、sessions、items、eventsはCASCADE削除される。
	DeleteByID(ctx context.Context, id string) error
}

// IdentityRepository は外部IdP紐付け情報の永続化インターフェース。
type IdentityRepository interface {
	// FindByProviderAndProviderUserID はproviderとprovider_user_idでidentityを検索する。
	// 見つからない場合はnilを返す。
	FindByProviderAndProviderUserID(ctx context.Context, provider, providerUserID string) (*model.Identity, error)

	// Create はidentityを作成する。既存ユーザーに外部IdPを紐付ける場合に使う。
	Create(ctx context.Context, identity *model.Identity) error
}

// SessionRepository はリフレッシュセッションの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error
	// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
	// Consume は有効なセッションを削除して返す。同じIDを二度消費するとnilを返す。
	Consume(ctx context.Context, id string) (*model.Session, error)
	// DeleteByID は指定IDのセッションを削除する。
	DeleteByID(ctx context.Context, id string) error
	// DeleteByUserID は指定ユーザーの全セッションを削除する。
	DeleteByUserID(ctx context.Context, userID string) error
	// DeleteExpired は期限切れのセッションを削除し、削除件数を返す。
	DeleteExpired(ctx context.Context) (int64, error)
}

// PasswordResetRepository はパスワード再設定トークンの永続化インターフェース。
type PasswordResetRepository interface {
	// Create はトークンを保存する。
	Create(ctx context.Context, reset *model.PasswordReset) error
	// Consume は有効なトークンを削除して返す。無効または期限切れの場合はnilを返す。
	Consume(ctx context.Context, tokenHash string) (*model.PasswordReset, error)
	// DeleteExpired は期限切れのトークンを削除し、削除件数を返す。
	DeleteExpired(ctx context.Context) (int64, error)
}

// ItemRepository は所持品の永続化インターフェース。
// すべての操作は所有ユーザーで絞り込む。
type ItemRepository interface {
	// ListByUser は一覧画面用の所持品をadded_at降順で返す。
	ListByUser(ctx context.Context, userID string) ([]model.ItemListEntry, error)
	// FindByID は指定IDの所持品を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, userID, id string) (*model.Item, error)
	// Create は所持品を作成し、added_atなどDB側で決まる値をitemに反映する。
	Create(ctx context.Context, item *model.Item) error
	// Update はpatchで指定されたフィールドのみ更新し、更新後の所持品を返す。見つからない場合はnilを返す。
	Update(ctx context.Context, userID, id string, patch model.ItemPatch) (*model.Item, error)
	// Delete は所持品を削除する。削除した場合はtrueを返す。
	Delete(ctx context.Context, userID, id string) (bool, error)
	// DistinctLocations は所持品に設定済みの保管場所を重複なしで最大limit件返す。
	DistinctLocations(ctx context.Context, userID string, limit int) ([]string, error)
	// Count は全ユーザーの所持品数を返す。
	Count(ctx context.Context) (int, error)
}

// EventRepository は出来事の永続化インターフェース。
type EventRepository interface {
	// ListByUser は出来事をcreated_at降順で返す。
	ListByUser(ctx context.Context, userID string) ([]model.Event, error)
	// FindByID は指定IDの出来事を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, userID, id string) (*model.Event, error)
	// Create は出来事を作成する。
	Create(ctx context.Context, event *model.Event) error
	// Update はpatchで指定されたフィールドのみ更新する。見つからない場合はnilを返す。
	Update(ctx context.Context, userID, id string, patch model.EventPatch) (*model.Event, error)
	// Delete は出来事を削除する。削除した場合はtrueを返す。
	Delete(ctx context.Context, userID, id string) (bool, error)
}

// LocationRepository は登録済み保管場所の永続化インターフェース。
type LocationRepository interface {
	// ListNames は保管場所名を名前順で最大limit件返す。
	ListNames(ctx context.Context, userID string, limit int) ([]string, error)
	// Ensure は保管場所を登録する。登録済みの場合は何もしない。
	Ensure(ctx context.Context, userID, name string) error
}

// TxBeginner はトランザクション開始用のインターフェース。
type TxBeginner interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}
