// Package user はアカウント管理のドメインロジックを提供する。
package user

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hitoshi/trinket/internal/model"
)

// UserStore はアカウントの取得と削除のインターフェース。
type UserStore interface {
	FindByID(ctx context.Context, id string) (*model.User, error)
	DeleteByID(ctx context.Context, id string) error
}

// SessionDeleter はリフレッシュセッションの一括削除インターフェース。
type SessionDeleter interface {
	DeleteByUserID(ctx context.Context, userID string) error
}

// LocalClearer は端末ローカルに残るユーザー固有データを消去する。
type LocalClearer interface {
	Clear(ctx context.Context)
}

// Service はアカウント管理のサービス層。
// 退会処理のビジネスロジックを提供する。
type Service struct {
	userRepo    UserStore
	sessionRepo SessionDeleter
	local       LocalClearer
}

// NewService はServiceの新しいインスタンスを生成する。sessionRepoとlocalはnilでもよい。
func NewService(userRepo UserStore, sessionRepo SessionDeleter, local LocalClearer) *Service {
	return &Service{
		userRepo:    userRepo,
		sessionRepo: sessionRepo,
		local:       local,
	}
}

// Withdraw はアカウントを削除する。
// 削除順序: sessions → user（+ CASCADE: identities, password_resets, items, events, locations）
// 最後に端末ローカルの最近見た一覧を消去する。
func (s *Service) Withdraw(ctx context.Context, userID string) error {
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return model.NewUserNotFoundError()
	}

	slog.Info("account deletion started", slog.String("user_id", userID))

	// 1. セッションを削除
	if s.sessionRepo != nil {
		if err := s.sessionRepo.DeleteByUserID(ctx, userID); err != nil {
			return fmt.Errorf("failed to delete sessions: %w", err)
		}
	}

	// 2. ユーザーを削除
	if err := s.userRepo.DeleteByID(ctx, userID); err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}

	// 3. 端末ローカルのデータを消去
	if s.local != nil {
		s.local.Clear(ctx)
	}

	slog.Info("account deletion completed", slog.String("user_id", userID))
	return nil
}
