package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/hitoshi/trinket/internal/middleware"
)

// UserServiceInterface はアカウント削除を行うサービスインターフェース。
type UserServiceInterface interface {
	// Withdraw はユーザーのアカウントと所持品・出来事を一括削除し、端末のデータも消す。
	Withdraw(ctx context.Context, userID string) error
}

// SignOuter は端末のセッションを破棄する。auth.Clientが実装する。
type SignOuter interface {
	SignOut(ctx context.Context) error
}

// AccountHandler はアカウント管理のHTTPハンドラー。
type AccountHandler struct {
	service UserServiceInterface
	client  SignOuter
}

// NewAccountHandler はAccountHandlerを生成する。
func NewAccountHandler(service UserServiceInterface, client SignOuter) *AccountHandler {
	return &AccountHandler{service: service, client: client}
}

// Withdraw はアカウントを削除してサインアウトする。
// DELETE /api/account
func (h *AccountHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	if err := h.service.Withdraw(r.Context(), userID); err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	if err := h.client.SignOut(r.Context()); err != nil {
		slog.Warn("sign out after withdrawal incomplete",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
	}

	w.WriteHeader(http.StatusNoContent)
}
