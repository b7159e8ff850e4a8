package handler

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/trinket/internal/middleware"
	"github.com/hitoshi/trinket/internal/model"
	"github.com/hitoshi/trinket/internal/session"
)

const oauthStateCookie = "oauth_state"

// SessionClient は端末のセッションを操作するクライアント。auth.Clientが実装する。
type SessionClient interface {
	SignUp(ctx context.Context, email, password string) (*model.AuthSession, error)
	SignIn(ctx context.Context, email, password string) (*model.AuthSession, error)
	CompleteOAuth(ctx context.Context, code string) (*model.AuthSession, error)
	SignOut(ctx context.Context) error
	Refresh(ctx context.Context) (*model.AuthSession, error)
	GetSession(ctx context.Context) (*model.AuthSession, error)
}

// AccountRecovery はセッションを伴わないアカウント操作。auth.Serviceが実装する。
type AccountRecovery interface {
	OAuthEnabled() bool
	GetLoginURL(state string) (string, error)
	RequestPasswordReset(ctx context.Context, email string) error
	ResetPassword(ctx context.Context, token, password string) error
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	BaseURL      string
	CookieSecure bool
}

// AuthHandler はサインイン・サインアウトなどのHTTPハンドラー。
type AuthHandler struct {
	client   SessionClient
	recovery AccountRecovery
	config   AuthHandlerConfig
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(client SessionClient, recovery AccountRecovery, config AuthHandlerConfig) *AuthHandler {
	return &AuthHandler{
		client:   client,
		recovery: recovery,
		config:   config,
	}
}

// credentialsRequest はサインアップ・ログインのリクエストボディ。
type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type forgotRequest struct {
	Email string `json:"email"`
}

type resetRequest struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

// sessionResponse は端末のセッション概要。トークンはUIに渡さない。
type sessionResponse struct {
	Authenticated bool       `json:"authenticated"`
	UserID        string     `json:"user_id,omitempty"`
	Email         string     `json:"email,omitempty"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
	OAuthEnabled  bool       `json:"oauth_enabled"`
}

func (h *AuthHandler) summarize(sess *model.AuthSession) sessionResponse {
	resp := sessionResponse{OAuthEnabled: h.recovery.OAuthEnabled()}
	if sess == nil {
		return resp
	}
	expiresAt := sess.ExpiresAt
	resp.Authenticated = true
	resp.UserID = sess.UserID
	resp.Email = sess.Email
	resp.ExpiresAt = &expiresAt
	return resp
}

// SignUp はアカウントを作成してサインインする。
// POST /api/auth/signup
func (h *AuthHandler) SignUp(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	sess, err := h.client.SignUp(r.Context(), req.Email, req.Password)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, h.summarize(sess))
}

// Login はメールアドレスとパスワードでサインインする。
// POST /api/auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	sess, err := h.client.SignIn(r.Context(), req.Email, req.Password)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.summarize(sess))
}

// Logout は端末のセッションを破棄する。
// POST /api/auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.client.SignOut(r.Context()); err != nil {
		// 保存済みセッションの削除に失敗しても状態はサインアウト済み
		slog.Warn("sign out incomplete", slog.String("error", err.Error()))
	}
	w.WriteHeader(http.StatusNoContent)
}

// Session は現在のセッション概要を返す。
// GET /api/auth/session
func (h *AuthHandler) Session(w http.ResponseWriter, r *http.Request) {
	sess, err := h.client.GetSession(r.Context())
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.summarize(sess))
}

// Refresh はアクセストークンを即座に更新する。
// POST /api/auth/refresh
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	sess, err := h.client.Refresh(r.Context())
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	if sess == nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}
	writeJSON(w, http.StatusOK, h.summarize(sess))
}

// Forgot はパスワード再設定リンクを送る。未登録のアドレスでも202を返す。
// POST /api/auth/forgot
func (h *AuthHandler) Forgot(w http.ResponseWriter, r *http.Request) {
	var req forgotRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.recovery.RequestPasswordReset(r.Context(), req.Email); err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// Reset は再設定トークンで新しいパスワードを設定する。
// POST /api/auth/reset
func (h *AuthHandler) Reset(w http.ResponseWriter, r *http.Request) {
	var req resetRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.recovery.ResetPassword(r.Context(), req.Token, req.Password); err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GoogleLogin はGoogle OAuthフローを開始する。
// GET /api/auth/google/login
func (h *AuthHandler) GoogleLogin(w http.ResponseWriter, r *http.Request) {
	if !h.recovery.OAuthEnabled() {
		middleware.WriteError(w, r, model.NewOAuthDisabledError())
		return
	}

	state, err := generateState()
	if err != nil {
		slog.Error("failed to generate oauth state", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}
	url, err := h.recovery.GetLoginURL(state)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}

	// stateをCookieに保存（CSRF対策）
	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    state,
		Path:     "/",
		MaxAge:   600, // 10分
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, url, http.StatusTemporaryRedirect)
}

// GoogleCallback はOAuthコールバックを処理し、サインイン後の画面へリダイレクトする。
// GET /api/auth/google/callback?code=xxx&state=yyy
func (h *AuthHandler) GoogleCallback(w http.ResponseWriter, r *http.Request) {
	state := r.URL.Query().Get("state")
	stateCookie, err := r.Cookie(oauthStateCookie)
	if err != nil || state == "" || stateCookie.Value != state {
		slog.Warn("oauth state mismatch", slog.String("query_state", state))
		middleware.WriteErrorResponse(w, http.StatusBadRequest, &model.APIError{
			Code:     "INVALID_STATE",
			Message:  "Invalid sign-in state.",
			Category: model.CategoryAuth,
			Action:   "Start Google sign-in again.",
		})
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	code := r.URL.Query().Get("code")
	if code == "" {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewValidationError("Missing authorization code"))
		return
	}

	if _, err := h.client.CompleteOAuth(r.Context(), code); err != nil {
		slog.Error("oauth callback failed", slog.String("error", err.Error()))
		middleware.WriteError(w, r, err)
		return
	}

	http.Redirect(w, r, h.config.BaseURL+ScreenPrefix+session.EntryRoute, http.StatusTemporaryRedirect)
}

// generateState はCSRF対策用のランダムなstate値を生成する。
func generateState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
