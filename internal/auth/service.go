// Package auth はアカウント登録、ログイン、トークンのリフレッシュ、パスワード再設定を提供する。
// バックエンド側のServiceと、端末側でセッションを保持するClientからなる。
package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/trinket/internal/model"
	"github.com/hitoshi/trinket/internal/repository"
)

// ProviderGoogle はGoogleのidentityプロバイダー名。
const ProviderGoogle = "google"

// OAuthUserInfo はOAuthプロバイダーから取得したユーザー情報を表す。
type OAuthUserInfo struct {
	ProviderUserID string
	Email          string
	Name           string
	Provider       string
}

// OAuthProvider はOAuth認証プロバイダーのインターフェース。
type OAuthProvider interface {
	// GetLoginURL はOAuth認証URLを生成する。
	GetLoginURL(state string) string
	// ExchangeCode は認可コードをトークンに交換し、ユーザー情報を取得する。
	ExchangeCode(ctx context.Context, code string) (*OAuthUserInfo, error)
}

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	RefreshTokenTTL  time.Duration
	PasswordResetTTL time.Duration
	// ResetURL はパスワード再設定画面のURL。トークンはtokenクエリパラメータで付与する。
	ResetURL string
}

// Service は認証に関するバックエンドのロジックを提供する。
type Service struct {
	oauth       OAuthProvider // nilならGoogleログイン無効
	userRepo    repository.UserRepository
	identRepo   repository.IdentityRepository
	sessionRepo repository.SessionRepository
	resetRepo   repository.PasswordResetRepository
	passwords   *PasswordService
	tokens      *TokenService
	mailer      Mailer
	config      ServiceConfig
	now         func() time.Time
}

// Deps はServiceの依存関係。
type Deps struct {
	OAuth      OAuthProvider
	Users      repository.UserRepository
	Identities repository.IdentityRepository
	Sessions   repository.SessionRepository
	Resets     repository.PasswordResetRepository
	Passwords  *PasswordService
	Tokens     *TokenService
	Mailer     Mailer
}

// NewService はServiceを生成する。
func NewService(deps Deps, config ServiceConfig) *Service {
	if config.RefreshTokenTTL <= 0 {
		config.RefreshTokenTTL = 720 * time.Hour
	}
	if config.PasswordResetTTL <= 0 {
		config.PasswordResetTTL = time.Hour
	}
	if deps.Passwords == nil {
		deps.Passwords = NewPasswordService(0)
	}
	if deps.Mailer == nil {
		deps.Mailer = NewLogMailer(nil)
	}
	return &Service{
		oauth:       deps.OAuth,
		userRepo:    deps.Users,
		identRepo:   deps.Identities,
		sessionRepo: deps.Sessions,
		resetRepo:   deps.Resets,
		passwords:   deps.Passwords,
		tokens:      deps.Tokens,
		mailer:      deps.Mailer,
		config:      config,
		now:         time.Now,
	}
}

// OAuthEnabled はGoogleログインが利用可能かを返す。
func (s *Service) OAuthEnabled() bool {
	return s.oauth != nil
}

// GetLoginURL はOAuth認証URLを生成する。
func (s *Service) GetLoginURL(state string) (string, error) {
	if s.oauth == nil {
		return "", model.NewOAuthDisabledError()
	}
	return s.oauth.GetLoginURL(state), nil
}

// SignUp はメールアドレスとパスワードでアカウントを作成し、セッションを発行する。
func (s *Service) SignUp(ctx context.Context, email, password string) (*model.AuthSession, error) {
	if apiErr := ValidateCredentials(email, password); apiErr != nil {
		return nil, apiErr
	}
	email = normalizeEmail(email)

	existing, err := s.userRepo.FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if existing != nil {
		return nil, model.NewEmailTakenError()
	}

	hash, err := s.passwords.Hash(password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	now := s.now()
	user := &model.User{
		ID:           uuid.New().String(),
		Email:        email,
		PasswordHash: hash,
		Metadata:     map[string]any{},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.userRepo.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, model.NewEmailTakenError()
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	slog.Info("user signed up", slog.String("user_id", user.ID))
	return s.issueSession(ctx, user)
}

// SignInWithPassword はメールアドレスとパスワードで認証し、セッションを発行する。
// アカウントが存在しない場合とパスワード不一致は区別せずINVALID_CREDENTIALSを返す。
func (s *Service) SignInWithPassword(ctx context.Context, email, password string) (*model.AuthSession, error) {
	if apiErr := ValidateEmail(email); apiErr != nil {
		return nil, apiErr
	}
	if password == "" {
		return nil, model.NewValidationError("Password is required")
	}

	user, err := s.userRepo.FindByEmail(ctx, normalizeEmail(email))
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil || user.PasswordHash == "" {
		return nil, model.NewInvalidCredentialsError()
	}

	if err := s.passwords.Verify(user.PasswordHash, password); err != nil {
		if errors.Is(err, ErrPasswordMismatch) {
			return nil, model.NewInvalidCredentialsError()
		}
		return nil, fmt.Errorf("failed to verify password: %w", err)
	}

	slog.Info("user signed in", slog.String("user_id", user.ID))
	return s.issueSession(ctx, user)
}

// HandleOAuthCallback はOAuthコールバックを処理し、セッションを発行する。
// 未登録ユーザーの場合はusersレコードとidentitiesレコードを同時に自動作成する。
// 同じメールアドレスのアカウントが既にある場合はidentityを紐付ける。
func (s *Service) HandleOAuthCallback(ctx context.Context, code string) (*model.AuthSession, error) {
	if s.oauth == nil {
		return nil, model.NewOAuthDisabledError()
	}

	info, err := s.oauth.ExchangeCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange oauth code: %w", err)
	}

	identity, err := s.identRepo.FindByProviderAndProviderUserID(ctx, info.Provider, info.ProviderUserID)
	if err != nil {
		return nil, fmt.Errorf("failed to find identity: %w", err)
	}

	if identity != nil {
		user, err := s.userRepo.FindByID(ctx, identity.UserID)
		if err != nil {
			return nil, fmt.Errorf("failed to find user: %w", err)
		}
		if user == nil {
			return nil, model.NewUserNotFoundError()
		}
		slog.Info("existing user logged in",
			slog.String("user_id", user.ID),
			slog.String("provider", info.Provider),
		)
		return s.issueSession(ctx, user)
	}

	now := s.now()
	email := normalizeEmail(info.Email)
	newIdentity := &model.Identity{
		ID:             uuid.New().String(),
		Provider:       info.Provider,
		ProviderUserID: info.ProviderUserID,
		CreatedAt:      now,
	}

	if email != "" {
		existing, err := s.userRepo.FindByEmail(ctx, email)
		if err != nil {
			return nil, fmt.Errorf("failed to find user: %w", err)
		}
		if existing != nil {
			newIdentity.UserID = existing.ID
			if err := s.identRepo.Create(ctx, newIdentity); err != nil {
				return nil, fmt.Errorf("failed to link identity: %w", err)
			}
			slog.Info("identity linked to existing user",
				slog.String("user_id", existing.ID),
				slog.String("provider", info.Provider),
			)
			return s.issueSession(ctx, existing)
		}
	}

	user := &model.User{
		ID:        uuid.New().String(),
		Email:     email,
		Metadata:  map[string]any{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if name := strings.TrimSpace(info.Name); name != "" {
		user.Metadata[model.MetaFullName] = name
	}
	newIdentity.UserID = user.ID

	if err := s.userRepo.CreateWithIdentity(ctx, user, newIdentity); err != nil {
		return nil, fmt.Errorf("failed to create user and identity: %w", err)
	}

	slog.Info("new user created",
		slog.String("user_id", user.ID),
		slog.String("provider", info.Provider),
	)
	return s.issueSession(ctx, user)
}

// Refresh はリフレッシュトークンを検証し、新しいセッションに交換する。
// 使用済みのリフレッシュトークンは無効になる。
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*model.AuthSession, error) {
	if refreshToken == "" {
		return nil, model.NewInvalidTokenError()
	}

	sess, err := s.sessionRepo.Consume(ctx, refreshToken)
	if err != nil {
		return nil, fmt.Errorf("failed to rotate session: %w", err)
	}
	if sess == nil {
		return nil, model.NewInvalidTokenError()
	}

	user, err := s.userRepo.FindByID(ctx, sess.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}
	return s.issueSession(ctx, user)
}

// SignOut はリフレッシュセッションを破棄する。
func (s *Service) SignOut(ctx context.Context, refreshToken string) error {
	if refreshToken == "" {
		return fmt.Errorf("session ID is required")
	}
	if err := s.sessionRepo.DeleteByID(ctx, refreshToken); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	slog.Info("user signed out")
	return nil
}

// Authenticate はアクセストークンを検証し、対応するセッションが有効ならクレームを返す。
// サインアウト済みのセッションに紐づくトークンは拒否する。
func (s *Service) Authenticate(ctx context.Context, accessToken string) (*Claims, error) {
	claims, err := s.tokens.Validate(accessToken)
	if err != nil {
		return nil, model.NewInvalidTokenError()
	}
	sess, err := s.sessionRepo.FindByID(ctx, claims.SessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	if sess == nil || sess.UserID != claims.Subject {
		return nil, model.NewInvalidTokenError()
	}
	return claims, nil
}

// GetUser はユーザーを取得する。
func (s *Service) GetUser(ctx context.Context, userID string) (*model.User, error) {
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}
	return user, nil
}

// UpdateUserMetadata はアカウントメタデータのトップレベルのキーを上書きする。
// 値がnilのキーは削除される。
func (s *Service) UpdateUserMetadata(ctx context.Context, userID string, patch map[string]any) (*model.User, error) {
	user, err := s.userRepo.MergeMetadata(ctx, userID, patch)
	if err != nil {
		return nil, fmt.Errorf("failed to update user metadata: %w", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}
	return user, nil
}

// RequestPasswordReset はパスワード再設定トークンを発行し、Mailerでリンクを送る。
// 未登録のメールアドレスでも成功として扱い、登録有無を外部に漏らさない。
func (s *Service) RequestPasswordReset(ctx context.Context, email string) error {
	if apiErr := ValidateEmail(email); apiErr != nil {
		return apiErr
	}
	email = normalizeEmail(email)

	user, err := s.userRepo.FindByEmail(ctx, email)
	if err != nil {
		return fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		slog.Info("password reset requested for unknown email")
		return nil
	}

	token, err := generateToken()
	if err != nil {
		return fmt.Errorf("failed to generate reset token: %w", err)
	}
	now := s.now()
	reset := &model.PasswordReset{
		TokenHash: hashToken(token),
		UserID:    user.ID,
		ExpiresAt: now.Add(s.config.PasswordResetTTL),
		CreatedAt: now,
	}
	if err := s.resetRepo.Create(ctx, reset); err != nil {
		return fmt.Errorf("failed to save reset token: %w", err)
	}

	if err := s.mailer.SendPasswordReset(ctx, user.Email, s.resetLink(token)); err != nil {
		return fmt.Errorf("failed to send reset link: %w", err)
	}
	return nil
}

// ResetPassword は再設定トークンを消費して新しいパスワードを設定する。
// 既存のセッションはすべて破棄される。
func (s *Service) ResetPassword(ctx context.Context, token, password string) error {
	if token == "" {
		return model.NewInvalidTokenError()
	}
	if apiErr := ValidatePassword(password); apiErr != nil {
		return apiErr
	}

	reset, err := s.resetRepo.Consume(ctx, hashToken(token))
	if err != nil {
		return fmt.Errorf("failed to consume reset token: %w", err)
	}
	if reset == nil {
		return model.NewInvalidTokenError()
	}

	hash, err := s.passwords.Hash(password)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}
	if err := s.userRepo.UpdatePasswordHash(ctx, reset.UserID, hash); err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}
	if err := s.sessionRepo.DeleteByUserID(ctx, reset.UserID); err != nil {
		return fmt.Errorf("failed to revoke sessions: %w", err)
	}

	slog.Info("password reset completed", slog.String("user_id", reset.UserID))
	return nil
}

// issueSession はリフレッシュセッションを永続化し、アクセストークンと組にして返す。
func (s *Service) issueSession(ctx context.Context, user *model.User) (*model.AuthSession, error) {
	sessionID, err := generateToken()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session ID: %w", err)
	}

	now := s.now()
	sess := &model.Session{
		ID:        sessionID,
		UserID:    user.ID,
		ExpiresAt: now.Add(s.config.RefreshTokenTTL),
		CreatedAt: now,
	}
	if err := s.sessionRepo.Create(ctx, sess); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	accessToken, expiresAt, err := s.tokens.Issue(user.ID, sess.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to issue access token: %w", err)
	}

	return &model.AuthSession{
		AccessToken:  accessToken,
		RefreshToken: sess.ID,
		ExpiresAt:    expiresAt,
		UserID:       user.ID,
		Email:        user.Email,
	}, nil
}

func (s *Service) resetLink(token string) string {
	base := s.config.ResetURL
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	return base + sep + "token=" + url.QueryEscape(token)
}

// generateToken は暗号的に安全なランダムトークンを生成する。
func generateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
