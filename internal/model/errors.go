// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// APIError は統一エラーフォーマットを表す。
// UIのアラートに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ（アラート本文）
	Category string // カテゴリ: auth, validation, inventory, storage, system
	Action   string // ユーザー向け対処方法
	Err      error  // 原因となったバックエンドのエラー（ログ用、クライアントには返さない）
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap は原因エラーを返す。
func (e *APIError) Unwrap() error {
	return e.Err
}

// AsAPIError はエラーチェーンから*APIErrorを取り出す。
func AsAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

// エラーカテゴリ
const (
	CategoryAuth       = "auth"
	CategoryValidation = "validation"
	CategoryInventory  = "inventory"
	CategoryStorage    = "storage"
	CategorySystem     = "system"
)

// 定義済みエラーコード
const (
	ErrCodeValidation         = "VALIDATION_FAILED"
	ErrCodeItemNotFound       = "ITEM_NOT_FOUND"
	ErrCodeEventNotFound      = "EVENT_NOT_FOUND"
	ErrCodeLoadFailed         = "LOAD_FAILED"
	ErrCodeSaveFailed         = "SAVE_FAILED"
	ErrCodeSaveInProgress     = "SAVE_IN_PROGRESS"
	ErrCodeUnauthorized       = "UNAUTHORIZED"
	ErrCodeInvalidCredentials = "INVALID_CREDENTIALS"
	ErrCodeEmailTaken         = "EMAIL_TAKEN"
	ErrCodeInvalidToken       = "INVALID_TOKEN"
	ErrCodeUserNotFound       = "USER_NOT_FOUND"
	ErrCodeOAuthDisabled      = "OAUTH_DISABLED"
	ErrCodeInvalidPlan        = "INVALID_PLAN"
	ErrCodePersonNotFound     = "PERSON_NOT_FOUND"
	ErrCodeUploadFailed       = "UPLOAD_FAILED"
	ErrCodeObjectExists       = "OBJECT_EXISTS"
	ErrCodeInvalidURL         = "INVALID_URL"
	ErrCodeSSRFBlocked        = "SSRF_BLOCKED"
	ErrCodeNotAnImage         = "NOT_AN_IMAGE"
	ErrCodeCSRFFailed         = "CSRF_FAILED"
	ErrCodeInternal           = "INTERNAL_ERROR"
)

// NewValidationError は入力検証エラーを生成する。
// ネットワーク呼び出しの前に検出され、即座にアラートで表示される。
func NewValidationError(message string) *APIError {
	return &APIError{
		Code:     ErrCodeValidation,
		Message:  message,
		Category: CategoryValidation,
		Action:   "Fill in the required fields and try again.",
	}
}

// NewItemNotFoundError は所持品未検出エラーを生成する。
func NewItemNotFoundError(itemID string) *APIError {
	return &APIError{
		Code:     ErrCodeItemNotFound,
		Message:  fmt.Sprintf("Could not load item: %s", itemID),
		Category: CategoryInventory,
		Action:   "The item may have been deleted. Go back to the item list.",
	}
}

// NewEventNotFoundError は出来事未検出エラーを生成する。
func NewEventNotFoundError(eventID string) *APIError {
	return &APIError{
		Code:     ErrCodeEventNotFound,
		Message:  fmt.Sprintf("Could not load event: %s", eventID),
		Category: CategoryInventory,
		Action:   "The event may have been deleted. Go back to the event list.",
	}
}

// NewLoadFailedError はコレクションの一括取得失敗エラーを生成する。
// 直前のコレクションは保持され、再読み込みで再試行できる。
func NewLoadFailedError(collection string, cause error) *APIError {
	return &APIError{
		Code:     ErrCodeLoadFailed,
		Message:  fmt.Sprintf("Failed to load %s", collection),
		Category: CategorySystem,
		Action:   "Pull to refresh to try again.",
		Err:      cause,
	}
}

// NewSaveFailedError は保存操作の失敗エラーを生成する。
// actionには試行した操作名（例: "Could not add item"）を指定し、
// バックエンドのメッセージがあれば本文に含める。
func NewSaveFailedError(action string, cause error) *APIError {
	msg := action
	if cause != nil {
		msg = fmt.Sprintf("%s: %s", action, cause.Error())
	}
	return &APIError{
		Code:     ErrCodeSaveFailed,
		Message:  msg,
		Category: CategorySystem,
		Action:   "Please try again.",
		Err:      cause,
	}
}

// NewSaveInProgressError は同一操作の重複送信エラーを生成する。
func NewSaveInProgressError(action string) *APIError {
	return &APIError{
		Code:     ErrCodeSaveInProgress,
		Message:  fmt.Sprintf("%s is already in progress.", action),
		Category: CategoryValidation,
		Action:   "Wait for the current save to finish.",
	}
}

// NewUnauthorizedError は未認証エラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "Authentication required.",
		Category: CategoryAuth,
		Action:   "Sign in to continue.",
	}
}

// NewInvalidCredentialsError はログイン失敗エラーを生成する。
func NewInvalidCredentialsError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidCredentials,
		Message:  "Invalid login credentials.",
		Category: CategoryAuth,
		Action:   "Check your email and password.",
	}
}

// NewEmailTakenError はメールアドレス登録済みエラーを生成する。
func NewEmailTakenError() *APIError {
	return &APIError{
		Code:     ErrCodeEmailTaken,
		Message:  "User already registered.",
		Category: CategoryAuth,
		Action:   "Sign in instead, or reset your password.",
	}
}

// NewInvalidTokenError はトークン不正・期限切れエラーを生成する。
func NewInvalidTokenError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidToken,
		Message:  "Token is invalid or has expired.",
		Category: CategoryAuth,
		Action:   "Sign in again.",
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "User not found.",
		Category: CategoryAuth,
		Action:   "Sign in again.",
	}
}

// NewOAuthDisabledError は外部IdPログインが未設定の場合のエラーを生成する。
func NewOAuthDisabledError() *APIError {
	return &APIError{
		Code:     ErrCodeOAuthDisabled,
		Message:  "Google sign-in is not configured.",
		Category: CategoryAuth,
		Action:   "Sign in with email and password.",
	}
}

// NewInvalidPlanError は不明なプランIDが指定された場合のエラーを生成する。
func NewInvalidPlanError(plan string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidPlan,
		Message:  fmt.Sprintf("Unknown subscription plan: %s", plan),
		Category: CategoryValidation,
		Action:   "Choose one of free, plus or pro.",
	}
}

// NewPersonNotFoundError は人物一覧の範囲外インデックスが指定された場合のエラーを生成する。
func NewPersonNotFoundError(index int) *APIError {
	return &APIError{
		Code:     ErrCodePersonNotFound,
		Message:  fmt.Sprintf("Could not remove: no person at position %d", index),
		Category: CategoryValidation,
		Action:   "Reload your profile and try again.",
	}
}

// NewUploadFailedError は画像アップロード失敗エラーを生成する。
func NewUploadFailedError(cause error) *APIError {
	msg := "Upload failed"
	if cause != nil {
		msg = fmt.Sprintf("Upload failed: %s", cause.Error())
	}
	return &APIError{
		Code:     ErrCodeUploadFailed,
		Message:  msg,
		Category: CategoryStorage,
		Action:   "Please try again.",
		Err:      cause,
	}
}

// NewObjectExistsError は同一パスのオブジェクトが既に存在する場合のエラーを生成する。
func NewObjectExistsError(path string) *APIError {
	return &APIError{
		Code:     ErrCodeObjectExists,
		Message:  fmt.Sprintf("The resource already exists: %s", path),
		Category: CategoryStorage,
		Action:   "Upload the image again to store it under a new name.",
	}
}

// NewInvalidURLError は無効なURLエラーを生成する。
func NewInvalidURLError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidURL,
		Message:  fmt.Sprintf("Invalid URL: %s", reason),
		Category: CategoryValidation,
		Action:   "Enter a URL starting with http:// or https://.",
	}
}

// NewSSRFBlockedError はSSRFブロックエラーを生成する。
func NewSSRFBlockedError() *APIError {
	return &APIError{
		Code:     ErrCodeSSRFBlocked,
		Message:  "Access to the given URL is blocked by the security policy.",
		Category: CategoryValidation,
		Action:   "Use a publicly reachable image URL. Local and private network addresses are not allowed.",
	}
}

// NewNotAnImageError は取得したURLが画像でない場合のエラーを生成する。
func NewNotAnImageError(contentType string) *APIError {
	return &APIError{
		Code:     ErrCodeNotAnImage,
		Message:  fmt.Sprintf("The URL does not point to an image (content type %q).", contentType),
		Category: CategoryStorage,
		Action:   "Use a direct image link or a page that declares a preview image.",
	}
}

// NewCSRFFailedError はCSRFトークン検証に失敗した場合のエラーを生成する。
func NewCSRFFailedError() *APIError {
	return &APIError{
		Code:     ErrCodeCSRFFailed,
		Message:  "CSRF token validation failed.",
		Category: CategoryAuth,
		Action:   "Reload the app and try again.",
	}
}

// NewInternalError は原因を明かさない内部エラーを生成する。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "Something went wrong.",
		Category: CategorySystem,
		Action:   "Please wait a moment and try again.",
	}
}
