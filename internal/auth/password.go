package auth

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/hitoshi/trinket/internal/model"
)

const (
	// DefaultBcryptCost は本番で使うbcryptのコスト。
	DefaultBcryptCost = 12

	minPasswordLength = 6
	maxPasswordBytes  = 72
)

// ErrPasswordMismatch はパスワードがハッシュと一致しない場合のエラー。
var ErrPasswordMismatch = errors.New("auth: password mismatch")

// PasswordService はbcryptによるパスワードのハッシュ化と照合を行う。
type PasswordService struct {
	cost int
}

// NewPasswordService は指定コストのPasswordServiceを生成する。0以下なら既定値を使う。
// テストではbcrypt.MinCostを渡して高速化する。
func NewPasswordService(cost int) *PasswordService {
	if cost <= 0 {
		cost = DefaultBcryptCost
	}
	return &PasswordService{cost: cost}
}

// Hash はパスワードをハッシュ化する。
func (p *PasswordService) Hash(plaintext string) (string, error) {
	if len(plaintext) > maxPasswordBytes {
		return "", fmt.Errorf("auth: password must be %d bytes or fewer", maxPasswordBytes)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(plaintext), p.cost)
	if err != nil {
		return "", fmt.Errorf("auth: hashing password: %w", err)
	}
	return string(hash), nil
}

// Verify はパスワードがハッシュと一致するかを検証する。一致しない場合はErrPasswordMismatchを返す。
func (p *PasswordService) Verify(hash, plaintext string) error {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(plaintext))
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return ErrPasswordMismatch
	}
	if err != nil {
		return fmt.Errorf("auth: comparing password hash: %w", err)
	}
	return nil
}

// ValidateEmail はメールアドレスの最低限の形式を検証する。
func ValidateEmail(email string) *model.APIError {
	email = strings.TrimSpace(email)
	if email == "" {
		return model.NewValidationError("Email is required")
	}
	if !strings.Contains(email, "@") {
		return model.NewValidationError("Please enter a valid email address")
	}
	return nil
}

// ValidatePassword はパスワードの長さを検証する。
func ValidatePassword(password string) *model.APIError {
	if password == "" {
		return model.NewValidationError("Password is required")
	}
	if len([]rune(password)) < minPasswordLength {
		return model.NewValidationError(fmt.Sprintf("Password must be at least %d characters", minPasswordLength))
	}
	if len(password) > maxPasswordBytes {
		return model.NewValidationError(fmt.Sprintf("Password must be %d bytes or fewer", maxPasswordBytes))
	}
	return nil
}

// ValidateCredentials はサインアップ・ログインフォームの入力を検証する。
func ValidateCredentials(email, password string) *model.APIError {
	if err := ValidateEmail(email); err != nil {
		return err
	}
	return ValidatePassword(password)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
