package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// User はバックエンドの認証アカウントを表す。
// プロフィール情報はMetadataに自由形式のキーバリューとして埋め込まれる。
type User struct {
	ID           string
	Email        string
	PasswordHash string // OAuthのみのアカウントでは空
	Metadata     map[string]any
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Identity は外部IdPとの紐付け情報を表す。
type Identity struct {
	ID             string
	UserID         string
	Provider       string
	ProviderUserID string
	CreatedAt      time.Time
}

// Session はリフレッシュトークンに対応するログインセッションを表す。
// IDがそのままリフレッシュトークンとして端末に渡される。
type Session struct {
	ID        string
	UserID    string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// PasswordReset はパスワード再設定トークンを表す。
// トークン本体は保存せず、SHA-256ハッシュのみを保持する。
type PasswordReset struct {
	TokenHash string
	UserID    string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// AuthSession は端末が保持する認証済みセッション。
type AuthSession struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
	UserID       string    `json:"user_id"`
	Email        string    `json:"email"`
}

// Expired はアクセストークンが期限切れ（またはmargin以内に期限切れ）かを返す。
func (s *AuthSession) Expired(now time.Time, margin time.Duration) bool {
	return !now.Add(margin).Before(s.ExpiresAt)
}

// プロフィールメタデータのキー
const (
	MetaFirstName        = "first_name"
	MetaLastName         = "last_name"
	MetaFullName         = "full_name"
	MetaBio              = "bio"
	MetaPeopleList       = "people_list"
	MetaSubscriptionPlan = "subscription_plan"
)

// SubscriptionPlans は選択可能なプランID。
var SubscriptionPlans = []string{"free", "plus", "pro"}

// Profile はアカウントメタデータから組み立てたプロフィール。
type Profile struct {
	Email            string   `json:"email"`
	FirstName        string   `json:"first_name"`
	LastName         string   `json:"last_name"`
	Bio              string   `json:"bio"`
	People           []string `json:"people_list"`
	SubscriptionPlan *string  `json:"subscription_plan"`
}

// ProfileFromMetadata はメタデータを寛容にデコードしてProfileを組み立てる。
// people_listが配列でない場合は値を1件の一覧として扱う。
func ProfileFromMetadata(email string, meta map[string]any) Profile {
	p := Profile{Email: email, People: []string{}}
	p.FirstName = metaString(meta[MetaFirstName])
	p.LastName = metaString(meta[MetaLastName])
	p.Bio = metaString(meta[MetaBio])

	switch v := meta[MetaPeopleList].(type) {
	case nil:
	case []any:
		for _, e := range v {
			if s := metaString(e); s != "" {
				p.People = append(p.People, s)
			}
		}
	case []string:
		p.People = append(p.People, v...)
	default:
		if s := metaString(v); s != "" {
			p.People = []string{s}
		}
	}

	if plan := metaString(meta[MetaSubscriptionPlan]); plan != "" {
		p.SubscriptionPlan = &plan
	}
	return p
}

func metaString(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case json.Number:
		return s.String()
	default:
		return fmt.Sprint(s)
	}
}
