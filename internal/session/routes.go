package session

import "strings"

const (
	// UnauthenticatedGroup は未認証ユーザー向け画面のルートグループ。
	UnauthenticatedGroup = "/auth"
	// LoginRoute はログイン画面。
	LoginRoute = "/auth/login"
	// EntryRoute は認証済みユーザーの最初の画面。
	EntryRoute = "/tabs/items"
)

// InUnauthenticatedGroup は現在地が未認証ユーザー向けのルートグループ内かを返す。
func InUnauthenticatedGroup(location string) bool {
	return location == UnauthenticatedGroup || strings.HasPrefix(location, UnauthenticatedGroup+"/")
}

// Decide はセッション状態と現在地から遷移先を決める。
// 遷移が必要な場合はtrueと遷移先を返す。初期化中は判断しない。
func Decide(state State, location string) (string, bool) {
	switch state {
	case StateUnauthenticated:
		if !InUnauthenticatedGroup(location) {
			return LoginRoute, true
		}
	case StateAuthenticated:
		if InUnauthenticatedGroup(location) {
			return EntryRoute, true
		}
	}
	return "", false
}
