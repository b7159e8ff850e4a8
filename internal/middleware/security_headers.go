package middleware

import (
	"net/http"
	"strings"
)

// NewSecurityHeadersMiddleware はセキュリティ関連のレスポンスヘッダーを付与するミドルウェアを返す。
// publicObjectPrefix配下の画像はUIシェルの別オリジンから読み込めるようにし、
// それ以外のレスポンスはセッションに紐づくためキャッシュさせない。
func NewSecurityHeadersMiddleware(publicObjectPrefix string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("X-Frame-Options", "DENY")
			h.Set("Referrer-Policy", "no-referrer")
			// 写真はアップロードか取り込みで扱い、カメラや位置情報は使わない
			h.Set("Permissions-Policy", "camera=(), microphone=(), geolocation=()")

			if publicObjectPrefix != "" && strings.HasPrefix(r.URL.Path, publicObjectPrefix) {
				h.Set("Cross-Origin-Resource-Policy", "cross-origin")
			} else {
				h.Set("Cross-Origin-Resource-Policy", "same-site")
				h.Set("Cache-Control", "no-store")
			}
			next.ServeHTTP(w, r)
		})
	}
}
