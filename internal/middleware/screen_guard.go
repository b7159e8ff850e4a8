package middleware

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/hitoshi/trinket/internal/session"
)

// StateReader は現在のセッション状態を返す。session.Storeが実装する。
type StateReader interface {
	State() session.State
}

// LocationReporter は表示中の画面をガードに報告する。session.Navigationが実装する。
type LocationReporter interface {
	Visit(location string)
}

// NewScreenGuardMiddleware は画面ルートへのアクセスをセッション状態で振り分けるミドルウェアを返す。
// prefixを取り除いたパスを画面のルートとして扱う。
//
//   - 初期化中: 503と{"state":"initializing"}を返し、画面を表示させない
//   - 遷移が必要: 307で遷移先の画面へリダイレクトする
//   - それ以外: 現在地として報告してから画面を返す
func NewScreenGuardMiddleware(prefix string, states StateReader, nav LocationReporter) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			route := strings.TrimPrefix(r.URL.Path, prefix)
			if route == "" {
				route = "/"
			}

			state := states.State()
			if state == session.StateInitializing {
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Retry-After", "1")
				w.WriteHeader(http.StatusServiceUnavailable)
				json.NewEncoder(w).Encode(map[string]string{"state": state.String()})
				return
			}

			if target, redirect := session.Decide(state, route); redirect {
				http.Redirect(w, r, prefix+target, http.StatusTemporaryRedirect)
				return
			}

			if r.Method == http.MethodGet {
				nav.Visit(route)
			}
			next.ServeHTTP(w, r)
		})
	}
}
