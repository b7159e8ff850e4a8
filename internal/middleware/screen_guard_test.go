package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hitoshi/trinket/internal/session"
)

type fixedState struct{ state session.State }

func (f fixedState) State() session.State { return f.state }

type recordingNav struct{ visited []string }

func (n *recordingNav) Visit(location string) { n.visited = append(n.visited, location) }

func TestScreenGuard(t *testing.T) {
	tests := []struct {
		name         string
		state        session.State
		path         string
		wantStatus   int
		wantLocation string
		wantVisit    string
	}{
		{"initializing blocks every screen", session.StateInitializing, "/screens/tabs/items", http.StatusServiceUnavailable, "", ""},
		{"unauthenticated outside auth group", session.StateUnauthenticated, "/screens/tabs/items", http.StatusTemporaryRedirect, "/screens/auth/login", ""},
		{"unauthenticated inside auth group", session.StateUnauthenticated, "/screens/auth/signup", http.StatusOK, "", "/auth/signup"},
		{"authenticated inside auth group", session.StateAuthenticated, "/screens/auth/login", http.StatusTemporaryRedirect, "/screens/tabs/items", ""},
		{"authenticated on a tab", session.StateAuthenticated, "/screens/tabs/account", http.StatusOK, "", "/tabs/account"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			nav := &recordingNav{}
			called := false
			handler := NewScreenGuardMiddleware("/screens", fixedState{tt.state}, nav)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				called = true
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			resp := w.Result()
			if resp.StatusCode != tt.wantStatus {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}
			if got := resp.Header.Get("Location"); got != tt.wantLocation {
				t.Errorf("Location = %q, want %q", got, tt.wantLocation)
			}
			if called != (tt.wantStatus == http.StatusOK) {
				t.Errorf("handler called = %v", called)
			}
			if tt.wantVisit == "" && len(nav.visited) != 0 {
				t.Errorf("unexpected visit %v", nav.visited)
			}
			if tt.wantVisit != "" && (len(nav.visited) != 1 || nav.visited[0] != tt.wantVisit) {
				t.Errorf("visited = %v, want [%s]", nav.visited, tt.wantVisit)
			}
		})
	}
}

func TestScreenGuard_InitializingBody(t *testing.T) {
	handler := NewScreenGuardMiddleware("/screens", fixedState{session.StateInitializing}, &recordingNav{})(http.NotFoundHandler())

	req := httptest.NewRequest(http.MethodGet, "/screens/tabs/home", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	var body map[string]string
	if err := json.NewDecoder(w.Result().Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if body["state"] != "initializing" {
		t.Errorf("state = %q, want initializing", body["state"])
	}
}
