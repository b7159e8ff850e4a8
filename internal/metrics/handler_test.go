package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestHandler_ExposesTrinketFamilies(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)
	c.RecordHTTPStatus(http.StatusCreated)
	c.RecordRequestLatency(30 * time.Millisecond)
	c.IncRealtimeChange("items", "insert")
	c.IncRealtimeReload("items", "unknown_event")
	c.IncUpload("url", "ok")
	c.RecordCleanup("sessions", 4)
	c.LiveStreamOpened()

	w := httptest.NewRecorder()
	Handler(reg).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	body, _ := io.ReadAll(w.Body)
	for _, want := range []string{
		`trinket_http_status_total{status_code="201"} 1`,
		`trinket_http_request_duration_seconds_count 1`,
		`trinket_realtime_changes_total{collection="items",kind="insert"} 1`,
		`trinket_realtime_reloads_total{collection="items",reason="unknown_event"} 1`,
		`trinket_uploads_total{result="ok",source="url"} 1`,
		`trinket_cleanup_deleted_total{kind="sessions"} 4`,
		`trinket_live_streams 1`,
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("response missing %q", want)
		}
	}
}

func TestHandler_EmptyRegistry(t *testing.T) {
	w := httptest.NewRecorder()
	Handler(prometheus.NewRegistry()).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if strings.Contains(w.Body.String(), "trinket_") {
		t.Errorf("unexpected metrics: %s", w.Body.String())
	}
}
