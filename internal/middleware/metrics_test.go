package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

type recordingMetrics struct {
	statuses  []int
	latencies []time.Duration
}

func (m *recordingMetrics) RecordHTTPStatus(statusCode int) {
	m.statuses = append(m.statuses, statusCode)
}

func (m *recordingMetrics) RecordRequestLatency(d time.Duration) {
	m.latencies = append(m.latencies, d)
}

func TestMetricsMiddleware_RecordsStatusAndLatency(t *testing.T) {
	rec := &recordingMetrics{}
	handler := NewMetricsMiddleware(rec)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write([]byte("ok"))
	}))

	for _, path := range []string{"/health", "/missing"} {
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	if len(rec.statuses) != 2 || rec.statuses[0] != http.StatusOK || rec.statuses[1] != http.StatusNotFound {
		t.Errorf("statuses = %v, want [200 404]", rec.statuses)
	}
	if len(rec.latencies) != 2 {
		t.Errorf("latencies recorded = %d, want 2", len(rec.latencies))
	}
}

func TestStatusRecorder_FlushesThrough(t *testing.T) {
	w := httptest.NewRecorder()
	sr := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}

	var f http.Flusher = sr
	f.Flush()

	if !w.Flushed {
		t.Error("expected underlying recorder to be flushed")
	}
	if sr.Unwrap() != w {
		t.Error("Unwrap should return the wrapped writer")
	}
}
