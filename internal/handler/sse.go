package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// sseKeepAlive は接続維持のコメントを送る間隔。
const sseKeepAlive = 15 * time.Second

// sseWriter はServer-Sent Eventsのレスポンスを書き込む。
type sseWriter struct {
	w  http.ResponseWriter
	rc *http.ResponseController
}

// startSSE はSSEのヘッダーを送り、書き込みタイムアウトを解除する。
func startSSE(w http.ResponseWriter) (*sseWriter, error) {
	rc := http.NewResponseController(w)
	// 長時間接続のためサーバーのWriteTimeoutを無効にする。未対応のWriterでは無視する
	_ = rc.SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		return nil, fmt.Errorf("streaming unsupported: %w", err)
	}
	return &sseWriter{w: w, rc: rc}, nil
}

// event はnameのイベントとしてvをJSONで送る。
func (s *sseWriter) event(name string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", name, data); err != nil {
		return err
	}
	return s.rc.Flush()
}

// ping はコメント行を送って接続を維持する。
func (s *sseWriter) ping() error {
	if _, err := fmt.Fprint(s.w, ": ping\n\n"); err != nil {
		return err
	}
	return s.rc.Flush()
}
