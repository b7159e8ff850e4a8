package handler

import (
	"context"
	"net/http"
)

// RecentTracker は最近見た所持品の一覧を扱う。recent.Trackerが実装する。
type RecentTracker interface {
	RecordView(ctx context.Context, id string)
	Recent(ctx context.Context) []string
	Clear(ctx context.Context)
}

// RecentHandler は最近見た所持品のHTTPハンドラー。
type RecentHandler struct {
	tracker RecentTracker
}

// NewRecentHandler はRecentHandlerを生成する。
func NewRecentHandler(tracker RecentTracker) *RecentHandler {
	return &RecentHandler{tracker: tracker}
}

// ListRecent は最近見た所持品IDを新しい順で返す。
// GET /api/recent
func (h *RecentHandler) ListRecent(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ids": h.tracker.Recent(r.Context())})
}

// ClearRecent は一覧を空にする。
// DELETE /api/recent
func (h *RecentHandler) ClearRecent(w http.ResponseWriter, r *http.Request) {
	h.tracker.Clear(r.Context())
	w.WriteHeader(http.StatusNoContent)
}
