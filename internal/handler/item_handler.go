package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/trinket/internal/inventory"
	"github.com/hitoshi/trinket/internal/middleware"
	"github.com/hitoshi/trinket/internal/model"
)

// ItemServiceInterface は所持品ハンドラーが必要とするサービスインターフェース。
type ItemServiceInterface interface {
	List(ctx context.Context, userID string) ([]model.ItemListEntry, error)
	Get(ctx context.Context, userID, id string) (*model.Item, error)
	Create(ctx context.Context, userID string, in model.ItemInput) (*model.Item, error)
	// Update はnil以外のフィールドのみを更新する。
	Update(ctx context.Context, userID, id string, patch model.ItemPatch) (*model.Item, error)
	Delete(ctx context.Context, userID, id string) error
	// FormOptions は登録フォームの選択肢を返す。取得に失敗した選択肢は空になる。
	FormOptions(ctx context.Context, userID string) inventory.FormOptions
}

// ItemHandler は所持品管理のHTTPハンドラー。
type ItemHandler struct {
	service ItemServiceInterface
}

// NewItemHandler はItemHandlerを生成する。
func NewItemHandler(service ItemServiceInterface) *ItemHandler {
	return &ItemHandler{service: service}
}

// itemDetailResponse は所持品詳細のレスポンス。
type itemDetailResponse struct {
	*model.Item
	ImageURLs []string `json:"image_urls"`
}

func toItemDetail(item *model.Item) itemDetailResponse {
	return itemDetailResponse{Item: item, ImageURLs: item.ImageURLs()}
}

// ListItems は所持品一覧を返す。
// GET /api/items
func (h *ItemHandler) ListItems(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	items, err := h.service.List(r.Context(), userID)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

// GetItem は所持品詳細を返す。
// GET /api/items/{id}
func (h *ItemHandler) GetItem(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	item, err := h.service.Get(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toItemDetail(item))
}

// CreateItem は所持品を登録する。
// POST /api/items
func (h *ItemHandler) CreateItem(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	var in model.ItemInput
	if !decodeJSON(w, r, &in) {
		return
	}
	item, err := h.service.Create(r.Context(), userID, in)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toItemDetail(item))
}

// UpdateItem は所持品を部分更新する。
// PATCH /api/items/{id}
func (h *ItemHandler) UpdateItem(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	var patch model.ItemPatch
	if !decodeJSON(w, r, &patch) {
		return
	}
	item, err := h.service.Update(r.Context(), userID, chi.URLParam(r, "id"), patch)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toItemDetail(item))
}

// DeleteItem は所持品を削除する。
// DELETE /api/items/{id}
func (h *ItemHandler) DeleteItem(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	if err := h.service.Delete(r.Context(), userID, chi.URLParam(r, "id")); err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// FormOptions は登録フォームの選択肢を返す。
// GET /api/items/options
func (h *ItemHandler) FormOptions(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, h.service.FormOptions(r.Context(), userID))
}
