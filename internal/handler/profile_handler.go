package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/trinket/internal/inventory"
	"github.com/hitoshi/trinket/internal/middleware"
	"github.com/hitoshi/trinket/internal/model"
)

// ProfileServiceInterface はプロフィールハンドラーが必要とするサービスインターフェース。
type ProfileServiceInterface interface {
	Get(ctx context.Context, userID string) (model.Profile, error)
	Save(ctx context.Context, userID string, in inventory.ProfileInput) (model.Profile, error)
	// ChangePlan はplanがnilの場合にプランを解除する。
	ChangePlan(ctx context.Context, userID string, plan *string) (model.Profile, error)
	AddPerson(ctx context.Context, userID, name string) (model.Profile, error)
	RemovePerson(ctx context.Context, userID string, index int) (model.Profile, error)
	CompleteOnboarding(ctx context.Context, userID string, in inventory.OnboardingInput) (model.Profile, error)
}

// ProfileHandler はアカウント画面のプロフィール操作を扱うHTTPハンドラー。
type ProfileHandler struct {
	service ProfileServiceInterface
}

// NewProfileHandler はProfileHandlerを生成する。
func NewProfileHandler(service ProfileServiceInterface) *ProfileHandler {
	return &ProfileHandler{service: service}
}

type planRequest struct {
	Plan *string `json:"subscription_plan"`
}

type personRequest struct {
	Name string `json:"name"`
}

// GetProfile はプロフィールを返す。
// GET /api/profile
func (h *ProfileHandler) GetProfile(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	h.respond(w, r)(h.service.Get(r.Context(), userID))
}

// SaveProfile は名前と自己紹介を保存する。
// PUT /api/profile
func (h *ProfileHandler) SaveProfile(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	var in inventory.ProfileInput
	if !decodeJSON(w, r, &in) {
		return
	}
	h.respond(w, r)(h.service.Save(r.Context(), userID, in))
}

// ChangePlan はサブスクリプションプランを変更する。nullで解除する。
// PUT /api/profile/plan
func (h *ProfileHandler) ChangePlan(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	var req planRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	h.respond(w, r)(h.service.ChangePlan(r.Context(), userID, req.Plan))
}

// AddPerson は人物一覧に1件追加する。
// POST /api/profile/people
func (h *ProfileHandler) AddPerson(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	var req personRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	h.respond(w, r)(h.service.AddPerson(r.Context(), userID, req.Name))
}

// RemovePerson は人物一覧から指定位置の1件を取り除く。
// DELETE /api/profile/people/{index}
func (h *ProfileHandler) RemovePerson(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewValidationError("Person index must be a number"))
		return
	}
	h.respond(w, r)(h.service.RemovePerson(r.Context(), userID, index))
}

// CompleteOnboarding はオンボーディングの1ステップを保存する。
// POST /api/profile/onboarding
func (h *ProfileHandler) CompleteOnboarding(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	var in inventory.OnboardingInput
	if !decodeJSON(w, r, &in) {
		return
	}
	h.respond(w, r)(h.service.CompleteOnboarding(r.Context(), userID, in))
}

// respond はサービスの戻り値をそのままレスポンスに書き込む関数を返す。
func (h *ProfileHandler) respond(w http.ResponseWriter, r *http.Request) func(model.Profile, error) {
	return func(p model.Profile, err error) {
		if err != nil {
			middleware.WriteError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, p)
	}
}
