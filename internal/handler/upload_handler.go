package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/trinket/internal/middleware"
	"github.com/hitoshi/trinket/internal/model"
	"github.com/hitoshi/trinket/internal/storage"
)

// uploadFormField はマルチパートで画像を送るフィールド名。
const uploadFormField = "file"

// ImageImporter は画像をバケットに保存して公開URLを返す。storage.Importerが実装する。
type ImageImporter interface {
	Upload(ctx context.Context, userID string, r io.Reader, contentType string) (string, error)
	ImportFromURL(ctx context.Context, userID, rawURL string) (string, error)
}

// ObjectReader は公開オブジェクトを読み出す。storage.Bucketが実装する。
type ObjectReader interface {
	Name() string
	Open(ctx context.Context, path string) (io.ReadCloser, storage.ObjectInfo, error)
}

// UploadHandler は画像アップロードと公開オブジェクト配信のHTTPハンドラー。
type UploadHandler struct {
	importer ImageImporter
	objects  ObjectReader
}

// NewUploadHandler はUploadHandlerを生成する。
func NewUploadHandler(importer ImageImporter, objects ObjectReader) *UploadHandler {
	return &UploadHandler{importer: importer, objects: objects}
}

type importRequest struct {
	URL string `json:"url"`
}

type uploadResponse struct {
	URL string `json:"url"`
}

// Upload は端末から送られた画像を保存する。
// POST /api/uploads (multipart/form-data, field "file")
func (h *UploadHandler) Upload(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	mr, err := r.MultipartReader()
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewValidationError("Expected a multipart upload"))
		return
	}
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewValidationError("Could not read the upload"))
			return
		}
		if part.FormName() != uploadFormField {
			part.Close()
			continue
		}

		publicURL, err := h.importer.Upload(r.Context(), userID, part, part.Header.Get("Content-Type"))
		part.Close()
		if err != nil {
			middleware.WriteError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, uploadResponse{URL: publicURL})
		return
	}
	middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewValidationError("Select an image to upload"))
}

// Import は外部URLの画像を取り込む。
// POST /api/uploads/import
func (h *UploadHandler) Import(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	var req importRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.URL) == "" {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewValidationError("Image URL is required"))
		return
	}
	publicURL, err := h.importer.ImportFromURL(r.Context(), userID, req.URL)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, uploadResponse{URL: publicURL})
}

// ServeObject は公開バケットのオブジェクトを返す。
// GET /storage/v1/object/public/{bucket}/*
func (h *UploadHandler) ServeObject(w http.ResponseWriter, r *http.Request) {
	if chi.URLParam(r, "bucket") != h.objects.Name() {
		writeObjectNotFound(w)
		return
	}

	body, info, err := h.objects.Open(r.Context(), chi.URLParam(r, "*"))
	if errors.Is(err, storage.ErrObjectNotFound) || errors.Is(err, storage.ErrInvalidPath) {
		writeObjectNotFound(w)
		return
	}
	if err != nil {
		slog.Error("failed to open object", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", info.ContentType)
	w.Header().Set("Cache-Control", "max-age="+info.CacheControl)
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodHead {
		return
	}
	if _, err := io.Copy(w, body); err != nil {
		slog.Warn("failed to send object", slog.String("error", err.Error()))
	}
}

func writeObjectNotFound(w http.ResponseWriter) {
	middleware.WriteErrorResponse(w, http.StatusNotFound, &model.APIError{
		Code:     "OBJECT_NOT_FOUND",
		Message:  "Object not found.",
		Category: model.CategoryStorage,
		Action:   "Check the image URL.",
	})
}
