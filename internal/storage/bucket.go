// Package storage は画像などのバイナリオブジェクトの保存と公開URLの発行を提供する。
package storage

import (
	"context"
	"errors"
	"io"
	"mime"
	"strings"

	"github.com/rs/xid"
)

// DefaultCacheControl はアップロード時に指定がない場合のCache-Control（秒）。
const DefaultCacheControl = "3600"

// PublicPathPrefix は公開オブジェクトを配信するURLパスの接頭辞。
const PublicPathPrefix = "/storage/v1/object/public/"

var (
	// ErrObjectExists はUpsert=falseで同じパスのオブジェクトが既にある場合のエラー。
	ErrObjectExists = errors.New("storage: object already exists")
	// ErrObjectNotFound はオブジェクトが存在しない場合のエラー。
	ErrObjectNotFound = errors.New("storage: object not found")
	// ErrInvalidPath はオブジェクトパスが不正な場合のエラー。
	ErrInvalidPath = errors.New("storage: invalid object path")
)

// UploadOptions はアップロード時のオプション。
type UploadOptions struct {
	ContentType  string
	CacheControl string
	Upsert       bool
}

// ObjectInfo は保存済みオブジェクトの属性。
type ObjectInfo struct {
	ContentType  string `json:"content_type"`
	CacheControl string `json:"cache_control"`
	Size         int64  `json:"size"`
}

// Bucket はオブジェクトストレージのバケット。
type Bucket interface {
	// Name はバケット名を返す。
	Name() string
	// Upload はrの内容をpathに保存する。
	Upload(ctx context.Context, path string, r io.Reader, opts UploadOptions) (ObjectInfo, error)
	// Open はpathのオブジェクトを読み出す。存在しない場合はErrObjectNotFoundを返す。
	Open(ctx context.Context, path string) (io.ReadCloser, ObjectInfo, error)
	// PublicURL はpathのオブジェクトを配信する公開URLを返す。
	PublicURL(path string) string
}

// ObjectPath はユーザーごとの一意なオブジェクトパス <user_id>/<xid>.<ext> を生成する。
func ObjectPath(userID, contentType string) string {
	return userID + "/" + xid.New().String() + ExtensionFor(contentType)
}

var knownExtensions = map[string]string{
	"image/jpeg":    ".jpg",
	"image/png":     ".png",
	"image/gif":     ".gif",
	"image/webp":    ".webp",
	"image/heic":    ".heic",
	"image/svg+xml": ".svg",
}

// ExtensionFor はContent-Typeに対応する拡張子を返す。不明な場合は".bin"。
func ExtensionFor(contentType string) string {
	mediaType := mediaTypeOf(contentType)
	if ext, ok := knownExtensions[mediaType]; ok {
		return ext
	}
	if exts, err := mime.ExtensionsByType(mediaType); err == nil && len(exts) > 0 {
		return exts[0]
	}
	return ".bin"
}

// IsImage はContent-Typeが画像かを返す。
func IsImage(contentType string) bool {
	return strings.HasPrefix(mediaTypeOf(contentType), "image/")
}

func mediaTypeOf(contentType string) string {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = strings.TrimSpace(strings.Split(contentType, ";")[0])
	}
	return strings.ToLower(mediaType)
}

// cleanObjectPath はバケット外を指すパスを拒否し、正規化したパスを返す。
func cleanObjectPath(path string) (string, error) {
	path = strings.TrimPrefix(path, "/")
	if path == "" || strings.Contains(path, "\\") {
		return "", ErrInvalidPath
	}
	for _, seg := range strings.Split(path, "/") {
		if seg == "" || seg == "." || seg == ".." {
			return "", ErrInvalidPath
		}
	}
	return path, nil
}
