package storage

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/hitoshi/trinket/internal/model"
	"github.com/hitoshi/trinket/internal/security"
)

const (
	// DefaultMaxImageSize は取り込む画像の最大サイズ（10MB）。
	DefaultMaxImageSize = 10 * 1024 * 1024
	// DefaultFetchTimeout は外部URLの取得タイムアウト。
	DefaultFetchTimeout = 10 * time.Second

	maxPageSize = 1024 * 1024
	userAgent   = "Trinket/1.0 image importer"
)

// 画像の取り込み元
const (
	SourceUpload = "upload"
	SourceURL    = "url"
)

var errTooLarge = errors.New("image is too large")

// UploadCounter はアップロード結果を記録するメトリクス。
type UploadCounter interface {
	IncUpload(source, result string)
}

// ImporterOptions はImporterの設定。
type ImporterOptions struct {
	MaxSize int64
	Timeout time.Duration
	// Client は外部URLの取得に使うHTTPクライアント。nilならguard.NewSafeClientで生成する。
	Client  *http.Client
	Metrics UploadCounter
	Logger  *slog.Logger
}

// Importer はユーザーの画像をバケットに保存し、公開URLを返す。
type Importer struct {
	bucket  Bucket
	guard   security.URLGuard
	client  *http.Client
	maxSize int64
	metrics UploadCounter
	logger  *slog.Logger
}

// NewImporter はImporterを生成する。
func NewImporter(bucket Bucket, guard security.URLGuard, opts ImporterOptions) *Importer {
	if opts.MaxSize <= 0 {
		opts.MaxSize = DefaultMaxImageSize
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultFetchTimeout
	}
	client := opts.Client
	if client == nil {
		client = guard.NewSafeClient(opts.Timeout)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Importer{
		bucket:  bucket,
		guard:   guard,
		client:  client,
		maxSize: opts.MaxSize,
		metrics: opts.Metrics,
		logger:  logger,
	}
}

// Upload は端末から送られた画像を<user_id>/<xid>.<ext>に保存し、公開URLを返す。
// contentTypeが空の場合は内容から判定する。
func (im *Importer) Upload(ctx context.Context, userID string, r io.Reader, contentType string) (string, error) {
	publicURL, err := im.upload(ctx, userID, r, contentType)
	im.record(SourceUpload, err)
	return publicURL, err
}

// ImportFromURL は外部URLの画像を取り込み、公開URLを返す。
// URLがHTMLページの場合はog:image、twitter:image、link rel=image_srcの順で画像を探す。
func (im *Importer) ImportFromURL(ctx context.Context, userID, rawURL string) (string, error) {
	publicURL, err := im.importFromURL(ctx, userID, rawURL)
	im.record(SourceURL, err)
	return publicURL, err
}

func (im *Importer) importFromURL(ctx context.Context, userID, rawURL string) (string, error) {
	target, err := im.validate(rawURL)
	if err != nil {
		return "", err
	}

	resp, err := im.fetch(ctx, target)
	if err != nil {
		return "", model.NewUploadFailedError(err)
	}
	defer resp.Body.Close()

	contentType := resp.Header.Get("Content-Type")
	if IsImage(contentType) {
		return im.upload(ctx, userID, resp.Body, contentType)
	}
	if mediaTypeOf(contentType) != "text/html" {
		return "", model.NewNotAnImageError(contentType)
	}

	page, err := io.ReadAll(io.LimitReader(resp.Body, maxPageSize))
	if err != nil {
		return "", model.NewUploadFailedError(err)
	}
	imageURL := FindImageLink(page, resp.Request.URL)
	if imageURL == "" {
		return "", model.NewNotAnImageError(contentType)
	}

	imageTarget, err := im.validate(imageURL)
	if err != nil {
		return "", err
	}
	imageResp, err := im.fetch(ctx, imageTarget)
	if err != nil {
		return "", model.NewUploadFailedError(err)
	}
	defer imageResp.Body.Close()

	imageType := imageResp.Header.Get("Content-Type")
	if !IsImage(imageType) {
		return "", model.NewNotAnImageError(imageType)
	}
	return im.upload(ctx, userID, imageResp.Body, imageType)
}

func (im *Importer) upload(ctx context.Context, userID string, r io.Reader, contentType string) (string, error) {
	if userID == "" {
		return "", model.NewUnauthorizedError()
	}

	br := bufio.NewReaderSize(r, 512)
	if contentType == "" || mediaTypeOf(contentType) == "application/octet-stream" {
		head, _ := br.Peek(512)
		contentType = http.DetectContentType(head)
	}
	if !IsImage(contentType) {
		return "", model.NewNotAnImageError(contentType)
	}

	data, err := io.ReadAll(io.LimitReader(br, im.maxSize+1))
	if err != nil {
		return "", model.NewUploadFailedError(err)
	}
	if int64(len(data)) > im.maxSize {
		return "", model.NewUploadFailedError(errTooLarge)
	}
	if len(data) == 0 {
		return "", model.NewUploadFailedError(errors.New("empty file"))
	}

	path := ObjectPath(userID, contentType)
	_, err = im.bucket.Upload(ctx, path, bytes.NewReader(data), UploadOptions{
		ContentType:  mediaTypeOf(contentType),
		CacheControl: DefaultCacheControl,
		Upsert:       false,
	})
	if errors.Is(err, ErrObjectExists) {
		return "", model.NewObjectExistsError(path)
	}
	if err != nil {
		return "", model.NewUploadFailedError(err)
	}

	im.logger.Info("image stored",
		slog.String("user_id", userID),
		slog.String("path", path),
		slog.Int("size", len(data)),
	)
	return im.bucket.PublicURL(path), nil
}

func (im *Importer) validate(rawURL string) (*url.URL, error) {
	target, err := im.guard.Validate(rawURL)
	if errors.Is(err, security.ErrBlockedURL) {
		im.logger.Warn("image import blocked", slog.String("url", rawURL))
		return nil, model.NewSSRFBlockedError()
	}
	if err != nil {
		return nil, model.NewInvalidURLError(strings.TrimPrefix(err.Error(), security.ErrInvalidURL.Error()+": "))
	}
	return target, nil
}

func (im *Importer) fetch(ctx context.Context, target *url.URL) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "image/*,text/html;q=0.8")

	resp, err := im.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		resp.Body.Close()
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return resp, nil
}

func (im *Importer) record(source string, err error) {
	if im.metrics == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "failure"
	}
	im.metrics.IncUpload(source, result)
}

// imageMetaKeys は画像URLを示すmetaタグのproperty/name（優先順）。
var imageMetaKeys = []string{"og:image:secure_url", "og:image", "og:image:url", "twitter:image", "twitter:image:src"}

// FindImageLink はHTMLページから代表画像のURLを探し、baseで解決した絶対URLを返す。
// 見つからない場合は空文字を返す。
func FindImageLink(page []byte, base *url.URL) string {
	found := make(map[string]string)
	var imageSrc string

	tokenizer := html.NewTokenizer(bytes.NewReader(page))
	for {
		tt := tokenizer.Next()
		if tt == html.ErrorToken {
			break
		}
		if tt != html.StartTagToken && tt != html.SelfClosingTagToken {
			continue
		}
		tn, hasAttr := tokenizer.TagName()
		tag := string(tn)
		if tag == "body" {
			break
		}
		if !hasAttr || (tag != "meta" && tag != "link") {
			continue
		}

		attrs := make(map[string]string)
		for {
			key, val, more := tokenizer.TagAttr()
			attrs[strings.ToLower(string(key))] = strings.TrimSpace(string(val))
			if !more {
				break
			}
		}

		switch tag {
		case "meta":
			key := strings.ToLower(attrs["property"])
			if key == "" {
				key = strings.ToLower(attrs["name"])
			}
			if attrs["content"] != "" {
				if _, ok := found[key]; !ok {
					found[key] = attrs["content"]
				}
			}
		case "link":
			if strings.EqualFold(attrs["rel"], "image_src") && imageSrc == "" {
				imageSrc = attrs["href"]
			}
		}
	}

	candidate := imageSrc
	for _, key := range imageMetaKeys {
		if v := found[key]; v != "" {
			candidate = v
			break
		}
	}
	if candidate == "" {
		return ""
	}

	ref, err := url.Parse(candidate)
	if err != nil {
		return ""
	}
	if base == nil {
		return ref.String()
	}
	return base.ResolveReference(ref).String()
}
