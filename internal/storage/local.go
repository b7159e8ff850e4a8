package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

const metaSuffix = ".meta.json"

// LocalBucket はファイルシステム上のディレクトリをバケットとして扱う。
// オブジェクトの属性は同じ場所の<path>.meta.jsonに保存する。
type LocalBucket struct {
	root    string
	name    string
	baseURL string
}

// NewLocalBucket はdir/<name>をルートとするLocalBucketを生成する。
func NewLocalBucket(dir, name, baseURL string) (*LocalBucket, error) {
	if name == "" || strings.ContainsAny(name, "/\\") {
		return nil, fmt.Errorf("storage: invalid bucket name %q", name)
	}
	root := filepath.Join(dir, name)
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("storage: failed to create bucket directory: %w", err)
	}
	return &LocalBucket{root: root, name: name, baseURL: strings.TrimRight(baseURL, "/")}, nil
}

// Name はバケット名を返す。
func (b *LocalBucket) Name() string { return b.name }

// Upload はrの内容をpathに保存する。
// Upsert=falseで既に存在する場合はErrObjectExistsを返す。
func (b *LocalBucket) Upload(ctx context.Context, path string, r io.Reader, opts UploadOptions) (ObjectInfo, error) {
	clean, err := cleanObjectPath(path)
	if err != nil {
		return ObjectInfo{}, err
	}
	if strings.HasSuffix(clean, metaSuffix) {
		return ObjectInfo{}, ErrInvalidPath
	}
	if err := ctx.Err(); err != nil {
		return ObjectInfo{}, err
	}

	full := b.fullPath(clean)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return ObjectInfo{}, fmt.Errorf("storage: failed to create directory: %w", err)
	}

	flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	if !opts.Upsert {
		flags = os.O_WRONLY | os.O_CREATE | os.O_EXCL
	}
	f, err := os.OpenFile(full, flags, 0o644)
	if errors.Is(err, fs.ErrExist) {
		return ObjectInfo{}, ErrObjectExists
	}
	if err != nil {
		return ObjectInfo{}, fmt.Errorf("storage: failed to create object: %w", err)
	}

	size, copyErr := io.Copy(f, r)
	closeErr := f.Close()
	if copyErr != nil || closeErr != nil {
		os.Remove(full)
		if copyErr != nil {
			return ObjectInfo{}, fmt.Errorf("storage: failed to write object: %w", copyErr)
		}
		return ObjectInfo{}, fmt.Errorf("storage: failed to close object: %w", closeErr)
	}

	info := ObjectInfo{
		ContentType:  opts.ContentType,
		CacheControl: opts.CacheControl,
		Size:         size,
	}
	if info.ContentType == "" {
		info.ContentType = contentTypeByExtension(clean)
	}
	if info.CacheControl == "" {
		info.CacheControl = DefaultCacheControl
	}

	meta, err := json.Marshal(info)
	if err != nil {
		return ObjectInfo{}, err
	}
	if err := os.WriteFile(full+metaSuffix, meta, 0o644); err != nil {
		return ObjectInfo{}, fmt.Errorf("storage: failed to write object metadata: %w", err)
	}
	return info, nil
}

// Open はpathのオブジェクトを読み出す。
func (b *LocalBucket) Open(ctx context.Context, path string) (io.ReadCloser, ObjectInfo, error) {
	clean, err := cleanObjectPath(path)
	if err != nil {
		return nil, ObjectInfo{}, err
	}
	if strings.HasSuffix(clean, metaSuffix) {
		return nil, ObjectInfo{}, ErrObjectNotFound
	}
	full := b.fullPath(clean)

	f, err := os.Open(full)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ObjectInfo{}, ErrObjectNotFound
	}
	if err != nil {
		return nil, ObjectInfo{}, fmt.Errorf("storage: failed to open object: %w", err)
	}
	stat, err := f.Stat()
	if err != nil || stat.IsDir() {
		f.Close()
		return nil, ObjectInfo{}, ErrObjectNotFound
	}

	info := ObjectInfo{
		ContentType:  contentTypeByExtension(clean),
		CacheControl: DefaultCacheControl,
	}
	if data, err := os.ReadFile(full + metaSuffix); err == nil {
		json.Unmarshal(data, &info)
	}
	info.Size = stat.Size()
	return f, info, nil
}

// PublicURL は<BASE_URL>/storage/v1/object/public/<bucket>/<path>を返す。
func (b *LocalBucket) PublicURL(path string) string {
	segs := strings.Split(strings.TrimPrefix(path, "/"), "/")
	for i, s := range segs {
		segs[i] = url.PathEscape(s)
	}
	return b.baseURL + PublicPathPrefix + b.name + "/" + strings.Join(segs, "/")
}

func (b *LocalBucket) fullPath(clean string) string {
	return filepath.Join(b.root, filepath.FromSlash(clean))
}

func contentTypeByExtension(path string) string {
	if ct := mime.TypeByExtension(filepath.Ext(path)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

var _ Bucket = (*LocalBucket)(nil)
