package images

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"stamp-price-tracker/internal/observability"
)

const defaultExt = ".jpg"

var allowedExt = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".webp": true, ".bmp": true,
}

var ErrTooLarge = errors.New("image exceeds size limit")

type Options struct {
	Dir       string
	MaxBytes  int64
	CacheSize int
	UserAgent string
	Timeout   time.Duration
}

// DownloadResult итог загрузки одной картинки
type DownloadResult struct {
	Path    string
	Skipped bool
	Reused  bool
	Bytes   int64
}

// Downloader сохраняет картинки в <dir>/<ключ><расширение>
type Downloader struct {
	client *http.Client
	opts   Options
	logger *observability.Logger
	// URL -> путь уже скачанного файла
	recent *lru.Cache[string, string]
}

func NewDownloader(opts Options, client *http.Client, logger *observability.Logger) (*Downloader, error) {
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	}
	size := opts.CacheSize
	if size <= 0 {
		size = 128
	}
	recent, err := lru.New[string, string](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create image cache: %w", err)
	}
	return &Downloader{client: client, opts: opts, logger: logger, recent: recent}, nil
}

// TargetPath путь файла для ключа и URL картинки
func (d *Downloader) TargetPath(key, imageURL string) string {
	return filepath.Join(d.opts.Dir, safeName(key)+extension(imageURL))
}

// Download скачивает картинку, если файла ещё нет.
// Одна и та же картинка для разных ключей копируется с диска.
func (d *Downloader) Download(ctx context.Context, key, imageURL string) (DownloadResult, error) {
	target := d.TargetPath(key, imageURL)

	if _, err := os.Stat(target); err == nil {
		d.recent.Add(imageURL, target)
		return DownloadResult{Path: target, Skipped: true}, nil
	}

	if err := os.MkdirAll(d.opts.Dir, 0o755); err != nil {
		return DownloadResult{}, fmt.Errorf("failed to create image dir: %w", err)
	}

	if prev, ok := d.recent.Get(imageURL); ok && prev != target {
		if n, err := copyFile(prev, target); err == nil {
			return DownloadResult{Path: target, Reused: true, Bytes: n}, nil
		}
		d.recent.Remove(imageURL)
	}

	n, err := d.fetch(ctx, imageURL, target)
	if err != nil {
		return DownloadResult{}, err
	}
	d.recent.Add(imageURL, target)

	d.logger.Debug("Image downloaded", "key", key, "url", imageURL, "path", target, "bytes", n)
	return DownloadResult{Path: target, Bytes: n}, nil
}

func (d *Downloader) fetch(ctx context.Context, imageURL, target string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return 0, fmt.Errorf("invalid image URL %q: %w", imageURL, err)
	}
	if d.opts.UserAgent != "" {
		req.Header.Set("User-Agent", d.opts.UserAgent)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch image: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("failed to fetch image %s: status %d", imageURL, resp.StatusCode)
	}

	limit := d.opts.MaxBytes
	if limit <= 0 {
		limit = 5 << 20
	}

	return writeAtomic(target, io.LimitReader(resp.Body, limit+1), limit)
}

func writeAtomic(target string, r io.Reader, limit int64) (int64, error) {
	tmp, err := os.CreateTemp(filepath.Dir(target), filepath.Base(target)+".part-*")
	if err != nil {
		return 0, err
	}
	tmpName := tmp.Name()

	n, err := io.Copy(tmp, r)
	closeErr := tmp.Close()
	switch {
	case err != nil:
	case closeErr != nil:
		err = closeErr
	case limit > 0 && n > limit:
		err = ErrTooLarge
	}
	if err != nil {
		_ = os.Remove(tmpName)
		return 0, err
	}

	if err := os.Rename(tmpName, target); err != nil {
		_ = os.Remove(tmpName)
		return 0, err
	}
	return n, nil
}

func copyFile(src, dst string) (int64, error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	defer func() { _ = in.Close() }()
	return writeAtomic(dst, in, 0)
}

// extension расширение из пути URL, .jpg если неизвестно
func extension(imageURL string) string {
	u, err := url.Parse(imageURL)
	if err != nil {
		return defaultExt
	}
	ext := strings.ToLower(path.Ext(u.Path))
	if !allowedExt[ext] {
		return defaultExt
	}
	return ext
}

func safeName(key string) string {
	return strings.NewReplacer("/", "_", "\\", "_", "..", "_").Replace(key)
}
