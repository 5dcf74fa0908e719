package images

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stamp-price-tracker/internal/observability"
)

func newServer(t *testing.T, hits *int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(hits, 1)
		switch r.URL.Path {
		case "/uploads/t50.png", "/uploads/t50":
			_, _ = w.Write([]byte("PNGDATA"))
		case "/uploads/big.jpg":
			_, _ = w.Write([]byte(strings.Repeat("x", 64)))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newDownloader(t *testing.T, dir string, maxBytes int64) *Downloader {
	t.Helper()
	d, err := NewDownloader(Options{Dir: dir, MaxBytes: maxBytes, CacheSize: 8}, nil, observability.NewNopLogger())
	require.NoError(t, err)
	return d
}

func TestDownloadWritesKeyedFile(t *testing.T) {
	var hits int32
	srv := newServer(t, &hits)
	dir := t.TempDir()
	d := newDownloader(t, dir, 1024)

	res, err := d.Download(context.Background(), "T50", srv.URL+"/uploads/t50.png")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "T50.png"), res.Path)
	assert.False(t, res.Skipped)
	assert.Equal(t, int64(7), res.Bytes)

	data, err := os.ReadFile(res.Path)
	require.NoError(t, err)
	assert.Equal(t, "PNGDATA", string(data))
}

func TestDownloadSkipsExistingFile(t *testing.T) {
	var hits int32
	srv := newServer(t, &hits)
	dir := t.TempDir()
	d := newDownloader(t, dir, 1024)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "T50.png"), []byte("old"), 0o644))

	res, err := d.Download(context.Background(), "T50", srv.URL+"/uploads/t50.png")
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Equal(t, int32(0), atomic.LoadInt32(&hits))
}

func TestDownloadDefaultsToJPG(t *testing.T) {
	var hits int32
	srv := newServer(t, &hits)
	d := newDownloader(t, t.TempDir(), 1024)

	res, err := d.Download(context.Background(), "T50", srv.URL+"/uploads/t50")
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(res.Path, "T50.jpg"))
}

func TestDownloadReusesSameURLForVariantKey(t *testing.T) {
	var hits int32
	srv := newServer(t, &hits)
	dir := t.TempDir()
	d := newDownloader(t, dir, 1024)

	imageURL := srv.URL + "/uploads/t50.png"
	_, err := d.Download(context.Background(), "T50", imageURL)
	require.NoError(t, err)

	res, err := d.Download(context.Background(), "T50_rev", imageURL)
	require.NoError(t, err)
	assert.True(t, res.Reused)
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))

	data, err := os.ReadFile(filepath.Join(dir, "T50_rev.png"))
	require.NoError(t, err)
	assert.Equal(t, "PNGDATA", string(data))
}

func TestDownloadRejectsOversizedImage(t *testing.T) {
	var hits int32
	srv := newServer(t, &hits)
	dir := t.TempDir()
	d := newDownloader(t, dir, 16)

	_, err := d.Download(context.Background(), "J120", srv.URL+"/uploads/big.jpg")
	require.ErrorIs(t, err, ErrTooLarge)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestDownloadNotFound(t *testing.T) {
	var hits int32
	srv := newServer(t, &hits)
	d := newDownloader(t, t.TempDir(), 1024)

	_, err := d.Download(context.Background(), "J1", srv.URL+"/uploads/missing.jpg")
	assert.Error(t, err)
}

func TestTargetPathSanitizesKey(t *testing.T) {
	d := newDownloader(t, "img", 1024)
	assert.Equal(t, filepath.Join("img", "a_b.gif"), d.TargetPath("a/b", "http://x/y.GIF"))
}
