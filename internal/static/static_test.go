package static

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name string, data []byte) {
	t.Helper()
	full := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(t, os.WriteFile(full, data, 0o644))
}

func TestOpen(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "index.html", []byte("<html></html>"))
	writeFile(t, dir, "css/site.css", []byte("body{}"))
	writeFile(t, dir, "blob", []byte("%PDF-1.4 test"))

	s := New(dir)

	tests := []struct {
		path        string
		found       bool
		contentType string
	}{
		{path: "/index.html", found: true, contentType: "text/html; charset=utf-8"},
		{path: "/css/site.css", found: true, contentType: "text/css; charset=utf-8"},
		{path: "/blob", found: true, contentType: "application/pdf"},
		{path: "/css", found: false},
		{path: "/missing.txt", found: false},
		{path: "/../../etc/passwd", found: false},
		{path: "/", found: false},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			f, ok, err := s.Open(tt.path)
			require.NoError(t, err)
			assert.Equal(t, tt.found, ok)
			if tt.found {
				defer f.Close()
				assert.Equal(t, tt.contentType, f.ContentType)
			}
		})
	}
}

func TestDisabled(t *testing.T) {
	s := New("")
	assert.False(t, s.Enabled())

	_, ok, err := s.Open("/index.html")
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestServe(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "hello.txt", []byte("hello"))
	s := New(dir)

	w := httptest.NewRecorder()
	ok, err := s.Serve(w, httptest.NewRequest(http.MethodGet, "/hello.txt", nil))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "hello", w.Body.String())
	assert.Equal(t, "text/plain; charset=utf-8", w.Header().Get("Content-Type"))

	w = httptest.NewRecorder()
	ok, err = s.Serve(w, httptest.NewRequest(http.MethodGet, "/nope.txt", nil))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSniffRewindsFile(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "report", []byte("%PDF-1.4 body"))
	s := New(dir)

	w := httptest.NewRecorder()
	ok, err := s.Serve(w, httptest.NewRequest(http.MethodGet, "/report", nil))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "application/pdf", w.Header().Get("Content-Type"))
	assert.Equal(t, "%PDF-1.4 body", w.Body.String())
}

func TestServeRange(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "digits.txt", []byte("0123456789"))
	s := New(dir)

	req := httptest.NewRequest(http.MethodGet, "/digits.txt", nil)
	req.Header.Set("Range", "bytes=2-4")
	w := httptest.NewRecorder()
	ok, err := s.Serve(w, req)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, http.StatusPartialContent, w.Code)
	assert.Equal(t, "234", w.Body.String())
}

func TestSymlinkOutsideRoot(t *testing.T) {
	outside := t.TempDir()
	writeFile(t, outside, "secret.txt", []byte("secret"))

	dir := t.TempDir()
	require.NoError(t, os.Symlink(filepath.Join(outside, "secret.txt"), filepath.Join(dir, "link.txt")))

	f, ok, err := New(dir).Open("/link.txt")
	assert.Error(t, err)
	assert.False(t, ok)
	assert.Nil(t, f)
}
