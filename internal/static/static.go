package static

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// DefaultMaxFileSize caps files served from the static root.
const DefaultMaxFileSize int64 = 32 << 20

// File is an open static file. The caller closes it.
type File struct {
	*os.File
	Name        string
	ContentType string
	Info        fs.FileInfo
}

// Server serves files below a root directory for paths no route claims.
type Server struct {
	root    string
	maxSize int64
}

// New creates a server for root. An empty root serves nothing.
func New(root string) *Server {
	return &Server{root: root, maxSize: DefaultMaxFileSize}
}

// Enabled reports whether a root is configured.
func (s *Server) Enabled() bool {
	return s != nil && s.root != ""
}

// Open opens the file for a request path. It reports false for missing
// files, directories and oversize files. Symlinks leaving the root are
// refused by os.Root and surface as an error.
func (s *Server) Open(urlPath string) (*File, bool, error) {
	if !s.Enabled() {
		return nil, false, nil
	}

	name := strings.TrimPrefix(path.Clean("/"+urlPath), "/")
	if name == "" || !filepath.IsLocal(filepath.FromSlash(name)) {
		return nil, false, nil
	}

	root, err := os.OpenRoot(s.root)
	if err != nil {
		return nil, false, err
	}
	defer root.Close()

	f, err := root.Open(filepath.FromSlash(name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrPermission) {
			return nil, false, nil
		}
		return nil, false, err
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, false, err
	}
	if info.IsDir() || info.Size() > s.maxSize {
		f.Close()
		return nil, false, nil
	}

	contentType, err := detect(name, f)
	if err != nil {
		f.Close()
		return nil, false, err
	}

	return &File{File: f, Name: info.Name(), ContentType: contentType, Info: info}, true, nil
}

// Serve writes the file for r's path. It reports false when there is none.
func (s *Server) Serve(w http.ResponseWriter, r *http.Request) (bool, error) {
	file, ok, err := s.Open(r.URL.Path)
	if err != nil || !ok {
		return false, err
	}
	defer file.Close()

	w.Header().Set("Content-Type", file.ContentType)
	http.ServeContent(w, r, file.Name, file.Info.ModTime(), file)
	return true, nil
}

func byExtension(name string) string {
	if ext := filepath.Ext(name); ext != "" {
		return mime.TypeByExtension(ext)
	}
	return ""
}

// detect sniffs f when the extension is unknown and rewinds it.
func detect(name string, f io.ReadSeeker) (string, error) {
	if t := byExtension(name); t != "" {
		return t, nil
	}
	m, err := mimetype.DetectReader(f)
	if err != nil {
		return "", fmt.Errorf("sniff %s: %w", name, err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return "", err
	}
	return m.String(), nil
}
