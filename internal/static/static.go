// Package static serves the project root directory with single-page-app fallback.
package static

import (
	"bytes"
	"errors"
	"io"
	"io/fs"
	"net/http"
	"path"
	"strings"
	"time"
)

const indexFile = "index.html"

// Handler serves files from a filesystem rooted at the project root.
type Handler struct {
	root       fs.FS
	fileServer http.Handler
	// snippet is injected into HTML documents; empty disables injection.
	snippet string
}

// New returns a Handler serving root. snippet, when non-empty, is inserted
// into every HTML response before </head>.
func New(root fs.FS, snippet string) *Handler {
	return &Handler{
		root:       root,
		fileServer: http.FileServerFS(root),
		snippet:    snippet,
	}
}

// ServeHTTP serves the requested file. Missing extension-less and .html
// paths, and directories without an index.html, fall back to the root
// index.html so client-side routes resolve; other missing files are 404.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	name := strings.TrimPrefix(path.Clean("/"+r.URL.Path), "/")
	if name == "" {
		name = indexFile
	}

	info, err := fs.Stat(h.root, name)
	switch {
	case err == nil && info.IsDir():
		if idx := path.Join(name, indexFile); fileExists(h.root, idx) {
			if !strings.HasSuffix(r.URL.Path, "/") {
				http.Redirect(w, r, r.URL.Path+"/", http.StatusMovedPermanently)
				return
			}
			h.serveHTML(w, r, idx)
			return
		}
		// Directories are never listed.
		h.fallback(w, r)
		return
	case err == nil:
		if isHTML(name) {
			h.serveHTML(w, r, name)
			return
		}
		h.fileServer.ServeHTTP(w, r)
		return
	case !errors.Is(err, fs.ErrNotExist):
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	if ext := path.Ext(name); ext == "" || ext == ".html" {
		h.fallback(w, r)
		return
	}
	http.NotFound(w, r)
}

// fallback serves the root index.html for client-side routes, or 404 when
// the root has none.
func (h *Handler) fallback(w http.ResponseWriter, r *http.Request) {
	if !fileExists(h.root, indexFile) {
		http.NotFound(w, r)
		return
	}
	h.serveHTML(w, r, indexFile)
}

// serveHTML writes the named HTML file with the snippet injected.
func (h *Handler) serveHTML(w http.ResponseWriter, r *http.Request, name string) {
	f, err := h.root.Open(name)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	var modTime time.Time
	if info, err := f.Stat(); err == nil {
		modTime = info.ModTime()
	}

	if h.snippet != "" {
		data = Inject(data, h.snippet)
		// The injected document differs from the file on disk.
		modTime = time.Time{}
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	http.ServeContent(w, r, name, modTime, bytes.NewReader(data))
}

// Inject inserts snippet before </head>, else before </body>, else at the end.
func Inject(doc []byte, snippet string) []byte {
	lower := bytes.ToLower(doc)
	for _, tag := range []string{"</head>", "</body>"} {
		if i := bytes.Index(lower, []byte(tag)); i >= 0 {
			out := make([]byte, 0, len(doc)+len(snippet))
			out = append(out, doc[:i]...)
			out = append(out, snippet...)
			return append(out, doc[i:]...)
		}
	}
	return append(append([]byte{}, doc...), snippet...)
}

func isHTML(name string) bool {
	ext := strings.ToLower(path.Ext(name))
	return ext == ".html" || ext == ".htm"
}

func fileExists(fsys fs.FS, name string) bool {
	info, err := fs.Stat(fsys, name)
	return err == nil && !info.IsDir()
}
