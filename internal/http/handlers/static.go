package handlers

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
)

// StaticHandler serves finished artifacts from the processed directory.
// It is read-only: only GET and HEAD are accepted and directory listings
// are suppressed.
type StaticHandler struct {
	dir string
}

// NewStaticHandler creates a static handler rooted at dir.
func NewStaticHandler(dir string) *StaticHandler {
	return &StaticHandler{dir: dir}
}

// RegisterRoutes mounts the processed tree on the router.
func (h *StaticHandler) RegisterRoutes(r chi.Router) {
	fs := http.StripPrefix("/processed/", http.HandlerFunc(h.serveFile))
	r.Get("/processed/*", fs.ServeHTTP)
	r.Head("/processed/*", fs.ServeHTTP)
}

// serveFile serves a single regular file under the processed root.
func (h *StaticHandler) serveFile(w http.ResponseWriter, r *http.Request) {
	rel := strings.TrimPrefix(r.URL.Path, "/")
	if rel == "" || strings.HasSuffix(rel, "/") {
		http.NotFound(w, r)
		return
	}

	clean := filepath.Clean(rel)
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		http.NotFound(w, r)
		return
	}

	path := filepath.Join(h.dir, clean)
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		http.NotFound(w, r)
		return
	}

	http.ServeFile(w, r, path)
}
