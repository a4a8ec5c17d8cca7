package api

import (
	"io/fs"
	"net/http"
	"path"
	"strings"
)

// spaHandler serves the external frontend from web_root.
// Existing files are served directly; fingerprinted files under assets/ are
// cached for a year. Any other path falls through to index.html (never
// cached) so the client-side router handles it.
type spaHandler struct {
	root   fs.FS
	server http.Handler
}

func newSPAHandler(root fs.FS) *spaHandler {
	return &spaHandler{
		root:   root,
		server: http.FileServer(http.FS(root)),
	}
}

func (h *spaHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	name := strings.TrimPrefix(path.Clean(r.URL.Path), "/")
	if name != "" && name != "index.html" && isFile(h.root, name) {
		if strings.HasPrefix(name, "assets/") {
			w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
		}
		h.server.ServeHTTP(w, r)
		return
	}

	if !isFile(h.root, "index.html") {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Cache-Control", "no-cache")
	r = r.Clone(r.Context())
	r.URL.Path = "/"
	h.server.ServeHTTP(w, r)
}

func isFile(root fs.FS, name string) bool {
	st, err := fs.Stat(root, name)
	return err == nil && !st.IsDir()
}
