package handlers

import (
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
)

// placeholderPage is served when no dashboard build is configured.
const placeholderPage = `<!DOCTYPE html>
<html>
<head><title>SuperDash</title></head>
<body>
<h1>SuperDash</h1>
<p>No dashboard is configured. Point http.static_dir at a dashboard build,
or use the WebSocket and REST APIs directly.</p>
</body>
</html>
`

// StaticHandler serves the dashboard build as a fallback for routes no
// API operation claims.
type StaticHandler struct {
	dir    string
	logger *slog.Logger
}

// NewStaticHandler creates a static handler. An empty dir serves a
// placeholder page instead.
func NewStaticHandler(dir string, logger *slog.Logger) *StaticHandler {
	return &StaticHandler{dir: dir, logger: logger}
}

// Register installs the fallback on the router's NotFound slot so API
// routes keep precedence.
func (h *StaticHandler) Register(router *chi.Mux) {
	router.NotFound(h.serve)
}

func (h *StaticHandler) serve(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	if h.dir == "" {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(placeholderPage))
		return
	}

	// Resolve inside the static dir only.
	clean := filepath.Clean("/" + r.URL.Path)
	path := filepath.Join(h.dir, clean)
	if !strings.HasPrefix(path, filepath.Clean(h.dir)) {
		http.NotFound(w, r)
		return
	}

	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		// Single-page dashboards route client side; unknown paths get
		// the index.
		index := filepath.Join(h.dir, "index.html")
		if _, err := os.Stat(index); err != nil {
			http.NotFound(w, r)
			return
		}
		http.ServeFile(w, r, index)
		return
	}

	http.ServeFile(w, r, path)
}
