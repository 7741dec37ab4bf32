// Package sitehandler is the router's fallback. It serves the embedded public
// files (stylesheet, editor scripts, robots.txt), answers unknown paths with
// the 404 page, and shows the maintenance page until published content is
// loaded.
package sitehandler

import (
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"path"
	"strings"

	"github.com/keithlinneman/linnemanlabs-editor/internal/log"
	"github.com/keithlinneman/linnemanlabs-editor/internal/pathutil"
)

var ErrInvalidOptions = errors.New("sitehandler: invalid options")

// ReadyChecker is implemented by *content.Manager.
type ReadyChecker interface {
	ReadyErr() error
}

type Options struct {
	Logger  log.Logger
	Content ReadyChecker
	// Assets is served at the site root
	Assets fs.FS
	// FallbackFS holds MaintenanceFile (required) and NotFoundFile (optional)
	FallbackFS      fs.FS
	MaintenanceFile string // default "maintenance.html"
	NotFoundFile    string // default "404.html"

	// Assets are not fingerprinted, so they revalidate hourly by default.
	HTMLCacheControl  string // default "no-cache"
	AssetCacheControl string // default "public, max-age=3600"
	OtherCacheControl string // default "public, max-age=300"
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

type Handler struct {
	opts Options
}

// New fails when the maintenance page is missing so a mispackaged build
// never starts.
func New(opts Options) (*Handler, error) {
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	opts.MaintenanceFile = orDefault(opts.MaintenanceFile, "maintenance.html")
	opts.NotFoundFile = orDefault(opts.NotFoundFile, "404.html")
	opts.HTMLCacheControl = orDefault(opts.HTMLCacheControl, "no-cache")
	opts.AssetCacheControl = orDefault(opts.AssetCacheControl, "public, max-age=3600")
	opts.OtherCacheControl = orDefault(opts.OtherCacheControl, "public, max-age=300")

	switch {
	case opts.Content == nil:
		return nil, fmt.Errorf("%w: Content is nil", ErrInvalidOptions)
	case opts.Assets == nil:
		return nil, fmt.Errorf("%w: Assets is nil", ErrInvalidOptions)
	case opts.FallbackFS == nil:
		return nil, fmt.Errorf("%w: FallbackFS is nil", ErrInvalidOptions)
	case !isFile(opts.FallbackFS, opts.MaintenanceFile):
		return nil, fmt.Errorf("%w: missing %q in fallback FS", ErrInvalidOptions, opts.MaintenanceFile)
	}
	return &Handler{opts: opts}, nil
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		w.Header().Set("Cache-Control", "no-store")
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if err := h.opts.Content.ReadyErr(); err != nil {
		h.serveMaintenance(w, r)
		return
	}
	name, ok := assetName(r.URL.Path, h.opts.Assets)
	if !ok {
		h.serveNotFound(w, r)
		return
	}
	w.Header().Set("Cache-Control", h.cacheControl(name))
	http.ServeFileFS(w, r, h.opts.Assets, name)
}

func (h *Handler) serveMaintenance(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Retry-After", "60")
	serveWithStatus(w, r, http.StatusServiceUnavailable, h.opts.FallbackFS, h.opts.MaintenanceFile)
}

func (h *Handler) serveNotFound(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "no-store")
	if isFile(h.opts.FallbackFS, h.opts.NotFoundFile) {
		serveWithStatus(w, r, http.StatusNotFound, h.opts.FallbackFS, h.opts.NotFoundFile)
		return
	}
	http.Error(w, "404 page not found", http.StatusNotFound)
}

// cacheControl picks a policy by extension. A name without extension is
// treated as HTML.
func (h *Handler) cacheControl(name string) string {
	switch strings.ToLower(path.Ext(name)) {
	case "", ".html":
		return h.opts.HTMLCacheControl
	case ".css", ".js", ".mjs", ".png", ".jpg", ".jpeg", ".webp", ".gif", ".svg", ".ico", ".woff", ".woff2", ".ttf", ".map":
		return h.opts.AssetCacheControl
	}
	return h.opts.OtherCacheControl
}

// assetName maps a URL path onto a regular file of fsys. Directories,
// dotfiles and anything with a traversal segment are never served.
func assetName(urlPath string, fsys fs.FS) (string, bool) {
	if strings.ContainsAny(urlPath, "\x00\\") || strings.Contains(urlPath, "..") ||
		strings.HasSuffix(urlPath, "/") || pathutil.HasDotSegments(urlPath) {
		return "", false
	}
	name := strings.TrimPrefix(path.Clean("/"+urlPath), "/")
	if strings.HasPrefix(name, ".") || strings.Contains(name, "/.") {
		return "", false
	}
	return name, isFile(fsys, name)
}

func isFile(fsys fs.FS, name string) bool {
	if name == "" || !fs.ValidPath(name) {
		return false
	}
	info, err := fs.Stat(fsys, name)
	return err == nil && info.Mode().IsRegular()
}

// statusWriter forces the status of the first WriteHeader, http.ServeFileFS
// would otherwise answer 200 for the 404 and maintenance pages.
type statusWriter struct {
	http.ResponseWriter
	status int
	wrote  bool
}

func (w *statusWriter) WriteHeader(code int) {
	if !w.wrote {
		w.wrote = true
		code = w.status
	}
	w.ResponseWriter.WriteHeader(code)
}

func serveWithStatus(w http.ResponseWriter, r *http.Request, status int, fsys fs.FS, name string) {
	http.ServeFileFS(&statusWriter{ResponseWriter: w, status: status}, r, fsys, name)
}
