package serve

import (
	"context"
	"fmt"
	"html"
	"net"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/berth-dev/berth/internal/errors"
)

// Options configures the file server.
type Options struct {
	// Directory is the root being served. Must exist.
	Directory string

	// Host is the bind address. Default: all interfaces.
	Host string

	// Port to listen on.
	Port int

	// Listing enables HTML directory listings for directories without
	// an index.html.
	Listing bool

	// Tracing enables the OpenTelemetry tracing middleware. Spans go
	// to the global tracer provider.
	Tracing bool

	// ShutdownTimeout bounds the graceful drain on shutdown.
	// Default: 5s.
	ShutdownTimeout time.Duration
}

// Server serves a directory over HTTP with /healthz and /metrics
// endpoints alongside the files.
type Server struct {
	opts    Options
	root    string
	handler http.Handler
	metrics *metrics
}

// New creates a file server for opts.Directory. The directory must
// exist and be readable.
func New(opts Options) (*Server, error) {
	root, err := filepath.Abs(opts.Directory)
	if err != nil {
		return nil, errors.New(errors.CodeInvalidTarget).WithDirectory(opts.Directory).Wrap(err)
	}
	info, err := os.Stat(root)
	if err != nil || !info.IsDir() {
		return nil, errors.New(errors.CodeInvalidTarget).WithDirectory(opts.Directory)
	}
	if opts.ShutdownTimeout == 0 {
		opts.ShutdownTimeout = 5 * time.Second
	}

	s := &Server{
		opts:    opts,
		root:    root,
		metrics: newMetrics(prometheus.NewRegistry()),
	}

	r := chi.NewRouter()
	r.Use(chimw.Logger)
	r.Use(s.metrics.middleware)
	if opts.Tracing {
		r.Use(Tracing())
	}

	r.Get("/healthz", s.handleHealthz)
	r.Handle("/metrics", promhttp.HandlerFor(s.metrics.registry, promhttp.HandlerOpts{}))
	r.Get("/*", s.handleFile)
	r.Head("/*", s.handleFile)

	s.handler = r
	return s, nil
}

// Handler returns the HTTP handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Root returns the absolute directory being served.
func (s *Server) Root() string {
	return s.root
}

// ListenAndServe binds the port and serves until ctx is cancelled,
// then drains gracefully. A refused bind surfaces as PortBindError so
// the caller can tell a lost port race from a serving failure.
func (s *Server) ListenAndServe(ctx context.Context) error {
	addr := net.JoinHostPort(s.opts.Host, strconv.Itoa(s.opts.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.New(errors.CodePortBindError).
			WithPort(s.opts.Port).
			WithDirectory(s.root).
			Wrap(err)
	}

	srv := &http.Server{Handler: s.handler}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			srv.Close()
		}
		<-errCh
		return nil
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintln(w, "ok")
}

// handleFile serves files and directory listings rooted at s.root.
func (s *Server) handleFile(w http.ResponseWriter, r *http.Request) {
	rel, ok := relPath(r.URL.Path)
	if !ok {
		http.NotFound(w, r)
		return
	}

	full := filepath.Join(s.root, filepath.FromSlash(rel))
	info, err := os.Stat(full)
	if err != nil {
		http.NotFound(w, r)
		return
	}

	if info.IsDir() {
		// Prefer index.html, fall back to a listing.
		index := filepath.Join(full, "index.html")
		if fi, err := os.Stat(index); err == nil && !fi.IsDir() {
			s.serveFile(w, r, index, fi)
			return
		}
		if !s.opts.Listing {
			http.NotFound(w, r)
			return
		}
		s.serveListing(w, r, rel, full)
		return
	}

	s.serveFile(w, r, full, info)
}

func (s *Server) serveFile(w http.ResponseWriter, r *http.Request, full string, info os.FileInfo) {
	f, err := os.Open(full)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	defer f.Close()

	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
}

// serveListing renders a minimal HTML index of a directory.
func (s *Server) serveListing(w http.ResponseWriter, r *http.Request, rel, full string) {
	entries, err := os.ReadDir(full)
	if err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].IsDir() != entries[j].IsDir() {
			return entries[i].IsDir()
		}
		return entries[i].Name() < entries[j].Name()
	})

	display := "/" + rel
	if rel == "" {
		display = "/"
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	var b strings.Builder
	fmt.Fprintf(&b, "<!DOCTYPE html>\n<html>\n<head><title>Index of %s</title></head>\n<body>\n", html.EscapeString(display))
	fmt.Fprintf(&b, "<h1>Index of %s</h1>\n<ul>\n", html.EscapeString(display))
	if rel != "" {
		fmt.Fprintf(&b, "<li><a href=%q>..</a></li>\n", path.Join("/", rel, ".."))
	}
	for _, entry := range entries {
		name := entry.Name()
		href := path.Join("/", rel, name)
		if entry.IsDir() {
			name += "/"
			href += "/"
		}
		fmt.Fprintf(&b, "<li><a href=%q>%s</a></li>\n", href, html.EscapeString(name))
	}
	b.WriteString("</ul>\n</body>\n</html>\n")
	fmt.Fprint(w, b.String())
}

// relPath sanitizes a request path into a root-relative file path. It
// rejects traversal and absolute-path tricks so serving cannot escape
// the root. Returns "" with ok=true for the root itself.
func relPath(urlPath string) (string, bool) {
	rel := strings.TrimPrefix(urlPath, "/")

	// Reject NUL early (can appear via %00).
	if strings.IndexByte(rel, 0) != -1 {
		return "", false
	}

	// Reject platform-dependent separators.
	if strings.Contains(rel, "\\") {
		return "", false
	}

	// A leading "/" after trimming means "//etc/passwd" style paths.
	if strings.HasPrefix(rel, "/") {
		return "", false
	}

	// Reject dot-segments before cleaning so traversal attempts are
	// refused instead of silently rewritten.
	if rel != "" {
		for _, seg := range strings.Split(rel, "/") {
			if seg == "." || seg == ".." {
				return "", false
			}
		}
	}

	clean := path.Clean(rel)
	if clean == "." {
		return "", true
	}
	if clean == ".." || strings.HasPrefix(clean, "../") || strings.HasPrefix(clean, "/") {
		return "", false
	}

	osPath := filepath.FromSlash(clean)
	if filepath.IsAbs(osPath) || filepath.VolumeName(osPath) != "" {
		return "", false
	}

	return clean, true
}
