package web

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"net"
	"net/http"
	"strconv"
	"time"

	"pkt.systems/pslog"

	"github.com/hpungsan/studyfocus/internal/bridge"
	"github.com/hpungsan/studyfocus/internal/config"
	"github.com/hpungsan/studyfocus/internal/ops"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed static/*
var staticFS embed.FS

// shutdownTimeout bounds graceful shutdown.
const shutdownTimeout = 5 * time.Second

// NewServer creates the HTTP server for the status page and the bridge route.
func NewServer(svc *ops.Service, relay *bridge.Relay, cfg *config.Config, version string) *http.Server {
	return &http.Server{
		Addr:              net.JoinHostPort(cfg.HTTPBind, strconv.Itoa(cfg.HTTPPort)),
		Handler:           NewHandler(svc, relay, version),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// LocalURL returns the URL a process on this host reaches addr at.
// Unspecified hosts map to the loopback address.
func LocalURL(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "http://" + addr
	}
	if ip := net.ParseIP(host); host == "" || (ip != nil && ip.IsUnspecified()) {
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port)
}

// NewHandler builds the route table wrapped in request logging and
// security headers.
func NewHandler(svc *ops.Service, relay *bridge.Relay, version string) http.Handler {
	// Create sub-FS for templates (strip "templates/" prefix)
	templateSub, err := fs.Sub(templateFS, "templates")
	if err != nil {
		log.Fatalf("failed to create template sub-FS: %v", err)
	}

	// Create sub-FS for static files (strip "static/" prefix)
	staticSub, err := fs.Sub(staticFS, "static")
	if err != nil {
		log.Fatalf("failed to create static sub-FS: %v", err)
	}

	h := &Handlers{
		svc:      svc,
		relay:    relay,
		renderer: NewRenderer(templateSub, version),
		now:      time.Now,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", h.HandleStatus)
	mux.HandleFunc("GET /blocked", h.HandleBlocked)
	mux.HandleFunc("GET /check", h.HandleCheck)
	mux.HandleFunc("GET /events", h.HandleEvents)
	mux.HandleFunc("POST "+bridge.BridgePath, h.HandleBridge)
	mux.HandleFunc("OPTIONS "+bridge.BridgePath, h.HandleBridgePreflight)
	mux.Handle("GET /static/", http.StripPrefix("/static/", http.FileServerFS(staticSub)))

	return withRequestLogging(securityHeaders(mux))
}

// securityHeaders adds security-related HTTP headers to all responses.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Security-Policy", "default-src 'self'; script-src 'self'; style-src 'self'")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		next.ServeHTTP(w, r)
	})
}

// Run serves srv until ctx is done, then shuts it down gracefully.
func Run(ctx context.Context, srv *http.Server) error {
	logger := pslog.Ctx(ctx)
	srv.BaseContext = func(net.Listener) context.Context { return ctx }

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	logger.Info("http server listening", "url", fmt.Sprintf("http://%s", srv.Addr))
	if host, _, err := net.SplitHostPort(srv.Addr); err == nil {
		if ip := net.ParseIP(host); host == "" || (ip != nil && ip.IsUnspecified()) {
			logger.Warn("http server bound to all interfaces", "addr", srv.Addr)
		}
	}

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		logger.Info("http server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
