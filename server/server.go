// Package server is the HTTP face of the proxy: a dispatcher that is pure
// over server state, fronted by a connection loop with admission control.
package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/net/netutil"

	"github.com/zimgx/zimgx/cache"
	"github.com/zimgx/zimgx/config"
	apperrors "github.com/zimgx/zimgx/errors"
	"github.com/zimgx/zimgx/options"
	"github.com/zimgx/zimgx/origin"
)

// Transformed is the pipeline output the dispatcher consumes. The indirection
// keeps this package free of the codec dependency, so dispatch logic tests
// without libvips.
type Transformed struct {
	Data        []byte
	ContentType string
}

// TransformFunc runs the transform pipeline on fetched bytes.
type TransformFunc func(data []byte, o *options.Options, accept string) (*Transformed, error)

type stats struct {
	requestsTotal uint64
	cacheHits     uint64
	cacheMisses   uint64
}

// Server dispatches requests against a cache, an origin fetcher, and a
// transform function. Safe for concurrent use.
type Server struct {
	cfg       config.Config
	cache     cache.Cache
	fetcher   origin.Fetcher
	transform TransformFunc
	log       zerolog.Logger

	start       time.Time
	stats       stats
	activeConns int64

	httpSrv *http.Server
}

// New assembles a Server. cache may be a NoOp; the dispatcher serves either
// way.
func New(cfg config.Config, c cache.Cache, fetcher origin.Fetcher, transform TransformFunc, log zerolog.Logger) *Server {
	return &Server{
		cfg:       cfg,
		cache:     c,
		fetcher:   fetcher,
		transform: transform,
		log:       log,
		start:     time.Now(),
	}
}

// ActiveConnections reports the current connection gauge.
func (s *Server) ActiveConnections() int64 {
	return atomic.LoadInt64(&s.activeConns)
}

// ListenAndServe binds the listener and serves until ctx is cancelled, then
// shuts down gracefully. Admission control caps concurrent connections at
// MaxConnections; net/http drives the per-connection keep-alive loop.
func (s *Server) ListenAndServe(ctx context.Context) error {
	addr := net.JoinHostPort(s.cfg.Server.Host, fmt.Sprintf("%d", s.cfg.Server.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return apperrors.Wrap(apperrors.CategoryConfig, "server.listen", err)
	}
	ln = netutil.LimitListener(ln, s.cfg.Server.MaxConnections)

	s.httpSrv = &http.Server{
		Handler:           s,
		ReadHeaderTimeout: s.cfg.Server.RequestTimeout,
		MaxHeaderBytes:    int(s.cfg.Server.MaxRequestSize),
		ConnState: func(_ net.Conn, state http.ConnState) {
			switch state {
			case http.StateNew:
				atomic.AddInt64(&s.activeConns, 1)
			case http.StateClosed, http.StateHijacked:
				atomic.AddInt64(&s.activeConns, -1)
			}
		},
	}

	errCh := make(chan error, 1)
	go func() { errCh <- s.httpSrv.Serve(ln) }()
	s.log.Info().Str("addr", addr).Int("max_connections", s.cfg.Server.MaxConnections).Msg("listening")

	select {
	case err := <-errCh:
		return apperrors.Wrap(apperrors.CategoryInternal, "server.serve", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.httpSrv.Shutdown(shutdownCtx)
}

// ServeHTTP adapts the pure dispatcher onto the connection loop.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	begin := time.Now()

	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		atomic.AddUint64(&s.stats.requestsTotal, 1)
		s.write(w, r, errorResponse(http.StatusMethodNotAllowed, "Method Not Allowed", ""))
		return
	}

	resp := s.Dispatch(r.Context(), r.URL.Path, r.Header.Get("If-None-Match"), r.Header.Get("Accept"))
	s.write(w, r, resp)

	s.log.Info().
		Str("method", r.Method).
		Str("path", r.URL.Path).
		Int("status", resp.Status).
		Dur("duration", time.Since(begin)).
		Msg("request")
}

func (s *Server) write(w http.ResponseWriter, r *http.Request, resp *Response) {
	if resp.Release != nil {
		defer resp.Release()
	}

	h := w.Header()
	if resp.ContentType != "" {
		h.Set("Content-Type", resp.ContentType)
	}
	if resp.CacheControl != "" {
		h.Set("Cache-Control", resp.CacheControl)
	}
	if resp.ETag != "" {
		h.Set("ETag", `"`+resp.ETag+`"`)
	}
	if resp.Vary != "" {
		h.Set("Vary", resp.Vary)
	}
	if len(resp.Body) > 0 {
		h.Set("Content-Length", fmt.Sprintf("%d", len(resp.Body)))
	}
	w.WriteHeader(resp.Status)

	if r.Method == http.MethodHead || resp.Status == http.StatusNotModified {
		return
	}
	if _, err := w.Write(resp.Body); err != nil {
		// A disconnected client surfaces here, at the first write after it
		// went away.
		s.log.Debug().Err(err).Str("path", r.URL.Path).Msg("client write failed")
	}
}
