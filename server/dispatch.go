package server

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/zimgx/zimgx/cache"
	apperrors "github.com/zimgx/zimgx/errors"
	"github.com/zimgx/zimgx/options"
	"github.com/zimgx/zimgx/utils"
)

// forbiddenFragments are rejected anywhere in a request path. Percent forms
// are checked on the raw path so double-encoding cannot smuggle a traversal.
var forbiddenFragments = []string{"..", "%2e", "%2E", "%2f", "%2F", "%00", "\x00"}

// sanitisePath reports whether path is a safe image path.
func sanitisePath(path string) bool {
	if strings.HasPrefix(path, "//") {
		return false
	}
	for _, frag := range forbiddenFragments {
		if strings.Contains(path, frag) {
			return false
		}
	}
	return true
}

// splitRoute separates the image path from the transform string: the last
// segment is a transform descriptor iff it contains "=".
func splitRoute(path string) (imagePath, rawTransform string) {
	path = strings.TrimPrefix(path, "/")
	if i := strings.LastIndexByte(path, '/'); i >= 0 && strings.ContainsRune(path[i+1:], '=') {
		return path[:i], path[i+1:]
	}
	return path, ""
}

// Dispatch routes one request and returns the response to serialise. It is
// pure over the server state plus the cache handle.
func (s *Server) Dispatch(ctx context.Context, path, ifNoneMatch, accept string) *Response {
	atomic.AddUint64(&s.stats.requestsTotal, 1)

	switch path {
	case "/health":
		return jsonResponse(http.StatusOK, map[string]string{"status": "ok"})
	case "/ready":
		return jsonResponse(http.StatusOK, map[string]bool{"ready": true})
	case "/metrics":
		return jsonResponse(http.StatusOK, s.metricsSnapshot())
	}

	if !sanitisePath(path) {
		return errorResponse(http.StatusNotFound, "Not Found", "")
	}
	imagePath, rawTransform := splitRoute(path)
	if imagePath == "" {
		return errorResponse(http.StatusNotFound, "Not Found", "")
	}
	if prefix := s.cfg.Origin.PathPrefix; prefix != "" {
		imagePath = strings.TrimPrefix(imagePath, strings.Trim(prefix, "/")+"/")
	}
	return s.handleImage(ctx, imagePath, rawTransform, ifNoneMatch, accept)
}

// handleImage is the §cache → origin → pipeline → cache path for one image
// request.
func (s *Server) handleImage(ctx context.Context, imagePath, rawTransform, ifNoneMatch, accept string) *Response {
	o, err := options.Parse(rawTransform)
	if err != nil {
		return errorResponse(http.StatusBadRequest, "Bad Request", "invalid transform parameters")
	}
	if err := o.Validate(); err != nil {
		return errorResponse(http.StatusUnprocessableEntity, "Unprocessable Entity", "transform parameters out of range")
	}

	key := cache.Key(imagePath, rawTransform, string(o.Format))

	if e, ok := s.cache.Get(ctx, key); ok {
		atomic.AddUint64(&s.stats.cacheHits, 1)
		return s.imageResponse(e.Data, e.ContentType, ifNoneMatch)
	}
	atomic.AddUint64(&s.stats.cacheMisses, 1)

	fetched, err := s.fetcher.Fetch(ctx, imagePath)
	if err != nil {
		status, message := apperrors.HTTPStatus(err)
		s.log.Warn().Err(err).Str("path", imagePath).Int("status", status).Msg("origin fetch failed")
		return errorResponse(status, message, "")
	}

	entry := &cache.Entry{CreatedAt: time.Now()}
	t, err := s.transform(fetched.Data, o, accept)
	if err != nil {
		// Codec hiccups never 5xx the client: serve the original bytes and
		// cache them under the same key so the hiccup is not re-paid.
		s.log.Error().Err(err).Str("path", imagePath).Msg("pipeline failed, serving original")
		ct := fetched.ContentType
		if ct == "" || ct == "application/octet-stream" {
			ct = utils.DetectContentType(fetched.Data)
		}
		entry.Data = fetched.Data
		entry.ContentType = ct
	} else {
		entry.Data = t.Data
		entry.ContentType = t.ContentType
	}

	s.cache.Put(ctx, key, entry)
	if cached, ok := s.cache.Get(ctx, key); ok {
		return s.imageResponse(cached.Data, cached.ContentType, ifNoneMatch)
	}
	// The backend declined the entry (disabled cache or oversize payload):
	// serve the body we still own.
	return s.imageResponse(entry.Data, entry.ContentType, ifNoneMatch)
}

func (s *Server) imageResponse(data []byte, contentType, ifNoneMatch string) *Response {
	etag := ETag(data)
	if etagMatches(ifNoneMatch, etag) {
		return &Response{Status: http.StatusNotModified, ETag: etag}
	}
	return &Response{
		Status:       http.StatusOK,
		ContentType:  contentType,
		Body:         data,
		CacheControl: fmt.Sprintf("public, max-age=%d", int(s.cfg.Cache.DefaultTTL.Seconds())),
		ETag:         etag,
		Vary:         "Accept",
	}
}

type metricsSnapshot struct {
	RequestsTotal uint64 `json:"requestsTotal"`
	CacheHits     uint64 `json:"cacheHits"`
	CacheMisses   uint64 `json:"cacheMisses"`
	CacheEntries  int    `json:"cacheEntries"`
	UptimeSeconds int64  `json:"uptimeSeconds"`
}

func (s *Server) metricsSnapshot() metricsSnapshot {
	return metricsSnapshot{
		RequestsTotal: atomic.LoadUint64(&s.stats.requestsTotal),
		CacheHits:     atomic.LoadUint64(&s.stats.cacheHits),
		CacheMisses:   atomic.LoadUint64(&s.stats.cacheMisses),
		CacheEntries:  s.cache.Size(),
		UptimeSeconds: int64(time.Since(s.start).Seconds()),
	}
}
