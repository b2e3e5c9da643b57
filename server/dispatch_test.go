package server_test

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/zimgx/zimgx/cache"
	"github.com/zimgx/zimgx/config"
	apperrors "github.com/zimgx/zimgx/errors"
	"github.com/zimgx/zimgx/options"
	"github.com/zimgx/zimgx/origin"
	"github.com/zimgx/zimgx/server"
)

// ── Test doubles ──────────────────────────────────────────────────────────────

type fakeFetcher struct {
	objects map[string][]byte
	err     error
	calls   int
}

func (f *fakeFetcher) Fetch(_ context.Context, path string) (*origin.Result, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	data, ok := f.objects[path]
	if !ok {
		return nil, apperrors.New(apperrors.CategoryOrigin, "origin.fake", apperrors.ErrNotFound)
	}
	return &origin.Result{Data: data, ContentType: "image/png", Status: http.StatusOK}, nil
}

// passTransform hands the bytes through with a fixed content type.
func passTransform(data []byte, _ *options.Options, _ string) (*server.Transformed, error) {
	return &server.Transformed{Data: data, ContentType: "image/webp"}, nil
}

func failTransform(_ []byte, _ *options.Options, _ string) (*server.Transformed, error) {
	return nil, apperrors.New(apperrors.CategoryPipeline, "pipeline.fake", apperrors.ErrOperationFailed)
}

func newServer(t *testing.T, c cache.Cache, f origin.Fetcher, tr server.TransformFunc) *server.Server {
	t.Helper()
	cfg := config.Default()
	cfg.Cache.DefaultTTL = 3600 * time.Second
	return server.New(cfg, c, f, tr, zerolog.Nop())
}

func decodeError(t *testing.T, resp *server.Response) (int, string, string) {
	t.Helper()
	var body struct {
		Error struct {
			Status  int    `json:"status"`
			Message string `json:"message"`
			Detail  string `json:"detail"`
		} `json:"error"`
	}
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		t.Fatalf("error body is not JSON: %v (%q)", err, resp.Body)
	}
	return body.Error.Status, body.Error.Message, body.Error.Detail
}

var pngBytes = append([]byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}, []byte("fake png payload")...)

// ── Well-known endpoints ──────────────────────────────────────────────────────

func TestDispatch_Health(t *testing.T) {
	s := newServer(t, cache.NoOp{}, &fakeFetcher{}, passTransform)
	resp := s.Dispatch(context.Background(), "/health", "", "")
	if resp.Status != http.StatusOK {
		t.Fatalf("status: got %d", resp.Status)
	}
	if string(resp.Body) != `{"status":"ok"}` {
		t.Errorf("body: got %q", resp.Body)
	}
}

func TestDispatch_Ready(t *testing.T) {
	s := newServer(t, cache.NoOp{}, &fakeFetcher{}, passTransform)
	resp := s.Dispatch(context.Background(), "/ready", "", "")
	if resp.Status != http.StatusOK || string(resp.Body) != `{"ready":true}` {
		t.Fatalf("got %d %q", resp.Status, resp.Body)
	}
}

func TestDispatch_MetricsCountsRequests(t *testing.T) {
	f := &fakeFetcher{objects: map[string][]byte{"a.png": pngBytes}}
	s := newServer(t, cache.NewMemory(1<<20), f, passTransform)
	ctx := context.Background()

	s.Dispatch(ctx, "/a.png/w=10", "", "") // miss
	s.Dispatch(ctx, "/a.png/w=10", "", "") // hit
	resp := s.Dispatch(ctx, "/metrics", "", "")

	var m struct {
		RequestsTotal uint64 `json:"requestsTotal"`
		CacheHits     uint64 `json:"cacheHits"`
		CacheMisses   uint64 `json:"cacheMisses"`
		CacheEntries  int    `json:"cacheEntries"`
		UptimeSeconds int64  `json:"uptimeSeconds"`
	}
	if err := json.Unmarshal(resp.Body, &m); err != nil {
		t.Fatalf("metrics body: %v", err)
	}
	if m.RequestsTotal != 3 {
		t.Errorf("requestsTotal: got %d, want 3", m.RequestsTotal)
	}
	if m.CacheHits != 1 || m.CacheMisses != 1 {
		t.Errorf("hits/misses: got %d/%d, want 1/1", m.CacheHits, m.CacheMisses)
	}
	if m.CacheEntries != 1 {
		t.Errorf("cacheEntries: got %d, want 1", m.CacheEntries)
	}
}

// ── Routing and sanitising ────────────────────────────────────────────────────

func TestDispatch_SanitiserRejects(t *testing.T) {
	s := newServer(t, cache.NoOp{}, &fakeFetcher{}, passTransform)
	for _, path := range []string{
		"/../etc/passwd",
		"/a/%2e%2e/b",
		"/a/%2E%2E/b",
		"/a%2fb",
		"/a%2Fb",
		"/a%00b",
		"/a\x00b",
		"//evil.example/x",
	} {
		resp := s.Dispatch(context.Background(), path, "", "")
		if resp.Status != http.StatusNotFound {
			t.Errorf("path %q: got %d, want 404", path, resp.Status)
		}
	}
}

func TestDispatch_RootIsNotFound(t *testing.T) {
	s := newServer(t, cache.NoOp{}, &fakeFetcher{}, passTransform)
	if resp := s.Dispatch(context.Background(), "/", "", ""); resp.Status != http.StatusNotFound {
		t.Errorf("got %d, want 404", resp.Status)
	}
}

func TestDispatch_LastSegmentWithoutEqualsIsPath(t *testing.T) {
	f := &fakeFetcher{objects: map[string][]byte{"dir/file.png": pngBytes}}
	s := newServer(t, cache.NoOp{}, f, passTransform)
	resp := s.Dispatch(context.Background(), "/dir/file.png", "", "")
	if resp.Status != http.StatusOK {
		t.Fatalf("got %d, want 200", resp.Status)
	}
}

func TestDispatch_PathPrefixStripped(t *testing.T) {
	f := &fakeFetcher{objects: map[string][]byte{"img.png": pngBytes}}
	cfg := config.Default()
	cfg.Origin.PathPrefix = "acct-42"
	s := server.New(cfg, cache.NoOp{}, f, passTransform, zerolog.Nop())

	resp := s.Dispatch(context.Background(), "/acct-42/img.png/w=10", "", "")
	if resp.Status != http.StatusOK {
		t.Fatalf("got %d, want 200", resp.Status)
	}
}

// ── Parameter errors ──────────────────────────────────────────────────────────

func TestDispatch_UnknownParameterIs400(t *testing.T) {
	s := newServer(t, cache.NoOp{}, &fakeFetcher{}, passTransform)
	resp := s.Dispatch(context.Background(), "/photo.png/banana=42", "", "")
	if resp.Status != http.StatusBadRequest {
		t.Fatalf("got %d, want 400", resp.Status)
	}
	_, _, detail := decodeError(t, resp)
	if detail != "invalid transform parameters" {
		t.Errorf("detail: got %q", detail)
	}
}

func TestDispatch_OutOfRangeIs422(t *testing.T) {
	s := newServer(t, cache.NoOp{}, &fakeFetcher{}, passTransform)
	resp := s.Dispatch(context.Background(), "/photo.png/w=9999", "", "")
	if resp.Status != http.StatusUnprocessableEntity {
		t.Fatalf("got %d, want 422", resp.Status)
	}
	_, _, detail := decodeError(t, resp)
	if detail != "transform parameters out of range" {
		t.Errorf("detail: got %q", detail)
	}
}

// ── Origin error mapping ──────────────────────────────────────────────────────

func TestDispatch_OriginErrorMapping(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{apperrors.New(apperrors.CategoryOrigin, "o", apperrors.ErrNotFound), http.StatusNotFound},
		{apperrors.New(apperrors.CategoryOrigin, "o", apperrors.ErrTimeout), http.StatusGatewayTimeout},
		{apperrors.New(apperrors.CategoryOrigin, "o", apperrors.ErrResponseTooLarge), http.StatusRequestEntityTooLarge},
		{apperrors.New(apperrors.CategoryOrigin, "o", apperrors.ErrUpstream), http.StatusBadGateway},
		{apperrors.New(apperrors.CategoryOrigin, "o", apperrors.ErrConnectionFailed), http.StatusBadGateway},
	}
	for _, tc := range cases {
		s := newServer(t, cache.NoOp{}, &fakeFetcher{err: tc.err}, passTransform)
		resp := s.Dispatch(context.Background(), "/photo.png/w=10", "", "")
		if resp.Status != tc.want {
			t.Errorf("%v: got %d, want %d", tc.err, resp.Status, tc.want)
		}
	}
}

// ── Image flow ────────────────────────────────────────────────────────────────

func TestDispatch_MissFetchesTransformsAndCaches(t *testing.T) {
	f := &fakeFetcher{objects: map[string][]byte{"photo.png": pngBytes}}
	mem := cache.NewMemory(1 << 20)
	s := newServer(t, mem, f, passTransform)
	ctx := context.Background()

	resp := s.Dispatch(ctx, "/photo.png/w=100", "", "image/webp")
	if resp.Status != http.StatusOK {
		t.Fatalf("got %d, want 200", resp.Status)
	}
	if resp.ContentType != "image/webp" {
		t.Errorf("content type: got %q", resp.ContentType)
	}
	if resp.CacheControl != "public, max-age=3600" {
		t.Errorf("cache control: got %q", resp.CacheControl)
	}
	if resp.Vary != "Accept" {
		t.Errorf("vary: got %q", resp.Vary)
	}
	if resp.ETag == "" || len(resp.ETag) != 16 {
		t.Errorf("etag: got %q", resp.ETag)
	}

	// Second request is served from cache without another fetch.
	s.Dispatch(ctx, "/photo.png/w=100", "", "image/webp")
	if f.calls != 1 {
		t.Errorf("fetcher calls: got %d, want 1", f.calls)
	}
}

func TestDispatch_DistinctTransformsDistinctKeys(t *testing.T) {
	f := &fakeFetcher{objects: map[string][]byte{"photo.png": pngBytes}}
	s := newServer(t, cache.NewMemory(1<<20), f, passTransform)
	ctx := context.Background()

	s.Dispatch(ctx, "/photo.png/w=100", "", "")
	s.Dispatch(ctx, "/photo.png/w=200", "", "")
	if f.calls != 2 {
		t.Errorf("fetcher calls: got %d, want 2 (keys must differ)", f.calls)
	}
}

func TestDispatch_NoOpCacheStillServes(t *testing.T) {
	f := &fakeFetcher{objects: map[string][]byte{"photo.png": pngBytes}}
	s := newServer(t, cache.NoOp{}, f, passTransform)

	resp := s.Dispatch(context.Background(), "/photo.png/w=100", "", "")
	if resp.Status != http.StatusOK {
		t.Fatalf("got %d, want 200", resp.Status)
	}
	if len(resp.Body) == 0 {
		t.Error("expected a body despite the disabled cache")
	}
}

func TestDispatch_PipelineFailureServesOriginal(t *testing.T) {
	f := &fakeFetcher{objects: map[string][]byte{"photo.png": pngBytes}}
	mem := cache.NewMemory(1 << 20)
	s := newServer(t, mem, f, failTransform)

	resp := s.Dispatch(context.Background(), "/photo.png/w=100", "", "")
	if resp.Status != http.StatusOK {
		t.Fatalf("got %d, want 200 fallback", resp.Status)
	}
	if string(resp.Body) != string(pngBytes) {
		t.Error("fallback must serve the original bytes")
	}
	if resp.ContentType != "image/png" {
		t.Errorf("content type: got %q, want image/png", resp.ContentType)
	}

	// The original bytes were cached so the hiccup is not re-paid.
	s.Dispatch(context.Background(), "/photo.png/w=100", "", "")
	if f.calls != 1 {
		t.Errorf("fetcher calls: got %d, want 1", f.calls)
	}
}

// ── Conditional requests ──────────────────────────────────────────────────────

func TestDispatch_IfNoneMatch304(t *testing.T) {
	f := &fakeFetcher{objects: map[string][]byte{"photo.png": pngBytes}}
	s := newServer(t, cache.NewMemory(1<<20), f, passTransform)
	ctx := context.Background()

	first := s.Dispatch(ctx, "/photo.png/w=100", "", "")
	if first.Status != http.StatusOK || first.ETag == "" {
		t.Fatalf("setup: got %d etag %q", first.Status, first.ETag)
	}

	for _, header := range []string{
		first.ETag,
		`"` + first.ETag + `"`,
		`W/"` + first.ETag + `"`,
		`"other", "` + first.ETag + `"`,
	} {
		resp := s.Dispatch(ctx, "/photo.png/w=100", header, "")
		if resp.Status != http.StatusNotModified {
			t.Errorf("If-None-Match %q: got %d, want 304", header, resp.Status)
		}
		if len(resp.Body) != 0 {
			t.Errorf("304 must have an empty body")
		}
		if resp.ETag != first.ETag {
			t.Errorf("304 must carry the ETag")
		}
	}

	resp := s.Dispatch(ctx, "/photo.png/w=100", `"mismatch"`, "")
	if resp.Status != http.StatusOK {
		t.Errorf("mismatched If-None-Match: got %d, want 200", resp.Status)
	}
}

// ── ETag properties ───────────────────────────────────────────────────────────

func TestETag_Deterministic(t *testing.T) {
	a := server.ETag(pngBytes)
	if a != server.ETag(pngBytes) {
		t.Error("etag must be deterministic")
	}
	if len(a) != 16 || strings.ToLower(a) != a {
		t.Errorf("etag must be 16 lowercase hex chars: %q", a)
	}
}

func TestETag_DiffersOnLengthAndPrefix(t *testing.T) {
	a := server.ETag([]byte("aaaa"))
	if b := server.ETag([]byte("aaaab")); a == b {
		t.Error("different length must change the etag")
	}
	if b := server.ETag([]byte("baaa")); a == b {
		t.Error("different prefix must change the etag")
	}
}
