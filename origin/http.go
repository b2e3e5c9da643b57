package origin

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/zimgx/zimgx/config"
	apperrors "github.com/zimgx/zimgx/errors"
	"github.com/zimgx/zimgx/utils"
)

const userAgent = "zimgx/1.0"

// retryDelay spaces retries of transient origin failures.
const retryDelay = 150 * time.Millisecond

// HTTP fetches originals from a base URL over plain HTTP.
type HTTP struct {
	base    string
	client  *http.Client
	maxSize int64
	retries int
	log     zerolog.Logger
}

// NewHTTP builds an HTTP fetcher from the origin config. maxSize bounds the
// response body; 0 disables the cap.
func NewHTTP(cfg config.OriginConfig, maxSize int64, log zerolog.Logger) *HTTP {
	return &HTTP{
		base:    strings.TrimSuffix(cfg.BaseURL, "/"),
		client:  &http.Client{Timeout: cfg.Timeout},
		maxSize: maxSize,
		retries: cfg.MaxRetries,
		log:     log,
	}
}

// Fetch issues a GET for path, retrying transient failures. 404 maps to
// ErrNotFound, 5xx to ErrUpstream, timeouts to ErrTimeout, and bodies over
// the size cap to ErrResponseTooLarge.
func (h *HTTP) Fetch(ctx context.Context, path string) (*Result, error) {
	path = strings.TrimPrefix(path, "/")
	if path == "" {
		return nil, apperrors.New(apperrors.CategoryOrigin, "origin.http", apperrors.ErrNotFound)
	}

	var (
		res *Result
		err error
	)
	for attempt := 0; ; attempt++ {
		res, err = h.fetchOnce(ctx, path)
		if err == nil || !apperrors.IsRetryable(err) || attempt >= h.retries {
			return res, err
		}
		h.log.Warn().Err(err).Str("path", path).Int("attempt", attempt+1).Msg("origin fetch retry")
		select {
		case <-ctx.Done():
			return nil, apperrors.New(apperrors.CategoryOrigin, "origin.http", ctx.Err())
		case <-time.After(retryDelay):
		}
	}
}

func (h *HTTP) fetchOnce(ctx context.Context, path string) (*Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.base+"/"+path, nil)
	if err != nil {
		return nil, apperrors.New(apperrors.CategoryOrigin, "origin.http", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := h.client.Do(req)
	if err != nil {
		if isTimeout(err) {
			return nil, apperrors.New(apperrors.CategoryOrigin, "origin.http", apperrors.ErrTimeout)
		}
		return nil, apperrors.Transient(apperrors.CategoryOrigin, "origin.http",
			fmt.Errorf("%w: %v", apperrors.ErrConnectionFailed, err))
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, apperrors.New(apperrors.CategoryOrigin, "origin.http", apperrors.ErrNotFound)
	case resp.StatusCode >= 500:
		return nil, apperrors.Transient(apperrors.CategoryOrigin, "origin.http",
			fmt.Errorf("%w: status %d", apperrors.ErrUpstream, resp.StatusCode))
	case resp.StatusCode != http.StatusOK:
		return nil, apperrors.New(apperrors.CategoryOrigin, "origin.http",
			fmt.Errorf("%w: status %d", apperrors.ErrUpstream, resp.StatusCode))
	}

	body, err := io.ReadAll(&utils.LimitedReader{R: resp.Body, Max: h.maxSize})
	if err != nil {
		if apperrors.Is(err, utils.ErrLimitExceeded) {
			return nil, apperrors.New(apperrors.CategoryOrigin, "origin.http", apperrors.ErrResponseTooLarge)
		}
		if isTimeout(err) {
			return nil, apperrors.New(apperrors.CategoryOrigin, "origin.http", apperrors.ErrTimeout)
		}
		return nil, apperrors.Transient(apperrors.CategoryOrigin, "origin.http", err)
	}

	ct := resp.Header.Get("Content-Type")
	if ct == "" {
		ct = utils.DetectContentType(body)
	}
	return &Result{Data: body, ContentType: ct, Status: resp.StatusCode}, nil
}

func isTimeout(err error) bool {
	var ue *url.Error
	if apperrors.As(err, &ue) && ue.Timeout() {
		return true
	}
	var to interface{ Timeout() bool }
	return apperrors.As(err, &to) && to.Timeout()
}
