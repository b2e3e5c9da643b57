package cache

import (
	"bytes"
	"context"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog"

	apperrors "github.com/zimgx/zimgx/errors"
	"github.com/zimgx/zimgx/utils"
)

// StoreConfig configures the S3-compatible persistent backend.
type StoreConfig struct {
	Endpoint        string // host or URL; https assumed unless the URL says otherwise
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
}

// Store is the persistent L2 backed by an S3-compatible object store.
// Get sniffs the content type from magic bytes (the store does not return
// usable headers for objects written by third parties); Put is best-effort
// and swallows errors; Size is not trackable and reports 0.
type Store struct {
	client *minio.Client
	bucket string
	log    zerolog.Logger
}

// NewStore connects a Store to the configured endpoint and bucket.
func NewStore(cfg StoreConfig, log zerolog.Logger) (*Store, error) {
	endpoint := cfg.Endpoint
	secure := true
	if u, err := url.Parse(endpoint); err == nil && u.Host != "" {
		secure = u.Scheme != "http"
		endpoint = u.Host
	}
	endpoint = strings.TrimSuffix(endpoint, "/")

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: secure,
	})
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryCache, "store.new", err)
	}
	return &Store{client: client, bucket: cfg.Bucket, log: log}, nil
}

// Fetch reads an object and returns its bytes with a sniffed content type.
// Unlike Get it surfaces the error so the origin fetcher can map it onto
// the fetch taxonomy.
func (s *Store) Fetch(ctx context.Context, key string) ([]byte, string, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, StoreKey(key), minio.GetObjectOptions{})
	if err != nil {
		return nil, "", mapStoreErr("store.get", err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, "", mapStoreErr("store.get", err)
	}
	return data, utils.DetectContentType(data), nil
}

func (s *Store) Get(ctx context.Context, key string) (*Entry, bool) {
	data, ct, err := s.Fetch(ctx, key)
	if err != nil {
		if !apperrors.Is(err, apperrors.ErrNotFound) {
			s.log.Warn().Err(err).Str("key", key).Msg("store get failed")
		}
		return nil, false
	}
	return &Entry{Data: data, ContentType: ct, CreatedAt: time.Now()}, true
}

func (s *Store) Put(ctx context.Context, key string, e *Entry) {
	_, err := s.client.PutObject(ctx, s.bucket, StoreKey(key),
		bytes.NewReader(e.Data), int64(len(e.Data)),
		minio.PutObjectOptions{ContentType: e.ContentType})
	if err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("store put failed")
	}
}

func (s *Store) Delete(ctx context.Context, key string) bool {
	err := s.client.RemoveObject(ctx, s.bucket, StoreKey(key), minio.RemoveObjectOptions{})
	if err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("store delete failed")
		return false
	}
	return true
}

// Clear is a no-op: bulk-deleting a bucket from the request path is never
// what an operator wants; retention is handled by store lifecycle rules.
func (s *Store) Clear(context.Context) {}

func (s *Store) Size() int { return 0 }

func mapStoreErr(op string, err error) error {
	resp := minio.ToErrorResponse(err)
	switch resp.Code {
	case "NoSuchKey", "NoSuchBucket":
		return apperrors.New(apperrors.CategoryOrigin, op, apperrors.ErrNotFound)
	}
	if resp.StatusCode >= 500 {
		return apperrors.Transient(apperrors.CategoryOrigin, op, apperrors.ErrUpstream)
	}
	if resp.Code == "" {
		// No S3 error response at all: the connection itself failed.
		return apperrors.Transient(apperrors.CategoryOrigin, op, apperrors.ErrConnectionFailed)
	}
	return apperrors.Wrap(apperrors.CategoryOrigin, op, err)
}

var _ Cache = (*Store)(nil)
