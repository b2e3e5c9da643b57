// Package config holds the server configuration and its ZIMGX_* environment
// loader. All fields have safe defaults so callers can start with Default()
// and override only what they need.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// OriginType selects the origin fetcher.
type OriginType string

const (
	OriginHTTP OriginType = "http"
	OriginS3   OriginType = "s3"
)

// Config is the top-level configuration struct.
type Config struct {
	Server    ServerConfig
	Origin    OriginConfig
	Transform TransformConfig
	Cache     CacheConfig
	R2        R2Config

	LogLevel string // "debug", "info", "warn", "error"
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Host           string
	Port           int
	RequestTimeout time.Duration
	MaxRequestSize int64
	MaxConnections int
}

// OriginConfig controls where original images come from.
type OriginConfig struct {
	Type       OriginType
	BaseURL    string
	Timeout    time.Duration
	MaxRetries int
	PathPrefix string
}

// TransformConfig bounds the transform pipeline.
type TransformConfig struct {
	MaxWidth          int
	MaxHeight         int
	DefaultQuality    int
	MaxPixels         int64
	StripMetadata     bool
	MaxFrames         int
	MaxAnimatedPixels int64
}

// CacheConfig controls the in-process variant cache.
type CacheConfig struct {
	Enabled      bool
	MaxSizeBytes int64
	DefaultTTL   time.Duration
}

// R2Config configures the S3-compatible object store used for the persistent
// cache layer and the s3 origin. Leaving Endpoint (or BucketVariants) empty
// disables the persistent cache layer; the s3 origin type requires Endpoint
// and BucketOriginals and fails validation without them.
type R2Config struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	BucketOriginals string
	BucketVariants  string
}

// Default returns a Config populated with sensible production defaults.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Host:           "0.0.0.0",
			Port:           8080,
			RequestTimeout: 30 * time.Second,
			MaxRequestSize: 16 * 1024,
			MaxConnections: 64,
		},
		Origin: OriginConfig{
			Type:       OriginHTTP,
			Timeout:    10 * time.Second,
			MaxRetries: 2,
		},
		Transform: TransformConfig{
			MaxWidth:          8192,
			MaxHeight:         8192,
			DefaultQuality:    80,
			MaxPixels:         100_000_000,
			StripMetadata:     true,
			MaxFrames:         100,
			MaxAnimatedPixels: 50_000_000,
		},
		Cache: CacheConfig{
			Enabled:      true,
			MaxSizeBytes: 256 * 1024 * 1024,
			DefaultTTL:   24 * time.Hour,
		},
		LogLevel: "info",
	}
}

// FromEnv returns Default() overridden by any ZIMGX_* environment variables.
func FromEnv() Config {
	c := Default()

	c.Server.Host = envString("ZIMGX_SERVER_HOST", c.Server.Host)
	c.Server.Port = envInt("ZIMGX_SERVER_PORT", c.Server.Port)
	c.Server.RequestTimeout = envMillis("ZIMGX_SERVER_REQUEST_TIMEOUT_MS", c.Server.RequestTimeout)
	c.Server.MaxRequestSize = envInt64("ZIMGX_SERVER_MAX_REQUEST_SIZE", c.Server.MaxRequestSize)
	c.Server.MaxConnections = envInt("ZIMGX_SERVER_MAX_CONNECTIONS", c.Server.MaxConnections)

	c.Origin.Type = OriginType(envString("ZIMGX_ORIGIN_TYPE", string(c.Origin.Type)))
	c.Origin.BaseURL = envString("ZIMGX_ORIGIN_BASE_URL", c.Origin.BaseURL)
	c.Origin.Timeout = envMillis("ZIMGX_ORIGIN_TIMEOUT_MS", c.Origin.Timeout)
	c.Origin.MaxRetries = envInt("ZIMGX_ORIGIN_MAX_RETRIES", c.Origin.MaxRetries)
	c.Origin.PathPrefix = envString("ZIMGX_ORIGIN_PATH_PREFIX", c.Origin.PathPrefix)

	c.Transform.MaxWidth = envInt("ZIMGX_TRANSFORM_MAX_WIDTH", c.Transform.MaxWidth)
	c.Transform.MaxHeight = envInt("ZIMGX_TRANSFORM_MAX_HEIGHT", c.Transform.MaxHeight)
	c.Transform.DefaultQuality = envInt("ZIMGX_TRANSFORM_DEFAULT_QUALITY", c.Transform.DefaultQuality)
	c.Transform.MaxPixels = envInt64("ZIMGX_TRANSFORM_MAX_PIXELS", c.Transform.MaxPixels)
	c.Transform.StripMetadata = envBool("ZIMGX_TRANSFORM_STRIP_METADATA", c.Transform.StripMetadata)
	c.Transform.MaxFrames = envInt("ZIMGX_TRANSFORM_MAX_FRAMES", c.Transform.MaxFrames)
	c.Transform.MaxAnimatedPixels = envInt64("ZIMGX_TRANSFORM_MAX_ANIMATED_PIXELS", c.Transform.MaxAnimatedPixels)

	c.Cache.Enabled = envBool("ZIMGX_CACHE_ENABLED", c.Cache.Enabled)
	c.Cache.MaxSizeBytes = envInt64("ZIMGX_CACHE_MAX_SIZE_BYTES", c.Cache.MaxSizeBytes)
	c.Cache.DefaultTTL = envSeconds("ZIMGX_CACHE_DEFAULT_TTL_SECONDS", c.Cache.DefaultTTL)

	c.R2.Endpoint = envString("ZIMGX_R2_ENDPOINT", c.R2.Endpoint)
	c.R2.AccessKeyID = envString("ZIMGX_R2_ACCESS_KEY_ID", c.R2.AccessKeyID)
	c.R2.SecretAccessKey = envString("ZIMGX_R2_SECRET_ACCESS_KEY", c.R2.SecretAccessKey)
	c.R2.BucketOriginals = envString("ZIMGX_R2_BUCKET_ORIGINALS", c.R2.BucketOriginals)
	c.R2.BucketVariants = envString("ZIMGX_R2_BUCKET_VARIANTS", c.R2.BucketVariants)

	c.LogLevel = envString("ZIMGX_LOG_LEVEL", c.LogLevel)

	return c
}

// Validate returns an error if the configuration is inconsistent.
func Validate(c Config) error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("config: port %d out of range", c.Server.Port)
	}
	if c.Server.MaxConnections <= 0 {
		return errors.New("config: MaxConnections must be positive")
	}
	if c.Transform.DefaultQuality < 1 || c.Transform.DefaultQuality > 100 {
		return errors.New("config: DefaultQuality must be between 1 and 100")
	}
	if c.Transform.MaxWidth <= 0 || c.Transform.MaxHeight <= 0 {
		return errors.New("config: MaxWidth and MaxHeight must be positive")
	}
	if c.Transform.MaxFrames <= 0 {
		return errors.New("config: MaxFrames must be positive")
	}
	switch c.Origin.Type {
	case OriginHTTP:
		if c.Origin.BaseURL == "" {
			return errors.New("config: http origin requires ZIMGX_ORIGIN_BASE_URL")
		}
	case OriginS3:
		if c.R2.Endpoint == "" || c.R2.BucketOriginals == "" {
			return errors.New("config: s3 origin requires ZIMGX_R2_ENDPOINT and ZIMGX_R2_BUCKET_ORIGINALS")
		}
	default:
		return fmt.Errorf("config: unknown origin type %q", c.Origin.Type)
	}
	if c.Cache.Enabled && c.Cache.MaxSizeBytes <= 0 {
		return errors.New("config: cache MaxSizeBytes must be positive when the cache is enabled")
	}
	return nil
}

// ── env helpers ───────────────────────────────────────────────────────────────

func envString(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envInt64(key string, def int64) int64 {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return def
}

func envBool(key string, def bool) bool {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func envMillis(key string, def time.Duration) time.Duration {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return time.Duration(n) * time.Millisecond
		}
	}
	return def
}

func envSeconds(key string, def time.Duration) time.Duration {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return time.Duration(n) * time.Second
		}
	}
	return def
}
