// Package zimgx assembles the image proxy: configuration, the libvips
// lifecycle, the tiered variant cache, the origin fetcher, and the HTTP
// server, wired in one place.
package zimgx

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/zimgx/zimgx/cache"
	"github.com/zimgx/zimgx/config"
	"github.com/zimgx/zimgx/imaging"
	"github.com/zimgx/zimgx/options"
	"github.com/zimgx/zimgx/origin"
	"github.com/zimgx/zimgx/pipeline"
	"github.com/zimgx/zimgx/server"
)

// maxOriginBytes caps how large an origin response may be before the fetch
// fails with ResponseTooLarge.
const maxOriginBytes = 64 * 1024 * 1024

// asyncWriteWorkers bounds the pool that replays cache writes into the
// persistent layer.
const asyncWriteWorkers = 8

// App is a fully wired proxy instance.
type App struct {
	Server *server.Server

	cfg    config.Config
	tiered *cache.Tiered
	log    zerolog.Logger
}

// New validates cfg, starts libvips, and wires every component. Call Run to
// serve and Close to release resources.
func New(cfg config.Config, log zerolog.Logger) (*App, error) {
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}

	imaging.Startup(imaging.Config{})

	app := &App{cfg: cfg, log: log}

	variants, err := app.buildCache()
	if err != nil {
		imaging.Shutdown()
		return nil, err
	}
	fetcher, err := app.buildFetcher()
	if err != nil {
		imaging.Shutdown()
		return nil, err
	}

	pipeCfg := pipeline.Config{
		Anim: pipeline.AnimConfig{
			MaxFrames:         cfg.Transform.MaxFrames,
			MaxAnimatedPixels: cfg.Transform.MaxAnimatedPixels,
		},
		MaxPixels: cfg.Transform.MaxPixels,
		Log:       log,
	}
	transform := func(data []byte, o *options.Options, accept string) (*server.Transformed, error) {
		res, err := pipeline.Run(data, o, accept, pipeCfg)
		if err != nil {
			return nil, err
		}
		return &server.Transformed{Data: res.Data, ContentType: res.ContentType}, nil
	}

	app.Server = server.New(cfg, variants, fetcher, transform, log)
	return app, nil
}

func (a *App) buildCache() (cache.Cache, error) {
	if !a.cfg.Cache.Enabled {
		return cache.NoOp{}, nil
	}
	l1 := cache.NewMemory(a.cfg.Cache.MaxSizeBytes)
	if a.cfg.R2.Endpoint == "" || a.cfg.R2.BucketVariants == "" {
		return l1, nil
	}
	l2, err := cache.NewStore(cache.StoreConfig{
		Endpoint:        a.cfg.R2.Endpoint,
		AccessKeyID:     a.cfg.R2.AccessKeyID,
		SecretAccessKey: a.cfg.R2.SecretAccessKey,
		Bucket:          a.cfg.R2.BucketVariants,
	}, a.log)
	if err != nil {
		return nil, err
	}
	a.tiered = cache.NewTiered(l1, l2, asyncWriteWorkers)
	return a.tiered, nil
}

func (a *App) buildFetcher() (origin.Fetcher, error) {
	if a.cfg.Origin.Type == config.OriginS3 {
		store, err := cache.NewStore(cache.StoreConfig{
			Endpoint:        a.cfg.R2.Endpoint,
			AccessKeyID:     a.cfg.R2.AccessKeyID,
			SecretAccessKey: a.cfg.R2.SecretAccessKey,
			Bucket:          a.cfg.R2.BucketOriginals,
		}, a.log)
		if err != nil {
			return nil, err
		}
		return origin.NewStore(store), nil
	}
	return origin.NewHTTP(a.cfg.Origin, maxOriginBytes, a.log), nil
}

// Run serves until ctx is cancelled, then releases all resources.
func (a *App) Run(ctx context.Context) error {
	err := a.Server.ListenAndServe(ctx)
	a.Close()
	return err
}

// Close drains the async cache writers and shuts down libvips.
func (a *App) Close() {
	if a.tiered != nil {
		a.tiered.Close()
		a.tiered = nil
	}
	imaging.Shutdown()
}
