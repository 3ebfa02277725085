package app

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/datallboy/mediagrab/internal/asset"
	"github.com/datallboy/mediagrab/internal/checkpoint"
	"github.com/datallboy/mediagrab/internal/engine"
	"github.com/datallboy/mediagrab/internal/hls"
	"github.com/datallboy/mediagrab/internal/infra/config"
	"github.com/datallboy/mediagrab/internal/infra/logger"
	"github.com/datallboy/mediagrab/internal/job"
	"github.com/datallboy/mediagrab/internal/metrics"
	"github.com/datallboy/mediagrab/internal/mux"
	"github.com/datallboy/mediagrab/internal/netclient"
	"github.com/datallboy/mediagrab/internal/platform"
	"github.com/datallboy/mediagrab/internal/publish"
	"github.com/datallboy/mediagrab/internal/store"
)

// Context hold the core environment and shared resources for mediagrab.
// It acts as the "Single Source of Truth" for the application state.
type Context struct {
	Config *config.Config
	Logger *logger.Logger

	Store     store.JobStore
	Metrics   *metrics.Metrics
	Client    *netclient.Client
	Publisher *publish.Publisher
	Runner    *job.Runner
	Jobs      *job.Manager
}

type BuildOptions struct {
	// RequireMuxer fails the build when ffmpeg is missing
	RequireMuxer bool
	// Progress draws batch progress, nil disables it
	Progress io.Writer
	// Confirm answers the resume prompt, nil reads stdin
	Confirm func(prompt string) bool
}

// NewContext initializes the base environment.
func NewContext(cfg *config.Config, log *logger.Logger) *Context {
	return &Context{
		Config:  cfg,
		Logger:  log,
		Metrics: metrics.New(),
	}
}

// Build opens the history store and wires the download pipeline.
func (a *Context) Build(ctx context.Context, opts BuildOptions) error {
	cfg := a.Config

	s, err := store.Open(cfg.Store)
	if err != nil {
		return fmt.Errorf("failed to open job store: %w", err)
	}
	a.Store = s

	var muxer hls.Muxer
	if err := platform.ValidateDependencies(); err != nil {
		if opts.RequireMuxer {
			return err
		}
		a.Logger.Warn("%v, stream variants will keep their raw segments", err)
		muxer = mux.Unavailable{Err: err}
	} else {
		ff, err := mux.NewFFmpeg(a.Logger)
		if err != nil {
			return err
		}
		muxer = ff
	}

	clientOpts := []netclient.Option{
		netclient.WithObserver(a.Metrics),
		netclient.WithHeaders(netclient.StaticHeaders{
			Authorization: cfg.Auth.Authorization,
			Cookie:        cfg.Auth.Cookie,
		}),
	}
	if cfg.Auth.UserAgent != "" {
		clientOpts = append(clientOpts, netclient.WithIdentity(cfg.Auth.UserAgent))
	}
	a.Client = netclient.New(netclient.PolicyFromConfig(cfg.Network), a.Logger, clientOpts...)

	var progress engine.Progress = engine.NopProgress{}
	if opts.Progress != nil {
		progress = engine.NewCLIProgress(opts.Progress)
	}
	newExec := func() *engine.Executor {
		return engine.NewExecutor(cfg.Download.Workers, a.Logger,
			engine.WithPause(cfg.Download.BatchPauseMin, cfg.Download.BatchPauseMax),
			engine.WithProgress(progress),
		)
	}

	streams := hls.NewProcessor(a.Client, newExec(), muxer, a.Logger, hls.Options{
		BatchSize:       cfg.Download.StreamBatchSize,
		SegmentDelayMin: cfg.Download.SegmentDelayMin,
		SegmentDelayMax: cfg.Download.SegmentDelayMax,
	})
	streams.SetObserver(a.Metrics)

	assets := asset.NewProcessor(a.Client, newExec(), a.Logger, asset.Options{
		BatchSize: cfg.Download.AssetBatchSize,
		DelayMin:  cfg.Download.AssetDelayMin,
		DelayMax:  cfg.Download.AssetDelayMax,
	})

	runnerOpts := []job.RunnerOption{job.WithRecorder(a.Metrics)}
	if opts.Confirm != nil {
		runnerOpts = append(runnerOpts, job.WithConfirmer(checkpoint.ConfirmFunc(opts.Confirm)))
	}

	if cfg.Publish.BucketURL != "" {
		p, err := publish.Open(ctx, cfg.Publish.BucketURL, cfg.Publish.Prefix, a.Logger)
		if err != nil {
			return err
		}
		a.Publisher = p
		runnerOpts = append(runnerOpts, job.WithPublisher(p))
	}

	a.Runner = job.NewRunner(streams, assets, a.Store, a.Logger, job.Options{
		OutDir:       cfg.Download.OutDir,
		AutoResume:   cfg.Download.AutoResume,
		MinFreeBytes: cfg.Download.MinFreeBytes,
	}, runnerOpts...)
	a.Jobs = job.NewManager(a.Runner, a.Store)

	return nil
}

// Close releases the store and the bucket
func (a *Context) Close() error {
	var errs []error
	if a.Publisher != nil {
		errs = append(errs, a.Publisher.Close())
	}
	if a.Store != nil {
		errs = append(errs, a.Store.Close())
	}
	return errors.Join(errs...)
}
