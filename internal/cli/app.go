package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/roach88/docseed/internal/blobstore"
	"github.com/roach88/docseed/internal/bundle"
	"github.com/roach88/docseed/internal/config"
	"github.com/roach88/docseed/internal/coordinator"
	"github.com/roach88/docseed/internal/memstore"
	"github.com/roach88/docseed/internal/metrics"
	"github.com/roach88/docseed/internal/store"
)

// App holds the process-wide state of one CLI invocation: configuration,
// logger, the two stores and the coordinator built over them. Everything is
// constructed once in OpenApp and passed down explicitly.
type App struct {
	Config      config.Config
	Logger      *slog.Logger
	Records     bundle.RecordStore
	Blobs       bundle.BlobStore
	Coordinator *coordinator.Coordinator
	Registry    *prometheus.Registry

	closers []func() error
}

// NewLogger builds the process logger: text by default, JSON when format is
// "json".
func NewLogger(w io.Writer, format string, level slog.Level) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// OpenApp loads configuration and opens the configured backends.
func OpenApp(ctx context.Context, opts *RootOptions, logOut io.Writer) (*App, error) {
	cfg, err := config.LoadWithFlags(opts.ConfigPath, opts.flags)
	if err != nil {
		return nil, err
	}

	level := cfg.LogLevel()
	if opts.Verbose {
		level = slog.LevelDebug
	}
	format := cfg.Log.Format
	if opts.LogFormat != "" {
		format = opts.LogFormat
	}
	logger := NewLogger(logOut, format, level)

	app := &App{
		Config:   cfg,
		Logger:   logger,
		Registry: prometheus.NewRegistry(),
	}

	if err := app.openRecords(ctx); err != nil {
		app.Close()
		return nil, err
	}
	if err := app.openBlobs(ctx); err != nil {
		app.Close()
		return nil, err
	}

	mode, err := coordinator.ParseMode(cfg.Records.Transactions)
	if err != nil {
		app.Close()
		return nil, err
	}
	coord, err := coordinator.New(app.Records, app.Blobs,
		coordinator.WithLogger(logger),
		coordinator.WithRetryPolicy(cfg.RetryPolicy()),
		coordinator.WithMetrics(metrics.New(app.Registry)),
		coordinator.WithAtomicity(mode),
	)
	if err != nil {
		app.Close()
		return nil, err
	}
	app.Coordinator = coord

	logger.Debug("backends ready",
		"records", cfg.Records.Driver,
		"blobs", cfg.Blobs.Kind,
		"executor", coord.Executor(),
	)
	return app, nil
}

func (a *App) openRecords(ctx context.Context) error {
	rc := a.Config.Records
	switch rc.Driver {
	case "memory":
		a.Records = memstore.New()
		return nil
	case "sqlite", "postgres":
		dialect, err := store.ParseDialect(rc.Driver)
		if err != nil {
			return err
		}
		s, err := store.Open(ctx, store.Config{
			Dialect:             dialect,
			DSN:                 rc.DSN,
			DisableTransactions: rc.Transactions == string(coordinator.ModeDisabled),
			Logger:              a.Logger,
		})
		if err != nil {
			return fmt.Errorf("open record store: %w", err)
		}
		a.Records = s
		a.closers = append(a.closers, s.Close)
		return nil
	}
	return fmt.Errorf("unknown records driver %q", rc.Driver)
}

func (a *App) openBlobs(ctx context.Context) error {
	bc := a.Config.Blobs
	switch bc.Kind {
	case "memory":
		a.Blobs = blobstore.NewMemory()
		return nil
	case "badger":
		b, err := blobstore.OpenBadger(blobstore.BadgerConfig{
			Path:        bc.Path,
			ChunkSize:   bc.ChunkSize,
			Compression: bc.Compression,
			Logger:      a.Logger,
		})
		if err != nil {
			return fmt.Errorf("open blob store: %w", err)
		}
		a.Blobs = b
		a.closers = append(a.closers, b.Close)
		return nil
	case "gcs":
		g, err := blobstore.OpenGCS(ctx, blobstore.GCSConfig{
			Bucket:          bc.Bucket,
			Prefix:          bc.Prefix,
			CredentialsFile: bc.CredentialsFile,
		})
		if err != nil {
			return fmt.Errorf("open blob store: %w", err)
		}
		a.Blobs = g
		a.closers = append(a.closers, g.Close)
		return nil
	}
	return fmt.Errorf("unknown blob store kind %q", bc.Kind)
}

// Close dumps metrics to the configured textfile and closes the stores in
// reverse order of opening.
func (a *App) Close() error {
	var errs []error
	if path := a.Config.Metrics.Textfile; path != "" && a.Coordinator != nil {
		errs = append(errs, metrics.WriteTextfile(a.Registry, path))
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}
