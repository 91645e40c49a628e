package app

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/venuerouter/internal/server"
	"github.com/alanyoungcy/venuerouter/internal/server/handler"
)

const (
	sweepInterval   = time.Minute
	shutdownTimeout = 10 * time.Second
)

// ServerMode serves the HTTP API. With the in-memory task queue the worker
// runs in this process too, since nothing else can drain the channel.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")
	g, ctx := errgroup.WithContext(ctx)

	a.startHTTPServer(ctx, g, deps)
	a.startPriceFeeds(ctx, g, deps)
	if deps.TaskChannel != nil {
		a.startWorker(ctx, g, deps)
	}
	return g.Wait()
}

// WorkerMode drains the shared task stream.
func (a *App) WorkerMode(ctx context.Context, deps *Dependencies) error {
	if deps.TaskStream == nil {
		return errors.New("app: worker mode needs side_effects.backend = \"redis\"")
	}
	a.logger.InfoContext(ctx, "starting worker mode")
	g, ctx := errgroup.WithContext(ctx)
	a.startWorker(ctx, g, deps)
	return g.Wait()
}

// ArchiverMode moves closed trades to object storage on a schedule.
func (a *App) ArchiverMode(ctx context.Context, deps *Dependencies) error {
	if deps.Archiver == nil {
		return errors.New("app: archiver mode needs archive.enabled = true")
	}
	a.logger.InfoContext(ctx, "starting archiver mode")
	g, ctx := errgroup.WithContext(ctx)
	a.startArchiver(ctx, g, deps)
	return g.Wait()
}

// AllMode runs the API, the worker and, when enabled, the archiver.
func (a *App) AllMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting all mode")
	g, ctx := errgroup.WithContext(ctx)

	a.startHTTPServer(ctx, g, deps)
	a.startPriceFeeds(ctx, g, deps)
	a.startWorker(ctx, g, deps)
	if deps.Archiver != nil {
		a.startArchiver(ctx, g, deps)
	}
	return g.Wait()
}

func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	srvCfg := server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKeys:     a.cfg.Server.APIKeys,
	}
	if deps.APILimiter != nil {
		srvCfg.Limiter = deps.APILimiter
	}
	srv := server.NewServer(srvCfg, server.Handlers{
		Health:  handler.NewHealthHandler(deps.HealthChecks, a.logger),
		Trades:  handler.NewTradeHandler(deps.Router, deps.TradeStore, a.logger),
		Metrics: deps.Metrics.Handler(),
	}, a.logger)

	g.Go(func() error {
		return srv.Start()
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}

// startPriceFeeds runs the venue tickers and the in-memory cache sweeper.
func (a *App) startPriceFeeds(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	for _, t := range deps.Tickers {
		g.Go(func() error {
			err := t.Run(ctx)
			if err != nil && !errors.Is(err, context.Canceled) {
				// The venue fetcher falls back to the REST mark price.
				a.logger.WarnContext(ctx, "venue ticker stopped", slog.String("error", err.Error()))
			}
			return nil
		})
	}

	if len(deps.sweepers) == 0 {
		return
	}
	g.Go(func() error {
		ticker := time.NewTicker(sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				n := 0
				for _, sweep := range deps.sweepers {
					n += sweep()
				}
				if n > 0 {
					a.logger.DebugContext(ctx, "swept expired cache entries", slog.Int("count", n))
				}
			}
		}
	})
}

func (a *App) startWorker(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	g.Go(func() error {
		var err error
		if deps.TaskStream != nil {
			err = deps.Worker.RunStream(ctx, deps.TaskStream)
		} else {
			err = deps.Worker.RunChannel(ctx, deps.TaskChannel)
		}
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
}

func (a *App) startArchiver(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	interval := a.cfg.Archive.Interval.Duration
	retention := a.cfg.Archive.Retention.Duration

	run := func() {
		before := time.Now().UTC().Add(-retention)
		n, err := deps.Archiver.ArchiveClosedTrades(ctx, before)
		if err != nil {
			if ctx.Err() == nil {
				a.logger.ErrorContext(ctx, "archive run failed",
					slog.Int64("archived", n),
					slog.String("error", err.Error()),
				)
			}
			return
		}
		a.logger.InfoContext(ctx, "archive run complete",
			slog.Int64("archived", n),
			slog.Time("before", before),
		)
	}

	g.Go(func() error {
		run()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				run()
			}
		}
	})
}
