package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/opinionmarket/internal/notify"
	"github.com/alanyoungcy/opinionmarket/internal/server"
	"github.com/alanyoungcy/opinionmarket/internal/server/ws"
)

// ServerMode serves the HTTP and WebSocket API, forwards notifications and
// runs the pool expiry keeper.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "entering server mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startMarket(ctx, g, deps)

	return g.Wait()
}

// ArchiveMode only exports events, answer history and snapshots to object
// storage. It serves no traffic.
func (a *App) ArchiveMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "entering archive mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startArchiver(ctx, g, deps)

	return g.Wait()
}

// FullMode runs the server and the archiver side by side.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "entering full mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startMarket(ctx, g, deps)
	a.startArchiver(ctx, g, deps)

	return g.Wait()
}

func (a *App) startMarket(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps)
	}
	if deps.Notifier.Enabled() {
		fwd := notify.NewForwarder(deps.SignalBus, deps.Notifier, a.logger)
		g.Go(func() error { return fwd.Run(ctx) })
	}
	if a.cfg.Keeper.Enabled {
		a.startKeeper(ctx, g, deps)
	}
}

// startHTTPServer adds the API server and its WebSocket hub to g. The server
// is shut down gracefully when ctx is cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	hub := ws.NewHub(deps.SignalBus, a.logger, ws.Config{
		Mode:      a.cfg.Mode,
		StartedAt: time.Now().UTC(),
		Paused:    deps.Engine.Paused,
	})
	g.Go(func() error { return hub.Run(ctx) })

	srv := server.NewServer(server.Config{
		Port:              a.cfg.Server.Port,
		CORSOrigins:       a.cfg.Server.CORSOrigins,
		APIKey:            a.cfg.Server.APIKey,
		RateLimit:         a.cfg.Server.RateLimit,
		RateWindow:        a.cfg.Server.RateWindow.Duration,
		SignatureWindow:   a.cfg.Server.SignatureWindow.Duration,
		TrustCallerHeader: a.cfg.Server.TrustCallerHeader,
		Replay:            deps.Replay,
	}, server.NewHandlers(deps.Engine, deps.Cache, a.logger), hub, deps.RateLimiter, a.logger)

	g.Go(func() error {
		a.logger.InfoContext(ctx, "HTTP server listening",
			slog.Int("port", a.cfg.Server.Port),
			slog.Bool("rate_limited", deps.RateLimiter != nil && a.cfg.Server.RateLimit > 0),
		)
		return srv.Start()
	})

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout.Duration)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}

// startKeeper expires overdue pools on a fixed interval so contributors can
// withdraw without someone calling the expiry check first.
func (a *App) startKeeper(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	keeper := common.HexToAddress(a.cfg.Keeper.Address)
	interval := a.cfg.Keeper.Interval.Duration

	g.Go(func() error {
		sweep := func() {
			n, err := deps.Engine.SweepExpiredPools(ctx, keeper)
			if err != nil {
				if ctx.Err() == nil {
					a.logger.ErrorContext(ctx, "keeper: sweep failed", slog.String("error", err.Error()))
				}
				return
			}
			if n > 0 {
				a.logger.InfoContext(ctx, "keeper: expired pools", slog.Int("count", n))
			}
		}

		a.logger.InfoContext(ctx, "keeper started", slog.Duration("interval", interval))
		sweep()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				sweep()
			}
		}
	})
}

// startArchiver exports aged events and history every Archive.Interval and a
// full snapshot every Archive.SnapshotInterval.
func (a *App) startArchiver(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if deps.Archiver == nil {
		a.logger.WarnContext(ctx, "archiver: s3 disabled, skipping")
		return
	}
	arc := a.cfg.Archive

	g.Go(func() error {
		archive := func() {
			before := time.Now().UTC().Add(-arc.Retention.Duration)
			events, err := deps.Archiver.ArchiveEvents(ctx, before)
			if err != nil {
				a.logger.ErrorContext(ctx, "archiver: events failed", slog.String("error", err.Error()))
			}
			history, err := deps.Archiver.ArchiveHistory(ctx, before)
			if err != nil {
				a.logger.ErrorContext(ctx, "archiver: history failed", slog.String("error", err.Error()))
			}
			a.logger.InfoContext(ctx, "archiver: run complete",
				slog.Time("before", before),
				slog.Int64("events", events),
				slog.Int64("history", history),
			)
		}

		snapshot := func() {
			snap, err := deps.Engine.Snapshot(ctx)
			if err != nil {
				a.logger.ErrorContext(ctx, "archiver: read snapshot failed", slog.String("error", err.Error()))
				return
			}
			path, err := deps.Archiver.ExportSnapshot(ctx, snap, time.Now().UTC())
			if err != nil {
				a.logger.ErrorContext(ctx, "archiver: export snapshot failed", slog.String("error", err.Error()))
				return
			}
			a.logger.InfoContext(ctx, "archiver: snapshot exported",
				slog.String("path", path),
				slog.Int("opinions", len(snap.Opinions)),
			)
		}

		a.logger.InfoContext(ctx, "archiver started",
			slog.Duration("interval", arc.Interval.Duration),
			slog.Duration("snapshot_interval", arc.SnapshotInterval.Duration),
			slog.Duration("retention", arc.Retention.Duration),
		)
		snapshot()
		archiveTicker := time.NewTicker(arc.Interval.Duration)
		defer archiveTicker.Stop()
		snapTicker := time.NewTicker(arc.SnapshotInterval.Duration)
		defer snapTicker.Stop()

		for {
			select {
			case <-ctx.Done():
				return nil
			case <-archiveTicker.C:
				archive()
			case <-snapTicker.C:
				snapshot()
			}
		}
	})
}
