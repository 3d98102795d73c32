package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	s3blob "github.com/alanyoungcy/clobwatch/internal/blob/s3"
	"github.com/alanyoungcy/clobwatch/internal/catalog"
	"github.com/alanyoungcy/clobwatch/internal/crypto"
	"github.com/alanyoungcy/clobwatch/internal/domain"
	"github.com/alanyoungcy/clobwatch/internal/feed"
	"github.com/alanyoungcy/clobwatch/internal/monitor"
	"github.com/alanyoungcy/clobwatch/internal/platform/binance"
	"github.com/alanyoungcy/clobwatch/internal/platform/polymarket"
	"github.com/alanyoungcy/clobwatch/internal/server"
	"github.com/alanyoungcy/clobwatch/internal/server/handler"
	"github.com/alanyoungcy/clobwatch/internal/server/ws"
	"github.com/alanyoungcy/clobwatch/internal/service"
	"github.com/alanyoungcy/clobwatch/internal/strategy"
)

// alertBuffer is the capacity of the engine-to-fan-out alert channel. The
// engine offers without blocking, so this is the slack between an alert burst
// and the alert service draining it.
const alertBuffer = 256

// MonitorMode runs the live pipeline: supervised WebSocket feeds with REST
// fallback, the strategy engine, alert fan-out, the Redis mirror, and the
// HTTP server.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode")
	return a.runMonitor(ctx, deps, false)
}

// PollMode runs the same pipeline without opening any sockets; books are kept
// fresh from REST snapshots alone.
func (a *App) PollMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting poll mode")
	return a.runMonitor(ctx, deps, true)
}

func (a *App) runMonitor(ctx context.Context, deps *Dependencies, pollOnly bool) error {
	mode := "monitor"
	if pollOnly {
		mode = "poll"
	}

	g, ctx := errgroup.WithContext(ctx)

	// Catalog first: the watch selection, display labels, and event legs all
	// resolve against it. Monitoring cannot start without an initial crawl.
	gamma := polymarket.NewGammaClient(a.cfg.Polymarket.GammaHost)
	cat := catalog.New(gamma, a.logger)
	cat.UseCache(deps.MarketCache)
	cat.Pin(a.cfg.Watch.EventIDs, a.cfg.Watch.AssetIDs)
	if err := cat.Refresh(ctx); err != nil {
		return fmt.Errorf("%s mode: catalog bootstrap: %w", mode, err)
	}

	assets := cat.ExpandWatch(a.cfg.Watch.AssetIDs, a.cfg.Watch.EventIDs)
	if len(assets) == 0 {
		return fmt.Errorf("%s mode: watch selection resolves to no tracked assets", mode)
	}

	clob := polymarket.NewClobClient(a.cfg.Polymarket.ClobHost, nil, nil)

	// Feeds. Poll mode opens no sockets at all.
	var feeds []monitor.ManagedFeed
	if !pollOnly {
		feeds = append(feeds, a.marketFeed(assets))
		if a.cfg.Watch.UserChannel {
			userFeed, err := a.userFeed(ctx, cat, assets)
			if err != nil {
				return fmt.Errorf("monitor mode: user channel: %w", err)
			}
			feeds = append(feeds, userFeed)
		}
	}

	// Strategy engine. Autostarted kinds begin Running with an empty
	// selection; instruments are attached later through the API.
	alertCh := make(chan domain.Alert, alertBuffer)
	engine := strategy.NewEngine(alertCh, a.logger)
	for _, name := range a.cfg.Strategy.Autostart {
		kind, err := domain.ParseStrategyKind(name)
		if err == nil {
			err = engine.Start(kind)
		}
		if err != nil {
			a.logger.WarnContext(ctx, "strategy autostart failed",
				slog.String("strategy", name),
				slog.String("error", err.Error()),
			)
		}
	}

	mon := monitor.NewMonitor(monitor.Config{
		AssetIDs:         assets,
		Depth:            a.cfg.Watch.Depth,
		TickInterval:     a.cfg.Feed.TickInterval.Duration,
		RefreshInterval:  a.cfg.Feed.RefreshInterval.Duration,
		PollInterval:     a.cfg.Feed.PollInterval.Duration,
		HighlightWindow:  a.cfg.Feed.HighlightDuration.Duration,
		HistoryCapacity:  a.cfg.History.Capacity,
		HistoryBootstrap: a.cfg.History.Bootstrap,
		HistoryInterval:  a.cfg.History.Interval,
		HistoryFidelity:  a.cfg.History.Fidelity,
		PollOnly:         pollOnly,
		Logger:           a.logger,
	}, clob, cat, engine, feeds)

	if err := mon.Bootstrap(ctx); err != nil {
		return fmt.Errorf("%s mode: %w", mode, err)
	}

	alertSvc := service.NewAlertService(alertCh, deps.AlertStore, deps.SignalBus, deps.Notifier, a.logger)
	mirror := service.NewMirror(mon, deps.BookCache, deps.PriceCache, deps.SignalBus,
		a.cfg.Feed.RefreshInterval.Duration, a.logger)

	g.Go(func() error {
		return mon.Run(ctx)
	})
	g.Go(func() error {
		return alertSvc.Run(ctx)
	})
	g.Go(func() error {
		return mirror.Run(ctx)
	})
	g.Go(func() error {
		cat.Run(ctx, a.cfg.Watch.CatalogRefresh.Duration)
		return nil
	})

	// Reference quotes for crypto-tagged markets. The tracker exists in every
	// mode; without the feed it serves mirrored quotes from the cache.
	refTracker := service.NewReferenceTracker(deps.PriceCache, a.logger)
	if !pollOnly && a.cfg.Binance.Enabled {
		a.startReferenceFeed(ctx, g, cat, assets, refTracker)
	}

	// Archival loop when object storage is wired.
	if deps.BlobWriter != nil {
		archiver := s3blob.NewArchiver(deps.BlobWriter, deps.AlertStore, mon, deps.AuditStore)
		g.Go(func() error {
			return a.runArchiveLoop(ctx, deps.Locks, archiver, alertSvc)
		})
	}

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, mon, cat, gamma, engine, alertSvc, refTracker, cat.TagsForTokens(assets))
	}

	if err := deps.Notifier.NotifyAll(ctx, "clobwatch started",
		fmt.Sprintf("mode=%s assets=%d feeds=%d", mode, len(assets), len(feeds)),
	); err != nil {
		a.logger.WarnContext(ctx, "startup notice failed", slog.String("error", err.Error()))
	}

	return g.Wait()
}

// marketFeed builds the supervised public market-channel feed. The inbox
// outlives worker generations so buffered events survive a reconnect.
func (a *App) marketFeed(assets []string) monitor.ManagedFeed {
	inbox := feed.NewInbox(0)
	url := feed.EndpointURL(a.cfg.Polymarket.WsHost, feed.ChannelMarket)

	sup := feed.NewSupervisor(feed.SupervisorConfig{
		Name:        "market",
		Channel:     feed.ChannelMarket,
		AssetIDs:    assets,
		MaxAttempts: a.cfg.Feed.MaxAttempts,
		RetryDelay:  a.cfg.Feed.ReconnectDelay.Duration,
		Connect: func(ctx context.Context) (feed.Connection, error) {
			w := feed.NewWorker(feed.WorkerConfig{
				Name:     "market",
				URL:      url,
				Channel:  feed.ChannelMarket,
				AssetIDs: assets,
				Filter:   assets,
				Logger:   a.logger,
			}, inbox)
			if err := w.Start(ctx); err != nil {
				return nil, err
			}
			return w, nil
		},
		Logger: a.logger,
	})
	return monitor.ManagedFeed{Supervisor: sup, Inbox: inbox}
}

// userFeed builds the authenticated user-channel feed. The user channel
// subscribes by market (condition ID), so the watched tokens are resolved
// through the catalog first.
func (a *App) userFeed(ctx context.Context, cat *catalog.Catalog, assets []string) (monitor.ManagedFeed, error) {
	auth, err := a.userAuth(ctx)
	if err != nil {
		return monitor.ManagedFeed{}, err
	}

	seen := make(map[string]struct{})
	var markets []string
	for _, id := range assets {
		m, ok := cat.MarketForToken(id)
		if !ok || m.ConditionID == "" {
			continue
		}
		if _, dup := seen[m.ConditionID]; dup {
			continue
		}
		seen[m.ConditionID] = struct{}{}
		markets = append(markets, m.ConditionID)
	}
	if len(markets) == 0 {
		return monitor.ManagedFeed{}, fmt.Errorf("no condition IDs resolved for the watched assets")
	}

	inbox := feed.NewInbox(0)
	url := feed.EndpointURL(a.cfg.Polymarket.WsHost, feed.ChannelUser)

	sup := feed.NewSupervisor(feed.SupervisorConfig{
		Name:        "user",
		Channel:     feed.ChannelUser,
		AssetIDs:    assets,
		MaxAttempts: a.cfg.Feed.MaxAttempts,
		RetryDelay:  a.cfg.Feed.ReconnectDelay.Duration,
		Connect: func(ctx context.Context) (feed.Connection, error) {
			w := feed.NewWorker(feed.WorkerConfig{
				Name:    "user",
				URL:     url,
				Channel: feed.ChannelUser,
				Markets: markets,
				Auth:    auth,
				Filter:  assets,
				Logger:  a.logger,
			}, inbox)
			if err := w.Start(ctx); err != nil {
				return nil, err
			}
			return w, nil
		},
		Logger: a.logger,
	})
	return monitor.ManagedFeed{Supervisor: sup, Inbox: inbox}, nil
}

// userAuth returns the CLOB credential triple for the user channel. A
// provisioned API key wins; otherwise the triple is derived from the wallet
// key through the CLOB's L1 auth flow.
func (a *App) userAuth(ctx context.Context) (*crypto.HMACAuth, error) {
	if a.cfg.Auth.Provisioned() {
		return &crypto.HMACAuth{
			Key:        a.cfg.Auth.ApiKey,
			Secret:     a.cfg.Auth.ApiSecret,
			Passphrase: a.cfg.Auth.ApiPassphrase,
		}, nil
	}

	key, err := crypto.LoadKey(crypto.KeyConfig{
		RawPrivateKey:    a.cfg.Wallet.PrivateKey,
		EncryptedKeyPath: a.cfg.Wallet.EncryptedKeyPath,
		KeyPassword:      a.cfg.Wallet.KeyPassword,
	})
	if err != nil {
		return nil, fmt.Errorf("load wallet key: %w", err)
	}
	signer, err := crypto.NewSigner(key, a.cfg.Polymarket.ChainID)
	if err != nil {
		return nil, fmt.Errorf("create signer: %w", err)
	}
	client := polymarket.NewClobClient(a.cfg.Polymarket.ClobHost, signer, nil)
	auth, err := client.DeriveAPIKey(ctx)
	if err != nil {
		return nil, fmt.Errorf("derive api key: %w", err)
	}
	// Catch a stale or revoked key here rather than as a socket auth failure.
	if err := client.ValidateAPIKey(ctx); err != nil {
		return nil, fmt.Errorf("validate api key: %w", err)
	}
	return auth, nil
}

// startReferenceFeed streams Binance bookTicker quotes for every classifier
// tag among the watched markets. The reference feed is auxiliary: a failed
// connection is logged and the monitor runs without it.
func (a *App) startReferenceFeed(
	ctx context.Context,
	g *errgroup.Group,
	cat *catalog.Catalog,
	assets []string,
	tracker *service.ReferenceTracker,
) {
	tags := cat.TagsForTokens(assets)
	if len(tags) == 0 {
		a.logger.InfoContext(ctx, "no crypto-tagged markets watched, reference feed not started")
		return
	}

	wsClient := binance.NewWSClient(strings.TrimRight(a.cfg.Binance.WsHost, "/") + "/ws")
	wsClient.OnQuote(func(q binance.Quote) {
		tracker.Record(ctx, q.Symbol, q.Mid, q.At)
	})

	if err := wsClient.Connect(ctx); err != nil {
		a.logger.WarnContext(ctx, "reference feed connect failed, continuing without it",
			slog.String("error", err.Error()),
		)
		return
	}
	if err := wsClient.Subscribe(ctx, tags); err != nil {
		a.logger.WarnContext(ctx, "reference feed subscribe failed, continuing without it",
			slog.String("error", err.Error()),
		)
		_ = wsClient.Close()
		return
	}

	g.Go(func() error {
		<-ctx.Done()
		_ = wsClient.Close()
		return nil
	})
	a.logger.InfoContext(ctx, "reference feed started", slog.Any("symbols", tags))
}

// runArchiveLoop periodically archives book snapshots and expired alert
// history to object storage. Each cycle runs under a Redis lock so only one
// instance archives and prunes at a time.
func (a *App) runArchiveLoop(
	ctx context.Context,
	locks domain.LockManager,
	archiver *s3blob.Archiver,
	alerts *service.AlertService,
) error {
	interval := a.cfg.S3.ArchiveInterval.Duration
	if interval <= 0 {
		interval = time.Hour
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			unlock, err := locks.Acquire(ctx, "archive", interval)
			if err != nil {
				if errors.Is(err, domain.ErrLockHeld) {
					a.logger.DebugContext(ctx, "archive cycle skipped, another instance holds the lock")
					continue
				}
				// The lock is advisory; a Redis hiccup must not stop archival.
				a.logger.WarnContext(ctx, "archive lock unavailable, running unlocked",
					slog.String("error", err.Error()),
				)
				unlock = func() {}
			}
			a.archiveOnce(ctx, archiver, alerts)
			unlock()
		}
	}
}

// archiveOnce runs one archive cycle. Persisted alerts are pruned only after
// their archive landed; no row leaves Postgres without a copy in S3.
func (a *App) archiveOnce(ctx context.Context, archiver *s3blob.Archiver, alerts *service.AlertService) {
	now := time.Now().UTC()

	if n, err := archiver.ArchiveBooks(ctx, now); err != nil {
		a.logger.WarnContext(ctx, "book archive failed", slog.String("error", err.Error()))
	} else if n > 0 {
		a.logger.InfoContext(ctx, "book snapshots archived", slog.Int64("books", n))
	}

	cutoff := now.Add(-time.Duration(a.cfg.S3.RetentionDays) * 24 * time.Hour)
	n, err := archiver.ArchiveAlerts(ctx, cutoff)
	if err != nil {
		a.logger.WarnContext(ctx, "alert archive failed", slog.String("error", err.Error()))
		return
	}
	if n > 0 {
		a.logger.InfoContext(ctx, "alert history archived",
			slog.Int64("alerts", n),
			slog.Time("before", cutoff),
		)
		if _, err := alerts.Prune(ctx, cutoff); err != nil {
			a.logger.WarnContext(ctx, "alert prune failed", slog.String("error", err.Error()))
		}
	}
}

// startHTTPServer wires the REST handlers and the WebSocket hub into the
// errgroup. The server shuts down gracefully when the context is cancelled.
func (a *App) startHTTPServer(
	ctx context.Context,
	g *errgroup.Group,
	deps *Dependencies,
	mon *monitor.Monitor,
	cat *catalog.Catalog,
	gamma *polymarket.GammaClient,
	engine *strategy.Engine,
	alerts *service.AlertService,
	refTracker *service.ReferenceTracker,
	refTags []string,
) {
	hub := ws.NewHub(deps.SignalBus, a.logger, ws.Config{
		Mode:      a.cfg.Mode,
		StartedAt: time.Now().UTC(),
	})
	g.Go(func() error {
		return hub.Run(ctx)
	})

	handlers := server.Handlers{
		Health:     handler.NewHealthHandler(a.logger, deps.Health),
		Status:     handler.NewStatusHandler(mon),
		Markets:    handler.NewMarketHandler(cat, deps.MarketCache, gamma),
		Books:      handler.NewBookHandler(mon, deps.BookCache),
		Alerts:     handler.NewAlertHandler(alerts, engine, a.logger),
		Strategies: handler.NewStrategyHandler(engine, cat, deps.AuditStore, a.logger),
		Feeds:      handler.NewFeedHandler(mon, deps.AuditStore, a.logger),
		Reference:  handler.NewReferenceHandler(refTracker, refTags, a.logger),
		Archives:   handler.NewArchiveHandler(deps.BlobReader, a.logger),
		Audit:      handler.NewAuditHandler(deps.AuditStore, a.logger),
	}

	srv := server.NewServer(server.Config{
		Port:         a.cfg.Server.Port,
		CORSOrigins:  a.cfg.Server.CORSOrigins,
		APIKey:       a.cfg.Server.APIKey,
		RateLimitRPS: a.cfg.Server.RateLimitRPS,
	}, handlers, hub, deps.RateLimiter, a.logger)

	g.Go(func() error {
		return srv.Start()
	})
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}
