package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"

	"reqscope/internal/analytics"
	"reqscope/internal/api"
	"reqscope/internal/config"
	"reqscope/internal/event"
	"reqscope/internal/feed"
	"reqscope/internal/inspector"
	"reqscope/internal/monitor"
	"reqscope/internal/notify"
	"reqscope/internal/storage"
	"reqscope/internal/timeline"
	"reqscope/web"
)

const shutdownTimeout = 10 * time.Second

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "consume the inspector feed and serve the dashboard API",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "listen", Usage: "listen address (overrides LISTEN_ADDR)"},
			&cli.StringFlag{Name: "inspector", Usage: "inspector base URL (overrides INSPECTOR_URL)"},
			&cli.StringFlag{Name: "feed", Usage: "inspector WebSocket feed URL (overrides FEED_URL)"},
			&cli.StringFlag{Name: "storage", Usage: "session storage: memory|sqlite|redis|off (overrides STORAGE)"},
			&cli.StringFlag{Name: "log-level", Usage: "debug|info|warn|error (overrides LOG_LEVEL)"},
		},
		Action: runServe,
	}
}

func runServe(ctx context.Context, cmd *cli.Command) error {
	cfg, err := config.Load()
	if err != nil {
		return cli.Exit("config error: "+err.Error(), 2)
	}
	if err := applyFlags(&cfg, cmd); err != nil {
		return cli.Exit("config error: "+err.Error(), 2)
	}

	logger := newLogger(cfg.LogLevel)
	logConfig(logger, cfg)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	return a.run(ctx)
}

func applyFlags(cfg *config.Config, cmd *cli.Command) error {
	if cmd.IsSet("listen") {
		cfg.ListenAddr = cmd.String("listen")
	}
	if cmd.IsSet("inspector") {
		cfg.InspectorURL = cmd.String("inspector")
		if !cmd.IsSet("feed") {
			feedURL, err := config.DeriveFeedURL(cfg.InspectorURL)
			if err != nil {
				return err
			}
			cfg.FeedURL = feedURL
		}
	}
	if cmd.IsSet("feed") {
		cfg.FeedURL = cmd.String("feed")
	}
	if cmd.IsSet("storage") {
		cfg.Storage = config.StorageType(cmd.String("storage"))
	}
	if cmd.IsSet("log-level") {
		cfg.LogLevel = cmd.String("log-level")
	}
	return cfg.Validate()
}

// app holds the wired components of the serve command.
type app struct {
	cfg     config.Config
	logger  *slog.Logger
	metrics *monitor.Metrics
	bus     *monitor.EventBus

	store     storage.Store
	session   *storage.Session
	persister *storage.Persister
	notes     *notify.Log
	tl        *timeline.Timeline
	feed      *feed.Client
	poller    *monitor.StatusPoller
	http      *http.Server

	// wasConnected tells a reconnect apart from the first connect.
	wasConnected bool
}

func newApp(ctx context.Context, cfg config.Config, logger *slog.Logger) (*app, error) {
	a := &app{
		cfg:     cfg,
		logger:  logger,
		metrics: monitor.NewMetrics(),
		bus:     monitor.NewEventBus(256),
	}

	a.notes = notify.NewLog(notify.Options{
		Max:    cfg.NotificationsMax,
		Logger: logger,
		Publish: func(n notify.Notification) {
			a.bus.Publish(monitor.Event{Type: monitor.EventNotification, Data: n})
		},
	})

	store, storeErr := storage.Open(ctx, cfg, logger)
	if storeErr != nil {
		logger.Warn("session storage unavailable, continuing in memory only", "storage", cfg.Storage, "err", storeErr)
		a.metrics.RecordPersistFailure("open")
		store = nil
	}
	a.store = store
	a.session = storage.NewSession(store, storage.SessionOptions{
		ID:        cfg.SessionID,
		MaxEvents: cfg.MaxEvents,
		Logger:    logger,
		Warn:      func(msg string) { a.notes.Warn(msg) },
		OnError:   a.metrics.RecordPersistFailure,
	})

	var saved []notify.Notification
	if a.session.LoadJSON(ctx, storage.KeyNotifications, &saved) {
		a.notes.Replace(saved)
	}
	buf := timeline.NewBuffer(cfg.MaxEvents)
	restored := a.session.LoadEvents(ctx)
	buf.Replace(restored)
	a.metrics.SetBuffered(buf.Len())

	a.tl = timeline.New(buf, timeline.Options{
		Range:    cfg.DefaultRange,
		Observer: a.metrics,
		Logger:   logger,
		OnResult: func(res timeline.Result) {
			a.bus.Publish(monitor.Event{Type: monitor.EventTimeline, Data: api.NewTimelineView(res, nil)})
		},
	})
	a.tl.Refresh()

	a.persister = storage.NewPersister(cfg.SaveInterval, logger,
		storage.Track{
			Name:    storage.KeyRequestData,
			Version: buf.Version,
			Save:    func(ctx context.Context) error { return a.session.SaveEvents(ctx, buf.Snapshot()) },
		},
		storage.Track{
			Name:    storage.KeyNotifications,
			Version: a.notes.Version,
			Save: func(ctx context.Context) error {
				return a.session.SaveJSON(ctx, storage.KeyNotifications, a.notes.Snapshot())
			},
		},
	)
	a.persister.MarkSaved()

	if storeErr != nil {
		a.notes.Warn("Session storage unavailable. Data will not survive a restart.")
	}
	if len(restored) > 0 {
		a.notes.Info(fmt.Sprintf("Restored %d requests from the previous session", len(restored)))
	}

	insp, err := inspector.NewClient(cfg.InspectorURL, cfg.StatusTimeout)
	if err != nil {
		return nil, err
	}
	a.poller = monitor.NewStatusPoller(insp, cfg.StatusInterval, cfg.StatusTimeout, a.metrics, logger, a.inspectorChanged)

	a.feed = feed.New(feed.Options{
		URL:            cfg.FeedURL,
		ReconnectDelay: cfg.ReconnectDelay,
		MaxAttempts:    cfg.ReconnectMaxAttempts,
		PongWait:       cfg.PongWait,
		Logger:         logger,
		OnEvent:        a.ingest,
		OnDrop:         a.drop,
		OnStateChange:  a.feedChanged,
	})

	apiSrv := api.NewServer(api.Options{
		Timeline:      a.tl,
		Session:       a.session,
		Notifications: a.notes,
		Bus:           a.bus,
		Inspector:     insp,
		Feed:          a.feed,
		Poller:        a.poller,
		Config:        cfg,
		Logger:        logger,
	})

	assets, err := web.Assets()
	if err != nil {
		return nil, fmt.Errorf("load dashboard assets: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle(api.APIPrefix+"/", apiSrv)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("/", http.FileServerFS(assets))

	a.http = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	return a, nil
}

// run serves until ctx is done. The feed giving up does not stop the
// server: buffered data stays browsable.
func (a *app) run(ctx context.Context) error {
	a.logger.Info("starting reqscope", "listen", a.cfg.ListenAddr, "feed", a.cfg.FeedURL)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := a.feed.Run(ctx)
		if errors.Is(err, feed.ErrMaxAttempts) {
			return nil
		}
		return err
	})
	g.Go(func() error { return a.poller.Run(ctx) })
	g.Go(func() error { return a.persister.Run(ctx) })
	g.Go(func() error {
		if err := a.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		a.logger.Info("shutting down")
		a.bus.Shutdown()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return a.http.Shutdown(shutdownCtx)
	})

	err := g.Wait()
	if a.store != nil {
		if cerr := a.store.Close(); cerr != nil {
			a.logger.Warn("failed to close session storage", "err", cerr)
		}
	}
	return err
}

func (a *app) ingest(e event.Event) {
	buf := a.tl.Buffer()
	added, evicted := buf.Append(e)
	if !added {
		a.metrics.RecordDropped("duplicate")
		a.logger.Debug("ignoring redelivered request log", "id", e.ID)
		return
	}
	a.metrics.RecordIngested(buf.Len(), evicted)
	a.tl.Refresh()
	a.bus.Publish(monitor.Event{Type: monitor.EventRequest, Data: analytics.NewRow(e)})
}

func (a *app) drop(_ []byte, err error) {
	a.metrics.RecordDropped("malformed")
	a.notes.Add(notify.TypeWarning, "Dropped a malformed request log", err.Error())
}

func (a *app) feedChanged(st feed.Status) {
	a.metrics.SetFeedState(st.State.String())
	a.bus.Publish(monitor.Event{Type: monitor.EventFeedState, Data: st})

	switch st.State {
	case feed.StateConnected:
		if a.wasConnected {
			a.notes.Success("Reconnected to the inspector feed")
		} else {
			a.notes.Info("Connected to the inspector feed")
		}
		a.wasConnected = true
	case feed.StateReconnecting:
		a.metrics.RecordReconnectAttempt()
		a.notes.Add(notify.TypeWarning,
			fmt.Sprintf("Connection lost. Reconnecting (attempt %d/%d)", st.Attempt, st.MaxAttempts),
			st.LastError)
	case feed.StateDisconnected:
		if st.Terminal {
			a.notes.Error("Max reconnect attempts reached. Please refresh the page.", st.LastError)
		}
	}
}

func (a *app) inspectorChanged(prev, cur monitor.StatusReport) {
	a.bus.Publish(monitor.Event{Type: monitor.EventInspectorStatus, Data: cur})

	switch {
	case !cur.Reachable && (prev.LastCheck.IsZero() || prev.Reachable):
		a.notes.Error("Inspector server is not reachable", cur.LastError)
	case cur.Reachable && !prev.LastCheck.IsZero() && !prev.Reachable:
		a.notes.Success("Inspector server is reachable again")
	case cur.Reachable && cur.Status.ServerStatus != prev.Status.ServerStatus && !cur.Status.BackendActive():
		a.notes.Warn("Inspected backend is not running")
	}
}
