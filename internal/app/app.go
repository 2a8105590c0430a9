// Package app wires the components together and owns the run loop: one
// goroutine applies every classified event to the tracker, the recovery
// automaton, and the alert evaluator, in arrival order.
package app

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"queuewatch/internal/alerts"
	"queuewatch/internal/analytics"
	"queuewatch/internal/classify"
	"queuewatch/internal/config"
	"queuewatch/internal/eventbus"
	"queuewatch/internal/notify"
	"queuewatch/internal/recovery"
	"queuewatch/internal/runtime/supervisor"
	"queuewatch/internal/tracker"
	"queuewatch/internal/transport/irc"
	"queuewatch/internal/velocity"
	logx "queuewatch/pkg/logx"
	"queuewatch/pkg/speedtest"
)

type App struct {
	log  logx.Logger
	logs *logx.Service
	cfgm *config.Manager
	cfg  *config.Config

	sup *supervisor.Supervisor

	irc        *irc.Client
	classifier *classify.Classifier
	est        *velocity.Estimator
	trk        *tracker.Tracker
	auto       *recovery.Automaton
	eval       *alerts.Evaluator
	bus        eventbus.Bus
	notif      *notify.Service
	store      *analytics.Store
	asvc       *analytics.Service
	extract    *analytics.Extractor
	runner     speedtest.Runner
	cron       *cron.Cron

	retention time.Duration

	// lastLink is the freshest shareable speedtest link, refreshed by the
	// cron job and read by the automaton's join-line provider.
	linkMu   sync.Mutex
	lastLink string
}

// New loads and validates the configuration and builds every component.
// Nothing is started yet.
func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfgm.SetValidator(func(ctx context.Context, cfg *config.Config) error {
		return cfg.Validate()
	})
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logs, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	a := &App{
		log:  log,
		logs: logs,
		cfgm: cfgm,
		cfg:  cfg,
		bus:  eventbus.New(),
	}
	if err := a.build(cfg); err != nil {
		logs.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(cfg *config.Config) error {
	client, err := irc.New(irc.Config{
		Server:  cfg.IRC.Server,
		TLS:     cfg.IRC.TLS,
		Nick:    cfg.IRC.Nick,
		Token:   cfg.IRC.Token,
		Channel: cfg.IRC.Channel,
	}, a.log.With(logx.String("comp", "irc")))
	if err != nil {
		return err
	}
	a.irc = client

	a.classifier = classify.New(cfg.IRC.Nick, cfg.Queue.BotName)
	a.extract = analytics.NewExtractor(cfg.Queue.BotName)

	window, err := config.ParseDurationOrDefault("velocity.window", cfg.Velocity.Window, velocity.DefaultWindow)
	if err != nil {
		return err
	}
	minElapsed, err := config.ParseDurationOrDefault("velocity.min_elapsed", cfg.Velocity.MinElapsed, velocity.DefaultMinElapsed)
	if err != nil {
		return err
	}
	a.est = velocity.New(velocity.Config{
		Window:     window,
		MaxSamples: cfg.Velocity.MaxSamples,
		MinElapsed: minElapsed,
	})
	a.trk = tracker.New(a.est)

	backoffBase, err := config.ParseDurationOrDefault("recovery.backoff_base", cfg.Recovery.BackoffBase, recovery.DefaultBackoffBase)
	if err != nil {
		return err
	}
	backoffMax, err := config.ParseDurationOrDefault("recovery.backoff_max", cfg.Recovery.BackoffMax, recovery.DefaultBackoffMax)
	if err != nil {
		return err
	}
	// A velocity sample set older than one window is stale anyway.
	staleAfter, err := config.ParseDurationOrDefault("recovery.stale_after", cfg.Recovery.StaleAfter, window)
	if err != nil {
		return err
	}
	a.auto = recovery.New(recovery.Config{
		BackoffBase: backoffBase,
		BackoffMax:  backoffMax,
		MaxRetries:  cfg.Recovery.MaxRetries,
		StaleAfter:  staleAfter,
	}, a.irc, a.joinLine, a.log.With(logx.String("comp", "recovery")))

	evalCfg, err := a.alertsConfig(cfg)
	if err != nil {
		return err
	}
	a.eval = alerts.New(evalCfg, a.log.With(logx.String("comp", "alerts")))

	if err := a.buildNotify(cfg); err != nil {
		return err
	}
	if err := a.buildAnalytics(cfg); err != nil {
		return err
	}
	if err := a.buildSpeedtest(cfg); err != nil {
		return err
	}
	return nil
}

func (a *App) alertsConfig(cfg *config.Config) (alerts.Config, error) {
	topCD, err := config.ParseDurationOrDefault("alerts.top_band_cooldown", cfg.Alerts.TopBandCooldown, alerts.DefaultTopBandCooldown)
	if err != nil {
		return alerts.Config{}, err
	}
	moveCD, err := config.ParseDurationOrDefault("alerts.movement_cooldown", cfg.Alerts.MovementCooldown, alerts.DefaultMovementCooldown)
	if err != nil {
		return alerts.Config{}, err
	}
	mentionCD, err := config.ParseDurationOrDefault("alerts.mention_cooldown", cfg.Alerts.MentionCooldown, alerts.DefaultMentionCooldown)
	if err != nil {
		return alerts.Config{}, err
	}
	netsplitCD, err := config.ParseDurationOrDefault("alerts.netsplit_cooldown", cfg.Alerts.NetsplitCooldown, alerts.DefaultNetsplitCooldown)
	if err != nil {
		return alerts.Config{}, err
	}
	kickWindow, err := config.ParseDurationOrDefault("alerts.mass_kick_window", cfg.Alerts.MassKickWindow, alerts.DefaultMassKickWindow)
	if err != nil {
		return alerts.Config{}, err
	}
	return alerts.Config{
		TopBand:           cfg.Alerts.TopBand,
		TopBandCooldown:   topCD,
		MovementCooldown:  moveCD,
		MentionCooldown:   mentionCD,
		NetsplitCooldown:  netsplitCD,
		Priorities:        cfg.Alerts.Priorities,
		MassKickThreshold: cfg.Alerts.MassKickThreshold,
		MassKickWindow:    kickWindow,
	}, nil
}

func (a *App) buildNotify(cfg *config.Config) error {
	var sinks []notify.Sink
	if cfg.Notify.Ntfy != nil {
		sink, err := notify.NewNtfySink(notify.NtfyConfig{
			Server: cfg.Notify.Ntfy.Server,
			Topic:  cfg.Notify.Ntfy.Topic,
			Token:  cfg.Notify.Ntfy.Token,
		})
		if err != nil {
			return err
		}
		sinks = append(sinks, sink)
	}
	if cfg.Notify.Telegram != nil {
		sink, err := notify.NewTelegramSink(notify.TelegramConfig{
			Token:  cfg.Notify.Telegram.Token,
			ChatID: cfg.Notify.Telegram.ChatID,
		})
		if err != nil {
			return err
		}
		sinks = append(sinks, sink)
	}

	retryBase, err := config.ParseDurationOrDefault("notify.retry_base", cfg.Notify.RetryBase, 500*time.Millisecond)
	if err != nil {
		return err
	}
	a.notif = notify.New(notify.Config{
		Enabled:    cfg.Notify.Enabled,
		Workers:    cfg.Notify.Workers,
		QueueSize:  cfg.Notify.QueueSize,
		RatePerSec: cfg.Notify.RatePerSec,
		RetryMax:   cfg.Notify.RetryMax,
		RetryBase:  retryBase,
	}, sinks, a.log.With(logx.String("comp", "notify")))
	return nil
}

func (a *App) buildAnalytics(cfg *config.Config) error {
	if cfg.Analytics == nil {
		return nil
	}
	busy, err := config.ParseDurationOrDefault("analytics.busy_timeout", cfg.Analytics.BusyTimeout, analytics.DefaultBusyTimeout)
	if err != nil {
		return err
	}
	a.retention, err = config.ParseDurationOrDefault("analytics.retention", cfg.Analytics.Retention, 30*24*time.Hour)
	if err != nil {
		return err
	}
	store, err := analytics.Open(analytics.Config{
		Path:        cfg.Analytics.Path,
		BusyTimeout: busy,
	}, a.log.With(logx.String("comp", "analytics")))
	if err != nil {
		return err
	}
	a.store = store
	a.asvc = analytics.NewService(store, a.bus, a.log.With(logx.String("comp", "analytics")))
	return nil
}

func (a *App) buildSpeedtest(cfg *config.Config) error {
	timeout, err := config.ParseDurationOrDefault("speedtest.timeout", cfg.Speedtest.Timeout, speedtest.DefaultCLITimeout)
	if err != nil {
		return err
	}
	switch cfg.Speedtest.Runner {
	case "", "cli":
		a.runner = speedtest.NewCLIRunner(cfg.Speedtest.CLIPath, timeout)
	case "library":
		a.runner = speedtest.NewLibraryRunner()
	}
	return nil
}

// Start connects the transport and brings up the services. It returns once
// the session is joined or ctx expires.
func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log.With(logx.String("comp", "supervisor"))))

	dialCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	err := a.irc.Start(dialCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}

	a.notif.Start(a.sup.Context())
	if a.asvc != nil {
		a.asvc.Start(a.sup.Context())
	}
	if err := a.startCron(); err != nil {
		return err
	}

	a.sup.Go("run-loop", a.runLoop)
	a.sup.Go("config-watch", a.cfgm.Watch)
	a.sup.Go0("config-reload", a.watchConfig)
	a.startSystemd()

	a.log.Info("started",
		logx.String("channel", a.cfg.IRC.Channel),
		logx.String("nick", a.cfg.IRC.Nick),
	)
	return nil
}

func (a *App) startCron() error {
	a.cron = cron.New()

	if sched := strings.TrimSpace(a.cfg.Speedtest.RefreshSchedule); sched != "" && a.runner != nil {
		if _, err := a.cron.AddFunc(sched, a.refreshSpeedtest); err != nil {
			return fmt.Errorf("speedtest.refresh_schedule: %w", err)
		}
	}
	if a.store != nil {
		if _, err := a.cron.AddFunc("@daily", a.pruneAnalytics); err != nil {
			return err
		}
	}
	a.cron.Start()
	return nil
}

// Stop shuts down in dependency order, each component bounded so one
// straggler cannot stall the whole stop.
func (a *App) Stop(ctx context.Context) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping")
	a.sup.Cancel()

	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			} else {
				a.log.Debug("stop step done", logx.String("name", name), logx.Duration("took", time.Since(start)))
			}
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached",
				logx.String("name", name),
				logx.Duration("elapsed", time.Since(start)),
			)
		}
	}

	if a.cron != nil {
		step("cron", 2*time.Second, func(c context.Context) error {
			stopped := a.cron.Stop()
			select {
			case <-stopped.Done():
			case <-c.Done():
			}
			return nil
		})
	}
	step("notify", 3*time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	if a.asvc != nil {
		step("analytics", 2*time.Second, func(c context.Context) error { a.asvc.Stop(c); return nil })
	}
	step("irc", 2*time.Second, func(c context.Context) error { return a.irc.Stop(c) })
	if a.store != nil {
		step("store", 1*time.Second, func(c context.Context) error { return a.store.Close() })
	}
	step("supervisor", 2*time.Second, a.sup.Wait)

	a.log.Info("stopped")
	a.logs.Close()
	return nil
}

// watchConfig applies hot-reloadable settings. Only logging is live today;
// everything else needs a restart.
func (a *App) watchConfig(ctx context.Context) {
	sub := a.cfgm.Subscribe(1)
	defer a.cfgm.Unsubscribe(sub)
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-sub:
			if !ok {
				return
			}
			a.logs.Apply(logx.Config{
				Level:   cfg.Logging.Level,
				Console: cfg.Logging.Console,
				File: logx.FileConfig{
					Enabled: cfg.Logging.File.Enabled,
					Path:    cfg.Logging.File.Path,
				},
			})
			a.log.Info("config reloaded")
		}
	}
}

// joinLine builds the idempotent queue-join command, with the freshest
// speedtest link appended when one exists.
func (a *App) joinLine() string {
	cmd := strings.TrimSpace(a.cfg.Queue.JoinCommand)
	link := a.lastResultLink()
	if cmd == "" {
		return speedtest.JoinCommand(link)
	}
	if link == "" {
		return cmd
	}
	return cmd + " " + link
}

func (a *App) lastResultLink() string {
	a.linkMu.Lock()
	defer a.linkMu.Unlock()
	return a.lastLink
}

// refreshSpeedtest runs on the cron schedule: keeps a fresh shareable link
// ready for post-netsplit re-queueing.
func (a *App) refreshSpeedtest() {
	ctx := a.sup.Context()
	res, err := a.runner.Run(ctx)
	if err != nil {
		a.log.Warn("speedtest failed", logx.Err(err))
		return
	}
	link := speedtest.ResultLink(res.ID)
	if link != "" {
		a.linkMu.Lock()
		a.lastLink = link
		a.linkMu.Unlock()
	}
	a.log.Info("speedtest finished",
		logx.Float64("down_mbps", res.DownloadMbps),
		logx.Float64("up_mbps", res.UploadMbps),
		logx.String("link", link),
	)
	a.bus.Publish(eventbus.Event{Type: eventbus.TypeSpeedtest, Data: eventbus.SpeedtestDone{
		ResultURL: link,
		DownMbps:  res.DownloadMbps,
		UpMbps:    res.UploadMbps,
	}})
}

func (a *App) pruneAnalytics() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	n, err := a.store.Prune(ctx, time.Now().Add(-a.retention))
	if err != nil {
		a.log.Warn("analytics prune failed", logx.Err(err))
		return
	}
	if n > 0 {
		a.log.Info("analytics pruned", logx.Int64("events", n))
	}
}
