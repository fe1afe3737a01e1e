package app

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"arxivbot/internal/arxiv"
	"arxivbot/internal/bot"
	"arxivbot/internal/config"
	"arxivbot/internal/dispatch"
	"arxivbot/internal/eventbus"
	"arxivbot/internal/notifier"
	rtsup "arxivbot/internal/runtime/supervisor"
	"arxivbot/internal/storage"
	"arxivbot/internal/task/scheduler"
	kit "arxivbot/internal/transport"
	telegram "arxivbot/internal/transport/telegram/adapter"
	logx "arxivbot/pkg/logx"
)

type App struct {
	cfgm *config.ConfigManager
	sup  *rtsup.Supervisor

	root  logx.Logger // untagged; components add their own comp
	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	adapter kit.Adapter

	gateway *arxiv.Client
	notif   *notifier.Service
	disp    *dispatch.Dispatcher
	loop    *scheduler.Loop
	bot     *bot.Handler

	mu      sync.Mutex
	applied config.Settings

	updates chan kit.Update
}

// NewApp loads the config file at cfgPath (environment variables override
// it) and wires every component. Nothing runs until Start.
func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	set, err := config.Resolve(cfg)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	bootLog := logx.NewConsole("INFO")
	ad, err := telegram.New(telegram.Config{Token: set.Token, PollTimeout: set.PollTimeout}, bootLog)
	if err != nil {
		return nil, err
	}
	return build(cfgm, cfg, set, ad)
}

func build(cfgm *config.ConfigManager, cfg *config.Config, set config.Settings, ad kit.Adapter) (*App, error) {
	// logx.New applies immediately; keep the Telegram sink off until the
	// target is known so Apply doesn't warn about a missing chat.
	logCfg := logConfig(cfg)
	bootCfg := logCfg
	bootCfg.Telegram.Enabled = false
	logSvc, log := logx.New(bootCfg, ad)
	logSvc.SetTelegramTarget(cfg.Logging.Telegram.ChatID, cfg.Logging.Telegram.ThreadID)
	logSvc.Apply(logCfg)

	bus := eventbus.New()

	store, err := storage.Open(storageConfig(set), log)
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}

	gw := arxiv.New(arxivConfig(set), log)
	notif := notifier.New(notifierConfig(set), ad, log, bus)
	disp := dispatch.New(store, gw, notif,
		dispatch.WithBus(bus),
		dispatch.WithLogger(log),
		dispatch.WithSettings(dispatchSettings(set)),
	)
	loop := scheduler.New(disp, set.CheckInterval, log)
	h := bot.New(ad, store, gw, log,
		bot.WithWorkers(set.BotWorkers),
		bot.WithSettings(botSettings(set)),
	)

	log.Info("storage ready", logx.String("driver", set.StorageDriver))

	return &App{
		cfgm:    cfgm,
		root:    log,
		log:     log.With(logx.String("comp", "app")),
		logs:    logSvc,
		bus:     bus,
		store:   store,
		adapter: ad,
		gateway: gw,
		notif:   notif,
		disp:    disp,
		loop:    loop,
		bot:     h,
		applied: set,
		updates: make(chan kit.Update, 256),
	}, nil
}

// Logger returns the application logger.
func (a *App) Logger() logx.Logger { return a.log }

// Start runs the adapter, the update dispatcher, the scheduler loop and the
// config watcher under one supervisor. It returns once everything is running.
func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.NewSupervisor(ctx,
		rtsup.WithLogger(a.log),
		rtsup.WithCancelOnError(true),
	)
	a.cfgm.SetLogger(a.root)
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		_, err := config.Resolve(cfg)
		return err
	})

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}

	a.sup.Go("bot.dispatch", func(c context.Context) error {
		return a.bot.DispatchLoop(c, a.updates)
	})

	if err := a.bot.SyncMenu(a.sup.Context()); err != nil {
		a.log.Warn("command menu sync failed", logx.Err(err))
	}

	a.loop.Start(a.sup.Context())

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		last := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// collapse bursts to the newest config
			drain:
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						break drain
					}
				}
				a.reload(last, newCfg)
				last = newCfg
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started",
		logx.Duration("check_interval", a.loop.Interval()),
		logx.Int("bot_workers", a.Settings().BotWorkers),
	)
	return nil
}

// Settings returns the last successfully applied settings.
func (a *App) Settings() config.Settings {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.applied
}

// Done is closed when the supervisor stops, including on a fatal error.
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		return nil
	}
	return a.sup.Context().Done()
}

// Err reports the first fatal error, if any.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// reload applies the hot-reloadable parts of newCfg. Token and storage
// changes are logged and take effect after a restart.
func (a *App) reload(oldCfg, newCfg *config.Config) {
	set, err := config.Resolve(newCfg)
	if err != nil {
		a.log.Warn("invalid config; keeping previous", logx.Err(err))
		return
	}

	sections, attrs := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Debug("config reload received, but no effective changes detected")
		return
	}
	if restart := config.RestartRequired(sections); len(restart) > 0 {
		a.log.Warn("config sections changed that need a restart", logx.String("sections", strings.Join(restart, ",")))
	}

	a.logs.Apply(logConfig(newCfg))
	a.disp.Apply(dispatchSettings(set))
	a.loop.Apply(set.CheckInterval)
	a.notif.Apply(notifierConfig(set))
	a.bot.Apply(botSettings(set))

	a.mu.Lock()
	a.applied = set
	a.mu.Unlock()

	a.bus.Publish(eventbus.Event{Type: eventbus.TypeConfigReloaded, Time: time.Now(), Data: sections})

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

// Stop shuts components down in dependency order. Each step is bounded so
// one stuck component cannot hold the process.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		err := a.closeStore()
		_ = a.logs.Close()
		return err
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

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
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Duration("elapsed", time.Since(start)),
			)
		}
	}

	step("scheduler", 10*time.Second, func(c context.Context) error { a.loop.Stop(c); return nil })
	step("adapter", 3*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	step("supervisor", 5*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	step("storage", 2*time.Second, func(context.Context) error { return a.closeStore() })

	st := a.notif.Stats()
	a.log.Info("stopped",
		logx.Uint64("ticks", a.loop.Counters().Runs),
		logx.Uint64("sent", st.Sent),
		logx.Uint64("failed", st.Failed),
	)
	return a.logs.Close()
}

func (a *App) closeStore() error {
	if a.store == nil {
		return nil
	}
	err := a.store.Close()
	a.store = nil
	return err
}
