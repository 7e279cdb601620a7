package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"warelay/internal/config"
	"warelay/internal/eventbus"
	"warelay/internal/httpapi"
	"warelay/internal/provider"
	"warelay/internal/runtime/supervisor"
	"warelay/internal/services/broadcast"
	"warelay/internal/services/recurring"
	"warelay/internal/storage"
	logx "warelay/pkg/logx"
)

type App struct {
	cfgPath string

	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	client *provider.HTTPClient
	bcast  *broadcast.Service
	recur  *recurring.Service
	api    *httpapi.Server
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "app"))

	pcfg, err := mapProviderConfig(cfg)
	if err != nil {
		return nil, err
	}
	client, err := provider.New(pcfg, log.With(logx.String("comp", "provider")))
	if err != nil {
		return nil, err
	}

	bus := eventbus.New()

	// Storage (optional)
	var store storage.Store
	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		return nil, err
	} else if enabled {
		st, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
		if err != nil {
			return nil, err
		}
		store = st
		log.Info("storage enabled", logx.String("driver", sc.Driver))
	}

	bcfg, err := mapBroadcastConfig(cfg)
	if err != nil {
		return nil, err
	}
	bcast := broadcast.New(bcfg, client, bus, log.With(logx.String("comp", "broadcast")))

	rcfg, err := mapRecurringConfig(cfg)
	if err != nil {
		return nil, err
	}
	recur := recurring.New(rcfg, bcast.Schedule, log.With(logx.String("comp", "recurring")))
	defs, err := recurringTemplates(cfg)
	if err != nil {
		return nil, err
	}
	for name, d := range defs {
		if err := recur.Add(name, d.schedule, d.tmpl); err != nil {
			return nil, fmt.Errorf("recurring entry %q: %w", name, err)
		}
	}

	hcfg, err := mapHTTPConfig(cfg)
	if err != nil {
		return nil, err
	}
	api := httpapi.New(hcfg, httpapi.Deps{
		Broadcasts: bcast,
		Recurring:  recur,
		Store:      store,
	}, log.With(logx.String("comp", "httpapi")))

	return &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		store:   store,
		client:  client,
		bcast:   bcast,
		recur:   recur,
		api:     api,
	}, nil
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	// transactional config reload: validate before commit/publish
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if _, err := mapProviderConfig(cfg); err != nil {
			return err
		}
		if _, err := mapBroadcastConfig(cfg); err != nil {
			return err
		}
		if _, err := mapRecurringConfig(cfg); err != nil {
			return err
		}
		if _, err := recurringTemplates(cfg); err != nil {
			return err
		}
		if _, _, err := mapStorageConfig(cfg); err != nil {
			return err
		}
		if _, err := mapHTTPConfig(cfg); err != nil {
			return err
		}
		return nil
	})

	if a.bcast.Enabled() {
		a.bcast.Start(a.sup.Context())
	}
	if a.recur.Enabled() {
		a.recur.Start(a.sup.Context())
	}

	a.api.Start(a.sup.Context())
	a.sup.Go("httpapi.watch", func(c context.Context) error {
		select {
		case <-c.Done():
			return nil
		case err := <-a.api.Err():
			return err
		}
	})

	if a.store != nil {
		events, unsub := a.bus.Subscribe(128)
		a.sup.Go0("storage.persist", func(c context.Context) {
			defer unsub()
			persistLoop(c, events, a.store, a.log.With(logx.String("comp", "storage")))
		})
	}

	// hot reload config fan-out
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started")
	return nil
}

func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config) {
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: keep only the latest config in the channel.
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					goto APPLY
				}
			}
		APPLY:
			sections, attrs := config.SummarizeConfigChange(lastApplied, newCfg)
			if len(sections) == 0 {
				a.log.Debug("config reload received, but no effective changes detected")
				lastApplied = newCfg
				continue
			}
			lastApplied = newCfg

			a.applyReload(ctx, sections, newCfg)

			fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
			a.log.Info("config reloaded", fields...)
		}
	}
}

func (a *App) applyReload(ctx context.Context, sections []string, cfg *config.Config) {
	changed := map[string]bool{}
	for _, s := range sections {
		changed[s] = true
	}

	// Restart-only sections.
	if changed["storage"] {
		a.log.Warn("storage config changed; restart required for changes to take effect")
	}
	if changed["provider"] {
		a.log.Warn("provider config changed; restart required for changes to take effect")
	}
	if changed["http"] {
		a.log.Warn("http config changed; restart required for changes to take effect")
	}

	if changed["logging"] {
		a.logs.Apply(logx.Config{
			Level:   cfg.Logging.Level,
			Console: cfg.Logging.Console,
			File: logx.FileConfig{
				Enabled: cfg.Logging.File.Enabled,
				Path:    cfg.Logging.File.Path,
			},
		})
	}

	if changed["broadcast"] {
		prevEnabled := a.bcast.Enabled()
		bcfg, err := mapBroadcastConfig(cfg)
		if err != nil {
			a.log.Warn("invalid broadcast config; keeping previous", logx.Err(err))
		} else {
			a.bcast.Apply(bcfg)
			switch {
			case prevEnabled && !bcfg.Enabled:
				a.log.Info("broadcast scheduler disabled via config")
				stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				a.bcast.Stop(stopCtx)
				cancel()
			case !prevEnabled && bcfg.Enabled:
				a.log.Info("broadcast scheduler enabled via config")
				a.bcast.Start(ctx)
			}
		}
	}

	if changed["recurring"] {
		a.syncRecurring(ctx, cfg)
	}
}

// syncRecurring reconciles live definitions against the new config: upserts
// everything declared, drops what disappeared, flips the service on or off.
func (a *App) syncRecurring(ctx context.Context, cfg *config.Config) {
	rcfg, err := mapRecurringConfig(cfg)
	if err != nil {
		a.log.Warn("invalid recurring config; keeping previous", logx.Err(err))
		return
	}
	defs, err := recurringTemplates(cfg)
	if err != nil {
		a.log.Warn("invalid recurring entries; keeping previous", logx.Err(err))
		return
	}

	prevEnabled := a.recur.Enabled()
	a.recur.Apply(rcfg)

	for name, d := range defs {
		if err := a.recur.Add(name, d.schedule, d.tmpl); err != nil {
			a.log.Warn("recurring entry rejected", logx.String("name", name), logx.Err(err))
		}
	}
	for _, info := range a.recur.Snapshot() {
		if _, keep := defs[info.Name]; !keep {
			a.recur.Remove(info.Name)
		}
	}

	switch {
	case prevEnabled && !rcfg.Enabled:
		a.log.Info("recurring broadcasts disabled via config")
		stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		a.recur.Stop(stopCtx)
		cancel()
	case !prevEnabled && rcfg.Enabled:
		a.log.Info("recurring broadcasts enabled via config")
		a.recur.Start(ctx)
	}
}

func (a *App) Stop(ctx context.Context) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping")

	// Cancel the run context first so background loops start unwinding.
	a.sup.Cancel()

	// Run a shutdown step with an upper bound so one component can't stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			// respect the caller's deadline; never extend it
			if dl, ok := ctx.Deadline(); ok {
				if rem := time.Until(dl); rem < max {
					max = rem
				}
			}
			if max > 0 {
				stepCtx, cancel = context.WithTimeout(ctx, max)
				defer cancel()
			}
		}

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
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Err(stepCtx.Err()),
			)
		}
	}

	// Stop intake first, then drain dispatchers, then close the store.
	step("httpapi", 3*time.Second, func(c context.Context) error { a.api.Stop(c); return nil })
	step("recurring", 2*time.Second, func(c context.Context) error { a.recur.Stop(c); return nil })
	step("broadcast", 5*time.Second, func(c context.Context) error { a.bcast.Stop(c); return nil })
	step("storage", 1*time.Second, func(c context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	a.log.Info("stopped")
	if a.logs != nil {
		a.logs.Close()
	}
	return nil
}
