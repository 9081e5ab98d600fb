// Package app wires configuration, transport, catalog access and scheduling
// into the running bot.
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"listingbot/internal/auth"
	"listingbot/internal/catalog"
	"listingbot/internal/catalog/chromium"
	"listingbot/internal/config"
	"listingbot/internal/fetch"
	"listingbot/internal/holiday"
	"listingbot/internal/notifier"
	"listingbot/internal/objcache"
	"listingbot/internal/observability/metrics"
	rtsup "listingbot/internal/runtime/supervisor"
	"listingbot/internal/session"
	"listingbot/internal/task/scheduler"
	kit "listingbot/internal/transport"
	telegram "listingbot/internal/transport/telegram/adapter"
	"listingbot/internal/transport/telegram/router"
	"listingbot/internal/trigger"
	logx "listingbot/pkg/logx"
)

type Options struct {
	// Getenv reads environment overrides; nil means os.Getenv.
	Getenv func(string) string
	// Watch enables config hot reload.
	Watch bool
}

type App struct {
	opt  Options
	cfgm *config.Manager
	sup  *rtsup.Supervisor

	log  logx.Logger
	logs *logx.Service

	adapter  *telegram.Adapter
	gate     *auth.Gate
	cache    *objcache.Cache
	sessions *session.Manager
	notif    *notifier.Notifier
	orch     *fetch.Orchestrator
	sched    *scheduler.Service // nil when the scheduler is disabled
	metrics  *metrics.Metrics
	msrv     *metrics.Server
	router   *router.Router
	cmds     *commandSet

	updates chan kit.Update
}

func New(cfgPath string, opt Options) (*App, error) {
	cfgm := config.NewManager(cfgPath, opt.Getenv)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	ad, err := telegram.New(adapterConfig(cfg), logx.NewConsole("info").With(logx.String("comp", "telegram")))
	if err != nil {
		return nil, err
	}

	// The Telegram sink is enabled only after its target is set, so Apply
	// does not warn about a missing chat.
	bootLog := logConfig(cfg)
	bootLog.Telegram.Enabled = false
	logs, root := logx.New(bootLog, ad)
	logs.SetTelegramTarget(logTarget(cfg))
	logs.Apply(logConfig(cfg))
	log := root.With(logx.String("comp", "app"))
	comp := func(name string) logx.Logger { return root.With(logx.String("comp", name)) }

	m := metrics.New()
	gate := auth.NewGate(cfg.Telegram.AuthorizedUserIDs)
	cache := objcache.New()

	br, err := chromium.New(browserConfig(cfg), comp("catalog"))
	if err != nil {
		return nil, err
	}
	var browser catalog.Browser = br
	if !cfg.Catalog.Breaker.Disabled {
		browser = catalog.WithBreaker(br, breakerConfig(cfg), comp("catalog"))
	}
	sessions := session.New(br, cache, comp("session"))
	notif := notifier.New(notifierConfig(cfg), ad, comp("notifier"))
	orch := fetch.New(fetch.Deps{
		Sessions: sessions,
		Browser:  browser,
		Cache:    cache,
		Notifier: notif,
		Metrics:  m,
		Log:      comp("fetch"),
	})
	clearLog := comp("fetch")
	clearTenant := func(ctx context.Context, t objcache.Tenant) int {
		return fetch.Clear(ctx, cache, sessions, t, clearLog)
	}

	a := &App{
		opt:      opt,
		cfgm:     cfgm,
		log:      log,
		logs:     logs,
		adapter:  ad,
		gate:     gate,
		cache:    cache,
		sessions: sessions,
		notif:    notif,
		orch:     orch,
		metrics:  m,
		msrv:     metrics.NewServer(metricsConfig(cfg), m, comp("metrics")),
		updates:  make(chan kit.Update, 256),
	}

	if cfg.Scheduler.IsEnabled() {
		if a.sched, err = newScheduler(cfg, orch, clearTenant, notif, m, comp); err != nil {
			return nil, err
		}
	}

	a.cmds = &commandSet{
		runner:  orch,
		clear:   clearTenant,
		texter:  notif,
		status:  a.status,
		timeout: config.MustDuration(cfg.Scheduler.JobTimeout, 4*time.Minute),
	}
	a.router = router.New(comp("router"), ad, gate, router.Options{
		Workers:        cfg.Telegram.Workers,
		QueueSize:      cfg.Telegram.QueueSize,
		DefaultTimeout: config.MustDuration(cfg.Telegram.CommandTimeout, 5*time.Minute),
		OnError:        a.cmds.reportError,
		OnDone:         m.Command,
	})

	m.Gauge("cache_records", "Objects held in the shared cache.", func() float64 { return float64(cache.Len()) })
	m.Gauge("session_live", "1 while a browser session is live.", func() float64 {
		if sessions.State() == session.Live {
			return 1
		}
		return 0
	})
	m.Gauge("authorized_users", "Users on the allow-list.", func() float64 { return float64(gate.Len()) })
	return a, nil
}

func newScheduler(cfg *config.Config, runner trigger.Runner, clear trigger.Clearer, texter trigger.Texter, m *metrics.Metrics, comp func(string) logx.Logger) (*scheduler.Service, error) {
	sched, err := scheduler.New(scheduler.Config{Timezone: cfg.Scheduler.Timezone}, comp("scheduler"))
	if err != nil {
		return nil, err
	}
	sched.OnResult = m.Job
	cal, err := holiday.New(holidayConfig(cfg), sched.Location())
	if err != nil {
		return nil, err
	}
	tcfg, err := triggerConfig(cfg)
	if err != nil {
		return nil, err
	}
	trig := trigger.New(tcfg, runner, clear, texter, cal, comp("trigger"))
	if err := trig.Register(sched); err != nil {
		return nil, err
	}
	return sched, nil
}

func (a *App) status() StatusInfo {
	st := StatusInfo{
		Cache:     a.cache.Stats(),
		Session:   a.sessions.State(),
		Creations: a.sessions.Creations(),
	}
	if a.sched != nil {
		st.Jobs = a.sched.Entries()
	}
	return st
}

// Done is closed when the app context ends, by a fatal error or Stop.
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error seen by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	run := a.sup.Context()

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		// Parse already validated the file; this catches what only component
		// constructors check.
		if _, err := holiday.New(holidayConfig(cfg), time.UTC); err != nil {
			return err
		}
		if _, err := chromium.New(browserConfig(cfg), logx.Nop()); err != nil {
			return err
		}
		return nil
	})

	if err := a.adapter.Start(run, a.updates); err != nil {
		return err
	}
	a.router.SetCommands(run, a.cmds.commands())
	if a.sched != nil {
		a.sched.Start(run)
	}
	a.msrv.Start(run)

	a.sup.Go("router.dispatch", func(c context.Context) error {
		return a.router.DispatchLoop(c, a.updates)
	})
	if a.opt.Watch {
		sub := a.cfgm.Subscribe(4)
		a.sup.Go0("config.reload", func(c context.Context) {
			defer a.cfgm.Unsubscribe(sub)
			a.reloadLoop(c, sub)
		})
		a.sup.Go("config.watch", a.cfgm.Watch)
	}

	notifyReady(a.log)
	a.log.Info("app started",
		logx.Bool("scheduler", a.sched != nil),
		logx.Int("authorized", a.gate.Len()),
		logx.Bool("watch", a.opt.Watch))
	return nil
}

func (a *App) reloadLoop(ctx context.Context, sub <-chan *config.Config) {
	applied := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case next, ok := <-sub:
			if !ok {
				return
			}
			a.apply(ctx, applied, next)
			applied = next
		}
	}
}

// apply pushes the hot-reloadable parts of next into the running app.
func (a *App) apply(ctx context.Context, prev, next *config.Config) {
	ch := config.Summarize(prev, next)
	if ch.Empty() {
		a.log.Debug("config reload without effective changes")
		return
	}
	a.logs.SetTelegramTarget(logTarget(next))
	a.logs.Apply(logConfig(next))
	a.gate.Set(next.Telegram.AuthorizedUserIDs)
	a.msrv.Reconfigure(ctx, metricsConfig(next))

	fields := append([]logx.Field{logx.String("changed", strings.Join(ch.Sections, ","))}, ch.Fields...)
	a.log.Info("config applied", fields...)
	if len(ch.Restart) > 0 {
		a.log.Warn("config changed; restart required for changes to take effect",
			logx.String("sections", strings.Join(ch.Restart, ",")))
	}
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	notifyStopping(a.log)
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sup.Cancel()

	a.step(ctx, "scheduler", 2*time.Second, func(c context.Context) error {
		if a.sched != nil {
			a.sched.Stop(c)
		}
		return nil
	})
	a.step(ctx, "metrics", time.Second, func(c context.Context) error { a.msrv.Stop(c); return nil })
	a.step(ctx, "adapter", 2*time.Second, a.adapter.Stop)
	a.step(ctx, "session", 5*time.Second, a.sessions.Shutdown)
	a.step(ctx, "supervisor", 2*time.Second, a.sup.Wait)

	a.log.Info("stopped")
	return a.logs.Close()
}

// step runs one shutdown step bounded by max and the caller's deadline, so
// one stuck component cannot stall the rest.
func (a *App) step(ctx context.Context, name string, max time.Duration, fn func(context.Context) error) {
	start := time.Now()
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem < max {
			max = rem
		}
	}
	if max <= 0 {
		a.log.Warn("stop step skipped (deadline reached)", logx.String("name", name))
		return
	}
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
			logx.Duration("elapsed", time.Since(start)))
		go func() {
			if err := <-done; err != nil {
				a.log.Warn("stop step finished after deadline", logx.String("name", name), logx.Err(err))
			}
		}()
	}
}
