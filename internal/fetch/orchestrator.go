// Package fetch runs one fetch-and-notify pass for a tenant and category.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"listingbot/internal/catalog"
	"listingbot/internal/objcache"
	"listingbot/internal/observability/metrics"
	"listingbot/internal/session"
	logx "listingbot/pkg/logx"
)

// Notifier delivers run output to a tenant. Every method is best-effort from
// the orchestrator's point of view: errors are logged and the run goes on.
type Notifier interface {
	SendSummary(ctx context.Context, t objcache.Tenant, text string) error
	SendDetail(ctx context.Context, t objcache.Tenant, rec catalog.Record) error
	SendLinkOnly(ctx context.Context, t objcache.Tenant, link string) error
	SendText(ctx context.Context, t objcache.Tenant, text string) error
}

// Sessions is the part of session.Manager a run needs.
type Sessions interface {
	Acquire(ctx context.Context) (*session.Lease, error)
}

type Result struct {
	Candidates int // links listed
	New        int // links the tenant had not seen
	Sent       int // detail notices delivered
	CacheHits  int // details served from the cache
	Failed     int // details that could not be fetched
}

type Orchestrator struct {
	sessions Sessions
	browser  catalog.Browser
	cache    *objcache.Cache
	notifier Notifier
	metrics  *metrics.Metrics
	log      logx.Logger
}

type Deps struct {
	Sessions Sessions
	Browser  catalog.Browser
	Cache    *objcache.Cache
	Notifier Notifier
	Metrics  *metrics.Metrics // optional
	Log      logx.Logger
}

func New(d Deps) *Orchestrator {
	log := d.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Orchestrator{
		sessions: d.Sessions,
		browser:  d.Browser,
		cache:    d.Cache,
		notifier: d.Notifier,
		metrics:  d.Metrics,
		log:      log,
	}
}

// Summary is the one-line count message sent before the details.
func Summary(n int) string {
	switch n {
	case 0:
		return "Found no new objects."
	case 1:
		return "Found 1 new object."
	default:
		return fmt.Sprintf("Found %d new objects.", n)
	}
}

// Run lists the category, announces how many listings are new to the tenant
// and sends one notice per new listing in catalog order. A failed listing
// read aborts the run with catalog.ErrListingFetch; a failed detail read only
// degrades that listing to a link-only notice.
func (o *Orchestrator) Run(ctx context.Context, t objcache.Tenant, c catalog.Category) (res Result, err error) {
	start := time.Now()
	log := o.log.With(
		logx.String("run_id", uuid.NewString()),
		logx.String("tenant", string(t)),
		logx.String("category", string(c)),
	)
	defer func() {
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		o.metrics.ObserveRun(string(c), outcome, time.Since(start).Seconds(), res.New)
	}()

	lease, err := o.sessions.Acquire(ctx)
	if err != nil {
		log.Warn("run aborted: no browser session", logx.Err(err))
		return res, err
	}
	defer lease.Release()

	links, err := o.browser.ListObjects(ctx, lease.Session, c)
	if err != nil {
		err = fmt.Errorf("%w: %w", catalog.ErrListingFetch, err)
		log.Warn("run aborted", logx.Err(err))
		return res, err
	}
	res.Candidates = len(links)

	for _, l := range links {
		if !o.cache.HasSeen(t, l.ID) {
			res.New++
		}
	}
	o.send(ctx, log, "summary", func(ctx context.Context) error {
		return o.notifier.SendSummary(ctx, t, Summary(res.New))
	})

	for _, l := range links {
		if ctx.Err() != nil {
			log.Info("run interrupted", logx.Err(ctx.Err()), logx.Int("sent", res.Sent))
			return res, ctx.Err()
		}
		if o.cache.HasSeen(t, l.ID) {
			continue
		}

		rec, hit, derr := o.resolve(ctx, lease.Session, l)
		if derr != nil {
			res.Failed++
			o.metrics.Detail("error")
			log.Warn("detail fetch failed", logx.String("link", l.ID), logx.Err(derr))
			o.send(ctx, log, "link", func(ctx context.Context) error {
				return o.notifier.SendLinkOnly(ctx, t, l.URL)
			})
			continue
		}
		if hit {
			res.CacheHits++
			o.metrics.Detail("cache")
		} else {
			o.metrics.Detail("fetch")
		}

		o.cache.Put(t, l.ID, rec)
		if o.send(ctx, log, "detail", func(ctx context.Context) error {
			return o.notifier.SendDetail(ctx, t, rec)
		}) {
			res.Sent++
		}
	}

	log.Info("run finished",
		logx.Int("candidates", res.Candidates),
		logx.Int("new", res.New),
		logx.Int("sent", res.Sent),
		logx.Int("cache_hits", res.CacheHits),
		logx.Int("failed", res.Failed),
		logx.Duration("took", time.Since(start)))
	return res, nil
}

// resolve returns the cached record for l or fetches it.
func (o *Orchestrator) resolve(ctx context.Context, s catalog.Session, l catalog.Link) (catalog.Record, bool, error) {
	if rec, ok := o.cache.Get(l.ID); ok {
		return rec, true, nil
	}
	rec, err := o.browser.FetchDetail(ctx, s, l)
	if err != nil {
		if !errors.Is(err, catalog.ErrDetailFetch) {
			err = fmt.Errorf("%w: %w", catalog.ErrDetailFetch, err)
		}
		return catalog.Record{}, false, err
	}
	if rec.Link == "" {
		rec.Link = l.ID
	}
	return rec, false, nil
}

func (o *Orchestrator) send(ctx context.Context, log logx.Logger, kind string, fn func(ctx context.Context) error) bool {
	err := fn(ctx)
	o.metrics.Send(kind, err)
	if err != nil {
		log.Warn("notification failed", logx.String("kind", kind), logx.Err(err))
		return false
	}
	return true
}

// Clear drops the tenant's seen set and tears the browser session down when
// nothing remains cached.
func Clear(ctx context.Context, cache *objcache.Cache, sessions *session.Manager, t objcache.Tenant, log logx.Logger) int {
	n := cache.Clear(t)
	if _, err := sessions.ReleaseIfGloballyEmpty(ctx); err != nil {
		log.Warn("session teardown failed", logx.String("tenant", string(t)), logx.Err(err))
	}
	return n
}
