// Package chromium implements the catalog ports on a headless Chrome driven
// through chromedp. One Session is one browser process; every listing or
// detail read opens and closes its own tab.
package chromium

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/chromedp/chromedp"

	"listingbot/internal/catalog"
	logx "listingbot/pkg/logx"
)

const categoryPlaceholder = "{category}"

type Config struct {
	// ListURL is the category page template; "{category}" is replaced by the category token.
	ListURL string
	// ExecPath overrides the Chrome executable (empty = chromedp lookup).
	ExecPath   string
	Headless   bool
	NoSandbox  bool
	NavTimeout time.Duration
	Width      int
	Height     int
	// ScreenshotQuality is the JPEG quality for full-page captures (1..100).
	ScreenshotQuality int
	Selectors         Selectors
}

type Browser struct {
	cfg Config
	log logx.Logger
	seq atomic.Uint64
}

var (
	_ catalog.Browser        = (*Browser)(nil)
	_ catalog.SessionFactory = (*Browser)(nil)
)

func New(cfg Config, log logx.Logger) (*Browser, error) {
	if !strings.Contains(cfg.ListURL, categoryPlaceholder) {
		return nil, fmt.Errorf("chromium: list url %q must contain %s", cfg.ListURL, categoryPlaceholder)
	}
	if cfg.NavTimeout <= 0 {
		cfg.NavTimeout = 45 * time.Second
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		cfg.Width, cfg.Height = 1280, 1024
	}
	if cfg.ScreenshotQuality <= 0 || cfg.ScreenshotQuality > 100 {
		cfg.ScreenshotQuality = 85
	}
	cfg.Selectors = cfg.Selectors.withDefaults()
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Browser{cfg: cfg, log: log}, nil
}

type session struct {
	name        string
	ctx         context.Context
	cancel      context.CancelFunc
	allocCancel context.CancelFunc
}

func (s *session) Name() string { return s.name }

// CreateSession starts a browser process. The process lifetime is not tied
// to ctx; only startup honors it.
func (b *Browser) CreateSession(ctx context.Context) (catalog.Session, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", b.cfg.Headless),
		chromedp.WindowSize(b.cfg.Width, b.cfg.Height),
	)
	if b.cfg.NoSandbox {
		opts = append(opts, chromedp.Flag("no-sandbox", true))
	}
	if p := strings.TrimSpace(b.cfg.ExecPath); p != "" {
		opts = append(opts, chromedp.ExecPath(p))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	bctx, cancel := chromedp.NewContext(allocCtx)

	started := make(chan error, 1)
	go func() { started <- chromedp.Run(bctx) }()
	select {
	case err := <-started:
		if err != nil {
			cancel()
			allocCancel()
			return nil, err
		}
	case <-ctx.Done():
		cancel()
		allocCancel()
		return nil, ctx.Err()
	}

	s := &session{
		name:        fmt.Sprintf("chromium-%d", b.seq.Add(1)),
		ctx:         bctx,
		cancel:      cancel,
		allocCancel: allocCancel,
	}
	b.log.Info("browser started", logx.String("session", s.name), logx.Bool("headless", b.cfg.Headless))
	return s, nil
}

func (b *Browser) CloseSession(ctx context.Context, cs catalog.Session) error {
	s, ok := cs.(*session)
	if !ok {
		return fmt.Errorf("chromium: foreign session %T", cs)
	}
	defer s.allocCancel()

	done := make(chan error, 1)
	go func() { done <- chromedp.Cancel(s.ctx) }()
	select {
	case err := <-done:
		if err != nil {
			return err
		}
	case <-ctx.Done():
		s.cancel()
		return ctx.Err()
	}
	b.log.Info("browser closed", logx.String("session", s.name))
	return nil
}

func (b *Browser) ListObjects(ctx context.Context, cs catalog.Session, c catalog.Category) ([]catalog.Link, error) {
	pageURL := strings.ReplaceAll(b.cfg.ListURL, categoryPlaceholder, string(c))

	var html string
	err := b.inTab(ctx, cs, func(tab context.Context) error {
		return chromedp.Run(tab,
			chromedp.Navigate(pageURL),
			chromedp.WaitReady("body", chromedp.ByQuery),
			chromedp.OuterHTML("html", &html, chromedp.ByQuery),
		)
	})
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", pageURL, err)
	}
	links, err := parseLinks(html, pageURL, b.cfg.Selectors)
	if err != nil {
		return nil, err
	}
	b.log.Debug("listing parsed", logx.String("category", string(c)), logx.Int("links", len(links)))
	return links, nil
}

func (b *Browser) FetchDetail(ctx context.Context, cs catalog.Session, l catalog.Link) (catalog.Record, error) {
	var (
		html string
		shot []byte
	)
	err := b.inTab(ctx, cs, func(tab context.Context) error {
		actions := []chromedp.Action{
			chromedp.Navigate(l.URL),
			chromedp.WaitReady("body", chromedp.ByQuery),
			chromedp.OuterHTML("html", &html, chromedp.ByQuery),
		}
		if sel := strings.TrimSpace(b.cfg.Selectors.Screenshot); sel != "" {
			actions = append(actions, chromedp.Screenshot(sel, &shot, chromedp.NodeVisible, chromedp.ByQuery))
		} else {
			actions = append(actions, chromedp.FullScreenshot(&shot, b.cfg.ScreenshotQuality))
		}
		return chromedp.Run(tab, actions...)
	})
	if err != nil {
		return catalog.Record{}, fmt.Errorf("load %s: %w", l.URL, err)
	}
	rec, err := parseDetail(html, l, b.cfg.Selectors)
	if err != nil {
		return catalog.Record{}, err
	}
	rec.Screenshot = shot
	return rec, nil
}

// inTab runs fn in a fresh tab of the session, bounded by NavTimeout and ctx.
func (b *Browser) inTab(ctx context.Context, cs catalog.Session, fn func(tab context.Context) error) error {
	s, ok := cs.(*session)
	if !ok {
		return fmt.Errorf("chromium: foreign session %T", cs)
	}
	tab, closeTab := chromedp.NewContext(s.ctx)
	defer closeTab()
	stop := context.AfterFunc(ctx, closeTab)
	defer stop()

	tctx, cancel := context.WithTimeout(tab, b.cfg.NavTimeout)
	defer cancel()
	return fn(tctx)
}
