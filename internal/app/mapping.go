package app

import (
	"strconv"
	"strings"
	"time"

	"listingbot/internal/catalog"
	"listingbot/internal/catalog/chromium"
	"listingbot/internal/config"
	"listingbot/internal/holiday"
	"listingbot/internal/notifier"
	"listingbot/internal/objcache"
	"listingbot/internal/observability/metrics"
	"listingbot/internal/trigger"
	telegram "listingbot/internal/transport/telegram/adapter"
	logx "listingbot/pkg/logx"
)

// The functions below turn a validated config into component configs.

func adapterConfig(cfg *config.Config) telegram.Config {
	return telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: config.MustDuration(cfg.Telegram.PollTimeout, 10*time.Second),
	}
}

func logConfig(cfg *config.Config) logx.Config {
	l := cfg.Logging
	return logx.Config{
		Level:   l.Level,
		Console: l.Console,
		File:    logx.FileConfig{Enabled: l.File.Enabled, Path: l.File.Path},
		Telegram: logx.TelegramConfig{
			Enabled:    l.Telegram.Enabled,
			ThreadID:   l.Telegram.ThreadID,
			MinLevel:   l.Telegram.MinLevel,
			RatePerSec: l.Telegram.RatePerSec,
		},
	}
}

// logTarget is the chat and thread of the Telegram log sink. A thread in
// group_log wins over logging.telegram.thread_id.
func logTarget(cfg *config.Config) (int64, int) {
	chat, thread, err := config.ParseChatRef(cfg.Telegram.GroupLog)
	if err != nil {
		return 0, 0
	}
	if thread == 0 {
		thread = cfg.Logging.Telegram.ThreadID
	}
	return chat, thread
}

func browserConfig(cfg *config.Config) chromium.Config {
	c := cfg.Catalog
	return chromium.Config{
		ListURL:    c.ListURL,
		ExecPath:   c.ExecutablePath,
		Headless:   c.IsHeadless(),
		NoSandbox:  c.NoSandbox,
		NavTimeout: config.MustDuration(c.NavTimeout, 45*time.Second),
		Selectors: chromium.Selectors{
			ListItem:   c.Selectors.ListItem,
			Name:       c.Selectors.Name,
			FactRow:    c.Selectors.FactRow,
			FactLabel:  c.Selectors.FactLabel,
			FactValue:  c.Selectors.FactValue,
			Screenshot: c.Selectors.Screenshot,
		},
	}
}

func breakerConfig(cfg *config.Config) catalog.BreakerConfig {
	b := cfg.Catalog.Breaker
	d := catalog.DefaultBreakerConfig()
	return catalog.BreakerConfig{
		MaxRequests:      b.MaxRequests,
		Interval:         config.MustDuration(b.Interval, d.Interval),
		Timeout:          config.MustDuration(b.Timeout, d.Timeout),
		FailureThreshold: b.FailureThreshold,
		MinRequests:      b.MinRequests,
	}
}

func holidayConfig(cfg *config.Config) holiday.Config {
	return holiday.Config{Country: cfg.Holidays.Country, Extra: cfg.Holidays.Extra}
}

func notifierConfig(cfg *config.Config) notifier.Config {
	return notifier.Config{RatePerSec: cfg.Notifier.RatePerSec, Burst: cfg.Notifier.Burst}
}

func triggerConfig(cfg *config.Config) (trigger.Config, error) {
	s := cfg.Scheduler
	cat, err := catalog.ParseCategory(s.Category)
	if err != nil {
		return trigger.Config{}, err
	}
	chat, err := strconv.ParseInt(strings.TrimSpace(cfg.Telegram.OperatorChatID), 10, 64)
	if err != nil {
		return trigger.Config{}, err
	}
	return trigger.Config{
		Operator:      objcache.ChatTenant(chat),
		Category:      cat,
		Poll:          config.Schedule(s.Poll),
		Reset:         config.Schedule(s.Reset),
		HolidayNotice: config.Schedule(s.HolidayNotice),
		Timeout:       config.MustDuration(s.JobTimeout, 4*time.Minute),
	}, nil
}

func metricsConfig(cfg *config.Config) metrics.ServerConfig {
	m := cfg.Metrics
	return metrics.ServerConfig{
		Enabled:       m.Enabled,
		Addr:          m.Addr,
		Token:         m.Token,
		AllowInsecure: m.AllowInsecure,
		Pprof:         m.Pprof,
		ReadTimeout:   config.MustDuration(m.ReadTimeout, 10*time.Second),
		WriteTimeout:  config.MustDuration(m.WriteTimeout, 30*time.Second),
	}
}
