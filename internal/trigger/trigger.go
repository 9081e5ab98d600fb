// Package trigger binds the periodic poll, reset and holiday-notice jobs to
// the operator's chat.
package trigger

import (
	"context"
	"fmt"
	"time"

	"listingbot/internal/catalog"
	"listingbot/internal/fetch"
	"listingbot/internal/holiday"
	"listingbot/internal/objcache"
	logx "listingbot/pkg/logx"
)

const (
	JobPoll          = "poll"
	JobReset         = "reset"
	JobHolidayNotice = "holiday_notice"
)

type Config struct {
	Operator      objcache.Tenant
	Category      catalog.Category
	Poll          string
	Reset         string
	HolidayNotice string
	Timeout       time.Duration
}

func DefaultConfig() Config {
	return Config{
		Category:      catalog.CategoryDwelling,
		Poll:          "0 0-35/5 13 * * 1-5",
		Reset:         "0 36 13 * * 1-5",
		HolidayNotice: "0 0 13 * * 1-5",
		Timeout:       4 * time.Minute,
	}
}

// Runner is the fetch entry point the poll job drives.
type Runner interface {
	Run(ctx context.Context, t objcache.Tenant, c catalog.Category) (fetch.Result, error)
}

// Clearer resets a tenant and reports how many ids it held.
type Clearer func(ctx context.Context, t objcache.Tenant) int

// Texter sends a plain message to a tenant.
type Texter interface {
	SendText(ctx context.Context, t objcache.Tenant, text string) error
}

// Registrar is the scheduler surface used by Register.
type Registrar interface {
	AddSchedule(name, schedule string, timeout time.Duration, job func(ctx context.Context) error) error
}

type Trigger struct {
	cfg      Config
	runner   Runner
	clear    Clearer
	texter   Texter
	calendar holiday.Calendar
	log      logx.Logger

	now func() time.Time
}

func New(cfg Config, runner Runner, clear Clearer, texter Texter, cal holiday.Calendar, log logx.Logger) *Trigger {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Trigger{
		cfg:      cfg,
		runner:   runner,
		clear:    clear,
		texter:   texter,
		calendar: cal,
		log:      log,
		now:      time.Now,
	}
}

// Register adds the three jobs. An empty schedule disables that job.
func (t *Trigger) Register(r Registrar) error {
	jobs := []struct {
		name, spec string
		fn         func(ctx context.Context) error
	}{
		{JobPoll, t.cfg.Poll, t.Poll},
		{JobReset, t.cfg.Reset, t.Reset},
		{JobHolidayNotice, t.cfg.HolidayNotice, t.HolidayNotice},
	}
	for _, j := range jobs {
		if j.spec == "" {
			t.log.Info("job disabled", logx.String("job", j.name))
			continue
		}
		if err := r.AddSchedule(j.name, j.spec, t.cfg.Timeout, j.fn); err != nil {
			return fmt.Errorf("trigger %s: %w", j.name, err)
		}
	}
	return nil
}

func (t *Trigger) holiday() (string, bool) {
	if t.calendar == nil {
		return "", false
	}
	return t.calendar.PublicHoliday(t.now())
}

// Poll runs a fetch for the operator unless today is a public holiday.
// Failures are logged only; the operator is not messaged about them.
func (t *Trigger) Poll(ctx context.Context) error {
	if name, ok := t.holiday(); ok {
		t.log.Debug("poll skipped: holiday", logx.String("holiday", name))
		return nil
	}
	res, err := t.runner.Run(ctx, t.cfg.Operator, t.cfg.Category)
	if err != nil {
		return fmt.Errorf("scheduled run: %w", err)
	}
	t.log.Debug("scheduled run done", logx.Int("new", res.New), logx.Int("sent", res.Sent))
	return nil
}

// Reset clears the operator's seen set unless today is a public holiday.
func (t *Trigger) Reset(ctx context.Context) error {
	if name, ok := t.holiday(); ok {
		t.log.Debug("reset skipped: holiday", logx.String("holiday", name))
		return nil
	}
	n := t.clear(ctx, t.cfg.Operator)
	t.log.Info("scheduled reset", logx.Int("cleared", n))
	return nil
}

// HolidayNotice tells the operator that scheduled polling is off today.
func (t *Trigger) HolidayNotice(ctx context.Context) error {
	name, ok := t.holiday()
	if !ok {
		return nil
	}
	return t.texter.SendText(ctx, t.cfg.Operator, NoticeText(name))
}

func NoticeText(holiday string) string {
	return fmt.Sprintf("Today is \"%s\", I won't look for apartments unless you instruct me to.", holiday)
}
