package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	yaml "go.yaml.in/yaml/v3"

	"listingbot/internal/catalog"
	"listingbot/internal/task/scheduler"
	"listingbot/internal/trigger"
)

// Off disables a scheduler job when used as its schedule.
const Off = "off"

const DefaultListURL = "https://wahlinfastigheter.se/lediga-objekt/{category}/"

// Environment variables that override the file. They match the names the
// bot has always been deployed with.
const (
	EnvToken      = "TOKEN"
	EnvParents    = "PARENTS"
	EnvChatID     = "CHAT_ID"
	EnvExecutable = "PUPPETEER_EXECUTABLE"
)

// Decode parses a JSON or YAML document (by path extension) strictly:
// unknown fields and trailing data are errors.
func Decode(path string, data []byte) (*Config, error) {
	jb, err := toJSON(path, data)
	if err != nil {
		return nil, err
	}
	var cfg Config
	dec := json.NewDecoder(bytes.NewReader(jb))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		if err == nil {
			return nil, fmt.Errorf("decode %s: trailing data", filepath.Base(path))
		}
		return nil, err
	}
	return &cfg, nil
}

// toJSON lets YAML files go through the strict JSON decoder.
func toJSON(path string, data []byte) ([]byte, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
	default:
		return data, nil
	}
	var v any
	if err := yaml.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("yaml: %w", err)
	}
	if v == nil {
		return []byte("{}"), nil
	}
	j, err := json.Marshal(stringKeys(v))
	if err != nil {
		return nil, fmt.Errorf("yaml to json: %w", err)
	}
	return j, nil
}

func stringKeys(in any) any {
	switch x := in.(type) {
	case map[any]any:
		m := make(map[string]any, len(x))
		for k, v := range x {
			m[fmt.Sprint(k)] = stringKeys(v)
		}
		return m
	case map[string]any:
		for k, v := range x {
			x[k] = stringKeys(v)
		}
		return x
	case []any:
		for i := range x {
			x[i] = stringKeys(x[i])
		}
		return x
	default:
		return in
	}
}

// ReadFile decodes path. A missing file yields an empty Config so the bot
// can run on environment variables alone.
func ReadFile(path string) (*Config, error) {
	if strings.TrimSpace(path) == "" {
		return &Config{}, nil
	}
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return &Config{}, nil
	}
	if err != nil {
		return nil, err
	}
	return Decode(path, b)
}

// ApplyDefaults fills every unset field.
func (c *Config) ApplyDefaults() {
	def := trigger.DefaultConfig()

	t := &c.Telegram
	t.PollTimeout = orDefault(t.PollTimeout, "10s")
	t.CommandTimeout = orDefault(t.CommandTimeout, "5m")
	if t.Workers <= 0 {
		t.Workers = 4
	}
	if t.QueueSize <= 0 {
		t.QueueSize = 64
	}

	l := &c.Logging
	l.Level = orDefault(l.Level, "info")
	if !l.Console && !l.File.Enabled {
		l.Console = true
	}
	l.Telegram.MinLevel = orDefault(l.Telegram.MinLevel, "warn")
	if l.Telegram.RatePerSec <= 0 {
		l.Telegram.RatePerSec = 1
	}

	s := &c.Scheduler
	s.Timezone = orDefault(s.Timezone, "Europe/Stockholm")
	s.Category = orDefault(s.Category, string(def.Category))
	s.Poll = orDefault(s.Poll, def.Poll)
	s.Reset = orDefault(s.Reset, def.Reset)
	s.HolidayNotice = orDefault(s.HolidayNotice, def.HolidayNotice)
	s.JobTimeout = orDefault(s.JobTimeout, def.Timeout.String())

	cat := &c.Catalog
	cat.ListURL = orDefault(cat.ListURL, DefaultListURL)
	cat.NavTimeout = orDefault(cat.NavTimeout, "45s")
	b := &cat.Breaker
	bd := catalog.DefaultBreakerConfig()
	if b.MaxRequests == 0 {
		b.MaxRequests = bd.MaxRequests
	}
	b.Interval = orDefault(b.Interval, bd.Interval.String())
	b.Timeout = orDefault(b.Timeout, bd.Timeout.String())
	if b.FailureThreshold <= 0 {
		b.FailureThreshold = bd.FailureThreshold
	}
	if b.MinRequests == 0 {
		b.MinRequests = bd.MinRequests
	}

	c.Holidays.Country = strings.ToLower(orDefault(c.Holidays.Country, "se"))

	if c.Notifier.RatePerSec <= 0 {
		c.Notifier.RatePerSec = 1
	}
	if c.Notifier.Burst <= 0 {
		c.Notifier.Burst = 3
	}

	m := &c.Metrics
	m.Addr = orDefault(m.Addr, "127.0.0.1:9464")
	m.ReadTimeout = orDefault(m.ReadTimeout, "10s")
	m.WriteTimeout = orDefault(m.WriteTimeout, "30s")
}

// ApplyEnv overlays environment overrides read through getenv.
func (c *Config) ApplyEnv(getenv func(string) string) {
	if getenv == nil {
		getenv = os.Getenv
	}
	if v := strings.TrimSpace(getenv(EnvToken)); v != "" {
		c.Telegram.Token = v
	}
	if v := strings.TrimSpace(getenv(EnvParents)); v != "" {
		var ids []string
		for _, p := range strings.Split(v, ",") {
			if p = strings.TrimSpace(p); p != "" {
				ids = append(ids, p)
			}
		}
		c.Telegram.AuthorizedUserIDs = ids
	}
	if v := strings.TrimSpace(getenv(EnvChatID)); v != "" {
		c.Telegram.OperatorChatID = v
	}
	if v := strings.TrimSpace(getenv(EnvExecutable)); v != "" {
		c.Catalog.ExecutablePath = v
	}
}

// Validate reports every problem at once. It expects ApplyDefaults to have run.
func (c *Config) Validate() error {
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	if strings.TrimSpace(c.Telegram.Token) == "" {
		add(fmt.Errorf("telegram.token: required (or set %s)", EnvToken))
	}
	if len(c.Telegram.AuthorizedUserIDs) == 0 {
		add(fmt.Errorf("telegram.authorized_user_ids: at least one user required (or set %s)", EnvParents))
	}
	for i, id := range c.Telegram.AuthorizedUserIDs {
		if _, err := strconv.ParseInt(strings.TrimSpace(id), 10, 64); err != nil {
			add(fmt.Errorf("telegram.authorized_user_ids[%d]: %q is not a user id", i, id))
		}
	}
	if _, _, err := ParseChatRef(c.Telegram.GroupLog); err != nil {
		add(fmt.Errorf("telegram.group_log: %w", err))
	}
	if c.Logging.Telegram.Enabled && strings.TrimSpace(c.Telegram.GroupLog) == "" {
		add(fmt.Errorf("logging.telegram.enabled: requires telegram.group_log"))
	}
	for path, raw := range map[string]string{
		"telegram.poll_timeout":    c.Telegram.PollTimeout,
		"telegram.command_timeout": c.Telegram.CommandTimeout,
		"scheduler.job_timeout":    c.Scheduler.JobTimeout,
		"catalog.nav_timeout":      c.Catalog.NavTimeout,
		"catalog.breaker.interval": c.Catalog.Breaker.Interval,
		"catalog.breaker.timeout":  c.Catalog.Breaker.Timeout,
		"metrics.read_timeout":     c.Metrics.ReadTimeout,
		"metrics.write_timeout":    c.Metrics.WriteTimeout,
	} {
		_, err := ParseDurationField(path, raw)
		add(err)
	}

	if c.Scheduler.IsEnabled() {
		if _, err := strconv.ParseInt(strings.TrimSpace(c.Telegram.OperatorChatID), 10, 64); err != nil {
			add(fmt.Errorf("telegram.operator_chat_id: %q is not a chat id (or set %s)", c.Telegram.OperatorChatID, EnvChatID))
		}
		if _, err := scheduler.LoadLocation(c.Scheduler.Timezone); err != nil {
			add(fmt.Errorf("scheduler.timezone: %w", err))
		}
		if _, err := catalog.ParseCategory(c.Scheduler.Category); err != nil {
			add(fmt.Errorf("scheduler.category: %w", err))
		}
		for path, raw := range map[string]string{
			"scheduler.poll":           c.Scheduler.Poll,
			"scheduler.reset":          c.Scheduler.Reset,
			"scheduler.holiday_notice": c.Scheduler.HolidayNotice,
		} {
			if IsOff(raw) {
				continue
			}
			if _, err := scheduler.CronSpec(raw); err != nil {
				add(fmt.Errorf("%s: %w", path, err))
			}
		}
	}

	if !strings.Contains(c.Catalog.ListURL, "{category}") {
		add(fmt.Errorf("catalog.list_url: %q must contain {category}", c.Catalog.ListURL))
	}
	if t := c.Catalog.Breaker.FailureThreshold; t > 1 {
		add(fmt.Errorf("catalog.breaker.failure_threshold: %v must be within (0, 1]", t))
	}
	for day := range c.Holidays.Extra {
		if _, err := time.Parse(time.DateOnly, day); err != nil {
			add(fmt.Errorf("holidays.extra: %q is not YYYY-MM-DD", day))
		}
	}
	switch c.Holidays.Country {
	case "se", "no", "dk", "fi", "none":
	default:
		add(fmt.Errorf("holidays.country: unsupported %q", c.Holidays.Country))
	}
	if c.Notifier.RatePerSec > 30 {
		add(fmt.Errorf("notifier.rate_per_sec: %v exceeds the Telegram bot limit of 30", c.Notifier.RatePerSec))
	}
	return errors.Join(errs...)
}

// Load reads path, then applies defaults, environment overrides and validation.
func Load(path string, getenv func(string) string) (*Config, error) {
	cfg, err := ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg.ApplyDefaults()
	cfg.ApplyEnv(getenv)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// IsOff reports whether a schedule disables its job.
func IsOff(schedule string) bool {
	return strings.EqualFold(strings.TrimSpace(schedule), Off)
}

// Schedule returns the job schedule, or "" when it is disabled.
func Schedule(raw string) string {
	if IsOff(raw) {
		return ""
	}
	return strings.TrimSpace(raw)
}

// ParseChatRef parses "<chat_id>" or "<chat_id>:<thread_id>". Empty is (0, 0).
func ParseChatRef(s string) (int64, int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, 0, nil
	}
	chat, thread, hasThread := strings.Cut(s, ":")
	id, err := strconv.ParseInt(strings.TrimSpace(chat), 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid chat id %q", chat)
	}
	if !hasThread {
		return id, 0, nil
	}
	tid, err := strconv.Atoi(strings.TrimSpace(thread))
	if err != nil || tid < 0 {
		return 0, 0, fmt.Errorf("invalid thread id %q", thread)
	}
	return id, tid, nil
}

// ParseDurationField parses a duration string; empty is zero.
func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

// MustDuration parses a field Validate already accepted, falling back to def.
func MustDuration(raw string, def time.Duration) time.Duration {
	d, err := ParseDurationField("", raw)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return strings.TrimSpace(v)
}
