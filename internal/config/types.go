package config

// Config is the on-disk configuration. All durations are Go duration strings
// ("45s", "4m") so the file stays readable; Runtime parses them.
type Config struct {
	Telegram  TelegramConfig  `json:"telegram"`
	Logging   LoggingConfig   `json:"logging"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Catalog   CatalogConfig   `json:"catalog"`
	Holidays  HolidaysConfig  `json:"holidays"`
	Notifier  NotifierConfig  `json:"notifier"`
	Metrics   MetricsConfig   `json:"metrics"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// AuthorizedUserIDs are Telegram user ids allowed to issue commands.
	AuthorizedUserIDs []string `json:"authorized_user_ids"`
	// OperatorChatID receives scheduled polls and holiday notices.
	OperatorChatID string `json:"operator_chat_id"`
	// GroupLog is "<chat_id>" or "<chat_id>:<thread_id>" for the log sink.
	GroupLog       string `json:"group_log"`
	PollTimeout    string `json:"poll_timeout"`
	CommandTimeout string `json:"command_timeout"`
	Workers        int    `json:"workers"`
	QueueSize      int    `json:"queue_size"`
}

type LoggingConfig struct {
	Level    string             `json:"level"`
	Console  bool               `json:"console"`
	File     LoggingFileConfig  `json:"file"`
	Telegram LoggingGroupConfig `json:"telegram"`
}

type LoggingFileConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingGroupConfig struct {
	Enabled    bool   `json:"enabled"`
	ThreadID   int    `json:"thread_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

type SchedulerConfig struct {
	// Enabled defaults to true when omitted.
	Enabled       *bool  `json:"enabled,omitempty"`
	Timezone      string `json:"timezone"`
	Category      string `json:"category"`
	Poll          string `json:"poll"`
	Reset         string `json:"reset"`
	HolidayNotice string `json:"holiday_notice"`
	JobTimeout    string `json:"job_timeout"`
}

func (s SchedulerConfig) IsEnabled() bool { return s.Enabled == nil || *s.Enabled }

type CatalogConfig struct {
	// ListURL must contain "{category}".
	ListURL        string          `json:"list_url"`
	ExecutablePath string          `json:"executable_path"`
	Headless       *bool           `json:"headless,omitempty"`
	NoSandbox      bool            `json:"no_sandbox"`
	NavTimeout     string          `json:"nav_timeout"`
	Selectors      SelectorsConfig `json:"selectors"`
	Breaker        BreakerConfig   `json:"breaker"`
}

func (c CatalogConfig) IsHeadless() bool { return c.Headless == nil || *c.Headless }

// SelectorsConfig mirrors chromium.Selectors; empty fields keep the built-in selector.
type SelectorsConfig struct {
	ListItem   string `json:"list_item"`
	Name       string `json:"name"`
	FactRow    string `json:"fact_row"`
	FactLabel  string `json:"fact_label"`
	FactValue  string `json:"fact_value"`
	Screenshot string `json:"screenshot"`
}

type BreakerConfig struct {
	Disabled         bool    `json:"disabled"`
	MaxRequests      uint32  `json:"max_requests"`
	Interval         string  `json:"interval"`
	Timeout          string  `json:"timeout"`
	FailureThreshold float64 `json:"failure_threshold"`
	MinRequests      uint32  `json:"min_requests"`
}

type HolidaysConfig struct {
	Country string            `json:"country"`
	Extra   map[string]string `json:"extra"`
}

type NotifierConfig struct {
	RatePerSec float64 `json:"rate_per_sec"`
	Burst      int     `json:"burst"`
}

type MetricsConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr"`
	Token         string `json:"token"`
	AllowInsecure bool   `json:"allow_insecure"`
	Pprof         bool   `json:"pprof"`
	ReadTimeout   string `json:"read_timeout"`
	WriteTimeout  string `json:"write_timeout"`
}
