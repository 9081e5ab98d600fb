package config

import (
	"reflect"
	"strings"

	logx "listingbot/pkg/logx"
)

// Change describes a reload. Sections lists every changed top-level section;
// Restart lists the ones a running process does not pick up.
type Change struct {
	Sections []string
	Restart  []string
	Fields   []logx.Field
}

func (c Change) Empty() bool { return len(c.Sections) == 0 }

// Summarize compares two configs. Fields are safe to log: secrets only
// appear as "is set" flags.
func Summarize(oldCfg, newCfg *Config) Change {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var ch Change
	mark := func(section string, restart bool, fields ...logx.Field) {
		ch.Sections = append(ch.Sections, section)
		if restart {
			ch.Restart = append(ch.Restart, section)
		}
		ch.Fields = append(ch.Fields, fields...)
	}

	ot, nt := oldCfg.Telegram, newCfg.Telegram
	if !reflect.DeepEqual(ot.AuthorizedUserIDs, nt.AuthorizedUserIDs) {
		mark("telegram.authorized_user_ids", false, logx.Int("telegram.authorized_count", len(nt.AuthorizedUserIDs)))
	}
	ot.AuthorizedUserIDs, nt.AuthorizedUserIDs = nil, nil
	if !reflect.DeepEqual(ot, nt) {
		mark("telegram", true,
			logx.Bool("telegram.token_changed", strings.TrimSpace(ot.Token) != strings.TrimSpace(nt.Token)),
			logx.String("telegram.poll_timeout", nt.PollTimeout))
	}
	if oldCfg.Logging != newCfg.Logging {
		mark("logging", false,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.telegram", newCfg.Logging.Telegram.Enabled))
	}
	if !reflect.DeepEqual(oldCfg.Scheduler, newCfg.Scheduler) {
		mark("scheduler", true, logx.Bool("scheduler.enabled", newCfg.Scheduler.IsEnabled()))
	}
	if !reflect.DeepEqual(oldCfg.Catalog, newCfg.Catalog) {
		mark("catalog", true)
	}
	if !reflect.DeepEqual(oldCfg.Holidays, newCfg.Holidays) {
		mark("holidays", true, logx.String("holidays.country", newCfg.Holidays.Country))
	}
	if oldCfg.Notifier != newCfg.Notifier {
		mark("notifier", true)
	}
	om, nm := oldCfg.Metrics, newCfg.Metrics
	if om != nm {
		mark("metrics", false,
			logx.Bool("metrics.enabled", nm.Enabled),
			logx.String("metrics.addr", nm.Addr),
			logx.Bool("metrics.token_set", strings.TrimSpace(nm.Token) != ""))
	}
	return ch
}
