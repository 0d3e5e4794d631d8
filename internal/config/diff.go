package config

import (
	"maps"
	"reflect"
	"slices"
	"strings"

	logx "allybot/pkg/logx"
)

// section compares one top-level block. summary only sees the new config
// and must never emit secrets.
type section struct {
	name    string
	restart bool
	changed func(a, b *Config) bool
	summary func(c *Config) []logx.Field
}

var defaultNotifier = NotifierConfig{Enabled: true, Workers: 2, QueueSize: 512, RatePerSec: 3, RetryMax: 2}

func notifierOf(c *Config) NotifierConfig {
	if c.Notifier == nil {
		return defaultNotifier
	}
	return *c.Notifier
}

// storageView is the part of the storage block that can be logged.
type storageView struct {
	driver, busy string
	pathSet      bool
}

func storageOf(c *Config) storageView {
	if c.Storage == nil {
		return storageView{}
	}
	return storageView{
		driver:  strings.TrimSpace(c.Storage.Driver),
		busy:    strings.TrimSpace(c.Storage.BusyTimeout),
		pathSet: strings.TrimSpace(c.Storage.Path) != "",
	}
}

func set(s string) bool { return strings.TrimSpace(s) != "" }

var sections = []section{
	{
		name: "telegram",
		changed: func(a, b *Config) bool {
			return strings.TrimSpace(a.Telegram.PollTimeout) != strings.TrimSpace(b.Telegram.PollTimeout) ||
				!slices.Equal(a.Telegram.OwnerUserIDs, b.Telegram.OwnerUserIDs) ||
				strings.TrimSpace(a.Telegram.GroupLog) != strings.TrimSpace(b.Telegram.GroupLog)
		},
		summary: func(c *Config) []logx.Field {
			return []logx.Field{
				logx.String("telegram.poll_timeout", strings.TrimSpace(c.Telegram.PollTimeout)),
				logx.Int("telegram.owner_count", len(c.Telegram.OwnerUserIDs)),
				logx.Bool("telegram.group_log_set", set(c.Telegram.GroupLog)),
			}
		},
	},
	{
		name:    "logging",
		changed: func(a, b *Config) bool { return !reflect.DeepEqual(a.Logging, b.Logging) },
		summary: func(c *Config) []logx.Field {
			return []logx.Field{
				logx.String("logging.level", c.Logging.Level),
				logx.Bool("logging.console", c.Logging.Console),
				logx.Bool("logging.file_enabled", c.Logging.File.Enabled),
				logx.Bool("logging.telegram_enabled", c.Logging.Telegram.Enabled),
			}
		},
	},
	{
		name:    "scheduler",
		changed: func(a, b *Config) bool { return !reflect.DeepEqual(a.Scheduler, b.Scheduler) },
		summary: func(c *Config) []logx.Field {
			return []logx.Field{
				logx.Bool("scheduler.enabled", c.Scheduler.Enabled),
				logx.String("scheduler.timezone", strings.TrimSpace(c.Scheduler.Timezone)),
				logx.Int("scheduler.history_size", c.Scheduler.HistorySize),
			}
		},
	},
	{
		name:    "notifier",
		changed: func(a, b *Config) bool { return notifierOf(a) != notifierOf(b) },
		summary: func(c *Config) []logx.Field {
			n := notifierOf(c)
			return []logx.Field{
				logx.Bool("notifier.enabled", n.Enabled),
				logx.Int("notifier.workers", n.Workers),
				logx.Int("notifier.queue_size", n.QueueSize),
				logx.Int("notifier.rate_per_sec", n.RatePerSec),
			}
		},
	},
	{
		name:    "reminder",
		changed: func(a, b *Config) bool { return !reflect.DeepEqual(a.Reminder, b.Reminder) },
		summary: func(c *Config) []logx.Field {
			return []logx.Field{
				logx.String("reminder.poll_interval", strings.TrimSpace(c.Reminder.PollInterval)),
				logx.Int("reminder.broadcast_count", len(c.Reminder.Broadcast)),
				logx.String("reminder.default_lang", c.Reminder.DefaultLang),
				logx.Bool("reminder.confirm_buffs", c.Reminder.ConfirmBuffs),
			}
		},
	},
	{
		// The DeepL key only counts as set or unset.
		name: "translate",
		changed: func(a, b *Config) bool {
			x, y := a.Translate, b.Translate
			x.DeepLKey, y.DeepLKey = "", ""
			return x != y || set(a.Translate.DeepLKey) != set(b.Translate.DeepLKey)
		},
		summary: func(c *Config) []logx.Field {
			return []logx.Field{
				logx.String("translate.provider", c.Translate.Provider),
				logx.Bool("translate.deepl_key_set", set(c.Translate.DeepLKey)),
			}
		},
	},
	{
		name:    "http",
		restart: true,
		changed: func(a, b *Config) bool { return a.HTTP != b.HTTP },
		summary: func(c *Config) []logx.Field { return []logx.Field{logx.String("http.addr", c.HTTP.Addr)} },
	},
	{
		name:    "telemetry",
		restart: true,
		changed: func(a, b *Config) bool { return a.Telemetry != b.Telemetry },
		summary: func(c *Config) []logx.Field { return []logx.Field{logx.Bool("telemetry.metrics", c.Telemetry.Metrics)} },
	},
	{
		name:    "storage",
		restart: true,
		changed: func(a, b *Config) bool { return storageOf(a) != storageOf(b) },
		summary: func(c *Config) []logx.Field {
			s := storageOf(c)
			return []logx.Field{
				logx.String("storage.driver", s.driver),
				logx.Bool("storage.path_set", s.pathSet),
				logx.String("storage.busy_timeout", s.busy),
			}
		},
	},
}

// SummarizeConfigChange lists the changed sections in name order, log
// fields describing them, and the plugins whose enable flag or settings
// changed.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field, []string) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	var names []string
	var attrs []logx.Field
	for _, s := range sections {
		if s.changed(oldCfg, newCfg) {
			names = append(names, s.name)
			attrs = append(attrs, s.summary(newCfg)...)
		}
	}

	plugins := changedPlugins(oldCfg.Plugins, newCfg.Plugins)
	if len(plugins) > 0 {
		enabled := 0
		for _, p := range newCfg.Plugins {
			if p.Enabled {
				enabled++
			}
		}
		names = append(names, "plugins")
		attrs = append(attrs,
			logx.Int("plugins.changed_count", len(plugins)),
			logx.Int("plugins.enabled_count", enabled),
		)
	}

	slices.Sort(names)
	return names, attrs, plugins
}

// RestartRequired filters sections down to those read only at startup.
func RestartRequired(changed []string) []string {
	var out []string
	for _, s := range sections {
		if s.restart && slices.Contains(changed, s.name) {
			out = append(out, s.name)
		}
	}
	return out
}

func changedPlugins(a, b map[string]PluginConfigRaw) []string {
	all := maps.Clone(a)
	if all == nil {
		all = map[string]PluginConfigRaw{}
	}
	maps.Copy(all, b)

	var out []string
	for name := range all {
		o, n := a[name], b[name]
		if o.Enabled != n.Enabled || o.Fingerprint() != n.Fingerprint() {
			out = append(out, name)
		}
	}
	slices.Sort(out)
	return out
}
