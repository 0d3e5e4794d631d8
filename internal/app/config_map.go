package app

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"allybot/internal/config"
	"allybot/internal/notifier"
	"allybot/internal/observability/httpserver"
	"allybot/internal/reminder"
	"allybot/internal/schedule"
	"allybot/internal/storage"
	"allybot/internal/task/scheduler"
	"allybot/internal/translate"
	logx "allybot/pkg/logx"
)

// mapStorageConfig reports enabled=false for an omitted section or driver "none".
func mapStorageConfig(cfg *Config) (storage.Config, bool, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if strings.EqualFold(driver, "none") {
		return storage.Config{}, false, nil
	}
	switch driver {
	case "", "sqlite", "sqlite3":
	default:
		return storage.Config{}, false, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
	path := strings.TrimSpace(sc.Path)
	if path == "" {
		return storage.Config{}, false, fmt.Errorf("storage.path is required when storage.driver=sqlite")
	}
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
	if err != nil {
		return storage.Config{}, false, err
	}
	return storage.Config{Driver: "sqlite", Path: path, BusyTimeout: busy}, true, nil
}

func mapSchedulerConfig(cfg *Config) (scheduler.Config, error) {
	sc := cfg.Scheduler
	if sc.HistorySize < 0 {
		return scheduler.Config{}, fmt.Errorf("scheduler.history_size must be >= 0")
	}
	if sc.RetryMax < 0 {
		return scheduler.Config{}, fmt.Errorf("scheduler.retry_max must be >= 0")
	}
	def, err := config.ParseDurationField("scheduler.default_timeout", sc.DefaultTimeout)
	if err != nil {
		return scheduler.Config{}, err
	}
	if _, err := loadLocation("scheduler.timezone", sc.Timezone); err != nil {
		return scheduler.Config{}, err
	}
	hist := sc.HistorySize
	if hist == 0 {
		hist = 200
	}
	return scheduler.Config{
		Enabled:        sc.Enabled,
		DefaultTimeout: def,
		HistorySize:    hist,
		Timezone:       strings.TrimSpace(sc.Timezone),
		RetryMax:       sc.RetryMax,
	}, nil
}

// mapNotifierConfig defaults to enabled=true when the section is omitted.
func mapNotifierConfig(cfg *Config) (notifier.Config, error) {
	out := notifier.Config{
		Enabled:       true,
		Workers:       2,
		QueueSize:     512,
		RatePerSec:    3,
		SendTimeout:   10 * time.Second,
		RetryMax:      3,
		RetryBase:     500 * time.Millisecond,
		RetryMaxDelay: 10 * time.Second,
		HistorySize:   100,
	}
	if cfg == nil || cfg.Notifier == nil {
		return out, nil
	}
	n := cfg.Notifier
	out.Enabled = n.Enabled
	if n.Workers != 0 {
		out.Workers = n.Workers
	}
	if n.QueueSize != 0 {
		out.QueueSize = n.QueueSize
	}
	if n.RatePerSec != 0 {
		out.RatePerSec = n.RatePerSec
	}
	if n.Burst != 0 {
		out.Burst = n.Burst
	}
	if n.RetryMax != 0 {
		out.RetryMax = n.RetryMax
	}
	if n.HistorySize != 0 {
		out.HistorySize = n.HistorySize
	}
	var err error
	out.SendTimeout, err = config.ParseDurationOrDefault("notifier.send_timeout", n.SendTimeout, out.SendTimeout)
	if err != nil {
		return notifier.Config{}, err
	}

	switch {
	case out.Workers < 0:
		return notifier.Config{}, fmt.Errorf("notifier.workers must be >= 0")
	case out.QueueSize < 0:
		return notifier.Config{}, fmt.Errorf("notifier.queue_size must be >= 0")
	case out.RatePerSec < 0:
		return notifier.Config{}, fmt.Errorf("notifier.rate_per_sec must be >= 0")
	case out.Burst < 0:
		return notifier.Config{}, fmt.Errorf("notifier.burst must be >= 0")
	case out.RetryMax < 0:
		return notifier.Config{}, fmt.Errorf("notifier.retry_max must be >= 0")
	case out.HistorySize < 0:
		return notifier.Config{}, fmt.Errorf("notifier.history_size must be >= 0")
	}
	return out, nil
}

// reminderConfig is the poller and dispatcher halves of the reminder section.
type reminderConfig struct {
	Poller     reminder.Config
	Dispatcher reminder.DispatcherConfig
}

func mapReminderConfig(cfg *Config) (reminderConfig, error) {
	rc := cfg.Reminder
	interval, err := config.ParseDurationClamped("reminder.poll_interval", rc.PollInterval,
		reminder.DefaultInterval, reminder.MinInterval, reminder.MaxInterval)
	if err != nil {
		return reminderConfig{}, err
	}
	sendTimeout, err := config.ParseDurationClamped("reminder.send_timeout", rc.SendTimeout,
		reminder.DefaultSendTimeout, reminder.MinSendTimeout, reminder.MaxSendTimeout)
	if err != nil {
		return reminderConfig{}, err
	}
	horizon, err := config.ParseDurationOrDefault("reminder.horizon", rc.Horizon, reminder.DefaultHorizon)
	if err != nil {
		return reminderConfig{}, err
	}

	leads := schedule.DefaultLeadTimes()
	for raw, minutes := range rc.LeadMinutes {
		k, err := schedule.ParseKind(raw)
		if err != nil {
			return reminderConfig{}, fmt.Errorf("reminder.lead_minutes: %w", err)
		}
		if minutes < 0 {
			return reminderConfig{}, fmt.Errorf("reminder.lead_minutes.%s must be >= 0", raw)
		}
		leads[k] = time.Duration(minutes) * time.Minute
	}
	for k, d := range leads {
		if d >= horizon {
			return reminderConfig{}, fmt.Errorf("reminder.horizon (%s) must exceed the %s lead time (%s)", horizon, k, d)
		}
	}

	broadcast := make(map[int64]int64, len(rc.Broadcast))
	for raw, chatID := range rc.Broadcast {
		scope, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil {
			return reminderConfig{}, fmt.Errorf("reminder.broadcast: invalid scope id %q", raw)
		}
		broadcast[scope] = chatID
	}

	loc, err := loadLocation("scheduler.timezone", cfg.Scheduler.Timezone)
	if err != nil {
		return reminderConfig{}, err
	}

	return reminderConfig{
		Poller: reminder.Config{Interval: interval, Horizon: horizon, Leads: leads, ConfirmBuffs: rc.ConfirmBuffs},
		Dispatcher: reminder.DispatcherConfig{
			SendTimeout: sendTimeout,
			Broadcast:   broadcast,
			DefaultLang: strings.TrimSpace(rc.DefaultLang),
			Location:    loc,
		},
	}, nil
}

func mapTranslateConfig(cfg *Config) (translate.Config, error) {
	tc := cfg.Translate
	provider := strings.ToLower(strings.TrimSpace(tc.Provider))
	switch provider {
	case "":
		provider = "auto"
	case "auto", "deepl", "libre", "none":
	default:
		return translate.Config{}, fmt.Errorf("translate.provider: unknown %q", tc.Provider)
	}
	if provider == "deepl" && strings.TrimSpace(tc.DeepLKey) == "" {
		return translate.Config{}, fmt.Errorf("translate.provider=deepl requires translate.deepl_key or %s", config.EnvDeepLKey)
	}
	timeout, err := config.ParseDurationOrDefault("translate.timeout", tc.Timeout, 10*time.Second)
	if err != nil {
		return translate.Config{}, err
	}
	if tc.RatePerSec < 0 {
		return translate.Config{}, fmt.Errorf("translate.rate_per_sec must be >= 0")
	}
	return translate.Config{
		Provider:   provider,
		DeepLKey:   strings.TrimSpace(tc.DeepLKey),
		DeepLURL:   strings.TrimSpace(tc.DeepLURL),
		LibreURL:   strings.TrimSpace(tc.LibreURL),
		Timeout:    timeout,
		RatePerSec: tc.RatePerSec,
	}, nil
}

func mapLogConfig(cfg *Config) logx.Config {
	l := cfg.Logging
	return logx.Config{
		Level:   l.Level,
		Console: l.Console,
		File:    logx.FileConfig{Enabled: l.File.Enabled, Path: l.File.Path},
		Chat: logx.ChatConfig{
			Enabled:    l.Telegram.Enabled,
			ThreadID:   l.Telegram.ThreadID,
			MinLevel:   l.Telegram.MinLevel,
			RatePerSec: l.Telegram.RatePerSec,
		},
	}
}

func mapHTTPConfig(cfg *Config) httpserver.Config {
	return httpserver.Config{Addr: strings.TrimSpace(cfg.HTTP.Addr), Pprof: cfg.HTTP.Pprof}
}

// logChatID parses telegram.group_log; 0 clears the chat log target.
func logChatID(cfg *Config) int64 {
	raw := strings.TrimSpace(cfg.Telegram.GroupLog)
	if raw == "" {
		return 0
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0
	}
	return id
}

func loadLocation(path, tz string) (*time.Location, error) {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("%s: invalid %q: %w", path, tz, err)
	}
	return loc, nil
}

// validate rejects configs that would fail to apply. It runs on boot and
// before every hot reload is committed.
func validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is empty")
	}
	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		return fmt.Errorf("telegram.token is required (or set %s)", config.EnvToken)
	}
	if _, err := config.ParseDurationField("telegram.poll_timeout", cfg.Telegram.PollTimeout); err != nil {
		return err
	}
	if raw := strings.TrimSpace(cfg.Telegram.GroupLog); raw != "" {
		if _, err := strconv.ParseInt(raw, 10, 64); err != nil {
			return fmt.Errorf("telegram.group_log: invalid chat id %q", raw)
		}
	}
	if _, _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	if _, err := mapSchedulerConfig(cfg); err != nil {
		return err
	}
	if _, err := mapNotifierConfig(cfg); err != nil {
		return err
	}
	if _, err := mapReminderConfig(cfg); err != nil {
		return err
	}
	if _, err := mapTranslateConfig(cfg); err != nil {
		return err
	}
	return nil
}
