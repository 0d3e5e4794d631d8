package app

import (
	"context"
	"strings"
	"testing"
	"time"

	"allybot/internal/config"
	"allybot/internal/reminder"
	"allybot/internal/schedule"
	"allybot/internal/task/scheduler"
	logx "allybot/pkg/logx"
)

func baseConfig() *Config {
	return &Config{
		Telegram: config.TelegramConfig{Token: "t", OwnerUserIDs: []int64{1}},
		Storage:  &config.StorageConfig{Driver: "sqlite", Path: "./data/allybot.db"},
		Scheduler: config.SchedulerConfig{
			Enabled:  true,
			Timezone: "UTC",
		},
	}
}

func TestMapStorageConfig(t *testing.T) {
	tests := []struct {
		name    string
		sc      *config.StorageConfig
		enabled bool
		wantErr string
	}{
		{"omitted", nil, false, ""},
		{"none", &config.StorageConfig{Driver: "none"}, false, ""},
		{"default driver", &config.StorageConfig{Path: "a.db"}, true, ""},
		{"sqlite3", &config.StorageConfig{Driver: "SQLite3", Path: "a.db", BusyTimeout: "3s"}, true, ""},
		{"no path", &config.StorageConfig{Driver: "sqlite"}, false, "storage.path is required"},
		{"unknown", &config.StorageConfig{Driver: "postgres", Path: "x"}, false, "unknown storage.driver"},
		{"bad busy", &config.StorageConfig{Path: "a.db", BusyTimeout: "soon"}, false, "storage.busy_timeout"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			cfg := baseConfig()
			cfg.Storage = tt.sc
			sc, enabled, err := mapStorageConfig(cfg)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("err = %v, want %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("err = %v", err)
			}
			if enabled != tt.enabled {
				t.Fatalf("enabled = %v, want %v", enabled, tt.enabled)
			}
			if enabled && (sc.Driver != "sqlite" || sc.BusyTimeout <= 0) {
				t.Fatalf("storage config = %+v", sc)
			}
		})
	}
}

func TestMapNotifierDefaults(t *testing.T) {
	cfg := baseConfig()
	n, err := mapNotifierConfig(cfg)
	if err != nil {
		t.Fatalf("mapNotifierConfig: %v", err)
	}
	if !n.Enabled || n.Workers != 2 || n.QueueSize != 512 || n.RetryMax != 3 {
		t.Fatalf("defaults = %+v", n)
	}

	cfg.Notifier = &config.NotifierConfig{Enabled: false, Workers: 4, SendTimeout: "5s"}
	n, err = mapNotifierConfig(cfg)
	if err != nil {
		t.Fatalf("mapNotifierConfig: %v", err)
	}
	if n.Enabled || n.Workers != 4 || n.SendTimeout != 5*time.Second || n.QueueSize != 512 {
		t.Fatalf("overrides = %+v", n)
	}

	cfg.Notifier = &config.NotifierConfig{Enabled: true, Workers: -1}
	if _, err := mapNotifierConfig(cfg); err == nil {
		t.Fatal("negative workers should be rejected")
	}
}

func TestMapReminderConfig(t *testing.T) {
	cfg := baseConfig()
	cfg.Scheduler.Timezone = "Europe/Berlin"
	cfg.Reminder = config.ReminderConfig{
		PollInterval: "1s",
		SendTimeout:  "60s",
		LeadMinutes:  map[string]int{"buff": 10, "warplan": 0},
		Broadcast:    map[string]int64{"-100123": -100456},
		DefaultLang:  "de",
		ConfirmBuffs: true,
	}
	rc, err := mapReminderConfig(cfg)
	if err != nil {
		t.Fatalf("mapReminderConfig: %v", err)
	}
	if rc.Poller.Interval != reminder.MinInterval {
		t.Fatalf("interval = %s, want clamp to %s", rc.Poller.Interval, reminder.MinInterval)
	}
	if rc.Dispatcher.SendTimeout != reminder.MaxSendTimeout {
		t.Fatalf("send timeout = %s, want clamp to %s", rc.Dispatcher.SendTimeout, reminder.MaxSendTimeout)
	}
	if rc.Poller.Horizon != reminder.DefaultHorizon {
		t.Fatalf("horizon = %s", rc.Poller.Horizon)
	}
	if rc.Poller.Leads[schedule.KindBuff] != 10*time.Minute || rc.Poller.Leads.For(schedule.KindWarplan) != 0 {
		t.Fatalf("leads = %v", rc.Poller.Leads)
	}
	if rc.Poller.Leads[schedule.KindEvent] != 15*time.Minute {
		t.Fatalf("unset kinds should keep defaults: %v", rc.Poller.Leads)
	}
	if !rc.Poller.ConfirmBuffs {
		t.Fatal("confirm_buffs not mapped")
	}
	if rc.Dispatcher.Broadcast[-100123] != -100456 {
		t.Fatalf("broadcast = %v", rc.Dispatcher.Broadcast)
	}
	if rc.Dispatcher.Location.String() != "Europe/Berlin" || rc.Dispatcher.DefaultLang != "de" {
		t.Fatalf("dispatcher = %+v", rc.Dispatcher)
	}

	empty, err := mapReminderConfig(baseConfig())
	if err != nil {
		t.Fatalf("mapReminderConfig(empty): %v", err)
	}
	if empty.Poller.Interval != reminder.DefaultInterval || empty.Dispatcher.SendTimeout != reminder.DefaultSendTimeout {
		t.Fatalf("defaults = %+v", empty)
	}
}

func TestMapReminderConfigRejects(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"unknown kind", func(c *Config) { c.Reminder.LeadMinutes = map[string]int{"raid": 5} }, "reminder.lead_minutes"},
		{"negative lead", func(c *Config) { c.Reminder.LeadMinutes = map[string]int{"buff": -1} }, "must be >= 0"},
		{"bad scope", func(c *Config) { c.Reminder.Broadcast = map[string]int64{"abc": 1} }, "invalid scope id"},
		{"short horizon", func(c *Config) { c.Reminder.Horizon = "10m" }, "must exceed"},
		{"bad interval", func(c *Config) { c.Reminder.PollInterval = "often" }, "reminder.poll_interval"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			cfg := baseConfig()
			tt.mutate(cfg)
			_, err := mapReminderConfig(cfg)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("err = %v, want %q", err, tt.wantErr)
			}
		})
	}
}

func TestMapTranslateConfig(t *testing.T) {
	cfg := baseConfig()
	tc, err := mapTranslateConfig(cfg)
	if err != nil {
		t.Fatalf("mapTranslateConfig: %v", err)
	}
	if tc.Provider != "auto" || tc.Timeout != 10*time.Second {
		t.Fatalf("defaults = %+v", tc)
	}

	cfg.Translate.Provider = "deepl"
	if _, err := mapTranslateConfig(cfg); err == nil {
		t.Fatal("deepl without a key should be rejected")
	}
	cfg.Translate.DeepLKey = " k "
	if tc, err = mapTranslateConfig(cfg); err != nil || tc.DeepLKey != "k" {
		t.Fatalf("tc = %+v, err = %v", tc, err)
	}

	cfg.Translate.Provider = "google"
	if _, err := mapTranslateConfig(cfg); err == nil {
		t.Fatal("unknown provider should be rejected")
	}
}

func TestValidate(t *testing.T) {
	if err := validate(baseConfig()); err != nil {
		t.Fatalf("validate(base) = %v", err)
	}
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"no token", func(c *Config) { c.Telegram.Token = "" }, "telegram.token"},
		{"bad group log", func(c *Config) { c.Telegram.GroupLog = "@logs" }, "telegram.group_log"},
		{"bad tz", func(c *Config) { c.Scheduler.Timezone = "Mars/Olympus" }, "scheduler.timezone"},
		{"bad timeout", func(c *Config) { c.Scheduler.DefaultTimeout = "-1s" }, "scheduler.default_timeout"},
		{"bad notifier", func(c *Config) { c.Notifier = &config.NotifierConfig{RetryMax: -2} }, "notifier.retry_max"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			cfg := baseConfig()
			tt.mutate(cfg)
			err := validate(cfg)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("err = %v, want %q", err, tt.wantErr)
			}
		})
	}
}

func TestLogMapping(t *testing.T) {
	cfg := baseConfig()
	cfg.Telegram.GroupLog = "-100777"
	cfg.Logging = config.LoggingConfig{
		Level:    "debug",
		Telegram: config.LoggingTelegram{Enabled: true, ThreadID: 9, MinLevel: "warn", RatePerSec: 2},
	}
	lc := mapLogConfig(cfg)
	if lc.Level != "debug" || !lc.Chat.Enabled || lc.Chat.ThreadID != 9 || lc.Chat.MinLevel != "warn" {
		t.Fatalf("log config = %+v", lc)
	}
	if logChatID(cfg) != -100777 {
		t.Fatalf("logChatID = %d", logChatID(cfg))
	}
	cfg.Telegram.GroupLog = ""
	if logChatID(cfg) != 0 {
		t.Fatal("empty group_log should clear the target")
	}
}

func TestCoalesceKeepsLatest(t *testing.T) {
	sub := make(chan *Config, 4)
	a, b, c := baseConfig(), baseConfig(), baseConfig()
	sub <- b
	sub <- c
	if got := coalesce(sub, a); got != c {
		t.Fatal("coalesce should return the newest config")
	}
	if len(sub) != 0 {
		t.Fatalf("channel not drained: %d left", len(sub))
	}
}

func TestPollerStale(t *testing.T) {
	now := time.Date(2030, 1, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name    string
		last    time.Time
		started bool
		want    bool
	}{
		{"fresh", now.Add(-40 * time.Second), true, false},
		{"stale", now.Add(-2 * time.Minute), true, true},
		{"never ticked", time.Time{}, true, false},
		{"scheduler stopped", now.Add(-time.Hour), false, false},
	}
	for _, tt := range tests {
		tt := tt
		if got := pollerStale(tt.last, 30*time.Second, tt.started, now); got != tt.want {
			t.Fatalf("%s: pollerStale = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestHealthStatusWithoutStorage(t *testing.T) {
	a := &App{
		started: time.Now().Add(-time.Minute),
		sched:   scheduler.New(scheduler.Config{Enabled: true}, logx.Nop(), nil),
	}
	st := a.healthStatus(context.Background())
	if !st.Healthy() {
		t.Fatalf("failing = %v", st.Failing)
	}
	if st.Checks["storage"] != "disabled" {
		t.Fatalf("storage check = %v", st.Checks["storage"])
	}
	if st.Uptime == "" {
		t.Fatal("uptime missing")
	}
}
