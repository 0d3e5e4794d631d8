package config

import (
	"bytes"
	"encoding/json"
)

type Config struct {
	Telegram  TelegramConfig             `json:"telegram"`
	Logging   LoggingConfig              `json:"logging"`
	Storage   *StorageConfig             `json:"storage,omitempty"`
	Scheduler SchedulerConfig            `json:"scheduler"`
	Notifier  *NotifierConfig            `json:"notifier,omitempty"`
	Reminder  ReminderConfig             `json:"reminder"`
	Translate TranslateConfig            `json:"translate"`
	HTTP      HTTPConfig                 `json:"http"`
	Telemetry TelemetryConfig            `json:"telemetry"`
	Plugins   map[string]PluginConfigRaw `json:"plugins"`
}

type TelegramConfig struct {
	// Token may be left empty in the file and supplied via ALLYBOT_TOKEN.
	Token        string  `json:"token"`
	OwnerUserIDs []int64 `json:"owner_user_ids"`
	GroupLog     string  `json:"group_log"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ThreadID   int    `json:"thread_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// StorageConfig controls the persistence layer.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/allybot.db", "busy_timeout": "5s" }
//
// driver "none" (or an omitted section) runs without persistence; every
// schedule command then answers with a storage error.
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string
}

// SchedulerConfig controls the cron scheduler that ticks the reminder poller
// and the activity jobs.
type SchedulerConfig struct {
	Enabled bool `json:"enabled"`
	// DefaultTimeout is a Go duration string. "0s" disables the per-run timeout.
	DefaultTimeout string `json:"default_timeout"`
	HistorySize    int    `json:"history_size"`
	RetryMax       int    `json:"retry_max,omitempty"`
	Timezone       string `json:"timezone,omitempty"`
}

// NotifierConfig controls the outbound messaging gateway.
//
// If the whole section is omitted, the notifier defaults to enabled=true.
type NotifierConfig struct {
	Enabled     bool   `json:"enabled"`
	Workers     int    `json:"workers"`
	QueueSize   int    `json:"queue_size"`
	RatePerSec  int    `json:"rate_per_sec"`
	Burst       int    `json:"burst,omitempty"`
	SendTimeout string `json:"send_timeout,omitempty"`
	RetryMax    int    `json:"retry_max"`
	HistorySize int    `json:"history_size,omitempty"`
}

// ReminderConfig drives the time-window poller.
type ReminderConfig struct {
	PollInterval string `json:"poll_interval"`
	SendTimeout  string `json:"send_timeout"`
	Horizon      string `json:"horizon"`
	// LeadMinutes overrides the per-kind lead time; missing kinds keep
	// their defaults and 0 disables the lead notification.
	LeadMinutes map[string]int `json:"lead_minutes,omitempty"`
	// Broadcast maps a scope id to the chat that receives the scope's
	// channel announcement. Keys are decimal chat ids.
	Broadcast   map[string]int64 `json:"broadcast,omitempty"`
	DefaultLang string           `json:"default_lang,omitempty"`
	// ConfirmBuffs delays buff reminders until a buff giver confirmed the request.
	ConfirmBuffs bool `json:"confirm_buffs,omitempty"`
}

type TranslateConfig struct {
	// Provider is one of auto, deepl, libre, none.
	Provider   string `json:"provider"`
	DeepLKey   string `json:"deepl_key,omitempty"`
	DeepLURL   string `json:"deepl_url,omitempty"`
	LibreURL   string `json:"libre_url,omitempty"`
	Timeout    string `json:"timeout,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}

type HTTPConfig struct {
	// Addr empty disables the health server.
	Addr string `json:"addr"`
	// Pprof mounts net/http/pprof under /debug/pprof/. Loopback addrs only.
	Pprof bool `json:"pprof,omitempty"`
}

type TelemetryConfig struct {
	Metrics     bool   `json:"metrics"`
	ServiceName string `json:"service_name,omitempty"`
}

type PluginConfigRaw struct {
	Enabled bool `json:"enabled"`
	// Allow is an optional capability allowlist for this plugin.
	//
	// This is an operational guardrail, not a security boundary: the plugin
	// manager wraps the scheduler and notifier ports and denies calls that
	// don't match. Empty means everything is allowed.
	Allow  []string        `json:"allow,omitempty"`
	Config json.RawMessage `json:"config,omitempty"`
}

// UnmarshalJSON disallows unknown fields so typos surface on reload.
func (p *PluginConfigRaw) UnmarshalJSON(b []byte) error {
	type tmp struct {
		Enabled bool            `json:"enabled"`
		Allow   []string        `json:"allow,omitempty"`
		Config  json.RawMessage `json:"config,omitempty"`
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	var t tmp
	if err := dec.Decode(&t); err != nil {
		return err
	}
	*p = PluginConfigRaw{Enabled: t.Enabled, Allow: t.Allow, Config: t.Config}
	return nil
}
