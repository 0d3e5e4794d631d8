package activity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"allybot/internal/i18n"
	core "allybot/internal/plugin"
	pluginkit "allybot/internal/plugin/kit"
	logx "allybot/pkg/logx"
)

const (
	defaultReportSchedule = "@weekly"
	defaultPruneSchedule  = "@daily"
	defaultRetentionDays  = 90
	defaultReportDays     = 7
	defaultTopN           = 5

	reportTask = "weekly_report"
	pruneTask  = "prune"
)

// Config is the "plugins.activity.config" object:
//
//	"activity": {
//	  "report": { "enabled": true, "schedule": "0 18 * * 0" },
//	  "prune":  { "enabled": true, "schedule": "03:30" },
//	  "retention_days": 90
//	}
//
// Omitted report/prune sections default to enabled with @weekly / @daily.
type Config struct {
	Report        pluginkit.SchedulerTaskConfig `json:"report"`
	Prune         pluginkit.SchedulerTaskConfig `json:"prune"`
	RetentionDays int                           `json:"retention_days,omitempty"`
	ReportDays    int                           `json:"report_days,omitempty"`
	TopN          int                           `json:"top_n,omitempty"`
	DefaultLang   string                        `json:"default_lang,omitempty"`
	Timeouts      pluginkit.TimeoutsConfig      `json:"timeouts,omitempty"`
}

type Plugin struct {
	pluginkit.Base

	cat *i18n.Catalog
	now func() time.Time

	mu    sync.RWMutex
	cfg   Config
	tasks map[string]string // config key -> registered short name
}

func New(cat *i18n.Catalog) *Plugin {
	return &Plugin{cat: cat, now: time.Now, tasks: map[string]string{}}
}

func (p *Plugin) Name() string { return "activity" }

func (p *Plugin) Init(ctx context.Context, deps core.PluginDeps) error {
	p.InitKit(deps, p.Name())
	if p.cat == nil {
		p.cat = i18n.MustNew("")
	}
	c, _ := decode(nil)
	p.mu.Lock()
	p.cfg = c
	p.mu.Unlock()
	return nil
}

func (p *Plugin) Start(ctx context.Context) error {
	p.StartKit(ctx)
	return nil
}

func (p *Plugin) Stop(ctx context.Context) error {
	p.mu.Lock()
	p.tasks = map[string]string{}
	p.mu.Unlock()
	return p.StopKit(ctx)
}

// decode applies defaults. A missing report or prune object means enabled.
func decode(raw json.RawMessage) (Config, error) {
	c, err := core.DecodePluginConfig[Config](raw)
	if err != nil {
		return c, err
	}
	var probe map[string]json.RawMessage
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &probe)
	}
	if _, ok := probe["report"]; !ok {
		c.Report.Enabled = true
	}
	if _, ok := probe["prune"]; !ok {
		c.Prune.Enabled = true
	}
	if c.Report.Schedule == "" {
		c.Report.Schedule = defaultReportSchedule
	}
	if c.Prune.Schedule == "" {
		c.Prune.Schedule = defaultPruneSchedule
	}
	if c.RetentionDays == 0 {
		c.RetentionDays = defaultRetentionDays
	}
	if c.ReportDays == 0 {
		c.ReportDays = defaultReportDays
	}
	if c.TopN == 0 {
		c.TopN = defaultTopN
	}
	return c, nil
}

func (p *Plugin) ValidateConfig(ctx context.Context, raw json.RawMessage) error {
	c, err := decode(raw)
	if err != nil {
		return err
	}
	return p.validate(c)
}

func (p *Plugin) validate(c Config) error {
	if c.RetentionDays < 1 {
		return fmt.Errorf("activity.retention_days must be >= 1")
	}
	if c.ReportDays < 1 || c.ReportDays > c.RetentionDays {
		return fmt.Errorf("activity.report_days must be between 1 and retention_days (%d)", c.RetentionDays)
	}
	if c.TopN < 1 || c.TopN > 25 {
		return fmt.Errorf("activity.top_n must be between 1 and 25")
	}
	if c.DefaultLang != "" && !p.cat.Supports(c.DefaultLang) {
		return fmt.Errorf("activity.default_lang: unsupported language %q", c.DefaultLang)
	}
	if err := c.Report.Validate("activity.report"); err != nil {
		return err
	}
	if err := c.Prune.Validate("activity.prune"); err != nil {
		return err
	}
	return c.Timeouts.Validate("activity.timeouts")
}

// OnConfigChange stores the config and reconciles both jobs.
func (p *Plugin) OnConfigChange(ctx context.Context, raw json.RawMessage) error {
	c, err := decode(raw)
	if err != nil {
		return err
	}
	if err := p.validate(c); err != nil {
		return err
	}
	p.mu.Lock()
	p.cfg = c
	p.mu.Unlock()

	timeout := c.Timeouts.TaskOr(2 * time.Minute)
	if err := p.reconcile("report", c.Report, reportTask, timeout, p.runReport); err != nil {
		return err
	}
	return p.reconcile("prune", c.Prune, pruneTask, timeout, p.runPrune)
}

func (p *Plugin) reconcile(key string, tc pluginkit.SchedulerTaskConfig, def string, timeout time.Duration, job func(ctx context.Context) error) error {
	sh := p.Jobs()
	p.mu.RLock()
	old := p.tasks[key]
	p.mu.RUnlock()

	name := tc.NameOr(def)
	if old != "" && (old != name || !tc.Active()) {
		sh.Remove(old)
		p.mu.Lock()
		delete(p.tasks, key)
		p.mu.Unlock()
	}
	if !tc.Active() {
		return nil
	}
	err := sh.Spec(name, tc.Schedule).Timeout(timeout).Do(job)
	if errors.Is(err, core.ErrSchedulerUnavailable) {
		p.Log.Warn("scheduler not available; activity job not scheduled", logx.String("task", name))
		return nil
	}
	if err != nil {
		return fmt.Errorf("activity.%s: %w", key, err)
	}
	p.mu.Lock()
	p.tasks[key] = name
	p.mu.Unlock()
	return nil
}

func (p *Plugin) cfgSnapshot() Config {
	p.mu.RLock()
	c := p.cfg
	p.mu.RUnlock()
	return c
}

// lang picks the report language: plugin default, then reminder.default_lang.
func (p *Plugin) lang() string {
	if l := p.cfgSnapshot().DefaultLang; l != "" {
		return p.cat.Normalize(l)
	}
	if p.Deps.Config != nil {
		if cfg := p.Deps.Config.Get(); cfg != nil && cfg.Reminder.DefaultLang != "" {
			return p.cat.Normalize(cfg.Reminder.DefaultLang)
		}
	}
	return p.cat.Default()
}

func (p *Plugin) Commands() []core.Command {
	return []core.Command{
		{
			Route:       "stats",
			Description: "activity ranking of this chat",
			Usage:       "/stats [days]",
			Access:      core.AccessEveryone,
			Handle:      p.cmdStats,
		},
		{
			Route:       "activity prune",
			Description: "delete counters past retention now",
			Usage:       "/activity prune",
			Access:      core.AccessOwnerOnly,
			Handle:      p.cmdPrune,
		},
		{
			Route:       "event_meta",
			Description: "set an event's category and duration",
			Usage:       "/event_meta <id> <kvk|mge|other> [minutes]",
			Access:      core.AccessOwnerOnly,
			Handle:      p.cmdEventMeta,
		},
		{
			Route:       "report_buffs",
			Description: "buffs used inside and outside events",
			Usage:       "/report_buffs [days]",
			Access:      core.AccessEveryone,
			Handle:      p.cmdReportBuffs,
		},
		{
			Route:       "report_user_buffs",
			Description: "buff usage of one member",
			Usage:       "/report_user_buffs [user_id] [days]",
			Access:      core.AccessEveryone,
			Handle:      p.cmdReportUserBuffs,
		},
	}
}

func (p *Plugin) Observers() []core.MessageObserver {
	return []core.MessageObserver{{
		Name:    "counters",
		Timeout: 5 * time.Second,
		Handle:  p.observe,
	}}
}
