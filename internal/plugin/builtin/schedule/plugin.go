package schedule

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"allybot/internal/i18n"
	core "allybot/internal/plugin"
	pluginkit "allybot/internal/plugin/kit"
	sched "allybot/internal/schedule"
	"allybot/internal/storage"
	logx "allybot/pkg/logx"
	"allybot/pkg/tgui"
)

const (
	defaultPageSize = 8
	maxPageSize     = 30
)

// Config is the "plugins.schedule.config" object.
type Config struct {
	// DefaultCapacity applies to /buff, /event and /warplan without an
	// explicit capacity. 0 is unlimited.
	DefaultCapacity int `json:"default_capacity"`
	// DefaultLang overrides reminder.default_lang for new items.
	DefaultLang string `json:"default_lang,omitempty"`
	PageSize    int    `json:"page_size,omitempty"`
	// BuffGivers may confirm buffs next to owners. Empty means owners only.
	BuffGivers []int64                  `json:"buff_givers,omitempty"`
	Timeouts   pluginkit.TimeoutsConfig `json:"timeouts,omitempty"`
}

type Plugin struct {
	pluginkit.Base

	cat *i18n.Catalog
	now func() time.Time

	mu  sync.RWMutex
	cfg Config
	ui  *pluginkit.ListRouter
}

func New(cat *i18n.Catalog) *Plugin {
	return &Plugin{cat: cat, now: time.Now}
}

func (p *Plugin) Name() string { return "schedule" }

func (p *Plugin) Init(ctx context.Context, deps core.PluginDeps) error {
	p.InitKit(deps, p.Name())
	if p.cat == nil {
		p.cat = i18n.MustNew("")
	}
	p.mu.Lock()
	p.cfg = Config{PageSize: defaultPageSize}
	p.mu.Unlock()

	p.ui = pluginkit.NewListRouter(p.Name(), "page").
		Handle("items", p.viewItems).
		Handle("tasks", p.viewTasks)
	return nil
}

func (p *Plugin) Start(ctx context.Context) error {
	p.StartKit(ctx)
	return nil
}

func (p *Plugin) Stop(ctx context.Context) error { return p.StopKit(ctx) }

func (p *Plugin) ValidateConfig(ctx context.Context, raw json.RawMessage) error {
	c, err := core.DecodePluginConfig[Config](raw)
	if err != nil {
		return err
	}
	return p.validate(c)
}

func (p *Plugin) validate(c Config) error {
	if c.DefaultCapacity < 0 {
		return fmt.Errorf("schedule.default_capacity must be >= 0")
	}
	if c.PageSize < 0 || c.PageSize > maxPageSize {
		return fmt.Errorf("schedule.page_size must be between 0 and %d", maxPageSize)
	}
	for _, id := range c.BuffGivers {
		if id == 0 {
			return fmt.Errorf("schedule.buff_givers: user id must be non-zero")
		}
	}
	if c.DefaultLang != "" && p.cat != nil && !p.cat.Supports(c.DefaultLang) {
		return fmt.Errorf("schedule.default_lang: unsupported language %q", c.DefaultLang)
	}
	return c.Timeouts.Validate("schedule.timeouts")
}

func (p *Plugin) OnConfigChange(ctx context.Context, raw json.RawMessage) error {
	c, err := core.DecodePluginConfig[Config](raw)
	if err != nil {
		return err
	}
	if err := p.validate(c); err != nil {
		return err
	}
	if c.PageSize == 0 {
		c.PageSize = defaultPageSize
	}
	p.mu.Lock()
	p.cfg = c
	p.mu.Unlock()
	return nil
}

func (p *Plugin) cfgSnapshot() Config {
	p.mu.RLock()
	c := p.cfg
	p.mu.RUnlock()
	return c
}

func (p *Plugin) Callbacks() []core.CallbackRoute {
	routes := []core.CallbackRoute{
		{
			Action:      "rsvp",
			Description: "set participant status",
			Access:      core.CallbackAccessEveryone,
			Handle:      p.cbRSVP,
		},
		{
			// Creator or owner; checked in the handler.
			Action:      "close",
			Description: "close an item",
			Access:      core.CallbackAccessEveryone,
			Handle:      p.cbClose,
		},
		{
			// Owners and configured buff givers; checked in the handler.
			Action:      "confirm",
			Description: "confirm a buff",
			Access:      core.CallbackAccessEveryone,
			Handle:      p.cbConfirm,
		},
	}
	if p.ui != nil {
		routes = append(routes, p.ui.Route())
	}
	return routes
}

// lang is the language of command replies in this chat.
func (p *Plugin) lang(req *core.Request) string {
	if l := p.cfgSnapshot().DefaultLang; l != "" {
		return p.cat.Normalize(l)
	}
	if req != nil && req.Config != nil && req.Config.Reminder.DefaultLang != "" {
		return p.cat.Normalize(req.Config.Reminder.DefaultLang)
	}
	return p.cat.Default()
}

// location is the zone used to read and print wall-clock times.
func (p *Plugin) location(req *core.Request) *time.Location {
	if req == nil || req.Config == nil {
		return time.UTC
	}
	tz := strings.TrimSpace(req.Config.Scheduler.Timezone)
	if tz == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return time.UTC
	}
	return loc
}

// fail replies with the localized text of err. Validation errors are the
// caller's fault and are not logged.
func (p *Plugin) fail(ctx context.Context, req *core.Request, err error) error {
	lang := p.lang(req)
	var text string
	switch {
	case errors.Is(err, core.ErrStorageUnavailable):
		text = p.cat.T(lang, "err.store", nil)
	case errors.Is(err, errForbidden):
		text = p.cat.T(lang, "err.forbidden", nil)
	case errors.Is(err, errUsage):
		text = tgui.Esc(err.Error()).String()
	default:
		text = p.cat.ErrorText(lang, err)
		if !sched.IsValidation(err) && !errors.Is(err, sched.ErrNotFound) {
			req.Logger.Warn("schedule command failed", logx.Err(err))
		}
	}
	return req.Reply(ctx, text)
}

var (
	errForbidden = errors.New("forbidden")
	errUsage     = errors.New("usage")
)

func usageErr(usage string) error {
	return fmt.Errorf("%w: %s", errUsage, usage)
}

// canManage is true for the item's creator and for owners.
func canManage(req *core.Request, it sched.Item) bool {
	return req.IsOwner() || it.CreatorID == req.FromID
}

// canConfirm is true for owners and for configured buff givers.
func (p *Plugin) canConfirm(req *core.Request) bool {
	return req.IsOwner() || slices.Contains(p.cfgSnapshot().BuffGivers, req.FromID)
}

// audit records a mutating command. Audit failures never fail the command.
func (p *Plugin) audit(ctx context.Context, req *core.Request, action string, target int64, cmdErr error) {
	e := storage.AuditEntry{
		ActorID:       req.FromID,
		ActorUsername: req.FromUsername,
		ChatID:        req.Chat.ChatID,
		Action:        action,
		Target:        fmt.Sprintf("%d", target),
		OK:            cmdErr == nil,
	}
	if cmdErr != nil {
		e.Error = cmdErr.Error()
	}
	if err := p.AppendAudit(ctx, e); err != nil && !errors.Is(err, core.ErrStorageUnavailable) {
		req.Logger.Debug("audit append failed", logx.String("action", action), logx.Err(err))
	}
}
