// Package bridge mirrors chat messages between chats of different languages.
//
// Chats join a bridge group with /bridge_set <lang>. A message posted in one
// bridged chat is translated into the language of every other chat of the
// group and posted there with the loop tag, so mirrored posts are never
// mirrored again.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"allybot/internal/i18n"
	core "allybot/internal/plugin"
	pluginkit "allybot/internal/plugin/kit"
	"allybot/internal/translate"
)

const (
	DefaultTag   = "[ALLY-BRIDGE]"
	DefaultGroup = "main"
)

// Config is the "plugins.bridge.config" object.
type Config struct {
	// Tag prefixes every mirrored post and marks posts the observer skips.
	Tag          string                   `json:"tag,omitempty"`
	DefaultGroup string                   `json:"default_group,omitempty"`
	Timeouts     pluginkit.TimeoutsConfig `json:"timeouts,omitempty"`
}

type Plugin struct {
	pluginkit.Base

	cat *i18n.Catalog
	tr  *translate.Client

	mu  sync.RWMutex
	cfg Config
}

func New(cat *i18n.Catalog, tr *translate.Client) *Plugin {
	return &Plugin{cat: cat, tr: tr}
}

func (p *Plugin) Name() string { return "bridge" }

func (p *Plugin) Init(ctx context.Context, deps core.PluginDeps) error {
	p.InitKit(deps, p.Name())
	if p.cat == nil {
		p.cat = i18n.MustNew("")
	}
	if p.tr == nil {
		p.tr = translate.New(translate.Config{Provider: "none"}, p.Log)
	}
	p.mu.Lock()
	p.cfg = withDefaults(Config{})
	p.mu.Unlock()
	return nil
}

func (p *Plugin) Start(ctx context.Context) error {
	p.StartKit(ctx)
	return nil
}

func (p *Plugin) Stop(ctx context.Context) error { return p.StopKit(ctx) }

func withDefaults(c Config) Config {
	c.Tag = strings.TrimSpace(c.Tag)
	if c.Tag == "" {
		c.Tag = DefaultTag
	}
	c.DefaultGroup = strings.TrimSpace(c.DefaultGroup)
	if c.DefaultGroup == "" {
		c.DefaultGroup = DefaultGroup
	}
	return c
}

func (p *Plugin) ValidateConfig(ctx context.Context, raw json.RawMessage) error {
	c, err := core.DecodePluginConfig[Config](raw)
	if err != nil {
		return err
	}
	return validate(c)
}

func validate(c Config) error {
	if strings.ContainsAny(c.DefaultGroup, " \t\n") {
		return fmt.Errorf("bridge.default_group must be a single word")
	}
	return c.Timeouts.Validate("bridge.timeouts")
}

func (p *Plugin) OnConfigChange(ctx context.Context, raw json.RawMessage) error {
	c, err := core.DecodePluginConfig[Config](raw)
	if err != nil {
		return err
	}
	if err := validate(c); err != nil {
		return err
	}
	p.mu.Lock()
	p.cfg = withDefaults(c)
	p.mu.Unlock()
	return nil
}

func (p *Plugin) cfgSnapshot() Config {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cfg
}

func (p *Plugin) Commands() []core.Command {
	return []core.Command{
		{
			Route:       "bridge_set",
			Description: "bind this chat to a language",
			Usage:       "/bridge_set <de|en|es|fr> [group]",
			Access:      core.AccessOwnerOnly,
			Handle:      p.cmdSet,
		},
		{
			Route:       "bridge_show",
			Description: "show the bridge of this chat",
			Usage:       "/bridge_show",
			Access:      core.AccessEveryone,
			Handle:      p.cmdShow,
		},
		{
			Route:       "bridge_clear",
			Description: "remove this chat from its bridge",
			Usage:       "/bridge_clear",
			Access:      core.AccessOwnerOnly,
			Handle:      p.cmdClear,
		},
	}
}

func (p *Plugin) Observers() []core.MessageObserver {
	return []core.MessageObserver{{
		Name:    "mirror",
		Timeout: p.cfgSnapshot().Timeouts.OperationOr(45 * time.Second),
		Handle:  p.mirror,
	}}
}
