package router

import (
	"context"
	"slices"
	"sync/atomic"
	"time"

	kit "allybot/internal/transport"
	logx "allybot/pkg/logx"
)

const (
	compName        = "telegram.router"
	jobQueueSize    = 256
	observerTimeout = 10 * time.Second
	menuTimeout     = 5 * time.Second
)

// CommandManager routes chat commands, button presses and observed
// messages to plugin handlers on a bounded worker pool.
type CommandManager struct {
	log     logx.Logger
	adapter kit.Adapter
	cfgm    *ConfigManager
	serv    *Services

	routes atomic.Pointer[routes]
	owners atomic.Pointer[[]int64]

	pool *workPool
}

func NewCommandManager(log logx.Logger, adapter kit.Adapter, cfgm *ConfigManager, serv *Services, owners []int64) *CommandManager {
	if log.IsZero() {
		log = logx.Nop()
	}
	m := &CommandManager{
		log:     log.With(logx.String("comp", compName)),
		adapter: adapter,
		cfgm:    cfgm,
		serv:    serv,
		pool:    newWorkPool(jobQueueSize),
	}
	m.routes.Store(emptyRoutes())
	m.SetOwners(owners)
	return m
}

// Supervisor is the dispatcher's supervisor while DispatchLoop runs.
func (m *CommandManager) Supervisor() *Supervisor { return m.pool.supervisor() }

func (m *CommandManager) SetOwners(owners []int64) {
	cp := slices.Clone(owners)
	m.owners.Store(&cp)
}

func (m *CommandManager) ownerList() []int64 {
	if p := m.owners.Load(); p != nil {
		return *p
	}
	return nil
}

// SetRegistry replaces every command, callback route and observer at once.
// The plugin manager calls it after each reconcile.
func (m *CommandManager) SetRegistry(cmds []Command, cbs []CallbackRoute, obs []MessageObserver) {
	r := buildRoutes(append(slices.Clip(cmds), helpCommand(m)), cbs, obs)
	m.routes.Store(r)
	m.pushMenu(r.menu)
}

func (m *CommandManager) pushMenu(menu []kit.BotCommand) {
	up, ok := m.adapter.(kit.CommandMenuUpdater)
	if !ok {
		return
	}
	run := func(parent context.Context) {
		ctx, cancel := context.WithTimeout(parent, menuTimeout)
		defer cancel()
		if err := up.UpdateMenuCommands(ctx, menu); err != nil {
			m.log.Debug("menu update failed", logx.Err(err))
		}
	}
	if m.serv != nil && m.serv.AppSupervisor != nil {
		m.serv.AppSupervisor.Go0("telegram.menu.update", run)
		return
	}
	go run(context.Background())
}

func (m *CommandManager) config() *Config {
	if m.cfgm == nil {
		return nil
	}
	return m.cfgm.Get()
}

func isOwner(id int64, owners []int64) bool { return slices.Contains(owners, id) }
