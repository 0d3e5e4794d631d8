package plugin

import (
	"context"
	"encoding/json"
	"slices"
	"sync"
	"time"

	"allybot/internal/eventbus"
	"allybot/internal/storage"
	kit "allybot/internal/transport"
	logx "allybot/pkg/logx"
)

const (
	callTimeout       = 10 * time.Second
	validateTimeout   = 5 * time.Second
	startCancelGrace  = 2 * time.Second
	slowStopThreshold = 500 * time.Millisecond

	healthInterval   = 30 * time.Second
	healthTimeout    = 3 * time.Second
	healthFailThresh = 3
)

type Plugin interface {
	Name() string
	Init(ctx context.Context, deps PluginDeps) error
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Commands() []Command
}

type ConfigurablePlugin interface {
	OnConfigChange(ctx context.Context, raw json.RawMessage) error
}

type CallbackProvider interface {
	Callbacks() []CallbackRoute
}

// ObserverProvider is implemented by plugins that watch ordinary chat
// traffic (activity counters, the translation bridge).
type ObserverProvider interface {
	Observers() []MessageObserver
}

// HealthChecker is probed on demand by /health.
type HealthChecker interface {
	Health(ctx context.Context) (status string, err error)
}

// HealthLoopOptIn turns on the periodic probe. PluginBase gives every plugin
// a trivial Health, so polling it is opt-in.
type HealthLoopOptIn interface {
	HealthLoopEnabled() bool
}

// SupervisorProvider exposes the plugin's own supervisor; the health loop
// runs on it so StopBase joins it.
type SupervisorProvider interface {
	Supervisor() *Supervisor
}

type PluginDeps struct {
	Logger      logx.Logger
	Adapter     kit.Adapter
	Config      *ConfigManager
	Services    *Services
	Bus         eventbus.Bus
	Store       *storage.Store // nil when storage is disabled
	OwnerUserID []int64

	caps *capRef
}

// Allows reports whether the plugin's allowlist grants cap.
func (d PluginDeps) Allows(cap string) bool { return d.caps.Allows(cap) }

// pluginEvent is the payload of every "plugin.*" bus event.
type pluginEvent struct {
	Plugin string `json:"plugin"`
	Stage  string `json:"stage,omitempty"`
	Reason string `json:"reason,omitempty"`
	Err    string `json:"err,omitempty"`
	TookMS int64  `json:"took_ms,omitempty"`
	Count  int    `json:"count,omitempty"`
}

// slot is everything the manager tracks for one registered plugin.
type slot struct {
	p Plugin

	inited  bool
	running bool
	ctx     context.Context
	cancel  context.CancelFunc
	applied uint64 // fingerprint of the config the running plugin accepted
	caps    *capRef

	parked *quarantineState

	healthLoop bool
	health     PluginHealthResult
}

// PluginManager reconciles registered plugins against the plugins section
// of the config: it starts, reconfigures, quarantines and stops them, and
// hands their commands, callbacks and observers to the router.
type PluginManager struct {
	log  logx.Logger
	cfgm *ConfigManager
	cmdm *CommandManager

	mu     sync.Mutex
	deps   PluginDeps
	slots  map[string]*slot
	owners uint64

	// root outlives the call-scoped contexts of StartAll and OnConfigUpdate;
	// it ends with the first app context bound to it.
	root       context.Context
	rootCancel context.CancelFunc
	bindOnce   sync.Once
}

func NewPluginManager(log logx.Logger, cfgm *ConfigManager, deps PluginDeps, cmdm *CommandManager) *PluginManager {
	if log.IsZero() {
		log = logx.Nop()
	}
	root, cancel := context.WithCancel(context.Background())
	return &PluginManager{
		log:        log.With(logx.String("comp", "plugins")),
		cfgm:       cfgm,
		cmdm:       cmdm,
		deps:       deps,
		slots:      make(map[string]*slot),
		root:       root,
		rootCancel: cancel,
	}
}

// BindContext ends the manager's root context together with appCtx. Only the
// first call has an effect.
func (pm *PluginManager) BindContext(appCtx context.Context) {
	if appCtx == nil {
		return
	}
	pm.bindOnce.Do(func() { context.AfterFunc(appCtx, pm.rootCancel) })
}

// Register adds plugins by name, replacing any earlier one of the same name.
func (pm *PluginManager) Register(plugins ...Plugin) {
	pm.mu.Lock()
	for _, p := range plugins {
		s := pm.slots[p.Name()]
		switch {
		case s == nil:
			pm.slots[p.Name()] = &slot{p: p}
		case s.running:
			pm.log.Warn("plugin already running; registration ignored", logx.String("plugin", p.Name()))
		default:
			s.p, s.inited = p, false
		}
	}
	pm.mu.Unlock()
	pm.publishRoutes(pm.cfgm.Get())
}

func (pm *PluginManager) StartAll(ctx context.Context) error {
	pm.BindContext(ctx)
	return pm.reconcile(pm.cfgm.Get())
}

func (pm *PluginManager) OnConfigUpdate(ctx context.Context, cfg *Config) {
	pm.BindContext(ctx)
	if err := pm.reconcile(cfg); err != nil {
		pm.log.Warn("plugin reconcile failed", logx.Err(err))
	}
}

// StopAll stops every running plugin in name order. ctx bounds each Stop.
func (pm *PluginManager) StopAll(ctx context.Context, reason StopReason) {
	for _, name := range pm.names() {
		pm.stop(ctx, name, reason)
	}
	pm.publishRoutes(pm.cfgm.Get())
}

// SetOwnerUserIDs updates the owners handed to plugins on their next
// Init or config change.
func (pm *PluginManager) SetOwnerUserIDs(ids []int64) {
	pm.mu.Lock()
	pm.deps.OwnerUserID = slices.Clone(ids)
	pm.mu.Unlock()
}

func (pm *PluginManager) names() []string {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	out := make([]string, 0, len(pm.slots))
	for name := range pm.slots {
		out = append(out, name)
	}
	slices.Sort(out)
	return out
}

func (pm *PluginManager) lookup(name string) *slot {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	return pm.slots[name]
}

func (pm *PluginManager) emit(typ string, data pluginEvent) {
	if pm.deps.Bus != nil {
		pm.deps.Bus.Publish(eventbus.Event{Type: typ, Data: data})
	}
}

// depsFor builds the deps handed to Init. The capability set is kept per
// plugin and updated in place, so a running plugin sees allowlist changes.
func (pm *PluginManager) depsFor(name string, allow []string) PluginDeps {
	pm.mu.Lock()
	s := pm.slots[name]
	if s.caps == nil {
		s.caps = newCapRef(allow)
	} else {
		s.caps.Update(allow)
	}
	d := pm.deps
	d.caps = s.caps
	pm.mu.Unlock()

	d.Services = wrapServicesForPlugin(d.Services, d.caps)
	d.Logger = d.Logger.With(logx.String("plugin", name))
	return d
}
