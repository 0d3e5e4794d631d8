package plugin

import (
	"bytes"
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"time"

	"allybot/internal/eventbus"
	"allybot/internal/runtime/supervisor"
	"allybot/internal/storage"
	logx "allybot/pkg/logx"
)

var (
	ErrSchedulerUnavailable = errors.New("scheduler not available")
	ErrStorageUnavailable   = errors.New("storage not available")
)

// ConfigValidator is called with the candidate blob before a config is
// committed. Nothing is started when it runs.
type ConfigValidator interface {
	ValidateConfig(ctx context.Context, raw json.RawMessage) error
}

// PluginBase is embedded by plugins for logging, the run supervisor and
// access to shared deps. Init calls InitBase, Start calls StartBase and Stop
// returns StopBase.
type PluginBase struct {
	Log    logx.Logger
	Deps   PluginDeps
	Runner *Supervisor

	name string
	ctx  context.Context
}

func (b *PluginBase) InitBase(deps PluginDeps, pluginName string) {
	b.Deps, b.name = deps, pluginName
	b.Log = deps.Logger
	if b.Log.IsZero() {
		b.Log = logx.Nop()
	}
}

func (b *PluginBase) StartBase(ctx context.Context) {
	b.ctx = ctx
	b.Runner = supervisor.New(ctx, supervisor.WithLogger(b.Log), supervisor.WithCancelOnError(false))
}

// StopBase waits for the plugin's goroutines, bounded by ctx.
func (b *PluginBase) StopBase(ctx context.Context) error {
	r := b.Runner
	if r == nil {
		return nil
	}
	b.Runner = nil
	return r.Stop(ctx)
}

func (b *PluginBase) Supervisor() *Supervisor { return b.Runner }

// Context ends when the plugin is stopped or disabled.
func (b *PluginBase) Context() context.Context {
	if b.ctx != nil {
		return b.ctx
	}
	return context.Background()
}

// Health reports the run context state. It never blocks.
func (b *PluginBase) Health(context.Context) (string, error) {
	switch {
	case b.ctx == nil:
		return "not_started", nil
	case b.ctx.Err() != nil:
		return "stopped", b.ctx.Err()
	}
	return "ok", nil
}

func (b *PluginBase) Store() (*storage.Store, error) {
	if st := b.Deps.Store; st != nil {
		return st, nil
	}
	return nil, ErrStorageUnavailable
}

// AppendAudit needs the audit.write capability and a store.
func (b *PluginBase) AppendAudit(ctx context.Context, e storage.AuditEntry) error {
	if !b.Deps.Allows(CapAuditWrite) {
		return ErrCapabilityDenied
	}
	st, err := b.Store()
	if err != nil {
		return err
	}
	e.Plugin = cmp.Or(e.Plugin, b.name)
	if e.At.IsZero() {
		e.At = time.Now()
	}
	return st.AppendAudit(ctx, e)
}

func (b *PluginBase) PublishEvent(typ string, data any) {
	if bus := b.Deps.Bus; bus != nil {
		bus.Publish(eventbus.Event{Type: typ, Time: time.Now(), Data: data})
	}
}

// DecodePluginConfig rejects unknown keys. An empty or null blob gives the
// zero T.
func DecodePluginConfig[T any](raw json.RawMessage) (T, error) {
	var out T
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return out, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	err := dec.Decode(&out)
	return out, err
}
