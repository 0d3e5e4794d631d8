package config

import (
	"context"
	"os"
	"sync"

	logx "allybot/pkg/logx"
)

// ReloadResult is the outcome of one hot reload attempt.
type ReloadResult string

const (
	ReloadOK         ReloadResult = "ok"
	ReloadParseError ReloadResult = "parse_error"
	ReloadRejected   ReloadResult = "rejected"
	ReloadUnchanged  ReloadResult = "unchanged"
)

// Validator vets a candidate config before it is committed.
type Validator func(ctx context.Context, cfg *Config) error

// ConfigManager owns the live config of one file. Subscribers receive every
// committed config that differs from the previous one.
type ConfigManager struct {
	path string
	log  logx.Logger

	mu   sync.RWMutex
	cfg  *Config
	hash uint64

	// held while sending so Unsubscribe can't close a channel mid-send
	subsMu sync.Mutex
	subs   []chan *Config

	validate Validator
	onReload func(ReloadResult)
}

func NewConfigManager(path string) *ConfigManager {
	return &ConfigManager{path: path, log: logx.Nop()}
}

func (m *ConfigManager) Path() string { return m.path }

func (m *ConfigManager) SetLogger(log logx.Logger) {
	if log.IsZero() {
		log = logx.Nop()
	}
	m.log = log
}

// SetValidator installs the check Watch runs before committing a reload.
func (m *ConfigManager) SetValidator(fn Validator) { m.validate = fn }

// SetReloadHook installs fn, called once per hot reload attempt.
func (m *ConfigManager) SetReloadHook(fn func(ReloadResult)) { m.onReload = fn }

// Parse reads and decodes the file without committing it. Secrets from the
// environment override the file.
func (m *ConfigManager) Parse() (*Config, error) {
	b, err := os.ReadFile(m.path)
	if err != nil {
		return nil, err
	}
	return decode(m.path, b)
}

func (m *ConfigManager) Load() (*Config, error) {
	cfg, err := m.Parse()
	if err != nil {
		return nil, err
	}
	m.Commit(cfg)
	return cfg, nil
}

func (m *ConfigManager) Commit(cfg *Config) {
	h := fingerprint(cfg)
	m.mu.Lock()
	m.cfg, m.hash = cfg, h
	m.mu.Unlock()
}

func (m *ConfigManager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

// same reports whether cfg encodes identically to the committed config.
func (m *ConfigManager) same(cfg *Config) bool {
	h := fingerprint(cfg)
	m.mu.RLock()
	defer m.mu.RUnlock()
	return h != 0 && h == m.hash
}

func (m *ConfigManager) Subscribe(buffer int) chan *Config {
	ch := make(chan *Config, buffer)
	m.subsMu.Lock()
	m.subs = append(m.subs, ch)
	m.subsMu.Unlock()
	return ch
}

// Unsubscribe removes and closes ch. Unknown channels are ignored.
func (m *ConfigManager) Unsubscribe(ch chan *Config) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	for i, s := range m.subs {
		if s != ch {
			continue
		}
		m.subs = append(m.subs[:i], m.subs[i+1:]...)
		close(ch)
		return
	}
}

// publish never blocks. A full subscriber loses its oldest pending config.
func (m *ConfigManager) publish(cfg *Config) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	for _, ch := range m.subs {
		if offer(ch, cfg) {
			continue
		}
		select {
		case <-ch:
		default:
		}
		if !offer(ch, cfg) {
			m.log.Debug("config update dropped", logx.Int("queue_cap", cap(ch)))
		}
	}
}

func offer(ch chan *Config, cfg *Config) bool {
	select {
	case ch <- cfg:
		return true
	default:
		return false
	}
}

// reload runs one parse, validate, commit, publish round.
func (m *ConfigManager) reload(ctx context.Context) ReloadResult {
	res := m.tryReload(ctx)
	if m.onReload != nil && res != ReloadUnchanged {
		m.onReload(res)
	}
	return res
}

func (m *ConfigManager) tryReload(ctx context.Context) ReloadResult {
	cfg, err := m.Parse()
	if err != nil {
		m.log.Warn("config parse failed", logx.String("path", m.path), logx.Err(err))
		return ReloadParseError
	}
	if m.same(cfg) {
		m.log.Debug("config unchanged", logx.String("path", m.path))
		return ReloadUnchanged
	}
	if m.validate != nil {
		vctx, cancel := context.WithTimeout(ctx, validateTimeout)
		err := m.validate(vctx, cfg)
		cancel()
		if err != nil {
			m.log.Warn("config rejected", logx.String("path", m.path), logx.Err(err))
			return ReloadRejected
		}
	}
	m.Commit(cfg)
	m.publish(cfg)
	m.log.Info("config reloaded", logx.String("path", m.path))
	return ReloadOK
}
