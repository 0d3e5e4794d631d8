package pluginkit

import (
	"context"
	"errors"
	"strconv"
	"strings"

	core "allybot/internal/plugin"
	kit "allybot/internal/transport"
)

var (
	ErrNoTarget            = errors.New("no notification target configured")
	errNotifierUnavailable = errors.New("notifier not available")
)

// Notifier priorities; the gateway prefixes warnings and errors with an icon.
const (
	prioInfo  = 5
	prioWarn  = 7
	prioError = 9
)

// NotifyHelper sends through the notifier gateway. Without an explicit
// target it uses the telegram.group_log chat, then the first owner.
type NotifyHelper struct {
	plugin string
	deps   core.PluginDeps
	ctx    context.Context
}

func NewNotifyHelper(plugin string, deps core.PluginDeps) *NotifyHelper {
	return &NotifyHelper{plugin: plugin, deps: deps, ctx: context.Background()}
}

func (h *NotifyHelper) bindContext(ctx context.Context) { h.ctx = ctx }

func (h *NotifyHelper) Info(text string) error  { return h.To(h.fallback()).Info(text) }
func (h *NotifyHelper) Warn(text string) error  { return h.To(h.fallback()).Warn(text) }
func (h *NotifyHelper) Error(text string) error { return h.To(h.fallback()).Error(text) }

func (h *NotifyHelper) To(target kit.ChatTarget) *NotifyBuilder {
	return &NotifyBuilder{h: h, to: target}
}

// Channel posts synchronously to a broadcast channel.
func (h *NotifyHelper) Channel(ctx context.Context, chatID int64, text string) error {
	n, err := h.gateway()
	if err != nil {
		return err
	}
	return n.SendToChannel(ctx, chatID, text)
}

func (h *NotifyHelper) gateway() (core.NotifierPort, error) {
	if h == nil || h.deps.Services == nil || h.deps.Services.Notifier == nil {
		return nil, errNotifierUnavailable
	}
	return h.deps.Services.Notifier, nil
}

func (h *NotifyHelper) fallback() kit.ChatTarget {
	if h.deps.Config != nil {
		if cfg := h.deps.Config.Get(); cfg != nil {
			id, err := strconv.ParseInt(strings.TrimSpace(cfg.Telegram.GroupLog), 10, 64)
			if err == nil && id != 0 {
				return kit.ChatTarget{ChatID: id, ThreadID: cfg.Logging.Telegram.ThreadID}
			}
		}
	}
	if owners := h.deps.OwnerUserID; len(owners) > 0 {
		return kit.ChatTarget{ChatID: owners[0]}
	}
	return kit.ChatTarget{}
}

// NotifyBuilder queues messages for one chat.
type NotifyBuilder struct {
	h  *NotifyHelper
	to kit.ChatTarget
}

func (b *NotifyBuilder) Info(text string) error  { return b.queue(prioInfo, text) }
func (b *NotifyBuilder) Warn(text string) error  { return b.queue(prioWarn, text) }
func (b *NotifyBuilder) Error(text string) error { return b.queue(prioError, text) }

func (b *NotifyBuilder) queue(priority int, text string) error {
	if b.to.ChatID == 0 {
		return ErrNoTarget
	}
	n, err := b.h.gateway()
	if err != nil {
		return err
	}
	return n.Notify(b.h.ctx, kit.Notification{
		Channel:  "telegram",
		Priority: priority,
		Target:   b.to,
		Text:     text,
		Options:  &kit.SendOptions{ParseMode: "HTML", DisablePreview: true},
	})
}
