package reminder

import (
	"context"
	"errors"
	"fmt"
	"html"
	"math"
	"strings"
	"sync"
	"time"

	"allybot/internal/i18n"
	"allybot/internal/schedule"
	"allybot/internal/telemetry"
	logx "allybot/pkg/logx"

	"go.opentelemetry.io/otel/attribute"
)

const (
	DefaultSendTimeout = 15 * time.Second
	MinSendTimeout     = 10 * time.Second
	MaxSendTimeout     = 20 * time.Second
)

// Gateway delivers rendered text. Implemented by notifier.Service.
type Gateway interface {
	SendDirect(ctx context.Context, userID int64, text string) error
	SendToChannel(ctx context.Context, chatID int64, text string) error
}

// Participants looks up an item's participants grouped by status.
type Participants interface {
	GroupByStatus(ctx context.Context, itemID int64) (schedule.Grouped, error)
}

type DispatcherConfig struct {
	SendTimeout time.Duration
	// Broadcast maps a scope id to the chat that gets the scope announcement.
	Broadcast   map[int64]int64
	DefaultLang string
	Location    *time.Location
}

// Report summarizes one Dispatch. Delivery failures are counted, never returned.
type Report struct {
	ItemID        int64
	Trigger       schedule.Trigger
	Recipients    int
	DirectOK      int
	DirectFailed  int
	ChannelOK     int
	ChannelFailed int
	// ChannelSkipped is set when the channel is a chat already reached directly.
	ChannelSkipped bool
	LookupErr      error
}

// Delivered reports whether at least one sink accepted the message.
func (r Report) Delivered() bool { return r.DirectOK+r.ChannelOK > 0 }

type Dispatcher struct {
	mu  sync.Mutex
	cfg DispatcherConfig

	parts Participants
	gw    Gateway
	cat   *i18n.Catalog
	log   logx.Logger
}

func NewDispatcher(cfg DispatcherConfig, parts Participants, gw Gateway, cat *i18n.Catalog, log logx.Logger) *Dispatcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	d := &Dispatcher{parts: parts, gw: gw, cat: cat, log: log}
	d.Apply(cfg)
	return d
}

// ClampSendTimeout maps 0 to the default and bounds v to [10s, 20s].
func ClampSendTimeout(v time.Duration) time.Duration {
	switch {
	case v <= 0:
		return DefaultSendTimeout
	case v < MinSendTimeout:
		return MinSendTimeout
	case v > MaxSendTimeout:
		return MaxSendTimeout
	}
	return v
}

func (d *Dispatcher) Apply(cfg DispatcherConfig) {
	cfg.SendTimeout = ClampSendTimeout(cfg.SendTimeout)
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.DefaultLang == "" && d.cat != nil {
		cfg.DefaultLang = d.cat.Default()
	}
	d.mu.Lock()
	d.cfg = cfg
	d.mu.Unlock()
}

func (d *Dispatcher) config() DispatcherConfig {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cfg
}

// Dispatch notifies everyone holding the kind's notify status directly,
// then posts once to the scope's channel. Every send has its own timeout.
// now is the tick time the item was matched at.
//
// Recipients are looked up before anything is sent. A store outage is
// returned without any delivery so the caller can retry the transition;
// delivery failures are only counted.
func (d *Dispatcher) Dispatch(ctx context.Context, it schedule.Item, trig schedule.Trigger, now time.Time) (Report, error) {
	ctx, span := telemetry.StartSpan(ctx, "reminder.dispatch",
		attribute.Int64("item", it.ID), attribute.String("kind", string(it.Kind)), attribute.String("trigger", string(trig)))
	cfg := d.config()
	rep := Report{ItemID: it.ID, Trigger: trig}
	log := d.log.With(logx.Item(it.ID, string(it.Kind)), logx.String("trigger", string(trig)))

	recipients, names, err := d.recipients(ctx, it)
	if errors.Is(err, schedule.ErrStoreUnavailable) {
		rep.LookupErr = err
		telemetry.EndSpan(span, err)
		return rep, fmt.Errorf("participants of item %d: %w", it.ID, err)
	}
	if err != nil {
		rep.LookupErr = err
		log.Warn("participant lookup failed; channel only", logx.Err(err))
	}
	rep.Recipients = len(recipients)

	lang := cfg.DefaultLang
	if it.Lang != "" && d.cat != nil {
		lang = d.cat.Normalize(it.Lang)
	}
	text := d.render(cfg, lang, it, trig, now)

	reached := make(map[int64]bool, len(recipients))
	for _, uid := range recipients {
		err := d.send(ctx, cfg.SendTimeout, func(c context.Context) error { return d.gw.SendDirect(c, uid, text) })
		if err != nil {
			rep.DirectFailed++
			log.Warn("direct notification failed", logx.Int64("user_id", uid), logx.Err(err))
			continue
		}
		rep.DirectOK++
		reached[uid] = true
	}

	// A private chat id equals the user id, so a reminder set in a DM
	// would otherwise arrive twice in the same chat.
	chatID, ok := d.channelFor(cfg, it)
	if ok && reached[chatID] {
		rep.ChannelSkipped = true
		ok = false
	}
	if ok {
		body := text
		if len(names) > 0 {
			body += "\n" + d.t(lang, "reminder.participants", i18n.Data{"Names": strings.Join(names, ", ")})
		}
		if err := d.send(ctx, cfg.SendTimeout, func(c context.Context) error { return d.gw.SendToChannel(c, chatID, body) }); err != nil {
			rep.ChannelFailed++
			log.Warn("channel notification failed", logx.Int64("chat_id", chatID), logx.Err(err))
		} else {
			rep.ChannelOK++
		}
	}

	log.Debug("dispatched",
		logx.Int("recipients", rep.Recipients),
		logx.Int("direct_ok", rep.DirectOK), logx.Int("direct_failed", rep.DirectFailed),
		logx.Int("channel_ok", rep.ChannelOK), logx.Int("channel_failed", rep.ChannelFailed))

	var spanErr error
	if !rep.Delivered() && rep.DirectFailed+rep.ChannelFailed > 0 {
		spanErr = schedule.ErrDeliveryFailure
	}
	telemetry.EndSpan(span, spanErr)
	return rep, nil
}

// send bounds one sink call and ensures failures carry ErrDeliveryFailure.
func (d *Dispatcher) send(ctx context.Context, timeout time.Duration, fn func(context.Context) error) error {
	c, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	err := fn(c)
	if err != nil && !errors.Is(err, schedule.ErrDeliveryFailure) {
		err = fmt.Errorf("%w: %v", schedule.ErrDeliveryFailure, err)
	}
	return err
}

// recipients returns the user ids to notify directly and the display names
// for the channel post.
func (d *Dispatcher) recipients(ctx context.Context, it schedule.Item) ([]int64, []string, error) {
	if it.Kind == schedule.KindReminder {
		if it.CreatorID == 0 {
			return nil, nil, nil
		}
		return []int64{it.CreatorID}, []string{mention(schedule.Participant{UserID: it.CreatorID})}, nil
	}
	if d.parts == nil {
		return nil, nil, nil
	}
	g, err := d.parts.GroupByStatus(ctx, it.ID)
	if err != nil {
		return nil, nil, err
	}
	group := g[schedule.NotifyStatus(it.Kind)]
	ids := make([]int64, 0, len(group))
	names := make([]string, 0, len(group))
	for _, p := range group {
		ids = append(ids, p.UserID)
		names = append(names, mention(p))
	}
	return ids, names, nil
}

// channelFor returns the chat that gets the scope announcement. Personal
// reminders go back to the chat they were set in.
func (d *Dispatcher) channelFor(cfg DispatcherConfig, it schedule.Item) (int64, bool) {
	if id, ok := cfg.Broadcast[it.ScopeID]; ok && id != 0 {
		return id, true
	}
	if it.Kind == schedule.KindReminder && it.ScopeID != 0 {
		return it.ScopeID, true
	}
	return 0, false
}

func (d *Dispatcher) render(cfg DispatcherConfig, lang string, it schedule.Item, trig schedule.Trigger, now time.Time) string {
	title := html.EscapeString(it.Title)
	if trig == schedule.TriggerLead {
		mins := int(math.Ceil(it.ScheduledAt.Sub(now).Minutes()))
		if mins < 1 {
			mins = 1
		}
		return d.t(lang, "reminder.lead", i18n.Data{
			"Title":   title,
			"Minutes": mins,
			"Time":    it.ScheduledAt.In(cfg.Location).Format("2006-01-02 15:04 MST"),
		})
	}
	switch it.Kind {
	case schedule.KindTask:
		return d.t(lang, "reminder.task_due", i18n.Data{"Title": title})
	case schedule.KindReminder:
		return d.t(lang, "reminder.personal", i18n.Data{"Title": title})
	default:
		return d.t(lang, "reminder.start", i18n.Data{"Title": title})
	}
}

func (d *Dispatcher) t(lang, id string, data i18n.Data) string {
	if d.cat == nil {
		return id
	}
	return d.cat.T(lang, id, data)
}

func mention(p schedule.Participant) string {
	if u := strings.TrimPrefix(strings.TrimSpace(p.Username), "@"); u != "" {
		return "@" + html.EscapeString(u)
	}
	return fmt.Sprintf(`<a href="tg://user?id=%d">user:%d</a>`, p.UserID, p.UserID)
}
