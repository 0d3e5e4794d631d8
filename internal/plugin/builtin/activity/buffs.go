package activity

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"allybot/internal/i18n"
	core "allybot/internal/plugin"
	"allybot/internal/schedule"
	"allybot/internal/storage"
	logx "allybot/pkg/logx"
	"allybot/pkg/tgui"
)

const (
	defaultBuffDays = 30
	maxBuffDays     = 365
	buffTopN        = 10
)

const eventMetaUsage = "usage: /event_meta <id> <kvk|mge|other> [minutes 10..1440]"

// cmdEventMeta sets the category and duration of an event.
func (p *Plugin) cmdEventMeta(ctx context.Context, req *core.Request) error {
	if len(req.Args) < 2 {
		return req.Reply(ctx, tgui.Esc(eventMetaUsage).String())
	}
	id, err := strconv.ParseInt(strings.TrimPrefix(req.Args[0], "#"), 10, 64)
	if err != nil || id <= 0 {
		return req.Reply(ctx, tgui.Esc(eventMetaUsage).String())
	}
	cat, err := schedule.ParseCategory(req.Args[1])
	if err != nil {
		return req.Reply(ctx, tgui.Esc(eventMetaUsage).String())
	}
	window := schedule.DefaultEventWindow
	if len(req.Args) > 2 {
		mins, err := strconv.Atoi(req.Args[2])
		window = time.Duration(mins) * time.Minute
		if err != nil || schedule.ValidateWindow(window) != nil {
			return req.Reply(ctx, tgui.Esc(eventMetaUsage).String())
		}
	}

	lang := p.lang()
	st, err := p.Store()
	if err != nil {
		return req.Reply(ctx, p.cat.T(lang, "err.store", nil))
	}
	err = st.SetEventMeta(ctx, schedule.EventMeta{ItemID: id, Category: cat, Window: window})
	p.audit(ctx, req, "event.meta", id, err)
	if err != nil {
		return p.fail(ctx, req, err)
	}
	return req.Reply(ctx, tgui.Esc(p.cat.T(lang, "buffs.meta_set", i18n.Data{
		"ID": id, "Category": string(cat), "Minutes": int(window / time.Minute),
	})).String())
}

func buffDays(args []string) (int, bool) {
	if len(args) == 0 {
		return defaultBuffDays, true
	}
	n, err := strconv.Atoi(args[0])
	if err != nil || n < 1 || n > maxBuffDays {
		return 0, false
	}
	return n, true
}

// buffData loads the started buffs of scope for the last days and every
// event window they can fall into.
func (p *Plugin) buffData(ctx context.Context, scope int64, days int) ([]schedule.BuffUse, []schedule.EventWindow, error) {
	st, err := p.Store()
	if err != nil {
		return nil, nil, err
	}
	buffs, err := st.StartedBuffs(ctx, scope, p.now().Add(-time.Duration(days)*24*time.Hour))
	if err != nil {
		return nil, nil, err
	}
	windows, err := st.EventWindows(ctx, scope)
	if err != nil {
		return nil, nil, err
	}
	return buffs, windows, nil
}

func (p *Plugin) buffReport(lang string, days int, buffs []schedule.BuffUse, windows []schedule.EventWindow) string {
	b := tgui.New().Title("", p.cat.T(lang, "buffs.header", i18n.Data{"Days": days}))
	if len(buffs) == 0 {
		b.Line(p.cat.T(lang, "buffs.empty", nil))
		return b.Build().Text
	}
	rep := schedule.BuffUsage(buffs, windows, buffTopN)
	inside := rep.Total() - rep.Outside
	b.Line(p.cat.T(lang, "buffs.total", i18n.Data{"Total": rep.Total(), "Inside": inside, "Outside": rep.Outside}))
	for _, c := range schedule.Categories {
		if n := rep.Inside[c]; n > 0 {
			b.KV(string(c), strconv.Itoa(n))
		}
	}
	if inside > 0 {
		b.Blank().Title("", p.cat.T(lang, "buffs.by_event", nil))
		for _, w := range windows {
			if n := rep.ByEvent[w.ItemID]; n > 0 {
				b.Line(fmt.Sprintf("#%d %s (%s) · %d", w.ItemID, w.Title, w.Category, n))
			}
		}
	}
	if len(rep.TopOutside) > 0 {
		b.Blank().Title("", p.cat.T(lang, "buffs.top_outside", nil))
		for i, u := range rep.TopOutside {
			b.Line(fmt.Sprintf("%d. %s · %d", i+1, u.Label, u.Count))
		}
	}
	return b.Build().Text
}

func (p *Plugin) cmdReportBuffs(ctx context.Context, req *core.Request) error {
	days, ok := buffDays(req.Args)
	if !ok {
		return req.Reply(ctx, tgui.Esc(fmt.Sprintf("usage: /report_buffs [days 1..%d]", maxBuffDays)).String())
	}
	buffs, windows, err := p.buffData(ctx, req.Chat.ChatID, days)
	if err != nil {
		return p.fail(ctx, req, err)
	}
	return req.Reply(ctx, p.buffReport(p.lang(), days, buffs, windows))
}

// cmdReportUserBuffs reports one member; without a user id it reports the
// caller.
func (p *Plugin) cmdReportUserBuffs(ctx context.Context, req *core.Request) error {
	usage := tgui.Esc(fmt.Sprintf("usage: /report_user_buffs [user_id] [days 1..%d]", maxBuffDays)).String()
	userID, label := req.FromID, userLabel(req.FromID, req.FromUsername)
	args := req.Args
	if len(args) > 0 {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil || id == 0 {
			return req.Reply(ctx, usage)
		}
		userID, label, args = id, userLabel(id, ""), args[1:]
	}
	days, ok := buffDays(args)
	if !ok {
		return req.Reply(ctx, usage)
	}
	buffs, windows, err := p.buffData(ctx, req.Chat.ChatID, days)
	if err != nil {
		return p.fail(ctx, req, err)
	}
	for _, b := range buffs {
		for _, j := range b.Joined {
			if j.UserID == userID && j.Username != "" {
				label = j.Label()
			}
		}
	}
	inside, outside := schedule.UserBuffUsage(buffs, windows, userID)
	lang := p.lang()
	return req.Reply(ctx, tgui.Esc(p.cat.T(lang, "buffs.user", i18n.Data{
		"User": label, "Inside": inside, "Outside": outside, "Days": days,
	})).String())
}

func userLabel(id int64, username string) string {
	if username != "" {
		return "@" + username
	}
	return "user:" + strconv.FormatInt(id, 10)
}

func (p *Plugin) fail(ctx context.Context, req *core.Request, err error) error {
	lang := p.lang()
	if errors.Is(err, core.ErrStorageUnavailable) {
		return req.Reply(ctx, p.cat.T(lang, "err.store", nil))
	}
	if !schedule.IsValidation(err) && !errors.Is(err, schedule.ErrNotFound) {
		req.Logger.Warn("buff report failed", logx.Err(err))
	}
	return req.Reply(ctx, p.cat.ErrorText(lang, err))
}

// audit records a mutating command. Audit failures never fail the command.
func (p *Plugin) audit(ctx context.Context, req *core.Request, action string, target int64, cmdErr error) {
	e := storage.AuditEntry{
		ActorID:       req.FromID,
		ActorUsername: req.FromUsername,
		ChatID:        req.Chat.ChatID,
		Action:        action,
		Target:        strconv.FormatInt(target, 10),
		OK:            cmdErr == nil,
	}
	if cmdErr != nil {
		e.Error = cmdErr.Error()
	}
	if err := p.AppendAudit(ctx, e); err != nil && !errors.Is(err, core.ErrStorageUnavailable) {
		req.Logger.Debug("audit append failed", logx.String("action", action), logx.Err(err))
	}
}
