package activity

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"allybot/internal/i18n"
	core "allybot/internal/plugin"
	"allybot/internal/storage"
	kit "allybot/internal/transport"
	logx "allybot/pkg/logx"
	"allybot/pkg/tgui"
)

// since returns the first counted day of a days-long window ending today.
func since(now time.Time, days int) time.Time {
	return now.UTC().AddDate(0, 0, -(days - 1))
}

// report renders the ranking of one scope.
func (p *Plugin) report(ctx context.Context, st *storage.Store, scope int64, days int, lang string) (string, error) {
	c := p.cfgSnapshot()
	from := since(p.now(), days)
	users, err := st.TopUsers(ctx, scope, from, c.TopN)
	if err != nil {
		return "", err
	}
	cmds, err := st.TopCommands(ctx, scope, from, c.TopN)
	if err != nil {
		return "", err
	}
	jl, err := st.JoinLeaveSince(ctx, scope, from)
	if err != nil {
		return "", err
	}

	b := tgui.New().Title("", p.cat.T(lang, "stats.header", i18n.Data{"Days": days}))
	if len(users) == 0 && len(cmds) == 0 && jl.Joins == 0 && jl.Leaves == 0 {
		b.Line(p.cat.T(lang, "stats.empty", nil))
		return b.Build().Text, nil
	}
	if len(users) > 0 {
		b.Blank().Title("", p.cat.T(lang, "stats.users", nil))
		for i, u := range users {
			name := "user:" + strconv.FormatInt(u.ID, 10)
			if u.Name != "" {
				name = "@" + u.Name
			}
			b.Line(fmt.Sprintf("%d. %s · %d", i+1, name, u.Count))
		}
	}
	if len(cmds) > 0 {
		b.Blank().Title("", p.cat.T(lang, "stats.commands", nil))
		for i, c := range cmds {
			b.Line(fmt.Sprintf("%d. /%s · %d", i+1, c.Name, c.Count))
		}
	}
	b.Blank().Line(p.cat.T(lang, "stats.members", i18n.Data{"Joins": jl.Joins, "Leaves": jl.Leaves}))
	return b.Build().Text, nil
}

func (p *Plugin) cmdStats(ctx context.Context, req *core.Request) error {
	c := p.cfgSnapshot()
	days := c.ReportDays
	if len(req.Args) > 0 {
		n, err := strconv.Atoi(req.Args[0])
		if err != nil || n < 1 || n > c.RetentionDays {
			return req.Reply(ctx, tgui.Esc(fmt.Sprintf("usage: /stats [days 1..%d]", c.RetentionDays)).String())
		}
		days = n
	}
	st, err := p.Store()
	if err != nil {
		return req.Reply(ctx, p.cat.T(p.lang(), "err.store", nil))
	}
	text, err := p.report(ctx, st, req.Chat.ChatID, days, p.lang())
	if err != nil {
		req.Logger.Warn("stats query failed", logx.Err(err))
		return req.Reply(ctx, p.cat.ErrorText(p.lang(), err))
	}
	return req.Reply(ctx, text)
}

// runReport posts the weekly ranking of every active scope to its broadcast
// chat, or to the scope itself when none is configured.
func (p *Plugin) runReport(ctx context.Context) error {
	st, err := p.Store()
	if err != nil {
		return err
	}
	c := p.cfgSnapshot()
	scopes, err := st.ActiveScopes(ctx, since(p.now(), c.ReportDays))
	if err != nil {
		return err
	}
	lang := p.lang()
	var errs []error
	sent := 0
	for _, scope := range scopes {
		text, err := p.report(ctx, st, scope, c.ReportDays, lang)
		if err != nil {
			errs = append(errs, fmt.Errorf("scope %d: %w", scope, err))
			continue
		}
		if ch, ok := p.broadcast(scope); ok {
			err = p.Notifier().Channel(ctx, ch, text)
		} else {
			err = p.Notifier().To(kit.ChatTarget{ChatID: scope}).Info(text)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("scope %d: %w", scope, err))
			continue
		}
		sent++
	}
	p.Log.Info("activity report sent", logx.Int("scopes", len(scopes)), logx.Int("sent", sent))
	return errors.Join(errs...)
}

func (p *Plugin) broadcast(scope int64) (int64, bool) {
	if p.Deps.Config == nil {
		return 0, false
	}
	cfg := p.Deps.Config.Get()
	if cfg == nil {
		return 0, false
	}
	ch, ok := cfg.Reminder.Broadcast[strconv.FormatInt(scope, 10)]
	return ch, ok && ch != 0
}

func (p *Plugin) prune(ctx context.Context) (int64, error) {
	st, err := p.Store()
	if err != nil {
		return 0, err
	}
	cutoff := p.now().UTC().AddDate(0, 0, -p.cfgSnapshot().RetentionDays)
	return st.PruneActivity(ctx, cutoff)
}

func (p *Plugin) runPrune(ctx context.Context) error {
	n, err := p.prune(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		p.Log.Info("activity counters pruned", logx.Int64("rows", n))
	}
	return nil
}

func (p *Plugin) cmdPrune(ctx context.Context, req *core.Request) error {
	n, err := p.prune(ctx)
	if err != nil {
		return req.Reply(ctx, p.cat.ErrorText(p.lang(), err))
	}
	return req.Reply(ctx, fmt.Sprintf("🧹 pruned %d counter rows", n))
}
