package schedule

import (
	"context"
	"strconv"
	"strings"
	"time"

	core "allybot/internal/plugin"
	sched "allybot/internal/schedule"
	"allybot/internal/storage"
	"allybot/pkg/tgui"
)

const (
	remindUsage    = "/remind <minutes> <message>"
	maxRemindDelay = 30 * 24 * time.Hour
)

func (p *Plugin) cmdRemind(ctx context.Context, req *core.Request) error {
	if len(req.Args) < 2 {
		return p.fail(ctx, req, usageErr(remindUsage))
	}
	minutes, err := strconv.Atoi(req.Args[0])
	if err != nil || minutes < 1 || time.Duration(minutes)*time.Minute > maxRemindDelay {
		return p.fail(ctx, req, usageErr(remindUsage+" (minutes between 1 and 43200)"))
	}
	text := strings.TrimSpace(strings.Join(req.Args[1:], " "))
	if text == "" {
		return p.fail(ctx, req, usageErr(remindUsage))
	}
	st, err := p.Store()
	if err != nil {
		return p.fail(ctx, req, err)
	}
	it, err := st.CreateItem(ctx, sched.NewItem{
		ScopeID:     req.Chat.ChatID,
		Kind:        sched.KindReminder,
		ScheduledAt: p.now().Add(time.Duration(minutes) * time.Minute).UTC(),
		CreatorID:   req.FromID,
		Title:       text,
		Lang:        p.lang(req),
	})
	p.audit(ctx, req, "reminder.create", it.ID, err)
	if err != nil {
		return p.fail(ctx, req, err)
	}
	msg := tgui.New().
		Title("🔔", "Reminder set").
		KV("id", "#"+strconv.FormatInt(it.ID, 10)).
		KV("at", fmtWhen(it, p.location(req))).
		Build()
	_, err = msg.Send(ctx, req.Adapter, req.Chat)
	return err
}

func (p *Plugin) cmdReminders(ctx context.Context, req *core.Request) error {
	st, err := p.Store()
	if err != nil {
		return p.fail(ctx, req, err)
	}
	items, err := st.ListItems(ctx, storage.ItemFilter{
		Kind:      string(sched.KindReminder),
		Status:    string(sched.ItemOpen),
		CreatorID: req.FromID,
		Limit:     50,
	})
	if err != nil {
		return p.fail(ctx, req, err)
	}
	b := tgui.New().Title("🔔", "Your reminders")
	if len(items) == 0 {
		b.Line("none pending")
	}
	loc := p.location(req)
	for _, it := range items {
		b.Line("#" + strconv.FormatInt(it.ID, 10) + " " + fmtWhen(it, loc) + " · " + it.Title)
	}
	_, err = b.Build().Send(ctx, req.Adapter, req.Chat)
	return err
}

// cmdReminderDelete deletes one of the sender's own reminders; owners get no
// exception here.
func (p *Plugin) cmdReminderDelete(ctx context.Context, req *core.Request) error {
	id, err := parseID(req.Args, "/reminder_delete <id>")
	if err != nil {
		return p.fail(ctx, req, err)
	}
	st, err := p.Store()
	if err != nil {
		return p.fail(ctx, req, err)
	}
	it, err := st.GetItem(ctx, id)
	if err == nil && (it.Kind != sched.KindReminder || it.CreatorID != req.FromID) {
		err = sched.ErrNotFound
	}
	if err == nil {
		err = st.DeleteItem(ctx, id)
	}
	p.audit(ctx, req, "reminder.delete", id, err)
	if err != nil {
		return p.fail(ctx, req, err)
	}
	return req.Reply(ctx, "🗑 reminder "+tgui.Code("#"+strconv.FormatInt(id, 10)).String()+" deleted")
}
