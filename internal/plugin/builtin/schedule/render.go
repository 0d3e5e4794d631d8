package schedule

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	sched "allybot/internal/schedule"
	"allybot/pkg/tgui"

	tele "gopkg.in/telebot.v4"
)

const timeLayout = "2006-01-02 15:04 MST"

var kindEmoji = map[sched.Kind]string{
	sched.KindBuff:     "⚡",
	sched.KindEvent:    "📅",
	sched.KindWarplan:  "⚔️",
	sched.KindTask:     "📌",
	sched.KindReminder: "🔔",
}

func fmtWhen(it sched.Item, loc *time.Location) string {
	if !it.HasDue() {
		return "-"
	}
	return it.ScheduledAt.In(loc).Format(timeLayout)
}

// renderCard builds the item view: header, time, description and one line
// per status group. Open items carry one button per status plus Close.
func (p *Plugin) renderCard(lang string, it sched.Item, g sched.Grouped, loc *time.Location) tgui.Message {
	b := tgui.New().Title(kindEmoji[it.Kind], fmt.Sprintf("%s #%d", it.Title, it.ID))
	b.KV("when", fmtWhen(it, loc))
	if it.Description != "" {
		b.Line(it.Description)
	}
	if it.Recurrence != "" {
		b.KV("repeats", it.Recurrence)
	}
	if !it.Open() {
		b.KV("status", "closed")
	}
	if it.Kind == sched.KindBuff {
		if it.ConfirmedBy != 0 {
			b.KV("confirmed", fmt.Sprintf("user:%d · %s", it.ConfirmedBy, it.ConfirmedAt.In(loc).Format(timeLayout)))
		} else {
			b.KV("confirmed", "awaiting confirmation")
		}
	}

	statuses := sched.StatusesFor(it.Kind)
	if len(statuses) > 0 {
		b.Blank()
	}
	slot := sched.NotifyStatus(it.Kind)
	for _, st := range statuses {
		members := g[st]
		count := strconv.Itoa(len(members))
		if st == slot && it.Capacity > 0 {
			count = fmt.Sprintf("%d/%d", len(members), it.Capacity)
		}
		names := make([]string, 0, len(members))
		for _, m := range members {
			names = append(names, m.Label())
		}
		list := "-"
		if len(names) > 0 {
			list = strings.Join(names, ", ")
		}
		b.RawLine(tgui.B(p.cat.StatusLabel(lang, it.Kind, st)).String() +
			" (" + count + "): " + tgui.Esc(list).String())
	}

	if it.Open() && len(statuses) > 0 {
		btns := make([]tele.Btn, 0, len(statuses))
		for _, st := range statuses {
			btns = append(btns, tgui.Btn(
				p.cat.StatusLabel(lang, it.Kind, st),
				tgui.Data(p.Name(), "rsvp", rsvpPayload(it.ID, st)),
			))
		}
		id := strconv.FormatInt(it.ID, 10)
		kb := tgui.NewInline().Row(btns...)
		if it.NeedsConfirmation() {
			kb = kb.Row(tgui.Btn("✅ Confirm", tgui.Data(p.Name(), "confirm", id)))
		}
		kb = kb.Row(tgui.Btn("🔒 Close", tgui.Data(p.Name(), "close", id)))
		b.Inline(kb)
	}
	return b.Build()
}

// itemLine is the one-line summary used by list views.
func itemLine(it sched.Item, loc *time.Location) string {
	return fmt.Sprintf("%s #%d %s · %s", kindEmoji[it.Kind], it.ID, it.Title, fmtWhen(it, loc))
}

func rsvpPayload(id int64, st sched.Status) string {
	return strconv.FormatInt(id, 10) + "|" + string(st)
}

func parseRSVPPayload(payload string) (int64, string, error) {
	idRaw, st, ok := strings.Cut(strings.TrimSpace(payload), "|")
	if !ok {
		return 0, "", fmt.Errorf("%w: bad payload %q", sched.ErrInvalidStatus, payload)
	}
	id, err := strconv.ParseInt(idRaw, 10, 64)
	if err != nil || id <= 0 {
		return 0, "", fmt.Errorf("%w: bad item id %q", sched.ErrNotFound, idRaw)
	}
	return id, st, nil
}

func parseID(args []string, usage string) (int64, error) {
	if len(args) == 0 {
		return 0, usageErr(usage)
	}
	id, err := strconv.ParseInt(strings.TrimPrefix(args[0], "#"), 10, 64)
	if err != nil || id <= 0 {
		return 0, usageErr(usage)
	}
	return id, nil
}

// splitTitle splits "title words | description words".
func splitTitle(args []string) (title, desc string) {
	joined := strings.TrimSpace(strings.Join(args, " "))
	t, d, _ := strings.Cut(joined, "|")
	return strings.TrimSpace(t), strings.TrimSpace(d)
}

// takeRecurrence removes every=<RRULE> tokens from args.
func takeRecurrence(args []string) (rule string, rest []string) {
	rest = make([]string, 0, len(args))
	for _, a := range args {
		if v, ok := strings.CutPrefix(a, "every="); ok {
			rule = v
			continue
		}
		rest = append(rest, a)
	}
	return rule, rest
}
