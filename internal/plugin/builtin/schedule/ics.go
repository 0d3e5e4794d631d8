package schedule

import (
	"bytes"
	"context"
	"fmt"
	"time"

	core "allybot/internal/plugin"
	sched "allybot/internal/schedule"
	kit "allybot/internal/transport"

	"github.com/emersion/go-ical"
)

// defaultEventLength is the DTEND offset; items have no end time.
const defaultEventLength = time.Hour

// itemCalendar renders it as a single-VEVENT calendar.
func itemCalendar(it sched.Item, stamp time.Time) ([]byte, error) {
	if !it.HasDue() {
		return nil, fmt.Errorf("%w: item %d has no date", sched.ErrMalformedSchedule, it.ID)
	}
	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, "-//allybot//schedule//EN")

	ev := ical.NewEvent()
	ev.Props.SetText(ical.PropUID, fmt.Sprintf("item-%d@allybot", it.ID))
	ev.Props.SetDateTime(ical.PropDateTimeStamp, stamp.UTC())
	ev.Props.SetDateTime(ical.PropDateTimeStart, it.ScheduledAt.UTC())
	ev.Props.SetDateTime(ical.PropDateTimeEnd, it.ScheduledAt.Add(defaultEventLength).UTC())
	ev.Props.SetText(ical.PropSummary, it.Title)
	if it.Description != "" {
		ev.Props.SetText(ical.PropDescription, it.Description)
	}
	ev.Props.SetText(ical.PropCategories, string(it.Kind))
	if it.Recurrence != "" {
		rule := ical.NewProp(ical.PropRecurrenceRule)
		rule.Value = it.Recurrence
		ev.Props.Set(rule)
	}
	if !it.Open() {
		ev.Props.SetText(ical.PropStatus, "CANCELLED")
	}
	cal.Children = append(cal.Children, ev.Component)

	var buf bytes.Buffer
	if err := ical.NewEncoder(&buf).Encode(cal); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (p *Plugin) cmdICS(ctx context.Context, req *core.Request) error {
	id, err := parseID(req.Args, "/ics <id>")
	if err != nil {
		return p.fail(ctx, req, err)
	}
	_, it, err := p.loadScoped(ctx, req, id)
	if err != nil {
		return p.fail(ctx, req, err)
	}
	data, err := itemCalendar(it, p.now())
	if err != nil {
		return p.fail(ctx, req, err)
	}
	return p.sendFile(ctx, req, kit.Document{
		FileName: fmt.Sprintf("item-%d.ics", it.ID),
		MIME:     "text/calendar",
		Data:     data,
		Caption:  it.Title,
	})
}
