package schedule

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"allybot/internal/eventbus"
	core "allybot/internal/plugin"
	pluginkit "allybot/internal/plugin/kit"
	sched "allybot/internal/schedule"
	"allybot/internal/storage"
	kit "allybot/internal/transport"
	logx "allybot/pkg/logx"
	"allybot/pkg/tgui"
)

var buffTypes = []string{"training", "research", "build"}

const buffUsage = "/buff <training|research|build> <YYYY-MM-DD HH:MM> [capacity] [lang]"

func (p *Plugin) cmdBuff(ctx context.Context, req *core.Request) error {
	if len(req.Args) < 2 {
		return p.fail(ctx, req, usageErr(buffUsage))
	}
	typ := strings.ToLower(req.Args[0])
	known := false
	for _, t := range buffTypes {
		if t == typ {
			known = true
			break
		}
	}
	if !known {
		return p.fail(ctx, req, usageErr(buffUsage))
	}

	loc := p.location(req)
	when, rest := sched.SplitWhen(req.Args[1:])
	at, err := sched.ParseWhen(when, p.now(), loc)
	if err != nil {
		return p.fail(ctx, req, err)
	}

	cfg := p.cfgSnapshot()
	capacity := cfg.DefaultCapacity
	lang := p.lang(req)
	for _, a := range rest {
		if n, err := strconv.Atoi(a); err == nil {
			capacity = n
			continue
		}
		if !p.cat.Supports(a) {
			return p.fail(ctx, req, usageErr(buffUsage))
		}
		lang = p.cat.Normalize(a)
	}

	return p.create(ctx, req, sched.NewItem{
		ScopeID:     req.Chat.ChatID,
		Kind:        sched.KindBuff,
		ScheduledAt: at,
		CreatorID:   req.FromID,
		Title:       p.cat.T(lang, "buff."+typ, nil),
		Capacity:    capacity,
		Lang:        lang,
	})
}

func (p *Plugin) cmdEvent(ctx context.Context, req *core.Request) error {
	return p.createRSVP(ctx, req, sched.KindEvent, "/event <when> <title> [| description] [every=RRULE] [--cap N]")
}

func (p *Plugin) cmdWarplan(ctx context.Context, req *core.Request) error {
	return p.createRSVP(ctx, req, sched.KindWarplan, "/warplan <when> <title> [| description] [--cap N]")
}

func (p *Plugin) createRSVP(ctx context.Context, req *core.Request, kind sched.Kind, usage string) error {
	rule, args := takeRecurrence(req.Args)
	when, rest := sched.SplitWhen(args)
	if when == "" || len(rest) == 0 {
		return p.fail(ctx, req, usageErr(usage))
	}
	at, err := sched.ParseWhen(when, p.now(), p.location(req))
	if err != nil {
		return p.fail(ctx, req, err)
	}
	title, desc := splitTitle(rest)
	if title == "" {
		return p.fail(ctx, req, usageErr(usage))
	}
	capacity := p.cfgSnapshot().DefaultCapacity
	if v, ok := req.Flags["cap"]; ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return p.fail(ctx, req, usageErr(usage))
		}
		capacity = n
	}
	return p.create(ctx, req, sched.NewItem{
		ScopeID:     req.Chat.ChatID,
		Kind:        kind,
		ScheduledAt: at,
		CreatorID:   req.FromID,
		Title:       title,
		Description: desc,
		Capacity:    capacity,
		Lang:        p.lang(req),
		Recurrence:  rule,
	})
}

// create stores n and posts its card.
func (p *Plugin) create(ctx context.Context, req *core.Request, n sched.NewItem) error {
	st, err := p.Store()
	if err != nil {
		return p.fail(ctx, req, err)
	}
	it, err := st.CreateItem(ctx, n)
	p.audit(ctx, req, "item.create", it.ID, err)
	if err != nil {
		return p.fail(ctx, req, err)
	}
	p.Log.Info("item created",
		logx.Item(it.ID, string(it.Kind)),
		logx.Int64("scope", it.ScopeID),
		logx.Time("at", it.ScheduledAt),
	)
	p.PublishEvent(eventbus.TypeItemCreated, it)
	return p.sendCard(ctx, req, it)
}

func (p *Plugin) sendCard(ctx context.Context, req *core.Request, it sched.Item) error {
	msg, err := p.card(ctx, req, it)
	if err != nil {
		return p.fail(ctx, req, err)
	}
	_, err = msg.Send(ctx, req.Adapter, req.Chat)
	return err
}

func (p *Plugin) card(ctx context.Context, req *core.Request, it sched.Item) (tgui.Message, error) {
	st, err := p.Store()
	if err != nil {
		return tgui.Message{}, err
	}
	g, err := st.GroupByStatus(ctx, it.ID)
	if err != nil {
		return tgui.Message{}, err
	}
	lang := it.Lang
	if lang == "" {
		lang = p.lang(req)
	}
	return p.renderCard(lang, it, g, p.location(req)), nil
}

// loadScoped fetches an item visible from the request's chat. Items of
// other chats are reported as missing unless the caller is an owner.
func (p *Plugin) loadScoped(ctx context.Context, req *core.Request, id int64) (*storage.Store, sched.Item, error) {
	st, err := p.Store()
	if err != nil {
		return nil, sched.Item{}, err
	}
	it, err := st.GetItem(ctx, id)
	if err != nil {
		return nil, sched.Item{}, err
	}
	if it.ScopeID != req.Chat.ChatID && !req.IsOwner() {
		return nil, sched.Item{}, sched.ErrNotFound
	}
	return st, it, nil
}

func (p *Plugin) cmdItem(ctx context.Context, req *core.Request) error {
	id, err := parseID(req.Args, "/item <id>")
	if err != nil {
		return p.fail(ctx, req, err)
	}
	_, it, err := p.loadScoped(ctx, req, id)
	if err != nil {
		return p.fail(ctx, req, err)
	}
	return p.sendCard(ctx, req, it)
}

func (p *Plugin) cmdRSVP(ctx context.Context, req *core.Request) error {
	const usage = "/rsvp <id> <status>"
	id, err := parseID(req.Args, usage)
	if err != nil {
		return p.fail(ctx, req, err)
	}
	if len(req.Args) < 2 {
		return p.fail(ctx, req, usageErr(usage))
	}
	it, err := p.setStatus(ctx, req, id, req.Args[1])
	if err != nil {
		return p.fail(ctx, req, err)
	}
	return p.sendCard(ctx, req, it)
}

// setStatus records the sender's status and returns the item.
func (p *Plugin) setStatus(ctx context.Context, req *core.Request, id int64, status string) (sched.Item, error) {
	st, it, err := p.loadScoped(ctx, req, id)
	if err != nil {
		return sched.Item{}, err
	}
	_, err = st.SetStatus(ctx, it.ID, req.FromID, req.FromUsername, status)
	p.audit(ctx, req, "item.status."+strings.ToLower(status), it.ID, err)
	if err != nil {
		return sched.Item{}, err
	}
	return it, nil
}

func (p *Plugin) cbRSVP(ctx context.Context, req *core.Request, payload string) error {
	cb := req.Update.Callback
	id, status, err := parseRSVPPayload(payload)
	if err == nil {
		var it sched.Item
		it, err = p.setStatus(ctx, req, id, status)
		if err == nil {
			return p.refreshCard(ctx, req, it)
		}
	}
	if cb != nil {
		return req.Adapter.AnswerCallback(ctx, cb.ID, p.cat.ErrorText(p.lang(req), err))
	}
	return err
}

// refreshCard re-renders the card in the message that carried the button.
func (p *Plugin) refreshCard(ctx context.Context, req *core.Request, it sched.Item) error {
	msg, err := p.card(ctx, req, it)
	if err != nil {
		return err
	}
	cb := req.Update.Callback
	if cb == nil {
		_, err := msg.Send(ctx, req.Adapter, req.Chat)
		return err
	}
	ref := kit.MessageRef{ChatID: cb.ChatID, ThreadID: cb.ThreadID, MessageID: cb.MessageID}
	return msg.Edit(ctx, req.Adapter, ref, req.Chat)
}

func (p *Plugin) closeItem(ctx context.Context, req *core.Request, id int64) (sched.Item, error) {
	st, it, err := p.loadScoped(ctx, req, id)
	if err != nil {
		return sched.Item{}, err
	}
	if !canManage(req, it) {
		return sched.Item{}, errForbidden
	}
	it, err = st.CloseItem(ctx, id)
	p.audit(ctx, req, "item.close", id, err)
	if err != nil {
		return sched.Item{}, err
	}
	p.PublishEvent(eventbus.TypeItemClosed, it)
	return it, nil
}

func (p *Plugin) cmdClose(ctx context.Context, req *core.Request) error {
	id, err := parseID(req.Args, "/close <id>")
	if err != nil {
		return p.fail(ctx, req, err)
	}
	it, err := p.closeItem(ctx, req, id)
	if err != nil {
		return p.fail(ctx, req, err)
	}
	return p.sendCard(ctx, req, it)
}

func (p *Plugin) cbClose(ctx context.Context, req *core.Request, payload string) error {
	id, err := strconv.ParseInt(strings.TrimSpace(payload), 10, 64)
	if err != nil {
		err = sched.ErrNotFound
	} else {
		var it sched.Item
		if it, err = p.closeItem(ctx, req, id); err == nil {
			return p.refreshCard(ctx, req, it)
		}
	}
	if cb := req.Update.Callback; cb != nil {
		text := p.cat.ErrorText(p.lang(req), err)
		if errors.Is(err, errForbidden) {
			text = p.cat.T(p.lang(req), "err.forbidden", nil)
		}
		return req.Adapter.AnswerCallback(ctx, cb.ID, text)
	}
	return err
}

// confirmBuff records that the buff was given. The first confirmation wins;
// confirming again leaves it unchanged.
func (p *Plugin) confirmBuff(ctx context.Context, req *core.Request, id int64) (sched.Item, error) {
	st, it, err := p.loadScoped(ctx, req, id)
	if err != nil {
		return sched.Item{}, err
	}
	if !p.canConfirm(req) {
		return sched.Item{}, errForbidden
	}
	already := it.ConfirmedBy != 0
	it, err = st.ConfirmItem(ctx, id, req.FromID)
	p.audit(ctx, req, "buff.confirm", id, err)
	if err != nil {
		return sched.Item{}, err
	}
	if !already {
		p.PublishEvent(eventbus.TypeBuffConfirmed, it)
	}
	return it, nil
}

func (p *Plugin) cmdConfirm(ctx context.Context, req *core.Request) error {
	id, err := parseID(req.Args, "/buff confirm <id>")
	if err != nil {
		return p.fail(ctx, req, err)
	}
	it, err := p.confirmBuff(ctx, req, id)
	if err != nil {
		return p.fail(ctx, req, err)
	}
	return p.sendCard(ctx, req, it)
}

func (p *Plugin) cbConfirm(ctx context.Context, req *core.Request, payload string) error {
	id, err := strconv.ParseInt(strings.TrimSpace(payload), 10, 64)
	if err != nil {
		err = sched.ErrNotFound
	} else {
		var it sched.Item
		if it, err = p.confirmBuff(ctx, req, id); err == nil {
			return p.refreshCard(ctx, req, it)
		}
	}
	if cb := req.Update.Callback; cb != nil {
		text := p.cat.ErrorText(p.lang(req), err)
		if errors.Is(err, errForbidden) {
			text = p.cat.T(p.lang(req), "err.forbidden", nil)
		}
		return req.Adapter.AnswerCallback(ctx, cb.ID, text)
	}
	return err
}

func (p *Plugin) cmdDelete(ctx context.Context, req *core.Request) error {
	id, err := parseID(req.Args, "/delete <id>")
	if err != nil {
		return p.fail(ctx, req, err)
	}
	st, it, err := p.loadScoped(ctx, req, id)
	if err != nil {
		return p.fail(ctx, req, err)
	}
	if !canManage(req, it) {
		return p.fail(ctx, req, errForbidden)
	}
	err = st.DeleteItem(ctx, id)
	p.audit(ctx, req, "item.delete", id, err)
	if err != nil {
		return p.fail(ctx, req, err)
	}
	return req.Reply(ctx, "🗑 deleted "+tgui.Code("#"+strconv.FormatInt(id, 10)).String())
}

func (p *Plugin) cmdItems(ctx context.Context, req *core.Request) error {
	key := ""
	if len(req.Args) > 0 {
		k, err := sched.ParseKind(req.Args[0])
		if err != nil {
			return p.fail(ctx, req, usageErr("/items [buff|event|warplan|task|reminder]"))
		}
		key = string(k)
	}
	msg, err := p.viewItems(ctx, req, pluginkit.ListNav{View: "items", Filter: key})
	if err != nil {
		return p.fail(ctx, req, err)
	}
	_, err = msg.Send(ctx, req.Adapter, req.Chat)
	return err
}

// viewItems renders one page of the chat's open items. Filter is an optional kind.
func (p *Plugin) viewItems(ctx context.Context, req *core.Request, nav pluginkit.ListNav) (tgui.Message, error) {
	st, err := p.Store()
	if err != nil {
		return tgui.Message{}, err
	}
	items, err := st.ListItems(ctx, storage.ItemFilter{
		ScopeID: req.Chat.ChatID,
		Kind:    nav.Filter,
		Status:  string(sched.ItemOpen),
	})
	if err != nil {
		return tgui.Message{}, err
	}
	title := "Open items"
	if nav.Filter != "" {
		title = "Open " + nav.Filter + " items"
	}
	return p.pageView(req, nav, title, items), nil
}

func (p *Plugin) pageView(req *core.Request, nav pluginkit.ListNav, title string, items []sched.Item) tgui.Message {
	size := p.cfgSnapshot().PageSize
	if size <= 0 {
		size = defaultPageSize
	}
	pg := tgui.Paginate(len(items), nav.Page, size)
	loc := p.location(req)

	b := tgui.New().Title("🗂", title)
	if len(items) == 0 {
		b.Line("nothing here")
		return b.Build()
	}
	for _, it := range tgui.PageOf(items, pg) {
		b.Line(itemLine(it, loc))
	}
	b.Blank().Line(pg.Label())
	return b.Inline(p.ui.NavRow(nav, pg)).Build()
}
