package pluginkit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	core "allybot/internal/plugin"
	kit "allybot/internal/transport"
	"allybot/pkg/tgui"

	tele "gopkg.in/telebot.v4"
)

// ListNav addresses one page of a list view. It travels in callback_data;
// states that don't fit the 64-byte cap are parked in the router's TokenStore.
type ListNav struct {
	View   string `json:"v"`
	Filter string `json:"f,omitempty"`
	Page   int    `json:"p,omitempty"`
}

// ListView renders the page nav points at.
type ListView func(ctx context.Context, req *core.Request, nav ListNav) (tgui.Message, error)

var (
	errNavExpired = errors.New("this list has expired, run the command again")
	errNavUnknown = errors.New("unknown list view")
)

// ListRouter serves paged list views of one plugin behind a single callback
// route "<plugin>:<action>". A press edits the message in place.
type ListRouter struct {
	plugin string
	action string
	views  map[string]ListView
	store  *tgui.TokenStore

	access  core.CallbackAccess
	timeout time.Duration
}

func NewListRouter(plugin, action string) *ListRouter {
	if strings.TrimSpace(action) == "" {
		action = "page"
	}
	return &ListRouter{
		plugin: plugin,
		action: strings.TrimSpace(action),
		views:  map[string]ListView{},
		store:  tgui.NewTokenStore(),
		access: core.CallbackAccessEveryone,
	}
}

// OwnerOnly restricts paging to bot owners.
func (r *ListRouter) OwnerOnly() *ListRouter {
	r.access = core.CallbackAccessOwnerOnly
	return r
}

func (r *ListRouter) WithTimeout(d time.Duration) *ListRouter {
	r.timeout = d
	return r
}

func (r *ListRouter) Handle(view string, fn ListView) *ListRouter {
	if view = strings.TrimSpace(view); view != "" && fn != nil {
		r.views[view] = fn
	}
	return r
}

func (r *ListRouter) Route() core.CallbackRoute {
	return core.CallbackRoute{
		Plugin:      r.plugin,
		Action:      r.action,
		Description: "list paging",
		Access:      r.access,
		Timeout:     r.timeout,
		Handle:      r.press,
	}
}

// Btn builds a button that opens nav.
func (r *ListRouter) Btn(text string, nav ListNav) tele.Btn {
	data, err := tgui.ActionDataWithStore(r.plugin, r.action, nav, r.store)
	if err != nil {
		data = tgui.Data(r.plugin, r.action, "")
	}
	return tele.Btn{Text: text, Data: data}
}

// NavRow returns the ◀️/▶️ keyboard for pg, or nil on a single page.
func (r *ListRouter) NavRow(nav ListNav, pg tgui.Page) *tgui.Inline {
	var row []tele.Btn
	if pg.HasPrev() {
		row = append(row, r.Btn("◀️", ListNav{View: nav.View, Filter: nav.Filter, Page: pg.Index - 1}))
	}
	if pg.HasNext() {
		row = append(row, r.Btn("▶️", ListNav{View: nav.View, Filter: nav.Filter, Page: pg.Index + 1}))
	}
	if len(row) == 0 {
		return nil
	}
	return tgui.NewInline().Row(row...)
}

func (r *ListRouter) press(ctx context.Context, req *core.Request, payload string) error {
	var msg tgui.Message
	nav, err := r.decode(payload)
	if err == nil {
		fn := r.views[nav.View]
		if fn == nil {
			err = fmt.Errorf("%w: %q", errNavUnknown, nav.View)
		} else {
			msg, err = fn(ctx, req, nav)
		}
	}
	if err != nil {
		msg = tgui.New().Title("⚠️", "List unavailable").Line(err.Error()).Build()
	}

	cb := req.Update.Callback
	if cb == nil {
		_, serr := msg.Send(ctx, req.Adapter, req.Chat)
		return serr
	}
	ref := kit.MessageRef{ChatID: cb.ChatID, ThreadID: cb.ThreadID, MessageID: cb.MessageID}
	return msg.Edit(ctx, req.Adapter, ref, req.Chat)
}

func (r *ListRouter) decode(payload string) (ListNav, error) {
	var nav ListNav
	payload = strings.TrimSpace(payload)
	switch {
	case payload == "":
		return nav, errNavUnknown
	case strings.HasPrefix(payload, "~"):
		b, ok := r.store.GetBytes(payload)
		if !ok {
			return nav, errNavExpired
		}
		if err := json.Unmarshal(b, &nav); err != nil {
			return nav, err
		}
	default:
		if err := tgui.UnpackJSON(payload, &nav); err != nil {
			return nav, err
		}
	}
	if nav.Page < 0 {
		nav.Page = 0
	}
	return nav, nil
}
