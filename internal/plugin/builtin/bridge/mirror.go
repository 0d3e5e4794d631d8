package bridge

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"allybot/internal/eventbus"
	core "allybot/internal/plugin"
	sched "allybot/internal/schedule"
	"allybot/internal/storage"
	"allybot/internal/translate"
	kit "allybot/internal/transport"
	logx "allybot/pkg/logx"
	"allybot/pkg/tgui"

	"github.com/google/uuid"
)

// Mirrored is published once per delivered copy.
type Mirrored struct {
	ID         string `json:"id"`
	Group      string `json:"group"`
	FromChat   int64  `json:"from_chat"`
	ToChat     int64  `json:"to_chat"`
	Lang       string `json:"lang"`
	Translated bool   `json:"translated"`
	Provider   string `json:"provider,omitempty"`
}

// mirror copies a message of a bridged chat into every other chat of its
// group. Commands, empty text and tagged posts are skipped.
func (p *Plugin) mirror(ctx context.Context, up kit.Update) error {
	if up.Kind != kit.UpdateMessage || up.Message == nil {
		return nil
	}
	m := up.Message
	tag := p.cfgSnapshot().Tag
	text := translate.Normalize(m.Text)
	if text == "" || strings.HasPrefix(text, "/") || strings.Contains(text, tag) {
		return nil
	}
	st, err := p.Store()
	if err != nil {
		return nil
	}
	src, err := st.BridgeForChat(ctx, m.ChatID)
	if errors.Is(err, sched.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	peers, err := st.BridgeGroup(ctx, src.Group)
	if err != nil {
		return err
	}

	id := uuid.NewString()
	var errs []error
	for _, b := range peers {
		if b.ChatID == src.ChatID || b.Lang == src.Lang {
			continue
		}
		res := p.tr.Translate(ctx, text, b.Lang)
		out := p.format(tag, m.Author(), b.Lang, text, res)
		if err := p.Notifier().To(kit.ChatTarget{ChatID: b.ChatID}).Info(out); err != nil {
			errs = append(errs, fmt.Errorf("chat %d: %w", b.ChatID, err))
			continue
		}
		p.PublishEvent(eventbus.TypeBridgeMirrored, Mirrored{
			ID:         id,
			Group:      src.Group,
			FromChat:   src.ChatID,
			ToChat:     b.ChatID,
			Lang:       b.Lang,
			Translated: res.Translated,
			Provider:   res.Provider,
		})
	}
	if len(errs) > 0 {
		p.Log.Warn("bridge mirror incomplete",
			logx.String("mirror", id),
			logx.String("group", src.Group),
			logx.Int("failed", len(errs)),
		)
	}
	return errors.Join(errs...)
}

// format builds the mirrored post:
//
//	[ALLY-BRIDGE] <author> → EN
//	<translated text>
//	— Original: <text>
func (p *Plugin) format(tag, author, lang, original string, res translate.Result) string {
	body := tgui.Esc(res.Text).String()
	if !res.Translated {
		body = tgui.Esc(p.cat.T(lang, "bridge.untranslated", nil)).String() + " " + tgui.Esc(original).String()
	}
	var b strings.Builder
	b.WriteString(tgui.Esc(tag).String())
	b.WriteString(" ")
	b.WriteString(tgui.B(author + " → " + strings.ToUpper(lang)).String())
	b.WriteString("\n")
	b.WriteString(body)
	b.WriteString("\n— ")
	b.WriteString(tgui.Esc(p.cat.T(lang, "bridge.original", nil)).String())
	b.WriteString(": ")
	b.WriteString(tgui.Esc(original).String())
	return b.String()
}

func (p *Plugin) cmdSet(ctx context.Context, req *core.Request) error {
	const usage = "usage: /bridge_set <de|en|es|fr> [group]"
	if len(req.Args) == 0 || !p.cat.Supports(req.Args[0]) {
		return req.Reply(ctx, tgui.Esc(usage).String())
	}
	group := p.cfgSnapshot().DefaultGroup
	if len(req.Args) > 1 {
		group = strings.ToLower(strings.TrimSpace(req.Args[1]))
	}
	st, err := p.Store()
	if err != nil {
		return req.Reply(ctx, p.cat.T(p.cat.Default(), "err.store", nil))
	}
	b := storage.Bridge{Group: group, Lang: p.cat.Normalize(req.Args[0]), ChatID: req.Chat.ChatID}
	if err := st.SetBridge(ctx, b); err != nil {
		req.Logger.Warn("bridge set failed", logx.Err(err))
		return req.Reply(ctx, p.cat.ErrorText(p.cat.Default(), err))
	}
	p.audit(ctx, req, "bridge.set", b.Group+"/"+b.Lang, nil)
	return req.Reply(ctx, fmt.Sprintf("✅ this chat is %s in bridge %s",
		tgui.Code(strings.ToUpper(b.Lang)).String(), tgui.Code(b.Group).String()))
}

func (p *Plugin) cmdShow(ctx context.Context, req *core.Request) error {
	st, err := p.Store()
	if err != nil {
		return req.Reply(ctx, p.cat.T(p.cat.Default(), "err.store", nil))
	}
	own, err := st.BridgeForChat(ctx, req.Chat.ChatID)
	if errors.Is(err, sched.ErrNotFound) {
		return req.Reply(ctx, "No bridge set. Use /bridge_set &lt;lang&gt;.")
	}
	if err != nil {
		return req.Reply(ctx, p.cat.ErrorText(p.cat.Default(), err))
	}
	peers, err := st.BridgeGroup(ctx, own.Group)
	if err != nil {
		return req.Reply(ctx, p.cat.ErrorText(p.cat.Default(), err))
	}
	b := tgui.New().Title("🌉", "Bridge "+own.Group)
	for _, peer := range peers {
		line := strings.ToUpper(peer.Lang) + " " + strconv.FormatInt(peer.ChatID, 10)
		if peer.ChatID == own.ChatID {
			line += " (this chat)"
		}
		b.Line(line)
	}
	b.KV("translator", p.tr.Provider())
	_, err = b.Build().Send(ctx, req.Adapter, req.Chat)
	return err
}

func (p *Plugin) cmdClear(ctx context.Context, req *core.Request) error {
	st, err := p.Store()
	if err != nil {
		return req.Reply(ctx, p.cat.T(p.cat.Default(), "err.store", nil))
	}
	err = st.ClearBridge(ctx, req.Chat.ChatID)
	p.audit(ctx, req, "bridge.clear", strconv.FormatInt(req.Chat.ChatID, 10), err)
	if err != nil {
		return req.Reply(ctx, p.cat.ErrorText(p.cat.Default(), err))
	}
	return req.Reply(ctx, "🧹 bridge removed")
}

func (p *Plugin) audit(ctx context.Context, req *core.Request, action, target string, cmdErr error) {
	e := storage.AuditEntry{
		ActorID:       req.FromID,
		ActorUsername: req.FromUsername,
		ChatID:        req.Chat.ChatID,
		Action:        action,
		Target:        target,
		OK:            cmdErr == nil,
	}
	if cmdErr != nil {
		e.Error = cmdErr.Error()
	}
	if err := p.AppendAudit(ctx, e); err != nil {
		req.Logger.Debug("audit append failed", logx.String("action", action), logx.Err(err))
	}
}
