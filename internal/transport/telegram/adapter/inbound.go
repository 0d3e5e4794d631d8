package adapter

import (
	"strings"

	tele "gopkg.in/telebot.v4"

	kit "allybot/internal/transport"
)

// route installs the telebot handlers. They stay installed across restarts
// and deliver to whatever channel Start last stored.
func (a *Adapter) route() {
	a.bot.Handle(tele.OnText, func(c tele.Context) error {
		if m := c.Message(); m != nil && m.Chat != nil {
			a.deliver(kit.Update{Kind: kit.UpdateMessage, Message: convertMessage(m)})
		}
		return nil
	})
	a.bot.Handle(tele.OnUserJoined, a.onMember(true))
	a.bot.Handle(tele.OnUserLeft, a.onMember(false))
	a.bot.Handle(tele.OnCallback, func(c tele.Context) error {
		if cb := convertCallback(c.Callback(), c.Message()); cb != nil {
			a.deliver(kit.Update{Kind: kit.UpdateCallback, Callback: cb})
		}
		return nil
	})
}

func (a *Adapter) onMember(joined bool) tele.HandlerFunc {
	return func(c tele.Context) error {
		m := c.Message()
		if m == nil || m.Chat == nil {
			return nil
		}
		msg := convertMessage(m)
		who := m.UserLeft
		if joined {
			who = m.UserJoined
		}
		if who != nil {
			msg.FromID, msg.FromUsername, msg.FromName = who.ID, who.Username, displayName(who)
		}
		msg.Joined, msg.Left = joined, !joined
		a.deliver(kit.Update{Kind: kit.UpdateMember, Message: msg})
		return nil
	}
}

func (a *Adapter) deliver(up kit.Update) {
	box := a.out.Load()
	if box == nil || box.ch == nil {
		return
	}
	select {
	case box.ch <- up:
	default:
		a.dropped.Add(1)
	}
}

func convertMessage(m *tele.Message) *kit.Message {
	msg := &kit.Message{
		ID:       m.ID,
		ChatID:   m.Chat.ID,
		ThreadID: m.ThreadID,
		Text:     m.Text,
		IsGroup:  m.Chat.Type == tele.ChatGroup || m.Chat.Type == tele.ChatSuperGroup,
	}
	if u := m.Sender; u != nil {
		msg.FromID, msg.FromUsername, msg.FromName = u.ID, u.Username, displayName(u)
	}
	return msg
}

// convertCallback returns nil for inline-mode callbacks, which carry no message.
func convertCallback(cb *tele.Callback, m *tele.Message) *kit.Callback {
	if cb == nil || m == nil || m.Chat == nil {
		return nil
	}
	out := &kit.Callback{
		ID:        cb.ID,
		ChatID:    m.Chat.ID,
		ThreadID:  m.ThreadID,
		MessageID: m.ID,
		Data:      cb.Data,
	}
	if u := cb.Sender; u != nil {
		out.FromID, out.FromUsername = u.ID, u.Username
	}
	return out
}

func displayName(u *tele.User) string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}
