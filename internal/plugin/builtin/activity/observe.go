package activity

import (
	"context"
	"errors"
	"strings"

	core "allybot/internal/plugin"
	kit "allybot/internal/transport"
)

// observe counts group traffic: one message or command per update and
// member joins/leaves. Private chats are not counted.
func (p *Plugin) observe(ctx context.Context, up kit.Update) error {
	m := up.Message
	if m == nil || !m.IsGroup || m.ChatID == 0 {
		return nil
	}
	st, err := p.Store()
	if errors.Is(err, core.ErrStorageUnavailable) {
		return nil
	}
	at := p.now()

	switch up.Kind {
	case kit.UpdateMember:
		if !m.Joined && !m.Left {
			return nil
		}
		return st.IncJoinLeave(ctx, m.ChatID, m.Joined, at)
	case kit.UpdateMessage:
		text := strings.TrimSpace(m.Text)
		if text == "" || m.FromID == 0 {
			return nil
		}
		if name, ok := commandName(text); ok {
			return st.IncCommand(ctx, m.ChatID, name, at)
		}
		return st.IncMessage(ctx, m.ChatID, m.FromID, label(m), at)
	}
	return nil
}

// commandName returns "task" for "/task@AllyBot add ...".
func commandName(text string) (string, bool) {
	if !strings.HasPrefix(text, "/") {
		return "", false
	}
	head := strings.Fields(text)[0][1:]
	head, _, _ = strings.Cut(head, "@")
	head = strings.ToLower(head)
	return head, head != ""
}

func label(m *kit.Message) string {
	if m.FromUsername != "" {
		return m.FromUsername
	}
	return m.FromName
}
