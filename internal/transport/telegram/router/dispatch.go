package router

import (
	"context"
	"strings"

	"allybot/internal/telemetry"
	kit "allybot/internal/transport"
	logx "allybot/pkg/logx"
)

const (
	msgUnknown    = "Unknown command. Try /help"
	msgOwnerOnly  = "This command is restricted to bot owners."
	msgBusy       = "Busy, try again in a moment."
	answerDenied  = "forbidden"
	answerBusy    = "busy"
	callbackParts = 3
)

func (m *CommandManager) route(ctx context.Context, up kit.Update) {
	switch up.Kind {
	case kit.UpdateMessage:
		m.observe(ctx, up)
		m.onMessage(ctx, up)
	case kit.UpdateMember:
		m.observe(ctx, up)
	case kit.UpdateCallback:
		m.onCallback(ctx, up)
	}
}

// observe queues up for every observer. Commands are observed as well.
func (m *CommandManager) observe(ctx context.Context, up kit.Update) {
	if up.Message == nil {
		return
	}
	for _, o := range m.routes.Load().observers {
		timeout := o.Timeout
		if timeout <= 0 {
			timeout = observerTimeout
		}
		queued := m.pool.offer(func() {
			octx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			if err := o.Handle(octx, up); err != nil {
				m.log.Warn("observer failed", logx.String("observer", o.Name), logx.Err(err))
			}
		})
		if !queued {
			m.log.Debug("observer dropped: queue full", logx.String("observer", o.Name))
		}
	}
}

// commandWord extracts the lowercased command from "/Cmd@bot args...".
func commandWord(tok string) string {
	w := strings.TrimPrefix(tok, "/")
	w, _, _ = strings.Cut(w, "@")
	return strings.ToLower(w)
}

func (m *CommandManager) onMessage(ctx context.Context, up kit.Update) {
	msg := up.Message
	text := strings.TrimSpace(msg.Text)
	if !strings.HasPrefix(text, "/") {
		return
	}
	parts := tokenizeCommandLine(text)
	if len(parts) == 0 {
		return
	}
	to := msg.Target()

	node, path, rest := m.routes.Load().resolve(commandWord(parts[0]), parts[1:])
	switch {
	case node == nil:
		// Other bots share groups; only answer in private chats.
		if !msg.IsGroup {
			_, _ = m.adapter.SendText(ctx, to, msgUnknown, nil)
		}
	case node.cmd == nil:
		_, _ = m.adapter.SendText(ctx, to, m.helpText(path), &kit.SendOptions{DisablePreview: true, ParseMode: "HTML"})
	default:
		m.runCommand(ctx, up, *node.cmd, path, rest)
	}
}

func (m *CommandManager) runCommand(ctx context.Context, up kit.Update, cmd Command, path, raw []string) {
	msg := up.Message
	req := m.newRequest(up, msg.Target(), msg.FromID, msg.FromUsername, cmd.Route)
	if cmd.Access == AccessOwnerOnly && !req.IsOwner() {
		_, _ = m.adapter.SendText(ctx, req.Chat, msgOwnerOnly, nil)
		return
	}
	telemetry.ObserveCommand(req.Command)
	req.Path = path
	req.RawArgs = raw
	req.Args, req.Flags, req.BoolFlags = parseFlags(raw)

	h := m.wrap(cmd.Handle, cmd.Timeout)
	if !m.pool.offer(func() { _ = h(ctx, req) }) {
		_, _ = m.adapter.SendText(ctx, req.Chat, msgBusy, nil)
	}
}

// onCallback handles data of the form "<plugin>:<action>[:<payload>]".
func (m *CommandManager) onCallback(ctx context.Context, up kit.Update) {
	cb := up.Callback
	if cb == nil {
		return
	}
	parts := strings.SplitN(strings.TrimSpace(cb.Data), ":", callbackParts)
	if len(parts) < 2 {
		return
	}
	key := cbKey(parts[0], parts[1])
	route, ok := m.routes.Load().callbacks[key]
	if !ok {
		_ = m.adapter.AnswerCallback(ctx, cb.ID, "")
		return
	}

	req := m.newRequest(up, cb.Target(), cb.FromID, cb.FromUsername, "cb:"+key)
	if route.Access == CallbackAccessOwnerOnly && !req.IsOwner() {
		_ = m.adapter.AnswerCallback(ctx, cb.ID, answerDenied)
		return
	}
	telemetry.ObserveCommand(req.Command)
	if len(parts) == callbackParts {
		req.Payload = parts[2]
	}

	h := m.wrap(func(c context.Context, r *Request) error { return route.Handle(c, r, r.Payload) }, route.Timeout)
	// A handler may answer the callback itself; the trailing empty answer
	// then fails quietly.
	queued := m.pool.offer(func() {
		_ = h(ctx, req)
		_ = m.adapter.AnswerCallback(ctx, cb.ID, "")
	})
	if !queued {
		_ = m.adapter.AnswerCallback(ctx, cb.ID, answerBusy)
	}
}

func (m *CommandManager) newRequest(up kit.Update, chat kit.ChatTarget, from int64, username, key string) *Request {
	rid := newReqID()
	return &Request{
		Update:       up,
		Chat:         chat,
		FromID:       from,
		FromUsername: username,
		Command:      key,
		ReqID:        rid,
		Adapter:      m.adapter,
		Config:       m.config(),
		Logger: m.log.With(
			logx.String("rid", rid),
			logx.Int64("chat_id", chat.ChatID),
			logx.Int64("from_id", from),
			logx.String("cmd", key),
		),
		Services:    m.serv,
		OwnerUserID: m.ownerList(),
	}
}
