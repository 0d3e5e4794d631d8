package adapter

import (
	"bytes"
	"context"
	"hash/fnv"
	"time"
	"unicode/utf8"

	tele "gopkg.in/telebot.v4"

	kit "allybot/internal/transport"
	logx "allybot/pkg/logx"
)

const (
	maxMenuCommands = 100
	maxMenuDescLen  = 256
	logSendTimeout  = 5 * time.Second
)

func teleOptions(threadID int, opt *kit.SendOptions, markup bool) *tele.SendOptions {
	so := &tele.SendOptions{ThreadID: threadID}
	if opt == nil {
		return so
	}
	so.ParseMode = opt.ParseMode
	so.DisableWebPagePreview = opt.DisablePreview
	if rm, ok := opt.ReplyMarkupAdapter.(*tele.ReplyMarkup); ok && markup {
		so.ReplyMarkup = rm
	}
	return so
}

func parseMode(opt *kit.SendOptions) string {
	if opt == nil {
		return ""
	}
	return opt.ParseMode
}

// SendText sends text, split into several messages when it is too long.
// The keyboard goes on the first one, whose ref is returned.
func (a *Adapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	var first kit.MessageRef
	err := a.sendChunks(ctx, to, chunkText(text, textLimit, parseMode(opt)), opt, func(ref kit.MessageRef) {
		if first.ChatID == 0 {
			first = ref
		}
	})
	return first, err
}

func (a *Adapter) sendChunks(ctx context.Context, to kit.ChatTarget, chunks []string, opt *kit.SendOptions, sent func(kit.MessageRef)) error {
	chat := &tele.Chat{ID: to.ChatID}
	for i, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			return err
		}
		msg, err := a.bot.Send(chat, chunk, teleOptions(to.ThreadID, opt, i == 0))
		if err != nil {
			return err
		}
		sent(kit.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: msg.ID})
	}
	return nil
}

// EditText replaces the message text. Overflow beyond one message is sent
// as follow-up messages.
func (a *Adapter) EditText(ctx context.Context, ref kit.MessageRef, text string, opt *kit.SendOptions) error {
	chunks := chunkText(text, textLimit, parseMode(opt))
	m := &tele.Message{ID: ref.MessageID, Chat: &tele.Chat{ID: ref.ChatID}}
	if _, err := a.bot.Edit(m, chunks[0], teleOptions(0, opt, true)); err != nil {
		return err
	}
	if len(chunks) == 1 {
		return nil
	}
	noMarkup := kit.SendOptions{}
	if opt != nil {
		noMarkup = kit.SendOptions{ParseMode: opt.ParseMode, DisablePreview: opt.DisablePreview}
	}
	to := ref.Target()
	return a.sendChunks(ctx, to, chunks[1:], &noMarkup, func(kit.MessageRef) {})
}

func (a *Adapter) AnswerCallback(ctx context.Context, callbackID string, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return a.bot.Respond(&tele.Callback{ID: callbackID}, &tele.CallbackResponse{Text: text})
}

// SendDocument uploads doc to the target chat.
func (a *Adapter) SendDocument(ctx context.Context, to kit.ChatTarget, doc kit.Document) (kit.MessageRef, error) {
	if err := ctx.Err(); err != nil {
		return kit.MessageRef{}, err
	}
	d := &tele.Document{
		File:     tele.FromReader(bytes.NewReader(doc.Data)),
		FileName: doc.FileName,
		MIME:     doc.MIME,
		Caption:  doc.Caption,
	}
	msg, err := a.bot.Send(&tele.Chat{ID: to.ChatID}, d, &tele.SendOptions{ThreadID: to.ThreadID})
	if err != nil {
		return kit.MessageRef{}, err
	}
	return kit.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: msg.ID}, nil
}

// SendLog posts a plain log line; it implements logx.Sender.
func (a *Adapter) SendLog(ctx context.Context, chatID int64, threadID int, text string) error {
	ctx, cancel := context.WithTimeout(ctx, logSendTimeout)
	defer cancel()
	_, err := a.SendText(ctx, kit.ChatTarget{ChatID: chatID, ThreadID: threadID}, text, &kit.SendOptions{DisablePreview: true})
	return err
}

// UpdateMenuCommands publishes the /menu list via setMyCommands. Repeating
// the last published list is a no-op.
func (a *Adapter) UpdateMenuCommands(ctx context.Context, cmds []kit.BotCommand) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	menu := menuCommands(cmds)
	sum := menuSum(menu)

	a.mu.Lock()
	defer a.mu.Unlock()
	if sum == a.menuSum {
		return nil
	}
	if err := a.bot.SetCommands(menu); err != nil {
		return err
	}
	a.menuSum = sum
	a.log.Info("menu commands updated", logx.Int("count", len(menu)))
	return nil
}

func menuCommands(cmds []kit.BotCommand) []tele.Command {
	out := make([]tele.Command, 0, min(len(cmds), maxMenuCommands))
	for _, c := range cmds {
		if c.Command == "" {
			continue
		}
		desc := c.Description
		if desc == "" {
			desc = c.Command
		}
		out = append(out, tele.Command{Text: c.Command, Description: truncate(desc, maxMenuDescLen)})
		if len(out) == maxMenuCommands {
			break
		}
	}
	return out
}

func menuSum(menu []tele.Command) uint64 {
	h := fnv.New64a()
	for _, c := range menu {
		_, _ = h.Write([]byte(c.Text + "\x00" + c.Description + "\x00"))
	}
	return h.Sum64()
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
