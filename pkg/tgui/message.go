package tgui

import (
	"context"
	"strings"

	kit "allybot/internal/transport"
)

// Message is a rendered reply. More are follow-up chunks of a long <pre>
// block, sent after Text without the keyboard.
type Message struct {
	Text string
	Opt  *kit.SendOptions
	More []string
}

func (m Message) options() *kit.SendOptions {
	if m.Opt == nil {
		return &kit.SendOptions{}
	}
	return m.Opt
}

func (m Message) Send(ctx context.Context, ad kit.Adapter, to kit.ChatTarget) (kit.MessageRef, error) {
	ref, err := ad.SendText(ctx, to, m.Text, m.options())
	if err == nil {
		err = m.followUps(ctx, ad, to)
	}
	return ref, err
}

// Edit rewrites ref in place; follow-up chunks still go out as new
// messages to to.
func (m Message) Edit(ctx context.Context, ad kit.Adapter, ref kit.MessageRef, to kit.ChatTarget) error {
	if err := ad.EditText(ctx, ref, m.Text, m.options()); err != nil {
		return err
	}
	return m.followUps(ctx, ad, to)
}

func (m Message) followUps(ctx context.Context, ad kit.Adapter, to kit.ChatTarget) error {
	bare := *m.options()
	bare.ReplyMarkupAdapter = nil
	for _, chunk := range m.More {
		if strings.TrimSpace(chunk) == "" {
			continue
		}
		if _, err := ad.SendText(ctx, to, chunk, &bare); err != nil {
			return err
		}
	}
	return nil
}
