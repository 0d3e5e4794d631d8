package tgui

import (
	"context"
	"strings"
	"testing"
	"time"

	kit "allybot/internal/transport"
)

type recAdapter struct {
	sent   []string
	opts   []*kit.SendOptions
	edited string
}

func (a *recAdapter) Start(ctx context.Context, out chan<- kit.Update) error { return nil }
func (a *recAdapter) Stop(ctx context.Context) error                         { return nil }
func (a *recAdapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	a.sent = append(a.sent, text)
	a.opts = append(a.opts, opt)
	return kit.MessageRef{ChatID: to.ChatID, MessageID: len(a.sent)}, nil
}
func (a *recAdapter) EditText(ctx context.Context, ref kit.MessageRef, text string, opt *kit.SendOptions) error {
	a.edited = text
	return nil
}
func (a *recAdapter) AnswerCallback(ctx context.Context, id, text string) error { return nil }

func TestBuilderEscapesHTML(t *testing.T) {
	msg := New().
		Title("📌", "Build <fast>").
		Line("a & b").
		KV("slots", "1/2").
		KV("note", "").
		RawLine("<i>raw</i>").
		Build()

	want := "📌 <b>Build &lt;fast&gt;</b>\na &amp; b\n• <b>slots</b>: 1/2\n• <b>note</b>\n<i>raw</i>"
	if msg.Text != want {
		t.Fatalf("text =\n%q\nwant\n%q", msg.Text, want)
	}
	if msg.Opt.ParseMode != "HTML" || !msg.Opt.DisablePreview {
		t.Fatalf("opts = %+v", msg.Opt)
	}
}

func TestBuilderPlainText(t *testing.T) {
	msg := New().ParseMode("").Title("", "a<b").Line("x > y").Build()
	if msg.Text != "a<b\nx > y" {
		t.Fatalf("text = %q", msg.Text)
	}
}

func TestPreMultiSplitsAndSendsFollowUps(t *testing.T) {
	var lines []string
	for i := 0; i < 40; i++ {
		lines = append(lines, strings.Repeat("x", 20))
	}
	kb := NewInline().Row(Btn("ok", Data("schedule", "rsvp", "1")))
	msg := New().Title("", "export").PreMulti(strings.Join(lines, "\n"), 300).Inline(kb).Build()
	if len(msg.More) == 0 {
		t.Fatal("expected follow-up chunks")
	}
	for _, chunk := range append([]string{msg.Text}, msg.More...) {
		if strings.Count(chunk, "<pre>") != 1 || strings.Count(chunk, "</pre>") != 1 {
			t.Fatalf("unbalanced chunk: %q", chunk)
		}
	}

	ad := &recAdapter{}
	if _, err := msg.Send(context.Background(), ad, kit.ChatTarget{ChatID: 7}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(ad.sent) != 1+len(msg.More) {
		t.Fatalf("sent %d messages, want %d", len(ad.sent), 1+len(msg.More))
	}
	if ad.opts[0].ReplyMarkupAdapter == nil {
		t.Fatal("first message lost its keyboard")
	}
	if ad.opts[1].ReplyMarkupAdapter != nil {
		t.Fatal("follow-up messages must not carry the keyboard")
	}
}

func TestCallbackData(t *testing.T) {
	type state struct {
		View string `json:"v"`
		Page int    `json:"p"`
	}
	data, err := ActionDataWithStore("schedule", "ui", state{View: "open", Page: 2}, nil)
	if err != nil {
		t.Fatalf("ActionDataWithStore: %v", err)
	}
	plugin, rest, _ := strings.Cut(data, ":")
	action, payload, _ := strings.Cut(rest, ":")
	if plugin != "schedule" || action != "ui" {
		t.Fatalf("data = %q", data)
	}
	var got state
	if err := UnpackJSON(payload, &got); err != nil || got.Page != 2 || got.View != "open" {
		t.Fatalf("UnpackJSON = %+v, %v", got, err)
	}

	big := state{View: strings.Repeat("v", 80)}
	if _, err := ActionDataWithStore("schedule", "ui", big, nil); err != ErrCallbackDataTooLong {
		t.Fatalf("err = %v, want ErrCallbackDataTooLong", err)
	}
	store := NewTokenStore()
	data, err = ActionDataWithStore("schedule", "ui", big, store)
	if err != nil || len(data) > MaxCallbackDataLen {
		t.Fatalf("data = %q, err = %v", data, err)
	}
	tok := data[strings.LastIndex(data, ":")+1:]
	if !strings.HasPrefix(tok, "~") {
		t.Fatalf("token = %q", tok)
	}
	if _, ok := store.GetBytes(tok); !ok {
		t.Fatal("stored payload missing")
	}
}

func TestTokenStoreExpiryAndCap(t *testing.T) {
	now := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	s := NewTokenStore()
	s.now = func() time.Time { return now }
	s.max = 2

	a := s.PutBytes([]byte("a"))
	now = now.Add(time.Minute)
	b := s.PutBytes([]byte("b"))
	now = now.Add(time.Minute)
	c := s.PutBytes([]byte("c"))
	if _, ok := s.GetBytes(a); ok {
		t.Fatal("oldest token should be evicted at capacity")
	}
	if v, ok := s.GetBytes(c); !ok || string(v) != "c" {
		t.Fatalf("GetBytes(c) = %q, %v", v, ok)
	}

	now = now.Add(defaultTokenTTL)
	if _, ok := s.GetBytes(b); ok {
		t.Fatal("expired token still readable")
	}
}

func TestPaginate(t *testing.T) {
	tests := []struct {
		total, index, size int
		label              string
		prev, next         bool
	}{
		{0, 0, 10, "Page 1/1", false, false},
		{27, 1, 10, "Page 2/3, 11-20 of 27", true, true},
		{27, 9, 10, "Page 3/3, 21-27 of 27", true, false},
		{5, -1, 0, "Page 1/1, 1-5 of 5", false, false},
	}
	for _, tt := range tests {
		tt := tt
		pg := Paginate(tt.total, tt.index, tt.size)
		if pg.Label() != tt.label || pg.HasPrev() != tt.prev || pg.HasNext() != tt.next {
			t.Fatalf("Paginate(%d,%d,%d) = %q prev=%v next=%v", tt.total, tt.index, tt.size, pg.Label(), pg.HasPrev(), pg.HasNext())
		}
	}
	items := []int{1, 2, 3, 4, 5}
	if got := PageOf(items, Paginate(len(items), 1, 2)); len(got) != 2 || got[0] != 3 {
		t.Fatalf("PageOf = %v", got)
	}
}

func TestTruncRunes(t *testing.T) {
	if got := TruncRunes("abcdef", 4); got != "abc…" {
		t.Fatalf("TruncRunes = %q", got)
	}
	if got := TruncRunes("äöü", 3); got != "äöü" {
		t.Fatalf("TruncRunes should count runes: %q", got)
	}
}
