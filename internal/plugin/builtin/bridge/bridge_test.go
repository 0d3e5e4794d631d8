package bridge

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"allybot/internal/i18n"
	core "allybot/internal/plugin"
	"allybot/internal/storage"
	"allybot/internal/translate"
	kit "allybot/internal/transport"
	logx "allybot/pkg/logx"
)

const (
	chatDE int64 = -1001
	chatEN int64 = -1002
	chatFR int64 = -1003
)

type fakeProvider struct{}

func (fakeProvider) Name() string { return "fake" }

func (fakeProvider) Translate(ctx context.Context, text, target string) (string, error) {
	if target == "fr" {
		return "", errors.New("quota exceeded")
	}
	return target + ": " + text, nil
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []kit.Notification
}

func (f *fakeNotifier) Notify(ctx context.Context, n kit.Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, n)
	return nil
}

func (f *fakeNotifier) SendToChannel(ctx context.Context, chatID int64, text string) error {
	return f.Notify(ctx, kit.Notification{Target: kit.ChatTarget{ChatID: chatID}, Text: text})
}

func (f *fakeNotifier) byChat() map[int64]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := map[int64]string{}
	for _, n := range f.sent {
		out[n.Target.ChatID] = n.Text
	}
	return out
}

type replyAdapter struct {
	mu   sync.Mutex
	sent []string
}

func (a *replyAdapter) Start(ctx context.Context, out chan<- kit.Update) error { return nil }
func (a *replyAdapter) Stop(ctx context.Context) error                         { return nil }
func (a *replyAdapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sent = append(a.sent, text)
	return kit.MessageRef{ChatID: to.ChatID}, nil
}
func (a *replyAdapter) EditText(ctx context.Context, ref kit.MessageRef, text string, opt *kit.SendOptions) error {
	return nil
}
func (a *replyAdapter) AnswerCallback(ctx context.Context, id, text string) error { return nil }

func (a *replyAdapter) last() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sent[len(a.sent)-1]
}

func newPlugin(t *testing.T) (*Plugin, *fakeNotifier, *replyAdapter) {
	t.Helper()
	ctx := context.Background()
	st, err := storage.Open(ctx, storage.Config{Path: filepath.Join(t.TempDir(), "ally.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	tr := translate.New(translate.Config{Provider: "none", RatePerSec: 100}, logx.Nop())
	tr.SetProvider(fakeProvider{})
	notes := &fakeNotifier{}
	p := New(i18n.MustNew("en"), tr)
	deps := core.PluginDeps{Logger: logx.Nop(), Store: st, Services: &core.Services{Notifier: notes}}
	if err := p.Init(ctx, deps); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := p.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = p.Stop(context.Background()) })
	return p, notes, &replyAdapter{}
}

func ownerReq(ad *replyAdapter, chat int64, args ...string) *core.Request {
	return &core.Request{
		Chat:        kit.ChatTarget{ChatID: chat},
		FromID:      1,
		Args:        args,
		Adapter:     ad,
		Logger:      logx.Nop(),
		OwnerUserID: []int64{1},
	}
}

func bind(t *testing.T, p *Plugin, ad *replyAdapter) {
	t.Helper()
	for chat, lang := range map[int64]string{chatDE: "de", chatEN: "en", chatFR: "fr"} {
		if err := p.cmdSet(context.Background(), ownerReq(ad, chat, lang)); err != nil {
			t.Fatalf("cmdSet: %v", err)
		}
	}
}

func post(chat int64, text string) kit.Update {
	return kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{
		ChatID: chat, FromID: 5, FromUsername: "hans", Text: text, IsGroup: true,
	}}
}

func TestMirrorTranslatesIntoPeers(t *testing.T) {
	p, notes, ad := newPlugin(t)
	bind(t, p, ad)

	if err := p.mirror(context.Background(), post(chatDE, "  Angriff\n um  20 Uhr ")); err != nil {
		t.Fatalf("mirror: %v", err)
	}
	got := notes.byChat()
	if len(got) != 2 {
		t.Fatalf("mirrored to %d chats, want 2: %v", len(got), got)
	}
	if _, ok := got[chatDE]; ok {
		t.Fatal("message mirrored back to its source")
	}
	wantEN := "[ALLY-BRIDGE] <b>@hans → EN</b>\nen: Angriff um 20 Uhr\n— Original: Angriff um 20 Uhr"
	if got[chatEN] != wantEN {
		t.Fatalf("EN post =\n%q\nwant\n%q", got[chatEN], wantEN)
	}
	if !strings.Contains(got[chatFR], "(untranslated) Angriff um 20 Uhr") {
		t.Fatalf("FR post should fall back to the original: %q", got[chatFR])
	}
}

func TestMirrorSkips(t *testing.T) {
	p, notes, ad := newPlugin(t)
	bind(t, p, ad)
	ctx := context.Background()

	for _, up := range []kit.Update{
		post(chatDE, "[ALLY-BRIDGE] <b>x → DE</b>"),
		post(chatDE, "/stats"),
		post(chatDE, " \n "),
		post(-999, "unbridged chat"),
		{Kind: kit.UpdateMember, Message: &kit.Message{ChatID: chatDE, Joined: true}},
	} {
		if err := p.mirror(ctx, up); err != nil {
			t.Fatalf("mirror: %v", err)
		}
	}
	if n := len(notes.byChat()); n != 0 {
		t.Fatalf("unexpected mirrors: %d", n)
	}
}

func TestSetShowClear(t *testing.T) {
	p, _, ad := newPlugin(t)
	ctx := context.Background()

	if err := p.cmdSet(ctx, ownerReq(ad, chatDE, "xx")); err != nil {
		t.Fatalf("cmdSet: %v", err)
	}
	if !strings.Contains(ad.last(), "usage: /bridge_set") {
		t.Fatalf("reply = %q", ad.last())
	}

	if err := p.cmdSet(ctx, ownerReq(ad, chatDE, "DE", "Alliance")); err != nil {
		t.Fatalf("cmdSet: %v", err)
	}
	if err := p.cmdSet(ctx, ownerReq(ad, chatEN, "en", "alliance")); err != nil {
		t.Fatalf("cmdSet: %v", err)
	}
	if err := p.cmdShow(ctx, ownerReq(ad, chatDE)); err != nil {
		t.Fatalf("cmdShow: %v", err)
	}
	show := ad.last()
	for _, want := range []string{"Bridge alliance", "DE -1001 (this chat)", "EN -1002", "fake"} {
		if !strings.Contains(show, want) {
			t.Fatalf("show missing %q:\n%s", want, show)
		}
	}

	if err := p.cmdClear(ctx, ownerReq(ad, chatDE)); err != nil {
		t.Fatalf("cmdClear: %v", err)
	}
	if err := p.cmdShow(ctx, ownerReq(ad, chatDE)); err != nil {
		t.Fatalf("cmdShow: %v", err)
	}
	if !strings.HasPrefix(ad.last(), "No bridge set") {
		t.Fatalf("reply = %q", ad.last())
	}
}
