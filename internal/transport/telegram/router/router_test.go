package router

import (
	"context"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	kit "allybot/internal/transport"
	logx "allybot/pkg/logx"
)

type fakeAdapter struct {
	mu       sync.Mutex
	sent     []string
	answered []string
}

func (f *fakeAdapter) Start(ctx context.Context, out chan<- kit.Update) error { return nil }
func (f *fakeAdapter) Stop(ctx context.Context) error                         { return nil }

func (f *fakeAdapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, text)
	return kit.MessageRef{ChatID: to.ChatID, MessageID: len(f.sent)}, nil
}

func (f *fakeAdapter) EditText(ctx context.Context, ref kit.MessageRef, text string, opt *kit.SendOptions) error {
	return nil
}

func (f *fakeAdapter) AnswerCallback(ctx context.Context, id, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answered = append(f.answered, id+"="+text)
	return nil
}

func (f *fakeAdapter) texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

func TestTokenizeCommandLine(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want []string
	}{
		{`/ping`, []string{"/ping"}},
		{`/event "2025-06-01 18:00" Raid night`, []string{"/event", "2025-06-01 18:00", "Raid", "night"}},
		{`/task add 'clear mines' --cap=3`, []string{"/task", "add", "clear mines", "--cap=3"}},
		{`/say a\ b ""`, []string{"/say", "a b", ""}},
		{"  \t ", nil},
	}
	for _, tt := range tests {
		tt := tt
		got := tokenizeCommandLine(tt.in)
		if !reflect.DeepEqual(got, tt.want) {
			t.Fatalf("tokenize(%q) = %#v, want %#v", tt.in, got, tt.want)
		}
	}
}

func TestParseFlags(t *testing.T) {
	t.Parallel()
	pos, flags, bools := parseFlags([]string{"a", "--cap=20", "--lang", "de", "-1001", "--dry", "-xv", "b"})
	if !reflect.DeepEqual(pos, []string{"a", "-1001", "b"}) {
		t.Fatalf("pos = %v", pos)
	}
	if flags["cap"] != "20" || flags["lang"] != "de" {
		t.Fatalf("flags = %v", flags)
	}
	if !bools["dry"] || !bools["x"] || !bools["v"] {
		t.Fatalf("bools = %v", bools)
	}
}

func TestSanitizeTelegramCommand(t *testing.T) {
	t.Parallel()
	tests := map[string]string{
		"Task Add":              "task_add",
		"reminder-delete":       "reminder_delete",
		"9lives":                "cmd_9lives",
		"!!":                    "",
		strings.Repeat("a", 40): strings.Repeat("a", 32),
	}
	for in, want := range tests {
		if got := sanitizeTelegramCommand(in); got != want {
			t.Fatalf("sanitize(%q) = %q, want %q", in, got, want)
		}
	}
}

func newTestManager(t *testing.T, owners ...int64) (*CommandManager, *fakeAdapter, chan kit.Update) {
	t.Helper()
	ad := &fakeAdapter{}
	m := NewCommandManager(logx.Nop(), ad, nil, &Services{}, owners)
	updates := make(chan kit.Update, 8)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = m.DispatchLoop(ctx, updates)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return m, ad, updates
}

func msg(text string, from int64, group bool) kit.Update {
	return kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{ChatID: -100, FromID: from, Text: text, IsGroup: group}}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestRoutingSubcommandsAndAliases(t *testing.T) {
	m, _, updates := newTestManager(t)

	var mu sync.Mutex
	var got []string
	record := func(ctx context.Context, req *Request) error {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, req.Command+"|"+strings.Join(req.Args, ",")+"|"+req.Flags["cap"])
		return nil
	}
	m.SetRegistry([]Command{
		{Route: "task add", Handle: record},
		{Route: "task list", Aliases: []string{"tasks"}, Handle: record},
	}, nil, nil)

	updates <- msg(`/task add "clear mines" --cap=2`, 1, true)
	updates <- msg("/task_list", 1, true)
	updates <- msg("/tasks@allybot mine", 1, true)

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 3
	})
	mu.Lock()
	defer mu.Unlock()
	want := map[string]bool{
		"task add|clear mines|2": true,
		"task list||":            true,
		"task list|mine|":        true,
	}
	for _, g := range got {
		if !want[g] {
			t.Fatalf("unexpected dispatch %q (all: %v)", g, got)
		}
	}
}

func TestOwnerOnlyAndUnknown(t *testing.T) {
	m, ad, updates := newTestManager(t, 42)
	called := make(chan struct{}, 1)
	m.SetRegistry([]Command{{Route: "admin", Access: AccessOwnerOnly, Handle: func(ctx context.Context, req *Request) error {
		called <- struct{}{}
		return nil
	}}}, nil, nil)

	updates <- msg("/admin", 7, true)
	updates <- msg("/nope", 7, true)
	updates <- msg("/nope", 7, false)
	waitFor(t, func() bool { return len(ad.texts()) == 2 })

	texts := ad.texts()
	if !strings.Contains(texts[0], "restricted") || !strings.Contains(texts[1], "Unknown command") {
		t.Fatalf("texts = %v", texts)
	}

	updates <- msg("/admin", 42, false)
	select {
	case <-called:
	case <-time.After(2 * time.Second):
		t.Fatal("owner command not dispatched")
	}
}

func TestObserversSeeMessagesAndMembers(t *testing.T) {
	m, _, updates := newTestManager(t)
	seen := make(chan kit.UpdateKind, 4)
	m.SetRegistry(nil, nil, []MessageObserver{{Name: "count", Handle: func(ctx context.Context, up kit.Update) error {
		seen <- up.Kind
		return nil
	}}})

	updates <- msg("hello", 1, true)
	updates <- kit.Update{Kind: kit.UpdateMember, Message: &kit.Message{ChatID: -100, FromID: 2, Joined: true}}
	for i := 0; i < 2; i++ {
		select {
		case <-seen:
		case <-time.After(2 * time.Second):
			t.Fatalf("observer saw %d updates, want 2", i)
		}
	}
}

func TestCallbackAccess(t *testing.T) {
	m, ad, updates := newTestManager(t, 42)
	payloads := make(chan string, 2)
	m.SetRegistry(nil, []CallbackRoute{
		{Plugin: "schedule", Action: "rsvp", Access: CallbackAccessEveryone, Handle: func(ctx context.Context, req *Request, payload string) error {
			payloads <- payload
			return nil
		}},
		{Plugin: "schedule", Action: "purge", Handle: func(ctx context.Context, req *Request, payload string) error {
			payloads <- "purge"
			return nil
		}},
	}, nil)

	updates <- kit.Update{Kind: kit.UpdateCallback, Callback: &kit.Callback{ID: "c1", FromID: 7, Data: "schedule:purge:1"}}
	updates <- kit.Update{Kind: kit.UpdateCallback, Callback: &kit.Callback{ID: "c2", FromID: 7, Data: "schedule:rsvp:12:yes"}}

	select {
	case p := <-payloads:
		if p != "12:yes" {
			t.Fatalf("payload = %q", p)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("rsvp callback not dispatched")
	}
	waitFor(t, func() bool {
		ad.mu.Lock()
		defer ad.mu.Unlock()
		for _, a := range ad.answered {
			if a == "c1=forbidden" {
				return true
			}
		}
		return false
	})
}

func TestHelpText(t *testing.T) {
	t.Parallel()
	m := NewCommandManager(logx.Nop(), &fakeAdapter{}, nil, nil, nil)
	noop := func(ctx context.Context, req *Request) error { return nil }
	m.SetRegistry([]Command{
		{Route: "task add", Description: "add a task", Usage: "/task add <title>", Handle: noop},
		{Route: "purge", Access: AccessOwnerOnly, Description: "purge data", Handle: noop},
	}, nil, nil)

	top := m.helpText(nil)
	if !strings.Contains(top, "/task") || strings.Index(top, "/purge") < strings.Index(top, "/task") {
		t.Fatalf("top help = %q", top)
	}
	node := m.helpText([]string{"task", "add"})
	if !strings.Contains(node, "&lt;title&gt;") || !strings.Contains(node, "task_add") {
		t.Fatalf("node help = %q", node)
	}
	if !strings.Contains(m.helpText([]string{"zzz"}), "Unknown") {
		t.Fatal("unknown help missing")
	}
}
