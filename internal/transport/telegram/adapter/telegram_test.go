package adapter

import (
	"strings"
	"testing"

	tele "gopkg.in/telebot.v4"

	kit "allybot/internal/transport"
)

func TestChunkTextShort(t *testing.T) {
	t.Parallel()
	got := chunkText("hello", 10, "")
	if len(got) != 1 || got[0] != "hello" {
		t.Fatalf("got %q", got)
	}
}

func TestChunkTextPrefersNewlines(t *testing.T) {
	t.Parallel()
	line := strings.Repeat("x", 30)
	text := line + "\n" + line + "\n" + line
	got := chunkText(text, 70, "")
	if len(got) != 2 {
		t.Fatalf("chunks = %d (%q)", len(got), got)
	}
	if got[0] != line+"\n"+line {
		t.Fatalf("first chunk = %q", got[0])
	}
	if got[1] != line {
		t.Fatalf("second chunk = %q", got[1])
	}
}

func TestChunkTextHardSplitsLongLines(t *testing.T) {
	t.Parallel()
	got := chunkText("ab\n"+strings.Repeat("é", 25), 10, "")
	want := []string{"ab", strings.Repeat("é", 10), strings.Repeat("é", 10), strings.Repeat("é", 5)}
	if len(got) != len(want) {
		t.Fatalf("got %q", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("chunk %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestChunkTextAvoidsOpenTag(t *testing.T) {
	t.Parallel()
	text := strings.Repeat("a", 18) + "<b>bold</b>"
	got := chunkText(text, 20, "HTML")
	for _, c := range got {
		if strings.Count(c, "<") != strings.Count(c, ">") {
			t.Fatalf("chunk splits a tag: %q", c)
		}
	}
	if strings.Join(got, "") != text {
		t.Fatalf("chunks lost text: %q", got)
	}
}

func TestChunkTextAvoidsEntity(t *testing.T) {
	t.Parallel()
	text := strings.Repeat("a", 17) + "&amp;" + strings.Repeat("b", 5)
	got := chunkText(text, 20, "HTML")
	if got[0] != strings.Repeat("a", 17) {
		t.Fatalf("first chunk = %q", got[0])
	}
	if strings.Join(got, "") != text {
		t.Fatalf("chunks lost text: %q", got)
	}
}

func TestMenuCommands(t *testing.T) {
	t.Parallel()
	cmds := []kit.BotCommand{
		{Command: "help"},
		{Command: ""},
		{Command: "sched", Description: strings.Repeat("d", 300)},
	}
	menu := menuCommands(cmds)
	if len(menu) != 2 {
		t.Fatalf("menu = %+v", menu)
	}
	if menu[0] != (tele.Command{Text: "help", Description: "help"}) {
		t.Fatalf("empty description not defaulted: %+v", menu[0])
	}
	if len(menu[1].Description) != maxMenuDescLen {
		t.Fatalf("description len = %d", len(menu[1].Description))
	}
	if menuSum(menu) != menuSum(menuCommands(cmds)) || menuSum(menu) == menuSum(menu[:1]) {
		t.Fatal("menu sum should track content")
	}
}

func TestConvertCallbackNeedsMessage(t *testing.T) {
	t.Parallel()
	if convertCallback(&tele.Callback{ID: "1"}, nil) != nil {
		t.Fatal("inline callback should be ignored")
	}
	cb := convertCallback(
		&tele.Callback{ID: "1", Data: "schedule:page:x", Sender: &tele.User{ID: 7, Username: "ann"}},
		&tele.Message{ID: 9, ThreadID: 3, Chat: &tele.Chat{ID: -100}},
	)
	if cb == nil || cb.ChatID != -100 || cb.MessageID != 9 || cb.ThreadID != 3 || cb.FromID != 7 || cb.Data != "schedule:page:x" {
		t.Fatalf("callback = %+v", cb)
	}
}
