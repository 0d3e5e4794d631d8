package schedule

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"allybot/internal/i18n"
	core "allybot/internal/plugin"
	sched "allybot/internal/schedule"
	"allybot/internal/storage"
	kit "allybot/internal/transport"
	logx "allybot/pkg/logx"
)

const (
	chatID  int64 = -100123
	ownerID int64 = 1
)

type fakeAdapter struct {
	mu       sync.Mutex
	sent     []string
	markup   []bool
	edits    []string
	answered []string
	docs     []kit.Document
}

func (f *fakeAdapter) Start(ctx context.Context, out chan<- kit.Update) error { return nil }
func (f *fakeAdapter) Stop(ctx context.Context) error                         { return nil }

func (f *fakeAdapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, text)
	f.markup = append(f.markup, opt != nil && opt.ReplyMarkupAdapter != nil)
	return kit.MessageRef{ChatID: to.ChatID, MessageID: len(f.sent)}, nil
}

func (f *fakeAdapter) EditText(ctx context.Context, ref kit.MessageRef, text string, opt *kit.SendOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.edits = append(f.edits, text)
	return nil
}

func (f *fakeAdapter) AnswerCallback(ctx context.Context, id, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answered = append(f.answered, text)
	return nil
}

func (f *fakeAdapter) SendDocument(ctx context.Context, to kit.ChatTarget, doc kit.Document) (kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.docs = append(f.docs, doc)
	return kit.MessageRef{ChatID: to.ChatID}, nil
}

func (f *fakeAdapter) last() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		return ""
	}
	return f.sent[len(f.sent)-1]
}

func newTestPlugin(t *testing.T) (*Plugin, *fakeAdapter, *storage.Store) {
	t.Helper()
	ctx := context.Background()
	st, err := storage.Open(ctx, storage.Config{Path: filepath.Join(t.TempDir(), "ally.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	p := New(i18n.MustNew("en"))
	if err := p.Init(ctx, core.PluginDeps{Logger: logx.Nop(), Store: st}); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := p.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = p.Stop(context.Background()) })
	return p, &fakeAdapter{}, st
}

func newReq(ad *fakeAdapter, from int64, user string, args ...string) *core.Request {
	return &core.Request{
		Chat:         kit.ChatTarget{ChatID: chatID},
		FromID:       from,
		FromUsername: user,
		Args:         args,
		Flags:        map[string]string{},
		Adapter:      ad,
		Logger:       logx.Nop(),
		OwnerUserID:  []int64{ownerID},
	}
}

func cbReq(ad *fakeAdapter, from int64, user string) *core.Request {
	r := newReq(ad, from, user)
	r.Update = kit.Update{Kind: kit.UpdateCallback, Callback: &kit.Callback{ID: "cb", ChatID: chatID, MessageID: 9, FromID: from}}
	return r
}

func onlyItem(t *testing.T, st *storage.Store, kind sched.Kind) sched.Item {
	t.Helper()
	items, err := st.ListItems(context.Background(), storage.ItemFilter{ScopeID: chatID, Kind: string(kind)})
	if err != nil {
		t.Fatalf("ListItems: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("got %d %s items, want 1", len(items), kind)
	}
	return items[0]
}

func TestBuffCreatesCard(t *testing.T) {
	p, ad, st := newTestPlugin(t)
	ctx := context.Background()
	when := time.Now().Add(48 * time.Hour).UTC()

	req := newReq(ad, 7, "ann", "training", when.Format("2006-01-02"), when.Format("15:04"), "2")
	if err := p.cmdBuff(ctx, req); err != nil {
		t.Fatalf("cmdBuff: %v", err)
	}
	it := onlyItem(t, st, sched.KindBuff)
	if it.Title != "Training Buff" || it.Capacity != 2 || it.Lang != "en" || it.CreatorID != 7 {
		t.Fatalf("unexpected item: %+v", it)
	}
	card := ad.last()
	if !strings.Contains(card, "Training Buff #"+strconv.FormatInt(it.ID, 10)) || !strings.Contains(card, "(0/2)") {
		t.Fatalf("card = %q", card)
	}
	if !ad.markup[len(ad.markup)-1] {
		t.Fatal("card should carry RSVP buttons")
	}

	if err := p.cmdBuff(ctx, newReq(ad, 7, "ann", "party", "+1h")); err != nil {
		t.Fatalf("cmdBuff: %v", err)
	}
	if !strings.Contains(ad.last(), "usage: /buff &lt;training|research|build&gt;") {
		t.Fatalf("expected usage, got %q", ad.last())
	}
}

func TestBuffRejectsPastTime(t *testing.T) {
	p, ad, st := newTestPlugin(t)
	past := time.Now().Add(-2 * time.Hour).UTC()
	req := newReq(ad, 7, "ann", "build", past.Format("2006-01-02"), past.Format("15:04"))
	if err := p.cmdBuff(context.Background(), req); err != nil {
		t.Fatalf("cmdBuff: %v", err)
	}
	if !strings.Contains(ad.last(), "Could not understand the time") {
		t.Fatalf("reply = %q", ad.last())
	}
	items, _ := st.ListItems(context.Background(), storage.ItemFilter{})
	if len(items) != 0 {
		t.Fatalf("past buff was stored: %+v", items)
	}
}

func TestRSVPCallbackHonorsCapacity(t *testing.T) {
	p, ad, st := newTestPlugin(t)
	ctx := context.Background()

	req := newReq(ad, 7, "ann", "+2h", "Raid", "night", "|", "bring", "potions")
	req.Flags["cap"] = "1"
	if err := p.cmdEvent(ctx, req); err != nil {
		t.Fatalf("cmdEvent: %v", err)
	}
	it := onlyItem(t, st, sched.KindEvent)
	if it.Title != "Raid night" || it.Description != "bring potions" || it.Capacity != 1 {
		t.Fatalf("unexpected item: %+v", it)
	}

	if err := p.cbRSVP(ctx, cbReq(ad, 7, "ann"), rsvpPayload(it.ID, sched.StatusYes)); err != nil {
		t.Fatalf("cbRSVP: %v", err)
	}
	if len(ad.edits) != 1 || !strings.Contains(ad.edits[0], "@ann") {
		t.Fatalf("edits = %q", ad.edits)
	}

	if err := p.cbRSVP(ctx, cbReq(ad, 8, "bob"), rsvpPayload(it.ID, sched.StatusYes)); err != nil {
		t.Fatalf("cbRSVP: %v", err)
	}
	if n := len(ad.answered); n != 1 || ad.answered[0] != "All slots are taken." {
		t.Fatalf("answered = %q", ad.answered)
	}

	// A non-slot status is always accepted.
	if err := p.cmdRSVP(ctx, newReq(ad, 8, "bob", strconv.FormatInt(it.ID, 10), "maybe")); err != nil {
		t.Fatalf("cmdRSVP: %v", err)
	}
	g, err := st.GroupByStatus(ctx, it.ID)
	if err != nil {
		t.Fatalf("GroupByStatus: %v", err)
	}
	if len(g[sched.StatusYes]) != 1 || len(g[sched.StatusMaybe]) != 1 {
		t.Fatalf("groups = %+v", g)
	}

	if err := p.cmdRSVP(ctx, newReq(ad, 8, "bob", strconv.FormatInt(it.ID, 10), "claimed")); err != nil {
		t.Fatalf("cmdRSVP: %v", err)
	}
	if ad.last() != "That status is not valid here." {
		t.Fatalf("reply = %q", ad.last())
	}
}

func TestCloseNeedsCreatorOrOwner(t *testing.T) {
	p, ad, st := newTestPlugin(t)
	ctx := context.Background()
	if err := p.cmdWarplan(ctx, newReq(ad, 7, "ann", "+3h", "Hold", "the", "bridge")); err != nil {
		t.Fatalf("cmdWarplan: %v", err)
	}
	id := strconv.FormatInt(onlyItem(t, st, sched.KindWarplan).ID, 10)

	if err := p.cmdClose(ctx, newReq(ad, 9, "eve", id)); err != nil {
		t.Fatalf("cmdClose: %v", err)
	}
	if ad.last() != "Only the creator or an owner can do that." {
		t.Fatalf("reply = %q", ad.last())
	}

	if err := p.cmdClose(ctx, newReq(ad, ownerID, "boss", id)); err != nil {
		t.Fatalf("cmdClose: %v", err)
	}
	if !strings.Contains(ad.last(), "closed") {
		t.Fatalf("reply = %q", ad.last())
	}
	if err := p.cmdClose(ctx, newReq(ad, 7, "ann", id)); err != nil {
		t.Fatalf("cmdClose: %v", err)
	}
	if ad.last() != "This is already closed." {
		t.Fatalf("reply = %q", ad.last())
	}

	if err := p.cmdDelete(ctx, newReq(ad, 7, "ann", id)); err != nil {
		t.Fatalf("cmdDelete: %v", err)
	}
	if err := p.cmdItem(ctx, newReq(ad, 7, "ann", id)); err != nil {
		t.Fatalf("cmdItem: %v", err)
	}
	if ad.last() != "Not found." {
		t.Fatalf("reply = %q", ad.last())
	}
}

func TestItemsFromOtherChatsAreHidden(t *testing.T) {
	p, ad, st := newTestPlugin(t)
	ctx := context.Background()
	if err := p.cmdEvent(ctx, newReq(ad, 7, "ann", "+1h", "Meetup")); err != nil {
		t.Fatalf("cmdEvent: %v", err)
	}
	id := strconv.FormatInt(onlyItem(t, st, sched.KindEvent).ID, 10)

	other := newReq(ad, 7, "ann", id)
	other.Chat = kit.ChatTarget{ChatID: -200}
	if err := p.cmdItem(ctx, other); err != nil {
		t.Fatalf("cmdItem: %v", err)
	}
	if ad.last() != "Not found." {
		t.Fatalf("reply = %q", ad.last())
	}
}

func TestTaskDoneClaimsFirstAndExport(t *testing.T) {
	p, ad, st := newTestPlugin(t)
	ctx := context.Background()
	if err := p.cmdTaskAdd(ctx, newReq(ad, 7, "ann", "-", "Clear", "mines", "|", "east", "gate")); err != nil {
		t.Fatalf("cmdTaskAdd: %v", err)
	}
	it := onlyItem(t, st, sched.KindTask)
	if it.HasDue() {
		t.Fatalf("undated task got a due time: %v", it.ScheduledAt)
	}

	if err := p.cmdTaskDone(ctx, newReq(ad, 8, "bob", strconv.FormatInt(it.ID, 10))); err != nil {
		t.Fatalf("cmdTaskDone: %v", err)
	}
	ps, err := st.Participants(ctx, it.ID)
	if err != nil {
		t.Fatalf("Participants: %v", err)
	}
	if len(ps) != 1 || ps[0].UserID != 8 || ps[0].Status != sched.StatusDone {
		t.Fatalf("participants = %+v", ps)
	}

	if err := p.cmdTaskExport(ctx, newReq(ad, 7, "ann", "all")); err != nil {
		t.Fatalf("cmdTaskExport: %v", err)
	}
	if len(ad.docs) != 1 {
		t.Fatalf("docs = %d", len(ad.docs))
	}
	lines := strings.Split(strings.TrimSpace(string(ad.docs[0].Data)), "\n")
	if len(lines) != 2 || lines[0] != "id,title,description,created_by,created_ts,due_ts,status" {
		t.Fatalf("csv = %q", ad.docs[0].Data)
	}
	if !strings.HasPrefix(lines[1], strconv.FormatInt(it.ID, 10)+",Clear mines,east gate,7,") ||
		!strings.HasSuffix(lines[1], ",,open") {
		t.Fatalf("row = %q", lines[1])
	}
}

func TestRemindLifecycle(t *testing.T) {
	p, ad, st := newTestPlugin(t)
	ctx := context.Background()

	if err := p.cmdRemind(ctx, newReq(ad, 7, "ann", "0", "stretch")); err != nil {
		t.Fatalf("cmdRemind: %v", err)
	}
	if !strings.Contains(ad.last(), "usage: /remind &lt;minutes&gt; &lt;message&gt;") {
		t.Fatalf("reply = %q", ad.last())
	}

	before := time.Now()
	if err := p.cmdRemind(ctx, newReq(ad, 7, "ann", "5", "drink", "water")); err != nil {
		t.Fatalf("cmdRemind: %v", err)
	}
	it := onlyItem(t, st, sched.KindReminder)
	if it.Title != "drink water" || it.ScheduledAt.Before(before.Add(4*time.Minute)) {
		t.Fatalf("unexpected reminder: %+v", it)
	}
	id := strconv.FormatInt(it.ID, 10)

	if err := p.cmdReminderDelete(ctx, newReq(ad, ownerID, "boss", id)); err != nil {
		t.Fatalf("cmdReminderDelete: %v", err)
	}
	if ad.last() != "Not found." {
		t.Fatalf("owner deleted a foreign reminder: %q", ad.last())
	}
	if err := p.cmdReminderDelete(ctx, newReq(ad, 7, "ann", id)); err != nil {
		t.Fatalf("cmdReminderDelete: %v", err)
	}
	if _, err := st.GetItem(ctx, it.ID); err == nil {
		t.Fatal("reminder still present")
	}
}

func TestItemCalendar(t *testing.T) {
	t.Parallel()
	it := sched.Item{
		ID:          42,
		Kind:        sched.KindEvent,
		Status:      sched.ItemOpen,
		Title:       "Raid",
		ScheduledAt: time.Date(2030, 5, 4, 18, 0, 0, 0, time.UTC),
		Recurrence:  "FREQ=WEEKLY;BYDAY=SA",
	}
	data, err := itemCalendar(it, time.Date(2030, 5, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("itemCalendar: %v", err)
	}
	s := string(data)
	for _, want := range []string{"BEGIN:VEVENT", "UID:item-42@allybot", "SUMMARY:Raid", "DTSTART:20300504T180000Z", "RRULE:FREQ=WEEKLY;BYDAY=SA"} {
		if !strings.Contains(s, want) {
			t.Fatalf("calendar missing %q:\n%s", want, s)
		}
	}

	it.ScheduledAt = sched.NoDue
	if _, err := itemCalendar(it, time.Now()); err == nil {
		t.Fatal("undated item should not export")
	}
}

func TestArgHelpers(t *testing.T) {
	t.Parallel()
	rule, rest := takeRecurrence([]string{"+1h", "every=FREQ=DAILY", "Drill"})
	if rule != "FREQ=DAILY" || strings.Join(rest, " ") != "+1h Drill" {
		t.Fatalf("takeRecurrence = %q, %v", rule, rest)
	}
	title, desc := splitTitle([]string{"Fix", "wall", "|", "north", "side"})
	if title != "Fix wall" || desc != "north side" {
		t.Fatalf("splitTitle = %q, %q", title, desc)
	}
	if _, _, err := parseRSVPPayload("12"); err == nil {
		t.Fatal("payload without status should fail")
	}
	id, st, err := parseRSVPPayload("12|yes")
	if err != nil || id != 12 || st != "yes" {
		t.Fatalf("parseRSVPPayload = %d, %q, %v", id, st, err)
	}
}

func TestValidateConfig(t *testing.T) {
	p, _, _ := newTestPlugin(t)
	ctx := context.Background()
	tests := []struct {
		raw     string
		wantErr bool
	}{
		{`{}`, false},
		{`{"default_capacity": 10, "page_size": 5, "timeouts": {"command": "20s"}}`, false},
		{`{"default_capacity": -1}`, true},
		{`{"page_size": 99}`, true},
		{`{"buff_givers": [5, 6]}`, false},
		{`{"buff_givers": [0]}`, true},
		{`{"default_lang": "xx"}`, true},
		{`{"timeouts": {"command": "soon"}}`, true},
		{`{"bogus": true}`, true},
	}
	for _, tt := range tests {
		tt := tt
		err := p.ValidateConfig(ctx, json.RawMessage(tt.raw))
		if (err != nil) != tt.wantErr {
			t.Fatalf("%s: err = %v, wantErr %v", tt.raw, err, tt.wantErr)
		}
	}
}

func TestBuffConfirmation(t *testing.T) {
	p, ad, st := newTestPlugin(t)
	ctx := context.Background()
	if err := p.cmdBuff(ctx, newReq(ad, 7, "ann", "research", "+2h")); err != nil {
		t.Fatalf("cmdBuff: %v", err)
	}
	it := onlyItem(t, st, sched.KindBuff)
	id := strconv.FormatInt(it.ID, 10)
	if !strings.Contains(ad.last(), "awaiting confirmation") {
		t.Fatalf("card = %q", ad.last())
	}

	// Without buff_givers only owners may confirm.
	if err := p.cbConfirm(ctx, cbReq(ad, 9, "eve"), id); err != nil {
		t.Fatalf("cbConfirm: %v", err)
	}
	if len(ad.answered) != 1 || ad.answered[0] != "Only the creator or an owner can do that." {
		t.Fatalf("answered = %q", ad.answered)
	}

	if err := p.OnConfigChange(ctx, json.RawMessage(`{"buff_givers": [9]}`)); err != nil {
		t.Fatalf("OnConfigChange: %v", err)
	}
	if err := p.cbConfirm(ctx, cbReq(ad, 9, "eve"), id); err != nil {
		t.Fatalf("cbConfirm: %v", err)
	}
	if len(ad.edits) != 1 || !strings.Contains(ad.edits[0], "user:9") || strings.Contains(ad.edits[0], "awaiting") {
		t.Fatalf("edits = %q", ad.edits)
	}

	// A second confirmation keeps the first confirmer.
	if err := p.cmdConfirm(ctx, newReq(ad, ownerID, "boss", id)); err != nil {
		t.Fatalf("cmdConfirm: %v", err)
	}
	got, err := st.GetItem(ctx, it.ID)
	if err != nil {
		t.Fatalf("GetItem: %v", err)
	}
	if got.ConfirmedBy != 9 || got.ConfirmedAt.IsZero() || got.NeedsConfirmation() {
		t.Fatalf("item = %+v", got)
	}

	if err := p.cmdEvent(ctx, newReq(ad, 7, "ann", "+1h", "Meetup")); err != nil {
		t.Fatalf("cmdEvent: %v", err)
	}
	ev := onlyItem(t, st, sched.KindEvent)
	if err := p.cmdConfirm(ctx, newReq(ad, ownerID, "boss", strconv.FormatInt(ev.ID, 10))); err != nil {
		t.Fatalf("cmdConfirm: %v", err)
	}
	if ad.last() != "That status is not valid here." {
		t.Fatalf("reply = %q", ad.last())
	}
}
