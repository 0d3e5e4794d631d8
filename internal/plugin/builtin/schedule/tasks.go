package schedule

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"strconv"
	"strings"

	core "allybot/internal/plugin"
	pluginkit "allybot/internal/plugin/kit"
	sched "allybot/internal/schedule"
	"allybot/internal/storage"
	kit "allybot/internal/transport"
	"allybot/pkg/tgui"
)

const taskAddUsage = "/task add <when|-> <title> [| description]"

func (p *Plugin) cmdTaskAdd(ctx context.Context, req *core.Request) error {
	if len(req.Args) < 2 {
		return p.fail(ctx, req, usageErr(taskAddUsage))
	}
	at := sched.NoDue
	rest := req.Args[1:]
	if req.Args[0] != "-" {
		var when string
		when, rest = sched.SplitWhen(req.Args)
		var err error
		if at, err = sched.ParseWhen(when, p.now(), p.location(req)); err != nil {
			return p.fail(ctx, req, err)
		}
	}
	title, desc := splitTitle(rest)
	if title == "" {
		return p.fail(ctx, req, usageErr(taskAddUsage))
	}
	return p.create(ctx, req, sched.NewItem{
		ScopeID:     req.Chat.ChatID,
		Kind:        sched.KindTask,
		ScheduledAt: at,
		CreatorID:   req.FromID,
		Title:       title,
		Description: desc,
		Lang:        p.lang(req),
	})
}

// taskFilter reads an optional open|closed argument; open is the default.
func taskFilter(args []string) (string, error) {
	if len(args) == 0 {
		return string(sched.ItemOpen), nil
	}
	switch s := strings.ToLower(args[0]); s {
	case string(sched.ItemOpen), string(sched.ItemClosed):
		return s, nil
	case "all":
		return "", nil
	default:
		return "", usageErr("/task list [open|closed|all]")
	}
}

func (p *Plugin) cmdTaskList(ctx context.Context, req *core.Request) error {
	status, err := taskFilter(req.Args)
	if err != nil {
		return p.fail(ctx, req, err)
	}
	key := status
	if key == "" {
		key = "all"
	}
	msg, err := p.viewTasks(ctx, req, pluginkit.ListNav{View: "tasks", Filter: key})
	if err != nil {
		return p.fail(ctx, req, err)
	}
	_, err = msg.Send(ctx, req.Adapter, req.Chat)
	return err
}

// viewTasks renders one page of the chat's tasks. Filter is open, closed or all.
func (p *Plugin) viewTasks(ctx context.Context, req *core.Request, nav pluginkit.ListNav) (tgui.Message, error) {
	st, err := p.Store()
	if err != nil {
		return tgui.Message{}, err
	}
	status := nav.Filter
	if status == "all" {
		status = ""
	}
	items, err := st.ListItems(ctx, storage.ItemFilter{
		ScopeID: req.Chat.ChatID,
		Kind:    string(sched.KindTask),
		Status:  status,
	})
	if err != nil {
		return tgui.Message{}, err
	}
	return p.pageView(req, nav, "Tasks ("+nav.Filter+")", items), nil
}

// taskStatusCmd sets a fixed task status for the sender.
func (p *Plugin) taskStatusCmd(status string) core.HandlerFunc {
	usage := "/task claim <id>"
	if status == string(sched.StatusUnclaimed) {
		usage = "/task unclaim <id>"
	}
	return func(ctx context.Context, req *core.Request) error {
		id, err := parseID(req.Args, usage)
		if err != nil {
			return p.fail(ctx, req, err)
		}
		it, err := p.setTaskStatus(ctx, req, id, status)
		if err != nil {
			return p.fail(ctx, req, err)
		}
		return p.sendCard(ctx, req, it)
	}
}

func (p *Plugin) setTaskStatus(ctx context.Context, req *core.Request, id int64, status string) (sched.Item, error) {
	_, it, err := p.loadScoped(ctx, req, id)
	if err != nil {
		return sched.Item{}, err
	}
	if it.Kind != sched.KindTask {
		return sched.Item{}, fmt.Errorf("%w: item %d is a %s", sched.ErrInvalidStatus, id, it.Kind)
	}
	return p.setStatus(ctx, req, it.ID, status)
}

// cmdTaskDone claims the task for the sender first when they have not.
func (p *Plugin) cmdTaskDone(ctx context.Context, req *core.Request) error {
	id, err := parseID(req.Args, "/task done <id>")
	if err != nil {
		return p.fail(ctx, req, err)
	}
	st, it, err := p.loadScoped(ctx, req, id)
	if err != nil {
		return p.fail(ctx, req, err)
	}
	if it.Kind != sched.KindTask {
		return p.fail(ctx, req, fmt.Errorf("%w: item %d is a %s", sched.ErrInvalidStatus, id, it.Kind))
	}
	g, err := st.GroupByStatus(ctx, id)
	if err != nil {
		return p.fail(ctx, req, err)
	}
	if !containsUser(g, sched.StatusClaimed, req.FromID) && !containsUser(g, sched.StatusDone, req.FromID) {
		if _, err := st.Book(ctx, id, req.FromID, req.FromUsername); err != nil {
			p.audit(ctx, req, "item.status.claimed", id, err)
			return p.fail(ctx, req, err)
		}
	}
	if _, err := p.setStatus(ctx, req, id, string(sched.StatusDone)); err != nil {
		return p.fail(ctx, req, err)
	}
	return p.sendCard(ctx, req, it)
}

func containsUser(g sched.Grouped, st sched.Status, userID int64) bool {
	for _, id := range g.UserIDs(st) {
		if id == userID {
			return true
		}
	}
	return false
}

var csvHeader = []string{"id", "title", "description", "created_by", "created_ts", "due_ts", "status"}

// tasksCSV writes the export format: unix timestamps, empty due_ts for
// undated tasks.
func tasksCSV(items []sched.Item) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(csvHeader); err != nil {
		return nil, err
	}
	for _, it := range items {
		due := ""
		if it.HasDue() {
			due = strconv.FormatInt(it.ScheduledAt.Unix(), 10)
		}
		row := []string{
			strconv.FormatInt(it.ID, 10),
			it.Title,
			it.Description,
			strconv.FormatInt(it.CreatorID, 10),
			strconv.FormatInt(it.CreatedAt.Unix(), 10),
			due,
			string(it.Status),
		}
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}

func (p *Plugin) cmdTaskExport(ctx context.Context, req *core.Request) error {
	status, err := taskFilter(req.Args)
	if err != nil {
		return p.fail(ctx, req, err)
	}
	st, err := p.Store()
	if err != nil {
		return p.fail(ctx, req, err)
	}
	items, err := st.ListItems(ctx, storage.ItemFilter{
		ScopeID: req.Chat.ChatID,
		Kind:    string(sched.KindTask),
		Status:  status,
	})
	if err != nil {
		return p.fail(ctx, req, err)
	}
	data, err := tasksCSV(items)
	if err != nil {
		return p.fail(ctx, req, err)
	}
	name := fmt.Sprintf("tasks-%s.csv", p.now().UTC().Format("20060102-1504"))
	return p.sendFile(ctx, req, kit.Document{
		FileName: name,
		MIME:     "text/csv",
		Data:     data,
		Caption:  fmt.Sprintf("%d tasks", len(items)),
	})
}

// sendFile uploads doc, or posts it inline when the adapter cannot send files.
func (p *Plugin) sendFile(ctx context.Context, req *core.Request, doc kit.Document) error {
	if ds, ok := req.Adapter.(kit.DocumentSender); ok {
		_, err := ds.SendDocument(ctx, req.Chat, doc)
		return err
	}
	msg := tgui.New().Title("📎", doc.FileName).PreMulti(string(doc.Data)).Build()
	_, err := msg.Send(ctx, req.Adapter, req.Chat)
	return err
}
