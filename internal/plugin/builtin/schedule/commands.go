package schedule

import (
	core "allybot/internal/plugin"
)

func (p *Plugin) Commands() []core.Command {
	return []core.Command{
		{
			Route:       "buff",
			Description: "schedule a buff slot",
			Usage:       "/buff <training|research|build> <YYYY-MM-DD HH:MM> [capacity] [lang]",
			Access:      core.AccessEveryone,
			Handle:      p.cmdBuff,
		},
		{
			Route:       "event",
			Description: "schedule an event with RSVP",
			Usage:       "/event <when> <title> [| description] [every=RRULE] [--cap N]",
			Access:      core.AccessEveryone,
			Handle:      p.cmdEvent,
		},
		{
			Route:       "warplan",
			Aliases:     []string{"war"},
			Description: "schedule a war plan",
			Usage:       "/warplan <when> <title> [| description] [--cap N]",
			Access:      core.AccessEveryone,
			Handle:      p.cmdWarplan,
		},
		{
			Route:       "rsvp",
			Description: "answer an item without buttons",
			Usage:       "/rsvp <id> <status>",
			Access:      core.AccessEveryone,
			Handle:      p.cmdRSVP,
		},
		{
			Route:       "items",
			Description: "list open items of this chat",
			Usage:       "/items [buff|event|warplan|task|reminder]",
			Access:      core.AccessEveryone,
			Handle:      p.cmdItems,
		},
		{
			Route:       "item",
			Description: "show an item and its participants",
			Usage:       "/item <id>",
			Access:      core.AccessEveryone,
			Handle:      p.cmdItem,
		},
		{
			Route:       "close",
			Description: "close an item (creator or owner)",
			Usage:       "/close <id>",
			Access:      core.AccessEveryone,
			Handle:      p.cmdClose,
		},
		{
			Route:       "buff confirm",
			Aliases:     []string{"buff_confirm"},
			Description: "confirm a buff was given (owner or buff giver)",
			Usage:       "/buff confirm <id>",
			Access:      core.AccessEveryone,
			Handle:      p.cmdConfirm,
		},
		{
			Route:       "delete",
			Description: "delete an item (creator or owner)",
			Usage:       "/delete <id>",
			Access:      core.AccessEveryone,
			Handle:      p.cmdDelete,
		},
		{
			Route:       "ics",
			Description: "export an item as a calendar file",
			Usage:       "/ics <id>",
			Access:      core.AccessEveryone,
			Handle:      p.cmdICS,
		},
		{
			Route:       "task add",
			Aliases:     []string{"task_add"},
			Description: "create a task",
			Usage:       "/task add <when|-> <title> [| description]",
			Access:      core.AccessEveryone,
			Handle:      p.cmdTaskAdd,
		},
		{
			Route:       "task list",
			Aliases:     []string{"tasks"},
			Description: "list tasks",
			Usage:       "/task list [open|closed]",
			Access:      core.AccessEveryone,
			Handle:      p.cmdTaskList,
		},
		{
			Route:       "task claim",
			Description: "claim a task",
			Usage:       "/task claim <id>",
			Access:      core.AccessEveryone,
			Handle:      p.taskStatusCmd("claimed"),
		},
		{
			Route:       "task done",
			Description: "mark a task done",
			Usage:       "/task done <id>",
			Access:      core.AccessEveryone,
			Handle:      p.cmdTaskDone,
		},
		{
			Route:       "task unclaim",
			Description: "give a task back",
			Usage:       "/task unclaim <id>",
			Access:      core.AccessEveryone,
			Handle:      p.taskStatusCmd("unclaimed"),
		},
		{
			Route:       "task close",
			Description: "close a task (creator or owner)",
			Usage:       "/task close <id>",
			Access:      core.AccessEveryone,
			Handle:      p.cmdClose,
		},
		{
			Route:       "task delete",
			Description: "delete a task (creator or owner)",
			Usage:       "/task delete <id>",
			Access:      core.AccessEveryone,
			Handle:      p.cmdDelete,
		},
		{
			Route:       "task export",
			Description: "export tasks as CSV",
			Usage:       "/task export [open|closed]",
			Access:      core.AccessEveryone,
			Handle:      p.cmdTaskExport,
		},
		{
			Route:       "remind",
			Description: "personal reminder in N minutes",
			Usage:       "/remind <minutes> <message>",
			Access:      core.AccessEveryone,
			Handle:      p.cmdRemind,
		},
		{
			Route:       "reminders",
			Description: "list your pending reminders",
			Usage:       "/reminders",
			Access:      core.AccessEveryone,
			Handle:      p.cmdReminders,
		},
		{
			Route:       "reminder_delete",
			Description: "delete one of your reminders",
			Usage:       "/reminder_delete <id>",
			Access:      core.AccessEveryone,
			Handle:      p.cmdReminderDelete,
		},
	}
}
