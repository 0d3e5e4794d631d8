package router

import (
	"cmp"
	"maps"
	"slices"
	"strings"
	"unicode"

	kit "allybot/internal/transport"
)

const (
	menuNameMax = 32
	menuDescMax = 256
	menuMaxLen  = 100
	lockMark    = "[owner] "
)

// sanitizeTelegramCommand folds s onto Telegram's [a-z0-9_]{1,32}. Runs of
// separators become one underscore and a leading digit gets a cmd_ prefix.
func sanitizeTelegramCommand(s string) string {
	var b strings.Builder
	sep := false
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			if sep && b.Len() > 0 {
				b.WriteByte('_')
			}
			b.WriteRune(r)
			sep = false
		case r == '_', r == '-', r == '/', unicode.IsSpace(r):
			sep = true
		}
	}
	out := b.String()
	if out != "" && out[0] <= '9' {
		out = "cmd_" + out
	}
	if len(out) > menuNameMax {
		out = strings.TrimRight(out[:menuNameMax], "_")
	}
	return out
}

// telegramCommandNameFromRoute turns ["task","add"] into "task_add".
func telegramCommandNameFromRoute(route []string) (string, bool) {
	out := sanitizeTelegramCommand(strings.Join(route, "_"))
	return out, out != ""
}

type menuItem struct {
	kit.BotCommand
	// Root words rank before multi-word shortcuts.
	shortcut bool
}

func menuDesc(desc, fallback string, owner bool) string {
	desc = strings.Join(strings.Fields(desc), " ")
	if desc == "" {
		desc = fallback
	}
	if owner {
		desc = lockMark + desc
	}
	if len(desc) > menuDescMax {
		desc = desc[:menuDescMax]
	}
	return desc
}

// buildTelegramMenuCommands lists every root word, then a flat shortcut for
// each deeper leaf. A name taken by a root word keeps the root entry.
func buildTelegramMenuCommands(root *cmdNode, leaves []Command) []kit.BotCommand {
	byName := map[string]menuItem{}
	put := func(it menuItem) {
		if it.Command == "" {
			return
		}
		if cur, ok := byName[it.Command]; ok {
			if !cur.shortcut && it.shortcut {
				return
			}
			if cur.shortcut == it.shortcut && len(cur.Description) <= len(it.Description) {
				return
			}
		}
		byName[it.Command] = it
	}

	if root != nil {
		for _, name := range root.childNames() {
			n, _ := root.child(name)
			cmd := sanitizeTelegramCommand(name)
			put(menuItem{BotCommand: kit.BotCommand{Command: cmd, Description: menuDesc(summarizeNodeDesc(n), cmd, nodeIsOwnerOnly(n))}})
		}
	}
	for _, c := range leaves {
		route := splitRoute(c.Route)
		if len(route) < 2 {
			continue
		}
		if cmd, ok := telegramCommandNameFromRoute(route); ok {
			desc := menuDesc(c.Description, strings.Join(route, " "), c.Access == AccessOwnerOnly)
			put(menuItem{BotCommand: kit.BotCommand{Command: cmd, Description: desc}, shortcut: true})
		}
	}

	items := slices.Collect(maps.Values(byName))
	slices.SortFunc(items, func(a, b menuItem) int {
		if a.shortcut != b.shortcut {
			if a.shortcut {
				return 1
			}
			return -1
		}
		return cmp.Compare(a.Command, b.Command)
	})

	out := make([]kit.BotCommand, 0, min(len(items), menuMaxLen))
	for _, it := range items[:min(len(items), menuMaxLen)] {
		out = append(out, it.BotCommand)
	}
	return out
}
