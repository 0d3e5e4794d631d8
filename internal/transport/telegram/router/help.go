package router

import (
	"html"
	"slices"
	"strings"
)

const helpUnknown = "<b>Unknown command.</b>\nType <code>/help</code> for the list."

// helpText renders Telegram HTML for the root listing or one node. An
// unknown first word falls back to the alias table.
func (m *CommandManager) helpText(path []string) string {
	r := m.routes.Load()
	if len(path) == 0 {
		return helpTop(r.root)
	}
	cur := r.root
	full := make([]string, 0, len(path))
	for _, p := range path {
		p = strings.ToLower(strings.TrimPrefix(p, "/"))
		next, ok := cur.child(p)
		if !ok {
			if leaf := r.alias[p]; leaf != nil && leaf.cmd != nil {
				return helpNode(leaf, splitRoute(leaf.cmd.Route))
			}
			return helpUnknown
		}
		cur, full = next, append(full, p)
	}
	return helpNode(cur, full)
}

type helpDoc struct{ lines []string }

func (d *helpDoc) add(s ...string) { d.lines = append(d.lines, s...) }

// entry writes "- [owner] <code>cmd</code>: desc".
func (d *helpDoc) entry(cmd, desc string, owner bool) {
	var b strings.Builder
	b.WriteString("- ")
	if owner {
		b.WriteString(lockMark)
	}
	b.WriteString("<code>" + html.EscapeString(cmd) + "</code>")
	if desc != "" {
		b.WriteString(": " + html.EscapeString(desc))
	}
	d.add(b.String())
}

func (d *helpDoc) String() string { return strings.Join(d.lines, "\n") }

// helpTop lists public roots first, owner-only roots after.
func helpTop(root *cmdNode) string {
	var public, owner []string
	for _, name := range root.childNames() {
		n, _ := root.child(name)
		if nodeIsOwnerOnly(n) {
			owner = append(owner, name)
		} else {
			public = append(public, name)
		}
	}
	d := &helpDoc{}
	d.add("<b>Commands</b>", "Type <code>/help &lt;cmd&gt;</code> for details.", "")
	for _, name := range slices.Concat(public, owner) {
		n, _ := root.child(name)
		d.entry("/"+name, summarizeNodeDesc(n), nodeIsOwnerOnly(n))
	}
	return d.String()
}

func helpNode(n *cmdNode, full []string) string {
	d := &helpDoc{}
	d.add("<b>Help</b> <code>" + html.EscapeString("/"+strings.Join(full, " ")) + "</code>")

	if c := n.cmd; c == nil {
		d.add("Command group.")
	} else {
		if s := strings.TrimSpace(c.Description); s != "" {
			d.add(html.EscapeString(s))
		}
		if c.Access == AccessOwnerOnly {
			d.add("<i>owners only</i>")
		}
		if s := strings.TrimSpace(c.Usage); s != "" {
			d.add("", "<b>Usage</b>", "<code>"+html.EscapeString(s)+"</code>")
		}
		if short := shortcuts(*c); len(short) > 0 {
			d.add("", "<b>Shortcuts</b>")
			for _, s := range short {
				d.add("- <code>/" + html.EscapeString(s) + "</code>")
			}
		}
	}

	if len(n.children) == 0 {
		return d.String()
	}
	d.add("", "<b>Subcommands</b>")
	prefix := "/" + strings.Join(full, " ") + " "
	for _, name := range n.childNames() {
		ch, _ := n.child(name)
		d.entry(prefix+name, summarizeNodeDesc(ch), nodeIsOwnerOnly(ch))
	}
	return d.String()
}

// summarizeNodeDesc prefers the command description and otherwise names
// up to three subcommands.
func summarizeNodeDesc(n *cmdNode) string {
	if n == nil {
		return ""
	}
	if n.cmd != nil && strings.TrimSpace(n.cmd.Description) != "" {
		return strings.TrimSpace(n.cmd.Description)
	}
	kids := n.childNames()
	switch {
	case len(kids) == 0:
		return ""
	case len(kids) > 3:
		return "subcommands: " + strings.Join(kids[:3], ", ") + ", ..."
	}
	return "subcommands: " + strings.Join(kids, ", ")
}

// nodeIsOwnerOnly holds for owner-only leaves and for groups with no public
// descendant.
func nodeIsOwnerOnly(n *cmdNode) bool {
	switch {
	case n == nil:
		return false
	case n.cmd != nil:
		return n.cmd.Access == AccessOwnerOnly
	}
	for _, ch := range n.children {
		if !nodeIsOwnerOnly(ch) {
			return false
		}
	}
	return true
}

// shortcuts lists the flat names that reach c: its menu name and its
// single-word aliases, raw and sanitized.
func shortcuts(c Command) []string {
	var out []string
	if name, ok := telegramCommandNameFromRoute(splitRoute(c.Route)); ok {
		out = append(out, name)
	}
	for _, a := range c.Aliases {
		a = strings.TrimSpace(a)
		if a == "" || strings.ContainsRune(a, ' ') {
			continue
		}
		out = append(out, a, sanitizeTelegramCommand(a))
	}
	out = slices.DeleteFunc(out, func(s string) bool { return s == "" })
	slices.Sort(out)
	return slices.Compact(out)
}
