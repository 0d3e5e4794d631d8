package router

import (
	"context"
	"strings"

	kit "allybot/internal/transport"
)

// routes is one immutable command set. SetRegistry builds a new one and
// swaps it in whole, so a dispatch never sees half a reconcile.
type routes struct {
	root      *cmdNode
	alias     map[string]*cmdNode // alias -> leaf
	callbacks map[string]CallbackRoute
	observers []MessageObserver
	menu      []kit.BotCommand
}

func cbKey(plugin, action string) string { return plugin + ":" + action }

func emptyRoutes() *routes {
	return &routes{root: newRoot(), alias: map[string]*cmdNode{}, callbacks: map[string]CallbackRoute{}}
}

func buildRoutes(cmds []Command, cbs []CallbackRoute, obs []MessageObserver) *routes {
	r := emptyRoutes()
	leaves := make([]Command, 0, len(cmds))
	for _, c := range cmds {
		route := splitRoute(c.Route)
		if len(route) == 0 || c.Handle == nil {
			continue
		}
		r.root.add(route, c)
		leaves = append(leaves, c)
		r.aliasLeaf(route, c.Aliases)
	}
	r.menu = buildTelegramMenuCommands(r.root, leaves)

	for _, cb := range cbs {
		p, a := strings.TrimSpace(cb.Plugin), strings.TrimSpace(cb.Action)
		if p != "" && a != "" && cb.Handle != nil {
			r.callbacks[cbKey(p, a)] = cb
		}
	}
	for _, o := range obs {
		if o.Handle != nil {
			r.observers = append(r.observers, o)
		}
	}
	return r
}

// aliasLeaf maps the leaf at route to its explicit aliases and, for
// routes whose menu form differs ("task add" -> "task_add"), to that form.
// A bare single-token name is never aliased so "/task" still walks into
// "task add". Explicit aliases win over derived ones.
func (r *routes) aliasLeaf(route, aliases []string) {
	leaf := r.root.find(route)
	soft := func(name string) {
		if _, taken := r.alias[name]; name != "" && !taken {
			r.alias[name] = leaf
		}
	}
	if menu, ok := telegramCommandNameFromRoute(route); ok && (len(route) > 1 || menu != route[0]) {
		soft(menu)
	}
	for _, a := range aliases {
		a = strings.TrimSpace(a)
		if a == "" || strings.ContainsRune(a, ' ') {
			continue
		}
		r.alias[a] = leaf
		soft(sanitizeTelegramCommand(a))
	}
}

// resolve walks word and as many leading args as match subcommands. It
// returns the node reached, its path and the args left over.
func (r *routes) resolve(word string, args []string) (*cmdNode, []string, []string) {
	if leaf := r.alias[word]; leaf != nil && leaf.cmd != nil {
		return leaf, splitRoute(leaf.cmd.Route), args
	}
	cur, ok := r.root.child(word)
	if !ok {
		return nil, nil, args
	}
	path := []string{word}
	for len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		next, ok := cur.child(strings.ToLower(args[0]))
		if !ok {
			break
		}
		cur, path, args = next, append(path, next.name), args[1:]
	}
	return cur, path, args
}

func helpCommand(m *CommandManager) Command {
	return Command{
		Route:       "help",
		Aliases:     []string{"h", "start"},
		Description: "show available commands",
		Usage:       "/help [cmd] [sub...]",
		Access:      AccessEveryone,
		Handle: func(ctx context.Context, req *Request) error {
			return req.Reply(ctx, m.helpText(req.Args))
		},
	}
}
