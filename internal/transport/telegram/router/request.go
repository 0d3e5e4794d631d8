package router

import (
	"context"
	"time"

	kit "allybot/internal/transport"
	logx "allybot/pkg/logx"
)

type Access int

const (
	AccessEveryone Access = iota
	AccessOwnerOnly
)

// Command is one leaf of the command tree. Route holds the path words
// separated by spaces ("task add"). Aliases are extra root-level words.
type Command struct {
	Route       string
	Aliases     []string
	Description string
	Usage       string
	Access      Access

	PluginName string
	Timeout    time.Duration
	Handle     HandlerFunc
}

// CallbackAccess defaults to owner-only. Public buttons (RSVP, paging) opt in.
type CallbackAccess int

const (
	CallbackAccessOwnerOnly CallbackAccess = iota
	CallbackAccessEveryone
)

type CallbackHandlerFunc func(ctx context.Context, req *Request, payload string) error

// CallbackRoute handles inline buttons whose data starts with Plugin:Action.
type CallbackRoute struct {
	Plugin      string
	Action      string
	Description string
	Access      CallbackAccess
	Timeout     time.Duration
	Handle      CallbackHandlerFunc
}

// MessageObserver is shown every message, commands included, and every
// member update.
type MessageObserver struct {
	Name    string
	Timeout time.Duration
	Handle  func(ctx context.Context, up kit.Update) error
}

// Request is what a handler sees. For callbacks Path and Command are
// empty and Payload carries the button data after the action.
type Request struct {
	Update       kit.Update
	Chat         kit.ChatTarget
	FromID       int64
	FromUsername string
	ReqID        string

	Path      []string
	Command   string
	Args      []string
	RawArgs   []string
	Flags     map[string]string
	BoolFlags map[string]bool
	Payload   string

	Adapter     kit.Adapter
	Config      *Config
	Logger      logx.Logger
	Services    *Services
	OwnerUserID []int64
}

func (r *Request) IsOwner() bool { return isOwner(r.FromID, r.OwnerUserID) }

// Reply answers in the originating chat using HTML parse mode.
func (r *Request) Reply(ctx context.Context, text string) error {
	opts := kit.SendOptions{ParseMode: "HTML", DisablePreview: true}
	_, err := r.Adapter.SendText(ctx, r.Chat, text, &opts)
	return err
}
