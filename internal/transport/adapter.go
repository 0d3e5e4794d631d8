package transport

import "context"

type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
	EditText(ctx context.Context, ref MessageRef, text string, opt *SendOptions) error
	AnswerCallback(ctx context.Context, callbackID string, text string) error
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
	// ReplyMarkupAdapter is passed through untouched; the Telegram adapter
	// expects *telebot.ReplyMarkup.
	ReplyMarkupAdapter any
}

// Notification is queued on the notifier. Priority runs 0 to 10; 5 and up
// get a marker prefix.
type Notification struct {
	Channel  string
	Priority int
	Target   ChatTarget
	Text     string
	Options  *SendOptions
}

type Document struct {
	FileName string
	MIME     string
	Data     []byte
	Caption  string
}

// DocumentSender is the optional upload capability (CSV and calendar
// exports).
type DocumentSender interface {
	SendDocument(ctx context.Context, to ChatTarget, doc Document) (MessageRef, error)
}

type BotCommand struct {
	Command     string
	Description string
}

// CommandMenuUpdater is the optional capability to publish the slash menu.
type CommandMenuUpdater interface {
	UpdateMenuCommands(ctx context.Context, cmds []BotCommand) error
}
