package transport

import "context"

// Update is a channel-neutral inbound event. The bot only consumes plain
// text messages; settings conversations run over reply keyboards, which
// arrive as ordinary messages.
type Update struct {
	Message *Message
}

type Message struct {
	ID           int
	ChatID       int64
	FromID       int64
	FromUsername string
	Text         string
	IsGroup      bool
}

type ChatTarget struct {
	ChatID int64
}

type MessageRef struct {
	ChatID    int64
	MessageID int
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool

	// ReplyKeyboard renders a one-shot reply keyboard; each inner slice is a
	// row of buttons. RemoveKeyboard clears a previously sent keyboard.
	// At most one of the two should be set.
	ReplyKeyboard  [][]string
	RemoveKeyboard bool
}

// Document is a file attachment (spreadsheet report output).
type Document struct {
	Name    string
	Caption string
	Data    []byte
}

type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
	SendDocument(ctx context.Context, to ChatTarget, doc Document) error
}

// BotCommand represents a single bot command menu entry.
type BotCommand struct {
	Command     string
	Description string
}

// CommandMenuUpdater is an optional interface that adapters can implement
// to update platform-specific bot command menus (e.g. Telegram /menu list).
type CommandMenuUpdater interface {
	UpdateMenuCommands(ctx context.Context, cmds []BotCommand) error
}
