package core

import (
	"context"
	"fmt"
	"runtime/debug"
	"sort"
	"strings"
	"time"

	kit "epibot/internal/transport"
	logx "epibot/pkg/logx"
)

type Access int

const (
	AccessEveryone Access = iota
	AccessOwnerOnly
)

type HandlerFunc func(ctx context.Context, req *Request) error

type Command struct {
	Name        string
	Description string
	Access      Access
	Handle      HandlerFunc
}

// Request carries one inbound message through a command handler.
type Request struct {
	ChatID  int64
	FromID  int64
	Command string
	Args    []string
	Text    string

	Adapter kit.Adapter
	Logger  logx.Logger
}

// Reply sends an HTML-formatted response back to the requesting chat.
func (r *Request) Reply(ctx context.Context, html string, opt *kit.SendOptions) error {
	if opt == nil {
		opt = &kit.SendOptions{}
	}
	opt.ParseMode = "HTML"
	opt.DisablePreview = true
	_, err := r.Adapter.SendText(ctx, kit.ChatTarget{ChatID: r.ChatID}, html, opt)
	return err
}

// Router dispatches slash commands and forwards everything else to the
// active settings session, if the chat has one.
type Router struct {
	commands map[string]Command
	order    []string
	sessions *sessionManager
	owners   map[int64]bool

	adapter kit.Adapter
	log     logx.Logger

	timeout time.Duration
}

func NewRouter(adapter kit.Adapter, sessions *sessionManager, owners []int64, log logx.Logger) *Router {
	r := &Router{
		commands: map[string]Command{},
		sessions: sessions,
		adapter:  adapter,
		log:      log,
		timeout:  30 * time.Second,
	}
	r.SetOwners(owners)
	return r
}

func (r *Router) SetOwners(ids []int64) {
	owners := make(map[int64]bool, len(ids))
	for _, id := range ids {
		owners[id] = true
	}
	r.owners = owners
}

func (r *Router) Register(cmd Command) {
	name := strings.TrimPrefix(strings.ToLower(cmd.Name), "/")
	if _, dup := r.commands[name]; !dup {
		r.order = append(r.order, name)
	}
	r.commands[name] = cmd
}

// MenuCommands returns the public command list for the platform menu,
// sorted by name with owner-only commands left out.
func (r *Router) MenuCommands() []kit.BotCommand {
	var out []kit.BotCommand
	for _, name := range r.order {
		cmd := r.commands[name]
		if cmd.Access == AccessOwnerOnly {
			continue
		}
		out = append(out, kit.BotCommand{Command: name, Description: cmd.Description})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Command < out[j].Command })
	return out
}

// DispatchLoop consumes updates until ctx is done. Each message is handled
// inline with a per-message timeout; a panicking handler is contained.
func (r *Router) DispatchLoop(ctx context.Context, updates <-chan kit.Update) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			if up.Message == nil {
				continue
			}
			r.handle(ctx, up.Message)
		}
	}
}

func (r *Router) handle(ctx context.Context, msg *kit.Message) {
	hctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("handler panic",
				logx.Int64("chat_id", msg.ChatID),
				logx.Any("panic", rec),
				logx.String("stack", string(debug.Stack())))
		}
	}()

	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return
	}

	if !strings.HasPrefix(text, "/") {
		// Keyboard presses and free text belong to the settings session.
		if r.sessions != nil {
			r.sessions.HandleText(hctx, msg)
		}
		return
	}

	fields := strings.Fields(text)
	name := strings.ToLower(strings.TrimPrefix(fields[0], "/"))
	// "/subscribe@epibot" in groups
	if i := strings.IndexByte(name, '@'); i >= 0 {
		name = name[:i]
	}

	cmd, ok := r.commands[name]
	if !ok {
		if r.sessions != nil && r.sessions.Active(msg.ChatID) {
			r.sessions.HandleText(hctx, msg)
		}
		return
	}
	if cmd.Access == AccessOwnerOnly && !r.owners[msg.FromID] {
		r.log.Debug("owner-only command denied",
			logx.String("command", name), logx.Int64("from", msg.FromID))
		return
	}

	req := &Request{
		ChatID:  msg.ChatID,
		FromID:  msg.FromID,
		Command: name,
		Args:    fields[1:],
		Text:    text,
		Adapter: r.adapter,
		Logger:  r.log.With(logx.String("command", name), logx.Int64("chat_id", msg.ChatID)),
	}

	start := time.Now()
	err := cmd.Handle(hctx, req)
	if err != nil {
		req.Logger.Warn("command failed", logx.Err(err), logx.Duration("took", time.Since(start)))
		_ = req.Reply(hctx, fmt.Sprintf("Something went wrong handling /%s.", name), nil)
		return
	}
	req.Logger.Debug("command handled", logx.Duration("took", time.Since(start)))
}
