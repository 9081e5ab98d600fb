// Package router dispatches chat commands to handlers on a bounded worker
// pool, gating restricted commands through the authorization gate.
package router

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"listingbot/internal/auth"
	rtsup "listingbot/internal/runtime/supervisor"
	kit "listingbot/internal/transport"
	logx "listingbot/pkg/logx"
)

type Access int

const (
	AccessEveryone Access = iota
	AccessAuthorized
)

type Command struct {
	Name        string   // without the leading slash
	Aliases     []string
	Description string
	Access      Access
	Timeout     time.Duration // optional per-command override
	Handle      HandlerFunc
}

type Request struct {
	Update    kit.Update
	Chat      kit.ChatTarget
	MessageID int
	FromID    int64
	Command   string
	Args      []string
	ReqID     string
	Logger    logx.Logger
}

// Actor is the string form of the sender id used by the authorization gate.
func (r *Request) Actor() string {
	if r.FromID == 0 {
		return ""
	}
	return strconv.FormatInt(r.FromID, 10)
}

type Options struct {
	Workers        int
	QueueSize      int
	DefaultTimeout time.Duration
	// OnError receives every handler error after logging, e.g. to report it to the chat.
	OnError func(ctx context.Context, req *Request, err error)
	// OnDone observes every finished command.
	OnDone func(command string, err error)
}

type Router struct {
	log     logx.Logger
	adapter kit.Adapter
	gate    *auth.Gate
	opt     Options

	mu    sync.RWMutex
	cmds  []Command
	index map[string]*Command

	jobs chan func()
}

func New(log logx.Logger, adapter kit.Adapter, gate *auth.Gate, opt Options) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	if opt.Workers <= 0 {
		opt.Workers = 2
	}
	if opt.QueueSize <= 0 {
		opt.QueueSize = 64
	}
	return &Router{
		log:     log,
		adapter: adapter,
		gate:    gate,
		opt:     opt,
		index:   map[string]*Command{},
		jobs:    make(chan func(), opt.QueueSize),
	}
}

// SetCommands replaces the command table. A /help command listing the
// table is always added.
func (r *Router) SetCommands(ctx context.Context, cmds []Command) {
	help := Command{
		Name:        "help",
		Description: "list commands",
		Access:      AccessEveryone,
		Handle: func(ctx context.Context, req *Request) error {
			_, err := r.adapter.SendText(ctx, req.Chat, r.HelpText(), &kit.SendOptions{DisablePreview: true})
			return err
		},
	}
	all := append(append([]Command(nil), cmds...), help)

	index := map[string]*Command{}
	kept := make([]Command, 0, len(all))
	for i := range all {
		c := all[i]
		name := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(c.Name), "/"))
		if name == "" || c.Handle == nil {
			continue
		}
		c.Name = name
		kept = append(kept, c)
	}
	for i := range kept {
		c := &kept[i]
		index[c.Name] = c
		for _, a := range c.Aliases {
			a = strings.ToLower(strings.TrimSpace(a))
			if _, taken := index[a]; a != "" && !taken {
				index[a] = c
			}
		}
	}

	r.mu.Lock()
	r.cmds = kept
	r.index = index
	r.mu.Unlock()

	if up, ok := r.adapter.(kit.CommandMenuUpdater); ok {
		menu := make([]kit.BotCommand, 0, len(kept))
		for _, c := range kept {
			menu = append(menu, kit.BotCommand{Command: c.Name, Description: c.Description})
		}
		go func() {
			mctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			if err := up.UpdateMenuCommands(mctx, menu); err != nil {
				r.log.Warn("menu update failed", logx.Err(err))
			}
		}()
	}
}

// HelpText lists commands in name order.
func (r *Router) HelpText() string {
	r.mu.RLock()
	cmds := append([]Command(nil), r.cmds...)
	r.mu.RUnlock()
	sort.Slice(cmds, func(i, j int) bool { return cmds[i].Name < cmds[j].Name })

	var b strings.Builder
	b.WriteString("Commands:")
	for _, c := range cmds {
		fmt.Fprintf(&b, "\n/%s", c.Name)
		if c.Description != "" {
			b.WriteString(" - " + c.Description)
		}
	}
	return b.String()
}

// DispatchLoop reads updates until ctx is done or updates is closed. Each
// command runs on one of the router's workers.
func (r *Router) DispatchLoop(ctx context.Context, updates <-chan kit.Update) error {
	sup := rtsup.New(ctx, rtsup.WithLogger(r.log))
	for i := 0; i < r.opt.Workers; i++ {
		sup.GoRestart("command.worker."+strconv.Itoa(i), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case job := <-r.jobs:
					job()
				}
			}
		}, rtsup.WithRestartBackoff(200*time.Millisecond, 5*time.Second))
	}
	r.log.Info("command dispatcher started", logx.Int("workers", r.opt.Workers), logx.Int("queue_cap", cap(r.jobs)))

	defer func() {
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = sup.Stop(wctx)
		r.log.Info("command dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			r.Route(ctx, up)
		}
	}
}

// Route resolves one update and queues its handler. Unknown commands and
// plain text are ignored.
func (r *Router) Route(ctx context.Context, up kit.Update) {
	if up.Kind != kit.UpdateMessage || up.Message == nil {
		return
	}
	msg := up.Message
	name, args, ok := ParseCommand(msg.Text)
	if !ok {
		return
	}
	r.mu.RLock()
	cmd, found := r.index[name]
	r.mu.RUnlock()
	if !found {
		r.log.Debug("unknown command ignored", logx.String("cmd", name), logx.Int64("chat_id", msg.ChatID))
		return
	}

	req := &Request{
		Update:    up,
		Chat:      kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID},
		MessageID: msg.ID,
		FromID:    msg.FromID,
		Command:   cmd.Name,
		Args:      args,
		ReqID:     uuid.NewString()[:8],
	}
	req.Logger = r.log.With(
		logx.String("rid", req.ReqID),
		logx.Int64("chat_id", msg.ChatID),
		logx.Int64("from_id", msg.FromID),
		logx.String("cmd", cmd.Name),
	)

	if cmd.Access == AccessAuthorized && !r.gate.IsAuthorized(req.Actor()) {
		req.Logger.Info("command refused", logx.Err(auth.ErrUnauthorized))
		if r.opt.OnDone != nil {
			r.opt.OnDone(cmd.Name, auth.ErrUnauthorized)
		}
		opt := &kit.SendOptions{ReplyTo: msg.ID}
		if _, err := r.adapter.SendText(ctx, req.Chat, auth.RefusalText, opt); err != nil {
			req.Logger.Warn("refusal send failed", logx.Err(err))
		}
		return
	}

	timeout := cmd.Timeout
	if timeout <= 0 {
		timeout = r.opt.DefaultTimeout
	}
	final := Chain(cmd.Handle,
		MWObserve(r.opt.OnDone),
		MWPanicRecover(r.log),
		MWRequestLog(r.log),
		MWTimeout(timeout),
	)
	job := func() {
		if err := final(ctx, req); err != nil && r.opt.OnError != nil && ctx.Err() == nil {
			r.opt.OnError(ctx, req, err)
		}
	}
	select {
	case r.jobs <- job:
	default:
		req.Logger.Warn("command queue full")
		_, _ = r.adapter.SendText(ctx, req.Chat, "Busy, try again in a moment.", nil)
	}
}

// ParseCommand splits "/name@bot arg..." into a lower-cased name and args.
func ParseCommand(text string) (string, []string, bool) {
	fields := strings.Fields(text)
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return "", nil, false
	}
	name := strings.TrimPrefix(fields[0], "/")
	if i := strings.IndexByte(name, '@'); i >= 0 {
		name = name[:i]
	}
	if name == "" {
		return "", nil, false
	}
	return strings.ToLower(name), fields[1:], true
}
