package router

import (
	"context"
	"runtime"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"time"

	"remindbot/internal/access"
	"remindbot/internal/domain"
	rtsup "remindbot/internal/runtime/supervisor"
	kit "remindbot/internal/transport"
	logx "remindbot/pkg/logx"
	"remindbot/pkg/tgui"
)

// Router turns inbound updates into handler calls on a bounded worker pool.
// Access is decided once per update, before a job is queued.
type Router struct {
	log     logx.Logger
	adapter kit.Adapter
	gate    Gate
	opt     Options

	mu        sync.RWMutex
	commands  map[string]*Command // name and aliases
	ordered   []Command
	callbacks map[string]map[string]CallbackRoute
	text      HandlerFunc

	runMu sync.Mutex
	sup   *rtsup.Supervisor

	jobs chan func(ctx context.Context)
}

func New(log logx.Logger, adapter kit.Adapter, gate Gate, opt Options) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	if opt.Workers <= 0 {
		opt.Workers = max(2, runtime.NumCPU())
	}
	if opt.QueueSize <= 0 {
		opt.QueueSize = DefaultQueueSize
	}
	if opt.Timeout <= 0 {
		opt.Timeout = DefaultTimeout
	}
	return &Router{
		log:       log.With(logx.String("comp", "telegram.router")),
		adapter:   adapter,
		gate:      gate,
		opt:       opt,
		commands:  map[string]*Command{},
		callbacks: map[string]map[string]CallbackRoute{},
		jobs:      make(chan func(ctx context.Context), opt.QueueSize),
	}
}

// SetRegistry replaces every route. text handles non-command messages and
// may be nil.
func (r *Router) SetRegistry(cmds []Command, cbs []CallbackRoute, text HandlerFunc) {
	byName := map[string]*Command{}
	ordered := make([]Command, 0, len(cmds))
	for _, c := range cmds {
		name := sanitizeCommand(c.Name)
		if name == "" || c.Handle == nil {
			continue
		}
		cc := c
		cc.Name = name
		byName[name] = &cc
		ordered = append(ordered, cc)
		for _, a := range c.Aliases {
			if a = sanitizeCommand(a); a != "" {
				if _, taken := byName[a]; !taken {
					byName[a] = &cc
				}
			}
		}
	}

	cb := map[string]map[string]CallbackRoute{}
	for _, rt := range cbs {
		p, a := strings.TrimSpace(rt.Plugin), strings.TrimSpace(rt.Action)
		if p == "" || a == "" || rt.Handle == nil {
			continue
		}
		if cb[p] == nil {
			cb[p] = map[string]CallbackRoute{}
		}
		cb[p][a] = rt
	}

	r.mu.Lock()
	r.commands = byName
	r.ordered = ordered
	r.callbacks = cb
	r.text = text
	r.mu.Unlock()
}

// Commands returns the registered commands in registration order.
func (r *Router) Commands() []Command {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Command(nil), r.ordered...)
}

// Supervisor returns the worker pool supervisor (nil when not running).
func (r *Router) Supervisor() *rtsup.Supervisor {
	r.runMu.Lock()
	defer r.runMu.Unlock()
	return r.sup
}

// Run consumes updates until ctx is done or the channel closes, then drains
// the workers for a short grace period.
func (r *Router) Run(ctx context.Context, updates <-chan kit.Update) error {
	sup := rtsup.NewSupervisor(ctx,
		rtsup.WithLogger(r.log),
		rtsup.WithCancelOnError(false),
	)
	r.runMu.Lock()
	r.sup = sup
	r.runMu.Unlock()

	for i := 0; i < r.opt.Workers; i++ {
		sup.GoRestart("worker."+strconv.Itoa(i), r.worker,
			rtsup.WithRestartBackoff(200*time.Millisecond, 5*time.Second),
			rtsup.WithPublishFirstError(true),
		)
	}
	r.log.Info("dispatcher started", logx.Int("workers", r.opt.Workers), logx.Int("queue_cap", cap(r.jobs)))

	defer func() {
		sup.Cancel()
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Wait(wctx)
		cancel()
		r.runMu.Lock()
		r.sup = nil
		r.runMu.Unlock()
		r.log.Info("dispatcher stopped")
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

func (r *Router) worker(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case job := <-r.jobs:
			func() {
				defer func() {
					if p := recover(); p != nil {
						r.log.Error("panic in job", logx.Any("panic", p), logx.Stack(string(debug.Stack())))
					}
				}()
				job(ctx)
			}()
		}
	}
}

func (r *Router) enqueue(fn func(ctx context.Context)) bool {
	select {
	case r.jobs <- fn:
		return true
	default:
		return false
	}
}

// Route decides access and queues the matching handler. It is exported for
// tests and for replaying updates; Run calls it for every update.
func (r *Router) Route(ctx context.Context, up kit.Update) {
	switch up.Kind {
	case kit.UpdateMessage:
		if up.Message != nil {
			r.routeMessage(ctx, up)
		}
	case kit.UpdateCallback:
		if up.Callback != nil {
			r.routeCallback(ctx, up)
		}
	}
}

func (r *Router) decide(ctx context.Context, from kit.Sender) (access.Decision, bool) {
	if from.ID == 0 {
		return access.Decision{}, false
	}
	u := domain.User{ID: from.ID, FullName: from.FullName, Username: from.Username}
	if r.gate == nil {
		return access.Decision{User: u, Allowed: true}, true
	}
	d, err := r.gate.Check(ctx, u)
	if err != nil {
		r.log.Warn("access check", logx.Int64("from_id", from.ID), logx.Err(err))
		return access.Decision{}, false
	}
	return d, true
}

func (r *Router) routeMessage(ctx context.Context, up kit.Update) {
	msg := up.Message
	chat := kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID}
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return
	}

	d, ok := r.decide(ctx, msg.From)
	if !ok {
		return
	}
	req := &Request{Update: up, Chat: chat, From: msg.From, User: d.User, Allowed: d.Allowed, Admin: d.Admin}

	var (
		h       HandlerFunc
		acc     = AccessUser
		timeout time.Duration
	)
	if strings.HasPrefix(text, "/") {
		parts := tokenizeCommandLine(text)
		if len(parts) == 0 {
			return
		}
		word := commandWord(parts[0])
		r.mu.RLock()
		cmd := r.commands[word]
		r.mu.RUnlock()
		if cmd == nil {
			if d.Allowed {
				r.reply(ctx, chat, "Unknown command. Try /help")
			}
			return
		}
		h, acc, timeout = cmd.Handle, cmd.Access, cmd.Timeout
		req.Command = cmd.Name
		req.Args = parts[1:]
	} else {
		if msg.IsGroup {
			return
		}
		r.mu.RLock()
		h = r.text
		r.mu.RUnlock()
		if h == nil {
			return
		}
		req.Command = "text"
		req.Text = text
	}

	if !acc.permits(d) {
		// Not-yet-approved users are ignored; known users get a hint.
		if acc == AccessAdmin && d.Allowed {
			r.reply(ctx, chat, "This command is for admins only.")
		}
		return
	}

	r.dispatch(ctx, req, h, timeout, func(ctx context.Context) {
		r.reply(ctx, chat, "I'm busy right now, please try again in a minute.")
	})
}

func (r *Router) routeCallback(ctx context.Context, up kit.Update) {
	cb := up.Callback
	plugin, action, payload, ok := tgui.ParseData(cb.Data)
	if !ok {
		_ = r.adapter.AnswerCallback(ctx, cb.ID, "")
		return
	}

	r.mu.RLock()
	route, found := r.callbacks[plugin][action]
	r.mu.RUnlock()
	if !found {
		_ = r.adapter.AnswerCallback(ctx, cb.ID, "This button is no longer active.")
		return
	}

	d, ok := r.decide(ctx, cb.From)
	if !ok || !route.Access.permits(d) {
		_ = r.adapter.AnswerCallback(ctx, cb.ID, "Not allowed.")
		return
	}

	req := &Request{
		Update:     up,
		Chat:       kit.ChatTarget{ChatID: cb.ChatID, ThreadID: cb.ThreadID},
		From:       cb.From,
		User:       d.User,
		Allowed:    d.Allowed,
		Admin:      d.Admin,
		Command:    "cb:" + plugin + ":" + action,
		Payload:    payload,
		CallbackID: cb.ID,
		Message:    kit.MessageRef{ChatID: cb.ChatID, ThreadID: cb.ThreadID, MessageID: cb.MessageID},
	}
	r.dispatch(ctx, req, route.Handle, route.Timeout, func(ctx context.Context) {
		_ = r.adapter.AnswerCallback(ctx, cb.ID, "Busy, try again.")
	})
}

func (r *Router) dispatch(ctx context.Context, req *Request, h HandlerFunc, timeout time.Duration, busy func(ctx context.Context)) {
	if timeout <= 0 {
		timeout = r.opt.Timeout
	}
	req.ReqID = newReqID()
	req.Logger = r.log.With(
		logx.String("rid", req.ReqID),
		logx.Int64("chat_id", req.Chat.ChatID),
		logx.Int64("from_id", req.From.ID),
		logx.String("cmd", req.Command),
	)
	final := Chain(h,
		MWPanicRecover(r.log),
		MWRequestLog(r.log),
		MWTimeout(timeout),
	)
	job := func(wctx context.Context) {
		err := final(wctx, req)
		if err != nil && !req.IsCallback() {
			r.reply(wctx, req.Chat, "Something went wrong, please try again later.")
		}
		if req.IsCallback() {
			toast := req.Toast
			if err != nil && toast == "" {
				toast = "Something went wrong."
			}
			_ = r.adapter.AnswerCallback(wctx, req.CallbackID, toast)
		}
	}
	if !r.enqueue(job) {
		r.log.Warn("job queue full", logx.String("cmd", req.Command))
		busy(ctx)
	}
}

func (r *Router) reply(ctx context.Context, to kit.ChatTarget, text string) {
	if _, err := r.adapter.SendText(ctx, to, text, &kit.SendOptions{DisablePreview: true}); err != nil {
		r.log.Warn("reply not sent", logx.Int64("chat_id", to.ChatID), logx.Err(err))
	}
}
