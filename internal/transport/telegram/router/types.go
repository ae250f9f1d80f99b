package router

import (
	"context"
	"time"

	"remindbot/internal/access"
	"remindbot/internal/domain"
	kit "remindbot/internal/transport"
	logx "remindbot/pkg/logx"
)

// Access is the minimum permission a route requires.
type Access int

const (
	// AccessUser routes run for allowed users; everyone else is ignored.
	AccessUser Access = iota
	// AccessPublic routes run for everyone, including users still waiting
	// for approval.
	AccessPublic
	// AccessAdmin routes run for admins and owners only.
	AccessAdmin
)

func (a Access) permits(d access.Decision) bool {
	switch a {
	case AccessPublic:
		return true
	case AccessAdmin:
		return d.Admin
	default:
		return d.Allowed
	}
}

type HandlerFunc func(ctx context.Context, req *Request) error

type Middleware func(next HandlerFunc) HandlerFunc

// Command is a single-word slash command.
type Command struct {
	Name        string
	Aliases     []string
	Description string
	Usage       string
	Access      Access
	Timeout     time.Duration // optional per-command override
	Handle      HandlerFunc
}

// CallbackRoute handles inline-button data "plugin:action[:payload]".
type CallbackRoute struct {
	Plugin  string
	Action  string
	Access  Access
	Timeout time.Duration
	Handle  HandlerFunc
}

// Request is what a handler sees for one inbound update.
type Request struct {
	Update kit.Update
	Chat   kit.ChatTarget
	From   kit.Sender
	// User, Allowed and Admin come from the access decision made before
	// routing.
	User    domain.User
	Allowed bool
	Admin   bool

	Command string   // route name, or "cb:plugin:action" for callbacks
	Args    []string // tokenized arguments after the command word
	Text    string   // free text for the text route

	Payload    string         // callback payload after "plugin:action:"
	CallbackID string         // set for callbacks
	Message    kit.MessageRef // message the callback button sits on

	// Toast is shown to the user when the callback is answered.
	Toast string

	ReqID  string
	Logger logx.Logger
}

// IsCallback reports whether the request came from a button tap.
func (r *Request) IsCallback() bool { return r.CallbackID != "" }

// Gate decides whether a sender may use the bot.
type Gate interface {
	Check(ctx context.Context, u domain.User) (access.Decision, error)
}

type Options struct {
	Workers   int
	QueueSize int
	// Timeout bounds a handler when the route does not set its own.
	Timeout time.Duration
}

const (
	DefaultQueueSize = 256
	DefaultTimeout   = 90 * time.Second
)
