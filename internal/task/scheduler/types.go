package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	logx "remindbot/pkg/logx"
)

// ErrBusy is returned by RunNow when the job is already running.
var ErrBusy = errors.New("scheduler: job already running")

// ErrUnknownJob is returned by RunNow for a name nobody registered.
var ErrUnknownJob = errors.New("scheduler: unknown job")

// Config controls the scheduler.
type Config struct {
	Enabled        bool
	Timezone       string        // IANA TZ, e.g. "Europe/Moscow"
	DefaultTimeout time.Duration // per-run timeout when a job sets none
	HistorySize    int
}

type Job func(ctx context.Context) error

type scheduleDef struct {
	name    string
	spec    string // cron spec or @every
	timeout time.Duration
	job     Job
	entryID cron.EntryID
	state   *runState
}

// runState guards one job against overlapping itself.
type runState struct {
	mu      sync.Mutex
	runs    uint64
	lastErr string
}

type Service struct {
	mu sync.Mutex

	log logx.Logger
	cfg Config
	loc *time.Location

	parser cron.Parser
	c      *cron.Cron
	defs   []scheduleDef

	// base context for job runs; cancelled once Stop has drained
	runCtx    context.Context
	runCancel context.CancelFunc

	hmu     sync.Mutex
	history []HistoryItem
}

type ScheduleInfo struct {
	Name    string        `json:"name"`
	Spec    string        `json:"spec"`
	Timeout time.Duration `json:"timeout"`
	Next    time.Time     `json:"next"`
	Prev    time.Time     `json:"prev"`
	Runs    uint64        `json:"runs"`
	LastErr string        `json:"last_err,omitempty"`
}

// HistoryItem records one finished run.
type HistoryItem struct {
	Name    string        `json:"name"`
	Trigger string        `json:"trigger"` // "cron" | "manual"
	Started time.Time     `json:"started"`
	Took    time.Duration `json:"took"`
	Err     string        `json:"err,omitempty"`
}

type Snapshot struct {
	Enabled   bool           `json:"enabled"`
	Timezone  string         `json:"timezone"`
	Running   bool           `json:"running"`
	Schedules []ScheduleInfo `json:"schedules"`
	History   []HistoryItem  `json:"history"`
}
