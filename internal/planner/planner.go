package planner

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"remindbot/internal/domain"
	logx "remindbot/pkg/logx"
)

// Task is an extracted task without a time.
type Task struct {
	Tag  string
	Text string
}

// PlannedTask carries the time the model proposed. Due is zero when the
// model left it empty; callers place such tasks themselves.
type PlannedTask struct {
	Tag  string
	Text string
	Due  time.Time
}

// Stats counts what validation threw away in one call.
type Stats struct {
	Rejected int // malformed entries, missing text, bad time
	Dropped  int // over the per-round task cap
}

func (s Stats) add(o Stats) Stats {
	return Stats{Rejected: s.Rejected + o.Rejected, Dropped: s.Dropped + o.Dropped}
}

type Planner struct {
	log logx.Logger
	now func() time.Time

	mu       sync.RWMutex
	caller   *caller
	loc      *time.Location
	maxTasks int
}

// New wraps client. A nil client leaves the planner unconfigured: every call
// fails with ErrNotConfigured.
func New(client Client, cfg Config, loc *time.Location, log logx.Logger) *Planner {
	p := &Planner{log: log.With(logx.String("comp", "planner")), now: time.Now}
	p.Apply(client, cfg, loc)
	return p
}

// Apply swaps the backend and tunables, e.g. after a config reload.
func (p *Planner) Apply(client Client, cfg Config, loc *time.Location) {
	cfg = cfg.withDefaults()
	if loc == nil {
		loc = time.UTC
	}
	var c *caller
	if client != nil {
		c = newCaller(client, cfg, p.log)
	}
	p.mu.Lock()
	p.caller = c
	p.loc = loc
	p.maxTasks = cfg.MaxTasks
	p.mu.Unlock()
}

func (p *Planner) snapshot() (*caller, *time.Location, int) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.caller, p.loc, p.maxTasks
}

func (p *Planner) Ready() bool {
	c, _, _ := p.snapshot()
	return c != nil
}

// ExtractTasks asks the model which tasks text contains and under which of
// tagNames they belong.
func (p *Planner) ExtractTasks(ctx context.Context, tagNames []string, text string) ([]Task, Stats, error) {
	c, _, maxTasks := p.snapshot()
	if c == nil {
		return nil, Stats{}, ErrNotConfigured
	}

	var (
		tasks []Task
		st    Stats
	)
	err := c.do(ctx, "extract", extractPrompt(tagNames, maxTasks), text, func(out string) error {
		raw, bad, err := decodeTasks(out)
		if err != nil {
			return err
		}
		tasks, st = validateExtracted(raw, tagNames, maxTasks)
		st.Rejected += bad
		return nil
	})
	if err != nil {
		return nil, Stats{}, err
	}
	p.log.Info("tasks extracted", logx.Int("tasks", len(tasks)), logx.Int("rejected", st.Rejected), logx.Int("dropped", st.Dropped))
	return tasks, st, nil
}

// PlanTimes asks the model for a due time per task. Times come back in the
// server zone using domain.DueLayout; an entry with an unparsable time is
// rejected, an empty one is returned with a zero Due.
func (p *Planner) PlanTimes(ctx context.Context, tags []domain.Tag, tasks []Task, text string) ([]PlannedTask, Stats, error) {
	c, loc, maxTasks := p.snapshot()
	if c == nil {
		return nil, Stats{}, ErrNotConfigured
	}
	if len(tasks) == 0 {
		return nil, Stats{}, nil
	}
	user, err := planUserMessage(tasks, text)
	if err != nil {
		return nil, Stats{}, err
	}
	names := tagNames(tags)

	var (
		planned []PlannedTask
		st      Stats
	)
	err = c.do(ctx, "plan", planPrompt(tags, p.now(), loc), user, func(out string) error {
		raw, bad, err := decodeTasks(out)
		if err != nil {
			return err
		}
		planned, st = validatePlanned(raw, names, loc, maxTasks)
		st.Rejected += bad
		return nil
	})
	if err != nil {
		return nil, Stats{}, err
	}
	p.log.Info("tasks planned", logx.Int("tasks", len(planned)), logx.Int("rejected", st.Rejected), logx.Int("dropped", st.Dropped))
	return planned, st, nil
}

// Plan runs extraction then planning over one message. Newlines are folded
// into ";" first so the model sees one request.
func (p *Planner) Plan(ctx context.Context, tags []domain.Tag, message string) ([]PlannedTask, Stats, error) {
	query := strings.ReplaceAll(strings.TrimSpace(message), "\n", ";")
	tasks, st1, err := p.ExtractTasks(ctx, tagNames(tags), query)
	if err != nil {
		return nil, Stats{}, err
	}
	planned, st2, err := p.PlanTimes(ctx, tags, tasks, query)
	if err != nil {
		return nil, Stats{}, err
	}
	return planned, st1.add(st2), nil
}

// Advise returns a short advisory for a reminder text. ok is false when the
// model had nothing worth adding.
func (p *Planner) Advise(ctx context.Context, text string) (advice string, ok bool, err error) {
	c, _, _ := p.snapshot()
	if c == nil {
		return "", false, ErrNotConfigured
	}
	err = c.do(ctx, "advise", adviseSystem, text, func(out string) error {
		a, err := decodeAdvice(out)
		if err != nil {
			return err
		}
		advice = strings.TrimSpace(a.Advisory)
		ok = a.HasAdvisory && advice != ""
		return nil
	})
	if err != nil {
		return "", false, err
	}
	return advice, ok, nil
}

func tagNames(tags []domain.Tag) []string {
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		out = append(out, t.Name)
	}
	return out
}

// canonicalTag maps a model-written tag to one of names (case-insensitive).
// Unknown or empty tags become the default tag.
func canonicalTag(tag string, names []string) string {
	tag = strings.TrimSpace(tag)
	for _, n := range names {
		if strings.EqualFold(n, tag) {
			return n
		}
	}
	return domain.DefaultTagName
}

func validateExtracted(raw []rawTask, names []string, maxTasks int) ([]Task, Stats) {
	var (
		out []Task
		st  Stats
	)
	for _, r := range raw {
		text := strings.TrimSpace(r.Text)
		if text == "" {
			st.Rejected++
			continue
		}
		if len(out) == maxTasks {
			st.Dropped++
			continue
		}
		out = append(out, Task{Tag: canonicalTag(r.Tag, names), Text: text})
	}
	return out, st
}

func validatePlanned(raw []rawTask, names []string, loc *time.Location, maxTasks int) ([]PlannedTask, Stats) {
	var (
		out []PlannedTask
		st  Stats
	)
	for _, r := range raw {
		text := strings.TrimSpace(r.Text)
		if text == "" {
			st.Rejected++
			continue
		}
		var due time.Time
		if s := strings.TrimSpace(r.Time); s != "" {
			t, err := domain.ParseDue(s, loc)
			if err != nil {
				st.Rejected++
				continue
			}
			due = t
		}
		if len(out) == maxTasks {
			st.Dropped++
			continue
		}
		out = append(out, PlannedTask{Tag: canonicalTag(r.Tag, names), Text: text, Due: due})
	}
	return out, st
}

// IsUpstream reports whether err means the model could not be reached or
// kept answering garbage.
func IsUpstream(err error) bool {
	return errors.Is(err, domain.ErrUpstream) || errors.Is(err, ErrNotConfigured)
}

func (s Stats) String() string {
	return fmt.Sprintf("rejected=%d dropped=%d", s.Rejected, s.Dropped)
}
