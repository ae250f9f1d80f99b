// Package monitor runs the operational health checks: reminders stuck past
// their due time and failures showing up in the operational log. It only
// reports; it never changes reminder state.
package monitor

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"remindbot/internal/domain"
	"remindbot/internal/eventbus"
	logx "remindbot/pkg/logx"
)

const (
	DefaultInterval     = 30 * time.Minute
	DefaultLagThreshold = 5 * time.Minute
)

type Store interface {
	ListDue(ctx context.Context, asOf time.Time) ([]domain.Reminder, error)
}

type Alerter interface {
	Alert(ctx context.Context, a *domain.Anomaly) error
}

// Truncater empties the operational log. logx.Service implements it.
type Truncater interface {
	Truncate() error
}

type Options struct {
	LagThreshold    time.Duration
	TruncateOnClean bool
}

// Report is the outcome of one Run.
type Report struct {
	At        time.Time `json:"at"`
	Due       int       `json:"due"`
	Lagging   []int64   `json:"lagging,omitempty"`
	Findings  []string  `json:"findings,omitempty"`
	Truncated bool      `json:"truncated"`
	Problems  []string  `json:"problems,omitempty"`
	// Held is set when a clean scan kept the log because earlier findings
	// are still in it.
	Held bool `json:"held,omitempty"`
}

// Summary is the short text shown to an admin after an on-demand run.
func (r Report) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Due now: %d, lagging: %d, log findings: %d", r.Due, len(r.Lagging), len(r.Findings))
	if r.Truncated {
		b.WriteString("\nLog was clean and has been cleared.")
	}
	if r.Held {
		b.WriteString("\nLog still holds earlier findings; /clearlog clears it.")
	}
	for _, p := range r.Problems {
		b.WriteString("\n" + p)
	}
	return b.String()
}

type Monitor struct {
	store   Store
	alert   Alerter
	scanner *LogScanner
	trunc   Truncater
	bus     eventbus.Bus
	log     logx.Logger
	now     func() time.Time

	mu   sync.RWMutex
	opt  Options
	loc  *time.Location
	last Report
	// dirty: findings were reported since the log was last cleared.
	dirty bool
}

func New(store Store, alert Alerter, scanner *LogScanner, trunc Truncater, bus eventbus.Bus, log logx.Logger, loc *time.Location, opt Options) *Monitor {
	if bus == nil {
		bus = eventbus.Nop{}
	}
	m := &Monitor{
		store:   store,
		alert:   alert,
		scanner: scanner,
		trunc:   trunc,
		bus:     bus,
		log:     log.With(logx.String("comp", "monitor")),
		now:     time.Now,
	}
	m.Apply(loc, opt)
	return m
}

func (m *Monitor) Apply(loc *time.Location, opt Options) {
	if loc == nil {
		loc = time.UTC
	}
	if opt.LagThreshold <= 0 {
		opt.LagThreshold = DefaultLagThreshold
	}
	m.mu.Lock()
	m.loc = loc
	m.opt = opt
	m.mu.Unlock()
}

func (m *Monitor) Scanner() *LogScanner { return m.scanner }

func (m *Monitor) LastReport() Report {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.last
}

// Run performs both checks. The two checks are independent: a failure in
// one is recorded in Report.Problems and the other still runs.
func (m *Monitor) Run(ctx context.Context) Report {
	m.mu.RLock()
	opt, loc := m.opt, m.loc
	m.mu.RUnlock()

	now := m.now()
	rep := Report{At: now}

	m.checkLag(ctx, now, loc, opt.LagThreshold, &rep)
	m.scanLog(ctx, opt.TruncateOnClean, &rep)

	m.mu.Lock()
	m.last = rep
	m.mu.Unlock()

	m.log.Info("monitor run",
		logx.Int("due", rep.Due),
		logx.Int("lagging", len(rep.Lagging)),
		logx.Int("findings", len(rep.Findings)),
		logx.Bool("truncated", rep.Truncated),
	)
	return rep
}

func (m *Monitor) checkLag(ctx context.Context, now time.Time, loc *time.Location, threshold time.Duration, rep *Report) {
	due, err := m.store.ListDue(ctx, now)
	if err != nil {
		m.log.Error("lag check: list due", logx.Err(err))
		rep.Problems = append(rep.Problems, "lag check skipped: "+err.Error())
		return
	}
	rep.Due = len(due)
	for _, r := range due {
		late := now.Sub(r.Due)
		if late <= threshold {
			continue
		}
		rep.Lagging = append(rep.Lagging, r.ID)
		m.raise(ctx, &domain.Anomaly{
			Kind:       domain.AnomalyDeliveryLag,
			ReminderID: r.ID,
			UserID:     r.UserID,
			Detail: fmt.Sprintf("due %s, %s late, text %q",
				domain.FormatDue(r.Due, loc), late.Truncate(time.Second), r.Text),
		})
	}
}

func (m *Monitor) scanLog(ctx context.Context, truncateOnClean bool, rep *Report) {
	if m.scanner == nil {
		return
	}
	found, err := m.scanner.Scan()
	if err != nil {
		m.log.Error("log scan", logx.String("path", m.scanner.Path()), logx.Err(err))
		rep.Problems = append(rep.Problems, "log scan skipped: "+err.Error())
		return
	}
	rep.Findings = found
	if len(found) > 0 {
		m.setDirty(true)
		m.raise(ctx, &domain.Anomaly{Kind: domain.AnomalyLogErrors, Detail: strings.Join(found, "\n")})
		return
	}
	if !truncateOnClean || m.trunc == nil {
		return
	}
	m.mu.RLock()
	dirty := m.dirty
	m.mu.RUnlock()
	if dirty {
		rep.Held = true
		return
	}
	if err := m.trunc.Truncate(); err != nil {
		m.log.Warn("log truncate", logx.Err(err))
		return
	}
	m.scanner.Reset()
	rep.Truncated = true
}

func (m *Monitor) setDirty(v bool) {
	m.mu.Lock()
	m.dirty = v
	m.mu.Unlock()
}

func (m *Monitor) raise(ctx context.Context, a *domain.Anomaly) {
	m.bus.Publish(eventbus.Event{Type: eventbus.MonitorAlert, Data: a})
	if m.alert == nil {
		return
	}
	if err := m.alert.Alert(ctx, a); err != nil {
		m.log.Warn("operator alert not queued", logx.String("kind", string(a.Kind)), logx.Err(err))
	}
}

// ClearLog truncates the operational log and rewinds the scanner. Later
// clean runs may truncate on their own again.
func (m *Monitor) ClearLog() error {
	if m.trunc != nil {
		if err := m.trunc.Truncate(); err != nil {
			return err
		}
	}
	if m.scanner != nil {
		m.scanner.Reset()
	}
	m.setDirty(false)
	return nil
}
