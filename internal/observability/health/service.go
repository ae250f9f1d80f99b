// Package health serves the optional local status endpoint: /healthz for
// liveness, /status for the last dispatch tick, the scheduler and every
// supervised goroutine, and optionally the runtime profiles under
// /debug/pprof/.
package health

import (
	"context"
	"errors"
	"net"
	"net/http"
	hpprof "net/http/pprof"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"remindbot/internal/dispatch"
	rtsup "remindbot/internal/runtime/supervisor"
	"remindbot/internal/task/scheduler"
	logx "remindbot/pkg/logx"
)

const DefaultAddr = "127.0.0.1:8089"

var ginMode sync.Once

type Config struct {
	Enabled bool
	Addr    string
	// Pprof mounts net/http/pprof under /debug/pprof/.
	Pprof bool
}

// Sources feed /status. Any of them may be nil.
type Sources struct {
	Ping        func(ctx context.Context) error
	Dispatch    func() dispatch.TickReport
	Scheduler   func() scheduler.Snapshot
	Supervisors *rtsup.Registry
}

// Status is the /status body.
type Status struct {
	Status      string                    `json:"status"`
	Now         time.Time                 `json:"now"`
	Uptime      string                    `json:"uptime"`
	Store       string                    `json:"store"`
	Dispatch    *dispatch.TickReport      `json:"dispatch,omitempty"`
	Scheduler   *scheduler.Snapshot       `json:"scheduler,omitempty"`
	Supervisors map[string]rtsup.Snapshot `json:"supervisors,omitempty"`
}

type Service struct {
	mu      sync.Mutex
	log     logx.Logger
	cfg     Config
	src     Sources
	started time.Time
	now     func() time.Time

	ln       net.Listener
	srv      *http.Server
	sup      *rtsup.Supervisor
	stopDone chan struct{}
}

func New(cfg Config, src Sources, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:     cfg,
		src:     src,
		log:     log.With(logx.String("comp", "health")),
		started: time.Now(),
		now:     time.Now,
	}
}

// Supervisor returns the server supervisor (nil when not running).
func (s *Service) Supervisor() *rtsup.Supervisor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sup
}

// Addr is the bound address while the server is listening.
func (s *Service) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Reconfigure applies cfg and starts, stops or restarts the server as needed.
func (s *Service) Reconfigure(ctx context.Context, cfg Config) {
	s.mu.Lock()
	prev := s.cfg
	running := s.sup != nil
	s.cfg = cfg
	s.mu.Unlock()

	switch {
	case !cfg.Enabled:
		if running {
			s.Stop(ctx)
		}
	case !running:
		s.Start(ctx)
	case normalizeAddr(prev.Addr) != normalizeAddr(cfg.Addr), prev.Pprof != cfg.Pprof:
		s.Stop(ctx)
		s.Start(ctx)
	}
}

// Start is idempotent.
func (s *Service) Start(ctx context.Context) {
	for {
		s.mu.Lock()
		if s.stopDone != nil {
			done := s.stopDone
			s.mu.Unlock()
			select {
			case <-done:
			case <-ctx.Done():
				return
			}
			continue
		}
		if s.sup != nil || !s.cfg.Enabled {
			s.mu.Unlock()
			return
		}
		s.sup = rtsup.NewSupervisor(ctx,
			rtsup.WithLogger(s.log),
			rtsup.WithCancelOnError(false),
		)
		sup := s.sup
		s.mu.Unlock()

		sup.GoRestart("http.serve", s.serveOnce,
			rtsup.WithPublishFirstError(true),
			rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second),
		)
		return
	}
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	if s.sup == nil {
		s.mu.Unlock()
		return
	}
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
		}
		return
	}
	done := make(chan struct{})
	s.stopDone = done
	srv, sup := s.srv, s.sup
	s.mu.Unlock()

	go func() {
		defer close(done)
		if srv != nil {
			_ = srv.Shutdown(ctx)
			_ = srv.Close()
		}
		sup.Cancel()
		_ = sup.Wait(context.Background())

		s.mu.Lock()
		s.ln, s.srv, s.sup, s.stopDone = nil, nil, nil, nil
		s.mu.Unlock()
		s.log.Info("health server stopped")
	}()

	select {
	case <-done:
	case <-ctx.Done():
		sup.Cancel()
	}
}

func (s *Service) serveOnce(ctx context.Context) error {
	s.mu.Lock()
	addr := normalizeAddr(s.cfg.Addr)
	s.mu.Unlock()

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		s.log.Warn("health listen", logx.String("addr", addr), logx.Err(err))
		if ctx.Err() != nil {
			return context.Canceled
		}
		return err
	}
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	s.mu.Lock()
	s.ln, s.srv = ln, srv
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		cctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = srv.Shutdown(cctx)
		cancel()
	}()

	s.log.Info("health server started", logx.String("addr", ln.Addr().String()))
	err = srv.Serve(ln)

	s.mu.Lock()
	if s.srv == srv {
		s.ln, s.srv = nil, nil
	}
	stopping := s.stopDone != nil
	s.mu.Unlock()

	if stopping || ctx.Err() != nil {
		return context.Canceled
	}
	if err == nil || errors.Is(err, http.ErrServerClosed) {
		return errors.New("health server exited unexpectedly")
	}
	return err
}

// Handler builds the gin engine. It is exported for tests.
func (s *Service) Handler() http.Handler {
	ginMode.Do(func() { gin.SetMode(gin.ReleaseMode) })
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/status", func(c *gin.Context) {
		st := s.status(c.Request.Context())
		code := http.StatusOK
		if st.Status != "ok" {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, st)
	})

	s.mu.Lock()
	withPprof := s.cfg.Pprof
	s.mu.Unlock()
	if withPprof {
		r.GET("/debug/pprof/*name", pprofHandler)
	}
	return r
}

// pprofHandler dispatches one catch-all route to the net/http/pprof handlers;
// named profiles (heap, goroutine, ...) are served by Index.
func pprofHandler(c *gin.Context) {
	switch strings.Trim(c.Param("name"), "/") {
	case "cmdline":
		hpprof.Cmdline(c.Writer, c.Request)
	case "profile":
		hpprof.Profile(c.Writer, c.Request)
	case "symbol":
		hpprof.Symbol(c.Writer, c.Request)
	case "trace":
		hpprof.Trace(c.Writer, c.Request)
	default:
		hpprof.Index(c.Writer, c.Request)
	}
}

func (s *Service) status(ctx context.Context) Status {
	st := Status{
		Status: "ok",
		Now:    s.now().UTC(),
		Uptime: s.now().Sub(s.started).Truncate(time.Second).String(),
		Store:  "ok",
	}
	if s.src.Ping != nil {
		pctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := s.src.Ping(pctx)
		cancel()
		if err != nil {
			st.Status = "degraded"
			st.Store = err.Error()
		}
	}
	if s.src.Dispatch != nil {
		rep := s.src.Dispatch()
		st.Dispatch = &rep
	}
	if s.src.Scheduler != nil {
		snap := s.src.Scheduler()
		st.Scheduler = &snap
	}
	if s.src.Supervisors != nil {
		st.Supervisors = s.src.Supervisors.Snapshots()
	}
	return st
}

func normalizeAddr(addr string) string {
	if addr = strings.TrimSpace(addr); addr == "" {
		return DefaultAddr
	}
	return addr
}
