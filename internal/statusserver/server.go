// Package statusserver exposes a read-only HTTP view of a running task
// manager: the last published snapshot, recent runs and supervisor state.
package statusserver

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/pprof"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"taskmgr/internal/report"
	"taskmgr/internal/runtime/supervisor"
	"taskmgr/internal/storage"
	"taskmgr/pkg/logx"
)

// Config controls the listener.
type Config struct {
	Enabled bool
	Addr    string
	// Pprof mounts net/http/pprof under /debug/pprof.
	Pprof bool
}

func (c Config) withDefaults() Config {
	if c.Addr == "" {
		c.Addr = "127.0.0.1:8089"
	}
	return c
}

// SnapshotSource yields the latest manager snapshot (nil before the first).
type SnapshotSource interface {
	Latest() *report.Snapshot
}

// RoutineSource yields supervisor bookkeeping.
type RoutineSource interface {
	Snapshot() supervisor.Snapshot
}

// Deps are the data sources served. Runs and Routines may be nil.
type Deps struct {
	Snapshots SnapshotSource
	Runs      storage.Store
	Routines  RoutineSource
}

// Server manages the lifecycle of the status listener.
type Server struct {
	deps Deps
	log  logx.Logger

	mu   sync.Mutex
	srv  *http.Server
	ln   net.Listener
	addr string
	cfg  Config
}

var ginMode sync.Once

func New(deps Deps, log logx.Logger) *Server {
	ginMode.Do(func() { gin.SetMode(gin.ReleaseMode) })
	return &Server{deps: deps, log: log.With(logx.String("comp", "status"))}
}

// Router builds the HTTP handler.
func (s *Server) Router(withPprof bool) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/tasks", s.listTasks)
	r.GET("/tasks/:name", s.getTask)
	r.GET("/tasks/:name/runs", s.taskRuns)
	r.GET("/debug/supervisor", func(c *gin.Context) {
		if s.deps.Routines == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "no supervisor"})
			return
		}
		c.JSON(http.StatusOK, s.deps.Routines.Snapshot())
	})

	if withPprof {
		r.GET("/debug/pprof/*name", func(c *gin.Context) {
			switch c.Param("name") {
			case "/cmdline":
				pprof.Cmdline(c.Writer, c.Request)
			case "/profile":
				pprof.Profile(c.Writer, c.Request)
			case "/symbol":
				pprof.Symbol(c.Writer, c.Request)
			case "/trace":
				pprof.Trace(c.Writer, c.Request)
			default:
				pprof.Index(c.Writer, c.Request)
			}
		})
	}
	return r
}

func (s *Server) latest(c *gin.Context) *report.Snapshot {
	var snap *report.Snapshot
	if s.deps.Snapshots != nil {
		snap = s.deps.Snapshots.Latest()
	}
	if snap == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no snapshot published yet"})
	}
	return snap
}

func (s *Server) listTasks(c *gin.Context) {
	snap := s.latest(c)
	if snap == nil {
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"at":       snap.At,
		"async":    snap.Async,
		"profiled": snap.Profiled,
		"manager":  snap.Manager,
	})
}

func (s *Server) getTask(c *gin.Context) {
	snap := s.latest(c)
	if snap == nil {
		return
	}
	doc, ok := snap.Tasks[c.Param("name")]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown task"})
		return
	}
	c.JSON(http.StatusOK, doc)
}

func (s *Server) taskRuns(c *gin.Context) {
	if s.deps.Runs == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "run storage disabled"})
		return
	}
	limit := 20
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 1000 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be 1..1000"})
			return
		}
		limit = n
	}
	runs, err := s.deps.Runs.RecentRuns(c.Request.Context(), c.Param("name"), limit)
	if err != nil {
		s.log.Warn("recent runs failed", logx.Err(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if runs == nil {
		runs = []storage.RunRecord{}
	}
	c.JSON(http.StatusOK, runs)
}

// Apply starts, restarts or stops the listener to match cfg.
func (s *Server) Apply(ctx context.Context, cfg Config) error {
	cfg = cfg.withDefaults()
	s.mu.Lock()
	defer s.mu.Unlock()

	if !cfg.Enabled {
		s.stopLocked(ctx)
		return nil
	}
	if s.srv != nil && s.cfg == cfg {
		return nil
	}
	s.stopLocked(ctx)

	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return err
	}
	srv := &http.Server{Handler: s.Router(cfg.Pprof), ReadHeaderTimeout: 5 * time.Second}
	s.srv, s.ln, s.cfg = srv, ln, cfg
	s.addr = ln.Addr().String()

	addr := s.addr
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Warn("status server error", logx.String("addr", addr), logx.Err(err))
		}
	}()
	s.log.Info("status server listening", logx.String("addr", addr), logx.Bool("pprof", cfg.Pprof))
	return nil
}

// Stop shuts the listener down.
func (s *Server) Stop(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked(ctx)
}

func (s *Server) stopLocked(ctx context.Context) {
	if s.srv == nil {
		return
	}
	srv, addr := s.srv, s.addr
	s.srv, s.ln, s.addr, s.cfg = nil, nil, "", Config{}

	shutdownCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.log.Warn("status server shutdown error", logx.String("addr", addr), logx.Err(err))
	}
	s.log.Info("status server stopped", logx.String("addr", addr))
}

// Addr reports the bound address while running.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}
