// Package app assembles the dialog orchestration runtime's components —
// Event Store, Dialog Registry, Drive Executor, Backend Driver Loop, Q4H
// Queue, Diligence Push, Reminder Sync, and the gateway — into one running
// instance, the way the teacher's internal/server used to for its own
// (much smaller) service graph.
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"dominds/internal/compaction"
	"dominds/internal/config"
	"dominds/internal/diligence"
	"dominds/internal/drive"
	"dominds/internal/driver"
	"dominds/internal/gateway/auth"
	"dominds/internal/gateway/handlers"
	"dominds/internal/gateway/middleware"
	"dominds/internal/gateway/protocol"
	"dominds/internal/gateway/websocket"
	"dominds/internal/minds"
	"dominds/internal/provider"
	"dominds/internal/q4h"
	"dominds/internal/registry"
	"dominds/internal/reminder"
	"dominds/internal/scheduler"
	"dominds/internal/store"
	"dominds/pkg/logger"
)

const (
	runQueueSize    = 256
	runQueueIdle    = 2 * time.Minute
	defaultHTTPPort = 18788
)

// Version is reported by the gateway's /health endpoint. cmd/moted
// overwrites it with the binary's build-time version string.
var Version = "dev"

// App is one running instance of the orchestration runtime.
type App struct {
	cfg *config.Config

	store              *store.Store
	registry           *registry.Registry
	hub                *websocket.Hub
	gate               *auth.Gate
	loop               *driver.Loop
	diligenceScheduler *diligence.Scheduler
	providers          *providerRegistry
	compactor          *compaction.Compactor

	httpServer *http.Server
}

// New assembles every component of the runtime against cfg but does not
// start any goroutines or listeners yet; call Run for that.
func New(cfg *config.Config) (*App, error) {
	workspaceRoot := cfg.Storage.WorkspaceRoot
	if workspaceRoot == "" {
		root, err := config.DefaultWorkspaceRoot()
		if err != nil {
			return nil, fmt.Errorf("app: resolve workspace root: %w", err)
		}
		workspaceRoot = root
	}

	s := store.New(workspaceRoot)
	reg := registry.New()
	hub := websocket.NewHub()

	pusher := diligence.NewPusher(s)
	budgets := newBudgetResolver(cfg)
	diligenceScheduler := diligence.NewScheduler(pusher, reg, budgets)
	rem := reminder.NewSyncer(s)

	providers := newProviderRegistry()
	compactionProvider, _ := providers.Resolve("")
	compactor := compaction.NewCompactor(compaction.DefaultConfig(), compactionProvider)
	health := drive.NewHealthGate(compactor)

	runQueue := scheduler.NewRunQueue(runQueueSize, runQueueIdle)
	resolver := drive.NewResolver(s, reg)
	mindsImpl := minds.New(cfg)

	notifier := newHubNotifier(hub)
	q := q4h.NewManager(s, notifier)

	agents := newAgentResolver(cfg)
	newID := func() string { return uuid.New().String() }

	executor := drive.Wire(s, reg, resolver, runQueue, health, mindsImpl, providers, q, pusher, rem, agents, newID)
	loop := driver.New(s, reg, executor)

	dispatcher := protocol.New(s, reg, executor, q, pusher, rem, hub, budgets, newID)
	hub.SetDispatcher(dispatcher)

	gate := auth.New(cfg.Auth.Key)
	if cfg.Gateway.Mode == "prod" && !gate.Enabled() {
		key, err := auth.GenerateKey()
		if err != nil {
			return nil, fmt.Errorf("app: generate auth key: %w", err)
		}
		gate = auth.New(key)
		logger.Warn().Msg("app: no auth key configured in prod mode, generated one for this run")
	}

	a := &App{
		cfg:                cfg,
		store:              s,
		registry:           reg,
		hub:                hub,
		gate:               gate,
		loop:               loop,
		diligenceScheduler: diligenceScheduler,
		providers:          providers,
		compactor:          compactor,
	}
	a.httpServer = a.buildHTTPServer()
	return a, nil
}

// RegisterProvider binds a concrete provider.Provider to agentID ("" for
// the fallback used by agents with no specific binding). Call before Run.
// The fallback binding also becomes the compaction summarizer's provider,
// since the health gate's compactor was built before any provider existed.
func (a *App) RegisterProvider(agentID string, prov provider.Provider) {
	a.providers.Register(agentID, prov)
	if agentID == "" {
		a.compactor.SetProvider(prov)
	}
}

func (a *App) buildHTTPServer() *http.Server {
	mux := http.NewServeMux()
	handlers.InitStartTime()
	mux.Handle("/health", handlers.HealthHandler(Version))
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		websocket.ServeWs(a.hub, a.gate, w, r)
	})

	var h http.Handler = mux
	h = middleware.Recovery(h)
	h = middleware.Logging(h)
	h = middleware.CORS(h)

	if a.cfg.Gateway.RateLimit.Enabled {
		rl := middleware.NewRateLimiter(middleware.RateLimiterConfig{
			RequestsPerMinute: a.cfg.Gateway.RateLimit.RequestsPerMinute,
			Burst:             a.cfg.Gateway.RateLimit.Burst,
			Enabled:           true,
			CleanupInterval:   a.cfg.Gateway.RateLimit.CleanupInterval,
		})
		h = rl.RateLimit(h)
	}

	port := a.cfg.Gateway.Port
	if port == 0 {
		port = defaultHTTPPort
	}
	addr := fmt.Sprintf("%s:%d", a.cfg.Gateway.Host, port)
	return &http.Server{Addr: addr, Handler: h}
}

// Bootstrap runs the one-time crash-recovery sweep (§4.7) before Run starts
// serving traffic: every dialog a prior process left mid-round is
// reconciled into interrupted{crash_recovery}.
func (a *App) Bootstrap() (reconciledCount int, err error) {
	return driver.Bootstrap(a.store)
}

// Run starts every background goroutine and the HTTP listener, blocking
// until ctx is cancelled, then shuts everything down gracefully.
func (a *App) Run(ctx context.Context) error {
	go a.hub.Run()

	loopDone := make(chan struct{})
	go func() {
		a.loop.Run(ctx)
		close(loopDone)
	}()

	if a.cfg.Diligence.RefillInterval > 0 {
		spec := "@every " + a.cfg.Diligence.RefillInterval.String()
		if err := a.diligenceScheduler.Start(spec); err != nil {
			return fmt.Errorf("app: start diligence scheduler: %w", err)
		}
		defer a.diligenceScheduler.Stop()
	}

	serveErrCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", a.httpServer.Addr).Msg("app: gateway listening")
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErrCh <- err
			return
		}
		serveErrCh <- nil
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErrCh:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("app: gateway shutdown did not complete cleanly")
	}

	a.loop.Stop()
	<-loopDone
	return nil
}
