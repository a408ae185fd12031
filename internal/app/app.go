// Package app wires the daemon together: configuration, logging, the
// external session store, the delivery engine, the HTTP/WebSocket surface,
// and the maintenance jobs.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"notifyd/internal/config"
	"notifyd/internal/dispatch"
	"notifyd/internal/eventbus"
	"notifyd/internal/httpapi"
	"notifyd/internal/janitor"
	"notifyd/internal/metrics"
	"notifyd/internal/store"
	"notifyd/internal/transport/ws"
	logx "notifyd/pkg/logx"
)

const defaultListenAddr = ":8085"

type App struct {
	version string

	cfgm *config.Manager
	logs *logx.Service
	log  logx.Logger

	bus     eventbus.Bus
	metrics *metrics.Collector
	store   store.Store
	engine  *dispatch.Engine
	api     *httpapi.Handler
	jan     *janitor.Service
	pprof   *pprofServer

	srv  *http.Server
	addr string

	runCtx    context.Context
	runCancel context.CancelFunc
	wg        sync.WaitGroup
	sub       chan *config.Config
}

// New loads and validates the config file at cfgPath and builds the whole
// component graph. Nothing is listening or ticking until Start.
func New(cfgPath, version string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logs, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})

	cfgm.SetLogger(log.With(logx.String("comp", "config")))
	cfgm.SetValidator(func(_ context.Context, c *config.Config) error {
		return c.Validate()
	})

	busyTimeout, err := config.ParseDurationOrDefault("store.busy_timeout", cfg.Store.BusyTimeout, 0)
	if err != nil {
		return nil, err
	}
	st, err := store.Open(store.Config{
		Driver:      cfg.Store.Driver,
		Path:        cfg.Store.Path,
		BusyTimeout: busyTimeout,
	}, log.With(logx.String("comp", "store")))
	if err != nil {
		return nil, fmt.Errorf("open session store: %w", err)
	}

	bus := eventbus.New()
	col := metrics.NewCollector()

	dcfg, err := dispatchConfig(cfg)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	engine := dispatch.New(dcfg, st, log.With(logx.String("comp", "dispatch")), bus, col)

	gw := ws.NewGateway(engine, cfg.Server.AllowedOrigins, log.With(logx.String("comp", "ws")))

	acfg, err := apiConfig(cfg)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	api := httpapi.NewHandler(acfg, engine, st, col, log.With(logx.String("comp", "http")), version)

	router := httpapi.NewRouter(api, gw, col.Handler(), log.With(logx.String("comp", "http")))

	addr := cfg.Server.Addr
	if addr == "" {
		addr = defaultListenAddr
	}
	srv, err := buildServer(addr, router, cfg.Server)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	jan := janitor.New(st, engine, log.With(logx.String("comp", "janitor")))

	return &App{
		version: version,
		cfgm:    cfgm,
		logs:    logs,
		log:     log.With(logx.String("comp", "app")),
		bus:     bus,
		metrics: col,
		store:   st,
		engine:  engine,
		api:     api,
		jan:     jan,
		pprof:   newPprofServer(log.With(logx.String("comp", "pprof"))),
		srv:     srv,
		addr:    addr,
	}, nil
}

// Start binds the listener and launches the dispatch loop, maintenance jobs,
// and the config watcher. It returns once everything is running.
func (a *App) Start(ctx context.Context) error {
	a.runCtx, a.runCancel = context.WithCancel(ctx)
	cfg := a.cfgm.Get()

	ln, err := net.Listen("tcp", a.addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", a.addr, err)
	}
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := a.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("http server error", logx.Err(err))
		}
	}()

	a.engine.Start(a.runCtx)

	if err := a.jan.Apply(janitor.Config{
		Enabled:  cfg.Janitor.Enabled,
		Schedule: cfg.Janitor.Schedule,
	}); err != nil {
		a.log.Warn("janitor config rejected", logx.Err(err))
	}

	a.pprof.Apply(a.runCtx, cfg.Pprof)

	events, unsub := a.bus.Subscribe(64)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer unsub()
		a.eventLoop(a.runCtx, events)
	}()

	a.sub = a.cfgm.Subscribe(8)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.reloadLoop(a.runCtx)
	}()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		_ = a.cfgm.Watch(a.runCtx)
	}()

	notifyReady(a.runCtx, a.log)
	a.log.Info("started",
		logx.String("addr", ln.Addr().String()),
		logx.String("version", a.version),
	)
	return nil
}

// Stop shuts everything down in dependency order, bounded by ctx.
func (a *App) Stop(ctx context.Context) error {
	notifyStopping()
	a.log.Info("stopping")

	if a.runCancel != nil {
		a.runCancel()
	}

	// Stop accepting new requests and upgrades first; live websockets are
	// closed by Shutdown's listener teardown followed by engine detach.
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	if err := a.srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		a.log.Warn("http shutdown error", logx.Err(err))
	}
	cancel()

	a.engine.Stop(ctx)
	a.jan.Stop(ctx)
	a.api.Stop()
	a.pprof.Stop(ctx)

	if a.sub != nil {
		a.cfgm.Unsubscribe(a.sub)
		a.sub = nil
	}

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		a.log.Warn("shutdown deadline reached", logx.Err(ctx.Err()))
	}

	if err := a.store.Close(); err != nil {
		a.log.Warn("store close error", logx.Err(err))
	}
	a.log.Info("stopped")
	_ = a.logs.Close()
	return nil
}

// eventLoop traces delivery lifecycle events. Metrics carry the aggregates;
// this is the per-event debug trail.
func (a *App) eventLoop(ctx context.Context, events <-chan eventbus.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			a.log.Debug("event",
				logx.String("type", e.Type),
				logx.Any("data", e.Data),
			)
		}
	}
}

// reloadLoop applies hot-reloadable config sections as the watcher publishes
// new versions. Listener address changes require a restart and are only
// logged.
func (a *App) reloadLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case newCfg, ok := <-a.sub:
			if !ok {
				return
			}
			// Coalesce bursts: keep only the latest config.
			for {
				select {
				case newer := <-a.sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					goto APPLY
				}
			}
		APPLY:
			a.applyConfig(ctx, newCfg)
		}
	}
}

func (a *App) applyConfig(ctx context.Context, cfg *config.Config) {
	a.logs.Apply(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})

	if dcfg, err := dispatchConfig(cfg); err != nil {
		a.log.Warn("dispatch config rejected", logx.Err(err))
	} else {
		a.engine.Apply(dcfg)
	}

	if acfg, err := apiConfig(cfg); err != nil {
		a.log.Warn("api config rejected", logx.Err(err))
	} else {
		a.api.Apply(acfg)
	}

	if err := a.jan.Apply(janitor.Config{
		Enabled:  cfg.Janitor.Enabled,
		Schedule: cfg.Janitor.Schedule,
	}); err != nil {
		a.log.Warn("janitor config rejected", logx.Err(err))
	}

	a.pprof.Apply(ctx, cfg.Pprof)

	if addr := cfg.Server.Addr; addr != "" && addr != a.addr {
		a.log.Warn("server.addr changed; restart required to take effect",
			logx.String("running", a.addr),
			logx.String("configured", addr),
		)
	}

	a.log.Info("config reloaded")
}

// dispatchConfig translates the wire config into engine settings.
func dispatchConfig(cfg *config.Config) (dispatch.Config, error) {
	tick, err := config.ParseDurationOrDefault("dispatch.tick_interval", cfg.Dispatch.TickInterval, time.Second)
	if err != nil {
		return dispatch.Config{}, err
	}
	deliver, err := config.ParseDurationOrDefault("dispatch.deliver_timeout", cfg.Dispatch.DeliverTimeout, 5*time.Second)
	if err != nil {
		return dispatch.Config{}, err
	}
	ack, err := config.ParseDurationOrDefault("dispatch.ack_timeout", cfg.Dispatch.AckTimeout, 2*time.Second)
	if err != nil {
		return dispatch.Config{}, err
	}
	ttl, err := config.ParseDurationOrDefault("session.ttl", cfg.Session.TTL, 30*time.Minute)
	if err != nil {
		return dispatch.Config{}, err
	}
	dropOffline := true
	if cfg.Dispatch.DropOffline != nil {
		dropOffline = *cfg.Dispatch.DropOffline
	}
	return dispatch.Config{
		TickInterval:   tick,
		DeliverTimeout: deliver,
		AckTimeout:     ack,
		SessionTTL:     ttl,
		DropOffline:    dropOffline,
	}, nil
}

func apiConfig(cfg *config.Config) (httpapi.Config, error) {
	ttl, err := config.ParseDurationOrDefault("session.ttl", cfg.Session.TTL, 30*time.Minute)
	if err != nil {
		return httpapi.Config{}, err
	}
	return httpapi.Config{
		Senders:    cfg.Session.Senders,
		SessionTTL: ttl,
		RatePerSec: cfg.Session.RatePerSec,
	}, nil
}

// buildServer applies the optional HTTP timeouts. Read/write timeouts stay
// off by default because they would also cut long-lived websocket channels.
func buildServer(addr string, handler http.Handler, sc config.ServerConfig) (*http.Server, error) {
	readTimeout, err := config.ParseDurationOrDefault("server.read_timeout", sc.ReadTimeout, 0)
	if err != nil {
		return nil, err
	}
	writeTimeout, err := config.ParseDurationOrDefault("server.write_timeout", sc.WriteTimeout, 0)
	if err != nil {
		return nil, err
	}
	idleTimeout, err := config.ParseDurationOrDefault("server.idle_timeout", sc.IdleTimeout, 60*time.Second)
	if err != nil {
		return nil, err
	}
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: 10 * time.Second,
	}, nil
}
