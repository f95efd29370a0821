/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/robobs/internal/api"
	"github.com/friendsincode/robobs/internal/cache"
	"github.com/friendsincode/robobs/internal/config"
	"github.com/friendsincode/robobs/internal/controller"
	"github.com/friendsincode/robobs/internal/db"
	"github.com/friendsincode/robobs/internal/eventbus"
	"github.com/friendsincode/robobs/internal/events"
	"github.com/friendsincode/robobs/internal/executor"
	"github.com/friendsincode/robobs/internal/feasibility"
	"github.com/friendsincode/robobs/internal/leadership"
	"github.com/friendsincode/robobs/internal/logbuffer"
	"github.com/friendsincode/robobs/internal/obslog"
	"github.com/friendsincode/robobs/internal/scheduler"
	"github.com/friendsincode/robobs/internal/site"
	"github.com/friendsincode/robobs/internal/store"
	"github.com/friendsincode/robobs/internal/strategy"
	"github.com/friendsincode/robobs/internal/telemetry"
)

// Server bundles the control API and the controller it drives.
type Server struct {
	cfg           *config.Config
	logger        zerolog.Logger
	router        chi.Router
	httpServer    *http.Server
	metricsServer *http.Server
	closers       []func() error
	logBuffer     *logbuffer.Buffer

	db          *gorm.DB
	nc          *nats.Conn
	cache       *cache.Cache
	bus         *events.Bus
	mirror      *eventbus.Mirror
	store       *store.Store
	obslog      *obslog.Service
	scheduler   *scheduler.Service
	executor    executor.Executor
	local       *executor.Local
	controller  *controller.Controller
	leaderAware *controller.LeaderAware
	api         *api.API

	// detach unhooks the controller from the executor. Close runs it before
	// waiting on background workers so no handler is left mid-backoff.
	detach func() error

	bgCancel context.CancelFunc
	bgWG     sync.WaitGroup
}

// New constructs the server and wires dependencies. logBuf may be nil.
func New(cfg *config.Config, logBuf *logbuffer.Buffer, logger zerolog.Logger) (*Server, error) {
	for _, warn := range cfg.LegacyEnvWarnings {
		logger.Warn().Msg(warn)
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)
	router.Use(securityHeadersMiddleware)
	router.Use(telemetry.TracingMiddleware("robobs-api"))
	router.Use(telemetry.MetricsMiddleware)
	// the event stream is long lived; everything else gets a deadline
	router.Use(func(next http.Handler) http.Handler {
		timeout := middleware.Timeout(30 * time.Second)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Upgrade") == "websocket" {
				next.ServeHTTP(w, r)
				return
			}
			timeout(next).ServeHTTP(w, r)
		})
	})

	srv := &Server{
		cfg:       cfg,
		logger:    logger,
		router:    router,
		bus:       events.NewBus(),
		logBuffer: logBuf,
	}

	if err := srv.initDependencies(); err != nil {
		_ = srv.Close()
		return nil, err
	}

	srv.configureRoutes()
	if err := srv.startBackgroundWorkers(); err != nil {
		_ = srv.Close()
		return nil, err
	}

	srv.httpServer = &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           srv.router,
		ReadHeaderTimeout: 15 * time.Second,
		// the event stream manages its own write deadlines
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}
	if cfg.MetricsBind != "" {
		metrics := chi.NewRouter()
		metrics.Handle("/metrics", telemetry.Handler())
		srv.metricsServer = &http.Server{
			Addr:              cfg.MetricsBind,
			Handler:           metrics,
			ReadHeaderTimeout: 5 * time.Second,
		}
	}

	return srv, nil
}

func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Referrer-Policy", "no-referrer")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		w.Header().Set("Cache-Control", "no-store")

		if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
			w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) initDependencies() error {
	database, err := db.Connect(s.cfg)
	if err != nil {
		return err
	}
	s.db = database
	s.DeferClose(func() error { return db.Close(database) })
	if err := db.Migrate(database); err != nil {
		return err
	}
	s.store = store.New(database, s.logger)

	natsCfg := eventbus.DefaultNATSConfig()
	natsCfg.URL = s.cfg.NATSURL
	natsCfg.Token = s.cfg.NATSToken
	if s.cfg.InstanceID != "" {
		natsCfg.Name = "robobs-" + s.cfg.InstanceID
	}
	nc, err := eventbus.Connect(natsCfg, s.logger)
	if err != nil {
		return fmt.Errorf("connect observatory bus: %w", err)
	}
	s.nc = nc
	s.DeferClose(func() error { return nc.Drain() })
	s.mirror = eventbus.NewMirror(s.bus, nc, natsCfg.SubjectPrefix, s.logger)
	stopRelay, err := s.mirror.Relay(nc, events.EventCatalogImported, events.EventCatalogReset)
	if err != nil {
		return fmt.Errorf("relay catalog events: %w", err)
	}
	s.DeferClose(func() error {
		stopRelay()
		return nil
	})

	if s.cfg.CacheEnabled {
		cacheCfg := cache.DefaultConfig()
		cacheCfg.RedisAddr = s.cfg.RedisAddr
		cacheCfg.RedisPassword = s.cfg.RedisPassword
		cacheCfg.RedisDB = s.cfg.RedisDB
		ephemeris, err := cache.New(cacheCfg, s.logger)
		if err != nil {
			s.logger.Warn().Err(err).Msg("ephemeris cache unavailable, asking the site every time")
		} else {
			s.cache = ephemeris
			s.DeferClose(ephemeris.Close)
		}
	}

	remote := site.NewRemote(nc, s.cfg.SiteSubject, s.cfg.BusTimeout, s.logger)
	var ephemerides site.EphemerisCache
	if s.cache != nil {
		ephemerides = s.cache
	}
	observatory := site.NewCached(remote, ephemerides, s.cfg.SiteLongitude)

	var evalOpts []feasibility.Option
	if s.cfg.SeeingSubject != "" {
		evalOpts = append(evalOpts, feasibility.WithSeeing(site.NewRemoteSeeing(nc, s.cfg.SeeingSubject, s.cfg.BusTimeout)))
	}
	eval := feasibility.New(observatory, s.logger, evalOpts...)

	strategies := strategy.Builtin(strategy.Deps{
		Site:       observatory,
		History:    s.store,
		TimedGrace: s.cfg.TimedGrace,
		Logger:     s.logger,
	})
	s.scheduler = scheduler.New(s.store, strategies, eval, s.cfg.ProbeSamples, s.logger, scheduler.WithPublisher(s.mirror))

	switch s.cfg.ExecutorBackend {
	case config.ExecutorLocal:
		s.local = executor.NewLocal(s.logger, executor.WithPace(1), executor.WithPublisher(s.mirror))
		s.executor = s.local
	default:
		s.executor = executor.NewRemote(nc, s.cfg.ExecutorSubject, s.cfg.BusTimeout, s.logger)
	}

	s.obslog = obslog.NewService(database, s.bus, s.logger)

	s.controller = controller.New(controller.Config{
		ParkAlt: s.cfg.ParkAlt,
		ParkAz:  s.cfg.ParkAz,
		Backoff: s.cfg.Backoff,
	}, controller.Deps{
		Executor:   s.executor,
		Scheduler:  s.scheduler,
		Store:      s.store,
		Log:        s.obslog,
		Strategies: strategies,
		Clock:      observatory,
		Bus:        s.mirror,
		Logger:     s.logger,
	})

	if s.cfg.LeaderElectionEnabled {
		electionCfg := leadership.DefaultConfig()
		electionCfg.RedisAddr = s.cfg.RedisAddr
		electionCfg.RedisPassword = s.cfg.RedisPassword
		electionCfg.RedisDB = s.cfg.RedisDB
		if s.cfg.InstanceID != "" {
			electionCfg.InstanceID = s.cfg.InstanceID
		}

		election, err := leadership.NewElection(electionCfg, s.logger)
		if err != nil {
			return fmt.Errorf("create leader election: %w", err)
		}
		s.leaderAware = controller.NewLeaderAware(s.controller, election, s.cfg.AutoStart, s.logger)
		s.detach = s.leaderAware.Stop

		s.logger.Info().
			Str("redis_addr", s.cfg.RedisAddr).
			Str("instance_id", electionCfg.InstanceID).
			Msg("leader election enabled for controller")
	}

	s.api = api.New(api.Deps{
		Controller: s.controller,
		Planner:    s.scheduler,
		Programs:   s.store,
		Logs:       s.obslog,
		Executor:   s.executor,
		Clock:      observatory,
		Strategies: strategies.IDs,
		Bus:        s.bus,
		LogBuffer:  s.logBuffer,
		JWTSecret:  []byte(s.cfg.JWTSigningKey),
		IsLeader:   s.IsLeader,
		Logger:     s.logger,
	})

	return nil
}

// HTTPServer exposes the control API server.
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// MetricsServer exposes the Prometheus endpoint server, nil when disabled.
func (s *Server) MetricsServer() *http.Server {
	return s.metricsServer
}

// IsLeader reports whether this instance drives the telescope.
func (s *Server) IsLeader() bool {
	if s.leaderAware == nil {
		return true
	}
	return s.leaderAware.IsLeader()
}

// Close detaches the controller, stops background workers, then releases
// owned resources in reverse order.
func (s *Server) Close() error {
	var firstErr error
	if s.detach != nil {
		firstErr = s.detach()
		s.detach = nil
	}
	s.stopBackgroundWorkers()
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.closers = nil
	return firstErr
}

// DeferClose registers a cleanup hook.
func (s *Server) DeferClose(fn func() error) {
	s.closers = append(s.closers, fn)
}

func (s *Server) startBackgroundWorkers() error {
	ctx, cancel := context.WithCancel(context.Background())
	s.bgCancel = cancel

	s.bgWG.Add(1)
	go func() {
		defer s.bgWG.Done()
		s.obslog.Start(ctx)
	}()

	if s.local != nil {
		s.bgWG.Add(1)
		go func() {
			defer s.bgWG.Done()
			if err := s.local.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Error().Err(err).Msg("local executor exited")
			}
		}()
	}

	if s.leaderAware != nil {
		if err := s.leaderAware.Start(ctx); err != nil {
			return fmt.Errorf("start leader election: %w", err)
		}
	} else {
		if err := s.controller.Attach(); err != nil {
			return fmt.Errorf("attach controller: %w", err)
		}
		s.detach = func() error {
			if err := s.controller.Detach(); err != nil && !errors.Is(err, controller.ErrNotAttached) {
				return err
			}
			return nil
		}
		if s.cfg.AutoStart {
			s.controller.Start(ctx)
			if err := s.controller.Wake(ctx); err != nil {
				s.logger.Warn().Err(err).Msg("initial wake failed")
			}
		}
	}

	s.bgWG.Add(1)
	go func() {
		defer s.bgWG.Done()
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				db.UpdateConnectionMetrics(s.db)
			}
		}
	}()

	return nil
}

func (s *Server) stopBackgroundWorkers() {
	if s.bgCancel == nil {
		return
	}
	s.bgCancel()
	s.bgWG.Wait()
	s.bgCancel = nil
}

func (s *Server) configureRoutes() {
	s.router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		status, code := "ok", http.StatusOK
		if err := db.Ping(ctx, s.db); err != nil {
			status, code = "database_unavailable", http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_, _ = fmt.Fprintf(w, `{"status":%q,"leader":%t}`, status, s.IsLeader())
	})

	s.api.Routes(s.router)
}
