package main

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/parleykit/parley/api"
	"github.com/parleykit/parley/api/handlers"
	"github.com/parleykit/parley/arbitration"
	"github.com/parleykit/parley/config"
	"github.com/parleykit/parley/dialogue"
	"github.com/parleykit/parley/internal/metrics"
	"github.com/parleykit/parley/internal/server"
	"github.com/parleykit/parley/oracle"
	"github.com/parleykit/parley/store"
)

// Server assembles and runs the coordination service.
type Server struct {
	cfg    *config.Config
	logger *zap.Logger

	httpManager *server.Manager

	st          store.Store
	redisClient *redis.Client
	collector   *metrics.Collector

	backgroundCancel context.CancelFunc
}

// NewServer creates a server from the resolved configuration.
func NewServer(cfg *config.Config, logger *zap.Logger) *Server {
	return &Server{
		cfg:    cfg,
		logger: logger,
	}
}

// Start wires every component and begins serving. Non-blocking.
func (s *Server) Start() error {
	s.collector = metrics.NewCollector("parley", prometheus.DefaultRegisterer)

	backgroundCtx, cancel := context.WithCancel(context.Background())
	s.backgroundCancel = cancel

	st, err := store.Open(s.cfg.Store, s.logger)
	if err != nil {
		cancel()
		return fmt.Errorf("failed to open store: %w", err)
	}
	s.st = st
	s.logger.Info("store opened", zap.String("driver", s.cfg.Store.Driver))

	var cache *store.TranscriptCache
	if s.cfg.Redis.Enabled {
		s.redisClient = redis.NewClient(&redis.Options{
			Addr:     s.cfg.Redis.Addr,
			Password: s.cfg.Redis.Password,
			DB:       s.cfg.Redis.DB,
			PoolSize: s.cfg.Redis.PoolSize,
		})
		cache = store.NewTranscriptCache(s.redisClient, s.cfg.Redis.TranscriptTTL, s.logger)
		s.logger.Info("transcript cache enabled", zap.String("addr", s.cfg.Redis.Addr))
	}

	oracleClient := oracle.New(s.cfg.Oracle, s.logger).WithMetrics(s.collector)

	manager := dialogue.NewSessionManager(st, s.logger).WithMetrics(s.collector)
	scheduler := dialogue.NewTurnScheduler(st, oracleClient, s.logger).WithMetrics(s.collector)
	interruptions := dialogue.NewInterruptionHandler(st, s.logger).WithMetrics(s.collector)
	detector := arbitration.NewConflictDetector(oracleClient, st, s.logger).WithMetrics(s.collector)
	resolver := arbitration.NewResolver(oracleClient, st, s.logger).WithMetrics(s.collector)

	if s.cfg.Dialogue.SweeperEnabled {
		sweeper := dialogue.NewExpirySweeper(st, s.cfg.Dialogue.SweeperInterval, s.logger).
			WithMetrics(s.collector)
		sweeper.Start(backgroundCtx)
		s.logger.Info("expiry sweeper started",
			zap.Duration("interval", s.cfg.Dialogue.SweeperInterval))
	}

	health := handlers.NewHealthHandler(s.logger)
	health.RegisterCheck(handlers.NewPingCheck("store", func(ctx context.Context) error {
		_, err := st.ListActiveSessions(ctx)
		return err
	}))
	if s.redisClient != nil {
		health.RegisterCheck(handlers.NewPingCheck("redis", func(ctx context.Context) error {
			return s.redisClient.Ping(ctx).Err()
		}))
	}

	router := api.NewRouter(api.Handlers{
		Dialogue:    handlers.NewDialogueHandler(manager, scheduler, interruptions, cache, s.logger),
		Arbitration: handlers.NewArbitrationHandler(detector, resolver, st, s.logger),
		Health:      health,
	}, api.BuildInfo{Version: Version, BuildTime: BuildTime, GitCommit: GitCommit})

	skipAuthPaths := []string{"/health", "/healthz", "/ready", "/readyz", "/version", "/metrics"}
	middlewares := []Middleware{
		Recovery(s.logger),
		RequestID(),
		SecurityHeaders(),
		RequestLogger(s.logger),
		MetricsMiddleware(s.collector),
		CORS(s.cfg.API.AllowedOrigin),
	}
	if s.cfg.API.RateLimitRPS > 0 {
		middlewares = append(middlewares,
			RateLimiter(backgroundCtx, s.cfg.API.RateLimitRPS, s.cfg.API.RateLimitBurst))
	}
	if len(s.cfg.API.APIKeys) > 0 {
		middlewares = append(middlewares,
			APIKeyAuth(s.cfg.API.APIKeys, skipAuthPaths, s.logger))
	}
	handler := Chain(router, middlewares...)

	s.httpManager = server.NewManager(handler, s.cfg.Server.Config, s.logger)

	if s.cfg.Server.TLSCertFile != "" {
		err = s.httpManager.StartTLS(s.cfg.Server.TLSCertFile, s.cfg.Server.TLSKeyFile)
	} else {
		err = s.httpManager.Start()
	}
	if err != nil {
		cancel()
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	s.logger.Info("server started", zap.String("addr", s.cfg.Server.Addr))
	return nil
}

// WaitForShutdown blocks until a termination signal, then shuts down.
func (s *Server) WaitForShutdown() {
	if s.httpManager != nil {
		s.httpManager.WaitForShutdown()
	}
	s.Shutdown()
}

// Shutdown stops background work and releases resources.
func (s *Server) Shutdown() {
	s.logger.Info("starting graceful shutdown")

	ctx := context.Background()

	if s.backgroundCancel != nil {
		s.backgroundCancel()
	}

	if s.httpManager != nil {
		if err := s.httpManager.Shutdown(ctx); err != nil {
			s.logger.Error("HTTP server shutdown error", zap.Error(err))
		}
	}

	if s.redisClient != nil {
		if err := s.redisClient.Close(); err != nil {
			s.logger.Error("redis close error", zap.Error(err))
		}
	}

	if s.st != nil {
		if err := s.st.Close(); err != nil {
			s.logger.Error("store close error", zap.Error(err))
		}
	}

	s.logger.Info("graceful shutdown completed")
}
