package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	apihttp "github.com/Future-Outlier/smart-glass-OS-system-AugmentOS-sub000/internal/api/http"
	"github.com/Future-Outlier/smart-glass-OS-system-AugmentOS-sub000/internal/api/middleware"
	"github.com/Future-Outlier/smart-glass-OS-system-AugmentOS-sub000/internal/api/ws"
	"github.com/Future-Outlier/smart-glass-OS-system-AugmentOS-sub000/internal/analytics"
	"github.com/Future-Outlier/smart-glass-OS-system-AugmentOS-sub000/internal/auth"
	"github.com/Future-Outlier/smart-glass-OS-system-AugmentOS-sub000/internal/catalog"
	"github.com/Future-Outlier/smart-glass-OS-system-AugmentOS-sub000/internal/domain/session"
	"github.com/Future-Outlier/smart-glass-OS-system-AugmentOS-sub000/internal/infrastructure/config"
	"github.com/Future-Outlier/smart-glass-OS-system-AugmentOS-sub000/internal/infrastructure/logging"
	"github.com/Future-Outlier/smart-glass-OS-system-AugmentOS-sub000/internal/infrastructure/monitoring"
	"github.com/Future-Outlier/smart-glass-OS-system-AugmentOS-sub000/internal/userdata"
	"github.com/Future-Outlier/smart-glass-OS-system-AugmentOS-sub000/internal/webhook"
)

// Server wraps the HTTP server and every component behind it.
type Server struct {
	cfg      *config.Config
	logger   *logging.Logger
	metrics  *monitoring.Metrics
	sessions *session.Registry
	srv      *http.Server
}

// NewServer wires the whole session cloud from configuration.
func NewServer(cfg *config.Config) (*Server, error) {
	logger, err := logging.New(logging.Config{
		Level:       cfg.Logging.Level,
		Development: cfg.Logging.Development,
		OutputPaths: []string{"stdout"},
	})
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}

	logger.Info("initializing session cloud",
		zap.String("host", cfg.Server.Host),
		zap.String("port", cfg.Server.Port),
		zap.String("publicUrl", cfg.Server.PublicURL))

	metrics := monitoring.NewMetrics()

	// App catalog, seeded from on-disk manifests.
	store := catalog.NewMemoryStore()
	seeder := catalog.NewSeeder(store, cfg.Catalog.Dir, logger)
	if err := seeder.Seed(context.Background()); err != nil {
		logger.Warn("catalog seeding failed", zap.Error(err))
	}

	// Device token verification. Without a secret every token is taken
	// at face value, which is only acceptable on a developer machine.
	var verifier auth.Verifier
	if cfg.Auth.JWTSecret != "" {
		verifier, err = auth.NewJWT([]byte(cfg.Auth.JWTSecret))
		if err != nil {
			return nil, fmt.Errorf("build token verifier: %w", err)
		}
	} else {
		logger.Warn("AUTH_JWT_SECRET not set, device tokens are not verified")
		verifier = auth.InsecureVerifier{}
	}

	users := userdata.NewMemoryStore()
	webhooks := webhook.NewDispatcher(cfg.Webhook, logger, metrics)
	sessions := session.NewRegistry(cfg, session.Deps{
		Catalog:   store,
		Users:     users,
		Webhooks:  webhooks,
		Analytics: analytics.NewZap(logger),
	}, logger, metrics)

	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(monitoring.Middleware(metrics))
	router.Use(middleware.CORS(middleware.DefaultCORSConfig()))

	handlers := apihttp.NewHandlers(sessions, metrics)
	wsHandler := ws.NewHandler(cfg, sessions, verifier, catalog.NewAuthenticator(store), logger, metrics)

	// The rate limiter protects the REST surface only. The sockets are
	// single long-lived connections with their own handshake deadlines.
	rest := router.Group("/")
	if cfg.RateLimit.Enabled {
		logger.Info("rate limiting enabled",
			zap.Int("rps", cfg.RateLimit.RequestsPerSecond),
			zap.Int("burst", cfg.RateLimit.Burst))
		rest.Use(middleware.RateLimit(cfg.RateLimit))
	}
	rest.GET("/", handlers.Root)
	rest.GET("/health", handlers.Health)
	rest.GET("/api/sessions", handlers.ListSessions)
	rest.GET("/api/sessions/:userId", handlers.GetSession)
	rest.GET("/metrics", gin.WrapH(promhttp.Handler()))

	router.GET("/glasses-ws", wsHandler.HandleDevice)
	router.GET("/app-ws", wsHandler.HandleApp)

	logger.Info("server initialized")

	return &Server{
		cfg:      cfg,
		logger:   logger,
		metrics:  metrics,
		sessions: sessions,
		srv: &http.Server{
			Addr:    cfg.Server.Host + ":" + cfg.Server.Port,
			Handler: router,
		},
	}, nil
}

// Run serves until the listener fails or Shutdown is called.
func (s *Server) Run() error {
	s.logger.Info("starting http server", zap.String("addr", s.srv.Addr))
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown stops the listener, then disposes every live session so
// devices and apps get close frames instead of dead sockets.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down")

	var errs error
	if err := s.srv.Shutdown(ctx); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("stop http server: %w", err))
	}
	if err := s.sessions.Teardown(ctx); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("tear down sessions: %w", err))
	}

	_ = s.logger.Sync()
	return errs
}
