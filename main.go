package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/crewdesk/crewdesk-engine/pkg/access"
	"github.com/crewdesk/crewdesk-engine/pkg/auth"
	"github.com/crewdesk/crewdesk-engine/pkg/config"
	"github.com/crewdesk/crewdesk-engine/pkg/database"
	"github.com/crewdesk/crewdesk-engine/pkg/entity"
	"github.com/crewdesk/crewdesk-engine/pkg/handlers"
	"github.com/crewdesk/crewdesk-engine/pkg/logging"
	"github.com/crewdesk/crewdesk-engine/pkg/middleware"
	"github.com/crewdesk/crewdesk-engine/pkg/models"
	"github.com/crewdesk/crewdesk-engine/pkg/services"
)

// Version is set at build time via ldflags
var Version = "dev"

const schemaDir = "schemas"

func main() {
	// Load configuration
	cfg, err := config.Load(Version)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	logger.Info("Configuration loaded",
		zap.String("environment", cfg.Env),
		zap.String("base_url", cfg.BaseURL),
		zap.Bool("auth_verification", cfg.Auth.EnableVerification),
		zap.String("database", logging.SanitizeConnectionString(cfg.Database.ConnectionString())))

	// Run migrations before opening the pool
	if err := database.RunMigrations(cfg.Database.ConnectionString(), cfg.Database.MigrationsPath, logger); err != nil {
		logger.Fatal("Failed to run migrations", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.NewConnection(ctx, &database.Config{
		URL:            cfg.Database.ConnectionString(),
		MaxConnections: int32(cfg.Database.MaxConnections),
	})
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	registry := models.NewRegistry()
	store := entity.NewStore(db, registry, logger)
	resolver := access.NewResolver(db, registry, cfg.Access.ScopeCacheTTL(), logger)

	validator, err := services.LoadSchemaDir(schemaDir)
	if err != nil {
		logger.Fatal("Failed to load payload schemas", zap.Error(err))
	}

	entityService := services.NewEntityService(store, validator, resolver, logger)

	jwksClient, err := auth.NewJWKSClient(&auth.JWKSConfig{
		EnableVerification: cfg.Auth.EnableVerification,
		JWKSEndpoints:      cfg.Auth.JWKSEndpoints,
	})
	if err != nil {
		logger.Fatal("Failed to initialize JWKS client", zap.Error(err))
	}

	authMW := auth.NewMiddleware(jwksClient, !cfg.Auth.EnableVerification, logger)
	accessMW := access.NewMiddleware(resolver, store, registry, logger)

	mux := http.NewServeMux()

	healthHandler := handlers.NewHealthHandler(cfg, logger)
	healthHandler.RegisterRoutes(mux)

	entityHandler := handlers.NewEntityHandler(entityService, logger)
	entityHandler.RegisterRoutes(mux, authMW, accessMW)

	server := &http.Server{
		Addr:         cfg.BindAddr + ":" + cfg.Port,
		Handler:      middleware.RequestLogger(logger)(mux),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		logger.Info("Starting crewdesk-engine",
			zap.String("addr", server.Addr),
			zap.String("version", cfg.Version))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Graceful shutdown failed", zap.Error(err))
	}
}
