package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"taskapi/internal/analytics"
	"taskapi/internal/auth"
	"taskapi/internal/server"
	"taskapi/internal/storage/sqlite"
	"taskapi/internal/tasks"
	"taskapi/internal/util"
)

func main() {
	// A missing .env is normal outside local development.
	envErr := godotenv.Load()

	addrFlag := flag.String("addr", util.EnvOrDefault("TASKAPI_ADDR", ":8080"), "HTTP listen address")
	dbFlag := flag.String("db", util.EnvOrDefault("TASKAPI_DB_PATH", "data/taskapi.db"), "Path to sqlite database file")
	secretFlag := flag.String("jwt-secret", util.EnvOrDefault("TASKAPI_JWT_SECRET", ""), "HMAC secret used to sign tokens")
	ttlFlag := flag.Duration("token-ttl", util.EnvDurationOrDefault("TASKAPI_TOKEN_TTL", auth.DefaultTokenConfig().TTL), "Lifetime of issued tokens")
	adminFlag := flag.String("admin-email", util.EnvOrDefault("TASKAPI_ADMIN_EMAIL", ""), "Email that receives the admin role on registration")
	corsFlag := flag.String("cors-origins", util.EnvOrDefault("TASKAPI_CORS_ORIGINS", ""), "Comma separated list of allowed CORS origins")
	debugFlag := flag.Bool("debug", util.EnvOrDefault("TASKAPI_DEBUG", "") != "", "Enable debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if *debugFlag {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	if envErr != nil && !errors.Is(envErr, os.ErrNotExist) {
		logger.Warn("unable to load .env", slog.String("error", envErr.Error()))
	}

	tokenConfig := auth.DefaultTokenConfig()
	tokenConfig.TTL = *ttlFlag
	tokenConfig.SecretKey = *secretFlag
	tokens, err := auth.NewTokenManager(tokenConfig)
	if err != nil {
		logger.Error("invalid token configuration; set TASKAPI_JWT_SECRET", slog.String("error", err.Error()))
		os.Exit(1)
	}

	store, err := sqlite.Open(*dbFlag, logger)
	if err != nil {
		logger.Error("unable to open database", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer store.Close()

	authService := auth.NewService(store, auth.NewPasswordHasher(0), tokens, *adminFlag, logger)
	srv := server.New(server.Services{
		Auth:      authService,
		Tasks:     tasks.NewService(store, logger),
		Analytics: analytics.NewAggregator(store, logger),
		Health:    store,
	}, logger, server.Options{
		CORSOrigins: util.SplitList(*corsFlag),
	})

	httpServer := &http.Server{
		Addr:              *addrFlag,
		Handler:           srv.Engine(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("starting server", slog.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server stopped unexpectedly", slog.String("error", err.Error()))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("failed to shutdown server", slog.String("error", err.Error()))
	}

	logger.Info("server stopped")
}
