// Package main initializes and starts the StudyDeck auth server, setting up
// configuration, logging, metrics, the database, repositories, services and
// handlers.
package main

import (
	"cmp"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	nethttp "net/http"

	"github.com/atinyakov/studydeck/internal/config"
	"github.com/atinyakov/studydeck/internal/db"
	"github.com/atinyakov/studydeck/internal/logger"
	"github.com/atinyakov/studydeck/internal/metrics"
	"github.com/atinyakov/studydeck/internal/repository"
	"github.com/atinyakov/studydeck/internal/server/handler/http"
	"github.com/atinyakov/studydeck/internal/service"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

var (
	// version holds the build version set via ldflags.
	version string
	// buildDate holds the build timestamp set via ldflags.
	buildDate string
)

func main() {
	// Parse command-line, file and environment configuration.
	options := config.Parse()

	// Print build metadata (or "N/A" if unset).
	fmt.Printf("Build version: %s\n", cmp.Or(version, "N/A"))
	fmt.Printf("Build date: %s\n", cmp.Or(buildDate, "N/A"))

	// Initialize structured logging.
	log := logger.New()
	defer func() { _ = log.Log.Sync() }()
	if err := log.Init(options.LogLevel); err != nil {
		log.Log.Fatal("failed to init logger", zap.Error(err))
	}
	zapLogger := log.Log

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize PostgreSQL connection.
	postgresDB, err := db.InitPostgres(options.DatabaseDSN)
	if err != nil {
		zapLogger.Fatal("cannot init database", zap.Error(err))
	}
	defer postgresDB.Close()

	// Remove sessions that expired more than a day ago.
	db.StartExpiredSessionCleaner(ctx, postgresDB, options.CleanupInterval, 24*time.Hour, zapLogger)

	// Metrics registry with process and Go runtime collectors.
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	serverMetrics := metrics.NewServer(reg)

	// Repository and business-logic service.
	authRepo := repository.NewPostgresAuthRepository(postgresDB)
	tokens, err := service.NewTokenIssuer(options.JWTSecret, options.JWTIssuer, options.AccessTokenTTL)
	if err != nil {
		zapLogger.Fatal("invalid token settings", zap.Error(err))
	}
	authService := service.NewAuthService(authRepo, tokens, options.RefreshTokenTTL)

	// HTTP handlers and router.
	authHandler := &http.AuthHandler{
		AuthService:   authService,
		Logger:        zapLogger,
		Metrics:       serverMetrics,
		SecureCookies: options.SecureCookies,
	}
	router := http.NewRouter(authHandler, authService, serverMetrics,
		promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}), zapLogger)

	server := &nethttp.Server{
		Addr:              options.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if options.TLSCertFile != "" {
			server.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
			zapLogger.Info("starting HTTPS server", zap.String("addr", options.Port))
			errCh <- server.ListenAndServeTLS(options.TLSCertFile, options.TLSKeyFile)
			return
		}
		zapLogger.Info("starting HTTP server", zap.String("addr", options.Port))
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, nethttp.ErrServerClosed) {
			zapLogger.Fatal("server failed", zap.Error(err))
		}
	case <-ctx.Done():
		zapLogger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			zapLogger.Error("graceful shutdown failed", zap.Error(err))
		}
	}
}
