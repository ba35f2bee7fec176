// Package main initializes and starts the session-lock HTTPS server,
// setting up configuration, logging, database connections, the shared
// clock store, repositories, services, handlers, and mutual TLS.
package main

import (
	"cmp"
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	nethttp "net/http"

	"github.com/atinyakov/sessionlock/internal/clockstore"
	"github.com/atinyakov/sessionlock/internal/config"
	"github.com/atinyakov/sessionlock/internal/db"
	"github.com/atinyakov/sessionlock/internal/logger"
	"github.com/atinyakov/sessionlock/internal/repository"
	"github.com/atinyakov/sessionlock/internal/server/handler/http"
	"github.com/atinyakov/sessionlock/internal/service"
	"go.uber.org/zap"
)

var (
	// version holds the build version set via ldflags.
	version string
	// buildDate holds the build timestamp set via ldflags.
	buildDate string
)

const (
	auditCleanInterval = time.Hour
	tabReapInterval    = 5 * time.Minute
	shutdownTimeout    = 10 * time.Second
)

func main() {
	// Parse command-line and environment configuration.
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

	// Initialize PostgreSQL connection and schema.
	postgresDB, err := db.InitPostgres(ctx, options.DatabaseDSN)
	if err != nil {
		zapLogger.Fatal("cannot init database", zap.Error(err))
	}
	defer postgresDB.Close()

	db.StartAuditRetentionCleaner(ctx, postgresDB,
		auditCleanInterval,
		options.AuditRetention.Std(),
		zapLogger,
	)

	// Shared clock store: Redis when configured, process memory otherwise.
	var backend clockstore.Backend
	if options.RedisAddr != "" {
		client, err := clockstore.ConnectRedis(ctx, options.RedisAddr, options.RedisPassword)
		if err != nil {
			zapLogger.Fatal("cannot connect to redis", zap.Error(err))
		}
		defer client.Close()
		backend = clockstore.NewRedis(client, clockstore.DefaultRedisPrefix, zapLogger)
		zapLogger.Info("clock store on redis", zap.String("addr", options.RedisAddr))
	} else {
		backend = clockstore.NewMemory()
		zapLogger.Warn("clock store in memory; lock state is lost on restart")
	}

	// Repositories and services.
	credentialRepo := repository.NewPostgresCredentialRepository(postgresDB)
	auditRepo := repository.NewPostgresAuditRepository(postgresDB)

	auditService := service.NewAuditService(auditRepo, zapLogger)
	sessionService := service.NewSessionService(service.SessionOptions{
		Backend:           backend,
		Credentials:       credentialRepo,
		Audit:             auditService,
		Logger:            zapLogger,
		LockAfterMinutes:  options.LockAfterMinutes,
		PollInterval:      options.PollInterval.Std(),
		CredentialTimeout: options.CredentialTimeout.Std(),
		TabIdleTTL:        options.TabIdleTTL.Std(),
	})
	sessionService.StartReaper(ctx, tabReapInterval)

	lockHandler := &http.LockHandler{LockService: sessionService, Audit: auditService}
	router := http.NewRouter(lockHandler, zapLogger)

	tlsConfig, err := serverTLS(options)
	if err != nil {
		zapLogger.Fatal("failed to configure TLS", zap.Error(err))
	}

	server := &nethttp.Server{
		Addr:              options.Port,
		Handler:           router,
		TLSConfig:         tlsConfig,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		zapLogger.Info("starting HTTPS server", zap.String("addr", options.Port))
		if err := server.ListenAndServeTLS("", ""); err != nil && !errors.Is(err, nethttp.ErrServerClosed) {
			zapLogger.Fatal("failed to start HTTPS server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	zapLogger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		zapLogger.Error("server shutdown", zap.Error(err))
	}
	sessionService.Close()
	auditService.Wait()
}

// serverTLS loads the server certificate and requires client certificates
// signed by the operator CA.
func serverTLS(options *config.Options) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(options.TLSCert, options.TLSKey)
	if err != nil {
		return nil, fmt.Errorf("load server cert/key: %w", err)
	}
	caCert, err := os.ReadFile(options.TLSClientCA)
	if err != nil {
		return nil, fmt.Errorf("read CA cert: %w", err)
	}
	caCertPool := x509.NewCertPool()
	if ok := caCertPool.AppendCertsFromPEM(caCert); !ok {
		return nil, errors.New("failed to append CA cert to pool")
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		ClientAuth:   tls.RequireAndVerifyClientCert,
		ClientCAs:    caCertPool,
		MinVersion:   tls.VersionTLS12,
	}, nil
}
