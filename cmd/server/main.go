package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/darkden-lab/argus-tracker/internal/api"
	"github.com/darkden-lab/argus-tracker/internal/auth"
	"github.com/darkden-lab/argus-tracker/internal/broker"
	"github.com/darkden-lab/argus-tracker/internal/config"
	"github.com/darkden-lab/argus-tracker/internal/db"
	"github.com/darkden-lab/argus-tracker/internal/fanout"
	"github.com/darkden-lab/argus-tracker/internal/logger"
	mw "github.com/darkden-lab/argus-tracker/internal/middleware"
	"github.com/darkden-lab/argus-tracker/internal/store"
	"github.com/darkden-lab/argus-tracker/internal/tracking"
	"github.com/darkden-lab/argus-tracker/internal/ws"
)

func main() {
	cfg := config.Load()

	zl, err := logger.New(cfg.LogLevel, cfg.LogFormat, "argus-tracker")
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer zl.Sync() //nolint:errcheck

	if err := run(cfg, zl); err != nil {
		zl.Error("server exited", zap.Error(err))
		zl.Sync() //nolint:errcheck
		os.Exit(1)
	}
	zl.Info("server stopped")
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Database
	database, err := db.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer database.Close()
	if err := db.RunMigrations(cfg.DatabaseURL, cfg.MigrationsPath); err != nil {
		return err
	}
	pg := store.NewPostgres(database.Pool)

	// Broker
	b, err := broker.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("broker: %w", err)
	}
	defer b.Close() //nolint:errcheck

	// Fan-out
	hub := ws.NewHub(ws.MembershipAuthorizer(pg), logger)
	senders, closeSenders, err := buildSenders(ctx, cfg, hub, logger)
	if err != nil {
		return err
	}
	defer closeSenders()

	// Pipeline
	buffer := tracking.NewBuffer()
	publisher := tracking.NewPublisher(b, pg, pg, logger)
	consumer := tracking.NewConsumer(b, buffer, pg, fanout.NewPublisher(senders), logger)
	flusher := tracking.NewFlusher(buffer, pg, cfg.FlushInterval, logger)

	pipeline := tracking.NewPipeline(consumer, flusher)

	go hub.Run(ctx)

	pipelineErr := make(chan error, 1)
	go func() {
		pipelineErr <- pipeline.Run(ctx)
	}()

	// Router
	jwtService := auth.NewJWTService(cfg.JWTSecret)
	r := mux.NewRouter()
	r.Use(mw.AccessLog(logger))
	api.RegisterHealth(r, database.Pool, pipeline, hub)

	protected := r.PathPrefix("").Subrouter()
	protected.Use(mw.AuthMiddleware(jwtService))
	protected.Use(mw.RateLimitMiddleware(cfg.RateLimitRPS, cfg.RateLimitBurst))
	api.NewHandlers(publisher, pg, logger).RegisterRoutes(protected)

	// WebSocket (auth handled inside handler)
	ws.NewWSHandler(hub, jwtService, config.SplitList(cfg.AllowedOrigins)).RegisterRoutes(r)

	srv := &http.Server{
		Addr:           ":" + cfg.Port,
		Handler:        mw.CORS(config.SplitList(cfg.AllowedOrigins))(r),
		ReadTimeout:    15 * time.Second,
		WriteTimeout:   15 * time.Second,
		IdleTimeout:    60 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("starting server", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	var runErr error
	pipelineStopped := false
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-pipelineErr:
		pipelineStopped = true
		if err != nil {
			runErr = fmt.Errorf("consumer stopped: %w", err)
		}
	case err := <-serverErr:
		runErr = fmt.Errorf("http server: %w", err)
	}
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}

	// The pipeline returns after the consumer stops and the final flush ends.
	if !pipelineStopped {
		<-pipelineErr
	}
	return runErr
}

// buildSenders always includes the WebSocket hub and adds Redis and MQTT when
// they are configured.
func buildSenders(ctx context.Context, cfg *config.Config, hub *ws.Hub, logger *zap.Logger) (fanout.MultiSender, func(), error) {
	senders := fanout.MultiSender{hub}
	var closers []func()
	closeAll := func() {
		for _, c := range closers {
			c()
		}
	}

	if cfg.RedisAddr != "" {
		client, err := fanout.NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return nil, func() {}, err
		}
		closers = append(closers, func() { client.Close() }) //nolint:errcheck
		senders = append(senders, fanout.NewRedisSender(client))
		logger.Info("redis fan-out enabled", zap.String("addr", cfg.RedisAddr))
	}

	if cfg.MQTTBroker != "" {
		client, err := fanout.NewMQTTClient(cfg.MQTTBroker, cfg.MQTTClientID)
		if err != nil {
			closeAll()
			return nil, func() {}, err
		}
		closers = append(closers, func() { client.Disconnect(250) })
		senders = append(senders, fanout.NewMQTTSender(client, cfg.MQTTTopicPrefix, byte(cfg.MQTTQoS)))
		logger.Info("mqtt fan-out enabled", zap.String("broker", cfg.MQTTBroker))
	}

	return senders, closeAll, nil
}
