package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"dialpoint/internal/auth"
	"dialpoint/internal/config"
	"dialpoint/internal/execlog"
	"dialpoint/internal/feed"
	"dialpoint/internal/httpapi"
	"dialpoint/internal/identity"
	"dialpoint/internal/metrics"
	"dialpoint/internal/relay"
	"dialpoint/internal/reporting"
	"dialpoint/internal/session"
	"dialpoint/internal/store"
	"dialpoint/pkg/logger"
	"dialpoint/pkg/utils"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	db, err := utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		log.Error("postgres init failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr()})
	if err != nil {
		log.Error("redis init failed", "err", err)
		os.Exit(1)
	}
	defer rdb.Close()

	execSvc := execlog.NewService(execlog.NewPostgresRepo(db), log)

	relayClient, err := relay.NewClient(relay.Config{
		BaseURL:        cfg.Relay.BaseURL,
		AuthToken:      cfg.Relay.AuthToken,
		CommandTimeout: cfg.Relay.CommandTimeout,
		Exec:           execSvc,
		Log:            log,
	})
	if err != nil {
		log.Error("relay init failed", "err", err)
		os.Exit(1)
	}

	resolver := identity.NewResolver(rdb, identity.InventoryFunc(relayClient.ListNumbers), cfg.Relay.IdentityCacheTTL, log)

	records := store.NewPostgres(db)
	reportingSvc := reporting.NewService(records)

	feedStats := &feed.Stats{}
	subscriber := feed.NewSubscriber(rdb, log)

	// One controller per tenant, created on first use. Each controller gets
	// its own change-feed subscription reconciling record events into it.
	registry := session.NewRegistry(func(tenantID string) *session.Controller {
		ctrl := session.New(session.Config{
			TenantID:   tenantID,
			Dispatcher: relayClient.Dialer(tenantID),
			Identity:   resolver,
			Log:        log,
			Linger:     cfg.Relay.DisconnectedLinger,
		})
		rec := feed.NewReconciler(tenantID, ctrl, execSvc, feedStats, log)
		go func() {
			if err := subscriber.Run(rootCtx, rec); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("change feed subscriber exited", "tenant_id", tenantID, "err", err)
			}
		}()
		return ctrl
	})
	defer registry.Close()

	collector := metrics.NewCollector(registry, feedStats, relayClient)
	if err := prometheus.Register(collector); err != nil {
		log.Error("metrics register failed", "err", err)
		os.Exit(1)
	}

	h := httpapi.Handlers{
		Auth:      authManager,
		Sessions:  registry,
		Reporting: reportingSvc,
	}
	wh := httpapi.WebhookHandlers{
		Records: records,
		Feed:    feed.NewPublisher(rdb),
		Log:     log,
	}
	ready := func(c *gin.Context) {
		if err := utils.HealthCheck(c.Request.Context(), db, 2*time.Second); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "postgres": err.Error()})
			return
		}
		if err := rdb.Ping(c.Request.Context()).Err(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "redis": err.Error()})
			return
		}
		if err := relayClient.Health(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "relay": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	registerRoutes(r, auth.RequireAccessToken(authManager), h, wh, ready)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}

	_ = logger.ShutdownFlush(shutdownCtx, 2*time.Second)
}
