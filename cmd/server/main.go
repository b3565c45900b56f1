package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/shipnotify/backend/docs"
	appauth "github.com/shipnotify/backend/internal/application/auth"
	appbilling "github.com/shipnotify/backend/internal/application/billing"
	appfulfillment "github.com/shipnotify/backend/internal/application/fulfillment"
	appwebhook "github.com/shipnotify/backend/internal/application/webhook"
	"github.com/shipnotify/backend/internal/domain/billing"
	"github.com/shipnotify/backend/internal/domain/shop"
	"github.com/shipnotify/backend/internal/infrastructure/auth"
	"github.com/shipnotify/backend/internal/infrastructure/cache"
	"github.com/shipnotify/backend/internal/infrastructure/config"
	"github.com/shipnotify/backend/internal/infrastructure/klaviyo"
	"github.com/shipnotify/backend/internal/infrastructure/logger"
	"github.com/shipnotify/backend/internal/infrastructure/migration"
	"github.com/shipnotify/backend/internal/infrastructure/persistence"
	"github.com/shipnotify/backend/internal/infrastructure/shopify"
	"github.com/shipnotify/backend/internal/infrastructure/signature"
	"github.com/shipnotify/backend/internal/infrastructure/telemetry"
	"github.com/shipnotify/backend/internal/interfaces/http/handler"
	"github.com/shipnotify/backend/internal/interfaces/http/middleware"
	"github.com/shipnotify/backend/internal/interfaces/http/router"
)

//	@title			Shipnotify Relay API
//	@version		1.0
//	@description	Embedded app backend relaying fulfillment webhooks to the marketing API

//	@securityDefinitions.apikey	SessionToken
//	@in							header
//	@name						Authorization
//	@description				Session token minted by the embedded admin. Format: "Bearer {token}"

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	ctx := context.Background()
	telemetryCfg := telemetry.Config{
		Enabled:           cfg.Telemetry.Enabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		SamplingRatio:     cfg.Telemetry.SamplingRatio,
		ServiceName:       cfg.Telemetry.ServiceName,
		Insecure:          cfg.Telemetry.Insecure,
	}

	// The log bridge is built first so the application logger can tee onto it
	logsCfg := telemetryCfg
	logsCfg.Enabled = cfg.Telemetry.Enabled && cfg.Telemetry.LogsEnabled
	loggerProvider, err := telemetry.NewLoggerProvider(ctx, logsCfg)
	if err != nil {
		panic("Failed to initialize log exporter: " + err.Error())
	}

	log, err := logger.New(&logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	}, loggerProvider.ZapCore(logger.ParseLevel(cfg.Telemetry.LogsLevel)))
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer func() {
		_ = log.Sync()
	}()

	log.Info("Starting relay",
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Env),
		zap.String("port", cfg.App.Port),
		zap.String("host", cfg.App.Host),
	)

	tracerProvider, err := telemetry.NewTracerProvider(ctx, telemetryCfg, log)
	if err != nil {
		log.Fatal("Failed to initialize tracer provider", zap.Error(err))
	}

	metricsCfg := telemetryCfg
	metricsCfg.Enabled = cfg.Telemetry.Enabled && cfg.Telemetry.MetricsEnabled
	meterProvider, err := telemetry.NewMeterProvider(ctx, metricsCfg, cfg.Telemetry.MetricsInterval, log)
	if err != nil {
		log.Fatal("Failed to initialize meter provider", zap.Error(err))
	}

	profiler, err := telemetry.NewProfiler(telemetry.ProfilerConfig{
		Enabled:         cfg.Telemetry.ProfilingEnabled,
		ServerAddress:   cfg.Telemetry.ProfilingServer,
		ApplicationName: cfg.Telemetry.ServiceName,
	}, log)
	if err != nil {
		log.Fatal("Failed to start profiler", zap.Error(err))
	}
	if profiler.IsEnabled() {
		tracerProvider.EnableSpanProfiles()
	}

	gormLog := logger.NewGormLogger(log, logger.MapGormLogLevel(cfg.Database.LogLevel), cfg.Database.SlowThreshold)
	db, err := persistence.NewDatabase(&cfg.Database, persistence.WithLogger(gormLog))
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	log.Info("Database connected", zap.String("driver", db.Driver))

	if err := migrateSchema(db, cfg.Database.MigrationsPath, log); err != nil {
		log.Fatal("Failed to migrate schema", zap.Error(err))
	}

	if err := telemetry.RegisterDBTracing(db.DB, db.Driver, cfg.Telemetry.Enabled && cfg.Telemetry.DBTraceEnabled, log); err != nil {
		log.Warn("Database tracing unavailable", zap.Error(err))
	}

	stores := cache.NewStores(ctx, cfg.Redis, log)

	meter := meterProvider.Meter(telemetry.TracerName)
	relayMetrics, err := telemetry.NewRelayMetrics(meter)
	if err != nil {
		log.Fatal("Failed to create relay metrics", zap.Error(err))
	}

	sanitizer := shop.NewSanitizer(cfg.Shopify.CustomShopDomains...)
	installations := persistence.NewGormInstallationRegistry(db.DB)
	sessions := persistence.NewGormSessionRepository(db.DB)

	platform, err := shopify.NewClient(shopify.Config{
		APIKey:            cfg.Shopify.APIKey,
		APISecret:         cfg.Shopify.APISecret,
		APIVersion:        cfg.Shopify.APIVersion,
		Timeout:           cfg.Shopify.RequestTimeout,
		RequestsPerSecond: cfg.Shopify.RequestsPerSecond,
		Burst:             cfg.Shopify.RequestBurst,
	}, log)
	if err != nil {
		log.Fatal("Failed to create platform client", zap.Error(err))
	}

	marketing, err := klaviyo.NewClient(klaviyo.Config{
		Endpoint: cfg.Klaviyo.Endpoint,
		Timeout:  cfg.Klaviyo.Timeout,
	}, log)
	if err != nil {
		log.Fatal("Failed to create marketing client", zap.Error(err))
	}

	settings, err := billingSettings(cfg)
	if err != nil {
		log.Fatal("Invalid billing configuration", zap.Error(err))
	}
	billingGate, err := appbilling.NewGate(appbilling.GateConfig{
		Settings: settings,
		Client:   platform,
		AppHost:  cfg.App.Host,
		Logger:   log,
	})
	if err != nil {
		log.Fatal("Failed to create billing gate", zap.Error(err))
	}

	forwarder := appfulfillment.NewForwarder(appfulfillment.ForwarderConfig{
		Sessions:  sessions,
		Orders:    platform,
		Sender:    marketing,
		Token:     cfg.Klaviyo.PublicKey,
		EventName: cfg.Klaviyo.EventName,
		Timeout:   cfg.Klaviyo.ForwardTimeout,
		Metrics:   relayMetrics,
		Logger:    log,
	})

	dispatcherCfg := appwebhook.DispatcherConfig{
		Verifier:  signature.NewVerifier(cfg.Shopify.APISecret),
		Sanitizer: sanitizer,
		DedupTTL:  cfg.Webhook.DedupTTL,
		Metrics:   relayMetrics,
		Logger:    log,
	}
	if cfg.Webhook.DedupEnabled {
		dispatcherCfg.Dedup = stores.Deliveries
	}
	dispatcher := appwebhook.NewDispatcher(dispatcherCfg)
	appwebhook.RegisterDefaults(dispatcher, appwebhook.Handlers{
		Remover:     appwebhook.NewTenantRemover(installations, sessions, log),
		Fulfillment: appwebhook.NewFulfillmentHandler(forwarder, log),
		Privacy:     appwebhook.NewPrivacyRequestHandler(log),
	})

	gate := appauth.NewGate(appauth.GateConfig{
		APIKey:          cfg.Shopify.APIKey,
		AppHost:         cfg.App.Host,
		Scopes:          cfg.Shopify.Scopes,
		Embedded:        cfg.Shopify.Embedded,
		UseOnlineTokens: cfg.Shopify.UseOnlineTokens,
		Sanitizer:       sanitizer,
		Installations:   installations,
		Sessions:        sessions,
		Billing:         billingGate,
		Logger:          log,
	})

	oauth := appauth.NewOAuthService(appauth.OAuthServiceConfig{
		Gate:             gate,
		Client:           platform,
		Verifier:         signature.NewVerifier(cfg.Shopify.APISecret),
		States:           stores.States,
		Installations:    installations,
		Sessions:         sessions,
		Webhooks:         dispatcher,
		RegisterWebhooks: cfg.Webhook.RegisterOnAuth,
		Logger:           log,
	})

	var authLimiter *middleware.RateLimiter
	stopCleanup := make(chan struct{})
	go platform.RunCleanup(time.Minute, stopCleanup)
	if cfg.HTTP.RateLimitEnabled {
		authLimiter = middleware.NewRateLimiter(cfg.HTTP.RateLimitRequests, cfg.HTTP.RateLimitBurst, 10*time.Minute)
		go authLimiter.RunCleanup(time.Minute, stopCleanup)
		log.Info("OAuth rate limiting enabled",
			zap.Float64("requests_per_second", cfg.HTTP.RateLimitRequests),
			zap.Int("burst", cfg.HTTP.RateLimitBurst),
		)
	}

	if cfg.App.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := router.New(router.Dependencies{
		Logger:   log,
		Gate:     gate,
		Tokens:   auth.NewJWTService(cfg.Shopify.APIKey, cfg.Shopify.APISecret),
		Webhooks: handler.NewWebhookHandler(dispatcher),
		// Paths come from the dispatcher so every registered route is reachable
		WebhookPaths: dispatcher.Paths(),
		Auth:         handler.NewAuthHandler(oauth),
		Shop:         handler.NewShopHandler(installations, billingGate),
		Health: handler.NewHealthHandler(map[string]handler.CheckFunc{
			"database": db.Ping,
			"cache":    stores.Ping,
		}),
		App:            handler.NewAppHandler(cfg.Frontend.IndexPath),
		AuthLimiter:    authLimiter,
		MaxWebhookBody: cfg.Webhook.MaxBodySize,
		Meter:          meter,
		Tracing: middleware.TracingConfig{
			ServiceName: cfg.Telemetry.ServiceName,
			Enabled:     tracerProvider.IsEnabled(),
		},
		Profiling: middleware.ProfilingConfig{
			Enabled:   profiler.IsEnabled(),
			SkipPaths: middleware.DefaultProfilingConfig().SkipPaths,
		},
		Swagger: middleware.SwaggerConfig{
			Enabled:    cfg.Swagger.Enabled,
			AllowedIPs: cfg.Swagger.AllowedIPs,
		},
	})
	docs.SwaggerInfo.Host = cfg.App.HostName()

	if len(cfg.HTTP.TrustedProxies) > 0 {
		if err := engine.SetTrustedProxies(cfg.HTTP.TrustedProxies); err != nil {
			log.Warn("Failed to set trusted proxies", zap.Error(err))
		}
	}

	srv := &http.Server{
		Addr:              ":" + cfg.App.Port,
		Handler:           engine,
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		ReadHeaderTimeout: cfg.HTTP.ReadTimeout,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
		IdleTimeout:       cfg.HTTP.IdleTimeout,
		MaxHeaderBytes:    cfg.HTTP.MaxHeaderBytes,
	}

	go func() {
		log.Info("Server starting",
			zap.String("addr", srv.Addr),
			zap.Strings("webhook_paths", dispatcher.Paths()),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}
	close(stopCleanup)

	// In-flight forwards run detached from requests; let them finish
	if err := forwarder.Wait(shutdownCtx); err != nil {
		log.Warn("Marketing forwards still running at shutdown", zap.Error(err))
	}
	if err := stores.Close(); err != nil {
		log.Error("Error closing stores", zap.Error(err))
	}
	if err := db.Close(); err != nil {
		log.Error("Error closing database", zap.Error(err))
	}
	if err := profiler.Stop(); err != nil {
		log.Error("Error stopping profiler", zap.Error(err))
	}
	if err := meterProvider.Shutdown(shutdownCtx); err != nil {
		log.Error("Error shutting down meter provider", zap.Error(err))
	}
	if err := tracerProvider.Shutdown(shutdownCtx); err != nil {
		log.Error("Error shutting down tracer provider", zap.Error(err))
	}
	if err := loggerProvider.Shutdown(shutdownCtx, log); err != nil {
		log.Error("Error shutting down logger provider", zap.Error(err))
	}

	log.Info("Server exited")
}

// migrateSchema brings the schema up to date before any request is served
func migrateSchema(db *persistence.Database, path string, log *zap.Logger) error {
	sqlDB, err := db.DB.DB()
	if err != nil {
		return err
	}
	m, err := migration.New(sqlDB, db.Driver, path, log)
	if err != nil {
		return err
	}
	return m.Up()
}

func billingSettings(cfg *config.Config) (billing.Settings, error) {
	settings := billing.Settings{
		Required:     cfg.Billing.Required,
		ChargeName:   cfg.Billing.ChargeName,
		CurrencyCode: cfg.Billing.CurrencyCode,
		Test:         !cfg.App.IsProduction(),
	}
	if !settings.Required {
		return settings, nil
	}
	amount, err := decimal.NewFromString(cfg.Billing.Amount)
	if err != nil {
		return settings, fmt.Errorf("billing amount %q: %w", cfg.Billing.Amount, err)
	}
	interval, err := billing.ParseInterval(cfg.Billing.Interval)
	if err != nil {
		return settings, err
	}
	settings.Amount = amount
	settings.Interval = interval
	return settings, nil
}
