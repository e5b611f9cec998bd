package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
	"go.uber.org/zap"

	"github.com/voltgrid/csms/internal/adapter/cache"
	"github.com/voltgrid/csms/internal/adapter/external/backoffice"
	"github.com/voltgrid/csms/internal/adapter/http/fiber/handlers"
	"github.com/voltgrid/csms/internal/adapter/http/fiber/middleware"
	v16 "github.com/voltgrid/csms/internal/adapter/ocpp/v16"
	"github.com/voltgrid/csms/internal/adapter/queue"
	"github.com/voltgrid/csms/internal/adapter/storage/postgres"
	wsAdapter "github.com/voltgrid/csms/internal/adapter/websocket"
	"github.com/voltgrid/csms/internal/observability/telemetry"
	"github.com/voltgrid/csms/internal/service/auth"
	cardsvc "github.com/voltgrid/csms/internal/service/card"
	chargersvc "github.com/voltgrid/csms/internal/service/charger"
	"github.com/voltgrid/csms/internal/service/projector"
	sessionsvc "github.com/voltgrid/csms/internal/service/session"
	"github.com/voltgrid/csms/pkg/config"
)

const (
	serviceName    = "voltgrid-csms"
	serviceVersion = "v1.0.0"
)

func main() {
	// 1. Load Configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load configuration:", err)
	}

	// 2. Initialize Logger
	var logger *zap.Logger
	if cfg.Debug {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		log.Fatal("Failed to initialize logger:", err)
	}
	defer logger.Sync()

	logger.Info("Starting central station",
		zap.String("service", serviceName),
		zap.String("version", serviceVersion),
	)

	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()

	// 3. Initialize Tracing (optional)
	if cfg.Tracing.Enabled {
		tracerProvider, err := telemetry.InitTracer(serviceName, serviceVersion, cfg.Tracing.JaegerEndpoint)
		if err != nil {
			logger.Fatal("Failed to initialize tracer", zap.Error(err))
		}
		defer func() {
			if err := tracerProvider.Shutdown(context.Background()); err != nil {
				logger.Error("Error shutting down tracer provider", zap.Error(err))
			}
		}()
	}

	// 4. Initialize PostgreSQL Connection Pool
	db, err := postgres.NewConnection(cfg.Database.URL, cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns, logger)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	sqlDB, err := db.DB()
	if err != nil {
		logger.Fatal("Failed to get underlying SQL DB", zap.Error(err))
	}
	defer sqlDB.Close()

	if err := postgres.RunMigrations(rootCtx, db, logger); err != nil {
		logger.Fatal("Failed to run migrations", zap.Error(err))
	}

	// 5. Initialize Redis Cache
	redisCache, err := cache.NewRedisCache(cfg.Redis.URL, logger)
	if err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redisCache.Close()

	// 6. Initialize Message Queue (optional internal broker)
	var messageQueue queue.MessageQueue
	if cfg.MQ.BrokerURL != "" {
		messageQueue, err = queue.New(cfg.MQ.BrokerURL, logger)
		if err != nil {
			logger.Fatal("Failed to connect to message broker", zap.Error(err))
		}
		defer messageQueue.Close()
	}

	// 7. Initialize Repositories
	chargerRepo := postgres.NewChargerRepository(db, logger)
	connectorRepo := postgres.NewConnectorRepository(db, logger)
	sessionRepo := postgres.NewSessionRepository(db, logger)
	logRepo := postgres.NewLogRepository(db, logger)
	cardRepo := postgres.NewRFIDCardRepository(db, logger)
	userRepo := postgres.NewUserRepository(db, logger)
	sysconfigRepo := postgres.NewSystemConfigRepository(db, logger)

	// 8. Initialize Services
	authService := auth.NewService(userRepo, redisCache, cfg.JWT.Secret, cfg.JWT.AccessTokenDuration(), logger)
	chargerService := chargersvc.NewService(chargerRepo, connectorRepo, sysconfigRepo, logger)
	sessionService := sessionsvc.NewService(sessionRepo, cfg.Pricing.PerKWh, logger)
	cardService := cardsvc.NewService(cardRepo, redisCache, logger)

	liveView := projector.New(sessionRepo, chargerRepo, connectorRepo, logger)

	// 9. Initialize Back-Office Event Bridge
	bridge := backoffice.NewBridge(cfg.Backoffice.APIURL, cfg.Backoffice.APIKey, redisCache, messageQueue, cfg.MQ.Exchange, logger)
	go bridge.Run(rootCtx)

	// 10. Initialize OCPP Core
	registry := v16.NewRegistry(logger)
	engine := v16.NewEngine(registry, chargerService, logger)
	engine.SetFailureHandler(func(p *v16.PendingOutbound, reason v16.FailureReason) {
		bridge.Publish("remote_command_failed", p.ChargerID, map[string]interface{}{
			"request_id": p.MessageID,
			"action":     p.Action,
			"reason":     string(reason),
			"retries":    p.RetryCount,
		})
	})
	go engine.Run(rootCtx)

	ocppHandlers := v16.NewHandlers(chargerService, sessionService, cardService, liveView, bridge, sysconfigRepo, logger)
	ocppServer := v16.NewServer(cfg.OCPP, registry, engine, ocppHandlers, chargerService, liveView, bridge, logRepo, logger)
	go func() {
		if err := ocppServer.Start(rootCtx); err != nil {
			logger.Fatal("OCPP server failed", zap.Error(err))
		}
	}()

	// 11. Liveness Monitor
	connectionTimeout := time.Duration(cfg.Intervals.ConnectionTimeout) * time.Second
	monitor := v16.NewMonitor(registry, chargerRepo, logRepo, liveView, bridge, connectionTimeout, logger)
	go monitor.Run(rootCtx)

	// 12. Back-Office Command Reader
	commands := v16.NewCommands(engine, logger)
	commandReader := backoffice.NewCommandReader(redisCache, commands, cfg.MQ.Exchange, logger)
	go commandReader.Run(rootCtx)

	// 13. Dashboard WebSocket Hub (registers as projector broadcaster)
	wsHub := wsAdapter.NewHub(liveView, logger)
	go wsHub.Run(rootCtx)
	go liveView.Run(rootCtx)

	// 14. Initialize Fiber HTTP Server (admin facade)
	app := fiber.New(fiber.Config{
		AppName:               serviceName,
		ServerHeader:          serviceName,
		DisableStartupMessage: true,
		ErrorHandler:          middleware.ErrorHandler(logger),
	})

	app.Use(recover.New())
	if cfg.Debug {
		app.Use(fiberlogger.New())
	}
	app.Use(middleware.NewCORS(cfg.HTTP.AllowedOrigins))

	// Health Check Endpoints
	app.Get("/health/live", func(c *fiber.Ctx) error {
		return c.SendString("OK")
	})
	app.Get("/health/ready", func(c *fiber.Ctx) error {
		if err := sqlDB.Ping(); err != nil {
			return c.Status(503).SendString("Database not ready")
		}
		if err := redisCache.Ping(); err != nil {
			return c.Status(503).SendString("Cache not ready")
		}
		return c.SendString("Ready")
	})

	// Metrics endpoint for Prometheus
	app.Get("/metrics", func(c *fiber.Ctx) error {
		handler := fasthttpadaptor.NewFastHTTPHandler(promhttp.Handler())
		handler(c.Context())
		return nil
	})

	// API v1 Routes
	v1 := app.Group("/api/v1")

	authHandler := handlers.NewAuthHandler(authService, logger)
	v1.Post("/auth/login", authHandler.Login)

	protected := v1.Group("", middleware.AuthRequired(authService))
	protected.Post("/auth/logout", authHandler.Logout)
	protected.Get("/auth/me", authHandler.Me)

	chargerHandler := handlers.NewChargerHandler(chargerRepo, connectorRepo, sessionRepo, logRepo, registry, logger)
	protected.Get("/chargers", chargerHandler.List)
	protected.Post("/chargers", chargerHandler.Register)
	protected.Get("/chargers/:id", chargerHandler.Get)
	protected.Patch("/chargers/:id/retry-policy", chargerHandler.UpdateRetryPolicy)
	protected.Delete("/chargers/:id/connectors/:connector_id", chargerHandler.DeleteConnector)
	protected.Get("/chargers/:id/sessions", chargerHandler.Sessions)
	protected.Get("/chargers/:id/messages", chargerHandler.Messages)
	protected.Get("/chargers/:id/connection-events", chargerHandler.ConnectionEvents)

	commandHandler := handlers.NewCommandHandler(commands, chargerRepo, sessionService, logger)
	ops := protected.Group("", middleware.RoleRequired("admin", "operator"))
	ops.Post("/chargers/:id/commands/remote-start", commandHandler.RemoteStart)
	ops.Post("/chargers/:id/commands/remote-stop", commandHandler.RemoteStop)
	ops.Post("/chargers/:id/commands/reset", commandHandler.Reset)
	ops.Post("/chargers/:id/commands/unlock-connector", commandHandler.UnlockConnector)
	ops.Post("/chargers/:id/commands/get-configuration", commandHandler.GetConfiguration)
	ops.Post("/chargers/:id/commands/change-configuration", commandHandler.ChangeConfiguration)
	ops.Post("/chargers/:id/commands/clear-cache", commandHandler.ClearCache)
	ops.Post("/chargers/:id/commands/change-availability", commandHandler.ChangeAvailability)
	ops.Post("/chargers/:id/commands/trigger-message", commandHandler.TriggerMessage)
	ops.Post("/chargers/:id/commands/reserve-now", commandHandler.ReserveNow)
	ops.Post("/chargers/:id/commands/cancel-reservation", commandHandler.CancelReservation)
	ops.Post("/chargers/:id/commands/set-charging-profile", commandHandler.SetChargingProfile)
	ops.Post("/chargers/:id/commands/clear-charging-profile", commandHandler.ClearChargingProfile)
	ops.Post("/chargers/:id/commands/send-local-list", commandHandler.SendLocalList)
	ops.Post("/chargers/:id/commands/get-local-list-version", commandHandler.GetLocalListVersion)
	ops.Post("/chargers/:id/commands/get-diagnostics", commandHandler.GetDiagnostics)
	ops.Post("/chargers/:id/commands/update-firmware", commandHandler.UpdateFirmware)
	ops.Post("/chargers/:id/commands/data-transfer", commandHandler.DataTransfer)

	cardHandler := handlers.NewCardHandler(cardRepo, cardService, logger)
	protected.Get("/cards", cardHandler.List)
	ops.Post("/cards", cardHandler.Create)
	ops.Patch("/cards/:id_tag", cardHandler.Update)
	ops.Delete("/cards/:id_tag", cardHandler.Delete)

	userHandler := handlers.NewUserHandler(userRepo, logger)
	admin := protected.Group("", middleware.RoleRequired("admin"))
	admin.Get("/users", userHandler.List)
	admin.Post("/users", userHandler.Create)

	statsHandler := handlers.NewStatsHandler(chargerRepo, sessionRepo, registry, engine, logger)
	protected.Get("/stats", statsHandler.Stats)
	protected.Get("/connections", statsHandler.Connections)
	protected.Get("/pending-messages", statsHandler.PendingMessages)

	// Dashboard WebSocket
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/dashboard", websocket.New(func(c *websocket.Conn) {
		token := c.Query("token")
		user, err := authService.ValidateToken(context.Background(), token)
		if err != nil {
			c.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "unauthorized"))
			c.Close()
			return
		}
		wsHub.AddClient(c, user.ID)
	}))

	// 15. Start HTTP Server
	go func() {
		addr := fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port)
		logger.Info("Starting HTTP server", zap.String("addr", addr))
		if err := app.Listen(addr); err != nil {
			logger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	// 16. Graceful Shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down...")
	rootCancel()
	engine.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := app.ShutdownWithContext(ctx); err != nil {
		logger.Error("HTTP server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exited gracefully")
}
