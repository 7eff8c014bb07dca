package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/sentinelflight/groundstation/internal/bridge"
	"github.com/sentinelflight/groundstation/internal/config"
	"github.com/sentinelflight/groundstation/internal/fusion"
	"github.com/sentinelflight/groundstation/internal/health"
	"github.com/sentinelflight/groundstation/internal/logger"
	"github.com/sentinelflight/groundstation/internal/metrics"
	"github.com/sentinelflight/groundstation/internal/pipeline"
	"github.com/sentinelflight/groundstation/internal/serialio"
	"github.com/sentinelflight/groundstation/internal/telemetry"
	"github.com/sentinelflight/groundstation/internal/wshub"
)

var Version = "0.1.0"

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logCfg := logger.DefaultConfig()
	logCfg.Level = cfg.Logger.Level
	logCfg.LogDir = cfg.Logger.LogDir
	if err := logger.Init(logCfg); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("ground station starting", zap.String("version", Version))

	m := metrics.New()
	hub := wshub.NewHub(m)
	logger.SetBroadcaster(hub.PublishLog)

	registry := telemetry.NewDefaultRegistry()
	registerProfiles(registry, cfg.Parser.ProfilePath)

	dispatcher := pipeline.New(registry, hub, m, fusion.Options{
		UseMagnetometer: cfg.Fusion.UseMagnetometer,
		SampleRate:      cfg.Fusion.SampleRate,
		Beta:            cfg.Fusion.MadgwickBeta,
		Alpha:           cfg.Fusion.ComplementaryAlpha,
		SmoothingWindow: cfg.Fusion.SmoothingWindow,
	})

	serialManager := serialio.NewManager(dispatcher.HandleLine)
	commands := wshub.NewCommandHandler(serialManager, registry, dispatcher, m)

	if cfg.MQTT.Enabled {
		mqttBridge, err := bridge.NewMQTTBridge(bridge.MQTTConfig{
			Broker:      cfg.MQTT.Broker,
			TopicPrefix: cfg.MQTT.TopicPrefix,
			ClientID:    cfg.MQTT.ClientID,
		})
		if err != nil {
			logger.Error("mqtt bridge unavailable", zap.Error(err))
		} else {
			hub.Attach(mqttBridge)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	checker := newHealthChecker(serialManager, hub)
	checker.StartPeriodic(ctx)

	startTime := time.Now()
	scheduler := cron.New()
	if _, err := scheduler.AddFunc(cfg.Status.Schedule, func() {
		hub.PublishStatus(serialManager.OpenPorts(), int64(time.Since(startTime).Seconds()))
	}); err != nil {
		logger.Error("invalid status schedule", zap.String("schedule", cfg.Status.Schedule), zap.Error(err))
	} else {
		scheduler.Start()
	}

	app := fiber.New(fiber.Config{
		AppName:               "groundstation v" + Version,
		DisableStartupMessage: true,
	})
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Origin, Content-Type, Accept",
	}))

	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"message":       "Telemetry Ground Station",
			"version":       Version,
			"websocket_url": "/ws",
		})
	})
	app.Get("/health", checker.Handler())
	app.Get("/api/metrics", m.Handler())

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws", websocket.New(func(conn *websocket.Conn) {
		hub.HandleConnection(conn, commands)
	}))

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	go func() {
		logger.Info("server listening", zap.String("addr", addr))
		if err := app.Listen(addr); err != nil {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	scheduler.Stop()
	cancel()
	if err := serialManager.CloseAll(); err != nil {
		logger.Warn("closing serial ports", zap.Error(err))
	}
	hub.Close()
	if err := app.ShutdownWithTimeout(5 * time.Second); err != nil {
		logger.Warn("server shutdown", zap.Error(err))
	}
}

func registerProfiles(registry *telemetry.Registry, path string) {
	profiles, err := config.LoadParserProfiles(path)
	if err != nil {
		logger.Error("failed to load parser profiles", zap.Error(err))
		return
	}
	for _, p := range profiles {
		registry.Register(telemetry.NewCustomDecoder(p.Delimiter, p.Fields, p.Name))
	}
}

func newHealthChecker(serialManager *serialio.Manager, hub *wshub.Hub) *health.Checker {
	checker := health.NewChecker()

	checker.Register("serial", func(ctx context.Context) (health.Status, string) {
		open := len(serialManager.OpenPorts())
		if open == 0 {
			return health.StatusHealthy, "no ports open"
		}
		if !serialManager.Healthy() {
			return health.StatusDegraded, "a reader has stopped after repeated failures"
		}
		return health.StatusHealthy, fmt.Sprintf("%d port(s) streaming", open)
	}, 30*time.Second)

	checker.Register("subscribers", func(ctx context.Context) (health.Status, string) {
		return health.StatusHealthy, fmt.Sprintf("%d client(s) connected", hub.Count())
	}, 30*time.Second)

	return checker
}
