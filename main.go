package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"andromirror/api"
	"andromirror/config"
	"andromirror/models"
	"andromirror/service"

	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"
)

// setupLogging creates a timestamped log file in dir and tees the default
// logger to it. The caller closes the returned file.
func setupLogging(dir, level string) (*os.File, error) {
	if lvl, err := log.ParseLevel(level); err == nil {
		log.SetLevel(lvl)
	}
	log.SetTimeFormat("2006-01-02 15:04:05.000")
	log.SetReportTimestamp(true)

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	timestamp := time.Now().Format("2006-01-02_15-04-05")
	logPath := filepath.Join(dir, timestamp+".log")

	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}

	log.SetOutput(io.MultiWriter(os.Stdout, logFile))
	log.Infof("Logging to: %s", logPath)
	return logFile, nil
}

func main() {
	flags, err := config.ParseFlags(os.Args[1:])
	if err != nil {
		os.Exit(2)
	}
	cfg, err := config.Load(flags)
	if err != nil {
		log.Fatal("Failed to load config", "err", err)
	}

	logFile, err := setupLogging(cfg.Log.Dir, cfg.Log.Level)
	if err != nil {
		log.Warnf("Failed to setup file logging: %v", err)
	} else {
		defer logFile.Close()
	}

	log.Infof("Starting AndroMirror against %s", cfg.AndroModem.BaseURL)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := config.InitDatabase(cfg.Database.Path)
	if err != nil {
		log.Fatal("Failed to initialize database", "err", err)
	}
	defer db.Close()
	sessions := service.NewSessionStore(db)

	hub := api.NewWebSocketHub()
	go hub.Run(ctx)

	notify := func(n models.Notification) {
		log.Infof("Notification [%s] %s", n.Level, n.Message)
		hub.PublishNotification(n)
	}

	devices := service.NewDeviceManager(notify)

	streamCfg := service.EventStreamConfig{
		MaxRetries:    cfg.Events.MaxRetries,
		RetryInterval: cfg.Events.RetryInterval,
	}
	logStore := service.NewMonitoringLogStore()
	follower := service.NewMonitoringLogFollower(cfg.AndroModem.BaseURL, logStore, streamCfg, notify)

	viewCfg := service.ViewConfig{
		Transport: service.TransportConfig{
			BaseURL:      cfg.AndroModem.BaseURL,
			PingInterval: cfg.Mirroring.PingInterval,
		},
		CooldownTicks: cfg.Mirroring.CooldownTicks,
		CooldownTick:  cfg.Mirroring.CooldownTick,
		Sessions:      sessions,
		OnStatus:      hub.PublishStatus,
		OnNotify:      notify,
	}
	if cfg.Recording.Enabled {
		viewCfg.RecordDir = cfg.Recording.Dir
	}
	mirroring := service.NewMirroringManager(ctx, devices, follower, viewCfg)
	defer mirroring.Close()

	inventoryCfg := streamCfg
	inventoryCfg.Name = "device inventory"
	inventoryCfg.URL = strings.TrimRight(cfg.AndroModem.BaseURL, "/") + "/event/devices"
	inventory := service.NewEventStream(inventoryCfg, service.EventHandlers{
		OnMessage: devices.HandleInventoryEvent,
		OnRetry: func(attempt int) {
			notify(models.Notification{
				Level:   models.NotifyWarn,
				Message: fmt.Sprintf("Lost device connection, retrying... (%d)", attempt),
				Key:     fmt.Sprintf("inventory_retry_%d", attempt),
			})
		},
		OnGiveUp: func() {
			notify(models.Notification{
				Level:   models.NotifyError,
				Message: "Max retries reached for device inventory",
				Key:     "inventory_max_retries",
			})
		},
	})
	go func() {
		if err := inventory.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Errorf("Device inventory stream stopped: %v", err)
		}
	}()

	if strings.ToLower(cfg.Log.Level) != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	api.SetupRoutes(router, api.Deps{
		Devices:     devices,
		Mirroring:   mirroring,
		Logs:        logStore,
		LogFollower: follower,
		Sessions:    sessions,
		Hub:         hub,
		Upstream:    inventory.Connected,
	})

	srv := &http.Server{Addr: cfg.Server.Listen, Handler: router}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warnf("Server shutdown: %v", err)
		}
	}()

	log.Infof("Server starting on http://%s", cfg.Server.Listen)
	log.Infof("Viewer WebSocket on ws://%s/ws/devices/<serial>/view", cfg.Server.Listen)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal("Failed to start server", "err", err)
	}
	log.Info("Server stopped")
}
