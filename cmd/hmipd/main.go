package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/frostdev-ops/hmip-go/internal/api"
	"github.com/frostdev-ops/hmip-go/internal/bridge/mqtt"
	"github.com/frostdev-ops/hmip-go/internal/config"
	"github.com/frostdev-ops/hmip-go/internal/credentials"
	"github.com/frostdev-ops/hmip-go/internal/metrics"
	"github.com/frostdev-ops/hmip-go/internal/service"
	"github.com/frostdev-ops/hmip-go/internal/websocket"
	"github.com/frostdev-ops/hmip-go/pkg/logger"
	"github.com/frostdev-ops/hmip-go/pkg/version"
	"github.com/spf13/viper"
)

func main() {
	configPath := flag.String("config", "", "path to config file (default: ./configs/config.yaml or ./config.yaml)")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		info := version.GetBuildInfo()
		fmt.Printf("hmipd %s (commit %s, built %s, %s, %s)\n", info.Version, info.GitCommit, info.BuildDate, info.GoVersion, info.Platform)
		return
	}

	// Load configuration
	cfg, err := config.LoadWith(viper.New(), *configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	log.WithField("user_agent", version.UserAgent()).Info("Starting hmipd")

	var (
		collector    *metrics.Collector
		svcMetrics   service.Metrics
		routeMetrics api.MetricsProvider
	)
	if cfg.Metrics.Enabled {
		collector = metrics.NewCollector(cfg.Metrics.Namespace)
		svcMetrics = collector
		routeMetrics = collector
	}

	// Live event feed for admin clients
	hub := websocket.NewHub(log)
	go hub.Run()
	sinks := []service.EventSink{hub}

	// Optional MQTT bridge
	if cfg.MQTT.Enabled {
		client, err := mqtt.Connect(cfg.MQTT, log)
		if err != nil {
			log.WithError(err).Fatal("Failed to connect to MQTT broker")
		}
		sinks = append(sinks, mqtt.NewBridge(client, cfg.MQTT.TopicPrefix, log))
	}

	store := credentials.NewFileStore(cfg.HmIP.CredentialsFile)
	svc, err := service.New(cfg.HmIP, store, service.Options{
		Sinks:   sinks,
		Metrics: svcMetrics,
	}, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize HmIP service")
	}

	startCtx, cancelStart := context.WithTimeout(context.Background(), cfg.HmIP.RequestTimeout*2)
	if err := svc.Start(startCtx); err != nil {
		cancelStart()
		log.WithError(err).Fatal("Failed to start HmIP service")
	}
	cancelStart()

	requestLogger := logger.NewRequestLogger(log, 100)
	router := api.NewRouter(cfg, svc, routeMetrics, hub, requestLogger, log)

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Infof("Starting server on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start server:", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.WithError(err).Error("Server forced to shutdown")
	}

	if err := svc.Stop(ctx); err != nil {
		log.WithError(err).Error("Failed to stop HmIP service")
	}
	requestLogger.Flush()

	log.Info("Server exited")
}
