package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/skycastd/skycast/internal/bootstrap"
	"github.com/skycastd/skycast/internal/config"
	"github.com/skycastd/skycast/internal/util"
)

func main() {
	configFile := flag.String("config", "config.yaml", "Path to config file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		log.Fatalf("Load config: %v", err)
	}
	util.InitLogger()
	if cfg.LogDebug {
		util.SetDebug()
	}
	if cfg.LogDir != "" {
		logPath, hook, err := util.InitLoggerWithFile(cfg.LogDir)
		if err != nil {
			logrus.Fatalf("Failed to set up log file: %v", err)
		}
		defer hook.Close()
		logrus.Infof("Logging to %s", logPath)
	}

	skycast, err := bootstrap.Initialize(cfg)
	if err != nil {
		logrus.Fatalf("Failed to initialize: %v", err)
	}
	defer skycast.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := skycast.Start(ctx); err != nil {
		logrus.Fatalf("Failed to start services: %v", err)
	}

	logrus.Info("Skycast started successfully")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logrus.Info("Shutting down...")

	cancel()

	logrus.Info("Shutdown complete")
}
