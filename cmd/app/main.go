package main

import (
	"flag"
	"log"
	"os"

	"github.com/chetandhule123/nse-stock-screener-enhanced-complete-telegram/internal/di"
	"github.com/chetandhule123/nse-stock-screener-enhanced-complete-telegram/pkg/config"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "config file path")
	flag.Parse()

	cfg, err := config.LoadWithEnv(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	log.Printf("env=%s interval=%s workers=%d kafka=%t clickhouse=%t telegram=%t",
		cfg.Environment, cfg.Engine.Interval, cfg.Engine.Workers,
		cfg.Kafka.Enabled, cfg.ClickHouse.Enabled, cfg.Telegram.Enabled)

	app, cleanup, err := di.InitializeApp(cfg)
	if err != nil {
		log.Fatalf("app initialization failed: %v", err)
	}

	// Run blocks until a shutdown signal.
	err = app.Run()
	cleanup()
	if err != nil {
		log.Printf("app error: %v", err)
		os.Exit(1)
	}
}
