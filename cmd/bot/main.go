package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/avdev/alert_relay/internal/infrastructure/exchange"
	"github.com/avdev/alert_relay/internal/infrastructure/logger"
	"github.com/avdev/alert_relay/internal/infrastructure/storage"
	"github.com/avdev/alert_relay/internal/usecase"
	"github.com/avdev/alert_relay/internal/web"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Exchange struct {
		BaseURL      string `yaml:"base_url"`
		PaperTrading bool   `yaml:"paper_trading"`
		DryRun       bool   `yaml:"dry_run"`
	} `yaml:"exchange"`
	Webhook struct {
		DefaultSize float64 `yaml:"default_size"`
	} `yaml:"webhook"`
	Polling struct {
		IntervalMs int `yaml:"interval_ms"`
	} `yaml:"polling"`
	Watchlist []string `yaml:"watchlist"`
	Storage   struct {
		Path string `yaml:"path"`
	} `yaml:"storage"`
	Logging struct {
		Level string `yaml:"level"`
		File  string `yaml:"file"`
	} `yaml:"logging"`
	Server struct {
		Port int `yaml:"port"`
	} `yaml:"server"`
}

// Credentials come from the environment (or a .env file), never from the
// YAML config.
type Credentials struct {
	BitgetAPIKey      string `envconfig:"BITGET_API_KEY"`
	BitgetSecret      string `envconfig:"BITGET_SECRET"`
	BitgetPassphrase  string `envconfig:"BITGET_PASSPHRASE"`
	TradingViewSecret string `envconfig:"TRADINGVIEW_SECRET"`
	StreamToken       string `envconfig:"STREAM_TOKEN"`
}

func loadConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func main() {
	// 1. Load Config
	cfg, err := loadConfig("config/config.yaml")
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// .env is optional; in production the variables are set directly.
	_ = godotenv.Load()
	var creds Credentials
	if err := envconfig.Process("", &creds); err != nil {
		fmt.Printf("Failed to read credentials: %v\n", err)
		os.Exit(1)
	}

	// 2. Init Logger
	var log *zap.Logger
	if cfg.Logging.File != "" {
		log, err = logger.NewFileLogger(cfg.Logging.File, cfg.Logging.Level)
	} else {
		log, err = logger.NewLogger(cfg.Logging.Level)
	}
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// 3. Init Storage
	dbPath := cfg.Storage.Path
	if dbPath == "" {
		dbPath = "trades.db"
	}
	store, err := storage.NewSQLiteStore(dbPath)
	if err != nil {
		log.Fatal("Failed to init sqlite", zap.Error(err))
	}
	defer store.Close()

	// 4. Init Exchange (Bitget)
	bitget := exchange.NewBitgetAdapter(
		creds.BitgetAPIKey, creds.BitgetSecret, creds.BitgetPassphrase,
		cfg.Exchange.BaseURL, cfg.Exchange.PaperTrading, cfg.Exchange.DryRun, log)

	// 5. Init Services
	events := usecase.NewBroadcaster(log)
	poller := usecase.NewSnapshotPoller(bitget, log)
	alerts := usecase.NewAlertService(store, bitget, events, cfg.Webhook.DefaultSize, log)

	interval := time.Duration(cfg.Polling.IntervalMs) * time.Millisecond
	if interval <= 0 {
		interval = 5 * time.Second
	}
	monitor := usecase.NewMonitorService(store, bitget, poller, events, cfg.Watchlist, interval, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 6. Start the reconciliation cycle
	go monitor.Start(ctx)

	// 7. Init Web Server
	port := cfg.Server.Port
	if port == 0 {
		port = 8000 // Default
	}
	server := web.NewServer(port, store, alerts, monitor, events,
		creds.TradingViewSecret, creds.StreamToken, log)

	go func() {
		if err := server.Start(); err != nil {
			log.Fatal("Server failed", zap.Error(err))
		}
	}()

	// 8. Wait for Shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Info("Shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("Server shutdown failed", zap.Error(err))
	}
	events.Close()
}
