package main

import (
	"context"
	"encoding/hex"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/uhyunpark/rapidflow/params"
	"github.com/uhyunpark/rapidflow/pkg/api"
	"github.com/uhyunpark/rapidflow/pkg/app/core"
	"github.com/uhyunpark/rapidflow/pkg/app/core/custody"
	"github.com/uhyunpark/rapidflow/pkg/app/spot"
	"github.com/uhyunpark/rapidflow/pkg/events"
	"github.com/uhyunpark/rapidflow/pkg/storage"
	"github.com/uhyunpark/rapidflow/pkg/util"
)

const statusInterval = 30 * time.Second

func main() {
	// Load config from .env file and environment variables
	cfg, err := params.LoadFromEnv("") // "" means load from .env in current directory
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	// Setup logging (write to both console and file)
	var logger *zap.Logger
	if cfg.Node.LogFile != "" {
		logger, err = util.NewLoggerWithFile(cfg.Node.LogFile, cfg.Node.LogLevel)
	} else {
		logger, err = util.NewLogger(cfg.Node.LogLevel)
	}
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()
	sugar.Infow("logger_initialized", "log_file", cfg.Node.LogFile, "level", cfg.Node.LogLevel)

	// ---- Storage ----
	store, err := storage.NewPebbleStore(cfg.Node.DataDir, logger)
	if err != nil {
		sugar.Fatalw("storage_open_failed", "dir", cfg.Node.DataDir, "err", err)
	}
	defer store.Close()

	// ---- Custody ----
	// Devnet bank, written through to the same pebble db and loaded before the
	// markets so vaults and ledger records come back together. Swap in a real
	// custody adapter for anything beyond devnet.
	bank, err := custody.NewPersistentBank(store)
	if err != nil {
		sugar.Fatalw("bank_load_failed", "err", err)
	}

	// ---- App: spot exchange ----
	app := spot.NewApp(spot.Config{
		BookCapacity: cfg.Exchange.BookCapacity,
		TradeHistory: cfg.Exchange.TradeHistory,
	}, bank, store, util.RealClock{}, logger)

	if err := app.Restore(); err != nil {
		sugar.Fatalw("restore_failed", "err", err)
	}
	for _, pair := range cfg.Exchange.BootstrapMarkets {
		m, err := app.Initialize(pair.Base, pair.Quote)
		switch {
		case errors.Is(err, core.ErrMarketExists):
		case err != nil:
			sugar.Fatalw("bootstrap_market_failed", "base", pair.Base.Hex(), "quote", pair.Quote.Hex(), "err", err)
		default:
			sugar.Infow("bootstrap_market", "market", m.ID.Hex(), "symbol", m.Symbol())
		}
	}

	// ---- Trade feed (optional) ----
	// Enable with: KAFKA_BROKERS=host:9092[,host:9092]
	if len(cfg.Kafka.Brokers) > 0 {
		pub := events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic, logger)
		defer pub.Close()
		app.OnTrades(pub.Publish)
		sugar.Infow("trade_feed_enabled", "brokers", cfg.Kafka.Brokers, "topic", cfg.Kafka.Topic)
	} else {
		sugar.Info("trade_feed_disabled")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- API Server ----
	apiServer := api.NewServer(app, bank, api.Options{
		EnableFaucet: cfg.API.EnableFaucet,
		CORSOrigins:  cfg.API.CORSOrigins,
	}, logger)

	go func() {
		if err := apiServer.Start(ctx, cfg.Node.APIAddr); err != nil {
			sugar.Errorw("api_server_failed", "err", err)
			stop()
		}
	}()

	sugar.Infow("node_starting",
		"markets", len(app.Markets()),
		"data_dir", cfg.Node.DataDir,
		"api_addr", cfg.Node.APIAddr,
		"faucet", cfg.API.EnableFaucet)

	// Status loop: audit every market and log the state hash
	ticker := time.NewTicker(statusInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			sugar.Info("node_stopping")
			return
		case <-ticker.C:
			apiServer.Inspect(func(app *spot.App) {
				for _, m := range app.Markets() {
					report, err := app.Audit(m.ID, bank)
					if err != nil {
						sugar.Errorw("audit_error", "market", m.ID.Hex(), "err", err)
						continue
					}
					if !report.OK() {
						sugar.Errorw("conservation_violated", "market", m.ID.Hex(), "problems", report.Problems)
					}
				}
				h := app.StateHash()
				sugar.Infow("exchange_status",
					"markets", len(app.Markets()),
					"state_hash", "0x"+hex.EncodeToString(h[:]))
			})
		}
	}
}
