// Command fetch_klines dumps recent candles for a symbol to CSV, for tuning
// the volatility and momentum coefficients offline.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"

	"leverbot/config"
	"leverbot/internal/adapters/binanceclient"
	"leverbot/internal/adapters/logger"
	"leverbot/internal/utils"
)

func main() {
	symbol := flag.String("symbol", "ETHUSDT", "symbol to fetch")
	interval := flag.String("interval", "1m", "candle interval")
	limit := flag.Int("limit", 500, "number of candles")
	out := flag.String("out", "", "output CSV path (default data/<symbol>_<interval>.csv)")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: failed to load configuration: %v", err)
	}

	appLogger := logger.New(cfg.LogLevel)
	ctx := context.Background()

	client, err := binanceclient.New(binanceclient.Config{
		APIKey:     cfg.APIKey,
		SecretKey:  cfg.SecretKey,
		UseTestnet: cfg.IsTestnet,
		Logger:     appLogger,
	})
	if err != nil {
		log.Fatalf("FATAL: failed to initialize Binance client: %v", err)
	}

	klines, err := client.GetKlines(ctx, *symbol, *interval, *limit)
	if err != nil {
		log.Fatalf("FATAL: failed to fetch klines: %v", err)
	}
	appLogger.Info(ctx, "fetched klines", map[string]interface{}{"symbol": *symbol, "count": len(klines)})

	filename := *out
	if filename == "" {
		filename = fmt.Sprintf("data/%s_%s.csv", *symbol, *interval)
	}
	if err := utils.WriteKlinesToCSV(klines, filename); err != nil {
		log.Fatalf("FATAL: failed to write CSV: %v", err)
	}
	appLogger.Info(ctx, "klines written", map[string]interface{}{"file": filename})
}
