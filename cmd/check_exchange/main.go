package main

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/avdev/alert_relay/internal/domain"
	"github.com/avdev/alert_relay/internal/infrastructure/exchange"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"go.uber.org/zap"
)

type creds struct {
	APIKey     string `envconfig:"BITGET_API_KEY"`
	Secret     string `envconfig:"BITGET_SECRET"`
	Passphrase string `envconfig:"BITGET_PASSPHRASE"`
}

func main() {
	symbol := "BTCUSDT"
	if len(os.Args) > 1 {
		symbol = domain.CanonicalSymbol(os.Args[1])
	}

	_ = godotenv.Load()
	var c creds
	if err := envconfig.Process("", &c); err != nil {
		fmt.Printf("Failed to read credentials: %v\n", err)
		os.Exit(1)
	}

	log, _ := zap.NewDevelopment()
	defer log.Sync()

	bitget := exchange.NewBitgetAdapter(c.APIKey, c.Secret, c.Passphrase, "", true, false, log)
	ctx := context.Background()

	price, err := bitget.GetPrice(ctx, symbol)
	if err != nil {
		fmt.Printf("GetPrice(%s) failed: %v\n", symbol, err)
	} else {
		fmt.Printf("GetPrice(%s) = %.4f\n", symbol, price)
	}

	snap, err := bitget.GetPosition(ctx, symbol)
	if err != nil {
		fmt.Printf("GetPosition(%s) failed: %v\n", symbol, err)
		os.Exit(1)
	}

	if !snap.Found {
		fmt.Printf("GetPosition(%s): no open position (reason=%s)\n", symbol, snap.Failure)
		return
	}
	fmt.Printf("GetPosition(%s): side=%s size=%.6f entry=%.4f mark=%.4f upnl=%s ratio=%s liq=%.4f\n",
		symbol, snap.Side, snap.Size, snap.EntryPrice, snap.MarkPrice,
		fmtOpt(snap.UnrealizedPnL), fmtOpt(snap.PnLRatio), snap.LiquidationPrice)
}

func fmtOpt(v *float64) string {
	if v == nil {
		return "n/a"
	}
	return strconv.FormatFloat(*v, 'f', 4, 64)
}
