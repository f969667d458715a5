package main

import (
	"context"
	"fmt"
	"os"

	"github.com/avdev/alert_relay/internal/infrastructure/storage"
	"github.com/avdev/alert_relay/internal/usecase"
)

func main() {
	dbPath := "trades.db"
	if len(os.Args) > 1 {
		dbPath = os.Args[1]
	}

	store, err := storage.NewSQLiteStore(dbPath)
	if err != nil {
		fmt.Printf("Failed to init sqlite: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	ctx := context.Background()
	trades, err := store.ListTrades(ctx)
	if err != nil {
		fmt.Printf("Failed to list trades: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Found %d trades:\n", len(trades))
	for _, t := range trades {
		fmt.Printf("- %s %s %s %s entry=%.4f size=%.6f status=%s created=%s\n",
			t.ID, t.Signal, t.Symbol, t.Side, t.EntryPrice, t.Size, t.Status,
			t.CreatedAt.Format("2006-01-02 15:04:05"))

		res := usecase.ComputePnL(t, nil, 0)
		switch {
		case res.RealizedValid:
			fmt.Printf("  realized=%.4f", res.Realized)
			if res.ROIValid {
				fmt.Printf(" roi=%.2f%%", res.ROIPercent)
			}
			fmt.Println()
		case t.Status.IsOpen():
			fmt.Println("  open, pnl needs a live snapshot")
		default:
			fmt.Println("  pnl unavailable")
		}
	}
}
