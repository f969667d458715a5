package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/avdev/alert_relay/internal/events"
	"go.uber.org/zap"
)

// Tails the relay's live event stream. Usage:
//
//	watch_events ws://localhost:8000/ws [token]
func main() {
	url := "ws://localhost:8000/ws"
	token := os.Getenv("STREAM_TOKEN")
	if len(os.Args) > 1 {
		url = os.Args[1]
	}
	if len(os.Args) > 2 {
		token = os.Args[2]
	}

	log, _ := zap.NewDevelopment()
	defer log.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-stop
		cancel()
	}()

	client := events.NewClient(url, token, log)
	go func() {
		for state := range client.States() {
			fmt.Printf("[conn] %s\n", state)
		}
	}()
	go func() {
		for evt := range client.Events() {
			fmt.Printf("[%s] trade=%s symbol=%s reason=%s at=%s\n",
				evt.Type, evt.TradeID, evt.Symbol, evt.Reason, evt.At.Format("15:04:05"))
		}
	}()

	if err := client.Run(ctx); err != nil && ctx.Err() == nil {
		fmt.Printf("stream ended: %v\n", err)
		os.Exit(1)
	}
}
