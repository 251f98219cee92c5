package main

import (
	"context"
	"flag"
	"fmt"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/converse/messaging/client"
	"github.com/converse/messaging/loadtest/stats"
)

// runSaturate opens a specified number of gateway connections, ramping up
// over a configurable duration, then holds them open. It finds the
// connection capacity ceiling before the gateway starts rejecting or
// dropping channels.
func runSaturate(args []string) {
	fs := flag.NewFlagSet("saturate", flag.ExitOnError)
	url := fs.String("url", "ws://localhost:8080", "gateway base URL")
	connections := fs.Int("connections", 1000, "number of connections to open")
	rampUp := fs.Duration("ramp", 10*time.Second, "ramp-up duration")
	hold := fs.Duration("hold", 30*time.Second, "hold duration after ramp-up")
	concurrency := fs.Int("concurrency", 50, "maximum simultaneous dial attempts")
	fs.Parse(args)

	fmt.Printf("Saturate test: %d connections to %s (ramp=%s, hold=%s, concurrency=%d)\n",
		*connections, *url, *rampUp, *hold, *concurrency)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	collector := stats.NewCollector()

	var mu sync.Mutex
	gateways := make([]*client.Gateway, 0, *connections)

	interval := *rampUp / time.Duration(*connections)
	if interval <= 0 {
		interval = time.Millisecond
	}

	sem := make(chan struct{}, *concurrency)
	var wg sync.WaitGroup

	fmt.Println("\n--- Ramp-up phase ---")
ramp:
	for i := 0; i < *connections; i++ {
		select {
		case <-ctx.Done():
			fmt.Println("interrupted during ramp-up")
			break ramp
		case <-time.After(interval):
		}

		wg.Add(1)
		sem <- struct{}{}
		go func(n int) {
			defer wg.Done()
			defer func() { <-sem }()

			identity := client.Identity{
				UserID:      fmt.Sprintf("load-%d", n),
				DisplayName: fmt.Sprintf("Load %d", n),
			}
			start := time.Now()
			gw, err := client.Dial(ctx, *url, identity)
			if err != nil {
				collector.AddError()
				return
			}
			collector.AddConnect(time.Since(start))

			mu.Lock()
			gateways = append(gateways, gw)
			mu.Unlock()
		}(i)
	}
	wg.Wait()

	fmt.Printf("Ramp-up complete: %d connected, %d errors\n",
		collector.ConnectionCount(), collector.ErrorCount())

	if ctx.Err() == nil {
		fmt.Println("\n--- Hold phase ---")
		select {
		case <-ctx.Done():
			fmt.Println("interrupted during hold")
		case <-time.After(*hold):
		}
	}

	mu.Lock()
	for _, gw := range gateways {
		gw.Close()
	}
	mu.Unlock()

	collector.Report()
}
