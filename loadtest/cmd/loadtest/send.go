package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/converse/messaging/client"
	"github.com/converse/messaging/internal/protocol"
	"github.com/converse/messaging/loadtest/stats"
)

// runSend drives room message throughput: N senders connect, emit
// group:send events into one room at a configurable rate, and measure the
// time from emit until their own temp id echoes back on message:new. The
// room must already exist with the load users as members.
func runSend(args []string) {
	fs := flag.NewFlagSet("send", flag.ExitOnError)
	url := fs.String("url", "ws://localhost:8080", "gateway base URL")
	room := fs.String("room", "load-room", "target room id")
	senders := fs.Int("senders", 20, "number of concurrent senders")
	rate := fs.Duration("rate", 500*time.Millisecond, "delay between sends per sender")
	duration := fs.Duration("duration", 30*time.Second, "test duration")
	fs.Parse(args)

	fmt.Printf("Send test: %d senders -> room %s on %s (rate=%s, duration=%s)\n",
		*senders, *room, *url, *rate, *duration)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *duration)
	defer cancel()

	collector := stats.NewCollector()

	var wg sync.WaitGroup
	for i := 0; i < *senders; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			sender(ctx, *url, *room, n, *rate, collector)
		}(i)
	}
	wg.Wait()

	collector.Report()
}

func sender(ctx context.Context, url, room string, n int, rate time.Duration, collector *stats.Collector) {
	identity := client.Identity{
		UserID:      fmt.Sprintf("load-%d", n),
		DisplayName: fmt.Sprintf("Load %d", n),
	}

	start := time.Now()
	gw, err := client.Dial(ctx, url, identity)
	if err != nil {
		collector.AddError()
		return
	}
	defer gw.Close()
	collector.AddConnect(time.Since(start))

	// In-flight sends keyed by temp id, resolved by the echo handler.
	var mu sync.Mutex
	inflight := make(map[string]time.Time)

	gw.On(protocol.TypeMessageNew, func(raw json.RawMessage) {
		var evt protocol.MessageNewEvent
		if err := json.Unmarshal(raw, &evt); err != nil {
			return
		}
		if evt.Message.SenderID != identity.UserID || evt.Message.TempID == "" {
			return
		}
		mu.Lock()
		sentAt, ok := inflight[evt.Message.TempID]
		if ok {
			delete(inflight, evt.Message.TempID)
		}
		mu.Unlock()
		if ok {
			collector.AddConfirm(time.Since(sentAt))
		}
	})

	seq := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(rate):
		}

		seq++
		tempID := uuid.NewString()
		mu.Lock()
		inflight[tempID] = time.Now()
		mu.Unlock()

		err := gw.Emit(protocol.TypeGroupSend, protocol.GroupSendEvent{
			SenderID: identity.UserID,
			RoomID:   room,
			Content:  fmt.Sprintf("load message %d from %s", seq, identity.UserID),
			TempID:   tempID,
		})
		if err != nil {
			collector.AddError()
			mu.Lock()
			delete(inflight, tempID)
			mu.Unlock()
			return
		}
	}
}
