// Package stats provides a goroutine-safe metrics collector that aggregates
// gateway load test measurements and prints a summary report with
// percentile distributions.
package stats

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"
)

// Collector aggregates measurements from many load test workers. All
// methods are goroutine-safe.
type Collector struct {
	mu               sync.Mutex
	connectLatencies []time.Duration
	confirmLatencies []time.Duration // send -> message:new echo round trip
	errors           int
	connections      int
	confirmed        int
	startTime        time.Time
}

// NewCollector creates a Collector with the start time set to now.
func NewCollector() *Collector {
	return &Collector{startTime: time.Now()}
}

// AddConnect records a successful gateway dial with its latency.
func (c *Collector) AddConnect(d time.Duration) {
	c.mu.Lock()
	c.connectLatencies = append(c.connectLatencies, d)
	c.connections++
	c.mu.Unlock()
}

// AddConfirm records one optimistic send resolving: the time from emit to
// the temp id echo on message:new.
func (c *Collector) AddConfirm(d time.Duration) {
	c.mu.Lock()
	c.confirmLatencies = append(c.confirmLatencies, d)
	c.confirmed++
	c.mu.Unlock()
}

// AddError increments the error counter.
func (c *Collector) AddError() {
	c.mu.Lock()
	c.errors++
	c.mu.Unlock()
}

// ConnectionCount returns the number of recorded connections.
func (c *Collector) ConnectionCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connections
}

// ConfirmedCount returns the number of confirmed sends.
func (c *Collector) ConfirmedCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.confirmed
}

// ErrorCount returns the number of recorded errors.
func (c *Collector) ErrorCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.errors
}

// Report prints a formatted summary: duration, connection and send counts,
// errors, and percentile distributions for dial and confirmation latency.
func (c *Collector) Report() {
	c.mu.Lock()
	defer c.mu.Unlock()

	elapsed := time.Since(c.startTime)

	fmt.Println("\n=== Load Test Results ===")
	fmt.Printf("Duration:     %s\n", elapsed.Round(time.Second))
	fmt.Printf("Connections:  %d\n", c.connections)
	fmt.Printf("Confirmed:    %d\n", c.confirmed)
	fmt.Printf("Errors:       %d\n", c.errors)

	if c.confirmed > 0 && elapsed > 0 {
		fmt.Printf("Throughput:   %.1f msg/s\n", float64(c.confirmed)/elapsed.Seconds())
	}

	if len(c.connectLatencies) > 0 {
		fmt.Println("\n--- Dial Latency ---")
		printPercentiles(c.connectLatencies)
	}
	if len(c.confirmLatencies) > 0 {
		fmt.Println("\n--- Send Confirmation Latency ---")
		printPercentiles(c.confirmLatencies)
	}
	fmt.Println()
}

// printPercentiles sorts the durations and prints avg, p50, p95, p99, and
// max along with the sample count.
func printPercentiles(durations []time.Duration) {
	sort.Slice(durations, func(i, j int) bool { return durations[i] < durations[j] })

	n := len(durations)
	p50 := durations[n/2]
	p95 := durations[int(math.Ceil(float64(n)*0.95))-1]
	p99 := durations[int(math.Ceil(float64(n)*0.99))-1]

	var sum time.Duration
	for _, d := range durations {
		sum += d
	}
	avg := sum / time.Duration(n)

	fmt.Printf("  avg: %v  p50: %v  p95: %v  p99: %v  max: %v  (n=%d)\n",
		avg.Round(time.Microsecond),
		p50.Round(time.Microsecond),
		p95.Round(time.Microsecond),
		p99.Round(time.Microsecond),
		durations[n-1].Round(time.Microsecond),
		n,
	)
}
