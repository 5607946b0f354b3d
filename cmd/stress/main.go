package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/gookit/color"
	"github.com/kelseyhightower/envconfig"
	"github.com/mama165/sdk-go/logs"
	"github.com/olekukonko/tablewriter"
	"github.com/samber/lo"
	"tcp-chat/client"
	"tcp-chat/domain"
)

// Config of the load tool, read from STRESS_* variables.
type Config struct {
	Addr     string        `envconfig:"ADDR" default:"127.0.0.1:12345"`
	Clients  int           `envconfig:"CLIENTS" default:"50"`
	Messages int           `envconfig:"MESSAGES" default:"5"`
	Pause    time.Duration `envconfig:"PAUSE" default:"10ms"`
	Timeout  time.Duration `envconfig:"TIMEOUT" default:"30s"`
	Colours  bool          `envconfig:"COLOURS" default:"true"`
}

type result struct {
	sent     int
	received int
	err      error
	elapsed  time.Duration
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

// run connects Clients peers in parallel; each sends Messages chunks then says bye.
func run() error {
	var config Config
	if err := envconfig.Process("stress", &config); err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	log := logs.GetLoggerFromLevel(slog.LevelWarn)

	host, portStr, err := net.SplitHostPort(config.Addr)
	if err != nil {
		return fmt.Errorf("invalid address %q: %w", config.Addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return fmt.Errorf("invalid port %q: %w", portStr, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), config.Timeout)
	defer cancel()

	progress := color.New(color.BgBlack, color.FgGreen)
	header := fmt.Sprintf("  ====== %d clients x %d messages on %s ======", config.Clients, config.Messages, config.Addr)
	if config.Colours {
		header = progress.Render(header)
	}
	fmt.Println(header)

	start := time.Now()
	results := make([]result, config.Clients)
	var wg sync.WaitGroup
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = talk(ctx, log, host, port, i, config)
		}(i)
	}
	wg.Wait()
	total := time.Since(start)

	failed := lo.Filter(results, func(r result, _ int) bool { return r.err != nil })
	for _, r := range failed {
		fmt.Println(color.FgRed.Render("[ERROR]"), r.err)
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Clients", "Failed", "Sent", "Received", "Avg session", "Total"})
	table.Append([]string{
		strconv.Itoa(config.Clients),
		strconv.Itoa(len(failed)),
		strconv.Itoa(lo.SumBy(results, func(r result) int { return r.sent })),
		strconv.Itoa(lo.SumBy(results, func(r result) int { return r.received })),
		average(results).Round(time.Millisecond).String(),
		total.Round(time.Millisecond).String(),
	})
	table.Render()

	if len(failed) > 0 {
		return fmt.Errorf("%d of %d clients failed", len(failed), config.Clients)
	}
	return nil
}

func talk(ctx context.Context, log *slog.Logger, host string, port, id int, config Config) result {
	start := time.Now()
	c, err := client.Connect(ctx, log, host, port)
	if err != nil {
		return result{err: err}
	}

	counter := &chunkCounter{}
	received := make(chan struct{})
	go func() {
		_ = c.Receive(counter)
		close(received)
	}()

	res := result{}
	for m := 0; m < config.Messages; m++ {
		if err := c.Send([]byte(fmt.Sprintf("client %d message %d", id, m))); err != nil {
			res.err = err
			break
		}
		res.sent++
		time.Sleep(config.Pause)
	}
	if res.err == nil {
		res.err = c.Send([]byte(domain.DisconnectWord))
	}

	// The server closes the connection after bye, which ends Receive.
	select {
	case <-received:
	case <-ctx.Done():
		_ = c.Close()
		<-received
		if res.err == nil {
			res.err = ctx.Err()
		}
	}
	res.received = counter.count()
	res.elapsed = time.Since(start)
	return res
}

func average(results []result) time.Duration {
	if len(results) == 0 {
		return 0
	}
	return time.Duration(lo.SumBy(results, func(r result) int64 { return int64(r.elapsed) }) / int64(len(results)))
}

// chunkCounter counts the chunks printed by the receive loop.
type chunkCounter struct {
	mu sync.Mutex
	n  int
}

func (c *chunkCounter) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.n++
	return len(p), nil
}

func (c *chunkCounter) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}
