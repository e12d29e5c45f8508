// Command compare runs several strategy configs in parallel over one
// shared price source and prints a ranked comparison table.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sort"
	"strings"
	"sync"
	"syscall"

	"portfolio-lab/internal/domain"
	"portfolio-lab/internal/marketdata"
	"portfolio-lab/internal/sim"
)

type comparison struct {
	path   string
	result *sim.Result
	err    error
}

func main() {
	dataDir := flag.String("data-dir", "", "Directory of CSV market data (required)")
	sortBy := flag.String("sort", "twr", "Ranking column: twr, cagr, sharpe, drawdown")
	flag.Parse()

	logger := log.New(os.Stderr, "[compare] ", log.LstdFlags)

	configPaths := flag.Args()
	if len(configPaths) < 2 {
		logger.Fatal("usage: compare --data-dir DIR config1.json config2.json [...]")
	}
	if *dataDir == "" {
		logger.Fatal("--data-dir is required")
	}

	source, err := marketdata.LoadCSVDir(*dataDir)
	if err != nil {
		logger.Fatalf("load market data: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	// Simulations are independent computations over a shared read-only
	// source; run them all concurrently.
	driver := sim.NewDriver(source)
	results := make([]comparison, len(configPaths))
	var wg sync.WaitGroup
	for i, path := range configPaths {
		wg.Add(1)
		go func(i int, path string) {
			defer wg.Done()
			results[i] = runOne(ctx, driver, path)
		}(i, path)
	}
	wg.Wait()

	ok := results[:0:0]
	for _, c := range results {
		if c.err != nil {
			logger.Printf("%s: %v", c.path, c.err)
			continue
		}
		ok = append(ok, c)
	}
	if len(ok) == 0 {
		logger.Fatal("no simulation succeeded")
	}

	rank(ok, *sortBy)
	printTable(ok)
}

func runOne(ctx context.Context, driver *sim.Driver, path string) comparison {
	f, err := os.Open(path)
	if err != nil {
		return comparison{path: path, err: err}
	}
	defer f.Close()

	cfg, err := domain.DecodeStrategyConfig(f)
	if err != nil {
		return comparison{path: path, err: err}
	}

	result, err := driver.Run(ctx, cfg)
	return comparison{path: path, result: result, err: err}
}

func rank(list []comparison, by string) {
	key := func(c comparison) float64 {
		m := c.result.Metrics
		switch by {
		case "cagr":
			return m.CAGR
		case "sharpe":
			if m.Sharpe == nil {
				return -1e18
			}
			return *m.Sharpe
		case "drawdown":
			return m.MaxDrawdown // least negative first
		default:
			return m.TWR
		}
	}
	sort.SliceStable(list, func(i, j int) bool { return key(list[i]) > key(list[j]) })
}

func printTable(list []comparison) {
	fmt.Printf("%-4s %-28s %12s %9s %9s %9s %10s %8s\n",
		"#", "strategy", "final", "twr", "cagr", "sharpe", "max_dd", "trades")
	fmt.Println(strings.Repeat("-", 96))

	for i, c := range list {
		m := c.result.Metrics
		name := c.result.Config.Meta.Name
		if name == "" {
			name = c.path
		}
		sharpe := "n/a"
		if m.Sharpe != nil {
			sharpe = fmt.Sprintf("%.3f", *m.Sharpe)
		}
		fmt.Printf("%-4d %-28s %12s %8.2f%% %8.2f%% %9s %9.2f%% %8d\n",
			i+1, name,
			c.result.FinalValue.StringFixed(2),
			m.TWR*100, m.CAGR*100, sharpe, m.MaxDrawdown*100,
			c.result.Diagnostics.TradesExecuted)
	}
}
