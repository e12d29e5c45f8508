// Command backtest runs one simulation from a JSON strategy config
// against CSV or ClickHouse market data and writes the result bundle.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"portfolio-lab/internal/domain"
	"portfolio-lab/internal/marketdata"
	"portfolio-lab/internal/reporting"
	"portfolio-lab/internal/sim"
	"portfolio-lab/internal/storage"
	pgstore "portfolio-lab/internal/storage/postgres"
)

func main() {
	configPath := flag.String("config", "", "Path to JSON strategy config (required)")
	dataDir := flag.String("data-dir", "", "Directory of CSV market data")
	clickhouseDSN := flag.String("clickhouse-dsn", os.Getenv("CLICKHOUSE_DSN"), "ClickHouse market-data DSN")
	postgresDSN := flag.String("postgres-dsn", os.Getenv("POSTGRES_DSN"), "Persist the result to this PostgreSQL DSN")
	outputJSON := flag.Bool("json", false, "Write the full result bundle as JSON to stdout")
	tradesCSV := flag.String("trades-csv", "", "Write the trade list as CSV to this path")
	equityCSV := flag.String("equity-csv", "", "Write the equity curve as CSV to this path")

	flag.Parse()

	logger := log.New(os.Stderr, "[backtest] ", log.LstdFlags)

	if *configPath == "" {
		logger.Fatal("--config is required")
	}
	if *dataDir == "" && *clickhouseDSN == "" {
		logger.Fatal("--data-dir or --clickhouse-dsn is required")
	}

	f, err := os.Open(*configPath)
	if err != nil {
		logger.Fatalf("open config: %v", err)
	}
	cfg, err := domain.DecodeStrategyConfig(f)
	f.Close()
	if err != nil {
		logger.Fatalf("config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Printf("received signal %v, stopping at next day boundary...", sig)
		cancel()
	}()

	var source marketdata.PriceSource
	if *dataDir != "" {
		src, err := marketdata.LoadCSVDir(*dataDir)
		if err != nil {
			logger.Fatalf("load market data: %v", err)
		}
		source = src
	} else {
		conn, err := marketdata.NewConn(ctx, *clickhouseDSN)
		if err != nil {
			logger.Fatalf("connect clickhouse: %v", err)
		}
		defer conn.Close()
		source = marketdata.NewClickHouseSource(conn)
	}

	started := time.Now()
	result, err := sim.NewDriver(source).Run(ctx, cfg)
	if err != nil {
		logger.Fatalf("simulation failed: %v", err)
	}
	logger.Printf("run %s finished in %s: %d days, %d trades, final value %s",
		result.RunID, time.Since(started).Round(time.Millisecond),
		result.Diagnostics.TradingDays, result.Diagnostics.TradesExecuted,
		result.FinalValue.StringFixed(2))
	if result.Partial {
		logger.Print("result is partial (cancelled)")
	}
	for _, w := range result.Warnings {
		logger.Printf("warning: %s", w)
	}

	if *postgresDSN != "" {
		if err := persist(ctx, *postgresDSN, result); err != nil {
			logger.Printf("persist: %v", err)
		} else {
			logger.Printf("persisted run %s", result.RunID)
		}
	}

	if *tradesCSV != "" {
		if err := os.WriteFile(*tradesCSV, []byte(reporting.RenderTradesCSV(result.Trades)), 0o644); err != nil {
			logger.Fatalf("write trades csv: %v", err)
		}
	}
	if *equityCSV != "" {
		if err := os.WriteFile(*equityCSV, []byte(reporting.RenderEquityCSV(result.EquityCurve)), 0o644); err != nil {
			logger.Fatalf("write equity csv: %v", err)
		}
	}

	if *outputJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(result); err != nil {
			logger.Fatalf("encode result: %v", err)
		}
		return
	}

	printSummary(result)
}

// persist writes the run summary, trades, and equity curve.
func persist(ctx context.Context, dsn string, result *sim.Result) error {
	pool, err := pgstore.NewPool(ctx, dsn)
	if err != nil {
		return err
	}
	defer pool.Close()

	record := &storage.RunRecord{
		RunID:       result.RunID,
		Name:        result.Config.Meta.Name,
		SubmittedAt: time.Now().UTC(),
		PeriodStart: result.Config.StartDate(),
		PeriodEnd:   result.Config.EndDate(),
		AccountType: string(result.Config.Account.Type),
		InitialCash: result.Config.InitialCash,
		FinalValue:  result.FinalValue,
		TWR:         result.Metrics.TWR,
		CAGR:        result.Metrics.CAGR,
		MaxDrawdown: result.Metrics.MaxDrawdown,
		TradeCount:  len(result.Trades),
		Partial:     result.Partial,
	}
	if err := pgstore.NewRunStore(pool).Insert(ctx, record); err != nil {
		return err
	}
	if err := pgstore.NewTradeStore(pool).InsertBulk(ctx, result.RunID, result.Trades); err != nil {
		return err
	}
	return pgstore.NewEquityStore(pool).InsertBulk(ctx, result.RunID, result.EquityCurve)
}

func printSummary(result *sim.Result) {
	m := result.Metrics
	fmt.Printf("Run            %s (%s)\n", result.RunID, result.Config.Meta.Name)
	fmt.Printf("Final value    %s\n", result.FinalValue.StringFixed(2))
	fmt.Printf("After-tax      %s\n", result.AfterTaxVal.StringFixed(2))
	fmt.Printf("TWR            %.4f\n", m.TWR)
	fmt.Printf("CAGR           %.4f\n", m.CAGR)
	printRatio := func(name string, v *float64) {
		if v == nil {
			fmt.Printf("%-14s n/a\n", name)
			return
		}
		fmt.Printf("%-14s %.4f\n", name, *v)
	}
	printRatio("IRR", m.IRR)
	printRatio("Sharpe", m.Sharpe)
	printRatio("Sortino", m.Sortino)
	printRatio("Calmar", m.Calmar)
	fmt.Printf("Max drawdown   %.4f (%d days)\n", m.MaxDrawdown, m.MaxDrawdownDays)

	for _, year := range result.TaxYears {
		fmt.Printf("Tax %d       %s (wash sales: %d)\n",
			year.Year, year.TotalTax.StringFixed(2), year.WashSaleCount)
	}
}
