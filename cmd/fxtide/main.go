package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"fxtide/internal/app"
	"fxtide/internal/config"
	"fxtide/internal/logger"
	"fxtide/internal/market"
)

const usage = `fxtide - forex data retrieval and strategy backtesting toolkit

Usage:
  fxtide <command> [flags]

Commands:
  validate     check credentials by calling the account endpoint
  instruments  list tradeable instruments for the account
  fetch        download historical candles into the local CSV store
  datasets     list local datasets and their coverage
  backtest     run a strategy over a local dataset
  signal       detect a breakout signal on recent complete candles
  trade        detect a signal and place a risk-sized market order
  close        close the open position for an instrument
  serve        start the HTTP API

Use "fxtide <command> -h" for command flags.
Config file defaults to configs/config.yaml (override with FXTIDE_CONFIG).`

func main() {
	if len(os.Args) < 2 {
		fmt.Println(usage)
		os.Exit(2)
	}

	cfgPath := os.Getenv("FXTIDE_CONFIG")
	if cfgPath == "" {
		cfgPath = "configs/config.yaml"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("loading config failed: %v", err)
	}
	logFile, err := setupLogOutput(cfg.App.LogPath)
	if err != nil {
		log.Fatalf("initializing log file failed: %v", err)
	}
	if logFile != nil {
		defer logFile.Close()
	}

	a, err := app.New(cfg)
	if err != nil {
		log.Fatalf("initializing app failed: %v", err)
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd, args := os.Args[1], os.Args[2:]
	if err := dispatch(ctx, a, cmd, args); err != nil {
		log.Fatalf("%s failed: %v", cmd, err)
	}
}

func dispatch(ctx context.Context, a *app.App, cmd string, args []string) error {
	switch cmd {
	case "validate":
		return runValidate(ctx, a)
	case "instruments":
		return runInstruments(ctx, a)
	case "fetch":
		return runFetch(ctx, a, args)
	case "datasets":
		return runDatasets(a, args)
	case "backtest":
		return runBacktest(ctx, a, args)
	case "signal":
		return runSignal(ctx, a, args)
	case "trade":
		return runTrade(ctx, a, args)
	case "close":
		return runClose(ctx, a, args)
	case "serve":
		return a.Serve(ctx)
	case "help", "-h", "--help":
		fmt.Println(usage)
		return nil
	default:
		fmt.Println(usage)
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func runValidate(ctx context.Context, a *app.App) error {
	client, err := a.Client()
	if err != nil {
		return err
	}
	summary, err := client.ValidateConnection(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("account %s (%s): balance %.2f, open positions %d\n",
		summary.ID, summary.Currency, summary.Balance, summary.OpenPositions)
	return nil
}

func runInstruments(ctx context.Context, a *app.App) error {
	client, err := a.Client()
	if err != nil {
		return err
	}
	names, err := client.GetInstruments(ctx)
	if err != nil {
		return err
	}
	for _, name := range names {
		fmt.Println(name)
	}
	return nil
}

func runFetch(ctx context.Context, a *app.App, args []string) error {
	fs := flag.NewFlagSet("fetch", flag.ExitOnError)
	instrument := fs.String("instrument", "EUR_USD", "instrument, e.g. EUR_USD")
	granStr := fs.String("granularity", "M15", "granularity code (S5..M)")
	fromStr := fs.String("from", "", "start date YYYY-MM-DD (required)")
	toStr := fs.String("to", "", "end date YYYY-MM-DD, defaults to today")
	fs.Parse(args)

	g, err := market.ParseGranularity(*granStr)
	if err != nil {
		return err
	}
	from, to, err := parseDateRange(*fromStr, *toStr)
	if err != nil {
		return err
	}
	path, err := a.FetchAndSave(ctx, *instrument, g, from, to)
	if err != nil {
		return err
	}
	fmt.Println(path)
	return nil
}

func runDatasets(a *app.App, args []string) error {
	fs := flag.NewFlagSet("datasets", flag.ExitOnError)
	instrument := fs.String("instrument", "", "filter by instrument")
	fs.Parse(args)

	store, err := a.Store()
	if err != nil {
		return err
	}
	datasets, err := store.List(*instrument)
	if err != nil {
		return err
	}
	if len(datasets) == 0 {
		fmt.Println("no datasets, run fetch first")
		return nil
	}
	for _, ds := range datasets {
		fmt.Printf("%-10s %-4s %s..%s  %6d records  %s\n",
			ds.Instrument, ds.Granularity,
			ds.From.Format("2006-01-02"), ds.To.Format("2006-01-02"),
			ds.Records, ds.Path)
	}
	return nil
}

func runBacktest(ctx context.Context, a *app.App, args []string) error {
	fs := flag.NewFlagSet("backtest", flag.ExitOnError)
	name := fs.String("strategy", "donchian_breakout", "registered strategy name")
	instrument := fs.String("instrument", "EUR_USD", "instrument")
	granStr := fs.String("granularity", "M15", "granularity code")
	fromStr := fs.String("from", "", "start date YYYY-MM-DD (required)")
	toStr := fs.String("to", "", "end date YYYY-MM-DD, defaults to today")
	fs.Parse(args)

	g, err := market.ParseGranularity(*granStr)
	if err != nil {
		return err
	}
	from, to, err := parseDateRange(*fromStr, *toStr)
	if err != nil {
		return err
	}
	result, err := a.RunBacktest(ctx, *name, *instrument, g, from, to)
	if err != nil {
		return err
	}
	stats := result.Run.Stats
	fmt.Printf("run %s\n", result.Run.ID)
	fmt.Printf("  trades        %d (%d wins / %d losses)\n", stats.Positions, stats.Wins, stats.Losses)
	fmt.Printf("  win rate      %.1f%%\n", stats.WinRate)
	fmt.Printf("  return        %.2f%%  (%.2f -> %.2f)\n", stats.ReturnPct, result.Run.InitialBalance, stats.FinalBalance)
	fmt.Printf("  max drawdown  %.2f%%\n", stats.MaxDrawdownPct)
	fmt.Printf("  sharpe        %.2f\n", stats.Sharpe)
	fmt.Printf("  exposure      %.1f%%\n", stats.ExposurePct)
	return nil
}

func runSignal(ctx context.Context, a *app.App, args []string) error {
	fs := flag.NewFlagSet("signal", flag.ExitOnError)
	instrument := fs.String("instrument", "EUR_USD", "instrument")
	granStr := fs.String("granularity", "D", "granularity code")
	fs.Parse(args)

	g, err := market.ParseGranularity(*granStr)
	if err != nil {
		return err
	}
	sig, err := a.DetectSignal(ctx, *instrument, g)
	if err != nil {
		return err
	}
	if sig == nil {
		fmt.Println("no signal")
		return nil
	}
	fmt.Printf("%s %s entry~%.5f sl_dist=%.5f\n", *instrument, sig.Side, sig.EntryPrice, sig.SLDistance)
	return nil
}

func runTrade(ctx context.Context, a *app.App, args []string) error {
	fs := flag.NewFlagSet("trade", flag.ExitOnError)
	instrument := fs.String("instrument", "EUR_USD", "instrument")
	granStr := fs.String("granularity", "D", "granularity code")
	riskReward := fs.Float64("rr", 2.0, "take profit distance as a multiple of stop distance")
	fs.Parse(args)

	g, err := market.ParseGranularity(*granStr)
	if err != nil {
		return err
	}
	result, err := a.Trade(ctx, *instrument, g, *riskReward)
	if err != nil {
		return err
	}
	if result == nil {
		fmt.Println("no signal, nothing placed")
		return nil
	}
	fmt.Printf("placed %s %d units, sl=%.5f tp=%.5f, tx=%s\n",
		*instrument, result.Units, result.StopLoss, result.TakeProfit, result.TransactionID)
	return nil
}

func runClose(ctx context.Context, a *app.App, args []string) error {
	fs := flag.NewFlagSet("close", flag.ExitOnError)
	instrument := fs.String("instrument", "EUR_USD", "instrument")
	fs.Parse(args)
	return a.CloseOpenPosition(ctx, *instrument)
}

func parseDateRange(fromStr, toStr string) (time.Time, time.Time, error) {
	if fromStr == "" {
		return time.Time{}, time.Time{}, fmt.Errorf("-from is required (YYYY-MM-DD)")
	}
	from, err := time.ParseInLocation("2006-01-02", fromStr, time.UTC)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("bad -from date %q: %w", fromStr, err)
	}
	to := time.Now().UTC().Truncate(24 * time.Hour)
	if toStr != "" {
		to, err = time.ParseInLocation("2006-01-02", toStr, time.UTC)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("bad -to date %q: %w", toStr, err)
		}
	}
	if !to.After(from) {
		return time.Time{}, time.Time{}, fmt.Errorf("-to must be after -from")
	}
	return from, to, nil
}

func setupLogOutput(path string) (*os.File, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, nil
	}
	dir := filepath.Dir(trimmed)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	file, err := os.OpenFile(trimmed, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	mw := io.MultiWriter(os.Stdout, file)
	log.SetOutput(mw)
	logger.SetOutput(mw)
	return file, nil
}
