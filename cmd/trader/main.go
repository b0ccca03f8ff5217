package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/gregtusar/pairs/api"
	"github.com/gregtusar/pairs/pkg/models"
	"github.com/gregtusar/pairs/pkg/report"
	"github.com/gregtusar/pairs/pkg/trader"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	cfgFile string
	logger  *logrus.Logger
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "pairs-trader",
		Short: "Statistical arbitrage pairs trader for Binance USDT-M futures",
		Long:  `Watches the spread between two correlated perpetual futures, opens paired positions when the z-score leaves its band and closes them when it reverts`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// .env is optional; real environment variables win
			if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
				fmt.Fprintf(os.Stderr, "failed to read .env: %v\n", err)
			}
			logger = logrus.New()
			logger.SetFormatter(&logrus.JSONFormatter{})
		},
		RunE: runTrader,
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")

	rootCmd.AddCommand(
		&cobra.Command{
			Use:   "run",
			Short: "Run the scheduler and the API server",
			RunE:  runTrader,
		},
		&cobra.Command{
			Use:   "once",
			Short: "Evaluate the configured pair once and act on the signal",
			RunE:  runOnce,
		},
		newBacktestCmd(),
		newPairsCmd(),
		newTokenCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func runTrader(cmd *cobra.Command, args []string) error {
	app, err := newApp(cmd.Context(), cfgFile)
	if err != nil {
		return err
	}
	defer app.Close()

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if app.cfg.Scheduler.Enabled {
		if err := app.trader.Start(ctx); err != nil {
			return fmt.Errorf("start pairs trader: %w", err)
		}
	} else {
		logger.Info("Scheduler disabled; pipeline runs only on demand")
	}

	apiServer := app.server()
	go func() {
		if err := apiServer.Start(); err != nil {
			logger.WithError(err).Fatal("Failed to start API server")
		}
	}()

	// Wait for interrupt signal; SIGHUP re-reads credentials
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	logger.Info("Pairs trader is running. Press Ctrl+C to stop.")

	for sig := range sigChan {
		if sig != syscall.SIGHUP {
			break
		}
		app.reloadCredentials()
	}
	logger.Info("Received shutdown signal")

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("API server shutdown failed")
	}
	cancel()
	app.trader.Stop()

	logger.Info("Pairs trader stopped")
	return nil
}

func runOnce(cmd *cobra.Command, args []string) error {
	app, err := newApp(cmd.Context(), cfgFile)
	if err != nil {
		return err
	}
	defer app.Close()
	defer app.trader.Stop()

	decision, err := app.trader.RunOnce(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Printf("%s: %s\n", decision.Signal, decision.Reason)

	cfg, err := app.cfg.Trading.PairConfig()
	if err != nil || decision.Model == nil {
		return nil
	}
	if cfg.ConsoleSignal {
		text, err := app.trader.SignalReport(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Println(text)
	}
	if cfg.ConsoleChart {
		m := decision.Model
		fmt.Println(report.ZScoreChart(m.ZScoreHistory, cfg.EntryThreshold, cfg.ExitThreshold))
	}
	return nil
}

func newBacktestCmd() *cobra.Command {
	var (
		pair     string
		pairs    []string
		saved    bool
		days     int
		interval string
	)
	cmd := &cobra.Command{
		Use:   "backtest",
		Short: "Analyse one or more pairs over historical bars",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !trader.ValidInterval(interval) {
				return fmt.Errorf("unsupported interval %q", interval)
			}
			app, err := newApp(cmd.Context(), cfgFile)
			if err != nil {
				return err
			}
			defer app.Close()
			defer app.trader.Stop()

			bt := app.trader.Backtester()
			ctx := cmd.Context()

			if pair != "" {
				a1, a2, err := trader.ParseCombination(strings.ToUpper(pair))
				if err != nil {
					return err
				}
				res, err := bt.BacktestPair(ctx, a1, a2, days, interval)
				if err != nil {
					return err
				}
				fmt.Println(res.Report)
				fmt.Println(res.ZScoreChart)
				return nil
			}

			var results map[string]*models.BacktestResult
			switch {
			case saved:
				results, err = bt.BacktestAllSaved(ctx, days, interval)
			case len(pairs) > 0:
				for i := range pairs {
					pairs[i] = strings.ToUpper(pairs[i])
				}
				results, err = bt.Batch(ctx, pairs, days, interval)
			default:
				return errors.New("one of --pair, --pairs or --saved is required")
			}
			if err != nil {
				return err
			}
			printSummary(results)
			return nil
		},
	}
	cmd.Flags().StringVar(&pair, "pair", "", "single pair as ASSET1,ASSET2")
	cmd.Flags().StringArrayVar(&pairs, "pairs", nil, "pair to include in a batch run (repeatable)")
	cmd.Flags().BoolVar(&saved, "saved", false, "backtest every saved pair")
	cmd.Flags().IntVar(&days, "days", 30, "days of history (0 uses the window size)")
	cmd.Flags().StringVar(&interval, "interval", "1h", "bar interval")
	return cmd
}

func printSummary(results map[string]*models.BacktestResult) {
	keys := make([]string, 0, len(results))
	for k := range results {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fmt.Printf("%-22s %8s %8s %10s %-16s %6s %6s\n", "PAIR", "CORR", "Z", "STATIONARY", "SIGNAL", "TRADES", "LIQ")
	for _, k := range keys {
		r := results[k]
		fmt.Printf("%-22s %8.3f %8.3f %10t %-16s %6d %6d\n",
			k, r.Correlation, r.ZScore, r.IsStationary, r.Signal, r.ArbitrageCount, r.Liquidations)
	}
}

func newPairsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pairs",
		Short: "Manage saved pair combinations",
	}

	withPairs := func(fn func(ctx context.Context, pm *trader.PairManager, args []string) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			app, err := newApp(cmd.Context(), cfgFile)
			if err != nil {
				return err
			}
			defer app.Close()
			defer app.trader.Stop()
			return fn(cmd.Context(), app.trader.Pairs(), args)
		}
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List saved pairs",
			RunE: withPairs(func(ctx context.Context, pm *trader.PairManager, _ []string) error {
				pairs, err := pm.List(ctx)
				if err != nil {
					return err
				}
				for _, p := range pairs {
					fmt.Println(p)
				}
				return nil
			}),
		},
		&cobra.Command{
			Use:   "add ASSET1,ASSET2",
			Short: "Save a pair after checking both symbols trade",
			Args:  cobra.ExactArgs(1),
			RunE: withPairs(func(ctx context.Context, pm *trader.PairManager, args []string) error {
				return pm.Save(ctx, strings.ToUpper(args[0]))
			}),
		},
		&cobra.Command{
			Use:   "remove ASSET1,ASSET2",
			Short: "Delete a saved pair",
			Args:  cobra.ExactArgs(1),
			RunE: withPairs(func(ctx context.Context, pm *trader.PairManager, args []string) error {
				ok, err := pm.Delete(ctx, strings.ToUpper(args[0]))
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("pair %s is not saved", args[0])
				}
				return nil
			}),
		},
	)
	return cmd
}

func newTokenCmd() *cobra.Command {
	var (
		subject string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for the API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cfgFile)
			if err != nil {
				return err
			}
			token, err := api.IssueToken(cfg.Server.JWTSecret, subject, ttl)
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "operator", "token subject")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}
