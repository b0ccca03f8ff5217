package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/gregtusar/pairs/api"
	"github.com/gregtusar/pairs/internal/config"
	"github.com/gregtusar/pairs/internal/metrics"
	"github.com/gregtusar/pairs/internal/storage"
	"github.com/gregtusar/pairs/pkg/binance"
	"github.com/gregtusar/pairs/pkg/trader"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// app holds everything one command invocation wires together.
type app struct {
	cfg     *config.Config
	client  *binance.Client
	stream  *binance.MarkPriceStream
	redis   *redis.Client
	history api.History
	metrics *metrics.Recorder
	trader  *trader.PairsTrader
	logFile *os.File
}

// loadConfig reads configuration and applies its logging section.
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	level, err := logrus.ParseLevel(cfg.Logging.Level)
	if err != nil {
		logger.WithError(err).Error("Invalid log level, using INFO")
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	if cfg.Logging.Format == "text" {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return cfg, nil
}

func newApp(ctx context.Context, path string) (*app, error) {
	cfg, err := loadConfig(path)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, metrics: metrics.New()}

	if cfg.Logging.File != "" {
		f, err := os.OpenFile(cfg.Logging.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		a.logFile = f
		logger.SetOutput(io.MultiWriter(os.Stdout, f))
	}

	a.client = binance.NewClient(cfg.Binance.Client(), logger)
	if !a.client.HasCredentials() {
		logger.Warn("Binance credentials missing; live trading pipeline will refuse to run")
	}

	opts := trader.Options{
		Exchange: a.client,
		Config:   cfg.Trading,
		Metrics:  a.metrics,
		Logger:   logger,
		Interval: cfg.Scheduler.Interval,
		Workers:  cfg.Backtest.Workers,
	}

	if cfg.Redis.Enabled {
		a.redis, err = storage.Connect(ctx, storage.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   cfg.Redis.Prefix,
		})
		if err != nil {
			a.Close()
			return nil, err
		}
		audit := storage.NewAuditLog(a.redis, cfg.Redis.Prefix, storage.DefaultHistoryLimit)
		opts.Audit = audit
		opts.Pairs = storage.NewPairStore(a.redis, cfg.Redis.Prefix)
		a.history = audit
	} else {
		logger.Info("Redis disabled; audit events go to the log and pairs are not persisted")
		opts.Audit = storage.NewLogAudit(logger)
	}

	if cfg.Binance.MarkPriceStream {
		if pc, err := cfg.Trading.PairConfig(); err != nil {
			logger.WithError(err).Warn("Skipping mark price stream: trading config invalid")
		} else {
			a.stream = binance.NewMarkPriceStream(cfg.Binance.Stream(), cfg.Binance.MarkPriceMaxAge, logger)
			if err := a.stream.Connect(ctx); err != nil {
				logger.WithError(err).Warn("Mark price stream unavailable; falling back to REST prices")
				a.stream = nil
			} else if err := a.stream.Subscribe(pc.Asset1, pc.Asset2); err != nil {
				logger.WithError(err).Warn("Mark price subscription failed")
			}
		}
	}
	if a.stream != nil {
		opts.Prices = a.stream
	}

	a.trader = trader.NewPairsTrader(opts)
	return a, nil
}

func (a *app) server() *api.Server {
	return api.NewServer(api.Options{
		Pipeline:  a.trader,
		Backtests: a.trader.Backtester(),
		Pairs:     a.trader.Pairs(),
		Settings:  a.cfg.Trading,
		History:   a.history,
		Metrics:   a.metrics.Handler(),
		JWTSecret: a.cfg.Server.JWTSecret,
		Logger:    logger,
		Port:      fmt.Sprintf("%d", a.cfg.Server.Port),
	})
}

// reloadCredentials re-reads configuration and swaps the exchange keys in
// place. Leverage is re-sent afterwards in case the account changed.
func (a *app) reloadCredentials() {
	cfg, err := config.Load(cfgFile, logger)
	if err != nil {
		logger.WithError(err).Error("Credential reload failed")
		return
	}
	config.ApplyCredentials(a.client, cfg.Binance)
	a.trader.ResetSession()
	logger.WithField("has_credentials", a.client.HasCredentials()).Info("Binance credentials reloaded")
}

func (a *app) Close() {
	if a.stream != nil {
		if err := a.stream.Close(); err != nil {
			logger.WithError(err).Warn("Failed to close mark price stream")
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			logger.WithError(err).Warn("Failed to close redis client")
		}
	}
	if a.logFile != nil {
		a.logFile.Close()
	}
}
