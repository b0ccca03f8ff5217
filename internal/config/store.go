package config

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/gregtusar/pairs/pkg/models"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// ErrInvalidPairConfig wraps every trading configuration validation failure.
var ErrInvalidPairConfig = errors.New("invalid trading configuration")

const (
	MinWindowSize = 10
	MaxWindowSize = 1000
)

const (
	KeyAsset1         = "trading.asset1"
	KeyAsset2         = "trading.asset2"
	KeyWindowSize     = "trading.window_size"
	KeyEntryThreshold = "trading.entry_threshold"
	KeyExitThreshold  = "trading.exit_threshold"
	KeyPositionSize   = "trading.position_size"
	KeyAmountBased    = "trading.amount_based"
	KeyLeverage       = "trading.leverage"
	KeyEnabled        = "trading.enabled"
	KeyConsoleChart   = "trading.console_chart"
	KeyConsoleSignal  = "trading.console_signal"
)

var tradingKeys = map[string]struct{}{
	KeyAsset1: {}, KeyAsset2: {}, KeyWindowSize: {}, KeyEntryThreshold: {},
	KeyExitThreshold: {}, KeyPositionSize: {}, KeyAmountBased: {}, KeyLeverage: {},
	KeyEnabled: {}, KeyConsoleChart: {}, KeyConsoleSignal: {},
}

func setTradingDefaults(v *viper.Viper) {
	v.SetDefault(KeyAsset1, "BTCUSDT")
	v.SetDefault(KeyAsset2, "ETHUSDT")
	v.SetDefault(KeyWindowSize, 700)
	v.SetDefault(KeyEntryThreshold, 2.0)
	v.SetDefault(KeyExitThreshold, 0.5)
	v.SetDefault(KeyPositionSize, "0.01")
	v.SetDefault(KeyAmountBased, false)
	v.SetDefault(KeyLeverage, 5)
	v.SetDefault(KeyEnabled, false)
	v.SetDefault(KeyConsoleChart, true)
	v.SetDefault(KeyConsoleSignal, true)
}

// TradingStore is the typed accessor over the "trading" keys. Every call to
// PairConfig returns a fresh, validated snapshot.
type TradingStore struct {
	mu       sync.RWMutex
	v        *viper.Viper
	validate *validator.Validate
	logger   *logrus.Logger
}

func NewTradingStore(v *viper.Viper, logger *logrus.Logger) *TradingStore {
	if v == nil {
		v = viper.New()
		setTradingDefaults(v)
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &TradingStore{v: v, validate: validator.New(), logger: logger}
}

func (s *TradingStore) PairConfig() (models.PairConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot()
}

func (s *TradingStore) snapshot() (models.PairConfig, error) {
	size, err := decimal.NewFromString(strings.TrimSpace(s.v.GetString(KeyPositionSize)))
	if err != nil {
		return models.PairConfig{}, fmt.Errorf("%w: position_size: %v", ErrInvalidPairConfig, err)
	}

	cfg := models.PairConfig{
		Asset1:         strings.ToUpper(strings.TrimSpace(s.v.GetString(KeyAsset1))),
		Asset2:         strings.ToUpper(strings.TrimSpace(s.v.GetString(KeyAsset2))),
		WindowSize:     s.v.GetInt(KeyWindowSize),
		EntryThreshold: s.v.GetFloat64(KeyEntryThreshold),
		ExitThreshold:  s.v.GetFloat64(KeyExitThreshold),
		PositionSize:   size,
		AmountBased:    s.v.GetBool(KeyAmountBased),
		Leverage:       s.v.GetInt(KeyLeverage),
		Enabled:        s.v.GetBool(KeyEnabled),
		ConsoleChart:   s.v.GetBool(KeyConsoleChart),
		ConsoleSignal:  s.v.GetBool(KeyConsoleSignal),
	}
	if err := s.validate.Struct(cfg); err != nil {
		return cfg, fmt.Errorf("%w: %v", ErrInvalidPairConfig, err)
	}
	if !cfg.PositionSize.IsPositive() {
		return cfg, fmt.Errorf("%w: position_size must be positive", ErrInvalidPairConfig)
	}
	return cfg, nil
}

// SetWindowSize stores size clamped to [MinWindowSize, MaxWindowSize] and
// returns the stored value.
func (s *TradingStore) SetWindowSize(size int) (int, error) {
	applied := size
	if applied < MinWindowSize {
		applied = MinWindowSize
	}
	if applied > MaxWindowSize {
		applied = MaxWindowSize
	}
	if applied != size {
		s.logger.WithFields(logrus.Fields{"requested": size, "window_size": applied}).Warn("Window size clamped")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.v.Set(KeyWindowSize, applied)
	return applied, nil
}

// Set updates one trading key. A value that leaves the configuration invalid
// is rolled back and reported.
func (s *TradingStore) Set(key string, value interface{}) error {
	if !strings.HasPrefix(key, "trading.") {
		key = "trading." + key
	}
	if _, ok := tradingKeys[key]; !ok {
		return fmt.Errorf("%w: unknown key %q", ErrInvalidPairConfig, key)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	previous := s.v.Get(key)
	s.v.Set(key, value)
	if _, err := s.snapshot(); err != nil {
		s.v.Set(key, previous)
		return err
	}
	s.logger.WithFields(logrus.Fields{"key": key, "value": value}).Info("Trading setting updated")
	return nil
}

// Settings returns every trading key with its current raw value.
func (s *TradingStore) Settings() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]interface{}, len(tradingKeys))
	for k := range tradingKeys {
		out[strings.TrimPrefix(k, "trading.")] = s.v.Get(k)
	}
	return out
}
