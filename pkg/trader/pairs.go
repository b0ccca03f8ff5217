package trader

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
)

// ErrInvalidCombination covers malformed or untradable "A,B" combinations.
var ErrInvalidCombination = errors.New("invalid pair combination")

// ParseCombination splits "A,B" into its two symbols.
func ParseCombination(combination string) (string, string, error) {
	parts := strings.Split(strings.TrimSpace(combination), ",")
	if len(parts) != 2 {
		return "", "", fmt.Errorf("%w: %q must contain exactly two symbols", ErrInvalidCombination, combination)
	}
	a, b := strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])
	if a == "" || b == "" {
		return "", "", fmt.Errorf("%w: %q has an empty symbol", ErrInvalidCombination, combination)
	}
	return a, b, nil
}

// ValidateCombination parses combination and checks both symbols are trading.
func ValidateCombination(combination string, trading map[string]struct{}) (string, string, error) {
	a, b, err := ParseCombination(combination)
	if err != nil {
		return "", "", err
	}
	for _, s := range []string{a, b} {
		if _, ok := trading[s]; !ok {
			return "", "", fmt.Errorf("%w: %s is not trading", ErrInvalidCombination, s)
		}
	}
	return a, b, nil
}

func tradingSet(ctx context.Context, exchange Exchange) (map[string]struct{}, error) {
	symbols, err := exchange.TradingSymbols(ctx)
	if err != nil {
		return nil, fmt.Errorf("list trading symbols: %w", err)
	}
	set := make(map[string]struct{}, len(symbols))
	for _, s := range symbols {
		set[s] = struct{}{}
	}
	return set, nil
}

// PairManager validates and persists saved pair combinations.
type PairManager struct {
	exchange Exchange
	store    PairStore
	logger   *logrus.Logger
}

func NewPairManager(exchange Exchange, store PairStore, logger *logrus.Logger) *PairManager {
	return &PairManager{exchange: exchange, store: store, logger: logger}
}

func (m *PairManager) List(ctx context.Context) ([]string, error) {
	if m.store == nil {
		return nil, nil
	}
	return m.store.List(ctx)
}

func (m *PairManager) Save(ctx context.Context, combination string) error {
	if m.store == nil {
		return errors.New("pair storage not configured")
	}
	set, err := tradingSet(ctx, m.exchange)
	if err != nil {
		return err
	}
	a, b, err := ValidateCombination(combination, set)
	if err != nil {
		return err
	}
	normalized := a + "," + b
	if err := m.store.Save(ctx, normalized); err != nil {
		return err
	}
	m.logger.WithField("pair", normalized).Info("Pair combination saved")
	return nil
}

func (m *PairManager) Delete(ctx context.Context, combination string) (bool, error) {
	if m.store == nil {
		return false, errors.New("pair storage not configured")
	}
	ok, err := m.store.Delete(ctx, combination)
	if err != nil {
		return false, err
	}
	if !ok {
		m.logger.WithField("pair", combination).Warn("Pair combination to delete not found")
	}
	return ok, nil
}

// TradingSymbols lists the venue's currently tradable symbols.
func (m *PairManager) TradingSymbols(ctx context.Context) ([]string, error) {
	return m.exchange.TradingSymbols(ctx)
}
