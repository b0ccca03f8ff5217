package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const (
	ProductionStreamURL = "wss://fstream.binance.com/ws"
	TestnetStreamURL    = "wss://stream.binancefuture.com/ws"
)

type markPriceEvent struct {
	EventType string          `json:"e"`
	EventTime int64           `json:"E"`
	Symbol    string          `json:"s"`
	MarkPrice decimal.Decimal `json:"p"`
}

type subscribeMessage struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	ID     int64    `json:"id"`
}

type markPrice struct {
	price     decimal.Decimal
	updatedAt time.Time
}

// MarkPriceStream keeps the latest mark price per symbol from the public stream.
type MarkPriceStream struct {
	url       string
	conn      *websocket.Conn
	mu        sync.Mutex
	connected bool
	nextID    int64
	prices    map[string]markPrice
	pricesMu  sync.RWMutex
	maxAge    time.Duration
	logger    *logrus.Logger
}

func NewMarkPriceStream(url string, maxAge time.Duration, logger *logrus.Logger) *MarkPriceStream {
	if maxAge <= 0 {
		maxAge = time.Minute
	}
	return &MarkPriceStream{
		url:    url,
		prices: make(map[string]markPrice),
		maxAge: maxAge,
		logger: logger,
	}
}

func (s *MarkPriceStream) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.connected {
		return nil
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return fmt.Errorf("failed to connect to mark price stream: %w", err)
	}

	s.conn = conn
	s.connected = true

	go s.readLoop(ctx, conn)
	go s.keepAlive(ctx)

	return nil
}

// Subscribe requests <symbol>@markPrice updates for each symbol.
func (s *MarkPriceStream) Subscribe(symbols ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.connected {
		return fmt.Errorf("mark price stream not connected")
	}

	streams := make([]string, 0, len(symbols))
	for _, sym := range symbols {
		streams = append(streams, strings.ToLower(sym)+"@markPrice")
	}
	s.nextID++
	return s.conn.WriteJSON(subscribeMessage{Method: "SUBSCRIBE", Params: streams, ID: s.nextID})
}

// Price returns the last mark price for symbol if it is fresher than maxAge.
func (s *MarkPriceStream) Price(symbol string) (decimal.Decimal, bool) {
	s.pricesMu.RLock()
	defer s.pricesMu.RUnlock()
	mp, ok := s.prices[symbol]
	if !ok || time.Since(mp.updatedAt) > s.maxAge {
		return decimal.Zero, false
	}
	return mp.price, true
}

func (s *MarkPriceStream) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func (s *MarkPriceStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeLocked()
}

func (s *MarkPriceStream) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		select {
		case <-ctx.Done():
			s.Close()
			return
		default:
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				s.logger.WithError(err).Error("Failed to read mark price message")
			}
			s.Close()
			return
		}

		var evt markPriceEvent
		if err := json.Unmarshal(data, &evt); err != nil || evt.EventType != "markPriceUpdate" {
			continue
		}
		s.pricesMu.Lock()
		s.prices[evt.Symbol] = markPrice{price: evt.MarkPrice, updatedAt: time.Now()}
		s.pricesMu.Unlock()
	}
}

func (s *MarkPriceStream) keepAlive(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.mu.Lock()
			if !s.connected {
				s.mu.Unlock()
				return
			}
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.logger.WithError(err).Error("Failed to send ping")
				s.closeLocked()
			}
			s.mu.Unlock()
		}
	}
}

func (s *MarkPriceStream) closeLocked() error {
	if !s.connected {
		return nil
	}
	s.connected = false
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}
