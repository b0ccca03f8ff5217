// Package storage persists saved pair combinations and the position history
// audit trail.
package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/gregtusar/pairs/pkg/models"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// DefaultHistoryLimit caps the audit list length.
const DefaultHistoryLimit = 10000

type Options struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// Connect opens a client and pings it.
func Connect(ctx context.Context, opts Options) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}

func key(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + ":" + name
}

// PairStore keeps saved "A,B" combinations in a Redis set.
type PairStore struct {
	client *redis.Client
	key    string
}

func NewPairStore(client *redis.Client, prefix string) *PairStore {
	return &PairStore{client: client, key: key(prefix, "pairs")}
}

// List returns the saved combinations in lexical order.
func (s *PairStore) List(ctx context.Context) ([]string, error) {
	pairs, err := s.client.SMembers(ctx, s.key).Result()
	if err != nil {
		return nil, fmt.Errorf("list pairs: %w", err)
	}
	sort.Strings(pairs)
	return pairs, nil
}

func (s *PairStore) Save(ctx context.Context, combination string) error {
	if err := s.client.SAdd(ctx, s.key, combination).Err(); err != nil {
		return fmt.Errorf("save pair %s: %w", combination, err)
	}
	return nil
}

// Delete reports whether the combination was present.
func (s *PairStore) Delete(ctx context.Context, combination string) (bool, error) {
	n, err := s.client.SRem(ctx, s.key, combination).Result()
	if err != nil {
		return false, fmt.Errorf("delete pair %s: %w", combination, err)
	}
	return n > 0, nil
}

// AuditLog appends position events as JSON to a capped Redis list, newest first.
type AuditLog struct {
	client *redis.Client
	key    string
	limit  int64
}

func NewAuditLog(client *redis.Client, prefix string, limit int) *AuditLog {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return &AuditLog{client: client, key: key(prefix, "positions:history"), limit: int64(limit)}
}

func (a *AuditLog) Record(ctx context.Context, event models.AuditEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	_, err = a.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, a.key, data)
		pipe.LTrim(ctx, a.key, 0, a.limit-1)
		return nil
	})
	if err != nil {
		return fmt.Errorf("record %s %s: %w", event.Action, event.Symbol, err)
	}
	return nil
}

// Recent returns up to n events, newest first. Undecodable entries are skipped.
func (a *AuditLog) Recent(ctx context.Context, n int) ([]models.AuditEvent, error) {
	if n <= 0 {
		return nil, nil
	}
	raw, err := a.client.LRange(ctx, a.key, 0, int64(n-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("read position history: %w", err)
	}
	events := make([]models.AuditEvent, 0, len(raw))
	for _, r := range raw {
		var e models.AuditEvent
		if err := json.Unmarshal([]byte(r), &e); err != nil {
			continue
		}
		events = append(events, e)
	}
	return events, nil
}

// LogAudit writes position events to the log when no store is configured.
type LogAudit struct {
	logger *logrus.Logger
}

func NewLogAudit(logger *logrus.Logger) *LogAudit {
	return &LogAudit{logger: logger}
}

func (l *LogAudit) Record(_ context.Context, e models.AuditEvent) error {
	l.logger.WithFields(logrus.Fields{
		"action":   e.Action,
		"symbol":   e.Symbol,
		"side":     e.Side,
		"price":    e.Price.String(),
		"quantity": e.Quantity.String(),
		"z_score":  e.ZScore,
		"reason":   e.Reason,
	}).Info("Position history")
	return nil
}
