package binance

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
)

const apiKeyHeader = "X-MBX-APIKEY"

// Params keeps query parameters in insertion order; the exchange verifies the
// signature over the exact string, so ordering must be stable.
type Params struct {
	keys   []string
	values []string
}

func NewParams() *Params {
	return &Params{}
}

func (p *Params) Set(key string, value interface{}) *Params {
	var s string
	switch v := value.(type) {
	case string:
		s = v
	case int:
		s = strconv.Itoa(v)
	case int64:
		s = strconv.FormatInt(v, 10)
	case float64:
		s = strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		s = strconv.FormatBool(v)
	case interface{ String() string }:
		s = v.String()
	default:
		s = fmt.Sprint(v)
	}
	for i, k := range p.keys {
		if k == key {
			p.values[i] = s
			return p
		}
	}
	p.keys = append(p.keys, key)
	p.values = append(p.values, s)
	return p
}

func (p *Params) Len() int {
	if p == nil {
		return 0
	}
	return len(p.keys)
}

// Encode joins key=value pairs with & without escaping, matching the signed payload.
func (p *Params) Encode() string {
	if p == nil {
		return ""
	}
	var b strings.Builder
	for i, k := range p.keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(p.values[i])
	}
	return b.String()
}

// Signer holds the credential pair and produces hex HMAC-SHA256 signatures.
type Signer struct {
	mu        sync.RWMutex
	apiKey    string
	apiSecret string
	now       func() time.Time
}

func NewSigner(apiKey, apiSecret string) *Signer {
	return &Signer{apiKey: apiKey, apiSecret: apiSecret, now: time.Now}
}

func (s *Signer) Reload(apiKey, apiSecret string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.apiKey = apiKey
	s.apiSecret = apiSecret
}

func (s *Signer) APIKey() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.apiKey
}

func (s *Signer) HasCredentials() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.apiKey != "" && s.apiSecret != ""
}

func (s *Signer) Sign(payload string) string {
	s.mu.RLock()
	secret := s.apiSecret
	s.mu.RUnlock()
	return computeHMAC(payload, secret)
}

// SignedQuery appends timestamp and then signature as the final two parameters.
func (s *Signer) SignedQuery(params *Params) (string, error) {
	if !s.HasCredentials() {
		return "", ErrMissingCredentials
	}
	query := params.Encode()
	if query != "" {
		query += "&"
	}
	query += "timestamp=" + strconv.FormatInt(s.now().UnixMilli(), 10)
	return query + "&signature=" + s.Sign(query), nil
}

func computeHMAC(message, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(message))
	return hex.EncodeToString(h.Sum(nil))
}
