package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const (
	ProductionURL = "https://fapi.binance.com"
	TestnetURL    = "https://testnet.binancefuture.com"
)

type Config struct {
	APIKey            string
	SecretKey         string
	BaseURL           string
	Testnet           bool
	ConnectTimeout    time.Duration
	ReadTimeout       time.Duration
	RequestsPerSecond float64
}

// Client is a REST client for the USDT-M futures API. It is safe for concurrent use.
type Client struct {
	signer     *Signer
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *logrus.Logger
}

func NewClient(cfg Config, logger *logrus.Logger) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = ProductionURL
		if cfg.Testnet {
			baseURL = TestnetURL
		}
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = (&net.Dialer{Timeout: cfg.ConnectTimeout}).DialContext

	return &Client{
		signer:  NewSigner(cfg.APIKey, cfg.SecretKey),
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout:   cfg.ConnectTimeout + cfg.ReadTimeout,
			Transport: transport,
		},
		limiter: rate.NewLimiter(limit, 10),
		logger:  logger,
	}
}

// ReloadCredentials swaps the key pair used for subsequent requests.
func (c *Client) ReloadCredentials(apiKey, secretKey string) {
	c.signer.Reload(apiKey, secretKey)
	c.logger.Info("Exchange credentials reloaded")
}

// HasCredentials reports whether signed endpoints can be called.
func (c *Client) HasCredentials() bool {
	return c.signer.HasCredentials()
}

func (c *Client) BaseURL() string {
	return c.baseURL
}

func (c *Client) doRequest(ctx context.Context, method, path string, params *Params, signed bool) ([]byte, error) {
	query := params.Encode()
	if signed {
		var err error
		query, err = c.signer.SignedQuery(params)
		if err != nil {
			return nil, err
		}
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	url := c.baseURL + path
	var body io.Reader
	switch method {
	case http.MethodGet, http.MethodDelete:
		if query != "" {
			url += "?" + query
		}
	case http.MethodPost:
		body = strings.NewReader(query)
	default:
		return nil, fmt.Errorf("unsupported http method %s", method)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, err
	}
	if method == http.MethodPost {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if key := c.signer.APIKey(); key != "" {
		req.Header.Set(apiKeyHeader, key)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &APIError{StatusCode: resp.StatusCode, Body: err.Error()}
	}
	if resp.StatusCode != http.StatusOK {
		c.logger.WithFields(logrus.Fields{
			"method": method,
			"path":   path,
			"status": resp.StatusCode,
		}).Error("Exchange request failed")
		return nil, newAPIError(resp.StatusCode, data)
	}
	return data, nil
}

func (c *Client) call(ctx context.Context, method, path string, params *Params, signed bool, out interface{}) error {
	data, err := c.doRequest(ctx, method, path, params, signed)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &APIError{StatusCode: http.StatusOK, Body: string(data), Message: "decode response: " + err.Error()}
	}
	return nil
}
