package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/gregtusar/pairs/internal/config"
	"github.com/gregtusar/pairs/pkg/binance"
	"github.com/gregtusar/pairs/pkg/models"
	"github.com/gregtusar/pairs/pkg/trader"
	"github.com/sirupsen/logrus"
)

// Pipeline is the live side of the trader the API drives.
type Pipeline interface {
	RunOnce(ctx context.Context) (*models.Decision, error)
	LastDecision() *models.Decision
	SignalReport(ctx context.Context) (string, error)
	Snapshot(ctx context.Context, asset1, asset2 string) (*models.SpreadModel, models.PairConfig, error)
	SetWindowSize(size int) (int, error)
}

type Backtests interface {
	BacktestPair(ctx context.Context, asset1, asset2 string, days int, interval string) (*models.BacktestResult, error)
	Batch(ctx context.Context, combinations []string, days int, interval string) (map[string]*models.BacktestResult, error)
	BacktestAllSaved(ctx context.Context, days int, interval string) (map[string]*models.BacktestResult, error)
	ZScoreChart(ctx context.Context, asset1, asset2 string) (string, error)
	SpreadChart(ctx context.Context, asset1, asset2 string) (string, error)
}

type Pairs interface {
	List(ctx context.Context) ([]string, error)
	Save(ctx context.Context, combination string) error
	Delete(ctx context.Context, combination string) (bool, error)
	TradingSymbols(ctx context.Context) ([]string, error)
}

// Settings is the editable trading configuration.
type Settings interface {
	Settings() map[string]interface{}
	Set(key string, value interface{}) error
}

// History reads recorded position events, newest first.
type History interface {
	Recent(ctx context.Context, n int) ([]models.AuditEvent, error)
}

type Options struct {
	Pipeline  Pipeline
	Backtests Backtests
	Pairs     Pairs
	Settings  Settings
	History   History
	Metrics   http.Handler
	JWTSecret string
	Logger    *logrus.Logger
	Port      string
}

type Server struct {
	pipeline  Pipeline
	backtests Backtests
	pairs     Pairs
	settings  Settings
	history   History
	metrics   http.Handler
	auth      *authenticator
	validate  *validator.Validate
	logger    *logrus.Logger
	port      string
	http      *http.Server
}

func NewServer(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Server{
		pipeline:  opts.Pipeline,
		backtests: opts.Backtests,
		pairs:     opts.Pairs,
		settings:  opts.Settings,
		history:   opts.History,
		metrics:   opts.Metrics,
		auth:      newAuthenticator(opts.JWTSecret),
		validate:  validator.New(),
		logger:    logger,
		port:      opts.Port,
	}
}

// Handler builds the routed, authenticated handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/health", s.handleHealth)
	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics)
	}

	mux.HandleFunc("/api/trigger", s.handleTrigger)
	mux.HandleFunc("/api/decision", s.handleDecision)
	mux.HandleFunc("/api/signal", s.handleSignal)
	mux.HandleFunc("/api/spread", s.handleSpread)
	mux.HandleFunc("/api/charts/zscore", s.handleZScoreChart)
	mux.HandleFunc("/api/charts/spread", s.handleSpreadChart)
	mux.HandleFunc("/api/backtest", s.handleBacktest)
	mux.HandleFunc("/api/backtest/batch", s.handleBatch)
	mux.HandleFunc("/api/backtest/saved", s.handleBacktestSaved)
	mux.HandleFunc("/api/config", s.handleConfig)
	mux.HandleFunc("/api/config/window", s.handleWindow)
	mux.HandleFunc("/api/pairs", s.handlePairs)
	mux.HandleFunc("/api/symbols", s.handleSymbols)
	mux.HandleFunc("/api/positions/history", s.handleHistory)

	return corsMiddleware(s.auth.middleware(mux, s.logger))
}

func (s *Server) Start() error {
	if !s.auth.enabled() {
		s.logger.Warn("API authentication disabled: no JWT secret configured")
	}
	s.http = &http.Server{
		Addr:              ":" + s.port,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Infof("Starting API server on port %s", s.port)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// bind decodes a JSON body, fills `default` tags and validates the result.
func (s *Server) bind(r *http.Request, dst interface{}) error {
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
			return badRequest(err)
		}
	}
	if err := defaults.Set(dst); err != nil {
		return err
	}
	if err := s.validate.Struct(dst); err != nil {
		return badRequest(err)
	}
	return nil
}

type requestError struct{ err error }

func (e requestError) Error() string { return e.err.Error() }
func (e requestError) Unwrap() error { return e.err }

func badRequest(err error) error { return requestError{err: err} }

func statusFor(err error) int {
	var reqErr requestError
	var apiErr *binance.APIError
	switch {
	case errors.As(err, &reqErr),
		errors.Is(err, config.ErrInvalidPairConfig),
		errors.Is(err, trader.ErrInvalidCombination):
		return http.StatusBadRequest
	case errors.Is(err, trader.ErrInsufficientData):
		return http.StatusUnprocessableEntity
	case errors.Is(err, binance.ErrMissingCredentials):
		return http.StatusServiceUnavailable
	case errors.As(err, &apiErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.WithError(err).Error("API request failed")
	}
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.WithError(err).Error("Failed to encode JSON response")
	}
}

func methodNotAllowed(w http.ResponseWriter) {
	http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
}
