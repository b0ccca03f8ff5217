package api

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gregtusar/pairs/pkg/models"
	"github.com/gregtusar/pairs/pkg/trader"
)

const defaultHistoryLimit = 100

// num renders NaN and infinities as JSON null.
func num(f float64) *float64 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return &f
}

func nums(fs []float64) []*float64 {
	out := make([]*float64, len(fs))
	for i, f := range fs {
		out[i] = num(f)
	}
	return out
}

type decisionResponse struct {
	Signal       models.Signal   `json:"signal"`
	Reason       string          `json:"reason"`
	Pair         string          `json:"pair,omitempty"`
	ZScore       *float64        `json:"z_score,omitempty"`
	Correlation  *float64        `json:"correlation,omitempty"`
	IsStationary bool            `json:"is_stationary"`
	Legs         models.LegState `json:"legs"`
	EvaluatedAt  time.Time       `json:"evaluated_at"`
}

func newDecisionResponse(d *models.Decision) decisionResponse {
	resp := decisionResponse{
		Signal:      d.Signal,
		Reason:      d.Reason,
		Legs:        d.Legs,
		EvaluatedAt: d.EvaluatedAt,
	}
	if m := d.Model; m != nil {
		resp.Pair = m.Asset1 + "," + m.Asset2
		resp.ZScore = num(m.ZScore)
		resp.Correlation = num(m.Correlation)
		resp.IsStationary = m.IsStationary
	}
	return resp
}

type seriesResponse struct {
	Asset1       string      `json:"asset1"`
	Asset2       string      `json:"asset2"`
	Correlation  *float64    `json:"correlation"`
	Alpha        *float64    `json:"alpha"`
	Beta         *float64    `json:"beta"`
	Spread       *float64    `json:"spread"`
	SpreadMean   *float64    `json:"spread_mean"`
	SpreadStd    *float64    `json:"spread_std"`
	ZScore       *float64    `json:"z_score"`
	IsStationary bool        `json:"is_stationary"`
	Entry        float64     `json:"entry_threshold"`
	Exit         float64     `json:"exit_threshold"`
	Times        []time.Time `json:"times"`
	Spreads      []*float64  `json:"spreads"`
	ZScores      []*float64  `json:"z_scores"`
}

type backtestResponse struct {
	ID             string        `json:"id"`
	Asset1         string        `json:"asset1"`
	Asset2         string        `json:"asset2"`
	Interval       string        `json:"interval"`
	Days           int           `json:"days"`
	Bars           int           `json:"bars"`
	Correlation    *float64      `json:"correlation"`
	Alpha          *float64      `json:"alpha"`
	Beta           *float64      `json:"beta"`
	SpreadMean     *float64      `json:"spread_mean"`
	SpreadStd      *float64      `json:"spread_std"`
	ZScore         *float64      `json:"z_score"`
	LastPrice1     string        `json:"last_price1"`
	LastPrice2     string        `json:"last_price2"`
	Signal         models.Signal `json:"signal"`
	SignalStrength string        `json:"signal_strength"`
	IsStationary   bool          `json:"is_stationary"`
	ArbitrageCount int           `json:"arbitrage_count"`
	Liquidations   int           `json:"liquidations"`
	Report         string        `json:"report,omitempty"`
	ZScoreChart    string        `json:"zscore_chart,omitempty"`
	SpreadChart    string        `json:"spread_chart,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
}

func newBacktestResponse(r *models.BacktestResult, full bool) backtestResponse {
	resp := backtestResponse{
		ID:             r.ID,
		Asset1:         r.Asset1,
		Asset2:         r.Asset2,
		Interval:       r.Interval,
		Days:           r.Days,
		Bars:           r.Bars,
		Correlation:    num(r.Correlation),
		Alpha:          num(r.Alpha),
		Beta:           num(r.Beta),
		SpreadMean:     num(r.SpreadMean),
		SpreadStd:      num(r.SpreadStd),
		ZScore:         num(r.ZScore),
		LastPrice1:     r.LastPrice1.String(),
		LastPrice2:     r.LastPrice2.String(),
		Signal:         r.Signal,
		SignalStrength: r.SignalStrength,
		IsStationary:   r.IsStationary,
		ArbitrageCount: r.ArbitrageCount,
		Liquidations:   r.Liquidations,
		CreatedAt:      r.CreatedAt,
	}
	if full {
		resp.Report = r.Report
		resp.ZScoreChart = r.ZScoreChart
		resp.SpreadChart = r.SpreadChart
	}
	return resp
}

func newBatchResponse(results map[string]*models.BacktestResult) []backtestResponse {
	keys := make([]string, 0, len(results))
	for k := range results {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]backtestResponse, 0, len(keys))
	for _, k := range keys {
		out = append(out, newBacktestResponse(results[k], false))
	}
	return out
}

type backtestRequest struct {
	Asset1   string `json:"asset1" validate:"required"`
	Asset2   string `json:"asset2" validate:"required,nefield=Asset1"`
	Days     int    `json:"days" default:"30" validate:"gte=0,lte=3650"`
	Interval string `json:"interval" default:"1h"`
}

type batchRequest struct {
	Pairs    []string `json:"pairs" validate:"required,min=1,dive,required"`
	Days     int      `json:"days" default:"30" validate:"gte=0,lte=3650"`
	Interval string   `json:"interval" default:"1h"`
}

type savedRequest struct {
	Days     int    `json:"days" default:"30" validate:"gte=0,lte=3650"`
	Interval string `json:"interval" default:"1h"`
}

type windowRequest struct {
	WindowSize int `json:"window_size" validate:"required"`
}

type settingRequest struct {
	Key   string      `json:"key" validate:"required"`
	Value interface{} `json:"value"`
}

type pairRequest struct {
	Pair string `json:"pair" validate:"required"`
}

func checkInterval(interval string) error {
	if !trader.ValidInterval(interval) {
		return badRequest(fmt.Errorf("unsupported interval %q", interval))
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
	})
}

func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	// A dropped client must not abort a run that may already hold one leg.
	d, err := s.pipeline.RunOnce(context.WithoutCancel(r.Context()))
	if err != nil {
		s.writeError(w, err)
		return
	}
	if d == nil {
		s.writeJSON(w, http.StatusOK, decisionResponse{Signal: models.SignalNone})
		return
	}
	s.writeJSON(w, http.StatusOK, newDecisionResponse(d))
}

func (s *Server) handleDecision(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	d := s.pipeline.LastDecision()
	if d == nil {
		http.Error(w, "No decision yet", http.StatusNotFound)
		return
	}
	s.writeJSON(w, http.StatusOK, newDecisionResponse(d))
}

func (s *Server) handleSignal(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	report, err := s.pipeline.SignalReport(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"report": report})
}

func (s *Server) handleSpread(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	q := r.URL.Query()
	model, cfg, err := s.pipeline.Snapshot(r.Context(), strings.ToUpper(q.Get("asset1")), strings.ToUpper(q.Get("asset2")))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, seriesResponse{
		Asset1:       model.Asset1,
		Asset2:       model.Asset2,
		Correlation:  num(model.Correlation),
		Alpha:        num(model.Alpha),
		Beta:         num(model.Beta),
		Spread:       num(model.Spread),
		SpreadMean:   num(model.SpreadMean),
		SpreadStd:    num(model.SpreadStd),
		ZScore:       num(model.ZScore),
		IsStationary: model.IsStationary,
		Entry:        cfg.EntryThreshold,
		Exit:         cfg.ExitThreshold,
		Times:        model.TimeHistory,
		Spreads:      nums(model.SpreadHistory),
		ZScores:      nums(model.ZScoreHistory),
	})
}

func (s *Server) chartPair(r *http.Request) (string, string, error) {
	q := r.URL.Query()
	a1, a2 := strings.ToUpper(q.Get("asset1")), strings.ToUpper(q.Get("asset2"))
	if a1 == "" || a2 == "" {
		return "", "", badRequest(fmt.Errorf("asset1 and asset2 are required"))
	}
	return a1, a2, nil
}

func (s *Server) handleZScoreChart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	a1, a2, err := s.chartPair(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	chart, err := s.backtests.ZScoreChart(r.Context(), a1, a2)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"chart": chart})
}

func (s *Server) handleSpreadChart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	a1, a2, err := s.chartPair(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	chart, err := s.backtests.SpreadChart(r.Context(), a1, a2)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"chart": chart})
}

func (s *Server) handleBacktest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req backtestRequest
	if err := s.bind(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	if err := checkInterval(req.Interval); err != nil {
		s.writeError(w, err)
		return
	}
	res, err := s.backtests.BacktestPair(r.Context(), strings.ToUpper(req.Asset1), strings.ToUpper(req.Asset2), req.Days, req.Interval)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, newBacktestResponse(res, true))
}

func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req batchRequest
	if err := s.bind(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	if err := checkInterval(req.Interval); err != nil {
		s.writeError(w, err)
		return
	}
	results, err := s.backtests.Batch(r.Context(), req.Pairs, req.Days, req.Interval)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, newBatchResponse(results))
}

func (s *Server) handleBacktestSaved(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req savedRequest
	if err := s.bind(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	if err := checkInterval(req.Interval); err != nil {
		s.writeError(w, err)
		return
	}
	results, err := s.backtests.BacktestAllSaved(r.Context(), req.Days, req.Interval)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, newBatchResponse(results))
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	if s.settings == nil {
		http.Error(w, "Settings not available", http.StatusNotFound)
		return
	}
	switch r.Method {
	case http.MethodGet:
		s.writeJSON(w, http.StatusOK, s.settings.Settings())

	case http.MethodPut:
		var req settingRequest
		if err := s.bind(r, &req); err != nil {
			s.writeError(w, err)
			return
		}
		if req.Value == nil {
			s.writeError(w, badRequest(fmt.Errorf("value is required")))
			return
		}
		if err := s.settings.Set(req.Key, req.Value); err != nil {
			s.writeError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, s.settings.Settings())

	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleWindow(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut && r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req windowRequest
	if err := s.bind(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	applied, err := s.pipeline.SetWindowSize(req.WindowSize)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]int{"requested": req.WindowSize, "window_size": applied})
}

func (s *Server) handlePairs(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		pairs, err := s.pairs.List(r.Context())
		if err != nil {
			s.writeError(w, err)
			return
		}
		if pairs == nil {
			pairs = []string{}
		}
		s.writeJSON(w, http.StatusOK, pairs)

	case http.MethodPost:
		var req pairRequest
		if err := s.bind(r, &req); err != nil {
			s.writeError(w, err)
			return
		}
		if err := s.pairs.Save(r.Context(), strings.ToUpper(req.Pair)); err != nil {
			s.writeError(w, err)
			return
		}
		s.writeJSON(w, http.StatusCreated, map[string]string{"pair": strings.ToUpper(req.Pair)})

	case http.MethodDelete:
		pair := strings.ToUpper(r.URL.Query().Get("pair"))
		if pair == "" {
			s.writeError(w, badRequest(fmt.Errorf("pair is required")))
			return
		}
		ok, err := s.pairs.Delete(r.Context(), pair)
		if err != nil {
			s.writeError(w, err)
			return
		}
		if !ok {
			http.Error(w, "Pair not found", http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleSymbols(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	symbols, err := s.pairs.TradingSymbols(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, symbols)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	if s.history == nil {
		s.writeJSON(w, http.StatusOK, []models.AuditEvent{})
		return
	}
	limit := defaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.writeError(w, badRequest(fmt.Errorf("invalid limit %q", v)))
			return
		}
		limit = n
	}
	events, err := s.history.Recent(r.Context(), limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if events == nil {
		events = []models.AuditEvent{}
	}
	s.writeJSON(w, http.StatusOK, events)
}
