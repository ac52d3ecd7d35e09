// Package api is the HTTP surface of the execution core. Read endpoints
// are open; operator actions require the admin token.
package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"amarktai_core/internal/bot"
	"amarktai_core/internal/domain"
	"amarktai_core/internal/ledger"
	"amarktai_core/internal/pipeline"
	"amarktai_core/internal/quarantine"
	"amarktai_core/internal/risk"
	"amarktai_core/internal/storage"
	"amarktai_core/pkg/quant"

	"github.com/google/uuid"
)

// Server holds the handler dependencies.
type Server struct {
	pipeline   *pipeline.Pipeline
	engine     *ledger.Engine
	registry   *bot.Registry
	breakers   *risk.Set
	manager    *quarantine.Manager
	store      *storage.LedgerStore
	adminToken string
}

// NewServer wires the API server.
func NewServer(p *pipeline.Pipeline, e *ledger.Engine, r *bot.Registry,
	b *risk.Set, m *quarantine.Manager, s *storage.LedgerStore, adminToken string) *Server {
	return &Server{
		pipeline:   p,
		engine:     e,
		registry:   r,
		breakers:   b,
		manager:    m,
		store:      s,
		adminToken: adminToken,
	}
}

// Routes registers all endpoints on a fresh mux.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/orders", s.handleSubmitOrder)
	mux.HandleFunc("POST /api/v1/bots", s.handleCreateBot)
	mux.HandleFunc("GET /api/v1/bots", s.handleListBots)
	mux.HandleFunc("GET /api/v1/bots/{id}/portfolio", s.handlePortfolio)
	mux.HandleFunc("GET /api/v1/bots/{id}/profit-series", s.handleProfitSeries)
	mux.HandleFunc("GET /api/v1/bots/{id}/breaker", s.handleBreakerStatus)
	mux.HandleFunc("POST /api/v1/bots/{id}/breaker/reset", s.admin(s.handleBreakerReset))
	mux.HandleFunc("GET /api/v1/bots/{id}/quarantine", s.handleQuarantineStatus)
	mux.HandleFunc("POST /api/v1/bots/{id}/quarantine/resume", s.admin(s.handleForceResume))
	return mux
}

// admin gates operator actions behind the token header.
func (s *Server) admin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.adminToken == "" || r.Header.Get("X-Admin-Token") != s.adminToken {
			writeError(w, http.StatusUnauthorized, fmt.Errorf("admin token required"))
			return
		}
		next(w, r)
	}
}

func (s *Server) handleSubmitOrder(w http.ResponseWriter, r *http.Request) {
	var intent domain.OrderIntent
	if err := json.NewDecoder(r.Body).Decode(&intent); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid order payload: %w", err))
		return
	}
	if intent.IdempotencyKey == "" {
		intent.IdempotencyKey = r.Header.Get("X-Idempotency-Key")
	}

	res := s.pipeline.Submit(r.Context(), intent)
	code := http.StatusOK
	switch res.Status {
	case pipeline.StatusRejected:
		code = http.StatusUnprocessableEntity
	case pipeline.StatusFatal:
		code = http.StatusInternalServerError
	}
	writeJSON(w, code, res)
}

type createBotRequest struct {
	UserID         string  `json:"user_id"`
	Name           string  `json:"name"`
	Exchange       string  `json:"exchange"`
	Symbol         string  `json:"symbol"`
	Strategy       string  `json:"strategy"`
	InitialCapital float64 `json:"initial_capital"`
	TimeZone       string  `json:"timezone"`
}

func (s *Server) handleCreateBot(w http.ResponseWriter, r *http.Request) {
	var req createBotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	// New bots always start on paper. Promotion to live is a separate,
	// latched operation.
	b := &domain.Bot{
		UserID:               req.UserID,
		Name:                 req.Name,
		Exchange:             req.Exchange,
		Symbol:               req.Symbol,
		Mode:                 domain.ModePaper,
		Strategy:             req.Strategy,
		InitialCapitalMicros: int64(quant.ToPriceMicros(req.InitialCapital)),
		TimeZone:             req.TimeZone,
	}
	if err := s.registry.Register(r.Context(), b); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	loc, err := b.Location()
	if err != nil {
		loc = time.UTC
	}
	s.engine.RegisterBot(b.ID, loc)

	if b.InitialCapitalMicros > 0 {
		funding := &domain.LedgerEvent{
			ID:           uuid.NewString(),
			BotID:        b.ID,
			Kind:         domain.EventFunding,
			AmountMicros: b.InitialCapitalMicros,
			Currency:     "USDT",
			Ts:           quant.Now(),
			Reason:       "initial capital",
		}
		if err := s.store.AppendEvent(r.Context(), funding); err != nil {
			slog.Error("INITIAL_FUNDING_FAILED", slog.String("bot_id", b.ID), slog.Any("error", err))
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		s.engine.ApplyEvent(funding)
	}

	writeJSON(w, http.StatusCreated, b)
}

func (s *Server) handleListBots(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.registry.List())
}

type portfolioResponse struct {
	Bot        domain.Bot         `json:"bot"`
	Equity     domain.EquityState `json:"equity"`
	DailyUsage int                `json:"daily_trades_used"`
}

func (s *Server) handlePortfolio(w http.ResponseWriter, r *http.Request) {
	botID := r.PathValue("id")
	b, err := s.registry.Get(botID)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	loc, err := b.Location()
	if err != nil {
		loc = time.UTC
	}
	writeJSON(w, http.StatusOK, portfolioResponse{
		Bot:        b,
		Equity:     s.engine.Equity(botID),
		DailyUsage: s.pipeline.DailyUsage(botID, loc),
	})
}

func (s *Server) handleProfitSeries(w http.ResponseWriter, r *http.Request) {
	botID := r.PathValue("id")
	if _, err := s.registry.Get(botID); err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}

	period := ledger.Period(r.URL.Query().Get("period"))
	if period == "" {
		period = ledger.PeriodDay
	}
	limit := 30
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid limit %q", v))
			return
		}
		limit = n
	}

	series, err := s.engine.ProfitSeries(r.Context(), botID, period, limit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, series)
}

func (s *Server) handleBreakerStatus(w http.ResponseWriter, r *http.Request) {
	botID := r.PathValue("id")
	if _, err := s.registry.Get(botID); err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	state := s.breakers.Status(botID)

	trips, err := s.store.LoadTrips(r.Context(), botID, 20)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"breaker": state,
		"history": trips,
	})
}

func (s *Server) handleBreakerReset(w http.ResponseWriter, r *http.Request) {
	botID := r.PathValue("id")
	if _, err := s.registry.Get(botID); err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	by := r.Header.Get("X-Operator")
	if by == "" {
		by = "admin"
	}
	s.breakers.Reset(r.Context(), botID, s.engine.Equity(botID), by, time.Now())
	writeJSON(w, http.StatusOK, s.breakers.Status(botID))
}

func (s *Server) handleQuarantineStatus(w http.ResponseWriter, r *http.Request) {
	q, err := s.manager.Status(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

func (s *Server) handleForceResume(w http.ResponseWriter, r *http.Request) {
	botID := r.PathValue("id")
	by := r.Header.Get("X-Operator")
	if by == "" {
		by = "admin"
	}
	if err := s.manager.ForceResume(r.Context(), botID, by); err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	q, _ := s.manager.Status(botID)
	writeJSON(w, http.StatusOK, q)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("RESPONSE_ENCODE_FAILED", slog.Any("error", err))
	}
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
