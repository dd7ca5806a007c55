package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/stormcast/stormcast-backend/internal/betting"
	"github.com/stormcast/stormcast-backend/internal/calc"
	"github.com/stormcast/stormcast-backend/internal/markets"
	"github.com/stormcast/stormcast-backend/internal/resolver"
	"github.com/stormcast/stormcast-backend/internal/ws"
)

const (
	HeaderClientID = "X-Client-ID"
	HeaderDemo     = "X-Stormcast-Demo"

	anonymousClient = "anonymous"
	maxClientID     = 128
	maxBodyBytes    = 1 << 20
)

// MetricsInterface defines the interface for metrics recording
type MetricsInterface interface {
	RecordHTTPRequest(ctx context.Context, method, path string, status int, duration time.Duration)
}

// MarketViews resolves the mode and reads markets in it.
type MarketViews interface {
	View(ctx context.Context, override bool) (resolver.View, error)
	Market(ctx context.Context, id string, override bool) (markets.Market, resolver.Mode, error)
	Status(override bool) resolver.Status
	LedgerHistory(ctx context.Context) ([]markets.UserBet, error)
}

// Submissions are the write paths.
type Submissions interface {
	PlaceBet(ctx context.Context, req betting.PlaceBetRequest) (betting.PlaceBetResult, error)
	CreateMarket(ctx context.Context, req betting.CreateMarketRequest) (betting.CreateMarketResult, error)
	CloseMarket(ctx context.Context, id string, override bool) (resolver.Mode, error)
	ResolveMarket(ctx context.Context, id string, outcome bool, override bool) (resolver.Mode, error)
	Submission(client string) betting.Submission
}

// BetHistory is the local bet history store.
type BetHistory interface {
	History(ctx context.Context) ([]markets.UserBet, error)
	ClearHistory(ctx context.Context) error
	Ping(ctx context.Context) error
}

// ServiceInfo is the public ledger configuration.
type ServiceInfo struct {
	ServiceURL   string
	ChainID      string
	AppID        string
	Configured   bool
	ProbeSkipped bool
}

type Handler struct {
	views          MarketViews
	submissions    Submissions
	history        BetHistory
	wsHub          *ws.Hub
	info           ServiceInfo
	marketInterval time.Duration
	logger         *zap.SugaredLogger
	now            func() time.Time
}

func NewHandler(
	views MarketViews,
	submissions Submissions,
	history BetHistory,
	wsHub *ws.Hub,
	info ServiceInfo,
	marketInterval time.Duration,
	logger *zap.SugaredLogger,
) *Handler {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Handler{
		views:          views,
		submissions:    submissions,
		history:        history,
		wsHub:          wsHub,
		info:           info,
		marketInterval: marketInterval,
		logger:         logger,
		now:            time.Now,
	}
}

// clientID scopes the submission gate to the caller.
func clientID(r *http.Request) string {
	id := strings.TrimSpace(r.Header.Get(HeaderClientID))
	if id == "" {
		return anonymousClient
	}
	if len(id) > maxClientID {
		id = id[:maxClientID]
	}
	return id
}

// demoOverride reads the per-request demo switch from ?demo= or the header.
func demoOverride(r *http.Request) bool {
	if v := r.URL.Query().Get("demo"); v != "" {
		b, ok := parseBool(v)
		return ok && b
	}
	if v := strings.TrimSpace(r.Header.Get(HeaderDemo)); v != "" {
		b, ok := parseBool(v)
		return ok && b
	}
	return false
}

func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// Readyz reports ready once the local store answers.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := h.history.Ping(ctx); err != nil {
		h.logger.Warnw("Readiness check failed", "error", err)
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("NOT READY"))
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("READY"))
}

func (h *Handler) GetConfig(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, ConfigDTO{
		ServiceURL:   h.info.ServiceURL,
		ChainID:      h.info.ChainID,
		AppID:        h.info.AppID,
		Configured:   h.info.Configured,
		ProbeSkipped: h.info.ProbeSkipped,
	})
}

func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, toStatusDTO(h.views.Status(demoOverride(r))))
}

func (h *Handler) ListMarkets(w http.ResponseWriter, r *http.Request) {
	category := markets.CategoryAll
	if raw := r.URL.Query().Get("category"); raw != "" {
		c, err := markets.ParseCategory(raw)
		if err != nil {
			h.writeAppError(w, r, err)
			return
		}
		category = c
	}

	view, err := h.views.View(r.Context(), demoOverride(r))
	if err != nil {
		h.writeAppError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toListResponse(view, category, h.now()))
}

func (h *Handler) GetMarket(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	m, mode, err := h.views.Market(r.Context(), id, demoOverride(r))
	if err != nil {
		h.writeAppError(w, r, err)
		return
	}

	resp := MarketDetailResponse{Mode: string(mode), Market: toMarketDTO(m, h.now())}

	q := r.URL.Query()
	if q.Get("amount") != "" || q.Get("side") != "" {
		side, err := markets.ParseSide(q.Get("side"))
		if err != nil {
			h.writeAppError(w, r, err)
			return
		}
		stake, err := calc.ParseWager(q.Get("amount"))
		if err != nil {
			h.writeAppError(w, r, err)
			return
		}
		resp.Quote = toQuoteDTO(m, side, stake)
	}

	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) CreateMarket(w http.ResponseWriter, r *http.Request) {
	var req CreateMarketRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}

	res, err := h.submissions.CreateMarket(r.Context(), betting.CreateMarketRequest{
		ClientID:      clientID(r),
		Question:      req.Question,
		Category:      req.Category,
		DurationHours: req.DurationHours,
		Override:      demoOverride(r),
	})
	if err != nil {
		h.writeAppError(w, r, err)
		return
	}

	resp := CreateMarketResponse{Mode: string(res.Mode), Question: res.Question}
	if res.Market != nil {
		dto := toMarketDTO(*res.Market, h.now())
		resp.Market = &dto
	}
	h.publishMarkets(r.Context())
	h.writeJSON(w, http.StatusCreated, resp)
}

func (h *Handler) PlaceBet(w http.ResponseWriter, r *http.Request) {
	var req PlaceBetRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}

	res, err := h.submissions.PlaceBet(r.Context(), betting.PlaceBetRequest{
		ClientID: clientID(r),
		MarketID: chi.URLParam(r, "id"),
		Side:     string(req.Side),
		Amount:   string(req.Amount),
		Override: demoOverride(r),
	})
	if err != nil {
		h.writeAppError(w, r, err)
		return
	}

	h.publishMarkets(r.Context())
	h.writeJSON(w, http.StatusCreated, PlaceBetResponse{
		Mode:            string(res.Mode),
		Bet:             toBetDTO(res.Bet),
		Market:          toMarketDTO(res.Market, h.now()),
		HistoryRecorded: res.HistoryRecorded,
	})
}

func (h *Handler) CloseMarket(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	mode, err := h.submissions.CloseMarket(r.Context(), id, demoOverride(r))
	if err != nil {
		h.writeAppError(w, r, err)
		return
	}
	h.publishMarkets(r.Context())
	h.writeJSON(w, http.StatusOK, ActionResponse{Mode: string(mode), ID: id, Action: "close"})
}

func (h *Handler) ResolveMarket(w http.ResponseWriter, r *http.Request) {
	var req ResolveMarketRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	if req.Outcome == nil {
		h.writeAppError(w, r, fmt.Errorf("%w: outcome is required", markets.ErrMissingSelection))
		return
	}
	outcome, ok := parseBool(string(*req.Outcome))
	if !ok {
		h.writeAppError(w, r, fmt.Errorf("%w: outcome must be yes or no", markets.ErrMissingSelection))
		return
	}

	id := chi.URLParam(r, "id")
	mode, err := h.submissions.ResolveMarket(r.Context(), id, outcome, demoOverride(r))
	if err != nil {
		h.writeAppError(w, r, err)
		return
	}
	h.publishMarkets(r.Context())
	h.writeJSON(w, http.StatusOK, ActionResponse{Mode: string(mode), ID: id, Action: "resolve"})
}

func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	bets, err := h.history.History(r.Context())
	if err != nil {
		h.writeAppError(w, r, err)
		return
	}
	stats := calc.SummarizeHistory(bets)
	h.writeJSON(w, http.StatusOK, HistoryResponse{
		Bets: toBetDTOs(bets),
		Stats: HistoryStatsDTO{
			TotalBets:    stats.TotalBets,
			TotalWagered: stats.TotalWagered.String(),
			YesBets:      stats.YesBets,
			NoBets:       stats.NoBets,
		},
	})
}

func (h *Handler) ClearHistory(w http.ResponseWriter, r *http.Request) {
	if err := h.history.ClearHistory(r.Context()); err != nil {
		h.writeAppError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) GetSubmission(w http.ResponseWriter, r *http.Request) {
	client := clientID(r)
	h.writeJSON(w, http.StatusOK, toSubmissionDTO(client, h.submissions.Submission(client)))
}

func (h *Handler) GetLedgerUserBets(w http.ResponseWriter, r *http.Request) {
	bets, err := h.views.LedgerHistory(r.Context())
	if err != nil {
		h.writeAppError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, LedgerBetsResponse{Bets: toBetDTOs(bets)})
}

// WebSocket endpoint
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	h.wsHub.HandleWebSocket(w, r)
}

// SSE endpoint
func (h *Handler) HandleSSE(w http.ResponseWriter, r *http.Request) {
	h.wsHub.HandleSSE(w, r)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

// Utility methods
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, code, message string) {
	if status >= http.StatusInternalServerError {
		h.logger.Errorw("API error", "code", code, "message", message, "status", status)
	} else {
		h.logger.Debugw("API error", "code", code, "message", message, "status", status)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	err := ErrorResponse{
		Code:    code,
		Message: message,
	}
	json.NewEncoder(w).Encode(err)
}

// writeAppError writes err with the status its kind maps to. The message is
// err's text unchanged.
func (h *Handler) writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := errorStatus(err)
	if errors.Is(err, context.DeadlineExceeded) && status == http.StatusInternalServerError {
		status, code = http.StatusGatewayTimeout, "TIMEOUT"
	}
	h.writeError(w, status, code, err.Error())
}
