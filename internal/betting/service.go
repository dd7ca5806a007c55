// Package betting places bets and manages markets in whichever mode the
// resolver picks.
package betting

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/stormcast/stormcast-backend/internal/amount"
	"github.com/stormcast/stormcast-backend/internal/calc"
	"github.com/stormcast/stormcast-backend/internal/markets"
	"github.com/stormcast/stormcast-backend/internal/resolver"
)

const (
	DefaultCategory      = markets.CategoryStorm
	DefaultDurationHours = 24
	DemoCreator          = "0xYour...Wallet"
)

// Ledger is the set of remote mutations.
type Ledger interface {
	CreateBet(ctx context.Context, question string, durationSeconds int64) error
	PlaceBet(ctx context.Context, betID string, side markets.Side, amount string) error
	CloseBet(ctx context.Context, betID string) error
	ResolveBet(ctx context.Context, betID string, outcome bool) error
}

// Markets resolves the mode and finds markets in it.
type Markets interface {
	Mode(override bool) (resolver.Mode, string)
	Market(ctx context.Context, id string, override bool) (markets.Market, resolver.Mode, error)
}

// Local is the local persisted storage.
type Local interface {
	Get(ctx context.Context, id string) (markets.Market, error)
	Insert(ctx context.Context, m markets.Market) error
	AddToPool(ctx context.Context, id string, side markets.Side, delta decimal.Decimal) (markets.Market, error)
	UpdateStatus(ctx context.Context, id string, status markets.Status, resolution *bool) (markets.Market, error)
	AppendBet(ctx context.Context, b markets.UserBet) error
}

// Observer is told the outcome of every submission.
type Observer interface {
	ObserveSubmission(ctx context.Context, kind, mode, outcome string)
}

type Service struct {
	ledger   Ledger
	markets  Markets
	local    Local
	seeds    *markets.SeedBook
	gate     *Gate
	logger   *zap.SugaredLogger
	observer Observer
	now      func() time.Time
}

type Option func(*Service)

func WithObserver(o Observer) Option {
	return func(s *Service) { s.observer = o }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(ledger Ledger, mk Markets, local Local, seeds *markets.SeedBook, gate *Gate, logger *zap.SugaredLogger, opts ...Option) *Service {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if gate == nil {
		gate = NewGate()
	}
	s := &Service{
		ledger:  ledger,
		markets: mk,
		local:   local,
		seeds:   seeds,
		gate:    gate,
		logger:  logger,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) Gate() *Gate {
	return s.gate
}

// Submission is the submission state of one client.
func (s *Service) Submission(client string) Submission {
	return s.gate.State(client)
}

func (s *Service) observe(ctx context.Context, kind string, mode resolver.Mode, err error) {
	if s.observer == nil {
		return
	}
	outcome := "committed"
	if err != nil {
		outcome = "failed"
	}
	s.observer.ObserveSubmission(ctx, kind, string(mode), outcome)
}

type PlaceBetRequest struct {
	ClientID string
	MarketID string
	Side     string
	Amount   string
	Override bool
}

type PlaceBetResult struct {
	Mode resolver.Mode
	Bet  markets.UserBet
	// Market is the market after a demo pool update; in live mode it is the
	// market as read before the mutation.
	Market markets.Market
	// HistoryRecorded is false when a live bet committed on the ledger but
	// could not be added to the local history.
	HistoryRecorded bool
}

// PlaceBet validates the request, commits the stake in the resolved mode and
// then records it in the history. A failed ledger mutation leaves the history
// untouched and its error is returned unchanged.
func (s *Service) PlaceBet(ctx context.Context, req PlaceBetRequest) (PlaceBetResult, error) {
	side, err := markets.ParseSide(req.Side)
	if err != nil {
		return PlaceBetResult{}, err
	}
	wager, err := calc.ParseWager(req.Amount)
	if err != nil {
		return PlaceBetResult{}, err
	}

	if err := s.gate.Begin(req.ClientID); err != nil {
		return PlaceBetResult{}, err
	}

	res, err := s.placeBet(ctx, req, side, wager)
	s.observe(ctx, "bet", res.Mode, err)
	if err != nil {
		s.gate.Fail(req.ClientID, err)
		s.logger.Warnw("Bet rejected",
			"client", req.ClientID, "market", req.MarketID, "mode", res.Mode, "error", err)
		return res, err
	}
	s.gate.Commit(req.ClientID, res.Bet.ID)
	s.logger.Infow("Bet placed",
		"client", req.ClientID, "market", req.MarketID, "mode", res.Mode,
		"side", side, "amount", wager.String())
	return res, nil
}

func (s *Service) placeBet(ctx context.Context, req PlaceBetRequest, side markets.Side, wager decimal.Decimal) (PlaceBetResult, error) {
	market, mode, err := s.markets.Market(ctx, req.MarketID, req.Override)
	res := PlaceBetResult{Mode: mode}
	if err != nil {
		return res, err
	}

	bet := markets.UserBet{
		ID:             "bet_" + uuid.NewString(),
		MarketID:       market.ID,
		MarketQuestion: market.DisplayQuestion(),
		MarketCategory: market.Category,
		Side:           side,
		Amount:         wager,
		Timestamp:      s.now().UnixMilli(),
	}

	if mode == resolver.ModeLive {
		base, err := amount.ToBaseUnits(wager)
		if err != nil {
			return res, err
		}
		if err := s.ledger.PlaceBet(ctx, market.ID, side, base); err != nil {
			return res, err
		}
		bet.Source = markets.SourceRemote
		res.Bet, res.Market = bet, market
		if err := s.local.AppendBet(ctx, bet); err != nil {
			// the stake is on the ledger and cannot be taken back
			s.logger.Errorw("Failed to record committed bet", "bet", bet.ID, "market", market.ID, "error", err)
			return res, nil
		}
		res.HistoryRecorded = true
		return res, nil
	}

	// an elapsed end time does not close a market
	if market.Status != markets.StatusActive {
		return res, fmt.Errorf("%w: %s is %s", markets.ErrMarketClosed, market.ID, market.Status)
	}

	switch market.Source {
	case markets.SourceSeed:
		updated, ok := s.seeds.AddToPool(market.ID, side, wager)
		if !ok {
			return res, fmt.Errorf("%w: %s", markets.ErrMarketNotFound, market.ID)
		}
		market = updated
	default:
		updated, err := s.local.AddToPool(ctx, market.ID, side, wager)
		if err != nil {
			return res, err
		}
		market = updated
	}

	bet.Source = markets.SourceLocal
	if err := s.local.AppendBet(ctx, bet); err != nil {
		return res, err
	}
	res.Bet, res.Market, res.HistoryRecorded = bet, market, true
	return res, nil
}

type CreateMarketRequest struct {
	ClientID      string
	Question      string
	Category      string
	DurationHours int
	Override      bool
}

type CreateMarketResult struct {
	Mode resolver.Mode
	// Market is set in demo mode. The ledger assigns ids itself, so live
	// creations only report success.
	Market *markets.Market
	// Question is the tagged question as submitted.
	Question string
}

func (s *Service) CreateMarket(ctx context.Context, req CreateMarketRequest) (CreateMarketResult, error) {
	question := strings.TrimSpace(req.Question)
	if question == "" {
		return CreateMarketResult{}, markets.ErrEmptyQuestion
	}

	category := DefaultCategory
	if strings.TrimSpace(req.Category) != "" {
		c, err := markets.ParseCategory(req.Category)
		if err != nil {
			return CreateMarketResult{}, err
		}
		if c == markets.CategoryAll {
			return CreateMarketResult{}, fmt.Errorf("%w: %q", markets.ErrInvalidCategory, req.Category)
		}
		category = c
	}

	hours := req.DurationHours
	if hours == 0 {
		hours = DefaultDurationHours
	}
	if err := calc.ValidateDurationHours(hours); err != nil {
		return CreateMarketResult{}, err
	}

	if err := s.gate.Begin(req.ClientID); err != nil {
		return CreateMarketResult{}, err
	}

	tagged := markets.TagQuestion(category, question)
	mode, _ := s.markets.Mode(req.Override)
	res := CreateMarketResult{Mode: mode, Question: tagged}

	var err error
	if mode == resolver.ModeLive {
		err = s.ledger.CreateBet(ctx, tagged, int64(hours)*3600)
	} else {
		var m markets.Market
		m, err = s.insertDemoMarket(ctx, tagged, category, hours)
		if err == nil {
			res.Market = &m
		}
	}

	s.observe(ctx, "create", mode, err)
	if err != nil {
		s.gate.Fail(req.ClientID, err)
		s.logger.Warnw("Market creation failed", "client", req.ClientID, "mode", mode, "error", err)
		return res, err
	}
	s.gate.Commit(req.ClientID, "")
	s.logger.Infow("Market created", "client", req.ClientID, "mode", mode, "question", tagged)
	return res, nil
}

func (s *Service) insertDemoMarket(ctx context.Context, question string, category markets.Category, hours int) (markets.Market, error) {
	now := s.now().UnixMilli()
	m := markets.Market{
		Question:  question,
		Category:  category,
		Creator:   DemoCreator,
		YesPool:   decimal.Zero,
		NoPool:    decimal.Zero,
		Status:    markets.StatusActive,
		EndTime:   now + int64(hours)*int64(time.Hour/time.Millisecond),
		CreatedAt: now,
		Source:    markets.SourceLocal,
	}

	// ids are millisecond based; step forward on a collision
	var err error
	for i := int64(0); i < 5; i++ {
		m.ID = fmt.Sprintf("demo_%d", now+i)
		if err = s.local.Insert(ctx, m); err == nil {
			return m, nil
		}
	}
	return markets.Market{}, err
}

// CloseMarket stops a market from accepting bets.
func (s *Service) CloseMarket(ctx context.Context, id string, override bool) (resolver.Mode, error) {
	mode, _ := s.markets.Mode(override)
	if mode == resolver.ModeLive {
		return mode, s.ledger.CloseBet(ctx, id)
	}

	m, err := s.demoLocalMarket(ctx, id)
	if err != nil {
		return mode, err
	}
	if m.Status != markets.StatusActive {
		return mode, fmt.Errorf("%w: cannot close a %s market", markets.ErrInvalidTransition, m.Status)
	}
	_, err = s.local.UpdateStatus(ctx, id, markets.StatusExpired, nil)
	return mode, err
}

// ResolveMarket settles a closed market with outcome.
func (s *Service) ResolveMarket(ctx context.Context, id string, outcome bool, override bool) (resolver.Mode, error) {
	mode, _ := s.markets.Mode(override)
	if mode == resolver.ModeLive {
		return mode, s.ledger.ResolveBet(ctx, id, outcome)
	}

	m, err := s.demoLocalMarket(ctx, id)
	if err != nil {
		return mode, err
	}
	if m.Status != markets.StatusExpired || m.Resolution != nil {
		return mode, fmt.Errorf("%w: only closed, unresolved markets can be resolved", markets.ErrInvalidTransition)
	}
	_, err = s.local.UpdateStatus(ctx, id, markets.StatusResolved, &outcome)
	return mode, err
}

func (s *Service) demoLocalMarket(ctx context.Context, id string) (markets.Market, error) {
	if _, ok := s.seeds.Get(id); ok {
		return markets.Market{}, markets.ErrReadOnlyMarket
	}
	m, err := s.local.Get(ctx, id)
	if err != nil {
		return markets.Market{}, err
	}
	return m, nil
}

// IsUserError reports errors caused by the request rather than the system.
func IsUserError(err error) bool {
	for _, target := range []error{
		markets.ErrInvalidAmount,
		markets.ErrMissingSelection,
		markets.ErrEmptyQuestion,
		markets.ErrInvalidCategory,
		markets.ErrInvalidDuration,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
