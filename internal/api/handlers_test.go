package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/stormcast/stormcast-backend/internal/betting"
	"github.com/stormcast/stormcast-backend/internal/jobs"
	"github.com/stormcast/stormcast-backend/internal/linera"
	"github.com/stormcast/stormcast-backend/internal/localstore"
	"github.com/stormcast/stormcast-backend/internal/markets"
	"github.com/stormcast/stormcast-backend/internal/resolver"
	"github.com/stormcast/stormcast-backend/pkg/kv/memory"
)

var testNow = time.UnixMilli(1_700_000_000_000)

// MockLedger stands in for the remote ledger client.
type MockLedger struct {
	mock.Mock
}

func (m *MockLedger) Configured() bool {
	return m.Called().Bool(0)
}

func (m *MockLedger) Markets(ctx context.Context) ([]markets.Market, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]markets.Market), args.Error(1)
}

func (m *MockLedger) Market(ctx context.Context, id string) (*markets.Market, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*markets.Market), args.Error(1)
}

func (m *MockLedger) UserBets(ctx context.Context) ([]linera.Stake, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]linera.Stake), args.Error(1)
}

func (m *MockLedger) CreateBet(ctx context.Context, question string, durationSeconds int64) error {
	return m.Called(ctx, question, durationSeconds).Error(0)
}

func (m *MockLedger) PlaceBet(ctx context.Context, betID string, side markets.Side, amount string) error {
	return m.Called(ctx, betID, side, amount).Error(0)
}

func (m *MockLedger) CloseBet(ctx context.Context, betID string) error {
	return m.Called(ctx, betID).Error(0)
}

func (m *MockLedger) ResolveBet(ctx context.Context, betID string, outcome bool) error {
	return m.Called(ctx, betID, outcome).Error(0)
}

type staticHealth jobs.HealthStatus

func (s staticHealth) Health() jobs.HealthStatus { return jobs.HealthStatus(s) }

type testServer struct {
	router http.Handler
	ledger *MockLedger
	repo   *localstore.Repository
}

var remoteMarket = markets.Market{
	ID:        "7",
	Question:  "[Flood] Will the Seine flood?",
	Category:  markets.CategoryFlood,
	Creator:   "0x1234ab...cdef",
	YesPool:   decimal.NewFromInt(30),
	NoPool:    decimal.NewFromInt(10),
	Status:    markets.StatusActive,
	EndTime:   testNow.Add(2 * time.Hour).UnixMilli(),
	CreatedAt: testNow.Add(-time.Hour).UnixMilli(),
	Source:    markets.SourceRemote,
}

func newTestServer(t *testing.T, live bool) *testServer {
	t.Helper()

	store := memory.New(0)
	t.Cleanup(func() { store.Close() })
	repo := localstore.New(store, nil)
	seeds := markets.NewSeedBook(func() time.Time { return testNow })

	ledger := &MockLedger{}
	ledger.On("Configured").Return(live).Maybe()
	ledger.On("Markets", mock.Anything).Return([]markets.Market{remoteMarket}, nil).Maybe()

	poller := jobs.NewMarketPoller(ledger, time.Hour, nil)
	health := staticHealth{Checked: true, Healthy: live}

	views := resolver.NewService(ledger, health, poller, repo, seeds, nil)
	bets := betting.NewService(ledger, views, repo, seeds, nil, nil,
		betting.WithClock(func() time.Time { return testNow }))

	h := NewHandler(views, bets, repo, nil, ServiceInfo{
		ServiceURL: "http://localhost:8080",
		ChainID:    "chain",
		AppID:      "app",
		Configured: live,
	}, time.Second, nil)
	h.now = func() time.Time { return testNow }

	return &testServer{
		router: h.Routes(NewMiddleware(nil, nil), []string{"*"}, 0, nil),
		ledger: ledger,
		repo:   repo,
	}
}

func (s *testServer) do(t *testing.T, method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(b))
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func marketIDs(list []MarketDTO) []string {
	out := make([]string, len(list))
	for i, m := range list {
		out[i] = m.ID
	}
	return out
}

func TestListMarketsDemo(t *testing.T) {
	s := newTestServer(t, false)

	rec := s.do(t, http.MethodGet, "/v1/markets", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[MarketListResponse](t, rec)
	assert.Equal(t, "demo", resp.Mode)
	assert.Equal(t, resolver.ReasonUnreachable, resp.Reason)
	assert.Equal(t, "All", resp.Category)
	assert.Equal(t, []string{"seed_1", "seed_2", "seed_3"}, marketIDs(resp.Markets))

	seed := resp.Markets[2]
	assert.Equal(t, "Will it rain more than 2 inches in NYC tomorrow?", seed.Question)
	assert.Equal(t, "Rain", seed.Category)
	assert.Equal(t, "57.1", seed.YesPercent)
	assert.Equal(t, "42.9", seed.NoPercent)
	assert.Equal(t, "1400", seed.TotalPool)
	assert.Equal(t, "12h 0m left", seed.TimeLeft)
	assert.Equal(t, "seed", seed.Source)
}

func TestListMarketsCategoryFilter(t *testing.T) {
	s := newTestServer(t, false)

	rec := s.do(t, http.MethodGet, "/v1/markets?category=earthquake", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[MarketListResponse](t, rec)
	assert.Equal(t, "Earthquake", resp.Category)
	assert.Equal(t, 1, resp.Count)
	assert.Equal(t, []string{"seed_2"}, marketIDs(resp.Markets))

	rec = s.do(t, http.MethodGet, "/v1/markets?category=tsunami", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_CATEGORY", decode[ErrorResponse](t, rec).Code)
}

func TestGetMarketWithQuote(t *testing.T) {
	s := newTestServer(t, false)

	rec := s.do(t, http.MethodGet, "/v1/markets/seed_3?side=yes&amount=100", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[MarketDetailResponse](t, rec)
	assert.Equal(t, "demo", resp.Mode)
	assert.Equal(t, "seed_3", resp.Market.ID)
	require.NotNil(t, resp.Quote)
	assert.Equal(t, "yes", resp.Quote.Side)
	assert.Equal(t, "166.666667", resp.Quote.PotentialPayout)
	assert.Equal(t, "1.6667", resp.Quote.Multiplier)

	rec = s.do(t, http.MethodGet, "/v1/markets/seed_3?amount=100", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "MISSING_SELECTION", decode[ErrorResponse](t, rec).Code)

	rec = s.do(t, http.MethodGet, "/v1/markets/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "MARKET_NOT_FOUND", decode[ErrorResponse](t, rec).Code)
}

func TestPlaceBetDemoFlow(t *testing.T) {
	s := newTestServer(t, false)
	client := []string{HeaderClientID, "browser-1"}

	rec := s.do(t, http.MethodPost, "/v1/markets/seed_3/bets", `{"side":"yes","amount":250}`, client...)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	placed := decode[PlaceBetResponse](t, rec)
	assert.Equal(t, "demo", placed.Mode)
	assert.Equal(t, "1050", placed.Market.YesPool)
	assert.Equal(t, "250", placed.Bet.Amount)
	assert.Equal(t, "local", placed.Bet.Source)
	assert.True(t, placed.HistoryRecorded)

	// the seed overlay shows up in later reads
	rec = s.do(t, http.MethodGet, "/v1/markets/seed_3", nil)
	assert.Equal(t, "1050", decode[MarketDetailResponse](t, rec).Market.YesPool)

	rec = s.do(t, http.MethodGet, "/v1/bets", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	history := decode[HistoryResponse](t, rec)
	require.Len(t, history.Bets, 1)
	assert.Equal(t, "seed_3", history.Bets[0].MarketID)
	assert.Equal(t, HistoryStatsDTO{TotalBets: 1, TotalWagered: "250", YesBets: 1, NoBets: 0}, history.Stats)

	rec = s.do(t, http.MethodGet, "/v1/submission", nil, client...)
	sub := decode[SubmissionDTO](t, rec)
	assert.Equal(t, "browser-1", sub.ClientID)
	assert.Equal(t, "committed", sub.State)
	assert.Equal(t, placed.Bet.ID, sub.BetID)

	rec = s.do(t, http.MethodDelete, "/v1/bets", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = s.do(t, http.MethodGet, "/v1/bets", nil)
	assert.Empty(t, decode[HistoryResponse](t, rec).Bets)
}

func TestPlaceBetValidation(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		status int
		code   string
	}{
		{"not a number", `{"side":"yes","amount":"abc"}`, http.StatusBadRequest, "INVALID_AMOUNT"},
		{"zero", `{"side":"no","amount":0}`, http.StatusBadRequest, "INVALID_AMOUNT"},
		{"no side", `{"amount":"10"}`, http.StatusBadRequest, "MISSING_SELECTION"},
		{"boolean side is accepted", `{"side":true,"amount":"10"}`, http.StatusCreated, ""},
		{"broken json", `{"side":`, http.StatusBadRequest, "INVALID_REQUEST"},
		{"empty body", ``, http.StatusBadRequest, "INVALID_REQUEST"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, false)
			rec := s.do(t, http.MethodPost, "/v1/markets/seed_1/bets", tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			if tt.code != "" {
				assert.Equal(t, tt.code, decode[ErrorResponse](t, rec).Code)
			}
		})
	}
}

func TestCreateCloseResolveDemo(t *testing.T) {
	s := newTestServer(t, false)

	rec := s.do(t, http.MethodPost, "/v1/markets", CreateMarketRequest{Question: "Will it hail in Denver?", Category: "storm", DurationHours: 2})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[CreateMarketResponse](t, rec)
	require.NotNil(t, created.Market)
	id := created.Market.ID
	assert.Equal(t, fmt.Sprintf("demo_%d", testNow.UnixMilli()), id)
	assert.Equal(t, "[Storm] Will it hail in Denver?", created.Question)
	assert.Equal(t, "2h 0m left", created.Market.TimeLeft)
	assert.Equal(t, "50.0", created.Market.YesPercent)

	rec = s.do(t, http.MethodGet, "/v1/markets", nil)
	assert.Equal(t, []string{id, "seed_1", "seed_2", "seed_3"}, marketIDs(decode[MarketListResponse](t, rec).Markets))

	rec = s.do(t, http.MethodPost, "/v1/markets/"+id+"/resolve", `{"outcome":"yes"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(t, http.MethodPost, "/v1/markets/"+id+"/close", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodPost, "/v1/markets/"+id+"/bets", `{"side":"yes","amount":"5"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "MARKET_CLOSED", decode[ErrorResponse](t, rec).Code)

	rec = s.do(t, http.MethodPost, "/v1/markets/"+id+"/resolve", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPost, "/v1/markets/"+id+"/resolve", `{"outcome":true}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, ActionResponse{Mode: "demo", ID: id, Action: "resolve"}, decode[ActionResponse](t, rec))

	rec = s.do(t, http.MethodGet, "/v1/markets/"+id, nil)
	m := decode[MarketDetailResponse](t, rec).Market
	assert.Equal(t, "Resolved", m.Status)
	require.NotNil(t, m.Resolution)
	assert.True(t, *m.Resolution)

	rec = s.do(t, http.MethodPost, "/v1/markets/seed_1/close", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestCreateMarketValidation(t *testing.T) {
	s := newTestServer(t, false)

	rec := s.do(t, http.MethodPost, "/v1/markets", CreateMarketRequest{Question: "  "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "EMPTY_QUESTION", decode[ErrorResponse](t, rec).Code)

	rec = s.do(t, http.MethodPost, "/v1/markets", CreateMarketRequest{Question: "q", DurationHours: -3})
	assert.Equal(t, "INVALID_DURATION", decode[ErrorResponse](t, rec).Code)
}

func TestLiveMode(t *testing.T) {
	s := newTestServer(t, true)
	s.ledger.On("Market", mock.Anything, "7").Return(&remoteMarket, nil)

	rec := s.do(t, http.MethodGet, "/v1/markets", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[MarketListResponse](t, rec)
	assert.Equal(t, "live", resp.Mode)
	assert.Equal(t, []string{"7"}, marketIDs(resp.Markets))
	assert.Equal(t, "Will the Seine flood?", resp.Markets[0].Question)
	assert.Equal(t, "75.0", resp.Markets[0].YesPercent)

	// the override switches to demo for this request only
	rec = s.do(t, http.MethodGet, "/v1/markets?demo=true", nil)
	assert.Equal(t, "demo", decode[MarketListResponse](t, rec).Mode)
	rec = s.do(t, http.MethodGet, "/v1/markets", nil, HeaderDemo, "1")
	assert.Equal(t, "demo", decode[MarketListResponse](t, rec).Mode)

	s.ledger.On("PlaceBet", mock.Anything, "7", markets.SideNo, "10000000000000000000").Return(nil).Once()
	rec = s.do(t, http.MethodPost, "/v1/markets/7/bets", `{"side":"no","amount":"10"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	placed := decode[PlaceBetResponse](t, rec)
	assert.Equal(t, "live", placed.Mode)
	assert.Equal(t, "remote", placed.Bet.Source)

	s.ledger.On("PlaceBet", mock.Anything, "7", markets.SideYes, mock.Anything).
		Return(&linera.RemoteError{Op: "placeBet", Message: "Bet is closed"}).Once()
	rec = s.do(t, http.MethodPost, "/v1/markets/7/bets", `{"side":"yes","amount":"1"}`)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, ErrorResponse{Code: "LEDGER_ERROR", Message: "Bet is closed"}, decode[ErrorResponse](t, rec))

	rec = s.do(t, http.MethodGet, "/v1/bets", nil)
	assert.Len(t, decode[HistoryResponse](t, rec).Bets, 1)

	s.ledger.On("CreateBet", mock.Anything, "[Storm] Will it thunder?", int64(24*3600)).Return(nil).Once()
	rec = s.do(t, http.MethodPost, "/v1/markets", CreateMarketRequest{Question: "Will it thunder?"})
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Nil(t, decode[CreateMarketResponse](t, rec).Market)

	s.ledger.AssertExpectations(t)
}

func TestLedgerUserBets(t *testing.T) {
	s := newTestServer(t, true)
	s.ledger.On("UserBets", mock.Anything).Return([]linera.Stake{
		{MarketID: "7", Owner: "0xabc", Side: markets.SideYes, Amount: decimal.NewFromInt(3), Timestamp: testNow.UnixMilli()},
	}, nil)

	rec := s.do(t, http.MethodGet, "/v1/ledger/user-bets", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	bets := decode[LedgerBetsResponse](t, rec).Bets
	require.Len(t, bets, 1)
	assert.Equal(t, "7", bets[0].MarketID)
	assert.Equal(t, "3", bets[0].Amount)
}

func TestStatusAndConfig(t *testing.T) {
	s := newTestServer(t, false)

	rec := s.do(t, http.MethodGet, "/v1/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	status := decode[StatusDTO](t, rec)
	assert.Equal(t, "demo", status.Mode)
	assert.False(t, status.ServiceHealthy)
	assert.False(t, status.ServiceConfigured)

	rec = s.do(t, http.MethodGet, "/v1/config", nil)
	cfg := decode[ConfigDTO](t, rec)
	assert.Equal(t, "http://localhost:8080", cfg.ServiceURL)
	assert.Equal(t, "app", cfg.AppID)

	rec = s.do(t, http.MethodGet, "/readyz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = s.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestErrorStatus(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{fmt.Errorf("wrap: %w", markets.ErrInvalidAmount), http.StatusBadRequest, "INVALID_AMOUNT"},
		{markets.ErrMarketNotFound, http.StatusNotFound, "MARKET_NOT_FOUND"},
		{markets.ErrSubmissionInFlight, http.StatusConflict, "SUBMISSION_IN_FLIGHT"},
		{linera.ErrNotConfigured, http.StatusServiceUnavailable, "SERVICE_UNREACHABLE"},
		{&linera.RemoteError{Message: "nope"}, http.StatusBadGateway, "LEDGER_ERROR"},
		{errors.New("disk on fire"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}
	for _, tt := range tests {
		status, code := errorStatus(tt.err)
		assert.Equal(t, tt.status, status, tt.err.Error())
		assert.Equal(t, tt.code, code, tt.err.Error())
	}
}

func TestRequestHelpers(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/v1/markets?demo=1", nil)
	assert.True(t, demoOverride(r))
	assert.Equal(t, anonymousClient, clientID(r))

	r = httptest.NewRequest(http.MethodGet, "/v1/markets?demo=false", nil)
	r.Header.Set(HeaderDemo, "1")
	assert.False(t, demoOverride(r), "query wins over header")

	r = httptest.NewRequest(http.MethodGet, "/v1/markets", nil)
	r.Header.Set(HeaderDemo, "yes")
	r.Header.Set(HeaderClientID, string(bytes.Repeat([]byte("x"), 200)))
	assert.True(t, demoOverride(r))
	assert.Len(t, clientID(r), maxClientID)
}

func TestLenientText(t *testing.T) {
	var req PlaceBetRequest
	require.NoError(t, json.Unmarshal([]byte(`{"side":false,"amount":12}`), &req))
	assert.Equal(t, lenientText("false"), req.Side)
	assert.Equal(t, lenientText("12"), req.Amount)

	require.NoError(t, json.Unmarshal([]byte(`{"side":"yes","amount":null}`), &req))
	assert.Equal(t, lenientText("yes"), req.Side)
	assert.Equal(t, lenientText(""), req.Amount)
}
