package resolver

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/stormcast/stormcast-backend/internal/jobs"
	"github.com/stormcast/stormcast-backend/internal/linera"
	"github.com/stormcast/stormcast-backend/internal/localstore"
	"github.com/stormcast/stormcast-backend/internal/markets"
	"github.com/stormcast/stormcast-backend/pkg/kv/memory"
)

var now = time.UnixMilli(1_700_000_000_000)

func ids(list []markets.Market) []string {
	out := make([]string, len(list))
	for i, m := range list {
		out[i] = m.ID
	}
	return out
}

func healthyInputs() Inputs {
	return Inputs{
		HealthChecked: true,
		Healthy:       true,
		Configured:    true,
		RemoteMarkets: []markets.Market{{ID: "7", Source: markets.SourceRemote}},
		LocalMarkets:  []markets.Market{{ID: "demo_1", Source: markets.SourceLocal}},
		SeedMarkets:   markets.SeedMarkets(now),
	}
}

func TestResolve(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Inputs)
		mode   Mode
		reason string
		ids    []string
	}{
		{"live", func(in *Inputs) {}, ModeLive, ReasonLive, []string{"7"}},
		{"override wins over healthy", func(in *Inputs) { in.Override = true }, ModeDemo, ReasonOverride, []string{"demo_1", "seed_1", "seed_2", "seed_3"}},
		{"probe pending", func(in *Inputs) { in.HealthChecked = false }, ModeDemo, ReasonProbePending, []string{"demo_1", "seed_1", "seed_2", "seed_3"}},
		{"unhealthy ignores remote list", func(in *Inputs) { in.Healthy = false }, ModeDemo, ReasonUnreachable, []string{"demo_1", "seed_1", "seed_2", "seed_3"}},
		{"not configured", func(in *Inputs) { in.Configured = false }, ModeDemo, ReasonNotConfigured, []string{"demo_1", "seed_1", "seed_2", "seed_3"}},
		{"query error", func(in *Inputs) { in.RemoteErr = errors.New("timeout") }, ModeDemo, ReasonQueryFailed, []string{"demo_1", "seed_1", "seed_2", "seed_3"}},
		{"empty remote list stays live", func(in *Inputs) { in.RemoteMarkets = nil }, ModeLive, ReasonLive, []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := healthyInputs()
			tt.mutate(&in)
			v := Resolve(in)
			assert.Equal(t, tt.mode, v.Mode)
			assert.Equal(t, tt.reason, v.Reason)
			assert.Equal(t, tt.ids, ids(v.Markets))
		})
	}
}

func TestResolveQueryErrorIsVerbatim(t *testing.T) {
	in := healthyInputs()
	in.RemoteErr = errors.New("Failed to fetch bets: storage error")
	v := Resolve(in)
	assert.Equal(t, "Failed to fetch bets: storage error", v.Error)

	in.Healthy = false
	assert.Empty(t, Resolve(in).Error)
}

func TestResolveLiveNeverShowsSeeds(t *testing.T) {
	in := healthyInputs()
	for _, m := range Resolve(in).Markets {
		assert.NotEqual(t, markets.SourceSeed, m.Source)
	}
}

func TestResolveLoadingWhilePending(t *testing.T) {
	in := healthyInputs()
	in.RemoteMarkets = nil
	in.RemotePending = true
	v := Resolve(in)
	assert.Equal(t, ModeLive, v.Mode)
	assert.True(t, v.Loading)
	assert.NotNil(t, v.Markets)
}

func TestUnreachableWithNoLocalMarketsShowsThreeSeeds(t *testing.T) {
	v := Resolve(Inputs{HealthChecked: true, Healthy: false, Configured: true, SeedMarkets: markets.SeedMarkets(now)})
	assert.Equal(t, ModeDemo, v.Mode)
	assert.Len(t, v.Markets, 3)
}

// Service tests

type MockLedger struct {
	mock.Mock
}

func (m *MockLedger) Configured() bool {
	return m.Called().Bool(0)
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

type staticHealth jobs.HealthStatus

func (s staticHealth) Health() jobs.HealthStatus { return jobs.HealthStatus(s) }

type listerFunc func(ctx context.Context) ([]markets.Market, error)

func (f listerFunc) Markets(ctx context.Context) ([]markets.Market, error) { return f(ctx) }

func newService(t *testing.T, ledger *MockLedger, healthy bool, lister listerFunc) (*Service, *localstore.Repository, *jobs.MarketPoller) {
	t.Helper()
	store := memory.New(0)
	t.Cleanup(func() { store.Close() })
	repo := localstore.New(store, nil)
	poller := jobs.NewMarketPoller(lister, time.Hour, nil)
	health := staticHealth{Checked: true, Healthy: healthy}
	return NewService(ledger, health, poller, repo, markets.NewSeedBook(func() time.Time { return now }), nil), repo, poller
}

func TestServiceViewLive(t *testing.T) {
	ledger := &MockLedger{}
	ledger.On("Configured").Return(true)

	calls := 0
	svc, _, _ := newService(t, ledger, true, func(ctx context.Context) ([]markets.Market, error) {
		calls++
		return []markets.Market{{ID: "7", YesPool: decimal.RequireFromString("0.5")}}, nil
	})

	v, err := svc.View(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, ModeLive, v.Mode)
	require.Len(t, v.Markets, 1)
	assert.True(t, decimal.RequireFromString("0.5").Equal(v.Markets[0].YesPool))
	assert.False(t, v.Loading)

	// the first view primed the poller
	_, err = svc.View(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestServiceViewDemo(t *testing.T) {
	ledger := &MockLedger{}
	ledger.On("Configured").Return(true)

	svc, repo, _ := newService(t, ledger, false, func(ctx context.Context) ([]markets.Market, error) {
		t.Fatal("remote list must not be queried while unhealthy")
		return nil, nil
	})
	require.NoError(t, repo.Insert(context.Background(), markets.Market{ID: "demo_1", Status: markets.StatusActive}))

	v, err := svc.View(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, ModeDemo, v.Mode)
	assert.Equal(t, []string{"demo_1", "seed_1", "seed_2", "seed_3"}, ids(v.Markets))
}

func TestServiceViewSharedFetchOutlivesCancelledCaller(t *testing.T) {
	ledger := &MockLedger{}
	ledger.On("Configured").Return(true)

	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	svc, _, _ := newService(t, ledger, true, func(ctx context.Context) ([]markets.Market, error) {
		once.Do(func() { close(started) })
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return []markets.Market{{ID: "7", Status: markets.StatusActive, Source: markets.SourceRemote}}, nil
	})

	first, cancelFirst := context.WithCancel(context.Background())
	firstDone := make(chan struct{})
	go func() {
		defer close(firstDone)
		_, _ = svc.View(first, false)
	}()
	<-started

	second := make(chan View, 1)
	go func() {
		v, err := svc.View(context.Background(), false)
		assert.NoError(t, err)
		second <- v
	}()

	cancelFirst()
	<-firstDone
	close(release)

	select {
	case v := <-second:
		assert.Equal(t, ModeLive, v.Mode)
		assert.False(t, v.Loading)
		require.Len(t, v.Markets, 1)
		assert.Equal(t, "7", v.Markets[0].ID)
	case <-time.After(5 * time.Second):
		t.Fatal("second view did not complete")
	}
}

func TestServiceViewQueryErrorFallsBack(t *testing.T) {
	ledger := &MockLedger{}
	ledger.On("Configured").Return(true)

	svc, _, _ := newService(t, ledger, true, func(ctx context.Context) ([]markets.Market, error) {
		return nil, errors.New("bets query failed")
	})

	v, err := svc.View(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, ModeDemo, v.Mode)
	assert.Equal(t, "bets query failed", v.Error)
	assert.Len(t, v.Markets, 3)
}

func TestServiceMarketLive(t *testing.T) {
	ledger := &MockLedger{}
	ledger.On("Configured").Return(true)
	ledger.On("Market", mock.Anything, "7").Return(&markets.Market{ID: "7"}, nil)
	ledger.On("Market", mock.Anything, "404").Return(nil, nil)

	svc, _, poller := newService(t, ledger, true, func(ctx context.Context) ([]markets.Market, error) {
		return []markets.Market{}, nil
	})
	poller.PollNow(context.Background())

	m, mode, err := svc.Market(context.Background(), "7", false)
	require.NoError(t, err)
	assert.Equal(t, ModeLive, mode)
	assert.Equal(t, "7", m.ID)

	_, _, err = svc.Market(context.Background(), "404", false)
	assert.ErrorIs(t, err, markets.ErrMarketNotFound)

	// seeds are not visible in live mode
	ledger.On("Market", mock.Anything, "seed_1").Return(nil, nil)
	_, _, err = svc.Market(context.Background(), "seed_1", false)
	assert.ErrorIs(t, err, markets.ErrMarketNotFound)
}

func TestServiceMarketDemo(t *testing.T) {
	ledger := &MockLedger{}
	ledger.On("Configured").Return(false)

	svc, repo, _ := newService(t, ledger, true, nil)
	require.NoError(t, repo.Insert(context.Background(), markets.Market{ID: "demo_1"}))

	m, mode, err := svc.Market(context.Background(), "demo_1", false)
	require.NoError(t, err)
	assert.Equal(t, ModeDemo, mode)
	assert.Equal(t, markets.SourceLocal, m.Source)

	m, _, err = svc.Market(context.Background(), "seed_2", false)
	require.NoError(t, err)
	assert.Equal(t, markets.SourceSeed, m.Source)

	_, _, err = svc.Market(context.Background(), "7", false)
	assert.ErrorIs(t, err, markets.ErrMarketNotFound)
	ledger.AssertNotCalled(t, "Market", mock.Anything, mock.Anything)
}

func TestServiceStatus(t *testing.T) {
	ledger := &MockLedger{}
	ledger.On("Configured").Return(true)
	svc, _, _ := newService(t, ledger, true, nil)

	st := svc.Status(true)
	assert.Equal(t, ModeDemo, st.Mode)
	assert.Equal(t, ReasonOverride, st.Reason)
	assert.True(t, st.ServiceHealthy)
	assert.True(t, st.ServiceConfigured)
}

func TestServiceLedgerHistory(t *testing.T) {
	ledger := &MockLedger{}
	ledger.On("Configured").Return(true)
	ledger.On("UserBets", mock.Anything).Return([]linera.Stake{
		{MarketID: "7", Owner: "a", Side: markets.SideYes, Amount: decimal.NewFromInt(1), Timestamp: 10},
		{MarketID: "8", Owner: "a", Side: markets.SideNo, Amount: decimal.NewFromInt(2), Timestamp: 20},
	}, nil)

	svc, _, poller := newService(t, ledger, true, func(ctx context.Context) ([]markets.Market, error) {
		return []markets.Market{{ID: "7", Question: "[Rain] Wet?", Category: markets.CategoryRain}}, nil
	})
	poller.PollNow(context.Background())

	history, err := svc.LedgerHistory(context.Background())
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "8", history[0].MarketID)
	assert.Equal(t, "Wet?", history[1].MarketQuestion)
	assert.Equal(t, markets.CategoryRain, history[1].MarketCategory)
}
