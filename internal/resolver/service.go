package resolver

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/stormcast/stormcast-backend/internal/jobs"
	"github.com/stormcast/stormcast-backend/internal/linera"
	"github.com/stormcast/stormcast-backend/internal/markets"
)

// sharedFetchTimeout bounds the first remote list fetch made on behalf of
// waiting requests.
const sharedFetchTimeout = 15 * time.Second

// Ledger is the subset of the remote client the resolver reads from.
type Ledger interface {
	Configured() bool
	Market(ctx context.Context, id string) (*markets.Market, error)
	UserBets(ctx context.Context) ([]linera.Stake, error)
}

type HealthSource interface {
	Health() jobs.HealthStatus
}

// MarketSnapshots is the remote market list poller.
type MarketSnapshots interface {
	Latest() jobs.Snapshot[[]markets.Market]
	PollNow(ctx context.Context) jobs.Snapshot[[]markets.Market]
}

type LocalMarkets interface {
	List(ctx context.Context) ([]markets.Market, error)
	Get(ctx context.Context, id string) (markets.Market, error)
}

// ModeObserver is told about every mode decision.
type ModeObserver interface {
	ObserveMode(ctx context.Context, mode string, reason string)
}

// Status summarizes the inputs of the mode decision.
type Status struct {
	Mode              Mode
	Reason            string
	ServiceHealthy    bool
	ServiceConfigured bool
	ProbeSkipped      bool
	LastProbe         time.Time
	LastError         string
}

type Service struct {
	ledger   Ledger
	health   HealthSource
	poller   MarketSnapshots
	local    LocalMarkets
	seeds    *markets.SeedBook
	logger   *zap.SugaredLogger
	observer ModeObserver

	sf singleflight.Group
}

type Option func(*Service)

func WithModeObserver(o ModeObserver) Option {
	return func(s *Service) { s.observer = o }
}

func NewService(ledger Ledger, health HealthSource, poller MarketSnapshots, local LocalMarkets, seeds *markets.SeedBook, logger *zap.SugaredLogger, opts ...Option) *Service {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	s := &Service{
		ledger: ledger,
		health: health,
		poller: poller,
		local:  local,
		seeds:  seeds,
		logger: logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// baseInputs fills everything except the market lists.
func (s *Service) baseInputs(override bool) Inputs {
	h := s.health.Health()
	snap := s.poller.Latest()
	return Inputs{
		Override:      override,
		HealthChecked: h.Checked,
		Healthy:       h.Healthy,
		Configured:    s.ledger.Configured(),
		RemoteMarkets: snap.Value,
		RemoteErr:     snap.Err,
		RemotePending: !snap.Ready,
	}
}

// Mode resolves the mode without reading any market list.
func (s *Service) Mode(override bool) (Mode, string) {
	v := Resolve(s.baseInputs(override))
	return v.Mode, v.Reason
}

func (s *Service) Status(override bool) Status {
	h := s.health.Health()
	mode, reason := s.Mode(override)
	return Status{
		Mode:              mode,
		Reason:            reason,
		ServiceHealthy:    h.Healthy,
		ServiceConfigured: s.ledger.Configured(),
		ProbeSkipped:      h.Skipped,
		LastProbe:         h.LastProbe,
		LastError:         h.LastError,
	}
}

// View resolves the mode and returns the market list for it. Before the first
// poll lands it fetches the remote list itself, shared between concurrent
// callers.
func (s *Service) View(ctx context.Context, override bool) (View, error) {
	in := s.baseInputs(override)

	var local []markets.Market
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		list, err := s.local.List(gctx)
		if err != nil {
			return fmt.Errorf("list local markets: %w", err)
		}
		local = list
		return nil
	})
	if !in.Override && in.Healthy && in.Configured && in.RemotePending {
		g.Go(func() error {
			// the fetch is shared, so it must outlive the caller that started it
			ch := s.sf.DoChan("markets", func() (any, error) {
				fctx, cancel := context.WithTimeout(context.WithoutCancel(gctx), sharedFetchTimeout)
				defer cancel()
				return s.poller.PollNow(fctx), nil
			})
			select {
			case res := <-ch:
				snap := res.Val.(jobs.Snapshot[[]markets.Market])
				in.RemoteMarkets, in.RemoteErr, in.RemotePending = snap.Value, snap.Err, !snap.Ready
			case <-gctx.Done():
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return View{}, err
	}

	in.LocalMarkets = local
	in.SeedMarkets = s.seeds.List()

	view := Resolve(in)
	if s.observer != nil {
		s.observer.ObserveMode(ctx, string(view.Mode), view.Reason)
	}
	if view.Error != "" {
		s.logger.Warnw("Falling back to demo markets", "reason", view.Reason, "error", view.Error)
	}
	return view, nil
}

// Market looks id up among the sources of the resolved mode.
func (s *Service) Market(ctx context.Context, id string, override bool) (markets.Market, Mode, error) {
	mode, _ := s.Mode(override)

	if mode == ModeLive {
		v, err, _ := s.sf.Do("market:"+id, func() (any, error) {
			return s.ledger.Market(ctx, id)
		})
		if err != nil {
			return markets.Market{}, mode, err
		}
		m, _ := v.(*markets.Market)
		if m == nil {
			return markets.Market{}, mode, fmt.Errorf("%w: %s", markets.ErrMarketNotFound, id)
		}
		return *m, mode, nil
	}

	m, err := s.DemoMarket(ctx, id)
	return m, mode, err
}

// DemoMarket finds id among local then seed markets.
func (s *Service) DemoMarket(ctx context.Context, id string) (markets.Market, error) {
	m, err := s.local.Get(ctx, id)
	if err == nil {
		return m, nil
	}
	if seed, ok := s.seeds.Get(id); ok {
		return seed, nil
	}
	return markets.Market{}, err
}

// LedgerHistory returns the ledger's stake records joined with market
// questions, newest first.
func (s *Service) LedgerHistory(ctx context.Context) ([]markets.UserBet, error) {
	stakes, err := s.ledger.UserBets(ctx)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]*markets.Market)
	snap := s.poller.Latest()
	for i := range snap.Value {
		byID[snap.Value[i].ID] = &snap.Value[i]
	}

	out := make([]markets.UserBet, 0, len(stakes))
	for _, st := range stakes {
		out = append(out, st.ToUserBet(byID[st.MarketID]))
	}
	sortNewestFirst(out)
	return out, nil
}
