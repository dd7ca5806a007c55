// Package localstore persists demo markets and bet history as two JSON
// snapshot collections in a kv.Store.
package localstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/stormcast/stormcast-backend/internal/markets"
	"github.com/stormcast/stormcast-backend/pkg/kv"
)

const (
	MarketsKey = "stormcast_markets"
	BetsKey    = "stormcast_user_bets"
)

// Repository reads and writes whole snapshots. The mutex serializes writers
// within this process only; writers in other processes sharing the store can
// still lose updates.
type Repository struct {
	store  kv.Store
	logger *zap.SugaredLogger
	mu     sync.Mutex
}

func New(store kv.Store, logger *zap.SugaredLogger) *Repository {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Repository{store: store, logger: logger}
}

// Ping checks the underlying store.
func (r *Repository) Ping(ctx context.Context) error {
	return r.store.Ping(ctx)
}

func (r *Repository) readRaw(ctx context.Context, key string) ([]json.RawMessage, error) {
	data, err := r.store.Get(ctx, key)
	if errors.Is(err, kv.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}

	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		r.logger.Warnw("Discarding unreadable snapshot", "key", key, "error", err)
		return nil, nil
	}
	return items, nil
}

func (r *Repository) write(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := r.store.Set(ctx, key, data); err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	return nil
}

func (r *Repository) loadMarkets(ctx context.Context) ([]markets.Market, error) {
	items, err := r.readRaw(ctx, MarketsKey)
	if err != nil {
		return nil, err
	}

	out := make([]markets.Market, 0, len(items))
	for i, raw := range items {
		var rec marketRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			r.logger.Warnw("Skipping stored market", "index", i, "error", err)
			continue
		}
		m, err := rec.normalize()
		if err != nil {
			r.logger.Warnw("Skipping stored market", "index", i, "error", err)
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

func (r *Repository) saveMarkets(ctx context.Context, list []markets.Market) error {
	recs := make([]marketRecord, len(list))
	for i, m := range list {
		recs[i] = marketToRecord(m)
	}
	return r.write(ctx, MarketsKey, recs)
}

func (r *Repository) loadBets(ctx context.Context) ([]markets.UserBet, error) {
	items, err := r.readRaw(ctx, BetsKey)
	if err != nil {
		return nil, err
	}

	out := make([]markets.UserBet, 0, len(items))
	for i, raw := range items {
		var rec betRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			r.logger.Warnw("Skipping stored bet", "index", i, "error", err)
			continue
		}
		b, err := rec.normalize()
		if err != nil {
			r.logger.Warnw("Skipping stored bet", "index", i, "error", err)
			continue
		}
		out = append(out, b)
	}
	return out, nil
}

func (r *Repository) saveBets(ctx context.Context, list []markets.UserBet) error {
	recs := make([]betRecord, len(list))
	for i, b := range list {
		recs[i] = betToRecord(b)
	}
	return r.write(ctx, BetsKey, recs)
}

// List returns the locally created markets, newest first.
func (r *Repository) List(ctx context.Context) ([]markets.Market, error) {
	return r.loadMarkets(ctx)
}

func (r *Repository) Get(ctx context.Context, id string) (markets.Market, error) {
	list, err := r.loadMarkets(ctx)
	if err != nil {
		return markets.Market{}, err
	}
	for _, m := range list {
		if m.ID == id {
			return m, nil
		}
	}
	return markets.Market{}, fmt.Errorf("%w: %s", markets.ErrMarketNotFound, id)
}

// Insert stores m ahead of existing markets.
func (r *Repository) Insert(ctx context.Context, m markets.Market) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	list, err := r.loadMarkets(ctx)
	if err != nil {
		return err
	}
	for _, existing := range list {
		if existing.ID == m.ID {
			return fmt.Errorf("market %s already exists", m.ID)
		}
	}

	m.Source = markets.SourceLocal
	return r.saveMarkets(ctx, append([]markets.Market{m}, list...))
}

// update applies fn to the stored market with the given id.
func (r *Repository) update(ctx context.Context, id string, fn func(*markets.Market) error) (markets.Market, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	list, err := r.loadMarkets(ctx)
	if err != nil {
		return markets.Market{}, err
	}
	for i := range list {
		if list[i].ID != id {
			continue
		}
		if err := fn(&list[i]); err != nil {
			return markets.Market{}, err
		}
		if err := r.saveMarkets(ctx, list); err != nil {
			return markets.Market{}, err
		}
		return list[i], nil
	}
	return markets.Market{}, fmt.Errorf("%w: %s", markets.ErrMarketNotFound, id)
}

func (r *Repository) UpdateYesPool(ctx context.Context, id string, delta decimal.Decimal) (markets.Market, error) {
	return r.AddToPool(ctx, id, markets.SideYes, delta)
}

func (r *Repository) UpdateNoPool(ctx context.Context, id string, delta decimal.Decimal) (markets.Market, error) {
	return r.AddToPool(ctx, id, markets.SideNo, delta)
}

// AddToPool increases one side of a stored market. Pools never decrease.
func (r *Repository) AddToPool(ctx context.Context, id string, side markets.Side, delta decimal.Decimal) (markets.Market, error) {
	if !delta.IsPositive() {
		return markets.Market{}, fmt.Errorf("%w: pool delta must be positive", markets.ErrInvalidAmount)
	}
	return r.update(ctx, id, func(m *markets.Market) error {
		switch side {
		case markets.SideYes:
			m.YesPool = m.YesPool.Add(delta)
		case markets.SideNo:
			m.NoPool = m.NoPool.Add(delta)
		default:
			return markets.ErrMissingSelection
		}
		return nil
	})
}

// UpdateStatus overwrites status and resolution without checking the
// transition.
func (r *Repository) UpdateStatus(ctx context.Context, id string, status markets.Status, resolution *bool) (markets.Market, error) {
	return r.update(ctx, id, func(m *markets.Market) error {
		m.Status = status
		m.Resolution = resolution
		return nil
	})
}

// History returns bets newest first. Equal timestamps keep stored order.
func (r *Repository) History(ctx context.Context) ([]markets.UserBet, error) {
	bets, err := r.loadBets(ctx)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(bets, func(i, j int) bool {
		return bets[i].Timestamp > bets[j].Timestamp
	})
	return bets, nil
}

// AppendBet prepends b to the stored history.
func (r *Repository) AppendBet(ctx context.Context, b markets.UserBet) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	bets, err := r.loadBets(ctx)
	if err != nil {
		return err
	}
	return r.saveBets(ctx, append([]markets.UserBet{b}, bets...))
}

func (r *Repository) ClearHistory(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, err := r.store.Del(ctx, BetsKey); err != nil {
		return fmt.Errorf("clear %s: %w", BetsKey, err)
	}
	return nil
}
