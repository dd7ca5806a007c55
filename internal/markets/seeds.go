package markets

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

const (
	hourMs = int64(time.Hour / time.Millisecond)
	dayMs  = 24 * hourMs
)

// SeedMarkets returns the fixed demo markets, with times relative to now.
func SeedMarkets(now time.Time) []Market {
	ms := now.UnixMilli()
	return []Market{
		{
			ID:        "seed_1",
			Question:  "Will there be a Category 3+ Hurricane in Florida this month?",
			Category:  CategoryHurricane,
			Creator:   "0x1234...5678",
			YesPool:   decimal.NewFromInt(2500),
			NoPool:    decimal.NewFromInt(1800),
			Status:    StatusActive,
			EndTime:   ms + 7*dayMs,
			CreatedAt: ms - dayMs,
			Source:    SourceSeed,
		},
		{
			ID:        "seed_2",
			Question:  "Will Tokyo experience an earthquake above 5.0 magnitude this week?",
			Category:  CategoryEarthquake,
			Creator:   "0xabcd...efgh",
			YesPool:   decimal.NewFromInt(1200),
			NoPool:    decimal.NewFromInt(1500),
			Status:    StatusActive,
			EndTime:   ms + 3*dayMs,
			CreatedAt: ms - 12*hourMs,
			Source:    SourceSeed,
		},
		{
			ID:        "seed_3",
			Question:  "Will it rain more than 2 inches in NYC tomorrow?",
			Category:  CategoryRain,
			Creator:   "0x9876...4321",
			YesPool:   decimal.NewFromInt(800),
			NoPool:    decimal.NewFromInt(600),
			Status:    StatusActive,
			EndTime:   ms + 12*hourMs,
			CreatedAt: ms - 6*hourMs,
			Source:    SourceSeed,
		},
	}
}

// SeedBook holds the seed markets for the life of the process together with
// pool increases from demo bets. The increases are not persisted. Seed times
// stay relative to the clock, so seeds never age into Ended.
type SeedBook struct {
	mu  sync.RWMutex
	now func() time.Time
	// markets carry times as offsets from the unix epoch
	markets []Market
}

// NewSeedBook returns a book whose seed times are anchored to now on every
// read. A nil now uses time.Now.
func NewSeedBook(now func() time.Time) *SeedBook {
	if now == nil {
		now = time.Now
	}
	return &SeedBook{now: now, markets: SeedMarkets(time.UnixMilli(0))}
}

func (b *SeedBook) anchored(m Market) Market {
	ms := b.now().UnixMilli()
	m.EndTime += ms
	m.CreatedAt += ms
	return m
}

// List returns a copy of the seed markets with pool increases applied.
func (b *SeedBook) List() []Market {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Market, len(b.markets))
	for i, m := range b.markets {
		out[i] = b.anchored(m)
	}
	return out
}

func (b *SeedBook) Get(id string) (Market, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, m := range b.markets {
		if m.ID == id {
			return b.anchored(m), true
		}
	}
	return Market{}, false
}

// AddToPool increases one side of a seed market. It reports false when id is
// not a seed market.
func (b *SeedBook) AddToPool(id string, side Side, delta decimal.Decimal) (Market, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range b.markets {
		if b.markets[i].ID != id {
			continue
		}
		if side == SideYes {
			b.markets[i].YesPool = b.markets[i].YesPool.Add(delta)
		} else {
			b.markets[i].NoPool = b.markets[i].NoPool.Add(delta)
		}
		return b.anchored(b.markets[i]), true
	}
	return Market{}, false
}
