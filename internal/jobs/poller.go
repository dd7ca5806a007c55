package jobs

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/stormcast/stormcast-backend/internal/markets"
)

// Snapshot is the latest applied poll result. Value keeps the last successful
// result when a later poll fails.
type Snapshot[T any] struct {
	Value     T
	Err       error
	Seq       uint64
	FetchedAt time.Time
	// Ready is false until the first poll has been applied.
	Ready bool
}

// Poller runs fetch on a fixed interval. Each poll runs in its own goroutine
// and does not wait for the previous one; results are applied in issuance
// order and stale ones are discarded.
type Poller[T any] struct {
	name     string
	interval time.Duration
	fetch    func(ctx context.Context) (T, error)
	logger   *zap.SugaredLogger
	seq      Sequencer

	mu      sync.RWMutex
	latest  Snapshot[T]
	subs    map[int]func(Snapshot[T])
	nextSub int

	// notifyMu keeps subscriber delivery in sequence order too.
	notifyMu sync.Mutex
	notified uint64

	wg sync.WaitGroup
}

func NewPoller[T any](name string, interval time.Duration, fetch func(ctx context.Context) (T, error), logger *zap.SugaredLogger) *Poller[T] {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Poller[T]{
		name:     name,
		interval: interval,
		fetch:    fetch,
		logger:   logger,
		subs:     make(map[int]func(Snapshot[T])),
	}
}

// Start polls immediately and then on every tick until ctx is done.
func (p *Poller[T]) Start(ctx context.Context) error {
	p.logger.Infow("Starting poller", "name", p.name, "interval", p.interval)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.fire(ctx)
	for {
		select {
		case <-ctx.Done():
			p.wg.Wait()
			p.logger.Infow("Poller stopping due to context cancellation", "name", p.name)
			return ctx.Err()
		case <-ticker.C:
			p.fire(ctx)
		}
	}
}

func (p *Poller[T]) fire(ctx context.Context) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.PollNow(ctx)
	}()
}

// PollNow fetches once and returns the snapshot current after the attempt,
// which is newer than this poll's own result if a later poll won the race.
func (p *Poller[T]) PollNow(ctx context.Context) Snapshot[T] {
	seq := p.seq.Issue()
	value, err := p.fetch(ctx)
	if err != nil && ctx.Err() != nil {
		// abandoned, not a service failure
		return p.Latest()
	}

	var subs []func(Snapshot[T])
	var snap Snapshot[T]
	applied := p.seq.Apply(seq, func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		next := Snapshot[T]{Seq: seq, FetchedAt: time.Now(), Ready: true, Err: err}
		if err == nil {
			next.Value = value
		} else {
			next.Value = p.latest.Value
		}
		p.latest = next
		snap = next
		for _, fn := range p.subs {
			subs = append(subs, fn)
		}
	})
	if !applied {
		p.logger.Debugw("Discarding stale poll result", "name", p.name, "seq", seq)
		return p.Latest()
	}

	if err != nil {
		p.logger.Warnw("Poll failed", "name", p.name, "seq", seq, "error", err)
	}
	p.notify(snap, subs)
	return snap
}

func (p *Poller[T]) notify(snap Snapshot[T], subs []func(Snapshot[T])) {
	p.notifyMu.Lock()
	defer p.notifyMu.Unlock()
	if snap.Seq <= p.notified {
		return
	}
	p.notified = snap.Seq
	for _, fn := range subs {
		fn(snap)
	}
}

func (p *Poller[T]) Latest() Snapshot[T] {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.latest
}

// Subscribe registers fn for every applied snapshot. The returned func
// removes it.
func (p *Poller[T]) Subscribe(fn func(Snapshot[T])) func() {
	p.mu.Lock()
	id := p.nextSub
	p.nextSub++
	p.subs[id] = fn
	p.mu.Unlock()

	return func() {
		p.mu.Lock()
		delete(p.subs, id)
		p.mu.Unlock()
	}
}

// MarketLister is the remote market list query.
type MarketLister interface {
	Markets(ctx context.Context) ([]markets.Market, error)
}

// MarketPoller polls the remote market list.
type MarketPoller = Poller[[]markets.Market]

func NewMarketPoller(lister MarketLister, interval time.Duration, logger *zap.SugaredLogger) *MarketPoller {
	return NewPoller("markets", interval, lister.Markets, logger)
}

// MarketGetter is the remote single-market query.
type MarketGetter interface {
	Market(ctx context.Context, id string) (*markets.Market, error)
}

// NewSingleMarketPoller polls one market; a nil value means the ledger does
// not know the id.
func NewSingleMarketPoller(getter MarketGetter, id string, interval time.Duration, logger *zap.SugaredLogger) *Poller[*markets.Market] {
	return NewPoller("market:"+id, interval, func(ctx context.Context) (*markets.Market, error) {
		return getter.Market(ctx, id)
	}, logger)
}
