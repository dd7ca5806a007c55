package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/stormcast/stormcast-backend/internal/jobs"
	"github.com/stormcast/stormcast-backend/internal/markets"
	"github.com/stormcast/stormcast-backend/internal/ws"
)

// MarketFeed delivers each applied remote market list.
type MarketFeed interface {
	Subscribe(fn func(jobs.Snapshot[[]markets.Market])) func()
}

// HealthFeed delivers health probe transitions.
type HealthFeed interface {
	OnChange(fn func(jobs.HealthStatus))
}

type HealthDTO struct {
	Healthy   bool   `json:"healthy"`
	Checked   bool   `json:"checked"`
	Skipped   bool   `json:"skipped"`
	LastProbe int64  `json:"lastProbe,omitempty"`
	LastError string `json:"lastError,omitempty"`
}

// publishMarkets pushes the resolved market list without a demo override.
func (h *Handler) publishMarkets(ctx context.Context) {
	if h.wsHub == nil {
		return
	}
	view, err := h.views.View(ctx, false)
	if err != nil {
		h.logger.Warnw("Failed to build market view for stream", "error", err)
		return
	}
	h.wsHub.Publish(ws.TopicMarkets, toListResponse(view, markets.CategoryAll, h.now()))
}

// WatchFeeds republishes the market list after every applied poll and health
// transition until ctx is done.
func (h *Handler) WatchFeeds(ctx context.Context, feed MarketFeed, health HealthFeed) {
	if feed != nil {
		unsubscribe := feed.Subscribe(func(jobs.Snapshot[[]markets.Market]) {
			h.publishMarkets(ctx)
		})
		go func() {
			<-ctx.Done()
			unsubscribe()
		}()
	}
	if health != nil {
		health.OnChange(func(s jobs.HealthStatus) {
			if ctx.Err() != nil {
				return
			}
			dto := HealthDTO{Healthy: s.Healthy, Checked: s.Checked, Skipped: s.Skipped, LastError: s.LastError}
			if !s.LastProbe.IsZero() {
				dto.LastProbe = s.LastProbe.UnixMilli()
			}
			if h.wsHub != nil {
				h.wsHub.Publish(ws.TopicHealth, dto)
			}
			h.publishMarkets(ctx)
		})
	}
}

// marketGetter reads one market through the resolver; an unknown id is a nil
// market rather than an error.
type marketGetter struct {
	views    MarketViews
	override bool
}

func (g marketGetter) Market(ctx context.Context, id string) (*markets.Market, error) {
	m, _, err := g.views.Market(ctx, id, g.override)
	if errors.Is(err, markets.ErrMarketNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

type MarketStreamEvent struct {
	Mode   string     `json:"mode,omitempty"`
	Market *MarketDTO `json:"market"`
	Error  string     `json:"error,omitempty"`
	AsOf   int64      `json:"asOf"`
}

// HandleMarketStream polls one market for the life of the request and sends
// every result as a server-sent event.
func (h *Handler) HandleMarketStream(w http.ResponseWriter, r *http.Request) {
	stream, err := ws.NewStream(w)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "STREAMING_UNSUPPORTED", err.Error())
		return
	}

	id := chi.URLParam(r, "id")
	override := demoOverride(r)
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	poller := jobs.NewSingleMarketPoller(marketGetter{views: h.views, override: override}, id, h.marketInterval, h.logger)
	updates := make(chan jobs.Snapshot[*markets.Market], 1)
	unsubscribe := poller.Subscribe(func(s jobs.Snapshot[*markets.Market]) {
		// keep only the newest result when the writer falls behind
		select {
		case <-updates:
		default:
		}
		select {
		case updates <- s:
		default:
		}
	})
	defer unsubscribe()
	go poller.Start(ctx)

	if err := stream.Event("connected", id, map[string]string{"marketId": id}); err != nil {
		return
	}

	heartbeat := time.NewTicker(30 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			if err := stream.Heartbeat(); err != nil {
				return
			}
		case snap := <-updates:
			now := h.now()
			ev := MarketStreamEvent{AsOf: now.UnixMilli()}
			if snap.Err != nil {
				ev.Error = snap.Err.Error()
			}
			if snap.Value != nil {
				dto := toMarketDTO(*snap.Value, now)
				ev.Market = &dto
			}
			ev.Mode = string(h.views.Status(override).Mode)
			if err := stream.Event(ws.EventType(ws.TopicMarketPrefix+id), id, ev); err != nil {
				return
			}
		}
	}
}
