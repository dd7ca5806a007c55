// Package linera talks to the micro-bet application exposed by a Linera node
// service over GraphQL.
package linera

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Khan/genqlient/graphql"
	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"

	"github.com/stormcast/stormcast-backend/internal/markets"
)

// Config locates the application and bounds calls to it.
type Config struct {
	ServiceURL     string
	ChainID        string
	AppID          string
	RequestTimeout time.Duration
	QueryRetries   int
	RetryBackoff   time.Duration
}

// Configured is true iff an application id is present.
func (c Config) Configured() bool {
	return strings.TrimSpace(c.AppID) != ""
}

// Endpoint is the application's GraphQL URL.
func (c Config) Endpoint() string {
	return fmt.Sprintf("%s/chains/%s/applications/%s",
		strings.TrimRight(c.ServiceURL, "/"), c.ChainID, c.AppID)
}

// Observer receives the outcome of every ledger call.
type Observer interface {
	ObserveLedgerCall(ctx context.Context, op string, d time.Duration, err error)
}

type Option func(*Client)

func WithObserver(o Observer) Option {
	return func(c *Client) { c.observer = o }
}

// WithHTTPClient replaces the HTTP client used for queries, mutations and probes.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

type Client struct {
	cfg        Config
	httpClient *http.Client
	gql        graphql.Client
	logger     *zap.SugaredLogger
	observer   Observer
}

func NewClient(cfg Config, logger *zap.SugaredLogger, opts ...Option) *Client {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	if cfg.QueryRetries < 0 {
		cfg.QueryRetries = 0
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 250 * time.Millisecond
	}

	c := &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.RequestTimeout},
		logger:     logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.gql = graphql.NewClient(cfg.Endpoint(), c.httpClient)
	return c
}

func (c *Client) Config() Config {
	return c.cfg
}

func (c *Client) Configured() bool {
	return c.cfg.Configured()
}

func (c *Client) observe(ctx context.Context, op string, start time.Time, err error) {
	if c.observer != nil {
		c.observer.ObserveLedgerCall(ctx, op, time.Since(start), err)
	}
}

func (c *Client) do(ctx context.Context, op, query string, vars map[string]any, out any) error {
	if !c.cfg.Configured() {
		return ErrNotConfigured
	}
	start := time.Now()
	err := c.gql.MakeRequest(ctx,
		&graphql.Request{OpName: op, Query: query, Variables: vars},
		&graphql.Response{Data: out},
	)
	err = classify(op, err)
	c.observe(ctx, op, start, err)
	return err
}

// query retries transport failures with constant backoff. Errors answered by
// the ledger are returned at once.
func (c *Client) query(ctx context.Context, op, query string, vars map[string]any, out any) error {
	backoff := retry.WithMaxRetries(uint64(c.cfg.QueryRetries), retry.NewConstant(c.cfg.RetryBackoff))

	attempt := 0
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		err := c.do(ctx, op, query, vars, out)
		if err == nil || IsRemote(err) || errors.Is(err, ErrNotConfigured) || ctx.Err() != nil {
			return err
		}
		c.logger.Debugw("Ledger query failed", "op", op, "attempt", attempt, "error", err)
		return retry.RetryableError(err)
	})
}

// mutate never retries; a repeated placeBet would double the stake.
func (c *Client) mutate(ctx context.Context, op, query string, vars map[string]any) error {
	var out map[string]json.RawMessage
	if err := c.do(ctx, op, query, vars, &out); err != nil {
		c.logger.Warnw("Ledger mutation failed", "op", op, "error", err)
		return err
	}
	return nil
}

// Bets lists every market held by the application.
func (c *Client) Bets(ctx context.Context) ([]Bet, error) {
	var data listBetsData
	if err := c.query(ctx, "ListBets", listBetsQuery, nil, &data); err != nil {
		return nil, err
	}
	out := make([]Bet, 0, len(data.Bets.Entries))
	for _, e := range data.Bets.Entries {
		if e.Value == nil || e.Value.ID == "" {
			continue
		}
		out = append(out, *e.Value)
	}
	return out, nil
}

// Markets lists every market, normalized for display.
func (c *Client) Markets(ctx context.Context) ([]markets.Market, error) {
	bets, err := c.Bets(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]markets.Market, len(bets))
	for i, b := range bets {
		out[i] = b.Normalize()
	}
	return out, nil
}

// Bet returns nil without error when the id is unknown to the ledger.
func (c *Client) Bet(ctx context.Context, id string) (*Bet, error) {
	var data getBetData
	if err := c.query(ctx, "GetBet", getBetQuery, map[string]any{"betId": id}, &data); err != nil {
		return nil, err
	}
	if data.Bets.Entry == nil || data.Bets.Entry.Value == nil || data.Bets.Entry.Value.ID == "" {
		return nil, nil
	}
	return data.Bets.Entry.Value, nil
}

func (c *Client) Market(ctx context.Context, id string) (*markets.Market, error) {
	b, err := c.Bet(ctx, id)
	if err != nil || b == nil {
		return nil, err
	}
	m := b.Normalize()
	return &m, nil
}

// UserBets lists the stake records held by the application.
func (c *Client) UserBets(ctx context.Context) ([]Stake, error) {
	var data listUserBetsData
	if err := c.query(ctx, "ListUserBets", listUserBetsQuery, nil, &data); err != nil {
		return nil, err
	}
	out := make([]Stake, 0, len(data.UserBets.Entries))
	for _, e := range data.UserBets.Entries {
		if e.Value == nil {
			continue
		}
		s, ok := e.Value.Normalize()
		if !ok {
			c.logger.Warnw("Skipping ledger user bet with unreadable side", "betId", e.Value.BetID)
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

func (c *Client) CreateBet(ctx context.Context, question string, durationSeconds int64) error {
	return c.mutate(ctx, "CreateBet", createBetMutation, map[string]any{
		"question":        question,
		"durationSeconds": durationSeconds,
	})
}

// PlaceBet stakes amount, given in base units, on side of the market.
func (c *Client) PlaceBet(ctx context.Context, betID string, side markets.Side, amount string) error {
	return c.mutate(ctx, "PlaceBet", placeBetMutation, map[string]any{
		"betId":  betID,
		"side":   side.Bool(),
		"amount": amount,
	})
}

func (c *Client) CloseBet(ctx context.Context, betID string) error {
	return c.mutate(ctx, "CloseBet", closeBetMutation, map[string]any{"betId": betID})
}

func (c *Client) ResolveBet(ctx context.Context, betID string, outcome bool) error {
	return c.mutate(ctx, "ResolveBet", resolveBetMutation, map[string]any{
		"betId":   betID,
		"outcome": outcome,
	})
}

// Ping succeeds iff the node service root answers 200 before ctx is done.
func (c *Client) Ping(ctx context.Context) error {
	start := time.Now()
	err := c.ping(ctx)
	c.observe(ctx, "Ping", start, err)
	return err
}

func (c *Client) ping(ctx context.Context) error {
	root := strings.TrimRight(c.cfg.ServiceURL, "/") + "/"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, root, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", markets.ErrServiceUnreachable, err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", markets.ErrServiceUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: probe returned %d", markets.ErrServiceUnreachable, resp.StatusCode)
	}
	return nil
}
