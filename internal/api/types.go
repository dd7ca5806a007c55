package api

import (
	"bytes"
	"encoding/json"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/stormcast/stormcast-backend/internal/betting"
	"github.com/stormcast/stormcast-backend/internal/calc"
	"github.com/stormcast/stormcast-backend/internal/markets"
	"github.com/stormcast/stormcast-backend/internal/resolver"
)

type MarketDTO struct {
	ID          string `json:"id"`
	Question    string `json:"question"`
	RawQuestion string `json:"rawQuestion"`
	Category    string `json:"category"`
	Creator     string `json:"creator"`
	YesPool     string `json:"yesPool"`
	NoPool      string `json:"noPool"`
	TotalPool   string `json:"totalPool"`
	YesPercent  string `json:"yesPercent"`
	NoPercent   string `json:"noPercent"`
	Status      string `json:"status"`
	Resolution  *bool  `json:"resolution"`
	EndTime     int64  `json:"endTime"`
	CreatedAt   int64  `json:"createdAt"`
	TimeLeft    string `json:"timeLeft"`
	Source      string `json:"source"`
}

type MarketListResponse struct {
	Mode     string      `json:"mode"`
	Reason   string      `json:"reason"`
	Loading  bool        `json:"loading"`
	Error    string      `json:"error,omitempty"`
	Category string      `json:"category"`
	Count    int         `json:"count"`
	Markets  []MarketDTO `json:"markets"`
	AsOf     int64       `json:"asOf"`
}

type QuoteDTO struct {
	Side            string `json:"side"`
	Amount          string `json:"amount"`
	PotentialPayout string `json:"potentialPayout"`
	Multiplier      string `json:"multiplier"`
}

type MarketDetailResponse struct {
	Mode   string    `json:"mode"`
	Market MarketDTO `json:"market"`
	Quote  *QuoteDTO `json:"quote,omitempty"`
}

// lenientText accepts a JSON string, number or boolean and keeps its text.
type lenientText string

func (t *lenientText) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*t = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*t = lenientText(s)
		return nil
	}
	*t = lenientText(b)
	return nil
}

type PlaceBetRequest struct {
	Side   lenientText `json:"side"`
	Amount lenientText `json:"amount"`
}

type BetDTO struct {
	ID             string `json:"id"`
	MarketID       string `json:"marketId"`
	MarketQuestion string `json:"marketQuestion"`
	MarketCategory string `json:"marketCategory"`
	Side           string `json:"side"`
	Amount         string `json:"amount"`
	Timestamp      int64  `json:"timestamp"`
	Source         string `json:"source"`
}

type PlaceBetResponse struct {
	Mode            string    `json:"mode"`
	Bet             BetDTO    `json:"bet"`
	Market          MarketDTO `json:"market"`
	HistoryRecorded bool      `json:"historyRecorded"`
}

type CreateMarketRequest struct {
	Question      string `json:"question"`
	Category      string `json:"category"`
	DurationHours int    `json:"durationHours"`
}

type CreateMarketResponse struct {
	Mode     string     `json:"mode"`
	Question string     `json:"question"`
	Market   *MarketDTO `json:"market,omitempty"`
}

type ResolveMarketRequest struct {
	Outcome *lenientText `json:"outcome"`
}

type ActionResponse struct {
	Mode   string `json:"mode"`
	ID     string `json:"id"`
	Action string `json:"action"`
}

type HistoryStatsDTO struct {
	TotalBets    int    `json:"totalBets"`
	TotalWagered string `json:"totalWagered"`
	YesBets      int    `json:"yesBets"`
	NoBets       int    `json:"noBets"`
}

type HistoryResponse struct {
	Bets  []BetDTO        `json:"bets"`
	Stats HistoryStatsDTO `json:"stats"`
}

type LedgerBetsResponse struct {
	Bets []BetDTO `json:"bets"`
}

type SubmissionDTO struct {
	ClientID    string `json:"clientId"`
	State       string `json:"state"`
	LastOutcome string `json:"lastOutcome,omitempty"`
	LastError   string `json:"lastError,omitempty"`
	BetID       string `json:"betId,omitempty"`
	UpdatedAt   int64  `json:"updatedAt,omitempty"`
}

type StatusDTO struct {
	Mode              string `json:"mode"`
	Reason            string `json:"reason"`
	ServiceHealthy    bool   `json:"serviceHealthy"`
	ServiceConfigured bool   `json:"serviceConfigured"`
	ProbeSkipped      bool   `json:"probeSkipped"`
	LastProbe         int64  `json:"lastProbe,omitempty"`
	LastError         string `json:"lastError,omitempty"`
}

type ConfigDTO struct {
	ServiceURL   string `json:"serviceUrl"`
	ChainID      string `json:"chainId"`
	AppID        string `json:"appId"`
	Configured   bool   `json:"configured"`
	ProbeSkipped bool   `json:"probeSkipped"`
}

type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

func toMarketDTO(m markets.Market, now time.Time) MarketDTO {
	yesPct, noPct := calc.Odds(m.YesPool, m.NoPool)
	return MarketDTO{
		ID:          m.ID,
		Question:    m.DisplayQuestion(),
		RawQuestion: m.Question,
		Category:    string(m.Category),
		Creator:     m.Creator,
		YesPool:     m.YesPool.String(),
		NoPool:      m.NoPool.String(),
		TotalPool:   m.TotalPool().String(),
		YesPercent:  yesPct.StringFixed(1),
		NoPercent:   noPct.StringFixed(1),
		Status:      string(m.Status),
		Resolution:  m.Resolution,
		EndTime:     m.EndTime,
		CreatedAt:   m.CreatedAt,
		TimeLeft:    calc.TimeLeft(m.EndTime, now),
		Source:      string(m.Source),
	}
}

func toMarketDTOs(list []markets.Market, now time.Time) []MarketDTO {
	out := make([]MarketDTO, 0, len(list))
	for _, m := range list {
		out = append(out, toMarketDTO(m, now))
	}
	return out
}

func toListResponse(view resolver.View, category markets.Category, now time.Time) MarketListResponse {
	list := markets.Filter(view.Markets, category)
	return MarketListResponse{
		Mode:     string(view.Mode),
		Reason:   view.Reason,
		Loading:  view.Loading,
		Error:    view.Error,
		Category: string(category),
		Count:    len(list),
		Markets:  toMarketDTOs(list, now),
		AsOf:     now.UnixMilli(),
	}
}

func toBetDTO(b markets.UserBet) BetDTO {
	return BetDTO{
		ID:             b.ID,
		MarketID:       b.MarketID,
		MarketQuestion: b.MarketQuestion,
		MarketCategory: string(b.MarketCategory),
		Side:           string(b.Side),
		Amount:         b.Amount.String(),
		Timestamp:      b.Timestamp,
		Source:         string(b.Source),
	}
}

func toBetDTOs(list []markets.UserBet) []BetDTO {
	out := make([]BetDTO, 0, len(list))
	for _, b := range list {
		out = append(out, toBetDTO(b))
	}
	return out
}

func toQuoteDTO(m markets.Market, side markets.Side, stake decimal.Decimal) *QuoteDTO {
	other := markets.SideNo
	if side == markets.SideNo {
		other = markets.SideYes
	}
	return &QuoteDTO{
		Side:            string(side),
		Amount:          stake.String(),
		PotentialPayout: calc.PotentialPayout(stake, m.Pool(side), m.Pool(other)).String(),
		Multiplier:      calc.Multiplier(stake, m.Pool(side), m.Pool(other)).String(),
	}
}

func toSubmissionDTO(client string, s betting.Submission) SubmissionDTO {
	dto := SubmissionDTO{
		ClientID:    client,
		State:       string(s.State),
		LastOutcome: string(s.LastOutcome),
		LastError:   s.LastError,
		BetID:       s.BetID,
	}
	if !s.UpdatedAt.IsZero() {
		dto.UpdatedAt = s.UpdatedAt.UnixMilli()
	}
	return dto
}

func toStatusDTO(s resolver.Status) StatusDTO {
	dto := StatusDTO{
		Mode:              string(s.Mode),
		Reason:            s.Reason,
		ServiceHealthy:    s.ServiceHealthy,
		ServiceConfigured: s.ServiceConfigured,
		ProbeSkipped:      s.ProbeSkipped,
		LastError:         s.LastError,
	}
	if !s.LastProbe.IsZero() {
		dto.LastProbe = s.LastProbe.UnixMilli()
	}
	return dto
}

// parseBool accepts the usual boolean spellings plus yes/no.
func parseBool(s string) (bool, bool) {
	switch s {
	case "yes", "YES", "Yes":
		return true, true
	case "no", "NO", "No":
		return false, true
	}
	v, err := strconv.ParseBool(s)
	return v, err == nil
}
