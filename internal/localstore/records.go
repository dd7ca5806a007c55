package localstore

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/stormcast/stormcast-backend/internal/markets"
)

// flexDecimal accepts a JSON number or a numeric string. Anything else
// decodes to zero.
type flexDecimal struct {
	decimal.Decimal
}

func (f *flexDecimal) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		f.Decimal = decimal.Zero
		return nil
	}
	s := string(b)
	if b[0] == '"' {
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
	}
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		f.Decimal = decimal.Zero
		return nil
	}
	f.Decimal = d
	return nil
}

func (f flexDecimal) MarshalJSON() ([]byte, error) {
	return json.Marshal(f.Decimal.String())
}

// flexMillis accepts an integer, a float, or a numeric string.
type flexMillis int64

func (f *flexMillis) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*f = 0
		return nil
	}
	s := string(b)
	if b[0] == '"' {
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
	}
	s = strings.TrimSpace(s)
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		*f = flexMillis(n)
		return nil
	}
	if v, err := strconv.ParseFloat(s, 64); err == nil {
		*f = flexMillis(int64(v))
		return nil
	}
	return fmt.Errorf("invalid timestamp %q", s)
}

// flexSide is the stored side: "yes"/"no" strings, or booleans written by
// older builds.
type flexSide struct {
	side markets.Side
}

func (f *flexSide) UnmarshalJSON(b []byte) error {
	if bytes.Equal(bytes.TrimSpace(b), []byte("null")) {
		f.side = ""
		return nil
	}
	var asBool bool
	if err := json.Unmarshal(b, &asBool); err == nil {
		f.side = markets.SideFromBool(asBool)
		return nil
	}
	var asString string
	if err := json.Unmarshal(b, &asString); err != nil {
		return fmt.Errorf("side: %w", err)
	}
	side, err := markets.ParseSide(asString)
	if err != nil {
		return err
	}
	f.side = side
	return nil
}

func (f flexSide) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(f.side))
}

type marketRecord struct {
	ID         string      `json:"id"`
	Question   string      `json:"question"`
	Category   string      `json:"category,omitempty"`
	Creator    string      `json:"creator,omitempty"`
	YesPool    flexDecimal `json:"yesPool"`
	NoPool     flexDecimal `json:"noPool"`
	Status     string      `json:"status,omitempty"`
	Resolution *bool       `json:"resolution,omitempty"`
	EndTime    flexMillis  `json:"endTime"`
	CreatedAt  flexMillis  `json:"createdAt"`
}

func marketToRecord(m markets.Market) marketRecord {
	return marketRecord{
		ID:         m.ID,
		Question:   m.Question,
		Category:   string(m.Category),
		Creator:    m.Creator,
		YesPool:    flexDecimal{m.YesPool},
		NoPool:     flexDecimal{m.NoPool},
		Status:     string(m.Status),
		Resolution: m.Resolution,
		EndTime:    flexMillis(m.EndTime),
		CreatedAt:  flexMillis(m.CreatedAt),
	}
}

func (r marketRecord) normalize() (markets.Market, error) {
	if strings.TrimSpace(r.ID) == "" {
		return markets.Market{}, fmt.Errorf("market without id")
	}

	category, err := markets.ParseCategory(r.Category)
	if err != nil || category == markets.CategoryAll {
		category = markets.DeriveCategory(r.Question)
	}

	status := markets.StatusActive
	switch strings.ToLower(strings.TrimSpace(r.Status)) {
	case "", "active", "open":
	case "resolved":
		status = markets.StatusResolved
	default:
		status = markets.StatusExpired
	}

	yes, no := r.YesPool.Decimal, r.NoPool.Decimal
	if yes.IsNegative() {
		yes = decimal.Zero
	}
	if no.IsNegative() {
		no = decimal.Zero
	}

	return markets.Market{
		ID:         r.ID,
		Question:   r.Question,
		Category:   category,
		Creator:    r.Creator,
		YesPool:    yes,
		NoPool:     no,
		Status:     status,
		Resolution: r.Resolution,
		EndTime:    int64(r.EndTime),
		CreatedAt:  int64(r.CreatedAt),
		Source:     markets.SourceLocal,
	}, nil
}

type betRecord struct {
	ID             string      `json:"id"`
	MarketID       string      `json:"marketId"`
	MarketQuestion string      `json:"marketQuestion"`
	MarketCategory string      `json:"marketCategory,omitempty"`
	Side           flexSide    `json:"side"`
	Amount         flexDecimal `json:"amount"`
	Timestamp      flexMillis  `json:"timestamp"`
	Source         string      `json:"source,omitempty"`
}

func betToRecord(b markets.UserBet) betRecord {
	return betRecord{
		ID:             b.ID,
		MarketID:       b.MarketID,
		MarketQuestion: b.MarketQuestion,
		MarketCategory: string(b.MarketCategory),
		Side:           flexSide{b.Side},
		Amount:         flexDecimal{b.Amount},
		Timestamp:      flexMillis(b.Timestamp),
		Source:         string(b.Source),
	}
}

func (r betRecord) normalize() (markets.UserBet, error) {
	if r.MarketID == "" {
		return markets.UserBet{}, fmt.Errorf("bet %q without market id", r.ID)
	}
	if r.Side.side == "" {
		return markets.UserBet{}, fmt.Errorf("bet %q: %w", r.ID, markets.ErrMissingSelection)
	}

	category, err := markets.ParseCategory(r.MarketCategory)
	if err != nil || category == markets.CategoryAll {
		category = markets.DeriveCategory(r.MarketQuestion)
	}

	source := markets.SourceLocal
	switch markets.Source(r.Source) {
	case markets.SourceRemote, markets.SourceSeed:
		source = markets.Source(r.Source)
	}

	return markets.UserBet{
		ID:             r.ID,
		MarketID:       r.MarketID,
		MarketQuestion: r.MarketQuestion,
		MarketCategory: category,
		Side:           r.Side.side,
		Amount:         r.Amount.Decimal,
		Timestamp:      int64(r.Timestamp),
		Source:         source,
	}, nil
}
