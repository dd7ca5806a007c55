package linera

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/stormcast/stormcast-backend/internal/amount"
	"github.com/stormcast/stormcast-backend/internal/markets"
)

// rawValue holds a scalar the ledger may send as a string or a number.
type rawValue json.RawMessage

func (v *rawValue) UnmarshalJSON(b []byte) error {
	*v = append((*v)[:0], b...)
	return nil
}

// text returns the scalar as a string; JSON strings are unquoted.
func (v rawValue) text() string {
	b := bytes.TrimSpace([]byte(v))
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return ""
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err == nil {
			return s
		}
	}
	return string(b)
}

func (v rawValue) baseUnits() decimal.Decimal {
	s := v.text()
	if s == "" {
		return decimal.Zero
	}
	return amount.FromBaseUnits(json.Number(s))
}

// int64Value parses integers leniently; floats are truncated.
func (v rawValue) int64Value() int64 {
	s := strings.TrimSpace(v.text())
	if s == "" {
		return 0
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return int64(f)
	}
	return 0
}

func (v rawValue) boolPtr() *bool {
	switch strings.ToLower(strings.TrimSpace(v.text())) {
	case "true", "yes":
		t := true
		return &t
	case "false", "no":
		f := false
		return &f
	}
	return nil
}

// Bet is a market as stored by the ledger application.
type Bet struct {
	ID         string   `json:"id"`
	Question   string   `json:"question"`
	YesPool    rawValue `json:"yesPool"`
	NoPool     rawValue `json:"noPool"`
	Status     string   `json:"status"`
	Creator    string   `json:"creator"`
	Resolution rawValue `json:"resolution"`
	CreatedAt  rawValue `json:"createdAt"`
	ExpiresAt  rawValue `json:"expiresAt"`
}

type betEntry struct {
	Value *Bet `json:"value"`
}

type listBetsData struct {
	Bets struct {
		Entries []betEntry `json:"entries"`
	} `json:"bets"`
}

type getBetData struct {
	Bets struct {
		Entry *betEntry `json:"entry"`
	} `json:"bets"`
}

// UserBet is a stake record kept by the ledger application.
type UserBet struct {
	BetID     string   `json:"betId"`
	Owner     string   `json:"owner"`
	Side      rawValue `json:"side"`
	Amount    rawValue `json:"amount"`
	Timestamp rawValue `json:"timestamp"`
}

type listUserBetsData struct {
	UserBets struct {
		Entries []struct {
			Value *UserBet `json:"value"`
		} `json:"entries"`
	} `json:"userBets"`
}

// NormalizeStatus maps ledger statuses onto display statuses. Unknown values
// are treated as no longer accepting bets.
func NormalizeStatus(s string) markets.Status {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "open":
		return markets.StatusActive
	case "resolved":
		return markets.StatusResolved
	default:
		return markets.StatusExpired
	}
}

// Normalize converts a ledger bet into the display-facing market.
func (b Bet) Normalize() markets.Market {
	return markets.Market{
		ID:         b.ID,
		Question:   b.Question,
		Category:   markets.DeriveCategory(b.Question),
		Creator:    markets.TruncateCreator(b.Creator),
		YesPool:    b.YesPool.baseUnits(),
		NoPool:     b.NoPool.baseUnits(),
		Status:     NormalizeStatus(b.Status),
		Resolution: b.Resolution.boolPtr(),
		EndTime:    markets.MicrosToMillis(b.ExpiresAt.int64Value()),
		CreatedAt:  markets.MicrosToMillis(b.CreatedAt.int64Value()),
		Source:     markets.SourceRemote,
	}
}

// Stake is a normalized ledger user-bet record.
type Stake struct {
	MarketID  string
	Owner     string
	Side      markets.Side
	Amount    decimal.Decimal
	Timestamp int64 // unix milliseconds
}

// Normalize converts the ledger record. ok is false when the side cannot be
// read.
func (u UserBet) Normalize() (Stake, bool) {
	sidePtr := u.Side.boolPtr()
	if sidePtr == nil {
		return Stake{}, false
	}
	return Stake{
		MarketID:  u.BetID,
		Owner:     u.Owner,
		Side:      markets.SideFromBool(*sidePtr),
		Amount:    u.Amount.baseUnits(),
		Timestamp: markets.MicrosToMillis(u.Timestamp.int64Value()),
	}, true
}

// ToUserBet joins a stake with its market for display.
func (s Stake) ToUserBet(m *markets.Market) markets.UserBet {
	b := markets.UserBet{
		ID:        s.MarketID + ":" + s.Owner + ":" + strconv.FormatInt(s.Timestamp, 10),
		MarketID:  s.MarketID,
		Side:      s.Side,
		Amount:    s.Amount,
		Timestamp: s.Timestamp,
		Source:    markets.SourceRemote,
	}
	if m != nil {
		b.MarketQuestion = m.DisplayQuestion()
		b.MarketCategory = m.Category
	} else {
		b.MarketCategory = markets.CategoryOther
	}
	return b
}
