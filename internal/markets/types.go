package markets

import (
	"github.com/shopspring/decimal"
)

// Category is the environmental event class of a market.
type Category string

const (
	CategoryRain       Category = "Rain"
	CategoryStorm      Category = "Storm"
	CategoryHurricane  Category = "Hurricane"
	CategoryTornado    Category = "Tornado"
	CategoryEarthquake Category = "Earthquake"
	CategoryFlood      Category = "Flood"
	CategoryWildfire   Category = "Wildfire"
	CategorySnow       Category = "Snow"
	CategoryDrought    Category = "Drought"
	CategoryOther      Category = "Other"

	// CategoryAll is the filter sentinel, never a market's own category.
	CategoryAll Category = "All"
)

// Categories lists every market category in display order.
var Categories = []Category{
	CategoryRain,
	CategoryStorm,
	CategoryHurricane,
	CategoryTornado,
	CategoryEarthquake,
	CategoryFlood,
	CategoryWildfire,
	CategorySnow,
	CategoryDrought,
	CategoryOther,
}

// Status is the display lifecycle of a market.
type Status string

const (
	StatusActive   Status = "Active"
	StatusResolved Status = "Resolved"
	StatusExpired  Status = "Expired"
)

// Side is the outcome a bet backs.
type Side string

const (
	SideYes Side = "yes"
	SideNo  Side = "no"
)

// Bool returns the ledger's boolean encoding of the side.
func (s Side) Bool() bool {
	return s == SideYes
}

// SideFromBool maps the ledger's boolean side to a Side.
func SideFromBool(yes bool) Side {
	if yes {
		return SideYes
	}
	return SideNo
}

// Source records where a record came from. It routes follow-up actions and is
// never sent to the ledger.
type Source string

const (
	SourceRemote Source = "remote"
	SourceLocal  Source = "local"
	SourceSeed   Source = "seed"
)

// Market is the normalized, display-facing market record.
type Market struct {
	ID         string
	Question   string
	Category   Category
	Creator    string
	YesPool    decimal.Decimal
	NoPool     decimal.Decimal
	Status     Status
	Resolution *bool
	EndTime    int64 // unix milliseconds
	CreatedAt  int64 // unix milliseconds
	Source     Source
}

// TotalPool is the sum of both sides.
func (m Market) TotalPool() decimal.Decimal {
	return m.YesPool.Add(m.NoPool)
}

// DisplayQuestion is the question without its leading category tag.
func (m Market) DisplayQuestion() string {
	_, text := SplitTag(m.Question)
	return text
}

// Pool returns the pool backing the given side.
func (m Market) Pool(side Side) decimal.Decimal {
	if side == SideYes {
		return m.YesPool
	}
	return m.NoPool
}

// UserBet is one entry of the bet-history ledger.
type UserBet struct {
	ID             string
	MarketID       string
	MarketQuestion string
	MarketCategory Category
	Side           Side
	Amount         decimal.Decimal
	Timestamp      int64 // unix milliseconds
	Source         Source
}
