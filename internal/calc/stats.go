package calc

import (
	"github.com/shopspring/decimal"
	"github.com/stormcast/stormcast-backend/internal/markets"
)

// HistoryStats summarizes a bet history.
type HistoryStats struct {
	TotalBets    int
	TotalWagered decimal.Decimal
	YesBets      int
	NoBets       int
}

func SummarizeHistory(bets []markets.UserBet) HistoryStats {
	stats := HistoryStats{TotalWagered: decimal.Zero}
	for _, b := range bets {
		stats.TotalBets++
		stats.TotalWagered = stats.TotalWagered.Add(b.Amount)
		switch b.Side {
		case markets.SideYes:
			stats.YesBets++
		case markets.SideNo:
			stats.NoBets++
		}
	}
	return stats
}
