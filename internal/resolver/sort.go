package resolver

import (
	"sort"

	"github.com/stormcast/stormcast-backend/internal/markets"
)

func sortNewestFirst(bets []markets.UserBet) {
	sort.SliceStable(bets, func(i, j int) bool {
		return bets[i].Timestamp > bets[j].Timestamp
	})
}
