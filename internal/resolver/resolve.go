// Package resolver decides between live and demo mode and builds the market
// list for the chosen mode.
package resolver

import (
	"github.com/stormcast/stormcast-backend/internal/markets"
)

type Mode string

const (
	ModeLive Mode = "live"
	ModeDemo Mode = "demo"
)

// Reasons recorded on a View.
const (
	ReasonOverride      = "demo mode requested"
	ReasonProbePending  = "health probe pending"
	ReasonUnreachable   = "ledger service unreachable"
	ReasonNotConfigured = "ledger application not configured"
	ReasonQueryFailed   = "ledger query failed"
	ReasonLive          = "ledger service healthy"
)

// Inputs is everything a mode decision depends on.
type Inputs struct {
	Override bool
	// HealthChecked is false until the first probe result is in.
	HealthChecked bool
	Healthy       bool
	Configured    bool

	RemoteMarkets []markets.Market
	RemoteErr     error
	RemotePending bool

	LocalMarkets []markets.Market
	SeedMarkets  []markets.Market
}

// View is the resolved mode and the markets to show in it.
type View struct {
	Mode    Mode
	Markets []markets.Market
	Reason  string
	// Loading is set in live mode before the first remote result.
	Loading bool
	// Error is the remote query error, verbatim, when the service is healthy
	// and configured but the query failed.
	Error string
}

// Resolve applies the rules in order; the first match wins.
func Resolve(in Inputs) View {
	if in.Override {
		return demoView(in, ReasonOverride)
	}
	if !in.HealthChecked {
		return demoView(in, ReasonProbePending)
	}
	if !in.Healthy {
		return demoView(in, ReasonUnreachable)
	}
	if !in.Configured {
		return demoView(in, ReasonNotConfigured)
	}
	if in.RemoteErr != nil {
		v := demoView(in, ReasonQueryFailed)
		v.Error = in.RemoteErr.Error()
		return v
	}

	list := in.RemoteMarkets
	if list == nil {
		list = []markets.Market{}
	}
	return View{
		Mode:    ModeLive,
		Markets: list,
		Reason:  ReasonLive,
		Loading: in.RemotePending,
	}
}

// DemoMarkets is local markets followed by the seed markets.
func DemoMarkets(local, seeds []markets.Market) []markets.Market {
	out := make([]markets.Market, 0, len(local)+len(seeds))
	out = append(out, local...)
	return append(out, seeds...)
}

func demoView(in Inputs, reason string) View {
	return View{
		Mode:    ModeDemo,
		Markets: DemoMarkets(in.LocalMarkets, in.SeedMarkets),
		Reason:  reason,
	}
}
