// Package policy computes the utility-maximizing quoting decision for every
// (time, inventory, spread) state by backward induction, and exposes the
// solved decision table for simulation and reporting.
package policy

// BidStyle selects how a resting buy order is priced.
type BidStyle uint8

const (
	// BidAtBest posts at the current best bid.
	BidAtBest BidStyle = iota
	// BidImprove posts one tick above the best bid.
	BidImprove
)

func (s BidStyle) String() string {
	if s == BidImprove {
		return "b+"
	}
	return "b"
}

// AskStyle selects how a resting sell order is priced.
type AskStyle uint8

const (
	// AskAtBest posts at the current best ask.
	AskAtBest AskStyle = iota
	// AskImprove posts one tick below the best ask.
	AskImprove
)

func (s AskStyle) String() string {
	if s == AskImprove {
		return "a-"
	}
	return "a"
}

// Action is the decision stored for one lattice state. Exactly one of the two
// variants applies: Make posts two simultaneous quotes, Take crosses the
// spread with a single market order.
type Action interface {
	isAction()
}

// Make posts a bid and an ask quote with independent styles and volumes.
type Make struct {
	Bid       BidStyle
	BidVolume float64
	Ask       AskStyle
	AskVolume float64
}

func (Make) isAction() {}

// Take submits one market order of the given signed volume; positive buys,
// negative sells.
type Take struct {
	Volume float64
}

func (Take) isAction() {}

// Inputs bundles the calibrated model inputs consumed by the solver and the
// simulator. All of them are treated as validated and read-only.
//
// Transition rows are indexed by spread index j (spread (j+1)*tick) and are
// row-stochastic. JumpIntensity maps a seconds-of-day bucket start to a
// Poisson intensity. Proxy maps are keyed by the spread expressed as a tick
// multiple; a missing key means no fills were observed at that spread.
type Inputs struct {
	Transition    [][]float64
	JumpIntensity map[int]float64
	ProxiesBid    map[BidStyle]map[int]float64
	ProxiesAsk    map[AskStyle]map[int]float64
}
