package sim

import "math"

// Aggregate summarizes a batch of runs with population moments, matching how
// the per-run statistics are meant to be read: the batch is the whole
// population of interest, not a sample from a larger one.
type Aggregate struct {
	Runs int `json:"runs"`

	CashMean           float64 `json:"cashMean"`
	CashStdDev         float64 `json:"cashStdDev"`
	MaxInventoryMean   float64 `json:"maxInventoryMean"`
	MaxInventoryStdDev float64 `json:"maxInventoryStdDev"`
	MinInventoryMean   float64 `json:"minInventoryMean"`
	MinInventoryStdDev float64 `json:"minInventoryStdDev"`

	BestBidOrders     int `json:"bestBidOrders"`
	ImprovedBidOrders int `json:"improvedBidOrders"`
	BestAskOrders     int `json:"bestAskOrders"`
	ImprovedAskOrders int `json:"improvedAskOrders"`
	MarketBuyOrders   int `json:"marketBuyOrders"`
	MarketSellOrders  int `json:"marketSellOrders"`
}

// Summarize folds per-run statistics into the batch aggregate.
func Summarize(stats []Stats) Aggregate {
	agg := Aggregate{Runs: len(stats)}
	if len(stats) == 0 {
		return agg
	}

	cash := make([]float64, len(stats))
	maxInv := make([]float64, len(stats))
	minInv := make([]float64, len(stats))
	for i, st := range stats {
		cash[i] = st.Cash
		maxInv[i] = st.MaxInventory
		minInv[i] = st.MinInventory
		agg.BestBidOrders += st.BestBidOrders
		agg.ImprovedBidOrders += st.ImprovedBidOrders
		agg.BestAskOrders += st.BestAskOrders
		agg.ImprovedAskOrders += st.ImprovedAskOrders
		agg.MarketBuyOrders += st.MarketBuyOrders
		agg.MarketSellOrders += st.MarketSellOrders
	}

	agg.CashMean, agg.CashStdDev = meanStdDev(cash)
	agg.MaxInventoryMean, agg.MaxInventoryStdDev = meanStdDev(maxInv)
	agg.MinInventoryMean, agg.MinInventoryStdDev = meanStdDev(minInv)
	return agg
}

func meanStdDev(values []float64) (float64, float64) {
	mean := 0.0
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))

	variance := 0.0
	for _, v := range values {
		d := v - mean
		variance += d * d
	}
	variance /= float64(len(values))
	return mean, math.Sqrt(variance)
}
