package calibration

import (
	"sort"

	"github.com/shopspring/decimal"
)

// Observation is one spread change-point: the quote pair at the moment the
// spread moved, plus the market-order volume accumulated on each side since
// the previous change.
type Observation struct {
	Date int64 // epoch milliseconds
	Bid  decimal.Decimal
	Ask  decimal.Decimal

	CumBuyMarketOrders  float64
	CumSellMarketOrders float64
	BidAmount           float64
	AskAmount           float64
}

// Spread returns ask minus bid.
func (o Observation) Spread() decimal.Decimal {
	return o.Ask.Sub(o.Bid)
}

// Changes pairs bid and ask records by timestamp and emits an observation
// every time the quoted spread differs from the previous one. Market-order
// volume accumulates between change-points and resets on each emission; buy
// volume comes from the ask record, sell volume from the bid record.
func Changes(records []Record) []Observation {
	bids := make(map[int64]Record)
	asks := make(map[int64]Record)
	dateSet := make(map[int64]struct{})
	for _, rec := range records {
		if rec.Side == SideBid {
			bids[rec.Date] = rec
		} else {
			asks[rec.Date] = rec
		}
		dateSet[rec.Date] = struct{}{}
	}
	dates := make([]int64, 0, len(dateSet))
	for d := range dateSet {
		dates = append(dates, d)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i] < dates[j] })

	var out []Observation
	curr := decimal.Zero
	cumBuy := 0.0
	cumSell := 0.0
	for _, d := range dates {
		bid, okBid := bids[d]
		ask, okAsk := asks[d]
		if !okBid || !okAsk {
			continue
		}
		cumBuy += ask.MarketOrders
		cumSell += bid.MarketOrders

		spread := ask.Price.Sub(bid.Price)
		if !curr.Equal(spread) {
			out = append(out, Observation{
				Date:                d,
				Bid:                 bid.Price,
				Ask:                 ask.Price,
				CumBuyMarketOrders:  cumBuy,
				CumSellMarketOrders: cumSell,
				BidAmount:           bid.Amount,
				AskAmount:           ask.Amount,
			})
			curr = spread
			cumBuy = 0
			cumSell = 0
		}
	}
	return out
}
