// Package ledger tracks open long and short positions as price-keyed lots and
// realizes cash when executions close them.
package ledger

import (
	"sort"
	"strconv"

	"github.com/quantfabric/mmpolicy/errs"
)

type lot struct {
	entry  float64
	volume float64
}

// Book holds the open lots of one simulation run. Buys close shorts starting
// from the highest entry price; sells close longs starting from the lowest.
// Realized cash accumulates as (entry-price)*matched/price on buys and
// (price-entry)*matched/price on sells.
//
// A Book is not safe for concurrent use; each run owns its own.
type Book struct {
	longs  []lot // ascending entry
	shorts []lot // descending entry
	cash   float64
}

// New returns an empty book.
func New() *Book {
	return &Book{longs: nil, shorts: nil, cash: 0}
}

// Cash returns the realized profit and loss.
func (b *Book) Cash() float64 { return b.cash }

// Inventory returns the signed open position: long volume minus short volume.
func (b *Book) Inventory() float64 {
	total := 0.0
	for _, l := range b.longs {
		total += l.volume
	}
	for _, s := range b.shorts {
		total -= s.volume
	}
	return total
}

// Buy executes a purchase of volume shares at price. Open shorts are closed
// first, highest entry first; any remainder opens a long lot at price.
func (b *Book) Buy(price, volume float64) error {
	if err := checkExec(price, volume); err != nil {
		return err
	}
	remaining := volume
	for len(b.shorts) > 0 && remaining > 0 {
		top := &b.shorts[0]
		matched := remaining
		if top.volume < matched {
			matched = top.volume
		}
		b.cash += (top.entry - price) * matched / price
		top.volume -= matched
		remaining -= matched
		if top.volume <= 0 {
			b.shorts = b.shorts[1:]
		}
	}
	if remaining > 0 {
		b.longs = addLot(b.longs, price, remaining, false)
	}
	return nil
}

// Sell executes a sale of volume shares at price. Open longs are closed
// first, lowest entry first; any remainder opens a short lot at price.
func (b *Book) Sell(price, volume float64) error {
	if err := checkExec(price, volume); err != nil {
		return err
	}
	remaining := volume
	for len(b.longs) > 0 && remaining > 0 {
		bottom := &b.longs[0]
		matched := remaining
		if bottom.volume < matched {
			matched = bottom.volume
		}
		b.cash += (price - bottom.entry) * matched / price
		bottom.volume -= matched
		remaining -= matched
		if bottom.volume <= 0 {
			b.longs = b.longs[1:]
		}
	}
	if remaining > 0 {
		b.shorts = addLot(b.shorts, price, remaining, true)
	}
	return nil
}

func checkExec(price, volume float64) error {
	if price <= 0 {
		return errs.New("ledger", errs.CodeInvalid,
			errs.WithField("price"),
			errs.WithMessage("must be positive"),
			errs.WithValue(strconv.FormatFloat(price, 'g', -1, 64)))
	}
	if volume < 0 {
		return errs.New("ledger", errs.CodeInvalid,
			errs.WithField("volume"),
			errs.WithMessage("must be non-negative"),
			errs.WithValue(strconv.FormatFloat(volume, 'g', -1, 64)))
	}
	return nil
}

// addLot merges volume into the lot at entry, inserting a new lot in sorted
// position when no lot with that entry exists. desc selects the short-side
// ordering.
func addLot(lots []lot, entry, volume float64, desc bool) []lot {
	i := sort.Search(len(lots), func(k int) bool {
		if desc {
			return lots[k].entry <= entry
		}
		return lots[k].entry >= entry
	})
	if i < len(lots) && lots[i].entry == entry {
		lots[i].volume += volume
		return lots
	}
	lots = append(lots, lot{})
	copy(lots[i+1:], lots[i:])
	lots[i] = lot{entry: entry, volume: volume}
	return lots
}
