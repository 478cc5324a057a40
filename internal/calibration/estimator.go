package calibration

import (
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/quantfabric/mmpolicy/config"
	"github.com/quantfabric/mmpolicy/errs"
	"github.com/quantfabric/mmpolicy/internal/observability"
	"github.com/quantfabric/mmpolicy/internal/policy"
)

const secondsPerDay = 86400

// Estimator derives the solver inputs from spread change-point observations.
type Estimator struct {
	tick        decimal.Decimal
	maxSpread   decimal.Decimal
	volumeProxy float64
	bucketSec   int
}

// NewEstimator validates the calibration settings against the model tick.
func NewEstimator(cfg config.Calibration, tick float64) (*Estimator, error) {
	if tick <= 0 {
		return nil, errs.Invalid("calibration", "tick", "must be positive")
	}
	if cfg.VolumeProxy <= 0 {
		return nil, errs.Invalid("calibration", "volumeProxy", "must be positive")
	}
	if cfg.LambdaBucketSec <= 0 {
		return nil, errs.Invalid("calibration", "lambdaBucketSec", "must be positive")
	}
	tickDec := decimal.NewFromFloat(tick)
	maxDec := decimal.NewFromFloat(cfg.MaxMatrixSpread)
	if maxDec.LessThan(tickDec) {
		return nil, errs.Invalid("calibration", "maxMatrixSpread", "must cover at least one tick")
	}
	return &Estimator{
		tick:        tickDec,
		maxSpread:   maxDec,
		volumeProxy: cfg.VolumeProxy,
		bucketSec:   cfg.LambdaBucketSec,
	}, nil
}

// Estimate runs the full pipeline over raw level-1 records.
func (e *Estimator) Estimate(records []Record) (policy.Inputs, error) {
	obs := Changes(records)
	if len(obs) < 2 {
		return policy.Inputs{}, errs.New("calibration", errs.CodeCalibration,
			errs.WithMessage("need at least two spread change-points"),
			errs.WithField("observations"),
			errs.WithValue(strconv.Itoa(len(obs))))
	}
	matrix, err := e.TransitionMatrix(obs)
	if err != nil {
		return policy.Inputs{}, err
	}
	lambda := e.JumpIntensity(obs)
	bid, ask := e.ExecutionProxies(obs)
	observability.Log().Info("calibration finished",
		observability.F("observations", len(obs)),
		observability.F("spreadStates", len(matrix)))
	return policy.Inputs{
		Transition:    matrix,
		JumpIntensity: lambda,
		ProxiesBid:    bid,
		ProxiesAsk:    ask,
	}, nil
}

// TransitionMatrix counts spread transitions between consecutive
// change-points and normalizes each row into probabilities. Rows for spread
// states that were never left fall back to a uniform distribution, so every
// row is stochastic. The dimension is the largest observed spread in ticks,
// capped by the configured maximum.
func (e *Estimator) TransitionMatrix(obs []Observation) ([][]float64, error) {
	maxTicks := 0
	for _, o := range obs {
		t := int(o.Spread().Div(e.tick).IntPart())
		if t > maxTicks {
			maxTicks = t
		}
	}
	capTicks := int(e.maxSpread.Div(e.tick).IntPart())
	if maxTicks > capTicks {
		maxTicks = capTicks
	}
	if maxTicks < 1 {
		return nil, errs.New("calibration", errs.CodeCalibration,
			errs.WithMessage("no spread reached one tick"))
	}

	counts := make([][]float64, maxTicks)
	for i := range counts {
		counts[i] = make([]float64, maxTicks)
	}
	for i := 0; i+1 < len(obs); i++ {
		from := int(obs[i].Spread().Div(e.tick).IntPart())
		to := int(obs[i+1].Spread().Div(e.tick).IntPart())
		if from < 1 || from > maxTicks || to < 1 || to > maxTicks {
			continue
		}
		counts[from-1][to-1]++
	}

	for i := range counts {
		total := 0.0
		for _, c := range counts[i] {
			total += c
		}
		if total == 0 {
			for j := range counts[i] {
				counts[i][j] = 1 / float64(maxTicks)
			}
			continue
		}
		for j := range counts[i] {
			counts[i][j] /= total
		}
	}
	return counts, nil
}

// JumpIntensity buckets the change-points by seconds of day and reports the
// change rate per second in each bucket. The day boundary is the UTC
// midnight before the first observation.
func (e *Estimator) JumpIntensity(obs []Observation) map[int]float64 {
	dayStart := obs[0].Date - obs[0].Date%(secondsPerDay*1000)
	out := make(map[int]float64)
	for i := 0; i <= secondsPerDay/e.bucketSec; i++ {
		lo := float64(i * e.bucketSec)
		hi := float64((i + 1) * e.bucketSec)
		n := 0
		for _, o := range obs {
			sec := float64(o.Date-dayStart) / 1000
			if sec >= lo && sec < hi {
				n++
			}
		}
		out[i*e.bucketSec] = float64(n) / float64(e.bucketSec)
	}
	return out
}

// ExecutionProxies estimates the four execution intensities, keyed by the
// spread (as a tick multiple) quoted before each change-point.
//
// An improving quote is deemed executed when more than the typical volume
// traded against its side before the spread moved; a quote at the best must
// additionally wait behind the volume already resting there.
func (e *Estimator) ExecutionProxies(obs []Observation) (map[policy.BidStyle]map[int]float64, map[policy.AskStyle]map[int]float64) {
	bid := map[policy.BidStyle]map[int]float64{
		policy.BidAtBest:  {},
		policy.BidImprove: {},
	}
	ask := map[policy.AskStyle]map[int]float64{
		policy.AskAtBest:  {},
		policy.AskImprove: {},
	}
	elapsed := make(map[int]float64) // seconds spent at each spread state

	for i := 1; i < len(obs); i++ {
		prev := obs[i-1]
		cur := obs[i]
		state := int(prev.Spread().Div(e.tick).IntPart())

		if e.volumeProxy < cur.CumSellMarketOrders {
			bid[policy.BidImprove][state]++
		}
		if e.volumeProxy+prev.BidAmount < cur.CumSellMarketOrders {
			bid[policy.BidAtBest][state]++
		}
		if e.volumeProxy < cur.CumBuyMarketOrders {
			ask[policy.AskImprove][state]++
		}
		if e.volumeProxy+prev.AskAmount < cur.CumBuyMarketOrders {
			ask[policy.AskAtBest][state]++
		}
		elapsed[state] += float64(cur.Date-prev.Date) / 1000
	}

	for _, proxies := range bid {
		normalizeByElapsed(proxies, elapsed)
	}
	for _, proxies := range ask {
		normalizeByElapsed(proxies, elapsed)
	}
	return bid, ask
}

func normalizeByElapsed(counts map[int]float64, elapsed map[int]float64) {
	for state, c := range counts {
		t := elapsed[state]
		if t <= 0 {
			delete(counts, state)
			continue
		}
		counts[state] = c / t
	}
}
