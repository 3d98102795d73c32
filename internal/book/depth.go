package book

import (
	"math"

	"github.com/alanyoungcy/clobwatch/internal/domain"
)

// DefaultTicksAroundSpread is the total width, in tick buckets, of the depth
// projection window around the spread midpoint.
const DefaultTicksAroundSpread = 20

// projectDepth builds the cumulative depth curve for a chart: each bucket on
// the bid side carries the total size available at or above that price, each
// bucket on the ask side the total at or below, with the running total carried
// forward across empty buckets. The window covers ticksAround buckets centered
// on the midpoint for a healthy two-sided book; a one-sided or crossed book
// falls back to the observed price range padded by half the window per side.
// Buckets are clamped to the [0, 1] probability range. Points come back in
// ascending price order, bids first.
func projectDepth(bids, asks []domain.BookLevel, tick float64, ticksAround int) []domain.DepthPoint {
	if len(bids) == 0 && len(asks) == 0 {
		return nil
	}
	if tick <= 0 {
		tick = DefaultTickSize
	}
	if ticksAround <= 0 {
		ticksAround = DefaultTicksAroundSpread
	}
	half := ticksAround / 2

	bucket := func(price float64) int { return int(math.Round(price / tick)) }

	var bestBid, bestAsk float64
	if len(bids) > 0 {
		bestBid = bids[0].Price
	}
	if len(asks) > 0 {
		bestAsk = asks[0].Price
	}

	var lo, hi int
	if bestBid > 0 && bestAsk > 0 && bestBid < bestAsk {
		mid := bucket((bestBid + bestAsk) / 2)
		lo, hi = mid-half, mid+half
	} else {
		minP, maxP := math.Inf(1), math.Inf(-1)
		for _, l := range bids {
			minP = math.Min(minP, l.Price)
			maxP = math.Max(maxP, l.Price)
		}
		for _, l := range asks {
			minP = math.Min(minP, l.Price)
			maxP = math.Max(maxP, l.Price)
		}
		lo, hi = bucket(minP)-half, bucket(maxP)+half
	}

	maxBucket := bucket(1.0)
	if lo < 0 {
		lo = 0
	}
	if hi > maxBucket {
		hi = maxBucket
	}

	bidSize := make(map[int]float64, len(bids))
	for _, l := range bids {
		bidSize[bucket(l.Price)] += l.Size
	}
	askSize := make(map[int]float64, len(asks))
	for _, l := range asks {
		askSize[bucket(l.Price)] += l.Size
	}

	var points []domain.DepthPoint

	if len(bids) > 0 {
		cum := 0.0
		start := bucket(bestBid)
		if start > hi {
			start = hi
			// Levels above the window still count toward the running total.
			for t, s := range bidSize {
				if t > hi {
					cum += s
				}
			}
		}
		descending := make([]domain.DepthPoint, 0, start-lo+1)
		for t := start; t >= lo; t-- {
			cum += bidSize[t]
			if cum > 0 {
				descending = append(descending, domain.DepthPoint{
					Price: float64(t) * tick,
					Depth: cum,
					Side:  domain.SideBid,
				})
			}
		}
		for i := len(descending) - 1; i >= 0; i-- {
			points = append(points, descending[i])
		}
	}

	if len(asks) > 0 {
		cum := 0.0
		start := bucket(bestAsk)
		if start < lo {
			start = lo
			for t, s := range askSize {
				if t < lo {
					cum += s
				}
			}
		}
		for t := start; t <= hi; t++ {
			cum += askSize[t]
			if cum > 0 {
				points = append(points, domain.DepthPoint{
					Price: float64(t) * tick,
					Depth: cum,
					Side:  domain.SideAsk,
				})
			}
		}
	}

	return points
}
