package service

import (
	"math"
	"sort"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// minRelativeStd is the spread below which demand is treated as constant
const minRelativeStd = 1e-9

// demandSampler draws non-negative daily demand with a fixed mean and
// standard deviation from a gamma distribution. A zero spread always yields
// the mean.
type demandSampler struct {
	mean  float64
	gamma *distuv.Gamma
}

// newDemandSampler matches a gamma to mean and std. src drives every draw,
// so a seeded source gives a reproducible sequence.
func newDemandSampler(mean, std float64, src rand.Source) demandSampler {
	if mean <= 0 || std <= mean*minRelativeStd {
		return demandSampler{mean: math.Max(mean, 0)}
	}
	variance := std * std
	return demandSampler{
		mean: mean,
		gamma: &distuv.Gamma{
			Alpha: mean * mean / variance,
			Beta:  mean / variance,
			Src:   src,
		},
	}
}

func (s demandSampler) degenerate() bool {
	return s.gamma == nil
}

func (s demandSampler) draw() float64 {
	if s.degenerate() {
		return s.mean
	}
	return s.gamma.Rand()
}

// percentiles returns the requested percentiles (0-100) of values.
// values is sorted in place.
func percentiles(values []float64, ps ...float64) []float64 {
	out := make([]float64, len(ps))
	if len(values) == 0 {
		return out
	}
	sort.Float64s(values)
	for i, p := range ps {
		out[i] = stat.Quantile(p/100, stat.LinInterp, values, nil)
	}
	return out
}

// weightedMoments returns the weighted mean and population standard
// deviation of daily, where daily[age] is the quantity sold age days before
// the reference day and carries weight (1-decay)^age.
func weightedMoments(daily []float64, decay float64) (mean, std float64) {
	if len(daily) == 0 {
		return 0, 0
	}
	weights := make([]float64, len(daily))
	w := 1.0
	for i := range weights {
		weights[i] = w
		w *= 1 - decay
	}
	return stat.PopMeanStdDev(daily, weights)
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
