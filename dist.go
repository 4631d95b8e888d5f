package parsimon

// dist.go holds the discrete delay distributions that link simulations produce
// and that aggregation composes along flow paths.
//
// A DelayDist is a finite set of atoms: strictly increasing support values (nanoseconds)
// with probability weights summing to 1.  Distributions are never modified once
// built, so they are shared freely between links, clusters and goroutines.

import (
	"container/heap"
	"errors"
	"fmt"
	"math"

	"golang.org/x/exp/slices"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// DefaultMaxAtoms bounds the support of a composed distribution
const DefaultMaxAtoms = 2048

type DelayDist struct {
	values  []float64
	weights []float64
	cdf     []float64 // cumulative weights, cdf[len-1] == 1
}

// NewDelayDist returns the empirical distribution of the samples, each weighing the same
func NewDelayDist(samples []float64) (*DelayDist, error) {
	if len(samples) == 0 {
		return nil, ErrNoSamples
	}
	weights := make([]float64, len(samples))
	for idx := range weights {
		weights[idx] = 1.0
	}
	return NewWeightedDist(samples, weights)
}

// NewWeightedDist builds a distribution from atoms given in any order.  Atoms with
// equal values are merged and the weights are normalized.
func NewWeightedDist(values, weights []float64) (*DelayDist, error) {
	if len(values) != len(weights) {
		return nil, fmt.Errorf("distribution has %d values but %d weights", len(values), len(weights))
	}
	if len(values) == 0 {
		return nil, ErrNoSamples
	}
	for idx, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("distribution value %d is not finite", idx)
		}
		if !(weights[idx] >= 0) || math.IsInf(weights[idx], 0) {
			return nil, fmt.Errorf("distribution weight %d is not a finite non-negative number", idx)
		}
	}
	if !(floats.Sum(weights) > 0) {
		return nil, errors.New("distribution weights sum to zero")
	}
	return normalizeAtoms(slices.Clone(values), slices.Clone(weights)), nil
}

// ConstDist is the distribution putting all its mass on v
func ConstDist(v float64) *DelayDist {
	return &DelayDist{values: []float64{v}, weights: []float64{1.0}, cdf: []float64{1.0}}
}

// normalizeAtoms sorts values (in place) carrying their weights along, merges equal values,
// drops massless atoms and scales the weights to sum to 1
func normalizeAtoms(values, weights []float64) *DelayDist {
	inds := make([]int, len(values))
	floats.Argsort(values, inds)

	d := &DelayDist{values: make([]float64, 0, len(values)), weights: make([]float64, 0, len(values))}
	for pos, idx := range inds {
		w := weights[idx]
		if w == 0 {
			continue
		}
		last := len(d.values) - 1
		if last >= 0 && d.values[last] == values[pos] {
			d.weights[last] += w
			continue
		}
		d.values = append(d.values, values[pos])
		d.weights = append(d.weights, w)
	}
	floats.Scale(1.0/floats.Sum(d.weights), d.weights)
	d.buildCDF()
	return d
}

func (d *DelayDist) buildCDF() {
	d.cdf = make([]float64, len(d.weights))
	floats.CumSum(d.cdf, d.weights)
	// pin the last entry so quantile lookups never run off the end
	d.cdf[len(d.cdf)-1] = 1.0
}

// Len is the number of atoms
func (d *DelayDist) Len() int {
	return len(d.values)
}

// Values returns a copy of the support, in increasing order
func (d *DelayDist) Values() []float64 {
	return slices.Clone(d.values)
}

// Weights returns a copy of the probabilities matching Values
func (d *DelayDist) Weights() []float64 {
	return slices.Clone(d.weights)
}

func (d *DelayDist) Min() float64 {
	return d.values[0]
}

func (d *DelayDist) Max() float64 {
	return d.values[len(d.values)-1]
}

func (d *DelayDist) Mean() float64 {
	return stat.Mean(d.values, d.weights)
}

func (d *DelayDist) StdDev() float64 {
	if len(d.values) < 2 {
		return 0.0
	}
	_, std := stat.PopMeanStdDev(d.values, d.weights)
	return std
}

// cdfTolerance absorbs the rounding drift of the cumulative weights
const cdfTolerance = 1e-9

// Quantile returns the smallest support value whose cumulative probability reaches q, q in [0,1]
func (d *DelayDist) Quantile(q float64) float64 {
	if q <= 0 {
		return d.values[0]
	}
	if q >= 1 {
		return d.values[len(d.values)-1]
	}
	idx, _ := slices.BinarySearch(d.cdf, q-cdfTolerance)
	if idx >= len(d.values) {
		idx = len(d.values) - 1
	}
	return d.values[idx]
}

// Percentile is Quantile with p expressed in [0,100]
func (d *DelayDist) Percentile(p float64) (float64, error) {
	if !(p >= 0 && p <= 100) {
		return 0, fmt.Errorf("%w: %v", ErrBadPercentile, p)
	}
	return d.Quantile(p / 100.0), nil
}

// CDF gives the probability of a delay no larger than x
func (d *DelayDist) CDF(x float64) float64 {
	idx, found := slices.BinarySearch(d.values, x)
	if found {
		return d.cdf[idx]
	}
	if idx == 0 {
		return 0.0
	}
	return d.cdf[idx-1]
}

// Equal reports whether both distributions have exactly the same atoms
func (d *DelayDist) Equal(o *DelayDist) bool {
	return slices.Equal(d.values, o.values) && slices.Equal(d.weights, o.weights)
}

// Shift returns the distribution of X+c
func (d *DelayDist) Shift(c float64) *DelayDist {
	values := slices.Clone(d.values)
	floats.AddConst(c, values)
	return &DelayDist{values: values, weights: d.weights, cdf: d.cdf}
}

// Scale returns the distribution of c*X, c > 0
func (d *DelayDist) Scale(c float64) *DelayDist {
	values := slices.Clone(d.values)
	floats.Scale(c, values)
	return &DelayDist{values: values, weights: d.weights, cdf: d.cdf}
}

// Convolve returns the distribution of X+Y for independent X ~ d and Y ~ o.
// When the exact result has more than maxAtoms atoms it is compacted as Compact does,
// so the largest sum keeps its exact value and probability.  maxAtoms <= 0 disables
// compaction.
func (d *DelayDist) Convolve(o *DelayDist, maxAtoms int) *DelayDist {
	n, m := len(d.values), len(o.values)
	if n == 1 {
		return o.Shift(d.values[0])
	}
	if m == 1 {
		return d.Shift(o.values[0])
	}

	if maxAtoms <= 0 || n*m <= maxAtoms {
		values := make([]float64, 0, n*m)
		weights := make([]float64, 0, n*m)
		for i := 0; i < n; i++ {
			for j := 0; j < m; j++ {
				values = append(values, d.values[i]+o.values[j])
				weights = append(weights, d.weights[i]*o.weights[j])
			}
		}
		return normalizeAtoms(values, weights)
	}

	// keep the sums exact until there are too many distinct ones
	cpt := newCompactor(d.Min()+o.Min(), d.Max()+o.Max(), 1-d.weights[n-1]*o.weights[m-1], maxAtoms)
	values := make([]float64, 0, maxAtoms+1)
	weights := make([]float64, 0, maxAtoms+1)
	compacting := false
	d.eachSum(o, func(v, w float64) {
		if compacting {
			cpt.add(v, w)
			return
		}
		values = append(values, v)
		weights = append(weights, w)
		if len(values) > maxAtoms {
			compacting = true
			for idx := range values {
				cpt.add(values[idx], weights[idx])
			}
		}
	})
	if compacting {
		return cpt.dist()
	}
	return normalizeAtoms(values, weights)
}

// Compact returns d reduced to at most max(maxAtoms, 2) atoms.  Adjacent atoms are
// merged into buckets that close at every 2/maxAtoms of probability and at every
// log-spaced band of delay, so the body and a long tail both keep their resolution.
// Each bucket becomes one atom at its mass-weighted mean and the maximum is kept exact.
func (d *DelayDist) Compact(maxAtoms int) *DelayDist {
	if maxAtoms <= 0 || len(d.values) <= maxAtoms {
		return d
	}
	last := len(d.values) - 1
	cpt := newCompactor(d.Min(), d.Max(), 1-d.weights[last], maxAtoms)
	for idx, v := range d.values {
		cpt.add(v, d.weights[idx])
	}
	return cpt.dist()
}

// ComposeDists convolves the distributions in order.  A single distribution is returned unchanged.
func ComposeDists(dists []*DelayDist, maxAtoms int) (*DelayDist, error) {
	if len(dists) == 0 {
		return nil, ErrNoSamples
	}
	acc := dists[0]
	for _, d := range dists[1:] {
		acc = acc.Convolve(d, maxAtoms)
	}
	return acc, nil
}

// Mixture returns the equal-weight mixture of the distributions, compacted to maxAtoms
func Mixture(dists []*DelayDist, maxAtoms int) (*DelayDist, error) {
	if len(dists) == 0 {
		return nil, ErrNoSamples
	}
	if len(dists) == 1 {
		return dists[0].Compact(maxAtoms), nil
	}
	values := make([]float64, 0)
	weights := make([]float64, 0)
	for _, d := range dists {
		values = append(values, d.values...)
		weights = append(weights, d.weights...)
	}
	return normalizeAtoms(values, weights).Compact(maxAtoms), nil
}

// compactor merges atoms, added in increasing order, into buckets keyed by a mass band
// and a value band.  Both keys only grow, so the buckets number at most
// massBands+valueBands-1, plus one for the maximum.
type compactor struct {
	lo, hi     float64
	bodyMass   float64 // mass below hi
	massBands  int
	valueBands int
	step       float64 // width of a value band in log1p(v-lo)

	cum          float64
	key          [2]int
	mass, moment float64
	topMass      float64

	values  []float64
	weights []float64
}

func newCompactor(lo, hi, bodyMass float64, k int) *compactor {
	cpt := &compactor{lo: lo, hi: hi, bodyMass: bodyMass, massBands: max(1, k/2), key: [2]int{-1, -1}}
	cpt.valueBands = max(1, k-1-cpt.massBands)
	cpt.step = math.Log1p(hi-lo) / float64(cpt.valueBands)
	return cpt
}

func (cpt *compactor) add(v, w float64) {
	if v >= cpt.hi {
		cpt.topMass += w
		return
	}
	mb, vb := 0, 0
	if cpt.bodyMass > 0 {
		mb = min(int(cpt.cum/cpt.bodyMass*float64(cpt.massBands)), cpt.massBands-1)
	}
	if cpt.step > 0 {
		vb = min(int(math.Log1p(v-cpt.lo)/cpt.step), cpt.valueBands-1)
	}
	cpt.cum += w

	if key := [2]int{mb, vb}; key != cpt.key {
		cpt.flush()
		cpt.key = key
	}
	cpt.mass += w
	cpt.moment += w * v
}

func (cpt *compactor) flush() {
	if cpt.mass > 0 {
		cpt.values = append(cpt.values, cpt.moment/cpt.mass)
		cpt.weights = append(cpt.weights, cpt.mass)
	}
	cpt.mass, cpt.moment = 0, 0
}

func (cpt *compactor) dist() *DelayDist {
	cpt.flush()
	if cpt.topMass > 0 {
		cpt.values = append(cpt.values, cpt.hi)
		cpt.weights = append(cpt.weights, cpt.topMass)
	}
	return normalizeAtoms(cpt.values, cpt.weights)
}

// sumHead is the next pairwise sum of row i of a convolution
type sumHead struct {
	i, j int
	v    float64
}

type sumHeap []sumHead

func (h sumHeap) Len() int { return len(h) }

func (h sumHeap) Less(a, b int) bool {
	if h[a].v != h[b].v {
		return h[a].v < h[b].v
	}
	return h[a].i < h[b].i
}

func (h sumHeap) Swap(a, b int) { h[a], h[b] = h[b], h[a] }

func (h *sumHeap) Push(x any) { *h = append(*h, x.(sumHead)) }

func (h *sumHeap) Pop() any {
	old := *h
	x := old[len(old)-1]
	*h = old[:len(old)-1]
	return x
}

// eachSum calls fn on the pairwise sums of d and o in increasing order, equal sums merged
func (d *DelayDist) eachSum(o *DelayDist, fn func(v, w float64)) {
	h := make(sumHeap, 0, len(d.values))
	for i, v := range d.values {
		h = append(h, sumHead{i: i, v: v + o.values[0]})
	}
	heap.Init(&h)

	started := false
	var pending, mass float64
	for h.Len() > 0 {
		top := h[0]
		if started && top.v != pending {
			fn(pending, mass)
			mass = 0
		}
		started = true
		pending = top.v
		mass += d.weights[top.i] * o.weights[top.j]

		if top.j+1 < len(o.values) {
			h[0] = sumHead{i: top.i, j: top.j + 1, v: d.values[top.i] + o.values[top.j+1]}
			heap.Fix(&h, 0)
		} else {
			heap.Pop(&h)
		}
	}
	fn(pending, mass)
}

// DistDesc is the serializable form of a DelayDist
type DistDesc struct {
	Values  []float64 `json:"values" yaml:"values"`
	Weights []float64 `json:"weights" yaml:"weights"`
}

// Desc returns the serializable form of d
func (d *DelayDist) Desc() *DistDesc {
	return &DistDesc{Values: d.Values(), Weights: d.Weights()}
}

// Transform rebuilds the distribution a DistDesc describes
func (dd *DistDesc) Transform() (*DelayDist, error) {
	return NewWeightedDist(dd.Values, dd.Weights)
}
