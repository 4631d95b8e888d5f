package parsimon

import (
	"testing"

	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"
)

func TestDelayDistQuantiles(t *testing.T) {
	d, err := NewDelayDist([]float64{4, 2, 1, 3})
	require.NoError(t, err)
	require.Equal(t, []float64{1, 2, 3, 4}, d.Values())
	require.Equal(t, []float64{0.25, 0.25, 0.25, 0.25}, d.Weights())
	require.Equal(t, 1.0, d.Min())
	require.Equal(t, 4.0, d.Max())
	require.InDelta(t, 2.5, d.Mean(), 1e-12)

	require.Equal(t, 1.0, d.Quantile(0))
	require.Equal(t, 2.0, d.Quantile(0.5))
	require.Equal(t, 2.0, d.Quantile(0.3))
	require.Equal(t, 4.0, d.Quantile(0.99))
	require.Equal(t, 4.0, d.Quantile(1))

	p, err := d.Percentile(75)
	require.NoError(t, err)
	require.Equal(t, 3.0, p)
	_, err = d.Percentile(101)
	require.ErrorIs(t, err, ErrBadPercentile)

	require.Zero(t, d.CDF(0.5))
	require.Equal(t, 0.5, d.CDF(2))
	require.Equal(t, 0.5, d.CDF(2.5))
	require.Equal(t, 1.0, d.CDF(10))
}

func TestDelayDistRejectsBadInput(t *testing.T) {
	_, err := NewDelayDist(nil)
	require.ErrorIs(t, err, ErrNoSamples)
	_, err = NewWeightedDist([]float64{1, 2}, []float64{1})
	require.Error(t, err)
	_, err = NewWeightedDist([]float64{1}, []float64{-1})
	require.Error(t, err)
	_, err = NewWeightedDist([]float64{1, 2}, []float64{0, 0})
	require.Error(t, err)
}

func TestWeightedDistMergesAtoms(t *testing.T) {
	d, err := NewWeightedDist([]float64{5, 1, 5, 9}, []float64{1, 2, 1, 0})
	require.NoError(t, err)
	require.Equal(t, []float64{1, 5}, d.Values())
	require.Equal(t, []float64{0.5, 0.5}, d.Weights())
}

func TestComposeConstants(t *testing.T) {
	d, err := ComposeDists([]*DelayDist{ConstDist(10), ConstDist(32)}, DefaultMaxAtoms)
	require.NoError(t, err)
	require.True(t, d.Equal(ConstDist(42)))

	single := ConstDist(7)
	same, err := ComposeDists([]*DelayDist{single}, DefaultMaxAtoms)
	require.NoError(t, err)
	require.Same(t, single, same)

	_, err = ComposeDists(nil, DefaultMaxAtoms)
	require.ErrorIs(t, err, ErrNoSamples)
}

func TestConvolveExact(t *testing.T) {
	coin, err := NewDelayDist([]float64{0, 1})
	require.NoError(t, err)
	sum := coin.Convolve(coin, DefaultMaxAtoms)
	require.Equal(t, []float64{0, 1, 2}, sum.Values())
	require.Equal(t, []float64{0.25, 0.5, 0.25}, sum.Weights())

	shifted := coin.Convolve(ConstDist(100), DefaultMaxAtoms)
	require.Equal(t, []float64{100, 101}, shifted.Values())
}

func TestConvolveCompacts(t *testing.T) {
	samples := make([]float64, 100)
	for idx := range samples {
		samples[idx] = float64(idx)
	}
	d, err := NewDelayDist(samples)
	require.NoError(t, err)

	sum := d.Convolve(d, 64)
	require.LessOrEqual(t, sum.Len(), 64)
	require.InDelta(t, 1.0, floats.Sum(sum.Weights()), 1e-9)
	// buckets at mass-weighted means keep the mean; the maximum stays exact
	require.InDelta(t, 2*d.Mean(), sum.Mean(), 1e-6)
	require.GreaterOrEqual(t, sum.Min(), 0.0)
	require.Equal(t, 198.0, sum.Max())
	require.InDelta(t, 1e-4, sum.Weights()[sum.Len()-1], 1e-12)

	compact := d.Compact(10)
	require.LessOrEqual(t, compact.Len(), 10)
	require.InDelta(t, d.Mean(), compact.Mean(), 1e-9)
	require.Same(t, d, d.Compact(0))
}

// heavyTail is 1..99 ns plus a one percent outlier at 100 us
func heavyTail(t *testing.T) *DelayDist {
	t.Helper()
	samples := make([]float64, 0, 100)
	for v := 1; v < 100; v++ {
		samples = append(samples, float64(v))
	}
	d, err := NewDelayDist(append(samples, 100_000))
	require.NoError(t, err)
	return d
}

func TestConvolveKeepsBodyUnderHeavyTail(t *testing.T) {
	d := heavyTail(t)
	exact := d.Convolve(d, 0)
	require.Equal(t, 297, exact.Len())
	for q, want := range map[float64]float64{0.5: 101, 0.9: 159, 0.97: 185, 0.999: 100_095} {
		require.Equal(t, want, exact.Quantile(q), "q=%v", q)
	}

	// 10,000 pairwise sums but only 297 distinct ones, which fit the default bound
	require.True(t, exact.Equal(d.Convolve(d, DefaultMaxAtoms)))

	compact := d.Convolve(d, 64)
	require.LessOrEqual(t, compact.Len(), 64)
	require.InDelta(t, 101, compact.Quantile(0.5), 2)
	require.InDelta(t, 159, compact.Quantile(0.9), 3)
	require.InEpsilon(t, 185, compact.Quantile(0.97), 0.05)
	require.InEpsilon(t, 100_095, compact.Quantile(0.999), 1e-3)
	require.Equal(t, 200_000.0, compact.Max())
	require.InDelta(t, 1e-4, compact.Weights()[compact.Len()-1], 1e-12)
	require.InDelta(t, exact.Mean(), compact.Mean(), 1e-6)
}

func TestQuantileOfLargeSample(t *testing.T) {
	samples := make([]float64, 10_000)
	for idx := range samples {
		samples[idx] = float64(idx + 1)
	}
	d, err := NewDelayDist(samples)
	require.NoError(t, err)
	for p, want := range map[float64]float64{50: 5000, 90: 9000, 99: 9900, 99.99: 9999, 100: 10_000} {
		got, err := d.Percentile(p)
		require.NoError(t, err)
		require.Equal(t, want, got, "p%v", p)
	}
}

func TestMixture(t *testing.T) {
	mix, err := Mixture([]*DelayDist{ConstDist(1), ConstDist(3)}, DefaultMaxAtoms)
	require.NoError(t, err)
	require.Equal(t, []float64{1, 3}, mix.Values())
	require.Equal(t, []float64{0.5, 0.5}, mix.Weights())
	require.Equal(t, 3.0, mix.Quantile(0.99))

	_, err = Mixture(nil, DefaultMaxAtoms)
	require.ErrorIs(t, err, ErrNoSamples)
}

func TestDistDesc(t *testing.T) {
	d, err := NewWeightedDist([]float64{10, 20, 40}, []float64{1, 2, 1})
	require.NoError(t, err)
	again, err := d.Desc().Transform()
	require.NoError(t, err)
	require.True(t, d.Equal(again))
}
