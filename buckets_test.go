package parsimon

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewSizeBuckets(t *testing.T) {
	sizes := []Bytes{1000, 100, 150, 5000, 200, 300, 100, 1000}
	samples := make([]float64, len(sizes))
	for idx, sz := range sizes {
		samples[idx] = float64(sz)
	}
	sb, err := NewSizeBuckets(sizes, samples, BucketOpts{Ratio: 2, MinFlows: 2})
	require.NoError(t, err)

	buckets := sb.Buckets()
	require.Len(t, buckets, 4)
	for idx, want := range [][2]Bytes{{0, 101}, {101, 301}, {301, 1001}, {1001, maxBytes}} {
		require.Equal(t, want[0], buckets[idx].Lo, "bucket %d", idx)
		require.Equal(t, want[1], buckets[idx].Hi, "bucket %d", idx)
	}
	require.Equal(t, []float64{100}, buckets[0].Dist.Values())
	require.Equal(t, []float64{150, 200, 300}, buckets[1].Dist.Values())
	require.Equal(t, []float64{1000}, buckets[2].Dist.Values())
	// the leftover flow forms the last range on its own
	require.Equal(t, []float64{5000}, buckets[3].Dist.Values())

	require.Same(t, buckets[0].Dist, sb.ForSize(0))
	require.Same(t, buckets[0].Dist, sb.ForSize(100))
	require.Same(t, buckets[1].Dist, sb.ForSize(101))
	require.Same(t, buckets[2].Dist, sb.ForSize(1000))
	require.Same(t, buckets[3].Dist, sb.ForSize(1001))
	require.Same(t, buckets[3].Dist, sb.ForSize(1<<40))
}

func TestSizeBucketsCoverLargerSizes(t *testing.T) {
	sb, err := NewSizeBuckets([]Bytes{10, 20}, []float64{1, 2}, BucketOpts{Ratio: 2, MinFlows: 2})
	require.NoError(t, err)
	buckets := sb.Buckets()
	require.Len(t, buckets, 1)
	require.Equal(t, maxBytes, buckets[0].Hi)
	require.Same(t, buckets[0].Dist, sb.ForSize(1_000_000))

	// too few flows for the default options: one range for everything
	sb, err = NewSizeBuckets([]Bytes{10, 20, 40_000}, []float64{1, 2, 3}, BucketOpts{})
	require.NoError(t, err)
	require.Len(t, sb.Buckets(), 1)

	_, err = NewSizeBuckets(nil, nil, BucketOpts{})
	require.ErrorIs(t, err, ErrNoSamples)
	_, err = NewSizeBuckets([]Bytes{1}, nil, BucketOpts{})
	require.Error(t, err)
}

func TestSizeBucketDescs(t *testing.T) {
	sb, err := NewSizeBuckets([]Bytes{100, 100, 500, 900}, []float64{1, 3, 5, 7}, BucketOpts{Ratio: 2, MinFlows: 2})
	require.NoError(t, err)
	again, err := TransformSizeBuckets(sb.Desc())
	require.NoError(t, err)
	require.Equal(t, sb.Desc(), again.Desc())

	descs := sb.Desc()
	descs[1].Lo++
	_, err = TransformSizeBuckets(descs)
	require.ErrorContains(t, err, "expected it to start at")

	descs = sb.Desc()
	descs[len(descs)-1].Hi = 5000
	_, err = TransformSizeBuckets(descs)
	require.ErrorContains(t, err, "end at 5000")

	_, err = TransformSizeBuckets(nil)
	require.Error(t, err)
}

func TestSimulateLinkBucketsFlowDelays(t *testing.T) {
	// fifo on one byte per ns: the small flows take 148 ns each, the two-packet
	// flow 2096 ns, all arriving together
	desc := &LinkSimDesc{Link: testLink, Flows: []LinkFlow{
		{ID: 0, Size: 100, Start: 0},
		{ID: 1, Size: 100, Start: 0},
		{ID: 2, Size: 2000, Start: 0},
	}}
	res, err := SimulateLink(&FlowQueueSim{Lanes: 1}, desc, BucketOpts{Ratio: 2, MinFlows: 2})
	require.NoError(t, err)
	requireAtoms(t, res.Dist, []float64{648, 796, 2892}, []float64{1.0 / 3.0, 1.0 / 3.0, 1.0 / 3.0})

	// delay beyond the ideal per packet: 0 and 148 for the small flows, 296/2 for the large one
	require.NotNil(t, res.Buckets)
	buckets := res.Buckets.Buckets()
	require.Len(t, buckets, 2)
	require.Equal(t, Bytes(101), buckets[0].Hi)
	requireAtoms(t, buckets[0].Dist, []float64{0, 148}, []float64{0.5, 0.5})
	requireAtoms(t, buckets[1].Dist, []float64{148}, []float64{1})

	// backends without per-flow delays give no buckets
	res, err = SimulateLink(&QueueModelSim{Model: "md1"}, desc, BucketOpts{})
	require.NoError(t, err)
	require.NotNil(t, res.Dist)
	require.Nil(t, res.Buckets)

	// an idle link queues nobody
	res, err = SimulateLink(IdealLinkSim{}, &LinkSimDesc{Link: testLink}, BucketOpts{})
	require.NoError(t, err)
	require.True(t, res.Dist.Equal(ConstDist(500)))
	require.NotNil(t, res.Buckets)
	require.True(t, res.Buckets.ForSize(123_456).Equal(ConstDist(0)))
}
