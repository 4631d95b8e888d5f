package parsimon

// buckets.go holds link delays split by flow size.  When a link simulation reports
// the delay of every flow, the flows are grouped into size ranges and each range gets
// a distribution of packet-normalized samples: the delay a flow saw beyond its ideal
// transmission on the link, divided by its number of packets.  A query for a flow of
// any size picks the range holding that size and scales the samples back up by the
// flow's packet count.

import (
	"cmp"
	"errors"
	"fmt"
	"math"

	"golang.org/x/exp/slices"
)

// BucketOpts shapes the size ranges.  Every range but the last holds at least MinFlows
// flows, and its largest size is at least Ratio times its smallest.  The zero value
// selects DefaultBucketOpts.
type BucketOpts struct {
	Ratio    float64 `json:"ratio" yaml:"ratio"`
	MinFlows int     `json:"min_flows" yaml:"min_flows"`
}

func DefaultBucketOpts() BucketOpts {
	return BucketOpts{Ratio: 2, MinFlows: 100}
}

func (opts BucketOpts) orDefault() BucketOpts {
	if opts.Ratio <= 0 || opts.MinFlows <= 0 {
		return DefaultBucketOpts()
	}
	return opts
}

// maxBytes marks the open upper end of the last range
const maxBytes = Bytes(math.MaxUint64)

// SizeBucket holds the samples of flows whose sizes lie in [Lo, Hi)
type SizeBucket struct {
	Lo, Hi Bytes
	Dist   *DelayDist
}

// SizeBuckets covers every flow size with exactly one bucket
type SizeBuckets struct {
	buckets []SizeBucket // ordered by Lo, buckets[0].Lo == 0, last Hi == maxBytes
}

// NewSizeBuckets groups samples by the sizes at the same index.  Sizes are taken in
// increasing order and a range closes as soon as it satisfies opts; flows of the size
// that closed it all join it.  Whatever is left over forms the last range.
func NewSizeBuckets(sizes []Bytes, samples []float64, opts BucketOpts) (*SizeBuckets, error) {
	if len(sizes) != len(samples) {
		return nil, fmt.Errorf("%d sizes but %d samples", len(sizes), len(samples))
	}
	if len(sizes) == 0 {
		return nil, ErrNoSamples
	}
	opts = opts.orDefault()

	order := make([]int, len(sizes))
	for idx := range order {
		order[idx] = idx
	}
	slices.SortStableFunc(order, func(a, b int) int { return cmp.Compare(sizes[a], sizes[b]) })

	sb := new(SizeBuckets)
	acc := make([]float64, 0)
	accMin := Bytes(0)
	closeRange := func(hi Bytes) error {
		dist, err := NewDelayDist(acc)
		if err != nil {
			return err
		}
		sb.buckets = append(sb.buckets, SizeBucket{Lo: accMin, Hi: hi, Dist: dist})
		acc = acc[:0]
		accMin = hi
		return nil
	}

	for pos := 0; pos < len(order); pos++ {
		accMax := sizes[order[pos]]
		acc = append(acc, samples[order[pos]])
		if float64(accMin) > float64(accMax)/opts.Ratio || len(acc) < opts.MinFlows {
			continue
		}
		for pos+1 < len(order) && sizes[order[pos+1]] == accMax {
			pos++
			acc = append(acc, samples[order[pos]])
		}
		if err := closeRange(accMax + 1); err != nil {
			return nil, err
		}
	}
	if len(acc) > 0 {
		if err := closeRange(maxBytes); err != nil {
			return nil, err
		}
	}
	// sizes beyond the largest one seen share the last range
	sb.buckets[len(sb.buckets)-1].Hi = maxBytes
	return sb, nil
}

// ForSize returns the distribution of the range holding sz
func (sb *SizeBuckets) ForSize(sz Bytes) *DelayDist {
	idx, found := slices.BinarySearchFunc(sb.buckets, sz, func(b SizeBucket, target Bytes) int {
		return cmp.Compare(b.Lo, target)
	})
	if !found {
		idx--
	}
	return sb.buckets[idx].Dist
}

// Buckets returns the ranges in increasing order of size
func (sb *SizeBuckets) Buckets() []SizeBucket {
	return slices.Clone(sb.buckets)
}

// numPackets is the number of packets a flow of sz bytes is cut into, at least one
func numPackets(sz Bytes) Bytes {
	if sz == 0 {
		return 1
	}
	return (sz + SzPktMax - 1) / SzPktMax
}

// bucketFlowDelays turns the per-flow delays of one link simulation into size buckets
func bucketFlowDelays(desc *LinkSimDesc, delays []float64, opts BucketOpts) (*SizeBuckets, error) {
	sizes := make([]Bytes, len(desc.Flows))
	samples := make([]float64, len(desc.Flows))
	prop := float64(desc.Link.Delay)
	for idx, flow := range desc.Flows {
		ideal := desc.Link.TxTime(wireBytes(flow.Size)) + prop
		sizes[idx] = flow.Size
		samples[idx] = math.Max(delays[idx]-ideal, 0) / float64(numPackets(flow.Size))
	}
	return NewSizeBuckets(sizes, samples, opts)
}

// SizeBucketDesc is the serializable form of a SizeBucket
type SizeBucketDesc struct {
	Lo   uint64    `json:"lo" yaml:"lo"`
	Hi   uint64    `json:"hi" yaml:"hi"`
	Dist *DistDesc `json:"dist" yaml:"dist"`
}

func (sb *SizeBuckets) Desc() []SizeBucketDesc {
	descs := make([]SizeBucketDesc, 0, len(sb.buckets))
	for _, bucket := range sb.buckets {
		descs = append(descs, SizeBucketDesc{Lo: uint64(bucket.Lo), Hi: uint64(bucket.Hi), Dist: bucket.Dist.Desc()})
	}
	return descs
}

// TransformSizeBuckets rebuilds the buckets a list of SizeBucketDesc describes.  The
// ranges must start at 0, follow each other without gaps and end unbounded.
func TransformSizeBuckets(descs []SizeBucketDesc) (*SizeBuckets, error) {
	if len(descs) == 0 {
		return nil, errors.New("no size buckets")
	}
	sb := &SizeBuckets{buckets: make([]SizeBucket, 0, len(descs))}
	next := uint64(0)
	for idx, desc := range descs {
		if desc.Lo != next || desc.Hi <= desc.Lo {
			return nil, fmt.Errorf("size bucket %d covers [%d,%d), expected it to start at %d", idx, desc.Lo, desc.Hi, next)
		}
		if desc.Dist == nil {
			return nil, fmt.Errorf("size bucket %d has no distribution", idx)
		}
		dist, err := desc.Dist.Transform()
		if err != nil {
			return nil, fmt.Errorf("size bucket %d: %w", idx, err)
		}
		sb.buckets = append(sb.buckets, SizeBucket{Lo: Bytes(desc.Lo), Hi: Bytes(desc.Hi), Dist: dist})
		next = desc.Hi
	}
	if next != uint64(maxBytes) {
		return nil, fmt.Errorf("size buckets end at %d", next)
	}
	return sb, nil
}
