package parsimon

// linksim.go holds the link simulation interface and the simplest backend.

import (
	"fmt"
)

// LinkSim is a pluggable link simulation backend.  Simulate must be deterministic in
// its input and safe to call from several goroutines at once; the returned distribution
// covers the per-flow delays (transmission, queueing and propagation) on that link.
type LinkSim interface {
	Name() string
	Simulate(desc *LinkSimDesc) (*DelayDist, error)
}

// FlowDelaySim is a LinkSim that can also report the delay of each flow, in the
// order of desc.Flows.  Those delays feed the size-bucketed link distributions.
type FlowDelaySim interface {
	LinkSim
	FlowDelays(desc *LinkSimDesc) ([]float64, error)
}

// LinkResult is what the simulation of one link yields.  Buckets is nil when the
// backend reports no per-flow delays.
type LinkResult struct {
	Dist    *DelayDist
	Buckets *SizeBuckets
}

// SimulateLink runs sim on desc, and buckets the flows' delays by size when sim reports them
func SimulateLink(sim LinkSim, desc *LinkSimDesc, opts BucketOpts) (*LinkResult, error) {
	fds, ok := sim.(FlowDelaySim)
	if !ok || len(desc.Flows) == 0 {
		dist, err := sim.Simulate(desc)
		if err != nil {
			return nil, err
		}
		res := &LinkResult{Dist: dist}
		if ok {
			// an idle link adds nothing beyond the ideal
			res.Buckets = &SizeBuckets{buckets: []SizeBucket{{Lo: 0, Hi: maxBytes, Dist: ConstDist(0)}}}
		}
		return res, nil
	}

	delays, err := fds.FlowDelays(desc)
	if err != nil {
		return nil, err
	}
	if len(delays) != len(desc.Flows) {
		return nil, fmt.Errorf("link %d: %s reported %d delays for %d flows",
			desc.Link.ID, sim.Name(), len(delays), len(desc.Flows))
	}
	dist, err := NewDelayDist(delays)
	if err != nil {
		return nil, err
	}
	buckets, err := bucketFlowDelays(desc, delays, opts)
	if err != nil {
		return nil, fmt.Errorf("link %d: %w", desc.Link.ID, err)
	}
	return &LinkResult{Dist: dist, Buckets: buckets}, nil
}

// wireBytes is the number of bytes a flow of sz payload bytes puts on the wire
func wireBytes(sz Bytes) Bytes {
	if sz == 0 {
		return 0
	}
	nPkts := (sz + SzPktMax - 1) / SzPktMax
	return sz + nPkts*SzPktHdr
}

// IdealLinkSim ignores interactions between flows: each flow's delay is its own
// packetized transmission time plus the propagation delay
type IdealLinkSim struct{}

func (IdealLinkSim) Name() string { return "ideal" }

func (sim IdealLinkSim) Simulate(desc *LinkSimDesc) (*DelayDist, error) {
	if len(desc.Flows) == 0 {
		return ConstDist(float64(desc.Link.Delay)), nil
	}
	samples, err := sim.FlowDelays(desc)
	if err != nil {
		return nil, err
	}
	return NewDelayDist(samples)
}

func (IdealLinkSim) FlowDelays(desc *LinkSimDesc) ([]float64, error) {
	prop := float64(desc.Link.Delay)
	samples := make([]float64, 0, len(desc.Flows))
	for _, flow := range desc.Flows {
		samples = append(samples, desc.Link.TxTime(wireBytes(flow.Size))+prop)
	}
	return samples, nil
}

// NewLinkSim returns the link simulation backend the configuration names
func NewLinkSim(cfg LinkSimConfig) (LinkSim, error) {
	switch cfg.Model {
	case "", "ideal":
		return IdealLinkSim{}, nil
	case "fifo", "rr":
		return &FlowQueueSim{Lanes: cfg.Lanes, Quantum: Bytes(cfg.Quantum)}, nil
	case "mm1", "md1":
		return &QueueModelSim{Model: cfg.Model, Points: cfg.Points}, nil
	}
	return nil, fmt.Errorf("unknown link simulation model %q", cfg.Model)
}
