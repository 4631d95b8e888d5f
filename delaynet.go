package parsimon

// delaynet.go holds the result of a run and the queries it answers.
// A DelayNetwork is never modified after Aggregate returns it, so queries need
// no locking and may come from any number of goroutines.

import (
	"fmt"
	"math"
	"strconv"

	units "github.com/docker/go-units"
)

type DelayNetwork struct {
	net         *Network
	clusters    []Cluster
	linkDists   map[LinkID]*DelayDist
	linkBuckets map[LinkID]*SizeBuckets
	flowDists   map[FlowID]*DelayDist
	maxAtoms    int
	runID       string
}

func (dn *DelayNetwork) Network() *Network {
	return dn.net
}

func (dn *DelayNetwork) Clusters() []Cluster {
	return dn.clusters
}

func (dn *DelayNetwork) RunID() string {
	return dn.runID
}

func (dn *DelayNetwork) Stage() Stage {
	return StageAggregated
}

// FlowDist returns the estimated completion-time distribution of a flow
func (dn *DelayNetwork) FlowDist(id FlowID) (*DelayDist, bool) {
	dist, present := dn.flowDists[id]
	return dist, present
}

// LinkDist returns the delay distribution a link inherited from its cluster
func (dn *DelayNetwork) LinkDist(id LinkID) (*DelayDist, bool) {
	dist, present := dn.linkDists[id]
	return dist, present
}

// LinkBuckets returns the size-bucketed delays a link inherited from its cluster
func (dn *DelayNetwork) LinkBuckets(id LinkID) (*SizeBuckets, bool) {
	buckets, present := dn.linkBuckets[id]
	return buckets, present
}

// FlowPercentile returns the p-th percentile (p in [0,100]) of a flow's completion time, in ns
func (dn *DelayNetwork) FlowPercentile(id FlowID, p float64) (float64, error) {
	dist, present := dn.flowDists[id]
	if !present {
		return 0, fmt.Errorf("%w: %d", ErrUnknownFlow, id)
	}
	return dist.Percentile(p)
}

// GroupDist returns the equal-weight mixture of the distributions of the selected flows
func (dn *DelayNetwork) GroupDist(sel FlowSelector) (*DelayDist, error) {
	dists := make([]*DelayDist, 0)
	for _, flow := range dn.net.Flows() {
		if sel(flow) {
			dists = append(dists, dn.flowDists[flow.ID])
		}
	}
	if len(dists) == 0 {
		return nil, ErrEmptyGroup
	}
	return Mixture(dists, dn.maxAtoms)
}

// GroupPercentile returns the p-th percentile of the completion time of a flow drawn
// uniformly from the selected ones
func (dn *DelayNetwork) GroupPercentile(sel FlowSelector, p float64) (float64, error) {
	dist, err := dn.GroupDist(sel)
	if err != nil {
		return 0, err
	}
	return dist.Percentile(p)
}

// IdealFCT is the completion time of a flow alone in the network: its first packet
// is stored and forwarded on every hop, the rest streams at the bottleneck rate.
func (dn *DelayNetwork) IdealFCT(id FlowID) (float64, error) {
	flow, present := dn.net.Flow(id)
	if !present {
		return 0, fmt.Errorf("%w: %d", ErrUnknownFlow, id)
	}
	return IdealFCT(dn.net, flow)
}

// IdealFCT computes the ideal completion time of flow over its path in net
func IdealFCT(net *Network, flow Flow) (float64, error) {
	return pathIdealFCT(net, flow.Path, flow.Size)
}

func pathIdealFCT(net *Network, linkPath []LinkID, size Bytes) (float64, error) {
	firstPkt := size
	if firstPkt > SzPktMax {
		firstPkt = SzPktMax
	}
	if firstPkt > 0 {
		firstPkt += SzPktHdr
	}

	var head float64
	var bottleneck Link
	minBw := BitsPerSec(math.MaxUint64)
	for _, linkID := range linkPath {
		link, present := net.Link(linkID)
		if !present {
			return 0, fmt.Errorf("%w: %d", ErrUnknownLink, linkID)
		}
		head += float64(link.Delay) + link.TxTime(firstPkt)
		if link.Bandwidth < minBw {
			minBw = link.Bandwidth
			bottleneck = link
		}
	}
	if len(linkPath) == 0 {
		return head, nil
	}
	return head + bottleneck.TxTime(wireBytes(size)-firstPkt), nil
}

// FlowSlowdown is the p-th percentile of a flow's completion time over its ideal completion time
func (dn *DelayNetwork) FlowSlowdown(id FlowID, p float64) (float64, error) {
	fct, err := dn.FlowPercentile(id, p)
	if err != nil {
		return 0, err
	}
	ideal, err := dn.IdealFCT(id)
	if err != nil {
		return 0, err
	}
	if ideal == 0 {
		return 1.0, nil
	}
	return fct / ideal, nil
}

// Predict estimates the completion-time distribution of a flow of size bytes from src
// to dst that need not be part of the workload.  The flow is routed the way workload
// flows are.  On every hop it sees the packet-normalized delays of the link's flows of
// a similar size, scaled by its own number of packets, on top of its ideal completion time.
func (dn *DelayNetwork) Predict(size Bytes, src, dst NodeID) (*DelayDist, error) {
	fct, _, err := dn.predict(size, src, dst)
	return fct, err
}

// Slowdown is the p-th percentile of Predict over the ideal completion time of the same flow
func (dn *DelayNetwork) Slowdown(size Bytes, src, dst NodeID, p float64) (float64, error) {
	fct, ideal, err := dn.predict(size, src, dst)
	if err != nil {
		return 0, err
	}
	v, err := fct.Percentile(p)
	if err != nil {
		return 0, err
	}
	if ideal == 0 {
		return 1.0, nil
	}
	return v / ideal, nil
}

func (dn *DelayNetwork) predict(size Bytes, src, dst NodeID) (*DelayDist, float64, error) {
	linkPath, err := dn.net.Route(src, dst, fmt.Sprintf("%d/%d/%d", size, src, dst))
	if err != nil {
		return nil, 0, err
	}
	ideal, err := pathIdealFCT(dn.net, linkPath, size)
	if err != nil {
		return nil, 0, err
	}
	hops := make([]*DelayDist, 0, len(linkPath))
	for _, linkID := range linkPath {
		buckets, present := dn.linkBuckets[linkID]
		if !present {
			return nil, 0, fmt.Errorf("%w: link %d", ErrNoBuckets, linkID)
		}
		hops = append(hops, buckets.ForSize(size))
	}
	extra, err := ComposeDists(hops, dn.maxAtoms)
	if err != nil {
		return nil, 0, err
	}
	return extra.Scale(float64(numPackets(size))).Shift(ideal), ideal, nil
}

// FlowReport summarizes the estimate for one flow
type FlowReport struct {
	ID          int                `json:"id" yaml:"id"`
	Src         int                `json:"src" yaml:"src"`
	Dst         int                `json:"dst" yaml:"dst"`
	Size        string             `json:"size" yaml:"size"`
	Hops        int                `json:"hops" yaml:"hops"`
	IdealFCT    float64            `json:"ideal_fct" yaml:"ideal_fct"`
	Mean        float64            `json:"mean" yaml:"mean"`
	Percentiles map[string]float64 `json:"percentiles" yaml:"percentiles"`
}

// DelayReport summarizes a DelayNetwork for writing to a file
type DelayReport struct {
	RunID    string       `json:"runid" yaml:"runid"`
	Clusters int          `json:"clusters" yaml:"clusters"`
	Links    int          `json:"links" yaml:"links"`
	Flows    []FlowReport `json:"flows" yaml:"flows"`
}

// Report gathers, for every flow, its mean and the requested percentiles (in [0,100])
func (dn *DelayNetwork) Report(percentiles []float64) (*DelayReport, error) {
	rpt := &DelayReport{RunID: dn.runID, Clusters: len(dn.clusters), Links: len(dn.net.Links()),
		Flows: make([]FlowReport, 0, len(dn.net.Flows()))}
	for _, flow := range dn.net.Flows() {
		dist := dn.flowDists[flow.ID]
		ideal, err := IdealFCT(dn.net, flow)
		if err != nil {
			return nil, err
		}
		fr := FlowReport{ID: int(flow.ID), Src: int(flow.Src), Dst: int(flow.Dst),
			Size: units.HumanSize(float64(flow.Size)), Hops: flow.Hops(), IdealFCT: ideal, Mean: dist.Mean(),
			Percentiles: make(map[string]float64, len(percentiles))}
		for _, p := range percentiles {
			v, err := dist.Percentile(p)
			if err != nil {
				return nil, err
			}
			fr.Percentiles["p"+strconv.FormatFloat(p, 'f', -1, 64)] = v
		}
		rpt.Flows = append(rpt.Flows, fr)
	}
	return rpt, nil
}

// WriteToFile stores the DelayReport struct to the file whose name is given.
// Serialization to json or to yaml is selected based on the extension of this name.
func (rpt *DelayReport) WriteToFile(filename string) error {
	return writeDescFile(filename, rpt)
}
