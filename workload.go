package parsimon

// workload.go generates synthetic workloads: flows between random pairs of hosts
// with exponentially distributed sizes and Poisson arrivals.

import (
	"errors"
	"math"

	"github.com/iti/rngstream"
)

// PoissonWorkload parameterizes GeneratePoissonFlows.  The arrival rate is set so that
// the hosts together offer Load of Bandwidth each, on average.
type PoissonWorkload struct {
	NumFlows  int
	MeanSize  Bytes
	Load      float64
	Bandwidth BitsPerSec
	Stream    string // name of the random number stream
	Groups    []string
}

// HostIDs returns the ids of the hosts among nodes
func HostIDs(nodes []Node) []NodeID {
	hosts := make([]NodeID, 0)
	for _, node := range nodes {
		if node.Role == Host {
			hosts = append(hosts, node.ID)
		}
	}
	return hosts
}

// GeneratePoissonFlows draws the flows of a workload.  Flows have no path, so
// NewNetwork routes them.
func GeneratePoissonFlows(hosts []NodeID, wl PoissonWorkload) ([]Flow, error) {
	if len(hosts) < 2 {
		return nil, errors.New("a workload needs at least two hosts")
	}
	if wl.MeanSize == 0 || !(wl.Load > 0) || wl.Bandwidth == 0 {
		return nil, errors.New("workload mean size, load and bandwidth must be positive")
	}

	// mean inter-arrival time (ns) of flows across all hosts
	meanGap := float64(wl.MeanSize) * 8.0 * 1e9 / (float64(wl.Bandwidth) * wl.Load * float64(len(hosts)))

	rng := rngstream.New(wl.Stream)
	pick := func(n int) int {
		idx := int(rng.RandU01() * float64(n))
		if idx >= n {
			idx = n - 1
		}
		return idx
	}

	flows := make([]Flow, 0, wl.NumFlows)
	start := 0.0
	for idx := 0; idx < wl.NumFlows; idx++ {
		start += sampleExpRV(rng.RandU01(), []float64{1.0 / meanGap})
		srcIdx := pick(len(hosts))
		dstIdx := pick(len(hosts) - 1)
		if dstIdx >= srcIdx {
			dstIdx += 1
		}
		size := math.Round(sampleExpRV(rng.RandU01(), []float64{1.0 / float64(wl.MeanSize)}))
		flows = append(flows, Flow{ID: FlowID(idx), Src: hosts[srcIdx], Dst: hosts[dstIdx],
			Size: Bytes(math.Max(size, 1.0)), Start: Nanosecs(math.Round(start)), Groups: wl.Groups})
	}
	return flows, nil
}

// expRV returns a sample of a exponentially distributed random number
func expRV(u01, rate float64) float64 {
	return -math.Log(1.0-u01) / rate
}

// sampleExpRV draws an exponential sample from a U01 value and the rate held in params[0]
func sampleExpRV(u01 float64, params []float64) float64 {
	return expRV(u01, params[0])
}
