package parsimon

// clustering.go holds the reference clustering backends: one cluster per link,
// and a greedy grouping of links whose workloads look alike.

import (
	"fmt"
	"math"

	"golang.org/x/exp/slices"
)

// IdentityClustering puts every link in a cluster of its own
type IdentityClustering struct{}

func (IdentityClustering) Name() string { return "identity" }

func (IdentityClustering) Cluster(descs []*LinkSimDesc) ([]Cluster, error) {
	clusters := make([]Cluster, 0, len(descs))
	for _, desc := range descs {
		clusters = append(clusters, Cluster{Representative: desc.Link.ID, Members: []LinkID{desc.Link.ID}})
	}
	return clusters, nil
}

// LinkFeatures summarizes the workload of a link for similarity tests.
// Sizes and Deltas are quantile vectors of flow sizes and inter-arrival times;
// they are nil when the link carries fewer than two flows.
type LinkFeatures struct {
	Bandwidth BitsPerSec
	Delay     Nanosecs
	Sizes     []float64
	Deltas    []float64
	Load      float64
}

// FeaturesOf computes the features of a descriptor using n-quantiles
func FeaturesOf(desc *LinkSimDesc, n int) LinkFeatures {
	lf := LinkFeatures{Bandwidth: desc.Link.Bandwidth, Delay: desc.Link.Delay}
	if len(desc.Flows) < 2 {
		return lf
	}
	sizes := make([]float64, 0, len(desc.Flows))
	deltas := make([]float64, 0, len(desc.Flows)-1)
	for idx, flow := range desc.Flows {
		sizes = append(sizes, float64(flow.Size))
		if idx > 0 {
			deltas = append(deltas, float64(flow.Start-desc.Flows[idx-1].Start))
		}
	}
	slices.Sort(sizes)
	slices.Sort(deltas)
	lf.Sizes = percentiles(sizes, n)
	lf.Deltas = percentiles(deltas, n)
	lf.Load = desc.Load()
	return lf
}

// percentiles picks the k/n points of sorted data, k = 1..n
func percentiles(sorted []float64, n int) []float64 {
	rtn := make([]float64, 0, n)
	for k := 1; k <= n; k++ {
		idx := int(math.Ceil(float64(k)/float64(n)*float64(len(sorted)))) - 1
		if idx < 0 {
			idx = 0
		}
		rtn = append(rtn, sorted[idx])
	}
	return rtn
}

// WMAPE is the weighted mean absolute percentage error of b against a
func WMAPE(a, b []float64) float64 {
	var num, denom float64
	for idx := range a {
		num += math.Abs(a[idx] - b[idx])
		denom += math.Abs(a[idx])
	}
	if denom == 0 {
		if num == 0 {
			return 0.0
		}
		return math.Inf(1)
	}
	return num / denom
}

// GreedyClustering walks the descriptors in link id order.  Each descriptor not yet
// clustered becomes a representative and absorbs every later unclustered descriptor
// close to it.  Links are close when they have the same bandwidth and propagation delay,
// both quantile vectors are within Epsilon in WMAPE, and their loads differ by at most
// LoadEpsilon.  Links carrying fewer than two flows only group with links carrying none.
type GreedyClustering struct {
	Epsilon     float64
	LoadEpsilon float64
	Quantiles   int
}

func (gc *GreedyClustering) Name() string { return "greedy" }

// Close reports whether two feature sets are similar enough to share a simulation
func (gc *GreedyClustering) Close(a, b LinkFeatures) bool {
	if a.Bandwidth != b.Bandwidth || a.Delay != b.Delay {
		return false
	}
	if a.Sizes == nil || b.Sizes == nil {
		return a.Sizes == nil && b.Sizes == nil && a.Load == 0 && b.Load == 0
	}
	if math.Abs(a.Load-b.Load) > gc.LoadEpsilon {
		return false
	}
	return WMAPE(a.Sizes, b.Sizes) <= gc.Epsilon && WMAPE(a.Deltas, b.Deltas) <= gc.Epsilon
}

func (gc *GreedyClustering) Cluster(descs []*LinkSimDesc) ([]Cluster, error) {
	n := gc.Quantiles
	if n <= 0 {
		n = 1000
	}
	features := make([]LinkFeatures, len(descs))
	for idx, desc := range descs {
		features[idx] = FeaturesOf(desc, n)
	}

	// links carrying one flow cannot be compared, so they stay alone
	lonely := func(idx int) bool { return len(descs[idx].Flows) == 1 }

	clustered := make([]bool, len(descs))
	clusters := make([]Cluster, 0)
	for i := range descs {
		if clustered[i] {
			continue
		}
		clustered[i] = true
		cluster := Cluster{Representative: descs[i].Link.ID, Members: []LinkID{descs[i].Link.ID}}
		if !lonely(i) {
			for j := i + 1; j < len(descs); j++ {
				if clustered[j] || lonely(j) || !gc.Close(features[i], features[j]) {
					continue
				}
				clustered[j] = true
				cluster.Members = append(cluster.Members, descs[j].Link.ID)
			}
		}
		clusters = append(clusters, cluster)
	}
	return clusters, nil
}

// NewClusteringAlgo returns the clustering backend the configuration names
func NewClusteringAlgo(cfg ClusteringConfig) (ClusteringAlgo, error) {
	switch cfg.Algo {
	case "", "identity", "default":
		return IdentityClustering{}, nil
	case "greedy":
		return &GreedyClustering{Epsilon: cfg.Epsilon, LoadEpsilon: cfg.LoadEpsilon, Quantiles: cfg.Quantiles}, nil
	}
	return nil, fmt.Errorf("unknown clustering algorithm %q", cfg.Algo)
}
