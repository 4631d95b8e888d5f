package parsimon

// cluster.go holds the clustering contract.  A clustering backend groups link
// simulation descriptors; the core checks that what comes back is a partition
// of exactly the descriptors it handed over before anything is simulated.

import (
	mapset "github.com/deckarep/golang-set/v2"
	"golang.org/x/exp/slices"
)

// Cluster is a group of links whose delay distributions are all taken from
// the simulation of one representative member
type Cluster struct {
	ID             ClusterID `json:"id" yaml:"id"`
	Representative LinkID    `json:"representative" yaml:"representative"`
	Members        []LinkID  `json:"members" yaml:"members"`
}

// ClusteringAlgo is a pluggable clustering backend.  Cluster receives the descriptors
// in link id order and must return a partition of them; ID fields of the returned
// clusters are ignored and reassigned.  The descriptors are read-only: the backend
// is handed copies, and changes it makes to them are not seen by any stage.
type ClusteringAlgo interface {
	Name() string
	Cluster(descs []*LinkSimDesc) ([]Cluster, error)
}

// ClusteredNetwork is a DecomposedNetwork with a validated partition of its links
type ClusteredNetwork struct {
	dn        *DecomposedNetwork
	algo      string
	clusters  []Cluster // ordered by id
	clusterOf map[LinkID]ClusterID
}

// Cluster applies the clustering backend and validates its output
func (dn *DecomposedNetwork) Cluster(algo ClusteringAlgo) (*ClusteredNetwork, error) {
	clusters, err := algo.Cluster(cloneDescs(dn.descs))
	if err != nil {
		return nil, &ClusteringContractError{Algo: algo.Name(), ClusterIndex: -1, LinkID: -1,
			Reason: "backend failed", Err: err}
	}
	if err := validatePartition(algo.Name(), dn.descs, clusters); err != nil {
		return nil, err
	}

	// canonical form: members sorted, clusters ordered by representative, ids 0..n-1
	canon := make([]Cluster, len(clusters))
	for idx, cluster := range clusters {
		members := slices.Clone(cluster.Members)
		slices.Sort(members)
		canon[idx] = Cluster{Representative: cluster.Representative, Members: members}
	}
	slices.SortFunc(canon, func(a, b Cluster) int { return int(a.Representative) - int(b.Representative) })

	cn := &ClusteredNetwork{dn: dn, algo: algo.Name(), clusters: canon,
		clusterOf: make(map[LinkID]ClusterID, len(dn.descs))}
	for idx := range cn.clusters {
		cn.clusters[idx].ID = ClusterID(idx)
		for _, member := range cn.clusters[idx].Members {
			cn.clusterOf[member] = ClusterID(idx)
		}
	}
	return cn, nil
}

// cloneDescs copies the descriptor slice and each descriptor's flows
func cloneDescs(descs []*LinkSimDesc) []*LinkSimDesc {
	clones := make([]*LinkSimDesc, len(descs))
	for idx, desc := range descs {
		clones[idx] = &LinkSimDesc{Link: desc.Link, Flows: slices.Clone(desc.Flows)}
	}
	return clones
}

// validatePartition checks that every descriptor lands in exactly one non-empty
// cluster and that each cluster's representative is one of its members
func validatePartition(algoName string, descs []*LinkSimDesc, clusters []Cluster) error {
	violation := func(clusterIdx int, linkID LinkID, reason string) error {
		return &ClusteringContractError{Algo: algoName, ClusterIndex: clusterIdx, LinkID: linkID, Reason: reason}
	}

	known := mapset.NewThreadUnsafeSet[LinkID]()
	for _, desc := range descs {
		known.Add(desc.Link.ID)
	}

	assigned := mapset.NewThreadUnsafeSetWithSize[LinkID](len(descs))
	for idx, cluster := range clusters {
		if len(cluster.Members) == 0 {
			return violation(idx, -1, "empty cluster")
		}
		members := mapset.NewThreadUnsafeSet[LinkID]()
		for _, member := range cluster.Members {
			if !known.Contains(member) {
				return violation(idx, member, "member is not a descriptor handed to the backend")
			}
			if !assigned.Add(member) {
				return violation(idx, member, "link assigned to more than one cluster")
			}
			members.Add(member)
		}
		if !members.Contains(cluster.Representative) {
			return violation(idx, cluster.Representative, "representative is not a member of its cluster")
		}
	}

	if assigned.Cardinality() != known.Cardinality() {
		missing := known.Difference(assigned).ToSlice()
		slices.Sort(missing)
		return violation(-1, missing[0], "descriptor not assigned to any cluster")
	}
	return nil
}

// Network returns the underlying network
func (cn *ClusteredNetwork) Network() *Network {
	return cn.dn.net
}

// Decomposed returns the decomposition that was clustered
func (cn *ClusteredNetwork) Decomposed() *DecomposedNetwork {
	return cn.dn
}

// Clusters returns the clusters, ordered by id
func (cn *ClusteredNetwork) Clusters() []Cluster {
	return cn.clusters
}

// ClusterOf returns the id of the cluster a link belongs to
func (cn *ClusteredNetwork) ClusterOf(id LinkID) (ClusterID, bool) {
	cid, present := cn.clusterOf[id]
	return cid, present
}

// Algo names the clustering backend that produced the partition
func (cn *ClusteredNetwork) Algo() string {
	return cn.algo
}

func (cn *ClusteredNetwork) Stage() Stage {
	return StageClustered
}
