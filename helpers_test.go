package parsimon

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

const tenGbps = 10_000_000_000

// eightNodeDesc is a Clos fabric of four hosts (0-3), two ToRs (4-5) and two aggs (6-7),
// each ToR connected to two hosts and to both aggs.  Links are 10 Gbps with 1 us of
// propagation delay.  Declared links are 0-7; their reverse directions are 8-15.
func eightNodeDesc() *NetworkDesc {
	nd := CreateNetworkDesc("eight-node")
	for idx := 0; idx < 4; idx++ {
		nd.AddNode(fmt.Sprintf("h%d", idx), Host)
	}
	for idx := 4; idx < 8; idx++ {
		nd.AddNode(fmt.Sprintf("s%d", idx), Switch)
	}
	for _, pair := range [][2]int{{0, 4}, {1, 4}, {2, 5}, {3, 5}, {4, 6}, {4, 7}, {5, 6}, {5, 7}} {
		nd.AddLink(pair[0], pair[1], tenGbps, 1000, true)
	}
	return nd
}

func eightNodeNetwork(t *testing.T, flows ...FlowDesc) *Network {
	t.Helper()
	nd := eightNodeDesc()
	nd.Flows = append(nd.Flows, flows...)
	net, err := nd.Transform()
	require.NoError(t, err)
	return net
}

// chainNetwork is nodes 0..n joined by links i: i -> i+1 at 8 Gbps (one byte per ns)
// with the given propagation delay, plus the given flows
func chainNetwork(t *testing.T, n int, delay Nanosecs, flows ...Flow) *Network {
	t.Helper()
	nodes := make([]Node, 0, n+1)
	links := make([]Link, 0, n)
	for idx := 0; idx <= n; idx++ {
		role := Switch
		if idx == 0 || idx == n {
			role = Host
		}
		nodes = append(nodes, Node{ID: NodeID(idx), Role: role})
	}
	for idx := 0; idx < n; idx++ {
		links = append(links, Link{ID: LinkID(idx), From: NodeID(idx), To: NodeID(idx + 1),
			Bandwidth: 8_000_000_000, Delay: delay})
	}
	net, err := NewNetwork(nodes, links, flows)
	require.NoError(t, err)
	return net
}

func clusteredChain(t *testing.T, n int) *ClusteredNetwork {
	t.Helper()
	net := chainNetwork(t, n, 0, Flow{ID: 0, Src: 0, Dst: NodeID(n), Size: 1000})
	dn, err := Decompose(net)
	require.NoError(t, err)
	cn, err := dn.Cluster(IdentityClustering{})
	require.NoError(t, err)
	return cn
}

// constSim gives every link a constant delay; links not in the map get their propagation delay
type constSim struct {
	delays map[LinkID]float64
}

func (cs constSim) Name() string { return "const" }

func (cs constSim) Simulate(desc *LinkSimDesc) (*DelayDist, error) {
	if v, present := cs.delays[desc.Link.ID]; present {
		return ConstDist(v), nil
	}
	return ConstDist(float64(desc.Link.Delay)), nil
}

// failingSim fails every link in the set
type failingSim struct {
	fail map[LinkID]bool
	next LinkSim
}

func (fs failingSim) Name() string { return "failing" }

func (fs failingSim) Simulate(desc *LinkSimDesc) (*DelayDist, error) {
	if fs.fail[desc.Link.ID] {
		return nil, errors.New("backend exploded")
	}
	return fs.next.Simulate(desc)
}

// funcWorker runs jobs with a function
type funcWorker struct {
	name string
	fn   func(ctx context.Context, job *Job) (*DelayDist, error)
}

func (fw *funcWorker) Name() string { return fw.name }

func (fw *funcWorker) RunJob(ctx context.Context, job *Job) (*LinkResult, error) {
	dist, err := fw.fn(ctx, job)
	if err != nil {
		return nil, err
	}
	return &LinkResult{Dist: dist}, nil
}

// fastDispatch retries quickly, for tests
func fastDispatch() DispatchConfig {
	return DispatchConfig{MaxInFlight: 4, MaxRetries: 2, Backoff: 0.001, MaxBackoff: 0.01, JobTimeout: 5}
}
