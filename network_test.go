package parsimon

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewNetworkRoutesFlows(t *testing.T) {
	net := eightNodeNetwork(t,
		FlowDesc{ID: 0, Src: 0, Dst: 1, Size: 1000},
		FlowDesc{ID: 1, Src: 0, Dst: 2, Size: 1000})

	flow, ok := net.Flow(0)
	require.True(t, ok)
	// h0 -> s4 on link 0, s4 -> h1 on the reverse of link 1
	require.Equal(t, []LinkID{0, 9}, flow.Path)
	require.Equal(t, "h0,s4,h1", ShowPath(net, flow.Path))

	flow, ok = net.Flow(1)
	require.True(t, ok)
	require.Len(t, flow.Path, 4)
	require.Equal(t, LinkID(0), flow.Path[0])
	require.Equal(t, LinkID(10), flow.Path[3])

	// the choice among equal-cost paths is stable
	again := eightNodeNetwork(t, FlowDesc{ID: 0, Src: 0, Dst: 1, Size: 1000}, FlowDesc{ID: 1, Src: 0, Dst: 2, Size: 1000})
	againFlow, _ := again.Flow(1)
	require.Equal(t, flow.Path, againFlow.Path)
}

func TestNetworkRoute(t *testing.T) {
	net := eightNodeNetwork(t)
	linkPath, err := net.Route(0, 3, "query")
	require.NoError(t, err)
	require.Len(t, linkPath, 4)
	require.Equal(t, LinkID(0), linkPath[0])
	require.Equal(t, LinkID(11), linkPath[3])

	// the key alone decides among equal-cost paths
	again, err := net.Route(0, 3, "query")
	require.NoError(t, err)
	require.Equal(t, linkPath, again)
	aggs := map[LinkID]bool{}
	for idx := 0; idx < 32; idx++ {
		other, err := net.Route(0, 3, fmt.Sprintf("query-%d", idx))
		require.NoError(t, err)
		aggs[other[1]] = true
	}
	require.Len(t, aggs, 2)

	_, err = net.Route(0, 99, "query")
	require.ErrorIs(t, err, ErrUnknownNode)
	_, err = net.Route(2, 2, "query")
	require.Error(t, err)
	_, err = chainNetwork(t, 2, 0).Route(2, 0, "query")
	require.ErrorContains(t, err, "unreachable")
}

func TestNewNetworkKeepsExplicitPaths(t *testing.T) {
	net := eightNodeNetwork(t, FlowDesc{ID: 3, Src: 0, Dst: 2, Path: []int{0, 5, 15, 10}})
	flow, ok := net.Flow(3)
	require.True(t, ok)
	require.Equal(t, []LinkID{0, 5, 15, 10}, flow.Path)
	require.Equal(t, "h0,s4,s7,s5,h2", ShowPath(net, flow.Path))
}

func TestNewNetworkRejectsBadTopology(t *testing.T) {
	hosts := []Node{{ID: 0}, {ID: 1}, {ID: 2, Role: Switch}}
	link := func(id LinkID, from, to NodeID) Link {
		return Link{ID: id, From: from, To: to, Bandwidth: tenGbps, Delay: 1}
	}

	for _, tc := range []struct {
		name   string
		nodes  []Node
		links  []Link
		flows  []Flow
		entity string
	}{
		{"duplicate node", []Node{{ID: 0}, {ID: 0}}, nil, nil, "node"},
		{"negative node", []Node{{ID: -1}}, nil, nil, "node"},
		{"duplicate link", hosts, []Link{link(0, 0, 2), link(0, 2, 1)}, nil, "link"},
		{"unknown endpoint", hosts, []Link{link(0, 0, 9)}, nil, "link"},
		{"self loop", hosts, []Link{link(0, 2, 2)}, nil, "link"},
		{"zero bandwidth", hosts, []Link{{ID: 0, From: 0, To: 2}}, nil, "link"},
		{"parallel links", hosts, []Link{link(0, 0, 2), link(1, 0, 2)}, nil, "link"},
		{"flow to itself", hosts, []Link{link(0, 0, 2)}, []Flow{{ID: 0, Src: 0, Dst: 0}}, "flow"},
		{"flow from nowhere", hosts, []Link{link(0, 0, 2)}, []Flow{{ID: 0, Src: 7, Dst: 0}}, "flow"},
		{"duplicate flow", hosts, []Link{link(0, 0, 2), link(1, 2, 1)},
			[]Flow{{ID: 0, Src: 0, Dst: 1}, {ID: 0, Src: 0, Dst: 1}}, "flow"},
		{"unreachable", hosts, []Link{link(0, 0, 2), link(1, 2, 1)}, []Flow{{ID: 0, Src: 1, Dst: 0}}, "flow"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			net, err := NewNetwork(tc.nodes, tc.links, tc.flows)
			require.Nil(t, net)
			var topoErr *InvalidTopologyError
			require.ErrorAs(t, err, &topoErr)
			require.Equal(t, tc.entity, topoErr.Entity)
			require.Equal(t, StageRaw, topoErr.Stage)
		})
	}
}

func TestFlowSelectors(t *testing.T) {
	flow := Flow{ID: 4, Name: "query", Src: 1, Dst: 3, Size: 500, Groups: []string{"web", "rpc"}}
	require.True(t, flow.MatchAttribute("name", "query"))
	require.True(t, flow.MatchAttribute("group", "rpc"))
	require.True(t, flow.MatchAttribute("src", "1"))
	require.True(t, flow.MatchAttribute("dst", "3"))
	require.False(t, flow.MatchAttribute("dst", "1"))
	require.False(t, flow.MatchAttribute("color", "blue"))

	require.True(t, ByGroup("web")(flow))
	require.True(t, BySource(1)(flow))
	require.False(t, ByDestination(1)(flow))
	require.True(t, BySize(100, 1000)(flow))
	require.False(t, BySize(0, 500)(flow))
	require.True(t, AllFlows()(flow))
}
