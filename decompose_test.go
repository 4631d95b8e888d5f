package parsimon

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDecomposeOneDescriptorPerLink(t *testing.T) {
	flows := []FlowDesc{
		{ID: 0, Src: 0, Dst: 1, Size: 100, Start: 50},
		{ID: 1, Src: 0, Dst: 2, Size: 200, Start: 10},
		{ID: 2, Src: 3, Dst: 0, Size: 300, Start: 10},
		{ID: 3, Src: 1, Dst: 0, Size: 400, Start: 0},
	}
	net := eightNodeNetwork(t, flows...)

	dn, err := Decompose(net)
	require.NoError(t, err)
	require.Equal(t, StageDecomposed, dn.Stage())
	require.Len(t, dn.Descs(), len(net.Links()))

	crossings := 0
	for idx, desc := range dn.Descs() {
		require.Equal(t, net.Links()[idx], desc.Link)
		crossings += len(desc.Flows)
		for pos := 1; pos < len(desc.Flows); pos++ {
			require.LessOrEqual(t, compareLinkFlows(desc.Flows[pos-1], desc.Flows[pos]), 0)
		}
	}

	// the descriptors hold exactly the flows whose paths cross their links
	hops := 0
	for _, flow := range net.Flows() {
		hops += flow.Hops()
		for _, linkID := range flow.Path {
			desc, ok := dn.Desc(linkID)
			require.True(t, ok)
			found := false
			for _, lf := range desc.Flows {
				if lf.ID == flow.ID {
					found = true
					require.Equal(t, flow.Size, lf.Size)
					require.Equal(t, flow.Start, lf.Start)
				}
			}
			require.True(t, found, "flow %d missing from link %d", flow.ID, linkID)
		}
	}
	require.Equal(t, hops, crossings)
}

func TestDecomposeOrdersByStartThenID(t *testing.T) {
	net := chainNetwork(t, 1, 0,
		Flow{ID: 5, Src: 0, Dst: 1, Start: 30},
		Flow{ID: 2, Src: 0, Dst: 1, Start: 30},
		Flow{ID: 9, Src: 0, Dst: 1, Start: 10})
	dn, err := Decompose(net)
	require.NoError(t, err)
	desc, _ := dn.Desc(0)
	ids := []FlowID{}
	for _, lf := range desc.Flows {
		ids = append(ids, lf.ID)
	}
	require.Equal(t, []FlowID{9, 2, 5}, ids)
}

func TestDecomposeRejectsBadPaths(t *testing.T) {
	for _, tc := range []struct {
		name string
		path []int
	}{
		{"unknown link", []int{0, 99}},
		{"not contiguous", []int{0, 10}},
		{"wrong start", []int{1, 9}},
		{"wrong end", []int{0, 4}},
		{"repeated link", []int{0, 4, 12, 4, 12, 9}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			net := eightNodeNetwork(t, FlowDesc{ID: 7, Src: 0, Dst: 1, Path: tc.path})
			dn, err := Decompose(net)
			require.Nil(t, dn)
			var topoErr *InvalidTopologyError
			require.ErrorAs(t, err, &topoErr)
			require.Equal(t, "flow", topoErr.Entity)
			require.Equal(t, 7, topoErr.ID)
			require.Equal(t, StageDecomposed, topoErr.Stage)
		})
	}
}

func TestLinkSimDescLoad(t *testing.T) {
	desc := &LinkSimDesc{Link: Link{Bandwidth: 8_000_000_000}, Flows: []LinkFlow{
		{ID: 0, Size: 500, Start: 0},
		{ID: 1, Size: 500, Start: 2000},
	}}
	require.Equal(t, Bytes(1000), desc.OfferedBytes())
	require.Equal(t, Nanosecs(2000), desc.Duration())
	// 1000 bytes over 2000 ns at one byte per ns
	require.InDelta(t, 0.5, desc.Load(), 1e-12)

	empty := &LinkSimDesc{Link: Link{Bandwidth: 1}}
	require.Zero(t, empty.Load())
}
