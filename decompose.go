package parsimon

// decompose.go splits a Network into one independent link simulation
// descriptor per link.  Flows keep their own size and start time on every link
// they cross; no queueing state from upstream links is carried along.

import (
	"runtime"

	"golang.org/x/exp/slices"
	"golang.org/x/sync/errgroup"
)

// LinkFlow is the view of a flow that a single link simulation needs
type LinkFlow struct {
	ID    FlowID   `json:"id" yaml:"id"`
	Src   NodeID   `json:"src" yaml:"src"`
	Dst   NodeID   `json:"dst" yaml:"dst"`
	Size  Bytes    `json:"size" yaml:"size"`
	Start Nanosecs `json:"start" yaml:"start"`
}

// LinkSimDesc is the self-contained input of one link simulation: the link's
// parameters and the flows that cross it, ordered by start time then flow id.
type LinkSimDesc struct {
	Link  Link       `json:"link" yaml:"link"`
	Flows []LinkFlow `json:"flows" yaml:"flows"`
}

// OfferedBytes is the number of payload bytes the flows put onto the link
func (lsd *LinkSimDesc) OfferedBytes() Bytes {
	var total Bytes
	for _, flow := range lsd.Flows {
		total += flow.Size
	}
	return total
}

// Duration is the time between the first and last flow arrival
func (lsd *LinkSimDesc) Duration() Nanosecs {
	if len(lsd.Flows) < 2 {
		return 0
	}
	return lsd.Flows[len(lsd.Flows)-1].Start - lsd.Flows[0].Start
}

// Load is the offered load of the flows as a fraction of the link's bandwidth
func (lsd *LinkSimDesc) Load() float64 {
	duration := lsd.Duration()
	if duration == 0 {
		return 0.0
	}
	bitsPerSec := float64(lsd.OfferedBytes()) * 8.0 * 1e9 / float64(duration)
	return bitsPerSec / float64(lsd.Link.Bandwidth)
}

// DecomposedNetwork is a Network together with its link simulation descriptors
type DecomposedNetwork struct {
	net    *Network
	descs  []*LinkSimDesc // ordered by link id
	byLink map[LinkID]*LinkSimDesc
}

// Decompose builds one LinkSimDesc per link of the network, checking on the way that every flow's
// path is a contiguous sequence of known links from its source to its destination
func Decompose(net *Network) (*DecomposedNetwork, error) {
	return decompose(net, runtime.GOMAXPROCS(0))
}

func decompose(net *Network, parallelism int) (*DecomposedNetwork, error) {
	// index of flows (into net.Flows()) crossing each link
	crossing := make(map[LinkID][]int, len(net.Links()))

	for idx, flow := range net.Flows() {
		if err := checkPath(net, flow); err != nil {
			return nil, err
		}
		for _, linkID := range flow.Path {
			crossing[linkID] = append(crossing[linkID], idx)
		}
	}

	links := net.Links()
	dn := &DecomposedNetwork{net: net, descs: make([]*LinkSimDesc, len(links)),
		byLink: make(map[LinkID]*LinkSimDesc, len(links))}

	var eg errgroup.Group
	if parallelism > 0 {
		eg.SetLimit(parallelism)
	}
	flows := net.Flows()
	for slot, link := range links {
		eg.Go(func() error {
			desc := &LinkSimDesc{Link: link, Flows: make([]LinkFlow, 0, len(crossing[link.ID]))}
			for _, idx := range crossing[link.ID] {
				flow := flows[idx]
				desc.Flows = append(desc.Flows, LinkFlow{ID: flow.ID, Src: flow.Src, Dst: flow.Dst,
					Size: flow.Size, Start: flow.Start})
			}
			slices.SortFunc(desc.Flows, compareLinkFlows)
			dn.descs[slot] = desc
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	for _, desc := range dn.descs {
		dn.byLink[desc.Link.ID] = desc
	}
	return dn, nil
}

func compareLinkFlows(a, b LinkFlow) int {
	switch {
	case a.Start < b.Start:
		return -1
	case a.Start > b.Start:
		return 1
	}
	return int(a.ID) - int(b.ID)
}

// checkPath validates a flow's path against the topology
func checkPath(net *Network, flow Flow) error {
	if len(flow.Path) == 0 {
		return invalidFlow(StageDecomposed, flow.ID, "empty path")
	}
	visited := make(map[LinkID]bool, len(flow.Path))
	here := flow.Src
	for hop, linkID := range flow.Path {
		link, present := net.Link(linkID)
		if !present {
			return invalidFlow(StageDecomposed, flow.ID, "path references unknown link %d", linkID)
		}
		if visited[linkID] {
			return invalidFlow(StageDecomposed, flow.ID, "path crosses link %d twice", linkID)
		}
		visited[linkID] = true
		if link.From != here {
			if hop == 0 {
				return invalidFlow(StageDecomposed, flow.ID, "path starts at node %d, not at source %d", link.From, flow.Src)
			}
			return invalidFlow(StageDecomposed, flow.ID, "path not contiguous at hop %d (link %d leaves node %d, expected %d)",
				hop, linkID, link.From, here)
		}
		here = link.To
	}
	if here != flow.Dst {
		return invalidFlow(StageDecomposed, flow.ID, "path ends at node %d, not at destination %d", here, flow.Dst)
	}
	return nil
}

// Network returns the network that was decomposed
func (dn *DecomposedNetwork) Network() *Network {
	return dn.net
}

// Descs returns the descriptors, one per link in link id order
func (dn *DecomposedNetwork) Descs() []*LinkSimDesc {
	return dn.descs
}

// Desc returns the descriptor of a link
func (dn *DecomposedNetwork) Desc(id LinkID) (*LinkSimDesc, bool) {
	desc, present := dn.byLink[id]
	return desc, present
}

func (dn *DecomposedNetwork) Stage() Stage {
	return StageDecomposed
}
