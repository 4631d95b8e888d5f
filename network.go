package parsimon

// network.go holds the immutable topology and workload model: nodes,
// directed links and the flows that cross them.

import (
	"fmt"
	"sync"

	"golang.org/x/exp/slices"
)

// NodeID, LinkID, FlowID and ClusterID are the identifiers used throughout the pipeline
type (
	NodeID    int
	LinkID    int
	FlowID    int
	ClusterID int
)

// Bytes, Nanosecs and BitsPerSec are the units of the model
type (
	Bytes      uint64
	Nanosecs   uint64
	BitsPerSec uint64
)

// Packetization used to translate flow sizes into bytes on the wire
const (
	SzPktMax Bytes = 1000
	SzPktHdr Bytes = 48
)

// NodeRole distinguishes end hosts from switching elements
type NodeRole int

const (
	Host NodeRole = iota
	Switch
)

var roleToStr map[NodeRole]string = map[NodeRole]string{Host: "host", Switch: "switch"}

func (r NodeRole) String() string {
	return roleToStr[r]
}

// parseRole accepts the role names used in network descriptions
func parseRole(str string) (NodeRole, error) {
	switch str {
	case "host", "Host", "endpt", "":
		return Host, nil
	case "switch", "Switch", "router":
		return Switch, nil
	}
	return Host, fmt.Errorf("unknown node role %q", str)
}

type Node struct {
	ID   NodeID
	Name string
	Role NodeRole
}

// Link is a directed channel.  Bandwidth is in bits per second, Delay is
// the propagation delay in nanoseconds.
type Link struct {
	ID        LinkID     `json:"id" yaml:"id"`
	From      NodeID     `json:"from" yaml:"from"`
	To        NodeID     `json:"to" yaml:"to"`
	Bandwidth BitsPerSec `json:"bandwidth" yaml:"bandwidth"`
	Delay     Nanosecs   `json:"delay" yaml:"delay"`
}

// TxTime gives the time in nanoseconds needed to put sz bytes onto the link
func (l Link) TxTime(sz Bytes) float64 {
	return float64(sz) * 8.0 * 1e9 / float64(l.Bandwidth)
}

// Network is the validated topology and workload.  It is not modified
// after NewNetwork returns; slices handed out by its accessors are shared and read-only.
type Network struct {
	nodes []Node
	links []Link
	flows []Flow

	nodeIdx map[NodeID]int
	linkIdx map[LinkID]int
	flowIdx map[FlowID]int

	rtsOnce sync.Once
	rts     *routes
}

// NewNetwork validates nodes and links, checks flow endpoints and routes any flow
// declared without a path.  Explicit paths are checked when the network is decomposed.
func NewNetwork(nodes []Node, links []Link, flows []Flow) (*Network, error) {
	net := new(Network)
	net.nodes = slices.Clone(nodes)
	net.links = slices.Clone(links)
	net.flows = make([]Flow, len(flows))
	for idx, flow := range flows {
		net.flows[idx] = flow.clone()
	}

	slices.SortFunc(net.nodes, func(a, b Node) int { return int(a.ID) - int(b.ID) })
	slices.SortFunc(net.links, func(a, b Link) int { return int(a.ID) - int(b.ID) })
	slices.SortFunc(net.flows, func(a, b Flow) int { return int(a.ID) - int(b.ID) })

	net.nodeIdx = make(map[NodeID]int, len(net.nodes))
	for idx, node := range net.nodes {
		if node.ID < 0 {
			return nil, invalidNode(node.ID, "negative identifier")
		}
		if _, present := net.nodeIdx[node.ID]; present {
			return nil, invalidNode(node.ID, "duplicated identifier")
		}
		net.nodeIdx[node.ID] = idx
	}

	type endpts struct{ from, to NodeID }
	seen := make(map[endpts]LinkID)

	net.linkIdx = make(map[LinkID]int, len(net.links))
	for idx, link := range net.links {
		if _, present := net.linkIdx[link.ID]; present {
			return nil, invalidLink(link.ID, "duplicated identifier")
		}
		if _, present := net.nodeIdx[link.From]; !present {
			return nil, invalidLink(link.ID, "unknown source node %d", link.From)
		}
		if _, present := net.nodeIdx[link.To]; !present {
			return nil, invalidLink(link.ID, "unknown destination node %d", link.To)
		}
		if link.From == link.To {
			return nil, invalidLink(link.ID, "self-loop on node %d", link.From)
		}
		if link.Bandwidth == 0 {
			return nil, invalidLink(link.ID, "zero bandwidth")
		}
		key := endpts{from: link.From, to: link.To}
		if other, present := seen[key]; present {
			return nil, invalidLink(link.ID, "duplicates link %d from %d to %d", other, link.From, link.To)
		}
		seen[key] = link.ID
		net.linkIdx[link.ID] = idx
	}

	net.flowIdx = make(map[FlowID]int, len(net.flows))
	for idx := range net.flows {
		flow := &net.flows[idx]
		if _, present := net.flowIdx[flow.ID]; present {
			return nil, invalidFlow(StageRaw, flow.ID, "duplicated identifier")
		}
		if _, present := net.nodeIdx[flow.Src]; !present {
			return nil, invalidFlow(StageRaw, flow.ID, "unknown source node %d", flow.Src)
		}
		if _, present := net.nodeIdx[flow.Dst]; !present {
			return nil, invalidFlow(StageRaw, flow.ID, "unknown destination node %d", flow.Dst)
		}
		if flow.Src == flow.Dst {
			return nil, invalidFlow(StageRaw, flow.ID, "source and destination are both node %d", flow.Src)
		}
		net.flowIdx[flow.ID] = idx

		if len(flow.Path) > 0 {
			continue
		}

		linkPath, found := net.routing().route(flow.ID, flow.Src, flow.Dst)
		if !found {
			return nil, invalidFlow(StageRaw, flow.ID, "node %d unreachable from node %d", flow.Dst, flow.Src)
		}
		flow.Path = linkPath
	}

	return net, nil
}

// routing builds the routing graph the first time some flow or query needs it
func (net *Network) routing() *routes {
	net.rtsOnce.Do(func() { net.rts = buildRoutes(net.nodes, net.links) })
	return net.rts
}

// Route returns a minimum-hop path from src to dst.  Among equal-cost paths the one
// chosen depends only on key.
func (net *Network) Route(src, dst NodeID, key string) ([]LinkID, error) {
	for _, id := range []NodeID{src, dst} {
		if _, present := net.nodeIdx[id]; !present {
			return nil, fmt.Errorf("%w: %d", ErrUnknownNode, id)
		}
	}
	if src == dst {
		return nil, fmt.Errorf("source and destination are both node %d", src)
	}
	linkPath, found := net.routing().routeByKey(key, src, dst)
	if !found {
		return nil, fmt.Errorf("node %d unreachable from node %d", dst, src)
	}
	return linkPath, nil
}

// Nodes returns the nodes, ordered by identifier
func (net *Network) Nodes() []Node {
	return net.nodes
}

// Links returns the links, ordered by identifier
func (net *Network) Links() []Link {
	return net.links
}

// Flows returns the flows, ordered by identifier
func (net *Network) Flows() []Flow {
	return net.flows
}

func (net *Network) Node(id NodeID) (Node, bool) {
	idx, present := net.nodeIdx[id]
	if !present {
		return Node{}, false
	}
	return net.nodes[idx], true
}

func (net *Network) Link(id LinkID) (Link, bool) {
	idx, present := net.linkIdx[id]
	if !present {
		return Link{}, false
	}
	return net.links[idx], true
}

func (net *Network) Flow(id FlowID) (Flow, bool) {
	idx, present := net.flowIdx[id]
	if !present {
		return Flow{}, false
	}
	return net.flows[idx], true
}

// Stage reports the pipeline state a Network represents
func (net *Network) Stage() Stage {
	return StageRaw
}

// nodeName is used when rendering paths
func (net *Network) nodeName(id NodeID) string {
	node, present := net.Node(id)
	if !present || len(node.Name) == 0 {
		return fmt.Sprintf("n%d", id)
	}
	return node.Name
}
