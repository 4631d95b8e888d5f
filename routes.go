package parsimon

// routes.go computes minimum-hop routes through the topology for flows that
// are declared without an explicit path.
//
// The topology is converted into the directed graph representation of the gonum
// graph package, which has the path discovery algorithms built in.  Every edge weighs 1,
// so a shortest path minimizes the number of hops, the way ECMP routing in a fabric does.
// All minimum-hop paths between a source and destination are kept; a flow picks one of
// them by hashing its identifier, so the choice is stable across runs.  Queries for
// arbitrary (size, src, dst) triples hash a key built from the triple instead.

import (
	"strconv"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/exp/slices"
	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/path"
	"gonum.org/v1/gonum/graph/simple"
)

type nodePair struct {
	from, to NodeID
}

// routes holds the graph, the link joining each connected pair of nodes,
// and the shortest path trees computed so far
type routes struct {
	connGraph *simple.DirectedGraph
	linkOf    map[nodePair]LinkID

	// key is the source node, value is the tree of all shortest paths rooted there
	mu         sync.Mutex
	cachedAlts map[NodeID]path.ShortestAlts
}

// buildRoutes returns the graph representation of the topology
func buildRoutes(nodes []Node, links []Link) *routes {
	rts := new(routes)
	rts.connGraph = simple.NewDirectedGraph()
	rts.linkOf = make(map[nodePair]LinkID, len(links))
	rts.cachedAlts = make(map[NodeID]path.ShortestAlts)

	for _, node := range nodes {
		rts.connGraph.AddNode(simple.Node(node.ID))
	}
	for _, link := range links {
		rts.connGraph.SetEdge(simple.Edge{F: simple.Node(link.From), T: simple.Node(link.To)})
		rts.linkOf[nodePair{from: link.From, to: link.To}] = link.ID
	}
	return rts
}

// getSPTree returns all the shortest paths rooted in node 'from', from the cache if present
func (rts *routes) getSPTree(from NodeID) path.ShortestAlts {
	rts.mu.Lock()
	defer rts.mu.Unlock()
	spTree, present := rts.cachedAlts[from]
	if present {
		return spTree
	}
	spTree = path.DijkstraAllFrom(simple.Node(from), rts.connGraph)
	rts.cachedAlts[from] = spTree
	return spTree
}

// route returns the link sequence carrying flow id from src to dst, and false if dst is unreachable
func (rts *routes) route(id FlowID, src, dst NodeID) ([]LinkID, bool) {
	return rts.routeByKey(strconv.Itoa(int(id)), src, dst)
}

// routeByKey is route with the equal-cost choice made by hashing key
func (rts *routes) routeByKey(key string, src, dst NodeID) ([]LinkID, bool) {
	spTree := rts.getSPTree(src)
	nodeSeqs, _ := spTree.AllTo(int64(dst))
	if len(nodeSeqs) == 0 {
		return nil, false
	}

	candidates := make([][]NodeID, 0, len(nodeSeqs))
	for _, nodeSeq := range nodeSeqs {
		candidates = append(candidates, convertNodeSeq(nodeSeq))
	}
	// AllTo does not promise an order, so impose one before hashing
	slices.SortFunc(candidates, func(a, b []NodeID) int { return slices.Compare(a, b) })

	choice := candidates[0]
	if len(candidates) > 1 {
		h := xxhash.Sum64String(key)
		choice = candidates[h%uint64(len(candidates))]
	}

	linkPath := make([]LinkID, 0, len(choice)-1)
	for idx := 1; idx < len(choice); idx++ {
		linkPath = append(linkPath, rts.linkOf[nodePair{from: choice[idx-1], to: choice[idx]}])
	}
	return linkPath, true
}

// convertNodeSeq extracts node ids from a sequence of graph nodes
func convertNodeSeq(nsQ []graph.Node) []NodeID {
	rtn := make([]NodeID, 0, len(nsQ))
	for _, node := range nsQ {
		rtn = append(rtn, NodeID(node.ID()))
	}
	return rtn
}

// ShowPath returns a string listing the names of the nodes visited by a path of links
func ShowPath(net *Network, linkPath []LinkID) string {
	if len(linkPath) == 0 {
		return ""
	}
	names := make([]string, 0, len(linkPath)+1)
	for idx, linkID := range linkPath {
		link, present := net.Link(linkID)
		if !present {
			names = append(names, "?")
			continue
		}
		if idx == 0 {
			names = append(names, net.nodeName(link.From))
		}
		names = append(names, net.nodeName(link.To))
	}
	return strings.Join(names, ",")
}
