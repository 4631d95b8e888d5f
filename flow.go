package parsimon

import (
	"strconv"

	"golang.org/x/exp/slices"
)

// Flow is a unit of traffic from Src to Dst.  Path lists the links it
// crosses, in order; Start is the time (ns) its first byte enters the network.
type Flow struct {
	ID     FlowID
	Name   string
	Src    NodeID
	Dst    NodeID
	Path   []LinkID
	Size   Bytes
	Start  Nanosecs
	Groups []string
}

func (f Flow) clone() Flow {
	f.Path = slices.Clone(f.Path)
	f.Groups = slices.Clone(f.Groups)
	return f
}

// Hops is the number of links on the flow's path
func (f Flow) Hops() int {
	return len(f.Path)
}

// MatchAttribute reports whether the flow carries the named attribute with the given value.
// Recognized attributes are "name", "group", "src" and "dst" (node ids in decimal).
func (f Flow) MatchAttribute(attrbName, attrbValue string) bool {
	switch attrbName {
	case "name":
		return f.Name == attrbValue
	case "group":
		return slices.Contains(f.Groups, attrbValue)
	case "src", "srcdev":
		return strconv.Itoa(int(f.Src)) == attrbValue
	case "dst", "dstdev":
		return strconv.Itoa(int(f.Dst)) == attrbValue
	}
	return false
}

// FlowSelector picks out the flows a group query aggregates over
type FlowSelector func(f Flow) bool

func AllFlows() FlowSelector {
	return func(Flow) bool { return true }
}

func BySource(src NodeID) FlowSelector {
	return func(f Flow) bool { return f.Src == src }
}

func ByDestination(dst NodeID) FlowSelector {
	return func(f Flow) bool { return f.Dst == dst }
}

func ByGroup(group string) FlowSelector {
	return func(f Flow) bool { return slices.Contains(f.Groups, group) }
}

func ByAttribute(attrbName, attrbValue string) FlowSelector {
	return func(f Flow) bool { return f.MatchAttribute(attrbName, attrbValue) }
}

// BySize selects flows whose size lies in [lo, hi)
func BySize(lo, hi Bytes) FlowSelector {
	return func(f Flow) bool { return f.Size >= lo && f.Size < hi }
}
