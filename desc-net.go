package parsimon

// desc-net.go holds the serializable description of a network and its workload.
// Descriptions are pointer free so they read from and write to yaml or json
// directly; Transform turns one into the validated run-time Network.

import (
	"encoding/json"
	"fmt"
	"os"
	"path"

	"gopkg.in/yaml.v3"
)

// A NodeDesc describes a host or a switch
type NodeDesc struct {
	ID   int    `json:"id" yaml:"id"`
	Name string `json:"name" yaml:"name"`
	Role string `json:"role" yaml:"role"`
}

// A LinkDesc describes a link from From to To. Bandwidth is in bits/sec and Delay
// in nanoseconds. A Duplex link also carries traffic from To to From, on a
// reverse link that is given the next identifier not otherwise in use.
type LinkDesc struct {
	ID        int    `json:"id" yaml:"id"`
	From      int    `json:"from" yaml:"from"`
	To        int    `json:"to" yaml:"to"`
	Bandwidth uint64 `json:"bandwidth" yaml:"bandwidth"`
	Delay     uint64 `json:"delay" yaml:"delay"`
	Duplex    bool   `json:"duplex" yaml:"duplex"`
}

// A FlowDesc describes a flow.  An empty Path asks for a minimum-hop route.
type FlowDesc struct {
	ID     int      `json:"id" yaml:"id"`
	Name   string   `json:"name,omitempty" yaml:"name,omitempty"`
	Src    int      `json:"src" yaml:"src"`
	Dst    int      `json:"dst" yaml:"dst"`
	Path   []int    `json:"path,omitempty" yaml:"path,omitempty"`
	Size   uint64   `json:"size" yaml:"size"`
	Start  uint64   `json:"start" yaml:"start"`
	Groups []string `json:"groups,omitempty" yaml:"groups,omitempty"`
}

// NetworkDesc holds the complete description of an experiment's topology and workload
type NetworkDesc struct {
	Name  string     `json:"name" yaml:"name"`
	Nodes []NodeDesc `json:"nodes" yaml:"nodes"`
	Links []LinkDesc `json:"links" yaml:"links"`
	Flows []FlowDesc `json:"flows" yaml:"flows"`
}

// CreateNetworkDesc is a constructor; the description is filled in with AddNode, AddLink and AddFlow
func CreateNetworkDesc(name string) *NetworkDesc {
	nd := new(NetworkDesc)
	nd.Name = name
	nd.Nodes = make([]NodeDesc, 0)
	nd.Links = make([]LinkDesc, 0)
	nd.Flows = make([]FlowDesc, 0)
	return nd
}

// AddNode appends a node and returns its id
func (nd *NetworkDesc) AddNode(name string, role NodeRole) int {
	id := len(nd.Nodes)
	nd.Nodes = append(nd.Nodes, NodeDesc{ID: id, Name: name, Role: role.String()})
	return id
}

// AddLink appends a link and returns its id
func (nd *NetworkDesc) AddLink(from, to int, bandwidth, delay uint64, duplex bool) int {
	id := len(nd.Links)
	nd.Links = append(nd.Links, LinkDesc{ID: id, From: from, To: to, Bandwidth: bandwidth, Delay: delay, Duplex: duplex})
	return id
}

// AddFlow appends a flow and returns its id
func (nd *NetworkDesc) AddFlow(src, dst int, size, start uint64, groups ...string) int {
	id := len(nd.Flows)
	nd.Flows = append(nd.Flows, FlowDesc{ID: id, Src: src, Dst: dst, Size: size, Start: start, Groups: groups})
	return id
}

// Transform builds the run-time Network the description represents
func (nd *NetworkDesc) Transform() (*Network, error) {
	errs := []error{}
	nodes := make([]Node, 0, len(nd.Nodes))
	for _, ndesc := range nd.Nodes {
		role, err := parseRole(ndesc.Role)
		if err != nil {
			errs = append(errs, fmt.Errorf("node %d: %w", ndesc.ID, err))
			continue
		}
		nodes = append(nodes, Node{ID: NodeID(ndesc.ID), Name: ndesc.Name, Role: role})
	}
	if err := ReportErrs(errs); err != nil {
		return nil, err
	}

	// reverse directions of duplex links take identifiers above every declared one
	nxtLinkID := 0
	for _, ldesc := range nd.Links {
		if ldesc.ID >= nxtLinkID {
			nxtLinkID = ldesc.ID + 1
		}
	}

	links := make([]Link, 0, len(nd.Links))
	for _, ldesc := range nd.Links {
		links = append(links, Link{ID: LinkID(ldesc.ID), From: NodeID(ldesc.From), To: NodeID(ldesc.To),
			Bandwidth: BitsPerSec(ldesc.Bandwidth), Delay: Nanosecs(ldesc.Delay)})
		if ldesc.Duplex {
			links = append(links, Link{ID: LinkID(nxtLinkID), From: NodeID(ldesc.To), To: NodeID(ldesc.From),
				Bandwidth: BitsPerSec(ldesc.Bandwidth), Delay: Nanosecs(ldesc.Delay)})
			nxtLinkID += 1
		}
	}

	flows := make([]Flow, 0, len(nd.Flows))
	for _, fdesc := range nd.Flows {
		flow := Flow{ID: FlowID(fdesc.ID), Name: fdesc.Name, Src: NodeID(fdesc.Src), Dst: NodeID(fdesc.Dst),
			Size: Bytes(fdesc.Size), Start: Nanosecs(fdesc.Start), Groups: fdesc.Groups}
		for _, linkID := range fdesc.Path {
			flow.Path = append(flow.Path, LinkID(linkID))
		}
		flows = append(flows, flow)
	}

	return NewNetwork(nodes, links, flows)
}

// DescribeNetwork produces the description of a Network, with every link
// simplex and every flow carrying its resolved path
func DescribeNetwork(name string, net *Network) *NetworkDesc {
	nd := CreateNetworkDesc(name)
	for _, node := range net.Nodes() {
		nd.Nodes = append(nd.Nodes, NodeDesc{ID: int(node.ID), Name: node.Name, Role: node.Role.String()})
	}
	for _, link := range net.Links() {
		nd.Links = append(nd.Links, LinkDesc{ID: int(link.ID), From: int(link.From), To: int(link.To),
			Bandwidth: uint64(link.Bandwidth), Delay: uint64(link.Delay)})
	}
	for _, flow := range net.Flows() {
		fdesc := FlowDesc{ID: int(flow.ID), Name: flow.Name, Src: int(flow.Src), Dst: int(flow.Dst),
			Size: uint64(flow.Size), Start: uint64(flow.Start), Groups: flow.Groups}
		for _, linkID := range flow.Path {
			fdesc.Path = append(fdesc.Path, int(linkID))
		}
		nd.Flows = append(nd.Flows, fdesc)
	}
	return nd
}

// WriteToFile stores the NetworkDesc struct to the file whose name is given.
// Serialization to json or to yaml is selected based on the extension of this name.
func (nd *NetworkDesc) WriteToFile(filename string) error {
	return writeDescFile(filename, nd)
}

// ReadNetworkDesc deserializes a byte slice holding a representation of a NetworkDesc struct.
// If the input argument of dict (those bytes) is empty, the file whose name is given is read
// to acquire them.
func ReadNetworkDesc(filename string, useYAML bool, dict []byte) (*NetworkDesc, error) {
	example := NetworkDesc{}
	if err := readDescFile(filename, useYAML, dict, &example); err != nil {
		return nil, err
	}
	return &example, nil
}

// isYAMLFile reports whether the file extension selects yaml serialization
func isYAMLFile(filename string) bool {
	pathExt := path.Ext(filename)
	return pathExt == ".yaml" || pathExt == ".YAML" || pathExt == ".yml"
}

func isJSONFile(filename string) bool {
	pathExt := path.Ext(filename)
	return pathExt == ".json" || pathExt == ".JSON"
}

// writeDescFile serializes obj into filename, as yaml or json depending on the extension
func writeDescFile(filename string, obj any) error {
	var bytes []byte
	var merr error

	if isYAMLFile(filename) {
		bytes, merr = yaml.Marshal(obj)
	} else if isJSONFile(filename) {
		bytes, merr = json.MarshalIndent(obj, "", "\t")
	} else {
		return fmt.Errorf("cannot infer serialization from extension of %q", filename)
	}
	if merr != nil {
		return merr
	}

	return os.WriteFile(filename, bytes, 0o644)
}

// readDescFile deserializes dict (or, if empty, the contents of filename) into obj
func readDescFile(filename string, useYAML bool, dict []byte, obj any) error {
	var err error

	// if the dict slice of bytes is empty we get them from the file whose name is an argument
	if len(dict) == 0 {
		dict, err = os.ReadFile(filename)
		if err != nil {
			return err
		}
	}

	if useYAML {
		err = yaml.Unmarshal(dict, obj)
	} else {
		err = json.Unmarshal(dict, obj)
	}
	if err != nil {
		return fmt.Errorf("decoding %s: %w", filename, err)
	}
	return nil
}
