package parsimon

// aggregate.go turns per-cluster delay distributions into per-flow ones.
// Every link takes the distribution of its cluster; every flow's distribution is
// the convolution, in path order, of the distributions of the links it crosses.
// Flows sharing a path share the composed distribution.

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"
)

// pathKey renders a path as a map key
func pathKey(linkPath []LinkID) string {
	var sb strings.Builder
	for idx, linkID := range linkPath {
		if idx > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(strconv.Itoa(int(linkID)))
	}
	return sb.String()
}

// Aggregate builds the queryable DelayNetwork.  Composition of distinct paths runs
// in parallel, at most cfg.Parallelism at a time (all CPUs when zero).
func (sn *SimulatedNetwork) Aggregate(ctx context.Context, cfg AggregationConfig) (*DelayNetwork, error) {
	if sn == nil || sn.cn == nil {
		return nil, errors.New("aggregation needs a simulated network")
	}
	cn := sn.cn
	clusters := cn.Clusters()
	if len(sn.dists) != len(clusters) {
		return nil, fmt.Errorf("aggregation needs %d cluster distributions, have %d", len(clusters), len(sn.dists))
	}

	// step 1, every link inherits the distribution and size buckets of its cluster
	linkDists := make(map[LinkID]*DelayDist, len(cn.Network().Links()))
	linkBuckets := make(map[LinkID]*SizeBuckets)
	for _, cluster := range clusters {
		dist := sn.dists[cluster.ID]
		if dist == nil {
			return nil, fmt.Errorf("cluster %d (link %d) has no simulated distribution", cluster.ID, cluster.Representative)
		}
		buckets, _ := sn.ClusterBuckets(cluster.ID)
		for _, member := range cluster.Members {
			linkDists[member] = dist
			if buckets != nil {
				linkBuckets[member] = buckets
			}
		}
	}

	// step 2, compose once per distinct path
	flows := cn.Network().Flows()
	slotOf := make(map[string]int)
	paths := make([][]LinkID, 0)
	flowSlot := make([]int, len(flows))
	for idx, flow := range flows {
		key := pathKey(flow.Path)
		slot, present := slotOf[key]
		if !present {
			slot = len(paths)
			slotOf[key] = slot
			paths = append(paths, flow.Path)
		}
		flowSlot[idx] = slot
	}

	maxAtoms := cfg.MaxAtoms
	if maxAtoms == 0 {
		maxAtoms = DefaultMaxAtoms
	}
	parallelism := cfg.Parallelism
	if parallelism <= 0 {
		parallelism = runtime.GOMAXPROCS(0)
	}

	pathDists := make([]*DelayDist, len(paths))
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(parallelism)
	for slot, linkPath := range paths {
		eg.Go(func() error {
			if err := egCtx.Err(); err != nil {
				return err
			}
			hops := make([]*DelayDist, 0, len(linkPath))
			for _, linkID := range linkPath {
				dist, present := linkDists[linkID]
				if !present {
					return fmt.Errorf("%w: link %d on path %s has no distribution", ErrUnknownLink, linkID, pathKey(linkPath))
				}
				hops = append(hops, dist)
			}
			dist, err := ComposeDists(hops, maxAtoms)
			if err != nil {
				return fmt.Errorf("composing path %s: %w", pathKey(linkPath), err)
			}
			pathDists[slot] = dist
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: aggregation interrupted: %v", ErrCancelled, ctx.Err())
		}
		return nil, err
	}

	dn := &DelayNetwork{net: cn.Network(), clusters: clusters, linkDists: linkDists, linkBuckets: linkBuckets,
		flowDists: make(map[FlowID]*DelayDist, len(flows)), maxAtoms: maxAtoms, runID: sn.runID}
	for idx, flow := range flows {
		dn.flowDists[flow.ID] = pathDists[flowSlot[idx]]
	}
	return dn, nil
}
