// Package cluster groups index entries by embedding density. The algorithm is
// DBSCAN over cosine distance: points with enough close neighbors seed a
// cluster, reachable points join it, everything else is noise. Each distinct
// content digest is one point, so duplicate paths can never split across
// clusters.
package cluster

import (
	"sort"

	"github.com/xxxsen/imgidx/internal/index"
)

// NoiseID marks entries that belong to no cluster.
const NoiseID = -1

const unvisited = -2

type Params struct {
	// MinClusterSize is the minimum number of points (neighborhood size,
	// seed included) for a cluster to form.
	MinClusterSize int
	// NeighborhoodRadius is the cosine-distance threshold under which two
	// points count as neighbors.
	NeighborhoodRadius float32
}

func (p Params) withDefaults() Params {
	if p.MinClusterSize <= 0 {
		p.MinClusterSize = 2
	}
	if p.NeighborhoodRadius <= 0 {
		p.NeighborhoodRadius = 0.35
	}
	return p
}

type Cluster struct {
	ID      int
	Digests []string
	// Size counts paths, not digests: a cluster of one digest shared by
	// three paths has size 3.
	Size int
}

type Result struct {
	Clusters []Cluster
	Noise    []string
}

// Clusterize partitions the entries into clusters and noise. Identical input
// yields identical output: seeds are visited in digest order and cluster ids
// are assigned densely from 0 in discovery order.
//
// Neighborhoods are computed by brute force, O(n^2) in distinct digests.
func Clusterize(entries []index.Entry, params Params) Result {
	params = params.withDefaults()
	n := len(entries)
	if n == 0 {
		return Result{}
	}

	ordered := make([]index.Entry, n)
	copy(ordered, entries)
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].Digest < ordered[j].Digest
	})

	neighbors := make([][]int, n)
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			if index.CosineDistance(ordered[i].Vector, ordered[j].Vector) <= params.NeighborhoodRadius {
				neighbors[i] = append(neighbors[i], j)
				neighbors[j] = append(neighbors[j], i)
			}
		}
	}

	labels := make([]int, n)
	for i := range labels {
		labels[i] = unvisited
	}
	nextID := 0
	for i := 0; i < n; i++ {
		if labels[i] != unvisited {
			continue
		}
		if len(neighbors[i])+1 < params.MinClusterSize {
			labels[i] = NoiseID
			continue
		}
		id := nextID
		nextID++
		labels[i] = id
		queue := append([]int(nil), neighbors[i]...)
		for qi := 0; qi < len(queue); qi++ {
			j := queue[qi]
			if labels[j] == NoiseID {
				// Border point: reachable but not dense enough to expand.
				labels[j] = id
				continue
			}
			if labels[j] != unvisited {
				continue
			}
			labels[j] = id
			if len(neighbors[j])+1 >= params.MinClusterSize {
				queue = append(queue, neighbors[j]...)
			}
		}
	}

	clusters := make([]Cluster, nextID)
	for id := range clusters {
		clusters[id].ID = id
	}
	var noise []string
	for i, entry := range ordered {
		if labels[i] == NoiseID {
			noise = append(noise, entry.Digest)
			continue
		}
		c := &clusters[labels[i]]
		c.Digests = append(c.Digests, entry.Digest)
		c.Size += len(entry.Paths)
	}
	return Result{Clusters: clusters, Noise: noise}
}
