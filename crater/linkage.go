package crater

import (
	"fmt"
	"math"
	"sort"
)

// Merge is one step of an agglomerative linkage. A and B are cluster ids:
// ids below n are single points, id n+k is the cluster formed by merge k.
type Merge struct {
	A        int
	B        int
	Distance float64
	Size     int // number of points in the merged cluster
}

// Dendrogram is a single-linkage tree over N points, n-1 merges sorted by
// distance.
type Dendrogram struct {
	N      int
	Merges []Merge
}

// SingleLinkage builds the single-linkage dendrogram from a condensed
// distance array over n points (see CondensedDistances).
//
// The minimum spanning tree is built with Prim's algorithm on the condensed
// matrix; its edges, sorted by weight, are exactly the single-linkage merges.
func SingleLinkage(condensed []float64, n int) (Dendrogram, error) {
	if n < 0 || len(condensed) != n*(n-1)/2 {
		return Dendrogram{}, shapeErrorf("condensed distances", 0, "length %d does not match %d points", len(condensed), n)
	}
	if n < 2 {
		return Dendrogram{N: n}, nil
	}

	type edge struct {
		a, b int
		d    float64
	}
	edges := make([]edge, 0, n-1)
	inTree := make([]bool, n)
	best := make([]float64, n)
	from := make([]int, n)
	for i := range best {
		best[i] = math.Inf(1)
	}

	cur := 0
	inTree[cur] = true
	for range n - 1 {
		next := -1
		for j := 0; j < n; j++ {
			if inTree[j] {
				continue
			}
			if d := condensed[CondensedIndex(n, cur, j)]; d < best[j] {
				best[j] = d
				from[j] = cur
			}
			if next < 0 || best[j] < best[next] {
				next = j
			}
		}
		edges = append(edges, edge{a: from[next], b: next, d: best[next]})
		inTree[next] = true
		cur = next
	}

	sort.SliceStable(edges, func(i, j int) bool { return edges[i].d < edges[j].d })

	uf := newUnionFind(n)
	// id and size of the cluster rooted at each union-find root
	clusterID := make([]int, n)
	size := make([]int, n)
	for i := range clusterID {
		clusterID[i] = i
		size[i] = 1
	}
	merges := make([]Merge, 0, n-1)
	for k, e := range edges {
		ra, rb := uf.find(e.a), uf.find(e.b)
		ia, ib := clusterID[ra], clusterID[rb]
		if ia > ib {
			ia, ib = ib, ia
		}
		total := size[ra] + size[rb]
		uf.union(ra, rb)
		root := uf.find(ra)
		clusterID[root] = n + k
		size[root] = total
		merges = append(merges, Merge{A: ia, B: ib, Distance: e.d, Size: total})
	}
	return Dendrogram{N: n, Merges: merges}, nil
}

// Cut returns flat cluster labels for the leaves: points joined by merges
// at distance <= threshold share a label. Labels are dense from 1, numbered
// in order of first appearance.
func (d Dendrogram) Cut(threshold float64) []int {
	uf := newUnionFind(d.N)
	// leaf representative for every cluster id
	rep := make([]int, d.N+len(d.Merges))
	for i := 0; i < d.N; i++ {
		rep[i] = i
	}
	for k, m := range d.Merges {
		rep[d.N+k] = rep[m.A]
		if m.Distance <= threshold {
			uf.union(rep[m.A], rep[m.B])
		}
	}
	return denseLabels(d.N, uf.find)
}

// Cluster runs condensed distances, single linkage and a distance cut over
// the points. A single point gets label 1, no points an empty slice.
func Cluster(points []MetricPoint, threshold float64, s Scales) ([]int, error) {
	d, err := SingleLinkage(CondensedDistances(points, s), len(points))
	if err != nil {
		return nil, fmt.Errorf("linking %d points: %w", len(points), err)
	}
	return d.Cut(threshold), nil
}

func denseLabels(n int, root func(int) int) []int {
	labels := make([]int, n)
	seen := make(map[int]int)
	for i := range labels {
		r := root(i)
		l, ok := seen[r]
		if !ok {
			l = len(seen) + 1
			seen[r] = l
		}
		labels[i] = l
	}
	return labels
}

// unionFind implements a disjoint-set data structure with path compression.
type unionFind struct {
	parent []int
}

func newUnionFind(n int) *unionFind {
	p := make([]int, n)
	for i := range p {
		p[i] = i
	}
	return &unionFind{parent: p}
}

func (uf *unionFind) find(x int) int {
	for uf.parent[x] != x {
		uf.parent[x] = uf.parent[uf.parent[x]]
		x = uf.parent[x]
	}
	return x
}

func (uf *unionFind) union(a, b int) {
	ra, rb := uf.find(a), uf.find(b)
	if ra != rb {
		uf.parent[ra] = rb
	}
}
