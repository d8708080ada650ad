// Package cluster partitions reduced points into density clusters plus
// an explicit noise set, with no a-priori cluster count.
package cluster

import (
	"math"
	"sort"

	"github.com/rs/zerolog/log"

	"github.com/thebtf/taxon/pkg/models"
	"github.com/thebtf/taxon/pkg/similarity"
)

// Default clustering parameters.
const (
	DefaultMinClusterSize = 5
	DefaultMinSamples     = 3
)

// zeroDist floors merge distances so lambda values stay finite when
// points coincide.
const zeroDist = 1e-10

// splitScaleRatio bounds how much finer than its own birth scale a
// cluster may split and still count as a genuine partition. A split
// below that fraction of the distance at which the cluster separated
// from the rest of the data is interior texture of one density mass,
// and gets folded back into the cluster.
const splitScaleRatio = 0.5

// Cluster assigns one label per input point. Label models.NoiseLabel (-1)
// marks points that do not belong with sufficient density to any group.
//
// The algorithm is hierarchical density clustering: core distances at
// minSamples, a minimum spanning tree over mutual-reachability distance,
// a condensed tree at minClusterSize, and excess-of-mass cluster
// selection. The number of clusters is an output, not an input; a result
// of zero clusters or one whole-corpus cluster is valid and signals
// "retune parameters", not an error.
func Cluster(coords [][]float64, minClusterSize, minSamples int) []int {
	n := len(coords)
	if n == 0 {
		return nil
	}
	if minClusterSize < 2 {
		minClusterSize = DefaultMinClusterSize
	}
	if minSamples < 1 {
		minSamples = DefaultMinSamples
	}
	if minSamples > n {
		minSamples = n
	}

	labels := make([]int, n)
	if n < minClusterSize {
		for i := range labels {
			labels[i] = models.NoiseLabel
		}
		return labels
	}

	dist := distanceMatrix(coords)
	core := coreDistances(dist, minSamples)
	edges := spanningTree(dist, core)
	tree := condense(singleLinkage(edges, n), n, minClusterSize)
	selected := selectClusters(tree)
	foldShallowSplits(tree, selected)
	assign(labels, tree, selected)

	clusters, noise := summarize(labels)
	log.Debug().
		Int("points", n).
		Int("clusters", clusters).
		Int("noise", noise).
		Int("minClusterSize", minClusterSize).
		Int("minSamples", minSamples).
		Msg("Clustering complete")
	return labels
}

// PairAgreement measures how similar two label vectors are, independent
// of the actual label values: the Jaccard similarity between their sets
// of co-clustered point pairs. 1 means the same grouping, 0 means no
// shared pair. This is the practical reproducibility contract for runs
// on platforms where bit-exact layouts differ.
func PairAgreement(a, b []int) float64 {
	return similarity.Jaccard(coClusteredPairs(a), coClusteredPairs(b))
}

func coClusteredPairs(labels []int) map[[2]int]bool {
	pairs := make(map[[2]int]bool)
	for i := 0; i < len(labels); i++ {
		if labels[i] == models.NoiseLabel {
			continue
		}
		for j := i + 1; j < len(labels); j++ {
			if labels[j] == labels[i] {
				pairs[[2]int{i, j}] = true
			}
		}
	}
	return pairs
}

func summarize(labels []int) (clusters, noise int) {
	seen := make(map[int]bool)
	for _, l := range labels {
		if l == models.NoiseLabel {
			noise++
		} else {
			seen[l] = true
		}
	}
	return len(seen), noise
}

func distanceMatrix(coords [][]float64) [][]float64 {
	n := len(coords)
	dist := make([][]float64, n)
	for i := range dist {
		dist[i] = make([]float64, n)
	}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			var sum float64
			for d := range coords[i] {
				diff := coords[i][d] - coords[j][d]
				sum += diff * diff
			}
			d := math.Sqrt(sum)
			dist[i][j] = d
			dist[j][i] = d
		}
	}
	return dist
}

// coreDistances returns, per point, the distance to its minSamples-th
// nearest neighbor (the point itself counts as the first).
func coreDistances(dist [][]float64, minSamples int) []float64 {
	n := len(dist)
	core := make([]float64, n)
	row := make([]float64, n)
	for i := 0; i < n; i++ {
		copy(row, dist[i])
		sort.Float64s(row)
		core[i] = row[minSamples-1]
	}
	return core
}

type mstEdge struct {
	from   int
	to     int
	weight float64
}

// spanningTree builds the MST over mutual-reachability distance
// (Prim, O(n^2)).
func spanningTree(dist [][]float64, core []float64) []mstEdge {
	n := len(dist)
	const unvisited = -1

	inTree := make([]bool, n)
	best := make([]float64, n)
	parent := make([]int, n)
	for i := range best {
		best[i] = math.Inf(1)
		parent[i] = unvisited
	}
	best[0] = 0

	edges := make([]mstEdge, 0, n-1)
	for step := 0; step < n; step++ {
		next := unvisited
		for v := 0; v < n; v++ {
			if !inTree[v] && (next == unvisited || best[v] < best[next]) {
				next = v
			}
		}
		inTree[next] = true
		if parent[next] != unvisited {
			edges = append(edges, mstEdge{from: parent[next], to: next, weight: best[next]})
		}

		for v := 0; v < n; v++ {
			if inTree[v] {
				continue
			}
			w := dist[next][v]
			if core[next] > w {
				w = core[next]
			}
			if core[v] > w {
				w = core[v]
			}
			if w < best[v] {
				best[v] = w
				parent[v] = next
			}
		}
	}
	return edges
}

// dendroNode is one merge in the single-linkage hierarchy. Leaves are
// ids 0..n-1; internal nodes continue from n in merge order.
type dendroNode struct {
	left  int
	right int
	dist  float64
	size  int
}

// singleLinkage converts MST edges into a dendrogram, merging in
// ascending weight order.
func singleLinkage(edges []mstEdge, n int) []dendroNode {
	sort.SliceStable(edges, func(a, b int) bool {
		return edges[a].weight < edges[b].weight
	})

	parent := make([]int, 2*n-1)
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(x int) int {
		for parent[x] != x {
			parent[x] = parent[parent[x]]
			x = parent[x]
		}
		return x
	}

	nodes := make([]dendroNode, 0, n-1)
	component := make([]int, 2*n-1) // union-find root -> dendrogram node id
	for i := 0; i < 2*n-1; i++ {
		component[i] = i
	}

	nextID := n
	for _, e := range edges {
		ra, rb := find(e.from), find(e.to)
		na, nb := component[ra], component[rb]

		sizeA, sizeB := 1, 1
		if na >= n {
			sizeA = nodes[na-n].size
		}
		if nb >= n {
			sizeB = nodes[nb-n].size
		}
		nodes = append(nodes, dendroNode{left: na, right: nb, dist: e.weight, size: sizeA + sizeB})

		parent[ra] = rb
		component[find(rb)] = nextID
		nextID++
	}
	return nodes
}

// condensedTree is the minClusterSize view of the dendrogram: a small
// tree of candidate clusters plus, per point, the cluster it fell out of
// and the density (lambda = 1/distance) at which it left.
type condensedTree struct {
	parent    []int       // per cluster, -1 for root
	birth     []float64   // lambda at which the cluster appeared
	children  [][]int     // child clusters
	stability []float64
	pointExit []int // per point, the cluster it exited
}

func condense(nodes []dendroNode, n, minClusterSize int) *condensedTree {
	tree := &condensedTree{
		parent:    []int{-1},
		birth:     []float64{0},
		children:  [][]int{nil},
		stability: []float64{0},
		pointExit: make([]int, n),
	}
	if len(nodes) == 0 {
		// Single point: it exits the root immediately
		return tree
	}

	leafCount := func(id int) int {
		if id < n {
			return 1
		}
		return nodes[id-n].size
	}

	// Record every leaf under id as exiting cluster at lambda
	var dropLeaves func(id, cluster int, lambda float64)
	dropLeaves = func(id, cluster int, lambda float64) {
		stack := []int{id}
		for len(stack) > 0 {
			cur := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if cur < n {
				tree.pointExit[cur] = cluster
				tree.stability[cluster] += lambda - tree.birth[cluster]
				continue
			}
			stack = append(stack, nodes[cur-n].left, nodes[cur-n].right)
		}
	}

	type frame struct {
		node    int // dendrogram node id
		cluster int // condensed cluster id
	}
	stack := []frame{{node: n + len(nodes) - 1, cluster: 0}}
	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if f.node < n {
			// Lone leaf carrying the cluster label: exits at its own merge height
			dropLeaves(f.node, f.cluster, tree.birth[f.cluster])
			continue
		}

		node := nodes[f.node-n]
		d := node.dist
		if d < zeroDist {
			d = zeroDist
		}
		lambda := 1 / d

		left, right := node.left, node.right
		bigLeft := leafCount(left) >= minClusterSize
		bigRight := leafCount(right) >= minClusterSize

		switch {
		case bigLeft && bigRight:
			// True split: the parent cluster dies, two clusters are born
			for _, child := range []int{left, right} {
				childID := len(tree.parent)
				tree.parent = append(tree.parent, f.cluster)
				tree.birth = append(tree.birth, lambda)
				tree.children = append(tree.children, nil)
				tree.stability = append(tree.stability, 0)
				tree.children[f.cluster] = append(tree.children[f.cluster], childID)
				tree.stability[f.cluster] += (lambda - tree.birth[f.cluster]) * float64(leafCount(child))
				stack = append(stack, frame{node: child, cluster: childID})
			}
		case !bigLeft && !bigRight:
			// The cluster dissolves: every remaining point exits here
			dropLeaves(left, f.cluster, lambda)
			dropLeaves(right, f.cluster, lambda)
		case bigLeft:
			dropLeaves(right, f.cluster, lambda)
			stack = append(stack, frame{node: left, cluster: f.cluster})
		default:
			dropLeaves(left, f.cluster, lambda)
			stack = append(stack, frame{node: right, cluster: f.cluster})
		}
	}
	return tree
}

// selectClusters picks the flat clustering by excess of mass: a cluster
// is kept when it is more stable than the sum of its children. The root
// is selectable only when the tree never split, so a corpus that is one
// dense mass comes back as a single cluster rather than all noise.
func selectClusters(tree *condensedTree) []bool {
	m := len(tree.parent)
	selected := make([]bool, m)

	var deselectSubtree func(c int)
	deselectSubtree = func(c int) {
		for _, child := range tree.children[c] {
			selected[child] = false
			deselectSubtree(child)
		}
	}

	// Children were appended after their parents, so reverse order is
	// leaves-first.
	for c := m - 1; c >= 1; c-- {
		if len(tree.children[c]) == 0 {
			selected[c] = true
			continue
		}
		childSum := 0.0
		for _, child := range tree.children[c] {
			childSum += tree.stability[child]
		}
		if tree.stability[c] >= childSum {
			selected[c] = true
			deselectSubtree(c)
		} else {
			tree.stability[c] = childSum
		}
	}

	if len(tree.children[0]) == 0 {
		selected[0] = true
	}
	return selected
}

// foldShallowSplits rewrites the selection so that a cluster whose own
// split happens far below the scale at which it separated from the rest
// of the data absorbs its entire subtree. Excess of mass on its own
// prefers very tight fragments (their density persistence dwarfs the
// parent's) and turns everything between the fragments into noise; when
// the fragments sit orders of magnitude closer to each other than to the
// nearest other cluster, they are one cluster. The top-level split is
// never folded, so a corpus with genuinely separated groups keeps them.
func foldShallowSplits(tree *condensedTree, selected []bool) {
	var deselectSubtree func(c int)
	deselectSubtree = func(c int) {
		for _, child := range tree.children[c] {
			selected[child] = false
			deselectSubtree(child)
		}
	}

	ancestorSelected := func(c int) bool {
		for a := tree.parent[c]; a >= 0; a = tree.parent[a] {
			if selected[a] {
				return true
			}
		}
		return false
	}

	// Clusters are appended parent-before-child, so index order is
	// top-down.
	for x := 1; x < len(tree.parent); x++ {
		kids := tree.children[x]
		if len(kids) == 0 || ancestorSelected(x) {
			continue
		}
		// birth is lambda (1/distance): a larger lambda is a smaller
		// distance. The split distance is the children's birth.
		if tree.birth[kids[0]]*splitScaleRatio > tree.birth[x] {
			selected[x] = true
			deselectSubtree(x)
		}
	}
}

// assign maps each point to the nearest selected ancestor of the cluster
// it exited; points with no selected ancestor are noise.
func assign(labels []int, tree *condensedTree, selected []bool) {
	labelOf := make(map[int]int)
	next := 0
	for c, sel := range selected {
		if sel {
			labelOf[c] = next
			next++
		}
	}

	for p := range tree.pointExit {
		labels[p] = models.NoiseLabel
		for c := tree.pointExit[p]; c >= 0; c = tree.parent[c] {
			if selected[c] {
				labels[p] = labelOf[c]
				break
			}
		}
	}
}
