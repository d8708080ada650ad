// Package manifold projects high-dimensional embeddings onto a
// low-dimensional manifold that preserves local neighborhood structure.
// Density clustering directly on raw embedding vectors produces
// degenerate density estimates (everything looks equidistant in hundreds
// of dimensions); projecting to a handful of dimensions first restores
// meaningful density variation.
package manifold

import (
	"fmt"
	"math"
	"math/rand"
	"runtime"
	"sort"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// Default reduction parameters.
const (
	DefaultNNeighbors  = 15
	DefaultNComponents = 10
	DefaultMetric      = "cosine"
	DefaultNEpochs     = 200
	DefaultSeed        = 42
)

// Fitted attraction curve for spread=1.0, min_dist=0.1.
const (
	curveA = 1.577
	curveB = 0.8951
)

const negativeSampleRate = 5

// minBandwidthScale floors the smooth-kNN bandwidth at this fraction of
// a point's mean neighbor distance.
const minBandwidthScale = 0.05

// Params control the projection. NNeighbors sets how local the preserved
// structure is (smaller = finer grain); NComponents is the output
// dimensionality. The projection is a pure function of the input vectors
// and Seed. Seed 0 is a sentinel for "unset" and is replaced with
// DefaultSeed, so every run has a concrete, reportable seed; to vary
// layouts, pick any nonzero seed.
type Params struct {
	NNeighbors  int
	NComponents int
	Metric      string // "cosine" or "euclidean"
	NEpochs     int
	Seed        int64
}

func (p *Params) setDefaults(n int) error {
	if p.NNeighbors <= 0 {
		p.NNeighbors = DefaultNNeighbors
	}
	if p.NComponents <= 0 {
		p.NComponents = DefaultNComponents
	}
	if p.Metric == "" {
		p.Metric = DefaultMetric
	}
	if p.Metric != "cosine" && p.Metric != "euclidean" {
		return fmt.Errorf("unsupported metric %q", p.Metric)
	}
	if p.NEpochs <= 0 {
		p.NEpochs = DefaultNEpochs
	}
	if p.Seed == 0 {
		p.Seed = DefaultSeed
	}
	if p.NNeighbors >= n {
		p.NNeighbors = n - 1
	}
	if p.NNeighbors < 1 {
		p.NNeighbors = 1
	}
	return nil
}

type edge struct {
	from   int
	to     int
	weight float64
}

// Reduce projects vectors to Params.NComponents dimensions.
func Reduce(vectors [][]float32, params Params) ([][]float64, error) {
	n := len(vectors)
	if n == 0 {
		return nil, nil
	}
	dims := len(vectors[0])
	for i, v := range vectors {
		if len(v) != dims {
			return nil, fmt.Errorf("vector %d has %d dims, want %d", i, len(v), dims)
		}
	}
	if err := params.setDefaults(n); err != nil {
		return nil, err
	}

	coords := make([][]float64, n)
	for i := range coords {
		coords[i] = make([]float64, params.NComponents)
	}
	if n == 1 || allIdentical(vectors) {
		// Identical inputs project to identical coordinates; running the
		// layout would only scatter them through negative sampling.
		log.Debug().Int("count", n).Msg("Degenerate corpus, skipping layout")
		return coords, nil
	}

	knnIdx, knnDist := nearestNeighbors(vectors, params.NNeighbors, params.Metric)
	edges := fuzzyGraph(knnIdx, knnDist, params.NNeighbors)
	coords = pcaInit(vectors, params.NComponents, params.Seed)
	optimizeLayout(coords, edges, params)

	log.Debug().
		Int("points", n).
		Int("nNeighbors", params.NNeighbors).
		Int("nComponents", params.NComponents).
		Str("metric", params.Metric).
		Int64("seed", params.Seed).
		Msg("Reduction complete")
	return coords, nil
}

func allIdentical(vectors [][]float32) bool {
	first := vectors[0]
	for _, v := range vectors[1:] {
		for d := range v {
			if v[d] != first[d] {
				return false
			}
		}
	}
	return true
}

func distance(a, b []float32, metric string) float64 {
	if metric == "euclidean" {
		var sum float64
		for d := range a {
			diff := float64(a[d]) - float64(b[d])
			sum += diff * diff
		}
		return math.Sqrt(sum)
	}

	var dot, na, nb float64
	for d := range a {
		ad, bd := float64(a[d]), float64(b[d])
		dot += ad * bd
		na += ad * ad
		nb += bd * bd
	}
	denom := math.Sqrt(na) * math.Sqrt(nb)
	if denom == 0 {
		return 1
	}
	return 1 - dot/denom
}

// nearestNeighbors computes the k nearest neighbors of every point.
// The O(n^2) scan fans out across cores; results are keyed by row index
// so goroutine scheduling cannot affect the output.
func nearestNeighbors(vectors [][]float32, k int, metric string) ([][]int, [][]float64) {
	n := len(vectors)
	knnIdx := make([][]int, n)
	knnDist := make([][]float64, n)

	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i := 0; i < n; i++ {
		g.Go(func() error {
			dists := make([]float64, n)
			order := make([]int, 0, n-1)
			for j := 0; j < n; j++ {
				if j == i {
					continue
				}
				dists[j] = distance(vectors[i], vectors[j], metric)
				order = append(order, j)
			}
			sort.Slice(order, func(a, b int) bool {
				if dists[order[a]] != dists[order[b]] {
					return dists[order[a]] < dists[order[b]]
				}
				return order[a] < order[b]
			})

			knnIdx[i] = make([]int, k)
			knnDist[i] = make([]float64, k)
			for r := 0; r < k; r++ {
				knnIdx[i][r] = order[r]
				knnDist[i][r] = dists[order[r]]
			}
			return nil
		})
	}
	_ = g.Wait() // workers never return errors

	return knnIdx, knnDist
}

// fuzzyGraph converts kNN distances into a symmetrized membership graph.
// Per-point bandwidths follow the smooth-kNN construction: rho is the
// nearest nonzero distance, sigma is binary-searched so the memberships
// sum to log2(k).
func fuzzyGraph(knnIdx [][]int, knnDist [][]float64, k int) []edge {
	n := len(knnIdx)
	target := math.Log2(float64(k))
	if target <= 0 {
		target = 1
	}

	directed := make(map[[2]int]float64, n*k)
	for i := 0; i < n; i++ {
		rho := 0.0
		for _, d := range knnDist[i] {
			if d > 0 {
				rho = d
				break
			}
		}

		sigma := smoothBandwidth(knnDist[i], rho, target)
		for r, j := range knnIdx[i] {
			d := knnDist[i][r] - rho
			if d < 0 {
				d = 0
			}
			w := 1.0
			if d > 0 && sigma > 0 {
				w = math.Exp(-d / sigma)
			}
			directed[[2]int{i, j}] = w
		}
	}

	// Probabilistic union: w = a + b - a*b
	seen := make(map[[2]int]bool, len(directed))
	edges := make([]edge, 0, len(directed))
	for key, w := range directed {
		i, j := key[0], key[1]
		lo, hi := i, j
		if lo > hi {
			lo, hi = hi, lo
		}
		if seen[[2]int{lo, hi}] {
			continue
		}
		seen[[2]int{lo, hi}] = true

		back := directed[[2]int{j, i}]
		edges = append(edges, edge{from: lo, to: hi, weight: w + back - w*back})
	}

	// Map iteration order is random; fix it for determinism.
	sort.Slice(edges, func(a, b int) bool {
		if edges[a].from != edges[b].from {
			return edges[a].from < edges[b].from
		}
		return edges[a].to < edges[b].to
	})
	return edges
}

func smoothBandwidth(dists []float64, rho, target float64) float64 {
	lo, hi := 1e-8, 1e4
	for iter := 0; iter < 64; iter++ {
		mid := (lo + hi) / 2
		sum := 0.0
		for _, d := range dists {
			adj := d - rho
			if adj <= 0 {
				sum++
				continue
			}
			sum += math.Exp(-adj / mid)
		}
		if sum > target {
			hi = mid
		} else {
			lo = mid
		}
	}
	sigma := (lo + hi) / 2

	// When the neighbor distances are near-ties, the search collapses
	// sigma to the tie-noise scale and all but the closest memberships
	// vanish. Floor it relative to the mean distance so the graph keeps
	// its full degree on such corpora.
	mean := 0.0
	for _, d := range dists {
		mean += d
	}
	mean /= float64(len(dists))
	if floor := minBandwidthScale * mean; sigma < floor {
		sigma = floor
	}
	return sigma
}

// pcaInit seeds the layout with the top principal components, scaled to
// a +/-10 box. Power iteration with Gram-Schmidt deflation; deterministic
// for a fixed seed.
func pcaInit(vectors [][]float32, nComponents int, seed int64) [][]float64 {
	n := len(vectors)
	dims := len(vectors[0])
	rng := rand.New(rand.NewSource(seed))

	// Center the data
	mean := make([]float64, dims)
	for _, v := range vectors {
		for d, x := range v {
			mean[d] += float64(x)
		}
	}
	for d := range mean {
		mean[d] /= float64(n)
	}
	data := make([][]float64, n)
	for i, v := range vectors {
		data[i] = make([]float64, dims)
		for d, x := range v {
			data[i][d] = float64(x) - mean[d]
		}
	}

	components := make([][]float64, 0, nComponents)
	for c := 0; c < nComponents; c++ {
		v := make([]float64, dims)
		for d := range v {
			v[d] = rng.NormFloat64()
		}

		for iter := 0; iter < 40; iter++ {
			// w = X^T (X v), two matvecs instead of forming the covariance
			proj := make([]float64, n)
			for i := range data {
				for d := range v {
					proj[i] += data[i][d] * v[d]
				}
			}
			w := make([]float64, dims)
			for i := range data {
				for d := range w {
					w[d] += data[i][d] * proj[i]
				}
			}

			for _, prev := range components {
				var dot float64
				for d := range w {
					dot += w[d] * prev[d]
				}
				for d := range w {
					w[d] -= dot * prev[d]
				}
			}

			norm := 0.0
			for _, x := range w {
				norm += x * x
			}
			norm = math.Sqrt(norm)
			if norm < 1e-12 {
				break
			}
			for d := range w {
				w[d] /= norm
			}
			v = w
		}
		components = append(components, v)
	}

	coords := make([][]float64, n)
	maxAbs := 0.0
	for i := range data {
		coords[i] = make([]float64, nComponents)
		for c, comp := range components {
			var dot float64
			for d := range comp {
				dot += data[i][d] * comp[d]
			}
			coords[i][c] = dot
			if a := math.Abs(dot); a > maxAbs {
				maxAbs = a
			}
		}
	}
	if maxAbs > 0 {
		scale := 10.0 / maxAbs
		for i := range coords {
			for c := range coords[i] {
				coords[i][c] *= scale
			}
		}
	}
	return coords
}

// optimizeLayout runs the negative-sampling SGD over the fuzzy graph.
// Single-threaded on purpose: the iteration order is part of the
// determinism contract.
func optimizeLayout(coords [][]float64, edges []edge, params Params) {
	n := len(coords)
	if len(edges) == 0 {
		return
	}
	rng := rand.New(rand.NewSource(params.Seed + 1))

	maxW := 0.0
	for _, e := range edges {
		if e.weight > maxW {
			maxW = e.weight
		}
	}
	if maxW == 0 {
		return
	}

	epochsPerSample := make([]float64, len(edges))
	nextSample := make([]float64, len(edges))
	nextNegative := make([]float64, len(edges))
	for i, e := range edges {
		epochsPerSample[i] = maxW / e.weight
		nextSample[i] = epochsPerSample[i]
	}

	clip := func(x float64) float64 {
		if x > 4 {
			return 4
		}
		if x < -4 {
			return -4
		}
		return x
	}

	for epoch := 0; epoch < params.NEpochs; epoch++ {
		alpha := 1.0 * (1.0 - float64(epoch)/float64(params.NEpochs))

		for ei, e := range edges {
			if nextSample[ei] > float64(epoch) {
				continue
			}

			yi, yj := coords[e.from], coords[e.to]
			distSq := 0.0
			for d := range yi {
				diff := yi[d] - yj[d]
				distSq += diff * diff
			}

			var coeff float64
			if distSq > 0 {
				coeff = -2 * curveA * curveB * math.Pow(distSq, curveB-1)
				coeff /= curveA*math.Pow(distSq, curveB) + 1
			}
			for d := range yi {
				grad := clip(coeff * (yi[d] - yj[d]))
				yi[d] += alpha * grad
				yj[d] -= alpha * grad
			}
			nextSample[ei] += epochsPerSample[ei]

			epochsPerNeg := epochsPerSample[ei] / negativeSampleRate
			nNeg := int((float64(epoch) - nextNegative[ei]) / epochsPerNeg)
			for s := 0; s < nNeg; s++ {
				k := rng.Intn(n)
				if k == e.from {
					continue
				}
				yk := coords[k]
				distSq = 0
				for d := range yi {
					diff := yi[d] - yk[d]
					distSq += diff * diff
				}

				if distSq > 0 {
					coeff = 2 * curveB / ((0.001 + distSq) * (curveA*math.Pow(distSq, curveB) + 1))
				} else {
					coeff = 0
				}
				for d := range yi {
					grad := 4.0
					if coeff > 0 {
						grad = clip(coeff * (yi[d] - yk[d]))
					}
					yi[d] += alpha * grad
				}
			}
			nextNegative[ei] += float64(nNeg) * epochsPerNeg
		}
	}
}
