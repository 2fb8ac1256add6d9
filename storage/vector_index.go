package storage

import (
	"fmt"
	"math"
	"sort"

	"github.com/contextframe/contextframe-go/models"
)

// Metric is the distance function of a vector index.
type Metric string

const (
	MetricCosine Metric = "cosine"
	MetricL2     Metric = "l2"
	MetricDot    Metric = "dot"
)

// IsValid reports whether m is a supported metric.
func (m Metric) IsValid() bool {
	return m == MetricCosine || m == MetricL2 || m == MetricDot
}

// VectorIndexParams configures an IVF index with optional product
// quantization.
type VectorIndexParams struct {
	Partitions    int    `json:"partitions"`     // IVF cell count
	SubQuantizers int    `json:"sub_quantizers"` // 0 disables PQ
	Metric        Metric `json:"metric"`
	NProbe        int    `json:"nprobe"` // cells visited at query time
}

// WithDefaults fills unset parameters for a dataset of n rows.
func (p VectorIndexParams) WithDefaults(n int) VectorIndexParams {
	out := p
	if out.Partitions <= 0 {
		out.Partitions = int(math.Sqrt(float64(n)))
		if out.Partitions < 1 {
			out.Partitions = 1
		}
	}
	if out.Metric == "" {
		out.Metric = MetricCosine
	}
	if out.NProbe <= 0 {
		out.NProbe = out.Partitions/4 + 1
	}
	return out
}

// VectorIndex is an inverted-file index: vectors are assigned to the
// nearest of a small set of centroids and search visits only the closest
// cells. With SubQuantizers > 0 and Dim divisible by it, the stored vectors
// are product-quantized and the uncompressed vectors are dropped from the
// index payload; otherwise the raw vectors are kept.
type VectorIndex struct {
	Params    VectorIndexParams `json:"params"`
	Dim       int               `json:"dim"`
	Centroids [][]float32       `json:"centroids"`
	// Cells[i] lists the row keys assigned to centroid i.
	Cells [][]string `json:"cells"`
	// Vectors holds the raw vectors per cell when PQ is off.
	Vectors [][][]float32 `json:"vectors,omitempty"`
	// Codes holds the PQ codes per cell when PQ is on.
	Codes [][][]byte `json:"codes,omitempty"`
	// Codebooks[m][k] is the k-th centroid of sub-quantizer m.
	Codebooks [][][]float32 `json:"codebooks,omitempty"`
}

// minIndexRows is the smallest dataset an IVF index trains on cleanly.
// Below it the partition training degenerates, so search reports an empty
// result with a warning instead of building a broken index.
const minIndexRows = 10

// BuildVectorIndex trains an IVF(/PQ) index over the given rows. uuids and
// vectors are parallel; rows with nil vectors must be filtered out by the
// caller.
func BuildVectorIndex(uuids []string, vectors [][]float32, dim int, params VectorIndexParams) (*VectorIndex, error) {
	if len(uuids) != len(vectors) {
		return nil, fmt.Errorf("uuids and vectors length mismatch: %d != %d", len(uuids), len(vectors))
	}
	p := params.WithDefaults(len(vectors))
	if !p.Metric.IsValid() {
		return nil, &models.ValidationError{Field: "metric",
			Reason: fmt.Sprintf("unknown metric %q", p.Metric),
			Hint:   "one of cosine, l2, dot"}
	}
	if p.Partitions > len(vectors) {
		p.Partitions = len(vectors)
	}
	if p.Partitions < 1 {
		p.Partitions = 1
	}
	ix := &VectorIndex{Params: p, Dim: dim}
	ix.Centroids = kmeans(vectors, p.Partitions, dim, 8)
	ix.Cells = make([][]string, len(ix.Centroids))
	assignments := make([][]int, len(ix.Centroids))
	for i, v := range vectors {
		c := nearestCentroid(v, ix.Centroids, p.Metric)
		ix.Cells[c] = append(ix.Cells[c], uuids[i])
		assignments[c] = append(assignments[c], i)
	}
	if p.SubQuantizers > 0 && dim%p.SubQuantizers == 0 {
		ix.trainPQ(vectors, assignments)
	} else {
		ix.Vectors = make([][][]float32, len(ix.Centroids))
		for c, rows := range assignments {
			for _, i := range rows {
				ix.Vectors[c] = append(ix.Vectors[c], vectors[i])
			}
		}
	}
	return ix, nil
}

func (ix *VectorIndex) trainPQ(vectors [][]float32, assignments [][]int) {
	m := ix.Params.SubQuantizers
	sub := ix.Dim / m
	ix.Codebooks = make([][][]float32, m)
	subVecs := make([][][]float32, m)
	for q := 0; q < m; q++ {
		subVecs[q] = make([][]float32, len(vectors))
		for i, v := range vectors {
			subVecs[q][i] = v[q*sub : (q+1)*sub]
		}
		k := 256
		if k > len(vectors) {
			k = len(vectors)
		}
		ix.Codebooks[q] = kmeans(subVecs[q], k, sub, 8)
	}
	ix.Codes = make([][][]byte, len(ix.Cells))
	for c, rows := range assignments {
		for _, i := range rows {
			code := make([]byte, m)
			for q := 0; q < m; q++ {
				code[q] = byte(nearestCentroid(subVecs[q][i], ix.Codebooks[q], MetricL2))
			}
			ix.Codes[c] = append(ix.Codes[c], code)
		}
	}
}

// VectorHit is one scored nearest-neighbour match. Score is oriented so
// larger is better for every metric.
type VectorHit struct {
	UUID  string
	Score float64
}

// Search returns the k nearest row keys to the query vector.
func (ix *VectorIndex) Search(query []float32, k int) []VectorHit {
	if len(query) != ix.Dim || k <= 0 {
		return nil
	}
	nprobe := ix.Params.NProbe
	if nprobe > len(ix.Centroids) {
		nprobe = len(ix.Centroids)
	}
	order := rankCentroids(query, ix.Centroids, ix.Params.Metric)
	var hits []VectorHit
	for _, c := range order[:nprobe] {
		for j, uuid := range ix.Cells[c] {
			var score float64
			if ix.Codes != nil {
				score = similarity(query, ix.decode(c, j), ix.Params.Metric)
			} else {
				score = similarity(query, ix.Vectors[c][j], ix.Params.Metric)
			}
			hits = append(hits, VectorHit{UUID: uuid, Score: score})
		}
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].UUID < hits[j].UUID
	})
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits
}

func (ix *VectorIndex) decode(cell, row int) []float32 {
	m := ix.Params.SubQuantizers
	sub := ix.Dim / m
	out := make([]float32, 0, ix.Dim)
	for q := 0; q < m; q++ {
		out = append(out, ix.Codebooks[q][ix.Codes[cell][row][q]][:sub]...)
	}
	return out
}

// FlatSearch is the index-free fallback: exact scan over every vector.
func FlatSearch(uuids []string, vectors [][]float32, query []float32, k int, metric Metric) []VectorHit {
	hits := make([]VectorHit, 0, len(vectors))
	for i, v := range vectors {
		if v == nil {
			continue
		}
		hits = append(hits, VectorHit{UUID: uuids[i], Score: similarity(query, v, metric)})
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].UUID < hits[j].UUID
	})
	if k > 0 && len(hits) > k {
		hits = hits[:k]
	}
	return hits
}

// similarity orients every metric so larger is better.
func similarity(a, b []float32, metric Metric) float64 {
	switch metric {
	case MetricL2:
		var d float64
		for i := range a {
			diff := float64(a[i]) - float64(b[i])
			d += diff * diff
		}
		return -math.Sqrt(d)
	case MetricDot:
		var dot float64
		for i := range a {
			dot += float64(a[i]) * float64(b[i])
		}
		return dot
	default: // cosine
		var dot, na, nb float64
		for i := range a {
			dot += float64(a[i]) * float64(b[i])
			na += float64(a[i]) * float64(a[i])
			nb += float64(b[i]) * float64(b[i])
		}
		if na == 0 || nb == 0 {
			return 0
		}
		return dot / (math.Sqrt(na) * math.Sqrt(nb))
	}
}

func nearestCentroid(v []float32, centroids [][]float32, metric Metric) int {
	best, bestScore := 0, math.Inf(-1)
	for i, c := range centroids {
		if s := similarity(v, c, metric); s > bestScore {
			best, bestScore = i, s
		}
	}
	return best
}

func rankCentroids(v []float32, centroids [][]float32, metric Metric) []int {
	type scored struct {
		idx   int
		score float64
	}
	ranked := make([]scored, len(centroids))
	for i, c := range centroids {
		ranked[i] = scored{idx: i, score: similarity(v, c, metric)}
	}
	sort.Slice(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })
	out := make([]int, len(ranked))
	for i, r := range ranked {
		out[i] = r.idx
	}
	return out
}

// kmeans runs a few Lloyd iterations with deterministic initialization
// (evenly spaced seeds), which keeps index builds reproducible.
func kmeans(vectors [][]float32, k, dim, iters int) [][]float32 {
	if k > len(vectors) {
		k = len(vectors)
	}
	if k < 1 {
		k = 1
	}
	centroids := make([][]float32, k)
	for i := 0; i < k; i++ {
		seed := vectors[i*len(vectors)/k]
		centroids[i] = append([]float32(nil), seed...)
	}
	for it := 0; it < iters; it++ {
		sums := make([][]float64, k)
		counts := make([]int, k)
		for i := range sums {
			sums[i] = make([]float64, dim)
		}
		for _, v := range vectors {
			c := nearestCentroid(v, centroids, MetricL2)
			counts[c]++
			for d := 0; d < dim; d++ {
				sums[c][d] += float64(v[d])
			}
		}
		for c := 0; c < k; c++ {
			if counts[c] == 0 {
				continue
			}
			for d := 0; d < dim; d++ {
				centroids[c][d] = float32(sums[c][d] / float64(counts[c]))
			}
		}
	}
	return centroids
}
