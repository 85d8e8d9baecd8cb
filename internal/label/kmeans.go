package label

import (
	"math"
	"math/rand"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/stat"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// maxKMeansIterations caps Lloyd iterations; segmentation converges in a
// handful of rounds on RFM-scale data.
const maxKMeansIterations = 100

// kmeans clusters points into k segments with seeded k-means++
// initialization followed by Lloyd iterations. The same seed and input
// always produce the same assignment. Fewer distinct points than segments
// is an InsufficientDataError.
func kmeans(points [][]float64, k int, seed int64) (centroids [][]float64, assignments []int, err error) {
	if distinct := countDistinct(points); distinct < k {
		return nil, nil, &domain.InsufficientDataError{Needed: k, Got: distinct}
	}

	rng := rand.New(rand.NewSource(seed))
	centroids = seedCentroids(points, k, rng)
	assignments = make([]int, len(points))

	for iter := 0; iter < maxKMeansIterations; iter++ {
		changed := false
		for i, p := range points {
			best := nearest(p, centroids)
			if best != assignments[i] {
				assignments[i] = best
				changed = true
			}
		}
		if !changed && iter > 0 {
			break
		}

		dims := len(points[0])
		sums := make([][]float64, k)
		counts := make([]int, k)
		for c := range sums {
			sums[c] = make([]float64, dims)
		}
		for i, p := range points {
			c := assignments[i]
			counts[c]++
			for d, v := range p {
				sums[c][d] += v
			}
		}
		for c := range centroids {
			if counts[c] == 0 {
				// Empty cluster keeps its previous centroid.
				continue
			}
			for d := range centroids[c] {
				centroids[c][d] = sums[c][d] / float64(counts[c])
			}
		}
	}

	return centroids, assignments, nil
}

// seedCentroids picks k initial centroids with the k-means++ scheme: the
// first uniformly, each next weighted by squared distance to the closest
// chosen centroid.
func seedCentroids(points [][]float64, k int, rng *rand.Rand) [][]float64 {
	centroids := make([][]float64, 0, k)
	first := points[rng.Intn(len(points))]
	centroids = append(centroids, append([]float64(nil), first...))

	dists := make([]float64, len(points))
	for len(centroids) < k {
		total := 0.0
		for i, p := range points {
			d := sqDist(p, centroids[nearest(p, centroids)])
			dists[i] = d
			total += d
		}

		var next []float64
		if total == 0 {
			// All remaining mass is on chosen centroids, fall back to
			// the first point not yet selected.
			next = firstUnchosen(points, centroids)
		} else {
			target := rng.Float64() * total
			acc := 0.0
			next = points[len(points)-1]
			for i, d := range dists {
				acc += d
				if acc >= target {
					next = points[i]
					break
				}
			}
		}
		centroids = append(centroids, append([]float64(nil), next...))
	}
	return centroids
}

func firstUnchosen(points, centroids [][]float64) []float64 {
	for _, p := range points {
		chosen := false
		for _, c := range centroids {
			if sqDist(p, c) == 0 {
				chosen = true
				break
			}
		}
		if !chosen {
			return p
		}
	}
	return points[0]
}

// nearest returns the index of the closest centroid, lowest index winning
// ties so assignment is deterministic.
func nearest(p []float64, centroids [][]float64) int {
	best := 0
	bestDist := math.Inf(1)
	for c, centroid := range centroids {
		if d := sqDist(p, centroid); d < bestDist {
			best = c
			bestDist = d
		}
	}
	return best
}

func sqDist(a, b []float64) float64 {
	sum := 0.0
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}

func countDistinct(points [][]float64) int {
	seen := make(map[string]struct{}, len(points))
	for _, p := range points {
		var key strings.Builder
		for _, v := range p {
			key.WriteByte('|')
			key.WriteString(strconv.FormatFloat(v, 'g', -1, 64))
		}
		seen[key.String()] = struct{}{}
	}
	return len(seen)
}

// meanPopStd returns the mean and population standard deviation of vals.
func meanPopStd(vals []float64) (mean, std float64) {
	if len(vals) == 0 {
		return 0, 0
	}
	return stat.Mean(vals, nil), stat.PopStdDev(vals, nil)
}
