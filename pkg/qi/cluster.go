package qi

import "math/rand"

// clusterGraph returns connected components of the correlation graph.
// An edge exists where correlation meets the threshold. Components
// outside [minSize, maxSize] are dropped. Column indices inside each
// component keep their input order, which callers sort beforehand.
func clusterGraph(n int, corr [][]float64, threshold float64, minSize, maxSize int) [][]int {
	visited := make([]bool, n)
	var components [][]int

	for start := 0; start < n; start++ {
		if visited[start] {
			continue
		}
		var comp []int
		queue := []int{start}
		visited[start] = true
		for len(queue) > 0 {
			v := queue[0]
			queue = queue[1:]
			comp = append(comp, v)
			for w := 0; w < n; w++ {
				if !visited[w] && corr[v][w] >= threshold {
					visited[w] = true
					queue = append(queue, w)
				}
			}
		}
		if len(comp) >= minSize && len(comp) <= maxSize {
			components = append(components, comp)
		}
	}
	return components
}

// clusterDBSCAN runs density-based clustering over the correlation
// distance matrix (1 - correlation). When the first pass yields no
// clusters the scan is retried once with eps widened by 0.1. The rng
// is seeded per job, so iteration is deterministic for fixed input.
func clusterDBSCAN(n int, corr [][]float64, eps float64, minPts, maxSize int, rng *rand.Rand) [][]int {
	for pass := 0; pass < 2; pass++ {
		clusters := dbscanPass(n, corr, eps, minPts, maxSize, rng)
		if len(clusters) > 0 {
			return clusters
		}
		eps += 0.1
	}
	return nil
}

func dbscanPass(n int, corr [][]float64, eps float64, minPts, maxSize int, rng *rand.Rand) [][]int {
	const (
		unclassified = 0
		noise        = -1
	)
	labels := make([]int, n)
	nextCluster := 0

	// Visit order is shuffled with the job-seeded rng so the algorithm
	// matches its usual randomized formulation while staying repeatable.
	order := rng.Perm(n)

	neighbors := func(p int) []int {
		var out []int
		for q := 0; q < n; q++ {
			if 1-corr[p][q] <= eps {
				out = append(out, q)
			}
		}
		return out
	}

	for _, p := range order {
		if labels[p] != unclassified {
			continue
		}
		seeds := neighbors(p)
		if len(seeds) < minPts {
			labels[p] = noise
			continue
		}

		nextCluster++
		labels[p] = nextCluster
		for i := 0; i < len(seeds); i++ {
			q := seeds[i]
			if labels[q] == noise {
				labels[q] = nextCluster
			}
			if labels[q] != unclassified {
				continue
			}
			labels[q] = nextCluster
			qn := neighbors(q)
			if len(qn) >= minPts {
				seeds = append(seeds, qn...)
			}
		}
	}

	byCluster := make(map[int][]int)
	for p := 0; p < n; p++ {
		if labels[p] > 0 {
			byCluster[labels[p]] = append(byCluster[labels[p]], p)
		}
	}

	var clusters [][]int
	for c := 1; c <= nextCluster; c++ {
		members := byCluster[c]
		if len(members) >= minPts && len(members) <= maxSize {
			clusters = append(clusters, members)
		}
	}
	return clusters
}
