package similarity

import "math"

// AngleDTW returns the dynamic time warping distance between two turning-angle
// sequences, with per-step cost |a-b|/pi, divided by the longer length and
// capped at 1. Two empty sequences are identical; one empty sequence is
// maximally distant.
func AngleDTW(a, b []float64) float64 {
	n, m := len(a), len(b)
	switch {
	case n == 0 && m == 0:
		return 0
	case n == 0 || m == 0:
		return 1
	}

	prev := make([]float64, m+1)
	cur := make([]float64, m+1)
	for j := 1; j <= m; j++ {
		prev[j] = math.Inf(1)
	}
	for i := 1; i <= n; i++ {
		cur[0] = math.Inf(1)
		for j := 1; j <= m; j++ {
			cost := math.Abs(a[i-1]-b[j-1]) / math.Pi
			cur[j] = cost + math.Min(prev[j-1], math.Min(prev[j], cur[j-1]))
		}
		prev, cur = cur, prev
	}
	return math.Min(1, prev[m]/float64(max(n, m)))
}
