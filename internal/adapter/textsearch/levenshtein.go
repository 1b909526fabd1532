package textsearch

import "sort"

// withinDistance reports whether the Levenshtein distance between a and b is
// at most limit. Rows stop early once every cell exceeds limit.
func withinDistance(a, b string, limit int) bool {
	ra, rb := []rune(a), []rune(b)
	if abs(len(ra)-len(rb)) > limit {
		return false
	}

	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		rowMin := curr[0]
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
			rowMin = min(rowMin, curr[j])
		}
		if rowMin > limit {
			return false
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)] <= limit
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

func sortStrings(s []string) { sort.Strings(s) }
