package retriever

// PrecisionAtK is the share of retrieved items that are relevant.
func PrecisionAtK(retrieved, relevant []string) float64 {
	if len(retrieved) == 0 {
		return 0
	}
	return float64(countRelevant(retrieved, relevant)) / float64(len(retrieved))
}

// RecallAtK is the share of relevant items that were retrieved.
func RecallAtK(retrieved, relevant []string) float64 {
	if len(relevant) == 0 {
		return 0
	}
	return float64(countRelevant(retrieved, relevant)) / float64(len(relevant))
}

// ReciprocalRank is 1/rank of the first relevant item, or 0 when none was
// retrieved.
func ReciprocalRank(retrieved, relevant []string) float64 {
	set := toSet(relevant)
	for i, r := range retrieved {
		if set[r] {
			return 1.0 / float64(i+1)
		}
	}
	return 0
}

// countRelevant counts distinct relevant items in retrieved. Several chunks
// of one file count once.
func countRelevant(retrieved, relevant []string) int {
	set := toSet(relevant)
	seen := make(map[string]bool, len(retrieved))
	hits := 0
	for _, r := range retrieved {
		if set[r] && !seen[r] {
			seen[r] = true
			hits++
		}
	}
	return hits
}

func toSet(items []string) map[string]bool {
	set := make(map[string]bool, len(items))
	for _, it := range items {
		set[it] = true
	}
	return set
}
