package indexer

import "sort"

// selectRetained implements §4.4 RETENT: sort lexicographically descending
// (the fixed-width timestamp format makes this chronological), keep the
// first maxOldIndices+1, return the rest for deletion.
func selectRetained(indices []string, maxOldIndices int) (keep, drop []string) {
	sorted := append([]string(nil), indices...)
	sort.Sort(sort.Reverse(sort.StringSlice(sorted)))

	keepCount := maxOldIndices + 1
	if len(sorted) <= keepCount {
		return sorted, nil
	}
	return sorted[:keepCount], sorted[keepCount:]
}
