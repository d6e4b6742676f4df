package vectorstore

import "sort"

// Candidate is one vector offered to Search.
type Candidate struct {
	Vector  []float32 // unit length
	ModelID string
}

// Hit is a scored candidate. Index refers to the position in the candidate
// slice passed to Search.
type Hit struct {
	Index int
	Score float32
}

// SkipCounts reports candidates excluded from ranking.
type SkipCounts struct {
	Dimension int
	Model     int
}

// Search scores every candidate against query by dot product (cosine
// similarity for unit vectors) and returns the top k, highest first.
// Ties keep candidate order. Candidates whose length differs from the query
// or whose model id differs from modelID are skipped, never fatal.
// An empty modelID disables the model check.
func Search(query []float32, modelID string, candidates []Candidate, k int) ([]Hit, SkipCounts) {
	var skipped SkipCounts
	if k <= 0 || len(candidates) == 0 {
		return nil, skipped
	}

	hits := make([]Hit, 0, len(candidates))
	for i, c := range candidates {
		if len(c.Vector) != len(query) {
			skipped.Dimension++
			continue
		}
		if modelID != "" && c.ModelID != "" && c.ModelID != modelID {
			skipped.Model++
			continue
		}
		hits = append(hits, Hit{Index: i, Score: dot(query, c.Vector)})
	}

	sort.SliceStable(hits, func(a, b int) bool { return hits[a].Score > hits[b].Score })
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, skipped
}

func dot(a, b []float32) float32 {
	var sum float32
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}
