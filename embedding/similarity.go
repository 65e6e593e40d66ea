package embedding

import "math"

// CosineSimilarity computes the cosine similarity between two vectors,
// grounded on the teacher's store/sqlite.cosineSimilarity. Mismatched
// lengths or an empty vector return 0 rather than erroring: callers treat
// a missing embedding as "no similarity signal" (§4.F).
func CosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	denom := math.Sqrt(normA) * math.Sqrt(normB)
	if denom == 0 {
		return 0
	}
	sim := float32(dot / denom)
	if sim < 0 {
		return 0
	}
	return sim
}

// HybridScore combines Jaccard reference similarity and cosine embedding
// similarity per spec §4.F's configurable weights:
//
//	score = embAvailable ? refWeight*refSim + embWeight*embSim : refSim
//
// embAvailable is false whenever embeddings are disabled or either
// conversation has no cached embedding; embSim should already be the
// clamped-to-zero cosine similarity (see CosineSimilarity) in that case.
func HybridScore(refSim, embSim float64, embAvailable bool, refWeight, embWeight float64) float64 {
	if !embAvailable {
		return refSim
	}
	return refWeight*refSim + embWeight*embSim
}
