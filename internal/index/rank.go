package index

import (
	"math"
	"sort"
)

type Match struct {
	Digest string
	Score  float32
}

// Rank scores every entry against the query vector and returns matches with
// score >= minScore, ordered by score descending with digest order breaking
// ties. topK > 0 caps the number of matches; every entry carries at least one
// path, so topK matches always cover topK hits after expansion.
//
// The scan is exact and linear. At the collection sizes this index serves
// (tens of thousands of digests) a full pass is a few milliseconds; an ANN
// structure would trade that determinism for recall loss.
func Rank(s *Snapshot, query []float32, topK int, minScore float32) []Match {
	if s == nil || len(s.entries) == 0 || len(query) == 0 {
		return nil
	}
	matches := make([]Match, 0, len(s.entries))
	for _, entry := range s.entries {
		score := cosineSimilarity(query, entry.Vector)
		if score < minScore {
			continue
		}
		matches = append(matches, Match{Digest: entry.Digest, Score: score})
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].Digest < matches[j].Digest
	})
	if topK > 0 && topK < len(matches) {
		matches = matches[:topK]
	}
	return matches
}

func cosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}

// CosineDistance is 1 - cosine similarity, the metric the clustering engine
// works in.
func CosineDistance(a, b []float32) float32 {
	return 1 - cosineSimilarity(a, b)
}
