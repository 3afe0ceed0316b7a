// Package match ranks known people against a query face embedding.
package match

import (
	"math"
	"sort"

	"github.com/google/uuid"
)

// Confidence buckets discretize similarity for display. The bucket
// boundaries are fixed; the matching threshold itself is caller-supplied.
type Confidence string

const (
	ConfidenceNone      Confidence = "none"
	ConfidenceAmbiguous Confidence = "ambiguous"
	ConfidenceHigh      Confidence = "high"

	highConfidenceMin      = 0.85
	ambiguousConfidenceMin = 0.70

	// boostBonus is added to the score of people already confirmed
	// present in the current session, capped at 1.0.
	boostBonus = 0.05

	// DefaultSuggestThreshold is the usual matching threshold for
	// "suggest a person" contexts.
	DefaultSuggestThreshold = 0.5
)

// BucketFor returns the confidence bucket for a similarity score.
func BucketFor(similarity float64) Confidence {
	switch {
	case similarity >= highConfidenceMin:
		return ConfidenceHigh
	case similarity >= ambiguousConfidenceMin:
		return ConfidenceAmbiguous
	default:
		return ConfidenceNone
	}
}

// Candidate is one known person with their stored face embeddings.
type Candidate struct {
	PersonID   uuid.UUID
	PersonName string
	Embeddings [][]float32
}

// Match pairs a candidate person with a similarity score in [0,1].
// Similarity is the raw cosine value; Score additionally carries the
// recency bonus and is only meaningful for ordering suggestions.
type Match struct {
	PersonID   uuid.UUID  `json:"person_id"`
	PersonName string     `json:"person_name"`
	Similarity float64    `json:"similarity"`
	Score      float64    `json:"score"`
	Confidence Confidence `json:"confidence"`
}

// Options configures a FindMatches call.
type Options struct {
	TopK      int
	Threshold float64
	// Boost biases ranking toward people already confirmed present in
	// the current encounter or scan session.
	Boost map[uuid.UUID]bool
	// BoostBonus overrides the default recency bonus. Zero or negative
	// keeps the default.
	BoostBonus float64
}

// FindMatches ranks candidates against the query embedding. The score per
// person is the maximum cosine similarity over all of that person's stored
// embeddings: one great sample should not be dragged down by several poor
// ones. Candidates below opts.Threshold are discarded; boosted candidates
// get a fixed bonus before ranking; the result is sorted by score
// descending and truncated to opts.TopK.
func FindMatches(query []float32, gallery []Candidate, opts Options) []Match {
	matches := make([]Match, 0, len(gallery))
	bonus := opts.BoostBonus
	if bonus <= 0 {
		bonus = boostBonus
	}

	for _, cand := range gallery {
		best := 0.0
		for _, emb := range cand.Embeddings {
			if sim := CosineSimilarity(query, emb); sim > best {
				best = sim
			}
		}
		if best < opts.Threshold {
			continue
		}

		score := best
		if opts.Boost[cand.PersonID] {
			score = math.Min(score+bonus, 1.0)
		}

		matches = append(matches, Match{
			PersonID:   cand.PersonID,
			PersonName: cand.PersonName,
			Similarity: best,
			Score:      score,
			Confidence: BucketFor(best),
		})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})

	if opts.TopK > 0 && len(matches) > opts.TopK {
		matches = matches[:opts.TopK]
	}
	return matches
}

// AutoAccept reports whether a match is strong enough to assign without
// user confirmation. The gate is the raw similarity; the recency bonus
// reorders suggestions but never auto-assigns on its own. Auto-assigned
// boxes are marked as such and stay removable with a single action.
func AutoAccept(m Match, threshold float64) bool {
	return m.Similarity >= threshold
}

// CosineSimilarity computes the cosine similarity between two embedding
// vectors, clamped to [-1, 1]. Mismatched or zero vectors yield 0.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
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

	sim := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	if sim > 1 {
		sim = 1
	}
	if sim < -1 {
		sim = -1
	}
	return sim
}
