package match

import (
	"sync"

	"github.com/coder/hnsw"
	"github.com/google/uuid"
)

// maxNeighbors is the HNSW M parameter.
const maxNeighbors = 16

// Index is an in-memory HNSW index over individual face embeddings, used
// to pre-select candidate people when the gallery is too large to scan
// exhaustively. Exact max-cosine rescoring still happens in FindMatches on
// the pre-selected candidates, so ranking semantics do not change.
type Index struct {
	mu       sync.RWMutex
	graph    *hnsw.Graph[string]
	idPerson map[string]uuid.UUID // embedding key -> owning person
}

// NewIndex creates an empty embedding index.
func NewIndex() *Index {
	return &Index{idPerson: make(map[string]uuid.UUID)}
}

func newGraph() *hnsw.Graph[string] {
	g := hnsw.NewGraph[string]()
	g.M = maxNeighbors
	g.Ml = 1.0 / float64(maxNeighbors)
	g.Distance = hnsw.CosineDistance
	return g
}

// Add inserts one embedding owned by the given person.
func (ix *Index) Add(embeddingID uuid.UUID, personID uuid.UUID, vector []float32) {
	if len(vector) == 0 {
		return
	}
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if ix.graph == nil {
		ix.graph = newGraph()
	}
	key := embeddingID.String()
	ix.graph.Add(hnsw.MakeNode(key, vector))
	ix.idPerson[key] = personID
}

// Remove deletes one embedding from the index.
func (ix *Index) Remove(embeddingID uuid.UUID) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if ix.graph == nil {
		return
	}
	key := embeddingID.String()
	ix.graph.Delete(key)
	delete(ix.idPerson, key)
}

// Len returns the number of indexed embeddings.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.idPerson)
}

// CandidatePeople returns the distinct owners of the k nearest embeddings
// to the query. Order is not significant; callers rescore exactly.
func (ix *Index) CandidatePeople(query []float32, k int) []uuid.UUID {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	if ix.graph == nil || len(ix.idPerson) == 0 {
		return nil
	}

	neighbors := ix.graph.Search(query, k)
	seen := make(map[uuid.UUID]bool, len(neighbors))
	people := make([]uuid.UUID, 0, len(neighbors))
	for _, n := range neighbors {
		pid, ok := ix.idPerson[n.Key]
		if !ok || seen[pid] {
			continue
		}
		seen[pid] = true
		people = append(people, pid)
	}
	return people
}
