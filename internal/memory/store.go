package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Store is the shared memory store contract. It is the only genuinely shared
// mutable resource in the engine: multiple sessions retrieve concurrently
// while background transcribers write, so implementations must be safe for
// concurrent use without making readers wait on writers for long.
type Store interface {
	// TopK returns the k stored records most similar to vec, with
	// Similarity populated and access counters bumped.
	TopK(ctx context.Context, vec []float32, k int) ([]Candidate, error)
	// Store persists a new memory with its embedding.
	Store(ctx context.Context, text string, vec []float32, meta map[string]string) error
}

// MemStore is the in-process Store used for tests and single-box runs:
// an RWMutex-guarded slice with a linear cosine scan.
type MemStore struct {
	mu      sync.RWMutex
	records []memRecord
}

type memRecord struct {
	id          string
	text        string
	vec         []float32
	createdAt   time.Time
	accessCount int
}

// NewMemStore returns an empty in-memory store.
func NewMemStore() *MemStore { return &MemStore{} }

func (m *MemStore) Store(ctx context.Context, text string, vec []float32, meta map[string]string) error {
	v := make([]float32, len(vec))
	copy(v, vec)
	m.mu.Lock()
	m.records = append(m.records, memRecord{
		id:        uuid.NewString(),
		text:      text,
		vec:       v,
		createdAt: time.Now(),
	})
	m.mu.Unlock()
	return nil
}

func (m *MemStore) TopK(ctx context.Context, vec []float32, k int) ([]Candidate, error) {
	m.mu.RLock()
	out := make([]Candidate, 0, len(m.records))
	for i := range m.records {
		r := &m.records[i]
		out = append(out, Candidate{
			ID:          r.id,
			Text:        r.text,
			Vector:      r.vec,
			CreatedAt:   r.createdAt,
			AccessCount: r.accessCount,
			Similarity:  Cosine(vec, r.vec),
		})
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Similarity > out[j].Similarity })
	if len(out) > k {
		out = out[:k]
	}

	// bump access counters for the returned records
	m.mu.Lock()
	hit := make(map[string]struct{}, len(out))
	for _, c := range out {
		hit[c.ID] = struct{}{}
	}
	for i := range m.records {
		if _, ok := hit[m.records[i].id]; ok {
			m.records[i].accessCount++
		}
	}
	m.mu.Unlock()
	return out, nil
}

// Len returns the number of stored records.
func (m *MemStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}
