package quota

import (
	"context"
	"sync"
	"time"
)

// Record is the counter state of one caller.
type Record struct {
	Count        int
	ResetAt      time.Time
	BlockedUntil time.Time
}

// Store persists records. Update must apply fn atomically for key: two
// concurrent Updates never observe the same prior record.
type Store interface {
	Get(ctx context.Context, key string) (Record, bool, error)
	Update(ctx context.Context, key string, fn func(rec Record, found bool) Record) (Record, error)
}

// MemoryStore keeps records in process memory.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

func (s *MemoryStore) Get(_ context.Context, key string) (Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[key]
	return rec, ok, nil
}

func (s *MemoryStore) Update(_ context.Context, key string, fn func(Record, bool) Record) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[key]
	rec = fn(rec, ok)
	s.records[key] = rec
	return rec, nil
}

// Sweep drops records whose window and block both ended before now.
func (s *MemoryStore) Sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k, rec := range s.records {
		if rec.ResetAt.Before(now) && rec.BlockedUntil.Before(now) {
			delete(s.records, k)
			n++
		}
	}
	return n
}
