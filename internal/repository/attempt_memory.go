package repository

import (
	"context"
	"sync"
)

type memoryAttemptRepository struct {
	mu     sync.Mutex
	counts map[string]int64
}

func newMemoryAttemptRepository() *memoryAttemptRepository {
	return &memoryAttemptRepository{counts: make(map[string]int64)}
}

func (r *memoryAttemptRepository) Incr(_ context.Context, filename string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counts[filename]++
	return r.counts[filename], nil
}

func (r *memoryAttemptRepository) Reset(_ context.Context, filename string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.counts, filename)
	return nil
}
