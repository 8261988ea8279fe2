package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"mindleap-provisioning/internal/model"
	"mindleap-provisioning/pkg/errors"
)

// MemoryQueue is an in-process stand-in for the Redis job queue, used by
// the memory backend and in tests. Failed messages are kept in DeadLetters.
type MemoryQueue struct {
	jobs chan []byte

	mu          sync.Mutex
	deadLetters [][]byte
}

func NewMemoryQueue(size int) *MemoryQueue {
	return &MemoryQueue{jobs: make(chan []byte, size)}
}

func (q *MemoryQueue) EnqueueProvisionJob(ctx context.Context, job model.ProvisionJob) error {
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}
	select {
	case q.jobs <- data:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *MemoryQueue) ConsumeProvisionQueue(ctx context.Context, handler MessageHandler) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-q.jobs:
			if err := handler(ctx, msg); err != nil {
				q.mu.Lock()
				q.deadLetters = append(q.deadLetters, msg)
				q.mu.Unlock()
			}
		}
	}
}

func (q *MemoryQueue) DeadLetters() [][]byte {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([][]byte(nil), q.deadLetters...)
}

type MemoryProgressStore struct {
	mu       sync.Mutex
	progress map[string]model.Progress
}

func NewMemoryProgressStore() *MemoryProgressStore {
	return &MemoryProgressStore{progress: make(map[string]model.Progress)}
}

func (s *MemoryProgressStore) SaveProgress(ctx context.Context, p model.Progress) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.progress[p.JobID] = p
	return nil
}

func (s *MemoryProgressStore) GetProgress(ctx context.Context, jobID string) (*model.Progress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.progress[jobID]
	if !ok {
		return nil, fmt.Errorf("progress for job %s: %w", jobID, errors.ErrNotFound)
	}
	return &p, nil
}
