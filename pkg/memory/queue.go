package memory

import (
	"context"
	"sync"
)

/*
MemoryQueue is the in-process SyncQueue. Its contents do not survive a
restart; use the redis queue when they must.
*/
type MemoryQueue struct {
	mu    sync.Mutex
	items []PendingSync
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{}
}

func (queue *MemoryQueue) Enqueue(ctx context.Context, pending PendingSync) error {
	queue.mu.Lock()
	defer queue.mu.Unlock()

	queue.items = append(queue.items, pending)
	return nil
}

// Dequeue removes up to max entries in FIFO order; max <= 0 takes all.
func (queue *MemoryQueue) Dequeue(ctx context.Context, max int) ([]PendingSync, error) {
	queue.mu.Lock()
	defer queue.mu.Unlock()

	n := len(queue.items)
	if max > 0 && max < n {
		n = max
	}

	out := make([]PendingSync, n)
	copy(out, queue.items[:n])
	queue.items = append(queue.items[:0:0], queue.items[n:]...)

	return out, nil
}

func (queue *MemoryQueue) Len(ctx context.Context) (int, error) {
	queue.mu.Lock()
	defer queue.mu.Unlock()

	return len(queue.items), nil
}
