/*
Package redis keeps the reconciliation queue in a Redis list so pending
graph writes survive a restart of the process that deferred them.
*/
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/redis/go-redis/v9"

	"github.com/theapemachine/nire/pkg/errors"
	"github.com/theapemachine/nire/pkg/memory"
)

const storeName = "redis"

/*
Queue implements memory.SyncQueue. Entries are LPUSHed and RPOPed, so the
list behaves FIFO.
*/
type Queue struct {
	client *redis.Client
	key    string
}

/*
NewQueue connects to url and verifies the connection.
*/
func NewQueue(ctx context.Context, url, key string) (*Queue, error) {
	opts, err := redis.ParseURL(url)

	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	opts.DialTimeout = 5 * time.Second

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, errors.Unavailable(storeName, "connect", err)
	}

	if key == "" {
		key = "nire:pending"
	}

	return &Queue{client: client, key: key}, nil
}

func (queue *Queue) Enqueue(ctx context.Context, pending memory.PendingSync) error {
	data, err := json.Marshal(pending)

	if err != nil {
		return fmt.Errorf("marshal pending sync: %w", err)
	}

	if err := queue.client.LPush(ctx, queue.key, data).Err(); err != nil {
		return errors.Unavailable(storeName, "enqueue", err)
	}

	return nil
}

/*
Dequeue pops up to max entries, oldest first. max <= 0 drains the list as
it stood when the call started. Entries that no longer decode are dropped
with a warning.
*/
func (queue *Queue) Dequeue(ctx context.Context, max int) ([]memory.PendingSync, error) {
	if max <= 0 {
		n, err := queue.Len(ctx)

		if err != nil {
			return nil, err
		}

		max = n
	}

	out := make([]memory.PendingSync, 0, max)

	for range max {
		data, err := queue.client.RPop(ctx, queue.key).Bytes()

		if err == redis.Nil {
			break
		}

		if err != nil {
			if len(out) > 0 {
				log.Warn("dequeue interrupted", "popped", len(out), "error", err)
				return out, nil
			}

			return nil, errors.Unavailable(storeName, "dequeue", err)
		}

		var pending memory.PendingSync

		if err := json.Unmarshal(data, &pending); err != nil {
			log.Warn("dropping undecodable pending sync", "error", err)
			continue
		}

		out = append(out, pending)
	}

	return out, nil
}

func (queue *Queue) Len(ctx context.Context) (int, error) {
	n, err := queue.client.LLen(ctx, queue.key).Result()

	if err != nil {
		return 0, errors.Unavailable(storeName, "len", err)
	}

	return int(n), nil
}

func (queue *Queue) Close() error {
	return queue.client.Close()
}
