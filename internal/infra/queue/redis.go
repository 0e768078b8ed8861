package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"anilist-notifier/internal/domain"
)

// RedisShowQueue реализует очередь заданий планировщика на базе Redis lists.
type RedisShowQueue struct {
	client *redis.Client
	key    string
}

// NewRedisShowQueue создаёт очередь по указанному ключу.
func NewRedisShowQueue(client *redis.Client, key string) *RedisShowQueue {
	return &RedisShowQueue{client: client, key: key}
}

// Enqueue публикует задание в очередь.
func (q *RedisShowQueue) Enqueue(ctx context.Context, job domain.ShowJob) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	if err := q.client.LPush(ctx, q.key, payload).Err(); err != nil {
		return fmt.Errorf("push job: %w", err)
	}
	return nil
}

// Pop блокирующе читает задание из очереди.
func (q *RedisShowQueue) Pop(ctx context.Context) (domain.ShowJob, error) {
	for {
		if err := ctx.Err(); err != nil {
			return domain.ShowJob{}, err
		}

		res, err := q.client.BRPop(ctx, time.Second, q.key).Result()
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				if ctx.Err() != nil {
					return domain.ShowJob{}, ctx.Err()
				}
				continue
			}
			if errors.Is(err, redis.Nil) {
				continue
			}
			return domain.ShowJob{}, err
		}
		if len(res) != 2 {
			return domain.ShowJob{}, errors.New("redis queue: unexpected response")
		}
		var job domain.ShowJob
		if err := json.Unmarshal([]byte(res[1]), &job); err != nil {
			return domain.ShowJob{}, fmt.Errorf("decode job: %w", err)
		}
		return job, nil
	}
}
