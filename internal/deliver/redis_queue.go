// ABOUTME: Redis-backed delivery queue: ready list, delayed ZSET, dead-letter list
// ABOUTME: Delayed jobs are promoted by score on every dequeue

package deliver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	readyKey   = "relay:delivery:ready"
	delayedKey = "relay:delivery:delayed"
	deadKey    = "relay:delivery:dead"

	// deadLetterMax caps the dead-letter list so a broken platform cannot
	// grow it without bound.
	deadLetterMax = 10000

	// promoteBatch bounds how many due delayed jobs one dequeue promotes.
	promoteBatch = 100
)

// RedisQueue is the shared Queue used when gateway and worker are separate
// processes.
type RedisQueue struct {
	client *redis.Client
}

func NewRedisQueue(client *redis.Client) *RedisQueue {
	return &RedisQueue{client: client}
}

func (q *RedisQueue) Enqueue(ctx context.Context, job *Job) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encoding job: %w", err)
	}
	if err := q.client.LPush(ctx, readyKey, payload).Err(); err != nil {
		return fmt.Errorf("enqueueing job %s: %w", job.ID, err)
	}
	return nil
}

func (q *RedisQueue) EnqueueDelayed(ctx context.Context, job *Job, delay time.Duration) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encoding job: %w", err)
	}
	err = q.client.ZAdd(ctx, delayedKey, redis.Z{
		Score:  float64(time.Now().Add(delay).UnixMilli()),
		Member: payload,
	}).Err()
	if err != nil {
		return fmt.Errorf("scheduling job %s: %w", job.ID, err)
	}
	return nil
}

// Dequeue promotes due delayed jobs into the ready list, then blocks on it
// up to timeout. A quiet queue returns (nil, nil).
func (q *RedisQueue) Dequeue(ctx context.Context, timeout time.Duration) (*Job, error) {
	if err := q.promoteDue(ctx); err != nil {
		return nil, err
	}

	result, err := q.client.BRPop(ctx, timeout, readyKey).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("dequeueing: %w", err)
	}

	// BRPop returns [key, value]
	var job Job
	if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
		return nil, fmt.Errorf("decoding job: %w", err)
	}
	return &job, nil
}

func (q *RedisQueue) promoteDue(ctx context.Context) error {
	now := strconv.FormatInt(time.Now().UnixMilli(), 10)
	due, err := q.client.ZRangeByScore(ctx, delayedKey, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   now,
		Count: promoteBatch,
	}).Result()
	if err != nil {
		return fmt.Errorf("reading delayed jobs: %w", err)
	}

	for _, payload := range due {
		// Remove first so two workers cannot both promote the same job
		removed, err := q.client.ZRem(ctx, delayedKey, payload).Result()
		if err != nil {
			return fmt.Errorf("promoting delayed job: %w", err)
		}
		if removed == 0 {
			continue
		}
		if err := q.client.LPush(ctx, readyKey, payload).Err(); err != nil {
			return fmt.Errorf("promoting delayed job: %w", err)
		}
	}
	return nil
}

func (q *RedisQueue) DeadLetter(ctx context.Context, job *Job) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encoding job: %w", err)
	}
	pipe := q.client.Pipeline()
	pipe.LPush(ctx, deadKey, payload)
	pipe.LTrim(ctx, deadKey, 0, deadLetterMax-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("dead-lettering job %s: %w", job.ID, err)
	}
	return nil
}

func (q *RedisQueue) DeadLetters(ctx context.Context, limit int) ([]*Job, error) {
	if limit <= 0 {
		limit = 100
	}
	payloads, err := q.client.LRange(ctx, deadKey, 0, int64(limit)-1).Result()
	if err != nil {
		return nil, fmt.Errorf("reading dead letters: %w", err)
	}

	jobs := make([]*Job, 0, len(payloads))
	for _, payload := range payloads {
		var job Job
		if err := json.Unmarshal([]byte(payload), &job); err != nil {
			continue
		}
		jobs = append(jobs, &job)
	}
	return jobs, nil
}

// RequeueDeadLetters moves up to limit dead-lettered jobs back onto the
// ready list with their attempt counters reset. Jobs that no longer decode
// are dropped. Returns how many jobs were requeued.
func (q *RedisQueue) RequeueDeadLetters(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		limit = 100
	}
	requeued := 0
	for requeued < limit {
		payload, err := q.client.RPop(ctx, deadKey).Result()
		if errors.Is(err, redis.Nil) {
			break
		}
		if err != nil {
			return requeued, fmt.Errorf("popping dead letter: %w", err)
		}

		var job Job
		if err := json.Unmarshal([]byte(payload), &job); err != nil {
			continue
		}
		job.Attempt = 0
		job.LastError = ""
		if err := q.Enqueue(ctx, &job); err != nil {
			return requeued, err
		}
		requeued++
	}
	return requeued, nil
}

func (q *RedisQueue) Stats(ctx context.Context) (QueueStats, error) {
	pipe := q.client.Pipeline()
	ready := pipe.LLen(ctx, readyKey)
	delayed := pipe.ZCard(ctx, delayedKey)
	dead := pipe.LLen(ctx, deadKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return QueueStats{}, fmt.Errorf("reading queue stats: %w", err)
	}
	return QueueStats{
		Ready:   ready.Val(),
		Delayed: delayed.Val(),
		Dead:    dead.Val(),
	}, nil
}
