package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vietddude/rewarder/internal/jobs"
)

// Client wraps Redis operations for the job transport: keyed deduplicated
// queues, a delayed set for points refreshes and a dead list.
type Client struct {
	rdb      *redis.Client
	dedupTTL time.Duration
}

// Config holds Redis connection configuration.
type Config struct {
	URL      string        `yaml:"url"`
	Password string        `yaml:"password"`
	DedupTTL time.Duration `yaml:"dedup_ttl"`
}

// NewClient creates a new Redis client.
func NewClient(cfg Config) (*Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}

	rdb := redis.NewClient(opts)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	dedupTTL := cfg.DedupTTL
	if dedupTTL <= 0 {
		dedupTTL = 30 * time.Minute
	}

	return &Client{rdb: rdb, dedupTTL: dedupTTL}, nil
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Key helpers
func listKey(t jobs.Type) string {
	return fmt.Sprintf("jobs:queue:%s", t)
}

func dedupKey(key string) string {
	return fmt.Sprintf("jobs:dedup:%s", key)
}

const (
	deadKey    = "jobs:dead"
	delayedKey = "jobs:points:delayed"
)

// Enqueue queues a job. When the job carries a dedup key and an in-flight job
// already holds it, the enqueue collapses and false is returned.
func (c *Client) Enqueue(ctx context.Context, job jobs.Job) (bool, error) {
	if job.Key != "" {
		ok, err := c.rdb.SetNX(ctx, dedupKey(job.Key), job.ID, c.dedupTTL).Result()
		if err != nil {
			return false, fmt.Errorf("setnx failed: %w", err)
		}
		if !ok {
			return false, nil
		}
	}

	raw, err := json.Marshal(job)
	if err != nil {
		return false, fmt.Errorf("failed to marshal job: %w", err)
	}
	if err := c.rdb.LPush(ctx, listKey(job.Type), raw).Err(); err != nil {
		return false, fmt.Errorf("lpush failed: %w", err)
	}
	return true, nil
}

// Pop blocks up to timeout for the next job of the given type.
func (c *Client) Pop(ctx context.Context, t jobs.Type, timeout time.Duration) (*jobs.Job, error) {
	result, err := c.rdb.BRPop(ctx, timeout, listKey(t)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("brpop failed: %w", err)
	}
	if len(result) != 2 {
		return nil, fmt.Errorf("unexpected brpop reply of length %d", len(result))
	}

	var job jobs.Job
	if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}
	return &job, nil
}

// Requeue puts a failed job back without touching its dedup key.
func (c *Client) Requeue(ctx context.Context, job jobs.Job) error {
	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}
	if err := c.rdb.LPush(ctx, listKey(job.Type), raw).Err(); err != nil {
		return fmt.Errorf("lpush failed: %w", err)
	}
	return nil
}

// Release clears the dedup key once a unit of work is finished.
func (c *Client) Release(ctx context.Context, key string) error {
	return c.rdb.Del(ctx, dedupKey(key)).Err()
}

// parkedJob wraps a dead job with its final error.
type parkedJob struct {
	Job      jobs.Job  `json:"job"`
	Reason   string    `json:"reason"`
	ParkedAt time.Time `json:"parked_at"`
}

// Park moves a job to the dead list after its attempts are exhausted.
func (c *Client) Park(ctx context.Context, job jobs.Job, reason string) error {
	raw, err := json.Marshal(parkedJob{Job: job, Reason: reason, ParkedAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("failed to marshal parked job: %w", err)
	}
	if err := c.rdb.LPush(ctx, deadKey, raw).Err(); err != nil {
		return fmt.Errorf("lpush failed: %w", err)
	}
	return nil
}

// QueueDepth returns the current length of one job queue.
func (c *Client) QueueDepth(ctx context.Context, t jobs.Type) (int64, error) {
	depth, err := c.rdb.LLen(ctx, listKey(t)).Result()
	if err != nil {
		return 0, fmt.Errorf("llen failed: %w", err)
	}
	return depth, nil
}

// ScheduleOnce adds a member to the delayed set unless it is already
// scheduled; the first enqueue in a window wins. Returns whether it was added.
func (c *Client) ScheduleOnce(ctx context.Context, member []byte, readyAt time.Time) (bool, error) {
	added, err := c.rdb.ZAddNX(ctx, delayedKey, redis.Z{
		Score:  float64(readyAt.Unix()),
		Member: string(member),
	}).Result()
	if err != nil {
		return false, fmt.Errorf("zadd failed: %w", err)
	}
	return added > 0, nil
}

// PopDue removes and returns every delayed member that became ready.
func (c *Client) PopDue(ctx context.Context, now time.Time) ([][]byte, error) {
	members, err := c.rdb.ZRangeByScore(ctx, delayedKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.Unix(), 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("zrangebyscore failed: %w", err)
	}
	if len(members) == 0 {
		return nil, nil
	}

	out := make([][]byte, 0, len(members))
	for _, m := range members {
		removed, err := c.rdb.ZRem(ctx, delayedKey, m).Result()
		if err != nil {
			return out, fmt.Errorf("zrem failed: %w", err)
		}
		// Another worker may have claimed the member first.
		if removed > 0 {
			out = append(out, []byte(m))
		}
	}
	return out, nil
}
