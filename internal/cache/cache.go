package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ProgressTTL is how long a job snapshot survives after its last update.
const ProgressTTL = 30 * time.Minute

// JobProgress is the latest observable state of one translation job.
type JobProgress struct {
	SubmissionID  uuid.UUID `json:"submission_id"`
	RecordID      uuid.UUID `json:"record_id"`
	Status        string    `json:"status"`
	Chunk         int       `json:"chunk"`
	TotalChunks   int       `json:"total_chunks"`
	InputTokens   int64     `json:"input_tokens"`
	OutputTokens  int64     `json:"output_tokens"`
	EstimatedCost float64   `json:"estimated_cost"`
	Error         string    `json:"error,omitempty"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Cache is the caching interface. All cache operations go through here.
// Implementations must be safe for concurrent use.
type Cache interface {
	Ping(ctx context.Context) error
	SetJobProgress(ctx context.Context, p JobProgress, ttl time.Duration) error
	GetJobProgress(ctx context.Context, recordID uuid.UUID) (*JobProgress, bool, error)
	IncrWithExpiry(ctx context.Context, key string, expiry time.Duration) (int64, error)
}

// RedisCache implements the Cache interface using go-redis/v9.
type RedisCache struct {
	client *redis.Client
}

var _ Cache = (*RedisCache)(nil)

// NewRedisCache creates a new RedisCache from a Redis URL.
func NewRedisCache(redisURL string) (*RedisCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	return &RedisCache{client: redis.NewClient(opts)}, nil
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close releases the connection pool.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

func (c *RedisCache) SetJobProgress(ctx context.Context, p JobProgress, ttl time.Duration) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode job progress: %w", err)
	}
	return c.client.Set(ctx, JobProgressKey(p.RecordID), data, ttl).Err()
}

func (c *RedisCache) GetJobProgress(ctx context.Context, recordID uuid.UUID) (*JobProgress, bool, error) {
	data, err := c.client.Get(ctx, JobProgressKey(recordID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var p JobProgress
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, false, fmt.Errorf("decode job progress: %w", err)
	}
	return &p, true, nil
}

func (c *RedisCache) IncrWithExpiry(ctx context.Context, key string, expiry time.Duration) (int64, error) {
	pipe := c.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, expiry)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}
