package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/run-bigpig/nova-gateway/pkg/retry"
)

// DefaultRedisKey is the list the Redis sink appends to
const DefaultRedisKey = "nova:audit:log"

// appendScript pushes ARGV[1] unless it is already the tail, then trims to
// ARGV[2] entries. A retry after a lost reply therefore never duplicates.
var appendScript = redis.NewScript(`
local tail = redis.call('LINDEX', KEYS[1], -1)
if tail == ARGV[1] then
	return 0
end
redis.call('RPUSH', KEYS[1], ARGV[1])
local max = tonumber(ARGV[2])
if max > 0 then
	redis.call('LTRIM', KEYS[1], -max, -1)
end
return 1
`)

// RedisSink appends records as JSON to a Redis list
type RedisSink struct {
	client       *redis.Client
	key          string
	maxEntries   int64
	maxEntrySize int
	retry        *retry.Executor
}

// RedisOption configures a RedisSink
type RedisOption func(*RedisSink)

// WithRedisKey sets the list key
func WithRedisKey(key string) RedisOption {
	return func(r *RedisSink) {
		if key != "" {
			r.key = key
		}
	}
}

// WithRetention keeps only the newest n records. Zero keeps everything.
// Trimmed logs verify from their oldest remaining record.
func WithRetention(n int64) RedisOption {
	return func(r *RedisSink) {
		r.maxEntries = n
	}
}

// WithMaxEntrySize rejects encoded records larger than size bytes
func WithMaxEntrySize(size int) RedisOption {
	return func(r *RedisSink) {
		r.maxEntrySize = size
	}
}

// WithRedisRetry sets the retry policy for Redis commands
func WithRedisRetry(policy *retry.Policy) RedisOption {
	return func(r *RedisSink) {
		r.retry = retry.NewExecutor(policy)
	}
}

// NewRedisSink creates a sink on an existing client
func NewRedisSink(client *redis.Client, options ...RedisOption) *RedisSink {
	sink := &RedisSink{
		client:       client,
		key:          DefaultRedisKey,
		maxEntrySize: 1024 * 1024,
		retry: retry.NewExecutor(retry.NewPolicy(
			retry.WithInitialInterval(100*time.Millisecond),
			retry.WithMaximumInterval(time.Second),
		)),
	}
	for _, option := range options {
		option(sink)
	}
	return sink
}

// OpenRedis parses a redis:// URL, checks the connection and returns a sink.
func OpenRedis(ctx context.Context, url string, options ...RedisOption) (*RedisSink, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return NewRedisSink(client, options...), nil
}

// Close closes the underlying client
func (r *RedisSink) Close() error {
	return r.client.Close()
}

// Record implements Sink
func (r *RedisSink) Record(ctx context.Context, rec TransactionRecord) (Ack, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return Ack{}, fmt.Errorf("failed to marshal record: %w", err)
	}
	if r.maxEntrySize > 0 && len(data) > r.maxEntrySize {
		return Ack{}, fmt.Errorf("record size %d exceeds maximum allowed size of %d bytes", len(data), r.maxEntrySize)
	}

	err = r.retry.Execute(ctx, func() error {
		return appendScript.Run(ctx, r.client, []string{r.key}, data, r.maxEntries).Err()
	})
	if err != nil {
		return Ack{}, fmt.Errorf("failed to append record to redis: %w", err)
	}
	return Ack{ID: rec.ID, Sequence: rec.Sequence, Hash: rec.Hash}, nil
}

// List implements Reader
func (r *RedisSink) List(ctx context.Context, page Page) ([]TransactionRecord, int, error) {
	page = page.Normalize()

	total, err := r.client.LLen(ctx, r.key).Result()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count audit records: %w", err)
	}
	start := int64(page.Offset())
	if start >= total {
		return []TransactionRecord{}, int(total), nil
	}

	raw, err := r.client.LRange(ctx, r.key, start, start+int64(page.Limit)-1).Result()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read audit records: %w", err)
	}
	records, err := decodeRecords(raw)
	if err != nil {
		return nil, 0, err
	}
	return records, int(total), nil
}

// Get implements Reader. It scans the list, so it is linear in its length.
func (r *RedisSink) Get(ctx context.Context, id string) (TransactionRecord, error) {
	raw, err := r.client.LRange(ctx, r.key, 0, -1).Result()
	if err != nil {
		return TransactionRecord{}, fmt.Errorf("failed to read audit records: %w", err)
	}
	for i := len(raw) - 1; i >= 0; i-- {
		var rec TransactionRecord
		if err := json.Unmarshal([]byte(raw[i]), &rec); err != nil {
			return TransactionRecord{}, fmt.Errorf("failed to unmarshal record: %w", err)
		}
		if rec.ID == id {
			return rec, nil
		}
	}
	return TransactionRecord{}, ErrNotFound
}

// Head implements HeadReader
func (r *RedisSink) Head(ctx context.Context) (uint64, string, error) {
	raw, err := r.client.LIndex(ctx, r.key, -1).Result()
	if errors.Is(err, redis.Nil) {
		return 0, "", nil
	}
	if err != nil {
		return 0, "", fmt.Errorf("failed to read chain head: %w", err)
	}
	var rec TransactionRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return 0, "", fmt.Errorf("failed to unmarshal record: %w", err)
	}
	return rec.Sequence, rec.Hash, nil
}

func decodeRecords(raw []string) ([]TransactionRecord, error) {
	records := make([]TransactionRecord, 0, len(raw))
	for _, item := range raw {
		var rec TransactionRecord
		if err := json.Unmarshal([]byte(item), &rec); err != nil {
			return nil, fmt.Errorf("failed to unmarshal record: %w", err)
		}
		records = append(records, rec)
	}
	return records, nil
}
