package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/montycloud/moya/internal/conversation"
)

// RedisConfig configures the Redis-backed repository.
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
	// TTL is applied to thread keys on every append; zero means no expiry.
	TTL time.Duration
}

// RedisRepository persists threads in Redis: one list of JSON-encoded
// messages per thread, plus a set of known thread IDs. List order gives the
// append order for free.
type RedisRepository struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisRepository connects to Redis and verifies the connection.
func NewRedisRepository(ctx context.Context, cfg RedisConfig) (*RedisRepository, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Addr, err)
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "moya"
	}

	log.Info().Str("addr", cfg.Addr).Int("db", cfg.DB).Msg("Redis memory repository connected")

	return &RedisRepository{
		client: client,
		prefix: prefix,
		ttl:    cfg.TTL,
	}, nil
}

func (r *RedisRepository) threadKey(threadID string) string {
	return fmt.Sprintf("%s:thread:%s", r.prefix, threadID)
}

func (r *RedisRepository) indexKey() string {
	return r.prefix + ":threads"
}

// CreateThread registers an empty thread in the index.
func (r *RedisRepository) CreateThread(ctx context.Context, threadID string) error {
	added, err := r.client.SAdd(ctx, r.indexKey(), threadID).Result()
	if err != nil {
		return fmt.Errorf("creating thread %s: %w", threadID, err)
	}
	if added == 0 {
		return fmt.Errorf("%w: %s", ErrThreadExists, threadID)
	}
	return nil
}

// GetThread loads the whole message list and rebuilds the thread.
func (r *RedisRepository) GetThread(ctx context.Context, threadID string) (*conversation.Thread, error) {
	exists, err := r.ThreadExists(ctx, threadID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrThreadNotFound, threadID)
	}

	msgs, err := r.rangeMessages(ctx, threadID, 0, -1)
	if err != nil {
		return nil, err
	}

	thread := conversation.NewThread(threadID)
	for _, msg := range msgs {
		if err := thread.AddMessage(msg); err != nil {
			return nil, err
		}
	}
	return thread, nil
}

// ThreadExists checks the thread index.
func (r *RedisRepository) ThreadExists(ctx context.Context, threadID string) (bool, error) {
	exists, err := r.client.SIsMember(ctx, r.indexKey(), threadID).Result()
	if err != nil {
		return false, fmt.Errorf("checking thread %s: %w", threadID, err)
	}
	return exists, nil
}

// AppendMessage pushes the message onto the thread list, creating the thread
// on first write.
func (r *RedisRepository) AppendMessage(ctx context.Context, msg conversation.Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encoding message: %w", err)
	}

	pipe := r.client.TxPipeline()
	pipe.SAdd(ctx, r.indexKey(), msg.ThreadID)
	pipe.RPush(ctx, r.threadKey(msg.ThreadID), payload)
	if r.ttl > 0 {
		pipe.Expire(ctx, r.threadKey(msg.ThreadID), r.ttl)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("appending to thread %s: %w", msg.ThreadID, err)
	}
	return nil
}

// GetLastNMessages returns the last n messages in append order.
func (r *RedisRepository) GetLastNMessages(ctx context.Context, threadID string, n int) ([]conversation.Message, error) {
	if n <= 0 {
		return nil, nil
	}
	return r.rangeMessages(ctx, threadID, int64(-n), -1)
}

// GetThreadSummary returns the naive thread summary.
func (r *RedisRepository) GetThreadSummary(ctx context.Context, threadID string) (string, error) {
	msgs, err := r.rangeMessages(ctx, threadID, 0, -1)
	if err != nil {
		return "", err
	}
	if len(msgs) == 0 {
		return "", nil
	}
	return Summarize(threadID, msgs), nil
}

// DeleteThread removes the thread list and its index entry.
func (r *RedisRepository) DeleteThread(ctx context.Context, threadID string) error {
	removed, err := r.client.SRem(ctx, r.indexKey(), threadID).Result()
	if err != nil {
		return fmt.Errorf("deleting thread %s: %w", threadID, err)
	}
	if removed == 0 {
		return fmt.Errorf("%w: %s", ErrThreadNotFound, threadID)
	}
	return r.client.Del(ctx, r.threadKey(threadID)).Err()
}

// ListThreadIDs returns all thread IDs from the index.
func (r *RedisRepository) ListThreadIDs(ctx context.Context) ([]string, error) {
	ids, err := r.client.SMembers(ctx, r.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("listing threads: %w", err)
	}
	return ids, nil
}

// Close releases the Redis connection.
func (r *RedisRepository) Close() error {
	return r.client.Close()
}

func (r *RedisRepository) rangeMessages(ctx context.Context, threadID string, start, stop int64) ([]conversation.Message, error) {
	raw, err := r.client.LRange(ctx, r.threadKey(threadID), start, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("reading thread %s: %w", threadID, err)
	}

	msgs := make([]conversation.Message, 0, len(raw))
	for _, item := range raw {
		var msg conversation.Message
		if err := json.Unmarshal([]byte(item), &msg); err != nil {
			log.Warn().Err(err).Str("thread_id", threadID).Msg("Skipping undecodable message")
			continue
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}
