package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vitalita/healthassist/config"
	"github.com/vitalita/healthassist/provider"
)

// RedisStore keeps sessions in redis so history survives restarts and can be
// shared across replicas. Each session is a list of JSON-encoded messages
// whose TTL implements the idle timeout.
type RedisStore struct {
	rdb     *redis.Client
	timeout time.Duration
	cap     int
}

// NewRedisStore connects to redis and verifies the connection.
func NewRedisStore(cfg config.RedisConfig, timeout time.Duration, historyCap int) (*RedisStore, error) {
	if timeout <= 0 {
		timeout = 30 * time.Minute
	}
	if historyCap <= 0 {
		historyCap = 10
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Host + ":" + cfg.Port,
		Password: cfg.Pass,
		DB:       cfg.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}
	return &RedisStore{rdb: rdb, timeout: timeout, cap: historyCap}, nil
}

func sessionKey(id string) string {
	return "chat:session:" + id
}

// Touch refreshes both the history list and the seen marker. The marker
// exists because an empty redis list has no key to expire.
func (r *RedisStore) Touch(ctx context.Context, sessionID string) error {
	key := sessionKey(sessionID)
	pipe := r.rdb.TxPipeline()
	pipe.Set(ctx, key+":seen", 1, r.timeout)
	pipe.Expire(ctx, key, r.timeout)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("touching session: %w", err)
	}
	return nil
}

func (r *RedisStore) Exists(ctx context.Context, sessionID string) (bool, error) {
	n, err := r.rdb.Exists(ctx, sessionKey(sessionID), sessionKey(sessionID)+":seen").Result()
	if err != nil {
		return false, fmt.Errorf("checking session: %w", err)
	}
	return n > 0, nil
}

func (r *RedisStore) History(ctx context.Context, sessionID string) ([]provider.ChatMessage, error) {
	key := sessionKey(sessionID)
	raw, err := r.rdb.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("loading history: %w", err)
	}
	if len(raw) > 0 {
		r.rdb.Expire(ctx, key, r.timeout)
	}
	msgs := make([]provider.ChatMessage, 0, len(raw))
	for _, item := range raw {
		var m provider.ChatMessage
		if err := json.Unmarshal([]byte(item), &m); err != nil {
			return nil, fmt.Errorf("decoding history entry: %w", err)
		}
		msgs = append(msgs, m)
	}
	return msgs, nil
}

func (r *RedisStore) Append(ctx context.Context, sessionID, question, answer string) error {
	key := sessionKey(sessionID)
	human, err := json.Marshal(provider.ChatMessage{Role: provider.RoleHuman, Content: question})
	if err != nil {
		return err
	}
	ai, err := json.Marshal(provider.ChatMessage{Role: provider.RoleAI, Content: answer})
	if err != nil {
		return err
	}
	pipe := r.rdb.TxPipeline()
	pipe.RPush(ctx, key, human, ai)
	pipe.LTrim(ctx, key, int64(-r.cap), -1)
	pipe.Expire(ctx, key, r.timeout)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("appending history: %w", err)
	}
	return nil
}

func (r *RedisStore) Clear(ctx context.Context, sessionID string) error {
	key := sessionKey(sessionID)
	if err := r.rdb.Del(ctx, key, key+":seen").Err(); err != nil {
		return fmt.Errorf("clearing session: %w", err)
	}
	return nil
}
