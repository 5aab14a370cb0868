package redis

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"dogetionary/internal/domain"
)

const questionCachePrefix = "reviewq:question:"

// QuestionCache stores review questions as JSON values with a TTL.
type QuestionCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewQuestionCache(client *redis.Client, ttl time.Duration) *QuestionCache {
	return &QuestionCache{client: client, ttl: ttl}
}

func questionKey(key domain.QuestionCacheKey) string {
	return questionCachePrefix + key.String()
}

func (c *QuestionCache) Get(ctx context.Context, key domain.QuestionCacheKey) (domain.ReviewQuestion, bool, error) {
	data, err := c.client.Get(ctx, questionKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.ReviewQuestion{}, false, nil
		}
		return domain.ReviewQuestion{}, false, err
	}
	var q domain.ReviewQuestion
	if err := json.Unmarshal(data, &q); err != nil {
		// Corrupted value: drop it and report a miss.
		_ = c.client.Del(ctx, questionKey(key)).Err()
		return domain.ReviewQuestion{}, false, nil
	}
	return q, true, nil
}

func (c *QuestionCache) Put(ctx context.Context, key domain.QuestionCacheKey, q domain.ReviewQuestion) error {
	data, err := json.Marshal(q)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, questionKey(key), data, c.ttl).Err()
}

func (c *QuestionCache) Delete(ctx context.Context, key domain.QuestionCacheKey) error {
	return c.client.Del(ctx, questionKey(key)).Err()
}

func (c *QuestionCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
