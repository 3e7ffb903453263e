package practice

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/dental-scheduling-assistant/pkg/logging"
)

const defaultCacheTTL = 5 * time.Minute

// CachedDirectory is a Redis read-through cache in front of another Directory.
// Cache failures degrade to the underlying directory.
type CachedDirectory struct {
	next   Directory
	redis  *redis.Client
	ttl    time.Duration
	logger *logging.Logger
}

// NewCachedDirectory wraps next with a Redis cache. A nil client disables caching.
func NewCachedDirectory(next Directory, redisClient *redis.Client, ttl time.Duration, logger *logging.Logger) *CachedDirectory {
	if next == nil {
		panic("practice: directory required")
	}
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &CachedDirectory{next: next, redis: redisClient, ttl: ttl, logger: logger}
}

func (c *CachedDirectory) practiceKey(id string) string {
	return fmt.Sprintf("practice:config:%s", id)
}

func (c *CachedDirectory) assistantKey(assistantID string) string {
	return fmt.Sprintf("practice:assistant:%s", assistantID)
}

func (c *CachedDirectory) resourcesKey(practiceID, appointmentTypeID string) string {
	return fmt.Sprintf("practice:resources:%s:%s", practiceID, appointmentTypeID)
}

// Get returns the practice, serving from cache when possible.
func (c *CachedDirectory) Get(ctx context.Context, practiceID string) (*Practice, error) {
	var p Practice
	if c.read(ctx, c.practiceKey(practiceID), &p) {
		return &p, nil
	}
	loaded, err := c.next.Get(ctx, practiceID)
	if err != nil {
		return nil, err
	}
	c.write(ctx, c.practiceKey(practiceID), loaded)
	return loaded, nil
}

// FindByAssistantID maps the assistant id to a practice id in cache and reuses Get.
func (c *CachedDirectory) FindByAssistantID(ctx context.Context, assistantID string) (*Practice, error) {
	if c.redis != nil {
		id, err := c.redis.Get(ctx, c.assistantKey(assistantID)).Result()
		if err == nil && id != "" {
			return c.Get(ctx, id)
		}
		if err != nil && err != redis.Nil {
			c.logger.Warn("practice cache read failed", "key", c.assistantKey(assistantID), "error", err)
		}
	}
	loaded, err := c.next.FindByAssistantID(ctx, assistantID)
	if err != nil {
		return nil, err
	}
	if c.redis != nil {
		if err := c.redis.Set(ctx, c.assistantKey(assistantID), loaded.ID, c.ttl).Err(); err != nil {
			c.logger.Warn("practice cache write failed", "key", c.assistantKey(assistantID), "error", err)
		}
	}
	c.write(ctx, c.practiceKey(loaded.ID), loaded)
	return loaded, nil
}

// EligibleResources returns cached provider/operatory sets for an appointment type.
func (c *CachedDirectory) EligibleResources(ctx context.Context, practiceID, appointmentTypeID string) (*Resources, error) {
	key := c.resourcesKey(practiceID, appointmentTypeID)
	var res Resources
	if c.read(ctx, key, &res) {
		return &res, nil
	}
	loaded, err := c.next.EligibleResources(ctx, practiceID, appointmentTypeID)
	if err != nil {
		return nil, err
	}
	c.write(ctx, key, loaded)
	return loaded, nil
}

// Invalidate drops the cached practice and all of its resource sets.
func (c *CachedDirectory) Invalidate(ctx context.Context, practiceID string) error {
	if c.redis == nil {
		return nil
	}
	keys := []string{c.practiceKey(practiceID)}
	iter := c.redis.Scan(ctx, 0, c.resourcesKey(practiceID, "*"), 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("practice: scan cache: %w", err)
	}
	if err := c.redis.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("practice: invalidate cache: %w", err)
	}
	return nil
}

func (c *CachedDirectory) read(ctx context.Context, key string, dest any) bool {
	if c.redis == nil {
		return false
	}
	data, err := c.redis.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return false
	}
	if err != nil {
		c.logger.Warn("practice cache read failed", "key", key, "error", err)
		return false
	}
	if err := json.Unmarshal(data, dest); err != nil {
		c.logger.Warn("practice cache entry corrupt", "key", key, "error", err)
		return false
	}
	return true
}

func (c *CachedDirectory) write(ctx context.Context, key string, value any) {
	if c.redis == nil {
		return
	}
	data, err := json.Marshal(value)
	if err != nil {
		return
	}
	if err := c.redis.Set(ctx, key, data, c.ttl).Err(); err != nil {
		c.logger.Warn("practice cache write failed", "key", key, "error", err)
	}
}
