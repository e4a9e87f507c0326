package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	redislib "github.com/redis/go-redis/v9"

	"github.com/fastygo/journal/domain"
	"github.com/fastygo/journal/repository"
)

// ErrCacheMiss is returned when no representation is stored for the token.
var ErrCacheMiss = domain.NewError(domain.ErrCodeNotFound, "representation not cached")

type representationCache struct {
	client *redislib.Client
	prefix string
	ttl    time.Duration
}

// NewRepresentationCache creates a Redis-backed representation cache. Entries
// are keyed by journable and validation token, so a new checksum or version
// never serves a stale body.
func NewRepresentationCache(client *redislib.Client, ttl time.Duration) repository.RepresentationCache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &representationCache{
		client: client,
		prefix: "journal:repr:",
		ttl:    ttl,
	}
}

func (c *representationCache) Get(ctx context.Context, ref domain.Ref, token string) (*domain.Representation, error) {
	result, err := c.client.Get(ctx, c.key(ref, token)).Result()
	if err != nil {
		if err == redislib.Nil {
			return nil, ErrCacheMiss
		}
		return nil, err
	}

	var rep domain.Representation
	if err := json.Unmarshal([]byte(result), &rep); err != nil {
		return nil, err
	}
	if rep.IsExpired(time.Now()) {
		return nil, ErrCacheMiss
	}
	return &rep, nil
}

func (c *representationCache) Save(ctx context.Context, rep *domain.Representation, ttl time.Duration) error {
	if rep == nil || rep.Token == "" {
		return domain.ErrInvalidPayload
	}
	if ttl <= 0 {
		ttl = c.ttl
	}
	if rep.CreatedAt.IsZero() {
		rep.CreatedAt = time.Now()
	}
	if rep.ExpiresAt.Before(rep.CreatedAt) || rep.ExpiresAt.IsZero() {
		rep.ExpiresAt = rep.CreatedAt.Add(ttl)
	}

	payload, err := json.Marshal(rep)
	if err != nil {
		return err
	}

	key := c.key(rep.Journable, rep.Token)
	index := c.indexKey(rep.Journable)
	pipe := c.client.TxPipeline()
	pipe.Set(ctx, key, payload, ttl)
	pipe.SAdd(ctx, index, key)
	pipe.Expire(ctx, index, ttl)
	_, err = pipe.Exec(ctx)
	return err
}

// Invalidate drops every cached representation of the journable.
func (c *representationCache) Invalidate(ctx context.Context, ref domain.Ref) error {
	index := c.indexKey(ref)
	keys, err := c.client.SMembers(ctx, index).Result()
	if err != nil && err != redislib.Nil {
		return err
	}
	keys = append(keys, index)
	return c.client.Del(ctx, keys...).Err()
}

func (c *representationCache) key(ref domain.Ref, token string) string {
	return fmt.Sprintf("%s%s:%d:%s", c.prefix, ref.Kind, ref.ID, token)
}

func (c *representationCache) indexKey(ref domain.Ref) string {
	return fmt.Sprintf("%s%s:%d", c.prefix, ref.Kind, ref.ID)
}
