package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"censo/internal/survey"
	"censo/pkg/platform/sentinel"
)

const draftKeyPrefix = "censo:draft:"

// DraftCache keeps the latest snapshot of in-flight surveys in Redis so
// auto-save-heavy sessions resume without a Postgres round trip. It is a
// cache, never the source of truth: misses and failures fall back to the
// store, and committed or cancelled surveys are evicted.
type DraftCache struct {
	client *goredis.Client
	ttl    time.Duration
}

func NewDraftCache(client *goredis.Client, ttl time.Duration) *DraftCache {
	return &DraftCache{client: client, ttl: ttl}
}

func (c *DraftCache) Put(ctx context.Context, r *survey.Record) error {
	payload, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal draft: %w", err)
	}
	return c.client.Set(ctx, draftKeyPrefix+r.ID.String(), payload, c.ttl).Err()
}

func (c *DraftCache) Get(ctx context.Context, id uuid.UUID) (*survey.Record, error) {
	payload, err := c.client.Get(ctx, draftKeyPrefix+id.String()).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get draft: %w", err)
	}
	var r survey.Record
	if err := json.Unmarshal(payload, &r); err != nil {
		return nil, fmt.Errorf("unmarshal draft: %w", err)
	}
	return &r, nil
}

func (c *DraftCache) Evict(ctx context.Context, id uuid.UUID) error {
	return c.client.Del(ctx, draftKeyPrefix+id.String()).Err()
}
