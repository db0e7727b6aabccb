package snapshot

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"outletcash/backend/internal/store"
)

// RedisStore keeps snapshots as JSON strings without expiry.
type RedisStore struct {
	client redis.Cmdable
}

func NewRedisStore(client redis.Cmdable) *RedisStore {
	return &RedisStore{client: client}
}

func (r *RedisStore) Put(ctx context.Context, rec Record) error {
	data, err := Encode(rec)
	if err != nil {
		return err
	}
	ok, err := r.client.SetNX(ctx, Key(rec.Date, rec.Outlet, rec.CloseIndex), data, 0).Result()
	if err != nil {
		return fmt.Errorf("redis setnx: %w", err)
	}
	if !ok {
		return ErrExists
	}
	return nil
}

func (r *RedisStore) Get(ctx context.Context, date string, outlet string, closeIndex int) (Record, error) {
	data, err := r.client.Get(ctx, Key(date, outlet, closeIndex)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Record{}, store.ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("redis get: %w", err)
	}
	return Decode(data)
}
