package store

import (
	"context"
	"errors"
	"fmt"

	"vault-signal/configs"

	"github.com/redis/go-redis/v9"
)

// Redis stores values as plain redis strings under configs.ClientRatchetKey.
type Redis struct {
	client *redis.Client
}

var _ KV = (*Redis)(nil)

func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client}
}

func (r *Redis) key(bucket, key string) string {
	return fmt.Sprintf(configs.ClientRatchetKey, bucket, key)
}

func (r *Redis) Get(ctx context.Context, bucket, key string) ([]byte, error) {
	v, err := r.client.Get(ctx, r.key(bucket, key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	return v, r.mapErr(err)
}

func (r *Redis) Put(ctx context.Context, bucket, key string, value []byte) error {
	return r.mapErr(r.client.Set(ctx, r.key(bucket, key), value, 0).Err())
}

func (r *Redis) Delete(ctx context.Context, bucket, key string) error {
	return r.mapErr(r.client.Del(ctx, r.key(bucket, key)).Err())
}

func (r *Redis) Close() error {
	return r.client.Close()
}

func (r *Redis) mapErr(err error) error {
	if errors.Is(err, redis.ErrClosed) {
		return ErrClosed
	}
	return err
}
