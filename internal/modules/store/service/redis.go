package service

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/pkg/errors"
)

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// RedisStore: Store поверх go-redis.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(conf RedisConfig) *RedisStore {
	return NewRedisStoreWithClient(redis.NewClient(&redis.Options{
		Addr:     conf.Addr,
		Password: conf.Password,
		DB:       conf.DB,
	}))
}

func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return errors.Wrap(s.client.Ping(ctx).Err(), "redis ping")
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := s.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.Wrapf(err, "redis get %s", key)
	}
	return v, true, nil
}

func (s *RedisStore) Set(ctx context.Context, key string, value interface{}) error {
	return errors.Wrapf(s.client.Set(ctx, key, value, 0).Err(), "redis set %s", key)
}

func (s *RedisStore) SAdd(ctx context.Context, key, member string) error {
	return errors.Wrapf(s.client.SAdd(ctx, key, member).Err(), "redis sadd %s", key)
}

func (s *RedisStore) SRem(ctx context.Context, key, member string) error {
	return errors.Wrapf(s.client.SRem(ctx, key, member).Err(), "redis srem %s", key)
}

func (s *RedisStore) SMembers(ctx context.Context, key string) ([]string, error) {
	v, err := s.client.SMembers(ctx, key).Result()
	if err != nil {
		return nil, errors.Wrapf(err, "redis smembers %s", key)
	}
	return v, nil
}

func (s *RedisStore) LPush(ctx context.Context, key string, value interface{}) error {
	return errors.Wrapf(s.client.LPush(ctx, key, value).Err(), "redis lpush %s", key)
}

func (s *RedisStore) LTrim(ctx context.Context, key string, start, stop int64) error {
	return errors.Wrapf(s.client.LTrim(ctx, key, start, stop).Err(), "redis ltrim %s", key)
}

func (s *RedisStore) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	v, err := s.client.LRange(ctx, key, start, stop).Result()
	if err != nil {
		return nil, errors.Wrapf(err, "redis lrange %s", key)
	}
	return v, nil
}

func (s *RedisStore) Incr(ctx context.Context, key string) (int64, error) {
	v, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, errors.Wrapf(err, "redis incr %s", key)
	}
	return v, nil
}

func (s *RedisStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return errors.Wrapf(s.client.Expire(ctx, key, ttl).Err(), "redis expire %s", key)
}
