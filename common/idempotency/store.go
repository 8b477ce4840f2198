package idempotency

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kyungseok/ecommerce-saga-go/common/errors"
)

// Store 멱등성 키 저장소 인터페이스
type Store interface {
	// Reserve 멱등성 키를 예약 (이미 존재하면 false 반환)
	Reserve(ctx context.Context, key string, ttl time.Duration) (bool, error)
	// IsProcessed 이미 처리된 키인지 확인
	IsProcessed(ctx context.Context, key string) (bool, error)
	// Release 멱등성 키 해제
	Release(ctx context.Context, key string) error
}

// redisCommands 저장소가 사용하는 Redis 명령 집합 (*redis.Client가 구현)
type redisCommands interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Exists(ctx context.Context, keys ...string) *redis.IntCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// RedisStore Redis 기반 멱등성 저장소
type RedisStore struct {
	client redisCommands
	prefix string
}

// NewRedisStore Redis 기반 멱등성 저장소 생성
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{
		client: client,
		prefix: prefix,
	}
}

// Reserve 멱등성 키 예약. 저장소 장애는 DATABASE_ERROR로 분류되어 재시도 대상이 된다.
func (s *RedisStore) Reserve(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	reserved, err := s.client.SetNX(ctx, s.fullKey(key), "1", ttl).Result()
	if err != nil {
		return false, errors.Wrap(errors.ErrCodeDatabaseError, "failed to reserve idempotency key", err)
	}
	return reserved, nil
}

// IsProcessed 이미 처리된 키인지 확인
func (s *RedisStore) IsProcessed(ctx context.Context, key string) (bool, error) {
	exists, err := s.client.Exists(ctx, s.fullKey(key)).Result()
	if err != nil {
		return false, errors.Wrap(errors.ErrCodeDatabaseError, "failed to check idempotency key", err)
	}
	return exists > 0, nil
}

// Release 멱등성 키 해제 (재시도 가능한 처리 실패 시 재전달을 허용하기 위해 호출)
func (s *RedisStore) Release(ctx context.Context, key string) error {
	if _, err := s.client.Del(ctx, s.fullKey(key)).Result(); err != nil {
		return errors.Wrap(errors.ErrCodeDatabaseError, "failed to release idempotency key", err)
	}
	return nil
}

func (s *RedisStore) fullKey(key string) string {
	return fmt.Sprintf("%s:%s", s.prefix, key)
}
