package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"LobsterMarket/internal/auth"
)

var _ auth.NonceStore = (*NonceStore)(nil)

// NonceStore 使用 SET EX 写入 nonce，GETDEL 原子地读取并删除，
// 保证同一 nonce 在并发校验下只能被消费一次。
type NonceStore struct {
	client goredis.UniversalClient
}

// NewNonceStore 基于已有连接创建 NonceStore。
func NewNonceStore(client goredis.UniversalClient) *NonceStore {
	return &NonceStore{client: client}
}

// Put 写入键值并设置过期时间。
func (s *NonceStore) Put(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("写入 nonce 失败: %w", err)
	}
	return nil
}

// Get 读取未过期的值。
func (s *NonceStore) Get(ctx context.Context, key string) (string, bool, error) {
	return s.result(s.client.Get(ctx, key))
}

// Delete 删除键。
func (s *NonceStore) Delete(ctx context.Context, key string) error {
	return s.client.Del(ctx, key).Err()
}

// Consume 原子地读取并删除键。
func (s *NonceStore) Consume(ctx context.Context, key string) (string, bool, error) {
	return s.result(s.client.GetDel(ctx, key))
}

func (s *NonceStore) result(cmd *goredis.StringCmd) (string, bool, error) {
	v, err := cmd.Result()
	if errors.Is(err, goredis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}
