package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	xerrors "LobsterMarket/internal/errors"
	"LobsterMarket/pkg/logger"
)

// RedisQueueConfig 描述 Redis 队列参数。
type RedisQueueConfig struct {
	Queue     string
	BlockWait time.Duration
}

// RedisQueue 使用 Redis list 实现可靠队列：消费时将消息原子地移入
// processing 列表，处理成功后删除，失败时移回主队列。
type RedisQueue struct {
	client     redis.UniversalClient
	queue      string
	processing string
	wait       time.Duration
}

// NewRedisQueue 基于已建立的 Redis 连接创建队列。
func NewRedisQueue(client redis.UniversalClient, cfg RedisQueueConfig) (*RedisQueue, error) {
	if client == nil {
		return nil, errors.New("Redis 客户端不能为空")
	}
	queue := cfg.Queue
	if queue == "" {
		queue = DefaultRedisQueue
	}
	wait := cfg.BlockWait
	if wait <= 0 {
		wait = 5 * time.Second
	}
	return &RedisQueue{client: client, queue: queue, processing: queue + ":processing", wait: wait}, nil
}

// Publish 将消息投递到 Redis。
func (q *RedisQueue) Publish(ctx context.Context, id string) error {
	if err := q.client.LPush(ctx, q.queue, id).Err(); err != nil {
		return xerrors.Wrap(xerrors.CodeQueueFailure, err, "Redis 发布消息失败")
	}
	return nil
}

// Recover 将上次进程退出时残留在 processing 列表中的消息移回主队列。
func (q *RedisQueue) Recover(ctx context.Context) (int, error) {
	moved := 0
	for {
		err := q.client.LMove(ctx, q.processing, q.queue, "RIGHT", "RIGHT").Err()
		if errors.Is(err, redis.Nil) {
			return moved, nil
		}
		if err != nil {
			return moved, fmt.Errorf("Redis 恢复消息失败: %w", err)
		}
		moved++
	}
}

// Consume 通过 BLMOVE 从 Redis 获取消息，返回第一个致命错误或 ctx 的取消原因。
func (q *RedisQueue) Consume(ctx context.Context, workerCount int, handler Handler) error {
	if workerCount <= 0 {
		workerCount = 1
	}
	if n, err := q.Recover(ctx); err != nil {
		return err
	} else if n > 0 {
		logger.L().Warn("恢复未确认消息", slog.String("queue", q.queue), slog.Int("count", n))
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	errCh := make(chan error, workerCount)
	var wg sync.WaitGroup
	for i := 0; i < workerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := q.work(ctx, handler); err != nil {
				errCh <- err
			}
		}()
	}

	var err error
	select {
	case <-ctx.Done():
		err = ctx.Err()
	case err = <-errCh:
		cancel()
	}
	wg.Wait()
	return err
}

func (q *RedisQueue) work(ctx context.Context, handler Handler) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		id, err := q.client.BLMove(ctx, q.queue, q.processing, "RIGHT", "LEFT", q.wait).Result()
		if err != nil {
			switch {
			case errors.Is(err, redis.Nil):
				continue
			case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
				return nil
			case errors.Is(err, redis.ErrClosed):
				return err
			default:
				return fmt.Errorf("Redis 取消息失败: %w", err)
			}
		}
		// 已出队的消息在 ctx 取消后仍需确认或退回，使用独立的 ctx。
		ackCtx := context.WithoutCancel(ctx)
		if handlerErr := handler(ctx, id); handlerErr != nil {
			pipe := q.client.TxPipeline()
			pipe.LRem(ackCtx, q.processing, 1, id)
			pipe.LPush(ackCtx, q.queue, id)
			if _, err := pipe.Exec(ackCtx); err != nil {
				logger.L().Error("消息退回失败", slog.Any("error", err), slog.String("id", id))
			}
			continue
		}
		if err := q.client.LRem(ackCtx, q.processing, 1, id).Err(); err != nil {
			logger.L().Error("消息确认失败", slog.Any("error", err), slog.String("id", id))
		}
	}
}

// Close 不关闭共享的 Redis 连接，由连接的创建方负责释放。
func (q *RedisQueue) Close() error {
	return nil
}
