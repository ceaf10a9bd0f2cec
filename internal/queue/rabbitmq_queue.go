package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	xerrors "LobsterMarket/internal/errors"
	"LobsterMarket/pkg/logger"
)

// RabbitMQConfig 描述 RabbitMQ 队列的连接参数。
type RabbitMQConfig struct {
	URL        string `yaml:"url" json:"url"`
	Queue      string `yaml:"queue" json:"queue"`
	Prefetch   int    `yaml:"prefetch" json:"prefetch"`
	Durable    bool   `yaml:"durable" json:"durable"`
	AutoDelete bool   `yaml:"auto_delete" json:"auto_delete"`
}

// RabbitMQQueue 使用 RabbitMQ 实现消息队列。
type RabbitMQQueue struct {
	conn    *amqp.Connection
	ch      *amqp.Channel
	queue   string
	durable bool
	mu      sync.Mutex
}

// NewRabbitMQQueue 创建 RabbitMQ 队列实例。
func NewRabbitMQQueue(cfg RabbitMQConfig) (*RabbitMQQueue, error) {
	if cfg.URL == "" {
		return nil, errors.New("RabbitMQ URL 不能为空")
	}
	queue := cfg.Queue
	if queue == "" {
		queue = DefaultRabbitMQQueue
	}
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("连接 RabbitMQ 失败: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("创建 RabbitMQ channel 失败: %w", err)
	}
	if cfg.Prefetch > 0 {
		if err := ch.Qos(cfg.Prefetch, 0, false); err != nil {
			ch.Close()
			conn.Close()
			return nil, fmt.Errorf("设置 RabbitMQ QOS 失败: %w", err)
		}
	}
	if _, err := ch.QueueDeclare(queue, cfg.Durable, cfg.AutoDelete, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("声明 RabbitMQ 队列失败: %w", err)
	}
	return &RabbitMQQueue{conn: conn, ch: ch, queue: queue, durable: cfg.Durable}, nil
}

// Publish 将消息投递到 RabbitMQ。持久化队列使用持久化投递模式。
func (q *RabbitMQQueue) Publish(ctx context.Context, id string) error {
	if q == nil || q.ch == nil {
		return errors.New("RabbitMQ 队列未初始化")
	}
	mode := amqp.Transient
	if q.durable {
		mode = amqp.Persistent
	}
	// amqp.Channel 不支持并发发布。
	q.mu.Lock()
	defer q.mu.Unlock()
	err := q.ch.PublishWithContext(ctx, "", q.queue, false, false, amqp.Publishing{
		ContentType:  "text/plain",
		DeliveryMode: mode,
		MessageId:    id,
		Body:         []byte(id),
	})
	if err != nil {
		return xerrors.Wrap(xerrors.CodeQueueFailure, err, "RabbitMQ 发布消息失败")
	}
	return nil
}

// Consume 使用手动确认模式消费 RabbitMQ 队列。可重试错误会重新入队一次，
// 其余失败直接确认，避免毒消息反复投递。
func (q *RabbitMQQueue) Consume(ctx context.Context, workerCount int, handler Handler) error {
	if q == nil || q.ch == nil {
		return errors.New("RabbitMQ 队列未初始化")
	}
	if workerCount <= 0 {
		workerCount = 1
	}
	msgs, err := q.ch.ConsumeWithContext(ctx, q.queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("订阅 RabbitMQ 队列失败: %w", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < workerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case msg, ok := <-msgs:
					if !ok {
						return
					}
					q.settle(msg, handler(ctx, string(msg.Body)))
				}
			}
		}()
	}

	wg.Wait()
	return ctx.Err()
}

func (q *RabbitMQQueue) settle(msg amqp.Delivery, err error) {
	var ackErr error
	switch {
	case err == nil:
		ackErr = msg.Ack(false)
	case xerrors.RetryableError(err) && !msg.Redelivered:
		ackErr = msg.Nack(false, true)
	default:
		logger.L().Warn("消息处理失败，丢弃", slog.Any("error", err), slog.String("id", string(msg.Body)))
		ackErr = msg.Ack(false)
	}
	if ackErr != nil {
		logger.L().Error("消息确认失败", slog.Any("error", ackErr), slog.String("id", string(msg.Body)))
	}
}

// Close 关闭 RabbitMQ 连接。
func (q *RabbitMQQueue) Close() error {
	if q == nil {
		return nil
	}
	if q.ch != nil {
		_ = q.ch.Close()
	}
	if q.conn != nil {
		return q.conn.Close()
	}
	return nil
}
