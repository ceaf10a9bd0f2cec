package review

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	xerrors "LobsterMarket/internal/errors"
	"LobsterMarket/internal/fraud"
	"LobsterMarket/internal/observability/alerting"
	"LobsterMarket/internal/queue"
	"LobsterMarket/pkg/logger"
)

// Detector 是审核流程所需的欺诈检测能力。
type Detector interface {
	Check(ctx context.Context, r fraud.Review) bool
}

// Processor 负责从队列消费新评价：先交给欺诈检测调整权重，再记录声誉事件。
type Processor struct {
	store       Store
	detector    Detector
	consumer    queue.Consumer
	workerCount int
	logger      *slog.Logger
	alerter     alerting.Dispatcher
	now         func() time.Time
}

// ProcessorOption 定义可选配置。
type ProcessorOption func(*Processor)

// WithProcessorLogger 指定日志输出。
func WithProcessorLogger(l *slog.Logger) ProcessorOption {
	return func(p *Processor) {
		p.logger = l
	}
}

// WithWorkerCount 设置消费协程数量。
func WithWorkerCount(workers int) ProcessorOption {
	return func(p *Processor) {
		if workers > 0 {
			p.workerCount = workers
		}
	}
}

// WithConsumer 配置审核队列的消费者。
func WithConsumer(c queue.Consumer) ProcessorOption {
	return func(p *Processor) {
		p.consumer = c
	}
}

// WithAlertDispatcher 配置告警派发器。
func WithAlertDispatcher(d alerting.Dispatcher) ProcessorOption {
	return func(p *Processor) {
		p.alerter = d
	}
}

// WithProcessorClock 替换时间源。
func WithProcessorClock(now func() time.Time) ProcessorOption {
	return func(p *Processor) {
		if now != nil {
			p.now = now
		}
	}
}

// NewProcessor 构造 Processor。
func NewProcessor(store Store, detector Detector, opts ...ProcessorOption) *Processor {
	p := &Processor{
		store:       store,
		detector:    detector,
		workerCount: 1,
		now:         time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// Start 启动审核消费循环，直到 ctx 取消。
func (p *Processor) Start(ctx context.Context) error {
	if p.consumer == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "未配置审核队列消费者")
	}
	return p.consumer.Consume(ctx, p.workerCount, p.Screen)
}

// Screen 审核单条评价。评价不存在时跳过；声誉事件写入失败时返回可重试错误。
func (p *Processor) Screen(ctx context.Context, reviewID string) error {
	if p.store == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "处理器未初始化")
	}
	if strings.TrimSpace(reviewID) == "" {
		// 空消息不重投也不告警。
		return xerrors.New(CodeScreenFailure, "评价 ID 为空", xerrors.WithRetryable(false), xerrors.WithAlert(false))
	}
	r, err := p.store.GetReview(ctx, reviewID)
	if err != nil {
		if stdErrors.Is(err, ErrReviewNotFound) {
			p.logDebug("跳过评价", slog.String("review_id", reviewID), slog.String("reason", err.Error()))
			return nil
		}
		logger.L().Error("读取评价失败", slog.Any("error", err), slog.String("review_id", reviewID))
		return xerrors.Wrap(CodeScreenFailure, err, "读取评价失败")
	}

	suspicious := false
	if p.detector != nil {
		suspicious = p.detector.Check(ctx, fraud.Review{
			ID:         r.ID,
			ReviewerID: r.ReviewerID,
			RevieweeID: r.RevieweeID,
		})
	}

	event := NewReputationEvent(r, p.now())
	if err := p.store.InsertReputationEvent(ctx, event); err != nil {
		opts := []xerrors.Option{xerrors.WithMetadata("stage", "reputation_event")}
		if ctx.Err() != nil {
			// 停机导致的失败留给下次投递。
			opts = append(opts, xerrors.WithAlert(false), xerrors.WithSeverity(xerrors.SeverityInfo))
		}
		wrapped := xerrors.Wrap(CodeScreenFailure, err, fmt.Sprintf("评价 %s 的声誉事件写入失败", r.ID), opts...)
		logger.L().Error("写入声誉事件失败", slog.Any("error", err), slog.String("review_id", r.ID))
		p.emitAlert(ctx, r.ID, wrapped)
		return wrapped
	}
	logger.Audit().Info("review_screened",
		slog.String("review_id", r.ID),
		slog.String("reviewee_id", r.RevieweeID),
		slog.Bool("suspicious", suspicious),
		slog.Float64("delta", event.Delta),
	)
	return nil
}

// NewReputationEvent 由评价生成声誉事件：delta = (平均分 - 3) × 2，
// 只有客户对 Agent 的评价才关联 AgentID。
func NewReputationEvent(r *Review, at time.Time) *ReputationEvent {
	event := &ReputationEvent{
		ID:           uuid.NewString(),
		UserID:       r.RevieweeID,
		EventType:    EventReviewReceived,
		Delta:        (r.Average() - 3) * 2,
		ReviewID:     r.ID,
		ReviewerRole: r.ReviewerRole,
		CreatedAt:    at.UTC(),
	}
	if r.ReviewerRole == RoleClient {
		event.AgentID = r.AgentID
	}
	return event
}

func (p *Processor) logDebug(msg string, attrs ...slog.Attr) {
	if p.logger != nil {
		p.logger.LogAttrs(context.Background(), slog.LevelDebug, msg, attrs...)
	}
}

func (p *Processor) emitAlert(ctx context.Context, reviewID string, cause error) {
	if p.alerter == nil || !xerrors.ShouldAlert(cause) {
		return
	}
	event := alerting.Event{
		Code:       xerrors.CodeOf(cause),
		Message:    cause.Error(),
		Severity:   xerrors.SeverityOf(cause),
		EntityType: "review",
		EntityID:   reviewID,
		OccurredAt: p.now(),
	}
	if e, ok := xerrors.From(cause); ok {
		event.Metadata = e.Metadata()
	}
	if err := p.alerter.Notify(ctx, event); err != nil {
		logger.L().Error("告警通知失败", slog.Any("error", err), slog.String("review_id", reviewID))
	}
}
