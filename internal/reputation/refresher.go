package reputation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"LobsterMarket/pkg/logger"
)

// DefaultSchedule 是默认的刷新周期。
const DefaultSchedule = "@every 5m"

// Refresher 按 cron 表达式周期性执行 RefreshAll，上一轮未结束时跳过本轮。
type Refresher struct {
	engine   *Engine
	schedule string
	timeout  time.Duration
	logger   *slog.Logger
}

// NewRefresher 构造周期刷新任务。timeout 为单轮执行上限，0 表示不限制。
func NewRefresher(engine *Engine, schedule string, timeout time.Duration) *Refresher {
	if schedule == "" {
		schedule = DefaultSchedule
	}
	return &Refresher{engine: engine, schedule: schedule, timeout: timeout, logger: logger.Named("refresher")}
}

// Start 启动调度并阻塞到 ctx 取消，返回前等待正在执行的一轮结束。
func (r *Refresher) Start(ctx context.Context) error {
	cl := cronLogger{r.logger}
	c := cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)))
	if _, err := c.AddFunc(r.schedule, func() { r.RunOnce(ctx) }); err != nil {
		return fmt.Errorf("invalid refresh schedule %q: %w", r.schedule, err)
	}
	c.Start()
	r.logger.Info("声誉刷新已启动", slog.String("schedule", r.schedule))
	<-ctx.Done()
	<-c.Stop().Done()
	return ctx.Err()
}

// RunOnce 执行一轮刷新。
func (r *Refresher) RunOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	report, err := r.engine.RefreshAll(ctx)
	if err != nil {
		r.logger.Error("声誉刷新失败", slog.Any("error", err))
		return
	}
	r.logger.Debug("声誉刷新完成",
		slog.Int("agents", report.Agents),
		slog.Int("failed", report.Failed),
		slog.Duration("duration", report.Duration))
}

// cronLogger 将 cron 的日志接入 slog。
type cronLogger struct {
	l *slog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debug(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Error(msg, append([]interface{}{slog.Any("error", err)}, keysAndValues...)...)
}
