package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/urfave/cli/v2"

	"LobsterMarket/internal/api"
	"LobsterMarket/internal/auth"
	"LobsterMarket/internal/config"
	"LobsterMarket/internal/fraud"
	"LobsterMarket/internal/market"
	"LobsterMarket/internal/observability/alerting"
	"LobsterMarket/internal/observability/metrics"
	"LobsterMarket/internal/queue"
	"LobsterMarket/internal/reputation"
	"LobsterMarket/internal/review"
	"LobsterMarket/internal/storage/memory"
	redisstore "LobsterMarket/internal/storage/redis"
	sqlstore "LobsterMarket/internal/storage/sql"
	"LobsterMarket/pkg/logger"
)

// backend 是单一存储实现需要满足的全部接口。
type backend interface {
	market.Store
	auth.IdentityStore
	review.Store
	fraud.Store
	reputation.Store
}

// runtime 持有服务运行期间的组件及其释放顺序。
type runtime struct {
	cfg     *config.Config
	store   backend
	redis   *goredis.Client
	queue   queue.Queue
	closers []io.Closer
}

func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(c.String(configFlag.Name))
	if err != nil {
		return nil, err
	}
	if err := logger.Init(cfg.Logging); err != nil {
		return nil, fmt.Errorf("初始化日志失败: %w", err)
	}
	return cfg, nil
}

// openStore 按配置选择内存或关系型存储。
func openStore(ctx context.Context, cfg *config.Config, migrateSchema bool) (backend, io.Closer, error) {
	if cfg.Database.Driver == config.DriverMemory {
		logger.L().Warn("使用内存存储，进程退出后数据将丢失")
		return memory.New(), nil, nil
	}
	store, err := sqlstore.Open(ctx, sqlstore.Config{
		Driver:       cfg.Database.Driver,
		DSN:          cfg.Database.URL,
		MaxOpenConns: cfg.Database.MaxOpenConns,
		MaxIdleConns: cfg.Database.MaxIdleConns,
	}, sqlstore.WithLogger(logger.Named("storage")))
	if err != nil {
		return nil, nil, err
	}
	if migrateSchema {
		if err := store.Migrate(ctx); err != nil {
			_ = store.Close()
			return nil, nil, err
		}
	}
	return store, store, nil
}

func newRuntime(ctx context.Context, cfg *config.Config) (*runtime, error) {
	rt := &runtime{cfg: cfg}

	store, closer, err := openStore(ctx, cfg, cfg.Database.AutoMigrate)
	if err != nil {
		return nil, err
	}
	rt.store = store
	if closer != nil {
		rt.closers = append(rt.closers, closer)
	}

	if cfg.Redis.URL != "" {
		client, err := redisstore.NewClient(ctx, redisstore.Config{URL: cfg.Redis.URL})
		if err != nil {
			rt.Close()
			return nil, err
		}
		rt.redis = client
		rt.closers = append(rt.closers, client)
	}

	q, err := rt.openQueue()
	if err != nil {
		rt.Close()
		return nil, err
	}
	if q != nil {
		rt.queue = q
		rt.closers = append(rt.closers, q)
	}
	return rt, nil
}

func (rt *runtime) openQueue() (queue.Queue, error) {
	switch rt.cfg.Queue.Driver {
	case config.DriverNone:
		return nil, nil
	case config.DriverMemory:
		return queue.NewMemoryQueue(1024), nil
	case config.DriverRedis:
		if rt.redis == nil {
			return nil, errors.New("redis 队列需要配置 REDIS_URL")
		}
		return queue.NewRedisQueue(rt.redis, queue.RedisQueueConfig{Queue: rt.cfg.Queue.RedisQueue})
	case config.DriverRabbitMQ:
		return queue.NewRabbitMQQueue(rt.cfg.Queue.RabbitMQ)
	default:
		return nil, fmt.Errorf("未知的队列驱动: %s", rt.cfg.Queue.Driver)
	}
}

func (rt *runtime) nonceStore() auth.NonceStore {
	if rt.redis != nil {
		return redisstore.NewNonceStore(rt.redis)
	}
	return auth.NewMemoryNonceStore()
}

func (rt *runtime) alerts() alerting.Dispatcher {
	notifiers := []alerting.Notifier{alerting.LogNotifier{}}
	if rt.cfg.Alerting.WebhookURL != "" {
		notifiers = append(notifiers, &alerting.WebhookNotifier{
			URL:    rt.cfg.Alerting.WebhookURL,
			Format: alerting.Channel(rt.cfg.Alerting.Format),
		})
	}
	return alerting.NewFanout(notifiers...)
}

// Close 逆序释放已打开的资源。
func (rt *runtime) Close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i].Close(); err != nil {
			logger.L().Warn("释放资源失败", slog.Any("error", err))
		}
	}
	rt.closers = nil
}

func serve(ctx context.Context, cfg *config.Config) error {
	defer logger.Sync()

	rt, err := newRuntime(ctx, cfg)
	if err != nil {
		return err
	}
	defer rt.Close()

	issuer, err := auth.NewJWTIssuer(cfg.Auth.JWTSecret)
	if err != nil {
		return err
	}
	authService, err := auth.NewService(auth.Config{
		Domain:     cfg.Auth.Domain,
		NonceTTL:   cfg.NonceTTL(),
		SessionTTL: cfg.JWTExpiry(),
	}, rt.nonceStore(), rt.store, issuer)
	if err != nil {
		return err
	}

	dispatcher := rt.alerts()
	marketService := market.NewService(rt.store, market.WithLogger(logger.Named("market")))
	detector := fraud.NewDetector(rt.store,
		fraud.WithAlertDispatcher(dispatcher),
		fraud.WithLogger(logger.Named("fraud")),
	)

	procOpts := []review.ProcessorOption{
		review.WithWorkerCount(cfg.Queue.Workers),
		review.WithAlertDispatcher(dispatcher),
		review.WithProcessorLogger(logger.Named("review-processor")),
	}
	var reviewOpts []review.Option
	if rt.queue != nil {
		procOpts = append(procOpts, review.WithConsumer(rt.queue))
		reviewOpts = append(reviewOpts, review.WithProducer(rt.queue))
	}
	processor := review.NewProcessor(rt.store, detector, procOpts...)
	reviewService := review.NewService(rt.store, marketService, processor, reviewOpts...)

	engine := reputation.NewEngine(rt.store, reputation.WithLogger(logger.Named("reputation")))
	refresher := reputation.NewRefresher(engine, cfg.Reputation.RefreshSchedule, cfg.RefreshTimeout())

	server, err := api.NewServer(api.Config{
		Host:              cfg.Server.Host,
		Port:              cfg.Server.Port,
		NonceRateLimit:    cfg.Server.NonceRateLimit,
		NonceRateBurst:    cfg.Server.NonceRateBurst,
		TrustProxyHeaders: cfg.Server.TrustProxyHeaders,
	}, api.Dependencies{
		Auth:       authService,
		Market:     marketService,
		Reviews:    reviewService,
		Reputation: engine,
	})
	if err != nil {
		return err
	}

	bgCtx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	background := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(bgCtx); err != nil && !errors.Is(err, context.Canceled) {
				logger.L().Error("后台任务异常退出", slog.String("task", name), slog.Any("error", err))
			}
		}()
	}
	if rt.queue != nil {
		background("review-processor", processor.Start)
	}
	background("reputation-refresher", refresher.Start)
	if cfg.Server.MetricsAddress != "" {
		background("metrics", func(ctx context.Context) error { return metrics.StartServer(ctx, cfg.Server.MetricsAddress) })
	}

	logger.L().Info("lobsterd 启动",
		slog.String("address", cfg.Server.Host),
		slog.Int("port", cfg.Server.Port),
		slog.String("database", cfg.Database.Driver),
		slog.String("queue", cfg.Queue.Driver),
	)
	err = server.Start(ctx)
	cancel()
	wg.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func migrate(ctx context.Context, cfg *config.Config) error {
	if cfg.Database.Driver == config.DriverMemory {
		return errors.New("内存存储无需迁移，请配置 DATABASE_URL")
	}
	_, closer, err := openStore(ctx, cfg, true)
	if err != nil {
		return err
	}
	logger.L().Info("数据库迁移完成", slog.String("driver", cfg.Database.Driver))
	return closer.Close()
}

func refreshScores(ctx context.Context, cfg *config.Config) (reputation.Report, error) {
	if cfg.Database.Driver == config.DriverMemory {
		return reputation.Report{}, errors.New("内存存储没有可刷新的数据，请配置 DATABASE_URL")
	}
	store, closer, err := openStore(ctx, cfg, cfg.Database.AutoMigrate)
	if err != nil {
		return reputation.Report{}, err
	}
	defer closer.Close()

	ctx, cancel := context.WithTimeout(ctx, cfg.RefreshTimeout())
	defer cancel()
	start := time.Now()
	report, err := reputation.NewEngine(store, reputation.WithLogger(logger.Named("reputation"))).RefreshAll(ctx)
	if err != nil {
		return report, err
	}
	logger.L().Info("声誉刷新完成", slog.Int("agents", report.Agents), slog.Duration("elapsed", time.Since(start)))
	return report, nil
}
