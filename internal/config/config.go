package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"LobsterMarket/internal/queue"
	"LobsterMarket/pkg/logger"
)

// 存储与队列驱动名称。
const (
	DriverMemory   = "memory"
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
	DriverRabbitMQ = "rabbitmq"
	DriverNone     = "none"
)

// Config 描述了 lobsterd 在启动阶段需要加载的全部配置。
type Config struct {
	Server     ServerConfig     `json:"server" yaml:"server"`
	Auth       AuthConfig       `json:"auth" yaml:"auth"`
	Database   DatabaseConfig   `json:"database" yaml:"database"`
	Redis      RedisConfig      `json:"redis" yaml:"redis"`
	Queue      QueueConfig      `json:"queue" yaml:"queue"`
	Reputation ReputationConfig `json:"reputation" yaml:"reputation"`
	Alerting   AlertingConfig   `json:"alerting" yaml:"alerting"`
	Logging    logger.Config    `json:"logging" yaml:"logging"`
}

// ServerConfig 控制 API 服务的监听地址与限流参数。
type ServerConfig struct {
	Host           string  `json:"host" yaml:"host"`
	Port           int     `json:"port" yaml:"port"`
	MetricsAddress string  `json:"metrics_address" yaml:"metrics_address"`
	NonceRateLimit float64 `json:"nonce_rate_limit" yaml:"nonce_rate_limit"`
	NonceRateBurst int     `json:"nonce_rate_burst" yaml:"nonce_rate_burst"`

	// 仅在服务部署于可信反向代理之后时开启。
	TrustProxyHeaders bool `json:"trust_proxy_headers" yaml:"trust_proxy_headers"`
}

// AuthConfig 描述钱包登录与会话令牌参数。
type AuthConfig struct {
	Domain          string `json:"domain" yaml:"domain"`
	JWTSecret       string `json:"jwt_secret" yaml:"jwt_secret"`
	JWTExpiryHours  int    `json:"jwt_expiry_hours" yaml:"jwt_expiry_hours"`
	NonceTTLSeconds int    `json:"nonce_ttl_seconds" yaml:"nonce_ttl_seconds"`
}

// DatabaseConfig 选择存储驱动：memory、mysql 或 postgres。
type DatabaseConfig struct {
	Driver       string `json:"driver" yaml:"driver"`
	URL          string `json:"url" yaml:"url"`
	MaxOpenConns int    `json:"max_open_conns" yaml:"max_open_conns"`
	MaxIdleConns int    `json:"max_idle_conns" yaml:"max_idle_conns"`
	AutoMigrate  bool   `json:"auto_migrate" yaml:"auto_migrate"`
}

// RedisConfig 为空时 nonce 存放在进程内存中。
type RedisConfig struct {
	URL string `json:"url" yaml:"url"`
}

// QueueConfig 描述评价筛查队列。driver 为 none 时评价在请求内同步筛查。
type QueueConfig struct {
	Driver     string               `json:"driver" yaml:"driver"`
	Workers    int                  `json:"workers" yaml:"workers"`
	RedisQueue string               `json:"redis_queue" yaml:"redis_queue"`
	RabbitMQ   queue.RabbitMQConfig `json:"rabbitmq" yaml:"rabbitmq"`
}

// ReputationConfig 控制分数定时刷新。
type ReputationConfig struct {
	RefreshSchedule       string `json:"refresh_schedule" yaml:"refresh_schedule"`
	RefreshTimeoutSeconds int    `json:"refresh_timeout_seconds" yaml:"refresh_timeout_seconds"`
}

// AlertingConfig 配置告警 Webhook，格式为 webhook、dingtalk 或 slack。
type AlertingConfig struct {
	WebhookURL string `json:"webhook_url" yaml:"webhook_url"`
	Format     string `json:"format" yaml:"format"`
}

// Load 依次读取配置文件（可为空）、当前目录下的 .env 与环境变量，然后补齐默认值并校验。
// 文件扩展名为 .yaml/.yml 时按 YAML 解析，否则按 JSON 解析。
func Load(path string) (*Config, error) {
	var cfg Config
	if strings.TrimSpace(path) != "" {
		content, err := os.ReadFile(filepath.Clean(path))
		if err != nil {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".yaml", ".yml":
			err = yaml.Unmarshal(content, &cfg)
		default:
			err = json.Unmarshal(content, &cfg)
		}
		if err != nil {
			return nil, fmt.Errorf("解析配置失败: %w", err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("读取 .env 失败: %w", err)
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnv 用环境变量覆盖配置文件中的值。
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	num := func(key string, dst *int) error {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return nil
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("环境变量 %s 不是整数: %w", key, err)
		}
		*dst = n
		return nil
	}

	str("DATABASE_URL", &c.Database.URL)
	str("DATABASE_DRIVER", &c.Database.Driver)
	str("REDIS_URL", &c.Redis.URL)
	str("API_HOST", &c.Server.Host)
	str("JWT_SECRET", &c.Auth.JWTSecret)
	str("DOMAIN", &c.Auth.Domain)
	str("QUEUE_DRIVER", &c.Queue.Driver)
	str("RABBITMQ_URL", &c.Queue.RabbitMQ.URL)
	str("LOG_LEVEL", &c.Logging.Level)
	if err := num("API_PORT", &c.Server.Port); err != nil {
		return err
	}
	if err := num("JWT_EXPIRY_HOURS", &c.Auth.JWTExpiryHours); err != nil {
		return err
	}
	return num("NONCE_TTL_SECONDS", &c.Auth.NonceTTLSeconds)
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.NonceRateLimit <= 0 {
		c.Server.NonceRateLimit = 5
	}
	if c.Server.NonceRateBurst <= 0 {
		c.Server.NonceRateBurst = 10
	}

	if c.Auth.Domain == "" {
		c.Auth.Domain = "localhost"
	}
	if c.Auth.JWTSecret == "" {
		c.Auth.JWTSecret = "dev-secret-change-me"
	}
	if c.Auth.JWTExpiryHours <= 0 {
		c.Auth.JWTExpiryHours = 72
	}
	if c.Auth.NonceTTLSeconds <= 0 {
		c.Auth.NonceTTLSeconds = 300
	}

	c.Database.Driver = strings.ToLower(c.Database.Driver)
	if c.Database.Driver == "" || (c.Database.Driver == DriverMemory && c.Database.URL != "") {
		c.Database.Driver = inferDriver(c.Database.URL)
	}
	if c.Database.Driver == "postgresql" {
		c.Database.Driver = DriverPostgres
	}

	c.Queue.Driver = strings.ToLower(c.Queue.Driver)
	if c.Queue.Driver == "" {
		c.Queue.Driver = DriverMemory
	}
	if c.Queue.Workers <= 0 {
		c.Queue.Workers = 2
	}
	if c.Queue.RedisQueue == "" {
		c.Queue.RedisQueue = queue.DefaultRedisQueue
	}
	if c.Queue.RabbitMQ.Queue == "" {
		c.Queue.RabbitMQ.Queue = queue.DefaultRabbitMQQueue
	}

	if c.Reputation.RefreshSchedule == "" {
		c.Reputation.RefreshSchedule = "@every 5m"
	}
	if c.Reputation.RefreshTimeoutSeconds <= 0 {
		c.Reputation.RefreshTimeoutSeconds = 120
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
}

// inferDriver 根据连接串推断驱动，空串表示使用内存存储。
func inferDriver(url string) string {
	lower := strings.ToLower(strings.TrimSpace(url))
	switch {
	case lower == "":
		return DriverMemory
	case strings.HasPrefix(lower, "postgres://"), strings.HasPrefix(lower, "postgresql://"):
		return DriverPostgres
	default:
		return DriverMySQL
	}
}

// Validate 检查驱动组合是否可用。
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case DriverMemory:
	case DriverMySQL, DriverPostgres:
		if c.Database.URL == "" {
			return fmt.Errorf("数据库驱动 %s 需要配置 DATABASE_URL", c.Database.Driver)
		}
	default:
		return fmt.Errorf("不支持的数据库驱动: %s", c.Database.Driver)
	}

	switch c.Queue.Driver {
	case DriverMemory, DriverNone:
	case DriverRedis:
		if c.Redis.URL == "" {
			return errors.New("redis 队列需要配置 REDIS_URL")
		}
	case DriverRabbitMQ:
		if c.Queue.RabbitMQ.URL == "" {
			return errors.New("rabbitmq 队列需要配置 RABBITMQ_URL")
		}
	default:
		return fmt.Errorf("不支持的队列驱动: %s", c.Queue.Driver)
	}

	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("端口超出范围: %d", c.Server.Port)
	}
	return nil
}

// JWTExpiry 返回会话有效期。
func (c *Config) JWTExpiry() time.Duration {
	return time.Duration(c.Auth.JWTExpiryHours) * time.Hour
}

// NonceTTL 返回 nonce 有效期。
func (c *Config) NonceTTL() time.Duration {
	return time.Duration(c.Auth.NonceTTLSeconds) * time.Second
}

// RefreshTimeout 返回单次分数刷新的超时时间。
func (c *Config) RefreshTimeout() time.Duration {
	return time.Duration(c.Reputation.RefreshTimeoutSeconds) * time.Second
}
