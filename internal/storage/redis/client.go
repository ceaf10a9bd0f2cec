package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// Config 描述 Redis 连接参数。URL 优先于 Address。
type Config struct {
	URL         string        `yaml:"url" json:"url"`
	Address     string        `yaml:"address" json:"address"`
	Password    string        `yaml:"password" json:"password"`
	DB          int           `yaml:"db" json:"db"`
	DialTimeout time.Duration `yaml:"dial_timeout" json:"dial_timeout"`
}

// NewClient 建立 Redis 连接并确认可用。
func NewClient(ctx context.Context, cfg Config) (*goredis.Client, error) {
	var opts *goredis.Options
	switch {
	case strings.TrimSpace(cfg.URL) != "":
		parsed, err := goredis.ParseURL(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("解析 Redis URL 失败: %w", err)
		}
		opts = parsed
	case strings.TrimSpace(cfg.Address) != "":
		opts = &goredis.Options{Addr: cfg.Address, Password: cfg.Password, DB: cfg.DB}
	default:
		return nil, errors.New("Redis address 不能为空")
	}
	if cfg.DialTimeout > 0 {
		opts.DialTimeout = cfg.DialTimeout
	}
	client := goredis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("连接 Redis 失败: %w", err)
	}
	return client, nil
}
