package sqlstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// Dialect 标识底层数据库方言，同时也是 database/sql 的驱动名。
type Dialect string

const (
	DialectMySQL    Dialect = "mysql"
	DialectPostgres Dialect = "postgres"
)

// Config 描述关系型数据库连接参数。
type Config struct {
	Driver          string        `json:"driver" yaml:"driver"`
	DSN             string        `json:"dsn" yaml:"dsn"`
	MaxOpenConns    int           `json:"max_open_conns" yaml:"max_open_conns"`
	MaxIdleConns    int           `json:"max_idle_conns" yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime" yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `json:"conn_max_idle_time" yaml:"conn_max_idle_time"`
}

// ResolveDSN 根据显式驱动或 DSN 前缀确定方言，并规范化 DSN。
// postgres:// 与 postgresql:// 走 lib/pq，mysql:// 前缀会被剥离，
// MySQL DSN 始终开启 parseTime、UTC 与 clientFoundRows。
func ResolveDSN(driver, dsn string) (Dialect, string, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return "", "", fmt.Errorf("数据库 DSN 不能为空")
	}
	lower := strings.ToLower(dsn)
	dialect := Dialect(strings.ToLower(strings.TrimSpace(driver)))
	switch {
	case strings.HasPrefix(lower, "postgres://"), strings.HasPrefix(lower, "postgresql://"):
		dialect = DialectPostgres
	case strings.HasPrefix(lower, "mysql://"):
		dialect = DialectMySQL
		dsn = dsn[len("mysql://"):]
	case dialect == "postgresql":
		dialect = DialectPostgres
	case dialect == "":
		dialect = DialectMySQL
	}

	switch dialect {
	case DialectPostgres:
		return dialect, dsn, nil
	case DialectMySQL:
		cfg, err := mysql.ParseDSN(dsn)
		if err != nil {
			return "", "", fmt.Errorf("解析 MySQL DSN 失败: %w", err)
		}
		cfg.ParseTime = true
		cfg.Loc = time.UTC
		cfg.ClientFoundRows = true
		return dialect, cfg.FormatDSN(), nil
	default:
		return "", "", fmt.Errorf("不支持的数据库驱动: %s", driver)
	}
}

// Open 建立连接池并探活，返回可直接使用的 Store。
func Open(ctx context.Context, cfg Config, opts ...Option) (*Store, error) {
	dialect, dsn, err := ResolveDSN(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, err
	}

	db, err := sqlx.Open(string(dialect), dsn)
	if err != nil {
		return nil, fmt.Errorf("连接数据库失败: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	} else {
		db.SetMaxOpenConns(20)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	} else {
		db.SetMaxIdleConns(10)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	} else {
		db.SetConnMaxLifetime(30 * time.Minute)
	}
	if cfg.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("无法连接到数据库: %w", err)
	}
	return New(db, opts...), nil
}
