// Package sqlstore 基于 sqlx 实现所有存储接口，支持 MySQL 与 PostgreSQL。
// 写事务内的单行读取使用 SELECT ... FOR UPDATE 加行锁。
package sqlstore

import (
	"context"
	"database/sql"
	stdErrors "errors"
	"log/slog"

	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"LobsterMarket/internal/auth"
	xerrors "LobsterMarket/internal/errors"
	"LobsterMarket/internal/fraud"
	"LobsterMarket/internal/market"
	"LobsterMarket/internal/reputation"
	"LobsterMarket/internal/review"
	"LobsterMarket/pkg/logger"
)

var (
	_ market.Store       = (*Store)(nil)
	_ auth.IdentityStore = (*Store)(nil)
	_ review.Store       = (*Store)(nil)
	_ fraud.Store        = (*Store)(nil)
	_ reputation.Store   = (*Store)(nil)
)

const (
	mysqlDuplicateEntry    = 1062
	postgresUniqueViolated = "23505"
)

// Store 是关系型数据库存储。
type Store struct {
	db      *sqlx.DB
	dialect Dialect
	logger  *slog.Logger
}

// Option 配置 Store。
type Option func(*Store)

// WithLogger 指定日志记录器。
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// New 包装已有连接，方言取自驱动名。
func New(db *sqlx.DB, opts ...Option) *Store {
	s := &Store{
		db:      db,
		dialect: Dialect(db.DriverName()),
		logger:  logger.Named("sqlstore"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DB 返回底层连接。
func (s *Store) DB() *sqlx.DB {
	return s.db
}

// Dialect 返回当前方言。
func (s *Store) Dialect() Dialect {
	return s.dialect
}

// Close 关闭连接池。
func (s *Store) Close() error {
	return s.db.Close()
}

// WithinTx 在读写事务中执行 fn，fn 返回错误时回滚。
func (s *Store) WithinTx(ctx context.Context, fn func(tx market.Tx) error) error {
	return s.run(ctx, nil, true, fn)
}

// View 在只读事务中执行 fn，读取不加锁。
func (s *Store) View(ctx context.Context, fn func(tx market.Tx) error) error {
	return s.run(ctx, &sql.TxOptions{ReadOnly: true}, false, fn)
}

func (s *Store) run(ctx context.Context, opts *sql.TxOptions, lock bool, fn func(tx market.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, opts)
	if err != nil {
		return storageError(err, "开启事务失败")
	}
	if err := fn(&sqlTx{tx: tx, lock: lock}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !stdErrors.Is(rbErr, sql.ErrTxDone) {
			s.logger.Warn("事务回滚失败", slog.Any("error", rbErr))
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return storageError(err, "提交事务失败")
	}
	return nil
}

func (s *Store) get(ctx context.Context, dest any, notFound error, query string, args ...any) error {
	err := s.db.GetContext(ctx, dest, s.db.Rebind(query), args...)
	if stdErrors.Is(err, sql.ErrNoRows) {
		return notFound
	}
	if err != nil {
		return storageError(err, "查询失败")
	}
	return nil
}

func (s *Store) exec(ctx context.Context, notFound error, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(query), args...)
	if err != nil {
		return storageError(err, "写入失败")
	}
	return checkAffected(res, notFound)
}

// isDuplicate 判断错误是否为唯一约束冲突。
func isDuplicate(err error) bool {
	var myErr *mysql.MySQLError
	if stdErrors.As(err, &myErr) {
		return myErr.Number == mysqlDuplicateEntry
	}
	var pqErr *pq.Error
	if stdErrors.As(err, &pqErr) {
		return pqErr.Code == postgresUniqueViolated
	}
	return false
}

func storageError(err error, msg string) error {
	return xerrors.Wrap(xerrors.CodeStorageFailure, err, msg)
}

// checkAffected 在未命中任何行时返回 notFound。notFound 为 nil 时不检查。
func checkAffected(res sql.Result, notFound error) error {
	if notFound == nil {
		return nil
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storageError(err, "读取影响行数失败")
	}
	if n == 0 {
		return notFound
	}
	return nil
}
