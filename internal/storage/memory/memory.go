// Package memory 提供所有存储接口的进程内实现，用于测试与单机开发。
package memory

import (
	"context"
	"sync"

	"LobsterMarket/internal/auth"
	"LobsterMarket/internal/fraud"
	"LobsterMarket/internal/market"
	"LobsterMarket/internal/reputation"
	"LobsterMarket/internal/review"
)

var (
	_ market.Store       = (*DB)(nil)
	_ auth.IdentityStore = (*DB)(nil)
	_ review.Store       = (*DB)(nil)
	_ fraud.Store        = (*DB)(nil)
	_ reputation.Store   = (*DB)(nil)
)

// DB 是单把读写锁保护的内存数据库。写事务持有写锁直至提交，
// 读取返回副本，调用方修改返回值不会影响存储。
type DB struct {
	mu sync.RWMutex

	users   map[string]*auth.User
	wallets map[string]*auth.Wallet

	agents           map[string]*market.Agent
	jobs             map[string]*market.Job
	offers           map[string]*market.Offer
	offerOrder       []string
	contracts        map[string]*market.Contract
	contractByJob    map[string]string
	escrows          map[string]*market.EscrowAccount
	escrowByContract map[string]string
	ledger           map[string][]market.LedgerEntry
	submissions      map[string]*market.Submission
	submissionOrder  []string
	disputes         []market.Dispute

	reviews     map[string]*review.Review
	reviewOrder []string
	events      map[string]*review.ReputationEvent
	flags       []fraud.Flag
	snapshots   map[snapshotKey]reputation.Snapshot
}

type snapshotKey struct {
	agentID string
	date    string
}

// New 创建空数据库。
func New() *DB {
	return &DB{
		users:            make(map[string]*auth.User),
		wallets:          make(map[string]*auth.Wallet),
		agents:           make(map[string]*market.Agent),
		jobs:             make(map[string]*market.Job),
		offers:           make(map[string]*market.Offer),
		contracts:        make(map[string]*market.Contract),
		contractByJob:    make(map[string]string),
		escrows:          make(map[string]*market.EscrowAccount),
		escrowByContract: make(map[string]string),
		ledger:           make(map[string][]market.LedgerEntry),
		submissions:      make(map[string]*market.Submission),
		reviews:          make(map[string]*review.Review),
		events:           make(map[string]*review.ReputationEvent),
		snapshots:        make(map[snapshotKey]reputation.Snapshot),
	}
}

// WithinTx 串行执行写事务，fn 返回错误时按逆序撤销已做的修改。
func (db *DB) WithinTx(ctx context.Context, fn func(tx market.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	tx := &memTx{db: db}
	if err := fn(tx); err != nil {
		tx.rollback()
		return err
	}
	return nil
}

// View 在读锁下执行只读事务，写操作返回错误。
func (db *DB) View(ctx context.Context, fn func(tx market.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	db.mu.RLock()
	defer db.mu.RUnlock()
	return fn(&memTx{db: db, readOnly: true})
}
