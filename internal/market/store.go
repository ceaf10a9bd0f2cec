package market

import (
	"context"
	"time"
)

// Store 提供事务化访问。WithinTx 中的读取会对所读行加锁（SQL 实现使用
// SELECT ... FOR UPDATE，内存实现串行化所有写事务），fn 返回错误时整体回滚。
// 调用方按 escrow → contract → job → offer → agent 的顺序加锁。
type Store interface {
	WithinTx(ctx context.Context, fn func(tx Tx) error) error
	View(ctx context.Context, fn func(tx Tx) error) error
}

// Tx 是单个事务内可执行的操作集合。缺失的记录返回对应的 NotFound 错误。
type Tx interface {
	GetAgent(ctx context.Context, id string) (*Agent, error)
	InsertAgent(ctx context.Context, agent *Agent) error
	IncrementAgentCompleted(ctx context.Context, agentID string, at time.Time) error

	GetJob(ctx context.Context, id string) (*Job, error)
	InsertJob(ctx context.Context, job *Job) error
	UpdateJobState(ctx context.Context, id string, state JobState, at time.Time) error

	GetOffer(ctx context.Context, id string) (*Offer, error)
	InsertOffer(ctx context.Context, offer *Offer) error
	ListOffersByJob(ctx context.Context, jobID string) ([]Offer, error)
	UpdateOfferStatus(ctx context.Context, id string, status OfferState, at time.Time) error
	HasPendingOffer(ctx context.Context, jobID, agentID string) (bool, error)
	// LatestOffer 返回 Agent 在该任务上最近一次报价，不存在时返回 ErrOfferNotFound。
	LatestOffer(ctx context.Context, jobID, agentID string) (*Offer, error)

	GetContract(ctx context.Context, id string) (*Contract, error)
	// InsertContract 在同一任务已有合同时返回 ErrDuplicate。
	InsertContract(ctx context.Context, contract *Contract) error
	CompleteContract(ctx context.Context, id string, at time.Time) error

	GetEscrow(ctx context.Context, id string) (*EscrowAccount, error)
	GetEscrowByContract(ctx context.Context, contractID string) (*EscrowAccount, error)
	InsertEscrow(ctx context.Context, escrow *EscrowAccount) error
	// UpdateEscrow 只写入状态与时间戳，金额不可变。
	UpdateEscrow(ctx context.Context, escrow *EscrowAccount) error
	AppendLedger(ctx context.Context, entry *LedgerEntry) error
	ListLedger(ctx context.Context, escrowID string) ([]LedgerEntry, error)

	GetSubmission(ctx context.Context, id string) (*Submission, error)
	InsertSubmission(ctx context.Context, sub *Submission) error
	ListBattleSubmissions(ctx context.Context, jobID string) ([]Submission, error)
	UpdateSubmissionStatus(ctx context.Context, id string, status SubmissionStatus) error

	InsertDispute(ctx context.Context, dispute *Dispute) error
	HasOpenDispute(ctx context.Context, contractID string) (bool, error)
}
