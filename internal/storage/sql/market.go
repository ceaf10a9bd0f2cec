package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	stdErrors "errors"
	"time"

	"github.com/jmoiron/sqlx"

	"LobsterMarket/internal/market"
)

const (
	agentColumns    = `id, owner_id, name, tagline, verification_tier, lobster_score, total_jobs_completed, on_time_pct, status, created_at, updated_at`
	jobColumns      = `id, client_id, title, description, budget, state, currency, currency_chain, battle_mode, battle_max_submissions, battle_partial_reward_pct, deadline, tags, created_at, updated_at`
	offerColumns    = `id, job_id, agent_id, proposed_price, estimated_duration_hours, pitch, status, created_at, updated_at`
	contractColumns = `id, job_id, offer_id, agent_id, client_id, agreed_price, status, created_at, completed_at`
	escrowColumns   = `id, contract_id, amount, state, created_at, funded_at, locked_at, released_at, refunded_at`
	ledgerColumns   = `id, escrow_id, seq, entry_type, amount, actor_id, created_at`
	submissionCols  = `id, job_id, agent_id, contract_id, content, artifacts_url, status, is_battle_submission, created_at`
)

// jobRow 在 Job 之外携带以 JSON 文本存储的标签列。
type jobRow struct {
	market.Job
	TagsJSON string `db:"tags"`
}

func newJobRow(job *market.Job) (*jobRow, error) {
	tags := job.Tags
	if tags == nil {
		tags = []string{}
	}
	raw, err := json.Marshal(tags)
	if err != nil {
		return nil, err
	}
	return &jobRow{Job: *job, TagsJSON: string(raw)}, nil
}

func (r *jobRow) job() (*market.Job, error) {
	job := r.Job
	job.Tags = nil
	if r.TagsJSON != "" {
		if err := json.Unmarshal([]byte(r.TagsJSON), &job.Tags); err != nil {
			return nil, err
		}
	}
	if len(job.Tags) == 0 {
		job.Tags = nil
	}
	return &job, nil
}

// sqlTx 实现 market.Tx。lock 为真时单行读取追加 FOR UPDATE。
type sqlTx struct {
	tx   *sqlx.Tx
	lock bool
}

func (t *sqlTx) forUpdate(query string) string {
	if t.lock {
		return query + " FOR UPDATE"
	}
	return query
}

func (t *sqlTx) get(ctx context.Context, dest any, notFound error, query string, args ...any) error {
	err := t.tx.GetContext(ctx, dest, t.tx.Rebind(t.forUpdate(query)), args...)
	if stdErrors.Is(err, sql.ErrNoRows) {
		return notFound
	}
	if err != nil {
		return storageError(err, "查询失败")
	}
	return nil
}

func (t *sqlTx) selectRows(ctx context.Context, dest any, query string, args ...any) error {
	if err := t.tx.SelectContext(ctx, dest, t.tx.Rebind(query), args...); err != nil {
		return storageError(err, "查询失败")
	}
	return nil
}

func (t *sqlTx) exists(ctx context.Context, query string, args ...any) (bool, error) {
	var n int
	if err := t.tx.GetContext(ctx, &n, t.tx.Rebind(query), args...); err != nil {
		return false, storageError(err, "查询失败")
	}
	return n > 0, nil
}

func (t *sqlTx) exec(ctx context.Context, notFound error, query string, args ...any) error {
	res, err := t.tx.ExecContext(ctx, t.tx.Rebind(query), args...)
	if err != nil {
		return storageError(err, "写入失败")
	}
	return checkAffected(res, notFound)
}

// insert 执行命名插入，唯一约束冲突映射为 duplicate。
func (t *sqlTx) insert(ctx context.Context, duplicate error, query string, arg any) error {
	if _, err := t.tx.NamedExecContext(ctx, query, arg); err != nil {
		if isDuplicate(err) {
			return duplicate
		}
		return storageError(err, "写入失败")
	}
	return nil
}

func (t *sqlTx) GetAgent(ctx context.Context, id string) (*market.Agent, error) {
	var a market.Agent
	if err := t.get(ctx, &a, market.ErrAgentNotFound, `SELECT `+agentColumns+` FROM agents WHERE id = ?`, id); err != nil {
		return nil, err
	}
	return &a, nil
}

func (t *sqlTx) InsertAgent(ctx context.Context, agent *market.Agent) error {
	return t.insert(ctx, market.ErrDuplicate, `INSERT INTO agents (`+agentColumns+`) VALUES (:id, :owner_id, :name, :tagline, :verification_tier, :lobster_score, :total_jobs_completed, :on_time_pct, :status, :created_at, :updated_at)`, agent)
}

func (t *sqlTx) IncrementAgentCompleted(ctx context.Context, agentID string, at time.Time) error {
	return t.exec(ctx, market.ErrAgentNotFound, `UPDATE agents SET total_jobs_completed = total_jobs_completed + 1, updated_at = ? WHERE id = ?`, at, agentID)
}

func (t *sqlTx) GetJob(ctx context.Context, id string) (*market.Job, error) {
	var row jobRow
	if err := t.get(ctx, &row, market.ErrJobNotFound, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id); err != nil {
		return nil, err
	}
	job, err := row.job()
	if err != nil {
		return nil, storageError(err, "解析任务标签失败")
	}
	return job, nil
}

func (t *sqlTx) InsertJob(ctx context.Context, job *market.Job) error {
	row, err := newJobRow(job)
	if err != nil {
		return storageError(err, "编码任务标签失败")
	}
	return t.insert(ctx, market.ErrDuplicate, `INSERT INTO jobs (`+jobColumns+`) VALUES (:id, :client_id, :title, :description, :budget, :state, :currency, :currency_chain, :battle_mode, :battle_max_submissions, :battle_partial_reward_pct, :deadline, :tags, :created_at, :updated_at)`, row)
}

func (t *sqlTx) UpdateJobState(ctx context.Context, id string, state market.JobState, at time.Time) error {
	return t.exec(ctx, market.ErrJobNotFound, `UPDATE jobs SET state = ?, updated_at = ? WHERE id = ?`, state, at, id)
}

func (t *sqlTx) GetOffer(ctx context.Context, id string) (*market.Offer, error) {
	var o market.Offer
	if err := t.get(ctx, &o, market.ErrOfferNotFound, `SELECT `+offerColumns+` FROM offers WHERE id = ?`, id); err != nil {
		return nil, err
	}
	return &o, nil
}

func (t *sqlTx) InsertOffer(ctx context.Context, offer *market.Offer) error {
	return t.insert(ctx, market.ErrDuplicate, `INSERT INTO offers (`+offerColumns+`) VALUES (:id, :job_id, :agent_id, :proposed_price, :estimated_duration_hours, :pitch, :status, :created_at, :updated_at)`, offer)
}

func (t *sqlTx) ListOffersByJob(ctx context.Context, jobID string) ([]market.Offer, error) {
	var out []market.Offer
	query := `SELECT ` + offerColumns + ` FROM offers WHERE job_id = ? ORDER BY created_at, id`
	if err := t.selectRows(ctx, &out, t.forUpdate(query), jobID); err != nil {
		return nil, err
	}
	return out, nil
}

func (t *sqlTx) UpdateOfferStatus(ctx context.Context, id string, status market.OfferState, at time.Time) error {
	return t.exec(ctx, market.ErrOfferNotFound, `UPDATE offers SET status = ?, updated_at = ? WHERE id = ?`, status, at, id)
}

func (t *sqlTx) HasPendingOffer(ctx context.Context, jobID, agentID string) (bool, error) {
	return t.exists(ctx, `SELECT COUNT(*) FROM offers WHERE job_id = ? AND agent_id = ? AND status = ?`, jobID, agentID, market.OfferPending)
}

func (t *sqlTx) LatestOffer(ctx context.Context, jobID, agentID string) (*market.Offer, error) {
	var o market.Offer
	if err := t.get(ctx, &o, market.ErrOfferNotFound, `SELECT `+offerColumns+` FROM offers WHERE job_id = ? AND agent_id = ? ORDER BY created_at DESC, id DESC LIMIT 1`, jobID, agentID); err != nil {
		return nil, err
	}
	return &o, nil
}

func (t *sqlTx) GetContract(ctx context.Context, id string) (*market.Contract, error) {
	var c market.Contract
	if err := t.get(ctx, &c, market.ErrContractNotFound, `SELECT `+contractColumns+` FROM contracts WHERE id = ?`, id); err != nil {
		return nil, err
	}
	return &c, nil
}

func (t *sqlTx) InsertContract(ctx context.Context, contract *market.Contract) error {
	return t.insert(ctx, market.ErrDuplicate, `INSERT INTO contracts (`+contractColumns+`) VALUES (:id, :job_id, :offer_id, :agent_id, :client_id, :agreed_price, :status, :created_at, :completed_at)`, contract)
}

func (t *sqlTx) CompleteContract(ctx context.Context, id string, at time.Time) error {
	return t.exec(ctx, market.ErrContractNotFound, `UPDATE contracts SET status = ?, completed_at = ? WHERE id = ?`, market.ContractCompleted, at, id)
}

func (t *sqlTx) GetEscrow(ctx context.Context, id string) (*market.EscrowAccount, error) {
	var e market.EscrowAccount
	if err := t.get(ctx, &e, market.ErrEscrowNotFound, `SELECT `+escrowColumns+` FROM escrow_accounts WHERE id = ?`, id); err != nil {
		return nil, err
	}
	return &e, nil
}

func (t *sqlTx) GetEscrowByContract(ctx context.Context, contractID string) (*market.EscrowAccount, error) {
	var e market.EscrowAccount
	if err := t.get(ctx, &e, market.ErrEscrowNotFound, `SELECT `+escrowColumns+` FROM escrow_accounts WHERE contract_id = ?`, contractID); err != nil {
		return nil, err
	}
	return &e, nil
}

func (t *sqlTx) InsertEscrow(ctx context.Context, escrow *market.EscrowAccount) error {
	return t.insert(ctx, market.ErrDuplicate, `INSERT INTO escrow_accounts (`+escrowColumns+`) VALUES (:id, :contract_id, :amount, :state, :created_at, :funded_at, :locked_at, :released_at, :refunded_at)`, escrow)
}

func (t *sqlTx) UpdateEscrow(ctx context.Context, escrow *market.EscrowAccount) error {
	return t.exec(ctx, market.ErrEscrowNotFound,
		`UPDATE escrow_accounts SET state = ?, funded_at = ?, locked_at = ?, released_at = ?, refunded_at = ? WHERE id = ?`,
		escrow.State, escrow.FundedAt, escrow.LockedAt, escrow.ReleasedAt, escrow.RefundedAt, escrow.ID)
}

func (t *sqlTx) AppendLedger(ctx context.Context, entry *market.LedgerEntry) error {
	return t.insert(ctx, market.ErrDuplicate, `INSERT INTO escrow_ledger (`+ledgerColumns+`) VALUES (:id, :escrow_id, :seq, :entry_type, :amount, :actor_id, :created_at)`, entry)
}

func (t *sqlTx) ListLedger(ctx context.Context, escrowID string) ([]market.LedgerEntry, error) {
	var out []market.LedgerEntry
	if err := t.selectRows(ctx, &out, `SELECT `+ledgerColumns+` FROM escrow_ledger WHERE escrow_id = ? ORDER BY seq`, escrowID); err != nil {
		return nil, err
	}
	return out, nil
}

func (t *sqlTx) GetSubmission(ctx context.Context, id string) (*market.Submission, error) {
	var sub market.Submission
	if err := t.get(ctx, &sub, market.ErrSubmissionNotFound, `SELECT `+submissionCols+` FROM submissions WHERE id = ?`, id); err != nil {
		return nil, err
	}
	return &sub, nil
}

func (t *sqlTx) InsertSubmission(ctx context.Context, sub *market.Submission) error {
	return t.insert(ctx, market.ErrDuplicate, `INSERT INTO submissions (`+submissionCols+`) VALUES (:id, :job_id, :agent_id, :contract_id, :content, :artifacts_url, :status, :is_battle_submission, :created_at)`, sub)
}

func (t *sqlTx) ListBattleSubmissions(ctx context.Context, jobID string) ([]market.Submission, error) {
	var out []market.Submission
	query := `SELECT ` + submissionCols + ` FROM submissions WHERE job_id = ? AND is_battle_submission = ? ORDER BY created_at, id`
	if err := t.selectRows(ctx, &out, t.forUpdate(query), jobID, true); err != nil {
		return nil, err
	}
	return out, nil
}

func (t *sqlTx) UpdateSubmissionStatus(ctx context.Context, id string, status market.SubmissionStatus) error {
	return t.exec(ctx, market.ErrSubmissionNotFound, `UPDATE submissions SET status = ? WHERE id = ?`, status, id)
}

func (t *sqlTx) InsertDispute(ctx context.Context, dispute *market.Dispute) error {
	return t.insert(ctx, market.ErrDuplicate, `INSERT INTO disputes (id, contract_id, initiator_id, reason, status, created_at) VALUES (:id, :contract_id, :initiator_id, :reason, :status, :created_at)`, dispute)
}

func (t *sqlTx) HasOpenDispute(ctx context.Context, contractID string) (bool, error) {
	return t.exists(ctx, `SELECT COUNT(*) FROM disputes WHERE contract_id = ? AND status = ?`, contractID, market.DisputeOpen)
}
