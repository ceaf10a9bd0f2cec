package memory

import (
	"context"
	"sort"
	"time"

	xerrors "LobsterMarket/internal/errors"
	"LobsterMarket/internal/market"
)

var errReadOnly = xerrors.New(xerrors.CodeStorageFailure, "write in read-only transaction")

type memTx struct {
	db       *DB
	readOnly bool
	undo     []func()
}

func (tx *memTx) write(revert func()) error {
	if tx.readOnly {
		return errReadOnly
	}
	tx.undo = append(tx.undo, revert)
	return nil
}

func (tx *memTx) rollback() {
	for i := len(tx.undo) - 1; i >= 0; i-- {
		tx.undo[i]()
	}
	tx.undo = nil
}

func (tx *memTx) GetAgent(_ context.Context, id string) (*market.Agent, error) {
	a, ok := tx.db.agents[id]
	if !ok {
		return nil, market.ErrAgentNotFound
	}
	cp := *a
	return &cp, nil
}

func (tx *memTx) InsertAgent(_ context.Context, agent *market.Agent) error {
	if _, ok := tx.db.agents[agent.ID]; ok {
		return market.ErrDuplicate
	}
	if err := tx.write(func() { delete(tx.db.agents, agent.ID) }); err != nil {
		return err
	}
	cp := *agent
	tx.db.agents[agent.ID] = &cp
	return nil
}

func (tx *memTx) IncrementAgentCompleted(_ context.Context, agentID string, at time.Time) error {
	a, ok := tx.db.agents[agentID]
	if !ok {
		return market.ErrAgentNotFound
	}
	prev := *a
	if err := tx.write(func() { *a = prev }); err != nil {
		return err
	}
	a.TotalJobsCompleted++
	a.UpdatedAt = at
	return nil
}

func (tx *memTx) GetJob(_ context.Context, id string) (*market.Job, error) {
	j, ok := tx.db.jobs[id]
	if !ok {
		return nil, market.ErrJobNotFound
	}
	return copyJob(j), nil
}

func (tx *memTx) InsertJob(_ context.Context, job *market.Job) error {
	if _, ok := tx.db.jobs[job.ID]; ok {
		return market.ErrDuplicate
	}
	if err := tx.write(func() { delete(tx.db.jobs, job.ID) }); err != nil {
		return err
	}
	tx.db.jobs[job.ID] = copyJob(job)
	return nil
}

func (tx *memTx) UpdateJobState(_ context.Context, id string, state market.JobState, at time.Time) error {
	j, ok := tx.db.jobs[id]
	if !ok {
		return market.ErrJobNotFound
	}
	prevState, prevAt := j.State, j.UpdatedAt
	if err := tx.write(func() { j.State, j.UpdatedAt = prevState, prevAt }); err != nil {
		return err
	}
	j.State, j.UpdatedAt = state, at
	return nil
}

func (tx *memTx) GetOffer(_ context.Context, id string) (*market.Offer, error) {
	o, ok := tx.db.offers[id]
	if !ok {
		return nil, market.ErrOfferNotFound
	}
	cp := *o
	return &cp, nil
}

func (tx *memTx) InsertOffer(_ context.Context, offer *market.Offer) error {
	if _, ok := tx.db.offers[offer.ID]; ok {
		return market.ErrDuplicate
	}
	order := tx.db.offerOrder
	if err := tx.write(func() {
		delete(tx.db.offers, offer.ID)
		tx.db.offerOrder = order
	}); err != nil {
		return err
	}
	cp := *offer
	tx.db.offers[offer.ID] = &cp
	tx.db.offerOrder = append(tx.db.offerOrder, offer.ID)
	return nil
}

func (tx *memTx) ListOffersByJob(_ context.Context, jobID string) ([]market.Offer, error) {
	var out []market.Offer
	for _, id := range tx.db.offerOrder {
		if o := tx.db.offers[id]; o.JobID == jobID {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (tx *memTx) UpdateOfferStatus(_ context.Context, id string, status market.OfferState, at time.Time) error {
	o, ok := tx.db.offers[id]
	if !ok {
		return market.ErrOfferNotFound
	}
	prevStatus, prevAt := o.Status, o.UpdatedAt
	if err := tx.write(func() { o.Status, o.UpdatedAt = prevStatus, prevAt }); err != nil {
		return err
	}
	o.Status, o.UpdatedAt = status, at
	return nil
}

func (tx *memTx) HasPendingOffer(_ context.Context, jobID, agentID string) (bool, error) {
	for _, o := range tx.db.offers {
		if o.JobID == jobID && o.AgentID == agentID && o.Status == market.OfferPending {
			return true, nil
		}
	}
	return false, nil
}

func (tx *memTx) LatestOffer(_ context.Context, jobID, agentID string) (*market.Offer, error) {
	for i := len(tx.db.offerOrder) - 1; i >= 0; i-- {
		o := tx.db.offers[tx.db.offerOrder[i]]
		if o.JobID == jobID && o.AgentID == agentID {
			cp := *o
			return &cp, nil
		}
	}
	return nil, market.ErrOfferNotFound
}

func (tx *memTx) GetContract(_ context.Context, id string) (*market.Contract, error) {
	c, ok := tx.db.contracts[id]
	if !ok {
		return nil, market.ErrContractNotFound
	}
	cp := *c
	return &cp, nil
}

func (tx *memTx) InsertContract(_ context.Context, contract *market.Contract) error {
	if _, ok := tx.db.contractByJob[contract.JobID]; ok {
		return market.ErrDuplicate
	}
	if _, ok := tx.db.contracts[contract.ID]; ok {
		return market.ErrDuplicate
	}
	if err := tx.write(func() {
		delete(tx.db.contracts, contract.ID)
		delete(tx.db.contractByJob, contract.JobID)
	}); err != nil {
		return err
	}
	cp := *contract
	tx.db.contracts[contract.ID] = &cp
	tx.db.contractByJob[contract.JobID] = contract.ID
	return nil
}

func (tx *memTx) CompleteContract(_ context.Context, id string, at time.Time) error {
	c, ok := tx.db.contracts[id]
	if !ok {
		return market.ErrContractNotFound
	}
	prev := *c
	if err := tx.write(func() { *c = prev }); err != nil {
		return err
	}
	c.Status = market.ContractCompleted
	c.CompletedAt = &at
	return nil
}

func (tx *memTx) GetEscrow(_ context.Context, id string) (*market.EscrowAccount, error) {
	e, ok := tx.db.escrows[id]
	if !ok {
		return nil, market.ErrEscrowNotFound
	}
	cp := *e
	return &cp, nil
}

func (tx *memTx) GetEscrowByContract(ctx context.Context, contractID string) (*market.EscrowAccount, error) {
	id, ok := tx.db.escrowByContract[contractID]
	if !ok {
		return nil, market.ErrEscrowNotFound
	}
	return tx.GetEscrow(ctx, id)
}

func (tx *memTx) InsertEscrow(_ context.Context, escrow *market.EscrowAccount) error {
	if _, ok := tx.db.escrowByContract[escrow.ContractID]; ok {
		return market.ErrDuplicate
	}
	if err := tx.write(func() {
		delete(tx.db.escrows, escrow.ID)
		delete(tx.db.escrowByContract, escrow.ContractID)
	}); err != nil {
		return err
	}
	cp := *escrow
	tx.db.escrows[escrow.ID] = &cp
	tx.db.escrowByContract[escrow.ContractID] = escrow.ID
	return nil
}

func (tx *memTx) UpdateEscrow(_ context.Context, escrow *market.EscrowAccount) error {
	e, ok := tx.db.escrows[escrow.ID]
	if !ok {
		return market.ErrEscrowNotFound
	}
	prev := *e
	if err := tx.write(func() { *e = prev }); err != nil {
		return err
	}
	e.State = escrow.State
	e.FundedAt = escrow.FundedAt
	e.LockedAt = escrow.LockedAt
	e.ReleasedAt = escrow.ReleasedAt
	e.RefundedAt = escrow.RefundedAt
	return nil
}

func (tx *memTx) AppendLedger(_ context.Context, entry *market.LedgerEntry) error {
	prev := tx.db.ledger[entry.EscrowID]
	if err := tx.write(func() { tx.db.ledger[entry.EscrowID] = prev }); err != nil {
		return err
	}
	next := make([]market.LedgerEntry, len(prev), len(prev)+1)
	copy(next, prev)
	tx.db.ledger[entry.EscrowID] = append(next, *entry)
	return nil
}

func (tx *memTx) ListLedger(_ context.Context, escrowID string) ([]market.LedgerEntry, error) {
	entries := tx.db.ledger[escrowID]
	out := make([]market.LedgerEntry, len(entries))
	copy(out, entries)
	return out, nil
}

func (tx *memTx) GetSubmission(_ context.Context, id string) (*market.Submission, error) {
	s, ok := tx.db.submissions[id]
	if !ok {
		return nil, market.ErrSubmissionNotFound
	}
	cp := *s
	return &cp, nil
}

func (tx *memTx) InsertSubmission(_ context.Context, sub *market.Submission) error {
	if _, ok := tx.db.submissions[sub.ID]; ok {
		return market.ErrDuplicate
	}
	order := tx.db.submissionOrder
	if err := tx.write(func() {
		delete(tx.db.submissions, sub.ID)
		tx.db.submissionOrder = order
	}); err != nil {
		return err
	}
	cp := *sub
	tx.db.submissions[sub.ID] = &cp
	tx.db.submissionOrder = append(tx.db.submissionOrder, sub.ID)
	return nil
}

func (tx *memTx) ListBattleSubmissions(_ context.Context, jobID string) ([]market.Submission, error) {
	var out []market.Submission
	for _, id := range tx.db.submissionOrder {
		if s := tx.db.submissions[id]; s.JobID == jobID && s.IsBattle {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (tx *memTx) UpdateSubmissionStatus(_ context.Context, id string, status market.SubmissionStatus) error {
	s, ok := tx.db.submissions[id]
	if !ok {
		return market.ErrSubmissionNotFound
	}
	prev := s.Status
	if err := tx.write(func() { s.Status = prev }); err != nil {
		return err
	}
	s.Status = status
	return nil
}

func (tx *memTx) InsertDispute(_ context.Context, dispute *market.Dispute) error {
	prev := tx.db.disputes
	if err := tx.write(func() { tx.db.disputes = prev }); err != nil {
		return err
	}
	tx.db.disputes = append(tx.db.disputes[:len(prev):len(prev)], *dispute)
	return nil
}

func (tx *memTx) HasOpenDispute(_ context.Context, contractID string) (bool, error) {
	for _, d := range tx.db.disputes {
		if d.ContractID == contractID && d.Status == market.DisputeOpen {
			return true, nil
		}
	}
	return false, nil
}

func copyJob(j *market.Job) *market.Job {
	cp := *j
	if j.Tags != nil {
		cp.Tags = append([]string(nil), j.Tags...)
	}
	return &cp
}

// agentsByScore 返回按分数降序排列的活跃 Agent，调用方需持有读锁。
func (db *DB) agentsByScore() []market.Agent {
	out := make([]market.Agent, 0, len(db.agents))
	for _, a := range db.agents {
		if a.Status == market.AgentActive {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].LobsterScore != out[j].LobsterScore {
			return out[i].LobsterScore > out[j].LobsterScore
		}
		return out[i].ID < out[j].ID
	})
	return out
}
