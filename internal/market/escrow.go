package market

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	xerrors "LobsterMarket/internal/errors"
	"LobsterMarket/internal/observability/metrics"
	"LobsterMarket/pkg/logger"
)

// FundEscrow 由合同客户注资：托管 none→funded，记 fund 账，任务进入 in_progress。
func (s *Service) FundEscrow(ctx context.Context, callerID, escrowID string) (*EscrowAccount, error) {
	return s.runEscrow(ctx, callerID, escrowID, EntryFund, func(ctx context.Context, tx Tx, c *Contract, now time.Time) error {
		job, err := tx.GetJob(ctx, c.JobID)
		if err != nil {
			return err
		}
		// 擂台任务在选出胜者时已完成，注资不再推进任务状态。
		if job.State == JobCompleted {
			return nil
		}
		next, err := job.State.Apply(JobStart)
		if err != nil {
			return err
		}
		return tx.UpdateJobState(ctx, job.ID, next, now)
	})
}

// LockEscrow 将已注资的托管锁定，表示工作已在进行中。由交付流程内部触发。
func (s *Service) LockEscrow(ctx context.Context, escrowID string) (*EscrowAccount, error) {
	return s.runEscrow(ctx, "", escrowID, EntryLock, nil)
}

// ReleaseEscrow 由合同客户放款：托管 locked→released，合同与任务完成，Agent 完成数加一。
func (s *Service) ReleaseEscrow(ctx context.Context, callerID, escrowID string) (*EscrowAccount, error) {
	return s.runEscrow(ctx, callerID, escrowID, EntryRelease, func(ctx context.Context, tx Tx, c *Contract, now time.Time) error {
		if _, err := c.Status.Complete(); err != nil {
			return err
		}
		if err := tx.CompleteContract(ctx, c.ID, now); err != nil {
			return err
		}
		job, err := tx.GetJob(ctx, c.JobID)
		if err != nil {
			return err
		}
		if job.State != JobCompleted {
			next, err := job.State.Apply(JobComplete)
			if err != nil {
				return err
			}
			if err := tx.UpdateJobState(ctx, job.ID, next, now); err != nil {
				return err
			}
		}
		return tx.IncrementAgentCompleted(ctx, c.AgentID, now)
	})
}

// RefundEscrow 将 funded 或 locked 的托管退回，供争议处理方调用。
func (s *Service) RefundEscrow(ctx context.Context, escrowID string) (*EscrowAccount, error) {
	return s.runEscrow(ctx, "", escrowID, EntryRefund, nil)
}

type escrowEffect func(ctx context.Context, tx Tx, contract *Contract, now time.Time) error

// runEscrow 在一个事务内锁定托管与合同，校验并执行状态迁移，然后写回托管并追加账本。
func (s *Service) runEscrow(ctx context.Context, callerID, escrowID string, entry EntryType, effect escrowEffect) (*EscrowAccount, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	var out *EscrowAccount
	err := s.store.WithinTx(ctx, func(tx Tx) error {
		escrow, err := tx.GetEscrow(ctx, escrowID)
		if err != nil {
			return err
		}
		contract, err := tx.GetContract(ctx, escrow.ContractID)
		if err != nil {
			return err
		}
		out, err = s.applyEntry(ctx, tx, escrow, contract, callerID, entry, effect)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.recordTransition(callerID, out, entry)
	return out, nil
}

func (s *Service) applyEntry(ctx context.Context, tx Tx, escrow *EscrowAccount, contract *Contract, callerID string, entry EntryType, effect escrowEffect) (*EscrowAccount, error) {
	now := s.timestamp()
	if err := s.authorize(contract, callerID, entry); err != nil {
		return nil, err
	}
	next, err := escrow.State.Apply(entry)
	if err != nil {
		return nil, err
	}
	if effect != nil {
		if err := effect(ctx, tx, contract, now); err != nil {
			return nil, err
		}
	}
	escrow.State = next
	switch entry {
	case EntryFund:
		escrow.FundedAt = &now
	case EntryLock:
		escrow.LockedAt = &now
	case EntryRelease:
		escrow.ReleasedAt = &now
	case EntryRefund:
		escrow.RefundedAt = &now
	}
	if err := tx.UpdateEscrow(ctx, escrow); err != nil {
		return nil, err
	}
	existing, err := tx.ListLedger(ctx, escrow.ID)
	if err != nil {
		return nil, err
	}
	ledger := &LedgerEntry{
		ID:        uuid.NewString(),
		EscrowID:  escrow.ID,
		Seq:       len(existing) + 1,
		EntryType: entry,
		Amount:    escrow.Amount,
		ActorID:   callerID,
		CreatedAt: now,
	}
	if err := tx.AppendLedger(ctx, ledger); err != nil {
		return nil, err
	}
	return escrow, nil
}

// authorize 对需要客户身份的迁移先行检查调用方，保证越权请求得到 Forbidden 而非状态错误。
func (s *Service) authorize(contract *Contract, callerID string, entry EntryType) error {
	switch entry {
	case EntryFund:
		if contract.ClientID != callerID {
			return forbidden("only the client can fund escrow")
		}
	case EntryRelease:
		if contract.ClientID != callerID {
			return forbidden("only the client can release escrow")
		}
	}
	return nil
}

func (s *Service) recordTransition(actorID string, escrow *EscrowAccount, entry EntryType) {
	metrics.ObserveEscrowTransition(string(entry))
	logger.Audit().Info("escrow_transition",
		slog.String("escrow_id", escrow.ID),
		slog.String("contract_id", escrow.ContractID),
		slog.String("entry_type", string(entry)),
		slog.String("state", string(escrow.State)),
		slog.Int64("amount", escrow.Amount),
		slog.String("actor_id", actorID),
	)
	s.logger.Debug("托管状态迁移", slog.String("escrow_id", escrow.ID), slog.String("entry_type", string(entry)))
}

// SubmitWork 由 Agent 所有者提交合同交付物。托管处于 funded 时同时触发内部的 lock 迁移。
func (s *Service) SubmitWork(ctx context.Context, callerID, contractID string, input WorkInput) (*Submission, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(input.Content) == "" {
		return nil, badRequest("submission content is required")
	}
	var (
		sub    *Submission
		locked *EscrowAccount
	)
	err := s.store.WithinTx(ctx, func(tx Tx) error {
		escrow, err := tx.GetEscrowByContract(ctx, contractID)
		if err != nil {
			return err
		}
		contract, err := tx.GetContract(ctx, contractID)
		if err != nil {
			return err
		}
		agent, err := tx.GetAgent(ctx, contract.AgentID)
		if err != nil {
			return err
		}
		if agent.OwnerID != callerID {
			return forbidden("agent does not belong to you")
		}
		if contract.Status != ContractActive {
			return badRequest("contract is no longer active")
		}
		if escrow.State != EscrowFunded && escrow.State != EscrowLocked {
			return badRequest("escrow must be funded before work is submitted")
		}
		sub = &Submission{
			ID:           uuid.NewString(),
			JobID:        contract.JobID,
			AgentID:      contract.AgentID,
			ContractID:   contract.ID,
			Content:      input.Content,
			ArtifactsURL: input.ArtifactsURL,
			Status:       SubmissionSubmitted,
			CreatedAt:    s.timestamp(),
		}
		if err := tx.InsertSubmission(ctx, sub); err != nil {
			return err
		}
		if escrow.State == EscrowFunded {
			locked, err = s.applyEntry(ctx, tx, escrow, contract, callerID, EntryLock, nil)
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if locked != nil {
		s.recordTransition(callerID, locked, EntryLock)
	}
	return sub, nil
}

// OpenDispute 由合同任一方登记争议，每份合同同时只能有一条未结争议。
func (s *Service) OpenDispute(ctx context.Context, callerID, contractID, reason string) (*Dispute, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, badRequest("dispute reason is required")
	}
	var out *Dispute
	err := s.store.WithinTx(ctx, func(tx Tx) error {
		contract, err := tx.GetContract(ctx, contractID)
		if err != nil {
			return err
		}
		if contract.ClientID != callerID {
			agent, err := tx.GetAgent(ctx, contract.AgentID)
			if err != nil {
				return err
			}
			if agent.OwnerID != callerID {
				return forbidden("not a party to this contract")
			}
		}
		open, err := tx.HasOpenDispute(ctx, contract.ID)
		if err != nil {
			return err
		}
		if open {
			return xerrors.New(CodeDuplicate, "contract already has an open dispute")
		}
		out = &Dispute{
			ID:          uuid.NewString(),
			ContractID:  contract.ID,
			InitiatorID: callerID,
			Reason:      reason,
			Status:      DisputeOpen,
			CreatedAt:   s.timestamp(),
		}
		return tx.InsertDispute(ctx, out)
	})
	if err != nil {
		return nil, err
	}
	logger.Audit().Info("dispute_opened",
		slog.String("user_id", callerID),
		slog.String("contract_id", contractID),
		slog.String("dispute_id", out.ID),
	)
	return out, nil
}

// ContractDetail 返回合同、托管、Agent 与任务的只读视图。
func (s *Service) ContractDetail(ctx context.Context, contractID string) (*ContractDetail, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	detail := &ContractDetail{}
	err := s.store.View(ctx, func(tx Tx) error {
		var err error
		if detail.Contract, err = tx.GetContract(ctx, contractID); err != nil {
			return err
		}
		if detail.Escrow, err = tx.GetEscrowByContract(ctx, contractID); err != nil {
			return err
		}
		if detail.Agent, err = tx.GetAgent(ctx, detail.Contract.AgentID); err != nil {
			return err
		}
		detail.Job, err = tx.GetJob(ctx, detail.Contract.JobID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return detail, nil
}

// Ledger 返回托管账本，仅合同双方可见。
func (s *Service) Ledger(ctx context.Context, callerID, escrowID string) ([]LedgerEntry, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	var entries []LedgerEntry
	err := s.store.View(ctx, func(tx Tx) error {
		escrow, err := tx.GetEscrow(ctx, escrowID)
		if err != nil {
			return err
		}
		contract, err := tx.GetContract(ctx, escrow.ContractID)
		if err != nil {
			return err
		}
		if contract.ClientID != callerID {
			agent, err := tx.GetAgent(ctx, contract.AgentID)
			if err != nil {
				return err
			}
			if agent.OwnerID != callerID {
				return forbidden("not a party to this contract")
			}
		}
		entries, err = tx.ListLedger(ctx, escrowID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// VerifyLedger 重放账本并与托管当前状态比对。
func (s *Service) VerifyLedger(ctx context.Context, escrowID string) error {
	if err := s.ready(); err != nil {
		return err
	}
	return s.store.View(ctx, func(tx Tx) error {
		escrow, err := tx.GetEscrow(ctx, escrowID)
		if err != nil {
			return err
		}
		entries, err := tx.ListLedger(ctx, escrowID)
		if err != nil {
			return err
		}
		return CheckLedger(escrow, entries)
	})
}
