package market

import (
	"fmt"

	xerrors "LobsterMarket/internal/errors"
)

// JobState 描述任务的生命周期。
type JobState string

const (
	JobDraft      JobState = "draft"
	JobOpen       JobState = "open"
	JobMatched    JobState = "matched"
	JobInProgress JobState = "in_progress"
	JobCompleted  JobState = "completed"
	JobCancelled  JobState = "cancelled"
)

// JobEvent 是驱动任务状态变化的事件。
type JobEvent string

const (
	JobPublish      JobEvent = "publish"
	JobMatch        JobEvent = "match"
	JobStart        JobEvent = "start"
	JobComplete     JobEvent = "complete"
	JobSelectWinner JobEvent = "select_winner"
	JobCancel       JobEvent = "cancel"
)

// Apply 返回事件作用后的新状态，非法组合返回 InvalidTransition。
func (s JobState) Apply(ev JobEvent) (JobState, error) {
	switch ev {
	case JobPublish:
		if s == JobDraft {
			return JobOpen, nil
		}
	case JobMatch:
		if s == JobOpen {
			return JobMatched, nil
		}
	case JobStart:
		if s == JobMatched {
			return JobInProgress, nil
		}
	case JobComplete:
		if s == JobInProgress {
			return JobCompleted, nil
		}
	case JobSelectWinner:
		if s == JobOpen {
			return JobCompleted, nil
		}
	case JobCancel:
		if s == JobDraft || s == JobOpen {
			return JobCancelled, nil
		}
	}
	return s, invalidTransition("job", string(s), string(ev))
}

// Valid 判断状态值是否属于已知枚举。
func (s JobState) Valid() bool {
	switch s {
	case JobDraft, JobOpen, JobMatched, JobInProgress, JobCompleted, JobCancelled:
		return true
	}
	return false
}

// OfferState 描述报价状态。
type OfferState string

const (
	OfferPending   OfferState = "pending"
	OfferAccepted  OfferState = "accepted"
	OfferRejected  OfferState = "rejected"
	OfferWithdrawn OfferState = "withdrawn"
)

// OfferEvent 是驱动报价状态变化的事件。
type OfferEvent string

const (
	OfferAccept   OfferEvent = "accept"
	OfferReject   OfferEvent = "reject"
	OfferWithdraw OfferEvent = "withdraw"
)

// Apply 只允许 pending 报价转入终态。
func (s OfferState) Apply(ev OfferEvent) (OfferState, error) {
	if s == OfferPending {
		switch ev {
		case OfferAccept:
			return OfferAccepted, nil
		case OfferReject:
			return OfferRejected, nil
		case OfferWithdraw:
			return OfferWithdrawn, nil
		}
	}
	return s, invalidTransition("offer", string(s), string(ev))
}

// ContractStatus 描述合同状态。
type ContractStatus string

const (
	ContractActive    ContractStatus = "active"
	ContractCompleted ContractStatus = "completed"
)

// Complete 将进行中的合同标记为完成。
func (s ContractStatus) Complete() (ContractStatus, error) {
	if s == ContractActive {
		return ContractCompleted, nil
	}
	return s, invalidTransition("contract", string(s), "complete")
}

// EscrowState 描述托管账户状态，只能沿 none→funded→locked→released 前进，
// 或者从 funded/locked 进入 refunded。
type EscrowState string

const (
	EscrowNone     EscrowState = "none"
	EscrowFunded   EscrowState = "funded"
	EscrowLocked   EscrowState = "locked"
	EscrowReleased EscrowState = "released"
	EscrowRefunded EscrowState = "refunded"
)

// EntryType 是账本条目类型，同时也是托管状态机的事件。
type EntryType string

const (
	EntryFund    EntryType = "fund"
	EntryLock    EntryType = "lock"
	EntryRelease EntryType = "release"
	EntryRefund  EntryType = "refund"
)

// Apply 返回记账事件作用后的托管状态。
func (s EscrowState) Apply(entry EntryType) (EscrowState, error) {
	switch entry {
	case EntryFund:
		if s == EscrowNone {
			return EscrowFunded, nil
		}
	case EntryLock:
		if s == EscrowFunded {
			return EscrowLocked, nil
		}
	case EntryRelease:
		if s == EscrowLocked {
			return EscrowReleased, nil
		}
	case EntryRefund:
		if s == EscrowFunded || s == EscrowLocked {
			return EscrowRefunded, nil
		}
	}
	return s, xerrors.New(CodeInvalidTransition,
		fmt.Sprintf("escrow is in state '%s', cannot %s", s, entry),
		xerrors.WithMetadata("entity", "escrow"),
		xerrors.WithMetadata("from", string(s)),
		xerrors.WithMetadata("event", string(entry)),
	)
}

// Terminal 判断托管是否已结束。
func (s EscrowState) Terminal() bool {
	return s == EscrowReleased || s == EscrowRefunded
}

// SubmissionStatus 描述交付物状态。
type SubmissionStatus string

const (
	SubmissionPending   SubmissionStatus = "pending"
	SubmissionSubmitted SubmissionStatus = "submitted"
	SubmissionAccepted  SubmissionStatus = "accepted"
	SubmissionRejected  SubmissionStatus = "rejected"
)

// AgentStatus 描述 Agent 是否可接单。
type AgentStatus string

const (
	AgentActive   AgentStatus = "active"
	AgentInactive AgentStatus = "inactive"
)

// VerificationTier 是 Agent 的认证等级。
type VerificationTier string

const (
	TierUnverified VerificationTier = "unverified"
	TierVerified   VerificationTier = "verified"
	TierProved     VerificationTier = "proved"
)

// DisputeStatus 描述争议状态，本系统只负责登记。
type DisputeStatus string

const (
	DisputeOpen DisputeStatus = "open"
)

func invalidTransition(entity, from, event string) error {
	return xerrors.New(CodeInvalidTransition,
		fmt.Sprintf("%s in state '%s' cannot %s", entity, from, event),
		xerrors.WithMetadata("entity", entity),
		xerrors.WithMetadata("from", from),
		xerrors.WithMetadata("event", event),
	)
}
