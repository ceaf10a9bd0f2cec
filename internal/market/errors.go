package market

import (
	xerrors "LobsterMarket/internal/errors"
)

const (
	CodeInvalidTransition xerrors.Code = "MARKET_INVALID_TRANSITION"
	CodeJobNotFound       xerrors.Code = "MARKET_JOB_NOT_FOUND"
	CodeOfferNotFound     xerrors.Code = "MARKET_OFFER_NOT_FOUND"
	CodeContractNotFound  xerrors.Code = "MARKET_CONTRACT_NOT_FOUND"
	CodeEscrowNotFound    xerrors.Code = "MARKET_ESCROW_NOT_FOUND"
	CodeAgentNotFound     xerrors.Code = "MARKET_AGENT_NOT_FOUND"
	CodeSubmissionMissing xerrors.Code = "MARKET_SUBMISSION_NOT_FOUND"
	CodeDuplicate         xerrors.Code = "MARKET_DUPLICATE"
	CodeNotParty          xerrors.Code = "MARKET_NOT_PARTY"
	CodeLedgerCorrupt     xerrors.Code = "MARKET_LEDGER_CORRUPT"
)

func init() {
	notFound := xerrors.Attributes{Message: "resource not found", Kind: xerrors.KindNotFound, Severity: xerrors.SeverityInfo}
	for _, code := range []xerrors.Code{CodeJobNotFound, CodeOfferNotFound, CodeContractNotFound, CodeEscrowNotFound, CodeAgentNotFound, CodeSubmissionMissing} {
		xerrors.Register(code, notFound)
	}
	xerrors.Register(CodeInvalidTransition, xerrors.Attributes{
		Message:  "invalid state transition",
		Kind:     xerrors.KindBadRequest,
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeDuplicate, xerrors.Attributes{
		Message:  "duplicate record",
		Kind:     xerrors.KindConflict,
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeNotParty, xerrors.Attributes{
		Message:  "caller is not an authorized party",
		Kind:     xerrors.KindForbidden,
		Severity: xerrors.SeverityWarning,
	})
	xerrors.Register(CodeLedgerCorrupt, xerrors.Attributes{
		Message:  "escrow ledger is inconsistent",
		Kind:     xerrors.KindInternal,
		Severity: xerrors.SeverityCritical,
		Alert:    true,
	})
}

var (
	// ErrJobNotFound 表示任务不存在。
	ErrJobNotFound = xerrors.New(CodeJobNotFound, "job not found")
	// ErrOfferNotFound 表示报价不存在。
	ErrOfferNotFound = xerrors.New(CodeOfferNotFound, "offer not found")
	// ErrContractNotFound 表示合同不存在。
	ErrContractNotFound = xerrors.New(CodeContractNotFound, "contract not found")
	// ErrEscrowNotFound 表示托管账户不存在。
	ErrEscrowNotFound = xerrors.New(CodeEscrowNotFound, "escrow not found")
	// ErrAgentNotFound 表示 Agent 不存在。
	ErrAgentNotFound = xerrors.New(CodeAgentNotFound, "agent not found")
	// ErrSubmissionNotFound 表示交付物不存在。
	ErrSubmissionNotFound = xerrors.New(CodeSubmissionMissing, "submission not found")
	// ErrDuplicate 表示唯一约束冲突，例如同一任务重复创建合同。
	ErrDuplicate = xerrors.New(CodeDuplicate, "duplicate record")
)

func forbidden(msg string) error {
	return xerrors.New(CodeNotParty, msg)
}

func badRequest(msg string) error {
	return xerrors.New(xerrors.CodeInvalidArgument, msg)
}
