package market

import (
	"fmt"

	xerrors "LobsterMarket/internal/errors"
)

// ReplayLedger 仅凭账本条目重建托管状态。条目序列必须是
// fund→lock→release、fund→lock→refund 或 fund→refund 的前缀，且每条金额等于托管金额。
func ReplayLedger(entries []LedgerEntry, amount int64) (EscrowState, error) {
	state := EscrowNone
	for i, entry := range entries {
		if entry.Amount != amount {
			return state, xerrors.New(CodeLedgerCorrupt,
				fmt.Sprintf("ledger entry %d amount %d differs from escrow amount %d", i, entry.Amount, amount))
		}
		next, err := state.Apply(entry.EntryType)
		if err != nil {
			return state, xerrors.Wrap(CodeLedgerCorrupt, err,
				fmt.Sprintf("ledger entry %d (%s) is not a legal step", i, entry.EntryType))
		}
		state = next
	}
	return state, nil
}

// CheckLedger 校验账本可重建出托管账户当前状态。
func CheckLedger(escrow *EscrowAccount, entries []LedgerEntry) error {
	if escrow == nil {
		return ErrEscrowNotFound
	}
	for _, entry := range entries {
		if entry.EscrowID != escrow.ID {
			return xerrors.New(CodeLedgerCorrupt, "ledger entry belongs to another escrow")
		}
	}
	replayed, err := ReplayLedger(entries, escrow.Amount)
	if err != nil {
		return err
	}
	if replayed != escrow.State {
		return xerrors.New(CodeLedgerCorrupt,
			fmt.Sprintf("ledger replays to '%s' but escrow is '%s'", replayed, escrow.State))
	}
	return nil
}
