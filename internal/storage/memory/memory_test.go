package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"LobsterMarket/internal/auth"
	"LobsterMarket/internal/market"
	"LobsterMarket/internal/reputation"
	"LobsterMarket/internal/review"
)

func TestWithinTxRollsBackOnError(t *testing.T) {
	db := New()
	ctx := context.Background()
	now := time.Now()
	boom := errors.New("boom")

	err := db.WithinTx(ctx, func(tx market.Tx) error {
		if err := tx.InsertJob(ctx, &market.Job{ID: "j1", State: market.JobDraft, CreatedAt: now}); err != nil {
			return err
		}
		if err := tx.UpdateJobState(ctx, "j1", market.JobOpen, now); err != nil {
			return err
		}
		if err := tx.InsertContract(ctx, &market.Contract{ID: "c1", JobID: "j1"}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	err = db.View(ctx, func(tx market.Tx) error {
		if _, err := tx.GetJob(ctx, "j1"); !errors.Is(err, market.ErrJobNotFound) {
			t.Fatalf("job should be rolled back, got %v", err)
		}
		if _, err := tx.GetContract(ctx, "c1"); !errors.Is(err, market.ErrContractNotFound) {
			t.Fatalf("contract should be rolled back, got %v", err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("view: %v", err)
	}
	// 回滚后同一任务可再次创建合同。
	err = db.WithinTx(ctx, func(tx market.Tx) error {
		return tx.InsertContract(ctx, &market.Contract{ID: "c2", JobID: "j1"})
	})
	if err != nil {
		t.Fatalf("insert after rollback: %v", err)
	}
}

func TestRollbackRestoresMutations(t *testing.T) {
	db := New()
	ctx := context.Background()
	now := time.Now()
	mustTx(t, db, func(tx market.Tx) error {
		if err := tx.InsertEscrow(ctx, &market.EscrowAccount{ID: "e1", ContractID: "c1", Amount: 10, State: market.EscrowNone}); err != nil {
			return err
		}
		return tx.InsertAgent(ctx, &market.Agent{ID: "a1", Status: market.AgentActive})
	})

	_ = db.WithinTx(ctx, func(tx market.Tx) error {
		_ = tx.UpdateEscrow(ctx, &market.EscrowAccount{ID: "e1", State: market.EscrowFunded, FundedAt: &now})
		_ = tx.AppendLedger(ctx, &market.LedgerEntry{ID: "l1", EscrowID: "e1", EntryType: market.EntryFund, Amount: 10})
		_ = tx.IncrementAgentCompleted(ctx, "a1", now)
		return errors.New("abort")
	})

	_ = db.View(ctx, func(tx market.Tx) error {
		e, err := tx.GetEscrow(ctx, "e1")
		if err != nil || e.State != market.EscrowNone || e.FundedAt != nil {
			t.Fatalf("escrow not restored: %+v %v", e, err)
		}
		if entries, _ := tx.ListLedger(ctx, "e1"); len(entries) != 0 {
			t.Fatalf("ledger not restored: %v", entries)
		}
		a, _ := tx.GetAgent(ctx, "a1")
		if a.TotalJobsCompleted != 0 {
			t.Fatalf("agent not restored: %+v", a)
		}
		return nil
	})
}

func TestViewIsReadOnly(t *testing.T) {
	db := New()
	ctx := context.Background()
	err := db.View(ctx, func(tx market.Tx) error {
		return tx.InsertJob(ctx, &market.Job{ID: "j1"})
	})
	if err == nil {
		t.Fatal("expected write in view to fail")
	}
}

func TestReadsReturnCopies(t *testing.T) {
	db := New()
	ctx := context.Background()
	mustTx(t, db, func(tx market.Tx) error {
		return tx.InsertJob(ctx, &market.Job{ID: "j1", Tags: []string{"go"}})
	})
	_ = db.View(ctx, func(tx market.Tx) error {
		j, _ := tx.GetJob(ctx, "j1")
		j.Tags[0] = "mutated"
		j.State = market.JobCancelled
		again, _ := tx.GetJob(ctx, "j1")
		if again.Tags[0] != "go" || again.State == market.JobCancelled {
			t.Fatalf("store was mutated through a returned value: %+v", again)
		}
		return nil
	})
}

func TestReviewUniquenessAndEvents(t *testing.T) {
	db := New()
	ctx := context.Background()
	r := &review.Review{ID: "r1", ContractID: "c1", ReviewerRole: review.RoleClient, ReviewerID: "u1", RevieweeID: "u2", Weight: 1}
	if err := db.InsertReview(ctx, r); err != nil {
		t.Fatalf("insert: %v", err)
	}
	dup := *r
	dup.ID = "r2"
	if err := db.InsertReview(ctx, &dup); !errors.Is(err, review.ErrDuplicate) {
		t.Fatalf("expected duplicate, got %v", err)
	}
	other := dup
	other.ReviewerRole = review.RoleAgent
	if err := db.InsertReview(ctx, &other); err != nil {
		t.Fatalf("agent-side review should be allowed: %v", err)
	}

	event := &review.ReputationEvent{ID: "e1", UserID: "u2", ReviewID: "r1", Delta: 4}
	for i := 0; i < 2; i++ {
		if err := db.InsertReputationEvent(ctx, event); err != nil {
			t.Fatalf("insert event: %v", err)
		}
	}
	if got := db.ReputationEvents(ctx, "u2"); len(got) != 1 {
		t.Fatalf("expected one event per review, got %d", len(got))
	}
}

func TestSnapshotsUpsertPerDay(t *testing.T) {
	db := New()
	ctx := context.Background()
	first := []reputation.Snapshot{{AgentID: "a", Score: 60, Rank: 1, Date: "2026-01-02"}}
	second := []reputation.Snapshot{{AgentID: "a", Score: 70, Rank: 1, Date: "2026-01-02"}}
	if err := db.UpsertSnapshots(ctx, first); err != nil {
		t.Fatal(err)
	}
	if err := db.UpsertSnapshots(ctx, second); err != nil {
		t.Fatal(err)
	}
	got := db.Snapshots(ctx, "2026-01-02")
	if len(got) != 1 || got[0].Score != 70 {
		t.Fatalf("expected single upserted snapshot, got %+v", got)
	}
}

func TestIdentity(t *testing.T) {
	db := New()
	ctx := context.Background()
	user := &auth.User{ID: "u1", DisplayName: "abcd...wxyz", Role: auth.RoleUser}
	wallet := &auth.Wallet{UserID: "u1", Address: "addr", Family: "ed25519", Primary: true}
	if err := db.CreateIdentity(ctx, user, wallet); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := db.CreateIdentity(ctx, &auth.User{ID: "u2"}, wallet); !errors.Is(err, auth.ErrIdentityExists) {
		t.Fatalf("expected exists, got %v", err)
	}
	if err := db.SetSuspended(ctx, "u1", true); err != nil {
		t.Fatalf("suspend: %v", err)
	}
	got, err := db.GetUser(ctx, "u1")
	if err != nil || !got.Suspended {
		t.Fatalf("expected suspended user, got %+v %v", got, err)
	}
	if _, err := db.FindWallet(ctx, "missing"); !errors.Is(err, auth.ErrWalletNotFound) {
		t.Fatalf("expected wallet not found, got %v", err)
	}
}

func mustTx(t *testing.T, db *DB, fn func(tx market.Tx) error) {
	t.Helper()
	if err := db.WithinTx(context.Background(), fn); err != nil {
		t.Fatalf("tx: %v", err)
	}
}
