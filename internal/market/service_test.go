package market_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	xerrors "LobsterMarket/internal/errors"
	"LobsterMarket/internal/market"
	"LobsterMarket/internal/storage/memory"
)

const (
	clientID = "client-1"
	ownerID  = "owner-1"
	rivalID  = "owner-2"
)

type fixture struct {
	db  *memory.DB
	svc *market.Service
	ctx context.Context
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := memory.New()
	clock := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	return &fixture{
		db:  db,
		svc: market.NewService(db, market.WithClock(func() time.Time { return clock })),
		ctx: context.Background(),
	}
}

func price(v int64) *int64 { return &v }

func (f *fixture) agent(t *testing.T, owner, name string) *market.Agent {
	t.Helper()
	a, err := f.svc.RegisterAgent(f.ctx, owner, market.AgentInput{Name: name})
	require.NoError(t, err)
	return a
}

func (f *fixture) openJob(t *testing.T, input market.JobInput) *market.Job {
	t.Helper()
	if input.Title == "" {
		input.Title = "Summarise filings"
	}
	job, err := f.svc.CreateJob(f.ctx, clientID, input)
	require.NoError(t, err)
	assert.Equal(t, market.JobDraft, job.State)
	job, err = f.svc.PublishJob(f.ctx, clientID, job.ID)
	require.NoError(t, err)
	assert.Equal(t, market.JobOpen, job.State)
	return job
}

func (f *fixture) job(t *testing.T, id string) *market.Job {
	t.Helper()
	var out *market.Job
	require.NoError(t, f.db.View(f.ctx, func(tx market.Tx) error {
		var err error
		out, err = tx.GetJob(f.ctx, id)
		return err
	}))
	return out
}

func (f *fixture) offer(t *testing.T, id string) *market.Offer {
	t.Helper()
	var out *market.Offer
	require.NoError(t, f.db.View(f.ctx, func(tx market.Tx) error {
		var err error
		out, err = tx.GetOffer(f.ctx, id)
		return err
	}))
	return out
}

func TestHappyPathEscrowLifecycle(t *testing.T) {
	f := newFixture(t)
	agent := f.agent(t, ownerID, "scribe")
	job := f.openJob(t, market.JobInput{Budget: 1_000_000})

	offer, err := f.svc.CreateOffer(f.ctx, ownerID, market.OfferInput{JobID: job.ID, AgentID: agent.ID, ProposedPrice: price(900_000)})
	require.NoError(t, err)

	award, err := f.svc.AcceptOffer(f.ctx, clientID, offer.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(900_000), award.Escrow.Amount)
	assert.Equal(t, market.EscrowNone, award.Escrow.State)
	assert.Equal(t, market.JobMatched, f.job(t, job.ID).State)

	escrow, err := f.svc.FundEscrow(f.ctx, clientID, award.Escrow.ID)
	require.NoError(t, err)
	assert.Equal(t, market.EscrowFunded, escrow.State)
	assert.Equal(t, market.JobInProgress, f.job(t, job.ID).State)

	_, err = f.svc.SubmitWork(f.ctx, ownerID, award.Contract.ID, market.WorkInput{Content: "report.pdf"})
	require.NoError(t, err)

	escrow, err = f.svc.ReleaseEscrow(f.ctx, clientID, award.Escrow.ID)
	require.NoError(t, err)
	assert.Equal(t, market.EscrowReleased, escrow.State)
	assert.NotNil(t, escrow.ReleasedAt)

	detail, err := f.svc.ContractDetail(f.ctx, award.Contract.ID)
	require.NoError(t, err)
	assert.Equal(t, market.ContractCompleted, detail.Contract.Status)
	assert.Equal(t, market.JobCompleted, detail.Job.State)
	assert.Equal(t, 1, detail.Agent.TotalJobsCompleted)

	entries, err := f.svc.Ledger(f.ctx, clientID, award.Escrow.ID)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	for i, want := range []market.EntryType{market.EntryFund, market.EntryLock, market.EntryRelease} {
		assert.Equal(t, want, entries[i].EntryType)
		assert.Equal(t, int64(900_000), entries[i].Amount)
		assert.Equal(t, i+1, entries[i].Seq)
	}
	require.NoError(t, f.svc.VerifyLedger(f.ctx, award.Escrow.ID))

	_, err = f.svc.Ledger(f.ctx, "stranger", award.Escrow.ID)
	assert.Equal(t, xerrors.KindForbidden, xerrors.KindOf(err))
}

func TestAcceptOfferRejectsSiblings(t *testing.T) {
	f := newFixture(t)
	a1 := f.agent(t, ownerID, "one")
	a2 := f.agent(t, rivalID, "two")
	job := f.openJob(t, market.JobInput{Budget: 100})

	o1, err := f.svc.CreateOffer(f.ctx, ownerID, market.OfferInput{JobID: job.ID, AgentID: a1.ID, ProposedPrice: price(90)})
	require.NoError(t, err)
	o2, err := f.svc.CreateOffer(f.ctx, rivalID, market.OfferInput{JobID: job.ID, AgentID: a2.ID, ProposedPrice: price(80)})
	require.NoError(t, err)

	_, err = f.svc.AcceptOffer(f.ctx, clientID, o2.ID)
	require.NoError(t, err)
	assert.Equal(t, market.OfferAccepted, f.offer(t, o2.ID).Status)
	assert.Equal(t, market.OfferRejected, f.offer(t, o1.ID).Status)

	_, err = f.svc.AcceptOffer(f.ctx, clientID, o1.ID)
	require.Error(t, err)
	assert.Equal(t, xerrors.KindBadRequest, xerrors.KindOf(err))
}

func TestConcurrentAcceptHasSingleWinner(t *testing.T) {
	f := newFixture(t)
	job := f.openJob(t, market.JobInput{Budget: 100})
	const bidders = 8
	offers := make([]string, bidders)
	for i := range offers {
		owner := ownerID + string(rune('a'+i))
		a := f.agent(t, owner, "bidder")
		o, err := f.svc.CreateOffer(f.ctx, owner, market.OfferInput{JobID: job.ID, AgentID: a.ID, ProposedPrice: price(int64(50 + i))})
		require.NoError(t, err)
		offers[i] = o.ID
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for _, id := range offers {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, err := f.svc.AcceptOffer(f.ctx, clientID, id)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				wins++
				return
			}
			kind := xerrors.KindOf(err)
			if kind != xerrors.KindBadRequest && kind != xerrors.KindConflict {
				t.Errorf("unexpected loser error %v (%s)", err, kind)
			}
		}(id)
	}
	wg.Wait()
	assert.Equal(t, 1, wins)

	accepted := 0
	for _, id := range offers {
		if f.offer(t, id).Status == market.OfferAccepted {
			accepted++
		}
	}
	assert.Equal(t, 1, accepted)
}

func TestConcurrentReleaseAndRefundHaveSingleWinner(t *testing.T) {
	for i := 0; i < 20; i++ {
		f := newFixture(t)
		agent := f.agent(t, ownerID, "scribe")
		job := f.openJob(t, market.JobInput{Budget: 100})
		offer, err := f.svc.CreateOffer(f.ctx, ownerID, market.OfferInput{JobID: job.ID, AgentID: agent.ID, ProposedPrice: price(100)})
		require.NoError(t, err)
		award, err := f.svc.AcceptOffer(f.ctx, clientID, offer.ID)
		require.NoError(t, err)
		_, err = f.svc.FundEscrow(f.ctx, clientID, award.Escrow.ID)
		require.NoError(t, err)
		locked, err := f.svc.LockEscrow(f.ctx, award.Escrow.ID)
		require.NoError(t, err)
		require.Equal(t, market.EscrowLocked, locked.State)

		var (
			wg    sync.WaitGroup
			start = make(chan struct{})
			errs  = make([]error, 2)
		)
		wg.Add(2)
		go func() {
			defer wg.Done()
			<-start
			_, errs[0] = f.svc.ReleaseEscrow(f.ctx, clientID, award.Escrow.ID)
		}()
		go func() {
			defer wg.Done()
			<-start
			_, errs[1] = f.svc.RefundEscrow(f.ctx, award.Escrow.ID)
		}()
		close(start)
		wg.Wait()

		wins := 0
		for _, err := range errs {
			if err == nil {
				wins++
				continue
			}
			assert.Equal(t, xerrors.KindBadRequest, xerrors.KindOf(err))
		}
		require.Equal(t, 1, wins, "release=%v refund=%v", errs[0], errs[1])

		entries, err := f.svc.Ledger(f.ctx, clientID, award.Escrow.ID)
		require.NoError(t, err)
		require.Len(t, entries, 3)
		require.NoError(t, f.svc.VerifyLedger(f.ctx, award.Escrow.ID))
	}
}

func TestEscrowRejectsIllegalTransitions(t *testing.T) {
	f := newFixture(t)
	agent := f.agent(t, ownerID, "scribe")
	job := f.openJob(t, market.JobInput{Budget: 100})
	offer, err := f.svc.CreateOffer(f.ctx, ownerID, market.OfferInput{JobID: job.ID, AgentID: agent.ID, ProposedPrice: price(100)})
	require.NoError(t, err)
	award, err := f.svc.AcceptOffer(f.ctx, clientID, offer.ID)
	require.NoError(t, err)

	_, err = f.svc.ReleaseEscrow(f.ctx, clientID, award.Escrow.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "escrow is in state 'none', cannot release")

	_, err = f.svc.FundEscrow(f.ctx, ownerID, award.Escrow.ID)
	assert.Equal(t, xerrors.KindForbidden, xerrors.KindOf(err))

	_, err = f.svc.FundEscrow(f.ctx, clientID, award.Escrow.ID)
	require.NoError(t, err)
	_, err = f.svc.FundEscrow(f.ctx, clientID, award.Escrow.ID)
	require.Error(t, err)
	assert.Equal(t, xerrors.KindBadRequest, xerrors.KindOf(err))

	_, err = f.svc.ReleaseEscrow(f.ctx, clientID, award.Escrow.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "escrow is in state 'funded', cannot release")

	entries, err := f.svc.Ledger(f.ctx, ownerID, award.Escrow.ID)
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	escrow, err := f.svc.RefundEscrow(f.ctx, award.Escrow.ID)
	require.NoError(t, err)
	assert.Equal(t, market.EscrowRefunded, escrow.State)
	require.NoError(t, f.svc.VerifyLedger(f.ctx, award.Escrow.ID))

	_, err = f.svc.RefundEscrow(f.ctx, award.Escrow.ID)
	assert.Error(t, err)
}

func TestCancelOnlyBeforeMatch(t *testing.T) {
	f := newFixture(t)
	agent := f.agent(t, ownerID, "scribe")
	job := f.openJob(t, market.JobInput{Budget: 100})

	_, err := f.svc.CancelJob(f.ctx, ownerID, job.ID)
	assert.Equal(t, xerrors.KindForbidden, xerrors.KindOf(err))

	offer, err := f.svc.CreateOffer(f.ctx, ownerID, market.OfferInput{JobID: job.ID, AgentID: agent.ID})
	require.NoError(t, err)
	_, err = f.svc.AcceptOffer(f.ctx, clientID, offer.ID)
	require.NoError(t, err)

	_, err = f.svc.CancelJob(f.ctx, clientID, job.ID)
	require.Error(t, err)
	assert.Equal(t, market.CodeInvalidTransition, xerrors.CodeOf(err))

	for _, budget := range []int64{0, -5} {
		_, err = f.svc.CreateJob(f.ctx, clientID, market.JobInput{Title: "free", Budget: budget})
		assert.Equal(t, xerrors.KindBadRequest, xerrors.KindOf(err), "budget %d", budget)
	}

	draft, err := f.svc.CreateJob(f.ctx, clientID, market.JobInput{Title: "draft", Budget: 100})
	require.NoError(t, err)
	cancelled, err := f.svc.CancelJob(f.ctx, clientID, draft.ID)
	require.NoError(t, err)
	assert.Equal(t, market.JobCancelled, cancelled.State)
}

func TestOfferRules(t *testing.T) {
	f := newFixture(t)
	agent := f.agent(t, ownerID, "scribe")
	job := f.openJob(t, market.JobInput{Budget: 100})

	_, err := f.svc.CreateOffer(f.ctx, rivalID, market.OfferInput{JobID: job.ID, AgentID: agent.ID})
	assert.Equal(t, xerrors.KindForbidden, xerrors.KindOf(err))

	first, err := f.svc.CreateOffer(f.ctx, ownerID, market.OfferInput{JobID: job.ID, AgentID: agent.ID})
	require.NoError(t, err)
	_, err = f.svc.CreateOffer(f.ctx, ownerID, market.OfferInput{JobID: job.ID, AgentID: agent.ID})
	assert.Equal(t, xerrors.KindConflict, xerrors.KindOf(err))

	_, err = f.svc.AcceptOffer(f.ctx, rivalID, first.ID)
	assert.Equal(t, xerrors.KindForbidden, xerrors.KindOf(err))

	withdrawn, err := f.svc.WithdrawOffer(f.ctx, ownerID, first.ID)
	require.NoError(t, err)
	assert.Equal(t, market.OfferWithdrawn, withdrawn.Status)
	_, err = f.svc.AcceptOffer(f.ctx, clientID, first.ID)
	assert.Equal(t, market.CodeInvalidTransition, xerrors.CodeOf(err))

	_, err = f.svc.CreateOffer(f.ctx, ownerID, market.OfferInput{JobID: job.ID, AgentID: agent.ID})
	require.NoError(t, err, "a new offer is allowed once the previous one is withdrawn")

	_, err = f.svc.AcceptOffer(f.ctx, clientID, "missing")
	assert.Equal(t, xerrors.KindNotFound, xerrors.KindOf(err))
}

func TestBattleFlow(t *testing.T) {
	f := newFixture(t)
	job := f.openJob(t, market.JobInput{Budget: 500, BattleMode: true, BattleMaxSubmissions: 2})
	a1 := f.agent(t, ownerID, "one")
	a2 := f.agent(t, rivalID, "two")
	a3 := f.agent(t, "owner-3", "three")

	s1, err := f.svc.SubmitBattle(f.ctx, ownerID, market.BattleInput{JobID: job.ID, AgentID: a1.ID, Content: "entry one", ProposedPrice: price(400)})
	require.NoError(t, err)
	_, err = f.svc.SubmitBattle(f.ctx, ownerID, market.BattleInput{JobID: job.ID, AgentID: a1.ID, Content: "again"})
	assert.Equal(t, xerrors.KindConflict, xerrors.KindOf(err))
	s2, err := f.svc.SubmitBattle(f.ctx, rivalID, market.BattleInput{JobID: job.ID, AgentID: a2.ID, Content: "entry two", ProposedPrice: price(450)})
	require.NoError(t, err)
	_, err = f.svc.SubmitBattle(f.ctx, "owner-3", market.BattleInput{JobID: job.ID, AgentID: a3.ID, Content: "late"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "maximum battle submissions reached")

	award, err := f.svc.SelectBattleWinner(f.ctx, clientID, job.ID, s2.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(450), award.Escrow.Amount)
	assert.Equal(t, a2.ID, award.Contract.AgentID)
	assert.Equal(t, market.JobCompleted, f.job(t, job.ID).State)

	_, err = f.svc.SelectBattleWinner(f.ctx, clientID, job.ID, s1.ID)
	assert.Error(t, err, "a battle can only be decided once")

	escrow, err := f.svc.FundEscrow(f.ctx, clientID, award.Escrow.ID)
	require.NoError(t, err)
	assert.Equal(t, market.EscrowFunded, escrow.State)
	assert.Equal(t, market.JobCompleted, f.job(t, job.ID).State)
}

func TestBattleWinnerNeedsPendingOffer(t *testing.T) {
	f := newFixture(t)
	job := f.openJob(t, market.JobInput{Budget: 500, BattleMode: true})
	a1 := f.agent(t, ownerID, "one")
	a2 := f.agent(t, rivalID, "two")
	a3 := f.agent(t, "owner-3", "three")

	s1, err := f.svc.SubmitBattle(f.ctx, ownerID, market.BattleInput{JobID: job.ID, AgentID: a1.ID, Content: "entry one"})
	require.NoError(t, err)
	s2, err := f.svc.SubmitBattle(f.ctx, rivalID, market.BattleInput{JobID: job.ID, AgentID: a2.ID, Content: "entry two"})
	require.NoError(t, err)
	_, err = f.svc.SubmitBattle(f.ctx, "owner-3", market.BattleInput{JobID: job.ID, AgentID: a3.ID, Content: "entry three"})
	require.NoError(t, err)

	var first *market.Offer
	require.NoError(t, f.db.View(f.ctx, func(tx market.Tx) error {
		first, err = tx.LatestOffer(f.ctx, job.ID, a1.ID)
		return err
	}))
	_, err = f.svc.WithdrawOffer(f.ctx, ownerID, first.ID)
	require.NoError(t, err)

	_, err = f.svc.SelectBattleWinner(f.ctx, clientID, job.ID, s1.ID)
	require.Error(t, err)
	assert.Equal(t, xerrors.KindBadRequest, xerrors.KindOf(err))
	assert.Equal(t, market.JobOpen, f.job(t, job.ID).State)

	_, err = f.svc.SelectBattleWinner(f.ctx, clientID, job.ID, s2.ID)
	require.NoError(t, err)

	var offers []market.Offer
	require.NoError(t, f.db.View(f.ctx, func(tx market.Tx) error {
		offers, err = tx.ListOffersByJob(f.ctx, job.ID)
		return err
	}))
	statuses := map[string]market.OfferState{}
	for _, o := range offers {
		statuses[o.AgentID] = o.Status
	}
	assert.Equal(t, map[string]market.OfferState{
		a1.ID: market.OfferWithdrawn,
		a2.ID: market.OfferAccepted,
		a3.ID: market.OfferRejected,
	}, statuses)
}

func TestDisputes(t *testing.T) {
	f := newFixture(t)
	agent := f.agent(t, ownerID, "scribe")
	job := f.openJob(t, market.JobInput{Budget: 100})
	offer, err := f.svc.CreateOffer(f.ctx, ownerID, market.OfferInput{JobID: job.ID, AgentID: agent.ID})
	require.NoError(t, err)
	award, err := f.svc.AcceptOffer(f.ctx, clientID, offer.ID)
	require.NoError(t, err)

	_, err = f.svc.OpenDispute(f.ctx, "stranger", award.Contract.ID, "late")
	assert.Equal(t, xerrors.KindForbidden, xerrors.KindOf(err))
	d, err := f.svc.OpenDispute(f.ctx, clientID, award.Contract.ID, "work never arrived")
	require.NoError(t, err)
	assert.Equal(t, market.DisputeOpen, d.Status)
	_, err = f.svc.OpenDispute(f.ctx, ownerID, award.Contract.ID, "client unresponsive")
	assert.Equal(t, xerrors.KindConflict, xerrors.KindOf(err))

	n, err := f.db.CountDisputesAgainst(f.ctx, agent.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
