package review_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"LobsterMarket/internal/auth"
	xerrors "LobsterMarket/internal/errors"
	"LobsterMarket/internal/fraud"
	"LobsterMarket/internal/market"
	"LobsterMarket/internal/observability/alerting"
	"LobsterMarket/internal/queue"
	"LobsterMarket/internal/review"
	"LobsterMarket/internal/storage/memory"
)

var now = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

type stubContracts map[string]*market.ContractDetail

func (s stubContracts) ContractDetail(_ context.Context, id string) (*market.ContractDetail, error) {
	d, ok := s[id]
	if !ok {
		return nil, market.ErrContractNotFound
	}
	return d, nil
}

func detail(id string, status market.ContractStatus, escrow market.EscrowState) *market.ContractDetail {
	return &market.ContractDetail{
		Contract: &market.Contract{ID: id, JobID: "job-" + id, AgentID: "agent-1", ClientID: "client", Status: status},
		Escrow:   &market.EscrowAccount{ID: "escrow-" + id, ContractID: id, State: escrow},
		Agent:    &market.Agent{ID: "agent-1", OwnerID: "owner"},
		Job:      &market.Job{ID: "job-" + id, ClientID: "client"},
	}
}

func seedUser(t *testing.T, db *memory.DB, id string, age time.Duration) {
	t.Helper()
	require.NoError(t, db.CreateIdentity(context.Background(),
		&auth.User{ID: id, Role: auth.RoleUser, CreatedAt: now.Add(-age)},
		&auth.Wallet{UserID: id, Address: "wallet-" + id, Primary: true},
	))
}

func newService(db *memory.DB, contracts stubContracts, opts ...review.Option) *review.Service {
	clock := func() time.Time { return now }
	detector := fraud.NewDetector(db, fraud.WithClock(clock))
	processor := review.NewProcessor(db, detector, review.WithProcessorClock(clock))
	return review.NewService(db, contracts, processor, append([]review.Option{review.WithClock(clock)}, opts...)...)
}

var goodInput = review.Input{Quality: 5, Communication: 4, Timeliness: 3, Comment: "Delivered exactly what was asked."}

func TestCreateReviewRoles(t *testing.T) {
	db := memory.New()
	seedUser(t, db, "client", 400*24*time.Hour)
	seedUser(t, db, "owner", 400*24*time.Hour)
	svc := newService(db, stubContracts{"c1": detail("c1", market.ContractCompleted, market.EscrowReleased)})
	ctx := context.Background()

	byClient, err := svc.Create(ctx, "client", "c1", goodInput)
	require.NoError(t, err)
	assert.Equal(t, review.RoleClient, byClient.ReviewerRole)
	assert.Equal(t, "owner", byClient.RevieweeID)
	assert.Equal(t, review.DefaultWeight, byClient.Weight)

	byAgent, err := svc.Create(ctx, "owner", "c1", goodInput)
	require.NoError(t, err)
	assert.Equal(t, review.RoleAgent, byAgent.ReviewerRole)
	assert.Equal(t, "client", byAgent.RevieweeID)

	_, err = svc.Create(ctx, "client", "c1", goodInput)
	require.Error(t, err)
	assert.Equal(t, xerrors.KindConflict, xerrors.KindOf(err))
	assert.Contains(t, err.Error(), "You already reviewed this contract")

	_, err = svc.Create(ctx, "stranger", "c1", goodInput)
	assert.Equal(t, xerrors.KindForbidden, xerrors.KindOf(err))

	// 同步审核后写入声誉事件：delta = (4-3)*2，客户评价关联 Agent。
	events := db.ReputationEvents(ctx, "owner")
	require.Len(t, events, 1)
	assert.InDelta(t, 2.0, events[0].Delta, 1e-9)
	assert.Equal(t, "agent-1", events[0].AgentID)
	assert.Equal(t, review.EventReviewReceived, events[0].EventType)

	agentSide := db.ReputationEvents(ctx, "client")
	require.Len(t, agentSide, 1)
	assert.Empty(t, agentSide[0].AgentID)
}

func TestCreateReviewEligibility(t *testing.T) {
	db := memory.New()
	svc := newService(db, stubContracts{
		"active":   detail("active", market.ContractActive, market.EscrowLocked),
		"unfunded": detail("unfunded", market.ContractCompleted, market.EscrowNone),
	})
	ctx := context.Background()

	_, err := svc.Create(ctx, "client", "active", goodInput)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Can only review completed contracts")
	assert.Equal(t, xerrors.KindBadRequest, xerrors.KindOf(err))

	_, err = svc.Create(ctx, "client", "unfunded", goodInput)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Cannot review: escrow was never funded")

	_, err = svc.Create(ctx, "client", "missing", goodInput)
	assert.Equal(t, xerrors.KindNotFound, xerrors.KindOf(err))
}

func TestCreateReviewValidation(t *testing.T) {
	svc := newService(memory.New(), stubContracts{})
	ctx := context.Background()

	bad := goodInput
	bad.Quality = 6
	_, err := svc.Create(ctx, "client", "c1", bad)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Ratings must be 1-5")

	bad = goodInput
	bad.Timeliness = 0
	_, err = svc.Create(ctx, "client", "c1", bad)
	assert.Equal(t, xerrors.KindBadRequest, xerrors.KindOf(err))

	bad = goodInput
	bad.Comment = "   too short     "
	_, err = svc.Create(ctx, "client", "c1", bad)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Comment must be at least 20 characters")
}

func TestNewAccountReviewIsDownWeighted(t *testing.T) {
	db := memory.New()
	seedUser(t, db, "client", time.Hour)
	seedUser(t, db, "owner", 400*24*time.Hour)
	svc := newService(db, stubContracts{"c1": detail("c1", market.ContractCompleted, market.EscrowReleased)})
	ctx := context.Background()

	r, err := svc.Create(ctx, "client", "c1", goodInput)
	require.NoError(t, err)
	stored, err := db.GetReview(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, fraud.SuspiciousWeight, stored.Weight)
	assert.False(t, stored.Hidden, "flagged reviews stay visible")

	flags := db.Flags(ctx, "client")
	require.Len(t, flags, 1)
	assert.Contains(t, flags[0].Rules, fraud.RuleNewAccount)
}

func TestRescreeningKeepsSingleFlag(t *testing.T) {
	db := memory.New()
	seedUser(t, db, "client", time.Hour)
	seedUser(t, db, "owner", 400*24*time.Hour)
	clock := func() time.Time { return now }
	detector := fraud.NewDetector(db, fraud.WithClock(clock))
	processor := review.NewProcessor(db, detector, review.WithProcessorClock(clock))
	svc := review.NewService(db, stubContracts{"c1": detail("c1", market.ContractCompleted, market.EscrowReleased)}, processor, review.WithClock(clock))
	ctx := context.Background()

	r, err := svc.Create(ctx, "client", "c1", goodInput)
	require.NoError(t, err)
	require.Len(t, db.Flags(ctx, "client"), 1)
	before := detector.SuspiciousScore(ctx, "client")

	// 队列重投同一条评价。
	require.NoError(t, processor.Screen(ctx, r.ID))
	require.NoError(t, processor.Screen(ctx, r.ID))

	assert.Len(t, db.Flags(ctx, "client"), 1)
	assert.Len(t, db.ReputationEvents(ctx, "owner"), 1)
	assert.Equal(t, before, detector.SuspiciousScore(ctx, "client"))
}

func TestCollusionFlagsFourthReview(t *testing.T) {
	db := memory.New()
	seedUser(t, db, "client", 400*24*time.Hour)
	seedUser(t, db, "owner", 400*24*time.Hour)
	contracts := stubContracts{}
	for _, id := range []string{"c1", "c2", "c3", "c4"} {
		contracts[id] = detail(id, market.ContractCompleted, market.EscrowReleased)
	}
	svc := newService(db, contracts)
	ctx := context.Background()

	var weights []float64
	for _, id := range []string{"c1", "c2", "c3", "c4"} {
		r, err := svc.Create(ctx, "client", id, goodInput)
		require.NoError(t, err)
		stored, err := db.GetReview(ctx, r.ID)
		require.NoError(t, err)
		weights = append(weights, stored.Weight)
	}
	assert.Equal(t, []float64{1, 1, 1, fraud.SuspiciousWeight}, weights)
}

func TestReviewsScreenedThroughQueue(t *testing.T) {
	db := memory.New()
	seedUser(t, db, "client", 400*24*time.Hour)
	seedUser(t, db, "owner", 400*24*time.Hour)
	q := queue.NewMemoryQueue(4)
	contracts := stubContracts{"c1": detail("c1", market.ContractCompleted, market.EscrowReleased)}
	clock := func() time.Time { return now }
	processor := review.NewProcessor(db, fraud.NewDetector(db, fraud.WithClock(clock)),
		review.WithConsumer(q), review.WithProcessorClock(clock))
	svc := review.NewService(db, contracts, processor, review.WithProducer(q), review.WithClock(clock))
	ctx := context.Background()

	_, err := svc.Create(ctx, "client", "c1", goodInput)
	require.NoError(t, err)
	assert.Empty(t, db.ReputationEvents(ctx, "owner"), "screening is deferred to the consumer")
	assert.Equal(t, 1, q.Len())

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- processor.Start(runCtx) }()
	require.Eventually(t, func() bool { return len(db.ReputationEvents(ctx, "owner")) == 1 }, 2*time.Second, 10*time.Millisecond)
	cancel()
	<-done

	require.NoError(t, processor.Screen(ctx, "missing-review"), "unknown reviews are skipped")
}

type failingEvents struct {
	*memory.DB
}

func (failingEvents) InsertReputationEvent(context.Context, *review.ReputationEvent) error {
	return assert.AnError
}

type alertRecorder struct {
	events []alerting.Event
}

func (a *alertRecorder) Notify(_ context.Context, e alerting.Event) error {
	a.events = append(a.events, e)
	return nil
}

func TestScreenFailureAlertsWithStage(t *testing.T) {
	db := memory.New()
	require.NoError(t, db.InsertReview(context.Background(), &review.Review{
		ID: "r-1", ContractID: "c1", ReviewerID: "client", RevieweeID: "owner",
		ReviewerRole: review.RoleClient, Quality: 5, Communication: 5, Timeliness: 5, Weight: 1, CreatedAt: now,
	}))
	alerts := &alertRecorder{}
	processor := review.NewProcessor(failingEvents{db}, nil,
		review.WithAlertDispatcher(alerts),
		review.WithProcessorClock(func() time.Time { return now }))

	err := processor.Screen(context.Background(), "r-1")
	require.Error(t, err)
	assert.True(t, xerrors.RetryableError(err))
	require.Len(t, alerts.events, 1)
	assert.Equal(t, review.CodeScreenFailure, alerts.events[0].Code)
	assert.Equal(t, xerrors.SeverityWarning, alerts.events[0].Severity)
	assert.Equal(t, "reputation_event", alerts.events[0].Metadata["stage"])

	// 停机取消时的失败只重投不告警。
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = processor.Screen(ctx, "r-1")
	require.Error(t, err)
	assert.True(t, xerrors.RetryableError(err))
	assert.False(t, xerrors.ShouldAlert(err))
	assert.Equal(t, xerrors.SeverityInfo, xerrors.SeverityOf(err))
	assert.Len(t, alerts.events, 1)
}

func TestScreenRejectsEmptyID(t *testing.T) {
	alerts := &alertRecorder{}
	processor := review.NewProcessor(memory.New(), nil, review.WithAlertDispatcher(alerts))

	err := processor.Screen(context.Background(), "  ")
	require.Error(t, err)
	assert.Equal(t, review.CodeScreenFailure, xerrors.CodeOf(err))
	assert.False(t, xerrors.RetryableError(err))
	assert.False(t, xerrors.ShouldAlert(err))
	assert.Empty(t, alerts.events)
}
