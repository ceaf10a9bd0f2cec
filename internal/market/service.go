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

const (
	defaultBattleMaxSubmissions = 3
	defaultCurrency             = "USDC"
	defaultCurrencyChain        = "solana"
	battlePitch                 = "Battle submission"
)

// Service 实现任务、报价、合同与托管的状态机，所有状态迁移都在单个事务内完成。
type Service struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

// Option 定义可选配置。
type Option func(*Service)

// WithLogger 指定日志输出。
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock 替换时间源，主要用于测试。
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService 构造 Service。
func NewService(store Store, opts ...Option) *Service {
	s := &Service{
		store:  store,
		logger: logger.Named("market"),
		now:    time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

func (s *Service) ready() error {
	if s == nil || s.store == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "市场服务未初始化")
	}
	return nil
}

func (s *Service) timestamp() time.Time {
	return s.now().UTC()
}

// RegisterAgent 为用户注册一个处于 active 状态的未认证 Agent。
func (s *Service) RegisterAgent(ctx context.Context, ownerID string, input AgentInput) (*Agent, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, badRequest("agent name is required")
	}
	now := s.timestamp()
	agent := &Agent{
		ID:               uuid.NewString(),
		OwnerID:          ownerID,
		Name:             name,
		Tagline:          strings.TrimSpace(input.Tagline),
		VerificationTier: TierUnverified,
		Status:           AgentActive,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	err := s.store.WithinTx(ctx, func(tx Tx) error {
		return tx.InsertAgent(ctx, agent)
	})
	if err != nil {
		return nil, err
	}
	logger.Audit().Info("agent_created",
		slog.String("user_id", ownerID),
		slog.String("agent_id", agent.ID),
	)
	return agent, nil
}

// CreateJob 创建草稿状态的任务。
func (s *Service) CreateJob(ctx context.Context, clientID string, input JobInput) (*Job, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return nil, badRequest("job title is required")
	}
	if input.Budget <= 0 {
		return nil, badRequest("budget must be positive")
	}
	if input.BattlePartialRewardPct < 0 || input.BattlePartialRewardPct > 100 {
		return nil, badRequest("battle partial reward must be within 0-100")
	}
	now := s.timestamp()
	job := &Job{
		ID:                     uuid.NewString(),
		ClientID:               clientID,
		Title:                  title,
		Description:            input.Description,
		Budget:                 input.Budget,
		State:                  JobDraft,
		Currency:               firstNonEmpty(input.Currency, defaultCurrency),
		CurrencyChain:          firstNonEmpty(input.CurrencyChain, defaultCurrencyChain),
		BattleMode:             input.BattleMode,
		BattleMaxSubmissions:   input.BattleMaxSubmissions,
		BattlePartialRewardPct: input.BattlePartialRewardPct,
		Deadline:               input.Deadline,
		Tags:                   append([]string(nil), input.Tags...),
		CreatedAt:              now,
		UpdatedAt:              now,
	}
	if job.BattleMaxSubmissions <= 0 {
		job.BattleMaxSubmissions = defaultBattleMaxSubmissions
	}
	err := s.store.WithinTx(ctx, func(tx Tx) error {
		return tx.InsertJob(ctx, job)
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

// PublishJob 将草稿任务开放接单。
func (s *Service) PublishJob(ctx context.Context, callerID, jobID string) (*Job, error) {
	return s.moveJob(ctx, callerID, jobID, JobPublish)
}

// CancelJob 取消草稿或开放中的任务。
func (s *Service) CancelJob(ctx context.Context, callerID, jobID string) (*Job, error) {
	return s.moveJob(ctx, callerID, jobID, JobCancel)
}

func (s *Service) moveJob(ctx context.Context, callerID, jobID string, ev JobEvent) (*Job, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	var out *Job
	err := s.store.WithinTx(ctx, func(tx Tx) error {
		job, err := tx.GetJob(ctx, jobID)
		if err != nil {
			return err
		}
		if job.ClientID != callerID {
			return forbidden("not your job")
		}
		next, err := job.State.Apply(ev)
		if err != nil {
			return err
		}
		now := s.timestamp()
		if err := tx.UpdateJobState(ctx, job.ID, next, now); err != nil {
			return err
		}
		job.State = next
		job.UpdatedAt = now
		out = job
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// CreateOffer 以调用方拥有的 Agent 名义对开放任务报价。
func (s *Service) CreateOffer(ctx context.Context, callerID string, input OfferInput) (*Offer, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	if input.ProposedPrice != nil && *input.ProposedPrice < 0 {
		return nil, badRequest("proposed price must not be negative")
	}
	var out *Offer
	err := s.store.WithinTx(ctx, func(tx Tx) error {
		job, err := tx.GetJob(ctx, input.JobID)
		if err != nil {
			return err
		}
		agent, err := tx.GetAgent(ctx, input.AgentID)
		if err != nil {
			return err
		}
		if agent.OwnerID != callerID {
			return forbidden("agent does not belong to you")
		}
		if agent.Status != AgentActive {
			return badRequest("agent is not active")
		}
		if job.State != JobOpen {
			return badRequest("job is not accepting offers")
		}
		pending, err := tx.HasPendingOffer(ctx, job.ID, agent.ID)
		if err != nil {
			return err
		}
		if pending {
			return xerrors.New(CodeDuplicate, "agent already has a pending offer on this job")
		}
		now := s.timestamp()
		offer := &Offer{
			ID:                     uuid.NewString(),
			JobID:                  job.ID,
			AgentID:                agent.ID,
			ProposedPrice:          input.ProposedPrice,
			EstimatedDurationHours: input.EstimatedDurationHours,
			Pitch:                  input.Pitch,
			Status:                 OfferPending,
			CreatedAt:              now,
			UpdatedAt:              now,
		}
		if err := tx.InsertOffer(ctx, offer); err != nil {
			return err
		}
		out = offer
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// WithdrawOffer 由 Agent 所有者撤回仍在等待的报价。
func (s *Service) WithdrawOffer(ctx context.Context, callerID, offerID string) (*Offer, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	jobID, err := s.offerJob(ctx, offerID)
	if err != nil {
		return nil, err
	}
	var out *Offer
	err = s.store.WithinTx(ctx, func(tx Tx) error {
		if _, err := tx.GetJob(ctx, jobID); err != nil {
			return err
		}
		offer, err := tx.GetOffer(ctx, offerID)
		if err != nil {
			return err
		}
		agent, err := tx.GetAgent(ctx, offer.AgentID)
		if err != nil {
			return err
		}
		if agent.OwnerID != callerID {
			return forbidden("agent does not belong to you")
		}
		next, err := offer.Status.Apply(OfferWithdraw)
		if err != nil {
			return err
		}
		now := s.timestamp()
		if err := tx.UpdateOfferStatus(ctx, offer.ID, next, now); err != nil {
			return err
		}
		offer.Status = next
		offer.UpdatedAt = now
		out = offer
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// AcceptOffer 接受报价：其余待定报价全部拒绝，任务进入 matched，并创建合同与 none 状态的托管。
// 并发接受同一任务的多个报价时只有一个成功，其余观察到任务已不在 open 状态。
func (s *Service) AcceptOffer(ctx context.Context, callerID, offerID string) (*Award, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	jobID, err := s.offerJob(ctx, offerID)
	if err != nil {
		return nil, err
	}
	var award *Award
	err = s.store.WithinTx(ctx, func(tx Tx) error {
		job, err := tx.GetJob(ctx, jobID)
		if err != nil {
			return err
		}
		if job.ClientID != callerID {
			return forbidden("not your job")
		}
		if job.BattleMode {
			return badRequest("battle jobs are awarded by selecting a winner")
		}
		nextJob, err := job.State.Apply(JobMatch)
		if err != nil {
			return badRequest("job is not accepting offers")
		}
		offer, err := tx.GetOffer(ctx, offerID)
		if err != nil {
			return err
		}
		if _, err := offer.Status.Apply(OfferAccept); err != nil {
			return err
		}
		now := s.timestamp()
		if err := s.settleOffers(ctx, tx, job.ID, offer.ID, now); err != nil {
			return err
		}
		if err := tx.UpdateJobState(ctx, job.ID, nextJob, now); err != nil {
			return err
		}
		award, err = s.openContract(ctx, tx, job, offer, offer.AgentID, now)
		return err
	})
	if err != nil {
		return nil, err
	}
	logger.Audit().Info("offer_accepted",
		slog.String("user_id", callerID),
		slog.String("job_id", jobID),
		slog.String("offer_id", offerID),
		slog.String("contract_id", award.Contract.ID),
		slog.Int64("agreed_price", award.Contract.AgreedPrice),
	)
	metrics.ObserveContractOpened("offer")
	return award, nil
}

// settleOffers 接受指定报价并拒绝同一任务上其余所有待定报价。
func (s *Service) settleOffers(ctx context.Context, tx Tx, jobID, winnerID string, now time.Time) error {
	offers, err := tx.ListOffersByJob(ctx, jobID)
	if err != nil {
		return err
	}
	for _, o := range offers {
		if o.Status != OfferPending {
			continue
		}
		ev := OfferReject
		if o.ID == winnerID {
			ev = OfferAccept
		}
		next, err := o.Status.Apply(ev)
		if err != nil {
			return err
		}
		if err := tx.UpdateOfferStatus(ctx, o.ID, next, now); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) openContract(ctx context.Context, tx Tx, job *Job, offer *Offer, agentID string, now time.Time) (*Award, error) {
	contract := &Contract{
		ID:          uuid.NewString(),
		JobID:       job.ID,
		OfferID:     offer.ID,
		AgentID:     agentID,
		ClientID:    job.ClientID,
		AgreedPrice: offer.Price(),
		Status:      ContractActive,
		CreatedAt:   now,
	}
	if err := tx.InsertContract(ctx, contract); err != nil {
		return nil, err
	}
	escrow := &EscrowAccount{
		ID:         uuid.NewString(),
		ContractID: contract.ID,
		Amount:     contract.AgreedPrice,
		State:      EscrowNone,
		CreatedAt:  now,
	}
	if err := tx.InsertEscrow(ctx, escrow); err != nil {
		return nil, err
	}
	return &Award{Contract: contract, Escrow: escrow}, nil
}

func (s *Service) offerJob(ctx context.Context, offerID string) (string, error) {
	var jobID string
	err := s.store.View(ctx, func(tx Tx) error {
		offer, err := tx.GetOffer(ctx, offerID)
		if err != nil {
			return err
		}
		jobID = offer.JobID
		return nil
	})
	return jobID, err
}

// SubmitBattle 向擂台任务投稿，同时登记一条 "Battle submission" 报价用于定价。
func (s *Service) SubmitBattle(ctx context.Context, callerID string, input BattleInput) (*Submission, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(input.Content) == "" {
		return nil, badRequest("submission content is required")
	}
	var out *Submission
	err := s.store.WithinTx(ctx, func(tx Tx) error {
		job, err := tx.GetJob(ctx, input.JobID)
		if err != nil {
			return err
		}
		agent, err := tx.GetAgent(ctx, input.AgentID)
		if err != nil {
			return err
		}
		if agent.OwnerID != callerID {
			return forbidden("agent does not belong to you")
		}
		if !job.BattleMode {
			return badRequest("this job is not in battle mode")
		}
		if job.State != JobOpen {
			return badRequest("job is not accepting submissions")
		}
		existing, err := tx.ListBattleSubmissions(ctx, job.ID)
		if err != nil {
			return err
		}
		limit := job.BattleMaxSubmissions
		if limit <= 0 {
			limit = defaultBattleMaxSubmissions
		}
		for _, sub := range existing {
			if sub.AgentID == agent.ID {
				return xerrors.New(CodeDuplicate, "agent already submitted to this battle")
			}
		}
		if len(existing) >= limit {
			return badRequest("maximum battle submissions reached")
		}
		now := s.timestamp()
		sub := &Submission{
			ID:           uuid.NewString(),
			JobID:        job.ID,
			AgentID:      agent.ID,
			Content:      input.Content,
			ArtifactsURL: input.ArtifactsURL,
			Status:       SubmissionPending,
			IsBattle:     true,
			CreatedAt:    now,
		}
		if err := tx.InsertSubmission(ctx, sub); err != nil {
			return err
		}
		offer := &Offer{
			ID:                     uuid.NewString(),
			JobID:                  job.ID,
			AgentID:                agent.ID,
			ProposedPrice:          input.ProposedPrice,
			EstimatedDurationHours: input.EstimatedDurationHours,
			Pitch:                  battlePitch,
			Status:                 OfferPending,
			CreatedAt:              now,
			UpdatedAt:              now,
		}
		if err := tx.InsertOffer(ctx, offer); err != nil {
			return err
		}
		out = sub
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// SelectBattleWinner 选出擂台胜者：胜出作品 accepted，其余 rejected，以该 Agent 最近一次报价定价，
// 创建合同与托管后任务直接进入 completed。胜者的报价必须仍为 pending。
func (s *Service) SelectBattleWinner(ctx context.Context, callerID, jobID, submissionID string) (*Award, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	var award *Award
	err := s.store.WithinTx(ctx, func(tx Tx) error {
		job, err := tx.GetJob(ctx, jobID)
		if err != nil {
			return err
		}
		if job.ClientID != callerID {
			return forbidden("not your job")
		}
		if !job.BattleMode {
			return badRequest("not a battle mode job")
		}
		nextJob, err := job.State.Apply(JobSelectWinner)
		if err != nil {
			return err
		}
		winner, err := tx.GetSubmission(ctx, submissionID)
		if err != nil {
			return err
		}
		if winner.JobID != job.ID || !winner.IsBattle {
			return ErrSubmissionNotFound
		}
		offer, err := tx.LatestOffer(ctx, job.ID, winner.AgentID)
		if err != nil {
			return err
		}
		if offer.Status != OfferPending {
			return badRequest("winning agent's offer is no longer pending")
		}
		subs, err := tx.ListBattleSubmissions(ctx, job.ID)
		if err != nil {
			return err
		}
		for _, sub := range subs {
			status := SubmissionRejected
			if sub.ID == winner.ID {
				status = SubmissionAccepted
			}
			if err := tx.UpdateSubmissionStatus(ctx, sub.ID, status); err != nil {
				return err
			}
		}
		now := s.timestamp()
		if err := s.settleOffers(ctx, tx, job.ID, offer.ID, now); err != nil {
			return err
		}
		if err := tx.UpdateJobState(ctx, job.ID, nextJob, now); err != nil {
			return err
		}
		award, err = s.openContract(ctx, tx, job, offer, winner.AgentID, now)
		return err
	})
	if err != nil {
		return nil, err
	}
	logger.Audit().Info("battle_winner_selected",
		slog.String("user_id", callerID),
		slog.String("job_id", jobID),
		slog.String("submission_id", submissionID),
		slog.String("contract_id", award.Contract.ID),
	)
	metrics.ObserveContractOpened("battle")
	return award, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
