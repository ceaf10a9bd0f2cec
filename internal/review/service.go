package review

import (
	"context"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	xerrors "LobsterMarket/internal/errors"
	"LobsterMarket/internal/market"
	"LobsterMarket/internal/queue"
	"LobsterMarket/pkg/logger"
)

// ContractReader 提供评价资格判断所需的合同视图。
type ContractReader interface {
	ContractDetail(ctx context.Context, contractID string) (*market.ContractDetail, error)
}

// Service 负责创建评价并将其交给审核流程。
type Service struct {
	store     Store
	contracts ContractReader
	producer  queue.Producer
	screener  *Processor
	logger    *slog.Logger
	now       func() time.Time
}

// Option 定义可选配置。
type Option func(*Service)

// WithProducer 配置异步审核队列。未配置时在创建评价后同步审核。
func WithProducer(p queue.Producer) Option {
	return func(s *Service) {
		s.producer = p
	}
}

// WithLogger 指定日志输出。
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock 替换时间源。
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService 构造评价服务。screener 用于同步审核，以及异步投递失败时的兜底。
func NewService(store Store, contracts ContractReader, screener *Processor, opts ...Option) *Service {
	s := &Service{
		store:     store,
		contracts: contracts,
		screener:  screener,
		logger:    logger.Named("review"),
		now:       time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Create 由合同一方提交评价。合同必须已完成且托管曾经注资，每个身份只能评价一次。
func (s *Service) Create(ctx context.Context, callerID, contractID string, input Input) (*Review, error) {
	if s == nil || s.store == nil || s.contracts == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "评价服务未初始化")
	}
	if err := validate(input); err != nil {
		return nil, err
	}
	detail, err := s.contracts.ContractDetail(ctx, contractID)
	if err != nil {
		return nil, err
	}
	if detail.Contract.Status != market.ContractCompleted {
		return nil, xerrors.New(CodeNotEligible, "Can only review completed contracts")
	}
	if detail.Escrow.State == market.EscrowNone {
		return nil, xerrors.New(CodeNotEligible, "Cannot review: escrow was never funded")
	}

	var (
		role       Role
		revieweeID string
	)
	switch callerID {
	case detail.Contract.ClientID:
		role, revieweeID = RoleClient, detail.Agent.OwnerID
	case detail.Agent.OwnerID:
		role, revieweeID = RoleAgent, detail.Contract.ClientID
	default:
		return nil, xerrors.New(CodeNotParty, "You are not a party to this contract")
	}

	r := &Review{
		ID:             uuid.NewString(),
		ContractID:     detail.Contract.ID,
		ReviewerID:     callerID,
		RevieweeID:     revieweeID,
		AgentID:        detail.Contract.AgentID,
		ReviewerRole:   role,
		Quality:        input.Quality,
		Communication:  input.Communication,
		Timeliness:     input.Timeliness,
		WouldHireAgain: input.WouldHireAgain,
		Comment:        strings.TrimSpace(input.Comment),
		Weight:         DefaultWeight,
		CreatedAt:      s.now().UTC(),
	}
	if err := s.store.InsertReview(ctx, r); err != nil {
		return nil, err
	}
	logger.Audit().Info("review_created",
		slog.String("review_id", r.ID),
		slog.String("contract_id", r.ContractID),
		slog.String("reviewer_id", r.ReviewerID),
		slog.String("reviewee_id", r.RevieweeID),
		slog.String("reviewer_role", string(r.ReviewerRole)),
	)
	s.dispatch(ctx, r.ID)
	return r, nil
}

// dispatch 将评价交给审核流程。审核失败不影响评价本身。
func (s *Service) dispatch(ctx context.Context, reviewID string) {
	if s.producer != nil {
		err := s.producer.Publish(ctx, reviewID)
		if err == nil {
			return
		}
		s.logger.Warn("投递审核队列失败，改为同步审核", slog.Any("error", err), slog.String("review_id", reviewID))
	}
	if s.screener == nil {
		return
	}
	if err := s.screener.Screen(ctx, reviewID); err != nil {
		s.logger.Error("同步审核失败", slog.Any("error", err), slog.String("review_id", reviewID))
	}
}

func validate(input Input) error {
	for _, rating := range []int{input.Quality, input.Communication, input.Timeliness} {
		if rating < minRating || rating > maxRating {
			return xerrors.New(xerrors.CodeInvalidArgument, "Ratings must be 1-5")
		}
	}
	if utf8.RuneCountInString(strings.TrimSpace(input.Comment)) < minCommentLength {
		return xerrors.New(xerrors.CodeInvalidArgument, "Comment must be at least 20 characters")
	}
	return nil
}
