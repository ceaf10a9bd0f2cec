package fraud

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	xerrors "LobsterMarket/internal/errors"
	"LobsterMarket/internal/observability/alerting"
	"LobsterMarket/internal/observability/metrics"
	"LobsterMarket/pkg/logger"
)

const (
	// SuspiciousWeight 是被标记评价的权重，默认权重为 1.0。
	SuspiciousWeight = 0.3

	collusionThreshold = 3
	velocityThreshold  = 5
	velocityWindow     = time.Hour
	newAccountAge      = 24 * time.Hour
	streakLength       = 5
	maxRating          = 5
)

// 触发的规则名称。
const (
	RuleCollusion     = "collusion"
	RuleVelocity      = "velocity"
	RuleNewAccount    = "new_account"
	RulePerfectStreak = "perfect_streak"
)

// CodeReviewFlagged 是评价被判定可疑时发出的告警码。
const CodeReviewFlagged xerrors.Code = "FRAUD_REVIEW_FLAGGED"

func init() {
	xerrors.Register(CodeReviewFlagged, xerrors.Attributes{
		Message:  "review flagged as suspicious",
		Kind:     xerrors.KindInternal,
		Severity: xerrors.SeverityWarning,
		Alert:    true,
	})
}

// Review 是检测所需的评价信息。
type Review struct {
	ID         string
	ReviewerID string
	RevieweeID string
}

// Ratings 是一条评价的三项评分。
type Ratings struct {
	Quality       int `db:"quality"`
	Communication int `db:"communication"`
	Timeliness    int `db:"timeliness"`
}

// Perfect 判断三项是否均为满分。
func (r Ratings) Perfect() bool {
	return r.Quality == maxRating && r.Communication == maxRating && r.Timeliness == maxRating
}

// Flag 是一条不可变的欺诈标记审计记录。
type Flag struct {
	ID              string    `json:"id"`
	UserID          string    `json:"user_id"`
	ReviewID        string    `json:"review_id"`
	Rules           []string  `json:"rules"`
	PairCount       int       `json:"pair_count"`
	Velocity        int       `json:"velocity"`
	AccountAgeHours int       `json:"account_age_hours"`
	PerfectStreak   int       `json:"perfect_streak"`
	CreatedAt       time.Time `json:"created_at"`
}

// Store 是检测器依赖的查询与写入能力。
type Store interface {
	// CountPairReviews 统计该评价人对该被评价人的全部评价数（包含刚创建的这条）。
	CountPairReviews(ctx context.Context, reviewerID, revieweeID string) (int, error)
	CountReviewsSince(ctx context.Context, reviewerID string, since time.Time) (int, error)
	UserCreatedAt(ctx context.Context, userID string) (time.Time, error)
	// RecentRatings 返回评价人最近的评分，按时间倒序。
	RecentRatings(ctx context.Context, reviewerID string, limit int) ([]Ratings, error)
	SetReviewWeight(ctx context.Context, reviewID string, weight float64) error
	RecordFlag(ctx context.Context, flag *Flag) error
	CountFlags(ctx context.Context, userID string) (int, error)
	CountDisputesInitiated(ctx context.Context, userID string) (int, error)
}

// Verdict 是一次检测的结果与触发计数。
type Verdict struct {
	Suspicious    bool
	Rules         []string
	PairCount     int
	Velocity      int
	AccountAge    time.Duration
	PerfectStreak int
}

// Detector 对新评价执行四项启发式检测，命中任一项即降低权重。
type Detector struct {
	store   Store
	alerter alerting.Dispatcher
	logger  *slog.Logger
	now     func() time.Time
}

// Option 定义可选配置。
type Option func(*Detector)

// WithAlertDispatcher 配置命中时的告警派发器。
func WithAlertDispatcher(d alerting.Dispatcher) Option {
	return func(det *Detector) {
		det.alerter = d
	}
}

// WithClock 替换时间源。
func WithClock(now func() time.Time) Option {
	return func(det *Detector) {
		if now != nil {
			det.now = now
		}
	}
}

// WithLogger 指定日志输出。
func WithLogger(l *slog.Logger) Option {
	return func(det *Detector) {
		if l != nil {
			det.logger = l
		}
	}
}

// NewDetector 构造 Detector。
func NewDetector(store Store, opts ...Option) *Detector {
	d := &Detector{store: store, logger: logger.Named("fraud"), now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	return d
}

// Inspect 评估评价但不产生副作用。单项查询失败按未命中处理。
func (d *Detector) Inspect(ctx context.Context, r Review) Verdict {
	var v Verdict
	if d == nil || d.store == nil {
		return v
	}
	now := d.now()

	if n, err := d.store.CountPairReviews(ctx, r.ReviewerID, r.RevieweeID); err != nil {
		d.warn("统计评价对失败", r, err)
	} else {
		v.PairCount = n
		if n > collusionThreshold {
			v.Rules = append(v.Rules, RuleCollusion)
		}
	}

	if n, err := d.store.CountReviewsSince(ctx, r.ReviewerID, now.Add(-velocityWindow)); err != nil {
		d.warn("统计评价频率失败", r, err)
	} else {
		v.Velocity = n
		if n > velocityThreshold {
			v.Rules = append(v.Rules, RuleVelocity)
		}
	}

	if created, err := d.store.UserCreatedAt(ctx, r.ReviewerID); err != nil {
		d.warn("读取账户年龄失败", r, err)
	} else {
		v.AccountAge = now.Sub(created)
		if v.AccountAge < newAccountAge {
			v.Rules = append(v.Rules, RuleNewAccount)
		}
	}

	if ratings, err := d.store.RecentRatings(ctx, r.ReviewerID, streakLength); err != nil {
		d.warn("读取最近评分失败", r, err)
	} else {
		for _, rating := range ratings {
			if rating.Perfect() {
				v.PerfectStreak++
			}
		}
		if v.PerfectStreak >= streakLength {
			v.Rules = append(v.Rules, RulePerfectStreak)
		}
	}

	v.Suspicious = len(v.Rules) > 0
	return v
}

// Check 评估评价，命中时将权重降为 0.3 并写入欺诈标记。评价本身不会被删除或隐藏。
// 该过程尽力而为，任何存储错误都不会阻断评价创建。
func (d *Detector) Check(ctx context.Context, r Review) bool {
	v := d.Inspect(ctx, r)
	metrics.ObserveReviewScreened(v.Suspicious, v.Rules)
	if !v.Suspicious {
		return false
	}
	if err := d.store.SetReviewWeight(ctx, r.ID, SuspiciousWeight); err != nil {
		d.logger.Error("降低评价权重失败", slog.Any("error", err), slog.String("review_id", r.ID))
	}
	flag := &Flag{
		ID:              uuid.NewString(),
		UserID:          r.ReviewerID,
		ReviewID:        r.ID,
		Rules:           v.Rules,
		PairCount:       v.PairCount,
		Velocity:        v.Velocity,
		AccountAgeHours: int(v.AccountAge.Hours()),
		PerfectStreak:   v.PerfectStreak,
		CreatedAt:       d.now().UTC(),
	}
	if err := d.store.RecordFlag(ctx, flag); err != nil {
		d.logger.Error("写入欺诈标记失败", slog.Any("error", err), slog.String("review_id", r.ID))
	}
	logger.Audit().Warn("fraud_flag",
		slog.String("user_id", r.ReviewerID),
		slog.String("review_id", r.ID),
		slog.Any("rules", v.Rules),
		slog.Int("pair_count", v.PairCount),
		slog.Int("velocity", v.Velocity),
		slog.Int("account_age_hours", flag.AccountAgeHours),
		slog.Int("perfect_streak", v.PerfectStreak),
	)
	d.emitAlert(ctx, r, v)
	return true
}

// SuspiciousScore 返回用户的可疑度（0-100），仅供参考，不参与任何状态迁移的判断。
func (d *Detector) SuspiciousScore(ctx context.Context, userID string) float64 {
	if d == nil || d.store == nil {
		return 0
	}
	var score float64
	if flags, err := d.store.CountFlags(ctx, userID); err == nil {
		score += minFloat(float64(flags)*15, 60)
	}
	if created, err := d.store.UserCreatedAt(ctx, userID); err == nil {
		days := int(d.now().Sub(created).Hours() / 24)
		switch {
		case days < 7:
			score += 20
		case days < 30:
			score += 10
		}
	}
	if disputes, err := d.store.CountDisputesInitiated(ctx, userID); err == nil {
		score += minFloat(float64(disputes)*5, 20)
	}
	return minFloat(score, 100)
}

func (d *Detector) warn(msg string, r Review, err error) {
	d.logger.Warn(msg, slog.Any("error", err), slog.String("review_id", r.ID), slog.String("reviewer_id", r.ReviewerID))
}

func (d *Detector) emitAlert(ctx context.Context, r Review, v Verdict) {
	if d.alerter == nil {
		return
	}
	attrs := xerrors.AttributesOf(CodeReviewFlagged)
	event := alerting.Event{
		Code:       CodeReviewFlagged,
		Message:    fmt.Sprintf("review %s flagged: %v", r.ID, v.Rules),
		Severity:   attrs.Severity,
		EntityType: "review",
		EntityID:   r.ID,
		Metadata: map[string]string{
			"reviewer_id": r.ReviewerID,
			"reviewee_id": r.RevieweeID,
			"pair_count":  fmt.Sprint(v.PairCount),
			"velocity":    fmt.Sprint(v.Velocity),
		},
		OccurredAt: d.now(),
	}
	if err := d.alerter.Notify(ctx, event); err != nil {
		d.logger.Error("告警通知失败", slog.Any("error", err), slog.String("review_id", r.ID))
	}
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
