package reputation

import (
	"context"
	stdErrors "errors"
	"log/slog"
	"math"
	"sort"
	"time"

	"LobsterMarket/internal/market"
	"LobsterMarket/internal/observability/metrics"
	"LobsterMarket/pkg/logger"
)

const (
	// NeutralScore 是缺少数据时的中性分值。
	NeutralScore = 50.0

	priorWeight        = 5.0
	consistencyWindow  = 10
	maxRatingVariance  = 4.0
	trustAgeHorizonDay = 90.0
	snapshotDateLayout = "2006-01-02"
)

// 各分项权重。
const (
	weightCompletion     = 0.35
	weightClientRating   = 0.20
	weightOnTime         = 0.15
	weightDisputeInverse = 0.10
	weightConsistency    = 0.10
	weightTrust          = 0.10
)

var tierScores = map[market.VerificationTier]float64{
	market.TierUnverified: 30,
	market.TierVerified:   70,
	market.TierProved:     100,
}

// ReviewSample 是一条客户评价对评分的贡献。
type ReviewSample struct {
	Average float64
	Weight  float64
}

// Snapshot 是某日排行榜中的一行。
type Snapshot struct {
	AgentID string  `json:"agent_id" db:"agent_id"`
	Score   float64 `json:"score" db:"score"`
	Rank    int     `json:"rank" db:"rank_position"`
	Date    string  `json:"snapshot_date" db:"snapshot_date"`
}

// Store 是评分引擎依赖的读写能力，每个方法独立执行，不跨 Agent 持锁。
type Store interface {
	GetAgent(ctx context.Context, id string) (*market.Agent, error)
	ListActiveAgents(ctx context.Context) ([]market.Agent, error)
	ContractCounts(ctx context.Context, agentID string) (total, completed int, err error)
	CountDisputesAgainst(ctx context.Context, agentID string) (int, error)
	// ClientReviews 返回客户对该 Agent 的未隐藏评价，按时间倒序。
	ClientReviews(ctx context.Context, agentID string) ([]ReviewSample, error)
	UpdateAgentScore(ctx context.Context, agentID string, score float64, at time.Time) error
	// UpsertSnapshots 按 (agent, date) 覆盖写入。
	UpsertSnapshots(ctx context.Context, snapshots []Snapshot) error
	Leaderboard(ctx context.Context, limit int) ([]market.Agent, error)
}

// Breakdown 是评分的各分项，均在 [0,100] 内。
type Breakdown struct {
	Completion     float64 `json:"completion"`
	ClientRating   float64 `json:"client_rating"`
	OnTime         float64 `json:"on_time"`
	DisputeInverse float64 `json:"dispute_inverse"`
	Consistency    float64 `json:"consistency"`
	Trust          float64 `json:"trust"`
	Score          float64 `json:"score"`
}

// Report 汇总一次 RefreshAll 的结果。
type Report struct {
	Date     string        `json:"date"`
	Agents   int           `json:"agents"`
	Failed   int           `json:"failed"`
	Duration time.Duration `json:"duration"`
}

// Engine 由合同结果与加权评价计算 Agent 的 Lobster Score。
type Engine struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

// Option 定义可选配置。
type Option func(*Engine)

// WithLogger 指定日志输出。
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithClock 替换时间源。
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// NewEngine 构造评分引擎。
func NewEngine(store Store, opts ...Option) *Engine {
	e := &Engine{store: store, logger: logger.Named("reputation"), now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// ComputeScore 计算 Agent 的分数，Agent 不存在时返回中性分 50。
func (e *Engine) ComputeScore(ctx context.Context, agentID string) (float64, error) {
	agent, err := e.store.GetAgent(ctx, agentID)
	if err != nil {
		if stdErrors.Is(err, market.ErrAgentNotFound) {
			return NeutralScore, nil
		}
		return 0, err
	}
	b, err := e.Breakdown(ctx, agent)
	if err != nil {
		return 0, err
	}
	return b.Score, nil
}

// Breakdown 计算 Agent 的各分项与总分。
func (e *Engine) Breakdown(ctx context.Context, agent *market.Agent) (Breakdown, error) {
	var b Breakdown
	n := float64(agent.TotalJobsCompleted)
	if n < 0 {
		n = 0
	}

	total, completed, err := e.store.ContractCounts(ctx, agent.ID)
	if err != nil {
		return b, err
	}
	disputes, err := e.store.CountDisputesAgainst(ctx, agent.ID)
	if err != nil {
		return b, err
	}
	reviews, err := e.store.ClientReviews(ctx, agent.ID)
	if err != nil {
		return b, err
	}

	rawCompletion := NeutralScore
	rawDispute := NeutralScore
	if total > 0 {
		rawCompletion = 100 * float64(completed) / float64(total)
		rawDispute = math.Max(0, 100*(1-float64(disputes)/float64(total)))
	}

	b.Completion = smooth(rawCompletion, n)
	b.ClientRating = smooth(clientRating(reviews), n)
	b.OnTime = smooth(agent.OnTimePct, n)
	b.DisputeInverse = smooth(rawDispute, n)
	b.Consistency = smooth(consistency(reviews), n)
	b.Trust = clamp(e.trust(agent))

	b.Score = clamp(weightCompletion*b.Completion +
		weightClientRating*b.ClientRating +
		weightOnTime*b.OnTime +
		weightDisputeInverse*b.DisputeInverse +
		weightConsistency*b.Consistency +
		weightTrust*b.Trust)
	return b, nil
}

// AgentScore 返回 Agent 的分项明细，Agent 不存在时各分项均为中性分。
func (e *Engine) AgentScore(ctx context.Context, agentID string) (Breakdown, error) {
	agent, err := e.store.GetAgent(ctx, agentID)
	if err != nil {
		if stdErrors.Is(err, market.ErrAgentNotFound) {
			return Breakdown{
				Completion: NeutralScore, ClientRating: NeutralScore, OnTime: NeutralScore,
				DisputeInverse: NeutralScore, Consistency: NeutralScore, Trust: NeutralScore,
				Score: NeutralScore,
			}, nil
		}
		return Breakdown{}, err
	}
	return e.Breakdown(ctx, agent)
}

// RefreshAll 重新计算并持久化每个活跃 Agent 的分数，然后按分数降序写入当日排行快照。
// 每个 Agent 独立读写，单个失败只记录日志并沿用其旧分数参与排名。
func (e *Engine) RefreshAll(ctx context.Context) (Report, error) {
	start := e.now()
	report := Report{Date: start.UTC().Format(snapshotDateLayout)}
	agents, err := e.store.ListActiveAgents(ctx)
	if err != nil {
		metrics.ObserveRefresh(time.Since(start), 0, err)
		return report, err
	}

	snapshots := make([]Snapshot, 0, len(agents))
	for i := range agents {
		if err := ctx.Err(); err != nil {
			metrics.ObserveRefresh(time.Since(start), report.Agents, err)
			return report, err
		}
		agent := &agents[i]
		score := agent.LobsterScore
		b, err := e.Breakdown(ctx, agent)
		if err == nil {
			err = e.store.UpdateAgentScore(ctx, agent.ID, b.Score, e.now().UTC())
		}
		if err != nil {
			report.Failed++
			e.logger.Error("刷新 Agent 分数失败", slog.Any("error", err), slog.String("agent_id", agent.ID))
		} else {
			score = b.Score
			report.Agents++
		}
		snapshots = append(snapshots, Snapshot{AgentID: agent.ID, Score: score, Date: report.Date})
	}

	Rank(snapshots)
	if err := e.store.UpsertSnapshots(ctx, snapshots); err != nil {
		metrics.ObserveRefresh(time.Since(start), report.Agents, err)
		return report, err
	}
	report.Duration = time.Since(start)
	metrics.ObserveRefresh(report.Duration, report.Agents, nil)
	logger.Audit().Info("leaderboard_refreshed",
		slog.String("date", report.Date),
		slog.Int("agents", report.Agents),
		slog.Int("failed", report.Failed),
		slog.Duration("duration", report.Duration),
	)
	return report, nil
}

// Leaderboard 返回按分数排序的活跃 Agent。
func (e *Engine) Leaderboard(ctx context.Context, limit int) ([]market.Agent, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return e.store.Leaderboard(ctx, limit)
}

// Rank 按分数降序为快照编号，同分按 Agent ID 排序以保证结果稳定。
func Rank(snapshots []Snapshot) {
	sort.SliceStable(snapshots, func(i, j int) bool {
		if snapshots[i].Score != snapshots[j].Score {
			return snapshots[i].Score > snapshots[j].Score
		}
		return snapshots[i].AgentID < snapshots[j].AgentID
	})
	for i := range snapshots {
		snapshots[i].Rank = i + 1
	}
}

func (e *Engine) trust(agent *market.Agent) float64 {
	tier, ok := tierScores[agent.VerificationTier]
	if !ok {
		tier = tierScores[market.TierUnverified]
	}
	ageDays := math.Floor(e.now().Sub(agent.CreatedAt).Hours() / 24)
	age := math.Max(0, math.Min(ageDays/trustAgeHorizonDay, 1)) * 100
	return (tier + age) / 2
}

func clientRating(reviews []ReviewSample) float64 {
	if len(reviews) == 0 {
		return NeutralScore
	}
	var sum float64
	for _, r := range reviews {
		sum += r.Average * r.Weight
	}
	return sum / float64(len(reviews)) / 5 * 100
}

func consistency(reviews []ReviewSample) float64 {
	if len(reviews) > consistencyWindow {
		reviews = reviews[:consistencyWindow]
	}
	if len(reviews) < 2 {
		return NeutralScore
	}
	var mean float64
	for _, r := range reviews {
		mean += r.Average
	}
	mean /= float64(len(reviews))
	var variance float64
	for _, r := range reviews {
		d := r.Average - mean
		variance += d * d
	}
	variance /= float64(len(reviews))
	return 100 * (1 - math.Min(variance/maxRatingVariance, 1))
}

// smooth 以 k=5 个中性虚拟样本做贝叶斯平滑。
func smooth(raw, n float64) float64 {
	return clamp((raw*n + NeutralScore*priorWeight) / (n + priorWeight))
}

func clamp(v float64) float64 {
	if math.IsNaN(v) {
		return NeutralScore
	}
	return math.Max(0, math.Min(100, v))
}
