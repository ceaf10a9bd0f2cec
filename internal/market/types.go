package market

import "time"

// Agent 是由用户拥有、可接单的服务方。
type Agent struct {
	ID                 string           `json:"id" db:"id"`
	OwnerID            string           `json:"owner_id" db:"owner_id"`
	Name               string           `json:"name" db:"name"`
	Tagline            string           `json:"tagline,omitempty" db:"tagline"`
	VerificationTier   VerificationTier `json:"verification_tier" db:"verification_tier"`
	LobsterScore       float64          `json:"lobster_score" db:"lobster_score"`
	TotalJobsCompleted int              `json:"total_jobs_completed" db:"total_jobs_completed"`
	OnTimePct          float64          `json:"on_time_pct" db:"on_time_pct"`
	Status             AgentStatus      `json:"status" db:"status"`
	CreatedAt          time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time        `json:"updated_at" db:"updated_at"`
}

// Job 是客户发布的需求。
type Job struct {
	ID                     string     `json:"id" db:"id"`
	ClientID               string     `json:"client_id" db:"client_id"`
	Title                  string     `json:"title" db:"title"`
	Description            string     `json:"description" db:"description"`
	Budget                 int64      `json:"budget" db:"budget"`
	State                  JobState   `json:"state" db:"state"`
	Currency               string     `json:"currency" db:"currency"`
	CurrencyChain          string     `json:"currency_chain" db:"currency_chain"`
	BattleMode             bool       `json:"battle_mode" db:"battle_mode"`
	BattleMaxSubmissions   int        `json:"battle_max_submissions" db:"battle_max_submissions"`
	BattlePartialRewardPct int        `json:"battle_partial_reward_pct" db:"battle_partial_reward_pct"`
	Deadline               *time.Time `json:"deadline,omitempty" db:"deadline"`
	Tags                   []string   `json:"tags,omitempty" db:"-"`
	CreatedAt              time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt              time.Time  `json:"updated_at" db:"updated_at"`
}

// Offer 是 Agent 对任务的报价。
type Offer struct {
	ID                     string     `json:"id" db:"id"`
	JobID                  string     `json:"job_id" db:"job_id"`
	AgentID                string     `json:"agent_id" db:"agent_id"`
	ProposedPrice          *int64     `json:"proposed_price,omitempty" db:"proposed_price"`
	EstimatedDurationHours *int       `json:"estimated_duration_hours,omitempty" db:"estimated_duration_hours"`
	Pitch                  string     `json:"pitch" db:"pitch"`
	Status                 OfferState `json:"status" db:"status"`
	CreatedAt              time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt              time.Time  `json:"updated_at" db:"updated_at"`
}

// Price 返回报价金额，未报价时为 0。
func (o *Offer) Price() int64 {
	if o == nil || o.ProposedPrice == nil {
		return 0
	}
	return *o.ProposedPrice
}

// Contract 在报价被接受或擂台胜者确定时创建，每个任务只有一份。
type Contract struct {
	ID          string         `json:"id" db:"id"`
	JobID       string         `json:"job_id" db:"job_id"`
	OfferID     string         `json:"offer_id" db:"offer_id"`
	AgentID     string         `json:"agent_id" db:"agent_id"`
	ClientID    string         `json:"client_id" db:"client_id"`
	AgreedPrice int64          `json:"agreed_price" db:"agreed_price"`
	Status      ContractStatus `json:"status" db:"status"`
	CreatedAt   time.Time      `json:"created_at" db:"created_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty" db:"completed_at"`
}

// EscrowAccount 是合同对应的内部托管记账，金额创建后不可变。
type EscrowAccount struct {
	ID         string      `json:"id" db:"id"`
	ContractID string      `json:"contract_id" db:"contract_id"`
	Amount     int64       `json:"amount" db:"amount"`
	State      EscrowState `json:"state" db:"state"`
	CreatedAt  time.Time   `json:"created_at" db:"created_at"`
	FundedAt   *time.Time  `json:"funded_at,omitempty" db:"funded_at"`
	LockedAt   *time.Time  `json:"locked_at,omitempty" db:"locked_at"`
	ReleasedAt *time.Time  `json:"released_at,omitempty" db:"released_at"`
	RefundedAt *time.Time  `json:"refunded_at,omitempty" db:"refunded_at"`
}

// LedgerEntry 是托管账本中的一条只追加记录。
type LedgerEntry struct {
	ID        string    `json:"id" db:"id"`
	EscrowID  string    `json:"escrow_id" db:"escrow_id"`
	Seq       int       `json:"seq" db:"seq"`
	EntryType EntryType `json:"entry_type" db:"entry_type"`
	Amount    int64     `json:"amount" db:"amount"`
	ActorID   string    `json:"actor_id,omitempty" db:"actor_id"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Submission 是 Agent 提交的交付物，擂台模式下也是参赛作品。
type Submission struct {
	ID           string           `json:"id" db:"id"`
	JobID        string           `json:"job_id" db:"job_id"`
	AgentID      string           `json:"agent_id" db:"agent_id"`
	ContractID   string           `json:"contract_id,omitempty" db:"contract_id"`
	Content      string           `json:"content" db:"content"`
	ArtifactsURL string           `json:"artifacts_url,omitempty" db:"artifacts_url"`
	Status       SubmissionStatus `json:"status" db:"status"`
	IsBattle     bool             `json:"is_battle_submission" db:"is_battle_submission"`
	CreatedAt    time.Time        `json:"created_at" db:"created_at"`
}

// Dispute 记录针对合同发起的争议。
type Dispute struct {
	ID          string        `json:"id" db:"id"`
	ContractID  string        `json:"contract_id" db:"contract_id"`
	InitiatorID string        `json:"initiator_id" db:"initiator_id"`
	Reason      string        `json:"reason" db:"reason"`
	Status      DisputeStatus `json:"status" db:"status"`
	CreatedAt   time.Time     `json:"created_at" db:"created_at"`
}

// Award 是接受报价或选出擂台胜者后生成的合同与托管。
type Award struct {
	Contract *Contract      `json:"contract"`
	Escrow   *EscrowAccount `json:"escrow"`
}

// ContractDetail 聚合合同及其关联对象，供评价等下游流程判断资格。
type ContractDetail struct {
	Contract *Contract      `json:"contract"`
	Escrow   *EscrowAccount `json:"escrow"`
	Agent    *Agent         `json:"agent"`
	Job      *Job           `json:"job"`
}

// AgentInput 是注册 Agent 的参数。
type AgentInput struct {
	Name    string `json:"name"`
	Tagline string `json:"tagline"`
}

// JobInput 是创建任务的参数。
type JobInput struct {
	Title                  string     `json:"title"`
	Description            string     `json:"description"`
	Budget                 int64      `json:"budget"`
	Currency               string     `json:"currency"`
	CurrencyChain          string     `json:"currency_chain"`
	BattleMode             bool       `json:"battle_mode"`
	BattleMaxSubmissions   int        `json:"battle_max_submissions"`
	BattlePartialRewardPct int        `json:"battle_partial_reward_pct"`
	Deadline               *time.Time `json:"deadline"`
	Tags                   []string   `json:"tags"`
}

// OfferInput 是提交报价的参数。
type OfferInput struct {
	JobID                  string `json:"job_id"`
	AgentID                string `json:"agent_id"`
	ProposedPrice          *int64 `json:"proposed_price"`
	EstimatedDurationHours *int   `json:"estimated_duration_hours"`
	Pitch                  string `json:"pitch"`
}

// BattleInput 是擂台投稿的参数。
type BattleInput struct {
	JobID                  string `json:"job_id"`
	AgentID                string `json:"agent_id"`
	Content                string `json:"content"`
	ArtifactsURL           string `json:"artifacts_url"`
	ProposedPrice          *int64 `json:"proposed_price"`
	EstimatedDurationHours *int   `json:"estimated_duration_hours"`
}

// WorkInput 是合同交付的参数。
type WorkInput struct {
	Content      string `json:"content"`
	ArtifactsURL string `json:"artifacts_url"`
}
