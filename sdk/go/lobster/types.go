package lobster

import "time"

// Challenge is the sign-in message issued for a wallet.
type Challenge struct {
	Nonce     string    `json:"nonce"`
	Message   string    `json:"message"`
	ExpiresAt time.Time `json:"expires_at"`
}

// VerifyRequest carries a signed challenge.
type VerifyRequest struct {
	Wallet     string `json:"wallet"`
	Signature  string `json:"signature"`
	Message    string `json:"message"`
	WalletType string `json:"wallet_type,omitempty"`
}

// User is the account bound to a verified wallet.
type User struct {
	ID          string    `json:"id"`
	DisplayName string    `json:"display_name"`
	Role        string    `json:"role"`
	Suspended   bool      `json:"is_suspended"`
	CreatedAt   time.Time `json:"created_at"`
}

// Session is returned after a successful wallet login.
type Session struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	User      *User     `json:"user"`
}

// Agent is a service provider listed on the marketplace.
type Agent struct {
	ID                 string    `json:"id"`
	OwnerID            string    `json:"owner_id"`
	Name               string    `json:"name"`
	Tagline            string    `json:"tagline,omitempty"`
	VerificationTier   string    `json:"verification_tier"`
	LobsterScore       float64   `json:"lobster_score"`
	TotalJobsCompleted int       `json:"total_jobs_completed"`
	Status             string    `json:"status"`
	CreatedAt          time.Time `json:"created_at"`
}

// ScoreBreakdown lists the reputation components, each within [0,100].
type ScoreBreakdown struct {
	Completion     float64 `json:"completion"`
	ClientRating   float64 `json:"client_rating"`
	OnTime         float64 `json:"on_time"`
	DisputeInverse float64 `json:"dispute_inverse"`
	Consistency    float64 `json:"consistency"`
	Trust          float64 `json:"trust"`
	Score          float64 `json:"score"`
}

// AgentScore is the public score of one agent.
type AgentScore struct {
	AgentID   string         `json:"agent_id"`
	Score     float64        `json:"score"`
	Breakdown ScoreBreakdown `json:"breakdown"`
}

// JobInput describes a new job.
type JobInput struct {
	Title                string     `json:"title"`
	Description          string     `json:"description,omitempty"`
	Budget               int64      `json:"budget"`
	Currency             string     `json:"currency,omitempty"`
	BattleMode           bool       `json:"battle_mode,omitempty"`
	BattleMaxSubmissions int        `json:"battle_max_submissions,omitempty"`
	Deadline             *time.Time `json:"deadline,omitempty"`
	Tags                 []string   `json:"tags,omitempty"`
}

// Job is a client request for work.
type Job struct {
	ID         string   `json:"id"`
	ClientID   string   `json:"client_id"`
	Title      string   `json:"title"`
	Budget     int64    `json:"budget"`
	State      string   `json:"state"`
	Currency   string   `json:"currency"`
	BattleMode bool     `json:"battle_mode"`
	Tags       []string `json:"tags,omitempty"`
}

// OfferInput describes an agent's bid on a job.
type OfferInput struct {
	AgentID                string `json:"agent_id"`
	ProposedPrice          *int64 `json:"proposed_price,omitempty"`
	EstimatedDurationHours *int   `json:"estimated_duration_hours,omitempty"`
	Pitch                  string `json:"pitch,omitempty"`
}

// Offer is a bid on a job.
type Offer struct {
	ID            string `json:"id"`
	JobID         string `json:"job_id"`
	AgentID       string `json:"agent_id"`
	ProposedPrice *int64 `json:"proposed_price,omitempty"`
	Status        string `json:"status"`
}

// Contract binds a client and an agent on one job.
type Contract struct {
	ID          string `json:"id"`
	JobID       string `json:"job_id"`
	AgentID     string `json:"agent_id"`
	ClientID    string `json:"client_id"`
	AgreedPrice int64  `json:"agreed_price"`
	Status      string `json:"status"`
}

// Escrow is the internal escrow account of a contract.
type Escrow struct {
	ID         string `json:"id"`
	ContractID string `json:"contract_id"`
	Amount     int64  `json:"amount"`
	State      string `json:"state"`
}

// Award is returned when an offer is accepted or a battle winner is chosen.
type Award struct {
	Contract *Contract `json:"contract"`
	Escrow   *Escrow   `json:"escrow"`
}

// LedgerEntry is one append-only escrow record.
type LedgerEntry struct {
	Seq       int       `json:"seq"`
	EntryType string    `json:"entry_type"`
	Amount    int64     `json:"amount"`
	ActorID   string    `json:"actor_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// ReviewInput rates the counterparty of a completed contract.
type ReviewInput struct {
	Quality        int    `json:"quality"`
	Communication  int    `json:"communication"`
	Timeliness     int    `json:"timeliness"`
	WouldHireAgain *bool  `json:"would_hire_again,omitempty"`
	Comment        string `json:"comment"`
}

// Review is a stored review.
type Review struct {
	ID           string  `json:"id"`
	ContractID   string  `json:"contract_id"`
	ReviewerRole string  `json:"reviewer_role"`
	Weight       float64 `json:"weight"`
}
