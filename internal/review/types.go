package review

import (
	"time"

	xerrors "LobsterMarket/internal/errors"
)

// Role 表示评价人在合同中的身份。
type Role string

// 评价人身份。
const (
	RoleClient Role = "client"
	RoleAgent  Role = "agent"
)

// EventReviewReceived 是评价产生的声誉事件类型。
const EventReviewReceived = "review_received"

const (
	// DefaultWeight 是评价的初始权重，被标记可疑后降为 0.3。
	DefaultWeight = 1.0

	minRating        = 1
	maxRating        = 5
	minCommentLength = 20
)

// 评价相关错误码。
const (
	CodeReviewNotFound  xerrors.Code = "REVIEW_NOT_FOUND"
	CodeReviewDuplicate xerrors.Code = "REVIEW_DUPLICATE"
	CodeNotParty        xerrors.Code = "REVIEW_NOT_PARTY"
	CodeNotEligible     xerrors.Code = "REVIEW_NOT_ELIGIBLE"
	CodeScreenFailure   xerrors.Code = "REVIEW_SCREEN_FAILURE"
)

func init() {
	xerrors.Register(CodeReviewNotFound, xerrors.Attributes{
		Message:  "review not found",
		Kind:     xerrors.KindNotFound,
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeReviewDuplicate, xerrors.Attributes{
		Message:  "review already exists",
		Kind:     xerrors.KindConflict,
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeNotParty, xerrors.Attributes{
		Message:  "caller is not a party to this contract",
		Kind:     xerrors.KindForbidden,
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeNotEligible, xerrors.Attributes{
		Message:  "contract cannot be reviewed",
		Kind:     xerrors.KindBadRequest,
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeScreenFailure, xerrors.Attributes{
		Message:   "review screening failed",
		Kind:      xerrors.KindInternal,
		Severity:  xerrors.SeverityWarning,
		Retryable: true,
		Alert:     true,
	})
}

var (
	// ErrReviewNotFound 表示评价不存在。
	ErrReviewNotFound = xerrors.New(CodeReviewNotFound, "review not found")
	// ErrDuplicate 表示同一身份已评价过该合同。
	ErrDuplicate = xerrors.New(CodeReviewDuplicate, "You already reviewed this contract")
)

// Review 是合同完成后一方对另一方的评价。创建后内容不可修改，只有权重与隐藏标记可由审核流程调整。
type Review struct {
	ID             string    `json:"id" db:"id"`
	ContractID     string    `json:"contract_id" db:"contract_id"`
	ReviewerID     string    `json:"reviewer_id" db:"reviewer_id"`
	RevieweeID     string    `json:"reviewee_id" db:"reviewee_id"`
	AgentID        string    `json:"agent_id" db:"agent_id"`
	ReviewerRole   Role      `json:"reviewer_role" db:"reviewer_role"`
	Quality        int       `json:"quality" db:"quality"`
	Communication  int       `json:"communication" db:"communication"`
	Timeliness     int       `json:"timeliness" db:"timeliness"`
	WouldHireAgain *bool     `json:"would_hire_again,omitempty" db:"would_hire_again"`
	Comment        string    `json:"comment" db:"comment"`
	Weight         float64   `json:"weight" db:"weight"`
	Hidden         bool      `json:"hidden" db:"hidden"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
}

// Average 返回三项评分的平均值。
func (r *Review) Average() float64 {
	return float64(r.Quality+r.Communication+r.Timeliness) / 3
}

// ReputationEvent 记录评价对被评价人声誉的影响。
type ReputationEvent struct {
	ID           string    `json:"id" db:"id"`
	UserID       string    `json:"user_id" db:"user_id"`
	AgentID      string    `json:"agent_id,omitempty" db:"agent_id"`
	EventType    string    `json:"event_type" db:"event_type"`
	Delta        float64   `json:"delta" db:"delta"`
	ReviewID     string    `json:"review_id" db:"review_id"`
	ReviewerRole Role      `json:"reviewer_role" db:"reviewer_role"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

// Input 是创建评价的参数。
type Input struct {
	Quality        int    `json:"quality"`
	Communication  int    `json:"communication"`
	Timeliness     int    `json:"timeliness"`
	WouldHireAgain *bool  `json:"would_hire_again"`
	Comment        string `json:"comment"`
}
