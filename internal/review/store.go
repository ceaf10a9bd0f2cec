package review

import "context"

// Store 负责评价与声誉事件的持久化。
type Store interface {
	// InsertReview 在同一合同同一身份已存在评价时返回 ErrDuplicate。
	InsertReview(ctx context.Context, review *Review) error
	GetReview(ctx context.Context, id string) (*Review, error)
	// InsertReputationEvent 对同一评价只记录一次，重复写入静默忽略。
	InsertReputationEvent(ctx context.Context, event *ReputationEvent) error
}
