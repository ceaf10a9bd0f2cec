package sqlstore

import (
	"context"
	"encoding/json"
	"time"

	"LobsterMarket/internal/auth"
	"LobsterMarket/internal/fraud"
	"LobsterMarket/internal/review"
)

const (
	reviewColumns = `id, contract_id, reviewer_id, reviewee_id, agent_id, reviewer_role, quality, communication, timeliness, would_hire_again, comment, weight, hidden, created_at`
	eventColumns  = `id, user_id, agent_id, event_type, delta, review_id, reviewer_role, created_at`
)

// InsertReview 写入评价，(contract_id, reviewer_role) 唯一。
func (s *Store) InsertReview(ctx context.Context, r *review.Review) error {
	query := `INSERT INTO reviews (` + reviewColumns + `) VALUES (:id, :contract_id, :reviewer_id, :reviewee_id, :agent_id, :reviewer_role, :quality, :communication, :timeliness, :would_hire_again, :comment, :weight, :hidden, :created_at)`
	if _, err := s.db.NamedExecContext(ctx, query, r); err != nil {
		if isDuplicate(err) {
			return review.ErrDuplicate
		}
		return storageError(err, "写入评价失败")
	}
	return nil
}

// GetReview 按 ID 读取评价。
func (s *Store) GetReview(ctx context.Context, id string) (*review.Review, error) {
	var r review.Review
	if err := s.get(ctx, &r, review.ErrReviewNotFound, `SELECT `+reviewColumns+` FROM reviews WHERE id = ?`, id); err != nil {
		return nil, err
	}
	return &r, nil
}

// InsertReputationEvent 依赖 review_id 唯一约束，重复写入静默忽略。
func (s *Store) InsertReputationEvent(ctx context.Context, event *review.ReputationEvent) error {
	query := `INSERT INTO reputation_events (` + eventColumns + `) VALUES (:id, :user_id, :agent_id, :event_type, :delta, :review_id, :reviewer_role, :created_at)`
	if _, err := s.db.NamedExecContext(ctx, query, event); err != nil {
		if isDuplicate(err) {
			return nil
		}
		return storageError(err, "写入声誉事件失败")
	}
	return nil
}

// CountPairReviews 统计评价人对被评价人的评价数。
func (s *Store) CountPairReviews(ctx context.Context, reviewerID, revieweeID string) (int, error) {
	var n int
	err := s.get(ctx, &n, nil, `SELECT COUNT(*) FROM reviews WHERE reviewer_id = ? AND reviewee_id = ?`, reviewerID, revieweeID)
	return n, err
}

// CountReviewsSince 统计评价人在 since 之后提交的评价数。
func (s *Store) CountReviewsSince(ctx context.Context, reviewerID string, since time.Time) (int, error) {
	var n int
	err := s.get(ctx, &n, nil, `SELECT COUNT(*) FROM reviews WHERE reviewer_id = ? AND created_at > ?`, reviewerID, since)
	return n, err
}

// UserCreatedAt 返回用户的注册时间。
func (s *Store) UserCreatedAt(ctx context.Context, userID string) (time.Time, error) {
	var at time.Time
	err := s.get(ctx, &at, auth.ErrUserNotFound, `SELECT created_at FROM users WHERE id = ?`, userID)
	return at, err
}

// RecentRatings 返回评价人最近 limit 条评价的评分。
func (s *Store) RecentRatings(ctx context.Context, reviewerID string, limit int) ([]fraud.Ratings, error) {
	var out []fraud.Ratings
	query := s.db.Rebind(`SELECT quality, communication, timeliness FROM reviews WHERE reviewer_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`)
	if err := s.db.SelectContext(ctx, &out, query, reviewerID, limit); err != nil {
		return nil, storageError(err, "查询评分失败")
	}
	return out, nil
}

// SetReviewWeight 调整评价权重。
func (s *Store) SetReviewWeight(ctx context.Context, reviewID string, weight float64) error {
	return s.exec(ctx, review.ErrReviewNotFound, `UPDATE reviews SET weight = ? WHERE id = ?`, weight, reviewID)
}

// RecordFlag 追加一条欺诈标记，触发的规则以 JSON 数组保存。
// 依赖 review_id 唯一约束，同一评价重复审核时静默忽略。
func (s *Store) RecordFlag(ctx context.Context, flag *fraud.Flag) error {
	rules, err := json.Marshal(flag.Rules)
	if err != nil {
		return storageError(err, "编码欺诈规则失败")
	}
	_, err = s.db.ExecContext(ctx, s.db.Rebind(
		`INSERT INTO fraud_flags (id, user_id, review_id, rules, pair_count, velocity, account_age_hours, perfect_streak, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		flag.ID, flag.UserID, flag.ReviewID, string(rules), flag.PairCount, flag.Velocity, flag.AccountAgeHours, flag.PerfectStreak, flag.CreatedAt)
	if err != nil {
		if isDuplicate(err) {
			return nil
		}
		return storageError(err, "写入欺诈标记失败")
	}
	return nil
}

// CountFlags 统计用户被标记的次数。
func (s *Store) CountFlags(ctx context.Context, userID string) (int, error) {
	var n int
	err := s.get(ctx, &n, nil, `SELECT COUNT(*) FROM fraud_flags WHERE user_id = ?`, userID)
	return n, err
}

// CountDisputesInitiated 统计用户发起的争议数。
func (s *Store) CountDisputesInitiated(ctx context.Context, userID string) (int, error) {
	var n int
	err := s.get(ctx, &n, nil, `SELECT COUNT(*) FROM disputes WHERE initiator_id = ?`, userID)
	return n, err
}
