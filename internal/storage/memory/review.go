package memory

import (
	"context"
	"time"

	"LobsterMarket/internal/auth"
	"LobsterMarket/internal/fraud"
	"LobsterMarket/internal/review"
)

// InsertReview 写入评价，同一合同同一身份只允许一条。
func (db *DB) InsertReview(_ context.Context, r *review.Review) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	for _, existing := range db.reviews {
		if existing.ContractID == r.ContractID && existing.ReviewerRole == r.ReviewerRole {
			return review.ErrDuplicate
		}
	}
	cp := *r
	db.reviews[r.ID] = &cp
	db.reviewOrder = append(db.reviewOrder, r.ID)
	return nil
}

// GetReview 按 ID 读取评价。
func (db *DB) GetReview(_ context.Context, id string) (*review.Review, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	r, ok := db.reviews[id]
	if !ok {
		return nil, review.ErrReviewNotFound
	}
	cp := *r
	return &cp, nil
}

// InsertReputationEvent 每条评价只记录一次声誉事件。
func (db *DB) InsertReputationEvent(_ context.Context, event *review.ReputationEvent) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if _, ok := db.events[event.ReviewID]; ok {
		return nil
	}
	cp := *event
	db.events[event.ReviewID] = &cp
	return nil
}

// ReputationEvents 返回用户收到的声誉事件。
func (db *DB) ReputationEvents(_ context.Context, userID string) []review.ReputationEvent {
	db.mu.RLock()
	defer db.mu.RUnlock()
	var out []review.ReputationEvent
	for _, id := range db.reviewOrder {
		if e, ok := db.events[id]; ok && e.UserID == userID {
			out = append(out, *e)
		}
	}
	return out
}

// CountPairReviews 统计评价人对被评价人的评价数。
func (db *DB) CountPairReviews(_ context.Context, reviewerID, revieweeID string) (int, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	n := 0
	for _, r := range db.reviews {
		if r.ReviewerID == reviewerID && r.RevieweeID == revieweeID {
			n++
		}
	}
	return n, nil
}

// CountReviewsSince 统计评价人在 since 之后提交的评价数。
func (db *DB) CountReviewsSince(_ context.Context, reviewerID string, since time.Time) (int, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	n := 0
	for _, r := range db.reviews {
		if r.ReviewerID == reviewerID && r.CreatedAt.After(since) {
			n++
		}
	}
	return n, nil
}

// UserCreatedAt 返回用户的注册时间。
func (db *DB) UserCreatedAt(_ context.Context, userID string) (time.Time, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	u, ok := db.users[userID]
	if !ok {
		return time.Time{}, auth.ErrUserNotFound
	}
	return u.CreatedAt, nil
}

// RecentRatings 返回评价人最近 limit 条评价的评分。
func (db *DB) RecentRatings(_ context.Context, reviewerID string, limit int) ([]fraud.Ratings, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	var out []fraud.Ratings
	for i := len(db.reviewOrder) - 1; i >= 0 && len(out) < limit; i-- {
		r := db.reviews[db.reviewOrder[i]]
		if r.ReviewerID == reviewerID {
			out = append(out, fraud.Ratings{Quality: r.Quality, Communication: r.Communication, Timeliness: r.Timeliness})
		}
	}
	return out, nil
}

// SetReviewWeight 调整评价权重。
func (db *DB) SetReviewWeight(_ context.Context, reviewID string, weight float64) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	r, ok := db.reviews[reviewID]
	if !ok {
		return review.ErrReviewNotFound
	}
	r.Weight = weight
	return nil
}

// RecordFlag 追加一条欺诈标记，每条评价最多一条。
func (db *DB) RecordFlag(_ context.Context, flag *fraud.Flag) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	for _, f := range db.flags {
		if f.ReviewID == flag.ReviewID {
			return nil
		}
	}
	cp := *flag
	cp.Rules = append([]string(nil), flag.Rules...)
	db.flags = append(db.flags, cp)
	return nil
}

// CountFlags 统计用户被标记的次数。
func (db *DB) CountFlags(_ context.Context, userID string) (int, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	n := 0
	for _, f := range db.flags {
		if f.UserID == userID {
			n++
		}
	}
	return n, nil
}

// Flags 返回用户的全部欺诈标记。
func (db *DB) Flags(_ context.Context, userID string) []fraud.Flag {
	db.mu.RLock()
	defer db.mu.RUnlock()
	var out []fraud.Flag
	for _, f := range db.flags {
		if f.UserID == userID {
			out = append(out, f)
		}
	}
	return out
}

// CountDisputesInitiated 统计用户发起的争议数。
func (db *DB) CountDisputesInitiated(_ context.Context, userID string) (int, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	n := 0
	for _, d := range db.disputes {
		if d.InitiatorID == userID {
			n++
		}
	}
	return n, nil
}
