package memory

import (
	"context"
	"sort"
	"time"

	"LobsterMarket/internal/market"
	"LobsterMarket/internal/reputation"
	"LobsterMarket/internal/review"
)

// GetAgent 读取 Agent。
func (db *DB) GetAgent(_ context.Context, id string) (*market.Agent, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	a, ok := db.agents[id]
	if !ok {
		return nil, market.ErrAgentNotFound
	}
	cp := *a
	return &cp, nil
}

// ListActiveAgents 返回全部活跃 Agent。
func (db *DB) ListActiveAgents(_ context.Context) ([]market.Agent, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	out := db.agentsByScore()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ContractCounts 统计 Agent 的合同总数与已完成数。
func (db *DB) ContractCounts(_ context.Context, agentID string) (int, int, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	total, completed := 0, 0
	for _, c := range db.contracts {
		if c.AgentID != agentID {
			continue
		}
		total++
		if c.Status == market.ContractCompleted {
			completed++
		}
	}
	return total, completed, nil
}

// CountDisputesAgainst 统计 Agent 合同上的争议数。
func (db *DB) CountDisputesAgainst(_ context.Context, agentID string) (int, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	n := 0
	for _, d := range db.disputes {
		if c, ok := db.contracts[d.ContractID]; ok && c.AgentID == agentID {
			n++
		}
	}
	return n, nil
}

// ClientReviews 返回客户对 Agent 的未隐藏评价，按时间倒序。
func (db *DB) ClientReviews(_ context.Context, agentID string) ([]reputation.ReviewSample, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	var out []reputation.ReviewSample
	for i := len(db.reviewOrder) - 1; i >= 0; i-- {
		r := db.reviews[db.reviewOrder[i]]
		if r.AgentID != agentID || r.ReviewerRole != review.RoleClient || r.Hidden {
			continue
		}
		out = append(out, reputation.ReviewSample{Average: r.Average(), Weight: r.Weight})
	}
	return out, nil
}

// UpdateAgentScore 写入 Agent 的最新分数。
func (db *DB) UpdateAgentScore(_ context.Context, agentID string, score float64, at time.Time) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	a, ok := db.agents[agentID]
	if !ok {
		return market.ErrAgentNotFound
	}
	a.LobsterScore = score
	a.UpdatedAt = at
	return nil
}

// UpsertSnapshots 按 (agent, date) 覆盖写入排行快照。
func (db *DB) UpsertSnapshots(_ context.Context, snapshots []reputation.Snapshot) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	for _, s := range snapshots {
		db.snapshots[snapshotKey{agentID: s.AgentID, date: s.Date}] = s
	}
	return nil
}

// Snapshots 返回指定日期的排行快照，按名次排序。
func (db *DB) Snapshots(_ context.Context, date string) []reputation.Snapshot {
	db.mu.RLock()
	defer db.mu.RUnlock()
	var out []reputation.Snapshot
	for key, s := range db.snapshots {
		if key.date == date {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Rank < out[j].Rank })
	return out
}

// Leaderboard 返回分数最高的 limit 个活跃 Agent。
func (db *DB) Leaderboard(_ context.Context, limit int) ([]market.Agent, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	out := db.agentsByScore()
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
