package sqlstore

import (
	"context"
	"time"

	"LobsterMarket/internal/market"
	"LobsterMarket/internal/reputation"
	"LobsterMarket/internal/review"
)

// GetAgent 读取 Agent。
func (s *Store) GetAgent(ctx context.Context, id string) (*market.Agent, error) {
	var a market.Agent
	if err := s.get(ctx, &a, market.ErrAgentNotFound, `SELECT `+agentColumns+` FROM agents WHERE id = ?`, id); err != nil {
		return nil, err
	}
	return &a, nil
}

// ListActiveAgents 返回全部活跃 Agent。
func (s *Store) ListActiveAgents(ctx context.Context) ([]market.Agent, error) {
	var out []market.Agent
	query := s.db.Rebind(`SELECT ` + agentColumns + ` FROM agents WHERE status = ? ORDER BY id`)
	if err := s.db.SelectContext(ctx, &out, query, market.AgentActive); err != nil {
		return nil, storageError(err, "查询 Agent 失败")
	}
	return out, nil
}

// ContractCounts 统计 Agent 的合同总数与已完成数。
func (s *Store) ContractCounts(ctx context.Context, agentID string) (int, int, error) {
	var counts struct {
		Total     int `db:"total"`
		Completed int `db:"completed"`
	}
	err := s.get(ctx, &counts, nil,
		`SELECT COUNT(*) AS total, COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS completed FROM contracts WHERE agent_id = ?`,
		market.ContractCompleted, agentID)
	return counts.Total, counts.Completed, err
}

// CountDisputesAgainst 统计 Agent 合同上的争议数。
func (s *Store) CountDisputesAgainst(ctx context.Context, agentID string) (int, error) {
	var n int
	err := s.get(ctx, &n, nil,
		`SELECT COUNT(*) FROM disputes d JOIN contracts c ON c.id = d.contract_id WHERE c.agent_id = ?`, agentID)
	return n, err
}

// ClientReviews 返回客户对 Agent 的未隐藏评价，按时间倒序。
func (s *Store) ClientReviews(ctx context.Context, agentID string) ([]reputation.ReviewSample, error) {
	var rows []struct {
		Quality       int     `db:"quality"`
		Communication int     `db:"communication"`
		Timeliness    int     `db:"timeliness"`
		Weight        float64 `db:"weight"`
	}
	query := s.db.Rebind(`SELECT quality, communication, timeliness, weight FROM reviews WHERE agent_id = ? AND reviewer_role = ? AND hidden = ? ORDER BY created_at DESC, id DESC`)
	if err := s.db.SelectContext(ctx, &rows, query, agentID, review.RoleClient, false); err != nil {
		return nil, storageError(err, "查询评价失败")
	}
	out := make([]reputation.ReviewSample, 0, len(rows))
	for _, row := range rows {
		r := review.Review{Quality: row.Quality, Communication: row.Communication, Timeliness: row.Timeliness}
		out = append(out, reputation.ReviewSample{Average: r.Average(), Weight: row.Weight})
	}
	return out, nil
}

// UpdateAgentScore 写入 Agent 的最新分数。
func (s *Store) UpdateAgentScore(ctx context.Context, agentID string, score float64, at time.Time) error {
	return s.exec(ctx, market.ErrAgentNotFound, `UPDATE agents SET lobster_score = ?, updated_at = ? WHERE id = ?`, score, at, agentID)
}

// UpsertSnapshots 在一个事务内按 (agent_id, snapshot_date) 覆盖写入排行快照。
func (s *Store) UpsertSnapshots(ctx context.Context, snapshots []reputation.Snapshot) error {
	if len(snapshots) == 0 {
		return nil
	}
	query := `INSERT INTO leaderboard_snapshots (agent_id, snapshot_date, score, rank_position) VALUES (?, ?, ?, ?)`
	switch s.dialect {
	case DialectPostgres:
		query += ` ON CONFLICT (agent_id, snapshot_date) DO UPDATE SET score = EXCLUDED.score, rank_position = EXCLUDED.rank_position`
	default:
		query += ` ON DUPLICATE KEY UPDATE score = VALUES(score), rank_position = VALUES(rank_position)`
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return storageError(err, "开启事务失败")
	}
	query = tx.Rebind(query)
	for _, snap := range snapshots {
		if _, err := tx.ExecContext(ctx, query, snap.AgentID, snap.Date, snap.Score, snap.Rank); err != nil {
			tx.Rollback()
			return storageError(err, "写入排行快照失败")
		}
	}
	if err := tx.Commit(); err != nil {
		return storageError(err, "提交事务失败")
	}
	return nil
}

// Leaderboard 返回分数最高的 limit 个活跃 Agent，同分按 ID 排序。
func (s *Store) Leaderboard(ctx context.Context, limit int) ([]market.Agent, error) {
	var out []market.Agent
	query := s.db.Rebind(`SELECT ` + agentColumns + ` FROM agents WHERE status = ? ORDER BY lobster_score DESC, id LIMIT ?`)
	if err := s.db.SelectContext(ctx, &out, query, market.AgentActive, limit); err != nil {
		return nil, storageError(err, "查询排行榜失败")
	}
	return out, nil
}
