package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

// AppendCostEntry appends a ledger row and returns its ID.
func (db *DB) AppendCostEntry(ctx context.Context, e CostEntry) (string, error) {
	id := uuid.NewString()
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO cost_entries (id, topic_id, main_topic_id, label, stage, input_tokens, output_tokens, cost)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		id, e.TopicID, e.MainTopicID, e.Label, e.Stage, e.InputTokens, e.OutputTokens, e.Cost,
	)
	if err != nil {
		return "", fmt.Errorf("appending cost entry: %w", err)
	}
	return id, nil
}

// SumCostByTopic sums the ledger rows owned by topicID.
func (db *DB) SumCostByTopic(ctx context.Context, topicID string) (float64, error) {
	var total float64
	err := db.conn.QueryRowContext(ctx,
		"SELECT COALESCE(SUM(cost), 0) FROM cost_entries WHERE topic_id = ?", topicID,
	).Scan(&total)
	return total, err
}

// SumCostByMainTopic sums every ledger row rolled up to mainTopicID.
func (db *DB) SumCostByMainTopic(ctx context.Context, mainTopicID string) (float64, error) {
	var total float64
	err := db.conn.QueryRowContext(ctx,
		"SELECT COALESCE(SUM(cost), 0) FROM cost_entries WHERE main_topic_id = ?", mainTopicID,
	).Scan(&total)
	return total, err
}

// GetCostEntries returns the ledger rows of a main topic, oldest first.
func (db *DB) GetCostEntries(ctx context.Context, mainTopicID string) ([]CostEntry, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, created_at, topic_id, main_topic_id, label, stage, input_tokens, output_tokens, cost
		FROM cost_entries WHERE main_topic_id = ? ORDER BY rowid`, mainTopicID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CostEntry
	for rows.Next() {
		var e CostEntry
		var createdAt sql.NullString
		if err := rows.Scan(&e.ID, &createdAt, &e.TopicID, &e.MainTopicID, &e.Label, &e.Stage,
			&e.InputTokens, &e.OutputTokens, &e.Cost); err != nil {
			return nil, err
		}
		e.CreatedAt = createdAt.String
		out = append(out, e)
	}
	return out, rows.Err()
}

// SummarizeCosts groups a main topic's ledger by stage.
func (db *DB) SummarizeCosts(ctx context.Context, mainTopicID string) ([]CostSummary, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT stage, COUNT(*), SUM(input_tokens), SUM(output_tokens), SUM(cost)
		FROM cost_entries WHERE main_topic_id = ? GROUP BY stage ORDER BY MIN(rowid)`, mainTopicID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CostSummary
	for rows.Next() {
		var s CostSummary
		if err := rows.Scan(&s.Stage, &s.Calls, &s.InputTokens, &s.OutputTokens, &s.Cost); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
