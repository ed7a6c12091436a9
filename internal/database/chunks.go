package database

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// ReplaceChunks swaps a main topic's retrieval chunks in one transaction.
func (db *DB) ReplaceChunks(ctx context.Context, mainTopicID string, chunks []HandoutChunk) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM handout_chunks WHERE main_topic_id = ?", mainTopicID); err != nil {
		return fmt.Errorf("clearing chunks: %w", err)
	}
	for _, c := range chunks {
		emb, err := json.Marshal(c.Embedding)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO handout_chunks (id, main_topic_id, point_id, position, content, embedding, model)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			uuid.NewString(), mainTopicID, c.PointID, c.Position, c.Content, string(emb), c.Model,
		); err != nil {
			return fmt.Errorf("inserting chunk: %w", err)
		}
	}
	return tx.Commit()
}

// GetChunks returns a main topic's chunks in position order.
func (db *DB) GetChunks(ctx context.Context, mainTopicID string) ([]HandoutChunk, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, main_topic_id, point_id, position, content, embedding, model
		FROM handout_chunks WHERE main_topic_id = ? ORDER BY position`, mainTopicID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []HandoutChunk
	for rows.Next() {
		var c HandoutChunk
		var emb string
		if err := rows.Scan(&c.ID, &c.MainTopicID, &c.PointID, &c.Position, &c.Content, &emb, &c.Model); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(emb), &c.Embedding); err != nil {
			c.Embedding = nil
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
