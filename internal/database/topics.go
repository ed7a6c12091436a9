package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

const topicColumns = `id, main_topic_id, position, name, objective, key_concepts, skills,
	discussion_points, analogy, translation, created_at`

// InsertTopic inserts a topic and returns its new ID.
func (db *DB) InsertTopic(ctx context.Context, t Topic) (string, error) {
	points, err := json.Marshal(nonNil(t.DiscussionPoints))
	if err != nil {
		return "", err
	}
	id := uuid.NewString()
	_, err = db.conn.ExecContext(ctx,
		`INSERT INTO topics (id, main_topic_id, position, name, objective, key_concepts, skills, discussion_points)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		id, t.MainTopicID, t.Position, t.Name, t.Objective, t.KeyConcepts, t.Skills, string(points),
	)
	if err != nil {
		return "", fmt.Errorf("inserting topic %q: %w", t.Name, err)
	}
	return id, nil
}

// GetTopic returns a topic by ID, or nil if absent.
func (db *DB) GetTopic(ctx context.Context, id string) (*Topic, error) {
	row := db.conn.QueryRowContext(ctx, `SELECT `+topicColumns+` FROM topics WHERE id = ?`, id)
	t, err := scanTopic(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return t, err
}

// GetTopicByName returns the first topic with the given name by creation
// order, or nil. Names are not unique; prefer GetTopic.
func (db *DB) GetTopicByName(ctx context.Context, name string) (*Topic, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+topicColumns+` FROM topics WHERE name = ? ORDER BY rowid LIMIT 1`, name)
	t, err := scanTopic(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return t, err
}

// GetTopicsByMainTopic returns a main topic's topics in outline order.
func (db *DB) GetTopicsByMainTopic(ctx context.Context, mainTopicID string) ([]Topic, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT `+topicColumns+` FROM topics WHERE main_topic_id = ? ORDER BY position, rowid`, mainTopicID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Topic
	for rows.Next() {
		t, err := scanTopic(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

// SetTopicField writes one of the mutable topic columns.
func (db *DB) SetTopicField(ctx context.Context, topicID string, field TopicField, value string) error {
	switch field {
	case FieldAnalogy, FieldTranslation:
	default:
		return fmt.Errorf("unknown topic field %q", field)
	}
	res, err := db.conn.ExecContext(ctx,
		"UPDATE topics SET "+string(field)+" = ? WHERE id = ?", value, topicID)
	if err != nil {
		return err
	}
	return expectOneRow(res, "topic", topicID)
}

func scanTopic(row scanner) (*Topic, error) {
	var t Topic
	var points string
	var createdAt sql.NullString
	if err := row.Scan(&t.ID, &t.MainTopicID, &t.Position, &t.Name, &t.Objective, &t.KeyConcepts,
		&t.Skills, &points, &t.Analogy, &t.Translation, &createdAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(points), &t.DiscussionPoints); err != nil {
		t.DiscussionPoints = nil
	}
	t.CreatedAt = createdAt.String
	return &t, nil
}

func expectOneRow(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s %s not found", kind, id)
	}
	return nil
}
